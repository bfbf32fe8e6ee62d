package redis

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Config configures the Redis consumer.
type Config struct {
	Addr         string
	Password     string
	DB           int
	Key          string
	BlockTimeout time.Duration
}

func (c *Config) applyDefaults() error {
	if c.Key == "" {
		return fmt.Errorf("redis key is required")
	}
	if c.Addr == "" {
		c.Addr = "127.0.0.1:6379"
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	return nil
}

// Consumer pops serialized security events from a Redis list. Collectors push
// with RPUSH; the consumer drains oldest-first.
type Consumer struct {
	client *redis.Client
	cfg    Config
}

// NewConsumer creates a consumer over a list-based event queue.
func NewConsumer(cfg Config) (*Consumer, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &Consumer{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		cfg: cfg,
	}, nil
}

// Ping verifies the connection. Called once at startup so a bad address fails
// fast instead of spinning in the read loop.
func (c *Consumer) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping %s: %w", c.cfg.Addr, err)
	}
	return nil
}

// Pop blocks up to the configured timeout for one event payload. A nil
// payload with a nil error means the timeout elapsed with an empty queue.
func (c *Consumer) Pop(ctx context.Context) ([]byte, error) {
	res, err := c.client.BLPop(ctx, c.cfg.BlockTimeout, c.cfg.Key).Result()
	switch {
	case err == redis.Nil:
		return nil, nil
	case err != nil:
		return nil, err
	case len(res) < 2:
		return nil, nil
	}
	return []byte(res[1]), nil
}

// Backlog returns the current queue depth.
func (c *Consumer) Backlog(ctx context.Context) (int64, error) {
	return c.client.LLen(ctx, c.cfg.Key).Result()
}

// Close closes the underlying client.
func (c *Consumer) Close() error {
	return c.client.Close()
}
