package correlationhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

// Config configures the HTTP writer.
type Config struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// Writer posts detected correlations to a remote collector endpoint. Each
// batch is one POST carrying a versioned envelope.
type Writer struct {
	url     string
	headers map[string]string
	client  *http.Client
	now     func() time.Time
}

// envelope is the wire format understood by the collector API.
type envelope struct {
	Version      int                   `json:"version"`
	SentAt       time.Time             `json:"sent_at"`
	Count        int                   `json:"count"`
	Correlations []*models.Correlation `json:"correlations"`
}

// NewWriter creates an HTTP writer.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http correlation URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Writer{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}, nil
}

// WriteCorrelations posts a batch of correlations. An empty batch is a no-op.
func (w *Writer) WriteCorrelations(correlations []*models.Correlation) error {
	if len(correlations) == 0 {
		return nil
	}

	body, err := json.Marshal(envelope{
		Version:      1,
		SentAt:       w.now().UTC(),
		Count:        len(correlations),
		Correlations: correlations,
	})
	if err != nil {
		return fmt.Errorf("marshal correlation batch: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build correlation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post correlations: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 300 {
		return fmt.Errorf("post correlations: collector returned %s", resp.Status)
	}
	return nil
}

// Close releases HTTP resources.
func (w *Writer) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
