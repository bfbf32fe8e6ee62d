package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MLidstrom/Castellan-sub000/config"
	"github.com/MLidstrom/Castellan-sub000/internal/classify"
	"github.com/MLidstrom/Castellan-sub000/internal/correlation"
	inputredis "github.com/MLidstrom/Castellan-sub000/internal/input/redis"
	"github.com/MLidstrom/Castellan-sub000/internal/logger"
	"github.com/MLidstrom/Castellan-sub000/internal/output/correlationhttp"
	"github.com/MLidstrom/Castellan-sub000/internal/output/correlationjson"
	"github.com/MLidstrom/Castellan-sub000/internal/pipeline"
	"github.com/MLidstrom/Castellan-sub000/internal/rules"
)

func findConfigFile(configArg string) string {
	if configArg != "" {
		if _, err := os.Stat(configArg); err == nil {
			return configArg
		}
		log.Printf("Warning: config file not found at %s, trying default locations", configArg)
	}

	if _, err := os.Stat("correlationd.yml"); err == nil {
		return "correlationd.yml"
	}

	exePath, err := os.Executable()
	if err == nil {
		path := filepath.Join(filepath.Dir(exePath), "correlationd.yml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "correlationd.yml"
}

func applyDefaults(cfg *config.Config) {
	if cfg.Castellan.Input.Redis.Addr == "" {
		cfg.Castellan.Input.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Castellan.Input.Redis.Key == "" {
		cfg.Castellan.Input.Redis.Key = "security_events"
	}
	if cfg.Castellan.Input.Redis.BlockTimeout == 0 {
		cfg.Castellan.Input.Redis.BlockTimeout = 5 * time.Second
	}

	if cfg.Castellan.Pipeline.Workers <= 0 {
		cfg.Castellan.Pipeline.Workers = 8
	}
	if cfg.Castellan.Pipeline.BatchSize <= 0 {
		cfg.Castellan.Pipeline.BatchSize = 100
	}
	if cfg.Castellan.Pipeline.FlushInterval <= 0 {
		cfg.Castellan.Pipeline.FlushInterval = 2 * time.Second
	}
	if cfg.Castellan.Pipeline.BatchInterval <= 0 {
		cfg.Castellan.Pipeline.BatchInterval = time.Minute
	}
	if cfg.Castellan.Pipeline.BatchWindow <= 0 {
		cfg.Castellan.Pipeline.BatchWindow = 5 * time.Minute
	}

	if cfg.Castellan.Output.Mode == "" {
		cfg.Castellan.Output.Mode = "file"
	}
	if cfg.Castellan.Output.File.Path == "" {
		cfg.Castellan.Output.File.Path = "output/correlations.jsonl"
	}

	if cfg.Castellan.Metrics.Addr == "" {
		cfg.Castellan.Metrics.Addr = ":9184"
	}

	if cfg.Castellan.Logging.Level == "" {
		cfg.Castellan.Logging.Level = "info"
	}
}

func main() {
	configArg := flag.String("config", "", "path to config file")
	flag.Parse()

	configPath := findConfigFile(*configArg)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyDefaults(cfg)

	if err := logger.Init(cfg.Castellan.Logging.Enabled, cfg.Castellan.Logging.Level, cfg.Castellan.Logging.File, cfg.Castellan.Logging.Console); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Infof("Castellan correlation service starting")
	logger.Infof("Config loaded from: %s", configPath)

	consumer, err := inputredis.NewConsumer(inputredis.Config{
		Addr:         cfg.Castellan.Input.Redis.Addr,
		Password:     cfg.Castellan.Input.Redis.Password,
		DB:           cfg.Castellan.Input.Redis.DB,
		Key:          cfg.Castellan.Input.Redis.Key,
		BlockTimeout: cfg.Castellan.Input.Redis.BlockTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create Redis consumer: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := consumer.Ping(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Redis unreachable: %v", err)
	}
	if depth, err := consumer.Backlog(pingCtx); err == nil && depth > 0 {
		logger.Infof("Redis backlog at startup: %d pending events", depth)
	}
	pingCancel()

	catalog := rules.DefaultCatalog()
	if path := strings.TrimSpace(cfg.Castellan.Rules.Path); path != "" {
		catalog, err = rules.LoadCatalog(path)
		if err != nil {
			log.Fatalf("Failed to load correlation rules from %s: %v", path, err)
		}
		logger.Infof("Correlation rules loaded from %s: %d definitions", path, len(catalog.Definitions()))
	}

	var classifier classify.Classifier = classify.NoopClassifier{}
	if cfg.Castellan.Classifier.Enabled {
		if strings.TrimSpace(cfg.Castellan.Classifier.Path) == "" {
			logger.Warnf("Classifier enabled but classifier.path is empty; base findings disabled")
		} else {
			sigmaClassifier, stats, err := classify.NewSigmaClassifier(cfg.Castellan.Classifier.Path)
			if err != nil {
				log.Fatalf("Failed to load Sigma rules: %v", err)
			}
			classifier = sigmaClassifier
			logger.Infof("Sigma rules loaded: loaded=%d skipped_complex=%d skipped_invalid=%d files=%d",
				stats.Loaded, stats.SkippedComplex, stats.SkippedInvalid, stats.TotalFiles)
			if stats.Loaded == 0 {
				logger.Warnf("No compatible Sigma rules loaded; base findings are effectively disabled")
			}
		}
	}

	engine := correlation.New(correlation.Config{
		Window:            cfg.Castellan.Engine.Window,
		SweepInterval:     cfg.Castellan.Engine.SweepInterval,
		CorrelationMaxAge: cfg.Castellan.Engine.CorrelationMaxAge,
		Thresholds: correlation.Thresholds{
			MinCorrelation: cfg.Castellan.Engine.Thresholds.MinCorrelation,
			MinBurst:       cfg.Castellan.Engine.Thresholds.MinBurst,
			MinAnomaly:     cfg.Castellan.Engine.Thresholds.MinAnomaly,
			MinTotal:       cfg.Castellan.Engine.Thresholds.MinTotal,
			Override:       cfg.Castellan.Engine.Thresholds.Override,
		},
	}, catalog)
	engine.Start()
	defer engine.Stop()

	var writer pipeline.CorrelationWriter
	switch cfg.Castellan.Output.Mode {
	case "file":
		w, err := correlationjson.NewWriter(cfg.Castellan.Output.File.Path)
		if err != nil {
			log.Fatalf("Failed to create correlation file writer: %v", err)
		}
		writer = w
		logger.Infof("Correlation output mode: file (%s)", cfg.Castellan.Output.File.Path)
	case "http":
		w, err := correlationhttp.NewWriter(correlationhttp.Config{
			URL:     cfg.Castellan.Output.HTTP.URL,
			Timeout: cfg.Castellan.Output.HTTP.Timeout,
			Headers: cfg.Castellan.Output.HTTP.Headers,
		})
		if err != nil {
			log.Fatalf("Failed to create correlation HTTP writer: %v", err)
		}
		writer = w
		logger.Infof("Correlation output mode: http (%s)", cfg.Castellan.Output.HTTP.URL)
	default:
		log.Fatalf("Unknown output mode: %s", cfg.Castellan.Output.Mode)
	}

	if cfg.Castellan.Metrics.Enabled {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Infof("Metrics listening on %s", cfg.Castellan.Metrics.Addr)
			if err := http.ListenAndServe(cfg.Castellan.Metrics.Addr, mux); err != nil {
				logger.Errorf("Metrics listener failed: %v", err)
			}
		}()
	}

	p := pipeline.New(consumer, classifier, engine, writer, pipeline.Config{
		Workers:       cfg.Castellan.Pipeline.Workers,
		BatchSize:     cfg.Castellan.Pipeline.BatchSize,
		FlushInterval: cfg.Castellan.Pipeline.FlushInterval,
		BatchInterval: cfg.Castellan.Pipeline.BatchInterval,
		BatchWindow:   cfg.Castellan.Pipeline.BatchWindow,
	})
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("Received signal %s, shutting down", sig)
		cancel()
	}()

	if err := p.Run(ctx); err != nil && err != context.Canceled {
		logger.Errorf("Pipeline terminated: %v", err)
	}
	logger.Infof("Castellan correlation service stopped")
}
