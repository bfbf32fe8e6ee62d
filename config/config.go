package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Castellan CastellanConfig `yaml:"castellan"`
}

// CastellanConfig is the correlation service configuration.
type CastellanConfig struct {
	Input      InputConfig      `yaml:"input"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Engine     EngineConfig     `yaml:"engine"`
	Rules      RulesConfig      `yaml:"rules"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Output     OutputConfig     `yaml:"output"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// InputConfig controls the input reader.
type InputConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig controls Redis input.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Key          string        `yaml:"key"`
	BlockTimeout time.Duration `yaml:"block_timeout"`
}

// PipelineConfig controls pipeline behavior.
type PipelineConfig struct {
	Workers       int           `yaml:"workers"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BatchInterval time.Duration `yaml:"batch_interval"`
	BatchWindow   time.Duration `yaml:"batch_window"`
}

// EngineConfig controls the correlation engine.
type EngineConfig struct {
	Window            time.Duration    `yaml:"window"`
	SweepInterval     time.Duration    `yaml:"sweep_interval"`
	CorrelationMaxAge time.Duration    `yaml:"correlation_max_age"`
	Thresholds        ThresholdsConfig `yaml:"thresholds"`
}

// ThresholdsConfig gates score fusion.
type ThresholdsConfig struct {
	MinCorrelation float64 `yaml:"min_correlation"`
	MinBurst       float64 `yaml:"min_burst"`
	MinAnomaly     float64 `yaml:"min_anomaly"`
	MinTotal       float64 `yaml:"min_total"`
	Override       bool    `yaml:"override"`
}

// RulesConfig controls the correlation rule catalog.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// ClassifierConfig controls the per-event Sigma classifier.
type ClassifierConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// OutputConfig controls correlation output.
type OutputConfig struct {
	Mode string           `yaml:"mode"`
	File FileOutputConfig `yaml:"file"`
	HTTP HTTPOutputConfig `yaml:"http"`
}

// FileOutputConfig config for local JSON output.
type FileOutputConfig struct {
	Path string `yaml:"path"`
}

// HTTPOutputConfig config for remote output.
type HTTPOutputConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls logging output.
type LoggingConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`
	File    string `yaml:"file"`
	Console bool   `yaml:"console"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
