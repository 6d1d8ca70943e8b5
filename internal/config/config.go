// Package config loads and validates octofang configuration from file,
// environment and defaults via viper.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sumatoshi-tech/octofang/internal/severity"
)

// Config is the top-level configuration struct for octofang.
// Field tags use mapstructure for viper unmarshalling.
type Config struct {
	Redis     RedisConfig     `mapstructure:"redis"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Detection DetectionConfig `mapstructure:"detection"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// RedisConfig holds the shared Redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// GitHubConfig holds GitHub API enrichment settings. An empty token
// disables authenticated requests; the shared budget coordinator still
// applies.
type GitHubConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

// OpenAIConfig holds AI summarizer settings. An empty key disables model
// calls; rule-based summaries are still produced.
type OpenAIConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DetectionConfig holds the severity composition weights.
type DetectionConfig struct {
	Weights severity.Weights `mapstructure:"weights"`
}

// StreamConfig holds the batch processing knobs.
type StreamConfig struct {
	BatchSize  int           `mapstructure:"batch_size"`
	Deadline   time.Duration `mapstructure:"deadline"`
	WorkerPool int           `mapstructure:"worker_pool"`
}

// QueueConfig holds per-band queue capacity overrides. Zero values keep the
// built-in capacities.
type QueueConfig struct {
	CriticalCapacity int64 `mapstructure:"critical_capacity"`
	HighCapacity     int64 `mapstructure:"high_capacity"`
	MediumCapacity   int64 `mapstructure:"medium_capacity"`
	LowCapacity      int64 `mapstructure:"low_capacity"`
	InfoCapacity     int64 `mapstructure:"info_capacity"`
}

// Capacities returns the non-zero overrides keyed by band.
func (q QueueConfig) Capacities() map[severity.Band]int64 {
	overrides := map[severity.Band]int64{
		severity.BandCritical: q.CriticalCapacity,
		severity.BandHigh:     q.HighCapacity,
		severity.BandMedium:   q.MediumCapacity,
		severity.BandLow:      q.LowCapacity,
		severity.BandInfo:     q.InfoCapacity,
	}

	for band, c := range overrides {
		if c <= 0 {
			delete(overrides, band)
		}
	}

	return overrides
}

// TelemetryConfig holds observability export settings.
type TelemetryConfig struct {
	OTLPEndpoint    string `mapstructure:"otlp_endpoint"`
	OTLPInsecure    bool   `mapstructure:"otlp_insecure"`
	DiagnosticsAddr string `mapstructure:"diagnostics_addr"`
	LogJSON         bool   `mapstructure:"log_json"`
	LogLevel        string `mapstructure:"log_level"`
	Environment     string `mapstructure:"environment"`
}

// Sentinel errors for configuration validation.
var (
	// ErrMissingRedisAddr indicates no Redis address was configured.
	ErrMissingRedisAddr = errors.New("redis.addr is required")
	// ErrInvalidBatchSize indicates the batch size is negative.
	ErrInvalidBatchSize = errors.New("stream.batch_size must be non-negative")
	// ErrInvalidDeadline indicates the deadline is negative.
	ErrInvalidDeadline = errors.New("stream.deadline must be non-negative")
	// ErrInvalidWorkerPool indicates the worker pool size is negative.
	ErrInvalidWorkerPool = errors.New("stream.worker_pool must be non-negative")
)

// Validate checks Config invariants and returns the first error found.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return ErrMissingRedisAddr
	}

	if c.Stream.BatchSize < 0 {
		return ErrInvalidBatchSize
	}

	if c.Stream.Deadline < 0 {
		return ErrInvalidDeadline
	}

	if c.Stream.WorkerPool < 0 {
		return ErrInvalidWorkerPool
	}

	err := c.Detection.Weights.Validate()
	if err != nil {
		return fmt.Errorf("detection.weights: %w", err)
	}

	return nil
}
