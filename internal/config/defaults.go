package config

import "time"

// Default configuration values applied before file and env overrides.
const (
	// DefaultRedisAddr is the local Redis instance.
	DefaultRedisAddr = "localhost:6379"

	// DefaultGitHubBaseURL is the public GitHub REST API endpoint.
	DefaultGitHubBaseURL = "https://api.github.com"

	// DefaultStreamBatchSize is the events-per-batch ceiling.
	DefaultStreamBatchSize = 50

	// DefaultStreamDeadline is the soft per-batch processing budget.
	DefaultStreamDeadline = 2 * time.Second

	// DefaultStreamWorkerPool is the detector fan-out concurrency per batch.
	DefaultStreamWorkerPool = 4

	// DefaultDiagnosticsAddr serves /healthz, /readyz and /metrics.
	DefaultDiagnosticsAddr = ":9090"

	// DefaultLogLevel is the minimum slog severity.
	DefaultLogLevel = "info"
)
