// Package commands implements CLI command handlers for octofang.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/metric"

	"github.com/Sumatoshi-tech/octofang/internal/config"
	"github.com/Sumatoshi-tech/octofang/internal/detect/behavioral"
	"github.com/Sumatoshi-tech/octofang/internal/detect/content"
	"github.com/Sumatoshi-tech/octofang/internal/detect/repocontext"
	"github.com/Sumatoshi-tech/octofang/internal/detect/temporal"
	"github.com/Sumatoshi-tech/octofang/internal/github"
	"github.com/Sumatoshi-tech/octofang/internal/observability"
	"github.com/Sumatoshi-tech/octofang/internal/profile"
	"github.com/Sumatoshi-tech/octofang/internal/publish"
	"github.com/Sumatoshi-tech/octofang/internal/queue"
	"github.com/Sumatoshi-tech/octofang/internal/severity"
	"github.com/Sumatoshi-tech/octofang/internal/store"
	"github.com/Sumatoshi-tech/octofang/internal/stream"
	"github.com/Sumatoshi-tech/octofang/internal/summarize"
	"github.com/Sumatoshi-tech/octofang/pkg/version"
)

// NewConsumeCommand builds the long-running stream consumer command.
func NewConsumeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "Run the stream consumer",
		Long: `Consume raw GitHub events from the Redis ingest list, run the
detector pipeline, and fan scored anomalies out to the queue and pub/sub.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}

			return runConsumer(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "config file path")

	return cmd
}

func runConsumer(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := observability.Init(observability.Config{
		ServiceName:    "octofang",
		ServiceVersion: version.Version,
		Environment:    cfg.Telemetry.Environment,
		Mode:           observability.ModeConsume,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		LogLevel:       parseLogLevel(cfg.Telemetry.LogLevel),
		LogJSON:        cfg.Telemetry.LogJSON,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	defer func() {
		shutdownErr := providers.Shutdown(context.Background())
		if shutdownErr != nil {
			providers.Logger.Warn("telemetry shutdown failed", "error", shutdownErr)
		}
	}()

	logger := providers.Logger

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	processor, anomalyQueue, err := buildPipeline(cfg, st, providers.Meter, logger)
	if err != nil {
		return err
	}

	diag, err := observability.NewDiagnosticsServer(
		cfg.Telemetry.DiagnosticsAddr,
		providers.Meter,
		func(checkCtx context.Context) error { return st.Ping(checkCtx) },
		anomalyQueue.HealthCheck,
	)
	if err != nil {
		return fmt.Errorf("start diagnostics server: %w", err)
	}

	defer func() {
		closeErr := diag.Close()
		if closeErr != nil {
			logger.Warn("diagnostics close failed", "error", closeErr)
		}
	}()

	logger.Info("consumer starting",
		"redis", cfg.Redis.Addr,
		"diagnostics", diag.Addr(),
		"batch_size", cfg.Stream.BatchSize)

	consumer := stream.NewConsumer(st, processor, logger)

	err = consumer.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("consumer: %w", err)
	}

	logger.Info("consumer stopped")

	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	st := store.New(rdb)

	err := st.Ping(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	return st, nil
}

// buildPipeline wires the detectors, scorers and sinks into a processor.
func buildPipeline(cfg *config.Config, st *store.Store, meter metric.Meter, logger *slog.Logger) (*stream.Processor, *queue.Queue, error) {
	engine, err := severity.NewEngine(cfg.Detection.Weights)
	if err != nil {
		return nil, nil, err
	}

	coordinator := github.NewCoordinator(st.Client(), logger)
	ghClient := github.NewClient(cfg.GitHub.Token, cfg.GitHub.BaseURL, coordinator)

	queueOpts := make([]queue.Option, 0, len(cfg.Queue.Capacities()))
	for band, capacity := range cfg.Queue.Capacities() {
		queueOpts = append(queueOpts, queue.WithCapacity(band, capacity))
	}

	anomalyQueue := queue.New(st, logger, queueOpts...)

	var metrics *observability.PipelineMetrics

	if meter != nil {
		metrics, err = observability.NewPipelineMetrics(meter, queueDepths(anomalyQueue))
		if err != nil {
			return nil, nil, fmt.Errorf("create pipeline metrics: %w", err)
		}
	}

	processor, err := stream.New(stream.Config{
		BatchSize: cfg.Stream.BatchSize,
		Deadline:  cfg.Stream.Deadline,
		Workers:   cfg.Stream.WorkerPool,
	}, stream.Deps{
		Behavioral: behavioral.NewDetector(),
		Content:    content.NewDetector(),
		Temporal:   temporal.NewDetector(temporal.NewBaselineProvider(st, ghClient, logger)),
		Contextual: repocontext.NewScorer(st, ghClient, logger),
		Engine:     engine,
		Users:      profile.NewUserManager(st, logger),
		Repos:      profile.NewRepoManager(st, logger),
		Queue:      anomalyQueue,
		Publisher:  publish.New(st, logger),
		Summarizer: summarize.New(st, cfg.OpenAI.APIKey, logger),
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}

	return processor, anomalyQueue, nil
}

// queueDepths adapts queue stats to the per-band depth gauge callback.
func queueDepths(q *queue.Queue) observability.QueueDepthFunc {
	return func(ctx context.Context) map[string]int64 {
		queueStats, err := q.Stats(ctx)
		if err != nil {
			return nil
		}

		depths := make(map[string]int64, len(queueStats.Bands))
		for _, bs := range queueStats.Bands {
			depths[string(bs.Band)] = bs.Size
		}

		return depths
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
