package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sumatoshi-tech/octofang/internal/event"
	"github.com/Sumatoshi-tech/octofang/internal/store"
)

// IngestKey is the Redis list raw events are pushed onto by collectors.
const IngestKey = "event_queue"

// blockTimeout bounds each blocking pop so shutdown stays responsive.
const blockTimeout = time.Second

// Consumer drains the ingest list and feeds batches to the processor.
type Consumer struct {
	store     *store.Store
	processor *Processor
	logger    *slog.Logger
}

// NewConsumer builds a consumer.
func NewConsumer(st *store.Store, processor *Processor, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{store: st, processor: processor, logger: logger}
}

// Run consumes until the context is cancelled. Each cycle blocks for the
// first event, then drains up to the batch size without blocking so quiet
// periods still process promptly.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		batch, err := c.nextBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.processor.Wait()

				return ctx.Err()
			}

			c.logger.Error("ingest read failed", "error", err)

			continue
		}

		if len(batch) == 0 {
			continue
		}

		scored := c.processor.ProcessBatch(ctx, batch)

		c.logger.Debug("batch processed", "events", len(batch), "scored", len(scored))
	}
}

// nextBatch blocks for one event, then opportunistically drains the list up
// to the configured batch size.
func (c *Consumer) nextBatch(ctx context.Context) ([]*event.Event, error) {
	client := c.store.Client()

	res, err := client.BLPop(ctx, blockTimeout, IngestKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, fmt.Errorf("stream: pop %s: %w", IngestKey, err)
	}

	// BLPop returns [key, value].
	batch := c.decode(res[1:])

	if rest := c.processor.cfg.BatchSize - 1; rest > 0 {
		values, err := client.LPopCount(ctx, IngestKey, rest).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return batch, fmt.Errorf("stream: drain %s: %w", IngestKey, err)
		}

		batch = append(batch, c.decode(values)...)
	}

	return batch, nil
}

func (c *Consumer) decode(values []string) []*event.Event {
	events := make([]*event.Event, 0, len(values))

	for _, raw := range values {
		ev, err := event.Decode([]byte(raw))
		if err != nil {
			c.logger.Warn("dropping undecodable event", "error", err)

			continue
		}

		events = append(events, ev)
	}

	return events
}
