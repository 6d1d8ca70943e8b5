// Package queue is the severity-ranked anomaly queue. Each band keeps its
// own Redis sorted set ordered by a priority score that embeds band rank,
// final score, recency, repository criticality and an optional boost.
// Compound operations (enqueue-with-eviction, multi-band pop) run as Lua
// scripts so concurrent processors never observe partial state.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Sumatoshi-tech/octofang/internal/severity"
	"github.com/Sumatoshi-tech/octofang/internal/store"
)

// Key layout.
const (
	queueKeyPrefix    = "anomaly_queue:"
	deadLetterKey     = "anomaly_queue:dead_letter"
	metadataKeyPrefix = "anomaly_queue:metadata:"
)

// deadLetterTTL preserves exhausted items for manual inspection.
const deadLetterTTL = 7 * 24 * time.Hour

// evictDivisor: a full band evicts ceil(cap/evictDivisor) lowest items.
const evictDivisor = 10

// DefaultMaxAttempts is the requeue budget before dead-lettering.
const DefaultMaxAttempts = 3

// requeueDecay shrinks priority on each reinsertion.
const requeueDecay = 0.9

// warnUtilization is the fill ratio at which health turns to warning.
const warnUtilization = 0.9

// Priority composition coefficients.
const (
	priorityScoreWeight       = 1000.0
	priorityTimestampWeight   = 1e-3
	priorityCriticalityWeight = 100.0
	priorityBoostWeight       = 50.0
)

// ErrEmpty is returned by Dequeue when every scanned band is empty.
var ErrEmpty = errors.New("queue: empty")

// defaultCapacities bounds each band's sorted set.
var defaultCapacities = map[severity.Band]int64{
	severity.BandCritical: 1_000,
	severity.BandHigh:     2_000,
	severity.BandMedium:   5_000,
	severity.BandLow:      10_000,
	severity.BandInfo:     20_000,
}

// Item is one queued anomaly.
type Item struct {
	ID         string               `json:"id"`
	Event      severity.ScoredEvent `json:"event"`
	Priority   float64              `json:"priority"`
	Band       severity.Band        `json:"band"`
	EnqueuedAt time.Time            `json:"enqueued_at"`
	Attempts   int                  `json:"attempts"`
	DequeuedAt *time.Time           `json:"dequeued_at,omitempty"`
}

// enqueueScript evicts the lowest-priority tenth when the band is full, then
// inserts and refreshes the TTL.
// KEYS[1] = band zset, ARGV = member, score, capacity, evictCount, ttlSeconds.
var enqueueScript = redis.NewScript(`
local size = redis.call('ZCARD', KEYS[1])
local cap = tonumber(ARGV[3])
local evicted = 0
if size >= cap then
  evicted = redis.call('ZREMRANGEBYRANK', KEYS[1], 0, tonumber(ARGV[4]) - 1)
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('EXPIRE', KEYS[1], ARGV[5])
return evicted
`)

// dequeueScript pops the highest-priority member from the first non-empty
// band, scanning KEYS in the given order.
var dequeueScript = redis.NewScript(`
for i = 1, #KEYS do
  local popped = redis.call('ZPOPMAX', KEYS[i], 1)
  if #popped > 0 then
    return {KEYS[i], popped[1], popped[2]}
  end
end
return false
`)

// Queue is the Redis-backed severity-ranked queue.
type Queue struct {
	store      *store.Store
	logger     *slog.Logger
	capacities map[severity.Band]int64
	sleep      func(context.Context, time.Duration) error
	now        func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// WithCapacity overrides one band's capacity; zero or negative values are
// ignored.
func WithCapacity(band severity.Band, capacity int64) Option {
	return func(q *Queue) {
		if capacity > 0 {
			q.capacities[band] = capacity
		}
	}
}

// New builds a queue over the shared store.
func New(st *store.Store, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}

	capacities := make(map[severity.Band]int64, len(defaultCapacities))
	for band, c := range defaultCapacities {
		capacities[band] = c
	}

	q := &Queue{
		store:      st,
		logger:     logger,
		capacities: capacities,
		sleep:      sleepCtx,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(q)
	}

	return q
}

// Priority computes the ordering key for an event in its band.
func Priority(ev severity.ScoredEvent, enqueuedAt time.Time, boost float64) float64 {
	return math.Pow(10, float64(ev.Band.Rank())) +
		priorityScoreWeight*ev.FinalScore +
		float64(enqueuedAt.Unix())*priorityTimestampWeight +
		priorityCriticalityWeight*ev.RepoCriticality +
		priorityBoostWeight*boost
}

// Enqueue inserts a scored event into its band's queue. A full band first
// evicts its lowest-priority tenth; eviction is a ranking decision, not an
// error.
func (q *Queue) Enqueue(ctx context.Context, ev severity.ScoredEvent, boost float64) (*Item, error) {
	now := q.now()

	item := &Item{
		ID:         uuid.NewString(),
		Event:      ev,
		Priority:   Priority(ev, now, boost),
		Band:       ev.Band,
		EnqueuedAt: now,
	}

	err := q.insert(ctx, item)
	if err != nil {
		return nil, err
	}

	return item, nil
}

func (q *Queue) insert(ctx context.Context, item *Item) error {
	member, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("queue: encode item: %w", err)
	}

	capacity := q.capacities[item.Band]
	evictCount := (capacity + evictDivisor - 1) / evictDivisor
	ttl := int64(item.Band.TTL().Seconds())

	evicted, err := enqueueScript.Run(ctx, q.store.Client(),
		[]string{bandKey(item.Band)},
		string(member), item.Priority, capacity, evictCount, ttl).Int64()
	if err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", item.Band, err)
	}

	if evicted > 0 {
		q.logger.Warn("queue at capacity, evicted lowest-priority items",
			"band", item.Band, "evicted", evicted)
		q.bumpCounter(ctx, item.Band, "evicted", evicted)
	}

	q.bumpCounter(ctx, item.Band, "enqueued", 1)

	return nil
}

// Dequeue pops the highest-priority item scanning bands in order; the
// default order is critical down to info. Returns ErrEmpty when all scanned
// bands are empty.
func (q *Queue) Dequeue(ctx context.Context, bands ...severity.Band) (*Item, error) {
	if len(bands) == 0 {
		bands = severity.Bands()
	}

	keys := make([]string, len(bands))
	for i, band := range bands {
		keys[i] = bandKey(band)
	}

	res, err := dequeueScript.Run(ctx, q.store.Client(), keys).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}

		return nil, fmt.Errorf("queue: dequeue: %w", err)
	}

	if len(res) < 3 {
		return nil, fmt.Errorf("queue: dequeue returned %d values, want 3", len(res))
	}

	member, ok := res[1].(string)
	if !ok {
		return nil, fmt.Errorf("queue: dequeue returned non-string member %T", res[1])
	}

	var item Item

	err = json.Unmarshal([]byte(member), &item)
	if err != nil {
		return nil, fmt.Errorf("queue: decode dequeued item: %w", err)
	}

	now := q.now()
	item.DequeuedAt = &now

	q.bumpCounter(ctx, item.Band, "dequeued", 1)

	return &item, nil
}

// Peek reads the top k items of a band without removing them.
func (q *Queue) Peek(ctx context.Context, band severity.Band, k int64) ([]*Item, error) {
	members, err := q.store.Client().ZRevRange(ctx, bandKey(band), 0, k-1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: peek %s: %w", band, err)
	}

	items := make([]*Item, 0, len(members))

	for _, member := range members {
		var item Item

		err = json.Unmarshal([]byte(member), &item)
		if err != nil {
			q.logger.Warn("skipping malformed queue item", "band", band, "error", err)

			continue
		}

		items = append(items, &item)
	}

	return items, nil
}

// Requeue reinserts a previously dequeued item after a delay, with decayed
// priority. Once the attempt budget is spent the item moves to the
// dead-letter queue instead; no item is silently dropped.
func (q *Queue) Requeue(ctx context.Context, item *Item, delay time.Duration, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	item.Attempts++

	if item.Attempts >= maxAttempts {
		return q.deadLetter(ctx, item)
	}

	err := q.sleep(ctx, delay)
	if err != nil {
		return fmt.Errorf("queue: requeue wait: %w", err)
	}

	item.Priority *= requeueDecay
	item.DequeuedAt = nil

	err = q.insert(ctx, item)
	if err != nil {
		return err
	}

	q.bumpCounter(ctx, item.Band, "requeued", 1)

	return nil
}

func (q *Queue) deadLetter(ctx context.Context, item *Item) error {
	member, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("queue: encode dead-letter item: %w", err)
	}

	pipe := q.store.Client().TxPipeline()
	pipe.ZAdd(ctx, deadLetterKey, redis.Z{Score: item.Priority, Member: string(member)})
	pipe.Expire(ctx, deadLetterKey, deadLetterTTL)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: dead-letter %s: %w", item.ID, err)
	}

	q.logger.Warn("item exhausted requeue budget, moved to dead letter",
		"item", item.ID, "band", item.Band, "attempts", item.Attempts)
	q.bumpCounter(ctx, item.Band, "dead_lettered", 1)

	return nil
}

// DeadLetters reads up to k items from the dead-letter queue.
func (q *Queue) DeadLetters(ctx context.Context, k int64) ([]*Item, error) {
	members, err := q.store.Client().ZRevRange(ctx, deadLetterKey, 0, k-1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: read dead letters: %w", err)
	}

	items := make([]*Item, 0, len(members))

	for _, member := range members {
		var item Item

		err = json.Unmarshal([]byte(member), &item)
		if err != nil {
			continue
		}

		items = append(items, &item)
	}

	return items, nil
}

// CleanupExpired drops items older than their band's TTL plus any members
// that no longer decode. Returns the number of removed items.
func (q *Queue) CleanupExpired(ctx context.Context) (int64, error) {
	var removed int64

	for _, band := range severity.Bands() {
		key := bandKey(band)

		members, err := q.store.Client().ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return removed, fmt.Errorf("queue: cleanup scan %s: %w", band, err)
		}

		cutoff := q.now().Add(-band.TTL())

		var stale []any

		for _, member := range members {
			var item Item

			err = json.Unmarshal([]byte(member), &item)
			if err != nil || item.EnqueuedAt.Before(cutoff) {
				stale = append(stale, member)
			}
		}

		if len(stale) == 0 {
			continue
		}

		n, err := q.store.Client().ZRem(ctx, key, stale...).Result()
		if err != nil {
			return removed, fmt.Errorf("queue: cleanup remove %s: %w", band, err)
		}

		removed += n
	}

	return removed, nil
}

// BandStats describes one band's fill state.
type BandStats struct {
	Band        severity.Band `json:"band"`
	Size        int64         `json:"size"`
	Capacity    int64         `json:"capacity"`
	Utilization float64       `json:"utilization"`
	Oldest      *time.Time    `json:"oldest,omitempty"`
	Newest      *time.Time    `json:"newest,omitempty"`
}

// Stats reports per-band sizes and timestamps plus the dead-letter size.
type Stats struct {
	Bands       []BandStats `json:"bands"`
	DeadLetters int64       `json:"dead_letters"`
	Warning     bool        `json:"warning"`
}

// Stats gathers fill statistics across all bands.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	out := &Stats{}

	for _, band := range severity.Bands() {
		key := bandKey(band)

		size, err := q.store.Client().ZCard(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: stats %s: %w", band, err)
		}

		bs := BandStats{
			Band:        band,
			Size:        size,
			Capacity:    q.capacities[band],
			Utilization: float64(size) / float64(q.capacities[band]),
		}

		if bs.Utilization >= warnUtilization {
			out.Warning = true
		}

		if size > 0 {
			bs.Oldest = q.memberTime(ctx, key, false)
			bs.Newest = q.memberTime(ctx, key, true)
		}

		out.Bands = append(out.Bands, bs)
	}

	deadSize, err := q.store.Client().ZCard(ctx, deadLetterKey).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: stats dead letters: %w", err)
	}

	out.DeadLetters = deadSize

	return out, nil
}

// HealthCheck returns an error when any band is at warning utilization.
func (q *Queue) HealthCheck(ctx context.Context) error {
	queueStats, err := q.Stats(ctx)
	if err != nil {
		return err
	}

	if queueStats.Warning {
		return errors.New("queue: one or more bands at or above 90% capacity")
	}

	return nil
}

func (q *Queue) memberTime(ctx context.Context, key string, newest bool) *time.Time {
	var members []string

	var err error

	if newest {
		members, err = q.store.Client().ZRevRange(ctx, key, 0, 0).Result()
	} else {
		members, err = q.store.Client().ZRange(ctx, key, 0, 0).Result()
	}

	if err != nil || len(members) == 0 {
		return nil
	}

	var item Item

	err = json.Unmarshal([]byte(members[0]), &item)
	if err != nil {
		return nil
	}

	return &item.EnqueuedAt
}

// bumpCounter updates the band's metadata hash; counter failures are logged
// and never fail the operation.
func (q *Queue) bumpCounter(ctx context.Context, band severity.Band, field string, n int64) {
	err := q.store.Client().HIncrBy(ctx, metadataKeyPrefix+string(band), field, n).Err()
	if err != nil {
		q.logger.Debug("queue metadata update failed", "band", band, "field", field, "error", err)
	}
}

func bandKey(band severity.Band) string {
	return queueKeyPrefix + string(band)
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
