package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis keys shared by every instance of the service.
const (
	rateLimitKey = "github:rate_limit"
	breakerKey   = "github:circuit_breaker"
	semaphoreKey = "github:api_semaphore"
)

const (
	// rateLimitTTL keeps the shared record slightly past GitHub's hourly window.
	rateLimitTTL = 3700 * time.Second

	// breakerTTL is how long the shared breaker stays open once tripped.
	breakerTTL = 30 * time.Minute

	// semaphoreTTL reclaims slots leaked by crashed holders.
	semaphoreTTL = 5 * time.Minute

	// semaphoreCapacity caps concurrent API calls across all instances.
	semaphoreCapacity = 3

	// breakerOpenThreshold trips the shared breaker.
	breakerOpenThreshold = 50

	// breakerCloseThreshold clears the shared breaker.
	breakerCloseThreshold = 1000

	// safetyMargin is the remaining-budget floor below which Acquire refuses.
	safetyMargin = 500

	// semaphoreWait is how long Acquire polls for a free slot before giving up.
	semaphoreWait = 2 * time.Second

	// semaphorePollInterval is the delay between slot acquisition attempts.
	semaphorePollInterval = 50 * time.Millisecond
)

// ErrBreakerOpen is returned while the shared circuit breaker is open.
var ErrBreakerOpen = errors.New("github: shared circuit breaker open")

// ErrSemaphoreFull is returned when no semaphore slot frees up in time.
var ErrSemaphoreFull = errors.New("github: api semaphore full")

// Coordinator shares the GitHub API budget between instances via Redis:
// a rate-limit record refreshed from response headers, a breaker flag, and
// a bounded set acting as a distributed semaphore.
type Coordinator struct {
	rdb    redis.UniversalClient
	logger *slog.Logger
}

// NewCoordinator builds a coordinator on the shared Redis client.
func NewCoordinator(rdb redis.UniversalClient, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{rdb: rdb, logger: logger}
}

// Acquire checks the shared breaker and budget, then takes a semaphore slot.
// The returned slot id must be passed to Release after the API call completes.
func (co *Coordinator) Acquire(ctx context.Context) (string, error) {
	open, err := co.breakerOpen(ctx)
	if err != nil {
		return "", err
	}

	if open {
		return "", ErrBreakerOpen
	}

	remaining, err := co.remaining(ctx)
	if err != nil {
		return "", err
	}

	if remaining >= 0 && remaining < safetyMargin {
		return "", ErrBudgetExceeded
	}

	return co.acquireSlot(ctx)
}

// Release frees a semaphore slot taken by Acquire.
func (co *Coordinator) Release(ctx context.Context, slot string) {
	if slot == "" {
		return
	}

	err := co.rdb.SRem(ctx, semaphoreKey, slot).Err()
	if err != nil {
		co.logger.Warn("semaphore release failed", "error", err)
	}
}

// RecordRateHeaders refreshes the shared rate record from response headers
// and flips the shared breaker according to the remaining budget.
func (co *Coordinator) RecordRateHeaders(ctx context.Context, h http.Header) {
	remaining := parseIntHeader(h, "X-RateLimit-Remaining")
	if remaining < 0 {
		return
	}

	reset := parseIntHeader(h, "X-RateLimit-Reset")

	pipe := co.rdb.Pipeline()
	pipe.HSet(ctx, rateLimitKey,
		"remaining", strconv.FormatInt(remaining, 10),
		"reset", strconv.FormatInt(reset, 10),
		"updated_at", strconv.FormatInt(time.Now().Unix(), 10))
	pipe.Expire(ctx, rateLimitKey, rateLimitTTL)

	_, err := pipe.Exec(ctx)
	if err != nil {
		co.logger.Warn("rate record update failed", "error", err)

		return
	}

	switch {
	case remaining < breakerOpenThreshold:
		err = co.rdb.Set(ctx, breakerKey, "open", breakerTTL).Err()
		if err == nil {
			co.logger.Warn("shared breaker opened", "remaining", remaining)
		}
	case remaining > breakerCloseThreshold:
		err = co.rdb.Del(ctx, breakerKey).Err()
	}

	if err != nil {
		co.logger.Warn("breaker flag update failed", "error", err)
	}
}

// Remaining returns the last recorded remaining budget, or -1 when unknown.
func (co *Coordinator) Remaining(ctx context.Context) int64 {
	remaining, err := co.remaining(ctx)
	if err != nil {
		return -1
	}

	return remaining
}

func (co *Coordinator) remaining(ctx context.Context) (int64, error) {
	raw, err := co.rdb.HGet(ctx, rateLimitKey, "remaining").Result()
	if errors.Is(err, redis.Nil) {
		return -1, nil
	}

	if err != nil {
		return -1, fmt.Errorf("github: rate record: %w", err)
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return -1, nil
	}

	return v, nil
}

func (co *Coordinator) breakerOpen(ctx context.Context) (bool, error) {
	_, err := co.rdb.Get(ctx, breakerKey).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("github: breaker flag: %w", err)
	}

	return true, nil
}

// acquireSlot polls for a free semaphore slot. Slot membership carries a set
// TTL so slots leaked by crashed holders expire.
var acquireScript = redis.NewScript(`
if redis.call('SCARD', KEYS[1]) < tonumber(ARGV[2]) then
  redis.call('SADD', KEYS[1], ARGV[1])
  redis.call('EXPIRE', KEYS[1], ARGV[3])
  return 1
end
return 0
`)

func (co *Coordinator) acquireSlot(ctx context.Context) (string, error) {
	slot := uuid.NewString()
	deadline := time.Now().Add(semaphoreWait)

	for {
		ok, err := acquireScript.Run(ctx, co.rdb, []string{semaphoreKey},
			slot, semaphoreCapacity, int(semaphoreTTL.Seconds())).Int()
		if err != nil {
			return "", fmt.Errorf("github: semaphore: %w", err)
		}

		if ok == 1 {
			return slot, nil
		}

		if time.Now().After(deadline) {
			return "", ErrSemaphoreFull
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("github: semaphore wait: %w", ctx.Err())
		case <-time.After(semaphorePollInterval):
		}
	}
}
