// Package store wraps the shared Redis client with the JSON and hash
// primitives the pipeline components build on. All detector caches, profiles,
// queues and coordination records live in the same logical Redis database.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("store: key not found")

// ErrConflict is returned when an optimistic transaction loses its race.
var ErrConflict = errors.New("store: concurrent modification")

// casMaxRetries bounds optimistic-transaction retries before giving up.
const casMaxRetries = 5

// Store is a thin typed layer over go-redis.
type Store struct {
	rdb redis.UniversalClient
}

// New wraps an existing Redis client.
func New(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

// Dial connects to Redis at addr and verifies the connection with a ping.
func Dial(ctx context.Context, addr, password string, db int) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	err := rdb.Ping(ctx).Err()
	if err != nil {
		return nil, fmt.Errorf("store: ping %s: %w", addr, err)
	}

	return &Store{rdb: rdb}, nil
}

// Client exposes the underlying go-redis client for components that need
// sorted sets, pub/sub or scripting directly.
func (s *Store) Client() redis.UniversalClient {
	return s.rdb
}

// Ping checks connectivity. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	err := s.rdb.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}

	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	err := s.rdb.Close()
	if err != nil {
		return fmt.Errorf("store: close: %w", err)
	}

	return nil
}

// GetJSON loads the value at key into out. Returns [ErrNotFound] when the key
// does not exist.
func (s *Store) GetJSON(ctx context.Context, key string, out any) error {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}

	if err != nil {
		return fmt.Errorf("store: get %s: %w", key, err)
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return fmt.Errorf("store: decode %s: %w", key, err)
	}

	return nil
}

// SetJSON stores val at key with the given TTL (0 means no expiry).
func (s *Store) SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}

	err = s.rdb.Set(ctx, key, data, ttl).Err()
	if err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}

	return nil
}

// UpdateJSON applies fn to the current value at key under an optimistic
// WATCH/MULTI transaction and writes the result back with ttl. fn receives
// the raw current bytes (nil when the key is absent) and returns the new
// value to store. Retries up to casMaxRetries times on conflict.
func (s *Store) UpdateJSON(ctx context.Context, key string, ttl time.Duration, fn func(current []byte) (any, error)) error {
	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("store: get %s: %w", key, err)
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("store: encode %s: %w", key, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)

			return nil
		})
		if err != nil {
			return fmt.Errorf("store: tx set %s: %w", key, err)
		}

		return nil
	}

	var err error

	for range casMaxRetries {
		err = s.rdb.Watch(ctx, txn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}

	return fmt.Errorf("%w: %s", ErrConflict, key)
}

// Delete removes keys. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	err := s.rdb.Del(ctx, keys...).Err()
	if err != nil {
		return fmt.Errorf("store: del: %w", err)
	}

	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("store: exists %s: %w", key, err)
	}

	return n > 0, nil
}
