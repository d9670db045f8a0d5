package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// kvStore is the part of Redis a RedisReader uses.
type kvStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, prefix string, opts InvalidateOptions) error
	Subscribe(ctx context.Context) (<-chan InvalidationNotice, error)
}

// RedisReader reads through a Redis store, refilling missing keys with
// fetch. Invalidation removes keys, so the next read after an invalidation
// refetches. Observed keys are refilled as soon as a notice arrives.
type RedisReader struct {
	store   kvStore
	fetch   Fetcher
	ttl     time.Duration
	timeout time.Duration
	logger  *slog.Logger

	group singleflight.Group

	mu        sync.Mutex
	observers map[string]int
}

// NewRedisReader creates a read-through view over store.
func NewRedisReader(store *Redis, fetch Fetcher, ttl time.Duration, logger *slog.Logger) *RedisReader {
	return newRedisReader(store, fetch, ttl, logger)
}

func newRedisReader(store kvStore, fetch Fetcher, ttl time.Duration, logger *slog.Logger) *RedisReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisReader{
		store:     store,
		fetch:     fetch,
		ttl:       ttl,
		timeout:   10 * time.Second,
		logger:    logger,
		observers: make(map[string]int),
	}
}

// Get returns the cached value or fetches and stores it.
func (r *RedisReader) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	value, err := r.store.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read %q: %w", key, err)
	}

	return r.refill(ctx, key)
}

// refill fetches key once across concurrent callers and stores it.
func (r *RedisReader) refill(ctx context.Context, key string) ([]byte, error) {
	if r.fetch == nil {
		return nil, ErrNoFetcher
	}

	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		value, err := r.fetch(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := r.store.Set(ctx, key, value, r.ttl); err != nil {
			r.logger.Warn("failed to store fetched value", "key", key, "error", err)
		}
		return value, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

// Invalidate removes matching keys from the underlying store.
func (r *RedisReader) Invalidate(ctx context.Context, prefix string, opts InvalidateOptions) error {
	return r.store.Invalidate(ctx, prefix, opts)
}

// Observe marks key as actively read on this instance. While observed, a
// matching invalidation notice refills the key. The returned function
// releases the observation.
func (r *RedisReader) Observe(key string) func() {
	r.mu.Lock()
	r.observers[key]++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if r.observers[key] <= 1 {
				delete(r.observers, key)
				return
			}
			r.observers[key]--
		})
	}
}

// Listen refills observed keys on every invalidation notice until ctx is
// done. Notices come from every instance sharing the channel, this one
// included.
func (r *RedisReader) Listen(ctx context.Context) error {
	notices, err := r.store.Subscribe(ctx)
	if err != nil {
		return err
	}

	for notice := range notices {
		r.handleNotice(ctx, notice)
	}
	return nil
}

func (r *RedisReader) handleNotice(ctx context.Context, notice InvalidationNotice) {
	opts := InvalidateOptions{Exact: notice.Exact}

	r.mu.Lock()
	var keys []string
	for key := range r.observers {
		if Matches(key, notice.Prefix, opts) {
			keys = append(keys, key)
		}
	}
	r.mu.Unlock()

	for _, key := range keys {
		fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
		if _, err := r.refill(fetchCtx, key); err != nil {
			r.logger.Warn("refill after notice failed", "key", key, "error", err)
		}
		cancel()
	}

	if len(keys) > 0 {
		r.logger.Debug("refilled observed keys", "prefix", notice.Prefix, "keys", len(keys))
	}
}
