package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry is a single cached response.
type entry struct {
	value      []byte
	fetchedAt  time.Time
	stale      bool
	gen        uint64 // bumped by every matching Invalidate
	refetching bool
	observers  int
}

// maxLoadRounds bounds how often load refetches a key that keeps being
// invalidated while its fetch is in flight.
const maxLoadRounds = 3

// MemoryStats contains store statistics.
type MemoryStats struct {
	Entries       int   `json:"entries"`
	Stale         int   `json:"stale"`
	Fetches       int64 `json:"fetches"`
	Invalidations int64 `json:"invalidations"`
}

// Memory is an in-process response store. Entries with active observers
// are refetched in the background when invalidated; others are fetched
// again on their next Get.
type Memory struct {
	fetch   Fetcher
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*entry
	group   singleflight.Group

	fetches       int64
	invalidations int64

	wg sync.WaitGroup
}

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithFetchTimeout bounds background refetches.
func WithFetchTimeout(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.timeout = d
	}
}

// NewMemory creates an in-process store backed by fetch.
func NewMemory(fetch Fetcher, logger *slog.Logger, opts ...MemoryOption) *Memory {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Memory{
		fetch:   fetch,
		logger:  logger,
		timeout: 10 * time.Second,
		entries: make(map[string]*entry),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Get returns the cached value for key, fetching it when missing or stale.
// Concurrent callers for the same key share one fetch.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	m.mu.Lock()
	e, ok := m.entries[key]
	if ok && !e.stale {
		value := e.value
		m.mu.Unlock()
		return value, nil
	}
	m.mu.Unlock()

	return m.load(ctx, key)
}

// Set stores a fresh value for key.
func (m *Memory) Set(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryLocked(key)
	e.value = value
	e.fetchedAt = time.Now()
	e.stale = false
}

// Observe marks key as actively read. While observed, invalidation triggers
// a background refetch. The returned function releases the observation.
// Plain Get callers never observe; embedding callers that keep a view open
// do, through livesync.Service.Observe.
func (m *Memory) Observe(key string) func() {
	m.mu.Lock()
	m.entryLocked(key).observers++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if e, ok := m.entries[key]; ok && e.observers > 0 {
				e.observers--
			}
			m.mu.Unlock()
		})
	}
}

// Invalidate marks matching entries stale and bumps their generation, so a
// fetch already in flight will not mark its result fresh. Observed entries
// get at most one background refetch at a time.
func (m *Memory) Invalidate(ctx context.Context, prefix string, opts InvalidateOptions) error {
	var refetch []string

	m.mu.Lock()
	for key, e := range m.entries {
		if !Matches(key, prefix, opts) {
			continue
		}
		e.gen++
		if !e.stale {
			e.stale = true
			m.invalidations++
		}
		if e.observers > 0 && !e.refetching {
			e.refetching = true
			refetch = append(refetch, key)
		}
	}
	m.mu.Unlock()

	for _, key := range refetch {
		m.wg.Add(1)
		go func(key string) {
			defer m.wg.Done()

			fetchCtx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()

			if _, err := m.load(fetchCtx, key); err != nil {
				m.logger.Warn("background refetch failed", "key", key, "error", err)
			}

			m.mu.Lock()
			if e, ok := m.entries[key]; ok {
				e.refetching = false
			}
			m.mu.Unlock()
		}(key)
	}

	if len(refetch) > 0 {
		m.logger.Debug("invalidated cache entries",
			"prefix", prefix,
			"exact", opts.Exact,
			"refetching", len(refetch),
		)
	}

	return nil
}

// IsStale reports whether key is cached and marked stale.
func (m *Memory) IsStale(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return ok && e.stale
}

// Wait blocks until in-flight background refetches finish.
func (m *Memory) Wait() {
	m.wg.Wait()
}

// Stats returns store statistics.
func (m *Memory) Stats() MemoryStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stale := 0
	for _, e := range m.entries {
		if e.stale {
			stale++
		}
	}

	return MemoryStats{
		Entries:       len(m.entries),
		Stale:         stale,
		Fetches:       m.fetches,
		Invalidations: m.invalidations,
	}
}

// load fetches key once across concurrent callers and stores the result.
// When the key is invalidated during the fetch, the result is stored but
// left stale and the key is fetched again.
func (m *Memory) load(ctx context.Context, key string) ([]byte, error) {
	if m.fetch == nil {
		return nil, ErrNoFetcher
	}

	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		var value []byte
		for round := 0; round < maxLoadRounds; round++ {
			m.mu.Lock()
			m.fetches++
			gen := m.entryLocked(key).gen
			m.mu.Unlock()

			var err error
			value, err = m.fetch(ctx, key)
			if err != nil {
				return nil, err
			}

			if m.store(key, value, gen) {
				return value, nil
			}
			if err := ctx.Err(); err != nil {
				break
			}
		}

		m.logger.Debug("key kept changing during fetch, left stale", "key", key)
		return value, nil
	})
	if err != nil {
		return nil, err
	}

	return v.([]byte), nil
}

// store saves value for key. The entry is marked fresh only when no
// invalidation arrived since generation gen was read.
func (m *Memory) store(key string, value []byte, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entryLocked(key)
	e.value = value
	e.fetchedAt = time.Now()
	if e.gen != gen {
		return false
	}
	e.stale = false
	return true
}

// entryLocked returns the entry for key, creating a stale placeholder.
// Must be called with lock held.
func (m *Memory) entryLocked(key string) *entry {
	e, ok := m.entries[key]
	if !ok {
		e = &entry{stale: true}
		m.entries[key] = e
	}
	return e
}
