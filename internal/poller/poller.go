package poller

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loyaltyconsole/livesync/internal/cache"
)

// FailureSource reports whether live updates have been given up on.
type FailureSource interface {
	HasConnectionFailed() bool
}

// Config holds poller configuration.
type Config struct {
	Interval    time.Duration // Poll interval (default: 60s)
	Concurrency int           // Max concurrent invalidations (default: 4)
	Timeout     time.Duration // Per-prefix timeout (default: 10s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    60 * time.Second,
		Concurrency: 4,
		Timeout:     10 * time.Second,
	}
}

// Stats contains poller statistics.
type Stats struct {
	Cycles        int64 `json:"cycles"`
	Skipped       int64 `json:"skipped"`
	Invalidations int64 `json:"invalidations"`
	Errors        int64 `json:"errors"`
}

// Poller periodically invalidates cache prefixes while live updates are down.
type Poller struct {
	cfg      Config
	source   FailureSource
	cache    cache.Invalidator
	prefixes []string
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles        atomic.Int64
	skipped       atomic.Int64
	invalidations atomic.Int64
	errors        atomic.Int64
}

// New creates a new Poller.
func New(cfg Config, source FailureSource, c cache.Invalidator, prefixes []string, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = defaults.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	return &Poller{
		cfg:      cfg,
		source:   source,
		cache:    c,
		prefixes: prefixes,
		logger:   logger,
		ctx:      context.Background(),
	}
}

// Start begins the polling loop.
func (p *Poller) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("fallback poller started",
		"interval", p.cfg.Interval,
		"prefixes", len(p.prefixes),
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("fallback poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns poller statistics.
func (p *Poller) Stats() Stats {
	return Stats{
		Cycles:        p.cycles.Load(),
		Skipped:       p.skipped.Load(),
		Invalidations: p.invalidations.Load(),
		Errors:        p.errors.Load(),
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.pollAll()
		}
	}
}

// pollAll invalidates every prefix if live updates are down.
func (p *Poller) pollAll() {
	if !p.source.HasConnectionFailed() {
		p.skipped.Add(1)
		return
	}

	start := time.Now()
	p.cycles.Add(1)

	// Semaphore for bounded concurrency.
	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var ok, failed atomic.Int64

	for _, prefix := range p.prefixes {
		wg.Add(1)
		go func(prefix string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-p.ctx.Done():
				return
			}

			if err := p.invalidate(prefix); err != nil {
				p.logger.Warn("fallback invalidation failed",
					"prefix", prefix,
					"error", err,
				)
				failed.Add(1)
				return
			}

			ok.Add(1)
		}(prefix)
	}

	wg.Wait()

	p.invalidations.Add(ok.Load())
	p.errors.Add(failed.Load())

	p.logger.Info("fallback refresh complete",
		"prefixes", len(p.prefixes),
		"invalidated", ok.Load(),
		"errors", failed.Load(),
		"duration", time.Since(start),
	)
}

func (p *Poller) invalidate(prefix string) error {
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.Timeout)
	defer cancel()

	return p.cache.Invalidate(ctx, prefix, cache.InvalidateOptions{Exact: false})
}
