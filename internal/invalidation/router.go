package invalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loyaltyconsole/livesync/internal/cache"
	"github.com/loyaltyconsole/livesync/internal/event"
)

// Subscriber registers event handlers by topic.
type Subscriber interface {
	Subscribe(topic event.Topic, handler event.Handler) func()
}

// Observer receives invalidation outcomes. Implementations must not block.
type Observer interface {
	PrefixInvalidated(topic event.Topic, prefix string, err error)
}

type nopObserver struct{}

func (nopObserver) PrefixInvalidated(event.Topic, string, error) {}

// Config holds configuration for the Router.
type Config struct {
	Timeout time.Duration // Per-prefix invalidation timeout. Default: 5s
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
	}
}

// Router turns dispatched events into cache invalidations.
type Router struct {
	cfg      Config
	rules    Rules
	cache    cache.Invalidator
	logger   *slog.Logger
	observer Observer

	mu     sync.Mutex
	unsubs []func()
}

// Option configures a Router.
type Option func(*Router)

// WithObserver reports invalidation outcomes to o.
func WithObserver(o Observer) Option {
	return func(r *Router) {
		if o != nil {
			r.observer = o
		}
	}
}

// NewRouter creates a Router over the given rule table and cache.
func NewRouter(cfg Config, rules Rules, c cache.Invalidator, logger *slog.Logger, opts ...Option) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	r := &Router{
		cfg:      cfg,
		rules:    rules,
		cache:    c,
		logger:   logger,
		observer: nopObserver{},
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Register subscribes the Router to every topic in its rule table.
// Calling it again while registered is a no-op.
func (r *Router) Register(sub Subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unsubs != nil {
		return
	}

	topics := r.rules.Topics()
	r.unsubs = make([]func(), 0, len(topics))
	for _, topic := range topics {
		r.unsubs = append(r.unsubs, sub.Subscribe(topic, r.Handle))
	}

	r.logger.Info("invalidation router registered", "topics", len(topics))
}

// Unregister removes every registration made by Register.
func (r *Router) Unregister() {
	r.mu.Lock()
	unsubs := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()

	for _, unsubscribe := range unsubs {
		unsubscribe()
	}
}

// Handle invalidates every prefix mapped to ev.Topic. Unmapped topics are
// ignored. A failing prefix does not stop the others.
func (r *Router) Handle(ev event.Event) error {
	prefixes := r.rules.Prefixes(ev.Topic)
	if len(prefixes) == 0 {
		return nil
	}

	var errs []error
	for _, prefix := range prefixes {
		err := r.invalidate(prefix)
		r.observer.PrefixInvalidated(ev.Topic, prefix, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalidate %q: %w", prefix, err))
		}
	}

	r.logger.Debug("invalidated prefixes",
		"topic", ev.Topic,
		"prefixes", prefixes,
		"failed", len(errs),
	)

	return errors.Join(errs...)
}

func (r *Router) invalidate(prefix string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()
	return r.cache.Invalidate(ctx, prefix, cache.InvalidateOptions{Exact: false})
}
