package livesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/loyaltyconsole/livesync/internal/api"
	"github.com/loyaltyconsole/livesync/internal/cache"
	"github.com/loyaltyconsole/livesync/internal/config"
	"github.com/loyaltyconsole/livesync/internal/connection"
	"github.com/loyaltyconsole/livesync/internal/database"
	"github.com/loyaltyconsole/livesync/internal/dispatch"
	"github.com/loyaltyconsole/livesync/internal/event"
	"github.com/loyaltyconsole/livesync/internal/flagstore"
	"github.com/loyaltyconsole/livesync/internal/invalidation"
	"github.com/loyaltyconsole/livesync/internal/metrics"
	"github.com/loyaltyconsole/livesync/internal/poller"
)

// Cache is a response cache the router can invalidate and consumers can read.
type Cache interface {
	cache.Reader
	cache.Invalidator
}

// Service wires the live-update components together.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger
	url    string

	metrics    *metrics.Metrics
	api        *api.Client
	cache      Cache
	flags      flagstore.Store
	rules      invalidation.Rules
	dispatcher *dispatch.Dispatcher
	router     *invalidation.Router
	manager    connection.Manager
	poller     *poller.Poller

	listener *cache.RedisReader // set when invalidation notices are shared
	closers  []func()
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// options collects overrides applied by New.
type options struct {
	cache     Cache
	flags     flagstore.Store
	newClient connection.ClientFactory
	clock     connection.Clock
}

// Option overrides a component built by New.
type Option func(*options)

// WithCache replaces the cache selected by cache.backend.
func WithCache(c Cache) Option {
	return func(o *options) {
		o.cache = c
	}
}

// WithFlagStore replaces the store selected by flags.backend.
func WithFlagStore(s flagstore.Store) Option {
	return func(o *options) {
		o.flags = s
	}
}

// WithClientFactory replaces the WebSocket client constructor.
func WithClientFactory(f connection.ClientFactory) Option {
	return func(o *options) {
		o.newClient = f
	}
}

// WithClock replaces the reconnect timer source.
func WithClock(c connection.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// New builds a Service from a validated configuration. Backends named by
// the configuration (Redis, PostgreSQL) are connected here.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	url, err := cfg.LiveURL()
	if err != nil {
		return nil, err
	}

	rules := invalidation.DefaultRules()
	if len(cfg.Invalidation.Rules) > 0 {
		rules, err = invalidation.RulesFromConfig(cfg.Invalidation.Rules)
		if err != nil {
			return nil, fmt.Errorf("invalidation rules: %w", err)
		}
	}

	s := &Service{
		cfg:     cfg,
		logger:  logger,
		url:     url,
		metrics: metrics.New(),
		rules:   rules,
	}

	s.api = api.NewClient(
		cfg.API.RestURL,
		cfg.API.Token,
		api.WithLogger(logger.With("component", "api")),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, config.DefaultAPIRetryBackoff),
		api.WithUnauthorizedHandler(s.unauthorized),
	)

	s.cache = o.cache
	if s.cache == nil {
		if s.cache, err = s.openCache(ctx); err != nil {
			s.close()
			return nil, err
		}
	}

	s.flags = o.flags
	if s.flags == nil {
		if s.flags, err = s.openFlags(ctx); err != nil {
			s.close()
			return nil, err
		}
	}

	s.dispatcher = dispatch.New(
		dispatch.Config{QueueSize: cfg.Live.QueueSize},
		logger.With("component", "dispatcher"),
		dispatch.WithObserver(s.metrics),
	)

	s.router = invalidation.NewRouter(
		invalidation.Config{Timeout: cfg.Invalidation.Timeout},
		rules,
		s.cache,
		logger.With("component", "invalidation"),
		invalidation.WithObserver(s.metrics),
	)

	managerOpts := []connection.ManagerOption{
		connection.WithDisableRecorder(s.flags),
		connection.WithObserver(s.metrics),
		connection.WithTokenSource(s.api.Token),
	}
	if o.newClient != nil {
		managerOpts = append(managerOpts, connection.WithClientFactory(o.newClient))
	}
	if o.clock != nil {
		managerOpts = append(managerOpts, connection.WithClock(o.clock))
	}
	s.manager = connection.NewManager(
		managerConfig(cfg),
		s.dispatcher,
		logger.With("component", "connection"),
		managerOpts...,
	)

	s.poller = poller.New(
		poller.Config{Interval: cfg.Poller.Interval, Timeout: cfg.Invalidation.Timeout},
		s.manager,
		s.cache,
		rules.AllPrefixes(),
		logger.With("component", "poller"),
	)

	return s, nil
}

// managerConfig maps the live section onto the connection manager.
func managerConfig(cfg *config.Config) connection.ManagerConfig {
	mc := connection.DefaultManagerConfig()
	mc.Client.HandshakeTimeout = cfg.Live.HandshakeTimeout
	mc.Client.PingInterval = cfg.Live.PingInterval
	mc.Client.PingTimeout = cfg.Live.PingTimeout
	mc.Client.WriteTimeout = cfg.Live.WriteTimeout
	mc.Backoff = connection.Backoff{
		Initial:    cfg.Live.ReconnectBaseDelay,
		Multiplier: cfg.Live.ReconnectMultiplier,
		Max:        cfg.Live.ReconnectMaxDelay,
	}
	mc.MaxAttempts = cfg.Live.MaxAttempts
	return mc
}

func (s *Service) openCache(ctx context.Context) (Cache, error) {
	switch s.cfg.Cache.Backend {
	case "redis":
		store, err := cache.NewRedis(ctx, cache.RedisConfig{
			URL:       s.cfg.Cache.RedisURL,
			KeyPrefix: s.cfg.Cache.KeyPrefix,
			Channel:   s.cfg.Cache.Channel,
		}, s.logger.With("component", "cache"))
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		s.closers = append(s.closers, func() { store.Close() })
		reader := cache.NewRedisReader(store, s.api.Get, s.cfg.Cache.TTL, s.logger.With("component", "cache"))
		if s.cfg.Cache.Channel != "" {
			s.listener = reader
		}
		return reader, nil

	default:
		return cache.NewMemory(s.api.Get, s.logger.With("component", "cache"),
			cache.WithFetchTimeout(s.cfg.Cache.FetchTimeout),
		), nil
	}
}

func (s *Service) openFlags(ctx context.Context) (flagstore.Store, error) {
	switch s.cfg.Flags.Backend {
	case "postgres":
		pool, err := database.Connect(ctx, s.cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("open flag database: %w", err)
		}
		s.closers = append(s.closers, pool.Close)

		store := flagstore.NewPostgresStore(pool, s.cfg.Flags.Scope)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil

	default:
		return flagstore.NewFileStore(s.cfg.Flags.Path), nil
	}
}

// Start launches the dispatcher, router and poller, then connects unless
// live updates are switched off or were disabled by a previous run.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.started = true

	if err := s.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("start dispatcher: %w", err)
	}
	s.router.Register(s.dispatcher)
	if err := s.poller.Start(ctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	if s.listener != nil {
		listenCtx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.listener.Listen(listenCtx); err != nil {
				s.logger.Warn("invalidation notices unavailable", "error", err)
			}
		}()
	}

	if !s.cfg.Live.IsEnabled() {
		s.manager.Disable()
		s.logger.Info("live updates turned off by configuration")
		return nil
	}

	disabled, err := s.flags.Disabled(ctx)
	if err != nil {
		s.logger.Warn("failed to read disable flag, connecting anyway", "error", err)
	}
	if disabled {
		s.manager.Disable()
		s.logger.Info("live updates disabled by a previous run, waiting for login")
		return nil
	}

	s.manager.Connect(s.url)
	return nil
}

// Login clears the persisted flag and reconnects. token replaces the
// session bearer token when non-empty.
func (s *Service) Login(ctx context.Context, token string) error {
	if token != "" {
		s.api.SetToken(token)
	}

	if !s.cfg.Live.IsEnabled() {
		return nil
	}

	var errs []error
	if err := s.flags.SetDisabled(ctx, false); err != nil {
		s.logger.Warn("failed to clear disable flag", "error", err)
		errs = append(errs, err)
	}

	s.manager.Reset()
	s.manager.Connect(s.url)

	s.logger.Info("login, live updates resumed")
	return errors.Join(errs...)
}

// Logout stops live updates until the next Login.
func (s *Service) Logout() {
	s.manager.Disable()
	s.logger.Info("logout, live updates stopped")
}

// unauthorized runs when the REST API rejects the session token.
func (s *Service) unauthorized() {
	s.logger.Warn("session token rejected, stopping live updates")
	s.Logout()
}

// Stop tears every component down in reverse dependency order.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("stopping live sync")

	s.router.Unregister()

	var errs []error
	if err := s.manager.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop connection manager: %w", err))
	}
	if err := s.poller.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop poller: %w", err))
	}
	if err := s.dispatcher.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop dispatcher: %w", err))
	}

	if cancel != nil {
		cancel()
		s.wg.Wait()
	}

	s.close()

	return errors.Join(errs...)
}

func (s *Service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// On subscribes handler to topic.
func (s *Service) On(topic event.Topic, handler event.Handler) func() {
	return s.manager.On(topic, handler)
}

// Observe keeps key fresh while a caller displays it: invalidations refetch
// it in the background instead of waiting for the next read. The returned
// function ends the observation. Caches without observation support make
// this a no-op.
func (s *Service) Observe(key string) func() {
	if o, ok := s.cache.(cache.Observer); ok {
		return o.Observe(key)
	}
	return func() {}
}

// Cache returns the response cache.
func (s *Service) Cache() Cache {
	return s.cache
}

// Metrics returns the Prometheus metrics.
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Rules returns the active invalidation rules.
func (s *Service) Rules() invalidation.Rules {
	return s.rules
}

// Health is a diagnostic snapshot.
type Health struct {
	Status      string            `json:"status"` // ok | degraded | off
	LiveEnabled bool              `json:"live_enabled"`
	DisableFlag bool              `json:"disable_flag"`
	Connection  connection.Status `json:"connection"`
	Dispatcher  dispatch.Stats    `json:"dispatcher"`
	Poller      poller.Stats      `json:"poller"`
}

// Health reports the state of every component.
func (s *Service) Health(ctx context.Context) Health {
	h := Health{
		Status:      "ok",
		LiveEnabled: s.cfg.Live.IsEnabled(),
		Connection:  s.manager.Status(),
		Dispatcher:  s.dispatcher.Stats(),
		Poller:      s.poller.Stats(),
	}

	flagged, err := s.flags.Disabled(ctx)
	if err != nil {
		s.logger.Debug("failed to read disable flag", "error", err)
	}
	h.DisableFlag = flagged

	switch {
	case !h.LiveEnabled:
		h.Status = "off"
	case h.Connection.State != connection.StateOpen:
		h.Status = "degraded"
	}

	return h
}
