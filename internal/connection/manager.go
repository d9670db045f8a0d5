package connection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/loyaltyconsole/livesync/internal/event"
)

// Manager owns the single live-event connection.
type Manager interface {
	// Connect starts connecting to url. No-op when already open or
	// connecting to the same url, or while permanently disabled.
	Connect(url string)

	// Disable stops the connection and all retries until Reset.
	Disable()

	// Reset leaves the permanently disabled state.
	Reset()

	// HasConnectionFailed reports whether the manager is permanently disabled.
	HasConnectionFailed() bool

	// On subscribes handler to topic on the Event Dispatcher.
	On(topic event.Topic, handler event.Handler) (unsubscribe func())

	// Status returns a diagnostic snapshot.
	Status() Status

	// Stop closes the connection and waits for transport goroutines.
	Stop(ctx context.Context) error
}

// ManagerOption configures a Manager.
type ManagerOption func(*manager)

// WithClock replaces the timer source used for backoff.
func WithClock(c Clock) ManagerOption {
	return func(m *manager) {
		m.clock = c
	}
}

// WithClientFactory replaces the WebSocket client constructor.
func WithClientFactory(f ClientFactory) ManagerOption {
	return func(m *manager) {
		m.newClient = f
	}
}

// WithDisableRecorder persists the disable decision after exhausted retries.
func WithDisableRecorder(r DisableRecorder) ManagerOption {
	return func(m *manager) {
		m.recorder = r
	}
}

// WithTokenSource supplies the bearer token for each new attempt, so a
// refreshed session token is picked up on reconnect.
func WithTokenSource(f func() string) ManagerOption {
	return func(m *manager) {
		m.token = f
	}
}

// WithObserver reports state transitions to o.
func WithObserver(o Observer) ManagerOption {
	return func(m *manager) {
		if o != nil {
			m.observer = o
		}
	}
}

// manager implements the Manager interface. Every transition runs to
// completion under mu; callbacks carry the generation they were started
// with and are ignored once a newer handle or timer exists.
type manager struct {
	cfg        ManagerConfig
	dispatcher Dispatcher
	logger     *slog.Logger

	clock     Clock
	newClient ClientFactory
	recorder  DisableRecorder
	observer  Observer
	token     func() string

	mu      sync.Mutex
	state   State
	url     string
	attempt int
	lastErr error
	gen     uint64
	client  Client
	cancel  context.CancelFunc
	timer   Timer
	flagged bool // a disable flag write was issued and not yet cleared

	persistMu sync.Mutex // orders flag writes
	wg        sync.WaitGroup
}

// NewManager creates a new Connection Manager.
func NewManager(cfg ManagerConfig, dispatcher Dispatcher, logger *slog.Logger, opts ...ManagerOption) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = DefaultManagerConfig().PersistTimeout
	}

	m := &manager{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     logger,
		clock:      realClock{},
		newClient:  NewClient,
		observer:   nopObserver{},
		state:      StateDisconnected,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Connect starts connecting to url.
func (m *manager) Connect(url string) {
	m.mu.Lock()

	switch m.state {
	case StatePermanentlyDisabled:
		m.mu.Unlock()
		m.logger.Debug("connect ignored, live updates disabled", "url", url)
		return
	case StateOpen, StateConnecting:
		if url == m.url {
			m.mu.Unlock()
			return
		}
	}

	if url != m.url {
		m.attempt = 0
		m.lastErr = nil
	}

	old := m.teardownLocked()
	m.url = url
	m.startAttemptLocked()
	m.mu.Unlock()

	closeClient(old)
}

// Disable enters PermanentlyDisabled from any state.
func (m *manager) Disable() {
	m.mu.Lock()
	old := m.teardownLocked()
	m.setStateLocked(StatePermanentlyDisabled)
	m.mu.Unlock()

	closeClient(old)
	m.logger.Info("live updates disabled")
}

// Reset returns a permanently disabled manager to Disconnected.
func (m *manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StatePermanentlyDisabled {
		return
	}

	m.attempt = 0
	m.lastErr = nil
	m.setStateLocked(StateDisconnected)
	m.logger.Info("live updates reset")
}

// HasConnectionFailed reports whether the manager is permanently disabled.
func (m *manager) HasConnectionFailed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StatePermanentlyDisabled
}

// On subscribes handler to topic on the Event Dispatcher.
func (m *manager) On(topic event.Topic, handler event.Handler) func() {
	return m.dispatcher.Subscribe(topic, handler)
}

// Status returns a diagnostic snapshot.
func (m *manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{
		State:   m.state,
		URL:     m.url,
		Attempt: m.attempt,
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Stop closes the connection and waits for transport goroutines.
func (m *manager) Stop(ctx context.Context) error {
	m.logger.Info("stopping connection manager")

	m.mu.Lock()
	old := m.teardownLocked()
	if m.state != StatePermanentlyDisabled {
		m.setStateLocked(StateDisconnected)
	}
	m.mu.Unlock()

	closeClient(old)

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("connection manager stopped")
		return nil
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
		return ctx.Err()
	}
}

// startAttemptLocked creates a fresh client and dials it in the background.
// Must be called with lock held.
func (m *manager) startAttemptLocked() {
	m.gen++
	gen := m.gen

	cfg := m.cfg.Client
	cfg.URL = m.url
	if m.token != nil {
		cfg.Token = m.token()
	}
	client := m.newClient(cfg, m.logger.With("conn_gen", gen))

	ctx, cancel := context.WithCancel(context.Background())
	m.client = client
	m.cancel = cancel
	m.setStateLocked(StateConnecting)

	m.logger.Info("connecting", "url", m.url, "attempt", m.attempt)

	m.wg.Add(1)
	go m.run(ctx, gen, client)
}

// run dials client and forwards its frames until it fails or is superseded.
func (m *manager) run(ctx context.Context, gen uint64, client Client) {
	defer m.wg.Done()

	if err := client.Connect(ctx); err != nil {
		m.transportFailed(gen, err)
		return
	}

	opened, clearFlag := m.transportOpened(gen)
	if !opened {
		client.Close()
		return
	}
	if clearFlag {
		m.persist(false)
	}

	for {
		select {
		case <-ctx.Done():
			return

		case err := <-client.Errors():
			m.transportFailed(gen, err)
			return

		case f, ok := <-client.Messages():
			if !ok {
				m.transportFailed(gen, ErrClosedByServer)
				return
			}
			m.frameReceived(gen, f)
		}
	}
}

// transportOpened handles a successful dial. opened is false when the
// handle has been superseded and must be closed. clearFlag reports that a
// disable flag written earlier by this manager must be cleared.
func (m *manager) transportOpened(gen uint64) (opened, clearFlag bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateConnecting {
		return false, false
	}

	m.attempt = 0
	m.setStateLocked(StateOpen)
	m.logger.Info("live connection open", "url", m.url)

	clearFlag = m.flagged
	m.flagged = false
	return true, clearFlag
}

// transportFailed handles a dial failure, error or close.
func (m *manager) transportFailed(gen uint64, err error) {
	m.mu.Lock()

	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	var old Client
	exhausted := false
	url := m.url
	var disabledGen uint64

	switch m.state {
	case StateConnecting:
		m.attempt++
		m.lastErr = err
		old = m.detachLocked()

		m.logger.Warn("connection attempt failed",
			"url", m.url,
			"attempt", m.attempt,
			"error", err,
		)

		if m.cfg.MaxAttempts > 0 && m.attempt >= m.cfg.MaxAttempts {
			m.gen++
			disabledGen = m.gen
			m.setStateLocked(StatePermanentlyDisabled)
			exhausted = true
		} else {
			m.scheduleLocked(m.cfg.Backoff.Delay(m.attempt))
		}

	case StateOpen:
		m.lastErr = err
		old = m.detachLocked()

		m.logger.Warn("live connection lost", "url", m.url, "error", err)
		m.scheduleLocked(m.cfg.Backoff.Delay(m.attempt + 1))

	default:
		m.mu.Unlock()
		return
	}

	m.mu.Unlock()

	closeClient(old)

	if exhausted {
		m.logger.Warn("giving up on live updates",
			"url", url,
			"attempts", m.cfg.MaxAttempts,
		)
		m.persistDisabled(disabledGen)
	}
}

// frameReceived forwards a frame from the current open handle.
func (m *manager) frameReceived(gen uint64, f event.Frame) {
	m.mu.Lock()
	current := gen == m.gen && m.state == StateOpen
	m.mu.Unlock()

	if current {
		m.dispatcher.Deliver(f)
	}
}

// scheduleLocked enters Reconnecting and arms the backoff timer.
// Must be called with lock held.
func (m *manager) scheduleLocked(delay time.Duration) {
	m.gen++
	gen := m.gen

	m.setStateLocked(StateReconnecting)
	m.timer = m.clock.AfterFunc(delay, func() {
		m.backoffElapsed(gen)
	})
	m.observer.ReconnectScheduled(m.attempt, delay)

	m.logger.Info("reconnect scheduled", "attempt", m.attempt, "delay", delay)
}

// backoffElapsed starts the next attempt unless the timer was superseded.
func (m *manager) backoffElapsed(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.gen || m.state != StateReconnecting {
		return
	}

	m.timer = nil
	m.startAttemptLocked()
}

// teardownLocked invalidates outstanding callbacks, stops the timer and
// detaches the current handle, which the caller closes after unlocking.
// Must be called with lock held.
func (m *manager) teardownLocked() Client {
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	return m.detachLocked()
}

// detachLocked cancels the current handle's goroutine and returns it.
// Must be called with lock held.
func (m *manager) detachLocked() Client {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	old := m.client
	m.client = nil
	return old
}

// setStateLocked records a transition. Must be called with lock held.
func (m *manager) setStateLocked(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.observer.StateChanged(from, to)
	m.logger.Debug("state transition", "from", from, "to", to)
}

// persistDisabled records the disable decision so the next process start
// does not retry immediately. The write is skipped when the manager left
// the disabled state of generation gen in the meantime.
func (m *manager) persistDisabled(gen uint64) {
	if m.recorder == nil {
		return
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	m.mu.Lock()
	current := gen == m.gen && m.state == StatePermanentlyDisabled
	if current {
		m.flagged = true
	}
	m.mu.Unlock()

	if !current {
		m.logger.Debug("skipping disable flag, manager was reset")
		return
	}
	m.writeFlag(true)
}

// persist writes the disable flag, ordered after any write in progress.
func (m *manager) persist(disabled bool) {
	if m.recorder == nil {
		return
	}

	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	m.writeFlag(disabled)
}

// writeFlag must be called with persistMu held.
func (m *manager) writeFlag(disabled bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.PersistTimeout)
	defer cancel()

	if err := m.recorder.SetDisabled(ctx, disabled); err != nil {
		m.logger.Error("failed to persist disable flag", "disabled", disabled, "error", err)
	}
}

func closeClient(c Client) {
	if c != nil {
		c.Close()
	}
}
