package connection

import (
	"context"
	"errors"
	"time"

	"github.com/loyaltyconsole/livesync/internal/event"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrClosedByServer  = errors.New("connection closed")
)

// State is the lifecycle state of the live connection.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StatePermanentlyDisabled
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StatePermanentlyDisabled:
		return "permanently_disabled"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status is a snapshot of the connection for diagnostics.
type Status struct {
	State     State  `json:"state"`
	URL       string `json:"url"`
	Attempt   int    `json:"attempt"`
	LastError string `json:"last_error,omitempty"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://console.example.com/api/ws)
	Token            string        // Bearer token for the Authorization header
	HandshakeTimeout time.Duration // Dial handshake timeout
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	PingInterval     time.Duration // How often to send keepalive pings
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		PingTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	Client         ClientConfig  // Per-connection settings; URL is set by Connect
	Backoff        Backoff       // Delay policy between attempts
	MaxAttempts    int           // Consecutive failed attempts before giving up (<= 0: never)
	PersistTimeout time.Duration // Timeout for writing the disable flag
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:         DefaultClientConfig(),
		Backoff:        DefaultBackoff(),
		MaxAttempts:    5,
		PersistTimeout: 5 * time.Second,
	}
}

// Dispatcher receives frames and owns topic subscriptions.
type Dispatcher interface {
	// Deliver hands a frame over without blocking.
	Deliver(f event.Frame)

	// Subscribe registers handler for topic and returns its unsubscribe function.
	Subscribe(topic event.Topic, handler event.Handler) func()
}

// DisableRecorder persists the "gave up reconnecting" decision.
type DisableRecorder interface {
	SetDisabled(ctx context.Context, disabled bool) error
}

// Observer receives state machine activity. Calls are made while the
// Manager holds its lock, so implementations must not call back into it.
type Observer interface {
	StateChanged(from, to State)
	ReconnectScheduled(attempt int, delay time.Duration)
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, State)             {}
func (nopObserver) ReconnectScheduled(int, time.Duration) {}
