package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loyaltyconsole/livesync/internal/connection"
	"github.com/loyaltyconsole/livesync/internal/event"
)

// Metrics holds all Prometheus metrics for livesync.
type Metrics struct {
	registry *prometheus.Registry

	// Connection metrics
	connectionState     *prometheus.GaugeVec
	stateTransitions    *prometheus.CounterVec
	reconnectsScheduled prometheus.Counter
	reconnectDelay      prometheus.Histogram
	connectionAttempt   prometheus.Gauge

	// Dispatch metrics
	eventsDispatched *prometheus.CounterVec
	framesDropped    *prometheus.CounterVec
	handlerFailures  *prometheus.CounterVec

	// Invalidation metrics
	invalidations        *prometheus.CounterVec
	invalidationFailures *prometheus.CounterVec
}

var allStates = []connection.State{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateOpen,
	connection.StateReconnecting,
	connection.StatePermanentlyDisabled,
}

// New creates all metrics on a dedicated registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		connectionState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "livesync_connection_state",
				Help: "1 for the current connection state, 0 otherwise",
			},
			[]string{"state"},
		),
		stateTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livesync_connection_transitions_total",
				Help: "Connection state transitions",
			},
			[]string{"from", "to"},
		),
		reconnectsScheduled: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "livesync_reconnects_scheduled_total",
				Help: "Reconnect attempts scheduled after a failure or drop",
			},
		),
		reconnectDelay: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "livesync_reconnect_delay_seconds",
				Help:    "Backoff delay before each scheduled reconnect",
				Buckets: []float64{.5, 1, 2, 4, 8, 16, 30, 60},
			},
		),
		connectionAttempt: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "livesync_connection_attempt",
				Help: "Consecutive failed attempts at the last scheduled reconnect",
			},
		),

		eventsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livesync_events_dispatched_total",
				Help: "Decoded events dispatched to subscribers",
			},
			[]string{"topic"},
		),
		framesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livesync_frames_dropped_total",
				Help: "Frames dropped at the decode boundary",
			},
			[]string{"reason"},
		),
		handlerFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livesync_handler_failures_total",
				Help: "Subscriber handlers that returned an error or panicked",
			},
			[]string{"topic"},
		),

		invalidations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livesync_invalidations_total",
				Help: "Cache prefix invalidations requested by the router",
			},
			[]string{"topic", "prefix"},
		),
		invalidationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livesync_invalidation_failures_total",
				Help: "Cache prefix invalidations that returned an error",
			},
			[]string{"topic", "prefix"},
		),
	}

	m.setState(connection.StateDisconnected)

	return m
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StateChanged implements connection.Observer.
func (m *Metrics) StateChanged(from, to connection.State) {
	m.stateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	m.setState(to)
	if to == connection.StateOpen {
		m.connectionAttempt.Set(0)
	}
}

// ReconnectScheduled implements connection.Observer.
func (m *Metrics) ReconnectScheduled(attempt int, delay time.Duration) {
	m.reconnectsScheduled.Inc()
	m.reconnectDelay.Observe(delay.Seconds())
	m.connectionAttempt.Set(float64(attempt))
}

// EventDispatched implements dispatch.Observer.
func (m *Metrics) EventDispatched(topic event.Topic) {
	m.eventsDispatched.WithLabelValues(string(topic)).Inc()
}

// FrameDropped implements dispatch.Observer.
func (m *Metrics) FrameDropped(reason string) {
	m.framesDropped.WithLabelValues(reason).Inc()
}

// HandlerFailed implements dispatch.Observer.
func (m *Metrics) HandlerFailed(topic event.Topic) {
	m.handlerFailures.WithLabelValues(string(topic)).Inc()
}

// PrefixInvalidated implements invalidation.Observer.
func (m *Metrics) PrefixInvalidated(topic event.Topic, prefix string, err error) {
	m.invalidations.WithLabelValues(string(topic), prefix).Inc()
	if err != nil {
		m.invalidationFailures.WithLabelValues(string(topic), prefix).Inc()
	}
}

func (m *Metrics) setState(current connection.State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		m.connectionState.WithLabelValues(s.String()).Set(v)
	}
}
