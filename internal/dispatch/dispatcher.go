package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/loyaltyconsole/livesync/internal/event"
)

// subscription is a single handler registration.
type subscription struct {
	id      uuid.UUID
	topic   event.Topic
	handler event.Handler
	active  atomic.Bool
}

// Dispatcher is a topic-keyed publish/subscribe registry.
type Dispatcher struct {
	cfg      Config
	logger   *slog.Logger
	observer Observer

	// Registry. Slices are replaced, never mutated in place, so a dispatch
	// can iterate a snapshot without holding the lock.
	mu   sync.Mutex
	subs map[event.Topic][]*subscription

	// Frames from the Connection Manager
	queue *Queue[event.Frame]

	// Lifecycle
	startOnce sync.Once
	wg        sync.WaitGroup

	// Stats
	received        atomic.Int64
	dispatched      atomic.Int64
	decodeErrors    atomic.Int64
	unknownTopics   atomic.Int64
	handlerFailures atomic.Int64
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithObserver reports dispatch outcomes to o.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

// New creates a new Dispatcher.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	d := &Dispatcher{
		cfg:      cfg,
		logger:   logger,
		observer: nopObserver{},
		subs:     make(map[event.Topic][]*subscription),
		queue:    NewQueue[event.Frame](cfg.QueueSize),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Subscribe registers handler under topic. The returned function removes
// exactly this registration; calling it again is a no-op.
func (d *Dispatcher) Subscribe(topic event.Topic, handler event.Handler) func() {
	sub := &subscription{
		id:      uuid.New(),
		topic:   topic,
		handler: handler,
	}
	sub.active.Store(true)

	d.mu.Lock()
	current := d.subs[topic]
	next := make([]*subscription, len(current), len(current)+1)
	copy(next, current)
	d.subs[topic] = append(next, sub)
	d.mu.Unlock()

	d.logger.Debug("subscribed", "topic", topic, "subscription_id", sub.id)

	var once sync.Once
	return func() {
		once.Do(func() { d.remove(sub) })
	}
}

// remove drops sub from the registry.
func (d *Dispatcher) remove(sub *subscription) {
	sub.active.Store(false)

	d.mu.Lock()
	current := d.subs[sub.topic]
	next := make([]*subscription, 0, len(current))
	for _, s := range current {
		if s != sub {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(d.subs, sub.topic)
	} else {
		d.subs[sub.topic] = next
	}
	d.mu.Unlock()

	d.logger.Debug("unsubscribed", "topic", sub.topic, "subscription_id", sub.id)
}

// Dispatch invokes every handler registered for ev.Topic, synchronously and
// in registration order.
func (d *Dispatcher) Dispatch(ev event.Event) {
	d.mu.Lock()
	snapshot := d.subs[ev.Topic]
	d.mu.Unlock()

	for _, sub := range snapshot {
		// Removed after the snapshot was taken but before its turn.
		if !sub.active.Load() {
			continue
		}
		if err := d.invoke(sub, ev); err != nil {
			d.handlerFailures.Add(1)
			d.observer.HandlerFailed(ev.Topic)
			d.logger.Warn("event handler failed",
				"topic", ev.Topic,
				"subscription_id", sub.id,
				"error", err,
			)
		}
	}

	d.dispatched.Add(1)
	d.observer.EventDispatched(ev.Topic)
}

// invoke runs one handler, converting a panic into an error.
func (d *Dispatcher) invoke(sub *subscription, ev event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(ev)
}

// HandleFrame decodes f and dispatches it. Malformed frames and frames with
// unknown topics never reach handlers.
func (d *Dispatcher) HandleFrame(f event.Frame) {
	d.received.Add(1)

	ev, err := event.Decode(f)
	if err != nil {
		d.decodeErrors.Add(1)
		d.observer.FrameDropped(DropMalformed)
		d.logger.Debug("dropping malformed frame", "error", err, "size", len(f.Data))
		return
	}

	if !ev.Topic.Known() {
		d.unknownTopics.Add(1)
		d.observer.FrameDropped(DropUnknownTopic)
		d.logger.Debug("ignoring unknown topic", "topic", ev.Topic)
		return
	}

	d.Dispatch(ev)
}

// Deliver queues a frame for the pump goroutine. It never blocks.
func (d *Dispatcher) Deliver(f event.Frame) {
	if !d.queue.Push(f) {
		d.logger.Debug("dispatcher stopped, dropping frame")
	}
}

// Start launches the pump goroutine that drains delivered frames.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.startOnce.Do(func() {
		d.wg.Add(1)
		go d.pump()

		d.logger.Info("event dispatcher started", "queue_size", d.cfg.QueueSize)
	})
	return nil
}

// Stop closes the queue and waits for queued frames to be dispatched.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.logger.Info("stopping event dispatcher")

	d.queue.Close()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("event dispatcher stopped")
		return nil
	case <-ctx.Done():
		d.logger.Warn("event dispatcher stop timed out", "pending", d.queue.Len())
		return ctx.Err()
	}
}

// pump dispatches frames one at a time in arrival order.
func (d *Dispatcher) pump() {
	defer d.wg.Done()

	for {
		f, ok := d.queue.Pop()
		if !ok {
			return
		}
		d.HandleFrame(f)
	}
}

// Stats returns current statistics.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	subs := 0
	for _, list := range d.subs {
		subs += len(list)
	}
	d.mu.Unlock()

	return Stats{
		FramesReceived:   d.received.Load(),
		EventsDispatched: d.dispatched.Load(),
		DecodeErrors:     d.decodeErrors.Load(),
		UnknownTopics:    d.unknownTopics.Load(),
		HandlerFailures:  d.handlerFailures.Load(),
		Subscriptions:    subs,
		Queue:            d.queue.Stats(),
	}
}

// SubscriberCount returns the number of live registrations for topic.
func (d *Dispatcher) SubscriberCount(topic event.Topic) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subs[topic])
}
