package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loyaltyconsole/livesync/internal/event"
)

func newTestDispatcher() *Dispatcher {
	return New(DefaultConfig(), nil)
}

func txEvent() event.Event {
	return event.Event{
		Topic:      event.TopicTransaction,
		Payload:    []byte(`{"id":"tx-1"}`),
		ReceivedAt: time.Now(),
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.QueueSize != 256 {
		t.Errorf("QueueSize = %d, want 256", cfg.QueueSize)
	}
}

func TestDispatcher_SubscribeDispatch(t *testing.T) {
	d := newTestDispatcher()

	var got []event.Event
	d.Subscribe(event.TopicTransaction, func(ev event.Event) error {
		got = append(got, ev)
		return nil
	})

	d.Dispatch(txEvent())
	d.Dispatch(event.Event{Topic: event.TopicNotification, Payload: []byte(`{}`)})

	if len(got) != 1 {
		t.Fatalf("handler invoked %d times, want 1", len(got))
	}
	if got[0].Topic != event.TopicTransaction {
		t.Errorf("Topic = %q, want %q", got[0].Topic, event.TopicTransaction)
	}
}

func TestDispatcher_RegistrationOrder(t *testing.T) {
	d := newTestDispatcher()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		d.Subscribe(event.TopicTransaction, func(event.Event) error {
			order = append(order, i)
			return nil
		})
	}

	d.Dispatch(txEvent())

	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v, want 0..4", order)
		}
	}
	if len(order) != 5 {
		t.Fatalf("invoked %d handlers, want 5", len(order))
	}
}

func TestDispatcher_UnsubscribeBeforeDispatch(t *testing.T) {
	d := newTestDispatcher()

	calls := 0
	unsubscribe := d.Subscribe(event.TopicTransaction, func(event.Event) error {
		calls++
		return nil
	})
	unsubscribe()

	d.Dispatch(txEvent())

	if calls != 0 {
		t.Errorf("handler invoked %d times after unsubscribe, want 0", calls)
	}
	if n := d.SubscriberCount(event.TopicTransaction); n != 0 {
		t.Errorf("SubscriberCount = %d, want 0", n)
	}
}

func TestDispatcher_UnsubscribeRemovesOnlyOwnRegistration(t *testing.T) {
	d := newTestDispatcher()

	var a, b int
	handler := func(counter *int) event.Handler {
		return func(event.Event) error {
			*counter++
			return nil
		}
	}

	unsubA := d.Subscribe(event.TopicTransaction, handler(&a))
	d.Subscribe(event.TopicTransaction, handler(&b))

	unsubA()
	unsubA() // second call is a no-op

	d.Dispatch(txEvent())

	if a != 0 {
		t.Errorf("removed handler invoked %d times", a)
	}
	if b != 1 {
		t.Errorf("remaining handler invoked %d times, want 1", b)
	}
	if n := d.SubscriberCount(event.TopicTransaction); n != 1 {
		t.Errorf("SubscriberCount = %d, want 1", n)
	}
}

func TestDispatcher_HandlerFailureIsolation(t *testing.T) {
	tests := []struct {
		name    string
		failing event.Handler
	}{
		{
			name:    "error",
			failing: func(event.Event) error { return errors.New("boom") },
		},
		{
			name:    "panic",
			failing: func(event.Event) error { panic("boom") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDispatcher()

			const n = 5
			const failing = 2
			calls := make([]int, n)
			for i := 0; i < n; i++ {
				i := i
				if i == failing {
					d.Subscribe(event.TopicTransaction, tt.failing)
					continue
				}
				d.Subscribe(event.TopicTransaction, func(event.Event) error {
					calls[i]++
					return nil
				})
			}

			d.Dispatch(txEvent())

			for i, c := range calls {
				if i == failing {
					continue
				}
				if c != 1 {
					t.Errorf("handler %d invoked %d times, want 1", i, c)
				}
			}

			stats := d.Stats()
			if stats.HandlerFailures != 1 {
				t.Errorf("HandlerFailures = %d, want 1", stats.HandlerFailures)
			}
		})
	}
}

func TestDispatcher_UnsubscribeDuringDispatch(t *testing.T) {
	d := newTestDispatcher()

	var calls [3]int
	var unsubFirst, unsubLast func()

	unsubFirst = d.Subscribe(event.TopicTransaction, func(event.Event) error {
		calls[0]++
		return nil
	})
	d.Subscribe(event.TopicTransaction, func(event.Event) error {
		calls[1]++
		// First already ran, last has not had its turn yet.
		unsubFirst()
		unsubLast()
		return nil
	})
	unsubLast = d.Subscribe(event.TopicTransaction, func(event.Event) error {
		calls[2]++
		return nil
	})

	d.Dispatch(txEvent())

	if calls[0] != 1 {
		t.Errorf("first handler invoked %d times, want 1", calls[0])
	}
	if calls[1] != 1 {
		t.Errorf("second handler invoked %d times, want 1", calls[1])
	}
	if calls[2] != 0 {
		t.Errorf("handler removed before its turn invoked %d times, want 0", calls[2])
	}

	d.Dispatch(txEvent())
	if calls[0] != 1 || calls[1] != 2 {
		t.Errorf("calls after second dispatch = %v, want [1 2 0]", calls)
	}
}

func TestDispatcher_SubscribeDuringDispatch(t *testing.T) {
	d := newTestDispatcher()

	late := 0
	d.Subscribe(event.TopicTransaction, func(event.Event) error {
		d.Subscribe(event.TopicTransaction, func(event.Event) error {
			late++
			return nil
		})
		return nil
	})

	d.Dispatch(txEvent())
	if late != 0 {
		t.Errorf("handler added during dispatch invoked %d times for the same event", late)
	}
}

func TestDispatcher_HandleFrame(t *testing.T) {
	d := newTestDispatcher()

	var got []event.Topic
	for _, topic := range event.KnownTopics() {
		d.Subscribe(topic, func(ev event.Event) error {
			got = append(got, ev.Topic)
			return nil
		})
	}
	d.Subscribe(event.Topic("unknown_future_topic"), func(ev event.Event) error {
		got = append(got, ev.Topic)
		return nil
	})

	frames := []string{
		`{"topic":"transaction","payload":{"id":"tx-1"}}`,
		`not json`,
		`{"topic":"transaction"}`,
		`{"topic":"unknown_future_topic","payload":{}}`,
		`{"topic":"location_update","payload":{"location_id":"loc-3"}}`,
	}
	for _, f := range frames {
		d.HandleFrame(event.Frame{Data: []byte(f), ReceivedAt: time.Now()})
	}

	want := []event.Topic{event.TopicTransaction, event.TopicLocationUpdate}
	if len(got) != len(want) {
		t.Fatalf("dispatched %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d topic = %q, want %q", i, got[i], want[i])
		}
	}

	stats := d.Stats()
	if stats.FramesReceived != 5 {
		t.Errorf("FramesReceived = %d, want 5", stats.FramesReceived)
	}
	if stats.DecodeErrors != 2 {
		t.Errorf("DecodeErrors = %d, want 2", stats.DecodeErrors)
	}
	if stats.UnknownTopics != 1 {
		t.Errorf("UnknownTopics = %d, want 1", stats.UnknownTopics)
	}
	if stats.EventsDispatched != 2 {
		t.Errorf("EventsDispatched = %d, want 2", stats.EventsDispatched)
	}
}

func TestDispatcher_DeliverPumpsInOrder(t *testing.T) {
	d := newTestDispatcher()

	var mu sync.Mutex
	var ids []string
	done := make(chan struct{})
	d.Subscribe(event.TopicTransaction, func(ev event.Event) error {
		var p struct {
			ID string `json:"id"`
		}
		if err := ev.DecodePayload(&p); err != nil {
			return err
		}
		mu.Lock()
		ids = append(ids, p.ID)
		if len(ids) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for _, id := range []string{"a", "b", "c"} {
		d.Deliver(event.Frame{Data: []byte(`{"topic":"transaction","payload":{"id":"` + id + `"}}`)})
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for pumped events")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
		t.Errorf("ids = %v, want [a b c]", ids)
	}
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	d := newTestDispatcher()

	var mu sync.Mutex
	count := 0
	d.Subscribe(event.TopicNotification, func(event.Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 10; i++ {
		d.Deliver(event.Frame{Data: []byte(`{"topic":"notification","payload":{}}`)})
	}

	ctx := context.Background()
	d.Start(ctx)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Errorf("dispatched %d events before stop, want 10", count)
	}

	// Frames delivered after Stop are dropped.
	d.Deliver(event.Frame{Data: []byte(`{"topic":"notification","payload":{}}`)})
	if d.Stats().Queue.Count != 0 {
		t.Error("frame queued after Stop")
	}
}

type recordingObserver struct {
	mu         sync.Mutex
	dispatched []event.Topic
	dropped    []string
	failed     []event.Topic
}

func (o *recordingObserver) EventDispatched(t event.Topic) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dispatched = append(o.dispatched, t)
}

func (o *recordingObserver) FrameDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped = append(o.dropped, reason)
}

func (o *recordingObserver) HandlerFailed(t event.Topic) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, t)
}

func TestDispatcher_Observer(t *testing.T) {
	obs := &recordingObserver{}
	d := New(DefaultConfig(), nil, WithObserver(obs))

	d.Subscribe(event.TopicPromotionUpdate, func(event.Event) error {
		return errors.New("refetch failed")
	})

	d.HandleFrame(event.Frame{Data: []byte(`{"topic":"promotion_update","payload":{}}`)})
	d.HandleFrame(event.Frame{Data: []byte(`{}`)})
	d.HandleFrame(event.Frame{Data: []byte(`{"topic":"nope","payload":{}}`)})

	if len(obs.dispatched) != 1 || obs.dispatched[0] != event.TopicPromotionUpdate {
		t.Errorf("dispatched = %v", obs.dispatched)
	}
	if len(obs.failed) != 1 {
		t.Errorf("failed = %v, want one failure", obs.failed)
	}
	if len(obs.dropped) != 2 || obs.dropped[0] != DropMalformed || obs.dropped[1] != DropUnknownTopic {
		t.Errorf("dropped = %v, want [%s %s]", obs.dropped, DropMalformed, DropUnknownTopic)
	}
}
