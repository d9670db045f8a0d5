package dispatch

import "github.com/loyaltyconsole/livesync/internal/event"

// Config holds configuration for the Dispatcher.
type Config struct {
	QueueSize int // Initial frame queue capacity. Default: 256
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		QueueSize: 256,
	}
}

// Stats contains runtime statistics.
type Stats struct {
	FramesReceived   int64      `json:"frames_received"`
	EventsDispatched int64      `json:"events_dispatched"`
	DecodeErrors     int64      `json:"decode_errors"`
	UnknownTopics    int64      `json:"unknown_topics"`
	HandlerFailures  int64      `json:"handler_failures"`
	Subscriptions    int        `json:"subscriptions"`
	Queue            QueueStats `json:"queue"`
}

// Observer receives dispatch outcomes. Implementations must not block.
type Observer interface {
	EventDispatched(topic event.Topic)
	FrameDropped(reason string)
	HandlerFailed(topic event.Topic)
}

// Drop reasons reported to the Observer.
const (
	DropMalformed    = "malformed"
	DropUnknownTopic = "unknown_topic"
)

type nopObserver struct{}

func (nopObserver) EventDispatched(event.Topic) {}
func (nopObserver) FrameDropped(string)         {}
func (nopObserver) HandlerFailed(event.Topic)   {}
