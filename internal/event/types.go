package event

import (
	"encoding/json"
	"errors"
	"time"
)

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingTopic   = errors.New("frame has no topic")
	ErrInvalidPayload = errors.New("frame payload is not an object")
)

// Topic routes an event to subscribers and invalidation rules.
type Topic string

const (
	TopicTransaction     Topic = "transaction"
	TopicPromotionUpdate Topic = "promotion_update"
	TopicLocationUpdate  Topic = "location_update"
	TopicNotification    Topic = "notification"
)

var knownTopics = map[Topic]struct{}{
	TopicTransaction:     {},
	TopicPromotionUpdate: {},
	TopicLocationUpdate:  {},
	TopicNotification:    {},
}

// Known reports whether the topic belongs to the set the console understands.
func (t Topic) Known() bool {
	_, ok := knownTopics[t]
	return ok
}

// KnownTopics returns every topic in the closed set.
func KnownTopics() []Topic {
	return []Topic{
		TopicTransaction,
		TopicPromotionUpdate,
		TopicLocationUpdate,
		TopicNotification,
	}
}

// Frame is a raw message as handed over by the transport.
type Frame struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when the read returned
}

// Event is a decoded frame.
type Event struct {
	Topic      Topic
	Payload    json.RawMessage // Always a JSON object
	ReceivedAt time.Time       // Local receipt time, not an ordering key
}

// DecodePayload unmarshals the payload into v.
func (e Event) DecodePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

// Handler receives dispatched events.
type Handler func(Event) error

// frameWire is the wire format of a push frame.
type frameWire struct {
	Topic   *string         `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}
