package event

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode parses a frame into an Event. Unknown topics are not an error;
// callers check Topic.Known().
func Decode(f Frame) (Event, error) {
	var wire frameWire
	if err := json.Unmarshal(f.Data, &wire); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if wire.Topic == nil || *wire.Topic == "" {
		return Event{}, ErrMissingTopic
	}

	payload := bytes.TrimSpace(wire.Payload)
	if len(payload) == 0 || payload[0] != '{' {
		return Event{}, ErrInvalidPayload
	}

	return Event{
		Topic:      Topic(*wire.Topic),
		Payload:    json.RawMessage(payload),
		ReceivedAt: f.ReceivedAt,
	}, nil
}
