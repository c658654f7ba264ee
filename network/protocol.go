package network

import (
	"encoding/json"
	"errors"
	"fmt"
)

// EventType tags an inbound or outbound realtime frame.
type EventType string

const (
	EventGameUpdate  EventType = "game_update"
	EventPlayerEvent EventType = "player_event"
	EventGameEnd     EventType = "game_end"
	EventError       EventType = "error"
	EventMove        EventType = "move"
	// EventConnected is the welcome frame the server sends after the handshake.
	EventConnected EventType = "connected"
)

// TriggersRefresh reports whether the event invalidates the local snapshot.
func (t EventType) TriggersRefresh() bool {
	switch t {
	case EventGameUpdate, EventPlayerEvent, EventGameEnd:
		return true
	}
	return false
}

// Event is one JSON frame: {"type": ..., "payload": ...}.
type Event struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

var ErrMalformedFrame = errors.New("malformed frame")

// DecodeEvent parses a text frame. Frames that are not JSON objects or carry
// no type are reported as ErrMalformedFrame.
func DecodeEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return ev, nil
}

func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// NewEvent marshals payload into an Event.
func NewEvent(t EventType, payload any) (Event, error) {
	ev := Event{Type: t}
	if payload == nil {
		return ev, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	ev.Payload = raw
	return ev, nil
}

// ErrorMessage extracts payload.message from an error frame.
func (e Event) ErrorMessage() string {
	var body struct {
		Message string `json:"message"`
	}
	if len(e.Payload) == 0 || json.Unmarshal(e.Payload, &body) != nil {
		return ""
	}
	return body.Message
}
