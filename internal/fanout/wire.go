package fanout

import (
	"encoding/json"
	"fmt"

	"github.com/dispatchboard/dispatchboard-backend/pkg/enums"
	"github.com/dispatchboard/dispatchboard-backend/pkg/outbox/payloads"
)

// WireEvent is the message published on the shared Redis channel. Every API
// instance relays it into its local Bus.
type WireEvent struct {
	EventID   string                `json:"event_id"`
	EventType enums.OutboxEventType `json:"event_type"`
	Data      json.RawMessage       `json:"data"`
}

// EncodeWire serializes an event for the channel.
func EncodeWire(eventID string, eventType enums.OutboxEventType, data json.RawMessage) ([]byte, error) {
	return json.Marshal(WireEvent{EventID: eventID, EventType: eventType, Data: data})
}

// DecodeWire parses a channel message into the bus message it carries.
func DecodeWire(raw []byte) (Message, error) {
	var ev WireEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Message{}, fmt.Errorf("decode wire event: %w", err)
	}
	switch ev.EventType {
	case enums.EventActivityRecorded:
		var rec payloads.ActivityRecord
		if err := json.Unmarshal(ev.Data, &rec); err != nil {
			return Message{}, fmt.Errorf("decode activity record: %w", err)
		}
		return Message{Kind: MessageRecord, Record: &rec}, nil
	case enums.EventActivityRead:
		var read payloads.ActivityRead
		if err := json.Unmarshal(ev.Data, &read); err != nil {
			return Message{}, fmt.Errorf("decode activity read: %w", err)
		}
		return Message{Kind: MessageRead, Read: &read}, nil
	}
	return Message{}, fmt.Errorf("unsupported wire event %q", ev.EventType)
}
