package events

import (
	"encoding/json"
	"time"

	vo "cardcrm/internal/common/value_objects"
)

// EventEnvelope is the message published to the broker for every outbox entry.
type EventEnvelope struct {
	EventID       EventID
	EventType     string
	AggregateType string
	AggregateID   string
	OccurredAt    time.Time
	CorrelationID vo.CorrelationID
	Payload       json.RawMessage
}

// NewEventEnvelope creates a new event envelope with a generated ID.
func NewEventEnvelope(
	eventType, aggregateType, aggregateID string,
	correlationID vo.CorrelationID,
	occurredAt time.Time,
	payload any,
) (EventEnvelope, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, err
	}

	return EventEnvelope{
		EventID:       NewEventID(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		CorrelationID: correlationID,
		Payload:       payloadBytes,
	}, nil
}

// UnmarshalPayload decodes the payload into the target struct.
func (e EventEnvelope) UnmarshalPayload(target any) error {
	return json.Unmarshal(e.Payload, target)
}

type eventEnvelopeJSON struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// MarshalJSON implements json.Marshaler for EventEnvelope.
func (e EventEnvelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(eventEnvelopeJSON{
		EventID:       e.EventID.String(),
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		OccurredAt:    e.OccurredAt,
		CorrelationID: e.CorrelationID.String(),
		Payload:       e.Payload,
	})
}

// UnmarshalJSON implements json.Unmarshaler for EventEnvelope.
func (e *EventEnvelope) UnmarshalJSON(data []byte) error {
	var j eventEnvelopeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}

	eventID, err := ParseEventID(j.EventID)
	if err != nil {
		return err
	}

	e.EventID = eventID
	e.EventType = j.EventType
	e.AggregateType = j.AggregateType
	e.AggregateID = j.AggregateID
	e.OccurredAt = j.OccurredAt
	e.Payload = j.Payload
	return e.CorrelationID.UnmarshalText([]byte(j.CorrelationID))
}
