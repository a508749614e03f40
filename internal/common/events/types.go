package events

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrEmptyID is returned when parsing an empty string as an ID.
	ErrEmptyID = errors.New("id cannot be empty")

	// ErrInvalidUUID is returned when parsing an invalid UUID format.
	ErrInvalidUUID = errors.New("invalid uuid format")
)

// EventID uniquely identifies a published event.
type EventID struct {
	value string
}

// ParseEventID creates an EventID from a string, validating UUID format.
func ParseEventID(s string) (EventID, error) {
	if s == "" {
		return EventID{}, fmt.Errorf("event_id: %w", ErrEmptyID)
	}
	if _, err := uuid.Parse(s); err != nil {
		return EventID{}, fmt.Errorf("event_id: %w", ErrInvalidUUID)
	}
	return EventID{value: s}, nil
}

// NewEventID generates a new unique EventID.
func NewEventID() EventID {
	return EventID{value: uuid.NewString()}
}

// String returns the string representation of EventID.
func (e EventID) String() string {
	return e.value
}

// IsEmpty checks if the EventID is empty.
func (e EventID) IsEmpty() bool {
	return e.value == ""
}
