package valueobjects

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// MaxCorrelationIDLength bounds caller-supplied correlation IDs. Longer values
// are rejected rather than truncated so two distinct IDs never collapse.
const MaxCorrelationIDLength = 128

var (
	// ErrEmptyCorrelationID is returned when a correlation ID is blank.
	ErrEmptyCorrelationID = errors.New("correlation id is empty")
	// ErrMalformedCorrelationID is returned for IDs that are too long or carry
	// characters unsafe to echo into headers and log lines.
	ErrMalformedCorrelationID = errors.New("correlation id is malformed")
)

// CorrelationID ties together the log lines, outbox rows and broker messages
// produced while serving one request or job run. The zero value means "none".
type CorrelationID struct {
	value string
}

// ParseCorrelationID accepts an inbound ID, typically from X-Correlation-ID.
// Surrounding whitespace is dropped.
func ParseCorrelationID(s string) (CorrelationID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CorrelationID{}, ErrEmptyCorrelationID
	}
	if len(s) > MaxCorrelationIDLength {
		return CorrelationID{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrMalformedCorrelationID, len(s), MaxCorrelationIDLength)
	}
	if i := strings.IndexFunc(s, func(r rune) bool { return r > unicode.MaxASCII || !unicode.IsPrint(r) }); i >= 0 {
		return CorrelationID{}, fmt.Errorf("%w: unexpected character at offset %d", ErrMalformedCorrelationID, i)
	}
	return CorrelationID{value: s}, nil
}

// NewCorrelationID mints a random ID for work that did not arrive with one.
func NewCorrelationID() CorrelationID {
	return CorrelationID{value: uuid.NewString()}
}

func (c CorrelationID) String() string {
	return c.value
}

// IsEmpty reports whether no ID is set.
func (c CorrelationID) IsEmpty() bool {
	return c.value == ""
}

// MarshalText implements encoding.TextMarshaler.
func (c CorrelationID) MarshalText() ([]byte, error) {
	return []byte(c.value), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields the zero value.
func (c *CorrelationID) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*c = CorrelationID{}
		return nil
	}
	parsed, err := ParseCorrelationID(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
