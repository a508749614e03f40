package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidID is returned when a path or payload identifier is not a positive integer.
var ErrInvalidID = errors.New("invalid id")

// ProfileID uniquely identifies a limit profile. IDs are assigned by the store.
type ProfileID int64

// ParseProfileID parses a decimal string into a ProfileID.
func ParseProfileID(s string) (ProfileID, error) {
	id, err := parsePositive(s)
	if err != nil {
		return 0, fmt.Errorf("profile id: %w", err)
	}
	return ProfileID(id), nil
}

// String returns the string representation.
func (id ProfileID) String() string { return strconv.FormatInt(int64(id), 10) }

// IsZero returns true if the ID has not been assigned.
func (id ProfileID) IsZero() bool { return id == 0 }

// CardID uniquely identifies a card.
type CardID int64

// ParseCardID parses a decimal string into a CardID.
func ParseCardID(s string) (CardID, error) {
	id, err := parsePositive(s)
	if err != nil {
		return 0, fmt.Errorf("card id: %w", err)
	}
	return CardID(id), nil
}

// String returns the string representation.
func (id CardID) String() string { return strconv.FormatInt(int64(id), 10) }

// IsZero returns true if the ID has not been assigned.
func (id CardID) IsZero() bool { return id == 0 }

// TransactionID uniquely identifies a recorded card transaction.
type TransactionID int64

// String returns the string representation.
func (id TransactionID) String() string { return strconv.FormatInt(int64(id), 10) }

func parsePositive(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return n, nil
}
