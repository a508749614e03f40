package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds. Typed errors below unwrap to one of these so
// callers can branch with errors.Is.
var (
	// ErrValidation marks input that violates one or more business rules.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a missing profile, card or transaction.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks a request that clashes with current state.
	ErrConflict = errors.New("conflict")

	// ErrOptimisticLock is returned when an optimistic lock conflict occurs.
	ErrOptimisticLock = fmt.Errorf("%w: optimistic lock conflict", ErrConflict)

	// ErrCurrencyMismatch is returned when a transaction is not in the settlement currency.
	ErrCurrencyMismatch = errors.New("currency mismatch")

	// ErrCorruptData is returned when data loaded from persistence is invalid.
	ErrCorruptData = errors.New("corrupt data in database")
)

// Conflict reasons.
const (
	ReasonProfileHasCards      = "profile has attached cards"
	ReasonBothLimitSources     = "profile_id and custom_limits cannot be set together"
	ReasonDuplicateProfileName = "profile name already exists"
	ReasonDuplicateCardToken   = "card token already registered"
	ReasonDuplicateTransaction = "transaction already recorded"
	ReasonCardStatusFinal      = "cancelled or expired cards cannot change status"
)

// Violation is one failed business rule.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every violated rule, not just the first one found.
type ValidationError struct {
	Violations []Violation
}

// NewValidationError returns nil when there is nothing to report.
func NewValidationError(violations []Violation) error {
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Messages returns the human-readable message of each violation.
func (e *ValidationError) Messages() []string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.Message
	}
	return msgs
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ProfileNotFound builds a NotFoundError for a limit profile.
func ProfileNotFound(id ProfileID) error {
	return &NotFoundError{Resource: "limit profile", ID: id.String()}
}

// CardNotFound builds a NotFoundError for a card.
func CardNotFound(id CardID) error {
	return &NotFoundError{Resource: "card", ID: id.String()}
}

// ConflictError reports why a request could not be applied.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return "conflict: " + e.Reason }

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflict builds a ConflictError with the given reason.
func NewConflict(reason string) error {
	return &ConflictError{Reason: reason}
}
