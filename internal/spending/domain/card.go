package domain

import (
	"fmt"
	"strings"
	"time"
)

// CardStatus mirrors the issuer-side card state.
type CardStatus string

const (
	CardStatusActive    CardStatus = "active"
	CardStatusLocked    CardStatus = "locked"
	CardStatusCancelled CardStatus = "cancelled"
	CardStatusExpired   CardStatus = "expired"
)

// IsFinal reports whether the card can no longer change status.
func (s CardStatus) IsFinal() bool {
	return s == CardStatusCancelled || s == CardStatusExpired
}

// ParseCardStatus validates a status string. Empty defaults to active.
func ParseCardStatus(s string) (CardStatus, error) {
	switch st := CardStatus(strings.ToLower(s)); st {
	case "":
		return CardStatusActive, nil
	case CardStatusActive, CardStatusLocked, CardStatusCancelled, CardStatusExpired:
		return st, nil
	default:
		return "", NewValidationError([]Violation{{Field: "status", Message: fmt.Sprintf("unknown card status %q", s)}})
	}
}

// Card is an issued card together with its limit configuration (aggregate root).
// Invariants:
//   - the limit source is either a profile reference or custom limits, never both
//   - custom limits obey the same hierarchy as profile limits
//   - the card's own rule handle is only set while limits are custom
type Card struct {
	id         CardID
	cardToken  string
	status     CardStatus
	source     LimitSource
	ruleHandle RuleHandle
	version    int
	createdAt  time.Time
	updatedAt  time.Time
}

// NewCard validates the limit source and returns an unsaved card.
func NewCard(cardToken string, status CardStatus, source LimitSource, now time.Time) (*Card, error) {
	var violations []Violation
	cardToken = strings.TrimSpace(cardToken)
	if cardToken == "" {
		violations = append(violations, Violation{Field: "card_token", Message: "card_token is required"})
	}
	if status == "" {
		status = CardStatusActive
	}

	switch s := source.(type) {
	case ProfileSource:
		if s.ProfileID.IsZero() {
			violations = append(violations, Violation{Field: "profile_id", Message: "profile_id must be a positive integer"})
		}
	case CustomSource:
		violations = append(violations, s.Limits.validate(customLimitFields)...)
	default:
		violations = append(violations, Violation{Field: "limits", Message: "either profile_id or custom_limits is required"})
	}

	if err := NewValidationError(violations); err != nil {
		return nil, err
	}

	return &Card{
		cardToken: cardToken,
		status:    status,
		source:    source,
		version:   1,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructCard rebuilds a Card from persistence.
// This bypasses validation - only use for loading from the database.
func ReconstructCard(
	id CardID,
	cardToken string,
	status CardStatus,
	source LimitSource,
	ruleHandle RuleHandle,
	version int,
	createdAt, updatedAt time.Time,
) *Card {
	return &Card{
		id:         id,
		cardToken:  cardToken,
		status:     status,
		source:     source,
		ruleHandle: ruleHandle,
		version:    version,
		createdAt:  createdAt,
		updatedAt:  updatedAt,
	}
}

// LimitChange describes what a mode transition left behind on the issuer.
type LimitChange struct {
	// PreviousProfileID is the profile the card was bound to before, if any.
	PreviousProfileID ProfileID
	// RetiredRule is the card's own rule that no longer applies.
	RetiredRule RuleHandle
}

// AssignToProfile binds the card to a profile. Custom limits and the card's
// own rule handle are discarded.
func (c *Card) AssignToProfile(profileID ProfileID, now time.Time) (LimitChange, error) {
	if profileID.IsZero() {
		return LimitChange{}, NewValidationError([]Violation{{Field: "profile_id", Message: "profile_id must be a positive integer"}})
	}

	change := LimitChange{RetiredRule: c.ruleHandle}
	if prev, ok := c.source.(ProfileSource); ok {
		change.PreviousProfileID = prev.ProfileID
	}

	c.source = ProfileSource{ProfileID: profileID}
	c.ruleHandle = ""
	c.version++
	c.updatedAt = now
	return change, nil
}

// SetCustomLimits merges patch over the card's current custom limits (empty
// when the card is profile-bound), validates the result and switches the card
// to custom mode. The card keeps its own rule handle so the rule is updated
// rather than recreated.
func (c *Card) SetCustomLimits(patch LimitPatch, now time.Time) (LimitChange, error) {
	base, _ := c.CustomLimits()
	merged := base.Apply(patch)
	if err := ValidateCustomLimits(merged); err != nil {
		return LimitChange{}, err
	}

	var change LimitChange
	if prev, ok := c.source.(ProfileSource); ok {
		change.PreviousProfileID = prev.ProfileID
	}

	c.source = CustomSource{Limits: merged}
	c.version++
	c.updatedAt = now
	return change, nil
}

// ChangeStatus moves the card to status. Cancelled and expired cards are
// final. Returns false when the card already had that status.
func (c *Card) ChangeStatus(status CardStatus, now time.Time) (bool, error) {
	if status == c.status {
		return false, nil
	}
	if c.status.IsFinal() {
		return false, NewConflict(ReasonCardStatusFinal)
	}
	c.status = status
	c.version++
	c.updatedAt = now
	return true, nil
}

// AssignID is called by repositories once the store has allocated an ID.
func (c *Card) AssignID(id CardID) {
	c.id = id
}

// AttachRuleHandle records the handle of the card's own rule.
func (c *Card) AttachRuleHandle(h RuleHandle) {
	c.ruleHandle = h
	c.version++
}

// ProfileID returns the bound profile, if any.
func (c *Card) ProfileID() (ProfileID, bool) {
	s, ok := c.source.(ProfileSource)
	return s.ProfileID, ok
}

// CustomLimits returns the card's own limits, if any.
func (c *Card) CustomLimits() (LimitSet, bool) {
	s, ok := c.source.(CustomSource)
	return s.Limits, ok
}

// Getters

func (c *Card) ID() CardID              { return c.id }
func (c *Card) CardToken() string       { return c.cardToken }
func (c *Card) Status() CardStatus      { return c.status }
func (c *Card) Source() LimitSource     { return c.source }
func (c *Card) RuleHandle() RuleHandle  { return c.ruleHandle }
func (c *Card) Version() int            { return c.version }
func (c *Card) CreatedAt() time.Time    { return c.createdAt }
func (c *Card) UpdatedAt() time.Time    { return c.updatedAt }
