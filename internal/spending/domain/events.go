package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"cardcrm/internal/common/events"
	vo "cardcrm/internal/common/value_objects"
)

// Event types for limit configuration changes.
const (
	EventTypeProfileCreated    = "profile.created"
	EventTypeProfileUpdated    = "profile.updated"
	EventTypeProfileDeleted    = "profile.deleted"
	EventTypeCardCreated       = "card.created"
	EventTypeCardLimitsChanged = "card.limits_changed"
	EventTypeCardStatusChanged = "card.status_changed"
	AggregateTypeLimitProfile  = "limit_profile"
	AggregateTypeCard          = "card"
)

// LimitsPayload is the wire shape of a limit set inside events.
type LimitsPayload struct {
	Daily          decimal.NullDecimal `json:"daily"`
	Monthly        decimal.NullDecimal `json:"monthly"`
	PerTransaction decimal.NullDecimal `json:"per_transaction"`
}

func limitsPayload(l LimitSet) LimitsPayload {
	return LimitsPayload{Daily: l.Daily, Monthly: l.Monthly, PerTransaction: l.PerTransaction}
}

// ProfileChangedEvent is emitted when a profile is created, updated or deleted.
type ProfileChangedEvent struct {
	ProfileID         int64         `json:"profile_id"`
	Name              string        `json:"name"`
	Limits            LimitsPayload `json:"limits"`
	AllowedCategories []string      `json:"allowed_categories"`
	BlockedCategories []string      `json:"blocked_categories"`
	Active            bool          `json:"active"`
	OccurredAt        time.Time     `json:"occurred_at"`
}

// CardLimitsChangedEvent is emitted when a card is created or changes limit
// mode or status.
type CardLimitsChangedEvent struct {
	CardID       int64          `json:"card_id"`
	CardToken    string         `json:"card_token"`
	Status       string         `json:"status"`
	Source       string         `json:"source"`
	ProfileID    *int64         `json:"profile_id,omitempty"`
	CustomLimits *LimitsPayload `json:"custom_limits,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// OutboxEntry represents a domain event waiting to be published.
type OutboxEntry struct {
	ID            events.EventID
	EventType     string
	AggregateType string
	AggregateID   string
	CorrelationID vo.CorrelationID
	Payload       []byte
	OccurredAt    time.Time
	PublishedAt   *time.Time
}

// Envelope converts the entry into the published message shape.
func (e *OutboxEntry) Envelope() events.EventEnvelope {
	return events.EventEnvelope{
		EventID:       e.ID,
		EventType:     e.EventType,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		OccurredAt:    e.OccurredAt,
		CorrelationID: e.CorrelationID,
		Payload:       e.Payload,
	}
}

// NewProfileOutboxEntry creates an outbox entry for a profile change.
func NewProfileOutboxEntry(eventType string, p *LimitProfile, correlationID vo.CorrelationID, now time.Time) (*OutboxEntry, error) {
	event := ProfileChangedEvent{
		ProfileID:         int64(p.ID()),
		Name:              p.Name(),
		Limits:            limitsPayload(p.Limits()),
		AllowedCategories: p.AllowedCategories(),
		BlockedCategories: p.BlockedCategories(),
		Active:            p.Active(),
		OccurredAt:        now,
	}
	return newOutboxEntry(eventType, AggregateTypeLimitProfile, p.ID().String(), correlationID, now, event)
}

// NewCardOutboxEntry creates an outbox entry for a card limit change.
func NewCardOutboxEntry(eventType string, c *Card, correlationID vo.CorrelationID, now time.Time) (*OutboxEntry, error) {
	event := CardLimitsChangedEvent{
		CardID:     int64(c.ID()),
		CardToken:  c.CardToken(),
		Status:     string(c.Status()),
		OccurredAt: now,
	}
	switch s := c.Source().(type) {
	case ProfileSource:
		id := int64(s.ProfileID)
		event.Source = string(SourceProfile)
		event.ProfileID = &id
	case CustomSource:
		payload := limitsPayload(s.Limits)
		event.Source = string(SourceCustom)
		event.CustomLimits = &payload
	}
	return newOutboxEntry(eventType, AggregateTypeCard, c.ID().String(), correlationID, now, event)
}

func newOutboxEntry(eventType, aggregateType, aggregateID string, correlationID vo.CorrelationID, now time.Time, event any) (*OutboxEntry, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return &OutboxEntry{
		ID:            events.NewEventID(),
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		CorrelationID: correlationID,
		Payload:       payload,
		OccurredAt:    now,
	}, nil
}
