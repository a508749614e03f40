package domain

import (
	"context"
	"time"

	"cardcrm/internal/common/events"
)

// ProfileFilter narrows profile listings.
type ProfileFilter struct {
	Active *bool
	Limit  int
	Offset int
}

// ProfileSummary is a profile together with the number of cards bound to it.
type ProfileSummary struct {
	Profile       *LimitProfile
	AttachedCards int
}

// ProfileReader is the read side used by limit resolution.
type ProfileReader interface {
	// FindByID returns a NotFoundError when no profile exists.
	FindByID(ctx context.Context, id ProfileID) (*LimitProfile, error)
}

// ProfileRepository defines the interface for limit profile persistence.
type ProfileRepository interface {
	ProfileReader
	// Create inserts a new profile and assigns its ID.
	// Returns a ConflictError when the name is taken.
	Create(ctx context.Context, p *LimitProfile) error
	// Save persists changes to an existing profile.
	// Returns ErrOptimisticLock if the stored version moved on.
	Save(ctx context.Context, p *LimitProfile) error
	// SetRuleHandle records the issuer handle without touching other fields.
	SetRuleHandle(ctx context.Context, id ProfileID, handle RuleHandle) error
	// FindByName returns a NotFoundError when no profile has that name.
	FindByName(ctx context.Context, name string) (*LimitProfile, error)
	// List returns a page of profiles ordered by name, with the total match count.
	List(ctx context.Context, filter ProfileFilter) ([]ProfileSummary, int, error)
	// Delete removes a profile. Returns a NotFoundError when missing.
	Delete(ctx context.Context, id ProfileID) error
}

// CardRepository defines the interface for card persistence.
type CardRepository interface {
	// Create inserts a new card and assigns its ID.
	// Returns a ConflictError when the card token is already registered.
	Create(ctx context.Context, c *Card) error
	// Save persists changes to an existing card.
	// Returns ErrOptimisticLock if the stored version moved on.
	Save(ctx context.Context, c *Card) error
	// SetRuleHandle records the card's own rule handle, provided the card is
	// still in custom mode at the given version. Otherwise it returns
	// ErrOptimisticLock and changes nothing.
	SetRuleHandle(ctx context.Context, id CardID, handle RuleHandle, version int) error
	// FindByID returns a NotFoundError when no card exists.
	FindByID(ctx context.Context, id CardID) (*Card, error)
	// CountByProfile counts cards bound to a profile.
	CountByProfile(ctx context.Context, id ProfileID) (int, error)
	// ListByProfile returns cards bound to a profile ordered by ID.
	ListByProfile(ctx context.Context, id ProfileID) ([]*Card, error)
}

// TransactionRepository defines the interface for card transaction persistence.
type TransactionRepository interface {
	// Create inserts a transaction and assigns its ID.
	// Returns a ConflictError when the external token was already recorded.
	Create(ctx context.Context, t *Transaction) error
	// SumSpend totals pending and settled transactions of a card whose
	// occurrence time falls in [from, to).
	SumSpend(ctx context.Context, cardID CardID, from, to time.Time) (SpendTotal, error)
}

// OutboxRepository defines the interface for the outbox pattern.
// Events are written to the outbox within the same transaction as the domain changes,
// then published by the outbox relay.
type OutboxRepository interface {
	// Append adds an event to the outbox.
	Append(ctx context.Context, entry *OutboxEntry) error
	// FetchUnpublished retrieves unpublished events oldest first.
	FetchUnpublished(ctx context.Context, limit int) ([]*OutboxEntry, error)
	// MarkPublished marks events as published.
	MarkPublished(ctx context.Context, ids []events.EventID, at time.Time) error
}

// Repositories provides access to all repositories within a transaction.
type Repositories interface {
	Profiles() ProfileRepository
	Cards() CardRepository
	Transactions() TransactionRepository
	Outbox() OutboxRepository
}

// AtomicCallback is the function signature for atomic operations.
// Any error returned will cause the transaction to be rolled back.
type AtomicCallback func(repos Repositories) error

// AtomicExecutor runs a set of repository operations as one unit. Services
// describe the work in the callback; commit and rollback belong to the store.
//
//	err := store.Atomic(ctx, func(repos Repositories) error {
//	    card, err := repos.Cards().FindByID(ctx, cardID)
//	    if err != nil {
//	        return err
//	    }
//	    if _, err := card.AssignToProfile(profileID, now); err != nil {
//	        return err
//	    }
//	    return repos.Cards().Save(ctx, card)
//	})
type AtomicExecutor interface {
	Atomic(ctx context.Context, fn AtomicCallback) error
}
