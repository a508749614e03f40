package memory

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cardcrm/internal/common/events"
	"cardcrm/internal/common/metrics"
	"cardcrm/internal/spending/domain"
)

func cloneProfile(p *domain.LimitProfile) *domain.LimitProfile {
	c := *p
	return &c
}

func cloneCard(c *domain.Card) *domain.Card {
	cp := *c
	return &cp
}

// ProfileRepository stores limit profiles in memory.
type ProfileRepository struct {
	scope scope
}

// Create assigns the next profile ID and stores the profile.
func (r *ProfileRepository) Create(ctx context.Context, p *domain.LimitProfile) error {
	return r.scope.run(func(st *state) error {
		if nameTaken(st, p.Name(), 0) {
			return domain.NewConflict(domain.ReasonDuplicateProfileName)
		}
		r.scope.ds.seq.profile++
		p.AssignID(domain.ProfileID(r.scope.ds.seq.profile))
		st.profiles[p.ID()] = cloneProfile(p)
		return nil
	})
}

// Save replaces a stored profile, enforcing the version check.
func (r *ProfileRepository) Save(ctx context.Context, p *domain.LimitProfile) error {
	return r.scope.run(func(st *state) error {
		stored, ok := st.profiles[p.ID()]
		if !ok {
			return domain.ProfileNotFound(p.ID())
		}
		if stored.Version() != p.Version()-1 {
			metrics.RecordOptimisticLockConflict("limit_profiles")
			return domain.ErrOptimisticLock
		}
		if nameTaken(st, p.Name(), p.ID()) {
			return domain.NewConflict(domain.ReasonDuplicateProfileName)
		}
		st.profiles[p.ID()] = cloneProfile(p)
		return nil
	})
}

// SetRuleHandle records the issuer handle on the stored profile.
func (r *ProfileRepository) SetRuleHandle(ctx context.Context, id domain.ProfileID, handle domain.RuleHandle) error {
	return r.scope.run(func(st *state) error {
		stored, ok := st.profiles[id]
		if !ok {
			return domain.ProfileNotFound(id)
		}
		updated := cloneProfile(stored)
		updated.AttachRuleHandle(handle)
		st.profiles[id] = updated
		return nil
	})
}

// FindByID returns a copy of the stored profile.
func (r *ProfileRepository) FindByID(ctx context.Context, id domain.ProfileID) (*domain.LimitProfile, error) {
	var found *domain.LimitProfile
	err := r.scope.run(func(st *state) error {
		stored, ok := st.profiles[id]
		if !ok {
			return domain.ProfileNotFound(id)
		}
		found = cloneProfile(stored)
		return nil
	})
	return found, err
}

// FindByName returns a copy of the profile with the given name.
func (r *ProfileRepository) FindByName(ctx context.Context, name string) (*domain.LimitProfile, error) {
	var found *domain.LimitProfile
	err := r.scope.run(func(st *state) error {
		for _, p := range st.profiles {
			if p.Name() == name {
				found = cloneProfile(p)
				return nil
			}
		}
		return &domain.NotFoundError{Resource: "limit profile", ID: name}
	})
	return found, err
}

// List filters, orders by name and pages the stored profiles.
func (r *ProfileRepository) List(ctx context.Context, filter domain.ProfileFilter) ([]domain.ProfileSummary, int, error) {
	var (
		page  []domain.ProfileSummary
		total int
	)
	err := r.scope.run(func(st *state) error {
		matched := make([]*domain.LimitProfile, 0, len(st.profiles))
		for _, p := range st.profiles {
			if filter.Active != nil && p.Active() != *filter.Active {
				continue
			}
			matched = append(matched, p)
		}
		slices.SortFunc(matched, func(a, b *domain.LimitProfile) int {
			return strings.Compare(a.Name(), b.Name())
		})

		total = len(matched)
		start := min(filter.Offset, total)
		end := total
		if filter.Limit > 0 {
			end = min(start+filter.Limit, total)
		}

		page = make([]domain.ProfileSummary, 0, end-start)
		for _, p := range matched[start:end] {
			page = append(page, domain.ProfileSummary{
				Profile:       cloneProfile(p),
				AttachedCards: countByProfile(st, p.ID()),
			})
		}
		return nil
	})
	return page, total, err
}

// Delete removes a profile.
func (r *ProfileRepository) Delete(ctx context.Context, id domain.ProfileID) error {
	return r.scope.run(func(st *state) error {
		if _, ok := st.profiles[id]; !ok {
			return domain.ProfileNotFound(id)
		}
		if countByProfile(st, id) > 0 {
			return domain.NewConflict(domain.ReasonProfileHasCards)
		}
		delete(st.profiles, id)
		return nil
	})
}

func nameTaken(st *state, name string, except domain.ProfileID) bool {
	for id, p := range st.profiles {
		if id != except && p.Name() == name {
			return true
		}
	}
	return false
}

func countByProfile(st *state, id domain.ProfileID) int {
	n := 0
	for _, c := range st.cards {
		if pid, ok := c.ProfileID(); ok && pid == id {
			n++
		}
	}
	return n
}

// CardRepository stores cards in memory.
type CardRepository struct {
	scope scope
}

// Create assigns the next card ID and stores the card.
func (r *CardRepository) Create(ctx context.Context, c *domain.Card) error {
	return r.scope.run(func(st *state) error {
		for _, existing := range st.cards {
			if existing.CardToken() == c.CardToken() {
				return domain.NewConflict(domain.ReasonDuplicateCardToken)
			}
		}
		if pid, ok := c.ProfileID(); ok {
			if _, exists := st.profiles[pid]; !exists {
				return domain.ProfileNotFound(pid)
			}
		}
		r.scope.ds.seq.card++
		c.AssignID(domain.CardID(r.scope.ds.seq.card))
		st.cards[c.ID()] = cloneCard(c)
		return nil
	})
}

// Save replaces a stored card, enforcing the version check.
func (r *CardRepository) Save(ctx context.Context, c *domain.Card) error {
	return r.scope.run(func(st *state) error {
		stored, ok := st.cards[c.ID()]
		if !ok {
			return domain.CardNotFound(c.ID())
		}
		if stored.Version() != c.Version()-1 {
			metrics.RecordOptimisticLockConflict("cards")
			return domain.ErrOptimisticLock
		}
		if pid, ok := c.ProfileID(); ok {
			if _, exists := st.profiles[pid]; !exists {
				return domain.ProfileNotFound(pid)
			}
		}
		st.cards[c.ID()] = cloneCard(c)
		return nil
	})
}

// SetRuleHandle records the card's own rule handle while the card is still
// custom and at the given version.
func (r *CardRepository) SetRuleHandle(ctx context.Context, id domain.CardID, handle domain.RuleHandle, version int) error {
	return r.scope.run(func(st *state) error {
		stored, ok := st.cards[id]
		if !ok {
			return domain.CardNotFound(id)
		}
		if _, bound := stored.ProfileID(); bound || stored.Version() != version {
			metrics.RecordOptimisticLockConflict("cards")
			return domain.ErrOptimisticLock
		}
		updated := cloneCard(stored)
		updated.AttachRuleHandle(handle)
		st.cards[id] = updated
		return nil
	})
}

// FindByID returns a copy of the stored card.
func (r *CardRepository) FindByID(ctx context.Context, id domain.CardID) (*domain.Card, error) {
	var found *domain.Card
	err := r.scope.run(func(st *state) error {
		stored, ok := st.cards[id]
		if !ok {
			return domain.CardNotFound(id)
		}
		found = cloneCard(stored)
		return nil
	})
	return found, err
}

// CountByProfile counts cards bound to a profile.
func (r *CardRepository) CountByProfile(ctx context.Context, id domain.ProfileID) (int, error) {
	var n int
	err := r.scope.run(func(st *state) error {
		n = countByProfile(st, id)
		return nil
	})
	return n, err
}

// ListByProfile returns cards bound to a profile ordered by ID.
func (r *CardRepository) ListByProfile(ctx context.Context, id domain.ProfileID) ([]*domain.Card, error) {
	var cards []*domain.Card
	err := r.scope.run(func(st *state) error {
		cards = make([]*domain.Card, 0)
		for _, c := range st.cards {
			if pid, ok := c.ProfileID(); ok && pid == id {
				cards = append(cards, cloneCard(c))
			}
		}
		slices.SortFunc(cards, func(a, b *domain.Card) int {
			return cmp.Compare(a.ID(), b.ID())
		})
		return nil
	})
	return cards, err
}

// TransactionRepository stores card transactions in memory.
type TransactionRepository struct {
	scope scope
}

// Create assigns the next transaction ID and appends the transaction.
func (r *TransactionRepository) Create(ctx context.Context, t *domain.Transaction) error {
	return r.scope.run(func(st *state) error {
		for _, existing := range st.transactions {
			if existing.ExternalToken() == t.ExternalToken() {
				return domain.NewConflict(domain.ReasonDuplicateTransaction)
			}
		}
		r.scope.ds.seq.transaction++
		t.AssignID(domain.TransactionID(r.scope.ds.seq.transaction))
		c := *t
		st.transactions = append(st.transactions, &c)
		return nil
	})
}

// SumSpend totals counted transactions of a card in [from, to).
func (r *TransactionRepository) SumSpend(ctx context.Context, cardID domain.CardID, from, to time.Time) (domain.SpendTotal, error) {
	total := domain.SpendTotal{Total: decimal.Zero}
	err := r.scope.run(func(st *state) error {
		w := domain.Window{Start: from, End: to}
		for _, t := range st.transactions {
			if t.CardID() != cardID || !t.Status().CountsTowardSpend() || !w.Contains(t.OccurredAt()) {
				continue
			}
			total.Total = total.Total.Add(t.Amount().Amount)
			total.Count++
		}
		return nil
	})
	return total, err
}

// OutboxRepository stores outbox entries in memory, in append order.
type OutboxRepository struct {
	scope scope
}

// Append adds an event entry to the outbox.
func (r *OutboxRepository) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	return r.scope.run(func(st *state) error {
		c := *entry
		st.outbox = append(st.outbox, &c)
		return nil
	})
}

// FetchUnpublished returns unpublished events in insertion order, up to the limit.
func (r *OutboxRepository) FetchUnpublished(ctx context.Context, limit int) ([]*domain.OutboxEntry, error) {
	var entries []*domain.OutboxEntry
	err := r.scope.run(func(st *state) error {
		for _, entry := range st.outbox {
			if entry.PublishedAt != nil {
				continue
			}
			c := *entry
			entries = append(entries, &c)
			if len(entries) >= limit {
				break
			}
		}
		return nil
	})
	return entries, err
}

// MarkPublished sets PublishedAt for the specified events.
func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []events.EventID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return r.scope.run(func(st *state) error {
		for _, entry := range st.outbox {
			if slices.Contains(ids, entry.ID) {
				published := at
				entry.PublishedAt = &published
			}
		}
		return nil
	})
}

var (
	_ domain.ProfileRepository     = (*ProfileRepository)(nil)
	_ domain.CardRepository        = (*CardRepository)(nil)
	_ domain.TransactionRepository = (*TransactionRepository)(nil)
	_ domain.OutboxRepository      = (*OutboxRepository)(nil)
)
