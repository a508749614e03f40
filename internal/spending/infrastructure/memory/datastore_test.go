package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardcrm/internal/common/events"
	vo "cardcrm/internal/common/value_objects"
	"cardcrm/internal/spending/domain"
	"cardcrm/internal/spending/infrastructure/memory"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newProfile(t *testing.T, name string, daily string) *domain.LimitProfile {
	t.Helper()
	p, err := domain.NewLimitProfile(domain.ProfileParams{
		Name:   name,
		Limits: domain.LimitSet{Daily: domain.Amount(decimal.RequireFromString(daily))},
	}, now)
	require.NoError(t, err)
	return p
}

func newCard(t *testing.T, token string, source domain.LimitSource) *domain.Card {
	t.Helper()
	c, err := domain.NewCard(token, domain.CardStatusActive, source, now)
	require.NoError(t, err)
	return c
}

func TestDataStore_AtomicRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	ds := memory.NewDataStore()
	boom := errors.New("boom")

	err := ds.Atomic(ctx, func(repos domain.Repositories) error {
		require.NoError(t, repos.Profiles().Create(ctx, newProfile(t, "Teen", "50")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, total, err := ds.Profiles().List(ctx, domain.ProfileFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDataStore_AtomicCommits(t *testing.T) {
	ctx := context.Background()
	ds := memory.NewDataStore()
	p := newProfile(t, "Teen", "50")

	err := ds.Atomic(ctx, func(repos domain.Repositories) error {
		return repos.Profiles().Create(ctx, p)
	})
	require.NoError(t, err)
	require.False(t, p.ID().IsZero())

	found, err := ds.Profiles().FindByID(ctx, p.ID())
	require.NoError(t, err)
	assert.Equal(t, "Teen", found.Name())
}

func TestProfileRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate name conflicts", func(t *testing.T) {
		ds := memory.NewDataStore()
		require.NoError(t, ds.Profiles().Create(ctx, newProfile(t, "Teen", "50")))

		err := ds.Profiles().Create(ctx, newProfile(t, "Teen", "60"))
		require.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("returned profiles are copies", func(t *testing.T) {
		ds := memory.NewDataStore()
		p := newProfile(t, "Teen", "50")
		require.NoError(t, ds.Profiles().Create(ctx, p))

		found, err := ds.Profiles().FindByID(ctx, p.ID())
		require.NoError(t, err)
		name := "Changed"
		require.NoError(t, found.Update(domain.ProfilePatch{Name: &name}, now))

		again, err := ds.Profiles().FindByID(ctx, p.ID())
		require.NoError(t, err)
		assert.Equal(t, "Teen", again.Name())
	})

	t.Run("stale save is rejected", func(t *testing.T) {
		ds := memory.NewDataStore()
		p := newProfile(t, "Teen", "50")
		require.NoError(t, ds.Profiles().Create(ctx, p))

		first, err := ds.Profiles().FindByID(ctx, p.ID())
		require.NoError(t, err)
		second, err := ds.Profiles().FindByID(ctx, p.ID())
		require.NoError(t, err)

		active := false
		require.NoError(t, first.Update(domain.ProfilePatch{Active: &active}, now))
		require.NoError(t, ds.Profiles().Save(ctx, first))

		desc := "late"
		require.NoError(t, second.Update(domain.ProfilePatch{Description: &desc}, now))
		err = ds.Profiles().Save(ctx, second)
		require.ErrorIs(t, err, domain.ErrOptimisticLock)
		require.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("rule handle bumps version", func(t *testing.T) {
		ds := memory.NewDataStore()
		p := newProfile(t, "Teen", "50")
		require.NoError(t, ds.Profiles().Create(ctx, p))

		require.NoError(t, ds.Profiles().SetRuleHandle(ctx, p.ID(), "rule-1"))
		found, err := ds.Profiles().FindByID(ctx, p.ID())
		require.NoError(t, err)
		assert.Equal(t, domain.RuleHandle("rule-1"), found.RuleHandle())
		assert.Equal(t, p.Version()+1, found.Version())
	})

	t.Run("list filters pages and counts cards", func(t *testing.T) {
		ds := memory.NewDataStore()
		teen := newProfile(t, "Teen", "50")
		adult := newProfile(t, "Adult", "500")
		child := newProfile(t, "Child", "10")
		for _, p := range []*domain.LimitProfile{teen, adult, child} {
			require.NoError(t, ds.Profiles().Create(ctx, p))
		}
		inactive := false
		require.NoError(t, child.Update(domain.ProfilePatch{Active: &inactive}, now))
		require.NoError(t, ds.Profiles().Save(ctx, child))
		require.NoError(t, ds.Cards().Create(ctx, newCard(t, "tok-1", domain.ProfileSource{ProfileID: teen.ID()})))
		require.NoError(t, ds.Cards().Create(ctx, newCard(t, "tok-2", domain.ProfileSource{ProfileID: teen.ID()})))

		active := true
		page, total, err := ds.Profiles().List(ctx, domain.ProfileFilter{Active: &active})
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, page, 2)
		assert.Equal(t, "Adult", page[0].Profile.Name())
		assert.Equal(t, "Teen", page[1].Profile.Name())
		assert.Equal(t, 2, page[1].AttachedCards)

		page, total, err = ds.Profiles().List(ctx, domain.ProfileFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 1)
		assert.Equal(t, "Child", page[0].Profile.Name())

		page, _, err = ds.Profiles().List(ctx, domain.ProfileFilter{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, page)
	})

	t.Run("delete refuses while cards are attached", func(t *testing.T) {
		ds := memory.NewDataStore()
		p := newProfile(t, "Teen", "50")
		require.NoError(t, ds.Profiles().Create(ctx, p))
		require.NoError(t, ds.Cards().Create(ctx, newCard(t, "tok-1", domain.ProfileSource{ProfileID: p.ID()})))

		err := ds.Profiles().Delete(ctx, p.ID())
		var conflict *domain.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, domain.ReasonProfileHasCards, conflict.Reason)
	})
}

func TestCardRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown profile is not found", func(t *testing.T) {
		ds := memory.NewDataStore()
		err := ds.Cards().Create(ctx, newCard(t, "tok-1", domain.ProfileSource{ProfileID: 42}))
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("duplicate token conflicts", func(t *testing.T) {
		ds := memory.NewDataStore()
		custom := domain.CustomSource{Limits: domain.LimitSet{Daily: domain.Amount(decimal.NewFromInt(20))}}
		require.NoError(t, ds.Cards().Create(ctx, newCard(t, "tok-1", custom)))

		err := ds.Cards().Create(ctx, newCard(t, "tok-1", custom))
		require.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("list by profile is ordered by id", func(t *testing.T) {
		ds := memory.NewDataStore()
		p := newProfile(t, "Teen", "50")
		require.NoError(t, ds.Profiles().Create(ctx, p))
		for _, tok := range []string{"tok-a", "tok-b", "tok-c"} {
			require.NoError(t, ds.Cards().Create(ctx, newCard(t, tok, domain.ProfileSource{ProfileID: p.ID()})))
		}

		cards, err := ds.Cards().ListByProfile(ctx, p.ID())
		require.NoError(t, err)
		require.Len(t, cards, 3)
		assert.Equal(t, "tok-a", cards[0].CardToken())
		assert.Equal(t, "tok-c", cards[2].CardToken())
	})

	t.Run("rule handle only lands on the expected custom version", func(t *testing.T) {
		ds := memory.NewDataStore()
		p := newProfile(t, "Teen", "50")
		require.NoError(t, ds.Profiles().Create(ctx, p))
		custom := domain.CustomSource{Limits: domain.LimitSet{Daily: domain.Amount(decimal.NewFromInt(20))}}
		card := newCard(t, "tok-1", custom)
		require.NoError(t, ds.Cards().Create(ctx, card))

		err := ds.Cards().SetRuleHandle(ctx, card.ID(), "rule-old", card.Version()+1)
		require.ErrorIs(t, err, domain.ErrOptimisticLock)

		require.NoError(t, ds.Cards().SetRuleHandle(ctx, card.ID(), "rule-1", card.Version()))
		stored, err := ds.Cards().FindByID(ctx, card.ID())
		require.NoError(t, err)
		assert.Equal(t, domain.RuleHandle("rule-1"), stored.RuleHandle())
		assert.Equal(t, card.Version()+1, stored.Version())

		_, err = stored.AssignToProfile(p.ID(), now)
		require.NoError(t, err)
		require.NoError(t, ds.Cards().Save(ctx, stored))

		err = ds.Cards().SetRuleHandle(ctx, card.ID(), "rule-2", stored.Version())
		require.ErrorIs(t, err, domain.ErrOptimisticLock)
		bound, err := ds.Cards().FindByID(ctx, card.ID())
		require.NoError(t, err)
		assert.True(t, bound.RuleHandle().IsEmpty())
	})
}

func TestTransactionRepository_SumSpend(t *testing.T) {
	ctx := context.Background()
	ds := memory.NewDataStore()
	custom := domain.CustomSource{Limits: domain.LimitSet{Daily: domain.Amount(decimal.NewFromInt(100))}}
	card := newCard(t, "tok-1", custom)
	require.NoError(t, ds.Cards().Create(ctx, card))

	record := func(token, amount string, status domain.TransactionStatus, at time.Time) {
		tx, err := domain.NewTransaction(domain.TransactionParams{
			CardID:        card.ID(),
			ExternalToken: token,
			Amount:        vo.New(decimal.RequireFromString(amount), vo.CurrencyUSD),
			Status:        status,
			OccurredAt:    at,
		}, vo.CurrencyUSD)
		require.NoError(t, err)
		require.NoError(t, ds.Transactions().Create(ctx, tx))
	}

	day := domain.DayWindow(now, time.UTC)
	record("t1", "12.50", domain.TransactionSettled, day.Start)
	record("t2", "7.50", domain.TransactionPending, now)
	record("t3", "100", domain.TransactionDeclined, now)
	record("t4", "9", domain.TransactionSettled, day.End)

	total, err := ds.Transactions().SumSpend(ctx, card.ID(), day.Start, day.End)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(20).Equal(total.Total), "got %s", total.Total)
	assert.Equal(t, 2, total.Count)

	dup, err := domain.NewTransaction(domain.TransactionParams{
		CardID:        card.ID(),
		ExternalToken: "t1",
		Amount:        vo.New(decimal.NewFromInt(1), vo.CurrencyUSD),
		OccurredAt:    now,
	}, vo.CurrencyUSD)
	require.NoError(t, err)
	require.ErrorIs(t, ds.Transactions().Create(ctx, dup), domain.ErrConflict)
}

func TestOutboxRepository(t *testing.T) {
	ctx := context.Background()
	ds := memory.NewDataStore()
	p := newProfile(t, "Teen", "50")
	require.NoError(t, ds.Profiles().Create(ctx, p))

	var ids []events.EventID
	for i := 0; i < 3; i++ {
		entry, err := domain.NewProfileOutboxEntry(domain.EventTypeProfileUpdated, p, vo.NewCorrelationID(), now)
		require.NoError(t, err)
		require.NoError(t, ds.Outbox().Append(ctx, entry))
		ids = append(ids, entry.ID)
	}

	batch, err := ds.Outbox().FetchUnpublished(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, ids[0], batch[0].ID)
	assert.Equal(t, ids[1], batch[1].ID)

	require.NoError(t, ds.Outbox().MarkPublished(ctx, ids[:2], now))

	rest, err := ds.Outbox().FetchUnpublished(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, ids[2], rest[0].ID)
}
