package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	vo "cardcrm/internal/common/value_objects"
	"cardcrm/internal/spending/application"
	"cardcrm/internal/spending/domain"
	"cardcrm/internal/spending/infrastructure/memory"
)

type profileReaderFunc func(ctx context.Context, id domain.ProfileID) (*domain.LimitProfile, error)

func (f profileReaderFunc) FindByID(ctx context.Context, id domain.ProfileID) (*domain.LimitProfile, error) {
	return f(ctx, id)
}

func TestLimitResolver_EffectiveLimits(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	card, err := domain.NewCard("tok-1", domain.CardStatusActive, domain.ProfileSource{ProfileID: 7}, now)
	require.NoError(t, err)

	t.Run("missing profile resolves without error", func(t *testing.T) {
		resolver := application.NewLimitResolver(profileReaderFunc(func(_ context.Context, id domain.ProfileID) (*domain.LimitProfile, error) {
			return nil, domain.ProfileNotFound(id)
		}))

		eff, err := resolver.EffectiveLimits(ctx, card)
		require.NoError(t, err)
		assert.Equal(t, domain.SourceProfileMissing, eff.Source)
		assert.Equal(t, domain.ProfileID(7), eff.ProfileID)
		assert.False(t, eff.Daily.Valid)
	})

	t.Run("store errors propagate", func(t *testing.T) {
		boom := errors.New("connection reset")
		resolver := application.NewLimitResolver(profileReaderFunc(func(context.Context, domain.ProfileID) (*domain.LimitProfile, error) {
			return nil, boom
		}))

		_, err := resolver.EffectiveLimits(ctx, card)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("custom cards never read profiles", func(t *testing.T) {
		custom, err := domain.NewCard("tok-2", domain.CardStatusActive,
			domain.CustomSource{Limits: domain.LimitSet{PerTransaction: usd("15")}}, now)
		require.NoError(t, err)
		resolver := application.NewLimitResolver(profileReaderFunc(func(context.Context, domain.ProfileID) (*domain.LimitProfile, error) {
			t.Fatal("unexpected profile lookup")
			return nil, nil
		}))

		eff, err := resolver.EffectiveLimits(ctx, custom)
		require.NoError(t, err)
		assert.Equal(t, domain.SourceCustom, eff.Source)
		assert.True(t, eff.PerTransaction.Decimal.Equal(decimal.NewFromInt(15)))
	})
}

func TestSpendAggregator(t *testing.T) {
	ctx := context.Background()
	loc := time.FixedZone("UTC+2", 2*60*60)
	store := memory.NewDataStore()
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	card, err := domain.NewCard("tok-1", domain.CardStatusActive,
		domain.CustomSource{Limits: domain.LimitSet{Daily: usd("100")}}, now)
	require.NoError(t, err)
	require.NoError(t, store.Cards().Create(ctx, card))

	record := func(token string, amount int64, at time.Time) {
		tx, err := domain.NewTransaction(domain.TransactionParams{
			CardID:        card.ID(),
			ExternalToken: token,
			Amount:        vo.New(decimal.NewFromInt(amount), vo.CurrencyUSD),
			OccurredAt:    at,
		}, vo.CurrencyUSD)
		require.NoError(t, err)
		require.NoError(t, store.Transactions().Create(ctx, tx))
	}

	// 22:30 UTC on the 13th is already the 14th in UTC+2.
	record("a", 10, time.Date(2026, 3, 13, 22, 30, 0, 0, time.UTC))
	record("b", 5, time.Date(2026, 3, 13, 21, 30, 0, 0, time.UTC))
	record("c", 7, time.Date(2026, 2, 28, 23, 0, 0, 0, time.UTC))

	agg := application.NewSpendAggregator(store.Transactions(), loc)

	daily, err := agg.DailySpend(ctx, card.ID(), now)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(daily.Total), "daily %s", daily.Total)

	monthly, err := agg.MonthlySpend(ctx, card.ID(), 2026, time.March)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(22).Equal(monthly.Total), "monthly %s", monthly.Total)
	assert.Equal(t, 3, monthly.Count)
}
