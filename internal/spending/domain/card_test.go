package domain_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardcrm/internal/spending/domain"
)

func TestNewCard(t *testing.T) {
	t.Run("requires a limit source", func(t *testing.T) {
		_, err := domain.NewCard("card_tok_1", "", nil, testNow)
		require.ErrorIs(t, err, domain.ErrValidation)
		assert.Contains(t, validationMessages(t, err), "either profile_id or custom_limits is required")
	})

	t.Run("custom mode needs at least one limit", func(t *testing.T) {
		_, err := domain.NewCard("card_tok_1", "", domain.CustomSource{}, testNow)
		assert.Contains(t, validationMessages(t, err), "At least one custom limit must be specified")
	})

	t.Run("custom limits follow the profile hierarchy", func(t *testing.T) {
		_, err := domain.NewCard("card_tok_1", "", domain.CustomSource{
			Limits: domain.LimitSet{Daily: amt("100"), PerTransaction: amt("150")},
		}, testNow)
		assert.Equal(t, []string{"Per-transaction limit cannot exceed daily limit"}, validationMessages(t, err))
	})

	t.Run("profile mode defaults to active status", func(t *testing.T) {
		card, err := domain.NewCard("card_tok_1", "", domain.ProfileSource{ProfileID: 3}, testNow)
		require.NoError(t, err)
		assert.Equal(t, domain.CardStatusActive, card.Status())
		id, ok := card.ProfileID()
		assert.True(t, ok)
		assert.Equal(t, domain.ProfileID(3), id)
		_, custom := card.CustomLimits()
		assert.False(t, custom)
	})
}

func TestCard_ModeTransitions(t *testing.T) {
	t.Run("assigning a profile discards custom limits and the card rule", func(t *testing.T) {
		card, err := domain.NewCard("card_tok_1", "", domain.CustomSource{
			Limits: domain.LimitSet{Daily: amt("40")},
		}, testNow)
		require.NoError(t, err)
		card.AttachRuleHandle("rule_card_1")

		change, err := card.AssignToProfile(7, testNow)
		require.NoError(t, err)

		assert.Equal(t, domain.RuleHandle("rule_card_1"), change.RetiredRule)
		assert.True(t, change.PreviousProfileID.IsZero())
		assert.True(t, card.RuleHandle().IsEmpty())
		_, custom := card.CustomLimits()
		assert.False(t, custom)
		assert.Equal(t, domain.ProfileSource{ProfileID: 7}, card.Source())
	})

	t.Run("switching profiles reports the previous one", func(t *testing.T) {
		card, err := domain.NewCard("card_tok_1", "", domain.ProfileSource{ProfileID: 1}, testNow)
		require.NoError(t, err)

		change, err := card.AssignToProfile(2, testNow)
		require.NoError(t, err)
		assert.Equal(t, domain.ProfileID(1), change.PreviousProfileID)
		assert.True(t, change.RetiredRule.IsEmpty())
	})

	t.Run("custom limits merge over empty when leaving a profile", func(t *testing.T) {
		card, err := domain.NewCard("card_tok_1", "", domain.ProfileSource{ProfileID: 1}, testNow)
		require.NoError(t, err)

		change, err := card.SetCustomLimits(domain.LimitPatch{
			Daily: domain.SetAmount(decimal.NewFromInt(30)),
		}, testNow)
		require.NoError(t, err)

		assert.Equal(t, domain.ProfileID(1), change.PreviousProfileID)
		_, bound := card.ProfileID()
		assert.False(t, bound)
		limits, ok := card.CustomLimits()
		require.True(t, ok)
		assert.True(t, limits.Equal(domain.LimitSet{Daily: amt("30")}))
	})

	t.Run("custom limits merge over existing custom limits", func(t *testing.T) {
		card, err := domain.NewCard("card_tok_1", "", domain.CustomSource{
			Limits: domain.LimitSet{Daily: amt("30"), Monthly: amt("300")},
		}, testNow)
		require.NoError(t, err)
		card.AttachRuleHandle("rule_card_1")

		_, err = card.SetCustomLimits(domain.LimitPatch{
			PerTransaction: domain.SetAmount(decimal.NewFromInt(10)),
		}, testNow)
		require.NoError(t, err)

		limits, _ := card.CustomLimits()
		assert.True(t, limits.Equal(domain.LimitSet{Daily: amt("30"), Monthly: amt("300"), PerTransaction: amt("10")}))
		assert.Equal(t, domain.RuleHandle("rule_card_1"), card.RuleHandle())
	})

	t.Run("invalid custom limits leave the card untouched", func(t *testing.T) {
		card, err := domain.NewCard("card_tok_1", "", domain.ProfileSource{ProfileID: 1}, testNow)
		require.NoError(t, err)
		version := card.Version()

		_, err = card.SetCustomLimits(domain.LimitPatch{
			Daily:   domain.SetAmount(decimal.NewFromInt(500)),
			Monthly: domain.SetAmount(decimal.NewFromInt(100)),
		}, testNow)
		require.ErrorIs(t, err, domain.ErrValidation)

		assert.Equal(t, domain.ProfileSource{ProfileID: 1}, card.Source())
		assert.Equal(t, version, card.Version())
	})
}

func TestCard_ChangeStatus(t *testing.T) {
	t.Run("locking bumps the version", func(t *testing.T) {
		card, err := domain.NewCard("card_tok_1", "", domain.ProfileSource{ProfileID: 1}, testNow)
		require.NoError(t, err)
		before := card.Version()

		changed, err := card.ChangeStatus(domain.CardStatusLocked, testNow)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, domain.CardStatusLocked, card.Status())
		assert.Equal(t, before+1, card.Version())
	})

	t.Run("same status is a no-op", func(t *testing.T) {
		card, err := domain.NewCard("card_tok_1", "", domain.ProfileSource{ProfileID: 1}, testNow)
		require.NoError(t, err)
		before := card.Version()

		changed, err := card.ChangeStatus(domain.CardStatusActive, testNow)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, before, card.Version())
	})

	t.Run("cancelled and expired are final", func(t *testing.T) {
		for _, final := range []domain.CardStatus{domain.CardStatusCancelled, domain.CardStatusExpired} {
			card, err := domain.NewCard("card_tok_1", "", domain.ProfileSource{ProfileID: 1}, testNow)
			require.NoError(t, err)
			_, err = card.ChangeStatus(final, testNow)
			require.NoError(t, err)

			_, err = card.ChangeStatus(domain.CardStatusActive, testNow)
			require.ErrorIs(t, err, domain.ErrConflict)
			assert.Equal(t, final, card.Status())
		}
	})
}
