package application

import (
	"context"
	"errors"
	"time"

	"cardcrm/internal/common/logging"
	"cardcrm/internal/spending/domain"
)

// LimitResolver loads what ResolveEffectiveLimits needs and applies it.
type LimitResolver struct {
	profiles domain.ProfileReader
}

// NewLimitResolver creates a resolver reading profiles from profiles.
func NewLimitResolver(profiles domain.ProfileReader) *LimitResolver {
	return &LimitResolver{profiles: profiles}
}

// EffectiveLimits returns the limits that govern card right now. A profile
// that no longer exists resolves to "profile-missing" rather than an error.
func (r *LimitResolver) EffectiveLimits(ctx context.Context, card *domain.Card) (domain.EffectiveLimits, error) {
	profileID, ok := card.ProfileID()
	if !ok {
		return domain.ResolveEffectiveLimits(card, nil), nil
	}

	profile, err := r.profiles.FindByID(ctx, profileID)
	if errors.Is(err, domain.ErrNotFound) {
		logging.WarnContext(ctx, "card references a missing limit profile",
			"card_id", card.ID().String(), "profile_id", profileID.String())
		return domain.ResolveEffectiveLimits(card, nil), nil
	}
	if err != nil {
		return domain.EffectiveLimits{}, err
	}

	return domain.ResolveEffectiveLimits(card, profile), nil
}

// SpendAggregator sums counted transactions over calendar windows in a fixed
// location.
type SpendAggregator struct {
	transactions domain.TransactionRepository
	loc          *time.Location
}

// NewSpendAggregator creates an aggregator. A nil loc means time.Local.
func NewSpendAggregator(transactions domain.TransactionRepository, loc *time.Location) *SpendAggregator {
	if loc == nil {
		loc = time.Local
	}
	return &SpendAggregator{transactions: transactions, loc: loc}
}

// DailySpend totals the calendar day containing date.
func (a *SpendAggregator) DailySpend(ctx context.Context, cardID domain.CardID, date time.Time) (domain.SpendTotal, error) {
	w := domain.DayWindow(date, a.loc)
	return a.transactions.SumSpend(ctx, cardID, w.Start, w.End)
}

// MonthlySpend totals a calendar month.
func (a *SpendAggregator) MonthlySpend(ctx context.Context, cardID domain.CardID, year int, month time.Month) (domain.SpendTotal, error) {
	w := domain.MonthWindow(year, month, a.loc)
	return a.transactions.SumSpend(ctx, cardID, w.Start, w.End)
}

// Location returns the location windows are aligned to.
func (a *SpendAggregator) Location() *time.Location { return a.loc }
