package application

import (
	"context"
	"errors"
	"time"

	"cardcrm/internal/common/logging"
	vo "cardcrm/internal/common/value_objects"
	"cardcrm/internal/spending/domain"
)

// CreateCardRequest registers an issued card with exactly one limit source.
type CreateCardRequest struct {
	CardToken    string
	Status       string
	ProfileID    *domain.ProfileID
	CustomLimits *domain.LimitSet
}

// UpdateCardLimitsRequest is a partial update of a card's limit source.
// ClearProfile is set when the caller sent profile_id: null explicitly.
type UpdateCardLimitsRequest struct {
	ProfileID    *domain.ProfileID
	ClearProfile bool
	CustomLimits *domain.LimitPatch
}

// CardView is a card with its resolved limits.
type CardView struct {
	Card      *domain.Card
	Effective domain.EffectiveLimits
}

// CardLimitsSummary is the read model behind the card limits endpoint.
type CardLimitsSummary struct {
	Card         *domain.Card
	Effective    domain.EffectiveLimits
	DailySpend   domain.SpendTotal
	MonthlySpend domain.SpendTotal
	Remaining    domain.Headroom
}

// RecordTransactionRequest carries a transaction reported by the issuer.
type RecordTransactionRequest struct {
	Token            string
	Amount           vo.Money
	MerchantName     string
	MerchantCategory string
	Status           domain.TransactionStatus
	OccurredAt       time.Time
}

// CreateCard stores a card bound to a profile or carrying custom limits,
// then pushes the matching rule to the issuer.
func (s *LimitsService) CreateCard(ctx context.Context, req CreateCardRequest) (*CardView, error) {
	if req.ProfileID != nil && req.CustomLimits != nil {
		return nil, domain.NewConflict(domain.ReasonBothLimitSources)
	}
	status, err := domain.ParseCardStatus(req.Status)
	if err != nil {
		return nil, err
	}

	var source domain.LimitSource
	switch {
	case req.ProfileID != nil:
		source = domain.ProfileSource{ProfileID: *req.ProfileID}
	case req.CustomLimits != nil:
		source = domain.CustomSource{Limits: *req.CustomLimits}
	}

	now := s.now()
	card, err := domain.NewCard(req.CardToken, status, source, now)
	if err != nil {
		return nil, err
	}

	var profile *domain.LimitProfile
	err = s.store.Atomic(ctx, func(repos domain.Repositories) error {
		if id, ok := card.ProfileID(); ok {
			p, err := repos.Profiles().FindByID(ctx, id)
			if err != nil {
				return err
			}
			profile = p
		}
		if err := repos.Cards().Create(ctx, card); err != nil {
			return err
		}
		entry, err := domain.NewCardOutboxEntry(domain.EventTypeCardCreated, card, correlationID(ctx), now)
		return s.appendEvent(ctx, repos, entry, err)
	})
	if err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "card registered", "card_id", card.ID().String())

	s.pushCardRules(ctx, card, domain.LimitChange{}, profile)
	return &CardView{Card: card, Effective: domain.ResolveEffectiveLimits(card, profile)}, nil
}

// GetCard returns a card with its resolved limits.
func (s *LimitsService) GetCard(ctx context.Context, id domain.CardID) (*CardView, error) {
	card, err := s.store.Cards().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	eff, err := s.resolver.EffectiveLimits(ctx, card)
	if err != nil {
		return nil, err
	}
	return &CardView{Card: card, Effective: eff}, nil
}

// UpdateCardStatus records a card state change such as locking. Limit
// rules stay in place; the issuer enforces card state on its own.
func (s *LimitsService) UpdateCardStatus(ctx context.Context, id domain.CardID, status domain.CardStatus) (*CardView, error) {
	now := s.now()
	var (
		card    *domain.Card
		changed bool
	)

	err := s.store.Atomic(ctx, func(repos domain.Repositories) error {
		var err error
		if card, err = repos.Cards().FindByID(ctx, id); err != nil {
			return err
		}
		if changed, err = card.ChangeStatus(status, now); err != nil || !changed {
			return err
		}
		if err := repos.Cards().Save(ctx, card); err != nil {
			return err
		}
		entry, err := domain.NewCardOutboxEntry(domain.EventTypeCardStatusChanged, card, correlationID(ctx), now)
		return s.appendEvent(ctx, repos, entry, err)
	})
	if err != nil {
		return nil, err
	}

	if changed {
		logging.InfoContext(ctx, "card status changed", "card_id", id.String(), "status", string(status))
	}

	eff, err := s.resolver.EffectiveLimits(ctx, card)
	if err != nil {
		return nil, err
	}
	return &CardView{Card: card, Effective: eff}, nil
}

// UpdateCardLimits dispatches a partial update to AssignToProfile or
// SetCustomLimits. An empty request returns the current state.
func (s *LimitsService) UpdateCardLimits(ctx context.Context, id domain.CardID, req UpdateCardLimitsRequest) (*CardView, error) {
	switch {
	case req.ProfileID != nil && req.CustomLimits != nil:
		return nil, domain.NewConflict(domain.ReasonBothLimitSources)
	case req.ProfileID != nil:
		return s.AssignToProfile(ctx, id, *req.ProfileID)
	case req.CustomLimits != nil:
		return s.SetCustomLimits(ctx, id, *req.CustomLimits)
	case req.ClearProfile:
		return nil, domain.NewValidationError([]domain.Violation{{
			Field:   "custom_limits",
			Message: "custom_limits is required when profile_id is null",
		}})
	default:
		return s.GetCard(ctx, id)
	}
}

// AssignToProfile binds a card to a profile, dropping its custom limits. On
// the issuer the card's own rule is deleted, a previous profile's rule is
// detached and the new profile's rule attached.
func (s *LimitsService) AssignToProfile(ctx context.Context, id domain.CardID, profileID domain.ProfileID) (*CardView, error) {
	now := s.now()
	var (
		card    *domain.Card
		profile *domain.LimitProfile
		change  domain.LimitChange
	)

	err := s.store.Atomic(ctx, func(repos domain.Repositories) error {
		var err error
		if card, err = repos.Cards().FindByID(ctx, id); err != nil {
			return err
		}
		if profile, err = repos.Profiles().FindByID(ctx, profileID); err != nil {
			return err
		}
		if change, err = card.AssignToProfile(profileID, now); err != nil {
			return err
		}
		if err := repos.Cards().Save(ctx, card); err != nil {
			return err
		}
		entry, err := domain.NewCardOutboxEntry(domain.EventTypeCardLimitsChanged, card, correlationID(ctx), now)
		return s.appendEvent(ctx, repos, entry, err)
	})
	if err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "card assigned to limit profile",
		"card_id", id.String(), "profile_id", profileID.String())

	s.pushCardRules(ctx, card, change, profile)
	return &CardView{Card: card, Effective: domain.ResolveEffectiveLimits(card, profile)}, nil
}

// SetCustomLimits gives a card its own limits, merged over any it already
// has. Validation happens before the issuer is contacted.
func (s *LimitsService) SetCustomLimits(ctx context.Context, id domain.CardID, patch domain.LimitPatch) (*CardView, error) {
	now := s.now()
	var (
		card   *domain.Card
		change domain.LimitChange
	)

	err := s.store.Atomic(ctx, func(repos domain.Repositories) error {
		var err error
		if card, err = repos.Cards().FindByID(ctx, id); err != nil {
			return err
		}
		if change, err = card.SetCustomLimits(patch, now); err != nil {
			return err
		}
		if err := repos.Cards().Save(ctx, card); err != nil {
			return err
		}
		entry, err := domain.NewCardOutboxEntry(domain.EventTypeCardLimitsChanged, card, correlationID(ctx), now)
		return s.appendEvent(ctx, repos, entry, err)
	})
	if err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "card custom limits set", "card_id", id.String())

	s.pushCardRules(ctx, card, change, nil)
	return &CardView{Card: card, Effective: domain.ResolveEffectiveLimits(card, nil)}, nil
}

// GetCardLimits resolves effective limits, sums today's and this month's
// spend, and computes the remaining headroom.
func (s *LimitsService) GetCardLimits(ctx context.Context, id domain.CardID) (*CardLimitsSummary, error) {
	card, err := s.store.Cards().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	eff, err := s.resolver.EffectiveLimits(ctx, card)
	if err != nil {
		return nil, err
	}

	now := s.now().In(s.aggregator.Location())
	daily, err := s.aggregator.DailySpend(ctx, id, now)
	if err != nil {
		return nil, err
	}
	monthly, err := s.aggregator.MonthlySpend(ctx, id, now.Year(), now.Month())
	if err != nil {
		return nil, err
	}

	return &CardLimitsSummary{
		Card:         card,
		Effective:    eff,
		DailySpend:   daily,
		MonthlySpend: monthly,
		Remaining:    domain.RemainingHeadroom(eff, daily, monthly),
	}, nil
}

// RecordTransaction stores a transaction reported for a card.
func (s *LimitsService) RecordTransaction(ctx context.Context, id domain.CardID, req RecordTransactionRequest) (*domain.Transaction, error) {
	tx, err := domain.NewTransaction(domain.TransactionParams{
		CardID:           id,
		ExternalToken:    req.Token,
		Amount:           req.Amount,
		MerchantName:     req.MerchantName,
		MerchantCategory: req.MerchantCategory,
		Status:           req.Status,
		OccurredAt:       req.OccurredAt,
	}, s.settlement)
	if err != nil {
		return nil, err
	}

	err = s.store.Atomic(ctx, func(repos domain.Repositories) error {
		if _, err := repos.Cards().FindByID(ctx, id); err != nil {
			return err
		}
		return repos.Transactions().Create(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	logging.DebugContext(ctx, "transaction recorded", "card_id", id.String(), "transaction_id", tx.ID().String())
	return tx, nil
}

// pushCardRules brings the issuer in line with a card's committed limit mode.
// profile is the card's bound profile when the caller already loaded it.
func (s *LimitsService) pushCardRules(ctx context.Context, card *domain.Card, change domain.LimitChange, profile *domain.LimitProfile) {
	if !change.RetiredRule.IsEmpty() {
		s.sync.DeleteRule(ctx, change.RetiredRule)
	}

	currentProfile, bound := card.ProfileID()
	if !change.PreviousProfileID.IsZero() && (!bound || change.PreviousProfileID != currentProfile) {
		s.detachProfileRule(ctx, card, change.PreviousProfileID)
	}

	if bound {
		if profile == nil {
			return
		}
		if profile.RuleHandle().IsEmpty() {
			s.pushProfileRule(ctx, profile)
		}
		if !profile.RuleHandle().IsEmpty() {
			s.sync.AttachRuleToCard(ctx, profile.RuleHandle(), card.CardToken())
		}
		return
	}

	committed, previous := card.Version(), card.RuleHandle()
	limits, _ := card.CustomLimits()
	handle := s.sync.SyncCardCustomRule(ctx, card, limits)
	if handle.IsEmpty() || handle == previous {
		return
	}
	err := s.store.Cards().SetRuleHandle(ctx, card.ID(), handle, committed)
	switch {
	case errors.Is(err, domain.ErrOptimisticLock):
		s.retireOrphanedCardRule(ctx, card, handle)
	case err != nil:
		logging.ErrorContext(ctx, "failed to record card rule handle",
			"card_id", card.ID().String(), "rule", handle.String(), "error", err)
	}
}

// retireOrphanedCardRule removes a rule created for a card whose limit mode
// changed while the issuer call was in flight. The rule is kept when the
// stored card already references it.
func (s *LimitsService) retireOrphanedCardRule(ctx context.Context, card *domain.Card, handle domain.RuleHandle) {
	current, err := s.store.Cards().FindByID(ctx, card.ID())
	if err == nil && current.RuleHandle() == handle {
		return
	}
	logging.WarnContext(ctx, "card changed during rule sync, retiring its new rule",
		"card_id", card.ID().String(), "rule", handle.String())
	s.sync.DetachRuleFromCard(ctx, handle, card.CardToken())
	s.sync.DeleteRule(ctx, handle)
}

func (s *LimitsService) detachProfileRule(ctx context.Context, card *domain.Card, profileID domain.ProfileID) {
	previous, err := s.store.Profiles().FindByID(ctx, profileID)
	if err != nil {
		logging.WarnContext(ctx, "previous limit profile unavailable for detach",
			"card_id", card.ID().String(), "profile_id", profileID.String(), "error", err)
		return
	}
	if previous.RuleHandle().IsEmpty() {
		return
	}
	s.sync.DetachRuleFromCard(ctx, previous.RuleHandle(), card.CardToken())
}
