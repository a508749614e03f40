package application

import (
	"context"
	"errors"

	"cardcrm/internal/common/logging"
	"cardcrm/internal/spending/domain"
)

// CreateProfileRequest carries the fields of a new limit profile.
type CreateProfileRequest struct {
	Name              string
	Description       string
	Limits            domain.LimitSet
	AllowedCategories []string
	BlockedCategories []string
}

// ProfileView is a profile with the number of cards bound to it.
type ProfileView struct {
	Profile       *domain.LimitProfile
	AttachedCards int
}

// CreateProfile validates and stores a profile, then tries to create its
// issuer rule. A failed rule push leaves the profile unsynced.
func (s *LimitsService) CreateProfile(ctx context.Context, req CreateProfileRequest) (*ProfileView, error) {
	now := s.now()
	profile, err := domain.NewLimitProfile(domain.ProfileParams{
		Name:              req.Name,
		Description:       req.Description,
		Limits:            req.Limits,
		AllowedCategories: req.AllowedCategories,
		BlockedCategories: req.BlockedCategories,
	}, now)
	if err != nil {
		return nil, err
	}

	err = s.store.Atomic(ctx, func(repos domain.Repositories) error {
		if err := ensureNameFree(ctx, repos, profile); err != nil {
			return err
		}
		if err := repos.Profiles().Create(ctx, profile); err != nil {
			return err
		}
		entry, err := domain.NewProfileOutboxEntry(domain.EventTypeProfileCreated, profile, correlationID(ctx), now)
		return s.appendEvent(ctx, repos, entry, err)
	})
	if err != nil {
		return nil, err
	}

	logging.InfoContext(ctx, "limit profile created", "profile_id", profile.ID().String(), "name", profile.Name())

	s.pushProfileRule(ctx, profile)
	return &ProfileView{Profile: profile}, nil
}

// UpdateProfile merges patch over the stored profile, validates the merged
// state and saves it. The issuer rule is updated, or created if the profile
// was never synced.
func (s *LimitsService) UpdateProfile(ctx context.Context, id domain.ProfileID, patch domain.ProfilePatch) (*ProfileView, error) {
	now := s.now()
	var view ProfileView

	err := s.store.Atomic(ctx, func(repos domain.Repositories) error {
		profile, err := repos.Profiles().FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := profile.Update(patch, now); err != nil {
			return err
		}
		if patch.Name != nil {
			if err := ensureNameFree(ctx, repos, profile); err != nil {
				return err
			}
		}
		if err := repos.Profiles().Save(ctx, profile); err != nil {
			return err
		}
		entry, err := domain.NewProfileOutboxEntry(domain.EventTypeProfileUpdated, profile, correlationID(ctx), now)
		if err := s.appendEvent(ctx, repos, entry, err); err != nil {
			return err
		}
		count, err := repos.Cards().CountByProfile(ctx, id)
		if err != nil {
			return err
		}
		view = ProfileView{Profile: profile, AttachedCards: count}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.profiles.Invalidate(ctx, id)
	logging.InfoContext(ctx, "limit profile updated", "profile_id", id.String())

	s.pushProfileRule(ctx, view.Profile)
	return &view, nil
}

// DeleteProfile removes a profile no card references. The issuer rule is
// deleted first (best-effort), then the local record.
func (s *LimitsService) DeleteProfile(ctx context.Context, id domain.ProfileID) error {
	profile, err := s.store.Profiles().FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := ensureNoCards(ctx, s.store, id); err != nil {
		return err
	}

	if !profile.RuleHandle().IsEmpty() {
		s.sync.DeleteRule(ctx, profile.RuleHandle())
	}

	now := s.now()
	err = s.store.Atomic(ctx, func(repos domain.Repositories) error {
		current, err := repos.Profiles().FindByID(ctx, id)
		if err != nil {
			return err
		}
		// A card may have been bound after the first check.
		if err := ensureNoCards(ctx, repos, id); err != nil {
			return err
		}
		if err := repos.Profiles().Delete(ctx, id); err != nil {
			return err
		}
		entry, err := domain.NewProfileOutboxEntry(domain.EventTypeProfileDeleted, current, correlationID(ctx), now)
		return s.appendEvent(ctx, repos, entry, err)
	})
	if err != nil {
		return err
	}

	s.profiles.Invalidate(ctx, id)
	logging.InfoContext(ctx, "limit profile deleted", "profile_id", id.String())
	return nil
}

// GetProfile returns a profile with its attached card count.
func (s *LimitsService) GetProfile(ctx context.Context, id domain.ProfileID) (*ProfileView, error) {
	profile, err := s.store.Profiles().FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := s.store.Cards().CountByProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ProfileView{Profile: profile, AttachedCards: count}, nil
}

// ListProfiles returns one page of profiles and the total number of matches.
func (s *LimitsService) ListProfiles(ctx context.Context, filter domain.ProfileFilter) ([]ProfileView, int, error) {
	summaries, total, err := s.store.Profiles().List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	views := make([]ProfileView, len(summaries))
	for i, sum := range summaries {
		views[i] = ProfileView{Profile: sum.Profile, AttachedCards: sum.AttachedCards}
	}
	return views, total, nil
}

// ListProfileCards returns the cards bound to a profile.
func (s *LimitsService) ListProfileCards(ctx context.Context, id domain.ProfileID) ([]*domain.Card, error) {
	if _, err := s.store.Profiles().FindByID(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Cards().ListByProfile(ctx, id)
}

// pushProfileRule syncs the profile and persists the handle when it changed.
func (s *LimitsService) pushProfileRule(ctx context.Context, profile *domain.LimitProfile) {
	previous := profile.RuleHandle()
	if handle := s.sync.SyncProfileRule(ctx, profile); handle.IsEmpty() || handle == previous {
		return
	}
	if err := s.store.Profiles().SetRuleHandle(ctx, profile.ID(), profile.RuleHandle()); err != nil {
		logging.ErrorContext(ctx, "failed to record profile rule handle",
			"profile_id", profile.ID().String(), "rule", profile.RuleHandle().String(), "error", err)
		return
	}
	s.profiles.Invalidate(ctx, profile.ID())
}

func ensureNameFree(ctx context.Context, repos domain.Repositories, profile *domain.LimitProfile) error {
	existing, err := repos.Profiles().FindByName(ctx, profile.Name())
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID() != profile.ID() {
		return domain.NewConflict(domain.ReasonDuplicateProfileName)
	}
	return nil
}

func ensureNoCards(ctx context.Context, repos domain.Repositories, id domain.ProfileID) error {
	count, err := repos.Cards().CountByProfile(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return domain.NewConflict(domain.ReasonProfileHasCards)
	}
	return nil
}
