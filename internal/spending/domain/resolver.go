package domain

import "github.com/shopspring/decimal"

// LimitSourceKind tells the caller where effective limits came from.
type LimitSourceKind string

const (
	SourceProfile         LimitSourceKind = "profile"
	SourceProfileInactive LimitSourceKind = "profile-inactive"
	SourceProfileMissing  LimitSourceKind = "profile-missing"
	SourceCustom          LimitSourceKind = "custom"
)

// EffectiveLimits are the limits that apply to a card at read time.
type EffectiveLimits struct {
	Daily          decimal.NullDecimal
	Monthly        decimal.NullDecimal
	PerTransaction decimal.NullDecimal
	Source         LimitSourceKind
	ProfileID      ProfileID
	ProfileName    string
}

// ResolveEffectiveLimits picks the limits that govern card. profile is the
// card's bound profile as loaded by the caller, or nil when it could not be
// found; it is ignored for custom cards.
func ResolveEffectiveLimits(card *Card, profile *LimitProfile) EffectiveLimits {
	switch s := card.Source().(type) {
	case ProfileSource:
		if profile == nil || profile.ID() != s.ProfileID {
			return EffectiveLimits{Source: SourceProfileMissing, ProfileID: s.ProfileID}
		}
		source := SourceProfile
		if !profile.Active() {
			source = SourceProfileInactive
		}
		l := profile.Limits()
		return EffectiveLimits{
			Daily:          l.Daily,
			Monthly:        l.Monthly,
			PerTransaction: l.PerTransaction,
			Source:         source,
			ProfileID:      profile.ID(),
			ProfileName:    profile.Name(),
		}
	case CustomSource:
		return EffectiveLimits{
			Daily:          s.Limits.Daily,
			Monthly:        s.Limits.Monthly,
			PerTransaction: s.Limits.PerTransaction,
			Source:         SourceCustom,
		}
	default:
		return EffectiveLimits{Source: SourceProfileMissing}
	}
}
