package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

const maxProfileNameLength = 100

// LimitProfile is a named, shareable bundle of spending limits and merchant
// category rules (aggregate root).
// Invariants:
//   - at least one of daily, monthly, per-transaction is set
//   - daily <= monthly and per-transaction <= daily when both sides are set
type LimitProfile struct {
	id                ProfileID
	name              string
	description       string
	limits            LimitSet
	allowedCategories []string
	blockedCategories []string
	active            bool
	ruleHandle        RuleHandle
	version           int
	createdAt         time.Time
	updatedAt         time.Time
}

// ProfileParams carries the caller-supplied fields of a new profile.
type ProfileParams struct {
	Name              string
	Description       string
	Limits            LimitSet
	AllowedCategories []string
	BlockedCategories []string
}

// NewLimitProfile validates params and returns an active, unsynced profile.
// The ID stays zero until the profile is stored.
func NewLimitProfile(params ProfileParams, now time.Time) (*LimitProfile, error) {
	p := &LimitProfile{
		name:              strings.TrimSpace(params.Name),
		description:       params.Description,
		limits:            params.Limits,
		allowedCategories: normalizeCategories(params.AllowedCategories),
		blockedCategories: normalizeCategories(params.BlockedCategories),
		active:            true,
		version:           1,
		createdAt:         now,
		updatedAt:         now,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ReconstructLimitProfile rebuilds a LimitProfile from persistence.
// This bypasses validation - only use for loading from the database.
func ReconstructLimitProfile(
	id ProfileID,
	name, description string,
	limits LimitSet,
	allowedCategories, blockedCategories []string,
	active bool,
	ruleHandle RuleHandle,
	version int,
	createdAt, updatedAt time.Time,
) *LimitProfile {
	return &LimitProfile{
		id:                id,
		name:              name,
		description:       description,
		limits:            limits,
		allowedCategories: normalizeCategories(allowedCategories),
		blockedCategories: normalizeCategories(blockedCategories),
		active:            active,
		ruleHandle:        ruleHandle,
		version:           version,
		createdAt:         createdAt,
		updatedAt:         updatedAt,
	}
}

func (p *LimitProfile) validate() error {
	var violations []Violation
	if p.name == "" {
		violations = append(violations, Violation{Field: "name", Message: "name is required"})
	} else if utf8.RuneCountInString(p.name) > maxProfileNameLength {
		violations = append(violations, Violation{Field: "name", Message: "name must be at most 100 characters"})
	}
	violations = append(violations, p.limits.validate(profileLimitFields)...)
	violations = append(violations, validateCategories(p.allowedCategories, p.blockedCategories)...)
	return NewValidationError(violations)
}

// ProfilePatch is a partial profile update. Nil pointers and unset limit
// patches leave the stored value untouched.
type ProfilePatch struct {
	Name              *string
	Description       *string
	Limits            LimitPatch
	AllowedCategories *[]string
	BlockedCategories *[]string
	Active            *bool
}

// Update merges patch over the current state and validates the merged result
// as a whole. On error the profile is left unchanged.
func (p *LimitProfile) Update(patch ProfilePatch, now time.Time) error {
	next := *p
	if patch.Name != nil {
		next.name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		next.description = *patch.Description
	}
	next.limits = p.limits.Apply(patch.Limits)
	if patch.AllowedCategories != nil {
		next.allowedCategories = normalizeCategories(*patch.AllowedCategories)
	}
	if patch.BlockedCategories != nil {
		next.blockedCategories = normalizeCategories(*patch.BlockedCategories)
	}
	if patch.Active != nil {
		next.active = *patch.Active
	}

	if err := next.validate(); err != nil {
		return err
	}

	next.version++
	next.updatedAt = now
	*p = next
	return nil
}

// AssignID is called by repositories once the store has allocated an ID.
func (p *LimitProfile) AssignID(id ProfileID) {
	p.id = id
}

// AttachRuleHandle records the issuer's handle for this profile's rule.
func (p *LimitProfile) AttachRuleHandle(h RuleHandle) {
	p.ruleHandle = h
	p.version++
}

// RuleSpec renders the profile as an issuer rule specification.
func (p *LimitProfile) RuleSpec() (RuleSpec, error) {
	return NewRuleSpec(p.limits, p.allowedCategories, p.blockedCategories)
}

// Getters

func (p *LimitProfile) ID() ProfileID                { return p.id }
func (p *LimitProfile) Name() string                 { return p.name }
func (p *LimitProfile) Description() string          { return p.description }
func (p *LimitProfile) Limits() LimitSet             { return p.limits }
func (p *LimitProfile) AllowedCategories() []string  { return p.allowedCategories }
func (p *LimitProfile) BlockedCategories() []string  { return p.blockedCategories }
func (p *LimitProfile) Active() bool                 { return p.active }
func (p *LimitProfile) RuleHandle() RuleHandle       { return p.ruleHandle }
func (p *LimitProfile) Version() int                 { return p.version }
func (p *LimitProfile) CreatedAt() time.Time         { return p.createdAt }
func (p *LimitProfile) UpdatedAt() time.Time         { return p.updatedAt }
