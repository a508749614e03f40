package domain

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	vo "cardcrm/internal/common/value_objects"
)

// RuleHandle is the issuer's opaque identifier for an authorization rule.
// The empty handle means the rule has never been synced.
type RuleHandle string

// IsEmpty reports whether the handle is unset.
func (h RuleHandle) IsEmpty() bool { return h == "" }

func (h RuleHandle) String() string { return string(h) }

// RuleSpec is the issuer-facing rendering of a set of limits. Amounts are
// integer minor units; nil means the limit is absent.
type RuleSpec struct {
	DailyLimitMinorUnits          *int64
	MonthlyLimitMinorUnits        *int64
	PerTransactionLimitMinorUnits *int64
	AllowedCategories             []string
	BlockedCategories             []string
}

// NewRuleSpec converts limits and category lists into a RuleSpec.
func NewRuleSpec(limits LimitSet, allowed, blocked []string) (RuleSpec, error) {
	daily, err := minorUnits(limits.Daily)
	if err != nil {
		return RuleSpec{}, fmt.Errorf("daily limit: %w", err)
	}
	monthly, err := minorUnits(limits.Monthly)
	if err != nil {
		return RuleSpec{}, fmt.Errorf("monthly limit: %w", err)
	}
	perTx, err := minorUnits(limits.PerTransaction)
	if err != nil {
		return RuleSpec{}, fmt.Errorf("per-transaction limit: %w", err)
	}
	return RuleSpec{
		DailyLimitMinorUnits:          daily,
		MonthlyLimitMinorUnits:        monthly,
		PerTransactionLimitMinorUnits: perTx,
		AllowedCategories:             nonNil(allowed),
		BlockedCategories:             nonNil(blocked),
	}, nil
}

func minorUnits(v decimal.NullDecimal) (*int64, error) {
	if !v.Valid {
		return nil, nil
	}
	cents, err := vo.ToMinorUnits(v.Decimal)
	if err != nil {
		return nil, err
	}
	return &cents, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// RulePlatform is the narrow slice of the card issuer's authorization-rule
// API that limit synchronization needs. Implementations must not leak vendor
// types through this interface.
type RulePlatform interface {
	CreateRule(ctx context.Context, spec RuleSpec) (RuleHandle, error)
	UpdateRule(ctx context.Context, handle RuleHandle, spec RuleSpec) (RuleHandle, error)
	DeleteRule(ctx context.Context, handle RuleHandle) error
	AttachRuleToCard(ctx context.Context, handle RuleHandle, cardToken string) error
	DetachRuleFromCard(ctx context.Context, handle RuleHandle, cardToken string) error
}
