package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	vo "cardcrm/internal/common/value_objects"
)

// LimitSet holds the three optional spending limits. A missing limit is
// represented by an invalid NullDecimal and means "no limit of this kind".
type LimitSet struct {
	Daily          decimal.NullDecimal
	Monthly        decimal.NullDecimal
	PerTransaction decimal.NullDecimal
}

// Amount returns a present NullDecimal.
func Amount(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NewNullDecimal(d)
}

// IsEmpty reports whether no limit is present.
func (l LimitSet) IsEmpty() bool {
	return !l.Daily.Valid && !l.Monthly.Valid && !l.PerTransaction.Valid
}

// Equal compares presence and value of every limit.
func (l LimitSet) Equal(other LimitSet) bool {
	return nullEqual(l.Daily, other.Daily) &&
		nullEqual(l.Monthly, other.Monthly) &&
		nullEqual(l.PerTransaction, other.PerTransaction)
}

func nullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// limitFields names the fields used in violations so profile and card
// payloads can report errors against their own keys.
type limitFields struct {
	daily, monthly, perTransaction, all string
	requiredMessage                    string
}

var (
	profileLimitFields = limitFields{
		daily:           "daily_limit",
		monthly:         "monthly_limit",
		perTransaction:  "per_transaction_limit",
		all:             "limits",
		requiredMessage: "At least one spending limit must be specified",
	}
	customLimitFields = limitFields{
		daily:           "custom_limits.daily",
		monthly:         "custom_limits.monthly",
		perTransaction:  "custom_limits.per_transaction",
		all:             "custom_limits",
		requiredMessage: "At least one custom limit must be specified",
	}
)

// validate collects every violated rule. The hierarchy checks only run
// when both sides of a comparison are present.
func (l LimitSet) validate(f limitFields) []Violation {
	var violations []Violation

	check := func(field string, v decimal.NullDecimal) {
		if !v.Valid {
			return
		}
		if v.Decimal.IsNegative() {
			violations = append(violations, Violation{Field: field, Message: field + " must be non-negative"})
			return
		}
		if _, err := vo.ToMinorUnits(v.Decimal); err != nil {
			violations = append(violations, Violation{Field: field, Message: fmt.Sprintf("%s is invalid: %v", field, err)})
		}
	}
	check(f.daily, l.Daily)
	check(f.monthly, l.Monthly)
	check(f.perTransaction, l.PerTransaction)

	if l.IsEmpty() {
		violations = append(violations, Violation{Field: f.all, Message: f.requiredMessage})
	}

	if l.Daily.Valid && l.Monthly.Valid && l.Daily.Decimal.GreaterThan(l.Monthly.Decimal) {
		violations = append(violations, Violation{Field: f.daily, Message: "Daily limit cannot exceed monthly limit"})
	}

	if l.PerTransaction.Valid && l.Daily.Valid && l.PerTransaction.Decimal.GreaterThan(l.Daily.Decimal) {
		violations = append(violations, Violation{Field: f.perTransaction, Message: "Per-transaction limit cannot exceed daily limit"})
	}

	return violations
}

// ValidateProfileLimits checks a profile's limits.
func ValidateProfileLimits(l LimitSet) error {
	return NewValidationError(l.validate(profileLimitFields))
}

// ValidateCustomLimits checks a card's custom limits.
func ValidateCustomLimits(l LimitSet) error {
	return NewValidationError(l.validate(customLimitFields))
}

// AmountPatch is a tri-state update for one limit: untouched, cleared or set.
type AmountPatch struct {
	Set   bool
	Value decimal.NullDecimal
}

// SetAmount returns a patch that sets the limit to d.
func SetAmount(d decimal.Decimal) AmountPatch {
	return AmountPatch{Set: true, Value: Amount(d)}
}

// ClearAmount returns a patch that removes the limit.
func ClearAmount() AmountPatch {
	return AmountPatch{Set: true}
}

// UnmarshalJSON marks the patch as set. JSON null clears the limit; numbers
// and numeric strings set it.
func (p *AmountPatch) UnmarshalJSON(data []byte) error {
	p.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		p.Value = decimal.NullDecimal{}
		return nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	p.Value = Amount(d)
	return nil
}

func (p AmountPatch) apply(current decimal.NullDecimal) decimal.NullDecimal {
	if !p.Set {
		return current
	}
	return p.Value
}

// LimitPatch is a partial update over a LimitSet.
type LimitPatch struct {
	Daily          AmountPatch
	Monthly        AmountPatch
	PerTransaction AmountPatch
}

// IsEmpty reports whether the patch changes nothing.
func (p LimitPatch) IsEmpty() bool {
	return !p.Daily.Set && !p.Monthly.Set && !p.PerTransaction.Set
}

// Apply merges the patch over l and returns the merged state.
func (l LimitSet) Apply(p LimitPatch) LimitSet {
	return LimitSet{
		Daily:          p.Daily.apply(l.Daily),
		Monthly:        p.Monthly.apply(l.Monthly),
		PerTransaction: p.PerTransaction.apply(l.PerTransaction),
	}
}

// Patch returns a LimitPatch that sets every field of l, present or not.
func (l LimitSet) Patch() LimitPatch {
	return LimitPatch{
		Daily:          AmountPatch{Set: true, Value: l.Daily},
		Monthly:        AmountPatch{Set: true, Value: l.Monthly},
		PerTransaction: AmountPatch{Set: true, Value: l.PerTransaction},
	}
}
