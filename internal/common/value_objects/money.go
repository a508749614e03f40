package valueobjects

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Currency represents a validated currency code.
type Currency string

// Supported currency codes
const (
	CurrencyEUR Currency = "EUR"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
)

var (
	// ErrInvalidCurrency is returned when parsing an unsupported currency code.
	ErrInvalidCurrency = errors.New("invalid or unsupported currency code")

	// ErrFractionalMinorUnits is returned when an amount has more precision than a cent.
	ErrFractionalMinorUnits = errors.New("amount has more than two decimal places")

	// ErrAmountOutOfRange is returned when an amount does not fit the storage precision.
	ErrAmountOutOfRange = errors.New("amount out of range")
)

// MinorUnitScale is the number of decimal places in one major unit.
const MinorUnitScale = 2

// MaxAmount is the exclusive upper bound of a stored amount, matching NUMERIC(15,2).
var MaxAmount = decimal.New(1, 13)

var validCurrencies = map[Currency]bool{
	CurrencyEUR: true,
	CurrencyUSD: true,
	CurrencyGBP: true,
}

// ParseCurrency validates and parses a currency code string.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(s)
	if !validCurrencies[c] {
		return "", fmt.Errorf("%w: %s", ErrInvalidCurrency, s)
	}
	return c, nil
}

// String returns the string representation of Currency.
func (c Currency) String() string {
	return string(c)
}

// Money represents a monetary amount with currency.
type Money struct {
	Amount   decimal.Decimal `json:"value"`
	Currency Currency        `json:"currency"`
}

// New creates a new Money instance.
func New(amount decimal.Decimal, currency Currency) Money {
	return Money{
		Amount:   amount,
		Currency: currency,
	}
}

// String returns a human-readable representation.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(MinorUnitScale), m.Currency)
}

// ToMinorUnits converts a major-unit amount to integer cents without any
// floating point step. Amounts finer than a cent are rejected, never rounded.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	shifted := amount.Shift(MinorUnitScale)
	if !shifted.IsInteger() {
		return 0, fmt.Errorf("%w: %s", ErrFractionalMinorUnits, amount.String())
	}
	if amount.Abs().GreaterThanOrEqual(MaxAmount) {
		return 0, fmt.Errorf("%w: %s", ErrAmountOutOfRange, amount.String())
	}
	return shifted.IntPart(), nil
}

