package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Window is a half-open time range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// DayWindow returns the calendar day containing date, in loc.
func DayWindow(date time.Time, loc *time.Location) Window {
	d := date.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 0, 1)}
}

// MonthWindow returns the calendar month in loc.
func MonthWindow(year int, month time.Month, loc *time.Location) Window {
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 1, 0)}
}

// SpendTotal is the sum and count of counted transactions in a window.
type SpendTotal struct {
	Total decimal.Decimal
	Count int
}

// Headroom is what is left under the daily and monthly limits. A missing
// limit leaves the matching field invalid (unbounded).
type Headroom struct {
	Daily   decimal.NullDecimal
	Monthly decimal.NullDecimal
}

// RemainingHeadroom computes max(0, limit - spent) for daily and monthly.
func RemainingHeadroom(limits EffectiveLimits, daily, monthly SpendTotal) Headroom {
	return Headroom{
		Daily:   remaining(limits.Daily, daily.Total),
		Monthly: remaining(limits.Monthly, monthly.Total),
	}
}

func remaining(limit decimal.NullDecimal, spent decimal.Decimal) decimal.NullDecimal {
	if !limit.Valid {
		return decimal.NullDecimal{}
	}
	left := limit.Decimal.Sub(spent)
	if left.IsNegative() {
		left = decimal.Zero
	}
	return Amount(left)
}
