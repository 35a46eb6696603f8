package weekly_allocation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var ErrInvalidWeekCount = errors.New("week count must be at least 1")

var hundred = decimal.NewFromInt(100)

// ClampPercent limits p to [0, 100].
func ClampPercent(p decimal.Decimal) decimal.Decimal {
	if p.IsNegative() {
		return decimal.Zero
	}
	if p.GreaterThan(hundred) {
		return hundred
	}
	return p
}

// FromPercentages converts per-week percentages of total into hours rounded half-up to two
// decimals. The rounded hours are not corrected to add up to total.
func FromPercentages(total decimal.Decimal, percentages map[int]decimal.Decimal) map[int]decimal.Decimal {
	hours := make(map[int]decimal.Decimal, len(percentages))
	for week, percent := range percentages {
		hours[week] = total.Mul(ClampPercent(percent)).Div(hundred).Round(2)
	}
	return hours
}

// EqualSplit divides total over weekCount weeks. Every week gets total/weekCount rounded to two
// decimals and the last week absorbs the rounding remainder, so the weeks sum to total exactly.
func EqualSplit(total decimal.Decimal, weekCount int) ([]decimal.Decimal, error) {
	if weekCount < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWeekCount, weekCount)
	}
	total = total.Round(2)
	count := decimal.NewFromInt(int64(weekCount))
	perWeek := total.Div(count).Round(2)
	// Rounding up can overshoot tiny totals and leave a negative last week.
	if perWeek.Mul(decimal.NewFromInt(int64(weekCount - 1))).GreaterThan(total) {
		perWeek = total.Div(count).RoundDown(2)
	}

	weeks := make([]decimal.Decimal, weekCount)
	assigned := decimal.Zero
	for i := 0; i < weekCount-1; i++ {
		weeks[i] = perWeek
		assigned = assigned.Add(perWeek)
	}
	weeks[weekCount-1] = total.Sub(assigned).Round(2)
	return weeks, nil
}
