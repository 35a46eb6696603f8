package billing_period

import (
	"errors"
	"time"

	"github.com/sant-anurag/feas/internal/utils"
	"github.com/shopspring/decimal"
)

const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

var ErrInvalidMonth = errors.New("invalid year or month")
var ErrInvalidDate = errors.New("invalid date")
var ErrPeriodInput = errors.New("exactly one of month (YYYY-MM) or date (YYYY-MM-DD) is required")
var ErrInvalidOverride = errors.New("invalid billing period override")
var ErrOverrideNotFound = errors.New("billing period override not found")

// Override is an administrator-defined replacement for the calendar window of one (year, month).
// Dates are only used when both are set. A nil MonthlyCap means the configured default applies.
type Override struct {
	Year       int
	Month      time.Month
	StartDate  *time.Time
	EndDate    *time.Time
	MonthlyCap decimal.NullDecimal
}

func (o Override) hasWindow() bool {
	return o.StartDate != nil && o.EndDate != nil
}

// MaxHours is the largest hour value the NUMERIC(10, 2) hour columns hold.
var MaxHours = decimal.RequireFromString("99999999.99")

// Period is the resolved accounting window of a (year, month).
type Period struct {
	Year  int
	Month time.Month
	// Start and End are inclusive days at 00:00 UTC.
	Start time.Time
	End   time.Time
	// MonthlyCap is the per-resource hour ceiling for the period.
	MonthlyCap decimal.Decimal
	// Overridden is true when Start and End come from an override row.
	Overridden bool
}

func (p Period) TotalWeeks() int {
	return TotalWeeks(p.Start, p.End)
}

// Contains reports whether the calendar day of date lies within [Start, End].
func (p Period) Contains(date time.Time) bool {
	d := utils.DateOf(date)
	return !d.Before(p.Start) && !d.After(p.End)
}

func (p Period) WeekNumber(date time.Time) int {
	return WeekNumber(date, p.Start, p.End)
}

// WeekWindow returns the first and last day of the given week, the last one clipped to End.
func (p Period) WeekWindow(week int) (time.Time, time.Time) {
	if week < 1 {
		week = 1
	}
	from := p.Start.AddDate(0, 0, (week-1)*7)
	to := from.AddDate(0, 0, 6)
	if to.After(p.End) {
		to = p.End
	}
	return from, to
}

// ValidWeek reports whether week is one of the period's buckets.
func (p Period) ValidWeek(week int) bool {
	return week >= 1 && week <= p.TotalWeeks()
}

// Label is the YYYY-MM key of the period.
func (p Period) Label() string {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC).Format(MonthLayout)
}
