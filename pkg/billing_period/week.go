package billing_period

import (
	"fmt"
	"strings"
	"time"

	"github.com/sant-anurag/feas/internal/utils"
	log "github.com/sirupsen/logrus"
)

const legacyWeekBuckets = 4

// WeekNumber maps date to its 1-based 7-day bucket counted from start. Dates before start fall in
// week 1; with a non-zero end the result is capped at TotalWeeks(start, end). Without a start the
// legacy day-of-month bucketing is used.
func WeekNumber(date, start, end time.Time) int {
	if start.IsZero() {
		log.Debugf("no period start for %s, falling back to day-of-month week buckets", date.Format(DateLayout))
		return LegacyWeekNumber(date)
	}

	week := daysBetween(utils.DateOf(start), utils.DateOf(date))/7 + 1
	if week < 1 {
		week = 1
	}
	if !end.IsZero() {
		if total := TotalWeeks(start, end); week > total {
			week = total
		}
	}
	return week
}

// TotalWeeks is the number of 7-day buckets needed to cover [start, end], at least 1.
func TotalWeeks(start, end time.Time) int {
	days := daysBetween(utils.DateOf(start), utils.DateOf(end)) + 1
	if days < 1 {
		return 1
	}
	return (days + 6) / 7
}

// LegacyWeekNumber buckets a date by day of month: 1-7, 8-14, 15-21 and 22 onwards.
func LegacyWeekNumber(date time.Time) int {
	week := (date.Day()-1)/7 + 1
	if week > legacyWeekBuckets {
		return legacyWeekBuckets
	}
	return week
}

// CalendarMonth returns the first and last day of the calendar month.
func CalendarMonth(year int, month time.Month) (time.Time, time.Time) {
	start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1)
}

// ParseYearMonth parses "YYYY-MM".
func ParseYearMonth(value string) (int, time.Month, error) {
	t, err := time.Parse(MonthLayout, strings.TrimSpace(value))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q is not in YYYY-MM format", ErrInvalidMonth, value)
	}
	return t.Year(), t.Month(), nil
}

// ParseDate parses "YYYY-MM-DD" into a UTC day.
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not in YYYY-MM-DD format", ErrInvalidDate, value)
	}
	return t, nil
}

func validYearMonth(year int, month time.Month) bool {
	return year >= 1 && year <= 9999 && month >= time.January && month <= time.December
}

func daysBetween(from, to time.Time) int {
	return int(to.Sub(from).Hours() / 24)
}
