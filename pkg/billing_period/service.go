package billing_period

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sant-anurag/feas/internal/utils"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

type Service interface {
	Resolve(ctx context.Context, year int, month time.Month) (Period, error)
	ResolveForDate(ctx context.Context, date time.Time) (Period, error)
	// ResolveInput resolves a request naming exactly one of month ("YYYY-MM") or date ("YYYY-MM-DD").
	ResolveInput(ctx context.Context, month string, date string) (Period, error)
	// ResolveByStart returns the period beginning on start, the key allocations are stored under.
	ResolveByStart(ctx context.Context, start time.Time) (Period, error)
	Current(ctx context.Context) (Period, error)
	ListYear(ctx context.Context, year int) ([]Period, error)
	SaveOverride(ctx context.Context, override Override) (Override, error)
	DeleteOverride(ctx context.Context, year int, month time.Month) error
}

type ServiceImpl struct {
	repo       Repository
	defaultCap decimal.Decimal
	clock      utils.Clock
}

func NewService(repo Repository, defaultCap decimal.Decimal, clock utils.Clock) *ServiceImpl {
	return &ServiceImpl{
		repo:       repo,
		defaultCap: defaultCap,
		clock:      clock,
	}
}

func (s *ServiceImpl) Resolve(ctx context.Context, year int, month time.Month) (Period, error) {
	if !validYearMonth(year, month) {
		return Period{}, fmt.Errorf("%w: %d-%02d", ErrInvalidMonth, year, int(month))
	}

	override, err := s.repo.GetOverride(ctx, year, month)
	if err != nil {
		if errors.Is(err, ErrOverrideNotFound) {
			return s.period(year, month, nil), nil
		}
		return Period{}, fmt.Errorf("failed to resolve billing period %d-%02d: %w", year, int(month), err)
	}
	return s.period(year, month, &override), nil
}

func (s *ServiceImpl) ResolveForDate(ctx context.Context, date time.Time) (Period, error) {
	day := utils.DateOf(date)
	override, err := s.repo.FindOverrideContaining(ctx, day)
	if err == nil {
		return s.period(override.Year, override.Month, &override), nil
	}
	if !errors.Is(err, ErrOverrideNotFound) {
		return Period{}, fmt.Errorf("failed to resolve billing period for %s: %w", day.Format(DateLayout), err)
	}
	log.Debugf("no override contains %s, resolving by calendar month", day.Format(DateLayout))
	return s.Resolve(ctx, day.Year(), day.Month())
}

func (s *ServiceImpl) ResolveInput(ctx context.Context, month string, date string) (Period, error) {
	month = strings.TrimSpace(month)
	date = strings.TrimSpace(date)
	if (month == "") == (date == "") {
		return Period{}, ErrPeriodInput
	}

	if month != "" {
		year, m, err := ParseYearMonth(month)
		if err != nil {
			return Period{}, err
		}
		return s.Resolve(ctx, year, m)
	}

	day, err := ParseDate(date)
	if err != nil {
		return Period{}, err
	}
	return s.ResolveForDate(ctx, day)
}

func (s *ServiceImpl) ResolveByStart(ctx context.Context, start time.Time) (Period, error) {
	start = utils.DateOf(start)
	containing, err := s.ResolveForDate(ctx, start)
	if err != nil {
		return Period{}, err
	}
	if containing.Start.Equal(start) {
		return containing, nil
	}

	// An override window may begin in the month before its own.
	next := time.Date(start.Year(), start.Month()+1, 1, 0, 0, 0, 0, time.UTC)
	for _, candidate := range []time.Time{start, next} {
		period, err := s.Resolve(ctx, candidate.Year(), candidate.Month())
		if err != nil {
			return Period{}, err
		}
		if period.Start.Equal(start) {
			return period, nil
		}
	}
	log.Warnf("no billing period starts on %s, using the period containing it", start.Format(DateLayout))
	return containing, nil
}

func (s *ServiceImpl) Current(ctx context.Context) (Period, error) {
	return s.ResolveForDate(ctx, utils.Today(s.clock))
}

func (s *ServiceImpl) ListYear(ctx context.Context, year int) ([]Period, error) {
	if !validYearMonth(year, time.January) {
		return nil, fmt.Errorf("%w: year %d", ErrInvalidMonth, year)
	}

	overrides, err := s.repo.ListOverrides(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing period overrides: %w", err)
	}
	byMonth := make(map[time.Month]Override, len(overrides))
	for _, override := range overrides {
		byMonth[override.Month] = override
	}

	periods := make([]Period, 0, 12)
	for month := time.January; month <= time.December; month++ {
		if override, ok := byMonth[month]; ok {
			periods = append(periods, s.period(year, month, &override))
		} else {
			periods = append(periods, s.period(year, month, nil))
		}
	}
	return periods, nil
}

func (s *ServiceImpl) SaveOverride(ctx context.Context, override Override) (Override, error) {
	if err := validateOverride(override); err != nil {
		return Override{}, err
	}
	if override.hasWindow() {
		start, end := utils.DateOf(*override.StartDate), utils.DateOf(*override.EndDate)
		override.StartDate, override.EndDate = &start, &end
	}
	if override.MonthlyCap.Valid {
		override.MonthlyCap.Decimal = override.MonthlyCap.Decimal.Round(2)
	}

	saved, err := s.repo.SaveOverride(ctx, override)
	if err != nil {
		return Override{}, fmt.Errorf("failed to save billing period override: %w", err)
	}
	log.Infof("billing period override %d-%02d saved", saved.Year, int(saved.Month))
	return saved, nil
}

func (s *ServiceImpl) DeleteOverride(ctx context.Context, year int, month time.Month) error {
	if !validYearMonth(year, month) {
		return fmt.Errorf("%w: %d-%02d", ErrInvalidMonth, year, int(month))
	}
	if err := s.repo.DeleteOverride(ctx, year, month); err != nil {
		if errors.Is(err, ErrOverrideNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete billing period override: %w", err)
	}
	return nil
}

func (s *ServiceImpl) period(year int, month time.Month, override *Override) Period {
	start, end := CalendarMonth(year, month)
	period := Period{
		Year:       year,
		Month:      month,
		Start:      start,
		End:        end,
		MonthlyCap: s.defaultCap,
	}
	if override == nil {
		return period
	}
	if override.hasWindow() {
		period.Start = utils.DateOf(*override.StartDate)
		period.End = utils.DateOf(*override.EndDate)
		period.Overridden = true
	}
	if override.MonthlyCap.Valid {
		period.MonthlyCap = override.MonthlyCap.Decimal
	}
	return period
}

func validateOverride(override Override) error {
	if !validYearMonth(override.Year, override.Month) {
		return fmt.Errorf("%w: %d-%02d", ErrInvalidMonth, override.Year, int(override.Month))
	}
	if (override.StartDate == nil) != (override.EndDate == nil) {
		return fmt.Errorf("%w: start and end date must be given together", ErrInvalidOverride)
	}
	if override.hasWindow() && override.StartDate.After(*override.EndDate) {
		return fmt.Errorf("%w: start date %s is after end date %s", ErrInvalidOverride,
			override.StartDate.Format(DateLayout), override.EndDate.Format(DateLayout))
	}
	if override.MonthlyCap.Valid && override.MonthlyCap.Decimal.IsNegative() {
		return fmt.Errorf("%w: monthly cap must not be negative", ErrInvalidOverride)
	}
	if override.MonthlyCap.Valid && override.MonthlyCap.Decimal.Round(2).GreaterThan(MaxHours) {
		return fmt.Errorf("%w: monthly cap must not exceed %s", ErrInvalidOverride, MaxHours.String())
	}
	return nil
}
