package punch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sant-anurag/feas/internal/utils"
	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var ErrNotAllocationOwner = errors.New("allocation belongs to another resource")
var ErrPunchOutsidePeriod = errors.New("date is outside the billing period of the allocation")
var ErrNegativeHours = errors.New("hours must not be negative")
var ErrHoursTooLarge = errors.New("hours exceed the storable maximum")

type Service interface {
	// RecordPunch stores the hours worked on a day, refusing them when the week would exceed its
	// weekly allocation.
	RecordPunch(ctx context.Context, request PunchRequest) (Punch, error)
	ListPunches(ctx context.Context, resourceId int, allocationId int) (Ledger, error)
	WeekSummary(ctx context.Context, resourceId int, allocationId int) ([]WeekTotal, error)
}

type PeriodResolver interface {
	ResolveForDate(ctx context.Context, date time.Time) (billing_period.Period, error)
	ResolveByStart(ctx context.Context, start time.Time) (billing_period.Period, error)
}

type ServiceImpl struct {
	repo           Repository
	periods        PeriodResolver
	lockAllocation bool
}

func NewService(repo Repository, periods PeriodResolver, lockAllocation bool) *ServiceImpl {
	return &ServiceImpl{
		repo:           repo,
		periods:        periods,
		lockAllocation: lockAllocation,
	}
}

func (s *ServiceImpl) RecordPunch(ctx context.Context, request PunchRequest) (Punch, error) {
	if request.Hours.IsNegative() {
		return Punch{}, fmt.Errorf("%w: %s", ErrNegativeHours, request.Hours.String())
	}
	date := utils.DateOf(request.Date)
	hours := request.Hours.Round(2)
	if hours.GreaterThan(billing_period.MaxHours) {
		return Punch{}, fmt.Errorf("%w: %s", ErrHoursTooLarge, hours.String())
	}

	period, err := s.periods.ResolveForDate(ctx, date)
	if err != nil {
		return Punch{}, err
	}
	week := period.WeekNumber(date)

	var stored Punch
	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		allocation, err := repo.GetAllocation(ctx, request.AllocationId, s.lockAllocation)
		if err != nil {
			return err
		}
		if allocation.ResourceId != request.ResourceId {
			return ErrNotAllocationOwner
		}
		if !allocation.PeriodStart.Equal(period.Start) {
			return fmt.Errorf("%w: %s belongs to %s", ErrPunchOutsidePeriod, date.Format(billing_period.DateLayout), period.Label())
		}

		weeklyCap, err := repo.WeeklyCap(ctx, allocation.Id, week)
		if err != nil {
			return err
		}
		from, to := period.WeekWindow(week)
		punched, err := repo.SumHours(ctx, request.ResourceId, allocation.Id, from, to, date)
		if err != nil {
			return err
		}
		if punched.Add(hours).GreaterThan(weeklyCap) {
			return &WeeklyCapExceededError{
				WeekNumber: week,
				Cap:        weeklyCap,
				Punched:    punched,
				Requested:  hours,
			}
		}

		stored, err = repo.Upsert(ctx, Punch{
			ResourceId:   request.ResourceId,
			AllocationId: allocation.Id,
			Date:         date,
			WeekNumber:   week,
			Hours:        hours,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ErrWeeklyCapExceeded) {
			log.Infof("punch of resource %d on %s refused: %v", request.ResourceId, date.Format(billing_period.DateLayout), err)
		}
		return Punch{}, err
	}

	log.Debugf("resource %d punched %s hours on allocation %d for %s (week %d)",
		stored.ResourceId, stored.Hours.StringFixed(2), stored.AllocationId, date.Format(billing_period.DateLayout), week)
	return stored, nil
}

func (s *ServiceImpl) ListPunches(ctx context.Context, resourceId int, allocationId int) (Ledger, error) {
	allocation, period, err := s.ownedAllocation(ctx, resourceId, allocationId)
	if err != nil {
		return Ledger{}, err
	}
	punches, err := s.repo.List(ctx, resourceId, allocation.Id, period.Start, period.End)
	if err != nil {
		return Ledger{}, fmt.Errorf("failed to list punches: %w", err)
	}
	caps, err := s.repo.ListWeeklyCaps(ctx, allocation.Id)
	if err != nil {
		return Ledger{}, fmt.Errorf("failed to list weekly caps: %w", err)
	}
	return Ledger{
		AllocationId: allocation.Id,
		Period:       period,
		Punches:      punches,
		Weeks:        weekTotals(period, punches, caps),
	}, nil
}

func (s *ServiceImpl) WeekSummary(ctx context.Context, resourceId int, allocationId int) ([]WeekTotal, error) {
	ledger, err := s.ListPunches(ctx, resourceId, allocationId)
	if err != nil {
		return nil, err
	}
	return ledger.Weeks, nil
}

func (s *ServiceImpl) ownedAllocation(ctx context.Context, resourceId int, allocationId int) (AllocationRef, billing_period.Period, error) {
	allocation, err := s.repo.GetAllocation(ctx, allocationId, false)
	if err != nil {
		return AllocationRef{}, billing_period.Period{}, err
	}
	if allocation.ResourceId != resourceId {
		return AllocationRef{}, billing_period.Period{}, ErrNotAllocationOwner
	}
	period, err := s.periods.ResolveByStart(ctx, allocation.PeriodStart)
	if err != nil {
		return AllocationRef{}, billing_period.Period{}, err
	}
	return allocation, period, nil
}

func weekTotals(period billing_period.Period, punches []Punch, caps map[int]decimal.Decimal) []WeekTotal {
	totals := make([]WeekTotal, 0, period.TotalWeeks())
	for week := 1; week <= period.TotalWeeks(); week++ {
		from, to := period.WeekWindow(week)
		total := WeekTotal{WeekNumber: week, Start: from, End: to, Punched: decimal.Zero}
		if weeklyCap, ok := caps[week]; ok {
			total.Allocated = decimal.NewNullDecimal(weeklyCap)
		}
		totals = append(totals, total)
	}
	for _, punch := range punches {
		week := period.WeekNumber(punch.Date)
		totals[week-1].Punched = totals[week-1].Punched.Add(punch.Hours)
	}
	return totals
}
