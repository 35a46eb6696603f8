package weekly_allocation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sant-anurag/feas/internal/event_bus"
	"github.com/sant-anurag/feas/pkg/allocation"
	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/sant-anurag/feas/pkg/resource"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var ErrWeeklyAllocationsExist = errors.New("weekly allocations already exist")
var ErrNotAllocationOwner = errors.New("allocation belongs to another resource")
var ErrWeekOutOfRange = errors.New("week number outside the billing period")
var ErrNegativeHours = errors.New("hours must not be negative")
var ErrNoWeeks = errors.New("no weeks given")

type Service interface {
	// GetWeeks returns the stored weeks of the allocation or, when none are stored, an equal split
	// over the weeks of its billing period.
	GetWeeks(ctx context.Context, allocationId int) (Weeks, error)
	SetPercentages(ctx context.Context, allocationId int, percentages map[int]decimal.Decimal) (Weeks, error)
	SetHours(ctx context.Context, allocationId int, hours map[int]decimal.Decimal) (Weeks, error)
	// SplitEvenly stores an equal split over weekCount weeks, all weeks of the period when 0.
	SplitEvenly(ctx context.Context, allocationId int, weekCount int) (Weeks, error)
	// UpdateStatus accepts or rejects weeks on behalf of the resource in ctx.
	UpdateStatus(ctx context.Context, allocationId int, updates []StatusUpdate) (Weeks, error)
}

type AllocationReader interface {
	Get(ctx context.Context, id int) (allocation.Allocation, error)
}

type PeriodResolver interface {
	ResolveByStart(ctx context.Context, start time.Time) (billing_period.Period, error)
}

type ServiceImpl struct {
	repo        Repository
	allocations AllocationReader
	periods     PeriodResolver
}

func NewService(repo Repository, allocations AllocationReader, periods PeriodResolver, eventBus *event_bus.EventBus) *ServiceImpl {
	service := &ServiceImpl{repo: repo, allocations: allocations, periods: periods}
	event_bus.SubscribeTyped[event_bus.AllocationReconciled](
		eventBus,
		event_bus.AllocationReconciledType,
		func(e event_bus.EventT[event_bus.AllocationReconciled]) error {
			log.Debugf("received allocation reconciled event for project %d", e.Data.ProjectId)
			countUpdated, err := service.handleAllocationReconciled(e.Context(), e.Data)
			if err != nil {
				log.Errorf("failed to rescale weekly allocations: %v", err)
				return err
			}
			log.Debugf("rescaled weekly allocations: %d", countUpdated)
			return nil
		},
	)
	return service
}

func (s *ServiceImpl) GetWeeks(ctx context.Context, allocationId int) (Weeks, error) {
	alloc, period, err := s.allocationWithPeriod(ctx, allocationId)
	if err != nil {
		return Weeks{}, err
	}
	stored, err := s.repo.ListForAllocation(ctx, allocationId)
	if err != nil {
		return Weeks{}, fmt.Errorf("failed to list weekly allocations: %w", err)
	}
	weeks := Weeks{AllocationId: allocationId, Period: period, TotalHours: alloc.TotalHours, Weeks: stored}
	if len(stored) > 0 {
		return weeks, nil
	}

	split, err := EqualSplit(alloc.TotalHours, period.TotalWeeks())
	if err != nil {
		return Weeks{}, err
	}
	weeks.Derived = true
	for i, hours := range split {
		weeks.Weeks = append(weeks.Weeks, WeeklyAllocation{
			AllocationId: allocationId,
			WeekNumber:   i + 1,
			Hours:        hours,
			Split:        true,
			Status:       StatusPending,
		})
	}
	return weeks, nil
}

func (s *ServiceImpl) SetPercentages(ctx context.Context, allocationId int, percentages map[int]decimal.Decimal) (Weeks, error) {
	alloc, period, err := s.allocationWithPeriod(ctx, allocationId)
	if err != nil {
		return Weeks{}, err
	}
	if err := validateWeeks(period, percentages); err != nil {
		return Weeks{}, err
	}

	hours := FromPercentages(alloc.TotalHours, percentages)
	rows := make([]WeeklyAllocation, 0, len(percentages))
	for _, week := range sortedWeeks(percentages) {
		rows = append(rows, WeeklyAllocation{
			AllocationId: allocationId,
			WeekNumber:   week,
			Hours:        hours[week],
			Percent:      decimal.NewNullDecimal(ClampPercent(percentages[week]).Round(2)),
		})
	}
	return s.store(ctx, allocationId, rows)
}

func (s *ServiceImpl) SetHours(ctx context.Context, allocationId int, hours map[int]decimal.Decimal) (Weeks, error) {
	_, period, err := s.allocationWithPeriod(ctx, allocationId)
	if err != nil {
		return Weeks{}, err
	}
	if err := validateWeeks(period, hours); err != nil {
		return Weeks{}, err
	}

	rows := make([]WeeklyAllocation, 0, len(hours))
	for _, week := range sortedWeeks(hours) {
		if hours[week].IsNegative() {
			return Weeks{}, fmt.Errorf("%w: week %d", ErrNegativeHours, week)
		}
		rounded := allocation.RoundHours(hours[week])
		if rounded.GreaterThan(billing_period.MaxHours) {
			return Weeks{}, fmt.Errorf("%w: week %d", allocation.ErrHoursTooLarge, week)
		}
		rows = append(rows, WeeklyAllocation{
			AllocationId: allocationId,
			WeekNumber:   week,
			Hours:        rounded,
		})
	}
	return s.store(ctx, allocationId, rows)
}

func (s *ServiceImpl) SplitEvenly(ctx context.Context, allocationId int, weekCount int) (Weeks, error) {
	alloc, period, err := s.allocationWithPeriod(ctx, allocationId)
	if err != nil {
		return Weeks{}, err
	}
	if weekCount == 0 {
		weekCount = period.TotalWeeks()
	}
	if weekCount > period.TotalWeeks() {
		return Weeks{}, fmt.Errorf("%w: %d weeks, period %s has %d", ErrWeekOutOfRange, weekCount, period.Label(), period.TotalWeeks())
	}
	split, err := EqualSplit(alloc.TotalHours, weekCount)
	if err != nil {
		return Weeks{}, err
	}

	rows := make([]WeeklyAllocation, 0, len(split))
	for i, hours := range split {
		rows = append(rows, WeeklyAllocation{AllocationId: allocationId, WeekNumber: i + 1, Hours: hours, Split: true})
	}

	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		existing, err := repo.ListForAllocation(ctx, allocationId)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return ErrWeeklyAllocationsExist
		}
		_, err = repo.Upsert(ctx, rows)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrWeeklyAllocationsExist) {
			return Weeks{}, err
		}
		return Weeks{}, fmt.Errorf("failed to split allocation %d: %w", allocationId, err)
	}
	log.Infof("allocation %d split evenly over %d weeks", allocationId, weekCount)
	return s.GetWeeks(ctx, allocationId)
}

func (s *ServiceImpl) UpdateStatus(ctx context.Context, allocationId int, updates []StatusUpdate) (Weeks, error) {
	current, err := resource.CurrentResource(ctx)
	if err != nil {
		return Weeks{}, err
	}
	alloc, period, err := s.allocationWithPeriod(ctx, allocationId)
	if err != nil {
		return Weeks{}, err
	}
	if alloc.ResourceId != current.Id {
		return Weeks{}, ErrNotAllocationOwner
	}

	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		for _, update := range updates {
			status, ok := ParseStatusAction(update.Action)
			if !ok {
				log.Warnf("allocation %d week %d: skipping unknown status action %q", allocationId, update.WeekNumber, update.Action)
				continue
			}
			if !period.ValidWeek(update.WeekNumber) {
				return fmt.Errorf("%w: week %d", ErrWeekOutOfRange, update.WeekNumber)
			}
			if err := repo.UpdateStatus(ctx, allocationId, update.WeekNumber, status); err != nil {
				if errors.Is(err, ErrWeekNotFound) {
					return fmt.Errorf("week %d: %w", update.WeekNumber, err)
				}
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Weeks{}, err
	}
	return s.GetWeeks(ctx, allocationId)
}

func (s *ServiceImpl) store(ctx context.Context, allocationId int, rows []WeeklyAllocation) (Weeks, error) {
	err := s.repo.WithTransaction(ctx, func(repo Repository) error {
		_, err := repo.Upsert(ctx, rows)
		return err
	})
	if err != nil {
		return Weeks{}, fmt.Errorf("failed to store weekly allocations of allocation %d: %w", allocationId, err)
	}
	return s.GetWeeks(ctx, allocationId)
}

func (s *ServiceImpl) allocationWithPeriod(ctx context.Context, allocationId int) (allocation.Allocation, billing_period.Period, error) {
	alloc, err := s.allocations.Get(ctx, allocationId)
	if err != nil {
		return allocation.Allocation{}, billing_period.Period{}, err
	}
	period, err := s.periods.ResolveByStart(ctx, alloc.PeriodStart)
	if err != nil {
		return allocation.Allocation{}, billing_period.Period{}, err
	}
	return alloc, period, nil
}

// handleAllocationReconciled brings the weeks of every allocation whose total changed in line with
// the new total: percent weeks are recomputed from their percent, split weeks share what the other
// weeks leave of the total.
func (s *ServiceImpl) handleAllocationReconciled(ctx context.Context, event event_bus.AllocationReconciled) (int, error) {
	updated := 0
	err := s.repo.WithTransaction(ctx, func(repo Repository) error {
		for _, total := range event.Totals {
			weeks, err := repo.ListForAllocation(ctx, total.AllocationId)
			if err != nil {
				return err
			}
			rescaled, err := rescaleWeeks(total.AllocationId, total.TotalHours, weeks)
			if err != nil {
				return err
			}
			if _, err := repo.Upsert(ctx, rescaled); err != nil {
				return err
			}
			updated += len(rescaled)
		}
		return nil
	})
	return updated, err
}

// rescaleWeeks returns the weeks whose hours change under a new allocation total.
func rescaleWeeks(allocationId int, total decimal.Decimal, weeks []WeeklyAllocation) ([]WeeklyAllocation, error) {
	var changed, split []WeeklyAllocation
	remaining := total
	for _, week := range weeks {
		switch {
		case week.Split:
			split = append(split, week)
			continue
		case week.Percent.Valid:
			hours := FromPercentages(total, map[int]decimal.Decimal{week.WeekNumber: week.Percent.Decimal})[week.WeekNumber]
			if !hours.Equal(week.Hours) {
				week.Hours = hours
				changed = append(changed, week)
			}
		}
		remaining = remaining.Sub(week.Hours)
	}
	if len(split) == 0 {
		return changed, nil
	}

	if remaining.IsNegative() {
		log.Warnf("allocation %d: fixed weeks exceed the total %s, split weeks set to zero", allocationId, total.StringFixed(2))
		remaining = decimal.Zero
	}
	hours, err := EqualSplit(remaining, len(split))
	if err != nil {
		return nil, err
	}
	for i, week := range split {
		if hours[i].Equal(week.Hours) {
			continue
		}
		week.Hours = hours[i]
		changed = append(changed, week)
	}
	return changed, nil
}

func validateWeeks(period billing_period.Period, values map[int]decimal.Decimal) error {
	if len(values) == 0 {
		return ErrNoWeeks
	}
	for week := range values {
		if !period.ValidWeek(week) {
			return fmt.Errorf("%w: week %d, period %s has %d", ErrWeekOutOfRange, week, period.Label(), period.TotalWeeks())
		}
	}
	return nil
}

func sortedWeeks(values map[int]decimal.Decimal) []int {
	weeks := make([]int, 0, len(values))
	for week := range values {
		weeks = append(weeks, week)
	}
	sort.Ints(weeks)
	return weeks
}
