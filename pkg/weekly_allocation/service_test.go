package weekly_allocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sant-anurag/feas/internal/event_bus"
	"github.com/sant-anurag/feas/internal/utils"
	"github.com/sant-anurag/feas/pkg/allocation"
	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/sant-anurag/feas/pkg/resource"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type allocationReaderStub struct {
	allocations map[int]allocation.Allocation
}

func (a *allocationReaderStub) Get(ctx context.Context, id int) (allocation.Allocation, error) {
	found, ok := a.allocations[id]
	if !ok {
		return allocation.Allocation{}, allocation.ErrAllocationNotFound
	}
	return found, nil
}

type testEnv struct {
	ctx         context.Context
	service     *ServiceImpl
	repo        *RepositoryStub
	allocations *allocationReaderStub
	bus         *event_bus.EventBus
}

const (
	aliceId      = 11
	marchAlloc   = 1
	juneAlloc    = 2
	unknownAlloc = 99
)

func date(value string) time.Time {
	d, err := billing_period.ParseDate(value)
	if err != nil {
		panic(err)
	}
	return d
}

func setupService(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	periodRepo := billing_period.NewRepositoryStub()
	start, end := date("2025-03-21"), date("2025-04-20")
	_, err := periodRepo.SaveOverride(ctx, billing_period.Override{
		Year:       2025,
		Month:      time.March,
		StartDate:  &start,
		EndDate:    &end,
		MonthlyCap: decimal.NewNullDecimal(dec("160")),
	})
	require.NoError(t, err)
	clock := &utils.MockClock{FixedNow: date("2025-03-25")}
	periods := billing_period.NewService(periodRepo, dec("183.75"), clock)

	allocations := &allocationReaderStub{allocations: map[int]allocation.Allocation{
		marchAlloc: {Id: marchAlloc, ResourceId: aliceId, ProjectId: 7, PeriodStart: start, TotalHours: dec("160")},
		juneAlloc:  {Id: juneAlloc, ResourceId: aliceId, ProjectId: 7, PeriodStart: date("2025-06-01"), TotalHours: dec("100")},
	}}
	repo := NewRepositoryStub()
	bus := event_bus.NewEventBus()
	return testEnv{
		ctx:         resource.WithResource(ctx, resource.Resource{Id: aliceId, Identifier: "alice"}),
		service:     NewService(repo, allocations, periods, bus),
		repo:        repo,
		allocations: allocations,
		bus:         bus,
	}
}

func hoursOf(weeks Weeks) []string {
	result := make([]string, 0, len(weeks.Weeks))
	for _, w := range weeks.Weeks {
		result = append(result, w.Hours.StringFixed(2))
	}
	return result
}

func TestServiceImpl_GetWeeks(t *testing.T) {
	t.Run("should derive equal split over the weeks of the period when nothing is stored", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		weeks, err := env.service.GetWeeks(env.ctx, juneAlloc)

		// then
		require.NoError(t, err)
		assert.True(t, weeks.Derived)
		assert.Equal(t, 5, weeks.Period.TotalWeeks())
		assert.Equal(t, []string{"20.00", "20.00", "20.00", "20.00", "20.00"}, hoursOf(weeks))
		stored, err := env.repo.ListForAllocation(env.ctx, juneAlloc)
		require.NoError(t, err)
		assert.Empty(t, stored)
	})

	t.Run("should return not found for unknown allocation", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		_, err := env.service.GetWeeks(env.ctx, unknownAlloc)

		// then
		assert.ErrorIs(t, err, allocation.ErrAllocationNotFound)
	})
}

func TestServiceImpl_SplitEvenly(t *testing.T) {
	t.Run("should split overridden period total into four equal weeks", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		weeks, err := env.service.SplitEvenly(env.ctx, marchAlloc, 4)

		// then
		require.NoError(t, err)
		assert.False(t, weeks.Derived)
		assert.Equal(t, "2025-03-21", weeks.Period.Start.Format(billing_period.DateLayout))
		assert.Equal(t, []string{"40.00", "40.00", "40.00", "40.00"}, hoursOf(weeks))
		for _, w := range weeks.Weeks {
			assert.Equal(t, StatusPending, w.Status)
		}
	})

	t.Run("should use all weeks of the period when week count is zero", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		weeks, err := env.service.SplitEvenly(env.ctx, juneAlloc, 0)

		// then
		require.NoError(t, err)
		assert.Len(t, weeks.Weeks, 5)
	})

	t.Run("should refuse when weeks already exist", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.SplitEvenly(env.ctx, marchAlloc, 4)
		require.NoError(t, err)

		// when
		_, err = env.service.SplitEvenly(env.ctx, marchAlloc, 4)

		// then
		assert.ErrorIs(t, err, ErrWeeklyAllocationsExist)
	})

	t.Run("should reject more weeks than the period has", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		_, err := env.service.SplitEvenly(env.ctx, juneAlloc, 6)

		// then
		assert.ErrorIs(t, err, ErrWeekOutOfRange)
	})

	t.Run("should reject negative week count", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		_, err := env.service.SplitEvenly(env.ctx, juneAlloc, -1)

		// then
		assert.ErrorIs(t, err, ErrInvalidWeekCount)
	})
}

func TestServiceImpl_SetPercentagesAndHours(t *testing.T) {
	t.Run("should store percentages with derived hours", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		weeks, err := env.service.SetPercentages(env.ctx, juneAlloc, map[int]decimal.Decimal{
			1: dec("50"),
			2: dec("120"),
		})

		// then
		require.NoError(t, err)
		require.Len(t, weeks.Weeks, 2)
		assert.Equal(t, "50.00", weeks.Weeks[0].Hours.StringFixed(2))
		assert.Equal(t, "100.00", weeks.Weeks[1].Hours.StringFixed(2))
		assert.Equal(t, "100.00", weeks.Weeks[1].Percent.Decimal.StringFixed(2))
	})

	t.Run("should store explicit hours and clear percent", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.SetPercentages(env.ctx, juneAlloc, map[int]decimal.Decimal{1: dec("50")})
		require.NoError(t, err)

		// when
		weeks, err := env.service.SetHours(env.ctx, juneAlloc, map[int]decimal.Decimal{1: dec("12.345")})

		// then
		require.NoError(t, err)
		require.Len(t, weeks.Weeks, 1)
		assert.Equal(t, "12.35", weeks.Weeks[0].Hours.StringFixed(2))
		assert.False(t, weeks.Weeks[0].Percent.Valid)
	})

	t.Run("should reject week outside the period", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		_, err := env.service.SetHours(env.ctx, marchAlloc, map[int]decimal.Decimal{6: dec("1")})

		// then
		assert.ErrorIs(t, err, ErrWeekOutOfRange)
	})

	t.Run("should reject negative hours", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		_, err := env.service.SetHours(env.ctx, marchAlloc, map[int]decimal.Decimal{1: dec("-1")})

		// then
		assert.ErrorIs(t, err, ErrNegativeHours)
	})

	t.Run("should reject hours above the storable maximum", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		_, err := env.service.SetHours(env.ctx, marchAlloc, map[int]decimal.Decimal{1: dec("100000000")})

		// then
		assert.ErrorIs(t, err, allocation.ErrHoursTooLarge)
	})

	t.Run("should reject empty input", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		_, err := env.service.SetPercentages(env.ctx, marchAlloc, map[int]decimal.Decimal{})

		// then
		assert.ErrorIs(t, err, ErrNoWeeks)
	})

	t.Run("should wrap storage errors", func(t *testing.T) {
		// given
		env := setupService(t)
		storageErr := errors.New("connection reset")
		env.repo.SetError(storageErr)

		// when
		_, err := env.service.SetHours(env.ctx, marchAlloc, map[int]decimal.Decimal{1: dec("1")})

		// then
		assert.ErrorIs(t, err, storageErr)
	})
}

func TestServiceImpl_UpdateStatus(t *testing.T) {
	t.Run("should accept and reject weeks skipping unknown actions", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.SplitEvenly(env.ctx, marchAlloc, 4)
		require.NoError(t, err)

		// when
		weeks, err := env.service.UpdateStatus(env.ctx, marchAlloc, []StatusUpdate{
			{WeekNumber: 1, Action: "ACCEPT"},
			{WeekNumber: 2, Action: "rejected"},
			{WeekNumber: 3, Action: "MAYBE"},
		})

		// then
		require.NoError(t, err)
		assert.Equal(t, StatusAccepted, weeks.Weeks[0].Status)
		assert.Equal(t, StatusRejected, weeks.Weeks[1].Status)
		assert.Equal(t, StatusPending, weeks.Weeks[2].Status)
	})

	t.Run("should refuse a resource that does not own the allocation", func(t *testing.T) {
		// given
		env := setupService(t)
		ctx := resource.WithResource(context.Background(), resource.Resource{Id: 12, Identifier: "bob"})

		// when
		_, err := env.service.UpdateStatus(ctx, marchAlloc, []StatusUpdate{{WeekNumber: 1, Action: "ACCEPT"}})

		// then
		assert.ErrorIs(t, err, ErrNotAllocationOwner)
	})

	t.Run("should require a resource", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		_, err := env.service.UpdateStatus(context.Background(), marchAlloc, []StatusUpdate{{WeekNumber: 1, Action: "ACCEPT"}})

		// then
		assert.ErrorIs(t, err, resource.ErrNoResource)
	})

	t.Run("should fail for week without stored row and keep earlier updates rolled back", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.SetHours(env.ctx, marchAlloc, map[int]decimal.Decimal{1: dec("10")})
		require.NoError(t, err)

		// when
		_, err = env.service.UpdateStatus(env.ctx, marchAlloc, []StatusUpdate{
			{WeekNumber: 1, Action: "ACCEPT"},
			{WeekNumber: 2, Action: "ACCEPT"},
		})

		// then
		assert.ErrorIs(t, err, ErrWeekNotFound)
		week, err := env.repo.GetWeek(env.ctx, marchAlloc, 1)
		require.NoError(t, err)
		assert.Equal(t, StatusPending, week.Status)
	})

	t.Run("should reset status when hours change", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.SetHours(env.ctx, marchAlloc, map[int]decimal.Decimal{1: dec("10"), 2: dec("10")})
		require.NoError(t, err)
		_, err = env.service.UpdateStatus(env.ctx, marchAlloc, []StatusUpdate{
			{WeekNumber: 1, Action: "ACCEPT"},
			{WeekNumber: 2, Action: "ACCEPT"},
		})
		require.NoError(t, err)

		// when
		weeks, err := env.service.SetHours(env.ctx, marchAlloc, map[int]decimal.Decimal{1: dec("10"), 2: dec("12")})

		// then
		require.NoError(t, err)
		assert.Equal(t, StatusAccepted, weeks.Weeks[0].Status)
		assert.Equal(t, StatusPending, weeks.Weeks[1].Status)
	})
}

func TestServiceImpl_AllocationReconciled(t *testing.T) {
	t.Run("should rescale percent weeks when the allocation total changes", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.SetPercentages(env.ctx, juneAlloc, map[int]decimal.Decimal{1: dec("25"), 2: dec("75")})
		require.NoError(t, err)
		_, err = env.service.SetHours(env.ctx, marchAlloc, map[int]decimal.Decimal{1: dec("10")})
		require.NoError(t, err)

		// when
		err = event_bus.PublishTyped(env.ctx, env.bus, event_bus.AllocationReconciledType, event_bus.AllocationReconciled{
			ProjectId:   7,
			PeriodStart: date("2025-06-01"),
			Totals: []event_bus.AllocationTotalChanged{
				{AllocationId: juneAlloc, PreviousTotal: dec("100"), TotalHours: dec("80")},
				{AllocationId: marchAlloc, PreviousTotal: dec("160"), TotalHours: dec("100")},
			},
		})

		// then
		require.NoError(t, err)
		june, err := env.repo.ListForAllocation(env.ctx, juneAlloc)
		require.NoError(t, err)
		assert.Equal(t, "20.00", june[0].Hours.StringFixed(2))
		assert.Equal(t, "60.00", june[1].Hours.StringFixed(2))
		march, err := env.repo.ListForAllocation(env.ctx, marchAlloc)
		require.NoError(t, err)
		assert.Equal(t, "10.00", march[0].Hours.StringFixed(2))
	})

	t.Run("should split again evenly split weeks when the total changes", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.SplitEvenly(env.ctx, marchAlloc, 4)
		require.NoError(t, err)
		march := env.allocations.allocations[marchAlloc]
		march.TotalHours = dec("200")
		env.allocations.allocations[marchAlloc] = march

		// when
		err = event_bus.PublishTyped(env.ctx, env.bus, event_bus.AllocationReconciledType, event_bus.AllocationReconciled{
			ProjectId:   7,
			PeriodStart: date("2025-03-21"),
			Totals: []event_bus.AllocationTotalChanged{
				{AllocationId: marchAlloc, PreviousTotal: dec("160"), TotalHours: dec("200")},
			},
		})

		// then
		require.NoError(t, err)
		weeks, err := env.service.GetWeeks(env.ctx, marchAlloc)
		require.NoError(t, err)
		assert.False(t, weeks.Derived)
		assert.Equal(t, []string{"50.00", "50.00", "50.00", "50.00"}, hoursOf(weeks))
		sum := decimal.Zero
		for _, week := range weeks.Weeks {
			assert.True(t, week.Split)
			sum = sum.Add(week.Hours)
		}
		assert.True(t, sum.Equal(weeks.TotalHours), "weekly sum %s, total %s", sum, weeks.TotalHours)
	})

	t.Run("should put the remainder of a new total on the last split week", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.SplitEvenly(env.ctx, marchAlloc, 3)
		require.NoError(t, err)

		// when
		err = event_bus.PublishTyped(env.ctx, env.bus, event_bus.AllocationReconciledType, event_bus.AllocationReconciled{
			Totals: []event_bus.AllocationTotalChanged{
				{AllocationId: marchAlloc, PreviousTotal: dec("160"), TotalHours: dec("100")},
			},
		})

		// then
		require.NoError(t, err)
		march, err := env.repo.ListForAllocation(env.ctx, marchAlloc)
		require.NoError(t, err)
		require.Len(t, march, 3)
		assert.Equal(t, "33.33", march[0].Hours.StringFixed(2))
		assert.Equal(t, "33.33", march[1].Hours.StringFixed(2))
		assert.Equal(t, "33.34", march[2].Hours.StringFixed(2))
	})

	t.Run("should share only what fixed weeks leave among split weeks", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.SplitEvenly(env.ctx, marchAlloc, 4)
		require.NoError(t, err)
		_, err = env.service.SetHours(env.ctx, marchAlloc, map[int]decimal.Decimal{1: dec("70")})
		require.NoError(t, err)

		// when
		err = event_bus.PublishTyped(env.ctx, env.bus, event_bus.AllocationReconciledType, event_bus.AllocationReconciled{
			Totals: []event_bus.AllocationTotalChanged{
				{AllocationId: marchAlloc, PreviousTotal: dec("160"), TotalHours: dec("190")},
			},
		})

		// then
		require.NoError(t, err)
		march, err := env.repo.ListForAllocation(env.ctx, marchAlloc)
		require.NoError(t, err)
		require.Len(t, march, 4)
		assert.False(t, march[0].Split)
		assert.Equal(t, "70.00", march[0].Hours.StringFixed(2))
		for _, week := range march[1:] {
			assert.True(t, week.Split)
			assert.Equal(t, "40.00", week.Hours.StringFixed(2))
			assert.Equal(t, StatusPending, week.Status)
		}
	})

	t.Run("should zero split weeks when fixed weeks exceed the new total", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.SplitEvenly(env.ctx, marchAlloc, 2)
		require.NoError(t, err)
		_, err = env.service.SetHours(env.ctx, marchAlloc, map[int]decimal.Decimal{1: dec("90")})
		require.NoError(t, err)

		// when
		err = event_bus.PublishTyped(env.ctx, env.bus, event_bus.AllocationReconciledType, event_bus.AllocationReconciled{
			Totals: []event_bus.AllocationTotalChanged{
				{AllocationId: marchAlloc, PreviousTotal: dec("160"), TotalHours: dec("50")},
			},
		})

		// then
		require.NoError(t, err)
		week2, err := env.repo.GetWeek(env.ctx, marchAlloc, 2)
		require.NoError(t, err)
		assert.True(t, week2.Hours.IsZero())
	})

	t.Run("should report storage failures to the publisher", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.SplitEvenly(env.ctx, marchAlloc, 4)
		require.NoError(t, err)
		env.repo.SetError(errors.New("connection refused"))

		// when
		err = event_bus.PublishTyped(env.ctx, env.bus, event_bus.AllocationReconciledType, event_bus.AllocationReconciled{
			Totals: []event_bus.AllocationTotalChanged{
				{AllocationId: marchAlloc, PreviousTotal: dec("160"), TotalHours: dec("200")},
			},
		})

		// then
		assert.Error(t, err)
	})
}
