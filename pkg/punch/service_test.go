package punch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sant-anurag/feas/internal/utils"
	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceId    = 11
	bobId      = 12
	marchAlloc = 1
	juneAlloc  = 2
)

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func date(value string) time.Time {
	d, err := billing_period.ParseDate(value)
	if err != nil {
		panic(err)
	}
	return d
}

type testEnv struct {
	ctx     context.Context
	service *ServiceImpl
	repo    *RepositoryStub
}

// setupService prepares the March 2025 override (2025-03-21..2025-04-20) with a 160 hour allocation
// split into four weeks of 40.
func setupService(t *testing.T, lockAllocation bool) testEnv {
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
	periods := billing_period.NewService(periodRepo, dec("183.75"), &utils.MockClock{FixedNow: start})

	repo := NewRepositoryStub()
	repo.AddAllocation(AllocationRef{Id: marchAlloc, ResourceId: aliceId, PeriodStart: start})
	repo.AddAllocation(AllocationRef{Id: juneAlloc, ResourceId: aliceId, PeriodStart: date("2025-06-01")})
	for week := 1; week <= 4; week++ {
		repo.SetWeeklyCap(marchAlloc, week, dec("40"))
	}
	return testEnv{
		ctx:     ctx,
		service: NewService(repo, periods, lockAllocation),
		repo:    repo,
	}
}

func punchOf(allocationId int, day string, hours string) PunchRequest {
	return PunchRequest{ResourceId: aliceId, AllocationId: allocationId, Date: date(day), Hours: dec(hours)}
}

func TestServiceImpl_RecordPunch(t *testing.T) {
	t.Run("should refuse punch exceeding the weekly allocation and keep the ledger unchanged", func(t *testing.T) {
		// given
		env := setupService(t, false)
		first, err := env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-03-25", "38"))
		require.NoError(t, err)

		// when
		_, err = env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-03-26", "3"))

		// then
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrWeeklyCapExceeded)
		var capErr *WeeklyCapExceededError
		require.True(t, errors.As(err, &capErr))
		assert.Equal(t, 1, capErr.WeekNumber)
		assert.Contains(t, err.Error(), "exceeds weekly allocation 40.00")
		assert.Equal(t, 1, first.WeekNumber)

		ledger, err := env.service.ListPunches(env.ctx, aliceId, marchAlloc)
		require.NoError(t, err)
		require.Len(t, ledger.Punches, 1)
		assert.Equal(t, "38.00", ledger.Punches[0].Hours.StringFixed(2))
	})

	t.Run("should allow filling the week exactly", func(t *testing.T) {
		// given
		env := setupService(t, false)
		_, err := env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-03-25", "38"))
		require.NoError(t, err)

		// when
		punch, err := env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-03-27", "2"))

		// then
		require.NoError(t, err)
		assert.Equal(t, "2.00", punch.Hours.StringFixed(2))
	})

	t.Run("should replace the punch of the same day instead of adding to it", func(t *testing.T) {
		// given
		env := setupService(t, false)
		first, err := env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-03-25", "38"))
		require.NoError(t, err)

		// when
		second, err := env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-03-25", "40"))

		// then
		require.NoError(t, err)
		assert.Equal(t, first.Id, second.Id)
		assert.Equal(t, "40.00", second.Hours.StringFixed(2))
	})

	t.Run("should count punches of the next week separately", func(t *testing.T) {
		// given
		env := setupService(t, false)
		_, err := env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-03-27", "40"))
		require.NoError(t, err)

		// when
		punch, err := env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-03-28", "40"))

		// then
		require.NoError(t, err)
		assert.Equal(t, 2, punch.WeekNumber)
	})

	t.Run("should fail when the week has no weekly allocation", func(t *testing.T) {
		// given
		env := setupService(t, false)

		// when
		_, err := env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-04-19", "1"))

		// then
		assert.ErrorIs(t, err, ErrNoWeeklyAllocation)
		assert.EqualError(t, err, "no weekly allocation found")
	})

	t.Run("should refuse punch for another resource's allocation", func(t *testing.T) {
		// given
		env := setupService(t, false)
		request := punchOf(marchAlloc, "2025-03-25", "1")
		request.ResourceId = bobId

		// when
		_, err := env.service.RecordPunch(env.ctx, request)

		// then
		assert.ErrorIs(t, err, ErrNotAllocationOwner)
	})

	t.Run("should refuse date outside the allocation's period", func(t *testing.T) {
		// given
		env := setupService(t, false)

		// when
		_, err := env.service.RecordPunch(env.ctx, punchOf(juneAlloc, "2025-03-25", "1"))

		// then
		assert.ErrorIs(t, err, ErrPunchOutsidePeriod)
	})

	t.Run("should refuse negative hours", func(t *testing.T) {
		// given
		env := setupService(t, false)

		// when
		_, err := env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-03-25", "-1"))

		// then
		assert.ErrorIs(t, err, ErrNegativeHours)
	})

	t.Run("should refuse hours above the storable maximum", func(t *testing.T) {
		// given
		env := setupService(t, false)

		// when
		_, err := env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-03-25", "100000000"))

		// then
		assert.ErrorIs(t, err, ErrHoursTooLarge)
	})

	t.Run("should return not found for unknown allocation", func(t *testing.T) {
		// given
		env := setupService(t, false)

		// when
		_, err := env.service.RecordPunch(env.ctx, punchOf(99, "2025-03-25", "1"))

		// then
		assert.ErrorIs(t, err, ErrAllocationNotFound)
	})

	t.Run("should lock the allocation when configured", func(t *testing.T) {
		// given
		env := setupService(t, true)

		// when
		_, err := env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-03-25", "1"))

		// then
		require.NoError(t, err)
		assert.Equal(t, []int{marchAlloc}, env.repo.Locked())
	})
}

func TestServiceImpl_WeekSummary(t *testing.T) {
	t.Run("should compare allocated and punched hours per week", func(t *testing.T) {
		// given
		env := setupService(t, false)
		_, err := env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-03-21", "8"))
		require.NoError(t, err)
		_, err = env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-03-24", "6.5"))
		require.NoError(t, err)
		_, err = env.service.RecordPunch(env.ctx, punchOf(marchAlloc, "2025-04-10", "4"))
		require.NoError(t, err)

		// when
		weeks, err := env.service.WeekSummary(env.ctx, aliceId, marchAlloc)

		// then
		require.NoError(t, err)
		require.Len(t, weeks, 5)
		assert.Equal(t, "14.50", weeks[0].Punched.StringFixed(2))
		assert.Equal(t, "40.00", weeks[0].Allocated.Decimal.StringFixed(2))
		assert.Equal(t, "4.00", weeks[2].Punched.StringFixed(2))
		assert.True(t, weeks[1].Punched.IsZero())
		assert.False(t, weeks[4].Allocated.Valid)
		assert.Equal(t, date("2025-04-18"), weeks[4].Start)
		assert.Equal(t, date("2025-04-20"), weeks[4].End)
	})

	t.Run("should refuse another resource", func(t *testing.T) {
		// given
		env := setupService(t, false)

		// when
		_, err := env.service.WeekSummary(env.ctx, bobId, marchAlloc)

		// then
		assert.ErrorIs(t, err, ErrNotAllocationOwner)
	})
}
