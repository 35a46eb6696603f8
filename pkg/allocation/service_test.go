package allocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sant-anurag/feas/internal/event_bus"
	"github.com/sant-anurag/feas/internal/utils"
	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/sant-anurag/feas/pkg/resource"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// directoryStub mirrors resources into the allocation stub so listed allocations carry identifiers.
type directoryStub struct {
	resources resource.Service
	repo      *RepositoryStub
}

func (d directoryStub) FindOrCreate(ctx context.Context, identifier string) (resource.Resource, error) {
	r, err := d.resources.FindOrCreate(ctx, identifier)
	if err == nil {
		d.repo.RegisterResource(r.Id, r.Identifier)
	}
	return r, err
}

type testEnv struct {
	ctx     context.Context
	service *ServiceImpl
	repo    *RepositoryStub
	bus     *event_bus.EventBus
	periods *billing_period.ServiceImpl
}

func setupService(t *testing.T) testEnv {
	t.Helper()
	repo := NewRepositoryStub()
	directory := directoryStub{resources: resource.NewService(resource.NewRepositoryStub()), repo: repo}
	clock := &utils.MockClock{FixedNow: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)}
	periods := billing_period.NewService(billing_period.NewRepositoryStub(), decimal.RequireFromString("183.75"), clock)
	bus := event_bus.NewEventBus()
	return testEnv{
		ctx:     context.Background(),
		service: NewService(repo, directory, periods, bus),
		repo:    repo,
		bus:     bus,
		periods: periods,
	}
}

func hours(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}

func juneRequest(items ...ReconcileItem) ReconcileRequest {
	return ReconcileRequest{ProjectId: 7, Month: "2025-06", Items: items}
}

func TestServiceImpl_Reconcile(t *testing.T) {
	t.Run("should create allocations and items per resource", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		result, err := env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("10")},
			ReconcileItem{Resource: "alice", GroupingKey: "WI-2", Hours: hours("5.5")},
			ReconcileItem{Resource: "bob", GroupingKey: "WI-1", Hours: hours("20")},
		))

		// then
		require.NoError(t, err)
		assert.Equal(t, 3, result.Inserted)
		assert.Equal(t, "2025-06-01", result.Period.Start.Format(billing_period.DateLayout))
		require.Len(t, result.Allocations, 2)
		assert.Equal(t, "alice", result.Allocations[0].ResourceIdentifier)
		assert.Equal(t, "15.50", result.Allocations[0].TotalHours.StringFixed(2))
		assert.Equal(t, "bob", result.Allocations[1].ResourceIdentifier)
		assert.Equal(t, "20.00", result.Allocations[1].TotalHours.StringFixed(2))
	})

	t.Run("should be idempotent", func(t *testing.T) {
		// given
		env := setupService(t)
		request := juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("10")},
			ReconcileItem{Resource: "bob", GroupingKey: "WI-1", Hours: hours("20")},
		)
		first, err := env.service.Reconcile(env.ctx, request)
		require.NoError(t, err)
		itemsBefore := env.repo.AllItems()

		// when
		second, err := env.service.Reconcile(env.ctx, request)

		// then
		require.NoError(t, err)
		assert.Equal(t, 0, second.Inserted)
		assert.Equal(t, 0, second.Updated)
		assert.Equal(t, 0, second.Deleted)
		assert.Equal(t, itemsBefore, env.repo.AllItems())
		assert.Equal(t, first.Allocations, second.Allocations)
	})

	t.Run("should update changed hours and delete items missing from the payload", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("10")},
			ReconcileItem{Resource: "alice", GroupingKey: "WI-2", Hours: hours("5")},
		))
		require.NoError(t, err)

		// when
		result, err := env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("12")},
		))

		// then
		require.NoError(t, err)
		assert.Equal(t, 0, result.Inserted)
		assert.Equal(t, 1, result.Updated)
		assert.Equal(t, 1, result.Deleted)
		require.Len(t, result.Allocations, 1)
		require.Len(t, result.Allocations[0].Items, 1)
		assert.Equal(t, "12.00", result.Allocations[0].TotalHours.StringFixed(2))
	})

	t.Run("should delete allocation left without items", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("10")},
			ReconcileItem{Resource: "bob", GroupingKey: "WI-1", Hours: hours("8")},
		))
		require.NoError(t, err)

		// when
		result, err := env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("10")},
		))

		// then
		require.NoError(t, err)
		assert.Equal(t, 1, result.RemovedAllocations)
		require.Len(t, result.Allocations, 1)
		assert.Equal(t, "alice", result.Allocations[0].ResourceIdentifier)
	})

	t.Run("should keep emptied allocation that carries punches", func(t *testing.T) {
		// given
		env := setupService(t)
		first, err := env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("10")},
		))
		require.NoError(t, err)
		env.repo.MarkPunched(first.Allocations[0].Id)

		// when
		result, err := env.service.Reconcile(env.ctx, juneRequest())

		// then
		require.NoError(t, err)
		assert.Equal(t, 0, result.RemovedAllocations)
		require.Len(t, result.Allocations, 1)
		assert.True(t, result.Allocations[0].TotalHours.IsZero())
		assert.Empty(t, result.Allocations[0].Items)
	})

	t.Run("should skip items without resource or grouping key and keep the last duplicate", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		result, err := env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "", GroupingKey: "WI-1", Hours: hours("3")},
			ReconcileItem{Resource: "alice", GroupingKey: " ", Hours: hours("3")},
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("3")},
			ReconcileItem{Resource: " alice ", GroupingKey: "WI-1", Hours: hours("4")},
			ReconcileItem{Resource: "alice", GroupingKey: "WI-2"},
		))

		// then
		require.NoError(t, err)
		assert.Equal(t, 2, result.Skipped)
		assert.Equal(t, 2, result.Inserted)
		require.Len(t, result.Allocations, 1)
		items := result.Allocations[0].Items
		require.Len(t, items, 2)
		assert.Equal(t, "4.00", items[0].Hours.StringFixed(2))
		assert.True(t, items[1].Hours.IsZero())
	})

	t.Run("should round hours half up to two decimals", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		result, err := env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("1.005")},
			ReconcileItem{Resource: "alice", GroupingKey: "WI-2", Hours: hours("2.004")},
		))

		// then
		require.NoError(t, err)
		items := result.Allocations[0].Items
		assert.Equal(t, "1.01", items[0].Hours.StringFixed(2))
		assert.Equal(t, "2.00", items[1].Hours.StringFixed(2))
		assert.Equal(t, "3.01", result.Allocations[0].TotalHours.StringFixed(2))
	})

	t.Run("should reject whole batch on negative hours", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		_, err := env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("10")},
			ReconcileItem{Resource: "bob", GroupingKey: "WI-1", Hours: hours("-1")},
		))

		// then
		assert.ErrorIs(t, err, ErrNegativeHours)
		assert.Empty(t, env.repo.AllItems())
	})

	t.Run("should reject hours above the storable maximum", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		_, err := env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("10")},
			ReconcileItem{Resource: "bob", GroupingKey: "WI-1", Hours: hours("100000000")},
		))

		// then
		assert.ErrorIs(t, err, ErrHoursTooLarge)
		assert.Empty(t, env.repo.AllItems())
	})

	t.Run("should reject a resource total above the storable maximum", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		_, err := env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("99999999.99")},
			ReconcileItem{Resource: "alice", GroupingKey: "WI-2", Hours: hours("0.01")},
		))

		// then
		assert.ErrorIs(t, err, ErrHoursTooLarge)
		assert.Empty(t, env.repo.AllItems())
	})

	t.Run("should roll back all changes when a write fails", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("10")},
		))
		require.NoError(t, err)
		before := env.repo.AllItems()
		storageErr := errors.New("disk full")
		env.repo.FailOnCall(3, storageErr)

		// when
		_, err = env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("11")},
			ReconcileItem{Resource: "alice", GroupingKey: "WI-2", Hours: hours("1")},
			ReconcileItem{Resource: "bob", GroupingKey: "WI-3", Hours: hours("1")},
		))

		// then
		assert.ErrorIs(t, err, storageErr)
		assert.Equal(t, before, env.repo.AllItems())
	})

	t.Run("should require exactly one of month or date", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		_, err := env.service.Reconcile(env.ctx, ReconcileRequest{ProjectId: 7})

		// then
		assert.ErrorIs(t, err, billing_period.ErrPeriodInput)
	})

	t.Run("should reject invalid project", func(t *testing.T) {
		// given
		env := setupService(t)

		// when
		_, err := env.service.Reconcile(env.ctx, ReconcileRequest{ProjectId: 0, Month: "2025-06"})

		// then
		assert.ErrorIs(t, err, ErrInvalidProject)
	})

	t.Run("should publish changed totals", func(t *testing.T) {
		// given
		env := setupService(t)
		var received []event_bus.AllocationReconciled
		event_bus.SubscribeTyped(env.bus, event_bus.AllocationReconciledType,
			func(e event_bus.EventT[event_bus.AllocationReconciled]) error {
				received = append(received, e.Data)
				return nil
			})
		request := juneRequest(ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("10")})

		// when
		_, err := env.service.Reconcile(env.ctx, request)
		require.NoError(t, err)
		_, err = env.service.Reconcile(env.ctx, request)
		require.NoError(t, err)

		// then
		require.Len(t, received, 1)
		assert.Equal(t, 7, received[0].ProjectId)
		require.Len(t, received[0].Totals, 1)
		assert.True(t, received[0].Totals[0].PreviousTotal.IsZero())
		assert.Equal(t, "10.00", received[0].Totals[0].TotalHours.StringFixed(2))
	})

	t.Run("should roll back when a subscriber fails", func(t *testing.T) {
		// given
		env := setupService(t)
		_, err := env.service.Reconcile(env.ctx, juneRequest(ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("10")}))
		require.NoError(t, err)
		event_bus.SubscribeTyped(env.bus, event_bus.AllocationReconciledType,
			func(e event_bus.EventT[event_bus.AllocationReconciled]) error {
				return assert.AnError
			})

		// when
		_, err = env.service.Reconcile(env.ctx, juneRequest(ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("12")}))

		// then
		require.ErrorIs(t, err, assert.AnError)
		period, periodErr := env.periods.Resolve(env.ctx, 2025, time.June)
		require.NoError(t, periodErr)
		allocations, listErr := env.service.ListForProject(env.ctx, 7, period)
		require.NoError(t, listErr)
		require.Len(t, allocations, 1)
		assert.Equal(t, "10.00", allocations[0].TotalHours.StringFixed(2))
	})
}

func TestServiceImpl_Lists(t *testing.T) {
	t.Run("should list allocations of project and of resource", func(t *testing.T) {
		// given
		env := setupService(t)
		result, err := env.service.Reconcile(env.ctx, juneRequest(
			ReconcileItem{Resource: "alice", GroupingKey: "WI-1", Hours: hours("10")},
			ReconcileItem{Resource: "bob", GroupingKey: "WI-1", Hours: hours("8")},
		))
		require.NoError(t, err)
		_, err = env.service.Reconcile(env.ctx, ReconcileRequest{ProjectId: 9, Month: "2025-06", Items: []ReconcileItem{
			{Resource: "alice", GroupingKey: "COE-1", Hours: hours("4")},
		}})
		require.NoError(t, err)
		aliceId := result.Allocations[0].ResourceId

		// when
		byProject, errProject := env.service.ListForProject(env.ctx, 7, result.Period)
		byResource, errResource := env.service.ListForResource(env.ctx, aliceId, result.Period)
		single, errGet := env.service.Get(env.ctx, result.Allocations[1].Id)
		_, errMissing := env.service.Get(env.ctx, 999)

		// then
		require.NoError(t, errProject)
		require.NoError(t, errResource)
		require.NoError(t, errGet)
		assert.Len(t, byProject, 2)
		require.Len(t, byResource, 2)
		assert.Equal(t, 7, byResource[0].ProjectId)
		assert.Equal(t, 9, byResource[1].ProjectId)
		assert.Equal(t, "bob", single.ResourceIdentifier)
		assert.ErrorIs(t, errMissing, ErrAllocationNotFound)
	})
}
