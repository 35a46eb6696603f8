package allocation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sant-anurag/feas/internal/event_bus"
	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/sant-anurag/feas/pkg/resource"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var ErrInvalidProject = errors.New("project id must be positive")
var ErrNegativeHours = errors.New("hours must not be negative")
var ErrHoursTooLarge = errors.New("hours exceed the storable maximum")

type Service interface {
	// Reconcile replaces the project's allocation items of a billing period with the request's
	// items in one transaction.
	Reconcile(ctx context.Context, request ReconcileRequest) (ReconcileResult, error)
	ListForProject(ctx context.Context, projectId int, period billing_period.Period) ([]Allocation, error)
	ListForResource(ctx context.Context, resourceId int, period billing_period.Period) ([]Allocation, error)
	Get(ctx context.Context, id int) (Allocation, error)
}

// ResourceDirectory maps external identifiers onto stored resources, creating them on first use.
type ResourceDirectory interface {
	FindOrCreate(ctx context.Context, identifier string) (resource.Resource, error)
}

type PeriodResolver interface {
	ResolveInput(ctx context.Context, month string, date string) (billing_period.Period, error)
}

type ServiceImpl struct {
	repo      Repository
	directory ResourceDirectory
	periods   PeriodResolver
	eventBus  *event_bus.EventBus
}

func NewService(repo Repository, directory ResourceDirectory, periods PeriodResolver, eventBus *event_bus.EventBus) *ServiceImpl {
	return &ServiceImpl{
		repo:      repo,
		directory: directory,
		periods:   periods,
		eventBus:  eventBus,
	}
}

type itemKey struct {
	resourceId  int
	groupingKey string
}

type desiredItem struct {
	identifier  string
	groupingKey string
	hours       decimal.Decimal
}

func (s *ServiceImpl) Reconcile(ctx context.Context, request ReconcileRequest) (ReconcileResult, error) {
	if request.ProjectId <= 0 {
		return ReconcileResult{}, ErrInvalidProject
	}
	period, err := s.periods.ResolveInput(ctx, request.Month, request.Date)
	if err != nil {
		return ReconcileResult{}, err
	}

	desired, skipped, err := normalizeItems(request.ProjectId, request.Items)
	if err != nil {
		return ReconcileResult{}, err
	}

	resourceIds := make(map[string]int)
	for _, item := range desired {
		if _, ok := resourceIds[item.identifier]; ok {
			continue
		}
		r, err := s.directory.FindOrCreate(ctx, item.identifier)
		if err != nil {
			return ReconcileResult{}, fmt.Errorf("failed to resolve resource %s: %w", item.identifier, err)
		}
		resourceIds[item.identifier] = r.Id
	}

	result := ReconcileResult{Period: period, Skipped: skipped}
	var changedTotals []event_bus.AllocationTotalChanged

	err = s.repo.WithTransaction(ctx, func(repo Repository) error {
		existing, err := repo.ListForProject(ctx, request.ProjectId, period.Start)
		if err != nil {
			return err
		}
		allocationByResource := make(map[int]Allocation, len(existing))
		existingItems := make(map[itemKey]Item)
		previousTotals := make(map[int]decimal.Decimal, len(existing))
		for _, allocation := range existing {
			allocationByResource[allocation.ResourceId] = allocation
			previousTotals[allocation.Id] = allocation.TotalHours
			for _, item := range allocation.Items {
				existingItems[itemKey{allocation.ResourceId, item.GroupingKey}] = item
			}
		}

		affected := make(map[int]bool)
		withItems := make(map[int]bool)
		kept := make(map[int]bool)

		for _, item := range desired {
			resourceId := resourceIds[item.identifier]
			allocation, ok := allocationByResource[resourceId]
			if !ok {
				allocation, _, err = repo.FindOrCreateAllocation(ctx, resourceId, request.ProjectId, period.Start)
				if err != nil {
					return err
				}
				allocationByResource[resourceId] = allocation
				if _, known := previousTotals[allocation.Id]; !known {
					previousTotals[allocation.Id] = allocation.TotalHours
				}
			}
			withItems[allocation.Id] = true

			current, ok := existingItems[itemKey{resourceId, item.groupingKey}]
			switch {
			case !ok:
				if _, err := repo.InsertItem(ctx, allocation.Id, item.groupingKey, item.hours); err != nil {
					return err
				}
				result.Inserted++
				affected[allocation.Id] = true
			case !current.Hours.Equal(item.hours):
				if err := repo.UpdateItemHours(ctx, current.Id, item.hours); err != nil {
					return err
				}
				kept[current.Id] = true
				result.Updated++
				affected[allocation.Id] = true
			default:
				kept[current.Id] = true
			}
		}

		var stale []int
		for _, allocation := range existing {
			for _, item := range allocation.Items {
				if !kept[item.Id] {
					stale = append(stale, item.Id)
					affected[allocation.Id] = true
				}
			}
		}
		sort.Ints(stale)
		deleted, err := repo.DeleteItems(ctx, stale)
		if err != nil {
			return err
		}
		result.Deleted = deleted

		affectedIds := make([]int, 0, len(affected))
		for id := range affected {
			affectedIds = append(affectedIds, id)
		}
		sort.Ints(affectedIds)

		for _, allocationId := range affectedIds {
			total, err := repo.RecomputeTotal(ctx, allocationId)
			if err != nil {
				return err
			}
			if !withItems[allocationId] {
				punched, err := repo.HasPunches(ctx, allocationId)
				if err != nil {
					return err
				}
				if !punched {
					if err := repo.DeleteAllocation(ctx, allocationId); err != nil {
						return err
					}
					result.RemovedAllocations++
					continue
				}
				log.Debugf("allocation %d has no items left but carries punches, keeping it with total %s", allocationId, total.StringFixed(2))
			}
			if previous := previousTotals[allocationId]; !previous.Equal(total) {
				changedTotals = append(changedTotals, event_bus.AllocationTotalChanged{
					AllocationId:  allocationId,
					PreviousTotal: previous,
					TotalHours:    total,
				})
			}
		}

		result.Allocations, err = repo.ListForProject(ctx, request.ProjectId, period.Start)
		if err != nil {
			return err
		}

		// Subscribers write through the same transaction, a failing one rolls the reconcile back.
		if len(changedTotals) > 0 {
			event := event_bus.AllocationReconciled{
				ProjectId:   request.ProjectId,
				PeriodStart: period.Start,
				Totals:      changedTotals,
			}
			if err := event_bus.PublishTyped(repo.TxContext(ctx), s.eventBus, event_bus.AllocationReconciledType, event); err != nil {
				return fmt.Errorf("failed to apply changed totals: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("failed to reconcile allocations of project %d: %w", request.ProjectId, err)
	}

	log.Infof("project %d allocations for %s reconciled: %d inserted, %d updated, %d deleted, %d skipped",
		request.ProjectId, period.Label(), result.Inserted, result.Updated, result.Deleted, result.Skipped)

	return result, nil
}

// normalizeItems validates and deduplicates the requested items. Items missing a resource or a
// grouping key are skipped; for repeated (resource, grouping key) pairs the last one wins.
func normalizeItems(projectId int, items []ReconcileItem) ([]desiredItem, int, error) {
	skipped := 0
	index := make(map[[2]string]int, len(items))
	desired := make([]desiredItem, 0, len(items))

	for i, item := range items {
		identifier := resource.NormalizeIdentifier(item.Resource)
		groupingKey := strings.TrimSpace(item.GroupingKey)
		if identifier == "" || groupingKey == "" {
			log.Warnf("project %d: skipping item %d without resource or grouping key", projectId, i)
			skipped++
			continue
		}

		hours := decimal.Zero
		if item.Hours != nil {
			hours = *item.Hours
		}
		if hours.IsNegative() {
			return nil, 0, fmt.Errorf("%w: %s for %s/%s", ErrNegativeHours, hours.String(), identifier, groupingKey)
		}
		hours = RoundHours(hours)
		if hours.GreaterThan(billing_period.MaxHours) {
			return nil, 0, fmt.Errorf("%w: %s for %s/%s", ErrHoursTooLarge, hours.String(), identifier, groupingKey)
		}

		key := [2]string{identifier, groupingKey}
		if at, ok := index[key]; ok {
			log.Warnf("project %d: duplicate item for %s/%s, keeping the last one", projectId, identifier, groupingKey)
			desired[at].hours = hours
			continue
		}
		index[key] = len(desired)
		desired = append(desired, desiredItem{identifier: identifier, groupingKey: groupingKey, hours: hours})
	}

	totals := make(map[string]decimal.Decimal)
	for _, item := range desired {
		totals[item.identifier] = totals[item.identifier].Add(item.hours)
		if totals[item.identifier].GreaterThan(billing_period.MaxHours) {
			return nil, 0, fmt.Errorf("%w: total for %s", ErrHoursTooLarge, item.identifier)
		}
	}
	return desired, skipped, nil
}

func (s *ServiceImpl) ListForProject(ctx context.Context, projectId int, period billing_period.Period) ([]Allocation, error) {
	if projectId <= 0 {
		return nil, ErrInvalidProject
	}
	allocations, err := s.repo.ListForProject(ctx, projectId, period.Start)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations of project %d: %w", projectId, err)
	}
	return allocations, nil
}

func (s *ServiceImpl) ListForResource(ctx context.Context, resourceId int, period billing_period.Period) ([]Allocation, error) {
	allocations, err := s.repo.ListForResource(ctx, resourceId, period.Start)
	if err != nil {
		return nil, fmt.Errorf("failed to list allocations of resource %d: %w", resourceId, err)
	}
	return allocations, nil
}

func (s *ServiceImpl) Get(ctx context.Context, id int) (Allocation, error) {
	allocation, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAllocationNotFound) {
			return Allocation{}, err
		}
		return Allocation{}, fmt.Errorf("failed to get allocation %d: %w", id, err)
	}
	return allocation, nil
}
