package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sant-anurag/feas/internal/database"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var ErrAllocationNotFound = errors.New("allocation not found")

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error
	// TxContext returns ctx carrying the repository's transaction, so other repositories join it.
	TxContext(ctx context.Context) context.Context
	// FindOrCreateAllocation returns the allocation of (resource, project, period start) and
	// whether it was created by this call.
	FindOrCreateAllocation(ctx context.Context, resourceId int, projectId int, periodStart time.Time) (Allocation, bool, error)
	Get(ctx context.Context, id int) (Allocation, error)
	// ListForProject returns the project's allocations of the period with their items, allocations
	// without items included.
	ListForProject(ctx context.Context, projectId int, periodStart time.Time) ([]Allocation, error)
	ListForResource(ctx context.Context, resourceId int, periodStart time.Time) ([]Allocation, error)
	InsertItem(ctx context.Context, allocationId int, groupingKey string, hours decimal.Decimal) (Item, error)
	UpdateItemHours(ctx context.Context, itemId int, hours decimal.Decimal) error
	DeleteItems(ctx context.Context, itemIds []int) (int, error)
	// RecomputeTotal stores and returns the sum of the allocation's item hours.
	RecomputeTotal(ctx context.Context, allocationId int) (decimal.Decimal, error)
	HasPunches(ctx context.Context, allocationId int) (bool, error)
	DeleteAllocation(ctx context.Context, allocationId int) error
}

type repositoryImpl struct {
	db *pgxpool.Pool
	tx pgx.Tx
}

func NewRepo(db *pgxpool.Pool) Repository {
	return &repositoryImpl{db: db}
}

// getQueryer returns the appropriate database interface for queries (either tx or db)
func (r *repositoryImpl) getQueryer() database.Querier {
	if r.tx != nil {
		return r.tx
	}
	return r.db
}

func (r *repositoryImpl) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	if r.tx != nil {
		return fn(r)
	}
	return database.InTx(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&repositoryImpl{db: r.db, tx: tx})
	})
}

func (r *repositoryImpl) TxContext(ctx context.Context) context.Context {
	if r.tx == nil {
		return ctx
	}
	return database.ContextWithTx(ctx, r.tx)
}

func (r *repositoryImpl) FindOrCreateAllocation(ctx context.Context, resourceId int, projectId int, periodStart time.Time) (Allocation, bool, error) {
	query := `WITH upserted AS (
				INSERT INTO monthly_allocation (resource_id, project_id, period_start)
				VALUES ($1, $2, $3)
				ON CONFLICT (resource_id, project_id, period_start) DO UPDATE SET updated_at = monthly_allocation.updated_at
				RETURNING id, resource_id, project_id, period_start, total_hours, (xmax = 0) AS inserted
			  )
			  SELECT u.id, u.resource_id, r.identifier, u.project_id, u.period_start, u.total_hours, u.inserted
			  FROM upserted u JOIN resource r ON r.id = u.resource_id`
	var allocation Allocation
	var inserted bool
	err := r.getQueryer().QueryRow(ctx, query, resourceId, projectId, periodStart).Scan(
		&allocation.Id,
		&allocation.ResourceId,
		&allocation.ResourceIdentifier,
		&allocation.ProjectId,
		&allocation.PeriodStart,
		&allocation.TotalHours,
		&inserted,
	)
	if err != nil {
		log.Errorf("could not find or create allocation (resource %d, project %d): %v", resourceId, projectId, err)
		return Allocation{}, false, fmt.Errorf("could not find or create allocation: %w", err)
	}
	return allocation, inserted, nil
}

const allocationSelect = `SELECT
				ma.id,
				ma.resource_id,
				r.identifier,
				ma.project_id,
				ma.period_start,
				ma.total_hours,
				ai.id,
				ai.grouping_key,
				ai.hours
			  FROM monthly_allocation ma
			  JOIN resource r ON r.id = ma.resource_id
			  LEFT JOIN allocation_item ai ON ai.allocation_id = ma.id`

func (r *repositoryImpl) Get(ctx context.Context, id int) (Allocation, error) {
	allocations, err := r.queryAllocations(ctx, allocationSelect+` WHERE ma.id = $1 ORDER BY ai.grouping_key`, id)
	if err != nil {
		return Allocation{}, err
	}
	if len(allocations) == 0 {
		return Allocation{}, ErrAllocationNotFound
	}
	return allocations[0], nil
}

func (r *repositoryImpl) ListForProject(ctx context.Context, projectId int, periodStart time.Time) ([]Allocation, error) {
	query := allocationSelect + ` WHERE ma.project_id = $1 AND ma.period_start = $2 ORDER BY r.identifier, ma.id, ai.grouping_key`
	return r.queryAllocations(ctx, query, projectId, periodStart)
}

func (r *repositoryImpl) ListForResource(ctx context.Context, resourceId int, periodStart time.Time) ([]Allocation, error) {
	query := allocationSelect + ` WHERE ma.resource_id = $1 AND ma.period_start = $2 ORDER BY ma.project_id, ma.id, ai.grouping_key`
	return r.queryAllocations(ctx, query, resourceId, periodStart)
}

// queryAllocations folds the allocation/item join rows, ordered by allocation, into allocations.
func (r *repositoryImpl) queryAllocations(ctx context.Context, query string, args ...any) ([]Allocation, error) {
	rows, err := r.getQueryer().Query(ctx, query, args...)
	if err != nil {
		log.Errorf("could not query allocations: %v", err)
		return nil, fmt.Errorf("could not query allocations: %w", err)
	}
	defer rows.Close()

	var allocations []Allocation
	for rows.Next() {
		var allocation Allocation
		var itemId *int
		var groupingKey *string
		var hours decimal.NullDecimal
		if err := rows.Scan(
			&allocation.Id,
			&allocation.ResourceId,
			&allocation.ResourceIdentifier,
			&allocation.ProjectId,
			&allocation.PeriodStart,
			&allocation.TotalHours,
			&itemId,
			&groupingKey,
			&hours,
		); err != nil {
			return nil, fmt.Errorf("could not scan allocation: %w", err)
		}

		last := len(allocations) - 1
		if last < 0 || allocations[last].Id != allocation.Id {
			allocations = append(allocations, allocation)
			last++
		}
		if itemId != nil {
			allocations[last].Items = append(allocations[last].Items, Item{
				Id:           *itemId,
				AllocationId: allocation.Id,
				GroupingKey:  *groupingKey,
				Hours:        hours.Decimal,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return allocations, nil
}

func (r *repositoryImpl) InsertItem(ctx context.Context, allocationId int, groupingKey string, hours decimal.Decimal) (Item, error) {
	query := `INSERT INTO allocation_item (allocation_id, grouping_key, hours)
			  VALUES ($1, $2, $3)
			  RETURNING id, allocation_id, grouping_key, hours`
	var item Item
	err := r.getQueryer().QueryRow(ctx, query, allocationId, groupingKey, hours.StringFixed(2)).Scan(
		&item.Id,
		&item.AllocationId,
		&item.GroupingKey,
		&item.Hours,
	)
	if err != nil {
		log.Errorf("could not insert allocation item %q for allocation %d: %v", groupingKey, allocationId, err)
		return Item{}, fmt.Errorf("could not insert allocation item: %w", err)
	}
	return item, nil
}

func (r *repositoryImpl) UpdateItemHours(ctx context.Context, itemId int, hours decimal.Decimal) error {
	query := `UPDATE allocation_item SET hours = $1, updated_at = now() WHERE id = $2`
	result, err := r.getQueryer().Exec(ctx, query, hours.StringFixed(2), itemId)
	if err != nil {
		log.Errorf("could not update allocation item %d: %v", itemId, err)
		return fmt.Errorf("could not update allocation item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("allocation item %d: %w", itemId, ErrAllocationNotFound)
	}
	return nil
}

func (r *repositoryImpl) DeleteItems(ctx context.Context, itemIds []int) (int, error) {
	if len(itemIds) == 0 {
		return 0, nil
	}
	result, err := r.getQueryer().Exec(ctx, `DELETE FROM allocation_item WHERE id = ANY($1)`, itemIds)
	if err != nil {
		log.Errorf("could not delete allocation items %s: %v", joinIds(itemIds), err)
		return 0, fmt.Errorf("could not delete allocation items: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func (r *repositoryImpl) RecomputeTotal(ctx context.Context, allocationId int) (decimal.Decimal, error) {
	query := `UPDATE monthly_allocation ma
			  SET total_hours = COALESCE((SELECT SUM(ai.hours) FROM allocation_item ai WHERE ai.allocation_id = ma.id), 0),
			      updated_at = now()
			  WHERE ma.id = $1
			  RETURNING ma.total_hours`
	var total decimal.Decimal
	err := r.getQueryer().QueryRow(ctx, query, allocationId).Scan(&total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAllocationNotFound
		}
		log.Errorf("could not recompute total of allocation %d: %v", allocationId, err)
		return decimal.Zero, fmt.Errorf("could not recompute allocation total: %w", err)
	}
	return total, nil
}

func (r *repositoryImpl) HasPunches(ctx context.Context, allocationId int) (bool, error) {
	var exists bool
	err := r.getQueryer().QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM daily_punch WHERE allocation_id = $1)`, allocationId).Scan(&exists)
	if err != nil {
		log.Errorf("could not check punches of allocation %d: %v", allocationId, err)
		return false, fmt.Errorf("could not check allocation punches: %w", err)
	}
	return exists, nil
}

func (r *repositoryImpl) DeleteAllocation(ctx context.Context, allocationId int) error {
	result, err := r.getQueryer().Exec(ctx, `DELETE FROM monthly_allocation WHERE id = $1`, allocationId)
	if err != nil {
		log.Errorf("could not delete allocation %d: %v", allocationId, err)
		return fmt.Errorf("could not delete allocation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrAllocationNotFound
	}
	return nil
}

func joinIds(ids []int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprint(id))
	}
	return strings.Join(parts, ",")
}
