package punch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sant-anurag/feas/internal/database"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var ErrAllocationNotFound = errors.New("allocation not found")
var ErrNoWeeklyAllocation = errors.New("no weekly allocation found")

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error
	// GetAllocation reads the allocation row, locking it for the rest of the transaction when lock
	// is set.
	GetAllocation(ctx context.Context, allocationId int, lock bool) (AllocationRef, error)
	WeeklyCap(ctx context.Context, allocationId int, weekNumber int) (decimal.Decimal, error)
	ListWeeklyCaps(ctx context.Context, allocationId int) (map[int]decimal.Decimal, error)
	// SumHours adds up the resource's punches on the allocation in [from, to] except the one on
	// excluded.
	SumHours(ctx context.Context, resourceId int, allocationId int, from time.Time, to time.Time, excluded time.Time) (decimal.Decimal, error)
	Upsert(ctx context.Context, punch Punch) (Punch, error)
	List(ctx context.Context, resourceId int, allocationId int, from time.Time, to time.Time) ([]Punch, error)
}

type repositoryImpl struct {
	db        *pgxpool.Pool
	tx        pgx.Tx
	txOptions pgx.TxOptions
}

// NewRepo returns a repository whose transactions run with txOptions.
func NewRepo(db *pgxpool.Pool, txOptions pgx.TxOptions) Repository {
	return &repositoryImpl{db: db, txOptions: txOptions}
}

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
	return database.InTx(ctx, r.db, r.txOptions, func(tx pgx.Tx) error {
		return fn(&repositoryImpl{db: r.db, tx: tx, txOptions: r.txOptions})
	})
}

func (r *repositoryImpl) GetAllocation(ctx context.Context, allocationId int, lock bool) (AllocationRef, error) {
	query := `SELECT id, resource_id, period_start FROM monthly_allocation WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var ref AllocationRef
	err := r.getQueryer().QueryRow(ctx, query, allocationId).Scan(&ref.Id, &ref.ResourceId, &ref.PeriodStart)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AllocationRef{}, ErrAllocationNotFound
		}
		log.Errorf("could not get allocation %d: %v", allocationId, err)
		return AllocationRef{}, fmt.Errorf("could not get allocation: %w", err)
	}
	return ref, nil
}

func (r *repositoryImpl) WeeklyCap(ctx context.Context, allocationId int, weekNumber int) (decimal.Decimal, error) {
	query := `SELECT hours FROM weekly_allocation WHERE allocation_id = $1 AND week_number = $2`
	var hours decimal.Decimal
	err := r.getQueryer().QueryRow(ctx, query, allocationId, weekNumber).Scan(&hours)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNoWeeklyAllocation
		}
		log.Errorf("could not get week %d cap of allocation %d: %v", weekNumber, allocationId, err)
		return decimal.Zero, fmt.Errorf("could not get weekly cap: %w", err)
	}
	return hours, nil
}

func (r *repositoryImpl) ListWeeklyCaps(ctx context.Context, allocationId int) (map[int]decimal.Decimal, error) {
	rows, err := r.getQueryer().Query(ctx, `SELECT week_number, hours FROM weekly_allocation WHERE allocation_id = $1`, allocationId)
	if err != nil {
		log.Errorf("could not list weekly caps of allocation %d: %v", allocationId, err)
		return nil, fmt.Errorf("could not list weekly caps: %w", err)
	}
	defer rows.Close()

	caps := make(map[int]decimal.Decimal)
	for rows.Next() {
		var week int
		var hours decimal.Decimal
		if err := rows.Scan(&week, &hours); err != nil {
			return nil, fmt.Errorf("could not scan weekly cap: %w", err)
		}
		caps[week] = hours
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return caps, nil
}

func (r *repositoryImpl) SumHours(ctx context.Context, resourceId int, allocationId int, from time.Time, to time.Time, excluded time.Time) (decimal.Decimal, error) {
	query := `SELECT COALESCE(SUM(actual_hours), 0)
			  FROM daily_punch
			  WHERE resource_id = $1
				AND allocation_id = $2
				AND punch_date BETWEEN $3 AND $4
				AND punch_date <> $5`
	var total decimal.Decimal
	err := r.getQueryer().QueryRow(ctx, query, resourceId, allocationId, from, to, excluded).Scan(&total)
	if err != nil {
		log.Errorf("could not sum punches of resource %d on allocation %d: %v", resourceId, allocationId, err)
		return decimal.Zero, fmt.Errorf("could not sum punched hours: %w", err)
	}
	return total, nil
}

func (r *repositoryImpl) Upsert(ctx context.Context, punch Punch) (Punch, error) {
	query := `INSERT INTO daily_punch (resource_id, allocation_id, punch_date, week_number, actual_hours)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (resource_id, allocation_id, punch_date) DO UPDATE SET
				  week_number = EXCLUDED.week_number,
				  actual_hours = EXCLUDED.actual_hours,
				  updated_at = now()
			  RETURNING id, resource_id, allocation_id, punch_date, week_number, actual_hours`
	var stored Punch
	err := r.getQueryer().QueryRow(ctx, query,
		punch.ResourceId,
		punch.AllocationId,
		punch.Date,
		punch.WeekNumber,
		punch.Hours.StringFixed(2),
	).Scan(&stored.Id, &stored.ResourceId, &stored.AllocationId, &stored.Date, &stored.WeekNumber, &stored.Hours)
	if err != nil {
		log.Errorf("could not store punch of resource %d on allocation %d: %v", punch.ResourceId, punch.AllocationId, err)
		return Punch{}, fmt.Errorf("could not store punch: %w", err)
	}
	return stored, nil
}

func (r *repositoryImpl) List(ctx context.Context, resourceId int, allocationId int, from time.Time, to time.Time) ([]Punch, error) {
	query := `SELECT id, resource_id, allocation_id, punch_date, week_number, actual_hours
			  FROM daily_punch
			  WHERE resource_id = $1 AND allocation_id = $2 AND punch_date BETWEEN $3 AND $4
			  ORDER BY punch_date`
	rows, err := r.getQueryer().Query(ctx, query, resourceId, allocationId, from, to)
	if err != nil {
		log.Errorf("could not list punches of resource %d on allocation %d: %v", resourceId, allocationId, err)
		return nil, fmt.Errorf("could not list punches: %w", err)
	}
	defer rows.Close()

	punches := make([]Punch, 0)
	for rows.Next() {
		var punch Punch
		if err := rows.Scan(&punch.Id, &punch.ResourceId, &punch.AllocationId, &punch.Date, &punch.WeekNumber, &punch.Hours); err != nil {
			return nil, fmt.Errorf("could not scan punch: %w", err)
		}
		punches = append(punches, punch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return punches, nil
}
