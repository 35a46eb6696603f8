package weekly_allocation

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sant-anurag/feas/internal/database"
	"github.com/sant-anurag/feas/pkg/allocation"
	log "github.com/sirupsen/logrus"
)

var ErrWeekNotFound = errors.New("weekly allocation not found")

type Repository interface {
	WithTransaction(ctx context.Context, fn func(repo Repository) error) error
	ListForAllocation(ctx context.Context, allocationId int) ([]WeeklyAllocation, error)
	GetWeek(ctx context.Context, allocationId int, weekNumber int) (WeeklyAllocation, error)
	// Upsert stores hours, percent and split flag per (allocation, week). A row whose hours change
	// goes back to PENDING.
	Upsert(ctx context.Context, weeks []WeeklyAllocation) ([]WeeklyAllocation, error)
	UpdateStatus(ctx context.Context, allocationId int, weekNumber int, status Status) error
}

type repositoryImpl struct {
	db *pgxpool.Pool
	tx pgx.Tx
}

func NewRepo(db *pgxpool.Pool) Repository {
	return &repositoryImpl{db: db}
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
	return database.InTx(ctx, r.db, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&repositoryImpl{db: r.db, tx: tx})
	})
}

const weekColumns = `id, allocation_id, week_number, hours, percent, split, status`

func scanWeek(row pgx.Row) (WeeklyAllocation, error) {
	var week WeeklyAllocation
	var status string
	err := row.Scan(&week.Id, &week.AllocationId, &week.WeekNumber, &week.Hours, &week.Percent, &week.Split, &status)
	week.Status = Status(status)
	return week, err
}

func (r *repositoryImpl) ListForAllocation(ctx context.Context, allocationId int) ([]WeeklyAllocation, error) {
	query := `SELECT ` + weekColumns + ` FROM weekly_allocation WHERE allocation_id = $1 ORDER BY week_number`
	rows, err := r.getQueryer().Query(ctx, query, allocationId)
	if err != nil {
		log.Errorf("could not query weekly allocations of allocation %d: %v", allocationId, err)
		return nil, fmt.Errorf("could not query weekly allocations: %w", err)
	}
	defer rows.Close()

	weeks := make([]WeeklyAllocation, 0)
	for rows.Next() {
		week, err := scanWeek(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan weekly allocation: %w", err)
		}
		weeks = append(weeks, week)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return weeks, nil
}

func (r *repositoryImpl) GetWeek(ctx context.Context, allocationId int, weekNumber int) (WeeklyAllocation, error) {
	query := `SELECT ` + weekColumns + ` FROM weekly_allocation WHERE allocation_id = $1 AND week_number = $2`
	week, err := scanWeek(r.getQueryer().QueryRow(ctx, query, allocationId, weekNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WeeklyAllocation{}, ErrWeekNotFound
		}
		log.Errorf("could not get week %d of allocation %d: %v", weekNumber, allocationId, err)
		return WeeklyAllocation{}, fmt.Errorf("could not get weekly allocation: %w", err)
	}
	return week, nil
}

func (r *repositoryImpl) Upsert(ctx context.Context, weeks []WeeklyAllocation) ([]WeeklyAllocation, error) {
	if len(weeks) == 0 {
		return nil, nil
	}
	query := `INSERT INTO weekly_allocation (allocation_id, week_number, hours, percent, split)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (allocation_id, week_number) DO UPDATE SET
			      hours = EXCLUDED.hours,
			      percent = EXCLUDED.percent,
			      split = EXCLUDED.split,
			      status = CASE WHEN weekly_allocation.hours <> EXCLUDED.hours THEN 'PENDING' ELSE weekly_allocation.status END,
			      updated_at = now()
			  RETURNING ` + weekColumns

	batch := &pgx.Batch{}
	for _, week := range weeks {
		var percent *string
		if week.Percent.Valid {
			p := week.Percent.Decimal.StringFixed(2)
			percent = &p
		}
		batch.Queue(query, week.AllocationId, week.WeekNumber, week.Hours.StringFixed(2), percent, week.Split)
	}

	results := r.getQueryer().SendBatch(ctx, batch)
	defer results.Close()

	stored := make([]WeeklyAllocation, 0, len(weeks))
	for range weeks {
		week, err := scanWeek(results.QueryRow())
		if err != nil {
			if database.IsForeignKeyViolation(err) {
				return nil, allocation.ErrAllocationNotFound
			}
			log.Errorf("could not upsert weekly allocation: %v", err)
			return nil, fmt.Errorf("could not upsert weekly allocation: %w", err)
		}
		stored = append(stored, week)
	}
	return stored, nil
}

func (r *repositoryImpl) UpdateStatus(ctx context.Context, allocationId int, weekNumber int, status Status) error {
	query := `UPDATE weekly_allocation SET status = $1, updated_at = now() WHERE allocation_id = $2 AND week_number = $3`
	result, err := r.getQueryer().Exec(ctx, query, string(status), allocationId, weekNumber)
	if err != nil {
		log.Errorf("could not update status of week %d of allocation %d: %v", weekNumber, allocationId, err)
		return fmt.Errorf("could not update weekly allocation status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrWeekNotFound
	}
	return nil
}

