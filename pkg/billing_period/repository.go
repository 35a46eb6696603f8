package billing_period

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

type Repository interface {
	GetOverride(ctx context.Context, year int, month time.Month) (Override, error)
	// FindOverrideContaining returns the override whose window contains date, earliest start first.
	FindOverrideContaining(ctx context.Context, date time.Time) (Override, error)
	ListOverrides(ctx context.Context, year int) ([]Override, error)
	SaveOverride(ctx context.Context, override Override) (Override, error)
	DeleteOverride(ctx context.Context, year int, month time.Month) error
}

type repositoryImpl struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) Repository {
	return &repositoryImpl{db: db}
}

const overrideColumns = `year, month, start_date, end_date, monthly_cap`

func scanOverride(row pgx.Row) (Override, error) {
	var override Override
	var month int
	err := row.Scan(
		&override.Year,
		&month,
		&override.StartDate,
		&override.EndDate,
		&override.MonthlyCap,
	)
	if err != nil {
		return Override{}, err
	}
	override.Month = time.Month(month)
	return override, nil
}

func (r *repositoryImpl) GetOverride(ctx context.Context, year int, month time.Month) (Override, error) {
	query := `SELECT ` + overrideColumns + ` FROM billing_period_override WHERE year = $1 AND month = $2`
	override, err := scanOverride(r.db.QueryRow(ctx, query, year, int(month)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Override{}, ErrOverrideNotFound
		}
		log.Errorf("could not get billing period override %d-%02d: %v", year, month, err)
		return Override{}, fmt.Errorf("could not get billing period override: %w", err)
	}
	return override, nil
}

func (r *repositoryImpl) FindOverrideContaining(ctx context.Context, date time.Time) (Override, error) {
	query := `SELECT ` + overrideColumns + `
			  FROM billing_period_override
			  WHERE start_date IS NOT NULL AND end_date IS NOT NULL
			    AND $1 BETWEEN start_date AND end_date
			  ORDER BY start_date, year, month
			  LIMIT 1`
	override, err := scanOverride(r.db.QueryRow(ctx, query, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Override{}, ErrOverrideNotFound
		}
		log.Errorf("could not find billing period override for %s: %v", date.Format(DateLayout), err)
		return Override{}, fmt.Errorf("could not find billing period override: %w", err)
	}
	return override, nil
}

func (r *repositoryImpl) ListOverrides(ctx context.Context, year int) ([]Override, error) {
	query := `SELECT ` + overrideColumns + ` FROM billing_period_override WHERE year = $1 ORDER BY month`
	rows, err := r.db.Query(ctx, query, year)
	if err != nil {
		log.Errorf("could not list billing period overrides: %v", err)
		return nil, fmt.Errorf("could not list billing period overrides: %w", err)
	}
	defer rows.Close()

	overrides := make([]Override, 0, 12)
	for rows.Next() {
		override, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("could not scan billing period override: %w", err)
		}
		overrides = append(overrides, override)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return overrides, nil
}

func (r *repositoryImpl) SaveOverride(ctx context.Context, override Override) (Override, error) {
	query := `INSERT INTO billing_period_override (year, month, start_date, end_date, monthly_cap)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (year, month) DO UPDATE
			  SET start_date = EXCLUDED.start_date,
			      end_date = EXCLUDED.end_date,
			      monthly_cap = EXCLUDED.monthly_cap,
			      updated_at = now()
			  RETURNING ` + overrideColumns

	var monthlyCap *string
	if override.MonthlyCap.Valid {
		capValue := override.MonthlyCap.Decimal.StringFixed(2)
		monthlyCap = &capValue
	}

	saved, err := scanOverride(r.db.QueryRow(ctx, query,
		override.Year,
		int(override.Month),
		override.StartDate,
		override.EndDate,
		monthlyCap,
	))
	if err != nil {
		log.Errorf("could not save billing period override %d-%02d: %v", override.Year, override.Month, err)
		return Override{}, fmt.Errorf("could not save billing period override: %w", err)
	}
	return saved, nil
}

func (r *repositoryImpl) DeleteOverride(ctx context.Context, year int, month time.Month) error {
	query := `DELETE FROM billing_period_override WHERE year = $1 AND month = $2`
	result, err := r.db.Exec(ctx, query, year, int(month))
	if err != nil {
		log.Errorf("could not delete billing period override %d-%02d: %v", year, month, err)
		return fmt.Errorf("could not delete billing period override: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrOverrideNotFound
	}
	return nil
}
