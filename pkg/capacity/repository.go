package capacity

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

type Repository interface {
	// TotalsByIdentifiers returns the totals of the known resources among identifiers.
	TotalsByIdentifiers(ctx context.Context, identifiers []string, periodStart time.Time) ([]ResourceTotal, error)
	// TotalsForProject returns the totals of every resource with allocation items on the project.
	TotalsForProject(ctx context.Context, projectId int, periodStart time.Time) ([]ResourceTotal, error)
}

type repositoryImpl struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) TotalsByIdentifiers(ctx context.Context, identifiers []string, periodStart time.Time) ([]ResourceTotal, error) {
	query := `SELECT r.id, r.identifier, COALESCE(SUM(ma.total_hours), 0)
			  FROM resource r
			  LEFT JOIN monthly_allocation ma ON ma.resource_id = r.id AND ma.period_start = $2
			  WHERE r.identifier = ANY($1)
			  GROUP BY r.id, r.identifier
			  ORDER BY r.identifier`
	return r.queryTotals(ctx, query, identifiers, periodStart)
}

func (r *repositoryImpl) TotalsForProject(ctx context.Context, projectId int, periodStart time.Time) ([]ResourceTotal, error) {
	query := `SELECT r.id, r.identifier, COALESCE(SUM(ma.total_hours), 0)
			  FROM resource r
			  JOIN monthly_allocation ma ON ma.resource_id = r.id AND ma.period_start = $2
			  WHERE r.id IN (
				  SELECT pa.resource_id
				  FROM monthly_allocation pa
				  JOIN allocation_item ai ON ai.allocation_id = pa.id
				  WHERE pa.project_id = $1 AND pa.period_start = $2
			  )
			  GROUP BY r.id, r.identifier
			  ORDER BY r.identifier`
	return r.queryTotals(ctx, query, projectId, periodStart)
}

func (r *repositoryImpl) queryTotals(ctx context.Context, query string, args ...any) ([]ResourceTotal, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		log.Errorf("could not query allocation totals: %v", err)
		return nil, fmt.Errorf("could not query allocation totals: %w", err)
	}
	defer rows.Close()

	totals := make([]ResourceTotal, 0)
	for rows.Next() {
		var total ResourceTotal
		if err := rows.Scan(&total.ResourceId, &total.Identifier, &total.Allocated); err != nil {
			return nil, fmt.Errorf("could not scan allocation total: %w", err)
		}
		totals = append(totals, total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over rows: %w", err)
	}
	return totals, nil
}
