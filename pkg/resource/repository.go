package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

var ErrResourceNotFound = errors.New("resource not found")

type Repository interface {
	// FindOrCreate returns the row with r.Identifier, inserting r when there is none.
	FindOrCreate(ctx context.Context, r Resource) (Resource, error)
	GetByIdentifier(ctx context.Context, identifier string) (Resource, error)
}

type repositoryImpl struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) Repository {
	return &repositoryImpl{db: db}
}

const resourceColumns = `id, uid, identifier, username, COALESCE(email, '')`

func scanResource(row pgx.Row) (Resource, error) {
	var r Resource
	err := row.Scan(&r.Id, &r.Uid, &r.Identifier, &r.Username, &r.Email)
	return r, err
}

func (repo *repositoryImpl) FindOrCreate(ctx context.Context, r Resource) (Resource, error) {
	// The no-op update makes RETURNING yield the existing row on conflict.
	query := `INSERT INTO resource (uid, identifier, username, email)
			  VALUES ($1, $2, $3, NULLIF($4, ''))
			  ON CONFLICT (identifier) DO UPDATE SET identifier = EXCLUDED.identifier
			  RETURNING ` + resourceColumns
	stored, err := scanResource(repo.db.QueryRow(ctx, query, r.Uid, r.Identifier, r.Username, r.Email))
	if err != nil {
		log.Errorf("failed to find or create resource %s: %v", r.Identifier, err)
		return Resource{}, fmt.Errorf("could not find or create resource: %w", err)
	}
	return stored, nil
}

func (repo *repositoryImpl) GetByIdentifier(ctx context.Context, identifier string) (Resource, error) {
	query := `SELECT ` + resourceColumns + ` FROM resource WHERE identifier = $1`
	r, err := scanResource(repo.db.QueryRow(ctx, query, identifier))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resource{}, ErrResourceNotFound
		}
		log.Errorf("failed to get resource %s: %v", identifier, err)
		return Resource{}, fmt.Errorf("could not get resource: %w", err)
	}
	return r, nil
}
