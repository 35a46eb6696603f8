package resource

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

var ErrEmptyIdentifier = errors.New("resource identifier must not be empty")

type Service interface {
	// FindOrCreate returns the resource mirrored for identifier, creating it on first sight.
	FindOrCreate(ctx context.Context, identifier string) (Resource, error)
	GetCurrent(ctx context.Context) (Resource, error)
}

type ServiceImpl struct {
	repo Repository
}

func NewService(repo Repository) *ServiceImpl {
	return &ServiceImpl{repo: repo}
}

func (s *ServiceImpl) FindOrCreate(ctx context.Context, identifier string) (Resource, error) {
	identifier = NormalizeIdentifier(identifier)
	if identifier == "" {
		return Resource{}, ErrEmptyIdentifier
	}

	existing, err := s.repo.GetByIdentifier(ctx, identifier)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrResourceNotFound) {
		return Resource{}, fmt.Errorf("failed to look up resource: %w", err)
	}

	created, err := s.repo.FindOrCreate(ctx, NewFromIdentifier(identifier))
	if err != nil {
		return Resource{}, fmt.Errorf("failed to create resource: %w", err)
	}
	log.Infof("resource %s mirrored from directory with id %d", created.Identifier, created.Id)
	return created, nil
}

func (s *ServiceImpl) GetCurrent(ctx context.Context) (Resource, error) {
	current, err := CurrentResource(ctx)
	if err != nil {
		return Resource{}, fmt.Errorf("failed to get current resource: %w", err)
	}
	return current, nil
}
