package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/sant-anurag/feas/pkg/billing_period"
	"github.com/sant-anurag/feas/pkg/resource"
	"github.com/shopspring/decimal"
)

var ErrNoResources = errors.New("at least one resource is required")
var ErrInvalidProject = errors.New("project id must be positive")

type Service interface {
	// CapacityFor returns one entry per requested resource, in request order, zero-filled for
	// resources without allocations.
	CapacityFor(ctx context.Context, identifiers []string, period billing_period.Period) (View, error)
	CapacityForProject(ctx context.Context, projectId int, period billing_period.Period) (View, error)
}

type ServiceImpl struct {
	repo Repository
}

func NewService(repo Repository) *ServiceImpl {
	return &ServiceImpl{repo: repo}
}

func (s *ServiceImpl) CapacityFor(ctx context.Context, identifiers []string, period billing_period.Period) (View, error) {
	requested := make([]string, 0, len(identifiers))
	seen := make(map[string]bool, len(identifiers))
	for _, identifier := range identifiers {
		identifier = resource.NormalizeIdentifier(identifier)
		if identifier == "" || seen[identifier] {
			continue
		}
		seen[identifier] = true
		requested = append(requested, identifier)
	}
	if len(requested) == 0 {
		return View{}, ErrNoResources
	}

	totals, err := s.repo.TotalsByIdentifiers(ctx, requested, period.Start)
	if err != nil {
		return View{}, fmt.Errorf("failed to aggregate capacity: %w", err)
	}
	byIdentifier := make(map[string]ResourceTotal, len(totals))
	for _, total := range totals {
		byIdentifier[total.Identifier] = total
	}

	view := View{Period: period, Resources: make([]Capacity, 0, len(requested))}
	for _, identifier := range requested {
		total, ok := byIdentifier[identifier]
		if !ok {
			total = ResourceTotal{Identifier: identifier, Allocated: decimal.Zero}
		}
		view.Resources = append(view.Resources, capacityOf(total, period.MonthlyCap))
	}
	return view, nil
}

func (s *ServiceImpl) CapacityForProject(ctx context.Context, projectId int, period billing_period.Period) (View, error) {
	if projectId <= 0 {
		return View{}, ErrInvalidProject
	}
	totals, err := s.repo.TotalsForProject(ctx, projectId, period.Start)
	if err != nil {
		return View{}, fmt.Errorf("failed to aggregate capacity of project %d: %w", projectId, err)
	}

	view := View{Period: period, Resources: make([]Capacity, 0, len(totals))}
	for _, total := range totals {
		view.Resources = append(view.Resources, capacityOf(total, period.MonthlyCap))
	}
	return view, nil
}
