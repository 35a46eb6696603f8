package capacity

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type stubAllocation struct {
	resourceId  int
	identifier  string
	projectId   int
	periodStart time.Time
	total       decimal.Decimal
	hasItems    bool
}

type RepositoryStub struct {
	allocations []stubAllocation
	err         error
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{}
}

// AddAllocation stores a monthly allocation total; hasItems marks it as carrying allocation items.
func (r *RepositoryStub) AddAllocation(resourceId int, identifier string, projectId int, periodStart time.Time, total decimal.Decimal, hasItems bool) {
	r.allocations = append(r.allocations, stubAllocation{
		resourceId:  resourceId,
		identifier:  identifier,
		projectId:   projectId,
		periodStart: periodStart,
		total:       total,
		hasItems:    hasItems,
	})
}

func (r *RepositoryStub) SetError(err error) {
	r.err = err
}

func (r *RepositoryStub) TotalsByIdentifiers(ctx context.Context, identifiers []string, periodStart time.Time) ([]ResourceTotal, error) {
	if r.err != nil {
		return nil, r.err
	}
	wanted := make(map[string]bool, len(identifiers))
	for _, identifier := range identifiers {
		wanted[identifier] = true
	}
	return r.totals(periodStart, func(a stubAllocation) bool { return wanted[a.identifier] }), nil
}

func (r *RepositoryStub) TotalsForProject(ctx context.Context, projectId int, periodStart time.Time) ([]ResourceTotal, error) {
	if r.err != nil {
		return nil, r.err
	}
	onProject := make(map[int]bool)
	for _, a := range r.allocations {
		if a.projectId == projectId && a.periodStart.Equal(periodStart) && a.hasItems {
			onProject[a.resourceId] = true
		}
	}
	return r.totals(periodStart, func(a stubAllocation) bool { return onProject[a.resourceId] }), nil
}

func (r *RepositoryStub) totals(periodStart time.Time, keep func(stubAllocation) bool) []ResourceTotal {
	byResource := make(map[int]*ResourceTotal)
	for _, a := range r.allocations {
		if !keep(a) {
			continue
		}
		total, ok := byResource[a.resourceId]
		if !ok {
			total = &ResourceTotal{ResourceId: a.resourceId, Identifier: a.identifier, Allocated: decimal.Zero}
			byResource[a.resourceId] = total
		}
		if a.periodStart.Equal(periodStart) {
			total.Allocated = total.Allocated.Add(a.total)
		}
	}
	result := make([]ResourceTotal, 0, len(byResource))
	for _, total := range byResource {
		result = append(result, *total)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Identifier < result[j].Identifier })
	return result
}
