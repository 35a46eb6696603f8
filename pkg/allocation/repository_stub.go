package allocation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type stubAllocation struct {
	resourceId  int
	projectId   int
	periodStart time.Time
	total       decimal.Decimal
}

type RepositoryStub struct {
	mu          sync.RWMutex
	allocations map[int]stubAllocation
	items       map[int]Item
	identifiers map[int]string // resourceId -> identifier
	punched     map[int]bool   // allocationId -> has punches
	nextId      int
	failAfter   int
	calls       int
	failErr     error
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		allocations: make(map[int]stubAllocation),
		items:       make(map[int]Item),
		identifiers: make(map[int]string),
		punched:     make(map[int]bool),
		nextId:      1,
	}
}

func (r *RepositoryStub) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	r.mu.Lock()
	allocations := make(map[int]stubAllocation, len(r.allocations))
	for k, v := range r.allocations {
		allocations[k] = v
	}
	items := make(map[int]Item, len(r.items))
	for k, v := range r.items {
		items[k] = v
	}
	nextId := r.nextId
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.allocations = allocations
		r.items = items
		r.nextId = nextId
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *RepositoryStub) TxContext(ctx context.Context) context.Context {
	return ctx
}

// failure counts mutating calls and returns the configured error on the configured call.
func (r *RepositoryStub) failure() error {
	r.calls++
	if r.failAfter > 0 && r.calls == r.failAfter {
		return r.failErr
	}
	return nil
}

// FailOnCall makes the n-th mutating call return err.
func (r *RepositoryStub) FailOnCall(n int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failAfter = n
	r.calls = 0
	r.failErr = err
}

func (r *RepositoryStub) FindOrCreateAllocation(ctx context.Context, resourceId int, projectId int, periodStart time.Time) (Allocation, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return Allocation{}, false, err
	}

	for id, a := range r.allocations {
		if a.resourceId == resourceId && a.projectId == projectId && a.periodStart.Equal(periodStart) {
			return r.build(id), false, nil
		}
	}
	id := r.nextId
	r.nextId++
	r.allocations[id] = stubAllocation{
		resourceId:  resourceId,
		projectId:   projectId,
		periodStart: periodStart,
		total:       decimal.Zero,
	}
	return r.build(id), true, nil
}

func (r *RepositoryStub) Get(ctx context.Context, id int) (Allocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.allocations[id]; !ok {
		return Allocation{}, ErrAllocationNotFound
	}
	return r.build(id), nil
}

func (r *RepositoryStub) ListForProject(ctx context.Context, projectId int, periodStart time.Time) ([]Allocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := r.filter(func(a stubAllocation) bool {
		return a.projectId == projectId && a.periodStart.Equal(periodStart)
	})
	sort.Slice(result, func(i, j int) bool {
		if result[i].ResourceIdentifier != result[j].ResourceIdentifier {
			return result[i].ResourceIdentifier < result[j].ResourceIdentifier
		}
		return result[i].Id < result[j].Id
	})
	return result, nil
}

func (r *RepositoryStub) ListForResource(ctx context.Context, resourceId int, periodStart time.Time) ([]Allocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := r.filter(func(a stubAllocation) bool {
		return a.resourceId == resourceId && a.periodStart.Equal(periodStart)
	})
	sort.Slice(result, func(i, j int) bool { return result[i].ProjectId < result[j].ProjectId })
	return result, nil
}

func (r *RepositoryStub) InsertItem(ctx context.Context, allocationId int, groupingKey string, hours decimal.Decimal) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return Item{}, err
	}

	item := Item{Id: r.nextId, AllocationId: allocationId, GroupingKey: groupingKey, Hours: hours}
	r.nextId++
	r.items[item.Id] = item
	return item, nil
}

func (r *RepositoryStub) UpdateItemHours(ctx context.Context, itemId int, hours decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}

	item, ok := r.items[itemId]
	if !ok {
		return ErrAllocationNotFound
	}
	item.Hours = hours
	r.items[itemId] = item
	return nil
}

func (r *RepositoryStub) DeleteItems(ctx context.Context, itemIds []int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return 0, err
	}

	count := 0
	for _, id := range itemIds {
		if _, ok := r.items[id]; ok {
			delete(r.items, id)
			count++
		}
	}
	return count, nil
}

func (r *RepositoryStub) RecomputeTotal(ctx context.Context, allocationId int) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return decimal.Zero, err
	}

	a, ok := r.allocations[allocationId]
	if !ok {
		return decimal.Zero, ErrAllocationNotFound
	}
	total := decimal.Zero
	for _, item := range r.items {
		if item.AllocationId == allocationId {
			total = total.Add(item.Hours)
		}
	}
	a.total = total
	r.allocations[allocationId] = a
	return total, nil
}

func (r *RepositoryStub) HasPunches(ctx context.Context, allocationId int) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.punched[allocationId], nil
}

func (r *RepositoryStub) DeleteAllocation(ctx context.Context, allocationId int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failure(); err != nil {
		return err
	}

	if _, ok := r.allocations[allocationId]; !ok {
		return ErrAllocationNotFound
	}
	delete(r.allocations, allocationId)
	for id, item := range r.items {
		if item.AllocationId == allocationId {
			delete(r.items, id)
		}
	}
	return nil
}

// RegisterResource records the identifier shown for resourceId.
func (r *RepositoryStub) RegisterResource(resourceId int, identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identifiers[resourceId] = identifier
}

// MarkPunched records that the allocation carries punches.
func (r *RepositoryStub) MarkPunched(allocationId int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.punched[allocationId] = true
}

// AllItems returns every stored item ordered by id.
func (r *RepositoryStub) AllItems() []Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Item, 0, len(r.items))
	for _, item := range r.items {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Id < result[j].Id })
	return result
}

func (r *RepositoryStub) filter(keep func(stubAllocation) bool) []Allocation {
	var result []Allocation
	for id, a := range r.allocations {
		if keep(a) {
			result = append(result, r.build(id))
		}
	}
	return result
}

func (r *RepositoryStub) build(id int) Allocation {
	a := r.allocations[id]
	allocation := Allocation{
		Id:                 id,
		ResourceId:         a.resourceId,
		ResourceIdentifier: r.identifiers[a.resourceId],
		ProjectId:          a.projectId,
		PeriodStart:        a.periodStart,
		TotalHours:         a.total,
	}
	for _, item := range r.items {
		if item.AllocationId == id {
			allocation.Items = append(allocation.Items, item)
		}
	}
	sort.Slice(allocation.Items, func(i, j int) bool {
		return allocation.Items[i].GroupingKey < allocation.Items[j].GroupingKey
	})
	return allocation
}
