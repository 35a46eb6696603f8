package punch

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type capKey struct {
	allocationId int
	weekNumber   int
}

type punchKey struct {
	resourceId   int
	allocationId int
	date         time.Time
}

type RepositoryStub struct {
	mu          sync.RWMutex
	allocations map[int]AllocationRef
	caps        map[capKey]decimal.Decimal
	punches     map[punchKey]Punch
	nextId      int
	locked      []int
	err         error
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		allocations: make(map[int]AllocationRef),
		caps:        make(map[capKey]decimal.Decimal),
		punches:     make(map[punchKey]Punch),
		nextId:      1,
	}
}

func (r *RepositoryStub) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	r.mu.Lock()
	snapshot := make(map[punchKey]Punch, len(r.punches))
	for k, v := range r.punches {
		snapshot[k] = v
	}
	nextId := r.nextId
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.punches = snapshot
		r.nextId = nextId
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *RepositoryStub) GetAllocation(ctx context.Context, allocationId int, lock bool) (AllocationRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return AllocationRef{}, r.err
	}

	ref, ok := r.allocations[allocationId]
	if !ok {
		return AllocationRef{}, ErrAllocationNotFound
	}
	if lock {
		r.locked = append(r.locked, allocationId)
	}
	return ref, nil
}

func (r *RepositoryStub) WeeklyCap(ctx context.Context, allocationId int, weekNumber int) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return decimal.Zero, r.err
	}

	hours, ok := r.caps[capKey{allocationId, weekNumber}]
	if !ok {
		return decimal.Zero, ErrNoWeeklyAllocation
	}
	return hours, nil
}

func (r *RepositoryStub) ListWeeklyCaps(ctx context.Context, allocationId int) (map[int]decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return nil, r.err
	}

	caps := make(map[int]decimal.Decimal)
	for key, hours := range r.caps {
		if key.allocationId == allocationId {
			caps[key.weekNumber] = hours
		}
	}
	return caps, nil
}

func (r *RepositoryStub) SumHours(ctx context.Context, resourceId int, allocationId int, from time.Time, to time.Time, excluded time.Time) (decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return decimal.Zero, r.err
	}

	total := decimal.Zero
	for key, punch := range r.punches {
		if key.resourceId != resourceId || key.allocationId != allocationId {
			continue
		}
		if key.date.Before(from) || key.date.After(to) || key.date.Equal(excluded) {
			continue
		}
		total = total.Add(punch.Hours)
	}
	return total, nil
}

func (r *RepositoryStub) Upsert(ctx context.Context, punch Punch) (Punch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Punch{}, r.err
	}

	key := punchKey{punch.ResourceId, punch.AllocationId, punch.Date}
	if existing, ok := r.punches[key]; ok {
		punch.Id = existing.Id
	} else {
		punch.Id = r.nextId
		r.nextId++
	}
	r.punches[key] = punch
	return punch, nil
}

func (r *RepositoryStub) List(ctx context.Context, resourceId int, allocationId int, from time.Time, to time.Time) ([]Punch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return nil, r.err
	}

	result := make([]Punch, 0)
	for key, punch := range r.punches {
		if key.resourceId == resourceId && key.allocationId == allocationId && !key.date.Before(from) && !key.date.After(to) {
			result = append(result, punch)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Date.Before(result[j].Date) })
	return result, nil
}

// AddAllocation registers an allocation punches can be recorded against.
func (r *RepositoryStub) AddAllocation(ref AllocationRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allocations[ref.Id] = ref
}

// SetWeeklyCap stores the planned hours of one week of an allocation.
func (r *RepositoryStub) SetWeeklyCap(allocationId int, weekNumber int, hours decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[capKey{allocationId, weekNumber}] = hours
}

// Locked returns the ids of allocations read with a row lock, in call order.
func (r *RepositoryStub) Locked() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]int(nil), r.locked...)
}

func (r *RepositoryStub) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}
