package weekly_allocation

import (
	"context"
	"sort"
	"sync"
)

type weekKey struct {
	allocationId int
	weekNumber   int
}

type RepositoryStub struct {
	mu     sync.RWMutex
	weeks  map[weekKey]WeeklyAllocation
	nextId int
	err    error
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		weeks:  make(map[weekKey]WeeklyAllocation),
		nextId: 1,
	}
}

func (r *RepositoryStub) WithTransaction(ctx context.Context, fn func(repo Repository) error) error {
	r.mu.Lock()
	snapshot := make(map[weekKey]WeeklyAllocation, len(r.weeks))
	for k, v := range r.weeks {
		snapshot[k] = v
	}
	nextId := r.nextId
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.weeks = snapshot
		r.nextId = nextId
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *RepositoryStub) ListForAllocation(ctx context.Context, allocationId int) ([]WeeklyAllocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return nil, r.err
	}

	result := make([]WeeklyAllocation, 0)
	for key, week := range r.weeks {
		if key.allocationId == allocationId {
			result = append(result, week)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].WeekNumber < result[j].WeekNumber })
	return result, nil
}

func (r *RepositoryStub) GetWeek(ctx context.Context, allocationId int, weekNumber int) (WeeklyAllocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return WeeklyAllocation{}, r.err
	}

	week, ok := r.weeks[weekKey{allocationId, weekNumber}]
	if !ok {
		return WeeklyAllocation{}, ErrWeekNotFound
	}
	return week, nil
}

func (r *RepositoryStub) Upsert(ctx context.Context, weeks []WeeklyAllocation) ([]WeeklyAllocation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}

	stored := make([]WeeklyAllocation, 0, len(weeks))
	for _, week := range weeks {
		key := weekKey{week.AllocationId, week.WeekNumber}
		existing, ok := r.weeks[key]
		if ok {
			week.Id = existing.Id
			week.Status = existing.Status
			if !existing.Hours.Equal(week.Hours) {
				week.Status = StatusPending
			}
		} else {
			week.Id = r.nextId
			week.Status = StatusPending
			r.nextId++
		}
		r.weeks[key] = week
		stored = append(stored, week)
	}
	return stored, nil
}

func (r *RepositoryStub) UpdateStatus(ctx context.Context, allocationId int, weekNumber int, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}

	key := weekKey{allocationId, weekNumber}
	week, ok := r.weeks[key]
	if !ok {
		return ErrWeekNotFound
	}
	week.Status = status
	r.weeks[key] = week
	return nil
}

// SetError makes every following call fail with err.
func (r *RepositoryStub) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}
