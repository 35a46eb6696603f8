package billing_period

import (
	"context"
	"sort"
	"sync"
	"time"
)

type overrideKey struct {
	year  int
	month time.Month
}

type RepositoryStub struct {
	mu        sync.RWMutex
	overrides map[overrideKey]Override
	err       error
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		overrides: make(map[overrideKey]Override),
	}
}

func (r *RepositoryStub) GetOverride(ctx context.Context, year int, month time.Month) (Override, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return Override{}, r.err
	}

	override, ok := r.overrides[overrideKey{year, month}]
	if !ok {
		return Override{}, ErrOverrideNotFound
	}
	return override, nil
}

func (r *RepositoryStub) FindOverrideContaining(ctx context.Context, date time.Time) (Override, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return Override{}, r.err
	}

	var found *Override
	for _, override := range r.overrides {
		if !override.hasWindow() || date.Before(*override.StartDate) || date.After(*override.EndDate) {
			continue
		}
		if found == nil || override.StartDate.Before(*found.StartDate) {
			o := override
			found = &o
		}
	}
	if found == nil {
		return Override{}, ErrOverrideNotFound
	}
	return *found, nil
}

func (r *RepositoryStub) ListOverrides(ctx context.Context, year int) ([]Override, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return nil, r.err
	}

	result := make([]Override, 0, 12)
	for key, override := range r.overrides {
		if key.year == year {
			result = append(result, override)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Month < result[j].Month })
	return result, nil
}

func (r *RepositoryStub) SaveOverride(ctx context.Context, override Override) (Override, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Override{}, r.err
	}

	r.overrides[overrideKey{override.Year, override.Month}] = override
	return override, nil
}

func (r *RepositoryStub) DeleteOverride(ctx context.Context, year int, month time.Month) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}

	key := overrideKey{year, month}
	if _, ok := r.overrides[key]; !ok {
		return ErrOverrideNotFound
	}
	delete(r.overrides, key)
	return nil
}

// SetError makes every following call fail with err, simulating a storage outage.
func (r *RepositoryStub) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}
