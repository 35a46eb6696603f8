package resource

import (
	"context"
	"sync"
)

type RepositoryStub struct {
	mu           sync.RWMutex
	resources    map[int]Resource
	byIdentifier map[string]int
	nextId       int
	err          error
}

func NewRepositoryStub() *RepositoryStub {
	return &RepositoryStub{
		resources:    make(map[int]Resource),
		byIdentifier: make(map[string]int),
		nextId:       1,
	}
}

func (r *RepositoryStub) FindOrCreate(ctx context.Context, res Resource) (Resource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Resource{}, r.err
	}

	if id, ok := r.byIdentifier[res.Identifier]; ok {
		return r.resources[id], nil
	}
	res.Id = r.nextId
	r.nextId++
	r.resources[res.Id] = res
	r.byIdentifier[res.Identifier] = res.Id
	return res, nil
}

func (r *RepositoryStub) GetByIdentifier(ctx context.Context, identifier string) (Resource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.err != nil {
		return Resource{}, r.err
	}

	id, ok := r.byIdentifier[identifier]
	if !ok {
		return Resource{}, ErrResourceNotFound
	}
	return r.resources[id], nil
}

func (r *RepositoryStub) SetError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *RepositoryStub) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources)
}
