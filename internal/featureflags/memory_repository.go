package featureflags

import (
	"context"
	"sync"
)

// InMemoryRepository keeps flags in a map. Used by tests and local runs
// without Postgres.
type InMemoryRepository struct {
	mu    sync.RWMutex
	flags map[string]Flag
}

// NewInMemoryRepository returns an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{flags: make(map[string]Flag)}
}

// GetFlag implements Repository.
func (r *InMemoryRepository) GetFlag(_ context.Context, key string) (*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flag, ok := r.flags[key]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return &flag, nil
}

// GetAllFlags implements Repository.
func (r *InMemoryRepository) GetAllFlags(context.Context) (map[string]*Flag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Flag, len(r.flags))
	for key, flag := range r.flags {
		flag := flag
		out[key] = &flag
	}
	return out, nil
}

// SetFlags implements Repository.
func (r *InMemoryRepository) SetFlags(_ context.Context, flags []*Flag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, flag := range flags {
		r.flags[flag.Key] = *flag
	}
	return nil
}

var _ Repository = (*InMemoryRepository)(nil)
