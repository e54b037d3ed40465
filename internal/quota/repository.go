package quota

import (
	"context"
	"errors"
	"sync"
)

// Repository errors.
var (
	ErrQuotaNotFound   = errors.New("quota record not found")
	ErrVersionConflict = errors.New("quota record modified concurrently")
)

// Repository stores quota records with optimistic concurrency.
type Repository interface {
	Get(ctx context.Context, userID string) (*Record, error)

	// Insert creates the record with Version 1. It returns
	// ErrVersionConflict when a record already exists.
	Insert(ctx context.Context, rec *Record) error

	// Update writes rec if the stored version still equals rec.Version, and
	// advances rec.Version on success.
	Update(ctx context.Context, rec *Record) error
}

// InMemoryRepository is an in-memory implementation of Repository.
type InMemoryRepository struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewInMemoryRepository creates a new in-memory quota repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{records: make(map[string]*Record)}
}

// Get retrieves a user's record.
func (r *InMemoryRepository) Get(_ context.Context, userID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[userID]
	if !ok {
		return nil, ErrQuotaNotFound
	}
	return rec.clone(), nil
}

// Insert creates a record.
func (r *InMemoryRepository) Insert(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.UserID]; ok {
		return ErrVersionConflict
	}
	rec.Version = 1
	r.records[rec.UserID] = rec.clone()
	return nil
}

// Update replaces a record if its version matches.
func (r *InMemoryRepository) Update(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[rec.UserID]
	if !ok {
		return ErrQuotaNotFound
	}
	if existing.Version != rec.Version {
		return ErrVersionConflict
	}
	rec.Version++
	r.records[rec.UserID] = rec.clone()
	return nil
}

var _ Repository = (*InMemoryRepository)(nil)
