package deletion

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Repository errors.
var (
	ErrRequestNotFound     = errors.New("deletion request not found")
	ErrActiveRequestExists = errors.New("an active deletion request already exists")
	ErrStatusChanged       = errors.New("deletion request status changed concurrently")
)

// Repository persists deletion requests.
type Repository interface {
	// Create stores a new pending request. It returns ErrActiveRequestExists
	// when the user already has a pending or confirmed request.
	Create(ctx context.Context, req *Request) error

	Get(ctx context.Context, id string) (*Request, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*Request, error)

	// GetActive returns the user's pending or confirmed request.
	GetActive(ctx context.Context, userID string) (*Request, error)

	// Update writes req only if the stored status still equals from.
	Update(ctx context.Context, req *Request, from Status) error

	// ListDue returns confirmed requests scheduled at or before now, oldest first.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Request, error)

	// DeleteExpiredPending removes pending requests created before cutoff.
	DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int, error)

	Counts(ctx context.Context, now, expiryCutoff time.Time) (*StatusCounts, error)
}

// InMemoryRepository is an in-memory implementation of Repository.
type InMemoryRepository struct {
	mu       sync.RWMutex
	requests map[string]*Request
}

// NewInMemoryRepository creates a new in-memory deletion repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{requests: make(map[string]*Request)}
}

// Create stores a new request, enforcing one live request per user.
func (r *InMemoryRepository) Create(_ context.Context, req *Request) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.requests {
		if existing.UserID == req.UserID && existing.Status.IsLive() {
			return ErrActiveRequestExists
		}
	}
	r.requests[req.ID] = req.clone()
	return nil
}

// Get retrieves a request by id.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return req.clone(), nil
}

// GetByTokenHash retrieves a request by its confirmation token hash.
func (r *InMemoryRepository) GetByTokenHash(_ context.Context, tokenHash string) (*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, req := range r.requests {
		if req.TokenHash == tokenHash {
			return req.clone(), nil
		}
	}
	return nil, ErrRequestNotFound
}

// GetActive returns the user's live request.
func (r *InMemoryRepository) GetActive(_ context.Context, userID string) (*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, req := range r.requests {
		if req.UserID == userID && req.Status.IsLive() {
			return req.clone(), nil
		}
	}
	return nil, ErrRequestNotFound
}

// Update replaces a request whose stored status is still from.
func (r *InMemoryRepository) Update(_ context.Context, req *Request, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.requests[req.ID]
	if !ok {
		return ErrRequestNotFound
	}
	if existing.Status != from {
		return ErrStatusChanged
	}
	r.requests[req.ID] = req.clone()
	return nil
}

// ListDue returns confirmed requests whose scheduled time has passed.
func (r *InMemoryRepository) ListDue(_ context.Context, now time.Time, limit int) ([]*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []*Request
	for _, req := range r.requests {
		if req.IsDue(now) {
			due = append(due, req.clone())
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledDeletionAt.Before(due[j].ScheduledDeletionAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// DeleteExpiredPending removes stale unconfirmed requests.
func (r *InMemoryRepository) DeleteExpiredPending(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, req := range r.requests {
		if req.Status == StatusPending && req.CreatedAt.Before(cutoff) {
			delete(r.requests, id)
			removed++
		}
	}
	return removed, nil
}

// Counts summarizes live, due and expired requests.
func (r *InMemoryRepository) Counts(_ context.Context, now, expiryCutoff time.Time) (*StatusCounts, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := &StatusCounts{}
	for _, req := range r.requests {
		if req.Status.IsLive() {
			counts.ActiveRequests++
		}
		if req.IsDue(now) {
			counts.ReadyForDeletion++
		}
		if req.Status == StatusPending && req.CreatedAt.Before(expiryCutoff) {
			counts.ExpiredRequests++
		}
	}
	return counts, nil
}

var _ Repository = (*InMemoryRepository)(nil)
