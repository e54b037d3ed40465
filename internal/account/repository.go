package account

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Repository errors.
var (
	ErrAccountNotFound = errors.New("account not found")
)

// Repository defines account persistence.
type Repository interface {
	// Get retrieves an account by id.
	Get(ctx context.Context, id string) (*Account, error)

	// FindByCustomerID retrieves the account linked to a billing customer.
	FindByCustomerID(ctx context.Context, customerID string) (*Account, error)

	// FindByEmail retrieves an account by email, case-insensitively.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// LinkCustomer stores the billing customer id on the account.
	LinkCustomer(ctx context.Context, id, customerID string) error
}

// InMemoryRepository is an in-memory implementation of Repository.
type InMemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{accounts: make(map[string]*Account)}
}

// Put stores a copy of the account. Used to seed tests and local runs.
func (r *InMemoryRepository) Put(a *Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.accounts[a.ID] = &c
}

// Get retrieves an account by id.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	c := *a
	return &c, nil
}

// FindByCustomerID retrieves the account linked to a billing customer.
func (r *InMemoryRepository) FindByCustomerID(_ context.Context, customerID string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.accounts {
		if customerID != "" && a.StripeCustomerID == customerID {
			c := *a
			return &c, nil
		}
	}
	return nil, ErrAccountNotFound
}

// FindByEmail retrieves an account by email, case-insensitively.
func (r *InMemoryRepository) FindByEmail(_ context.Context, email string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.accounts {
		if email != "" && strings.EqualFold(a.Email, email) {
			c := *a
			return &c, nil
		}
	}
	return nil, ErrAccountNotFound
}

// LinkCustomer stores the billing customer id on the account.
func (r *InMemoryRepository) LinkCustomer(_ context.Context, id, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	a.StripeCustomerID = customerID
	a.UpdatedAt = time.Now().UTC()
	return nil
}

var _ Repository = (*InMemoryRepository)(nil)
