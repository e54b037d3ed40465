package billing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Repository errors.
var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvoiceNotFound      = errors.New("invoice not found")
)

// Repository persists reconciled billing state. Upserts are keyed on the
// gateway ids and are safe to apply more than once.
type Repository interface {
	// GetSubscription retrieves a subscription by gateway id.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// LatestSubscription returns the user's most relevant subscription:
	// active ones first, then the most recently updated.
	LatestSubscription(ctx context.Context, userID string) (*Subscription, error)

	// HasSubscription reports whether any subscription record exists for the user.
	HasSubscription(ctx context.Context, userID string) (bool, error)

	// UpsertSubscription creates or replaces a subscription record.
	UpsertSubscription(ctx context.Context, sub *Subscription) error

	// GetInvoice retrieves an invoice by gateway id.
	GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error)

	// UpsertInvoice creates or replaces an invoice record.
	UpsertInvoice(ctx context.Context, inv *Invoice) error
}

// EventLog records processed webhook events so redeliveries can be
// acknowledged without re-running side effects.
type EventLog interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

// InMemoryRepository is an in-memory implementation of Repository and EventLog.
type InMemoryRepository struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	invoices      map[string]*Invoice
	events        map[string]string
}

// NewInMemoryRepository creates an empty in-memory repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		subscriptions: make(map[string]*Subscription),
		invoices:      make(map[string]*Invoice),
		events:        make(map[string]string),
	}
}

// GetSubscription retrieves a subscription by gateway id.
func (r *InMemoryRepository) GetSubscription(_ context.Context, subscriptionID string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subscriptions[subscriptionID]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

// LatestSubscription returns the user's most relevant subscription.
func (r *InMemoryRepository) LatestSubscription(_ context.Context, userID string) (*Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subs []*Subscription
	for _, sub := range r.subscriptions {
		if sub.UserID == userID {
			subs = append(subs, sub)
		}
	}
	if len(subs) == 0 {
		return nil, ErrSubscriptionNotFound
	}

	sort.Slice(subs, func(i, j int) bool {
		if subs[i].IsActive() != subs[j].IsActive() {
			return subs[i].IsActive()
		}
		return subs[i].UpdatedAt.After(subs[j].UpdatedAt)
	})
	return copySubscription(subs[0]), nil
}

// HasSubscription reports whether any subscription record exists for the user.
func (r *InMemoryRepository) HasSubscription(_ context.Context, userID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sub := range r.subscriptions {
		if sub.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

// UpsertSubscription creates or replaces a subscription record.
func (r *InMemoryRepository) UpsertSubscription(_ context.Context, sub *Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := copySubscription(sub)
	stored.CreatedAt = now
	if existing, ok := r.subscriptions[sub.SubscriptionID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	stored.UpdatedAt = now
	r.subscriptions[sub.SubscriptionID] = stored
	return nil
}

// GetInvoice retrieves an invoice by gateway id.
func (r *InMemoryRepository) GetInvoice(_ context.Context, invoiceID string) (*Invoice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invoices[invoiceID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	c := *inv
	return &c, nil
}

// UpsertInvoice creates or replaces an invoice record.
func (r *InMemoryRepository) UpsertInvoice(_ context.Context, inv *Invoice) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	stored := *inv
	stored.CreatedAt = now
	if existing, ok := r.invoices[inv.InvoiceID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}
	stored.UpdatedAt = now
	r.invoices[inv.InvoiceID] = &stored
	return nil
}

// IsProcessed reports whether the event was already handled.
func (r *InMemoryRepository) IsProcessed(_ context.Context, eventID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.events[eventID]
	return ok, nil
}

// MarkProcessed records the event as handled.
func (r *InMemoryRepository) MarkProcessed(_ context.Context, eventID, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[eventID] = eventType
	return nil
}

func copySubscription(s *Subscription) *Subscription {
	c := *s
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

var (
	_ Repository = (*InMemoryRepository)(nil)
	_ EventLog   = (*InMemoryRepository)(nil)
)
