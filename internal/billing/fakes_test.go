package billing_test

import (
	"context"
	"sync"

	"github.com/letterforge/letterforge/internal/billing"
)

type fakeGateway struct {
	mu sync.Mutex

	subscriptions map[string]*billing.Subscription
	invoices      []billing.PaidInvoice
	emails        map[string]string

	getErr    error
	cancelErr error
	listErr   error
	refundErr error

	cancelled []string
	refunds   []billing.RefundRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		subscriptions: make(map[string]*billing.Subscription),
		emails:        make(map[string]string),
	}
}

func (f *fakeGateway) GetSubscription(_ context.Context, id string) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, billing.ErrSubscriptionNotFound
	}
	c := *sub
	return &c, nil
}

func (f *fakeGateway) CancelSubscription(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	sub, ok := f.subscriptions[id]
	if !ok {
		return billing.ErrSubscriptionNotFound
	}
	sub.Status = billing.StatusCanceled
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeGateway) ListPaidInvoices(_ context.Context, _, _ string, limit int) ([]billing.PaidInvoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.invoices) > limit {
		return append([]billing.PaidInvoice(nil), f.invoices[:limit]...), nil
	}
	return append([]billing.PaidInvoice(nil), f.invoices...), nil
}

func (f *fakeGateway) Refund(_ context.Context, req billing.RefundRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return "", f.refundErr
	}
	f.refunds = append(f.refunds, req)
	return "re_1", nil
}

func (f *fakeGateway) CustomerEmail(_ context.Context, customerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	email, ok := f.emails[customerID]
	if !ok {
		return "", billing.ErrCustomerNotFound
	}
	return email, nil
}

var _ billing.Gateway = (*fakeGateway)(nil)
