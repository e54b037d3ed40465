package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Gateway errors.
var (
	ErrCustomerNotFound = errors.New("billing customer not found")
)

// ExternalServiceError wraps a failed payment gateway call.
type ExternalServiceError struct {
	Op  string
	Err error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("billing gateway %s: %v", e.Op, e.Err)
}

func (e *ExternalServiceError) Unwrap() error {
	return e.Err
}

// PaidInvoice is the refund-relevant view of a paid gateway invoice.
type PaidInvoice struct {
	InvoiceID   string
	ChargeID    string
	AmountPaid  int64
	PeriodStart time.Time
	PeriodEnd   time.Time
	Created     time.Time
}

// RefundRequest describes a partial refund against a charge.
type RefundRequest struct {
	ChargeID       string
	Amount         int64
	IdempotencyKey string
	Metadata       map[string]string
}

// Gateway is the subset of the payment gateway the lifecycle needs.
type Gateway interface {
	// GetSubscription fetches the gateway's current view of a subscription.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// CancelSubscription cancels immediately without proration.
	CancelSubscription(ctx context.Context, subscriptionID string) error

	// ListPaidInvoices returns up to limit paid invoices, newest first.
	ListPaidInvoices(ctx context.Context, customerID, subscriptionID string, limit int) ([]PaidInvoice, error)

	// Refund issues a refund and returns its id.
	Refund(ctx context.Context, req RefundRequest) (string, error)

	// CustomerEmail returns the email registered on a gateway customer.
	CustomerEmail(ctx context.Context, customerID string) (string, error)
}
