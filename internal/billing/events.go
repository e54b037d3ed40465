package billing

import (
	"context"
	"errors"
	"fmt"
)

// Billing event types handled by the reconciler.
const (
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventSubscriptionTrialEnding = "customer.subscription.trial_will_end"
	EventInvoiceCreated          = "invoice.created"
	EventInvoiceUpdated          = "invoice.updated"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventCustomerUpdated         = "customer.updated"
)

// ErrMalformedEvent is returned when a verified event's object cannot be decoded.
var ErrMalformedEvent = errors.New("malformed billing event")

// EventHandler handles one billing event type.
type EventHandler interface {
	Handle(ctx context.Context, evt *Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, evt *Event) error

// Handle calls f.
func (f EventHandlerFunc) Handle(ctx context.Context, evt *Event) error {
	return f(ctx, evt)
}

type subscriptionHandler func(ctx context.Context, sub *Subscription) error

func (h subscriptionHandler) Handle(ctx context.Context, evt *Event) error {
	sub, err := decodeSubscription(evt.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return h(ctx, sub)
}

type invoiceHandler func(ctx context.Context, inv *Invoice) error

func (h invoiceHandler) Handle(ctx context.Context, evt *Event) error {
	inv, err := decodeInvoice(evt.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return h(ctx, inv)
}

type customerHandler func(ctx context.Context, cust *CustomerUpdate) error

func (h customerHandler) Handle(ctx context.Context, evt *Event) error {
	cust, err := decodeCustomer(evt.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return h(ctx, cust)
}

// Handlers returns the reconciler's handlers keyed by event type.
func (r *Reconciler) Handlers() map[string]EventHandler {
	return map[string]EventHandler{
		EventSubscriptionCreated:     subscriptionHandler(r.SubscriptionCreated),
		EventSubscriptionUpdated:     subscriptionHandler(r.SubscriptionUpdated),
		EventSubscriptionDeleted:     subscriptionHandler(r.SubscriptionDeleted),
		EventSubscriptionTrialEnding: subscriptionHandler(r.TrialWillEnd),
		EventInvoiceCreated:          invoiceHandler(r.InvoiceCreated),
		EventInvoiceUpdated:          invoiceHandler(r.InvoiceUpdated),
		EventInvoicePaymentSucceeded: invoiceHandler(r.InvoicePaymentSucceeded),
		EventInvoicePaymentFailed:    invoiceHandler(r.InvoicePaymentFailed),
		EventCustomerUpdated:         customerHandler(r.CustomerUpdated),
	}
}
