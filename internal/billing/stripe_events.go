package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Event is a verified billing event envelope.
type Event struct {
	ID      string
	Type    string
	Created time.Time
	Data    json.RawMessage
}

// StripeVerifier verifies Stripe-Signature headers.
type StripeVerifier struct {
	secret    string
	tolerance time.Duration
}

// NewStripeVerifier creates a verifier for the endpoint's signing secret.
func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{secret: secret, tolerance: webhook.DefaultTolerance}
}

// Verify checks the signature and decodes the envelope.
func (v *StripeVerifier) Verify(payload []byte, signature string) (*Event, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	out := &Event{
		ID:      evt.ID,
		Type:    string(evt.Type),
		Created: time.Unix(evt.Created, 0).UTC(),
	}
	if evt.Data != nil {
		out.Data = evt.Data.Raw
	}
	return out, nil
}

func decodeSubscription(raw json.RawMessage) (*Subscription, error) {
	var s stripe.Subscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	if s.ID == "" {
		return nil, errors.New("decode subscription: missing id")
	}
	return subscriptionFromStripe(&s), nil
}

func decodeInvoice(raw json.RawMessage) (*Invoice, error) {
	var in stripe.Invoice
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("decode invoice: %w", err)
	}
	if in.ID == "" {
		return nil, errors.New("decode invoice: missing id")
	}
	return invoiceFromStripe(&in), nil
}

// CustomerUpdate is the part of a customer.updated payload the CRM cares about.
type CustomerUpdate struct {
	CustomerID string
	Email      string
	Name       string
}

func decodeCustomer(raw json.RawMessage) (*CustomerUpdate, error) {
	var c stripe.Customer
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode customer: %w", err)
	}
	if c.ID == "" {
		return nil, errors.New("decode customer: missing id")
	}
	return &CustomerUpdate{CustomerID: c.ID, Email: c.Email, Name: c.Name}, nil
}

func subscriptionFromStripe(s *stripe.Subscription) *Subscription {
	sub := &Subscription{
		SubscriptionID:     s.ID,
		Status:             string(s.Status),
		CurrentPeriodStart: unixTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(s.CurrentPeriodEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CanceledAt:         unixTime(s.CanceledAt),
		TrialStart:         unixTime(s.TrialStart),
		TrialEnd:           unixTime(s.TrialEnd),
		Metadata:           s.Metadata,
	}
	if s.Customer != nil {
		sub.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 && s.Items.Data[0].Price != nil {
		sub.PriceID = s.Items.Data[0].Price.ID
	}
	return sub
}

func invoiceFromStripe(in *stripe.Invoice) *Invoice {
	inv := &Invoice{
		InvoiceID:       in.ID,
		AmountDue:       in.AmountDue,
		AmountPaid:      in.AmountPaid,
		AmountRemaining: in.AmountRemaining,
		Currency:        string(in.Currency),
		Status:          string(in.Status),
		Description:     in.Description,
		BillingReason:   string(in.BillingReason),
		PeriodStart:     unixTime(in.PeriodStart),
		PeriodEnd:       unixTime(in.PeriodEnd),
		HostedURL:       in.HostedInvoiceURL,
		PDFURL:          in.InvoicePDF,
		AttemptCount:    in.AttemptCount,
	}
	if in.Customer != nil {
		inv.CustomerID = in.Customer.ID
	}
	if in.Subscription != nil {
		inv.SubscriptionID = in.Subscription.ID
	}
	return inv
}

// paidInvoiceFromStripe prefers the first line item's service period, which
// is the subscription period the payment covers.
func paidInvoiceFromStripe(in *stripe.Invoice) PaidInvoice {
	out := PaidInvoice{
		InvoiceID:   in.ID,
		AmountPaid:  in.AmountPaid,
		PeriodStart: time.Unix(in.PeriodStart, 0).UTC(),
		PeriodEnd:   time.Unix(in.PeriodEnd, 0).UTC(),
		Created:     time.Unix(in.Created, 0).UTC(),
	}
	if in.Charge != nil {
		out.ChargeID = in.Charge.ID
	}
	if in.Lines != nil && len(in.Lines.Data) > 0 && in.Lines.Data[0].Period != nil {
		p := in.Lines.Data[0].Period
		out.PeriodStart = time.Unix(p.Start, 0).UTC()
		out.PeriodEnd = time.Unix(p.End, 0).UTC()
	}
	return out
}
