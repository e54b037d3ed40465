// Package billing reconciles payment gateway state into local subscription
// and invoice records, and issues deletion refunds.
package billing

import (
	"strings"
	"time"
)

// Gateway subscription statuses the lifecycle logic inspects.
const (
	StatusActive   = "active"
	StatusTrialing = "trialing"
	StatusCanceled = "canceled"
)

// Gateway invoice statuses the lifecycle logic inspects.
const (
	InvoiceStatusPaid = "paid"
	InvoiceStatusOpen = "open"
)

// Subscription is the local mirror of a gateway subscription.
type Subscription struct {
	SubscriptionID     string
	UserID             string
	CustomerID         string
	PriceID            string
	Status             string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	CanceledAt         *time.Time
	TrialStart         *time.Time
	TrialEnd           *time.Time
	Metadata           map[string]string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IsActive reports whether the subscription currently grants paid access.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

// Invoice is the local mirror of a gateway invoice. Amounts are in minor
// currency units.
type Invoice struct {
	InvoiceID       string
	SubscriptionID  string
	CustomerID      string
	UserID          string
	AmountDue       int64
	AmountPaid      int64
	AmountRemaining int64
	Currency        string
	Status          string
	Description     string
	BillingReason   string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
	HostedURL       string
	PDFURL          string
	AttemptCount    int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StartsSubscription reports whether the invoice is the first invoice of a
// subscription. Renewal invoices (subscription_cycle) do not count. Invoices
// without a billing reason fall back to their description.
func (i *Invoice) StartsSubscription() bool {
	if i.BillingReason != "" {
		return i.BillingReason == "subscription_create"
	}
	return strings.Contains(strings.ToLower(i.Description), "subscription")
}

// RefundOutcome is the result of a refund attempt.
type RefundOutcome struct {
	Refunded bool   `json:"refunded"`
	Amount   int64  `json:"amount,omitempty"`
	RefundID string `json:"refund_id,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Refund outcome reasons.
const (
	ReasonNotActive        = "not active"
	ReasonNoPaidInvoices   = "no paid invoices"
	ReasonInvoiceTooOld    = "invoice too old"
	ReasonPeriodMostlyUsed = "period mostly used"
	ReasonNoSubscription   = "no subscription"
)

// CancelledSubscription reports whether the attempt got as far as cancelling
// an active subscription.
func (o *RefundOutcome) CancelledSubscription() bool {
	if o == nil {
		return false
	}
	return o.Reason != ReasonNotActive && o.Reason != ReasonNoSubscription
}

// unixTime converts gateway unix seconds; zero means unset.
func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
