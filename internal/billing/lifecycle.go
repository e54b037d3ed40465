package billing

import (
	"strconv"

	"github.com/letterforge/letterforge/internal/notify"
)

// LifecycleInput is the state a lifecycle email decision is made from.
// HadPriorSubscription must be read before the subscription upsert.
type LifecycleInput struct {
	Subscription         *Subscription
	HadPriorSubscription bool
	Invoice              *Invoice
}

// LifecycleEmail picks at most one email for a reconciled event. Rules are
// evaluated in order and the first match wins; an empty template means no
// email.
func LifecycleEmail(in LifecycleInput) notify.Template {
	if sub := in.Subscription; sub != nil && sub.Status == StatusActive {
		if sub.CancelAtPeriodEnd {
			return notify.TemplateSubscriptionCancelled
		}
		if !in.HadPriorSubscription {
			return notify.TemplateSubscriptionConfirmed
		}
	}

	if inv := in.Invoice; inv != nil {
		if inv.Status == InvoiceStatusPaid && inv.StartsSubscription() {
			return notify.TemplateSubscriptionConfirmed
		}
		if inv.Status == InvoiceStatusOpen && inv.AttemptCount > 0 {
			return notify.TemplatePaymentFailed
		}
	}

	return ""
}

// lifecycleDedupeKey makes both "subscription confirmed" paths converge on
// one email per subscription, a cancellation send once per cancel request,
// and a redelivered payment failure send once per attempt.
func lifecycleDedupeKey(tmpl notify.Template, in LifecycleInput) string {
	switch tmpl {
	case notify.TemplateSubscriptionCancelled:
		if in.Subscription == nil {
			return ""
		}
		key := string(tmpl) + ":" + in.Subscription.SubscriptionID
		if in.Subscription.CanceledAt != nil {
			key += ":" + strconv.FormatInt(in.Subscription.CanceledAt.Unix(), 10)
		}
		return key
	case notify.TemplateSubscriptionConfirmed:
		subID := ""
		if in.Subscription != nil {
			subID = in.Subscription.SubscriptionID
		} else if in.Invoice != nil {
			subID = in.Invoice.SubscriptionID
		}
		if subID == "" && in.Invoice != nil {
			return string(tmpl) + ":" + in.Invoice.InvoiceID
		}
		return string(tmpl) + ":" + subID
	case notify.TemplatePaymentFailed:
		if in.Invoice == nil {
			return ""
		}
		return string(tmpl) + ":" + in.Invoice.InvoiceID + ":" + strconv.FormatInt(in.Invoice.AttemptCount, 10)
	default:
		return ""
	}
}
