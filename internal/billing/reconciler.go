package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/letterforge/letterforge/internal/account"
	"github.com/letterforge/letterforge/internal/notify"
)

// ReconcilerConfig holds configuration for the reconciler.
type ReconcilerConfig struct {
	Resolver   *Resolver
	Repository Repository
	Notifier   notify.Sender
	Logger     zerolog.Logger
}

// Reconciler applies billing events to local state and decides which
// lifecycle email, if any, each one triggers.
type Reconciler struct {
	resolver *Resolver
	repo     Repository
	notifier notify.Sender
	logger   zerolog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	return &Reconciler{
		resolver: cfg.Resolver,
		repo:     cfg.Repository,
		notifier: cfg.Notifier,
		logger:   cfg.Logger,
	}
}

// SubscriptionCreated applies customer.subscription.created.
func (r *Reconciler) SubscriptionCreated(ctx context.Context, sub *Subscription) error {
	return r.applySubscription(ctx, "subscription_created", sub)
}

// SubscriptionUpdated applies customer.subscription.updated.
func (r *Reconciler) SubscriptionUpdated(ctx context.Context, sub *Subscription) error {
	return r.applySubscription(ctx, "subscription_updated", sub)
}

// SubscriptionDeleted applies customer.subscription.deleted.
func (r *Reconciler) SubscriptionDeleted(ctx context.Context, sub *Subscription) error {
	if sub.Status == "" {
		sub.Status = StatusCanceled
	}
	return r.applySubscription(ctx, "subscription_deleted", sub)
}

// TrialWillEnd applies customer.subscription.trial_will_end.
func (r *Reconciler) TrialWillEnd(ctx context.Context, sub *Subscription) error {
	return r.applySubscription(ctx, "trial_will_end", sub)
}

// InvoiceCreated applies invoice.created.
func (r *Reconciler) InvoiceCreated(ctx context.Context, inv *Invoice) error {
	return r.applyInvoice(ctx, "invoice_created", inv)
}

// InvoiceUpdated applies invoice.updated.
func (r *Reconciler) InvoiceUpdated(ctx context.Context, inv *Invoice) error {
	return r.applyInvoice(ctx, "invoice_updated", inv)
}

// InvoicePaymentSucceeded applies invoice.payment_succeeded.
func (r *Reconciler) InvoicePaymentSucceeded(ctx context.Context, inv *Invoice) error {
	return r.applyInvoice(ctx, "invoice_payment_succeeded", inv)
}

// InvoicePaymentFailed applies invoice.payment_failed.
func (r *Reconciler) InvoicePaymentFailed(ctx context.Context, inv *Invoice) error {
	return r.applyInvoice(ctx, "invoice_payment_failed", inv)
}

// CustomerUpdated applies customer.updated by refreshing the CRM contact.
func (r *Reconciler) CustomerUpdated(ctx context.Context, cust *CustomerUpdate) error {
	acct, ok, err := r.resolve(ctx, "customer_updated", cust.CustomerID)
	if err != nil || !ok {
		return err
	}

	email := cust.Email
	if email == "" {
		email = acct.Email
	}
	attrs := map[string]any{"billing_customer_id": cust.CustomerID}
	if cust.Name != "" {
		attrs["name"] = cust.Name
	}
	r.notifier.SyncContact(ctx, notify.Contact{Email: email, UserID: acct.ID, Attributes: attrs})
	return nil
}

func (r *Reconciler) applySubscription(ctx context.Context, kind string, sub *Subscription) error {
	acct, ok, err := r.resolve(ctx, kind, sub.CustomerID)
	if err != nil || !ok {
		return err
	}
	sub.UserID = acct.ID

	hadPrior, err := r.repo.HasSubscription(ctx, acct.ID)
	if err != nil {
		return fmt.Errorf("%s: read prior subscription: %w", kind, err)
	}

	if err := r.repo.UpsertSubscription(ctx, sub); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}

	r.logger.Info().
		Str("event", kind).
		Str("user_id", acct.ID).
		Str("subscription_id", sub.SubscriptionID).
		Str("status", sub.Status).
		Bool("cancel_at_period_end", sub.CancelAtPeriodEnd).
		Msg("subscription reconciled")

	in := LifecycleInput{Subscription: sub, HadPriorSubscription: hadPrior}
	r.dispatch(ctx, acct, in)

	r.notifier.SyncContact(ctx, notify.Contact{
		Email:  acct.Email,
		UserID: acct.ID,
		Attributes: map[string]any{
			"plan":                 sub.PriceID,
			"subscription_status":  sub.Status,
			"cancel_at_period_end": sub.CancelAtPeriodEnd,
		},
	})
	return nil
}

func (r *Reconciler) applyInvoice(ctx context.Context, kind string, inv *Invoice) error {
	acct, ok, err := r.resolve(ctx, kind, inv.CustomerID)
	if err != nil || !ok {
		return err
	}
	inv.UserID = acct.ID

	if err := r.repo.UpsertInvoice(ctx, inv); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}

	r.logger.Info().
		Str("event", kind).
		Str("user_id", acct.ID).
		Str("invoice_id", inv.InvoiceID).
		Str("status", inv.Status).
		Int64("attempt_count", inv.AttemptCount).
		Msg("invoice reconciled")

	r.dispatch(ctx, acct, LifecycleInput{Invoice: inv})
	return nil
}

// resolve returns ok=false with a nil error for unresolvable customers, so
// the event is acknowledged instead of redelivered forever.
func (r *Reconciler) resolve(ctx context.Context, kind, customerID string) (*account.Account, bool, error) {
	acct, err := r.resolver.Resolve(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrCustomerNotResolved) {
			r.logger.Warn().
				Str("event", kind).
				Str("customer_id", customerID).
				Msg("no account for billing customer, acknowledging event")
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%s: resolve customer: %w", kind, err)
	}
	return acct, true, nil
}

func (r *Reconciler) dispatch(ctx context.Context, acct *account.Account, in LifecycleInput) {
	tmpl := LifecycleEmail(in)
	if tmpl == "" {
		return
	}

	r.notifier.Send(ctx, notify.Message{
		Template:  tmpl,
		To:        acct.Email,
		UserID:    acct.ID,
		Data:      lifecycleData(tmpl, in),
		DedupeKey: lifecycleDedupeKey(tmpl, in),
	})
}

func lifecycleData(tmpl notify.Template, in LifecycleInput) map[string]any {
	data := map[string]any{}
	if sub := in.Subscription; sub != nil {
		data["plan"] = sub.PriceID
		if sub.CurrentPeriodEnd != nil {
			data["current_period_end"] = sub.CurrentPeriodEnd.Format(time.RFC3339)
		}
	}
	if inv := in.Invoice; inv != nil {
		data["invoice_url"] = inv.HostedURL
		data["currency"] = inv.Currency
		if tmpl == notify.TemplatePaymentFailed {
			data["amount_due"] = inv.AmountDue
			data["attempt_count"] = inv.AttemptCount
		} else {
			data["amount_paid"] = inv.AmountPaid
		}
	}
	return data
}
