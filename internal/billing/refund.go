package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

const (
	refundInvoiceLimit  = 5
	refundMaxInvoiceAge = 30 * 24 * time.Hour
)

// ReasonNoCharge is returned when the paid invoice has no card charge.
const ReasonNoCharge = "no charge to refund"

// CalculatorConfig holds configuration for the refund calculator.
type CalculatorConfig struct {
	Gateway    Gateway
	Repository Repository
	Logger     zerolog.Logger

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Calculator cancels subscriptions and issues pro-rata refunds for account
// deletion.
type Calculator struct {
	gateway Gateway
	repo    Repository
	logger  zerolog.Logger
	now     func() time.Time
}

// NewCalculator creates a refund calculator.
func NewCalculator(cfg CalculatorConfig) *Calculator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Calculator{
		gateway: cfg.Gateway,
		repo:    cfg.Repository,
		logger:  cfg.Logger,
		now:     now,
	}
}

// Refund cancels an active subscription immediately and refunds the unused
// share of its newest paid invoice. Gateway failures are returned; every
// other exit is described by the outcome.
func (c *Calculator) Refund(ctx context.Context, subscriptionID string) (*RefundOutcome, error) {
	sub, err := c.gateway.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return &RefundOutcome{Reason: ReasonNotActive}, nil
		}
		return nil, err
	}
	if sub.Status != StatusActive {
		return &RefundOutcome{Reason: ReasonNotActive}, nil
	}

	if err := c.gateway.CancelSubscription(ctx, subscriptionID); err != nil {
		return nil, err
	}
	c.markCanceled(ctx, subscriptionID)

	invoices, err := c.gateway.ListPaidInvoices(ctx, sub.CustomerID, subscriptionID, refundInvoiceLimit)
	if err != nil {
		return nil, err
	}
	if len(invoices) == 0 {
		return &RefundOutcome{Reason: ReasonNoPaidInvoices}, nil
	}
	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].Created.After(invoices[j].Created)
	})
	newest := invoices[0]

	now := c.now()
	if now.Sub(newest.Created) > refundMaxInvoiceAge {
		return &RefundOutcome{Reason: ReasonInvoiceTooOld}, nil
	}

	amount := ProRataAmount(newest.AmountPaid, newest.PeriodStart, newest.PeriodEnd, now)
	if amount <= 0 {
		return &RefundOutcome{Reason: ReasonPeriodMostlyUsed}, nil
	}
	if newest.ChargeID == "" {
		return &RefundOutcome{Reason: ReasonNoCharge}, nil
	}

	refundID, err := c.gateway.Refund(ctx, RefundRequest{
		ChargeID:       newest.ChargeID,
		Amount:         amount,
		IdempotencyKey: "account-deletion-refund-" + newest.InvoiceID,
		Metadata: map[string]string{
			"reason":          "account_deletion",
			"subscription_id": subscriptionID,
			"invoice_id":      newest.InvoiceID,
		},
	})
	if err != nil {
		return nil, err
	}

	ratio := UnusedRatio(newest.PeriodStart, newest.PeriodEnd, now)
	c.logger.Info().
		Str("subscription_id", subscriptionID).
		Str("invoice_id", newest.InvoiceID).
		Str("refund_id", refundID).
		Int64("amount", amount).
		Float64("unused_ratio", ratio).
		Msg("issued pro-rata refund")

	return &RefundOutcome{
		Refunded: true,
		Amount:   amount,
		RefundID: refundID,
		Reason:   fmt.Sprintf("%d%% of period unused", int(math.Round(ratio*100))),
	}, nil
}

// RefundForUser runs Refund for the user's most relevant subscription.
func (c *Calculator) RefundForUser(ctx context.Context, userID string) (*RefundOutcome, error) {
	sub, err := c.repo.LatestSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return &RefundOutcome{Reason: ReasonNoSubscription}, nil
		}
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return c.Refund(ctx, sub.SubscriptionID)
}

// CancelActiveSubscription cancels the user's active subscription, if any,
// without computing a refund. It reports whether a subscription was
// cancelled; one already cancelled at the gateway is a no-op.
func (c *Calculator) CancelActiveSubscription(ctx context.Context, userID string) (bool, error) {
	sub, err := c.repo.LatestSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("find subscription: %w", err)
	}
	if !sub.IsActive() {
		return false, nil
	}

	if err := c.gateway.CancelSubscription(ctx, sub.SubscriptionID); err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			return false, nil
		}
		return false, err
	}
	c.markCanceled(ctx, sub.SubscriptionID)
	return true, nil
}

// markCanceled mirrors a cancellation locally ahead of the gateway's
// subscription.deleted event.
func (c *Calculator) markCanceled(ctx context.Context, subscriptionID string) {
	if c.repo == nil {
		return
	}
	sub, err := c.repo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		if !errors.Is(err, ErrSubscriptionNotFound) {
			c.logger.Warn().Err(err).Str("subscription_id", subscriptionID).Msg("failed to load subscription for local cancel")
		}
		return
	}
	now := c.now().UTC()
	sub.Status = StatusCanceled
	sub.CanceledAt = &now
	if err := c.repo.UpsertSubscription(ctx, sub); err != nil {
		c.logger.Warn().Err(err).Str("subscription_id", subscriptionID).Msg("failed to mark subscription cancelled")
	}
}

// UnusedRatio is the share of [start, end] still ahead of now, clamped to [0, 1].
func UnusedRatio(start, end, now time.Time) float64 {
	total := end.Sub(start)
	if total <= 0 {
		return 0
	}
	ratio := float64(end.Sub(now)) / float64(total)
	return math.Max(0, math.Min(1, ratio))
}

// ProRataAmount is floor(amountPaid * UnusedRatio), computed on whole
// seconds in integer arithmetic.
func ProRataAmount(amountPaid int64, start, end, now time.Time) int64 {
	total := int64(end.Sub(start) / time.Second)
	if total <= 0 || amountPaid <= 0 {
		return 0
	}
	remaining := int64(end.Sub(now) / time.Second)
	if remaining <= 0 {
		return 0
	}
	if remaining >= total {
		return amountPaid
	}
	return amountPaid * remaining / total
}
