package billing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterforge/letterforge/internal/billing"
)

var t0 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func newCalculator(gateway billing.Gateway, repo billing.Repository, now time.Time) *billing.Calculator {
	return billing.NewCalculator(billing.CalculatorConfig{
		Gateway:    gateway,
		Repository: repo,
		Logger:     zerolog.Nop(),
		Now:        func() time.Time { return now },
	})
}

func gatewayWithActiveSubscription() *fakeGateway {
	g := newFakeGateway()
	g.subscriptions["sub_1"] = &billing.Subscription{
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		Status:         billing.StatusActive,
	}
	g.invoices = []billing.PaidInvoice{{
		InvoiceID:   "in_1",
		ChargeID:    "ch_1",
		AmountPaid:  1000,
		PeriodStart: t0,
		PeriodEnd:   t0.Add(30 * 24 * time.Hour),
		Created:     t0,
	}}
	return g
}

func TestCalculator_ProRataRefund(t *testing.T) {
	g := gatewayWithActiveSubscription()
	calc := newCalculator(g, billing.NewInMemoryRepository(), t0.Add(27*24*time.Hour))

	outcome, err := calc.Refund(context.Background(), "sub_1")
	require.NoError(t, err)

	assert.True(t, outcome.Refunded)
	assert.Equal(t, int64(100), outcome.Amount)
	assert.Equal(t, "re_1", outcome.RefundID)
	assert.Equal(t, "10% of period unused", outcome.Reason)

	assert.Equal(t, []string{"sub_1"}, g.cancelled)
	require.Len(t, g.refunds, 1)
	assert.Equal(t, "ch_1", g.refunds[0].ChargeID)
	assert.Equal(t, int64(100), g.refunds[0].Amount)
	assert.Equal(t, "account_deletion", g.refunds[0].Metadata["reason"])
	assert.Equal(t, "account-deletion-refund-in_1", g.refunds[0].IdempotencyKey)
}

func TestCalculator_NotActiveIgnoresInvoices(t *testing.T) {
	for _, status := range []string{billing.StatusCanceled, billing.StatusTrialing, "past_due", "incomplete"} {
		t.Run(status, func(t *testing.T) {
			g := gatewayWithActiveSubscription()
			g.subscriptions["sub_1"].Status = status
			calc := newCalculator(g, nil, t0.Add(24*time.Hour))

			outcome, err := calc.Refund(context.Background(), "sub_1")
			require.NoError(t, err)
			assert.Equal(t, &billing.RefundOutcome{Refunded: false, Reason: billing.ReasonNotActive}, outcome)
			assert.Empty(t, g.cancelled)
			assert.Empty(t, g.refunds)
		})
	}
}

func TestCalculator_ShortCircuits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *fakeGateway)
		now    time.Time
		want   string
	}{
		{
			name:   "no paid invoices",
			mutate: func(g *fakeGateway) { g.invoices = nil },
			now:    t0.Add(24 * time.Hour),
			want:   billing.ReasonNoPaidInvoices,
		},
		{
			name:   "invoice too old",
			mutate: func(*fakeGateway) {},
			now:    t0.Add(31 * 24 * time.Hour),
			want:   billing.ReasonInvoiceTooOld,
		},
		{
			name:   "period used up",
			mutate: func(*fakeGateway) {},
			now:    t0.Add(30 * 24 * time.Hour),
			want:   billing.ReasonPeriodMostlyUsed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gatewayWithActiveSubscription()
			tt.mutate(g)
			outcome, err := newCalculator(g, nil, tt.now).Refund(context.Background(), "sub_1")
			require.NoError(t, err)
			assert.False(t, outcome.Refunded)
			assert.Equal(t, tt.want, outcome.Reason)
			assert.Equal(t, []string{"sub_1"}, g.cancelled, "cancellation precedes the invoice checks")
		})
	}
}

func TestCalculator_UsesNewestInvoice(t *testing.T) {
	g := gatewayWithActiveSubscription()
	older := g.invoices[0]
	older.InvoiceID = "in_0"
	older.Created = t0.Add(-30 * 24 * time.Hour)
	g.invoices = append([]billing.PaidInvoice{older}, g.invoices...)

	outcome, err := newCalculator(g, nil, t0.Add(15*24*time.Hour)).Refund(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), outcome.Amount)
	assert.Equal(t, "in_1", g.refunds[0].Metadata["invoice_id"])
}

func TestCalculator_GatewayFailuresPropagate(t *testing.T) {
	g := gatewayWithActiveSubscription()
	g.refundErr = &billing.ExternalServiceError{Op: "create refund", Err: errors.New("timeout")}

	_, err := newCalculator(g, nil, t0.Add(24*time.Hour)).Refund(context.Background(), "sub_1")
	var extErr *billing.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "create refund", extErr.Op)
}

func TestCalculator_RefundForUserAndCancel(t *testing.T) {
	ctx := context.Background()
	repo := billing.NewInMemoryRepository()
	g := gatewayWithActiveSubscription()
	calc := newCalculator(g, repo, t0.Add(24*time.Hour))

	outcome, err := calc.RefundForUser(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, billing.ReasonNoSubscription, outcome.Reason)

	cancelled, err := calc.CancelActiveSubscription(ctx, "usr_1")
	require.NoError(t, err)
	assert.False(t, cancelled)

	require.NoError(t, repo.UpsertSubscription(ctx, &billing.Subscription{
		SubscriptionID: "sub_1", UserID: "usr_1", CustomerID: "cus_1", Status: billing.StatusActive,
	}))

	cancelled, err = calc.CancelActiveSubscription(ctx, "usr_1")
	require.NoError(t, err)
	assert.True(t, cancelled)

	stored, err := repo.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCanceled, stored.Status)
	require.NotNil(t, stored.CanceledAt)

	again, err := calc.CancelActiveSubscription(ctx, "usr_1")
	require.NoError(t, err)
	assert.False(t, again, "an already cancelled subscription is a no-op")

	outcome, err = calc.RefundForUser(ctx, "usr_1")
	require.NoError(t, err)
	assert.Equal(t, billing.ReasonNotActive, outcome.Reason)
}

func TestProRataAmount(t *testing.T) {
	end := t0.Add(30 * 24 * time.Hour)
	assert.Equal(t, int64(100), billing.ProRataAmount(1000, t0, end, t0.Add(27*24*time.Hour)))
	assert.Equal(t, int64(1000), billing.ProRataAmount(1000, t0, end, t0.Add(-time.Hour)))
	assert.Equal(t, int64(0), billing.ProRataAmount(1000, t0, end, end.Add(time.Hour)))
	assert.Equal(t, int64(333), billing.ProRataAmount(999, t0, end, t0.Add(20*24*time.Hour)))
	assert.InDelta(t, 0.1, billing.UnusedRatio(t0, end, t0.Add(27*24*time.Hour)), 1e-9)
	assert.Equal(t, 0.0, billing.UnusedRatio(end, t0, t0))
}
