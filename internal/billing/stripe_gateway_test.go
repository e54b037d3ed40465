package billing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterforge/letterforge/internal/billing"
	"github.com/letterforge/letterforge/internal/provider/resilience"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestStripeGateway_Calls(t *testing.T) {
	var refundForm atomic.Value

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/subscriptions/sub_1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, subscriptionObject())
		case http.MethodDelete:
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "false", r.Form.Get("prorate"))
			obj := subscriptionObject()
			obj["status"] = "canceled"
			writeJSON(w, http.StatusOK, obj)
		}
	})
	mux.HandleFunc("/v1/invoices", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "paid", r.URL.Query().Get("status"))
		assert.Equal(t, "cus_1", r.URL.Query().Get("customer"))
		writeJSON(w, http.StatusOK, map[string]any{
			"object":   "list",
			"url":      "/v1/invoices",
			"has_more": false,
			"data": []any{map[string]any{
				"id":           "in_1",
				"object":       "invoice",
				"amount_paid":  1000,
				"charge":       "ch_1",
				"created":      t0.Unix(),
				"period_start": t0.Add(-30 * 24 * time.Hour).Unix(),
				"period_end":   t0.Unix(),
				"lines": map[string]any{
					"object": "list",
					"data": []any{map[string]any{
						"id":     "il_1",
						"object": "line_item",
						"period": map[string]any{"start": t0.Unix(), "end": t0.Add(30 * 24 * time.Hour).Unix()},
					}},
				},
			}},
		})
	})
	mux.HandleFunc("/v1/refunds", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		refundForm.Store(r.PostForm)
		assert.Equal(t, "account-deletion-refund-in_1", r.Header.Get("Idempotency-Key"))
		writeJSON(w, http.StatusOK, map[string]any{"id": "re_1", "object": "refund"})
	})
	mux.HandleFunc("/v1/customers/cus_1", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "cus_1", "object": "customer", "email": "ada@example.com"})
	})
	mux.HandleFunc("/v1/customers/cus_gone", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": map[string]any{
			"type": "invalid_request_error", "code": "resource_missing", "message": "No such customer",
		}})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	registry := resilience.NewRegistry()
	gw := billing.NewStripeGateway(billing.StripeConfig{
		SecretKey:       "sk_test_123",
		APIURL:          server.URL,
		InitialInterval: time.Millisecond,
		Registry:        registry,
		Logger:          zerolog.Nop(),
	})
	ctx := context.Background()

	sub, err := gw.GetSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.Equal(t, "cus_1", sub.CustomerID)
	assert.Equal(t, "price_pro", sub.PriceID)

	require.NoError(t, gw.CancelSubscription(ctx, "sub_1"))

	invoices, err := gw.ListPaidInvoices(ctx, "cus_1", "sub_1", 5)
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, "ch_1", invoices[0].ChargeID)
	assert.True(t, t0.Equal(invoices[0].PeriodStart), "line item period wins over the invoice period")

	refundID, err := gw.Refund(ctx, billing.RefundRequest{
		ChargeID:       "ch_1",
		Amount:         100,
		IdempotencyKey: "account-deletion-refund-in_1",
		Metadata:       map[string]string{"reason": "account_deletion"},
	})
	require.NoError(t, err)
	assert.Equal(t, "re_1", refundID)
	form := refundForm.Load().(url.Values)
	assert.Equal(t, []string{"100"}, form["amount"])
	assert.Equal(t, []string{"account_deletion"}, form["metadata[reason]"])

	email, err := gw.CustomerEmail(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", email)

	_, err = gw.CustomerEmail(ctx, "cus_gone")
	assert.ErrorIs(t, err, billing.ErrCustomerNotFound)

	health := registry.Health("stripe")
	require.NotNil(t, health)
	assert.True(t, health.IsHealthy())
}

func TestStripeGateway_ServerErrorsAreExternal(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": map[string]any{
			"type": "api_error", "message": "boom",
		}})
	}))
	defer server.Close()

	gw := billing.NewStripeGateway(billing.StripeConfig{
		SecretKey:       "sk_test_123",
		APIURL:          server.URL,
		MaxRetries:      2,
		InitialInterval: time.Millisecond,
		Logger:          zerolog.Nop(),
	})

	_, err := gw.GetSubscription(context.Background(), "sub_1")
	var extErr *billing.ExternalServiceError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "get subscription", extErr.Op)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStripeGateway_DeletedCustomerIsNotAFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "cus_old", "object": "customer", "deleted": true})
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	gw := billing.NewStripeGateway(billing.StripeConfig{
		SecretKey:       "sk_test_123",
		APIURL:          server.URL,
		InitialInterval: time.Millisecond,
		Registry:        registry,
		Logger:          zerolog.Nop(),
	})

	for i := 0; i < 10; i++ {
		_, err := gw.CustomerEmail(context.Background(), "cus_old")
		require.ErrorIs(t, err, billing.ErrCustomerNotFound)
	}

	health := registry.Health("stripe")
	require.NotNil(t, health)
	assert.True(t, health.IsHealthy())
	assert.Nil(t, health.LastFailureAt)
	assert.Zero(t, gw.CircuitBreakerCounts().TotalFailures)
}
