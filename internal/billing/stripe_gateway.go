package billing

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/letterforge/letterforge/internal/provider/resilience"
)

const stripeProviderName = "stripe"

// StripeConfig configures the Stripe gateway.
type StripeConfig struct {
	SecretKey string

	// APIURL overrides the Stripe API base URL (tests, stripe-mock).
	APIURL string

	// MaxRetries applies to read calls only. Default: 2.
	MaxRetries      uint64
	InitialInterval time.Duration

	Registry *resilience.Registry
	Logger   zerolog.Logger
}

// StripeGateway implements Gateway on the Stripe API behind a circuit breaker.
type StripeGateway struct {
	api      *client.API
	breaker  *gobreaker.CircuitBreaker[any]
	registry *resilience.Registry
	logger   zerolog.Logger

	maxRetries      uint64
	initialInterval time.Duration
}

// NewStripeGateway creates a Stripe-backed gateway.
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	api := client.New(cfg.SecretKey, &stripe.Backends{
		API:     backend,
		Connect: backend,
		Uploads: backend,
	})

	cbCfg := resilience.DefaultCircuitBreakerConfig(stripeProviderName)
	cbCfg.IsSuccessful = func(err error) bool {
		return err == nil || isExpectedError(err)
	}
	cbCfg.OnStateChange = resilience.LogStateChanges(cfg.Logger)

	g := &StripeGateway{
		api:             api,
		breaker:         resilience.NewCircuitBreaker[any](cbCfg),
		registry:        cfg.Registry,
		logger:          cfg.Logger,
		maxRetries:      cfg.MaxRetries,
		initialInterval: cfg.InitialInterval,
	}
	if g.maxRetries == 0 {
		g.maxRetries = 2
	}
	if g.initialInterval == 0 {
		g.initialInterval = 200 * time.Millisecond
	}
	if g.registry != nil {
		g.registry.Register(stripeProviderName, g)
	}
	return g
}

// GetSubscription fetches the gateway's current view of a subscription.
func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	var sub *stripe.Subscription
	err := g.call(ctx, "get subscription", true, func() error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		var err error
		sub, err = g.api.Subscriptions.Get(subscriptionID, params)
		return err
	})
	if err != nil {
		if isStripeNotFound(err) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	return subscriptionFromStripe(sub), nil
}

// CancelSubscription cancels immediately without proration.
func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	err := g.call(ctx, "cancel subscription", false, func() error {
		params := &stripe.SubscriptionCancelParams{Prorate: stripe.Bool(false)}
		params.Context = ctx
		_, err := g.api.Subscriptions.Cancel(subscriptionID, params)
		return err
	})
	if err != nil && isStripeNotFound(err) {
		return ErrSubscriptionNotFound
	}
	return err
}

// ListPaidInvoices returns up to limit paid invoices, newest first.
func (g *StripeGateway) ListPaidInvoices(ctx context.Context, customerID, subscriptionID string, limit int) ([]PaidInvoice, error) {
	var out []PaidInvoice
	err := g.call(ctx, "list invoices", true, func() error {
		out = out[:0]
		params := &stripe.InvoiceListParams{
			Customer: stripe.String(customerID),
			Status:   stripe.String(string(stripe.InvoiceStatusPaid)),
		}
		if subscriptionID != "" {
			params.Subscription = stripe.String(subscriptionID)
		}
		params.Limit = stripe.Int64(int64(limit))
		params.Context = ctx

		it := g.api.Invoices.List(params)
		for len(out) < limit && it.Next() {
			out = append(out, paidInvoiceFromStripe(it.Invoice()))
		}
		return it.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Refund issues a refund and returns its id.
func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (string, error) {
	var refundID string
	err := g.call(ctx, "create refund", false, func() error {
		params := &stripe.RefundParams{
			Charge: stripe.String(req.ChargeID),
			Amount: stripe.Int64(req.Amount),
		}
		params.Context = ctx
		for k, v := range req.Metadata {
			params.AddMetadata(k, v)
		}
		if req.IdempotencyKey != "" {
			params.SetIdempotencyKey(req.IdempotencyKey)
		}
		refund, err := g.api.Refunds.New(params)
		if err != nil {
			return err
		}
		refundID = refund.ID
		return nil
	})
	return refundID, err
}

// CustomerEmail returns the email registered on a gateway customer.
func (g *StripeGateway) CustomerEmail(ctx context.Context, customerID string) (string, error) {
	var email string
	err := g.call(ctx, "get customer", true, func() error {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		cust, err := g.api.Customers.Get(customerID, params)
		if err != nil {
			return err
		}
		if cust.Deleted {
			return ErrCustomerNotFound
		}
		email = cust.Email
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrCustomerNotFound) || isStripeNotFound(err) {
			return "", ErrCustomerNotFound
		}
		return "", err
	}
	return email, nil
}

// call runs fn through the breaker. Reads are retried with backoff; writes
// are attempted once. Failures come back as *ExternalServiceError.
func (g *StripeGateway) call(ctx context.Context, op string, retry bool, fn func() error) error {
	operation := func() error {
		_, err := g.breaker.Execute(func() (any, error) {
			return nil, fn()
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(resilience.ErrCircuitOpen)
		}
		if isExpectedError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var err error
	if retry {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = g.initialInterval
		bo.MaxElapsedTime = 0
		err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, g.maxRetries), ctx))
	} else {
		err = operation()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
	}

	if err == nil {
		if g.registry != nil {
			g.registry.RecordSuccess(stripeProviderName)
		}
		return nil
	}
	if errors.Is(err, ErrCustomerNotFound) {
		// The gateway answered; the customer is simply gone.
		if g.registry != nil {
			g.registry.RecordSuccess(stripeProviderName)
		}
		return err
	}
	if g.registry != nil && !isStripeClientError(err) {
		g.registry.RecordFailure(stripeProviderName, err)
	}
	g.logger.Warn().Err(err).Str("operation", op).Msg("billing gateway call failed")
	return &ExternalServiceError{Op: op, Err: err}
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (g *StripeGateway) CircuitBreakerState() gobreaker.State {
	return g.breaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (g *StripeGateway) CircuitBreakerCounts() gobreaker.Counts {
	return g.breaker.Counts()
}

// isExpectedError reports errors that say nothing about gateway health.
func isExpectedError(err error) bool {
	return errors.Is(err, ErrCustomerNotFound) || isStripeClientError(err)
}

func isStripeClientError(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode >= http.StatusBadRequest &&
		stripeErr.HTTPStatusCode < http.StatusInternalServerError &&
		stripeErr.HTTPStatusCode != http.StatusTooManyRequests
}

func isStripeNotFound(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing
}

var (
	_ Gateway            = (*StripeGateway)(nil)
	_ resilience.Breaker = (*StripeGateway)(nil)
)
