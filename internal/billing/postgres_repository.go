package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository and EventLog.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL billing repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const selectSubscription = `
	SELECT external_subscription_id, user_id, external_customer_id, price_id, status,
		current_period_start, current_period_end, cancel_at_period_end, canceled_at,
		trial_start, trial_end, metadata, created_at, updated_at
	FROM subscriptions
`

// GetSubscription retrieves a subscription by gateway id.
func (r *PostgresRepository) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return r.scanSubscription(r.pool.QueryRow(ctx, selectSubscription+`WHERE external_subscription_id = $1`, subscriptionID))
}

// LatestSubscription returns the user's most relevant subscription.
func (r *PostgresRepository) LatestSubscription(ctx context.Context, userID string) (*Subscription, error) {
	return r.scanSubscription(r.pool.QueryRow(ctx, selectSubscription+`
		WHERE user_id = $1
		ORDER BY (status IN ('active', 'trialing')) DESC, updated_at DESC
		LIMIT 1
	`, userID))
}

// HasSubscription reports whether any subscription record exists for the user.
func (r *PostgresRepository) HasSubscription(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM subscriptions WHERE user_id = $1)`, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check subscription: %w", err)
	}
	return exists, nil
}

// UpsertSubscription creates or replaces a subscription record.
func (r *PostgresRepository) UpsertSubscription(ctx context.Context, sub *Subscription) error {
	metadata, err := json.Marshal(sub.Metadata)
	if err != nil {
		return fmt.Errorf("encode subscription metadata: %w", err)
	}
	if sub.Metadata == nil {
		metadata = []byte("{}")
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO subscriptions (
			external_subscription_id, user_id, external_customer_id, price_id, status,
			current_period_start, current_period_end, cancel_at_period_end, canceled_at,
			trial_start, trial_end, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (external_subscription_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			external_customer_id = EXCLUDED.external_customer_id,
			price_id = EXCLUDED.price_id,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			canceled_at = EXCLUDED.canceled_at,
			trial_start = EXCLUDED.trial_start,
			trial_end = EXCLUDED.trial_end,
			metadata = EXCLUDED.metadata,
			updated_at = now()
	`,
		sub.SubscriptionID, sub.UserID, sub.CustomerID, sub.PriceID, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.CanceledAt,
		sub.TrialStart, sub.TrialEnd, metadata,
	)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// GetInvoice retrieves an invoice by gateway id.
func (r *PostgresRepository) GetInvoice(ctx context.Context, invoiceID string) (*Invoice, error) {
	var inv Invoice
	var subscriptionID *string
	err := r.pool.QueryRow(ctx, `
		SELECT external_invoice_id, external_subscription_id, external_customer_id, user_id,
			amount_due, amount_paid, amount_remaining, currency, status, description,
			billing_reason, period_start, period_end, hosted_url, pdf_url, attempt_count,
			created_at, updated_at
		FROM invoices
		WHERE external_invoice_id = $1
	`, invoiceID).Scan(
		&inv.InvoiceID, &subscriptionID, &inv.CustomerID, &inv.UserID,
		&inv.AmountDue, &inv.AmountPaid, &inv.AmountRemaining, &inv.Currency, &inv.Status, &inv.Description,
		&inv.BillingReason, &inv.PeriodStart, &inv.PeriodEnd, &inv.HostedURL, &inv.PDFURL, &inv.AttemptCount,
		&inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, err
	}
	if subscriptionID != nil {
		inv.SubscriptionID = *subscriptionID
	}
	return &inv, nil
}

// UpsertInvoice creates or replaces an invoice record.
func (r *PostgresRepository) UpsertInvoice(ctx context.Context, inv *Invoice) error {
	var subscriptionID *string
	if inv.SubscriptionID != "" {
		subscriptionID = &inv.SubscriptionID
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO invoices (
			external_invoice_id, external_subscription_id, external_customer_id, user_id,
			amount_due, amount_paid, amount_remaining, currency, status, description,
			billing_reason, period_start, period_end, hosted_url, pdf_url, attempt_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (external_invoice_id) DO UPDATE SET
			external_subscription_id = EXCLUDED.external_subscription_id,
			external_customer_id = EXCLUDED.external_customer_id,
			user_id = EXCLUDED.user_id,
			amount_due = EXCLUDED.amount_due,
			amount_paid = EXCLUDED.amount_paid,
			amount_remaining = EXCLUDED.amount_remaining,
			currency = EXCLUDED.currency,
			status = EXCLUDED.status,
			description = EXCLUDED.description,
			billing_reason = EXCLUDED.billing_reason,
			period_start = EXCLUDED.period_start,
			period_end = EXCLUDED.period_end,
			hosted_url = EXCLUDED.hosted_url,
			pdf_url = EXCLUDED.pdf_url,
			attempt_count = EXCLUDED.attempt_count,
			updated_at = now()
	`,
		inv.InvoiceID, subscriptionID, inv.CustomerID, inv.UserID,
		inv.AmountDue, inv.AmountPaid, inv.AmountRemaining, inv.Currency, inv.Status, inv.Description,
		inv.BillingReason, inv.PeriodStart, inv.PeriodEnd, inv.HostedURL, inv.PDFURL, inv.AttemptCount,
	)
	if err != nil {
		return fmt.Errorf("upsert invoice: %w", err)
	}
	return nil
}

// IsProcessed reports whether the event was already handled.
func (r *PostgresRepository) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	var processed bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM billing_webhook_events
			WHERE event_id = $1 AND processed_at IS NOT NULL
		)
	`, eventID).Scan(&processed)
	if err != nil {
		return false, fmt.Errorf("check webhook event: %w", err)
	}
	return processed, nil
}

// MarkProcessed records the event as handled.
func (r *PostgresRepository) MarkProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO billing_webhook_events (event_id, event_type, processed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (event_id) DO UPDATE SET processed_at = now()
	`, eventID, eventType)
	if err != nil {
		return fmt.Errorf("record webhook event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) scanSubscription(row pgx.Row) (*Subscription, error) {
	var sub Subscription
	var metadata []byte
	err := row.Scan(
		&sub.SubscriptionID, &sub.UserID, &sub.CustomerID, &sub.PriceID, &sub.Status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.CanceledAt,
		&sub.TrialStart, &sub.TrialEnd, &metadata, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubscriptionNotFound
		}
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sub.Metadata); err != nil {
			return nil, fmt.Errorf("decode subscription metadata: %w", err)
		}
	}
	return &sub, nil
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ EventLog   = (*PostgresRepository)(nil)
)
