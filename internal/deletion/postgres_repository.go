package deletion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/letterforge/letterforge/internal/billing"
	"github.com/letterforge/letterforge/internal/database"
)

const liveRequestIndex = "deletion_requests_one_live_per_user"

const (
	refundStatusRefunded    = "refunded"
	refundStatusNotRefunded = "not_refunded"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL deletion repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const selectRequest = `
	SELECT id, user_id, status, deletion_type, COALESCE(reason, ''), token_hash, cooldown_hours,
		scheduled_deletion_at, confirmed_at, cancelled_at, completed_at,
		requested_ip, requested_user_agent, cancelled_ip, cancelled_user_agent,
		execution_attempts, last_error,
		refund_status, refund_amount, refund_id, refund_reason,
		created_at, updated_at
	FROM deletion_requests
`

// Create inserts a new request. The partial unique index on live requests
// rejects a second pending or confirmed request for the same user.
func (r *PostgresRepository) Create(ctx context.Context, req *Request) error {
	refundStatus, refundAmount, refundID, refundReason := flattenRefund(req.Refund)

	_, err := r.pool.Exec(ctx, `
		INSERT INTO deletion_requests (
			id, user_id, status, deletion_type, reason, token_hash, cooldown_hours,
			scheduled_deletion_at, requested_ip, requested_user_agent,
			refund_status, refund_amount, refund_id, refund_reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		req.ID, req.UserID, req.Status, req.Type, req.Reason, req.TokenHash, req.CooldownHours,
		req.ScheduledDeletionAt, req.RequestedIP, req.RequestedUserAgent,
		refundStatus, refundAmount, refundID, refundReason,
		req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err, liveRequestIndex) {
			return ErrActiveRequestExists
		}
		return fmt.Errorf("insert deletion request: %w", err)
	}
	return nil
}

// Get retrieves a request by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Request, error) {
	return r.scanRequest(r.pool.QueryRow(ctx, selectRequest+`WHERE id = $1`, id))
}

// GetByTokenHash retrieves a request by its confirmation token hash.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*Request, error) {
	return r.scanRequest(r.pool.QueryRow(ctx, selectRequest+`WHERE token_hash = $1`, tokenHash))
}

// GetActive returns the user's live request.
func (r *PostgresRepository) GetActive(ctx context.Context, userID string) (*Request, error) {
	return r.scanRequest(r.pool.QueryRow(ctx, selectRequest+`
		WHERE user_id = $1 AND status IN ('pending', 'confirmed')
		LIMIT 1
	`, userID))
}

// Update writes every mutable column, conditional on the stored status.
func (r *PostgresRepository) Update(ctx context.Context, req *Request, from Status) error {
	refundStatus, refundAmount, refundID, refundReason := flattenRefund(req.Refund)

	tag, err := r.pool.Exec(ctx, `
		UPDATE deletion_requests SET
			status = $3,
			confirmed_at = $4,
			cancelled_at = $5,
			completed_at = $6,
			cancelled_ip = $7,
			cancelled_user_agent = $8,
			execution_attempts = $9,
			last_error = $10,
			refund_status = $11,
			refund_amount = $12,
			refund_id = $13,
			refund_reason = $14,
			updated_at = $15
		WHERE id = $1 AND status = $2
	`,
		req.ID, from, req.Status,
		req.ConfirmedAt, req.CancelledAt, req.CompletedAt,
		req.CancelledIP, req.CancelledUserAgent,
		req.ExecutionAttempts, req.LastError,
		refundStatus, refundAmount, refundID, refundReason,
		req.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update deletion request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.Get(ctx, req.ID); err != nil {
			return err
		}
		return ErrStatusChanged
	}
	return nil
}

// ListDue returns confirmed requests whose scheduled time has passed.
func (r *PostgresRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*Request, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, selectRequest+`
		WHERE status = 'confirmed' AND scheduled_deletion_at <= $1
		ORDER BY scheduled_deletion_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due deletion requests: %w", err)
	}
	defer rows.Close()

	var due []*Request
	for rows.Next() {
		req, err := r.scanRequest(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due deletion requests: %w", err)
	}
	return due, nil
}

// DeleteExpiredPending removes stale unconfirmed requests.
func (r *PostgresRepository) DeleteExpiredPending(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM deletion_requests
		WHERE status = 'pending' AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired deletion requests: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Counts summarizes live, due and expired requests.
func (r *PostgresRepository) Counts(ctx context.Context, now, expiryCutoff time.Time) (*StatusCounts, error) {
	counts := &StatusCounts{}
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status IN ('pending', 'confirmed')),
			COUNT(*) FILTER (WHERE status = 'confirmed' AND scheduled_deletion_at <= $1),
			COUNT(*) FILTER (WHERE status = 'pending' AND created_at < $2)
		FROM deletion_requests
	`, now, expiryCutoff).Scan(&counts.ActiveRequests, &counts.ReadyForDeletion, &counts.ExpiredRequests)
	if err != nil {
		return nil, fmt.Errorf("count deletion requests: %w", err)
	}
	return counts, nil
}

func (r *PostgresRepository) scanRequest(row pgx.Row) (*Request, error) {
	var (
		req                                  Request
		refundStatus, refundID, refundReason string
		refundAmount                         int64
	)
	err := row.Scan(
		&req.ID, &req.UserID, &req.Status, &req.Type, &req.Reason, &req.TokenHash, &req.CooldownHours,
		&req.ScheduledDeletionAt, &req.ConfirmedAt, &req.CancelledAt, &req.CompletedAt,
		&req.RequestedIP, &req.RequestedUserAgent, &req.CancelledIP, &req.CancelledUserAgent,
		&req.ExecutionAttempts, &req.LastError,
		&refundStatus, &refundAmount, &refundID, &refundReason,
		&req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("scan deletion request: %w", err)
	}

	if refundStatus != "" {
		req.Refund = &billing.RefundOutcome{
			Refunded: refundStatus == refundStatusRefunded,
			Amount:   refundAmount,
			RefundID: refundID,
			Reason:   refundReason,
		}
	}
	return &req, nil
}

func flattenRefund(o *billing.RefundOutcome) (status string, amount int64, id, reason string) {
	if o == nil {
		return "", 0, "", ""
	}
	status = refundStatusNotRefunded
	if o.Refunded {
		status = refundStatusRefunded
	}
	return status, o.Amount, o.RefundID, o.Reason
}

var _ Repository = (*PostgresRepository)(nil)
