package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository reads the host's profiles table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgreSQL account repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const selectAccount = `
	SELECT id, email, COALESCE(stripe_customer_id, ''), created_at, updated_at
	FROM profiles
`

// Get retrieves an account by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Account, error) {
	return r.queryOne(ctx, selectAccount+`WHERE id = $1`, id)
}

// FindByCustomerID retrieves the account linked to a billing customer.
func (r *PostgresRepository) FindByCustomerID(ctx context.Context, customerID string) (*Account, error) {
	return r.queryOne(ctx, selectAccount+`WHERE stripe_customer_id = $1`, customerID)
}

// FindByEmail retrieves an account by email, case-insensitively.
func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.queryOne(ctx, selectAccount+`WHERE lower(email) = lower($1) ORDER BY created_at LIMIT 1`, email)
}

// LinkCustomer stores the billing customer id on the account.
func (r *PostgresRepository) LinkCustomer(ctx context.Context, id, customerID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE profiles
		SET stripe_customer_id = $2, updated_at = now()
		WHERE id = $1
	`, id, customerID)
	if err != nil {
		return fmt.Errorf("link customer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *PostgresRepository) queryOne(ctx context.Context, query string, arg string) (*Account, error) {
	var a Account
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&a.ID,
		&a.Email,
		&a.StripeCustomerID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &a, nil
}

var _ Repository = (*PostgresRepository)(nil)
