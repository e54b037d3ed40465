package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/letterforge/letterforge/internal/database"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL quota repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Get retrieves a user's record.
func (r *PostgresRepository) Get(ctx context.Context, userID string) (*Record, error) {
	var rec Record
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, letters_generated, max_letters, tier, reset_date,
			first_generation_date, version, updated_at
		FROM usage_quotas
		WHERE user_id = $1
	`, userID).Scan(
		&rec.UserID, &rec.LettersGenerated, &rec.MaxLetters, &rec.Tier, &rec.ResetDate,
		&rec.FirstGenerationDate, &rec.Version, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuotaNotFound
		}
		return nil, fmt.Errorf("get quota: %w", err)
	}
	return &rec, nil
}

// Insert creates a record.
func (r *PostgresRepository) Insert(ctx context.Context, rec *Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO usage_quotas (
			user_id, letters_generated, max_letters, tier, reset_date,
			first_generation_date, version, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
	`, rec.UserID, rec.LettersGenerated, rec.MaxLetters, rec.Tier, rec.ResetDate,
		rec.FirstGenerationDate, rec.UpdatedAt)
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			return ErrVersionConflict
		}
		return fmt.Errorf("insert quota: %w", err)
	}
	rec.Version = 1
	return nil
}

// Update writes rec conditional on its version.
func (r *PostgresRepository) Update(ctx context.Context, rec *Record) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE usage_quotas SET
			letters_generated = $3,
			max_letters = $4,
			tier = $5,
			reset_date = $6,
			first_generation_date = $7,
			version = version + 1,
			updated_at = $8
		WHERE user_id = $1 AND version = $2
	`, rec.UserID, rec.Version, rec.LettersGenerated, rec.MaxLetters, rec.Tier,
		rec.ResetDate, rec.FirstGenerationDate, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update quota: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	rec.Version++
	return nil
}

var _ Repository = (*PostgresRepository)(nil)
