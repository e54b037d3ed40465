package deletion

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Eraser removes or anonymizes a user's data.
type Eraser interface {
	Erase(ctx context.Context, userID string, deletionType Type) error
}

// PostgresEraser calls the host database's deletion functions.
type PostgresEraser struct {
	pool *pgxpool.Pool
}

// NewPostgresEraser creates an eraser backed by the database functions
// anonymize_user_data(text) and delete_user_data(text).
func NewPostgresEraser(pool *pgxpool.Pool) *PostgresEraser {
	return &PostgresEraser{pool: pool}
}

// Erase runs the procedure for deletionType.
func (e *PostgresEraser) Erase(ctx context.Context, userID string, deletionType Type) error {
	if !deletionType.Valid() {
		return fmt.Errorf("%w: unknown deletion type %q", ErrInvalidInput, deletionType)
	}
	procedure := deletionType.Procedure()
	if _, err := e.pool.Exec(ctx, "SELECT "+procedure+"($1)", userID); err != nil {
		return fmt.Errorf("%s: %w", procedure, err)
	}
	return nil
}

var _ Eraser = (*PostgresEraser)(nil)
