package featureflags

import (
	"context"
	"errors"
)

// ErrFlagNotFound is returned when no flag is stored under a key.
var ErrFlagNotFound = errors.New("feature flag not found")

// Repository stores flags.
type Repository interface {
	// GetFlag returns one flag or ErrFlagNotFound.
	GetFlag(ctx context.Context, key string) (*Flag, error)

	// GetAllFlags returns every stored flag keyed by name.
	GetAllFlags(ctx context.Context) (map[string]*Flag, error)

	// SetFlags upserts flags in one transaction.
	SetFlags(ctx context.Context, flags []*Flag) error
}
