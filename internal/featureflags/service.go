package featureflags

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServiceConfig holds configuration for the feature flag service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// CacheTTL is how long a loaded snapshot is served. Default: 1m.
	CacheTTL time.Duration

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Service evaluates flags from a cached snapshot of the repository merged
// over the defaults. A nil *Service reports every flag as off.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	snapshot map[string]*Flag
	loadedAt time.Time
}

// NewService creates a new feature flag service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger,
		ttl:    cfg.CacheTTL,
		now:    cfg.Now,
	}
	if s.ttl <= 0 {
		s.ttl = time.Minute
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// GetFlag returns the flag for key, or nil if the key is unknown and
// nothing is stored under it.
func (s *Service) GetFlag(ctx context.Context, key string) *Flag {
	if s == nil {
		return nil
	}
	return s.load(ctx)[key]
}

// GetAllFlags returns every known flag plus anything else stored.
func (s *Service) GetAllFlags(ctx context.Context) map[string]*Flag {
	if s == nil {
		return DefaultFlags()
	}
	snap := s.load(ctx)
	out := make(map[string]*Flag, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

// SetFlags writes flags and folds them into the current snapshot so the
// change is visible on this instance immediately.
func (s *Service) SetFlags(ctx context.Context, flags []*Flag) error {
	now := s.now().UTC()
	for _, flag := range flags {
		flag.UpdatedAt = now
	}
	if err := s.repo.SetFlags(ctx, flags); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil {
		return nil
	}
	next := make(map[string]*Flag, len(s.snapshot)+len(flags))
	for k, v := range s.snapshot {
		next[k] = v
	}
	for _, flag := range flags {
		next[flag.Key] = flag
	}
	s.snapshot = next
	return nil
}

// InvalidateCache drops the snapshot so the next read goes to the repository.
func (s *Service) InvalidateCache() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = nil
	s.loadedAt = time.Time{}
}

// IsEnabled reports whether the flag for key is on.
func (s *Service) IsEnabled(ctx context.Context, key string) bool {
	return s.GetFlag(ctx, key).BoolValue(false)
}

// load returns the current snapshot, reloading it once the TTL has passed.
// Snapshots are replaced, never mutated, so callers may read them unlocked.
func (s *Service) load(ctx context.Context) map[string]*Flag {
	now := s.now()

	s.mu.RLock()
	snap, loadedAt := s.snapshot, s.loadedAt
	s.mu.RUnlock()
	if snap != nil && now.Sub(loadedAt) < s.ttl {
		return snap
	}

	stored, err := s.repo.GetAllFlags(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to load feature flags, serving last known values")
		if s.snapshot == nil {
			s.snapshot = DefaultFlags()
		}
		// Hold the fallback for a full TTL rather than hitting a failing
		// store on every request.
		s.loadedAt = now
		return s.snapshot
	}

	next := DefaultFlags()
	for k, v := range stored {
		next[k] = v
	}
	s.snapshot = next
	s.loadedAt = now
	return next
}

// RefundAtConfirm reports whether refunds are computed at confirmation.
func (s *Service) RefundAtConfirm(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagRefundAtConfirm)
}

// IsDeletionExecutionPaused reports whether the batch executor must not run.
func (s *Service) IsDeletionExecutionPaused(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagPauseDeletionExecution)
}

// IsLifecycleEmailDisabled reports whether lifecycle emails are suppressed.
func (s *Service) IsLifecycleEmailDisabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagDisableLifecycleEmails)
}

// IsCRMSyncDisabled reports whether CRM contact sync is suppressed.
func (s *Service) IsCRMSyncDisabled(ctx context.Context) bool {
	return s.IsEnabled(ctx, FlagDisableCRMSync)
}
