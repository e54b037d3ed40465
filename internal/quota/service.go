package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Tier names.
const (
	TierFree = "free"
	TierPro  = "pro"
)

// DefaultWindow is the length of a usage window.
const DefaultWindow = 30 * 24 * time.Hour

// DefaultLimits are the per-tier generation ceilings.
func DefaultLimits() map[string]int {
	return map[string]int{TierFree: 10, TierPro: 100}
}

// TierSource resolves an account's current tier.
type TierSource interface {
	Tier(ctx context.Context, userID string) (string, error)
}

// ServiceConfig holds configuration for the quota service.
type ServiceConfig struct {
	Repository Repository
	Tiers      TierSource
	Logger     zerolog.Logger

	// Limits maps tier to ceiling. Unknown tiers get the free ceiling.
	Limits map[string]int
	Window time.Duration

	// MaxRetries bounds retries after a version conflict. Default: 5.
	MaxRetries uint64
	// RetryInterval is the first backoff interval. Default: 10ms.
	RetryInterval time.Duration

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Service manages usage windows.
type Service struct {
	repo          Repository
	tiers         TierSource
	logger        zerolog.Logger
	limits        map[string]int
	window        time.Duration
	maxRetries    uint64
	retryInterval time.Duration
	now           func() time.Time
}

// NewService creates a new quota service.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		repo:          cfg.Repository,
		tiers:         cfg.Tiers,
		logger:        cfg.Logger,
		limits:        cfg.Limits,
		window:        cfg.Window,
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
		now:           cfg.Now,
	}
	if len(s.limits) == 0 {
		s.limits = DefaultLimits()
	}
	if s.window <= 0 {
		s.window = DefaultWindow
	}
	if s.maxRetries == 0 {
		s.maxRetries = 5
	}
	if s.retryInterval <= 0 {
		s.retryInterval = 10 * time.Millisecond
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// CheckAndMaybeReset returns the user's record, creating it on first sight,
// rolling the window forward once its reset date has passed, and applying a
// tier change to the ceiling.
func (s *Service) CheckAndMaybeReset(ctx context.Context, userID string) (*Record, error) {
	var rec *Record
	err := s.retry(ctx, func() error {
		var err error
		rec, err = s.checkAndMaybeReset(ctx, userID)
		return err
	})
	return rec, err
}

// Increment consumes one generation. It returns false without changing
// anything when the window's ceiling is reached. The reset check runs first
// in the same attempt so a generation is never granted against a stale
// window.
func (s *Service) Increment(ctx context.Context, userID string) (bool, *Record, error) {
	var (
		rec     *Record
		granted bool
	)
	err := s.retry(ctx, func() error {
		var err error
		rec, err = s.checkAndMaybeReset(ctx, userID)
		if err != nil {
			return err
		}
		if !rec.CanGenerate() {
			granted = false
			return nil
		}

		now := s.now().UTC()
		if rec.LettersGenerated == 0 && rec.FirstGenerationDate == nil {
			resetDate := now.Add(s.window)
			rec.FirstGenerationDate = &now
			rec.ResetDate = &resetDate
		}
		rec.LettersGenerated++
		rec.UpdatedAt = now

		if err := s.repo.Update(ctx, rec); err != nil {
			return err
		}
		granted = true
		return nil
	})
	if err != nil {
		return false, nil, err
	}

	if !granted {
		s.logger.Info().
			Str("user_id", userID).
			Int("letters_generated", rec.LettersGenerated).
			Int("max_letters", rec.MaxLetters).
			Msg("generation quota exhausted")
	}
	return granted, rec, nil
}

func (s *Service) checkAndMaybeReset(ctx context.Context, userID string) (*Record, error) {
	now := s.now().UTC()

	rec, err := s.repo.Get(ctx, userID)
	if errors.Is(err, ErrQuotaNotFound) {
		tier := s.tierFor(ctx, userID, TierFree)
		rec = &Record{
			UserID:     userID,
			MaxLetters: s.limitFor(tier),
			Tier:       tier,
			UpdatedAt:  now,
		}
		if err := s.repo.Insert(ctx, rec); err != nil {
			return nil, err
		}
		return rec, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get quota: %w", err)
	}

	changed := false

	if tier := s.tierFor(ctx, userID, rec.Tier); tier != rec.Tier {
		rec.Tier = tier
		rec.MaxLetters = s.limitFor(tier)
		changed = true
	}

	if rec.FirstGenerationDate != nil && (rec.ResetDate == nil || !now.Before(*rec.ResetDate)) {
		next := s.nextReset(*rec.FirstGenerationDate, now)
		rec.ResetDate = &next
		rec.LettersGenerated = 0
		changed = true
	}

	if !changed {
		return rec, nil
	}
	rec.UpdatedAt = now
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// nextReset is the first window boundary after now, counting whole windows
// from the first generation so skipped cycles are jumped over.
func (s *Service) nextReset(first, now time.Time) time.Time {
	next := first.Add(s.window)
	for !next.After(now) {
		next = next.Add(s.window)
	}
	return next
}

func (s *Service) tierFor(ctx context.Context, userID, fallback string) string {
	if s.tiers == nil {
		return fallback
	}
	tier, err := s.tiers.Tier(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("tier lookup failed, keeping current tier")
		return fallback
	}
	return tier
}

func (s *Service) limitFor(tier string) int {
	if limit, ok := s.limits[tier]; ok {
		return limit
	}
	return s.limits[TierFree]
}

// retry runs op again after a version conflict.
func (s *Service) retry(ctx context.Context, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInterval
	bo.MaxInterval = 20 * s.retryInterval

	operation := func() error {
		err := op()
		if err == nil || errors.Is(err, ErrVersionConflict) {
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(bo, s.maxRetries), ctx))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		return err
	}
	return nil
}
