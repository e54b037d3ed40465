// Package ratelimit enforces per-key request budgets shared across service
// instances through Redis, with a per-process fallback when Redis is down.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Result is the outcome of a single Allow call.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	// Degraded is set when the decision came from the in-process fallback.
	Degraded bool
}

// Config configures a Limiter.
type Config struct {
	// Prefix namespaces keys in Redis, e.g. "ratelimit:deletion".
	Prefix string
	// Rate is the number of events allowed per Period.
	Rate   int
	Period time.Duration
	Logger zerolog.Logger
}

// Limiter is a GCRA limiter stored in Redis.
type Limiter struct {
	redis    *redis_rate.Limiter
	fallback *localLimiter
	limit    redis_rate.Limit
	prefix   string
	logger   zerolog.Logger
}

// New creates a limiter. A nil client runs on the in-process fallback only,
// which is correct for a single instance.
func New(rdb redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Rate <= 0 {
		cfg.Rate = 1
	}
	if cfg.Period <= 0 {
		cfg.Period = time.Hour
	}

	l := &Limiter{
		fallback: newLocalLimiter(),
		limit: redis_rate.Limit{
			Rate:   cfg.Rate,
			Burst:  cfg.Rate,
			Period: cfg.Period,
		},
		prefix: cfg.Prefix,
		logger: cfg.Logger,
	}
	if rdb != nil {
		l.redis = redis_rate.NewLimiter(rdb)
	}
	return l
}

// NewDeletionLimiter returns the limiter guarding deletion-request creation.
func NewDeletionLimiter(rdb redis.UniversalClient, perHour int, logger zerolog.Logger) *Limiter {
	return New(rdb, Config{
		Prefix: "ratelimit:deletion",
		Rate:   perHour,
		Period: time.Hour,
		Logger: logger,
	})
}

// Allow consumes one unit of the key's budget.
func (l *Limiter) Allow(ctx context.Context, key string) (*Result, error) {
	fullKey := l.prefix + ":" + key

	if l.redis != nil {
		res, err := l.redis.Allow(ctx, fullKey, l.limit)
		if err == nil {
			return &Result{
				Allowed:    res.Allowed > 0,
				Remaining:  res.Remaining,
				RetryAfter: positive(res.RetryAfter),
			}, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("rate limit %s: %w", fullKey, ctx.Err())
		}
		l.logger.Warn().Err(err).Str("key", fullKey).Msg("redis limiter unavailable, using local fallback")
	}

	res := l.fallback.allow(fullKey, l.limit)
	res.Degraded = l.redis != nil
	return res, nil
}

// Reset clears the key's budget.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	fullKey := l.prefix + ":" + key
	l.fallback.reset(fullKey)
	if l.redis == nil {
		return nil
	}
	if err := l.redis.Reset(ctx, fullKey); err != nil {
		return fmt.Errorf("reset rate limit %s: %w", fullKey, err)
	}
	return nil
}

func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

type localEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// localLimiter keeps token buckets in process memory. Idle entries are
// pruned on access once the map grows past maxLocalEntries.
type localLimiter struct {
	mu      sync.Mutex
	entries map[string]*localEntry
}

const (
	maxLocalEntries = 10000
	localEntryTTL   = 2 * time.Hour
)

func newLocalLimiter() *localLimiter {
	return &localLimiter{entries: make(map[string]*localEntry)}
}

func (l *localLimiter) allow(key string, limit redis_rate.Limit) *Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if len(l.entries) > maxLocalEntries {
		for k, e := range l.entries {
			if now.Sub(e.lastAccess) > localEntryTTL {
				delete(l.entries, k)
			}
		}
	}

	entry, ok := l.entries[key]
	if !ok {
		every := limit.Period / time.Duration(limit.Rate)
		entry = &localEntry{limiter: rate.NewLimiter(rate.Every(every), limit.Burst)}
		l.entries[key] = entry
	}
	entry.lastAccess = now

	r := entry.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay > 0 {
		r.CancelAt(now)
		return &Result{Allowed: false, RetryAfter: delay}
	}

	remaining := int(entry.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return &Result{Allowed: true, Remaining: remaining}
}

func (l *localLimiter) reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}
