// Package worker runs scheduled and on-demand account maintenance jobs.
package worker

import (
	"time"
)

// Config holds configuration for the worker.
type Config struct {
	// ExecuteSchedule is the cron spec for executing due deletions.
	// Default: every 15 minutes.
	ExecuteSchedule string

	// CleanupSchedule is the cron spec for removing expired pending
	// requests. Default: 03:00 UTC daily.
	CleanupSchedule string

	// JobTimeout bounds a single job run. Default: 10 minutes.
	JobTimeout time.Duration
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		ExecuteSchedule: "*/15 * * * *",
		CleanupSchedule: "0 3 * * *",
		JobTimeout:      10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ExecuteSchedule == "" {
		c.ExecuteSchedule = d.ExecuteSchedule
	}
	if c.CleanupSchedule == "" {
		c.CleanupSchedule = d.CleanupSchedule
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	return c
}
