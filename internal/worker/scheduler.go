package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// cronLogger routes cron's internal logging through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Scheduler runs maintenance jobs on cron schedules in UTC. A run still in
// progress when its next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	logger zerolog.Logger
}

// NewScheduler registers the periodic jobs from cfg.
func NewScheduler(cfg Config, runner *Runner, logger zerolog.Logger) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	clog := cronLogger{logger: logger.With().Str("component", "cron").Logger()}

	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(clog),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		runner: runner,
		logger: logger,
	}

	jobs := []struct {
		spec string
		job  JobType
	}{
		{cfg.ExecuteSchedule, JobExecutePendingDeletions},
		{cfg.CleanupSchedule, JobCleanupExpiredRequests},
	}
	for _, j := range jobs {
		job := j.job
		if _, err := s.cron.AddFunc(j.spec, func() {
			// Errors are logged by the runner; the next tick retries.
			_ = s.runner.Run(context.Background(), job) //nolint:errcheck
		}); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", job, j.spec, err)
		}
		logger.Info().Str("job_type", string(job)).Str("schedule", j.spec).Msg("job scheduled")
	}
	return s, nil
}

// Start begins firing scheduled jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs or ctx, whichever ends
// first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
