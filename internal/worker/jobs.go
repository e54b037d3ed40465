package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/letterforge/letterforge/internal/deletion"
)

const meterName = "github.com/letterforge/letterforge/internal/worker"

// JobType names a maintenance job.
type JobType string

// Job types accepted from the scheduler and from Pub/Sub.
const (
	JobExecutePendingDeletions JobType = "execute_pending_deletions"
	JobCleanupExpiredRequests  JobType = "cleanup_expired_requests"
	JobFullMaintenance         JobType = "full_maintenance"
)

// ErrUnknownJob is returned for a job type the runner does not handle.
var ErrUnknownJob = errors.New("unknown job type")

// Maintainer is the deletion workflow's maintenance surface.
type Maintainer interface {
	ExecuteDue(ctx context.Context) (*deletion.BatchResult, error)
	CleanupExpired(ctx context.Context) (int, error)
	FullMaintenance(ctx context.Context) (*deletion.MaintenanceResult, error)
}

// Runner executes maintenance jobs with a per-run timeout.
type Runner struct {
	maintainer Maintainer
	logger     zerolog.Logger
	timeout    time.Duration
	runs       metric.Int64Counter
}

// NewRunner creates a job runner.
func NewRunner(maintainer Maintainer, timeout time.Duration, logger zerolog.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultConfig().JobTimeout
	}
	runs, err := otel.Meter(meterName).Int64Counter(
		"worker.job_runs",
		metric.WithDescription("Maintenance job runs by type and outcome"),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create job counter")
	}
	return &Runner{maintainer: maintainer, logger: logger, timeout: timeout, runs: runs}
}

// Run executes one job.
func (r *Runner) Run(ctx context.Context, job JobType) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	log := r.logger.With().Str("job_type", string(job)).Logger()
	log.Info().Msg("job started")

	event, err := r.run(ctx, job, log)
	if errors.Is(err, ErrUnknownJob) {
		return err
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("job failed")
	} else {
		event.Dur("duration", time.Since(start)).Msg("job completed")
	}
	if r.runs != nil {
		r.runs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("job_type", string(job)),
			attribute.String("outcome", outcome),
		))
	}
	return err
}

func (r *Runner) run(ctx context.Context, job JobType, log zerolog.Logger) (*zerolog.Event, error) {
	switch job {
	case JobExecutePendingDeletions:
		res, err := r.maintainer.ExecuteDue(ctx)
		if err != nil {
			return nil, err
		}
		return log.Info().Int("executed", res.Executed).Int("failed", res.Failed).Int("total", res.Total), nil

	case JobCleanupExpiredRequests:
		removed, err := r.maintainer.CleanupExpired(ctx)
		if err != nil {
			return nil, err
		}
		return log.Info().Int("expired_removed", removed), nil

	case JobFullMaintenance:
		res, err := r.maintainer.FullMaintenance(ctx)
		if err != nil {
			return nil, err
		}
		ev := log.Info().Int("expired_removed", res.ExpiredRemoved).Int("active_requests", res.Status.ActiveRequests)
		if res.Execution != nil {
			ev = ev.Int("executed", res.Execution.Executed).Int("failed", res.Execution.Failed)
		}
		return ev, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, job)
	}
}
