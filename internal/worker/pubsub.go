package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// JobMessage is the payload of an on-demand job request.
type JobMessage struct {
	JobType JobType `json:"job_type"`
}

// JobSubscriber runs maintenance jobs requested over Pub/Sub, one at a time.
type JobSubscriber struct {
	sub    *pubsub.Subscriber
	runner *Runner
	logger zerolog.Logger
}

// NewJobSubscriber attaches to subscription on client. The caller owns
// client and closes it after Receive returns.
func NewJobSubscriber(client *pubsub.Client, subscription string, runner *Runner, logger zerolog.Logger) *JobSubscriber {
	sub := client.Subscriber(subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = 1
	sub.ReceiveSettings.MaxExtension = 15 * time.Minute

	return &JobSubscriber{
		sub:    sub,
		runner: runner,
		logger: logger.With().Str("subscription", subscription).Logger(),
	}
}

// Receive blocks until ctx is cancelled or the subscription fails.
func (s *JobSubscriber) Receive(ctx context.Context) error {
	s.logger.Info().Msg("receiving job requests")

	return s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		log := s.logger.With().
			Str("message_id", m.ID).
			Time("published_at", m.PublishTime).
			Logger()

		if !HandleJobMessage(ctx, s.runner, m.Data, log) {
			m.Nack()
			return
		}
		m.Ack()
	})
}

// HandleJobMessage runs the job named in data and reports whether the
// message should be acknowledged. Only a job that ran and failed is
// redelivered.
func HandleJobMessage(ctx context.Context, runner *Runner, data []byte, logger zerolog.Logger) bool {
	var job JobMessage
	if err := json.Unmarshal(data, &job); err != nil {
		logger.Error().Err(err).Msg("dropping malformed job message")
		return true
	}

	err := runner.Run(ctx, job.JobType)
	if errors.Is(err, ErrUnknownJob) {
		logger.Warn().Str("job_type", string(job.JobType)).Msg("dropping unknown job type")
		return true
	}
	return err == nil
}
