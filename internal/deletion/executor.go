package deletion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/letterforge/letterforge/internal/billing"
	"github.com/letterforge/letterforge/internal/notify"
)

const meterName = "github.com/letterforge/letterforge/internal/deletion"

// batchLimit caps the requests picked up by one ExecuteDue call. Anything
// left over is due again on the next run.
const batchLimit = 500

func newExecutionCounter(logger zerolog.Logger) metric.Int64Counter {
	counter, err := otel.Meter(meterName).Int64Counter(
		"deletion.executions",
		metric.WithDescription("Deletion request executions by outcome"),
	)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to create deletion counter")
		return nil
	}
	return counter
}

// ExecuteDue executes every confirmed request whose cooldown has passed. One
// request failing never stops the others; failures are counted, not
// returned. Completed requests drop out of the scan, so repeated runs are
// safe.
func (s *Service) ExecuteDue(ctx context.Context) (*BatchResult, error) {
	if s.flags != nil && s.flags.IsDeletionExecutionPaused(ctx) {
		s.logger.Warn().Msg("deletion execution paused by feature flag")
		return &BatchResult{}, nil
	}

	started := s.now()
	due, err := s.repo.ListDue(ctx, started.UTC(), batchLimit)
	if err != nil {
		return nil, fmt.Errorf("list due requests: %w", err)
	}

	result := &BatchResult{Total: len(due)}
	if len(due) == 0 {
		return result, nil
	}

	s.logger.Info().
		Int("total", len(due)).
		Int("concurrency", s.concurrency).
		Msg("executing due deletion requests")

	work := make(chan *Request, len(due))
	outcomes := make(chan bool, len(due))

	var wg sync.WaitGroup
	for i := 0; i < s.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range work {
				if ctx.Err() != nil {
					outcomes <- false
					continue
				}
				outcomes <- s.executeIsolated(ctx, req) == nil
			}
		}()
	}

	for _, req := range due {
		work <- req
	}
	close(work)

	go func() {
		wg.Wait()
		close(outcomes)
	}()

	for ok := range outcomes {
		if ok {
			result.Executed++
		} else {
			result.Failed++
		}
	}

	s.logger.Info().
		Dur("duration", s.now().Sub(started)).
		Int("executed", result.Executed).
		Int("failed", result.Failed).
		Int("total", result.Total).
		Msg("deletion batch completed")

	return result, nil
}

// ExecuteForUser executes the user's confirmed request immediately, ignoring
// the cooldown. A pending request returns ErrNotConfirmed. Used by
// administrators.
func (s *Service) ExecuteForUser(ctx context.Context, userID string) error {
	req, err := s.repo.GetActive(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return ErrNoActiveRequest
		}
		return err
	}
	if req.Status != StatusConfirmed {
		return ErrNotConfirmed
	}
	s.logger.Warn().Str("request_id", req.ID).Str("user_id", userID).Str("status", string(req.Status)).Msg("forced deletion execution")
	return s.executeIsolated(ctx, req)
}

// executeIsolated runs one execution under its own timeout and turns a
// panic into an error.
func (s *Service) executeIsolated(ctx context.Context, req *Request) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error().
				Interface("panic", rec).
				Str("request_id", req.ID).
				Str("user_id", req.UserID).
				Msg("deletion execution panicked")
			err = fmt.Errorf("deletion execution panicked: %v", rec)
		}
		outcome := "completed"
		if err != nil {
			outcome = "failed"
		}
		s.record(ctx, req.Type, outcome)
	}()

	return s.execute(ctx, req)
}

// execute refunds, erases the user's data, completes the request and sends
// the final email. Only the erase and the completion write can fail it.
func (s *Service) execute(ctx context.Context, req *Request) error {
	log := s.logger.With().Str("request_id", req.ID).Str("user_id", req.UserID).Logger()
	from := req.Status

	var email string
	if acct, err := s.accounts.Get(ctx, req.UserID); err != nil {
		log.Warn().Err(err).Msg("account not loaded before deletion, final email skipped")
	} else {
		email = acct.Email
	}

	refund := req.Refund
	if refund == nil {
		outcome, err := s.billing.RefundForUser(ctx, req.UserID)
		if err != nil {
			log.Error().Err(err).Msg("refund failed during deletion, continuing")
		} else {
			refund = outcome
		}
	}

	if err := s.eraser.Erase(ctx, req.UserID, req.Type); err != nil {
		req.ExecutionAttempts++
		req.LastError = err.Error()
		if refund != nil && refund.Refunded {
			req.Refund = refund
		}
		req.UpdatedAt = s.now().UTC()
		if uerr := s.repo.Update(ctx, req, from); uerr != nil {
			log.Error().Err(uerr).Msg("failed to record deletion failure")
		}
		log.Error().Err(err).Int("attempts", req.ExecutionAttempts).Msg("data deletion failed")
		return fmt.Errorf("erase user data: %w", err)
	}

	now := s.now().UTC()
	req.Status = StatusCompleted
	req.CompletedAt = &now
	req.LastError = ""
	req.Refund = refund
	req.UpdatedAt = now
	if err := s.repo.Update(ctx, req, from); err != nil {
		log.Error().Err(err).Msg("user data deleted but request not marked completed")
		return fmt.Errorf("complete deletion request: %w", err)
	}

	log.Info().
		Str("deletion_type", string(req.Type)).
		Bool("refunded", refund != nil && refund.Refunded).
		Msg("account deleted")

	if email != "" {
		s.notifier.Send(ctx, notify.Message{
			Template:  notify.TemplateAccountDeleted,
			To:        email,
			UserID:    req.UserID,
			Data:      accountDeletedData(req, refund),
			DedupeKey: "account_deleted:" + req.ID,
		})
		s.notifier.RemoveContact(ctx, email)
	}
	return nil
}

func accountDeletedData(req *Request, refund *billing.RefundOutcome) map[string]any {
	data := map[string]any{
		"deletion_type": string(req.Type),
		"deleted_at":    req.CompletedAt.Format(time.RFC3339),
		"refunded":      false,
		"refund_amount": int64(0),
	}
	if refund != nil && refund.Refunded {
		data["refunded"] = true
		data["refund_amount"] = refund.Amount
	}
	return data
}

func (s *Service) record(ctx context.Context, deletionType Type, outcome string) {
	if s.executions == nil {
		return
	}
	s.executions.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(
		attribute.String("deletion_type", string(deletionType)),
		attribute.String("outcome", outcome),
	))
}
