package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ErrProcessingTimeout is returned when an event handler exceeds its budget.
var ErrProcessingTimeout = errors.New("billing event processing timed out")

// DefaultProcessingTimeout bounds a single webhook delivery.
const DefaultProcessingTimeout = 25 * time.Second

// Verifier authenticates a raw webhook delivery.
type Verifier interface {
	Verify(payload []byte, signature string) (*Event, error)
}

// IngestorConfig holds configuration for the ingestor.
type IngestorConfig struct {
	Verifier Verifier
	Handlers map[string]EventHandler
	Events   EventLog
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// Ingestor verifies, de-duplicates and dispatches billing webhooks.
type Ingestor struct {
	verifier Verifier
	handlers map[string]EventHandler
	events   EventLog
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewIngestor creates an ingestor.
func NewIngestor(cfg IngestorConfig) *Ingestor {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultProcessingTimeout
	}
	return &Ingestor{
		verifier: cfg.Verifier,
		handlers: cfg.Handlers,
		events:   cfg.Events,
		timeout:  timeout,
		logger:   cfg.Logger,
	}
}

// IngestResult describes a handled delivery.
type IngestResult struct {
	EventID        string
	EventType      string
	Duplicate      bool
	Ignored        bool
	ProcessingTime time.Duration
}

// Ingest handles one delivery. The returned result is non-nil whenever the
// signature verified, including on handler failure and timeout.
func (i *Ingestor) Ingest(ctx context.Context, payload []byte, signature string) (*IngestResult, error) {
	start := time.Now()

	evt, err := i.verifier.Verify(payload, signature)
	if err != nil {
		return nil, err
	}

	result := &IngestResult{EventID: evt.ID, EventType: evt.Type}
	log := i.logger.With().Str("event_id", evt.ID).Str("event_type", evt.Type).Logger()

	if i.events != nil {
		processed, err := i.events.IsProcessed(ctx, evt.ID)
		if err != nil {
			log.Warn().Err(err).Msg("event log unavailable, processing anyway")
		} else if processed {
			result.Duplicate = true
			result.ProcessingTime = time.Since(start)
			log.Info().Msg("duplicate billing event acknowledged")
			return result, nil
		}
	}

	handler, ok := i.handlers[evt.Type]
	if !ok {
		result.Ignored = true
		result.ProcessingTime = time.Since(start)
		log.Debug().Msg("unhandled billing event type")
		return result, nil
	}

	err = i.run(ctx, handler, evt)
	result.ProcessingTime = time.Since(start)
	if errors.Is(err, ErrMalformedEvent) {
		// A redelivery cannot decode any better; record it so it is
		// acknowledged as a duplicate.
		log.Error().Err(err).Msg("malformed billing event rejected")
		i.markProcessed(ctx, evt, log)
		return result, err
	}
	if err != nil {
		log.Error().Err(err).Dur("processing_time", result.ProcessingTime).Msg("billing event failed")
		return result, err
	}

	i.markProcessed(ctx, evt, log)
	log.Info().Dur("processing_time", result.ProcessingTime).Msg("billing event processed")
	return result, nil
}

func (i *Ingestor) markProcessed(ctx context.Context, evt *Event, log zerolog.Logger) {
	if i.events == nil {
		return
	}
	if err := i.events.MarkProcessed(ctx, evt.ID, evt.Type); err != nil {
		log.Warn().Err(err).Msg("failed to record processed event")
	}
}

// run races the handler against the processing timeout. A handler still
// running at the deadline has its context cancelled and its result dropped;
// the gateway redelivers and the upserts are idempotent.
func (i *Ingestor) run(ctx context.Context, handler EventHandler, evt *Event) error {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("billing event handler panicked: %v", rec)
			}
		}()
		done <- handler.Handle(ctx, evt)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrProcessingTimeout
		}
		return ctx.Err()
	}
}
