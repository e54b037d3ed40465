package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/letterforge/letterforge/internal/notify"

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	Mailer   Mailer
	Contacts ContactStore
	Deduper  Deduper
	Switches Switches
	Logger   zerolog.Logger

	// Timeout bounds each detached send. Default: 15 seconds.
	Timeout time.Duration

	// DedupeTTL is how long a dedupe key suppresses repeats. Default: 7 days.
	DedupeTTL time.Duration
}

// Dispatcher runs email and CRM side effects on detached goroutines. The
// caller's context values are kept but its cancellation is not, so a
// finished HTTP request does not abort an in-flight email.
type Dispatcher struct {
	mailer    Mailer
	contacts  ContactStore
	deduper   Deduper
	switches  Switches
	logger    zerolog.Logger
	timeout   time.Duration
	dedupeTTL time.Duration

	wg      sync.WaitGroup
	outcome metric.Int64Counter
}

// NewDispatcher creates a dispatcher. A nil Mailer or ContactStore disables
// that channel.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	d := &Dispatcher{
		mailer:    cfg.Mailer,
		contacts:  cfg.Contacts,
		deduper:   cfg.Deduper,
		switches:  cfg.Switches,
		logger:    cfg.Logger,
		timeout:   cfg.Timeout,
		dedupeTTL: cfg.DedupeTTL,
	}
	if d.timeout == 0 {
		d.timeout = 15 * time.Second
	}
	if d.dedupeTTL == 0 {
		d.dedupeTTL = 7 * 24 * time.Hour
	}

	counter, err := otel.Meter(meterName).Int64Counter(
		"notify.side_effects",
		metric.WithDescription("Detached notification side effects by outcome"),
	)
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("failed to create notify counter")
	}
	d.outcome = counter
	return d
}

// Send queues an email.
func (d *Dispatcher) Send(ctx context.Context, msg Message) {
	if d.mailer == nil {
		return
	}
	if d.switches != nil && d.switches.IsLifecycleEmailDisabled(ctx) {
		d.logger.Debug().Str("template", string(msg.Template)).Msg("lifecycle emails disabled, skipping")
		return
	}
	if msg.To == "" {
		d.logger.Warn().Str("template", string(msg.Template)).Str("user_id", msg.UserID).Msg("email has no recipient, skipping")
		return
	}

	d.detach(ctx, "email", string(msg.Template), func(ctx context.Context) (bool, error) {
		key := ""
		if msg.DedupeKey != "" && d.deduper != nil {
			claimed, err := d.deduper.Claim(ctx, "notify:"+msg.DedupeKey, d.dedupeTTL)
			switch {
			case err != nil:
				d.logger.Warn().Err(err).Str("dedupe_key", msg.DedupeKey).Msg("dedupe unavailable, sending anyway")
			case !claimed:
				return false, nil
			default:
				key = "notify:" + msg.DedupeKey
			}
		}

		err := d.mailer.SendEmail(ctx, msg)
		if err != nil && key != "" {
			// Unsent: let a redelivery or the other lifecycle path retry.
			if relErr := d.deduper.Release(context.WithoutCancel(ctx), key); relErr != nil {
				d.logger.Warn().Err(relErr).Str("dedupe_key", msg.DedupeKey).Msg("failed to release dedupe key")
			}
		}
		return true, err
	})
}

// SyncContact queues a CRM contact upsert.
func (d *Dispatcher) SyncContact(ctx context.Context, contact Contact) {
	if d.contacts == nil || contact.Email == "" {
		return
	}
	if d.switches != nil && d.switches.IsCRMSyncDisabled(ctx) {
		return
	}
	d.detach(ctx, "crm", "upsert_contact", func(ctx context.Context) (bool, error) {
		return true, d.contacts.UpsertContact(ctx, contact)
	})
}

// RemoveContact queues a CRM contact removal.
func (d *Dispatcher) RemoveContact(ctx context.Context, email string) {
	if d.contacts == nil || email == "" {
		return
	}
	if d.switches != nil && d.switches.IsCRMSyncDisabled(ctx) {
		return
	}
	d.detach(ctx, "crm", "delete_contact", func(ctx context.Context) (bool, error) {
		return true, d.contacts.DeleteContact(ctx, email)
	})
}

// Wait blocks until in-flight side effects finish or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// detach runs fn on its own goroutine. fn reports whether it did any work
// (false for a de-duplicated email).
func (d *Dispatcher) detach(parent context.Context, channel, name string, fn func(ctx context.Context) (bool, error)) {
	base := context.WithoutCancel(parent)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error().
					Interface("panic", rec).
					Str("channel", channel).
					Str("name", name).
					Msg("notification side effect panicked")
				d.record(base, channel, name, "panic")
			}
		}()

		ctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()

		sent, err := fn(ctx)
		switch {
		case err != nil:
			d.logger.Warn().Err(err).Str("channel", channel).Str("name", name).Msg("notification side effect failed")
			d.record(ctx, channel, name, "failed")
		case !sent:
			d.logger.Debug().Str("channel", channel).Str("name", name).Msg("notification de-duplicated")
			d.record(ctx, channel, name, "duplicate")
		default:
			d.record(ctx, channel, name, "sent")
		}
	}()
}

func (d *Dispatcher) record(ctx context.Context, channel, name, outcome string) {
	if d.outcome == nil {
		return
	}
	d.outcome.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("name", name),
		attribute.String("outcome", outcome),
	))
}

var _ Sender = (*Dispatcher)(nil)
