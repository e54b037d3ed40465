package deletion

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"

	"github.com/letterforge/letterforge/internal/account"
	"github.com/letterforge/letterforge/internal/auth"
	"github.com/letterforge/letterforge/internal/billing"
	"github.com/letterforge/letterforge/internal/notify"
	"github.com/letterforge/letterforge/internal/ratelimit"
)

// Service errors.
var (
	ErrRateLimited     = errors.New("too many deletion requests")
	ErrInvalidToken    = errors.New("invalid or expired confirmation token")
	ErrNoActiveRequest = errors.New("no active deletion request")
	ErrNotOwner        = errors.New("deletion request belongs to another user")
	ErrTerminal        = errors.New("deletion request is already finished")
	ErrNotConfirmed    = errors.New("deletion request is not confirmed")
	ErrInvalidInput    = errors.New("invalid deletion request")
)

const (
	// DefaultCooldownHours is the wait between request and execution.
	DefaultCooldownHours = 48
	// DefaultPendingExpiry is how long an unconfirmed request stays valid.
	DefaultPendingExpiry = 7 * 24 * time.Hour
	// MaxReasonLength bounds the free-text reason.
	MaxReasonLength = 1000
)

// AccountStore reads account profiles.
type AccountStore interface {
	Get(ctx context.Context, id string) (*account.Account, error)
}

// RateLimiter budgets request creation per user.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (*ratelimit.Result, error)
}

// Billing cancels subscriptions and refunds unused time.
type Billing interface {
	CancelActiveSubscription(ctx context.Context, userID string) (bool, error)
	RefundForUser(ctx context.Context, userID string) (*billing.RefundOutcome, error)
}

// Flags are the runtime switches the workflow consults.
type Flags interface {
	RefundAtConfirm(ctx context.Context) bool
	IsDeletionExecutionPaused(ctx context.Context) bool
}

// ServiceConfig holds configuration for the deletion service.
type ServiceConfig struct {
	Repository Repository
	Accounts   AccountStore
	Passwords  auth.PasswordVerifier
	Limiter    RateLimiter
	Billing    Billing
	Eraser     Eraser
	Notifier   notify.Sender
	Flags      Flags
	Logger     zerolog.Logger

	CooldownHours int
	PendingExpiry time.Duration
	// ConfirmURL is the page that receives ?token= from the confirmation email.
	ConfirmURL string

	// ExecuteConcurrency bounds parallel executions in a batch. Default: 2.
	ExecuteConcurrency int
	// ExecuteTimeout bounds a single execution. Default: 2 minutes.
	ExecuteTimeout time.Duration

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Service runs the deletion request state machine.
type Service struct {
	repo      Repository
	accounts  AccountStore
	passwords auth.PasswordVerifier
	limiter   RateLimiter
	billing   Billing
	eraser    Eraser
	notifier  notify.Sender
	flags     Flags
	logger    zerolog.Logger

	cooldownHours int
	pendingExpiry time.Duration
	confirmURL    string
	concurrency   int
	timeout       time.Duration
	now           func() time.Time

	executions metric.Int64Counter
}

// NewService creates a new deletion service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.CooldownHours <= 0 {
		cfg.CooldownHours = DefaultCooldownHours
	}
	if cfg.PendingExpiry <= 0 {
		cfg.PendingExpiry = DefaultPendingExpiry
	}
	if cfg.ExecuteConcurrency <= 0 {
		cfg.ExecuteConcurrency = 2
	}
	if cfg.ExecuteTimeout <= 0 {
		cfg.ExecuteTimeout = 2 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		repo:          cfg.Repository,
		accounts:      cfg.Accounts,
		passwords:     cfg.Passwords,
		limiter:       cfg.Limiter,
		billing:       cfg.Billing,
		eraser:        cfg.Eraser,
		notifier:      cfg.Notifier,
		flags:         cfg.Flags,
		logger:        cfg.Logger,
		cooldownHours: cfg.CooldownHours,
		pendingExpiry: cfg.PendingExpiry,
		confirmURL:    cfg.ConfirmURL,
		concurrency:   cfg.ExecuteConcurrency,
		timeout:       cfg.ExecuteTimeout,
		now:           cfg.Now,
		executions:    newExecutionCounter(cfg.Logger),
	}
}

// Create opens a pending deletion request after re-verifying the password.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Created, error) {
	if in.Type == "" {
		in.Type = TypeSoft
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown deletion type %q", ErrInvalidInput, in.Type)
	}
	if len([]rune(in.Reason)) > MaxReasonLength {
		return nil, fmt.Errorf("%w: reason exceeds %d characters", ErrInvalidInput, MaxReasonLength)
	}

	if s.limiter != nil {
		res, err := s.limiter.Allow(ctx, in.UserID)
		if err != nil {
			return nil, fmt.Errorf("check rate limit: %w", err)
		}
		if !res.Allowed {
			s.logger.Warn().Str("user_id", in.UserID).Str("ip", in.IP).Msg("deletion request rate limited")
			return nil, ErrRateLimited
		}
	}

	acct, err := s.accounts.Get(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.passwords.VerifyPassword(ctx, acct.Email, in.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidPassword) {
			s.logger.Warn().Str("user_id", in.UserID).Str("ip", in.IP).Msg("deletion request with wrong password")
		}
		return nil, err
	}

	token, err := GenerateToken()
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	req := &Request{
		ID:                  newRequestID(),
		UserID:              in.UserID,
		Status:              StatusPending,
		Type:                in.Type,
		Reason:              in.Reason,
		TokenHash:           HashToken(token),
		CooldownHours:       s.cooldownHours,
		ScheduledDeletionAt: now.Add(time.Duration(s.cooldownHours) * time.Hour),
		RequestedIP:         in.IP,
		RequestedUserAgent:  in.UserAgent,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("request_id", req.ID).
		Str("user_id", req.UserID).
		Str("deletion_type", string(req.Type)).
		Time("scheduled_deletion_at", req.ScheduledDeletionAt).
		Msg("deletion request created")

	created := &Created{
		RequestID:            req.ID,
		ScheduledDeletionAt:  req.ScheduledDeletionAt,
		ConfirmationRequired: true,
		CooldownHours:        req.CooldownHours,
		Type:                 req.Type,
	}

	if in.SendConfirmationEmail {
		s.notifier.Send(ctx, notify.Message{
			Template: notify.TemplateDeletionConfirmation,
			To:       acct.Email,
			UserID:   acct.ID,
			Data: map[string]any{
				"confirm_url":           s.confirmLink(token),
				"scheduled_deletion_at": req.ScheduledDeletionAt.Format(time.RFC3339),
				"cooldown_hours":        req.CooldownHours,
				"deletion_type":         string(req.Type),
			},
			DedupeKey: "deletion_confirmation:" + req.ID,
		})
	} else {
		created.ConfirmationToken = token
	}
	return created, nil
}

func (s *Service) confirmLink(token string) string {
	return s.confirmURL + "?token=" + url.QueryEscape(token)
}

// Confirm moves a pending request to confirmed and cancels the user's active
// subscription. The token alone authorizes the call.
func (s *Service) Confirm(ctx context.Context, token string) (*Confirmed, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	req, err := s.repo.GetByTokenHash(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, ErrInvalidToken
	}

	now := s.now().UTC()
	if now.Sub(req.CreatedAt) > s.pendingExpiry {
		return nil, fmt.Errorf("%w: request expired", ErrInvalidToken)
	}

	req.Status = StatusConfirmed
	req.ConfirmedAt = &now
	req.UpdatedAt = now
	if err := s.repo.Update(ctx, req, StatusPending); err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}

	cancelled := s.settleSubscription(ctx, req)

	s.logger.Info().
		Str("request_id", req.ID).
		Str("user_id", req.UserID).
		Bool("subscription_cancelled", cancelled).
		Msg("deletion request confirmed")

	if cancelled {
		s.notifyUser(ctx, req.UserID, notify.Message{
			Template: notify.TemplateSubscriptionCancelled,
			Data: map[string]any{
				"reason":                "account_deletion",
				"scheduled_deletion_at": req.ScheduledDeletionAt.Format(time.RFC3339),
			},
			DedupeKey: "subscription_cancelled:deletion:" + req.ID,
		})
	}

	return &Confirmed{
		UserID:                req.UserID,
		ScheduledDeletionAt:   req.ScheduledDeletionAt,
		SubscriptionCancelled: cancelled,
	}, nil
}

// settleSubscription cancels the user's subscription at confirmation. When
// refunds run at confirm time the calculator cancels and refunds in one step
// and its outcome is stored on the request for execution.
func (s *Service) settleSubscription(ctx context.Context, req *Request) bool {
	log := s.logger.With().Str("request_id", req.ID).Str("user_id", req.UserID).Logger()

	if s.flags != nil && s.flags.RefundAtConfirm(ctx) {
		outcome, err := s.billing.RefundForUser(ctx, req.UserID)
		if err != nil {
			log.Error().Err(err).Msg("refund at confirmation failed")
			return false
		}
		req.Refund = outcome
		req.UpdatedAt = s.now().UTC()
		if err := s.repo.Update(ctx, req, StatusConfirmed); err != nil {
			log.Error().Err(err).Msg("failed to store refund outcome")
		}
		return outcome.CancelledSubscription()
	}

	cancelled, err := s.billing.CancelActiveSubscription(ctx, req.UserID)
	if err != nil {
		log.Error().Err(err).Msg("failed to cancel subscription at confirmation")
		return false
	}
	return cancelled
}

// Cancel withdraws the caller's live request. A token, when given, must
// identify a request owned by the caller.
func (s *Service) Cancel(ctx context.Context, in CancelInput) error {
	var (
		req *Request
		err error
	)
	if in.Token != "" {
		req, err = s.repo.GetByTokenHash(ctx, HashToken(in.Token))
		if errors.Is(err, ErrRequestNotFound) {
			return ErrNoActiveRequest
		}
		if err != nil {
			return err
		}
		if req.UserID != in.UserID {
			s.logger.Warn().Str("user_id", in.UserID).Str("ip", in.IP).Msg("cancel attempted on another user's deletion request")
			return ErrNotOwner
		}
	} else {
		req, err = s.repo.GetActive(ctx, in.UserID)
		if errors.Is(err, ErrRequestNotFound) {
			return ErrNoActiveRequest
		}
		if err != nil {
			return err
		}
	}

	switch req.Status {
	case StatusCompleted:
		return ErrTerminal
	case StatusCancelled:
		return ErrNoActiveRequest
	}

	from := req.Status
	now := s.now().UTC()
	req.Status = StatusCancelled
	req.CancelledAt = &now
	req.CancelledIP = in.IP
	req.CancelledUserAgent = in.UserAgent
	req.UpdatedAt = now

	if err := s.repo.Update(ctx, req, from); err != nil {
		if errors.Is(err, ErrStatusChanged) {
			return ErrNoActiveRequest
		}
		return err
	}

	s.logger.Info().Str("request_id", req.ID).Str("user_id", req.UserID).Msg("deletion request cancelled")
	return nil
}

// Current returns the caller's live request.
func (s *Service) Current(ctx context.Context, userID string) (*Request, error) {
	req, err := s.repo.GetActive(ctx, userID)
	if errors.Is(err, ErrRequestNotFound) {
		return nil, ErrNoActiveRequest
	}
	return req, err
}

// notifyUser fills in the recipient from the account profile and sends msg.
func (s *Service) notifyUser(ctx context.Context, userID string, msg notify.Message) {
	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Str("template", string(msg.Template)).Msg("skipping email, account not loaded")
		return
	}
	msg.To = acct.Email
	msg.UserID = userID
	s.notifier.Send(ctx, msg)
}
