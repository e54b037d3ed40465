package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/letterforge/letterforge/internal/account"
	"github.com/letterforge/letterforge/internal/api/models"
	"github.com/letterforge/letterforge/internal/api/response"
	"github.com/letterforge/letterforge/internal/auth"
	"github.com/letterforge/letterforge/internal/deletion"
)

// DeletionService is the part of the deletion workflow exposed to users.
type DeletionService interface {
	Create(ctx context.Context, in deletion.CreateInput) (*deletion.Created, error)
	Confirm(ctx context.Context, token string) (*deletion.Confirmed, error)
	Cancel(ctx context.Context, in deletion.CancelInput) error
	Current(ctx context.Context, userID string) (*deletion.Request, error)
}

// DeletionHandler handles GDPR account deletion endpoints.
type DeletionHandler struct {
	service DeletionService
	perHour int
	logger  zerolog.Logger
}

// NewDeletionHandler creates a new DeletionHandler. perHour is the request
// budget reported in rate limit headers.
func NewDeletionHandler(service DeletionService, perHour int, logger zerolog.Logger) *DeletionHandler {
	return &DeletionHandler{service: service, perHour: perHour, logger: logger}
}

// CreateDeletionRequest handles POST /v1/gdpr/deletion-requests.
func (h *DeletionHandler) CreateDeletionRequest(w http.ResponseWriter, r *http.Request) {
	var input models.DeletionRequestCreate
	if msg, fields := decodeJSON(w, r, &input, false); msg != "" {
		response.BadRequest(w, r, msg, fields)
		return
	}

	in := deletion.CreateInput{
		UserID:                GetUserID(r.Context()),
		Password:              input.Password,
		Type:                  deletion.Type(input.DeletionType),
		SendConfirmationEmail: input.SendConfirmationEmail == nil || *input.SendConfirmationEmail,
		IP:                    clientIP(r),
		UserAgent:             r.UserAgent(),
	}
	if input.Reason != nil {
		in.Reason = *input.Reason
	}

	created, err := h.service.Create(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, deletion.ErrInvalidInput):
			response.BadRequest(w, r, err.Error(), nil)
		case errors.Is(err, deletion.ErrRateLimited):
			response.RateLimited(w, r, "too many deletion requests, try again later", &response.RateLimitInfo{
				Limit:      h.perHour,
				Remaining:  0,
				RetryAfter: 3600 / max(h.perHour, 1),
			})
		case errors.Is(err, auth.ErrInvalidPassword):
			response.Unauthorized(w, r, "invalid credentials")
		case errors.Is(err, account.ErrAccountNotFound):
			response.NotFound(w, r, "account profile not found")
		case errors.Is(err, deletion.ErrActiveRequestExists):
			response.Conflict(w, r, "a deletion request is already in progress")
		case errors.Is(err, auth.ErrIdentityUnavailable):
			response.ServiceUnavailable(w, r, "unable to verify credentials at this time")
		default:
			h.logger.Error().Err(err).Str("user_id", in.UserID).Msg("create deletion request failed")
			response.InternalError(w, r, "failed to create deletion request")
		}
		return
	}

	response.Created(w, r, "/v1/gdpr/deletion-requests/current", models.DeletionRequestCreated{
		RequestID:            created.RequestID,
		ScheduledDeletionAt:  models.Timestamp(created.ScheduledDeletionAt),
		ConfirmationRequired: created.ConfirmationRequired,
		CooldownHours:        created.CooldownHours,
		DeletionType:         string(created.Type),
		ConfirmationToken:    created.ConfirmationToken,
	})
}

// GetCurrentDeletionRequest handles GET /v1/gdpr/deletion-requests/current.
func (h *DeletionHandler) GetCurrentDeletionRequest(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	req, err := h.service.Current(r.Context(), userID)
	if err != nil {
		if errors.Is(err, deletion.ErrNoActiveRequest) {
			response.NotFound(w, r, "no active deletion request")
			return
		}
		h.logger.Error().Err(err).Str("user_id", userID).Msg("load deletion request failed")
		response.InternalError(w, r, "failed to load deletion request")
		return
	}

	response.JSON(w, r, http.StatusOK, models.DeletionRequest{
		ID:                  req.ID,
		Status:              string(req.Status),
		DeletionType:        string(req.Type),
		Reason:              req.Reason,
		CooldownHours:       req.CooldownHours,
		ScheduledDeletionAt: models.Timestamp(req.ScheduledDeletionAt),
		ConfirmedAt:         models.TimestampPtr(req.ConfirmedAt),
		CreatedAt:           models.Timestamp(req.CreatedAt),
	})
}

// CancelDeletionRequest handles POST /v1/gdpr/deletion-requests/cancel.
func (h *DeletionHandler) CancelDeletionRequest(w http.ResponseWriter, r *http.Request) {
	var input models.DeletionCancel
	if msg, fields := decodeJSON(w, r, &input, true); msg != "" {
		response.BadRequest(w, r, msg, fields)
		return
	}

	userID := GetUserID(r.Context())
	err := h.service.Cancel(r.Context(), deletion.CancelInput{
		UserID:    userID,
		Token:     input.ConfirmationToken,
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		switch {
		case errors.Is(err, deletion.ErrNoActiveRequest), errors.Is(err, deletion.ErrNotOwner):
			response.BadRequest(w, r, "no active deletion request found", nil)
		case errors.Is(err, deletion.ErrTerminal):
			response.Conflict(w, r, "deletion has already been carried out")
		default:
			h.logger.Error().Err(err).Str("user_id", userID).Msg("cancel deletion request failed")
			response.InternalError(w, r, "failed to cancel deletion request")
		}
		return
	}

	response.JSON(w, r, http.StatusOK, models.Success{Success: true})
}

// ConfirmDeletion handles POST /v1/gdpr/deletion-confirmations. The token is
// the only credential, so the route sits outside bearer auth.
func (h *DeletionHandler) ConfirmDeletion(w http.ResponseWriter, r *http.Request) {
	var input models.DeletionConfirm
	if msg, fields := decodeJSON(w, r, &input, false); msg != "" {
		response.BadRequest(w, r, msg, fields)
		return
	}

	confirmed, err := h.service.Confirm(r.Context(), input.ConfirmationToken)
	if err != nil {
		if errors.Is(err, deletion.ErrInvalidToken) {
			h.logger.Warn().Str("ip", clientIP(r)).Msg("deletion confirmation with invalid token")
			response.BadRequest(w, r, "invalid or expired confirmation token", nil)
			return
		}
		h.logger.Error().Err(err).Msg("confirm deletion failed")
		response.InternalError(w, r, "failed to confirm deletion")
		return
	}

	response.JSON(w, r, http.StatusOK, models.DeletionConfirmed{
		UserID:                confirmed.UserID,
		ScheduledDeletionAt:   models.Timestamp(confirmed.ScheduledDeletionAt),
		SubscriptionCancelled: confirmed.SubscriptionCancelled,
	})
}
