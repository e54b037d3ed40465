package handler

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/letterforge/letterforge/internal/api/models"
	"github.com/letterforge/letterforge/internal/api/response"
	"github.com/letterforge/letterforge/internal/deletion"
)

// adminSecretHeader carries the shared secret on admin GET and PUT routes.
const adminSecretHeader = "X-Admin-Secret"

// DeletionOperator runs deletions and maintenance on behalf of operators.
type DeletionOperator interface {
	ExecuteDue(ctx context.Context) (*deletion.BatchResult, error)
	ExecuteForUser(ctx context.Context, userID string) error
	CleanupExpired(ctx context.Context) (int, error)
	FullMaintenance(ctx context.Context) (*deletion.MaintenanceResult, error)
	Status(ctx context.Context) (*deletion.StatusCounts, error)
}

// AdminHandler handles shared-secret admin and maintenance endpoints.
type AdminHandler struct {
	operator DeletionOperator
	secret   string
	logger   zerolog.Logger
}

// NewAdminHandler creates a new AdminHandler. An empty secret rejects every
// admin call.
func NewAdminHandler(operator DeletionOperator, secret string, logger zerolog.Logger) *AdminHandler {
	return &AdminHandler{operator: operator, secret: secret, logger: logger}
}

// secretMatches compares in constant time.
func secretMatches(expected, given string) bool {
	if expected == "" || given == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}

func (h *AdminHandler) authorized(w http.ResponseWriter, r *http.Request, given string) bool {
	if secretMatches(h.secret, given) {
		return true
	}
	h.logger.Warn().Str("ip", clientIP(r)).Str("path", r.URL.Path).Msg("admin call with invalid secret")
	response.Forbidden(w, r, "invalid admin secret")
	return false
}

// ExecuteDeletions handles POST /v1/admin/deletions.
func (h *AdminHandler) ExecuteDeletions(w http.ResponseWriter, r *http.Request) {
	var input models.AdminDeletionRequest
	msg, fields := decodeJSON(w, r, &input, false)
	// The secret is checked before field errors so unauthenticated callers
	// learn nothing about the request shape.
	if msg != "" && input.AdminSecret == "" {
		response.Forbidden(w, r, "invalid admin secret")
		return
	}
	if !h.authorized(w, r, input.AdminSecret) {
		return
	}
	if msg != "" {
		response.BadRequest(w, r, msg, fields)
		return
	}

	switch input.Action {
	case models.ActionExecutePendingDeletions:
		result, err := h.operator.ExecuteDue(r.Context())
		if err != nil {
			h.logger.Error().Err(err).Msg("admin batch execution failed")
			response.InternalError(w, r, "failed to execute pending deletions")
			return
		}
		response.JSON(w, r, http.StatusOK, batchResult(result))

	case models.ActionExecuteUserDeletion:
		if err := h.operator.ExecuteForUser(r.Context(), input.UserID); err != nil {
			if errors.Is(err, deletion.ErrNoActiveRequest) {
				response.NotFound(w, r, "no active deletion request for user")
				return
			}
			if errors.Is(err, deletion.ErrNotConfirmed) {
				response.Conflict(w, r, "deletion request has not been confirmed")
				return
			}
			h.logger.Error().Err(err).Str("user_id", input.UserID).Msg("admin user deletion failed")
			response.InternalError(w, r, "failed to execute user deletion")
			return
		}
		response.JSON(w, r, http.StatusOK, models.Success{Success: true})
	}
}

// Cleanup handles POST /v1/maintenance/cleanup.
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var input models.MaintenanceRequest
	msg, fields := decodeJSON(w, r, &input, false)
	if msg != "" && input.AdminSecret == "" {
		response.Forbidden(w, r, "invalid admin secret")
		return
	}
	if !h.authorized(w, r, input.AdminSecret) {
		return
	}
	if msg != "" {
		response.BadRequest(w, r, msg, fields)
		return
	}

	ctx := r.Context()
	switch input.Action {
	case models.ActionCleanupExpiredRequests:
		removed, err := h.operator.CleanupExpired(ctx)
		if err != nil {
			h.logger.Error().Err(err).Msg("cleanup of expired deletion requests failed")
			response.InternalError(w, r, "cleanup failed")
			return
		}
		response.JSON(w, r, http.StatusOK, models.CleanupResult{ExpiredRemoved: removed})

	case models.ActionExecutePendingDeletions:
		result, err := h.operator.ExecuteDue(ctx)
		if err != nil {
			h.logger.Error().Err(err).Msg("maintenance batch execution failed")
			response.InternalError(w, r, "failed to execute pending deletions")
			return
		}
		response.JSON(w, r, http.StatusOK, batchResult(result))

	case models.ActionFullMaintenance:
		result, err := h.operator.FullMaintenance(ctx)
		if err != nil {
			h.logger.Error().Err(err).Msg("full maintenance failed")
			response.InternalError(w, r, "full maintenance failed")
			return
		}
		response.JSON(w, r, http.StatusOK, models.FullMaintenanceResult{
			ExpiredRemoved: result.ExpiredRemoved,
			Execution:      batchResult(result.Execution),
			Status:         statusCounts(&result.Status),
		})
	}
}

// MaintenanceStatus handles GET /v1/maintenance/status.
func (h *AdminHandler) MaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r, r.Header.Get(adminSecretHeader)) {
		return
	}

	counts, err := h.operator.Status(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("maintenance status failed")
		response.InternalError(w, r, "failed to load maintenance status")
		return
	}
	response.JSON(w, r, http.StatusOK, statusCounts(counts))
}

func batchResult(b *deletion.BatchResult) *models.BatchResult {
	if b == nil {
		return nil
	}
	return &models.BatchResult{Executed: b.Executed, Failed: b.Failed, Total: b.Total}
}

func statusCounts(c *deletion.StatusCounts) models.MaintenanceStatus {
	return models.MaintenanceStatus{
		ActiveRequests:   c.ActiveRequests,
		ReadyForDeletion: c.ReadyForDeletion,
		ExpiredRequests:  c.ExpiredRequests,
	}
}
