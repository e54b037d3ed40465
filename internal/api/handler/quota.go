package handler

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/letterforge/letterforge/internal/api/models"
	"github.com/letterforge/letterforge/internal/api/response"
	"github.com/letterforge/letterforge/internal/quota"
)

// QuotaService reads and consumes generation quota.
type QuotaService interface {
	CheckAndMaybeReset(ctx context.Context, userID string) (*quota.Record, error)
	Increment(ctx context.Context, userID string) (bool, *quota.Record, error)
}

// QuotaHandler handles the caller's generation quota.
type QuotaHandler struct {
	service QuotaService
	logger  zerolog.Logger
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(service QuotaService, logger zerolog.Logger) *QuotaHandler {
	return &QuotaHandler{service: service, logger: logger}
}

// GetQuota handles GET /v1/me/quota.
func (h *QuotaHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	rec, err := h.service.CheckAndMaybeReset(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("load quota failed")
		response.InternalError(w, r, "failed to load quota")
		return
	}
	response.JSON(w, r, http.StatusOK, quotaModel(rec))
}

// ConsumeQuota handles POST /v1/me/quota/consume. An exhausted window is a
// normal outcome reported with granted=false.
func (h *QuotaHandler) ConsumeQuota(w http.ResponseWriter, r *http.Request) {
	userID := GetUserID(r.Context())

	granted, rec, err := h.service.Increment(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("consume quota failed")
		response.InternalError(w, r, "failed to consume quota")
		return
	}
	response.JSON(w, r, http.StatusOK, models.QuotaConsumed{Granted: granted, Quota: quotaModel(rec)})
}

func quotaModel(rec *quota.Record) models.Quota {
	return models.Quota{
		LettersGenerated:    rec.LettersGenerated,
		MaxLetters:          rec.MaxLetters,
		Remaining:           rec.Remaining(),
		CanGenerate:         rec.CanGenerate(),
		Tier:                rec.Tier,
		ResetDate:           models.TimestampPtr(rec.ResetDate),
		FirstGenerationDate: models.TimestampPtr(rec.FirstGenerationDate),
	}
}
