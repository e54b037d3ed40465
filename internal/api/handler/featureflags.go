package handler

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/letterforge/letterforge/internal/api/models"
	"github.com/letterforge/letterforge/internal/api/response"
	"github.com/letterforge/letterforge/internal/featureflags"
)

// FeatureFlagsHandler handles feature flag endpoints.
type FeatureFlagsHandler struct {
	service *featureflags.Service
	secret  string
	logger  zerolog.Logger
}

// NewFeatureFlagsHandler creates a new FeatureFlagsHandler.
func NewFeatureFlagsHandler(service *featureflags.Service, secret string, logger zerolog.Logger) *FeatureFlagsHandler {
	return &FeatureFlagsHandler{service: service, secret: secret, logger: logger}
}

func (h *FeatureFlagsHandler) authorized(w http.ResponseWriter, r *http.Request) bool {
	if secretMatches(h.secret, r.Header.Get(adminSecretHeader)) {
		return true
	}
	h.logger.Warn().Str("ip", clientIP(r)).Msg("feature flag call with invalid admin secret")
	response.Forbidden(w, r, "invalid admin secret")
	return false
}

// ListFeatureFlags handles GET /v1/admin/feature-flags.
func (h *FeatureFlagsHandler) ListFeatureFlags(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	response.JSON(w, r, http.StatusOK, h.list(r))
}

// UpsertFeatureFlags handles PUT /v1/admin/feature-flags.
func (h *FeatureFlagsHandler) UpsertFeatureFlags(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}

	var input models.FeatureFlagUpdateRequest
	if msg, fields := decodeJSON(w, r, &input, false); msg != "" {
		response.BadRequest(w, r, msg, fields)
		return
	}

	flags := make([]*featureflags.Flag, 0, len(input.Updates))
	var invalid []models.FieldError
	for i, u := range input.Updates {
		field := "updates[" + strconv.Itoa(i) + "]"
		if !featureflags.IsKnown(u.Key) {
			invalid = append(invalid, models.FieldError{
				Field:   field + ".key",
				Message: "unknown feature flag " + u.Key,
				Code:    "unknown",
			})
			continue
		}
		// false is a valid value; only null is rejected.
		if u.Value == nil {
			invalid = append(invalid, models.FieldError{
				Field:   field + ".value",
				Message: "is required",
				Code:    "required",
			})
			continue
		}
		flags = append(flags, &featureflags.Flag{Key: u.Key, Value: u.Value})
	}
	if len(invalid) > 0 {
		response.BadRequest(w, r, "validation failed", invalid)
		return
	}

	if err := h.service.SetFlags(r.Context(), flags); err != nil {
		h.logger.Error().Err(err).Msg("failed to update feature flags")
		response.InternalError(w, r, "failed to update feature flags")
		return
	}

	keys := make([]string, len(flags))
	for i, f := range flags {
		keys[i] = f.Key
	}
	h.logger.Info().Strs("flags", keys).Str("reason", input.Reason).Msg("feature flags updated")

	response.JSON(w, r, http.StatusOK, h.list(r))
}

// InvalidateCache handles POST /v1/admin/feature-flags/invalidate.
func (h *FeatureFlagsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(w, r) {
		return
	}
	h.service.InvalidateCache()
	response.NoContent(w, r)
}

func (h *FeatureFlagsHandler) list(r *http.Request) models.FeatureFlagList {
	all := h.service.GetAllFlags(r.Context())
	items := make([]models.FeatureFlag, 0, len(all))
	for _, f := range all {
		item := models.FeatureFlag{Key: f.Key, Value: f.Value}
		if !f.UpdatedAt.IsZero() {
			ts := models.Timestamp(f.UpdatedAt)
			item.UpdatedAt = &ts
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return models.FeatureFlagList{Items: items}
}
