package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/letterforge/letterforge/internal/api/models"
	"github.com/letterforge/letterforge/internal/api/response"
	"github.com/letterforge/letterforge/internal/billing"
)

const maxWebhookBytes = 1 << 20

// WebhookIngestor verifies and applies one billing event.
type WebhookIngestor interface {
	Ingest(ctx context.Context, payload []byte, signature string) (*billing.IngestResult, error)
}

// WebhookHandler handles billing provider webhooks.
type WebhookHandler struct {
	ingestor WebhookIngestor
	logger   zerolog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(ingestor WebhookIngestor, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{ingestor: ingestor, logger: logger}
}

// ReceiveBillingEvent handles POST /v1/webhooks/billing. The raw body is
// required for signature verification.
func (h *WebhookHandler) ReceiveBillingEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.BadRequest(w, r, "payload too large", nil)
			return
		}
		response.BadRequest(w, r, "unable to read payload", nil)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		response.BadRequest(w, r, "missing signature header", nil)
		return
	}

	result, err := h.ingestor.Ingest(r.Context(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidSignature):
			h.logger.Warn().Str("ip", clientIP(r)).Msg("webhook signature verification failed")
			response.BadRequest(w, r, "invalid signature", nil)
		case errors.Is(err, billing.ErrMalformedEvent):
			response.BadRequest(w, r, "malformed event object", nil)
		case errors.Is(err, billing.ErrProcessingTimeout):
			h.logger.Error().Err(err).Msg("webhook processing timed out")
			response.GatewayTimeout(w, r, "webhook processing timed out")
		default:
			h.logger.Error().Err(err).Msg("webhook processing failed")
			response.InternalError(w, r, "webhook processing failed")
		}
		return
	}

	response.JSON(w, r, http.StatusOK, models.WebhookReceived{
		Received:         true,
		EventType:        result.EventType,
		EventID:          result.EventID,
		ProcessingTimeMS: result.ProcessingTime.Milliseconds(),
		Duplicate:        result.Duplicate,
	})
}
