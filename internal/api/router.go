// Package api provides the HTTP API for LetterForge.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/letterforge/letterforge/internal/api/handler"
	"github.com/letterforge/letterforge/internal/api/middleware"
	"github.com/letterforge/letterforge/internal/featureflags"
	"github.com/letterforge/letterforge/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version    string
	BuildTime  string
	Logger     zerolog.Logger
	Metrics    *middleware.Metrics
	RequireTLS bool

	// TracerProvider defaults to the global provider.
	TracerProvider trace.TracerProvider

	Tokens          middleware.TokenValidator
	Deletions       handler.DeletionService
	DeletionPerHour int
	Operator        handler.DeletionOperator
	Quota           handler.QuotaService
	Webhooks        handler.WebhookIngestor
	FeatureFlags    *featureflags.Service
	AdminSecret     string

	// Checks are pinged by the readiness and status endpoints.
	Checks    map[string]handler.Pinger
	Providers *resilience.Registry
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Tracing(cfg.TracerProvider))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger, "/v1/ops/health", "/v1/ops/ready"))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.ContentTypeJSON)

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Checks:    cfg.Checks,
		Providers: cfg.Providers,
		Flags:     cfg.FeatureFlags,
	})
	deletionHandler := handler.NewDeletionHandler(cfg.Deletions, cfg.DeletionPerHour, cfg.Logger)
	adminHandler := handler.NewAdminHandler(cfg.Operator, cfg.AdminSecret, cfg.Logger)
	flagsHandler := handler.NewFeatureFlagsHandler(cfg.FeatureFlags, cfg.AdminSecret, cfg.Logger)
	quotaHandler := handler.NewQuotaHandler(cfg.Quota, cfg.Logger)
	webhookHandler := handler.NewWebhookHandler(cfg.Webhooks, cfg.Logger)

	authMiddleware := middleware.Auth(cfg.Tokens)
	userRateLimit := middleware.RateLimitByUser(middleware.StandardRateLimit)
	adminRateLimit := middleware.RateLimitByIP(middleware.AdminRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		// The signed raw body is read as-is, whatever its declared type.
		r.Post("/webhooks/billing", webhookHandler.ReceiveBillingEvent)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireJSON)

			r.Route("/gdpr", func(r chi.Router) {
				r.With(middleware.RateLimitByIP(middleware.ConfirmRateLimit)).
					Post("/deletion-confirmations", deletionHandler.ConfirmDeletion)

				r.Route("/deletion-requests", func(r chi.Router) {
					r.Use(authMiddleware)
					r.Use(userRateLimit)
					r.Post("/", deletionHandler.CreateDeletionRequest)
					r.Get("/current", deletionHandler.GetCurrentDeletionRequest)
					r.Post("/cancel", deletionHandler.CancelDeletionRequest)
				})
			})

			r.Route("/me", func(r chi.Router) {
				r.Use(authMiddleware)
				r.Use(userRateLimit)
				r.Get("/quota", quotaHandler.GetQuota)
				r.Post("/quota/consume", quotaHandler.ConsumeQuota)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(adminRateLimit)
				r.Post("/deletions", adminHandler.ExecuteDeletions)
				r.Route("/feature-flags", func(r chi.Router) {
					r.Get("/", flagsHandler.ListFeatureFlags)
					r.Put("/", flagsHandler.UpsertFeatureFlags)
					r.Post("/invalidate", flagsHandler.InvalidateCache)
				})
			})

			r.Route("/maintenance", func(r chi.Router) {
				r.Use(adminRateLimit)
				r.Post("/cleanup", adminHandler.Cleanup)
				r.Get("/status", adminHandler.MaintenanceStatus)
			})
		})
	})

	return r
}
