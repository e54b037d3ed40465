// Package app assembles the services shared by the API and worker binaries.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/letterforge/letterforge/internal/account"
	"github.com/letterforge/letterforge/internal/api/handler"
	"github.com/letterforge/letterforge/internal/auth"
	"github.com/letterforge/letterforge/internal/billing"
	"github.com/letterforge/letterforge/internal/config"
	"github.com/letterforge/letterforge/internal/database"
	"github.com/letterforge/letterforge/internal/deletion"
	"github.com/letterforge/letterforge/internal/featureflags"
	"github.com/letterforge/letterforge/internal/notify"
	"github.com/letterforge/letterforge/internal/provider/resilience"
	"github.com/letterforge/letterforge/internal/quota"
	"github.com/letterforge/letterforge/internal/ratelimit"
)

// App holds the wired services.
type App struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Providers *resilience.Registry

	Tokens     *auth.TokenValidator
	Flags      *featureflags.Service
	Dispatcher *notify.Dispatcher
	Deletions  *deletion.Service
	Quota      *quota.Service
	Ingestor   *billing.Ingestor

	logger zerolog.Logger
}

// New connects to Postgres and Redis and builds every service.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	pool, err := database.Connect(ctx, cfg.DatabaseConnection())
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	logger.Info().
		Str("host", cfg.Database.Host).
		Int("port", cfg.Database.Port).
		Str("database", cfg.Database.Name).
		Msg("database connected")

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info().Msg("database schema applied")
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = cfg.Redis.PoolSize
	opts.MinIdleConns = cfg.Redis.MinIdleConns
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		// Rate limits fall back to per-process buckets until Redis returns.
		logger.Warn().Err(err).Msg("redis unavailable at startup")
	}

	a := &App{Pool: pool, Redis: rdb, Providers: resilience.NewRegistry(), logger: logger}
	a.build(cfg, logger)
	return a, nil
}

func (a *App) build(cfg *config.Config, logger zerolog.Logger) {
	a.Tokens = auth.NewTokenValidator(auth.TokenConfig{
		SigningKey: cfg.Auth.JWTSigningKey,
		Issuer:     cfg.Auth.JWTIssuer,
		Audience:   cfg.Auth.JWTAudience,
	})

	a.Flags = featureflags.NewService(featureflags.ServiceConfig{
		Repository: featureflags.NewPostgresRepository(a.Pool),
		Logger:     logger.With().Str("component", "featureflags").Logger(),
	})

	dispatcherCfg := notify.DispatcherConfig{
		Deduper:  notify.NewRedisDeduper(a.Redis),
		Switches: a.Flags,
		Logger:   logger.With().Str("component", "notify").Logger(),
	}
	if cfg.Email.BaseURL != "" {
		dispatcherCfg.Mailer = notify.NewEmailClient(notify.EmailClientConfig{
			BaseURL:     cfg.Email.BaseURL,
			APIKey:      cfg.Email.APIKey,
			FromAddress: cfg.Email.FromAddress,
			Client:      resilience.NewClient(resilience.ClientConfig{Name: "email", Registry: a.Providers}),
		})
	} else {
		logger.Warn().Msg("email provider not configured, lifecycle emails disabled")
	}
	if cfg.CRM.BaseURL != "" {
		dispatcherCfg.Contacts = notify.NewCRMClient(notify.CRMClientConfig{
			BaseURL: cfg.CRM.BaseURL,
			APIKey:  cfg.CRM.APIKey,
			ListID:  cfg.CRM.ListID,
			Client:  resilience.NewClient(resilience.ClientConfig{Name: "crm", Registry: a.Providers}),
		})
	}
	a.Dispatcher = notify.NewDispatcher(dispatcherCfg)

	accounts := account.NewPostgresRepository(a.Pool)
	billingRepo := billing.NewPostgresRepository(a.Pool)
	billingLog := logger.With().Str("component", "billing").Logger()

	gateway := billing.NewStripeGateway(billing.StripeConfig{
		SecretKey: cfg.Stripe.SecretKey,
		Registry:  a.Providers,
		Logger:    billingLog,
	})
	calculator := billing.NewCalculator(billing.CalculatorConfig{
		Gateway:    gateway,
		Repository: billingRepo,
		Logger:     billingLog,
	})
	reconciler := billing.NewReconciler(billing.ReconcilerConfig{
		Resolver:   billing.NewResolver(accounts, gateway, billingLog),
		Repository: billingRepo,
		Notifier:   a.Dispatcher,
		Logger:     billingLog,
	})
	a.Ingestor = billing.NewIngestor(billing.IngestorConfig{
		Verifier: billing.NewStripeVerifier(cfg.Stripe.WebhookSecret),
		Handlers: reconciler.Handlers(),
		Events:   billingRepo,
		Timeout:  cfg.Stripe.WebhookTimeout,
		Logger:   billingLog,
	})

	deletionLog := logger.With().Str("component", "deletion").Logger()
	a.Deletions = deletion.NewService(deletion.ServiceConfig{
		Repository: deletion.NewPostgresRepository(a.Pool),
		Accounts:   accounts,
		Passwords: auth.NewIdentityClient(auth.IdentityClientConfig{
			BaseURL: cfg.Auth.IdentityURL,
			APIKey:  cfg.Auth.IdentityAPIKey,
			Client:  resilience.NewClient(resilience.ClientConfig{Name: "identity", Registry: a.Providers}),
		}),
		Limiter:            ratelimit.NewDeletionLimiter(a.Redis, cfg.Deletion.RequestsPerHour, deletionLog),
		Billing:            calculator,
		Eraser:             deletion.NewPostgresEraser(a.Pool),
		Notifier:           a.Dispatcher,
		Flags:              a.Flags,
		Logger:             deletionLog,
		CooldownHours:      cfg.Deletion.CooldownHours,
		PendingExpiry:      cfg.Deletion.PendingExpiry,
		ConfirmURL:         cfg.Deletion.ConfirmURL,
		ExecuteConcurrency: cfg.Deletion.ExecuteConcurrency,
		ExecuteTimeout:     cfg.Deletion.ExecuteTimeout,
	})

	a.Quota = quota.NewService(quota.ServiceConfig{
		Repository: quota.NewPostgresRepository(a.Pool),
		Tiers:      billing.NewTierResolver(billingRepo, cfg.Stripe.ProPriceIDs),
		Logger:     logger.With().Str("component", "quota").Logger(),
		Limits: map[string]int{
			quota.TierFree: cfg.Quota.FreeLimit,
			quota.TierPro:  cfg.Quota.ProLimit,
		},
		Window: cfg.Quota.Window,
	})
}

// Checks returns the dependencies probed by readiness.
func (a *App) Checks() map[string]handler.Pinger {
	return map[string]handler.Pinger{
		"postgres": handler.PingFunc(a.Pool.Ping),
		"redis": handler.PingFunc(func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		}),
	}
}

// Close waits for detached notifications, then releases connections.
func (a *App) Close(ctx context.Context) {
	if err := a.Dispatcher.Wait(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("notifications still in flight at shutdown")
	}
	if err := a.Redis.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("failed to close redis client")
	}
	a.Pool.Close()
}
