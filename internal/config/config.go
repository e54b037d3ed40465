// Package config loads runtime configuration for the API and worker binaries.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/letterforge/letterforge/internal/database"
)

// Config is the full application configuration.
type Config struct {
	App      AppConfig      `koanf:"app"`
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Auth     AuthConfig     `koanf:"auth"`
	Stripe   StripeConfig   `koanf:"stripe"`
	Email    EmailConfig    `koanf:"email"`
	CRM      CRMConfig      `koanf:"crm"`
	Deletion DeletionConfig `koanf:"deletion"`
	Quota    QuotaConfig    `koanf:"quota"`
	Admin    AdminConfig    `koanf:"admin"`
	Worker   WorkerConfig   `koanf:"worker"`
	Otel     OtelConfig     `koanf:"otel"`
	Log      LogConfig      `koanf:"log"`
}

type AppConfig struct {
	Name        string `koanf:"name"`
	Environment string `koanf:"environment"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RequireTLS      bool          `koanf:"require_tls"`
}

type DatabaseConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	User            string        `koanf:"user"`
	Password        string        `koanf:"password"`
	Name            string        `koanf:"name"`
	SSLMode         string        `koanf:"ssl_mode"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	Migrate         bool          `koanf:"migrate"`
}

type RedisConfig struct {
	URL          string `koanf:"url"`
	PoolSize     int    `koanf:"pool_size"`
	MinIdleConns int    `koanf:"min_idle_conns"`
}

type AuthConfig struct {
	JWTSigningKey  string `koanf:"jwt_signing_key"`
	JWTIssuer      string `koanf:"jwt_issuer"`
	JWTAudience    string `koanf:"jwt_audience"`
	IdentityURL    string `koanf:"identity_url"`
	IdentityAPIKey string `koanf:"identity_api_key"`
}

type StripeConfig struct {
	SecretKey      string        `koanf:"secret_key"`
	WebhookSecret  string        `koanf:"webhook_secret"`
	WebhookTimeout time.Duration `koanf:"webhook_timeout"`
	ProPriceIDs    []string      `koanf:"pro_price_ids"`
}

type EmailConfig struct {
	BaseURL     string `koanf:"base_url"`
	APIKey      string `koanf:"api_key"`
	FromAddress string `koanf:"from_address"`
}

type CRMConfig struct {
	BaseURL string `koanf:"base_url"`
	APIKey  string `koanf:"api_key"`
	ListID  string `koanf:"list_id"`
}

type DeletionConfig struct {
	CooldownHours      int           `koanf:"cooldown_hours"`
	PendingExpiry      time.Duration `koanf:"pending_expiry"`
	RequestsPerHour    int           `koanf:"requests_per_hour"`
	ConfirmURL         string        `koanf:"confirm_url"`
	ExecuteConcurrency int           `koanf:"execute_concurrency"`
	ExecuteTimeout     time.Duration `koanf:"execute_timeout"`
}

type QuotaConfig struct {
	FreeLimit int           `koanf:"free_limit"`
	ProLimit  int           `koanf:"pro_limit"`
	Window    time.Duration `koanf:"window"`
}

type AdminConfig struct {
	Secret string `koanf:"secret"`
}

type WorkerConfig struct {
	Port             int           `koanf:"port"`
	ExecuteSchedule  string        `koanf:"execute_schedule"`
	CleanupSchedule  string        `koanf:"cleanup_schedule"`
	PubSubProjectID  string        `koanf:"pubsub_project_id"`
	PubSubSubscriber string        `koanf:"pubsub_subscription"`
	JobTimeout       time.Duration `koanf:"job_timeout"`
}

type OtelConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Insecure    bool    `koanf:"insecure"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

// DatabaseConnection converts the database section into the pool config.
func (c *Config) DatabaseConnection() database.Config {
	return database.Config{
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Database:        c.Database.Name,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Load reads defaults, then the optional YAML file at path, then the
// environment. Later sources override earlier ones.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaults() map[string]any {
	return map[string]any{
		"app.name":        "letterforge",
		"app.environment": "development",

		"server.port":             8080,
		"server.read_timeout":     "15s",
		"server.write_timeout":    "30s",
		"server.idle_timeout":     "60s",
		"server.shutdown_timeout": "30s",
		"server.require_tls":      false,

		"database.host":              "localhost",
		"database.port":              5432,
		"database.user":              "letterforge",
		"database.password":          "localdev",
		"database.name":              "letterforge",
		"database.ssl_mode":          "disable",
		"database.max_open_conns":    10,
		"database.max_idle_conns":    2,
		"database.conn_max_lifetime": "5m",
		"database.migrate":           false,

		"redis.url":            "redis://localhost:6379/0",
		"redis.pool_size":      10,
		"redis.min_idle_conns": 2,

		"auth.jwt_issuer":   "https://auth.letterforge.app",
		"auth.jwt_audience": "authenticated",

		"stripe.webhook_timeout": "25s",

		"email.from_address": "LetterForge <hello@letterforge.app>",

		"deletion.cooldown_hours":      48,
		"deletion.pending_expiry":      "168h",
		"deletion.requests_per_hour":   3,
		"deletion.confirm_url":         "https://letterforge.app/account/delete/confirm",
		"deletion.execute_concurrency": 2,
		"deletion.execute_timeout":     "2m",

		"quota.free_limit": 10,
		"quota.pro_limit":  100,
		"quota.window":     "720h",

		"worker.port":             8081,
		"worker.execute_schedule": "*/15 * * * *",
		"worker.cleanup_schedule": "0 3 * * *",
		"worker.job_timeout":      "10m",

		"otel.enabled":     false,
		"otel.endpoint":    "localhost:4317",
		"otel.insecure":    true,
		"otel.sample_ratio": 1.0,

		"log.level": "info",
	}
}

var envKeys = map[string]string{
	"APP_ENV":                     "app.environment",
	"APP_PORT":                    "server.port",
	"REQUIRE_TLS":                 "server.require_tls",
	"DB_HOST":                     "database.host",
	"DB_PORT":                     "database.port",
	"DB_USER":                     "database.user",
	"DB_PASSWORD":                 "database.password",
	"DB_NAME":                     "database.name",
	"DB_SSL_MODE":                 "database.ssl_mode",
	"DB_MAX_OPEN_CONNS":           "database.max_open_conns",
	"DB_MAX_IDLE_CONNS":           "database.max_idle_conns",
	"DB_CONN_MAX_LIFETIME":        "database.conn_max_lifetime",
	"DB_MIGRATE":                  "database.migrate",
	"REDIS_URL":                   "redis.url",
	"JWT_SIGNING_KEY":             "auth.jwt_signing_key",
	"JWT_ISSUER":                  "auth.jwt_issuer",
	"JWT_AUDIENCE":                "auth.jwt_audience",
	"IDENTITY_URL":                "auth.identity_url",
	"IDENTITY_API_KEY":            "auth.identity_api_key",
	"STRIPE_SECRET_KEY":           "stripe.secret_key",
	"STRIPE_WEBHOOK_SECRET":       "stripe.webhook_secret",
	"STRIPE_WEBHOOK_TIMEOUT":      "stripe.webhook_timeout",
	"EMAIL_API_URL":               "email.base_url",
	"EMAIL_API_KEY":               "email.api_key",
	"EMAIL_FROM":                  "email.from_address",
	"CRM_API_URL":                 "crm.base_url",
	"CRM_API_KEY":                 "crm.api_key",
	"CRM_LIST_ID":                 "crm.list_id",
	"DELETION_COOLDOWN_HOURS":     "deletion.cooldown_hours",
	"DELETION_REQUESTS_PER_HOUR":  "deletion.requests_per_hour",
	"DELETION_CONFIRM_URL":        "deletion.confirm_url",
	"QUOTA_FREE_LIMIT":            "quota.free_limit",
	"QUOTA_PRO_LIMIT":             "quota.pro_limit",
	"ADMIN_SECRET":                "admin.secret",
	"WORKER_PORT":                 "worker.port",
	"WORKER_EXECUTE_SCHEDULE":     "worker.execute_schedule",
	"WORKER_CLEANUP_SCHEDULE":     "worker.cleanup_schedule",
	"PUBSUB_PROJECT_ID":           "worker.pubsub_project_id",
	"PUBSUB_SUBSCRIPTION":         "worker.pubsub_subscription",
	"WORKER_JOB_TIMEOUT":          "worker.job_timeout",
	"OTEL_ENABLED":                "otel.enabled",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "otel.endpoint",
	"OTEL_EXPORTER_OTLP_INSECURE": "otel.insecure",
	"OTEL_TRACES_SAMPLER_ARG":     "otel.sample_ratio",
	"LOG_LEVEL":                   "log.level",
}

// envKey maps an environment variable to its config key. Unmapped variables
// return "" and are ignored by koanf.
func envKey(s string) string {
	return envKeys[s]
}

func (c *Config) validate() error {
	var errs []error
	if c.Deletion.CooldownHours <= 0 {
		errs = append(errs, errors.New("deletion.cooldown_hours must be positive"))
	}
	if c.Deletion.RequestsPerHour <= 0 {
		errs = append(errs, errors.New("deletion.requests_per_hour must be positive"))
	}
	if c.Quota.FreeLimit <= 0 || c.Quota.ProLimit <= 0 {
		errs = append(errs, errors.New("quota limits must be positive"))
	}
	if c.IsProduction() {
		if c.Auth.JWTSigningKey == "" {
			errs = append(errs, errors.New("JWT_SIGNING_KEY is required in production"))
		}
		if c.Stripe.WebhookSecret == "" {
			errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required in production"))
		}
		if c.Admin.Secret == "" {
			errs = append(errs, errors.New("ADMIN_SECRET is required in production"))
		}
	}
	return errors.Join(errs...)
}
