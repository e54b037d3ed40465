package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/letterforge/letterforge/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 48, cfg.Deletion.CooldownHours)
	assert.Equal(t, 3, cfg.Deletion.RequestsPerHour)
	assert.Equal(t, 7*24*time.Hour, cfg.Deletion.PendingExpiry)
	assert.Equal(t, 25*time.Second, cfg.Stripe.WebhookTimeout)
	assert.Equal(t, 10, cfg.Quota.FreeLimit)
	assert.Equal(t, 30*24*time.Hour, cfg.Quota.Window)
	assert.Equal(t, 10*time.Minute, cfg.Worker.JobTimeout)
	assert.Equal(t, "*/15 * * * *", cfg.Worker.ExecuteSchedule)
	assert.InDelta(t, 1.0, cfg.Otel.SampleRatio, 0)
	assert.False(t, cfg.Server.RequireTLS)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "deletion:\n  cooldown_hours: 24\nquota:\n  free_limit: 5\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	t.Setenv("QUOTA_FREE_LIMIT", "7")
	t.Setenv("DB_HOST", "db.internal")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 24, cfg.Deletion.CooldownHours)
	assert.Equal(t, 7, cfg.Quota.FreeLimit)
	assert.Equal(t, "db.internal", cfg.DatabaseConnection().Host)
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SIGNING_KEY")
	assert.Contains(t, err.Error(), "ADMIN_SECRET")
}
