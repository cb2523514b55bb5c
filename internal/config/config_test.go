package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("MONGO_URL", "mongodb://localhost:27017")
	t.Setenv("DB_NAME", "rugs_test")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://backend.rugs.fun", cfg.UpstreamURL)
	assert.Equal(t, "0.0.0.0:8001", cfg.ListenAddress)
	assert.Equal(t, time.Second, cfg.BackoffMin)
	assert.Equal(t, 5*time.Second, cfg.BackoffMax)
	assert.Equal(t, 0, cfg.MaxReconnects)
	assert.Equal(t, 4, cfg.PersistWorkers)
	assert.Equal(t, 10, cfg.SnapshotTTLDays)
	assert.Equal(t, 30, cfg.EventTTLDays)
	assert.Equal(t, 0, cfg.TicksTTLDays)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, 2, cfg.VerifyWorkers)
}

func TestLoadRequiresMongoURL(t *testing.T) {
	t.Setenv("MONGO_URL", "")
	t.Setenv("DB_NAME", "rugs_test")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresDBName(t *testing.T) {
	t.Setenv("MONGO_URL", "mongodb://localhost:27017")
	t.Setenv("DB_NAME", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RUGS_UPSTREAM_URL", "https://example.test?frontend-version=1.0")
	t.Setenv("UPSTREAM_BACKOFF_MIN_MS", "250")
	t.Setenv("UPSTREAM_BACKOFF_MAX_MS", "2000")
	t.Setenv("PERSIST_WORKERS", "8")
	t.Setenv("CORS_ORIGINS", "https://a.test, https://b.test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://example.test?frontend-version=1.0", cfg.UpstreamURL)
	assert.Equal(t, 250*time.Millisecond, cfg.BackoffMin)
	assert.Equal(t, 2*time.Second, cfg.BackoffMax)
	assert.Equal(t, 8, cfg.PersistWorkers)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.CORSOrigins)
}

func TestLoadRejectsBadBackoff(t *testing.T) {
	setRequired(t)
	t.Setenv("UPSTREAM_BACKOFF_MIN_MS", "5000")
	t.Setenv("UPSTREAM_BACKOFF_MAX_MS", "1000")
	_, err := Load()
	assert.Error(t, err)
}

func TestSplitOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, splitOrigins(""))
	assert.Equal(t, []string{"*"}, splitOrigins(" , "))
	assert.Equal(t, []string{"https://a.test"}, splitOrigins("https://a.test"))
}
