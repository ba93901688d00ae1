package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DISPATCH_APP_ENV", "dev")
	t.Setenv("DISPATCH_JWT_SECRET", "secret")
	t.Setenv("DISPATCH_JWT_ISSUER", "dispatchboard")
}

func TestLoadBuildsDSNFromLegacyParts(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DISPATCH_DB_HOST", "db.internal")
	t.Setenv("DISPATCH_DB_USER", "dispatch")
	t.Setenv("DISPATCH_DB_PASSWORD", "pw")
	t.Setenv("DISPATCH_DB_NAME", "board")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://dispatch:pw@db.internal:5432/board?sslmode=disable", cfg.DB.DSN)
	assert.True(t, cfg.App.IsDev())
}

func TestLoadRequiresDatabaseSettings(t *testing.T) {
	setRequiredEnv(t)
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), EnvDBDSN)
}

func TestLoadDeadlineDefaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DISPATCH_DB_DSN", "postgres://localhost/board")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.Deadlines.ScanInterval)
	assert.Equal(t, 24*time.Hour, cfg.Deadlines.Lookahead)
	assert.Equal(t, "dispatch:activity", cfg.Fanout.Channel)
}
