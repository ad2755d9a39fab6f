package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen/credits-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "credits.db", cfg.DBPath)
	assert.Equal(t, int64(20), cfg.InitialAllowance)
	assert.Equal(t, 5*time.Second, cfg.BusyTimeout)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("CREDITS_DB_PATH", "/var/data/credits.db")
	t.Setenv("CREDITS_INITIAL_ALLOWANCE", "100")
	t.Setenv("CREDITS_BUSY_TIMEOUT_MS", "250")
	t.Setenv("CREDITS_PORT", "9090")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/data/credits.db", cfg.DBPath)
	assert.Equal(t, int64(100), cfg.InitialAllowance)
	assert.Equal(t, 250*time.Millisecond, cfg.BusyTimeout)
	assert.Equal(t, 9090, cfg.Port)
}
