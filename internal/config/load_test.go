package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, "willow.db", cfg.Database.Path)
	assert.Equal(t, 1000, cfg.Worker.PollIntervalMs)
	assert.Equal(t, 5, cfg.Worker.BatchSize)
	assert.Equal(t, 3, cfg.Worker.MaxAttempts)
	assert.Equal(t, 300, cfg.Worker.StaleTimeoutSeconds)
	assert.Equal(t, 60, cfg.Worker.StaleRecoveryIntervalSeconds)
	assert.Equal(t, 30, cfg.Worker.ShutdownTimeoutSeconds)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("WILLOW_SERVER_PORT", "9090")
	t.Setenv("WILLOW_SERVER_LOG_LEVEL", "debug")
	t.Setenv("WILLOW_DATABASE_PATH", "/var/lib/willow/data.db")
	t.Setenv("WILLOW_WORKER_BATCH_SIZE", "20")
	t.Setenv("WILLOW_WORKER_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, "/var/lib/willow/data.db", cfg.Database.Path)
	assert.Equal(t, 20, cfg.Worker.BatchSize)
	assert.Equal(t, 5, cfg.Worker.MaxAttempts)

	// Untouched keys keep their defaults.
	assert.Equal(t, 1000, cfg.Worker.PollIntervalMs)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad log level", "WILLOW_SERVER_LOG_LEVEL", "verbose"},
		{"port out of range", "WILLOW_SERVER_PORT", "70000"},
		{"zero batch size", "WILLOW_WORKER_BATCH_SIZE", "0"},
		{"negative attempts", "WILLOW_WORKER_MAX_ATTEMPTS", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
