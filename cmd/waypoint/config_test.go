package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := loadConfig(dir, envFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "waypoint.db"), cfg.DBPath)
	assert.Equal(t, "sim", cfg.Mode)
	assert.Equal(t, "strict", cfg.ConditionMode)
	assert.Equal(t, 10, cfg.MaxSteps)
	assert.True(t, cfg.Breaker)
	assert.Equal(t, 4, cfg.Concurrency)
}

func TestLoadConfig_Layers(t *testing.T) {
	dir := t.TempDir()
	settings := `{"mode": "real", "max_steps": 5, "log_level": "debug", "agent_endpoint": "http://agents.local/invoke"}`
	require.NoError(t, os.WriteFile(settingsPath(dir), []byte(settings), 0o644))

	cfg, err := loadConfig(dir, envFrom(map[string]string{
		"WAYPOINT_MAX_STEPS":   "7",
		"WAYPOINT_AGENT_TOKEN": "s3cret",
		"WAYPOINT_BREAKER":     "0",
	}))
	require.NoError(t, err)

	assert.Equal(t, "real", cfg.Mode, "from settings")
	assert.Equal(t, "debug", cfg.LogLevel, "from settings")
	assert.Equal(t, 7, cfg.MaxSteps, "env beats settings")
	assert.Equal(t, "Bearer s3cret", cfg.AgentHeaders["Authorization"])
	assert.False(t, cfg.Breaker)
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Run("malformed settings", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(settingsPath(dir), []byte("{"), 0o644))
		_, err := loadConfig(dir, envFrom(nil))
		assert.Error(t, err)
	})

	tests := []struct {
		name string
		env  map[string]string
	}{
		{"mode", map[string]string{"WAYPOINT_MODE": "dry"}},
		{"condition mode", map[string]string{"WAYPOINT_CONDITION_MODE": "fuzzy"}},
		{"failure rate", map[string]string{"WAYPOINT_FAILURE_RATE": "150"}},
		{"agent timeout", map[string]string{"WAYPOINT_AGENT_TIMEOUT": "soon"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadConfig(t.TempDir(), envFrom(tc.env))
			assert.Error(t, err)
		})
	}
}

func TestApplyFlags(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--mode", "real", "--max-steps", "3", "--no-archive"}))

	cfg := defaultConfig(t.TempDir())
	cfg.LogLevel = "error"
	require.NoError(t, applyFlags(cmd, &cfg))

	assert.Equal(t, "real", cfg.Mode)
	assert.Equal(t, 3, cfg.MaxSteps)
	assert.True(t, cfg.NoArchive)
	assert.Equal(t, "error", cfg.LogLevel, "unset flags keep lower layers")
}

func TestApplyFlags_Validates(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--max-steps", "0"}))

	cfg := defaultConfig(t.TempDir())
	assert.Error(t, applyFlags(cmd, &cfg))
}
