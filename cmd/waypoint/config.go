package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/expressions"
)

// Config holds all waypoint configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DBPath        string            `json:"db_path"`
	NoArchive     bool              `json:"no_archive"`
	LogLevel      string            `json:"log_level"`
	LogFormat     string            `json:"log_format"`
	Mode          string            `json:"mode"`
	MaxSteps      int               `json:"max_steps"`
	ConditionMode string            `json:"condition_mode"`
	BackoffCapMs  int64             `json:"backoff_cap_ms"`
	FailureRate   int               `json:"failure_rate"`
	AgentEndpoint string            `json:"agent_endpoint"`
	AgentTimeout  string            `json:"agent_timeout"`
	AgentHeaders  map[string]string `json:"agent_headers,omitempty"`
	Breaker       bool              `json:"breaker"`
	Concurrency   int               `json:"concurrency"`
	MetricsAddr   string            `json:"metrics_addr"`
}

func defaultConfig(dir string) Config {
	return Config{
		DBPath:        filepath.Join(dir, "waypoint.db"),
		LogLevel:      "warn",
		LogFormat:     "text",
		Mode:          string(engine.ModeSim),
		MaxSteps:      engine.DefaultMaxSteps,
		ConditionMode: string(expressions.ModeStrict),
		AgentTimeout:  "60s",
		Breaker:       true,
		Concurrency:   4,
	}
}

func waypointDir() string {
	if v := os.Getenv("WAYPOINT_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".waypoint"
	}
	return filepath.Join(home, ".waypoint")
}

func settingsPath(dir string) string {
	return filepath.Join(dir, "settings.json")
}

// loadConfig layers settings.json and environment over the defaults. A
// missing settings file is fine; a malformed one is an error.
func loadConfig(dir string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig(dir)

	// Layer 2: settings.json.
	data, err := os.ReadFile(settingsPath(dir))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", settingsPath(dir), err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return cfg, fmt.Errorf("read %s: %w", settingsPath(dir), err)
	}

	// Layer 3: env vars override.
	if v := getenv("WAYPOINT_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("WAYPOINT_NO_ARCHIVE"); v != "" {
		cfg.NoArchive = v == "true" || v == "1"
	}
	if v := getenv("WAYPOINT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("WAYPOINT_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := getenv("WAYPOINT_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := getenv("WAYPOINT_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSteps = n
		}
	}
	if v := getenv("WAYPOINT_CONDITION_MODE"); v != "" {
		cfg.ConditionMode = v
	}
	if v := getenv("WAYPOINT_BACKOFF_CAP_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.BackoffCapMs = n
		}
	}
	if v := getenv("WAYPOINT_FAILURE_RATE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FailureRate = n
		}
	}
	if v := getenv("WAYPOINT_AGENT_ENDPOINT"); v != "" {
		cfg.AgentEndpoint = v
	}
	if v := getenv("WAYPOINT_AGENT_TIMEOUT"); v != "" {
		cfg.AgentTimeout = v
	}
	if v := getenv("WAYPOINT_AGENT_TOKEN"); v != "" {
		if cfg.AgentHeaders == nil {
			cfg.AgentHeaders = map[string]string{}
		}
		cfg.AgentHeaders["Authorization"] = "Bearer " + v
	}
	if v := getenv("WAYPOINT_BREAKER"); v != "" {
		cfg.Breaker = v == "true" || v == "1"
	}
	if v := getenv("WAYPOINT_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Concurrency = n
		}
	}
	if v := getenv("WAYPOINT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch engine.Mode(c.Mode) {
	case engine.ModeSim, engine.ModeReal:
	default:
		return fmt.Errorf("mode must be sim or real, got %q", c.Mode)
	}
	switch expressions.Mode(c.ConditionMode) {
	case expressions.ModeStrict, expressions.ModeLegacy:
	default:
		return fmt.Errorf("condition_mode must be strict or legacy, got %q", c.ConditionMode)
	}
	if c.MaxSteps < 1 {
		return fmt.Errorf("max_steps must be at least 1, got %d", c.MaxSteps)
	}
	if c.FailureRate < 0 || c.FailureRate > 100 {
		return fmt.Errorf("failure_rate must be within 0..100, got %d", c.FailureRate)
	}
	if _, err := c.agentTimeout(); err != nil {
		return err
	}
	return nil
}

func (c Config) agentTimeout() (time.Duration, error) {
	if c.AgentTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.AgentTimeout)
	if err != nil {
		return 0, fmt.Errorf("agent_timeout: %w", err)
	}
	return d, nil
}

// bindFlags registers the persistent flags that override configuration.
func bindFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.String("db-path", "", "run archive database path (default: ~/.waypoint/waypoint.db)")
	f.Bool("no-archive", false, "do not open the run archive")
	f.String("log-level", "", "log level: debug, info, warn, error")
	f.String("log-format", "", "log format: text or json")
	f.String("mode", "", "agent backend: sim or real")
	f.Int("max-steps", 0, "step cap per run")
	f.String("condition-mode", "", "rule condition evaluator: strict or legacy")
	f.Int("failure-rate", 0, "percentage of simulated first attempts that fail")
	f.String("agent-endpoint", "", "HTTP endpoint serving live agents")
	f.String("agent-timeout", "", "timeout per live agent call")
}

// applyFlags copies explicitly set flags onto cfg.
func applyFlags(cmd *cobra.Command, cfg *Config) error {
	f := cmd.Flags()
	if f.Changed("db-path") {
		cfg.DBPath, _ = f.GetString("db-path")
	}
	if f.Changed("no-archive") {
		cfg.NoArchive, _ = f.GetBool("no-archive")
	}
	if f.Changed("log-level") {
		cfg.LogLevel, _ = f.GetString("log-level")
	}
	if f.Changed("log-format") {
		cfg.LogFormat, _ = f.GetString("log-format")
	}
	if f.Changed("mode") {
		cfg.Mode, _ = f.GetString("mode")
	}
	if f.Changed("max-steps") {
		cfg.MaxSteps, _ = f.GetInt("max-steps")
	}
	if f.Changed("condition-mode") {
		cfg.ConditionMode, _ = f.GetString("condition-mode")
	}
	if f.Changed("failure-rate") {
		cfg.FailureRate, _ = f.GetInt("failure-rate")
	}
	if f.Changed("agent-endpoint") {
		cfg.AgentEndpoint, _ = f.GetString("agent-endpoint")
	}
	if f.Changed("agent-timeout") {
		cfg.AgentTimeout, _ = f.GetString("agent-timeout")
	}
	return cfg.validate()
}

// resolveConfig loads configuration for a command invocation.
func resolveConfig(cmd *cobra.Command) (Config, error) {
	cfg, err := loadConfig(waypointDir(), os.Getenv)
	if err != nil {
		return cfg, err
	}
	return cfg, applyFlags(cmd, &cfg)
}
