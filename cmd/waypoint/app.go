package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rendis/waypoint/internal/agents"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/internal/metrics"
	"github.com/rendis/waypoint/internal/simulate"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/streaming"
	"github.com/rendis/waypoint/internal/tooling"
	"github.com/rendis/waypoint/internal/validation"
	"github.com/rendis/waypoint/pkg/schema"
)

// app wires the collaborators shared by every command.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     store.Store // nil when the archive is disabled
	events    *store.EventLog
	hub       *streaming.MemoryHub
	collector *metrics.Collector // nil unless metrics are served
	registry  *prometheus.Registry
}

type appOptions struct {
	archive bool
	metrics bool
}

func newApp(ctx context.Context, cfg Config, stderr io.Writer, opts appOptions) (*app, error) {
	a := &app{
		cfg:    cfg,
		logger: newLogger(cfg, stderr),
		hub:    streaming.NewMemoryHub(),
	}

	if opts.archive && !cfg.NoArchive {
		if !strings.Contains(cfg.DBPath, "://") {
			if err := os.MkdirAll(filepath.Dir(strings.TrimPrefix(cfg.DBPath, "file:")), 0o700); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		s, err := store.NewLibSQLStore(libsqlDSN(cfg.DBPath))
		if err != nil {
			return nil, fmt.Errorf("open run archive: %w", err)
		}
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate run archive: %w", err)
		}
		a.store = s
		a.events = store.NewEventLog(s)
	}

	if opts.metrics {
		a.registry = prometheus.NewRegistry()
		a.collector = metrics.NewCollector(a.registry)
	}
	return a, nil
}

// libsqlDSN turns a database path into a libsql file URI.
func libsqlDSN(path string) string {
	if strings.Contains(path, ":") && !filepath.IsAbs(path) {
		return path
	}
	return "file:" + path
}

func newLogger(cfg Config, w io.Writer) *slog.Logger {
	hopts := &slog.HandlerOptions{Level: logging.ParseLevel(cfg.LogLevel)}
	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(w, hopts)
	} else {
		h = slog.NewTextHandler(w, hopts)
	}
	return slog.New(logging.NewCorrelationHandler(h))
}

func (a *app) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

func (a *app) observer() engine.RunObserver {
	obs := engine.MultiObserver{streaming.NewObserver(a.hub, a.logger)}
	if a.events != nil {
		obs = append(obs, engine.NewEventObserver(a.events, a.logger))
	}
	if a.collector != nil {
		obs = append(obs, a.collector)
	}
	return obs
}

// executor builds an Executor with the simulator, the live agent invoker
// when an endpoint is configured, and the HTTP tools of def when it
// defines any.
func (a *app) executor(def *schema.WorkflowDefinition) (*engine.Executor, error) {
	deps := engine.ExecutorDeps{
		Simulator: simulate.New(simulate.Config{FailureRate: a.cfg.FailureRate}),
		Observer:  a.observer(),
		Logger:    a.logger,
	}
	if a.events != nil {
		deps.Events = a.events
	}
	if a.cfg.AgentEndpoint != "" {
		timeout, err := a.cfg.agentTimeout()
		if err != nil {
			return nil, err
		}
		acfg := agents.Config{
			Endpoint: a.cfg.AgentEndpoint,
			Headers:  a.cfg.AgentHeaders,
			Timeout:  timeout,
			Logger:   a.logger,
		}
		if a.cfg.Breaker {
			bc := agents.DefaultBreakerConfig()
			acfg.Breaker = &bc
		}
		inv, err := agents.NewHTTPInvoker(acfg)
		if err != nil {
			return nil, err
		}
		deps.Agents = inv
	}

	exec := engine.NewExecutor(deps)
	if def != nil && len(def.ToolRegistry) > 0 {
		reg := tooling.NewRegistry()
		if err := tooling.NewHTTPInvoker(def.ToolRegistry, tooling.HTTPConfig{}).RegisterAll(reg); err != nil {
			return nil, err
		}
		exec = exec.WithTools(reg)
	}
	return exec, nil
}

func (a *app) runConfig() engine.RunConfig {
	return engine.RunConfig{
		Mode:          engine.Mode(a.cfg.Mode),
		MaxSteps:      a.cfg.MaxSteps,
		BackoffCapMs:  a.cfg.BackoffCapMs,
		ConditionMode: expressions.Mode(a.cfg.ConditionMode),
	}
}

func (a *app) validator() (*validation.WorkflowValidator, error) {
	return validation.NewWorkflowValidator(validation.Options{
		ConditionMode: expressions.Mode(a.cfg.ConditionMode),
	})
}

// archive stores a finished run. Failures are logged, never returned.
func (a *app) archive(ctx context.Context, result *schema.RunResult, def *schema.WorkflowDefinition) {
	if a.store == nil || result == nil {
		return
	}
	run, steps, err := store.NewRunRecord(result, def)
	if err == nil {
		err = a.store.SaveRun(context.WithoutCancel(ctx), run, steps)
	}
	if err != nil {
		a.logger.WarnContext(ctx, "archive run", "run_id", result.RunID, "error", err)
	}
}

// loadAndValidate reads a definition file and runs the validation
// pipeline, printing warnings to stderr.
func (a *app) loadAndValidate(path string, stderr io.Writer) (*schema.WorkflowDefinition, error) {
	def, err := schema.LoadDefinition(path)
	if err != nil {
		return nil, err
	}
	v, err := a.validator()
	if err != nil {
		return nil, err
	}
	res := v.Validate(def)
	for _, issue := range res.Issues() {
		fmt.Fprintf(stderr, "%s: %s\n", issue.Severity, issue)
	}
	if !res.Valid() {
		return nil, fmt.Errorf("%s: %d validation error(s)", path, len(res.Errors))
	}
	return def, nil
}
