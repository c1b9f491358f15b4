package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	waypointmcp "github.com/rendis/waypoint/pkg/mcp"
)

func newServeCommand() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve waypoint tools over MCP on stdio",
		Long:  "Serve the waypoint.run, waypoint.validate, waypoint.evaluate, waypoint.diagram and waypoint.query tools over the Model Context Protocol on stdin/stdout. Logs go to stderr.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("metrics-addr") {
				cfg.MetricsAddr = metricsAddr
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr(), appOptions{archive: true, metrics: cfg.MetricsAddr != ""})
			if err != nil {
				return err
			}
			defer a.Close()

			exec, err := a.executor(nil)
			if err != nil {
				return err
			}
			v, err := a.validator()
			if err != nil {
				return err
			}

			if cfg.MetricsAddr != "" {
				stop := a.serveMetrics(ctx, cfg.MetricsAddr)
				defer stop()
			}

			srv := waypointmcp.NewWaypointServer(waypointmcp.ServerDeps{
				Executor:  exec,
				Validator: v,
				Store:     a.store,
				Hub:       a.hub,
				Defaults:  a.runConfig(),
				Version:   version,
				Logger:    a.logger,
			})
			a.logger.InfoContext(ctx, "mcp server listening on stdio", "archive", a.store != nil, "mode", cfg.Mode)
			if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	return cmd
}

// serveMetrics exposes the app registry on addr until the returned stop
// function is called.
func (a *app) serveMetrics(ctx context.Context, addr string) func() {
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	hs := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.ErrorContext(ctx, "metrics server", "addr", addr, "error", err)
		}
	}()
	a.logger.InfoContext(ctx, "serving metrics", "addr", addr)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}
}
