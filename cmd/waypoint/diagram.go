package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/diagram"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

func newDiagramCommand() *cobra.Command {
	var (
		runID  string
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "diagram [workflow-file]",
		Short: "Draw a workflow, or an archived run with its trace overlay",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && runID == "" {
				return fmt.Errorf("a workflow file or --run is required")
			}
			var imgFormat diagram.ImageFormat
			if format != "mermaid" {
				var err error
				if imgFormat, err = diagram.ParseImageFormat(format); err != nil {
					return err
				}
				if imgFormat == diagram.ImagePNG && out == "" {
					return fmt.Errorf("png output needs --out")
				}
			}

			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr(), appOptions{archive: runID != ""})
			if err != nil {
				return err
			}
			defer a.Close()

			var def *schema.WorkflowDefinition
			if len(args) == 1 {
				if def, err = schema.LoadDefinition(args[0]); err != nil {
					return err
				}
			}
			var trace *schema.RunResult
			if runID != "" {
				if a.store == nil {
					return fmt.Errorf("--run needs the run archive")
				}
				run, err := a.store.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				if trace, err = run.Decode(); err != nil {
					return err
				}
				if def == nil {
					if def, err = run.DecodeDefinition(); err != nil {
						return err
					}
					if def == nil {
						return fmt.Errorf("run %s was archived without its definition; pass the workflow file", runID)
					}
				}
			}

			model, err := diagram.Build(def, trace)
			if err != nil {
				return err
			}

			var data []byte
			if format == "mermaid" {
				data = []byte(diagram.RenderMermaid(model))
			} else if data, err = diagram.RenderImage(ctx, model, imgFormat); err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), out, data)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "archived run id to overlay")
	cmd.Flags().StringVar(&format, "format", "mermaid", "mermaid, png, svg or dot")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	return cmd
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" {
		_, err := stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func newCoverageCommand() *cobra.Command {
	var (
		runs   int
		seed   int64
		vars   []string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "coverage <workflow-file>",
		Short: "Run a workflow across many seeds and report rule coverage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if runs < 1 {
				return fmt.Errorf("--runs must be at least 1")
			}
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr(), appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			def, err := a.loadAndValidate(args[0], cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			overrides, err := parseVars(vars)
			if err != nil {
				return err
			}
			if len(overrides) > 0 {
				def = engine.WithVariables(def, overrides)
			}
			exec, err := a.executor(def)
			if err != nil {
				return err
			}

			base := a.runConfig()
			base.Seed = &seed
			base.DisableSleep = true
			results := exec.RunBatch(ctx, def, engine.SeedConfigs(base, runs), cfg.Concurrency)

			traces := make([]*schema.RunResult, 0, len(results))
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
				}
				if r.Result != nil {
					traces = append(traces, r.Result)
				}
			}
			report := diagram.Coverage(def, traces...)

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printCoverage(w, report)
			if failed > 0 {
				fmt.Fprintf(w, "%d of %d run(s) failed\n", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&runs, "runs", "n", 20, "number of runs")
	cmd.Flags().Int64Var(&seed, "seed", 0, "first seed; run i uses seed+i")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "initial variable override key=value (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func printCoverage(w io.Writer, r *diagram.CoverageReport) {
	fmt.Fprintf(w, "%d run(s), %d/%d rule(s) taken (%.0f%%)\n", r.Runs, r.RulesTaken, len(r.Rules), r.RuleRatio*100)
	for _, rc := range r.Rules {
		fmt.Fprintf(w, "  %-20s %s -> %s  evaluated=%d true=%d taken=%d\n", rc.RuleID, rc.From, rc.To, rc.Evaluated, rc.True, rc.Taken)
	}
	for _, ac := range r.Agents {
		fmt.Fprintf(w, "  agent %-14s visits=%d errors=%d\n", ac.AgentID, ac.Visits, ac.Errors)
	}
	if len(r.NeverTaken) > 0 {
		fmt.Fprintf(w, "never taken: %v\n", r.NeverTaken)
	}
	if len(r.Unvisited) > 0 {
		fmt.Fprintf(w, "unvisited: %v\n", r.Unvisited)
	}
}
