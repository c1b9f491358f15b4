package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/streaming"
	"github.com/rendis/waypoint/internal/tooling"
	"github.com/rendis/waypoint/pkg/schema"
)

func newRunCommand() *cobra.Command {
	var (
		seed   int64
		vars   []string
		output string
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow and print its trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "json" && output != "summary" {
				return fmt.Errorf("--output must be json or summary, got %q", output)
			}
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, cmd.ErrOrStderr(), appOptions{archive: true})
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
				v, err := a.validator()
				if err != nil {
					return err
				}
				if err := v.ValidateRunInput(def, def.InitialVariables); err != nil {
					return err
				}
			}

			exec, err := a.executor(def)
			if err != nil {
				return err
			}
			rc := a.runConfig()
			if cmd.Flags().Changed("seed") {
				rc.Seed = &seed
			}

			var stopFollow func()
			if follow {
				if stopFollow, err = followEvents(cmd, a.hub); err != nil {
					return err
				}
			}
			result, runErr := exec.Run(ctx, def, rc)
			if stopFollow != nil {
				stopFollow()
			}
			a.archive(ctx, result, def)

			if result != nil {
				if err := printResult(cmd.OutOrStdout(), result, output); err != nil {
					return err
				}
			}
			return runErr
		},
	}
	cmd.Flags().Int64Var(&seed, "seed", 0, "seed for the deterministic simulator")
	cmd.Flags().StringArrayVar(&vars, "var", nil, "initial variable override key=value (repeatable; values are coerced like tool arguments)")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output: json or summary")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "print run events to stderr as they happen")
	return cmd
}

// parseVars turns key=value pairs into variables.
func parseVars(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", p)
		}
		out[k] = tooling.CoerceValue(v)
	}
	return out, nil
}

// followEvents prints every hub event to stderr until the returned stop
// function is called.
func followEvents(cmd *cobra.Command, hub streaming.EventHub) (func(), error) {
	events, cancel, err := hub.Subscribe(cmd.Context(), streaming.EventFilter{})
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	w := cmd.ErrOrStderr()
	go func() {
		defer close(done)
		for ev := range events {
			fmt.Fprintln(w, formatEvent(ev))
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

func formatEvent(ev streaming.StreamEvent) string {
	var b strings.Builder
	b.WriteString(ev.Timestamp.Format("15:04:05.000"))
	b.WriteString(" ")
	b.WriteString(ev.EventType)
	if ev.StepIndex != nil {
		fmt.Fprintf(&b, " step=%d", *ev.StepIndex)
	}
	if ev.AgentID != "" {
		b.WriteString(" agent=" + ev.AgentID)
	}
	if ev.Payload != nil {
		if data, err := json.Marshal(ev.Payload); err == nil {
			b.WriteString(" ")
			b.Write(data)
		}
	}
	return b.String()
}

func printResult(w io.Writer, result *schema.RunResult, output string) error {
	if output == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printSummary(w, result)
	return nil
}

func printSummary(w io.Writer, result *schema.RunResult) {
	fmt.Fprintf(w, "run %s (%s", result.RunID, result.Mode)
	if result.Seed != nil {
		fmt.Fprintf(w, ", seed %d", *result.Seed)
	}
	fmt.Fprintf(w, "): %s", result.Status)
	if result.HaltReason != "" {
		fmt.Fprintf(w, ", %s", result.HaltReason)
	}
	fmt.Fprintln(w)
	for _, step := range result.Steps {
		fmt.Fprintf(w, "  #%d %-16s %-8s attempts=%d", step.Index, step.AgentID, step.Status, len(step.Attempts))
		if step.SelectedRuleID != nil && step.NextAgentID != nil {
			fmt.Fprintf(w, " -> %s via %s", *step.NextAgentID, *step.SelectedRuleID)
		}
		fmt.Fprintln(w)
	}
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warn)
	}
	if result.Error != nil {
		fmt.Fprintf(w, "  error: %s\n", result.Error.Error())
	}
}
