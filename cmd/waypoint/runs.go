package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect archived runs",
	}
	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsEventsCommand())
	cmd.AddCommand(newRunsReplayCommand())
	cmd.AddCommand(newRunsDeleteCommand())
	cmd.AddCommand(newRunsVacuumCommand())
	return cmd
}

// withArchive opens the run archive for the duration of fn.
func withArchive(cmd *cobra.Command, fn func(a *app) error) error {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.NoArchive {
		return fmt.Errorf("the run archive is disabled")
	}
	a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr(), appOptions{archive: true})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func newRunsListCommand() *cobra.Command {
	var (
		status   string
		workflow string
		halt     string
		since    time.Duration
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List archived runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := store.RunFilter{WorkflowName: workflow, HaltReason: halt, Limit: limit}
			if status != "" {
				rs := schema.RunStatus(status)
				filter.Status = &rs
			}
			if since > 0 {
				t := time.Now().Add(-since)
				filter.Since = &t
			}
			return withArchive(cmd, func(a *app) error {
				runs, err := a.store.ListRuns(cmd.Context(), filter)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tWORKFLOW\tMODE\tSTATUS\tHALT\tSTEPS\tCREATED")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
						r.ID, r.WorkflowName, r.Mode, r.Status, r.HaltReason, r.StepCount,
						r.CreatedAt.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status: completed or failed")
	cmd.Flags().StringVar(&workflow, "workflow", "", "filter by workflow name")
	cmd.Flags().StringVar(&halt, "halt-reason", "", "filter by halt reason")
	cmd.Flags().DurationVar(&since, "since", 0, "only runs created within this window, e.g. 24h")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Print an archived run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "json" && output != "summary" {
				return fmt.Errorf("--output must be json or summary, got %q", output)
			}
			return withArchive(cmd, func(a *app) error {
				run, err := a.store.GetRun(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				result, err := run.Decode()
				if err != nil {
					return err
				}
				return printResult(cmd.OutOrStdout(), result, output)
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "summary", "output: json or summary")
	return cmd
}

func newRunsEventsCommand() *cobra.Command {
	var since int64
	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Print the event log of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd, func(a *app) error {
				events, err := a.store.GetEvents(cmd.Context(), args[0], since)
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				for _, ev := range events {
					if err := enc.Encode(ev); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "only events after this sequence number")
	return cmd
}

func newRunsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>...",
		Short: "Delete archived runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd, func(a *app) error {
				for _, id := range args {
					if err := a.store.DeleteRun(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
				}
				return nil
			})
		},
	}
}

func newRunsVacuumCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vacuum",
		Short: "Compact the run archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withArchive(cmd, func(a *app) error {
				return a.store.Vacuum(cmd.Context())
			})
		},
	}
}

func newRunsReplayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <run-id>",
		Short: "Rebuild a run summary from its event log alone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withArchive(cmd, func(a *app) error {
				replay, err := a.events.ReplayEvents(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "run %s: %s, %d step(s)\n", replay.RunID, replay.Status, len(replay.Steps))
				for i := 0; i < len(replay.Steps); i++ {
					sr, ok := replay.Steps[i]
					if !ok {
						continue
					}
					fmt.Fprintf(w, "  #%d %-16s completed=%t failed_attempts=%d tool_failures=%d", sr.Index, sr.AgentID, sr.Completed, sr.FailedAttempts, sr.ToolFailures)
					if sr.SelectedRuleID != "" {
						fmt.Fprintf(w, " rule=%s", sr.SelectedRuleID)
					}
					fmt.Fprintln(w)
				}
				return nil
			})
		},
	}
}
