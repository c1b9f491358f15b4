package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/pkg/schema"
)

func newValidateCommand() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate <workflow-file>...",
		Short: "Validate workflow definitions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr(), appOptions{})
			if err != nil {
				return err
			}
			v, err := a.validator()
			if err != nil {
				return err
			}

			invalid := 0
			for _, path := range args {
				def, err := schema.LoadDefinition(path)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					invalid++
					continue
				}
				res := v.Validate(def)
				if !res.Valid() {
					invalid++
				}
				if err := printValidation(cmd.OutOrStdout(), path, res, asJSON); err != nil {
					return err
				}
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d definition(s) invalid", invalid, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	return cmd
}

func printValidation(w io.Writer, path string, res *schema.ValidationResult, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(map[string]any{
			"path":     path,
			"valid":    res.Valid(),
			"errors":   res.Errors,
			"warnings": res.Warnings,
		})
	}
	status := "ok"
	if !res.Valid() {
		status = "invalid"
	}
	fmt.Fprintf(w, "%s: %s (%d error(s), %d warning(s))\n", path, status, len(res.Errors), len(res.Warnings))
	for _, issue := range res.Issues() {
		fmt.Fprintf(w, "  %-7s %s\n", issue.Severity, issue)
	}
	return nil
}

func newEvalCommand() *cobra.Command {
	var (
		scopeJSON string
		scopeFile string
		mode      string
	)
	cmd := &cobra.Command{
		Use:   "eval <condition>",
		Short: "Evaluate a rule condition against a scope",
		Long:  "Evaluate a rule condition against a JSON scope with context and output keys, and report how the legacy matcher sees the same text.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m := expressions.Mode(mode)
			if m != expressions.ModeStrict && m != expressions.ModeLegacy {
				return fmt.Errorf("--mode must be strict or legacy, got %q", mode)
			}
			scope, err := readScope(scopeJSON, scopeFile)
			if err != nil {
				return err
			}

			outcome, err := expressions.NewEvaluator(m).EvaluateRule("eval", args[0], scope)
			if err != nil {
				return err
			}
			verdict := expressions.LegacyCompat(args[0])

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "result: %t\n", outcome.Result)
			if outcome.DecidedBy != "" {
				fmt.Fprintf(w, "decided by: %s\n", outcome.DecidedBy)
			}
			switch {
			case verdict.SilentlyFalse():
				fmt.Fprintf(w, "legacy: unrecognized, evaluates to false (%v)\n", verdict.StrictErr)
			case verdict.LegacyDiverges:
				fmt.Fprintln(w, "legacy: diverges, the legacy matcher has no logical operators")
			case verdict.StrictErr != nil:
				fmt.Fprintf(w, "strict: %v\n", verdict.StrictErr)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scopeJSON, "scope", "", `scope as JSON, e.g. {"output":{"category":"billing"}}`)
	cmd.Flags().StringVar(&scopeFile, "scope-file", "", "file holding the scope as JSON")
	cmd.Flags().StringVar(&mode, "mode", string(expressions.ModeStrict), "evaluator: strict or legacy")
	cmd.MarkFlagsMutuallyExclusive("scope", "scope-file")
	return cmd
}

func readScope(inline, file string) (expressions.Scope, error) {
	data := []byte(inline)
	if file != "" {
		var err error
		if data, err = os.ReadFile(file); err != nil {
			return nil, err
		}
	}
	scope := expressions.Scope{}
	if len(data) == 0 {
		return scope, nil
	}
	if err := json.Unmarshal(data, &scope); err != nil {
		return nil, fmt.Errorf("parse scope: %w", err)
	}
	return scope, nil
}
