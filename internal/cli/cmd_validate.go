package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/mend/internal/gate"
	"github.com/randalmurphal/mend/internal/toolchain"
)

// newValidateCmd creates the validate command
func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run the build, test and lint steps",
		Long: `Run the configured validation steps in order, stopping at the first
failure. With --fix, a failing tree is handed to the model for repair up to
workflow.fix_attempts times; unsuccessful repairs are rolled back.

Examples:
  mend validate
  mend validate --fix`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fix, _ := cmd.Flags().GetBool("fix")
			return runMutating(cmd, func(ctx context.Context, a *app) error {
				return validateTree(ctx, a, fix)
			})
		},
	}
	cmd.Flags().Bool("fix", false, "ask the model to repair a failing tree")
	return cmd
}

func validateTree(ctx context.Context, a *app, fix bool) error {
	opts := []gate.Option{
		gate.WithLogger(a.logger),
		gate.WithTimeout(a.cfg.Toolchain.Timeout),
		gate.WithDiagnosticsDir(a.cfg.Log.DiagnosticsDirIn(a.root)),
	}
	var runner toolchain.Runner = toolchain.NewShellRunner(toolchain.WithLogger(a.logger))
	if fix {
		comps, err := a.components()
		if err != nil {
			return err
		}
		runner = comps.Runner
		opts = append(opts, gate.WithFixer(comps.Generator, comps.Renderer), gate.WithProject(comps.Project))
	}
	g := gate.New(a.root, runner, gate.StepsFromConfig(a.cfg.Toolchain), opts...)
	st := defaultStyles()

	if !fix {
		report, ok := g.RunValidation(ctx)
		if jsonOut {
			_ = writeJSON(a.out, reportJSON(report))
		} else if !quiet {
			for _, s := range report.Steps {
				mark := st.Success.Render("ok  ")
				if !s.Passed {
					mark = st.Error.Render("FAIL")
				}
				_, _ = fmt.Fprintf(a.out, "%s %-6s %s\n", mark, s.Name, st.Subtle.Render(s.Duration.Round(time.Millisecond).String()))
			}
			if report.Failed != nil && verbose {
				_, _ = fmt.Fprintln(a.out, report.Failed.Output)
			}
			_, _ = fmt.Fprintln(a.out, report.Summary())
		}
		if !ok {
			return errNothingMerged
		}
		return nil
	}

	if !g.EnsureBuildsOrFix(ctx, gate.StageManual, a.cfg.Workflow.FixAttempts) {
		if err := g.RollbackFixes(); err != nil {
			a.logger.Error("could not roll back repair attempts", "error", err)
		}
		if !quiet {
			_, _ = fmt.Fprintln(a.out, st.Error.Render("validation still failing after repair attempts"))
		}
		return errNothingMerged
	}
	fixed := g.Fixed()
	g.AcceptFixes()
	if jsonOut {
		return writeJSON(a.out, map[string]any{"passed": true, "fixed": fixed})
	}
	if !quiet {
		_, _ = fmt.Fprintln(a.out, st.Success.Render("validation passed"))
		for _, f := range fixed {
			_, _ = fmt.Fprintf(a.out, "  repaired %s\n", f)
		}
	}
	return nil
}

func reportJSON(r *gate.Report) map[string]any {
	steps := make([]map[string]any, 0, len(r.Steps))
	for _, s := range r.Steps {
		steps = append(steps, map[string]any{
			"name":      s.Name,
			"passed":    s.Passed,
			"exit_code": s.ExitCode,
			"timed_out": s.TimedOut,
			"duration":  s.Duration.String(),
		})
	}
	return map[string]any{"passed": r.Passed(), "summary": r.Summary(), "steps": steps}
}
