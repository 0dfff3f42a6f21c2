package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	mendErrors "github.com/randalmurphal/mend/internal/errors"
	"github.com/randalmurphal/mend/internal/orchestrator"
	"github.com/randalmurphal/mend/internal/state"
)

// newRunCmd creates the run command
func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Perform the next improvement",
		Long: `Run one orchestration step: analyze the current phase if needed, pick
the next work item, apply it behind validation and commit it.

A step that finds its phase exhausted moves on to the next phase in the same
invocation, so one run commits at most one change.

Exit codes:
  0  a change was committed
  1  nothing was committed (item failed, no-op, or interrupted)
  2  fatal error (configuration, credentials, prompts, git)
  3  the workflow is already complete
  4  another mend process holds the repository

Examples:
  mend run                  # One step
  mend run --loop 5         # Up to five steps
  mend run --until-done     # Keep stepping until every phase is exhausted`,
		RunE: func(cmd *cobra.Command, args []string) error {
			loop, _ := cmd.Flags().GetInt("loop")
			untilDone, _ := cmd.Flags().GetBool("until-done")
			if loop < 1 {
				return fmt.Errorf("--loop must be at least 1")
			}
			return runMutating(cmd, func(ctx context.Context, a *app) error {
				return runSteps(ctx, cmd, a, loop, untilDone)
			})
		},
	}

	cmd.Flags().Int("loop", 1, "number of steps to run")
	cmd.Flags().Bool("until-done", false, "run until the workflow is complete")
	return cmd
}

// runSteps drives the orchestrator. Any committed change makes the command
// succeed; otherwise a finished workflow exits 3 and anything else exits 1.
func runSteps(ctx context.Context, cmd *cobra.Command, a *app, loop int, untilDone bool) error {
	st, err := state.Load(a.root, time.Now())
	if err != nil {
		return err
	}
	if st.Done() {
		return mendErrors.ErrWorkflowDone()
	}

	comps, err := a.components()
	if err != nil {
		return err
	}
	opts := []orchestrator.Option{
		orchestrator.WithLogger(a.logger),
		orchestrator.WithComponents(comps),
	}
	if j := a.openJournal(); j != nil {
		opts = append(opts, orchestrator.WithRecorder(j))
	}
	o := orchestrator.New(a.root, a.cfg, a.git(), opts...)

	committed, steps := 0, 0
	for untilDone || steps < loop {
		if ctx.Err() != nil {
			a.logger.Warn("interrupted", "steps", steps)
			break
		}
		changed, err := o.RunSingleImprovement(ctx)
		steps++
		if err != nil {
			return err
		}
		if changed {
			committed++
		}

		st, err = o.Status()
		if err != nil {
			return err
		}
		if st.Done() {
			break
		}
	}

	if !quiet && !jsonOut {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d step(s), %d change(s) committed, phase %s\n", steps, committed, st.CurrentPhase)
	}
	if jsonOut {
		_ = writeJSON(cmd.OutOrStdout(), map[string]any{
			"steps":     steps,
			"committed": committed,
			"phase":     st.CurrentPhase,
		})
	}

	switch {
	case committed > 0:
		return nil
	case st.Done():
		return mendErrors.ErrWorkflowDone()
	default:
		return errNothingMerged
	}
}
