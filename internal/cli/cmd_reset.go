package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/mend/internal/apply"
	"github.com/randalmurphal/mend/internal/ledger"
	"github.com/randalmurphal/mend/internal/state"
	"github.com/randalmurphal/mend/internal/util"
)

// newResetCmd creates the reset command
func newResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Start the workflow over from the refactor phase",
		Long: `Delete the orchestrator state so the next run starts a fresh pass at
the refactor phase with a new analysis.

With --ledgers the TODO ledgers, their Markdown summaries and any pending
change record are deleted too. The working tree and git history are never
touched.

Examples:
  mend reset                    # Reset with confirmation
  mend reset --ledgers --force  # Also forget every work item, no prompt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ledgers, _ := cmd.Flags().GetBool("ledgers")
			force, _ := cmd.Flags().GetBool("force")

			return runMutating(cmd, func(ctx context.Context, a *app) error {
				question := "Reset the workflow to the refactor phase?"
				if ledgers {
					question = "Reset the workflow and delete every ledger?"
				}
				if !confirm(cmd, force, question) {
					return nil
				}
				return resetWorkflow(a, ledgers)
			})
		},
	}

	cmd.Flags().Bool("ledgers", false, "also delete the ledgers and the change record")
	cmd.Flags().BoolP("force", "f", false, "skip confirmation")
	return cmd
}

func resetWorkflow(a *app, ledgers bool) error {
	if err := state.Remove(a.root); err != nil {
		return err
	}
	a.logger.Info("orchestrator state removed")

	if ledgers {
		for _, cat := range ledger.AllCategories {
			for _, path := range []string{ledger.JSONPath(a.root, cat), ledger.MarkdownPath(a.root, cat), ledger.PrunedPath(a.root, cat)} {
				if err := util.RemoveIfExists(path); err != nil {
					return err
				}
			}
		}
		if err := apply.ClearChange(a.root); err != nil {
			return err
		}
		a.logger.Info("ledgers removed")
	}

	if !quiet {
		_, _ = fmt.Fprintln(a.out, "Workflow reset. The next 'mend run' starts at the refactor phase.")
	}
	return nil
}
