package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/mend/internal/finalize"
)

// newFinalizeCmd creates the finalize command
func newFinalizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Commit the change left by 'mend execute'",
		Long: `Commit exactly the files recorded by the last successful 'mend execute'
and clear the record. Nothing else in the working tree is staged.

With --pr the commit goes on a new branch (git.branch_prefix plus a
timestamp) that is pushed to git.remote and opened as a pull request
against git.base_branch on GitHub or GitLab.

Examples:
  mend finalize
  mend finalize --message "Tighten error handling in parser"
  mend finalize --pr`,
		RunE: func(cmd *cobra.Command, args []string) error {
			message, _ := cmd.Flags().GetString("message")
			pr, _ := cmd.Flags().GetBool("pr")

			return runMutating(cmd, func(ctx context.Context, a *app) error {
				f := finalize.New(a.root, a.git(), a.cfg, finalize.WithLogger(a.logger))
				res, err := f.Finalize(ctx, finalize.Options{Message: message, PR: pr})
				if res != nil {
					printFinalize(a, res)
				}
				return err
			})
		},
	}

	cmd.Flags().StringP("message", "m", "", "commit subject (default is generated from the work item)")
	cmd.Flags().Bool("pr", false, "commit on a new branch, push it and open a pull request")
	return cmd
}

func printFinalize(a *app, res *finalize.Result) {
	if jsonOut {
		_ = writeJSON(a.out, map[string]any{
			"item":    res.Record.ItemID,
			"message": res.Message,
			"sha":     res.SHA,
			"branch":  res.Branch,
			"pr_url":  res.PRURL,
		})
		return
	}
	if quiet {
		return
	}
	st := defaultStyles()
	_, _ = fmt.Fprintf(a.out, "%s %s %s\n", st.Success.Render("committed"), res.SHA, res.Message)
	if res.Branch != "" {
		_, _ = fmt.Fprintf(a.out, "  branch %s\n", res.Branch)
	}
	if res.PRURL != "" {
		_, _ = fmt.Fprintf(a.out, "  pull request %s\n", res.PRURL)
	}
}
