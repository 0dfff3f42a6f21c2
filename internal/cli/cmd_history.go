package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/mend/internal/journal"
)

// newHistoryCmd creates the history command
func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs from the journal",
		Long: `List recent 'mend run' invocations recorded in the run journal
(journal.path, default .mend/history.db), newest first.

Examples:
  mend history
  mend history --limit 50
  mend history --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")

			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.cfg.Journal.Enabled {
				_, _ = fmt.Fprintln(a.out, "The run journal is disabled (journal.enabled: false).")
				return nil
			}
			j, err := journal.Open(a.cfg.Journal.PathIn(a.root))
			if err != nil {
				return err
			}
			defer func() { _ = j.Close() }()

			runs, err := j.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(a.out, runs)
			}
			if len(runs) == 0 {
				_, _ = fmt.Fprintln(a.out, "No runs recorded yet.")
				return nil
			}
			printHistory(a, runs)
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "number of runs to show (0 for all)")
	return cmd
}

func printHistory(a *app, runs []journal.Run) {
	st := defaultStyles()
	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tPHASE\tITEM\tOUTCOME\tDURATION\tDETAIL")
	for _, r := range runs {
		duration := "-"
		if r.FinishedAt != nil {
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		outcome := r.Outcome
		switch r.Outcome {
		case journal.OutcomeCommitted:
			outcome = st.Success.Render(outcome)
		case journal.OutcomeFailed, journal.OutcomeError:
			outcome = st.Error.Render(outcome)
		}
		item := r.ItemID
		if item == "" {
			item = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.Phase, item, outcome, duration, r.Detail)
	}
	_ = tw.Flush()
}
