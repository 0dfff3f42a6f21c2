package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/mend/internal/ledger"
)

// newRecoverCmd creates the recover command
func newRecoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Return interrupted items to not-started",
		Long: `Reset every in-progress item in every ledger back to not-started.

An item stays in progress when a run is killed mid-execution. 'mend run'
recovers the current phase's ledger on its own; this command covers every
ledger at once, for example before running 'mend execute' by hand.

A stale run lock left by a dead process is taken over automatically.

Examples:
  mend recover`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMutating(cmd, func(ctx context.Context, a *app) error {
				recovered, err := recoverLedgers(a)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(a.out, recovered)
				}
				if quiet {
					return nil
				}
				total := 0
				for _, cat := range ledger.AllCategories {
					if n := recovered[cat]; n > 0 {
						_, _ = fmt.Fprintf(a.out, "%s: %d item(s) reset\n", cat, n)
						total += n
					}
				}
				if total == 0 {
					_, _ = fmt.Fprintln(a.out, "No items were in progress.")
				}
				return nil
			})
		},
	}
	return cmd
}

// recoverLedgers resets in-progress items and saves only the ledgers that
// changed.
func recoverLedgers(a *app) (map[ledger.Category]int, error) {
	out := make(map[ledger.Category]int)
	for _, cat := range ledger.AllCategories {
		l, err := ledger.Load(a.root, cat, a.ledgerOptions())
		if err != nil {
			return nil, err
		}
		n := l.ResetInProgress()
		if n == 0 {
			continue
		}
		if err := l.Save(); err != nil {
			return nil, err
		}
		a.logger.Info("recovered in-progress items", "category", cat, "count", n)
		out[cat] = n
	}
	return out, nil
}
