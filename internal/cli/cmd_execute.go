package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	mendErrors "github.com/randalmurphal/mend/internal/errors"
	"github.com/randalmurphal/mend/internal/executor"
	"github.com/randalmurphal/mend/internal/ledger"
	"github.com/randalmurphal/mend/internal/orchestrator"
	"github.com/randalmurphal/mend/internal/state"
)

// newExecuteCmd creates the execute command
func newExecuteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "execute <category> <item-id|next>",
		Short: "Apply one work item without committing",
		Long: `Apply a single work item from a ledger behind build and test
validation. A successful change is left in the working tree and recorded for
'mend finalize'; a failed one is rolled back.

Use "next" to pick the highest-priority eligible item.

Examples:
  mend execute refactoring REF-003
  mend execute clippy next
  mend execute features next && mend finalize`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := ledger.ParseCategory(args[0])
			if err != nil {
				return err
			}
			return runMutating(cmd, func(ctx context.Context, a *app) error {
				return executeItem(ctx, a, cat, args[1])
			})
		},
	}
	return cmd
}

func executeItem(ctx context.Context, a *app, cat ledger.Category, id string) error {
	l, err := ledger.Load(a.root, cat, a.ledgerOptions())
	if err != nil {
		return err
	}
	if id == "next" {
		it, reason := l.NextItem()
		if it == nil {
			if !quiet {
				_, _ = fmt.Fprintf(a.out, "No eligible item in %s (%s)\n", cat, reason)
			}
			return errNothingMerged
		}
		id = it.ID
	} else if _, err := l.Get(id); err != nil {
		return mendErrors.ErrItemNotFound(string(cat), id)
	}

	comps, err := a.components()
	if err != nil {
		return err
	}
	ex := orchestrator.NewExecutor(a.root, cat, state.PhaseFor(cat), a.cfg, comps, a.git(), a.ledgerOptions(), a.logger)
	out, err := ex.Execute(ctx, id)
	if err != nil {
		return err
	}

	if jsonOut {
		if err := writeJSON(a.out, outcomeJSON(out)); err != nil {
			return err
		}
	} else if !quiet {
		printOutcome(a, out)
	}
	if !out.Succeeded() {
		return errNothingMerged
	}
	return nil
}

func outcomeJSON(out executor.Outcome) map[string]any {
	return map[string]any{
		"item":     out.ItemID,
		"title":    out.Title,
		"category": out.Category,
		"result":   out.Result,
		"reason":   out.Reason,
		"files":    out.Files,
	}
}

func printOutcome(a *app, out executor.Outcome) {
	st := defaultStyles()
	switch out.Result {
	case executor.Success:
		_, _ = fmt.Fprintf(a.out, "%s %s %s\n", st.Success.Render("applied"), out.ItemID, out.Title)
		for _, f := range out.Files {
			_, _ = fmt.Fprintf(a.out, "  %s\n", f)
		}
		_, _ = fmt.Fprintln(a.out, st.Subtle.Render("Run 'mend finalize' to commit."))
	case executor.NoOp:
		_, _ = fmt.Fprintf(a.out, "%s %s: %s\n", st.Warn.Render("no-op"), out.ItemID, out.Reason)
	default:
		_, _ = fmt.Fprintf(a.out, "%s %s: %s\n", st.Error.Render("failed"), out.ItemID, out.Reason)
	}
}
