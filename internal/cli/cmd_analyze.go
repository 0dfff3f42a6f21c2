package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/mend/internal/analyzer"
	"github.com/randalmurphal/mend/internal/ledger"
)

// newAnalyzeCmd creates the analyze command
func newAnalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze <category>",
		Short: "Propose work items for one ledger",
		Long: `Ask the model for new work items in a category and add them to its
ledger. Duplicates of existing items are dropped.

Categories: refactoring, performance, clippy, features.
The clippy category is driven by the structured lint output instead of the
model's own reading of the source.

Examples:
  mend analyze refactoring
  mend analyze clippy --max-items 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := ledger.ParseCategory(args[0])
			if err != nil {
				return err
			}
			maxItems, _ := cmd.Flags().GetInt("max-items")

			return runMutating(cmd, func(ctx context.Context, a *app) error {
				comps, err := a.components()
				if err != nil {
					return err
				}
				opts := []analyzer.Option{
					analyzer.WithLogger(a.logger),
					analyzer.WithRunner(comps.Runner),
					analyzer.WithProject(comps.Project),
					analyzer.WithLedgerOptions(a.ledgerOptions()),
				}
				if maxItems > 0 {
					opts = append(opts, analyzer.WithMaxItems(maxItems))
				}
				added, err := analyzer.New(a.root, cat, a.cfg, comps.Generator, comps.Renderer, opts...).Analyze(ctx)
				if err != nil {
					return err
				}

				if jsonOut {
					return writeJSON(a.out, map[string]any{"category": cat, "added": added})
				}
				if !quiet {
					_, _ = fmt.Fprintf(a.out, "Added %d item(s) to %s\n", added, ledger.MarkdownPath(".", cat))
				}
				return nil
			})
		},
	}

	cmd.Flags().Int("max-items", 0, "cap on new items (0 uses the category default)")
	return cmd
}
