// Package cli implements the mend command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	repoDir string
	verbose bool
	quiet   bool
	jsonOut bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mend",
	Short: "Self-improvement agent for a code repository",
	Long: `mend repeatedly asks a language model for one improvement, applies it
behind build and test validation, and commits it or rolls it back.

Work moves through phases, each with its own TODO ledger:
  refactor → cleanup → performance → cleanup → feature → cleanup → done

Every invocation does at most one change and persists its progress, so mend
is safe to run from cron or a CI loop.

Quick start:
  mend init                     Write .mend/config.yaml for this repository
  mend run                      Perform the next improvement
  mend run --until-done         Keep going until every phase is exhausted
  mend status                   Show phase and ledger counts`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err != nil {
		PrintError(err)
	}
	return ExitCode(err)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .mend/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&repoDir, "repo", "", "repository root (default is the current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newAnalyzeCmd())
	rootCmd.AddCommand(newExecuteCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newFinalizeCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newResetCmd())
	rootCmd.AddCommand(newRecoverCmd())
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
}
