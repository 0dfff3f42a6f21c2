package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/mend/internal/config"
	"github.com/randalmurphal/mend/internal/detect"
)

// newInitCmd creates the init command
func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write .mend/config.yaml for this repository",
		Long: `Detect the project's language and build tools and write a project
config with the inferred build, test and lint commands filled in.

Review the file afterwards: the lint command must fail on warnings, and the
model section needs a provider the machine can reach.

Examples:
  mend init
  mend init --force          # Overwrite an existing config
  mend init --repo ../other  # Initialize another checkout`,
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")

			root, err := resolveRoot()
			if err != nil {
				return err
			}
			d, err := detect.Detect(root)
			if err != nil {
				return fmt.Errorf("detect project: %w", err)
			}
			cfg := configFromDetection(d)

			path, err := config.WriteDefault(root, cfg, force)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return writeJSON(out, map[string]any{"path": path, "detection": d})
			}
			if quiet {
				return nil
			}
			st := defaultStyles()
			_, _ = fmt.Fprintf(out, "%s %s\n", st.Success.Render("wrote"), path)
			_, _ = fmt.Fprintf(out, "  project  %s\n", detect.DescribeProject(d))
			_, _ = fmt.Fprintf(out, "  build    %s\n", orNone(cfg.Toolchain.Build))
			_, _ = fmt.Fprintf(out, "  test     %s\n", orNone(cfg.Toolchain.Test))
			_, _ = fmt.Fprintf(out, "  lint     %s\n", orNone(cfg.Toolchain.Lint))
			if cfg.Toolchain.Build == "" && cfg.Toolchain.Test == "" {
				_, _ = fmt.Fprintln(out, st.Warn.Render("No toolchain detected: set toolchain.build and toolchain.test before running."))
			}
			return nil
		},
	}
	cmd.Flags().BoolP("force", "f", false, "overwrite an existing config")
	return cmd
}

// configFromDetection fills the toolchain section of the defaults.
func configFromDetection(d *detect.Detection) *config.Config {
	cfg := config.Default()
	cfg.Toolchain.Build = d.BuildCommand
	cfg.Toolchain.Test = d.TestCommand
	cfg.Toolchain.Lint = d.LintCommand
	cfg.Lint.Command = d.LintJSONCommand
	if d.DiagnosticPrefix != "" {
		cfg.Lint.CodePrefix = d.DiagnosticPrefix
	}
	return cfg
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
