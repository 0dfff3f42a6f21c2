package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/mend/internal/config"
)

// newConfigCmd creates the config command
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and edit configuration",
		Long: `Read resolved configuration values or edit the project config file.

Keys are dot-separated yaml paths such as workflow.max_features or
model.roles.fix. 'get' and 'list' show the resolved value after the user
file, project file, MEND_* environment and toolchain detection; 'set' edits
only .mend/config.yaml.

Examples:
  mend config list
  mend config get toolchain.test
  mend config set workflow.max_features 5`,
	}
	cmd.AddCommand(newConfigGetCmd(), newConfigSetCmd(), newConfigListCmd())
	return cmd
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one resolved value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			value, err := a.cfg.GetValue(args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(a.out, value)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a value in .mend/config.yaml",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := resolveRoot()
			if err != nil {
				return err
			}
			cfg, err := config.LoadProject(root)
			if err != nil {
				return err
			}
			if err := cfg.SetValue(args[0], args[1]); err != nil {
				return err
			}
			path, err := config.WriteDefault(root, cfg, true)
			if err != nil {
				return err
			}
			if !quiet {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (%s)\n", args[0], args[1], path)
			}
			return nil
		},
	}
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print every resolved value",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			values := make(map[string]string)
			paths := config.AllConfigPaths()
			for _, p := range paths {
				v, err := a.cfg.GetValue(p)
				if err != nil {
					return err
				}
				values[p] = v
			}
			if jsonOut {
				return writeJSON(a.out, values)
			}
			tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
			for _, p := range paths {
				_, _ = fmt.Fprintf(tw, "%s\t%s\n", p, values[p])
			}
			return tw.Flush()
		},
	}
}
