package cli

import (
	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

// newConfigCmd creates the config command
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the configuration after environment overrides, with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			redacted := cfg.Redacted()
			if jsonOutput {
				printJSON(cmd.OutOrStdout(), redacted)
				return nil
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(redacted)
		},
	})
	return cmd
}
