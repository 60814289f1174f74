// Package commands implements the waresponder CLI using cobra.
package commands

import (
	"github.com/spf13/cobra"

	cfgpkg "github.com/TayyabAziz11/personal-ai-employee/internal/config"
)

// NewRootCmd creates the root command with all subcommands registered.
// Running with no subcommand starts the continuous responder.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "waresponder",
		Short: "Auto-responder for a live WhatsApp Web session",
		Long: `waresponder attaches to the operator's running browser over the Chrome
DevTools Protocol, watches the WhatsApp Web chat list for new incoming
1:1 messages, and answers them after a grace period — unless the human
operator gets there first.

Examples:
  waresponder run
  waresponder run --dry-run
  waresponder report
  waresponder reset`,
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResponder(cmd, false)
		},
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newReportCmd(),
		newResetCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the TOML config file")

	return rootCmd
}

// loadConfig resolves the --config flag or falls back to the default
// lookup (WA_CONFIG env, then ~/.config/waresponder/config.toml).
func loadConfig(cmd *cobra.Command) (*cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path, _ = cmd.InheritedFlags().GetString("config")
	}
	if path != "" {
		return cfgpkg.LoadFromPath(path)
	}
	return cfgpkg.Load()
}
