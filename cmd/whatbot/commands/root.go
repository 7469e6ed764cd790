// Package commands implements the Whatbot CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with every subcommand registered.
// Running it without a subcommand behaves like `whatbot serve`.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "whatbot",
		Short: "Whatbot - AI auto-replies for your personal chats",
		Long: `Whatbot links to your WhatsApp account (or a Discord bot), asks which
contacts it should talk to and answers them in your voice using a text
completion model.

Examples:
  whatbot
  whatbot serve --config ./whatbot.yaml
  whatbot config init
  whatbot config set-key
  whatbot logout`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newConfigCmd(),
		newLogoutCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logs")

	return rootCmd
}
