package commands

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jholhewres/whatbot/pkg/whatbot/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// defaultConfigPath is where `config init` writes when --config is unset.
const defaultConfigPath = "whatbot.yaml"

// newConfigCmd creates the `whatbot config` command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration",
		Long: `Manage the Whatbot configuration.

Examples:
  whatbot config init
  whatbot config show
  whatbot config set-key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Root().PersistentFlags().GetString("config")
			if path == "" {
				path = defaultConfigPath
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}

			if err := config.SaveConfigToFile(config.DefaultConfig(), path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s in your environment or .env file, or run 'whatbot config set-key'.\n", config.APIKeyEnv)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			shown := *cfg
			shown.Completion.APIKey = maskSecret(shown.Completion.APIKey)
			shown.Discord.Token = maskSecret(shown.Discord.Token)

			data, err := yaml.Marshal(&shown)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the completion API key in the OS keyring",
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := config.ReadPassword("API key: ")
			if err != nil {
				return fmt.Errorf("reading key: %w", err)
			}
			key = strings.TrimSpace(key)
			if key == "" {
				return errors.New("empty key, nothing stored")
			}
			if err := config.StoreAPIKey(key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "API key stored in the OS keyring.")
			return nil
		},
	}
}

// maskSecret keeps env references readable and hides literal secrets.
func maskSecret(s string) string {
	if s == "" || config.IsEnvReference(s) {
		return s
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
