/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration devlink would run with, after merging defaults,
the config file, DEVLINK_* environment variables and flags. Secrets are
masked.

The output is valid YAML and can be used as a starting devlink.yaml:
  devlink config > ~/.config/devlink/devlink.yaml`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if used := v.ConfigFileUsed(); used != "" {
			fmt.Printf("# loaded from %s\n", used)
		}

		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg.Redacted()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		enc.Close()
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
