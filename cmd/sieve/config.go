package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sieve/internal/config"
	"github.com/jackzampolin/sieve/internal/svcctx"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default config to the home directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := svcctx.HomeFrom(cmd.Context())
		if h.ConfigExists() && !configForce {
			return fmt.Errorf("%s already exists (use --force to replace it)", h.ConfigPath())
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}
		if err := config.WriteDefault(h.ConfigPath()); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", h.ConfigPath())
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printer.Print(svcctx.ConfigManagerFrom(cmd.Context()).Get())
	},
}

var configDefaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "List every config key with its default and description",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printer.Print(config.DefaultEntries())
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configDefaultsCmd)
	rootCmd.AddCommand(configCmd)
}
