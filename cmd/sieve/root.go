package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/sieve/internal/cli"
	"github.com/jackzampolin/sieve/internal/config"
	"github.com/jackzampolin/sieve/internal/home"
	"github.com/jackzampolin/sieve/internal/svcctx"
	"github.com/jackzampolin/sieve/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string

	printer *cli.Printer
)

var rootCmd = &cobra.Command{
	Use:   "sieve",
	Short: "Structured extraction from text datasets with local LLMs",
	Long: `Sieve runs extraction tasks over tabular text datasets.

For every row it builds a prompt from the task description, an optional
set of similar worked examples and the expected output shape, asks the
model for JSON and validates the answer. Results are checkpointed chunk
by chunk so interrupted runs resume where they stopped.`,
	Version:      version.GitRelease,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		format, err := cli.ParseOutputFormat(outputFormat)
		if err != nil {
			return err
		}
		printer = cli.NewPrinter(cmd.OutOrStdout(), format)

		h, err := home.New(homeDir)
		if err != nil {
			return err
		}

		mgr, err := config.NewManager(cfgFile)
		if err != nil {
			return err
		}
		if err := mgr.Viper().BindPFlag("log.level", cmd.Flags().Lookup("log-level")); err != nil {
			return err
		}
		if err := mgr.Reload(); err != nil {
			return err
		}
		cfg := mgr.Get()

		level := new(slog.LevelVar)
		lvl, err := config.ParseLevel(cfg.Log.Level)
		if err != nil {
			return err
		}
		level.Set(lvl)
		logger := slog.New(newHandler(os.Stderr, cfg.Log.Format, level))

		mgr.OnChange(func(c *config.Config) {
			if lvl, err := config.ParseLevel(c.Log.Level); err == nil {
				level.Set(lvl)
			}
		})
		if mgr.ConfigFile() != "" {
			mgr.WatchConfig()
		}

		cmd.SetContext(svcctx.WithServices(cmd.Context(), &svcctx.Services{
			ConfigManager: mgr,
			Logger:        logger,
			LogLevel:      level,
			Home:          h,
		}))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.sieve/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "sieve home directory (default: ~/.sieve)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "info", "log level: debug, info, warn, error (log.level)",
	)

	rootCmd.AddCommand(versionCmd)
}
