// Command marctl is the operator CLI for the MAR quiz service: migrations,
// health checks, cleanup, webhook maintenance and SQLite backups.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/garnizeh/mar/internal/app"
	"github.com/garnizeh/mar/internal/config"
	"github.com/garnizeh/mar/pkg/webhook"
)

var (
	configPath string
	dbPath     string
	jsonOutput bool
	verbose    bool

	logger = newLogger(false)
)

var rootCmd = &cobra.Command{
	Use:   "marctl",
	Short: "Operate the MAR quiz service",
	Long: `marctl runs maintenance tasks against the MAR database and webhook.

It reads the same configuration as the server: a .env file, MAR_* environment
variables and an optional YAML file given with --config.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = newLogger(verbose)
		webhook.SetLogger(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path or DSN (overrides config)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")

	rootCmd.AddCommand(migrateCmd, backupCmd, restoreCmd)
	rootCmd.AddCommand(validateSystemCmd, cleanCmd)
	rootCmd.AddCommand(testWebhookCmd, sendWebhookCmd, completeCmd, redeliverCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// openApp loads the configuration and wires every service. The caller
// closes the returned App.
func openApp(ctx context.Context, migrate bool) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	conn, err := app.OpenDB(ctx, cfg, migrate, logger)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cfg, conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
