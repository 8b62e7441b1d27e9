package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"model_registry/internal/config"
	"model_registry/internal/utils"
)

var version = "0.1.0"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "modelregistry",
	Short: "Model registry - cached OpenRouter catalog, completions and usage",
	Long: `modelregistry keeps a persistent mirror of the OpenRouter model catalog,
answers chat completions against it and records per-request usage.

Examples:
  modelregistry migrate
  modelregistry serve --sync-on-start
  modelregistry sync
  modelregistry models --refresh
  modelregistry usage --plugin my-plugin --from 2026-01-01`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("loading %s: %w", envFile, err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(migrateCmd)

	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file loaded when present")
	rootCmd.PersistentFlags().String("log-level", "", "Override LOG_LEVEL")
}

// loadConfig reads the environment and configures logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if err := utils.ConfigureLogging(cfg.Log.Level, cfg.Log.Format); err != nil {
		return nil, err
	}
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}
