package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"model_registry/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, usage worker and sync schedule",
	Long: `Start the model registry server. SIGINT or SIGTERM stops accepting
requests, waits for in-flight completions and flushes pending usage.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Bool("sync-on-start", false, "Sync the catalog once before the schedule takes over")
	serveCmd.Flags().Bool("migrate", true, "Create missing tables on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}

	if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
		if err := a.DB.EnsureSchema(ctx); err != nil {
			_ = a.Shutdown(ctx)
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	syncOnStart, _ := cmd.Flags().GetBool("sync-on-start")
	return a.Serve(ctx, app.ServeOptions{SyncOnStart: syncOnStart})
}
