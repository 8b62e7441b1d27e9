package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"model_registry/internal/app"
	"model_registry/internal/registry"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the model catalog once",
	Long:  `Fetch the upstream catalog, upsert every model and deactivate the ones that disappeared.`,
	RunE:  runSync,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List active models",
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().Bool("refresh", false, "Sync with upstream before listing")
}

func runSync(cmd *cobra.Command, args []string) error {
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
	defer a.Shutdown(ctx)

	entries, err := syncAndReport(ctx, a.Registry)
	if err != nil {
		return err
	}
	fmt.Printf("Synced %d active models\n", entries)
	return nil
}

// catalogSyncer is the part of the registry the sync command needs
type catalogSyncer interface {
	SyncModels(ctx context.Context) error
	Stats() registry.Stats
}

// syncAndReport runs one sync and fails when the upstream fetch failed even
// if the registry fell back to stored models.
func syncAndReport(ctx context.Context, r catalogSyncer) (int, error) {
	if err := r.SyncModels(ctx); err != nil {
		return 0, fmt.Errorf("sync failed: %w", err)
	}
	stats := r.Stats()
	if stats.LastSyncError != "" {
		return stats.Entries, fmt.Errorf("sync failed, %d stored models still served: %s", stats.Entries, stats.LastSyncError)
	}
	return stats.Entries, nil
}

func runModels(cmd *cobra.Command, args []string) error {
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
	defer a.Shutdown(ctx)

	refresh, _ := cmd.Flags().GetBool("refresh")
	list, err := a.Registry.GetModels(ctx, registry.GetOptions{ForceRefresh: refresh})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tNAME\tCONTEXT\tPROMPT/TOKEN\tCOMPLETION/TOKEN")
	for _, m := range list {
		prompt, completion := m.Pricing.Prompt.String(), m.Pricing.Completion.String()
		if m.Pricing.IsFree() {
			prompt, completion = "free", "free"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			m.ID, m.Provider(), m.Name, m.ContextLength, prompt, completion)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d models\n", len(list))
	return nil
}
