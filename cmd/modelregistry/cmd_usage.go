package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"model_registry/internal/app"
	"model_registry/internal/billing"
	"model_registry/internal/storage"
	"model_registry/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarize recorded usage",
	Long: `Aggregate usage records by model. At most one of --plugin, --user and
--tenant may be given. Dates accept RFC3339 or YYYY-MM-DD.`,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().String("plugin", "", "Filter by plugin ID")
	usageCmd.Flags().String("user", "", "Filter by user ID")
	usageCmd.Flags().String("tenant", "", "Filter by tenant ID")
	usageCmd.Flags().String("from", "", "Start of the date range (inclusive)")
	usageCmd.Flags().String("to", "", "End of the date range (exclusive)")
}

func parseDate(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s %q", flag, value)
	}
	return t, nil
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	var filter usage.Filter
	filter.PluginID, _ = cmd.Flags().GetString("plugin")
	filter.UserID, _ = cmd.Flags().GetString("user")
	filter.TenantID, _ = cmd.Flags().GetString("tenant")

	var dates usage.DateRange
	fromFlag, _ := cmd.Flags().GetString("from")
	toFlag, _ := cmd.Flags().GetString("to")
	if dates.From, err = parseDate("from", fromFlag); err != nil {
		return err
	}
	if dates.To, err = parseDate("to", toFlag); err != nil {
		return err
	}

	db, err := app.OpenDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	summary, err := usage.NewRecorder(nil, db.NewUsageRepository(), nil).Summarize(ctx, filter, dates)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "MODEL\tREQUESTS\tERRORS\tTOKENS\tCOST")
	for _, m := range summary.Models() {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\n", m.ModelID, m.Requests, m.Errors, m.Tokens, m.Cost.StringFixed(6))
	}
	fmt.Fprintf(w, "TOTAL\t%d\t%d\t%d\t%s\n",
		summary.TotalRequests, summary.TotalErrors, summary.TotalTokens, summary.TotalCost.StringFixed(6))
	if err := w.Flush(); err != nil {
		return err
	}

	if filter.PluginID != "" && cfg.Redis.Enabled() {
		client, err := storage.NewRedisClient(ctx, storage.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		defer client.Close()

		spent, err := billing.NewRedisService(client).MonthlySpending(ctx, filter.PluginID)
		if err != nil {
			return fmt.Errorf("reading monthly spending: %w", err)
		}
		fmt.Printf("\nSpent this month by %s: %s\n", filter.PluginID, spent.StringFixed(6))
	}
	return nil
}
