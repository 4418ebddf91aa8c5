package cli

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/cataloger/internal/catalog/cache"
	"github.com/vietddude/cataloger/internal/core/domain"
)

var historyTier string

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List snapshot versions, newest first",
	Run:   runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyTier, "tier", "", "filter by tier")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	cfg := loadConfig()

	tier := domain.TierNone
	if historyTier != "" {
		var err error
		tier, err = domain.ParseTier(historyTier)
		if err != nil {
			slog.Error("Invalid tier filter", "tier", historyTier)
			os.Exit(1)
		}
	}

	store, err := cache.NewStore(cfg.Cache)
	if err != nil {
		slog.Error("Failed to open cache", "error", err)
		os.Exit(1)
	}

	entries := store.ListVersions(tier)
	if len(entries) == 0 {
		fmt.Println("No snapshot history.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "VERSION\tTIER\tSAVED\tLEAVES\tPRODUCTS\tSPECS")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\n",
			e.Version, e.TierName, e.SavedAt.Format(time.RFC3339),
			e.TotalLeaves, e.TotalProducts, e.TotalSpecifications)
	}
	_ = w.Flush()
}
