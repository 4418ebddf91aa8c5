package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/cataloger/internal/catalog/orchestrator"
	"github.com/vietddude/cataloger/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current cache tier, totals and failure backlog",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	svc, err := control.NewService(cfg)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()
	defer func() {
		_ = svc.Stop(ctx)
	}()

	tier, snap, err := svc.Store().GetCurrentTier(ctx)
	if err != nil {
		slog.Error("Failed to read cache", "error", err)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintf(w, "Current tier:\t%s\n", tier)
	if snap != nil {
		_, _ = fmt.Fprintf(w, "Version:\t%d\n", snap.Metadata.Version)
		_, _ = fmt.Fprintf(w, "Generated:\t%s (%s ago)\n",
			snap.Metadata.GeneratedAt.Format(time.RFC3339),
			snap.Age(time.Now()).Round(time.Minute))
		_, _ = fmt.Fprintf(w, "Leaves:\t%d\n", snap.Metadata.TotalLeaves)
		_, _ = fmt.Fprintf(w, "Products:\t%d\n", snap.Metadata.TotalProducts)
		_, _ = fmt.Fprintf(w, "Specifications:\t%d\n", snap.Metadata.TotalSpecifications)
	}

	records, err := svc.Ledger().List(ctx)
	if err == nil {
		actionable := 0
		for _, r := range records {
			if r.Actionable(cfg.Crawl.MaxRetries) {
				actionable++
			}
		}
		_, _ = fmt.Fprintf(w, "Failure records:\t%d (%d actionable)\n", len(records), actionable)
	}
	_ = w.Flush()
}

// printReport renders a run report after a build.
func printReport(report *orchestrator.RunReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s (%s)\n", report.RunID, report.Mode)
	_, _ = fmt.Fprintf(w, "Tier:\t%s -> %s (target %s)\n",
		report.StartTier, report.FinalTier, report.TargetTier)
	_, _ = fmt.Fprintf(w, "Totals:\t%d leaves, %d products, %d specifications\n",
		report.TotalLeaves, report.TotalProducts, report.TotalSpecifications)
	_, _ = fmt.Fprintf(w, "Fetches:\t%d ok, %d failed, %d exhausted\n",
		report.Succeeded, report.Failed, report.Exhausted)
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", report.Duration.Round(time.Millisecond))
	if report.Terminal {
		_, _ = fmt.Fprintln(w, "State:\tterminal (nothing left to do)")
	} else {
		_, _ = fmt.Fprintln(w, "State:\tincomplete, re-run to continue")
	}
	_ = w.Flush()
}
