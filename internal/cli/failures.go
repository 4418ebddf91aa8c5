package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/cataloger/internal/control"
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List live failure records, least-retried first",
	Run:   runFailures,
}

var resetCmd = &cobra.Command{
	Use:   "reset [url]",
	Short: "Zero the retry count of a failure record so it is retried again",
	Args:  cobra.ExactArgs(1),
	Run:   runReset,
}

func init() {
	rootCmd.AddCommand(failuresCmd)
	rootCmd.AddCommand(resetCmd)
}

func runFailures(cmd *cobra.Command, args []string) {
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

	records, err := svc.Ledger().List(ctx)
	if err != nil {
		slog.Error("Failed to list failures", "error", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("No failure records.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	_, _ = fmt.Fprintln(w, "URL\tCONTEXT\tKIND\tRETRIES\tLAST ATTEMPT\tREASON")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.URL, r.Context, r.Kind, r.RetryCount,
			r.Timestamp.Format(time.RFC3339), r.Reason)
	}
	_ = w.Flush()
}

func runReset(cmd *cobra.Command, args []string) {
	url := args[0]

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

	record, err := svc.Ledger().Get(ctx, url)
	if err != nil {
		slog.Error("Failed to read record", "error", err)
		os.Exit(1)
	}
	if record == nil {
		fmt.Printf("No failure record for %s\n", url)
		os.Exit(1)
	}
	if err := svc.Ledger().Reset(ctx, url); err != nil {
		slog.Error("Failed to reset record", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Reset retry count for %s\n", url)
}
