package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/vietddude/cataloger/internal/catalog/orchestrator"
	"github.com/vietddude/cataloger/internal/control"
	"github.com/vietddude/cataloger/internal/core/config"
	"github.com/vietddude/cataloger/internal/core/domain"
)

var (
	cfgPath     string
	isDebug     bool
	targetTier  string
	workers     int
	forceFresh  bool
	incremental bool
	retryOnly   bool
	serveStatus bool
)

var rootCmd = &cobra.Command{
	Use:   "cataloger",
	Short: "Progressive catalog cache service",
	Long: `Cataloger builds and refreshes a three-tier product catalog cache:
classification tree, product links per leaf, and specifications per product.
Each run fetches only what is missing or changed.`,
	Run: runBuild,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.Flags().StringVar(&targetTier, "tier", "specifications", "target tier (classification, products, specifications)")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "override crawl worker count")
	rootCmd.Flags().BoolVar(&forceFresh, "force", false, "discard cached state and rebuild from scratch")
	rootCmd.Flags().BoolVar(&incremental, "incremental", true, "use change detection to limit fetches")
	rootCmd.Flags().BoolVar(&retryOnly, "retry-only-failed", false, "only retry ledgered failures, do not extend tiers")
	rootCmd.Flags().BoolVar(&serveStatus, "serve", false, "keep serving /health, /status and /metrics after the run")
}

// loadConfig loads config and sets up logging. Every subcommand goes through
// here so flags behave the same everywhere.
func loadConfig() *config.AppConfig {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		// A missing default config file is fine, defaults cover local use.
		// An explicit path or a broken file is not.
		if !errors.Is(err, os.ErrNotExist) || cfgPath != "config.yaml" {
			slog.Error("Failed to load config", "error", err)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	level := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})))
	return cfg
}

func runBuild(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if workers > 0 {
		cfg.Crawl.MaxWorkers = workers
	}

	target, err := domain.ParseTier(targetTier)
	if err != nil || target == domain.TierNone {
		slog.Error("Invalid target tier", "tier", targetTier)
		os.Exit(1)
	}

	svc, err := control.NewService(cfg)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("Received signal, finishing in-flight work...", "signal", sig)
		cancel()
	}()

	if serveStatus {
		svc.StartStatusServer()
	}

	var report *orchestrator.RunReport
	if retryOnly {
		report, err = svc.RunRetryFailed(ctx)
	} else {
		report, err = svc.Run(ctx, target, forceFresh, incremental)
	}
	if err != nil {
		slog.Error("Run failed", "error", err)
	}
	if report != nil {
		printReport(report)
	}

	if serveStatus && err == nil {
		slog.Info("Run complete, status server still serving", "port", cfg.Server.Port)
		<-ctx.Done()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if stopErr := svc.Stop(shutdownCtx); stopErr != nil {
		slog.Error("Error during shutdown", "error", stopErr)
	}
	if err != nil {
		os.Exit(1)
	}
}
