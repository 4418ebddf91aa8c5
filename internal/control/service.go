package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pressly/goose/v3"

	"github.com/vietddude/cataloger/internal/catalog/breaker"
	"github.com/vietddude/cataloger/internal/catalog/cache"
	"github.com/vietddude/cataloger/internal/catalog/coordinator"
	"github.com/vietddude/cataloger/internal/catalog/detector"
	"github.com/vietddude/cataloger/internal/catalog/ledger"
	"github.com/vietddude/cataloger/internal/catalog/metrics"
	"github.com/vietddude/cataloger/internal/catalog/orchestrator"
	"github.com/vietddude/cataloger/internal/catalog/status"
	"github.com/vietddude/cataloger/internal/core/config"
	"github.com/vietddude/cataloger/internal/core/domain"
	"github.com/vietddude/cataloger/internal/infra/fetch"
	postgresclient "github.com/vietddude/cataloger/internal/infra/postgres"
	redisclient "github.com/vietddude/cataloger/internal/infra/redis"
)

// Service is the assembled application: snapshot store, failure ledger,
// breaker, coordinator, detector and orchestrator behind one handle.
type Service struct {
	cfg    *config.AppConfig
	store  *cache.Store
	ledger ledger.Ledger
	brk    *breaker.Breaker
	orch   *orchestrator.Orchestrator

	statusServer *status.Server
	db           *postgresclient.DB
	redisClient  *redisclient.Client
	log          *slog.Logger
}

// NewService creates a service with all dependencies initialized from config.
func NewService(cfg *config.AppConfig) (*Service, error) {
	store, err := cache.NewStore(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("init cache store: %w", err)
	}

	svc := &Service{
		cfg:   cfg,
		store: store,
		log:   slog.Default().With("component", "control"),
	}
	if err := svc.initLedger(); err != nil {
		return nil, err
	}

	svc.brk = breaker.New(cfg.Breaker, func() {
		metrics.BreakerPauses.Inc()
	})

	fetcher := fetch.NewHTTPFetcher(fetch.HTTPFetcherConfig{
		RootURL:  cfg.Catalog.RootURL,
		BaseURL:  cfg.Catalog.BaseURL,
		Timeout:  cfg.Crawl.FetchTimeout,
		PoolSize: cfg.Crawl.MaxWorkers,
	})

	coord := coordinator.New(cfg.Crawl, svc.brk, svc.ledger)
	det := detector.New(cfg.Detection, fetcher)
	svc.orch = orchestrator.New(store, fetcher, coord, det, svc.ledger,
		cfg.Crawl, cfg.Detection)

	monitor := status.NewMonitor(store, svc.ledger, svc.brk, cfg.Crawl)
	svc.statusServer = status.NewServer(monitor, cfg.Server.Port)

	return svc, nil
}

// initLedger selects the ledger backend. Postgres runs its migrations on
// startup, matching how the store side of the system bootstraps.
func (s *Service) initLedger() error {
	switch s.cfg.Ledger.Backend {
	case "redis":
		client, err := redisclient.NewClient(s.cfg.Ledger.Redis)
		if err != nil {
			return fmt.Errorf("init redis ledger: %w", err)
		}
		s.redisClient = client
		s.ledger = redisclient.NewLedgerRepo(client, "cataloger")
		s.log.Info("Using Redis failure ledger")

	case "postgres":
		db, err := postgresclient.NewDB(context.Background(), s.cfg.Ledger.Database)
		if err != nil {
			return fmt.Errorf("init postgres ledger: %w", err)
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return fmt.Errorf("migrate ledger schema: %w", err)
		}
		s.db = db
		s.ledger = postgresclient.NewLedgerRepo(db)
		s.log.Info("Using PostgreSQL failure ledger")

	default:
		l, err := ledger.NewFileLedger(s.cfg.Ledger.File)
		if err != nil {
			return fmt.Errorf("init file ledger: %w", err)
		}
		s.ledger = l
		s.log.Info("Using file failure ledger", "path", s.cfg.Ledger.File)
	}
	return nil
}

// Run performs one build. Incremental mode uses change detection to limit
// fetches; otherwise the full progressive ladder runs up to the target.
func (s *Service) Run(
	ctx context.Context,
	target domain.Tier,
	forceRefresh, incremental bool,
) (*orchestrator.RunReport, error) {
	if incremental && !forceRefresh {
		return s.orch.RunIncremental(ctx, target)
	}
	return s.orch.Run(ctx, target, forceRefresh)
}

// RunRetryFailed re-dispatches only the ledgered failures against the
// current cache, without extending any tier.
func (s *Service) RunRetryFailed(ctx context.Context) (*orchestrator.RunReport, error) {
	tier, _, err := s.store.GetCurrentTier(ctx)
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	if tier == domain.TierNone {
		return nil, fmt.Errorf("no usable cache to retry against")
	}
	// Targeting the tier already reached makes the build a no-op and runs
	// only the retry pass.
	return s.orch.Run(ctx, tier, false)
}

// Store exposes the snapshot store for read-only CLI commands.
func (s *Service) Store() *cache.Store {
	return s.store
}

// Ledger exposes the failure ledger for CLI commands.
func (s *Service) Ledger() ledger.Ledger {
	return s.ledger
}

// StartStatusServer serves /health, /status and /metrics in the background.
func (s *Service) StartStatusServer() {
	go func() {
		if err := s.statusServer.Start(); err != nil {
			s.log.Error("Status server failed", "error", err)
		}
	}()
	s.log.Info("Status server listening", "port", s.cfg.Server.Port)
}

// Stop shuts the service down, closing backend connections.
func (s *Service) Stop(ctx context.Context) error {
	s.log.Info("Stopping service...")

	if err := s.ledger.Close(); err != nil {
		s.log.Warn("Failed to close ledger", "error", err)
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}
	return s.statusServer.Stop(ctx)
}
