package status

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/cataloger/internal/catalog/breaker"
	"github.com/vietddude/cataloger/internal/catalog/cache"
	"github.com/vietddude/cataloger/internal/catalog/ledger"
	"github.com/vietddude/cataloger/internal/core/config"
	"github.com/vietddude/cataloger/internal/core/domain"
)

func newTestMonitor(t *testing.T) (*Monitor, *cache.Store, ledger.Ledger) {
	t.Helper()
	dir := t.TempDir()

	store, err := cache.NewStore(config.CacheConfig{
		Dir:          dir,
		Retention:    5,
		HistoryLimit: 10,
		TTL: config.TTLConfig{
			Classification: 7 * 24 * time.Hour,
			Products:       3 * 24 * time.Hour,
			Specifications: 24 * time.Hour,
		},
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	l, err := ledger.NewFileLedger(filepath.Join(dir, "failures.jsonl"))
	if err != nil {
		t.Fatalf("NewFileLedger: %v", err)
	}

	b := breaker.New(config.BreakerConfig{
		FailWindow:     time.Minute,
		FailThreshold:  5,
		Pause:          time.Millisecond,
		CooldownFactor: 0.5,
	}, nil)

	crawl := config.CrawlConfig{MaxWorkers: 4, RetryWorkers: 2, MaxRetries: 3}
	return NewMonitor(store, l, b, crawl), store, l
}

func TestEmptyCacheReportsDegraded(t *testing.T) {
	m, _, _ := newTestMonitor(t)

	health := m.Check(context.Background())
	if health.Status != StatusDegraded {
		t.Errorf("empty cache should be degraded, got %s", health.Status)
	}
	if health.CurrentTier != domain.TierNone.String() {
		t.Errorf("expected tier none, got %s", health.CurrentTier)
	}
}

func TestPopulatedCacheReportsHealthy(t *testing.T) {
	ctx := context.Background()
	m, store, _ := newTestMonitor(t)

	leaf := &domain.LeafEntry{Code: "A", Name: "Bearings", URL: "https://x/leaf/A"}
	snap := &domain.Snapshot{
		Root:   &domain.ClassificationNode{Code: "ROOT", Name: "Classification"},
		Leaves: []*domain.LeafEntry{leaf},
	}
	if err := store.SaveSnapshot(ctx, snap, domain.TierClassification); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	health := m.Check(ctx)
	if health.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", health.Status)
	}
	if health.TotalLeaves != 1 {
		t.Errorf("expected 1 leaf, got %d", health.TotalLeaves)
	}
	if !health.BreakerHealthy {
		t.Error("expected healthy breaker")
	}
}

func TestActionableFailuresDegrade(t *testing.T) {
	ctx := context.Background()
	m, store, l := newTestMonitor(t)

	leaf := &domain.LeafEntry{Code: "A", Name: "Bearings", URL: "https://x/leaf/A"}
	snap := &domain.Snapshot{
		Root:   &domain.ClassificationNode{Code: "ROOT", Name: "Classification"},
		Leaves: []*domain.LeafEntry{leaf},
	}
	if err := store.SaveSnapshot(ctx, snap, domain.TierClassification); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if _, err := l.Record(ctx, "https://x/leaf/B", "leaf:B", "timeout",
		domain.FailureTransient); err != nil {
		t.Fatalf("Record: %v", err)
	}

	health := m.Check(ctx)
	if health.Status != StatusDegraded {
		t.Errorf("expected degraded with actionable failures, got %s", health.Status)
	}
	if health.FailureRecords != 1 || health.ActionableItems != 1 {
		t.Errorf("unexpected counts %+v", health)
	}
}
