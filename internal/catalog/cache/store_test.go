package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/cataloger/internal/core/config"
	"github.com/vietddude/cataloger/internal/core/domain"
)

func testConfig(t *testing.T) config.CacheConfig {
	t.Helper()
	return config.CacheConfig{
		Dir:          t.TempDir(),
		Retention:    5,
		HistoryLimit: 10,
		TTL: config.TTLConfig{
			Classification: 7 * 24 * time.Hour,
			Products:       3 * 24 * time.Hour,
			Specifications: 24 * time.Hour,
		},
	}
}

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	store, err := NewStore(testConfig(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	return store, &now
}

func testSnapshot(withProducts, withSpecs bool) *domain.Snapshot {
	leaf := &domain.LeafEntry{Code: "TP01001", Name: "Bearings", URL: "https://x/leaf", Level: 1}
	if withProducts {
		p := &domain.Product{URL: "https://x/product/1"}
		if withSpecs {
			p.Specifications = []domain.Specification{{"weight": "2kg"}}
			p.SpecCount = 1
		}
		leaf.AddProducts([]*domain.Product{p})
	}
	root := &domain.ClassificationNode{
		Code: "ROOT", Name: "Classification", Level: 0,
		Children: []*domain.ClassificationNode{
			{Code: leaf.Code, Name: leaf.Name, URL: leaf.URL, Level: 1, IsLeaf: true},
		},
	}
	return &domain.Snapshot{Root: root, Leaves: []*domain.LeafEntry{leaf}}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.SaveSnapshot(ctx, testSnapshot(true, true), domain.TierSpecifications); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	tier, snap, err := store.GetCurrentTier(ctx)
	if err != nil {
		t.Fatalf("GetCurrentTier: %v", err)
	}
	if tier != domain.TierSpecifications {
		t.Errorf("expected specifications tier, got %s", tier)
	}
	if snap.Metadata.TotalLeaves != 1 || snap.Metadata.TotalProducts != 1 ||
		snap.Metadata.TotalSpecifications != 1 {
		t.Errorf("unexpected totals: %+v", snap.Metadata)
	}
	if snap.Metadata.Version <= 0 {
		t.Error("expected a stamped version")
	}
}

func TestEmptyStoreReportsTierNone(t *testing.T) {
	store, _ := newTestStore(t)
	tier, snap, err := store.GetCurrentTier(context.Background())
	if err != nil {
		t.Fatalf("GetCurrentTier: %v", err)
	}
	if tier != domain.TierNone || snap != nil {
		t.Errorf("expected none/nil, got %s/%v", tier, snap)
	}
}

func TestCorruptSnapshotDegradesTier(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.SaveSnapshot(ctx, testSnapshot(false, false), domain.TierClassification); err != nil {
		t.Fatalf("save classification: %v", err)
	}
	if err := store.SaveSnapshot(ctx, testSnapshot(true, false), domain.TierProducts); err != nil {
		t.Fatalf("save products: %v", err)
	}

	// Corrupt the products file in place. The store must fall back to the
	// classification snapshot rather than surface garbage.
	idx := store.loadIndex()
	productsFile := idx.LatestFiles[domain.TierProducts.String()]
	if productsFile == "" {
		t.Fatal("products file not indexed")
	}
	path := filepath.Join(store.cfg.Dir, productsFile)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}

	tier, snap, err := store.GetCurrentTier(ctx)
	if err != nil {
		t.Fatalf("GetCurrentTier: %v", err)
	}
	if tier != domain.TierClassification {
		t.Errorf("expected degradation to classification, got %s", tier)
	}
	if snap == nil || snap.Metadata.TotalLeaves != 1 {
		t.Errorf("expected classification snapshot, got %+v", snap)
	}
}

func TestExpiredSnapshotDegradesTier(t *testing.T) {
	ctx := context.Background()
	store, now := newTestStore(t)

	if err := store.SaveSnapshot(ctx, testSnapshot(false, false), domain.TierClassification); err != nil {
		t.Fatalf("save classification: %v", err)
	}
	if err := store.SaveSnapshot(ctx, testSnapshot(true, false), domain.TierProducts); err != nil {
		t.Fatalf("save products: %v", err)
	}

	// Four days later the products snapshot (3d TTL) is stale but the
	// classification snapshot (7d TTL) still serves.
	*now = now.Add(4 * 24 * time.Hour)

	tier, _, err := store.GetCurrentTier(ctx)
	if err != nil {
		t.Fatalf("GetCurrentTier: %v", err)
	}
	if tier != domain.TierClassification {
		t.Errorf("expected classification after products TTL, got %s", tier)
	}
}

func TestZeroAggregateDegradesClaimedTier(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	if err := store.SaveSnapshot(ctx, testSnapshot(true, false), domain.TierProducts); err != nil {
		t.Fatalf("save products: %v", err)
	}
	// A snapshot claiming the specifications tier without a single
	// specification must not serve that tier.
	if err := store.SaveSnapshot(ctx, testSnapshot(true, false), domain.TierSpecifications); err != nil {
		t.Fatalf("save empty specifications: %v", err)
	}

	tier, _, err := store.GetCurrentTier(ctx)
	if err != nil {
		t.Fatalf("GetCurrentTier: %v", err)
	}
	if tier != domain.TierProducts {
		t.Errorf("expected products tier, got %s", tier)
	}
}

func TestRetentionPrunesOldSnapshots(t *testing.T) {
	ctx := context.Background()
	store, now := newTestStore(t)

	for i := 0; i < 6; i++ {
		if err := store.SaveSnapshot(ctx, testSnapshot(false, false), domain.TierClassification); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		*now = now.Add(time.Minute)
	}

	files, err := filepath.Glob(filepath.Join(store.cfg.Dir, "catalog_tier1_v*.json"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) != 5 {
		t.Errorf("expected 5 retained files, got %d", len(files))
	}

	// The newest version must be among the survivors.
	tier, snap, err := store.GetCurrentTier(ctx)
	if err != nil {
		t.Fatalf("GetCurrentTier: %v", err)
	}
	if tier != domain.TierClassification || snap == nil {
		t.Fatalf("expected classification snapshot after pruning, got %s", tier)
	}
}

func TestHistoryCapRespected(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.HistoryLimit = 3
	store, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if err := store.SaveSnapshot(ctx, testSnapshot(false, false), domain.TierClassification); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		now = now.Add(time.Minute)
	}

	entries := store.ListVersions(domain.TierNone)
	if len(entries) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].SavedAt.After(entries[i-1].SavedAt) {
			t.Error("expected newest-first ordering")
		}
	}
}

func TestListVersionsFiltersByTier(t *testing.T) {
	ctx := context.Background()
	store, now := newTestStore(t)

	if err := store.SaveSnapshot(ctx, testSnapshot(false, false), domain.TierClassification); err != nil {
		t.Fatalf("save classification: %v", err)
	}
	*now = now.Add(time.Minute)
	if err := store.SaveSnapshot(ctx, testSnapshot(true, false), domain.TierProducts); err != nil {
		t.Fatalf("save products: %v", err)
	}

	all := store.ListVersions(domain.TierNone)
	if len(all) != 2 {
		t.Errorf("expected 2 entries, got %d", len(all))
	}
	products := store.ListVersions(domain.TierProducts)
	if len(products) != 1 || products[0].Tier != domain.TierProducts {
		t.Errorf("expected 1 products entry, got %+v", products)
	}
}
