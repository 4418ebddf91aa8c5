package control

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/cataloger/internal/core/config"
)

func TestNewServiceWiresFileLedger(t *testing.T) {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Cache.Dir = dir
	cfg.Ledger.File = filepath.Join(dir, "failures.jsonl")
	cfg.Catalog.RootURL = "https://example.test/classification"
	cfg.Catalog.BaseURL = "https://example.test"

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if svc.Store() == nil {
		t.Error("expected a snapshot store")
	}
	if svc.Ledger() == nil {
		t.Error("expected a ledger")
	}
	records, err := svc.Ledger().List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected empty ledger, got %d records", len(records))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

func TestNewServiceRejectsNothing(t *testing.T) {
	// An unknown backend never reaches the service: config validation owns
	// that. The service treats anything else as the file default.
	cfg := config.Default()
	dir := t.TempDir()
	cfg.Cache.Dir = dir
	cfg.Ledger.Backend = "file"
	cfg.Ledger.File = filepath.Join(dir, "failures.jsonl")

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	defer svc.Stop(context.Background())
}
