package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vietddude/cataloger/internal/core/domain"
)

func newTestLedger(t *testing.T) *FileLedger {
	t.Helper()
	l, err := NewFileLedger(filepath.Join(t.TempDir(), "failures.jsonl"))
	if err != nil {
		t.Fatalf("NewFileLedger: %v", err)
	}
	return l
}

func TestRecordDeduplicatesByURL(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	first, err := l.Record(ctx, "https://example.com/p1", "TP01", "timeout", domain.FailureTransient)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if first.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", first.RetryCount)
	}

	second, err := l.Record(ctx, "https://example.com/p1", "TP01", "reset by peer", domain.FailureTransient)
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if second.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", second.RetryCount)
	}
	if second.Reason != "reset by peer" {
		t.Errorf("expected latest reason to win, got %q", second.Reason)
	}

	records, err := l.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected exactly one live record, got %d", len(records))
	}

	// The file itself must hold a single line for the URL, not an append log.
	data, err := os.ReadFile(l.path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if n := strings.Count(string(data), "example.com/p1"); n != 1 {
		t.Errorf("expected 1 line for URL, found %d", n)
	}
}

func TestResolveRemovesRecord(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	if _, err := l.Record(ctx, "u1", "TP01", "timeout", domain.FailureTransient); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := l.Resolve(ctx, "u1"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	record, err := l.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record != nil {
		t.Errorf("expected record removed, got %+v", record)
	}

	// Resolving again is idempotent.
	if err := l.Resolve(ctx, "u1"); err != nil {
		t.Errorf("second Resolve: %v", err)
	}
}

func TestListOrdersByRetryCount(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	for i := 0; i < 3; i++ {
		if _, err := l.Record(ctx, "chronic", "TP01", "timeout", domain.FailureTransient); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if _, err := l.Record(ctx, "fresh", "TP02", "timeout", domain.FailureTransient); err != nil {
		t.Fatalf("Record: %v", err)
	}

	records, err := l.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 || records[0].URL != "fresh" {
		t.Errorf("expected least-retried first, got %+v", records)
	}
}

func TestResetMakesExhaustedRetryable(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	for i := 0; i < 4; i++ {
		if _, err := l.Record(ctx, "u1", "TP01", "timeout", domain.FailureTransient); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	record, _ := l.Get(ctx, "u1")
	if record.Actionable(3) {
		t.Fatal("expected record beyond the cap to be non-actionable")
	}

	if err := l.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	record, _ = l.Get(ctx, "u1")
	if record.RetryCount != 0 || !record.Actionable(3) {
		t.Errorf("expected reset record to be actionable, got %+v", record)
	}
}

func TestVerifyAndPrune(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	for _, url := range []string{"healed", "still-broken", "probe-error"} {
		if _, err := l.Record(ctx, url, "TP01", "timeout", domain.FailureTransient); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	candidates, _ := l.List(ctx)
	pruned, err := VerifyAndPrune(ctx, l, candidates, func(ctx context.Context, r *domain.FailureRecord) (bool, error) {
		switch r.URL {
		case "healed":
			return true, nil
		case "probe-error":
			return false, errors.New("probe failed")
		default:
			return false, nil
		}
	})
	if err != nil {
		t.Fatalf("VerifyAndPrune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("expected 1 pruned, got %d", pruned)
	}

	records, _ := l.List(ctx)
	if len(records) != 2 {
		t.Errorf("expected 2 remaining records, got %d", len(records))
	}
	for _, r := range records {
		if r.URL == "healed" {
			t.Error("healed record should have been resolved")
		}
	}
}

func TestLoadCompactsDuplicateLines(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "failures.jsonl")

	// Simulate a legacy append-style file with duplicate URLs.
	legacy := `{"url":"u1","context":"TP01","reason":"old","kind":"transient","retry_count":1,"timestamp":"2026-01-01T00:00:00Z"}
{"url":"u1","context":"TP01","reason":"new","kind":"transient","retry_count":2,"timestamp":"2026-02-01T00:00:00Z"}
`
	if err := os.WriteFile(path, []byte(legacy), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	l, err := NewFileLedger(path)
	if err != nil {
		t.Fatalf("NewFileLedger: %v", err)
	}
	record, err := l.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if record == nil || record.Reason != "new" || record.RetryCount != 2 {
		t.Errorf("expected newest duplicate to win, got %+v", record)
	}
}
