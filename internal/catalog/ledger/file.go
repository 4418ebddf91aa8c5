package ledger

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/cataloger/internal/core/domain"
)

// FileLedger stores failure records in a JSON-lines file, one line per
// distinct URL. Every mutation is a full read-modify-write under an exclusive
// lock followed by an atomic rename, so duplicate lines can never accumulate
// and a crash mid-write leaves the previous file intact.
type FileLedger struct {
	path string
	mu   sync.Mutex
}

// NewFileLedger creates a file-backed ledger at path, creating parent
// directories as needed.
func NewFileLedger(path string) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger dir: %w", err)
	}
	return &FileLedger{path: path}, nil
}

func (l *FileLedger) load() (map[string]*domain.FailureRecord, error) {
	records := make(map[string]*domain.FailureRecord)

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record domain.FailureRecord
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			// A torn line from an old crash: skip rather than fail the run.
			continue
		}
		if record.URL == "" {
			continue
		}
		existing, ok := records[record.URL]
		if ok && existing.Timestamp.After(record.Timestamp) {
			continue
		}
		records[record.URL] = &record
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	return records, nil
}

func (l *FileLedger) flush(records map[string]*domain.FailureRecord) error {
	ordered := make([]*domain.FailureRecord, 0, len(records))
	for _, record := range records {
		ordered = append(ordered, record)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].RetryCount != ordered[j].RetryCount {
			return ordered[i].RetryCount < ordered[j].RetryCount
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	tmp := l.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create ledger temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	for _, record := range ordered {
		data, err := json.Marshal(record)
		if err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to marshal failure record: %w", err)
		}
		if _, err := w.Write(append(data, '\n')); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to write ledger: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to flush ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close ledger: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("failed to replace ledger: %w", err)
	}
	return nil
}

// Record notes a failure, replacing any previous record for the same URL.
func (l *FileLedger) Record(
	ctx context.Context,
	url, itemCtx, reason string,
	kind domain.FailureKind,
) (*domain.FailureRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return nil, err
	}

	record, ok := records[url]
	if !ok {
		record = &domain.FailureRecord{URL: url}
		records[url] = record
	}
	record.Context = itemCtx
	record.Reason = reason
	record.Kind = kind
	record.RetryCount++
	record.Timestamp = time.Now().UTC()

	if err := l.flush(records); err != nil {
		return nil, err
	}
	out := *record
	return &out, nil
}

// Resolve removes the record for a URL. Resolving an absent URL is a no-op.
func (l *FileLedger) Resolve(ctx context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return err
	}
	if _, ok := records[url]; !ok {
		return nil
	}
	delete(records, url)
	return l.flush(records)
}

// Get returns the live record for a URL, or nil.
func (l *FileLedger) Get(ctx context.Context, url string) (*domain.FailureRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return nil, err
	}
	record, ok := records[url]
	if !ok {
		return nil, nil
	}
	out := *record
	return &out, nil
}

// List returns all live records, least-retried first.
func (l *FileLedger) List(ctx context.Context) ([]*domain.FailureRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return nil, err
	}
	ordered := make([]*domain.FailureRecord, 0, len(records))
	for _, record := range records {
		out := *record
		ordered = append(ordered, &out)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].RetryCount != ordered[j].RetryCount {
			return ordered[i].RetryCount < ordered[j].RetryCount
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})
	return ordered, nil
}

// Reset zeroes the retry count for a URL.
func (l *FileLedger) Reset(ctx context.Context, url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.load()
	if err != nil {
		return err
	}
	record, ok := records[url]
	if !ok {
		return nil
	}
	record.RetryCount = 0
	record.Kind = domain.FailureTransient
	record.Timestamp = time.Now().UTC()
	return l.flush(records)
}

// Close is a no-op for the file backend.
func (l *FileLedger) Close() error {
	return nil
}
