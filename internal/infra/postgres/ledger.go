package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/cataloger/internal/core/domain"
)

// LedgerRepo implements the failure ledger on PostgreSQL. The url primary key
// enforces the single-live-record invariant at the schema level.
type LedgerRepo struct {
	db *DB
}

// NewLedgerRepo creates a new PostgreSQL failure ledger.
func NewLedgerRepo(db *DB) *LedgerRepo {
	return &LedgerRepo{db: db}
}

type failureRow struct {
	URL        string    `db:"url"`
	Context    string    `db:"context"`
	Reason     string    `db:"reason"`
	Kind       string    `db:"kind"`
	RetryCount int       `db:"retry_count"`
	Timestamp  time.Time `db:"last_attempt"`
}

func (r failureRow) toDomain() *domain.FailureRecord {
	return &domain.FailureRecord{
		URL:        r.URL,
		Context:    r.Context,
		Reason:     r.Reason,
		Kind:       domain.FailureKind(r.Kind),
		RetryCount: r.RetryCount,
		Timestamp:  r.Timestamp,
	}
}

// Record upserts a failure. An existing record for the URL has its retry
// count incremented and reason replaced; a new record starts at count 1.
func (r *LedgerRepo) Record(
	ctx context.Context,
	url, itemCtx, reason string,
	kind domain.FailureKind,
) (*domain.FailureRecord, error) {
	query := `
		INSERT INTO failure_records (url, context, reason, kind, retry_count, last_attempt)
		VALUES ($1, $2, $3, $4, 1, NOW())
		ON CONFLICT (url) DO UPDATE SET
			context = EXCLUDED.context,
			reason = EXCLUDED.reason,
			kind = EXCLUDED.kind,
			retry_count = failure_records.retry_count + 1,
			last_attempt = NOW()
		RETURNING url, context, reason, kind, retry_count, last_attempt
	`

	var row failureRow
	if err := r.db.GetContext(ctx, &row, query, url, itemCtx, reason, string(kind)); err != nil {
		return nil, fmt.Errorf("failed to record failure: %w", err)
	}
	return row.toDomain(), nil
}

// Resolve removes the record for a URL. Resolving an absent URL is a no-op.
func (r *LedgerRepo) Resolve(ctx context.Context, url string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM failure_records WHERE url = $1`, url); err != nil {
		return fmt.Errorf("failed to resolve failure: %w", err)
	}
	return nil
}

// Get returns the live record for a URL, or nil.
func (r *LedgerRepo) Get(ctx context.Context, url string) (*domain.FailureRecord, error) {
	query := `
		SELECT url, context, reason, kind, retry_count, last_attempt
		FROM failure_records
		WHERE url = $1
	`

	var row failureRow
	err := r.db.GetContext(ctx, &row, query, url)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failure record: %w", err)
	}
	return row.toDomain(), nil
}

// List returns all live records, lowest retry count first so retry passes
// pick up the least-hammered items before the chronic ones.
func (r *LedgerRepo) List(ctx context.Context) ([]*domain.FailureRecord, error) {
	query := `
		SELECT url, context, reason, kind, retry_count, last_attempt
		FROM failure_records
		ORDER BY retry_count ASC, last_attempt ASC
	`

	var rows []failureRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list failure records: %w", err)
	}

	records := make([]*domain.FailureRecord, len(rows))
	for i, row := range rows {
		records[i] = row.toDomain()
	}
	return records, nil
}

// Reset zeroes the retry count so an exhausted item becomes retryable again.
func (r *LedgerRepo) Reset(ctx context.Context, url string) error {
	query := `
		UPDATE failure_records
		SET retry_count = 0, kind = $2, last_attempt = NOW()
		WHERE url = $1
	`
	if _, err := r.db.ExecContext(ctx, query, url, string(domain.FailureTransient)); err != nil {
		return fmt.Errorf("failed to reset failure record: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (r *LedgerRepo) Close() error {
	return r.db.Close()
}
