package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vietddude/cataloger/internal/core/domain"
)

// LedgerRepo implements the failure ledger on Redis. Each URL maps to one
// hash entry, and a sorted set scored by retry count keeps listing order so
// the least-retried items surface first.
type LedgerRepo struct {
	rdb       *redis.Client
	namespace string
}

// NewLedgerRepo creates a new Redis-backed failure ledger.
func NewLedgerRepo(client *Client, namespace string) *LedgerRepo {
	return &LedgerRepo{
		rdb:       client.rdb,
		namespace: namespace,
	}
}

// Key helpers
func (r *LedgerRepo) queueKey() string {
	return fmt.Sprintf("failures:%s", r.namespace)
}

func (r *LedgerRepo) recordKey(url string) string {
	return fmt.Sprintf("failure:%s:%s", r.namespace, url)
}

// Record stores or updates the failure for a URL. The record key enforces the
// one-record-per-URL invariant.
func (r *LedgerRepo) Record(
	ctx context.Context,
	url, itemCtx, reason string,
	kind domain.FailureKind,
) (*domain.FailureRecord, error) {
	record, err := r.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if record == nil {
		record = &domain.FailureRecord{URL: url}
	}
	record.Context = itemCtx
	record.Reason = reason
	record.Kind = kind
	record.RetryCount++
	record.Timestamp = time.Now().UTC()

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal failure record: %w", err)
	}

	if err := r.rdb.Set(ctx, r.recordKey(url), data, 0).Err(); err != nil {
		return nil, fmt.Errorf("failed to set failure record: %w", err)
	}

	if err := r.rdb.ZAdd(ctx, r.queueKey(), redis.Z{
		Score:  float64(record.RetryCount),
		Member: url,
	}).Err(); err != nil {
		return nil, fmt.Errorf("failed to add to failure queue: %w", err)
	}

	return record, nil
}

// Resolve removes the record for a URL.
func (r *LedgerRepo) Resolve(ctx context.Context, url string) error {
	if err := r.rdb.Del(ctx, r.recordKey(url)).Err(); err != nil {
		return fmt.Errorf("failed to delete failure record: %w", err)
	}
	if err := r.rdb.ZRem(ctx, r.queueKey(), url).Err(); err != nil {
		return fmt.Errorf("failed to remove from failure queue: %w", err)
	}
	return nil
}

// Get returns the live record for a URL, or nil.
func (r *LedgerRepo) Get(ctx context.Context, url string) (*domain.FailureRecord, error) {
	data, err := r.rdb.Get(ctx, r.recordKey(url)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get failure record: %w", err)
	}

	var record domain.FailureRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal failure record: %w", err)
	}
	return &record, nil
}

// List returns all live records ordered by retry count ascending.
func (r *LedgerRepo) List(ctx context.Context) ([]*domain.FailureRecord, error) {
	urls, err := r.rdb.ZRange(ctx, r.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range failure queue: %w", err)
	}

	records := make([]*domain.FailureRecord, 0, len(urls))
	for _, url := range urls {
		record, err := r.Get(ctx, url)
		if err != nil {
			return nil, err
		}
		if record == nil {
			// Queue member without a record: stale, drop it.
			_ = r.rdb.ZRem(ctx, r.queueKey(), url).Err()
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// Reset zeroes the retry count for a URL so it becomes retryable again.
func (r *LedgerRepo) Reset(ctx context.Context, url string) error {
	record, err := r.Get(ctx, url)
	if err != nil {
		return err
	}
	if record == nil {
		return nil
	}
	record.RetryCount = 0
	record.Kind = domain.FailureTransient
	record.Timestamp = time.Now().UTC()

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal failure record: %w", err)
	}
	if err := r.rdb.Set(ctx, r.recordKey(url), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set failure record: %w", err)
	}
	return r.rdb.ZAdd(ctx, r.queueKey(), redis.Z{Score: 0, Member: url}).Err()
}

// Close is a no-op; the shared client owns the connection.
func (r *LedgerRepo) Close() error {
	return nil
}
