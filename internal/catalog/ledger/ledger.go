package ledger

import (
	"context"

	"github.com/vietddude/cataloger/internal/core/domain"
)

// Ledger is the deduplicated per-item failure record store. Implementations
// guarantee at most one live record per URL: Record on an existing URL
// replaces the record and bumps its retry count, never appends a duplicate.
type Ledger interface {
	// Record notes a failure for a URL, creating or updating its record.
	Record(
		ctx context.Context,
		url, itemCtx, reason string,
		kind domain.FailureKind,
	) (*domain.FailureRecord, error)

	// Resolve removes the record for a URL after a successful fetch.
	Resolve(ctx context.Context, url string) error

	// Get returns the live record for a URL, or nil.
	Get(ctx context.Context, url string) (*domain.FailureRecord, error)

	// List returns all live records, least-retried first.
	List(ctx context.Context) ([]*domain.FailureRecord, error)

	// Reset zeroes the retry count so an exhausted item is retried again.
	Reset(ctx context.Context, url string) error

	// Close releases backend resources.
	Close() error
}

// Verifier probes whether the item behind a failure record has already
// healed out-of-band, e.g. valid cached data exists for it.
type Verifier func(ctx context.Context, record *domain.FailureRecord) (healed bool, err error)

// VerifyAndPrune runs the verifier over candidate records and resolves the
// ones reported healed. It returns the number of records pruned. Verifier
// errors skip the record rather than abort the pass, so one bad probe cannot
// keep the ledger growing.
func VerifyAndPrune(
	ctx context.Context,
	l Ledger,
	candidates []*domain.FailureRecord,
	verifier Verifier,
) (int, error) {
	pruned := 0
	for _, record := range candidates {
		if ctx.Err() != nil {
			return pruned, ctx.Err()
		}
		healed, err := verifier(ctx, record)
		if err != nil || !healed {
			continue
		}
		if err := l.Resolve(ctx, record.URL); err != nil {
			return pruned, err
		}
		pruned++
	}
	return pruned, nil
}
