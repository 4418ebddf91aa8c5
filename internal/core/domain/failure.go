package domain

import "time"

// FailureKind categorizes a fetch outcome per the error taxonomy. Zero-result
// fetches are tracked separately from hard errors so legitimately-empty pages
// are not retried at the same priority.
type FailureKind string

const (
	FailureTransient FailureKind = "transient"
	FailureParse     FailureKind = "parse"
	FailureEmpty     FailureKind = "empty"
	FailureExhausted FailureKind = "exhausted"
)

// FailureRecord is one live ledger entry. The ledger guarantees at most one
// record per URL; a later record for the same URL replaces the earlier one.
type FailureRecord struct {
	URL        string      `json:"url"`
	Context    string      `json:"context"`
	Reason     string      `json:"reason"`
	Kind       FailureKind `json:"kind"`
	RetryCount int         `json:"retry_count"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Actionable reports whether the record is still eligible for automatic
// retries under the given cap. Empty outcomes are re-verified rather than
// retried, so they never count as actionable work.
func (r *FailureRecord) Actionable(maxRetries int) bool {
	if r.Kind == FailureEmpty || r.Kind == FailureExhausted {
		return false
	}
	return r.RetryCount < maxRetries
}
