package status

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/cataloger/internal/catalog/breaker"
	"github.com/vietddude/cataloger/internal/catalog/cache"
	"github.com/vietddude/cataloger/internal/catalog/ledger"
	"github.com/vietddude/cataloger/internal/core/config"
	"github.com/vietddude/cataloger/internal/core/domain"
)

// Status is the aggregate health level of the cache service.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Health is the point-in-time view served on the status endpoints.
type Health struct {
	Status          Status        `json:"status"`
	CurrentTier     string        `json:"current_tier"`
	SnapshotVersion int64         `json:"snapshot_version,omitempty"`
	SnapshotAge     time.Duration `json:"snapshot_age,omitempty"`

	TotalLeaves         int `json:"total_leaves"`
	TotalProducts       int `json:"total_products"`
	TotalSpecifications int `json:"total_specifications"`

	FailureRecords  int           `json:"failure_records"`
	ActionableItems int           `json:"actionable_items"`
	BreakerHealthy  bool          `json:"breaker_healthy"`
	BreakerStats    breaker.Stats `json:"breaker_stats"`
	CheckedAt       time.Time     `json:"checked_at"`
}

// Monitor aggregates store, ledger and breaker state into one health view.
// Checks are rate limited so status polling never hammers the disk.
type Monitor struct {
	store   *cache.Store
	ledger  ledger.Ledger
	breaker *breaker.Breaker
	crawl   config.CrawlConfig

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *Health
}

// NewMonitor creates a monitor over the given components.
func NewMonitor(
	store *cache.Store,
	l ledger.Ledger,
	b *breaker.Breaker,
	crawl config.CrawlConfig,
) *Monitor {
	return &Monitor{store: store, ledger: l, breaker: b, crawl: crawl}
}

// Check builds a health report, reusing the previous one when it is younger
// than ten seconds.
func (m *Monitor) Check(ctx context.Context) *Health {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && time.Since(m.lastCheck) < 10*time.Second {
		return m.lastReport
	}

	health := &Health{
		Status:      StatusHealthy,
		CurrentTier: domain.TierNone.String(),
		CheckedAt:   time.Now(),
	}

	tier, snap, err := m.store.GetCurrentTier(ctx)
	if err == nil && snap != nil {
		health.CurrentTier = tier.String()
		health.SnapshotVersion = snap.Metadata.Version
		health.SnapshotAge = snap.Age(time.Now())
		health.TotalLeaves = snap.Metadata.TotalLeaves
		health.TotalProducts = snap.Metadata.TotalProducts
		health.TotalSpecifications = snap.Metadata.TotalSpecifications
	}

	if records, err := m.ledger.List(ctx); err == nil {
		health.FailureRecords = len(records)
		for _, record := range records {
			if record.Actionable(m.crawl.MaxRetries) {
				health.ActionableItems++
			}
		}
	}

	health.BreakerHealthy = m.breaker.IsHealthy()
	health.BreakerStats = m.breaker.GetStats()

	switch {
	case !health.BreakerHealthy:
		health.Status = StatusCritical
	case tier == domain.TierNone || health.ActionableItems > 0:
		health.Status = StatusDegraded
	}

	m.lastCheck = time.Now()
	m.lastReport = health
	return health
}
