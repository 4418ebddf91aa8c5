package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/cataloger/internal/catalog/cache"
	"github.com/vietddude/cataloger/internal/catalog/coordinator"
	"github.com/vietddude/cataloger/internal/catalog/detector"
	"github.com/vietddude/cataloger/internal/catalog/ledger"
	"github.com/vietddude/cataloger/internal/catalog/metrics"
	"github.com/vietddude/cataloger/internal/core/config"
	"github.com/vietddude/cataloger/internal/core/domain"
	"github.com/vietddude/cataloger/internal/infra/fetch"
)

// Failure record contexts. The retry pass parses these to know how to
// re-dispatch a ledger entry.
const (
	ctxClassification = "classification"
	ctxLeafPrefix     = "leaf:"
	ctxProductPrefix  = "product:"
)

// Orchestrator walks the tier ladder one step at a time: classification tree,
// then product links per leaf, then specifications per product. Each tier is
// persisted before the next begins, so a crash never loses a completed tier.
type Orchestrator struct {
	store    *cache.Store
	fetcher  fetch.Fetcher
	coord    *coordinator.Coordinator
	detector *detector.Detector
	ledger   ledger.Ledger
	crawl    config.CrawlConfig
	detect   config.DetectionConfig
	log      *slog.Logger

	// Overridable for tests.
	now func() time.Time
}

// New creates an orchestrator over the given collaborators.
func New(
	store *cache.Store,
	fetcher fetch.Fetcher,
	coord *coordinator.Coordinator,
	det *detector.Detector,
	l ledger.Ledger,
	crawl config.CrawlConfig,
	detect config.DetectionConfig,
) *Orchestrator {
	return &Orchestrator{
		store:    store,
		fetcher:  fetcher,
		coord:    coord,
		detector: det,
		ledger:   l,
		crawl:    crawl,
		detect:   detect,
		log:      slog.Default().With("component", "orchestrator"),
		now:      time.Now,
	}
}

// RunReport summarizes one run for operators and the status endpoint.
type RunReport struct {
	RunID      string        `json:"run_id"`
	Mode       string        `json:"mode"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`

	StartTier  domain.Tier `json:"start_tier"`
	TargetTier domain.Tier `json:"target_tier"`
	FinalTier  domain.Tier `json:"final_tier"`
	TiersBuilt []string    `json:"tiers_built"`

	TotalLeaves         int `json:"total_leaves"`
	TotalProducts       int `json:"total_products"`
	TotalSpecifications int `json:"total_specifications"`

	Succeeded int                     `json:"succeeded"`
	Failed    int                     `json:"failed"`
	Exhausted int                     `json:"exhausted"`
	Pruned    int                     `json:"pruned"`
	Failures  []*domain.FailureRecord `json:"failures,omitempty"`

	// Terminal means the target tier is reached and no actionable failure
	// remains: re-running would do no work.
	Terminal bool `json:"terminal"`
}

func (o *Orchestrator) newReport(mode string, target domain.Tier) *RunReport {
	return &RunReport{
		RunID:      uuid.NewString(),
		Mode:       mode,
		StartedAt:  o.now(),
		TargetTier: target,
	}
}

func (o *Orchestrator) finish(report *RunReport, snap *domain.Snapshot, err error) error {
	report.FinishedAt = o.now()
	report.Duration = report.FinishedAt.Sub(report.StartedAt)
	if snap != nil {
		report.TotalLeaves = snap.Metadata.TotalLeaves
		report.TotalProducts = snap.Metadata.TotalProducts
		report.TotalSpecifications = snap.Metadata.TotalSpecifications
	}

	result := "success"
	if err != nil {
		result = "failed"
	}
	metrics.RunsTotal.WithLabelValues(result).Inc()

	o.log.Info("Run finished",
		"run_id", report.RunID,
		"mode", report.Mode,
		"result", result,
		"final_tier", report.FinalTier.String(),
		"leaves", report.TotalLeaves,
		"products", report.TotalProducts,
		"specifications", report.TotalSpecifications,
		"failed", report.Failed,
		"duration", report.Duration,
	)
	return err
}

// Run builds the cache progressively up to the target tier. forceRefresh
// discards the cached state and starts from nothing. The returned report is
// non-nil even on error.
func (o *Orchestrator) Run(
	ctx context.Context,
	target domain.Tier,
	forceRefresh bool,
) (*RunReport, error) {
	report := o.newReport("progressive", target)

	if !target.Valid() || target == domain.TierNone {
		err := fmt.Errorf("invalid target tier %d", int(target))
		return report, o.finish(report, nil, err)
	}

	current := domain.TierNone
	var snap *domain.Snapshot
	if !forceRefresh {
		var err error
		current, snap, err = o.store.GetCurrentTier(ctx)
		if err != nil {
			return report, o.finish(report, nil, fmt.Errorf("read cache: %w", err))
		}
	}
	report.StartTier = current
	report.FinalTier = current
	o.log.Info("Run starting",
		"run_id", report.RunID,
		"current", current.String(),
		"target", target.String(),
		"force_refresh", forceRefresh,
	)

	snap, err := o.climb(ctx, report, snap, current, target)
	if err != nil {
		return report, o.finish(report, snap, err)
	}

	if err := o.retryPass(ctx, report, snap, target); err != nil {
		return report, o.finish(report, snap, err)
	}

	report.Terminal = report.FinalTier >= target && !o.hasActionableFailures(ctx, report)
	return report, o.finish(report, snap, nil)
}

// climb extends the snapshot one tier at a time, persisting after each step.
func (o *Orchestrator) climb(
	ctx context.Context,
	report *RunReport,
	snap *domain.Snapshot,
	current, target domain.Tier,
) (*domain.Snapshot, error) {
	for current < target {
		if err := ctx.Err(); err != nil {
			return snap, err
		}
		next := current.Next()
		o.log.Info("Building tier", "run_id", report.RunID, "tier", next.String())

		var err error
		switch next {
		case domain.TierClassification:
			snap, err = o.buildClassification(ctx, report)
		case domain.TierProducts:
			err = o.extendProducts(ctx, report, snap, nil)
		case domain.TierSpecifications:
			err = o.extendSpecifications(ctx, report, snap)
		}
		if err != nil {
			return snap, err
		}

		if err := o.store.SaveSnapshot(ctx, snap, next); err != nil {
			return snap, fmt.Errorf("persist tier %s: %w", next, err)
		}
		report.TiersBuilt = append(report.TiersBuilt, next.String())
		report.FinalTier = next
		current = next
	}
	return snap, nil
}

// buildClassification fetches the tree. This is one fetch, but it still goes
// through the coordinator so failures land in the ledger like everything
// else.
func (o *Orchestrator) buildClassification(
	ctx context.Context,
	report *RunReport,
) (*domain.Snapshot, error) {
	var (
		mu   sync.Mutex
		snap *domain.Snapshot
	)
	items := []coordinator.Item{{
		URL:     ctxClassification,
		Context: ctxClassification,
		Tier:    domain.TierClassification,
	}}
	batch := o.coord.RunBatch(ctx, items, func(ctx context.Context, _ coordinator.Item) error {
		root, leaves, err := o.fetcher.FetchClassificationTree(ctx)
		if err != nil {
			return err
		}
		mu.Lock()
		snap = &domain.Snapshot{Root: root, Leaves: leaves}
		mu.Unlock()
		return nil
	})
	o.tally(report, batch)

	if snap == nil {
		return nil, fmt.Errorf("classification tree unavailable: %w",
			batch.Results[ctxClassification].Err)
	}
	return snap, nil
}

// extendProducts fetches product links for leaves that have none yet, or for
// an explicit subset. Each item mutates only its own leaf, so no locking is
// needed across items.
func (o *Orchestrator) extendProducts(
	ctx context.Context,
	report *RunReport,
	snap *domain.Snapshot,
	only map[string]bool,
) error {
	var items []coordinator.Item
	byURL := make(map[string]*domain.LeafEntry)
	for _, leaf := range snap.Leaves {
		if only != nil && !only[leaf.Code] {
			continue
		}
		if leaf.ProductCount > 0 {
			continue // already fetched
		}
		byURL[leaf.URL] = leaf
		items = append(items, o.withLedgerState(ctx, coordinator.Item{
			URL:     leaf.URL,
			Context: ctxLeafPrefix + leaf.Code,
			Tier:    domain.TierProducts,
		}))
	}
	if len(items) == 0 {
		return nil
	}

	batch := o.coord.RunBatch(ctx, items, func(ctx context.Context, item coordinator.Item) error {
		leaf := byURL[item.URL]
		links, err := o.fetcher.FetchProductLinks(ctx, item.URL)
		if err != nil {
			return err
		}
		if len(links) == 0 {
			// Legitimately empty leaves are noted for re-verification, not
			// treated as errors.
			o.recordEmpty(ctx, item)
			return nil
		}
		products := make([]*domain.Product, 0, len(links))
		for _, link := range links {
			products = append(products, &domain.Product{URL: link})
		}
		leaf.AddProducts(products)
		return nil
	})
	o.tally(report, batch)
	return nil
}

// extendSpecifications fetches specification rows for products that have none
// yet. Items touch distinct product structs.
func (o *Orchestrator) extendSpecifications(
	ctx context.Context,
	report *RunReport,
	snap *domain.Snapshot,
) error {
	var items []coordinator.Item
	byURL := make(map[string]*domain.Product)
	for _, leaf := range snap.Leaves {
		for _, p := range leaf.Products {
			if p.SpecCount > 0 {
				continue
			}
			byURL[p.URL] = p
			items = append(items, o.withLedgerState(ctx, coordinator.Item{
				URL:     p.URL,
				Context: ctxProductPrefix + leaf.Code,
				Tier:    domain.TierSpecifications,
			}))
		}
	}
	if len(items) == 0 {
		return nil
	}

	batch := o.coord.RunBatch(ctx, items, func(ctx context.Context, item coordinator.Item) error {
		product := byURL[item.URL]
		specs, err := o.fetcher.FetchSpecifications(ctx, item.URL)
		if err != nil {
			return err
		}
		if len(specs) == 0 {
			o.recordEmpty(ctx, item)
			return nil
		}
		product.Specifications = specs
		product.SpecCount = len(specs)
		return nil
	})
	o.tally(report, batch)
	return nil
}

// withLedgerState loads the cross-run retry count for an item so the
// coordinator can enforce the cap and schedule retries first.
func (o *Orchestrator) withLedgerState(
	ctx context.Context,
	item coordinator.Item,
) coordinator.Item {
	record, err := o.ledger.Get(ctx, item.URL)
	if err != nil || record == nil {
		return item
	}
	item.RetryCount = record.RetryCount
	item.Retried = true
	return item
}

func (o *Orchestrator) recordEmpty(ctx context.Context, item coordinator.Item) {
	_, err := o.ledger.Record(ctx, item.URL, item.Context, "no items on page",
		domain.FailureEmpty)
	if err != nil {
		o.log.Warn("Failed to record empty outcome", "url", item.URL, "error", err)
	}
}

func (o *Orchestrator) tally(report *RunReport, batch *coordinator.BatchResult) {
	report.Succeeded += batch.Succeeded
	report.Failed += batch.Failed
	report.Exhausted += batch.Exhausted
}

// retryPass runs once the target tier is reached: prune ledger entries the
// cache already covers, then re-dispatch the actionable remainder.
func (o *Orchestrator) retryPass(
	ctx context.Context,
	report *RunReport,
	snap *domain.Snapshot,
	target domain.Tier,
) error {
	if snap == nil || report.FinalTier < target {
		return nil
	}

	records, err := o.ledger.List(ctx)
	if err != nil {
		return fmt.Errorf("list ledger: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	pruned, err := ledger.VerifyAndPrune(ctx, o.ledger, records, o.healedBySnapshot(snap))
	if err != nil {
		return fmt.Errorf("prune ledger: %w", err)
	}
	report.Pruned = pruned

	records, err = o.ledger.List(ctx)
	if err != nil {
		return fmt.Errorf("list ledger: %w", err)
	}
	metrics.LedgerRecords.Set(float64(len(records)))

	var items []coordinator.Item
	for _, record := range records {
		if !record.Actionable(o.crawl.MaxRetries) {
			continue
		}
		items = append(items, coordinator.Item{
			URL:        record.URL,
			Context:    record.Context,
			Tier:       tierOfContext(record.Context),
			RetryCount: record.RetryCount,
			Retried:    true,
		})
	}
	if len(items) == 0 {
		return nil
	}

	o.log.Info("Retrying ledgered failures", "run_id", report.RunID, "items", len(items))
	batch := o.coord.RunBatch(ctx, items, func(ctx context.Context, item coordinator.Item) error {
		return o.redispatch(ctx, snap, item)
	})
	o.tally(report, batch)

	if batch.Succeeded > 0 {
		if err := o.store.SaveSnapshot(ctx, snap, target); err != nil {
			return fmt.Errorf("persist retry results: %w", err)
		}
	}
	return nil
}

// redispatch replays one ledgered failure according to its recorded context.
func (o *Orchestrator) redispatch(
	ctx context.Context,
	snap *domain.Snapshot,
	item coordinator.Item,
) error {
	switch {
	case item.Context == ctxClassification:
		root, leaves, err := o.fetcher.FetchClassificationTree(ctx)
		if err != nil {
			return err
		}
		snap.Root = root
		snap.Leaves = leaves
		return nil

	case strings.HasPrefix(item.Context, ctxLeafPrefix):
		code := strings.TrimPrefix(item.Context, ctxLeafPrefix)
		leaf := snap.Leaf(code)
		if leaf == nil {
			return nil // leaf no longer exists, nothing to heal
		}
		links, err := o.fetcher.FetchProductLinks(ctx, item.URL)
		if err != nil {
			return err
		}
		products := make([]*domain.Product, 0, len(links))
		for _, link := range links {
			products = append(products, &domain.Product{URL: link})
		}
		leaf.AddProducts(products)
		return nil

	case strings.HasPrefix(item.Context, ctxProductPrefix):
		code := strings.TrimPrefix(item.Context, ctxProductPrefix)
		leaf := snap.Leaf(code)
		if leaf == nil {
			return nil
		}
		for _, p := range leaf.Products {
			if p.URL != item.URL {
				continue
			}
			specs, err := o.fetcher.FetchSpecifications(ctx, item.URL)
			if err != nil {
				return err
			}
			p.Specifications = specs
			p.SpecCount = len(specs)
			return nil
		}
		return nil

	default:
		return domain.NewParseError(item.URL,
			fmt.Errorf("unrecognized failure context %q", item.Context))
	}
}

// healedBySnapshot treats a record as healed when the snapshot already holds
// the data its fetch would have produced.
func (o *Orchestrator) healedBySnapshot(snap *domain.Snapshot) ledger.Verifier {
	return func(_ context.Context, record *domain.FailureRecord) (bool, error) {
		switch {
		case strings.HasPrefix(record.Context, ctxLeafPrefix):
			leaf := snap.Leaf(strings.TrimPrefix(record.Context, ctxLeafPrefix))
			return leaf != nil && leaf.ProductCount > 0, nil
		case strings.HasPrefix(record.Context, ctxProductPrefix):
			leaf := snap.Leaf(strings.TrimPrefix(record.Context, ctxProductPrefix))
			if leaf == nil {
				return false, nil
			}
			for _, p := range leaf.Products {
				if p.URL == record.URL {
					return p.SpecCount > 0, nil
				}
			}
			// Product vanished from the catalog; nothing left to retry.
			return true, nil
		default:
			return false, nil
		}
	}
}

func (o *Orchestrator) hasActionableFailures(ctx context.Context, report *RunReport) bool {
	records, err := o.ledger.List(ctx)
	if err != nil {
		o.log.Warn("Failed to list ledger for terminal check", "error", err)
		return true
	}
	report.Failures = records
	for _, record := range records {
		if record.Actionable(o.crawl.MaxRetries) {
			return true
		}
	}
	return false
}

func tierOfContext(itemCtx string) domain.Tier {
	switch {
	case itemCtx == ctxClassification:
		return domain.TierClassification
	case strings.HasPrefix(itemCtx, ctxLeafPrefix):
		return domain.TierProducts
	case strings.HasPrefix(itemCtx, ctxProductPrefix):
		return domain.TierSpecifications
	default:
		return domain.TierNone
	}
}
