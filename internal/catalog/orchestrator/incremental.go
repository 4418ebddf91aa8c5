package orchestrator

import (
	"context"
	"fmt"

	"github.com/vietddude/cataloger/internal/catalog/detector"
	"github.com/vietddude/cataloger/internal/core/domain"
)

// RunIncremental refreshes an existing cache with the minimum fetch budget:
// time gate, then a sampled probe, then a detailed diff applied to only the
// changed parts. Without a usable cache it falls back to a full progressive
// build.
func (o *Orchestrator) RunIncremental(
	ctx context.Context,
	target domain.Tier,
) (*RunReport, error) {
	current, snap, err := o.store.GetCurrentTier(ctx)
	if err != nil {
		report := o.newReport("incremental", target)
		return report, o.finish(report, nil, fmt.Errorf("read cache: %w", err))
	}
	if current == domain.TierNone {
		o.log.Info("No usable cache, falling back to full build")
		return o.Run(ctx, target, false)
	}

	report := o.newReport("incremental", target)
	report.StartTier = current
	report.FinalTier = current

	if o.detector.Fresh(snap) {
		o.log.Info("Snapshot inside minimum check interval, skipping detection",
			"run_id", report.RunID, "age", snap.Age(o.now()))
		// The cache may still be below the target tier; extend it even when
		// nothing changed.
		snap, err = o.climb(ctx, report, snap, current, target)
		if err != nil {
			return report, o.finish(report, snap, err)
		}
		report.Terminal = report.FinalTier >= target && !o.hasActionableFailures(ctx, report)
		return report, o.finish(report, snap, nil)
	}

	probe := o.detector.QuickDetect(ctx, snap)
	if probe.Changed {
		suspects := probe.ChangedLeafs
		if probe.ChangeRatio > o.detect.FullCheckRatio {
			o.log.Info("Change ratio above full-check threshold, diffing every leaf",
				"run_id", report.RunID, "ratio", probe.ChangeRatio)
			suspects = leafCodes(snap)
		}

		diff, err := o.detector.DetailedDiff(ctx, snap, suspects)
		if err != nil {
			return report, o.finish(report, snap, fmt.Errorf("detailed diff: %w", err))
		}
		changed := applyDiff(snap, diff)
		if err := o.store.SaveSnapshot(ctx, snap, current); err != nil {
			return report, o.finish(report, snap, fmt.Errorf("persist diff: %w", err))
		}

		// Newly added or changed leaves need their products refetched, and
		// their products need specifications if the cache carries that tier.
		if current >= domain.TierProducts && len(changed) > 0 {
			if err := o.extendProducts(ctx, report, snap, changed); err != nil {
				return report, o.finish(report, snap, err)
			}
			if err := o.store.SaveSnapshot(ctx, snap, current); err != nil {
				return report, o.finish(report, snap, fmt.Errorf("persist products: %w", err))
			}
		}
		if current >= domain.TierSpecifications {
			if err := o.extendSpecifications(ctx, report, snap); err != nil {
				return report, o.finish(report, snap, err)
			}
			if err := o.store.SaveSnapshot(ctx, snap, current); err != nil {
				return report, o.finish(report, snap, fmt.Errorf("persist specifications: %w", err))
			}
		}
	}

	snap, err = o.climb(ctx, report, snap, current, target)
	if err != nil {
		return report, o.finish(report, snap, err)
	}
	if err := o.retryPass(ctx, report, snap, target); err != nil {
		return report, o.finish(report, snap, err)
	}
	report.Terminal = report.FinalTier >= target && !o.hasActionableFailures(ctx, report)
	return report, o.finish(report, snap, nil)
}

func leafCodes(snap *domain.Snapshot) []string {
	codes := make([]string, 0, len(snap.Leaves))
	for _, leaf := range snap.Leaves {
		codes = append(codes, leaf.Code)
	}
	return codes
}

// applyDiff merges the diff into the snapshot, preserving cached data for
// everything the diff did not touch. Returns the leaf codes needing a product
// refetch.
func applyDiff(snap *domain.Snapshot, diff *detector.Diff) map[string]bool {
	cached := make(map[string]*domain.LeafEntry, len(snap.Leaves))
	for _, leaf := range snap.Leaves {
		cached[leaf.Code] = leaf
	}

	changed := make(map[string]bool)
	merged := make([]*domain.LeafEntry, 0, len(diff.NewLeaves))
	for _, fresh := range diff.NewLeaves {
		old, ok := cached[fresh.Code]
		if !ok {
			// Brand new leaf, needs everything fetched.
			merged = append(merged, fresh)
			changed[fresh.Code] = true
			continue
		}

		links, isChanged := diff.ChangedLeaves[fresh.Code]
		if !isChanged {
			// Untouched: keep the cached entry wholesale, products and all.
			merged = append(merged, old)
			continue
		}

		// Changed: keep cached product objects still present upstream (their
		// specifications survive), add placeholders for new URLs.
		byURL := make(map[string]*domain.Product, len(old.Products))
		for _, p := range old.Products {
			byURL[p.URL] = p
		}
		rebuilt := *old
		rebuilt.Products = nil
		rebuilt.ProductCount = 0
		products := make([]*domain.Product, 0, len(links))
		for _, link := range links {
			if p, ok := byURL[link]; ok {
				products = append(products, p)
			} else {
				products = append(products, &domain.Product{URL: link})
			}
		}
		rebuilt.AddProducts(products)
		merged = append(merged, &rebuilt)
		changed[fresh.Code] = true
	}

	snap.Root = diff.NewRoot
	snap.Leaves = merged
	return changed
}
