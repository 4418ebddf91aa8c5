package detector

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/vietddude/cataloger/internal/catalog/metrics"
	"github.com/vietddude/cataloger/internal/core/config"
	"github.com/vietddude/cataloger/internal/core/domain"
	"github.com/vietddude/cataloger/internal/infra/fetch"
)

// ProbeResult summarizes a quick change probe. Confidence is a heuristic in
// [0, 0.95]: it grows with sample coverage and with how one-sided the sampled
// outcomes are. It is a prioritization signal, not a statistical guarantee.
type ProbeResult struct {
	Changed      bool
	ChangeRatio  float64
	Confidence   float64
	Checked      int
	ChangedLeafs []string
	Reason       string
}

// Diff is the output of a detailed comparison: the orchestrator applies it
// as add/update/remove sets without refetching unchanged leaves.
type Diff struct {
	NewRoot       *domain.ClassificationNode
	NewLeaves     []*domain.LeafEntry
	AddedLeaves   []*domain.LeafEntry
	RemovedLeaves []string
	// ChangedLeaves maps leaf code to the freshly observed product URLs.
	ChangedLeaves map[string][]string
}

// Detector decides whether a cached snapshot still reflects the upstream
// catalog, spending as little fetch budget as possible.
type Detector struct {
	cfg     config.DetectionConfig
	fetcher fetch.Fetcher
	log     *slog.Logger

	// Overridable for tests.
	now func() time.Time
	rng *rand.Rand
}

// New creates a detector over the given fetcher.
func New(cfg config.DetectionConfig, f fetch.Fetcher) *Detector {
	return &Detector{
		cfg:     cfg,
		fetcher: f,
		log:     slog.Default().With("component", "detector"),
		now:     time.Now,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Fresh reports whether the snapshot is younger than the minimum check
// interval, in which case detection is skipped entirely.
func (d *Detector) Fresh(snap *domain.Snapshot) bool {
	if d.cfg.MinCheckInterval <= 0 {
		return false
	}
	return snap.Age(d.now()) < d.cfg.MinCheckInterval
}

// sampleSize bounds the probe to a ratio of the leaf count, clamped to the
// configured min/max and the population itself.
func (d *Detector) sampleSize(total int) int {
	n := int(float64(total) * d.cfg.SampleRatio)
	if n < d.cfg.SampleMin {
		n = d.cfg.SampleMin
	}
	if d.cfg.SampleMax > 0 && n > d.cfg.SampleMax {
		n = d.cfg.SampleMax
	}
	if n > total {
		n = total
	}
	return n
}

// QuickDetect probes a random sample of leaves and compares their product
// links against the snapshot. Fetch errors and timeouts fail safe: the result
// reports changed with low confidence rather than masking a possible change.
func (d *Detector) QuickDetect(ctx context.Context, snap *domain.Snapshot) *ProbeResult {
	if d.Fresh(snap) {
		return &ProbeResult{
			Changed:    false,
			Confidence: 1,
			Reason:     "snapshot younger than minimum check interval",
		}
	}
	if len(snap.Leaves) == 0 {
		return &ProbeResult{Changed: true, Confidence: 0.3, Reason: "snapshot has no leaves"}
	}

	if d.cfg.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.ProbeTimeout)
		defer cancel()
	}

	sample := make([]*domain.LeafEntry, len(snap.Leaves))
	copy(sample, snap.Leaves)
	d.rng.Shuffle(len(sample), func(i, j int) {
		sample[i], sample[j] = sample[j], sample[i]
	})
	sample = sample[:d.sampleSize(len(sample))]

	checked := 0
	var changedLeafs []string
	for _, leaf := range sample {
		if ctx.Err() != nil {
			metrics.ProbesTotal.WithLabelValues("error").Inc()
			return &ProbeResult{
				Changed:      true,
				Confidence:   0.3,
				Checked:      checked,
				ChangedLeafs: changedLeafs,
				Reason:       "probe timed out, assuming changed",
			}
		}
		links, err := d.fetcher.FetchProductLinks(ctx, leaf.URL)
		if err != nil {
			metrics.ProbesTotal.WithLabelValues("error").Inc()
			return &ProbeResult{
				Changed:      true,
				Confidence:   0.3,
				Checked:      checked,
				ChangedLeafs: changedLeafs,
				Reason:       "probe fetch failed, assuming changed",
			}
		}
		checked++
		if leafChanged(leaf, links) {
			changedLeafs = append(changedLeafs, leaf.Code)
		}
	}

	ratio := float64(len(changedLeafs)) / float64(checked)
	changed := ratio > d.cfg.ChangeThreshold
	result := &ProbeResult{
		Changed:      changed,
		ChangeRatio:  ratio,
		Confidence:   d.confidence(checked, len(snap.Leaves), ratio),
		Checked:      checked,
		ChangedLeafs: changedLeafs,
		Reason:       "sampled product links",
	}

	outcome := "unchanged"
	if changed {
		outcome = "changed"
	}
	metrics.ProbesTotal.WithLabelValues(outcome).Inc()
	d.log.Info("Quick probe finished",
		"checked", checked,
		"changed_leaves", len(changedLeafs),
		"ratio", ratio,
		"confidence", result.Confidence,
		"changed", changed,
	)
	return result
}

// confidence blends sample coverage with outcome consistency. A sample that
// is all-changed or all-unchanged says more than a 50/50 split.
func (d *Detector) confidence(checked, total int, ratio float64) float64 {
	if checked == 0 {
		return 0
	}
	coverage := float64(checked) / float64(total)
	if coverage > 1 {
		coverage = 1
	}
	consistency := 2*ratio - 1
	if consistency < 0 {
		consistency = -consistency
	}
	c := 0.5*coverage + 0.5*consistency
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// leafChanged compares cached products against freshly observed links as
// sets. Order changes on the page are not changes.
func leafChanged(leaf *domain.LeafEntry, links []string) bool {
	if len(links) != len(leaf.Products) {
		return true
	}
	cached := make(map[string]bool, len(leaf.Products))
	for _, p := range leaf.Products {
		cached[p.URL] = true
	}
	for _, link := range links {
		if !cached[link] {
			return true
		}
	}
	return false
}

// DetailedDiff refetches the classification tree and compares leaf sets, then
// re-checks product links for the suspect leaves. When the probe's change
// ratio exceeds the full-check ratio the caller should pass every leaf code
// as suspect; otherwise only the flagged ones are rechecked.
func (d *Detector) DetailedDiff(
	ctx context.Context,
	snap *domain.Snapshot,
	suspects []string,
) (*Diff, error) {
	root, leaves, err := d.fetcher.FetchClassificationTree(ctx)
	if err != nil {
		return nil, err
	}

	diff := &Diff{
		NewRoot:       root,
		NewLeaves:     leaves,
		ChangedLeaves: make(map[string][]string),
	}

	fresh := make(map[string]*domain.LeafEntry, len(leaves))
	for _, leaf := range leaves {
		fresh[leaf.Code] = leaf
	}
	cached := make(map[string]*domain.LeafEntry, len(snap.Leaves))
	for _, leaf := range snap.Leaves {
		cached[leaf.Code] = leaf
	}

	for code, leaf := range fresh {
		if _, ok := cached[code]; !ok {
			diff.AddedLeaves = append(diff.AddedLeaves, leaf)
		}
	}
	for code := range cached {
		if _, ok := fresh[code]; !ok {
			diff.RemovedLeaves = append(diff.RemovedLeaves, code)
		}
	}

	for _, code := range suspects {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		oldLeaf, ok := cached[code]
		if !ok {
			continue
		}
		newLeaf, ok := fresh[code]
		if !ok {
			continue // already in RemovedLeaves
		}
		links, err := d.fetcher.FetchProductLinks(ctx, newLeaf.URL)
		if err != nil {
			// Leave it to the progressive pass; a diff must not fail the run.
			d.log.Warn("Diff recheck failed", "leaf", code, "error", err)
			continue
		}
		if leafChanged(oldLeaf, links) {
			diff.ChangedLeaves[code] = links
		}
	}

	d.log.Info("Detailed diff finished",
		"added", len(diff.AddedLeaves),
		"removed", len(diff.RemovedLeaves),
		"changed", len(diff.ChangedLeaves),
	)
	return diff, nil
}
