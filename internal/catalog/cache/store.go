package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vietddude/cataloger/internal/catalog/metrics"
	"github.com/vietddude/cataloger/internal/core/config"
	"github.com/vietddude/cataloger/internal/core/domain"
)

const indexFile = "index.json"

// VersionEntry is one line of snapshot history kept in the index.
type VersionEntry struct {
	Version             int64       `json:"version"`
	Tier                domain.Tier `json:"tier"`
	TierName            string      `json:"tier_name"`
	File                string      `json:"file"`
	SavedAt             time.Time   `json:"saved_at"`
	TotalLeaves         int         `json:"total_leaves"`
	TotalProducts       int         `json:"total_products"`
	TotalSpecifications int         `json:"total_specifications"`
}

// index is the on-disk catalog of snapshot files. latest_files maps a tier
// name to the filename currently serving that tier.
type index struct {
	LatestFiles    map[string]string `json:"latest_files"`
	VersionHistory []VersionEntry    `json:"version_history"`
}

// Store persists versioned tier snapshots under a single directory. Snapshot
// files are immutable once written; every save produces a new version and
// moves the index pointer. All mutation happens under one lock so the index
// and the files it points at cannot diverge.
type Store struct {
	cfg config.CacheConfig
	log *slog.Logger

	mu sync.Mutex

	// Overridable for tests.
	now func() time.Time
}

// NewStore creates a snapshot store rooted at cfg.Dir, creating the directory
// if needed.
func NewStore(cfg config.CacheConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{
		cfg: cfg,
		log: slog.Default().With("component", "cache"),
		now: time.Now,
	}, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.cfg.Dir, indexFile)
}

// loadIndex reads the index file. A missing or corrupt index is treated as
// empty rather than fatal: the snapshot files are the source of truth and the
// next save rewrites the index.
func (s *Store) loadIndex() *index {
	idx := &index{LatestFiles: make(map[string]string)}
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return idx
	}
	if err := json.Unmarshal(data, idx); err != nil {
		s.log.Warn("Corrupt cache index, starting fresh", "error", err)
		return &index{LatestFiles: make(map[string]string)}
	}
	if idx.LatestFiles == nil {
		idx.LatestFiles = make(map[string]string)
	}
	return idx
}

func (s *Store) writeIndex(idx *index) error {
	return writeFileAtomic(s.indexPath(), idx)
}

// writeFileAtomic marshals v and renames a temp file over path so readers
// never observe a partial write.
func writeFileAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func snapshotFilename(tier domain.Tier, version int64) string {
	return fmt.Sprintf("catalog_tier%d_v%d.json", int(tier), version)
}

// GetCurrentTier returns the highest tier with a loadable, valid, unexpired
// snapshot, walking down one tier at a time. A snapshot whose own aggregate
// count is zero does not count for its claimed tier and is degraded before
// the TTL check.
func (s *Store) GetCurrentTier(ctx context.Context) (domain.Tier, *domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return domain.TierNone, nil, err
	}

	idx := s.loadIndex()
	now := s.now()

	for tier := domain.TierSpecifications; tier > domain.TierNone; tier-- {
		filename, ok := idx.LatestFiles[tier.String()]
		if !ok {
			continue
		}
		snap, err := s.readSnapshot(filename)
		if err != nil {
			s.log.Warn("Skipping unreadable snapshot",
				"tier", tier.String(), "file", filename, "error", err)
			continue
		}
		if err := validateSnapshot(snap); err != nil {
			s.log.Warn("Skipping invalid snapshot",
				"tier", tier.String(), "file", filename, "error", err)
			continue
		}

		effective := effectiveTier(snap, tier)
		if effective < tier {
			s.log.Info("Snapshot degraded below claimed tier",
				"claimed", tier.String(), "effective", effective.String())
			continue
		}

		ttl := s.cfg.TTL.For(tier)
		if ttl > 0 && snap.Age(now) > ttl {
			s.log.Info("Snapshot past TTL",
				"tier", tier.String(), "age", snap.Age(now), "ttl", ttl)
			continue
		}
		return tier, snap, nil
	}
	return domain.TierNone, nil, nil
}

func (s *Store) readSnapshot(filename string) (*domain.Snapshot, error) {
	data, err := os.ReadFile(filepath.Join(s.cfg.Dir, filename))
	if err != nil {
		return nil, err
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}

// effectiveTier degrades a claimed tier while its own aggregate count is
// zero. A snapshot with no products cannot serve the products tier even if
// its metadata says otherwise.
func effectiveTier(snap *domain.Snapshot, claimed domain.Tier) domain.Tier {
	tier := claimed
	for tier > domain.TierNone {
		switch tier {
		case domain.TierSpecifications:
			if snap.Metadata.TotalSpecifications > 0 {
				return tier
			}
		case domain.TierProducts:
			if snap.Metadata.TotalProducts > 0 {
				return tier
			}
		case domain.TierClassification:
			if snap.Metadata.TotalLeaves > 0 {
				return tier
			}
		}
		tier--
	}
	return domain.TierNone
}

// validateSnapshot rejects payloads that cannot be trusted as a cache basis.
func validateSnapshot(snap *domain.Snapshot) error {
	if snap.Root == nil {
		return errors.New("missing classification root")
	}
	if !snap.Metadata.Tier.Valid() || snap.Metadata.Tier == domain.TierNone {
		return fmt.Errorf("invalid tier %d", int(snap.Metadata.Tier))
	}
	if snap.Metadata.Version <= 0 {
		return errors.New("missing version")
	}
	if snap.Metadata.GeneratedAt.IsZero() {
		return errors.New("missing generated_at")
	}
	seen := make(map[string]bool, len(snap.Leaves))
	for _, leaf := range snap.Leaves {
		if leaf.Code == "" {
			return errors.New("leaf with empty code")
		}
		if seen[leaf.Code] {
			return fmt.Errorf("duplicate leaf code %s", leaf.Code)
		}
		seen[leaf.Code] = true
	}
	return nil
}

// SaveSnapshot writes the snapshot as a new immutable version for the tier,
// updates the index pointer and history, and prunes files beyond retention.
// The snapshot's metadata is stamped here so callers cannot save stale totals.
func (s *Store) SaveSnapshot(ctx context.Context, snap *domain.Snapshot, tier domain.Tier) error {
	if !tier.Valid() || tier == domain.TierNone {
		return fmt.Errorf("cannot save snapshot for tier %d", int(tier))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	idx := s.loadIndex()
	now := s.now()

	snap.Recount()
	snap.SyncTree()
	snap.Metadata.GeneratedAt = now
	snap.Metadata.Tier = tier
	snap.Metadata.TierName = tier.String()
	snap.Metadata.Version = s.nextVersion(idx, tier, now)

	filename := snapshotFilename(tier, snap.Metadata.Version)
	path := filepath.Join(s.cfg.Dir, filename)

	// Unique versions make collisions a bug elsewhere, but never clobber an
	// existing file silently.
	if _, err := os.Stat(path); err == nil {
		backup := path + ".bak"
		if err := os.Rename(path, backup); err != nil {
			return fmt.Errorf("backup existing snapshot: %w", err)
		}
		s.log.Warn("Backed up colliding snapshot file", "file", filename)
	}

	if err := writeFileAtomic(path, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	idx.LatestFiles[tier.String()] = filename
	idx.VersionHistory = append(idx.VersionHistory, VersionEntry{
		Version:             snap.Metadata.Version,
		Tier:                tier,
		TierName:            tier.String(),
		File:                filename,
		SavedAt:             now,
		TotalLeaves:         snap.Metadata.TotalLeaves,
		TotalProducts:       snap.Metadata.TotalProducts,
		TotalSpecifications: snap.Metadata.TotalSpecifications,
	})
	if s.cfg.HistoryLimit > 0 && len(idx.VersionHistory) > s.cfg.HistoryLimit {
		idx.VersionHistory = idx.VersionHistory[len(idx.VersionHistory)-s.cfg.HistoryLimit:]
	}
	if err := s.writeIndex(idx); err != nil {
		return fmt.Errorf("update index: %w", err)
	}

	s.pruneTier(idx, tier)

	metrics.SnapshotVersion.WithLabelValues(tier.String()).Set(float64(snap.Metadata.Version))
	metrics.SnapshotTotals.WithLabelValues(tier.String(), "leaves").
		Set(float64(snap.Metadata.TotalLeaves))
	metrics.SnapshotTotals.WithLabelValues(tier.String(), "products").
		Set(float64(snap.Metadata.TotalProducts))
	metrics.SnapshotTotals.WithLabelValues(tier.String(), "specifications").
		Set(float64(snap.Metadata.TotalSpecifications))

	s.log.Info("Saved snapshot",
		"tier", tier.String(),
		"version", snap.Metadata.Version,
		"leaves", snap.Metadata.TotalLeaves,
		"products", snap.Metadata.TotalProducts,
		"specifications", snap.Metadata.TotalSpecifications,
	)
	return nil
}

// nextVersion derives a monotonically increasing version for the tier.
// Millisecond timestamps are unique enough in practice; the history check
// covers saves landing in the same millisecond.
func (s *Store) nextVersion(idx *index, tier domain.Tier, now time.Time) int64 {
	version := now.UnixMilli()
	for _, entry := range idx.VersionHistory {
		if entry.Tier == tier && entry.Version >= version {
			version = entry.Version + 1
		}
	}
	return version
}

// pruneTier removes snapshot files for the tier beyond the retention count,
// newest kept. Prune failures are logged, never fatal: stale files cost disk,
// not correctness.
func (s *Store) pruneTier(idx *index, tier domain.Tier) {
	if s.cfg.Retention <= 0 {
		return
	}
	pattern := filepath.Join(s.cfg.Dir, fmt.Sprintf("catalog_tier%d_v*.json", int(tier)))
	files, err := filepath.Glob(pattern)
	if err != nil {
		return
	}
	if len(files) <= s.cfg.Retention {
		return
	}
	// Filenames embed the version, so lexicographic order on equal-width
	// millisecond versions is chronological. Sort defensively by length then
	// name to keep shorter (older epoch) versions first.
	sort.Slice(files, func(i, j int) bool {
		if len(files[i]) != len(files[j]) {
			return len(files[i]) < len(files[j])
		}
		return files[i] < files[j]
	})
	latest := idx.LatestFiles[tier.String()]
	for _, path := range files[:len(files)-s.cfg.Retention] {
		if filepath.Base(path) == latest {
			continue
		}
		if err := os.Remove(path); err != nil {
			s.log.Warn("Failed to prune snapshot", "file", path, "error", err)
			continue
		}
		s.log.Debug("Pruned snapshot", "file", filepath.Base(path))
	}
}

// ListVersions returns history entries, newest first. TierNone lists all
// tiers.
func (s *Store) ListVersions(tier domain.Tier) []VersionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.loadIndex()
	var entries []VersionEntry
	for _, entry := range idx.VersionHistory {
		if tier != domain.TierNone && entry.Tier != tier {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].SavedAt.After(entries[j].SavedAt)
	})
	return entries
}
