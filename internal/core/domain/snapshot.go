package domain

import "time"

// SnapshotMetadata describes one materialized tier capture.
type SnapshotMetadata struct {
	GeneratedAt         time.Time `json:"generated_at"`
	Tier                Tier      `json:"tier"`
	TierName            string    `json:"tier_name"`
	Version             int64     `json:"version"`
	TotalLeaves         int       `json:"total_leaves"`
	TotalProducts       int       `json:"total_products"`
	TotalSpecifications int       `json:"total_specifications"`
}

// Snapshot is an immutable, versioned capture of one tier. It is accumulated
// in memory during a run and written once; a new version is always written
// rather than mutating an old one.
type Snapshot struct {
	Metadata SnapshotMetadata    `json:"metadata"`
	Root     *ClassificationNode `json:"root"`
	Leaves   []*LeafEntry        `json:"leaves"`
}

// Recount recomputes the aggregate totals from the leaf list. Called before
// every save so metadata never drifts from the payload.
func (s *Snapshot) Recount() {
	s.Metadata.TotalLeaves = len(s.Leaves)
	s.Metadata.TotalProducts = 0
	s.Metadata.TotalSpecifications = 0
	for _, leaf := range s.Leaves {
		s.Metadata.TotalProducts += len(leaf.Products)
		for _, p := range leaf.Products {
			s.Metadata.TotalSpecifications += len(p.Specifications)
		}
	}
}

// Leaf returns the leaf entry with the given code, or nil.
func (s *Snapshot) Leaf(code string) *LeafEntry {
	for _, leaf := range s.Leaves {
		if leaf.Code == code {
			return leaf
		}
	}
	return nil
}

// SyncTree pushes the flat leaf entries back into the nested tree so the two
// views never disagree after a tier extension.
func (s *Snapshot) SyncTree() {
	if s.Root == nil {
		return
	}
	byCode := make(map[string]*LeafEntry, len(s.Leaves))
	for _, leaf := range s.Leaves {
		byCode[leaf.Code] = leaf
	}
	var walk func(n *ClassificationNode)
	walk = func(n *ClassificationNode) {
		if n.IsLeaf {
			if leaf, ok := byCode[n.Code]; ok {
				n.Products = leaf.Products
				n.ProductCount = leaf.ProductCount
			}
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(s.Root)
}

// Age returns how long ago the snapshot was generated.
func (s *Snapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Metadata.GeneratedAt)
}
