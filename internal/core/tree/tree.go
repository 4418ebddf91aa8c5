package tree

import (
	"errors"
	"fmt"

	"github.com/vietddude/cataloger/internal/core/domain"
)

var (
	// ErrDuplicateCode is returned when a code is added twice.
	ErrDuplicateCode = errors.New("duplicate classification code")

	// ErrNoRoot is returned when building a tree without a root.
	ErrNoRoot = errors.New("classification tree has no root")

	// ErrRootExists is returned when a second root is added.
	ErrRootExists = errors.New("classification tree already has a root")
)

// Handle indexes a node inside the arena.
type Handle int

// None is the null handle.
const None Handle = -1

type node struct {
	code         string
	name         string
	url          string
	leafVerified bool
	children     []Handle
}

// Builder accumulates classification nodes into an arena. Nodes are addressed
// by integer handles and parents are recorded exactly once at insertion, so
// the resulting tree is acyclic and rooted by construction. Codes are unique
// across the arena.
type Builder struct {
	nodes  []node
	parent []Handle
	index  map[string]Handle
	root   Handle
}

// NewBuilder returns an empty tree builder.
func NewBuilder() *Builder {
	return &Builder{
		index: make(map[string]Handle),
		root:  None,
	}
}

// AddRoot inserts the root node. Exactly one root is allowed.
func (b *Builder) AddRoot(code, name, url string) (Handle, error) {
	if b.root != None {
		return None, ErrRootExists
	}
	h, err := b.add(code, name, url, None)
	if err != nil {
		return None, err
	}
	b.root = h
	return h, nil
}

// AddChild inserts a node under parent. The parent handle must already exist
// in the arena, which rules out cycles and dangling placeholder nodes.
func (b *Builder) AddChild(parent Handle, code, name, url string) (Handle, error) {
	if parent < 0 || int(parent) >= len(b.nodes) {
		return None, fmt.Errorf("invalid parent handle %d", parent)
	}
	h, err := b.add(code, name, url, parent)
	if err != nil {
		return None, err
	}
	b.nodes[parent].children = append(b.nodes[parent].children, h)
	return h, nil
}

func (b *Builder) add(code, name, url string, parent Handle) (Handle, error) {
	if _, ok := b.index[code]; ok {
		return None, fmt.Errorf("%w: %s", ErrDuplicateCode, code)
	}
	h := Handle(len(b.nodes))
	b.nodes = append(b.nodes, node{code: code, name: name, url: url})
	b.parent = append(b.parent, parent)
	b.index[code] = h
	return h, nil
}

// VerifyLeaf marks a node as probe-verified leaf. A verified node stays a
// leaf even if a later pass attaches children by mistake elsewhere.
func (b *Builder) VerifyLeaf(h Handle) {
	if h >= 0 && int(h) < len(b.nodes) {
		b.nodes[h].leafVerified = true
	}
}

// Lookup returns the handle for a code.
func (b *Builder) Lookup(code string) (Handle, bool) {
	h, ok := b.index[code]
	return h, ok
}

// Len returns the number of nodes in the arena.
func (b *Builder) Len() int {
	return len(b.nodes)
}

func (b *Builder) depth(h Handle) int {
	d := 0
	for p := b.parent[h]; p != None; p = b.parent[p] {
		d++
	}
	return d
}

// Build materializes the nested tree and the flat leaf list. A node is a leaf
// iff it carries zero children or has been verified as one.
func (b *Builder) Build() (*domain.ClassificationNode, []*domain.LeafEntry, error) {
	if b.root == None {
		return nil, nil, ErrNoRoot
	}
	var leaves []*domain.LeafEntry
	var materialize func(h Handle) *domain.ClassificationNode
	materialize = func(h Handle) *domain.ClassificationNode {
		n := b.nodes[h]
		level := b.depth(h)
		out := &domain.ClassificationNode{
			Code:         n.code,
			Name:         n.name,
			URL:          n.url,
			Level:        level,
			IsLeaf:       len(n.children) == 0 || n.leafVerified,
			LeafVerified: n.leafVerified,
		}
		if out.IsLeaf {
			leaves = append(leaves, &domain.LeafEntry{
				Code:  n.code,
				Name:  n.name,
				URL:   n.url,
				Level: level,
			})
			return out
		}
		for _, child := range n.children {
			out.Children = append(out.Children, materialize(child))
		}
		return out
	}
	root := materialize(b.root)
	return root, leaves, nil
}
