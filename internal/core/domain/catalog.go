package domain

// ClassificationNode is one node of the scraped classification tree as it is
// serialized into a snapshot. Codes are hierarchical and unique within a
// snapshot. A node is a leaf iff it has no children, or it has been explicitly
// verified as a leaf by a probe.
type ClassificationNode struct {
	Code         string                `json:"code"`
	Name         string                `json:"name"`
	URL          string                `json:"url"`
	Level        int                   `json:"level"`
	IsLeaf       bool                  `json:"is_leaf"`
	LeafVerified bool                  `json:"leaf_verified,omitempty"`
	Children     []*ClassificationNode `json:"children,omitempty"`
	Products     []*Product            `json:"products,omitempty"`
	ProductCount int                   `json:"product_count,omitempty"`
}

// LeafEntry is a flat view of a leaf node. The snapshot carries both the
// nested tree and this flat list so tier extensions never need to walk the
// tree to find work.
type LeafEntry struct {
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	URL          string     `json:"url"`
	Level        int        `json:"level"`
	Products     []*Product `json:"products"`
	ProductCount int        `json:"product_count"`
}

// Product is identified by its URL. LeafCode points back at the owning leaf.
type Product struct {
	URL            string          `json:"product_url"`
	LeafCode       string          `json:"leaf_code,omitempty"`
	Specifications []Specification `json:"specifications,omitempty"`
	SpecCount      int             `json:"spec_count"`
}

// Specification is a free-form attribute set extracted from a product page
// (reference code, dimensions, weight, ...). Opaque to the cache layer, which
// only counts and stores them.
type Specification map[string]string

// AddProducts attaches products to the leaf, deduplicating by URL and
// preserving insertion order. Existing products win over incoming duplicates.
func (l *LeafEntry) AddProducts(products []*Product) {
	seen := make(map[string]bool, len(l.Products)+len(products))
	for _, p := range l.Products {
		seen[p.URL] = true
	}
	for _, p := range products {
		if seen[p.URL] {
			continue
		}
		seen[p.URL] = true
		p.LeafCode = l.Code
		l.Products = append(l.Products, p)
	}
	l.ProductCount = len(l.Products)
}
