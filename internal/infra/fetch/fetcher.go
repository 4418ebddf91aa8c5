package fetch

import (
	"context"

	"github.com/vietddude/cataloger/internal/core/domain"
)

// Fetcher is the external page-fetching capability the cache layer builds on.
// Implementations own transport, parsing and browser/session concerns; the
// core only sees structured results.
//
// An empty slice from FetchProductLinks or FetchSpecifications is a
// legitimate outcome (the page exists and has nothing), distinct from a
// *domain.FetchError.
type Fetcher interface {
	// FetchClassificationTree scrapes the full classification tree.
	FetchClassificationTree(
		ctx context.Context,
	) (*domain.ClassificationNode, []*domain.LeafEntry, error)

	// FetchProductLinks scrapes the product URLs listed under a leaf page.
	FetchProductLinks(ctx context.Context, leafURL string) ([]string, error)

	// FetchSpecifications scrapes the specification rows of a product page.
	FetchSpecifications(ctx context.Context, productURL string) ([]domain.Specification, error)
}
