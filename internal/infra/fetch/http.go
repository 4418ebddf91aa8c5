package fetch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"

	"github.com/vietddude/cataloger/internal/core/domain"
	"github.com/vietddude/cataloger/internal/core/tree"
)

// HTTPFetcherConfig holds settings for the HTTP fetcher.
type HTTPFetcherConfig struct {
	RootURL   string
	BaseURL   string
	Timeout   time.Duration
	PoolSize  int
	UserAgent string
}

// HTTPFetcher implements Fetcher over plain HTTP with DOM extraction. Clients
// are pooled: one is acquired per call and returned on every exit path, so a
// panicking parse can never leak a slot.
type HTTPFetcher struct {
	cfg  HTTPFetcherConfig
	pool chan *resty.Client
	log  *slog.Logger
}

// NewHTTPFetcher creates an HTTP fetcher with a client pool.
func NewHTTPFetcher(cfg HTTPFetcherConfig) *HTTPFetcher {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "cataloger/1.0"
	}

	pool := make(chan *resty.Client, cfg.PoolSize)
	for i := 0; i < cfg.PoolSize; i++ {
		client := resty.New().
			SetTimeout(cfg.Timeout).
			SetHeader("User-Agent", cfg.UserAgent).
			SetRetryCount(0) // retries belong to the coordinator
		pool <- client
	}

	return &HTTPFetcher{
		cfg:  cfg,
		pool: pool,
		log:  slog.Default().With("component", "fetcher"),
	}
}

func (f *HTTPFetcher) acquire(ctx context.Context) (*resty.Client, error) {
	select {
	case client := <-f.pool:
		return client, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *HTTPFetcher) release(client *resty.Client) {
	f.pool <- client
}

func (f *HTTPFetcher) document(ctx context.Context, pageURL string) (*goquery.Document, error) {
	client, err := f.acquire(ctx)
	if err != nil {
		return nil, domain.NewTransientError(pageURL, err)
	}
	defer f.release(client)

	resp, err := client.R().SetContext(ctx).Get(pageURL)
	if err != nil {
		return nil, domain.NewTransientError(pageURL, err)
	}
	if resp.StatusCode() >= 500 {
		return nil, domain.NewTransientError(
			pageURL,
			fmt.Errorf("upstream returned %d", resp.StatusCode()),
		)
	}
	if resp.StatusCode() >= 400 {
		return nil, domain.NewParseError(
			pageURL,
			fmt.Errorf("upstream returned %d", resp.StatusCode()),
		)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, domain.NewParseError(pageURL, err)
	}
	return doc, nil
}

func (f *HTTPFetcher) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base, err := url.Parse(f.cfg.BaseURL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// FetchClassificationTree parses the nested category list on the
// classification page into an arena-backed tree.
func (f *HTTPFetcher) FetchClassificationTree(
	ctx context.Context,
) (*domain.ClassificationNode, []*domain.LeafEntry, error) {
	doc, err := f.document(ctx, f.cfg.RootURL)
	if err != nil {
		return nil, nil, err
	}

	builder := tree.NewBuilder()
	root, err := builder.AddRoot("ROOT", "Classification", f.cfg.RootURL)
	if err != nil {
		return nil, nil, domain.NewParseError(f.cfg.RootURL, err)
	}

	var walk func(sel *goquery.Selection, parent tree.Handle) error
	walk = func(sel *goquery.Selection, parent tree.Handle) error {
		var walkErr error
		sel.ChildrenFiltered("li").EachWithBreak(func(_ int, li *goquery.Selection) bool {
			link := li.ChildrenFiltered("a").First()
			href, _ := link.Attr("href")
			code, ok := link.Attr("data-code")
			if !ok {
				code = codeFromHref(href)
			}
			name := strings.TrimSpace(link.Text())
			if code == "" || name == "" {
				return true // decorative entry, skip
			}

			handle, err := builder.AddChild(parent, code, name, f.absoluteURL(href))
			if err != nil {
				walkErr = err
				return false
			}
			sub := li.ChildrenFiltered("ul")
			if sub.Length() == 0 {
				builder.VerifyLeaf(handle)
				return true
			}
			if err := walk(sub.First(), handle); err != nil {
				walkErr = err
				return false
			}
			return true
		})
		return walkErr
	}

	container := doc.Find("ul.classification-tree").First()
	if container.Length() == 0 {
		return nil, nil, domain.NewParseError(
			f.cfg.RootURL,
			fmt.Errorf("classification list not found"),
		)
	}
	if err := walk(container, root); err != nil {
		return nil, nil, domain.NewParseError(f.cfg.RootURL, err)
	}

	rootNode, leaves, err := builder.Build()
	if err != nil {
		return nil, nil, domain.NewParseError(f.cfg.RootURL, err)
	}
	f.log.Debug("Parsed classification tree", "nodes", builder.Len(), "leaves", len(leaves))
	return rootNode, leaves, nil
}

// FetchProductLinks extracts product URLs from a leaf page. An empty result
// is legitimate: some leaves carry no products.
func (f *HTTPFetcher) FetchProductLinks(ctx context.Context, leafURL string) ([]string, error) {
	doc, err := f.document(ctx, leafURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href*='/product/']").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok {
			return
		}
		abs := f.absoluteURL(href)
		if seen[abs] {
			return
		}
		seen[abs] = true
		links = append(links, abs)
	})
	return links, nil
}

// FetchSpecifications extracts specification rows from a product page.
func (f *HTTPFetcher) FetchSpecifications(
	ctx context.Context,
	productURL string,
) ([]domain.Specification, error) {
	doc, err := f.document(ctx, productURL)
	if err != nil {
		return nil, err
	}

	var specs []domain.Specification
	doc.Find("table.specifications tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 2 {
			return
		}
		key := strings.TrimSpace(cells.Eq(0).Text())
		value := strings.TrimSpace(cells.Eq(1).Text())
		if key == "" {
			return
		}
		specs = append(specs, domain.Specification{key: value})
	})
	return specs, nil
}

// codeFromHref pulls the classification code out of a CatalogPath-style URL,
// e.g. ...?CatalogPath=TRACEPARTS%3ATP01001008 -> TP01001008.
func codeFromHref(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	path := u.Query().Get("CatalogPath")
	if path == "" {
		return ""
	}
	if i := strings.LastIndexAny(path, ":"); i >= 0 {
		return path[i+1:]
	}
	return path
}
