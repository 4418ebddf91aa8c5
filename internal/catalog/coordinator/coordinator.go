package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"

	"github.com/vietddude/cataloger/internal/catalog/breaker"
	"github.com/vietddude/cataloger/internal/catalog/ledger"
	"github.com/vietddude/cataloger/internal/catalog/metrics"
	"github.com/vietddude/cataloger/internal/core/config"
	"github.com/vietddude/cataloger/internal/core/domain"
)

// Item is one unit of fetch work. URL is its identity across runs; Context is
// a human-readable locator (leaf code, product page) carried into failure
// records. RetryCount is the cross-run count loaded from the ledger before
// the batch starts.
type Item struct {
	URL        string
	Context    string
	Tier       domain.Tier
	RetryCount int
	Retried    bool // previously failed, scheduled ahead of fresh work
}

// Outcome classifies how an item left the batch.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeCanceled  Outcome = "canceled"
)

// Result is the terminal state of one item.
type Result struct {
	Item     Item
	Outcome  Outcome
	Attempts int
	Err      error
}

// FetchFunc performs the fetch for one item. Implementations capture their
// output via closure; the coordinator only sees success or failure.
type FetchFunc func(ctx context.Context, item Item) error

// Coordinator runs batches of independent fetch items under a bounded worker
// pool. Previously-failed items go first at reduced concurrency; every
// failure is contained, classified and written to the ledger so a broken
// item can never take the batch down with it.
type Coordinator struct {
	cfg     config.CrawlConfig
	breaker *breaker.Breaker
	ledger  ledger.Ledger
	log     *slog.Logger

	// Overridable for tests.
	backoffBase time.Duration
}

// New creates a coordinator sharing the given breaker and ledger handles.
func New(cfg config.CrawlConfig, b *breaker.Breaker, l ledger.Ledger) *Coordinator {
	return &Coordinator{
		cfg:         cfg,
		breaker:     b,
		ledger:      l,
		log:         slog.Default().With("component", "coordinator"),
		backoffBase: 500 * time.Millisecond,
	}
}

// BatchResult aggregates per-item results plus counters for reporting.
type BatchResult struct {
	Results   map[string]Result
	Succeeded int
	Failed    int
	Exhausted int
	Canceled  int
}

// RunBatch fetches every item, previously-failed ones first, and returns a
// result per URL. Items at or past the cross-run retry cap are excluded and
// reported exhausted. Cancellation is honored at item boundaries: in-flight
// fetches finish, queued items come back canceled. RunBatch itself never
// returns an error; only the caller's store writes are run-fatal.
func (c *Coordinator) RunBatch(ctx context.Context, items []Item, fn FetchFunc) *BatchResult {
	batch := &BatchResult{Results: make(map[string]Result, len(items))}

	var retried, fresh []Item
	for _, item := range items {
		switch {
		case item.RetryCount >= c.cfg.MaxRetries:
			batch.Results[item.URL] = Result{
				Item:    item,
				Outcome: OutcomeExhausted,
				Err:     fmt.Errorf("retry cap %d reached", c.cfg.MaxRetries),
			}
		case item.Retried:
			retried = append(retried, item)
		default:
			fresh = append(fresh, item)
		}
	}

	var mu sync.Mutex
	record := func(r Result) {
		mu.Lock()
		batch.Results[r.Item.URL] = r
		mu.Unlock()
	}

	// Failed items first, throttled harder: they are the likeliest to hit
	// the same upstream problem again.
	c.runGroup(ctx, retried, c.retryWorkers(), fn, record)
	c.runGroup(ctx, fresh, c.cfg.MaxWorkers, fn, record)

	for _, r := range batch.Results {
		switch r.Outcome {
		case OutcomeSuccess:
			batch.Succeeded++
		case OutcomeFailed:
			batch.Failed++
		case OutcomeExhausted:
			batch.Exhausted++
		case OutcomeCanceled:
			batch.Canceled++
		}
	}
	c.log.Info("Batch finished",
		"items", len(items),
		"succeeded", batch.Succeeded,
		"failed", batch.Failed,
		"exhausted", batch.Exhausted,
		"canceled", batch.Canceled,
	)
	return batch
}

func (c *Coordinator) retryWorkers() int {
	if c.cfg.RetryWorkers > 0 {
		return c.cfg.RetryWorkers
	}
	return c.cfg.MaxWorkers
}

func (c *Coordinator) runGroup(
	ctx context.Context,
	items []Item,
	workers int,
	fn FetchFunc,
	record func(Result),
) {
	if len(items) == 0 {
		return
	}
	if workers <= 0 {
		workers = 1
	}

	sem := semaphore.NewWeighted(int64(workers))
	var wg sync.WaitGroup
	for _, item := range items {
		// Item boundary: once the run is canceled, stop dispatching.
		if err := sem.Acquire(ctx, 1); err != nil {
			record(Result{Item: item, Outcome: OutcomeCanceled, Err: ctx.Err()})
			continue
		}
		wg.Add(1)
		go func(item Item) {
			defer wg.Done()
			defer sem.Release(1)
			record(c.runItem(ctx, item, fn))
		}(item)
	}
	wg.Wait()
}

// runItem executes one item with in-run exponential backoff. Panics in the
// fetch function are contained and treated as parse failures.
func (c *Coordinator) runItem(ctx context.Context, item Item, fn FetchFunc) Result {
	attempts := 0
	start := time.Now()

	backoff := retry.WithMaxRetries(
		uint64(c.attemptCap()-1),
		retry.NewExponential(c.backoffBase),
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		err := c.attempt(ctx, item, fn)
		if err == nil {
			return nil
		}
		if domain.KindOf(err) == domain.FailureTransient {
			return retry.RetryableError(err)
		}
		return err
	})

	tier := item.Tier.String()
	if err != nil {
		metrics.FetchesTotal.WithLabelValues(tier, "failure").Inc()
		metrics.FetchLatency.WithLabelValues(tier).Observe(time.Since(start).Seconds())
		return c.fail(ctx, item, attempts, err)
	}

	metrics.FetchesTotal.WithLabelValues(tier, "success").Inc()
	metrics.FetchLatency.WithLabelValues(tier).Observe(time.Since(start).Seconds())
	c.breaker.RegisterSuccess()
	if item.Retried {
		if err := c.ledger.Resolve(ctx, item.URL); err != nil {
			c.log.Warn("Failed to resolve ledger record", "url", item.URL, "error", err)
		}
	}
	return Result{Item: item, Outcome: OutcomeSuccess, Attempts: attempts}
}

func (c *Coordinator) attemptCap() int {
	if c.cfg.AttemptsPerRun > 0 {
		return c.cfg.AttemptsPerRun
	}
	return 1
}

// attempt runs the fetch with panic containment and a per-fetch timeout.
func (c *Coordinator) attempt(ctx context.Context, item Item, fn FetchFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewParseError(item.URL, fmt.Errorf("panic: %v", r))
			c.log.Error("Fetch panicked", "url", item.URL, "panic", r)
		}
	}()

	if c.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()
	}
	return fn(ctx, item)
}

// fail records the terminal failure in the ledger and reports it to the
// breaker, which may pause this worker before the next dispatch.
func (c *Coordinator) fail(ctx context.Context, item Item, attempts int, err error) Result {
	kind := domain.KindOf(err)
	c.log.Warn("Item failed",
		"url", item.URL,
		"context", item.Context,
		"attempts", attempts,
		"kind", kind,
		"error", err,
	)

	if _, lerr := c.ledger.Record(ctx, item.URL, item.Context, err.Error(), kind); lerr != nil {
		c.log.Error("Failed to write ledger record", "url", item.URL, "error", lerr)
	}
	c.breaker.RegisterFailure(ctx, string(kind))

	return Result{Item: item, Outcome: OutcomeFailed, Attempts: attempts, Err: err}
}
