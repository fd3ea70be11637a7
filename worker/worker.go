// Package worker runs the continuous claim-fetch-extract-persist-report loop.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/shopcrawl/go-product-worker/models"
	"github.com/shopcrawl/go-product-worker/store"
)

// Reported after this many consecutive empty claim cycles, then the counter resets.
const maxEmptyCycles = 10

// WorkStore is the persistence surface the worker depends on.
type WorkStore interface {
	ClaimBatch(ctx context.Context, workerID string, n int) ([]models.WorkItem, error)
	Report(ctx context.Context, id int64, outcome store.Outcome) error
	SaveProducts(ctx context.Context, platformURL string, productTypeID int64, products []models.ProductRecord) (int, error)
	PendingCount(ctx context.Context) (int64, error)
}

// HTMLFetcher renders batches of URLs into HTML.
type HTMLFetcher interface {
	FetchBatch(ctx context.Context, urls []string) []models.FetchResult
}

// Extractor turns one rendered document into products.
type Extractor interface {
	Extract(htmlContent, sourceURL string) models.ExtractionResult
}

// ResultSink receives every extraction envelope for optional local dumping.
type ResultSink interface {
	Write(result models.ExtractionResult) error
}

// URLFilter decides whether a claimed URL is admitted for processing. A
// non-empty reason means the item is reported failed with that message
// instead of being fetched.
type URLFilter func(url string) (reason string, excluded bool)

// AdmitAll admits every URL.
func AdmitAll(string) (string, bool) { return "", false }

// ExcludeSubstrings builds a filter rejecting URLs that contain any of the
// given substrings, case-insensitively.
func ExcludeSubstrings(substrings []string) URLFilter {
	cleaned := make([]string, 0, len(substrings))
	for _, s := range substrings {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			cleaned = append(cleaned, s)
		}
	}
	if len(cleaned) == 0 {
		return AdmitAll
	}
	return func(url string) (string, bool) {
		lower := strings.ToLower(url)
		for _, sub := range cleaned {
			if strings.Contains(lower, sub) {
				return fmt.Sprintf("skipped: url matches excluded pattern %q", sub), true
			}
		}
		return "", false
	}
}

// Options configures a Worker. Store, Fetcher and Engine are required.
type Options struct {
	ID                string
	Store             WorkStore
	Fetcher           HTMLFetcher
	Engine            Extractor
	Filter            URLFilter
	Sink              ResultSink
	Metrics           *Metrics
	BatchSize         int
	PollInterval      time.Duration
	ExtractionWorkers int
	Log               *slog.Logger
}

// Worker claims pending work items and drives them to a terminal status.
type Worker struct {
	id      string
	store   WorkStore
	fetcher HTMLFetcher
	engine  Extractor
	filter  URLFilter
	sink    ResultSink
	metrics *Metrics

	batchSize         int
	pollInterval      time.Duration
	extractionWorkers int
	log               *slog.Logger

	emptyCycles int
}

// New validates options and builds a worker.
func New(opts Options) (*Worker, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("worker requires a store")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("worker requires a fetcher")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("worker requires an extraction engine")
	}
	if opts.ID == "" {
		return nil, fmt.Errorf("worker requires an id")
	}
	if opts.Filter == nil {
		opts.Filter = AdmitAll
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ExtractionWorkers <= 0 {
		opts.ExtractionWorkers = 50
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}

	return &Worker{
		id:                opts.ID,
		store:             opts.Store,
		fetcher:           opts.Fetcher,
		engine:            opts.Engine,
		filter:            opts.Filter,
		sink:              opts.Sink,
		metrics:           opts.Metrics,
		batchSize:         opts.BatchSize,
		pollInterval:      opts.PollInterval,
		extractionWorkers: opts.ExtractionWorkers,
		log:               opts.Log,
	}, nil
}

// Run loops until ctx is cancelled. Steady-state errors are logged and the
// loop continues after a bounded sleep; Run only returns on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker running",
		slog.String("worker_id", w.id),
		slog.Int("batch_size", w.batchSize),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Int("extraction_workers", w.extractionWorkers),
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		items, err := w.store.ClaimBatch(ctx, w.id, w.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("claim batch failed", slog.Any("error", err))
			if !sleepCtx(ctx, w.pollInterval) {
				return ctx.Err()
			}
			continue
		}

		if len(items) == 0 {
			w.emptyCycles++
			if w.emptyCycles >= maxEmptyCycles {
				w.log.Info("no pending items",
					slog.Int("empty_cycles", w.emptyCycles),
					slog.Duration("poll_interval", w.pollInterval),
				)
				w.emptyCycles = 0
			}
			if !sleepCtx(ctx, w.pollInterval) {
				return ctx.Err()
			}
			continue
		}
		w.emptyCycles = 0

		summary := w.processBatch(ctx, items)
		w.logSummary(summary)
		w.samplePending(ctx)

		// Brief pause between batches so a long backlog doesn't starve
		// other workers of pool connections.
		if !sleepCtx(ctx, time.Second) {
			return ctx.Err()
		}
	}
}

// processBatch drives one claimed batch to terminal statuses. Every item gets
// exactly one Report call, whatever fails along the way.
func (w *Worker) processBatch(ctx context.Context, items []models.WorkItem) models.BatchSummary {
	start := time.Now()
	summary := models.BatchSummary{Total: len(items)}

	w.log.Info("processing batch",
		slog.Int("size", len(items)),
		slog.Int64("min_id", items[0].ID),
		slog.Int64("max_id", items[len(items)-1].ID),
	)

	admitted := make([]models.WorkItem, 0, len(items))
	for _, item := range items {
		reason, excluded := w.filter(item.URL)
		if !excluded {
			admitted = append(admitted, item)
			continue
		}
		summary.Skipped++
		w.metrics.IncItem("skipped")
		w.log.Info("item excluded by filter",
			slog.Int64("id", item.ID),
			slog.String("url", item.URL),
			slog.String("reason", reason),
		)
		w.report(ctx, item.ID, store.Outcome{Success: false, ErrorMessage: reason})
	}
	if len(admitted) == 0 {
		summary.Duration = time.Since(start)
		return summary
	}

	// One URL can be claimed under several item IDs; every ID still gets
	// its own report.
	byURL := make(map[string][]models.WorkItem, len(admitted))
	urls := make([]string, 0, len(admitted))
	for _, item := range admitted {
		if _, seen := byURL[item.URL]; !seen {
			urls = append(urls, item.URL)
		}
		byURL[item.URL] = append(byURL[item.URL], item)
	}

	results := w.fetcher.FetchBatch(ctx, urls)

	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, w.extractionWorkers)

	for _, fetched := range results {
		owners := byURL[fetched.URL]
		if len(owners) == 0 {
			w.log.Warn("fetch result for unknown url", slog.String("url", fetched.URL))
			continue
		}

		if !fetched.Usable() {
			message := fetched.Error
			if message == "" {
				message = "no html content received"
			}
			label := fetched.ErrorType
			if label == "" {
				label = "upstream"
			}
			w.metrics.IncFetchFailure(label)
			for _, item := range owners {
				summary.Failed++
				w.metrics.IncItem("fetch_failed")
				w.log.Warn("fetch failed",
					slog.Int64("id", item.ID),
					slog.String("url", item.URL),
					slog.String("method", fetched.Method),
					slog.String("error", message),
				)
				w.report(ctx, item.ID, store.Outcome{Success: false, ErrorMessage: message})
			}
			continue
		}

		wg.Add(1)
		fetched := fetched
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome, found, saved := w.processItem(ctx, fetched, owners)

			mu.Lock()
			if outcome {
				summary.Successful += len(owners)
			} else {
				summary.Failed += len(owners)
			}
			summary.TotalProducts += found
			summary.ProductsSaved += saved
			mu.Unlock()
		}()
	}
	wg.Wait()

	summary.Duration = time.Since(start)
	if summary.Total > 0 {
		summary.AvgProductsURL = float64(summary.TotalProducts) / float64(summary.Total)
	}
	w.metrics.ObserveCycle(summary.Duration)
	return summary
}

// processItem extracts, persists and reports one fetched page. A panic in any
// stage is contained to this item.
func (w *Worker) processItem(ctx context.Context, fetched models.FetchResult, owners []models.WorkItem) (ok bool, found, saved int) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("item processing panic",
				slog.String("url", fetched.URL),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			for _, item := range owners {
				w.report(ctx, item.ID, store.Outcome{
					Success:      false,
					ErrorMessage: fmt.Sprintf("panic: %v", r),
				})
			}
			ok = false
		}
	}()

	result := w.engine.Extract(fetched.HTML, fetched.URL)
	found = len(result.Products)

	if w.sink != nil {
		if err := w.sink.Write(result); err != nil {
			w.log.Warn("result sink write failed", slog.Any("error", err))
		}
	}

	if found > 0 {
		n, err := w.store.SaveProducts(ctx, fetched.URL, owners[0].ProductTypeID, result.Products)
		saved = n
		if err != nil {
			w.log.Error("save products failed",
				slog.String("url", fetched.URL),
				slog.Int("saved", n),
				slog.Any("error", err),
			)
		}
	}

	ok = result.Success && found > 0
	outcome := store.Outcome{
		Success:       ok,
		ProductsFound: found,
		ProductsSaved: saved,
		ErrorMessage:  result.Error,
	}
	label := "completed"
	if !ok {
		label = "failed"
	}
	for _, item := range owners {
		w.metrics.IncItem(label)
		w.report(ctx, item.ID, outcome)
	}
	w.metrics.AddProducts(found, saved)
	w.metrics.IncStrategy(string(result.StrategyUsed))

	if ok {
		w.log.Info("item processed",
			slog.Int64("id", owners[0].ID),
			slog.String("url", fetched.URL),
			slog.String("strategy", string(result.StrategyUsed)),
			slog.Int("products_found", found),
			slog.Int("products_saved", saved),
		)
	} else {
		w.log.Warn("item yielded no products",
			slog.Int64("id", owners[0].ID),
			slog.String("url", fetched.URL),
			slog.String("error", result.Error),
		)
	}
	return ok, found, saved
}

func (w *Worker) report(ctx context.Context, id int64, outcome store.Outcome) {
	if err := w.store.Report(ctx, id, outcome); err != nil {
		w.log.Error("status report failed", slog.Int64("id", id), slog.Any("error", err))
	}
}

func (w *Worker) logSummary(s models.BatchSummary) {
	w.log.Info("batch complete",
		slog.Int("total", s.Total),
		slog.Int("successful", s.Successful),
		slog.Int("failed", s.Failed),
		slog.Int("skipped", s.Skipped),
		slog.Int("products_found", s.TotalProducts),
		slog.Int("products_saved", s.ProductsSaved),
		slog.Duration("duration", s.Duration),
		slog.Float64("avg_products_per_url", s.AvgProductsURL),
	)
}

func (w *Worker) samplePending(ctx context.Context) {
	count, err := w.store.PendingCount(ctx)
	if err != nil {
		w.log.Debug("pending count failed", slog.Any("error", err))
		return
	}
	w.metrics.SetPending(count)
}

// sleepCtx sleeps for d unless ctx is cancelled first. Reports whether the
// full sleep elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
