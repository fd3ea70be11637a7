package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopcrawl/go-product-worker/config"
	"github.com/shopcrawl/go-product-worker/extract"
	"github.com/shopcrawl/go-product-worker/fetch"
	"github.com/shopcrawl/go-product-worker/results"
	"github.com/shopcrawl/go-product-worker/store"
	"github.com/shopcrawl/go-product-worker/worker"
)

func main() {
	defaults := config.DefaultConfig()

	databaseURL := flag.String("database-url", defaults.DatabaseURL, "Postgres DSN (env DATABASE_URL)")
	renderURL := flag.String("render-url", defaults.RenderAPIURL, "Rendering service batch endpoint (env RENDER_API_URL)")
	workerID := flag.String("worker-id", defaults.WorkerID, "Worker identity for claim records (env WORKER_ID)")
	batchSize := flag.Int("batch-size", defaults.BatchSize, "Work items claimed per cycle (env WORKER_BATCH_SIZE)")
	pollInterval := flag.Duration("poll-interval", defaults.PollInterval, "Sleep between empty claim cycles (env POLL_INTERVAL)")
	maxRetries := flag.Int("max-retries", defaults.MaxRetries, "Render request retry attempts (env MAX_RETRIES)")
	retryDelay := flag.Duration("retry-delay", defaults.RetryDelay, "Initial render retry delay (env RETRY_DELAY)")
	extractionWorkers := flag.Int("extraction-workers", defaults.ExtractionWorkers, "Concurrent extraction goroutines (env MAX_WORKERS)")
	dbOps := flag.Int("db-ops", defaults.MaxConcurrentDBOps, "Concurrent store operations (env MAX_CONCURRENT_DB_OPS)")
	maxProducts := flag.Int("max-products", defaults.MaxProductsPerPage, "Products kept per page (env MAX_PRODUCTS_PER_PAGE)")
	apiTimeout := flag.Duration("api-timeout", defaults.APITimeout, "Per-attempt render request timeout (env API_TIMEOUT)")
	saveResults := flag.Bool("save-results", defaults.SaveResults, "Dump extraction envelopes to a local JSONL file (env SAVE_RESULTS)")
	resultsDir := flag.String("results-dir", defaults.ResultsDir, "Directory for JSONL dumps (env RESULTS_DIR)")
	metricsAddr := flag.String("metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (env METRICS_ADDR)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger := newLogger(*verbose)
	slog.SetDefault(logger)

	cfg := defaults
	cfg.DatabaseURL = *databaseURL
	cfg.RenderAPIURL = *renderURL
	cfg.WorkerID = *workerID
	cfg.BatchSize = *batchSize
	cfg.PollInterval = *pollInterval
	cfg.MaxRetries = *maxRetries
	cfg.RetryDelay = *retryDelay
	cfg.ExtractionWorkers = *extractionWorkers
	cfg.MaxConcurrentDBOps = *dbOps
	cfg.MaxProductsPerPage = *maxProducts
	cfg.APITimeout = *apiTimeout
	cfg.SaveResults = *saveResults
	cfg.ResultsDir = *resultsDir
	cfg.MetricsAddr = *metricsAddr
	cfg.Verbose = *verbose

	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.New(ctx, cfg.DatabaseURL, cfg.MaxConcurrentDBOps, logger)
	if err != nil {
		slog.Error("connecting store", slog.Any("error", err))
		os.Exit(1)
	}

	var sink worker.ResultSink
	if cfg.SaveResults {
		writer, err := results.NewWriter(cfg.ResultsDir)
		if err != nil {
			slog.Error("opening results writer", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := writer.Close(); err != nil {
				slog.Error("close results writer", slog.Any("error", err))
			}
		}()
		sink = writer
	}

	metrics := worker.NewMetrics()
	w, err := worker.New(worker.Options{
		ID:                cfg.WorkerID,
		Store:             st,
		Fetcher:           fetch.NewClient(cfg.RenderAPIURL, cfg.APITimeout, cfg.MaxRetries, cfg.RetryDelay, logger),
		Engine:            extract.NewEngine(cfg.MaxProductsPerPage, logger),
		Filter:            worker.ExcludeSubstrings(cfg.ExcludedURLPatterns),
		Sink:              sink,
		Metrics:           metrics,
		BatchSize:         cfg.BatchSize,
		PollInterval:      cfg.PollInterval,
		ExtractionWorkers: cfg.ExtractionWorkers,
		Log:               logger,
	})
	if err != nil {
		slog.Error("initialising worker", slog.Any("error", err))
		os.Exit(1)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing current batch")
	}()

	err = w.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker stopped", slog.Any("error", err))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}
	slog.Info("worker exited")
}

func newLogger(verbose bool) *slog.Logger {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
