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

	"github.com/shopcrawl/go-product-worker/config"
	"github.com/shopcrawl/go-product-worker/server"
	"github.com/shopcrawl/go-product-worker/store"
)

func main() {
	defaults := config.DefaultConfig()

	listenAddr := flag.String("listen-addr", defaults.ListenAddr, "API listen address (env LISTEN_ADDR)")
	databaseURL := flag.String("database-url", defaults.DatabaseURL, "Postgres DSN, optional (env DATABASE_URL)")
	maxWorkers := flag.Int("max-workers", defaults.ExtractionWorkers, "Default batch extraction workers (env MAX_WORKERS)")
	maxProducts := flag.Int("max-products", defaults.MaxProductsPerPage, "Products kept per page (env MAX_PRODUCTS_PER_PAGE)")
	maxBatchSize := flag.Int("max-batch-size", defaults.MaxBatchSize, "Documents accepted per batch request (env MAX_BATCH_SIZE)")
	dbOps := flag.Int("db-ops", defaults.MaxConcurrentDBOps, "Concurrent store operations (env MAX_CONCURRENT_DB_OPS)")
	verbose := flag.Bool("v", false, "Enable verbose logging")

	flag.Parse()

	logger := newLogger(*verbose)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The API can run without a database; extraction results are then
	// returned to the caller only.
	var saver server.ProductSaver
	if *databaseURL != "" {
		st, err := store.New(ctx, *databaseURL, *dbOps, logger)
		if err != nil {
			slog.Error("connecting store", slog.Any("error", err))
			os.Exit(1)
		}
		saver = st
	} else {
		slog.Warn("no DATABASE_URL configured, extraction results will not be persisted")
	}

	srv, err := server.New(server.Options{
		Addr:         *listenAddr,
		Saver:        saver,
		Settings:     server.NewSettings(*maxWorkers, *maxProducts),
		MaxBatchSize: *maxBatchSize,
		Log:          logger,
	})
	if err != nil {
		slog.Error("initialising server", slog.Any("error", err))
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", slog.Any("error", err))
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("server exited")
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
