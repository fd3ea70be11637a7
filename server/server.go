// Package server exposes the extraction engine over HTTP for callers that
// already hold rendered HTML.
package server

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopcrawl/go-product-worker/extract"
	"github.com/shopcrawl/go-product-worker/models"
)

const cacheSize = 1024

// ProductSaver persists extracted products. Nil when the API runs without a
// database.
type ProductSaver interface {
	SaveProducts(ctx context.Context, platformURL string, productTypeID int64, products []models.ProductRecord) (int, error)
}

// Options configures a Server.
type Options struct {
	Addr         string
	Saver        ProductSaver
	Settings     *Settings
	MaxBatchSize int
	Log          *slog.Logger
}

// Server handles /extract, /config, /health and /metrics.
type Server struct {
	settings     *Settings
	saver        ProductSaver
	cache        *lru.Cache[string, models.ExtractionResult]
	maxBatchSize int
	log          *slog.Logger
	registry     *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	extractDuration prometheus.Histogram
	cacheHits       prometheus.Counter

	router chi.Router
	http   *http.Server
}

// New builds the server and its router.
func New(opts Options) (*Server, error) {
	if opts.Settings == nil {
		return nil, fmt.Errorf("server requires settings")
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 50
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	cache, err := lru.New[string, models.ExtractionResult](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}

	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extract_api_requests_total",
			Help: "API requests by route and status class.",
		},
		[]string{"route", "status"},
	)
	duration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "extract_api_extraction_duration_seconds",
			Help:    "Per-document extraction latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "extract_api_cache_hits_total",
			Help: "Extractions served from the result cache.",
		},
	)
	registry.MustRegister(requests, duration, cacheHits)

	s := &Server{
		settings:        opts.Settings,
		saver:           opts.Saver,
		cache:           cache,
		maxBatchSize:    opts.MaxBatchSize,
		log:             opts.Log,
		registry:        registry,
		requestsTotal:   requests,
		extractDuration: duration,
		cacheHits:       cacheHits,
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", s.handleHealth)
	r.Post("/extract", s.handleExtract)
	r.Get("/config", s.handleGetConfig)
	r.Post("/config", s.handleUpdateConfig)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	s.router = r
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("extraction api listening", slog.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// extractOne runs the engine for one document, consulting the cache first.
// Results are cached per settings version so a config change invalidates
// prior entries.
func (s *Server) extractOne(snap Snapshot, htmlContent, sourceURL string) models.ExtractionResult {
	key := fmt.Sprintf("%d:%x", snap.Version, sha256.Sum256([]byte(sourceURL+htmlContent)))
	if cached, ok := s.cache.Get(key); ok {
		s.cacheHits.Inc()
		return cached
	}

	start := time.Now()
	engine := extract.NewEngine(snap.MaxProductsPerPage, s.log)
	result := engine.Extract(htmlContent, sourceURL)
	s.extractDuration.Observe(time.Since(start).Seconds())

	s.cache.Add(key, result)
	return result
}
