package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the worker loop.
type Metrics struct {
	Registry           *prometheus.Registry
	ItemsTotal         *prometheus.CounterVec
	ProductsFound      prometheus.Counter
	ProductsSaved      prometheus.Counter
	CycleDuration      prometheus.Histogram
	StrategyTotal      *prometheus.CounterVec
	FetchFailuresTotal *prometheus.CounterVec
	PendingItems       prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_items_total",
			Help: "Total work items reported, by outcome.",
		},
		[]string{"outcome"},
	)
	productsFound := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_products_found_total",
			Help: "Total products extracted across all pages.",
		},
	)
	productsSaved := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_products_saved_total",
			Help: "Total products written to the store.",
		},
	)
	cycleDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "worker_cycle_duration_seconds",
			Help:    "Wall time of one claim-fetch-extract-report cycle.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
	strategyTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_extraction_strategy_total",
			Help: "Extractions by winning strategy.",
		},
		[]string{"strategy"},
	)
	fetchFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_fetch_failures_total",
			Help: "Rendered-HTML fetch failures by error type.",
		},
		[]string{"error_type"},
	)
	pending := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pending_items",
			Help: "Work items waiting to be claimed, sampled per cycle.",
		},
	)

	registry.MustRegister(items, productsFound, productsSaved, cycleDuration, strategyTotal, fetchFailures, pending)

	return &Metrics{
		Registry:           registry,
		ItemsTotal:         items,
		ProductsFound:      productsFound,
		ProductsSaved:      productsSaved,
		CycleDuration:      cycleDuration,
		StrategyTotal:      strategyTotal,
		FetchFailuresTotal: fetchFailures,
		PendingItems:       pending,
	}
}

// IncItem increments the item counter for an outcome label.
func (m *Metrics) IncItem(outcome string) {
	if m == nil {
		return
	}
	m.ItemsTotal.WithLabelValues(outcome).Inc()
}

// AddProducts records extraction and persistence counts for one item.
func (m *Metrics) AddProducts(found, saved int) {
	if m == nil {
		return
	}
	m.ProductsFound.Add(float64(found))
	m.ProductsSaved.Add(float64(saved))
}

// ObserveCycle records the duration of one worker cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}

// IncStrategy increments the winning-strategy counter.
func (m *Metrics) IncStrategy(strategy string) {
	if m == nil {
		return
	}
	m.StrategyTotal.WithLabelValues(strategy).Inc()
}

// IncFetchFailure increments the fetch failure counter for a type label.
func (m *Metrics) IncFetchFailure(errorType string) {
	if m == nil {
		return
	}
	m.FetchFailuresTotal.WithLabelValues(errorType).Inc()
}

// SetPending samples the pending backlog gauge.
func (m *Metrics) SetPending(n int64) {
	if m == nil {
		return
	}
	m.PendingItems.Set(float64(n))
}
