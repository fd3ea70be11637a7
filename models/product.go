// Package models defines data structures shared across the extraction system.
package models

import "time"

// Strategy identifies one extraction algorithm in the cascade.
type Strategy string

const (
	StrategyStructural    Strategy = "structural"
	StrategyJSONLD        Strategy = "jsonld"
	StrategyMicrodata     Strategy = "microdata"
	StrategyInlineScripts Strategy = "inline_scripts"
	StrategyHeuristics    Strategy = "heuristics"
	StrategyFallback      Strategy = "fallback"
	StrategyNone          Strategy = "none"
)

// ProductRecord is one normalized product listing extracted from a page.
type ProductRecord struct {
	Title       string  `json:"product_name"`
	ProductURL  string  `json:"product_url"`
	ImageURL    string  `json:"image_url,omitempty"`
	Price       float64 `json:"cost,omitempty"`
	HasPrice    bool    `json:"-"`
	Currency    string  `json:"currency,omitempty"`
	Rating      float64 `json:"rating,omitempty"`
	HasRating   bool    `json:"-"`
	ReviewCount int     `json:"review_count,omitempty"`
	Brand       string  `json:"brand,omitempty"`
	SKU         string  `json:"sku,omitempty"`
	InStock     bool    `json:"in_stock"`
	Description string  `json:"description,omitempty"`
	PriceRaw    string  `json:"price_raw,omitempty"`
}

// ExtractionResult is the uniform envelope returned by the engine for one document.
type ExtractionResult struct {
	Success      bool            `json:"success"`
	URL          string          `json:"url"`
	Platform     string          `json:"platform"`
	StrategyUsed Strategy        `json:"extraction_strategy"`
	Products     []ProductRecord `json:"products"`
	NumProducts  int             `json:"num_products"`
	Error        string          `json:"error,omitempty"`
	Duration     time.Duration   `json:"-"`
}

// WorkItem status values. Lifecycle: pending -> processing -> completed|failed.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// WorkItem is a transient in-memory copy of one product_page_urls row.
// The persistent store owns its lifetime.
type WorkItem struct {
	ID            int64     `json:"id"`
	ProductTypeID int64     `json:"product_type_id"`
	URL           string    `json:"product_page_url"`
	Status        string    `json:"processing_status"`
	ClaimedBy     string    `json:"claimed_by,omitempty"`
	ClaimedAt     time.Time `json:"claimed_at,omitempty"`
	RetryCount    int       `json:"retry_count"`
}

// FetchResult is one rendered-HTML response item from the rendering service.
// ErrorType is a client-side failure classification, never sent on the wire;
// it stays empty for failures the service itself reported.
type FetchResult struct {
	URL       string `json:"url"`
	HTML      string `json:"html"`
	Status    string `json:"status"`
	Method    string `json:"method,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorType string `json:"-"`
}

const (
	FetchSuccess = "success"
	FetchFailed  = "failed"
)

// Usable reports whether the fetch yielded HTML worth parsing.
func (f FetchResult) Usable() bool {
	if f.Status != FetchSuccess {
		return false
	}
	for _, r := range f.HTML {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}

// FetchSummary is the optional aggregate block in a rendering-service response.
type FetchSummary struct {
	Total       int            `json:"total"`
	Success     int            `json:"success"`
	Failed      int            `json:"failed"`
	SuccessRate float64        `json:"success_rate"`
	TotalTime   float64        `json:"total_time"`
	ByMethod    map[string]int `json:"by_method,omitempty"`
}

// BatchSummary aggregates one worker cycle. Derived, never persisted.
type BatchSummary struct {
	Total          int
	Successful     int
	Failed         int
	Skipped        int
	TotalProducts  int
	ProductsSaved  int
	Duration       time.Duration
	AvgProductsURL float64
}
