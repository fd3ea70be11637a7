// Package extract turns one rendered HTML document into normalized product
// records using a fixed-priority cascade of extraction strategies.
package extract

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopcrawl/go-product-worker/models"
	"github.com/shopcrawl/go-product-worker/parser"
)

// minStrategyWin is the yield at which a strategy wins the cascade outright.
const minStrategyWin = 3

// errorPageIndicators flag documents that are block/error pages rather than
// listings. Only consulted for small documents.
var errorPageIndicators = []string{
	"403 error", "404 error", "access denied", "request blocked",
	"error: the request could not be satisfied", "cloudfront",
	"page not found", "not found", "forbidden",
}

const errorPageMaxLen = 5000

type strategyFunc func(doc *goquery.Document, base *url.URL, maxItems int) []models.ProductRecord

// Engine runs the strategy cascade over one document at a time. It holds no
// per-call state and is safe for concurrent use.
type Engine struct {
	maxItems int
	log      *slog.Logger
}

// NewEngine builds an engine capping output at maxItems products per document.
func NewEngine(maxItems int, log *slog.Logger) *Engine {
	if maxItems <= 0 {
		maxItems = 100
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{maxItems: maxItems, log: log}
}

// MaxItems returns the configured per-document product cap.
func (e *Engine) MaxItems() int { return e.maxItems }

// Extract parses htmlContent and runs the cascade. It never panics on
// malformed markup; an unusable document yields Success=false with an
// explanatory error string.
func (e *Engine) Extract(htmlContent, sourceURL string) models.ExtractionResult {
	start := time.Now()
	result := models.ExtractionResult{
		URL:          sourceURL,
		Platform:     parser.Platform(sourceURL),
		StrategyUsed: models.StrategyNone,
		Products:     []models.ProductRecord{},
	}

	if isErrorPage(htmlContent) {
		result.Error = "error page detected (likely blocked or not found)"
		result.Duration = time.Since(start)
		return result
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		result.Error = fmt.Sprintf("parse document: %v", err)
		result.Duration = time.Since(start)
		return result
	}

	base, err := url.Parse(sourceURL)
	if err != nil {
		base = nil
	}

	strategies := []struct {
		name models.Strategy
		run  strategyFunc
	}{
		{models.StrategyStructural, e.extractStructural},
		{models.StrategyJSONLD, e.extractJSONLD},
		{models.StrategyMicrodata, e.extractMicrodata},
		{models.StrategyInlineScripts, e.extractInlineScripts},
		{models.StrategyHeuristics, e.extractHeuristics},
		{models.StrategyFallback, e.extractLinksWithImages},
	}

	var (
		products     []models.ProductRecord
		strategyUsed models.Strategy
		best         []models.ProductRecord
		bestStrategy models.Strategy
	)

	for _, s := range strategies {
		found, err := e.runStrategy(s.run, doc, base)
		if err != nil {
			e.log.Warn("strategy failed", slog.String("strategy", string(s.name)), slog.Any("error", err))
			continue
		}
		if len(found) == 0 {
			continue
		}
		if len(found) >= minStrategyWin {
			strategyUsed = s.name
			products = found
			break
		}
		if len(found) > len(best) {
			best = found
			bestStrategy = s.name
		}
	}

	if strategyUsed == "" && len(best) > 0 {
		strategyUsed = bestStrategy
		products = best
	}

	products = mergeByURL(products)
	if len(products) > e.maxItems {
		products = products[:e.maxItems]
	}

	result.Products = products
	result.NumProducts = len(products)
	result.Success = len(products) > 0
	if strategyUsed != "" {
		result.StrategyUsed = strategyUsed
	}
	if len(products) == 0 {
		result.Error = "no products found by any strategy"
	}
	result.Duration = time.Since(start)
	return result
}

// runStrategy isolates one strategy: a panic on untrusted markup becomes an
// error for the cascade to skip, never an abort.
func (e *Engine) runStrategy(fn strategyFunc, doc *goquery.Document, base *url.URL) (products []models.ProductRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			products = nil
			err = fmt.Errorf("strategy panic: %v", r)
		}
	}()
	return fn(doc, base, e.maxItems), nil
}

func isErrorPage(htmlContent string) bool {
	if len(htmlContent) >= errorPageMaxLen {
		return false
	}
	lower := strings.ToLower(htmlContent)
	for _, indicator := range errorPageIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return false
}
