package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopcrawl/go-product-worker/models"
)

type extractItem struct {
	HTML          string `json:"html"`
	URL           string `json:"url"`
	ProductTypeID *int64 `json:"product_type_id"`
}

type extractRequest struct {
	extractItem
	HTMLContents []extractItem `json:"html_contents"`
	MaxWorkers   *int          `json:"max_workers"`
}

// itemResult is the per-document response shape.
type itemResult struct {
	PlatformURL string                 `json:"platform_url"`
	Success     bool                   `json:"success"`
	NumProducts int                    `json:"num_products"`
	Products    []models.ProductRecord `json:"products"`
	Strategy    models.Strategy        `json:"extraction_strategy"`
	Error       string                 `json:"error,omitempty"`
	SavedToDB   int                    `json:"saved_to_db"`
}

type extractResponse struct {
	Success        bool         `json:"success"`
	Results        []itemResult `json:"results"`
	TotalProcessed int          `json:"total_processed"`
	TotalProducts  int          `json:"total_products"`
	TotalSaved     int          `json:"total_saved_to_db"`
	ElapsedSeconds float64      `json:"processing_time_seconds"`
	MaxWorkersUsed int          `json:"max_workers_used,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "product-extraction-api",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}, "/health")
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body", "/extract")
		return
	}

	switch {
	case req.HTMLContents != nil:
		s.extractBatch(w, r, req, start)
	case req.HTML != "" || req.URL != "":
		s.extractSingle(w, r, req.extractItem, start)
	default:
		s.writeError(w, http.StatusBadRequest,
			`invalid request format: provide {"html": ..., "url": ...} or {"html_contents": [...]}`, "/extract")
	}
}

func (s *Server) extractSingle(w http.ResponseWriter, r *http.Request, item extractItem, start time.Time) {
	if item.HTML == "" {
		s.writeError(w, http.StatusBadRequest, "html content is required", "/extract")
		return
	}
	if item.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url is required", "/extract")
		return
	}

	snap := s.settings.Load()
	result := s.processItem(r, snap, item)

	s.writeJSON(w, http.StatusOK, extractResponse{
		Success:        true,
		Results:        []itemResult{result},
		TotalProcessed: 1,
		TotalProducts:  result.NumProducts,
		TotalSaved:     result.SavedToDB,
		ElapsedSeconds: roundSeconds(time.Since(start)),
	}, "/extract")
}

func (s *Server) extractBatch(w http.ResponseWriter, r *http.Request, req extractRequest, start time.Time) {
	if len(req.HTMLContents) == 0 {
		s.writeError(w, http.StatusBadRequest, "html_contents array is required", "/extract")
		return
	}
	if len(req.HTMLContents) > s.maxBatchSize {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("batch size exceeds maximum of %d, received %d items", s.maxBatchSize, len(req.HTMLContents)),
			"/extract")
		return
	}

	snap := s.settings.Load()
	workers := snap.MaxWorkers
	if req.MaxWorkers != nil {
		workers = clamp(*req.MaxWorkers, minWorkers, maxWorkers)
	}

	results := make([]itemResult, len(req.HTMLContents))
	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, item := range req.HTMLContents {
		wg.Add(1)
		go func(i int, item extractItem) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = s.processItem(r, snap, item)
		}(i, item)
	}
	wg.Wait()

	totalProducts := 0
	totalSaved := 0
	for _, res := range results {
		totalProducts += res.NumProducts
		totalSaved += res.SavedToDB
	}

	s.writeJSON(w, http.StatusOK, extractResponse{
		Success:        true,
		Results:        results,
		TotalProcessed: len(results),
		TotalProducts:  totalProducts,
		TotalSaved:     totalSaved,
		ElapsedSeconds: roundSeconds(time.Since(start)),
		MaxWorkersUsed: workers,
	}, "/extract")
}

func (s *Server) processItem(r *http.Request, snap Snapshot, item extractItem) itemResult {
	result := s.extractOne(snap, item.HTML, item.URL)

	out := itemResult{
		PlatformURL: item.URL,
		Success:     result.Success,
		NumProducts: result.NumProducts,
		Products:    result.Products,
		Strategy:    result.StrategyUsed,
		Error:       result.Error,
	}
	if out.Products == nil {
		out.Products = []models.ProductRecord{}
	}

	if s.saver != nil && item.ProductTypeID != nil && len(result.Products) > 0 {
		saved, err := s.saver.SaveProducts(r.Context(), item.URL, *item.ProductTypeID, result.Products)
		out.SavedToDB = saved
		if err != nil {
			s.log.Error("save products failed",
				slog.String("url", item.URL),
				slog.Int("saved", saved),
				slog.Any("error", err),
			)
		}
	}
	return out
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.settings.Load(), "/config")
}

type configUpdate struct {
	MaxWorkers         *int `json:"max_workers"`
	MaxProductsPerPage *int `json:"max_products_per_page"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var req configUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid json body", "/config")
		return
	}

	snap, err := s.settings.Update(req.MaxWorkers, req.MaxProductsPerPage)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error(), "/config")
		return
	}

	s.log.Info("configuration updated",
		slog.Int64("version", snap.Version),
		slog.Int("max_workers", snap.MaxWorkers),
		slog.Int("max_products_per_page", snap.MaxProductsPerPage),
	)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "configuration updated",
		"config":  snap,
	}, "/config")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any, route string) {
	s.requestsTotal.WithLabelValues(route, fmt.Sprintf("%dxx", status/100)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Error("encode response failed", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message, route string) {
	s.writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	}, route)
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000
}
