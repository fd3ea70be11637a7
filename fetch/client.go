// Package fetch talks to the remote rendering service that turns product page
// URLs into fully rendered HTML.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopcrawl/go-product-worker/models"
)

// Client issues batch render requests with capped exponential backoff.
type Client struct {
	endpoint   string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	log        *slog.Logger
}

// NewClient builds a rendering-service client. endpoint is the batch render
// URL; timeout bounds each attempt, not the whole batch.
func NewClient(endpoint string, timeout time.Duration, maxRetries int, retryDelay time.Duration, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		log:        log,
	}
}

type batchRequest struct {
	URLs []string `json:"urls"`
}

type batchResponse struct {
	Results []models.FetchResult `json:"results"`
	Summary *models.FetchSummary `json:"summary"`
}

// FetchBatch renders every URL in one request. It never returns an error:
// after retries are exhausted each URL still missing a result gets a
// synthesized failed entry, so callers can report per-item outcomes uniformly.
func (c *Client) FetchBatch(ctx context.Context, urls []string) []models.FetchResult {
	if len(urls) == 0 {
		return nil
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.backoff(attempt)
			var rateLimited ErrRateLimited
			if errors.As(lastErr, &rateLimited) {
				wait *= 2
			}
			c.log.Warn("render request retry",
				slog.Int("attempt", attempt),
				slog.Duration("wait", wait),
				slog.String("category", errorTypeLabel(lastErr)),
				slog.Any("error", lastErr),
			)
			select {
			case <-ctx.Done():
				return c.synthesizeFailures(urls, ctx.Err())
			case <-time.After(wait):
			}
		}

		results, err := c.fetchOnce(ctx, urls)
		if err == nil {
			return c.reconcile(urls, results)
		}
		lastErr = err
		if !Retryable(err) {
			break
		}
	}

	c.log.Error("render request failed",
		slog.Int("urls", len(urls)),
		slog.String("category", errorTypeLabel(lastErr)),
		slog.Any("error", lastErr),
	)
	return c.synthesizeFailures(urls, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, urls []string) ([]models.FetchResult, error) {
	body, err := json.Marshal(batchRequest{URLs: urls})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyError(err, 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, classifyError(nil, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyError(err, 0)
	}
	return c.decode(raw)
}

// decode accepts both response shapes the service emits: an envelope with
// results plus an optional summary, or a bare result array.
func (c *Client) decode(raw []byte) ([]models.FetchResult, error) {
	var envelope batchResponse
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Results != nil {
		if envelope.Summary != nil {
			c.logSummary(envelope.Summary)
		}
		return envelope.Results, nil
	}

	var bare []models.FetchResult
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, ErrBadResponse{Err: err}
	}
	return bare, nil
}

func (c *Client) logSummary(s *models.FetchSummary) {
	attrs := []any{
		slog.Int("total", s.Total),
		slog.Int("success", s.Success),
		slog.Int("failed", s.Failed),
		slog.Float64("success_rate", s.SuccessRate),
		slog.Float64("total_time_s", s.TotalTime),
	}
	if len(s.ByMethod) > 0 {
		attrs = append(attrs, slog.Any("by_method", s.ByMethod))
	}
	c.log.Info("render batch summary", attrs...)
}

// reconcile returns one result per requested URL in request order. URLs the
// service did not answer for get a synthesized failure.
func (c *Client) reconcile(urls []string, results []models.FetchResult) []models.FetchResult {
	byURL := make(map[string]models.FetchResult, len(results))
	for _, r := range results {
		if _, seen := byURL[r.URL]; !seen {
			byURL[r.URL] = r
		}
	}

	out := make([]models.FetchResult, 0, len(urls))
	for _, u := range urls {
		if r, ok := byURL[u]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, models.FetchResult{
			URL:       u,
			Status:    models.FetchFailed,
			Error:     "no result returned by rendering service",
			ErrorType: "missing_result",
		})
	}
	return out
}

func (c *Client) synthesizeFailures(urls []string, cause error) []models.FetchResult {
	message := "render request failed"
	if cause != nil {
		message = cause.Error()
	}
	out := make([]models.FetchResult, 0, len(urls))
	for _, u := range urls {
		out = append(out, models.FetchResult{
			URL:       u,
			Status:    models.FetchFailed,
			Error:     message,
			ErrorType: errorTypeLabel(cause),
		})
	}
	return out
}

func (c *Client) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	delay := c.retryDelay * time.Duration(1<<(attempt-1))
	if max := 30 * time.Second; delay > max {
		delay = max
	}
	return delay
}
