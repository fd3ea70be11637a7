package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/shopcrawl/go-product-worker/models"
)

const renderEndpoint = "http://render.internal/fetch/batch"

func newTestClient(maxRetries int) *Client {
	return NewClient(renderEndpoint, 5*time.Second, maxRetries, time.Millisecond, nil)
}

func TestFetchBatchEnvelopeResponse(t *testing.T) {
	c := newTestClient(2)
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, renderEndpoint,
		httpmock.NewStringResponder(http.StatusOK, `{
			"results": [
				{"url": "https://shop.example.com/a", "html": "<html>a</html>", "status": "success", "method": "playwright"},
				{"url": "https://shop.example.com/b", "html": "", "status": "failed", "error": "blocked"}
			],
			"summary": {"total": 2, "success": 1, "failed": 1, "success_rate": 0.5, "total_time": 3.2}
		}`))

	results := c.FetchBatch(context.Background(), []string{
		"https://shop.example.com/a",
		"https://shop.example.com/b",
	})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if !results[0].Usable() {
		t.Errorf("first result unusable: %+v", results[0])
	}
	if results[1].Usable() || results[1].Error != "blocked" {
		t.Errorf("second result = %+v, want failed with error", results[1])
	}
}

func TestFetchBatchBareArrayResponse(t *testing.T) {
	c := newTestClient(0)
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, renderEndpoint,
		httpmock.NewStringResponder(http.StatusOK,
			`[{"url": "https://shop.example.com/a", "html": "<html>a</html>", "status": "success"}]`))

	results := c.FetchBatch(context.Background(), []string{"https://shop.example.com/a"})
	if len(results) != 1 || !results[0].Usable() {
		t.Fatalf("results = %+v, want one usable result", results)
	}
}

func TestFetchBatchRetriesThenSucceeds(t *testing.T) {
	c := newTestClient(3)
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	calls := 0
	httpmock.RegisterResponder(http.MethodPost, renderEndpoint,
		func(req *http.Request) (*http.Response, error) {
			calls++
			if calls <= 2 {
				return httpmock.NewStringResponse(http.StatusInternalServerError, "boom"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK,
				`{"results": [{"url": "https://shop.example.com/a", "html": "<html>a</html>", "status": "success"}]}`), nil
		})

	results := c.FetchBatch(context.Background(), []string{"https://shop.example.com/a"})

	if calls != 3 {
		t.Fatalf("made %d calls, want 3 (two failures then success)", calls)
	}
	if len(results) != 1 || !results[0].Usable() {
		t.Fatalf("results = %+v, want one usable result on third attempt", results)
	}
}

func TestFetchBatchSynthesizesFailuresAfterExhaustion(t *testing.T) {
	c := newTestClient(2)
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, renderEndpoint,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))

	urls := []string{"https://shop.example.com/a", "https://shop.example.com/b"}
	results := c.FetchBatch(context.Background(), urls)

	if got := httpmock.GetTotalCallCount(); got != 3 {
		t.Fatalf("made %d calls, want 3 (initial + 2 retries)", got)
	}
	if len(results) != len(urls) {
		t.Fatalf("got %d results, want %d", len(results), len(urls))
	}
	for i, r := range results {
		if r.Status != models.FetchFailed || r.Error == "" {
			t.Errorf("result %d = %+v, want synthesized failure", i, r)
		}
		if r.URL != urls[i] {
			t.Errorf("result %d url = %q, want %q", i, r.URL, urls[i])
		}
	}
}

func TestFetchBatchRetriesClientErrors(t *testing.T) {
	c := newTestClient(3)
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, renderEndpoint,
		httpmock.NewStringResponder(http.StatusNotFound, "not found"))

	results := c.FetchBatch(context.Background(), []string{"https://shop.example.com/a"})

	if got := httpmock.GetTotalCallCount(); got != 4 {
		t.Fatalf("made %d calls, want 4 (initial + 3 retries)", got)
	}
	if len(results) != 1 || results[0].Status != models.FetchFailed {
		t.Fatalf("results = %+v, want single synthesized failure", results)
	}
	if results[0].ErrorType != "status" {
		t.Errorf("error type = %q, want %q", results[0].ErrorType, "status")
	}
}

func TestFetchBatchAcceptsAny2xx(t *testing.T) {
	c := newTestClient(0)
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, renderEndpoint,
		httpmock.NewStringResponder(http.StatusCreated,
			`{"results": [{"url": "https://shop.example.com/a", "html": "<html>a</html>", "status": "success"}]}`))

	results := c.FetchBatch(context.Background(), []string{"https://shop.example.com/a"})
	if len(results) != 1 || !results[0].Usable() {
		t.Fatalf("results = %+v, want one usable result from a 201", results)
	}
}

func TestFetchBatchRateLimitDoublesWait(t *testing.T) {
	c := NewClient(renderEndpoint, 5*time.Second, 1, 40*time.Millisecond, nil)
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	var callTimes []time.Time
	httpmock.RegisterResponder(http.MethodPost, renderEndpoint,
		func(req *http.Request) (*http.Response, error) {
			callTimes = append(callTimes, time.Now())
			if len(callTimes) == 1 {
				return httpmock.NewStringResponse(http.StatusTooManyRequests, "slow down"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK,
				`{"results": [{"url": "https://shop.example.com/a", "html": "<html>a</html>", "status": "success"}]}`), nil
		})

	results := c.FetchBatch(context.Background(), []string{"https://shop.example.com/a"})

	if len(callTimes) != 2 {
		t.Fatalf("made %d calls, want 2", len(callTimes))
	}
	// backoff(1) is 40ms, doubled to 80ms after a 429.
	if gap := callTimes[1].Sub(callTimes[0]); gap < 80*time.Millisecond {
		t.Errorf("wait between attempts = %v, want at least 80ms", gap)
	}
	if len(results) != 1 || !results[0].Usable() {
		t.Fatalf("results = %+v, want one usable result after rate-limit retry", results)
	}
}

func TestFetchBatchReconcilesMissingURLs(t *testing.T) {
	c := newTestClient(0)
	httpmock.ActivateNonDefault(c.httpClient)
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder(http.MethodPost, renderEndpoint,
		httpmock.NewStringResponder(http.StatusOK,
			`{"results": [{"url": "https://shop.example.com/a", "html": "<html>a</html>", "status": "success"}]}`))

	results := c.FetchBatch(context.Background(), []string{
		"https://shop.example.com/a",
		"https://shop.example.com/missing",
	})

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[1].Status != models.FetchFailed || results[1].URL != "https://shop.example.com/missing" {
		t.Fatalf("missing url result = %+v, want synthesized failure", results[1])
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		label  string
		retry  bool
	}{
		{name: "deadline", err: context.DeadlineExceeded, label: "timeout", retry: true},
		{name: "rate limited", status: http.StatusTooManyRequests, label: "rate_limited", retry: true},
		{name: "server", status: http.StatusBadGateway, label: "server", retry: true},
		{name: "client error", status: http.StatusBadRequest, label: "status", retry: true},
		{name: "not found", status: http.StatusNotFound, label: "status", retry: true},
		{name: "decode failure", err: ErrBadResponse{Err: fmt.Errorf("bad json")}, label: "bad_response", retry: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classifyError(tt.err, tt.status)
			if got := errorTypeLabel(classified); got != tt.label {
				t.Errorf("errorTypeLabel() = %q, want %q", got, tt.label)
			}
			if got := Retryable(classified); got != tt.retry {
				t.Errorf("Retryable() = %v, want %v", got, tt.retry)
			}
		})
	}

	var rateLimited ErrRateLimited
	if classified := classifyError(nil, http.StatusTooManyRequests); !errors.As(classified, &rateLimited) {
		t.Errorf("429 did not classify as ErrRateLimited: %v", classified)
	}
}

func TestBackoffDoubles(t *testing.T) {
	c := NewClient(renderEndpoint, time.Second, 5, 100*time.Millisecond, nil)

	if got := c.backoff(1); got != 100*time.Millisecond {
		t.Errorf("backoff(1) = %v, want 100ms", got)
	}
	if got := c.backoff(3); got != 400*time.Millisecond {
		t.Errorf("backoff(3) = %v, want 400ms", got)
	}
	if got := c.backoff(20); got != 30*time.Second {
		t.Errorf("backoff(20) = %v, want capped at 30s", got)
	}
}
