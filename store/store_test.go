package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopcrawl/go-product-worker/models"
)

type fakeQuerier struct {
	execSQL  []string
	execArgs [][]any
	execErr  error

	queryRows pgx.Rows
	queryErr  error
	querySQL  []string
	queryArgs [][]any
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	f.querySQL = append(f.querySQL, sql)
	f.queryArgs = append(f.queryArgs, args)
	return f.queryRows, f.queryErr
}

func (f *fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return nil
}

func (f *fakeQuerier) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	return nil
}

type fakeRows struct {
	rows [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos-1]
	for i, d := range dest {
		switch v := d.(type) {
		case *int64:
			*v = row[i].(int64)
		case *int:
			*v = row[i].(int)
		case *string:
			*v = row[i].(string)
		}
	}
	return nil
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func TestClaimBatchMarksItemsProcessing(t *testing.T) {
	fake := &fakeQuerier{queryRows: &fakeRows{rows: [][]any{
		{int64(11), int64(3), "https://shop.example.com/a", 0},
		{int64(12), int64(3), "https://shop.example.com/b", 2},
	}}}
	s := newWithQuerier(fake, 4, nil)

	items, err := s.ClaimBatch(context.Background(), "worker-1", 100)
	if err != nil {
		t.Fatalf("ClaimBatch() error = %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	if items[0].Status != models.StatusProcessing || items[0].ClaimedBy != "worker-1" {
		t.Errorf("item = %+v, want processing/claimed", items[0])
	}
	if items[1].RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", items[1].RetryCount)
	}

	sql := fake.querySQL[0]
	for _, fragment := range []string{"FOR UPDATE SKIP LOCKED", "processing_status = 'pending'", "RETURNING"} {
		if !strings.Contains(sql, fragment) {
			t.Errorf("claim statement missing %q", fragment)
		}
	}
	if fake.queryArgs[0][1] != 100 {
		t.Errorf("limit arg = %v, want 100", fake.queryArgs[0][1])
	}
}

func TestReportFailureIncrementsRetryInStatement(t *testing.T) {
	fake := &fakeQuerier{}
	s := newWithQuerier(fake, 4, nil)

	err := s.Report(context.Background(), 11, Outcome{
		Success:      false,
		ErrorMessage: "render failed",
	})
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	sql := fake.execSQL[0]
	if !strings.Contains(sql, "retry_count = CASE WHEN $3 THEN retry_count ELSE retry_count + 1 END") {
		t.Errorf("report statement does not increment retry_count atomically:\n%s", sql)
	}
	args := fake.execArgs[0]
	if args[1] != models.StatusFailed {
		t.Errorf("status arg = %v, want %q", args[1], models.StatusFailed)
	}
	if args[5] != "render failed" {
		t.Errorf("error arg = %v, want message", args[5])
	}
}

func TestReportSuccess(t *testing.T) {
	fake := &fakeQuerier{}
	s := newWithQuerier(fake, 4, nil)

	err := s.Report(context.Background(), 12, Outcome{
		Success:       true,
		ProductsFound: 8,
		ProductsSaved: 8,
	})
	if err != nil {
		t.Fatalf("Report() error = %v", err)
	}

	args := fake.execArgs[0]
	if args[1] != models.StatusCompleted || args[2] != true {
		t.Errorf("args = %v, want completed/true", args[:3])
	}
	if args[3] != 8 || args[4] != 8 {
		t.Errorf("count args = %v, want 8/8", args[3:5])
	}
}

func TestTruncateError(t *testing.T) {
	long := strings.Repeat("x", 1500)
	got := truncateError(long)
	if len(got) != maxErrorMessageLen {
		t.Fatalf("len = %d, want %d", len(got), maxErrorMessageLen)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated message missing ellipsis suffix")
	}

	short := "fits"
	if truncateError(short) != short {
		t.Fatalf("short message was modified")
	}
	exact := strings.Repeat("y", maxErrorMessageLen)
	if truncateError(exact) != exact {
		t.Fatalf("exact-length message was modified")
	}
}

func TestBuildRows(t *testing.T) {
	products := []models.ProductRecord{
		{Title: "Shoe", ProductURL: "https://s/p/1", Price: 49.99, HasPrice: true, InStock: true},
		{Title: "", ProductURL: "https://s/p/2"},
		{Title: "No URL"},
		{Title: "Out", ProductURL: "https://s/p/3", InStock: false},
	}

	rows := buildRows("https://s/catalog", 7, products)
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (records without name+url dropped)", len(rows))
	}

	first := rows[0].args
	if first[0] != "https://s/catalog" || first[1] != "Shoe" {
		t.Errorf("row identity args = %v", first[:3])
	}
	if price := first[5].(*float64); price == nil || *price != 49.99 {
		t.Errorf("current_price = %v, want 49.99", price)
	}
	if orig := first[4].(*string); orig == nil || *orig != "49.99" {
		t.Errorf("original_price = %v, want current price string", orig)
	}
	if first[10] != "Yes" {
		t.Errorf("in_stock = %v, want Yes", first[10])
	}

	second := rows[1].args
	if second[10] != "No" {
		t.Errorf("in_stock = %v, want No", second[10])
	}
	if second[5].(*float64) != nil {
		t.Errorf("priceless record got a current_price")
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	s := newWithQuerier(&fakeQuerier{}, 1, nil)
	if err := s.acquire(context.Background()); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.acquire(ctx); err == nil {
		t.Fatalf("second acquire succeeded with permits exhausted")
	}
	s.release()
}
