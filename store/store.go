// Package store persists work items and extracted products in Postgres.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopcrawl/go-product-worker/models"
)

const (
	maxErrorMessageLen = 1000
	insertChunkSize    = 100
	insertMaxRetries   = 3
)

// querier is the subset of pgxpool.Pool the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Outcome is the terminal result reported for one work item.
type Outcome struct {
	Success       bool
	ProductsFound int
	ProductsSaved int
	ErrorMessage  string
}

// Store throttles its own database concurrency with a counting permit so
// extraction workers cannot exhaust the connection pool.
type Store struct {
	db      querier
	permits chan struct{}
	log     *slog.Logger
}

// New connects a pool and verifies it with a ping.
func New(ctx context.Context, dsn string, maxConcurrentOps int, log *slog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return newWithQuerier(pool, maxConcurrentOps, log), nil
}

func newWithQuerier(db querier, maxConcurrentOps int, log *slog.Logger) *Store {
	if maxConcurrentOps <= 0 {
		maxConcurrentOps = 10
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		db:      db,
		permits: make(chan struct{}, maxConcurrentOps),
		log:     log,
	}
}

func (s *Store) acquire(ctx context.Context) error {
	select {
	case s.permits <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) release() {
	<-s.permits
}

const claimSQL = `
UPDATE product_page_urls
SET processing_status = 'processing',
    claimed_by = $1,
    claimed_at = now()
WHERE id IN (
    SELECT id FROM product_page_urls
    WHERE processing_status = 'pending'
    ORDER BY id
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
RETURNING id, product_type_id, product_page_url, retry_count`

// ClaimBatch atomically marks up to n pending items as processing by workerID
// and returns them. Items claimed here are invisible to concurrent workers, so
// no item is ever processed twice.
func (s *Store) ClaimBatch(ctx context.Context, workerID string, n int) ([]models.WorkItem, error) {
	if n <= 0 {
		return nil, nil
	}
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.release()

	rows, err := s.db.Query(ctx, claimSQL, workerID, n)
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	defer rows.Close()

	var items []models.WorkItem
	for rows.Next() {
		item := models.WorkItem{Status: models.StatusProcessing, ClaimedBy: workerID}
		if err := rows.Scan(&item.ID, &item.ProductTypeID, &item.URL, &item.RetryCount); err != nil {
			return nil, fmt.Errorf("scan work item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim batch rows: %w", err)
	}
	return items, nil
}

const reportSQL = `
UPDATE product_page_urls
SET processing_status = $2,
    processed_at = now(),
    success = $3,
    products_found = $4,
    products_saved = $5,
    error_message = NULLIF($6, ''),
    retry_count = CASE WHEN $3 THEN retry_count ELSE retry_count + 1 END
WHERE id = $1`

// Report writes the terminal status for one work item. The retry count
// increments inside the statement on failure, so concurrent reporters can
// never lose an increment.
func (s *Store) Report(ctx context.Context, id int64, outcome Outcome) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	status := models.StatusCompleted
	if !outcome.Success {
		status = models.StatusFailed
	}
	_, err := s.db.Exec(ctx, reportSQL,
		id,
		status,
		outcome.Success,
		outcome.ProductsFound,
		outcome.ProductsSaved,
		truncateError(outcome.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("report item %d: %w", id, err)
	}
	return nil
}

// PendingCount returns how many items are waiting to be claimed.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()

	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM product_page_urls WHERE processing_status = 'pending'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return count, nil
}

const insertProductSQL = `
INSERT INTO r_product_data
(platform_url, product_name, product_url, product_image_url, original_price,
 current_price, product_type_id, rating, reviews, brand, in_stock,
 description, category_id, searched_product_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,NULL,NULL)`

// productRow is one prepared r_product_data insert.
type productRow struct {
	args []any
}

// SaveProducts batch-inserts products for one source page. Connection-class
// failures retry with a longer backoff and finally degrade to row-at-a-time
// inserts; other failures abandon the remainder but keep what was written.
// Returns the number of rows written.
func (s *Store) SaveProducts(ctx context.Context, platformURL string, productTypeID int64, products []models.ProductRecord) (int, error) {
	rows := buildRows(platformURL, productTypeID, products)
	if len(rows) == 0 {
		return 0, nil
	}

	if err := s.acquire(ctx); err != nil {
		return 0, err
	}
	defer s.release()

	saved := 0
	for i := 0; i < len(rows); i += insertChunkSize {
		j := i + insertChunkSize
		if j > len(rows) {
			j = len(rows)
		}
		chunk := rows[i:j]

		n, err := s.insertChunk(ctx, chunk)
		saved += n
		if err != nil {
			return saved, err
		}
	}
	return saved, nil
}

func (s *Store) insertChunk(ctx context.Context, chunk []productRow) (int, error) {
	var lastErr error
	for attempt := 0; attempt < insertMaxRetries; attempt++ {
		n, err := s.sendChunk(ctx, chunk)
		if err == nil {
			return n, nil
		}
		lastErr = err

		if !isConnectionError(err) {
			return n, fmt.Errorf("insert products: %w", err)
		}
		wait := time.Second * time.Duration(1<<attempt)
		s.log.Warn("product insert connection error",
			slog.Int("attempt", attempt+1),
			slog.Duration("wait", wait),
			slog.Any("error", err),
		)
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-time.After(wait):
		}
	}

	s.log.Warn("batch insert degraded to row-at-a-time",
		slog.Int("rows", len(chunk)),
		slog.Any("error", lastErr),
	)
	return s.insertIndividually(ctx, chunk), nil
}

func (s *Store) sendChunk(ctx context.Context, chunk []productRow) (int, error) {
	b := &pgx.Batch{}
	for _, row := range chunk {
		b.Queue(insertProductSQL, row.args...)
	}
	br := s.db.SendBatch(ctx, b)

	saved := 0
	for range chunk {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return saved, err
		}
		saved += int(tag.RowsAffected())
	}
	if err := br.Close(); err != nil {
		return saved, err
	}
	return saved, nil
}

func (s *Store) insertIndividually(ctx context.Context, chunk []productRow) int {
	saved := 0
	for _, row := range chunk {
		var err error
		for attempt := 0; attempt < insertMaxRetries; attempt++ {
			_, err = s.db.Exec(ctx, insertProductSQL, row.args...)
			if err == nil {
				saved++
				break
			}
			select {
			case <-ctx.Done():
				return saved
			case <-time.After(500 * time.Millisecond * time.Duration(1<<attempt)):
			}
		}
		if err != nil {
			s.log.Debug("individual product insert failed", slog.Any("error", err))
		}
	}
	return saved
}

// buildRows maps records onto the persisted schema: in_stock as "Yes"/"No",
// original price defaulting to the current price, nullable optional fields.
// Records missing a name or URL are dropped.
func buildRows(platformURL string, productTypeID int64, products []models.ProductRecord) []productRow {
	rows := make([]productRow, 0, len(products))
	for _, p := range products {
		if p.Title == "" || p.ProductURL == "" {
			continue
		}

		var currentPrice *float64
		var originalPrice *string
		if p.HasPrice {
			price := p.Price
			currentPrice = &price
			formatted := fmt.Sprintf("%g", p.Price)
			originalPrice = &formatted
		}

		var rating *float64
		if p.HasRating {
			r := p.Rating
			rating = &r
		}
		var reviews *int
		if p.ReviewCount > 0 {
			n := p.ReviewCount
			reviews = &n
		}

		inStock := "No"
		if p.InStock {
			inStock = "Yes"
		}

		rows = append(rows, productRow{args: []any{
			platformURL,
			p.Title,
			p.ProductURL,
			nullableString(p.ImageURL),
			originalPrice,
			currentPrice,
			productTypeID,
			rating,
			reviews,
			nullableString(p.Brand),
			inStock,
			nullableString(p.Description),
		}})
	}
	return rows
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// truncateError caps messages at the column limit, marking the cut.
func truncateError(msg string) string {
	if len(msg) <= maxErrorMessageLen {
		return msg
	}
	return msg[:maxErrorMessageLen-3] + "..."
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
