// Package results dumps extraction envelopes to a local JSONL file for
// offline inspection. Disabled by default; the store remains the source of
// truth.
package results

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopcrawl/go-product-worker/models"
)

// Writer appends one JSON envelope per line. Safe for concurrent use.
type Writer struct {
	file    *os.File
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// envelope adds a timestamp to the persisted extraction result.
type envelope struct {
	Timestamp string `json:"timestamp"`
	models.ExtractionResult
}

// NewWriter opens (or creates) a timestamped results file under dir.
func NewWriter(dir string) (*Writer, error) {
	filename := filepath.Join(dir, fmt.Sprintf("extraction_results_%s.jsonl", time.Now().Format("20060102_150405")))
	return NewWriterFile(filename)
}

// NewWriterFile opens the given file for appending results.
func NewWriterFile(filename string) (*Writer, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open results file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &Writer{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends one extraction result as a JSONL record.
func (w *Writer) Write(result models.ExtractionResult) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	record := envelope{
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		ExtractionResult: result,
	}
	if err := w.encoder.Encode(record); err != nil {
		return fmt.Errorf("encode result record: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush results writer: %w", err)
	}
	return nil
}

// Close flushes buffers and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flush results writer: %w", err)
	}
	return w.file.Close()
}

// Validate ensures the results file has data.
func (w *Writer) Validate() error {
	info, err := w.file.Stat()
	if err != nil {
		return fmt.Errorf("stat results file: %w", err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("results file is empty")
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
