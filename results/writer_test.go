package results

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopcrawl/go-product-worker/models"
)

func TestWriterAppendsJSONL(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "out", "results.jsonl")
	w, err := NewWriterFile(filename)
	if err != nil {
		t.Fatalf("NewWriterFile() error = %v", err)
	}

	results := []models.ExtractionResult{
		{
			Success:      true,
			URL:          "https://s/a",
			Platform:     "s",
			StrategyUsed: models.StrategyStructural,
			NumProducts:  2,
			Products: []models.ProductRecord{
				{Title: "One", ProductURL: "https://s/p/1", InStock: true},
				{Title: "Two", ProductURL: "https://s/p/2", InStock: true},
			},
		},
		{
			Success:      false,
			URL:          "https://s/b",
			StrategyUsed: models.StrategyNone,
			Error:        "no products found",
		},
	}
	for _, r := range results {
		if err := w.Write(r); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := w.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	f, err := os.Open(filename)
	if err != nil {
		t.Fatalf("open results file: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var decoded map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line %d not valid json: %v", lines+1, err)
		}
		if ts, ok := decoded["timestamp"].(string); !ok || ts == "" {
			t.Errorf("line %d missing timestamp", lines+1)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("got %d lines, want 2", lines)
	}
}

func TestWriterValidateEmpty(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "results.jsonl")
	w, err := NewWriterFile(filename)
	if err != nil {
		t.Fatalf("NewWriterFile() error = %v", err)
	}
	defer w.Close()

	if err := w.Validate(); err == nil {
		t.Fatalf("Validate() on empty file = nil, want error")
	}
}
