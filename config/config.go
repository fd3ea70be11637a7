// Package config holds runtime configuration for the worker and the
// extraction API, layered from defaults, environment, then flags.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds worker and API configuration.
type Config struct {
	// DatabaseURL is the Postgres DSN. Required for the worker.
	DatabaseURL string
	// RenderAPIURL is the batch endpoint of the HTML rendering service.
	RenderAPIURL string
	// WorkerID identifies this worker in claim records.
	WorkerID string

	BatchSize           int
	PollInterval        time.Duration
	MaxRetries          int
	RetryDelay          time.Duration
	ExtractionWorkers   int
	MaxConcurrentDBOps  int
	MaxProductsPerPage  int
	MaxBatchSize        int
	APITimeout          time.Duration
	ExcludedURLPatterns []string

	// SaveResults enables the local JSONL results dump.
	SaveResults bool
	ResultsDir  string

	ListenAddr  string
	MetricsAddr string
	Verbose     bool
}

// DefaultConfig returns production defaults, with environment overrides
// applied for every knob that has an env name.
func DefaultConfig() *Config {
	return &Config{
		DatabaseURL:         EnvString("DATABASE_URL", ""),
		RenderAPIURL:        EnvString("RENDER_API_URL", "http://localhost:8200/api/v1/fetch-batch"),
		WorkerID:            EnvString("WORKER_ID", defaultWorkerID()),
		BatchSize:           EnvInt("WORKER_BATCH_SIZE", 100),
		PollInterval:        EnvDuration("POLL_INTERVAL", 5*time.Second),
		MaxRetries:          EnvInt("MAX_RETRIES", 3),
		RetryDelay:          EnvDuration("RETRY_DELAY", 10*time.Second),
		ExtractionWorkers:   EnvInt("MAX_WORKERS", EnvInt("EXTRACTION_WORKERS", 50)),
		MaxConcurrentDBOps:  EnvInt("MAX_CONCURRENT_DB_OPS", 10),
		MaxProductsPerPage:  EnvInt("MAX_PRODUCTS_PER_PAGE", 100),
		MaxBatchSize:        EnvInt("MAX_BATCH_SIZE", 50),
		APITimeout:          EnvDuration("API_TIMEOUT", 120*time.Second),
		ExcludedURLPatterns: EnvList("EXCLUDED_URL_SUBSTRINGS", nil),
		SaveResults:         EnvBool("SAVE_RESULTS", false),
		ResultsDir:          EnvString("RESULTS_DIR", "results"),
		ListenAddr:          EnvString("LISTEN_ADDR", ":5000"),
		MetricsAddr:         EnvString("METRICS_ADDR", ":9090"),
	}
}

// defaultWorkerID prefers the hostname and falls back to a random id, so a
// fleet of containers gets distinct claim markers without configuration.
func defaultWorkerID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "worker-" + uuid.NewString()[:8]
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.RenderAPIURL == "" {
		return fmt.Errorf("render api url cannot be empty")
	}
	parsed, err := url.Parse(c.RenderAPIURL)
	if err != nil {
		return fmt.Errorf("invalid render api url: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("render api url must include a host")
	}

	if c.WorkerID == "" {
		return fmt.Errorf("worker id cannot be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	if c.ExtractionWorkers <= 0 {
		return fmt.Errorf("extraction workers must be positive")
	}
	if c.MaxConcurrentDBOps <= 0 {
		return fmt.Errorf("max concurrent db ops must be positive")
	}
	if c.MaxProductsPerPage <= 0 {
		return fmt.Errorf("max products per page must be positive")
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("max batch size must be positive")
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("api timeout must be positive")
	}
	if c.SaveResults && c.ResultsDir == "" {
		return fmt.Errorf("results dir cannot be empty when results saving is on")
	}
	return nil
}

// EnvString reads a string env var with a fallback.
func EnvString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// EnvInt reads an integer env var with a fallback. Unparsable values fall back.
func EnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

// EnvBool reads a boolean env var with a fallback.
func EnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

// EnvDuration reads a duration env var with a fallback. Accepts Go duration
// syntax ("5s", "2m") or a bare integer meaning seconds.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

// EnvList reads a comma-separated env var with a fallback, dropping blanks.
func EnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
