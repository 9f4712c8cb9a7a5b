// Package collector keeps on-disk candle series in sync with an exchange.
//
// The Orchestrator fetches the planned windows of one series concurrently with
// bounded retry. The Collector drives every requested (interval, pair) through
// plan, fetch, merge and persist, one series at a time.
package collector

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/johnayoung/cexdata/internal/errors"
	"github.com/johnayoung/cexdata/internal/gaps"
	"github.com/johnayoung/cexdata/internal/storage"
)

// DefaultFloor is the start of recorded history used for series that do not
// exist yet.
var DefaultFloor = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)

// SeriesStore is the part of the storage layer the collector needs.
type SeriesStore interface {
	storage.SeriesReader
	storage.SeriesWriter
}

// Config configures the collector behavior
type Config struct {
	Floor  time.Time             // start of history for empty series
	Retry  apperrors.RetryPolicy // per window retry budget
	Logger *slog.Logger          // defaults to slog.Default()
	Now    func() time.Time      // clock, defaults to time.Now
}

// DefaultConfig returns a default collector configuration
func DefaultConfig() *Config {
	return &Config{
		Floor:  DefaultFloor,
		Retry:  apperrors.DefaultRetryPolicy(),
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

// ValidateConfig validates collector configuration
func ValidateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if config.Floor.IsZero() {
		return fmt.Errorf("floor date is required")
	}
	if config.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max attempts must be at least 1, got %d", config.Retry.MaxAttempts)
	}
	if config.Retry.InitialDelay < 0 || config.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays cannot be negative")
	}
	if config.Retry.Jitter < 0 || config.Retry.Jitter >= 1 {
		return fmt.Errorf("retry jitter must be in [0, 1), got %v", config.Retry.Jitter)
	}
	return nil
}

// DownloadRequest selects the series to sync.
type DownloadRequest struct {
	Pairs     []string     // pairs as typed by the user, e.g. "BTC-USD"
	Intervals []string     // catalog labels, e.g. "1h"
	EndDate   *time.Time   // nil means now; later dates are clamped to now
	Progress  ProgressFunc // optional, called once per completed window
}

// WindowProgress describes one completed window.
type WindowProgress struct {
	Pair      string
	Interval  string
	Window    gaps.Window
	Rows      int
	Attempts  int
	Completed int // windows of the batch completed so far, including this one
	Total     int // windows in the batch
}

// ProgressFunc receives window completions. Calls are serialized.
type ProgressFunc func(WindowProgress)

// SeriesStatus is the outcome for one (interval, pair).
type SeriesStatus string

const (
	StatusUpToDate SeriesStatus = "up_to_date" // already caught up, nothing fetched
	StatusUpdated  SeriesStatus = "updated"    // new rows were appended
	StatusNoData   SeriesStatus = "no_data"    // fetched, but nothing new to store
	StatusFailed   SeriesStatus = "failed"     // batch failed, file untouched
)

// SeriesResult reports what happened to one series.
type SeriesResult struct {
	Key      storage.SeriesKey
	Symbol   string // symbol requested from the exchange
	Status   SeriesStatus
	TargetMs int64
	Windows  int
	Fetched  int // rows returned by the exchange, before dedup
	Appended int
	Duration time.Duration
	Err      error
}

// Report summarizes a Download call.
type Report struct {
	RunID      string
	Exchange   string
	End        time.Time // requested end after clamping
	StartedAt  time.Time
	FinishedAt time.Time
	Series     []SeriesResult
}

// Count returns the number of series with the given status.
func (r *Report) Count(status SeriesStatus) int {
	n := 0
	for _, s := range r.Series {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Appended returns the total rows appended across series.
func (r *Report) Appended() int {
	total := 0
	for _, s := range r.Series {
		total += s.Appended
	}
	return total
}

// Err joins the errors of failed series, or returns nil.
func (r *Report) Err() error {
	var errs []error
	for _, s := range r.Series {
		if s.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Key, s.Err))
		}
	}
	return errors.Join(errs...)
}

// CollectionMetrics provides comprehensive collection statistics
type CollectionMetrics struct {
	FetchAttempts    int64
	FetchFailures    int64
	Retries          int64
	RateLimitHits    int64
	WindowsCompleted int64
	WindowsFailed    int64
	CandlesCollected int64
	CandlesStored    int64
	SeriesByStatus   map[SeriesStatus]int64
	SuccessRate      float64
	AvgResponseTime  time.Duration
	Uptime           time.Duration
}
