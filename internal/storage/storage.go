// Package storage persists candle series as one CSV file per
// (exchange, interval, pair) and answers what is missing from them.
//
// A series file has the header "timestamp,open,high,low,close,volume" followed
// by rows ascending by timestamp with no duplicate timestamps. Files are only
// ever created or appended to; readers deduplicate defensively so a file that
// was edited by hand still yields a well-formed series.
package storage

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/johnayoung/cexdata/internal/models"
)

// SeriesReader answers questions about stored series.
type SeriesReader interface {
	// LastStoredTimestamp returns the timestamp of the final record of the
	// deduplicated series. ok is false when no file exists or it holds no rows.
	// A malformed file yields a CorruptSeriesError.
	LastStoredTimestamp(ctx context.Context, key SeriesKey) (ts int64, ok bool, err error)

	// IsCaughtUpTo reports whether the series exists and its last timestamp is
	// at or after target. It governs whether any download is attempted.
	IsCaughtUpTo(ctx context.Context, key SeriesKey, target int64) (bool, error)
}

// SeriesWriter mutates stored series.
type SeriesWriter interface {
	// AppendMerged deduplicates and sorts rows, drops every row at or before the
	// last stored timestamp and appends the rest. A missing file is created with
	// a header. An empty merged batch leaves the file untouched. It returns the
	// number of rows written.
	AppendMerged(ctx context.Context, key SeriesKey, rows []models.Candle) (int, error)
}

// SeriesLoader is the read surface for downstream consumers.
type SeriesLoader interface {
	// Load returns the deduplicated series sliced to [start, end) with the final,
	// possibly still forming, row dropped. Zero start or end leave that side
	// unbounded. A missing file yields a SeriesNotFoundError.
	Load(ctx context.Context, key SeriesKey, start, end time.Time) ([]models.Candle, error)
}

// SeriesInventory lists what is stored.
type SeriesInventory interface {
	// Inventory walks the data directory and summarizes every series file.
	// Unreadable files are logged and skipped.
	Inventory(ctx context.Context) ([]SeriesInfo, error)
}

// FullStorage combines every storage capability.
type FullStorage interface {
	SeriesReader
	SeriesWriter
	SeriesLoader
	SeriesInventory
}

// SeriesKey identifies one series.
type SeriesKey struct {
	Exchange string // exchange name, e.g. "binance"
	Interval string // interval label, e.g. "1h"
	Pair     string // canonical pair, e.g. "BTC/USD"
}

// FileName returns the series file name with the pair separator replaced.
func (k SeriesKey) FileName() string {
	return strings.ReplaceAll(k.Pair, "/", "-") + ".csv"
}

// RelPath returns the series path relative to the data directory.
func (k SeriesKey) RelPath() string {
	return filepath.Join(k.Exchange, k.Interval, k.FileName())
}

// String implements fmt.Stringer.
func (k SeriesKey) String() string {
	return k.Exchange + "/" + k.Interval + "/" + k.Pair
}

// SeriesInfo summarizes one stored series.
type SeriesInfo struct {
	Key       SeriesKey `json:"key"`
	Path      string    `json:"path"`
	Rows      int       `json:"rows"`
	FirstTime time.Time `json:"first_time"`
	LastTime  time.Time `json:"last_time"`
	Holes     int       `json:"holes"`   // runs of missing candles inside the series
	Missing   int64     `json:"missing"` // candles missing inside the series
	SizeBytes int64     `json:"size_bytes"`
}
