// Package models provides the data structures of the OHLCV sync pipeline: the
// candle record stored in series files and the interval catalog used for
// timestamp arithmetic.
package models

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV record. Timestamp is the exchange-native open time in
// epoch milliseconds, UTC.
type Candle struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// ValidationError represents a candle validation error with specific field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message is a descriptive error message explaining the validation failure
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Time returns the candle open time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// Validate checks that the candle can be stored: a positive timestamp, finite
// numbers, non-negative prices and volume, and high not below low. Price
// comparisons go through decimal so float noise does not reject a flat candle.
func (c Candle) Validate() error {
	if c.Timestamp <= 0 {
		return &ValidationError{Field: "timestamp", Message: "timestamp must be positive"}
	}

	fields := []struct {
		name  string
		value float64
	}{
		{"open", c.Open},
		{"high", c.High},
		{"low", c.Low},
		{"close", c.Close},
		{"volume", c.Volume},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) {
			return &ValidationError{Field: f.name, Message: "value must be a finite number"}
		}
		if f.value < 0 {
			return &ValidationError{Field: f.name, Message: "value must be greater than or equal to 0"}
		}
	}

	high := decimal.NewFromFloat(c.High)
	low := decimal.NewFromFloat(c.Low)
	if high.LessThan(low) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to low price (%s)", high, low),
		}
	}

	return nil
}

// DedupSorted returns the candles sorted by timestamp with duplicate timestamps
// removed. When a timestamp repeats, the candle seen first in the input wins.
// The input slice is not modified.
func DedupSorted(candles []Candle) []Candle {
	if len(candles) == 0 {
		return nil
	}

	seen := make(map[int64]struct{}, len(candles))
	out := make([]Candle, 0, len(candles))
	for _, c := range candles {
		if _, dup := seen[c.Timestamp]; dup {
			continue
		}
		seen[c.Timestamp] = struct{}{}
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp < out[j].Timestamp
	})
	return out
}
