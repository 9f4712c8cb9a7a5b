// Package exchange defines the capability the sync pipeline consumes from a
// cryptocurrency exchange and the adapters that provide it.
//
// The interfaces are small and composable. The pipeline only needs
// CandleFetcher; the remaining capabilities are used by the CLI to throttle,
// describe and probe an exchange.
package exchange

import (
	"context"
	"time"

	"github.com/johnayoung/cexdata/internal/models"
)

// CandleFetcher retrieves OHLCV candles from an exchange.
type CandleFetcher interface {
	// FetchCandles returns up to req.Limit candles whose open time is at or
	// after req.SinceMs, oldest first.
	//
	// A successful call may return fewer than Limit candles, or none at all
	// near the live edge of history; that is not an error. Every failure of
	// the call itself (network, HTTP status, malformed body) is reported as a
	// *errors.TransientFetchError so the caller can retry it. Requests that can
	// never succeed, such as an interval the exchange does not list, are
	// wrapped with backoff.Permanent.
	//
	// Implementations must be safe for concurrent use and apply their own
	// rate limiting.
	FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error)
}

// RateLimitInfo exposes an adapter's request throttling.
type RateLimitInfo interface {
	// GetLimits returns the configured rate limit.
	GetLimits() RateLimit

	// WaitForLimit blocks until the rate limit allows another request or ctx
	// is done.
	WaitForLimit(ctx context.Context) error
}

// HealthChecker probes the exchange.
type HealthChecker interface {
	// HealthCheck performs a lightweight request that does not consume
	// meaningful rate limit quota. A nil return means the exchange answered.
	HealthCheck(ctx context.Context) error
}

// ExchangeAdapter combines all exchange capabilities into a single interface.
type ExchangeAdapter interface {
	CandleFetcher
	RateLimitInfo
	HealthChecker

	// Profile returns the static description of the exchange.
	Profile() Profile
}

// FetchRequest specifies one window of candles to fetch.
type FetchRequest struct {
	// Symbol is the pair as the exchange lists it, e.g. "BTC/USDT"
	Symbol string `json:"symbol"`

	// Interval is the catalog label, e.g. "1h"
	Interval string `json:"interval"`

	// SinceMs is the inclusive start of the window in epoch milliseconds
	SinceMs int64 `json:"since_ms"`

	// Limit is the maximum number of candles to return
	Limit int `json:"limit"`
}

// Validate checks if the FetchRequest has valid parameters.
func (r *FetchRequest) Validate() error {
	if r.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}

	if r.Interval == "" {
		return &ValidationError{Field: "interval", Message: "interval cannot be empty"}
	}

	if r.SinceMs < 0 {
		return &ValidationError{Field: "since_ms", Message: "since cannot be negative"}
	}

	if r.Limit <= 0 {
		return &ValidationError{Field: "limit", Message: "limit must be positive"}
	}

	return nil
}

// Since returns the window start as a time.
func (r *FetchRequest) Since() time.Time {
	return time.UnixMilli(r.SinceMs).UTC()
}

// RateLimit defines the rate limiting configuration for an exchange.
type RateLimit struct {
	// RequestsPerSecond is the maximum sustained request rate
	RequestsPerSecond float64 `json:"requests_per_second"`

	// BurstSize is the maximum number of requests allowed in a burst
	BurstSize int `json:"burst_size"`
}

// IsValid returns true if the rate limit has positive values.
func (rl RateLimit) IsValid() bool {
	return rl.RequestsPerSecond > 0 && rl.BurstSize > 0
}

// ValidationError represents a validation error for exchange types.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return "validation error for field " + e.Field + ": " + e.Message
}
