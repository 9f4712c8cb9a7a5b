// Package errors defines the error taxonomy of the OHLCV sync pipeline and the
// bounded-retry combinator used around exchange calls.
//
// Every failure that leaves a component is one of the typed errors below (or
// wraps one), so callers branch with errors.As instead of string matching.
// Classify maps an arbitrary error onto an ErrorType for logging and metrics.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrorType represents the classification of an error
type ErrorType string

const (
	// Retryable error types
	ErrorTypeNetwork   ErrorType = "network"    // Network connectivity issues
	ErrorTypeTimeout   ErrorType = "timeout"    // Request timeout
	ErrorTypeRateLimit ErrorType = "rate_limit" // Rate limiting from the exchange
	ErrorTypeTransient ErrorType = "transient"  // Any other failed fetch attempt

	// Non-retryable error types
	ErrorTypeConfiguration ErrorType = "configuration"     // Unknown interval, unsupported exchange
	ErrorTypeCorruptSeries ErrorType = "corrupt_series"    // Series file failed to parse
	ErrorTypeExhausted     ErrorType = "exhausted_retries" // Window ran out of attempts
	ErrorTypeNotFound      ErrorType = "not_found"         // Series file missing
	ErrorTypeCanceled      ErrorType = "canceled"          // Context canceled

	ErrorTypeUnknown ErrorType = "unknown"
)

// UnknownIntervalError reports an interval label with no known duration, or one
// the selected exchange does not list. It is a configuration error and is never
// retried.
type UnknownIntervalError struct {
	Interval string
	Exchange string // empty when the label is missing from the catalog itself
}

func (e *UnknownIntervalError) Error() string {
	if e.Exchange != "" {
		return fmt.Sprintf("interval %q is not supported by exchange %s", e.Interval, e.Exchange)
	}
	return fmt.Sprintf("unknown interval %q", e.Interval)
}

// CorruptSeriesError reports a series file that could not be parsed.
type CorruptSeriesError struct {
	Path string
	Line int
	Err  error
}

func (e *CorruptSeriesError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("corrupt series %s at line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("corrupt series %s: %v", e.Path, e.Err)
}

func (e *CorruptSeriesError) Unwrap() error {
	return e.Err
}

// TransientFetchError wraps any failure of a single exchange call. It is
// absorbed by the retry budget of the window that issued it.
type TransientFetchError struct {
	Exchange   string
	Symbol     string
	SinceMs    int64
	StatusCode int           // HTTP status, zero when no response was received
	RetryAfter time.Duration // server supplied wait hint, zero when absent
	Err        error
}

func (e *TransientFetchError) Error() string {
	msg := fmt.Sprintf("fetch %s %s since %d", e.Exchange, e.Symbol, e.SinceMs)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	return msg + ": " + e.Err.Error()
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// ExhaustedRetriesError reports a window that failed every attempt of its
// retry budget. It fails the whole (pair, interval) batch.
type ExhaustedRetriesError struct {
	Pair     string
	Interval string
	SinceMs  int64
	Attempts int
	Err      error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("window %s %s since %d failed after %d attempts: %v",
		e.Pair, e.Interval, e.SinceMs, e.Attempts, e.Err)
}

func (e *ExhaustedRetriesError) Unwrap() error {
	return e.Err
}

// SeriesNotFoundError reports a read of a series that has no file on disk.
type SeriesNotFoundError struct {
	Path string
}

func (e *SeriesNotFoundError) Error() string {
	return fmt.Sprintf("series file %s does not exist", e.Path)
}

// Classify maps err onto an ErrorType. Typed errors win over the heuristics
// applied to plain errors.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}

	var (
		unknownInterval *UnknownIntervalError
		corrupt         *CorruptSeriesError
		exhausted       *ExhaustedRetriesError
		notFound        *SeriesNotFoundError
		transient       *TransientFetchError
	)

	switch {
	case errors.As(err, &unknownInterval):
		return ErrorTypeConfiguration
	case errors.As(err, &corrupt):
		return ErrorTypeCorruptSeries
	case errors.As(err, &exhausted):
		return ErrorTypeExhausted
	case errors.As(err, &notFound):
		return ErrorTypeNotFound
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	}

	if errors.As(err, &transient) && (transient.StatusCode == 429 || transient.StatusCode == 418) {
		return ErrorTypeRateLimit
	}
	if isTimeoutError(err) {
		return ErrorTypeTimeout
	}
	if isNetworkError(err) {
		return ErrorTypeNetwork
	}
	if transient != nil {
		return ErrorTypeTransient
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "rate limit") || strings.Contains(errStr, "too many requests") {
		return ErrorTypeRateLimit
	}

	return ErrorTypeUnknown
}

// IsRetryable reports whether err may succeed when the same call is repeated.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeUnknown:
		return true
	default:
		return false
	}
}

// isNetworkError checks if the error is network-related
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	networkPatterns := []string{
		"connection refused",
		"connection reset",
		"no route to host",
		"host unreachable",
		"network unreachable",
		"no such host",
		"eof",
	}

	for _, pattern := range networkPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

// isTimeoutError checks if the error is timeout-related
func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded")
}
