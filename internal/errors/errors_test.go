package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name              string
		err               error
		expectedType      ErrorType
		expectedRetryable bool
	}{
		{
			name:              "unknown interval",
			err:               &UnknownIntervalError{Interval: "7m"},
			expectedType:      ErrorTypeConfiguration,
			expectedRetryable: false,
		},
		{
			name:              "wrapped corrupt series",
			err:               fmt.Errorf("read series: %w", &CorruptSeriesError{Path: "a.csv", Line: 3, Err: fmt.Errorf("bad float")}),
			expectedType:      ErrorTypeCorruptSeries,
			expectedRetryable: false,
		},
		{
			name:              "exhausted retries",
			err:               &ExhaustedRetriesError{Pair: "BTC/USD", Interval: "1h", Attempts: 3, Err: fmt.Errorf("boom")},
			expectedType:      ErrorTypeExhausted,
			expectedRetryable: false,
		},
		{
			name:              "series not found",
			err:               &SeriesNotFoundError{Path: "missing.csv"},
			expectedType:      ErrorTypeNotFound,
			expectedRetryable: false,
		},
		{
			name:              "rate limited fetch",
			err:               &TransientFetchError{Exchange: "binance", StatusCode: 429, Err: fmt.Errorf("too many requests")},
			expectedType:      ErrorTypeRateLimit,
			expectedRetryable: true,
		},
		{
			name:              "server error fetch",
			err:               &TransientFetchError{Exchange: "binance", StatusCode: 502, Err: fmt.Errorf("bad gateway")},
			expectedType:      ErrorTypeTransient,
			expectedRetryable: true,
		},
		{
			name:              "network connection refused",
			err:               fmt.Errorf("dial tcp: connection refused"),
			expectedType:      ErrorTypeNetwork,
			expectedRetryable: true,
		},
		{
			name:              "timeout",
			err:               fmt.Errorf("fetch: %w", context.DeadlineExceeded),
			expectedType:      ErrorTypeTimeout,
			expectedRetryable: true,
		},
		{
			name:              "canceled",
			err:               fmt.Errorf("fetch: %w", context.Canceled),
			expectedType:      ErrorTypeCanceled,
			expectedRetryable: false,
		},
		{
			name:              "unknown error",
			err:               fmt.Errorf("something went wrong"),
			expectedType:      ErrorTypeUnknown,
			expectedRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedType, Classify(tt.err), "Error type mismatch")
			assert.Equal(t, tt.expectedRetryable, IsRetryable(tt.err), "Retryable mismatch")
		})
	}

	assert.Equal(t, ErrorType(""), Classify(nil))
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `unknown interval "7m"`, (&UnknownIntervalError{Interval: "7m"}).Error())
	assert.Equal(t, `interval "2m" is not supported by exchange binance`,
		(&UnknownIntervalError{Interval: "2m", Exchange: "binance"}).Error())
	assert.Equal(t, "corrupt series a.csv at line 4: bad",
		(&CorruptSeriesError{Path: "a.csv", Line: 4, Err: fmt.Errorf("bad")}).Error())
	assert.Equal(t, "fetch binance BTCUSDT since 10 (status 500): oops",
		(&TransientFetchError{Exchange: "binance", Symbol: "BTCUSDT", SinceMs: 10, StatusCode: 500, Err: fmt.Errorf("oops")}).Error())
}

func TestNetworkErrorDetection(t *testing.T) {
	tests := []struct {
		name     string
		error    error
		expected bool
	}{
		{name: "connection refused", error: fmt.Errorf("connection refused"), expected: true},
		{name: "dns resolution failed", error: fmt.Errorf("no such host: api.binance.com"), expected: true},
		{name: "network unreachable", error: fmt.Errorf("network unreachable"), expected: true},
		{name: "not a network error", error: fmt.Errorf("validation failed"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isNetworkError(tt.error))
		})
	}
}
