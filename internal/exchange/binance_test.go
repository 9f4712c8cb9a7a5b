package exchange

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/cexdata/internal/errors"
)

const (
	testSymbol    = "BTC/USDT"
	testInterval  = "1h"
	testTimestamp = int64(1640995200000) // 2022-01-01 00:00:00 UTC
)

// Kline payload shaped like the real /api/v3/klines response.
const validKlinesResponse = `[
	[1640995200000, "47000.00", "47500.00", "46500.00", "47200.00", "1.23456789", 1640998799999, "58000.1", 120, "0.6", "28000.0", "0"],
	[1640998800000, "47200.00", "47800.00", "47000.00", "47600.00", "2.34567890", 1641002399999, "111000.2", 240, "1.1", "52000.0", "0"]
]`

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func createTestAdapter(serverURL string) *BinanceAdapter {
	return NewBinanceAdapter(Options{
		BaseURL:           serverURL,
		RequestsPerSecond: 1000,
		Burst:             100,
		Timeout:           2 * time.Second,
		Logger:            createTestLogger(),
	})
}

func createMockServer(responses map[string]func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, exists := responses[r.URL.Path]; exists {
			handler(w, r)
		} else {
			http.NotFound(w, r)
		}
	}))
}

func testRequest() FetchRequest {
	return FetchRequest{Symbol: testSymbol, Interval: testInterval, SinceMs: testTimestamp, Limit: 2}
}

func TestNewBinanceAdapter(t *testing.T) {
	t.Run("creates adapter with default configuration", func(t *testing.T) {
		adapter := NewBinanceAdapter(Options{})

		assert.Equal(t, binanceBaseURL, adapter.baseURL)
		assert.Equal(t, defaultRequestTimeout, adapter.httpClient.Timeout)
		assert.Equal(t, RateLimit{RequestsPerSecond: defaultRequestsPerSecond, BurstSize: defaultRateLimitBurst}, adapter.GetLimits())
		assert.Equal(t, 1000, adapter.Profile().Limit)
		assert.NotNil(t, adapter.logger)
	})

	t.Run("honors options", func(t *testing.T) {
		client := &http.Client{}
		adapter := NewBinanceAdapter(Options{BaseURL: "http://localhost:1/", RequestsPerSecond: 2, Burst: 3, HTTPClient: client})

		assert.Equal(t, "http://localhost:1", adapter.baseURL)
		assert.Same(t, client, adapter.httpClient)
		assert.Equal(t, RateLimit{RequestsPerSecond: 2, BurstSize: 3}, adapter.GetLimits())
	})
}

func TestBinanceAdapter_FetchCandles(t *testing.T) {
	ctx := context.Background()

	t.Run("successful fetch", func(t *testing.T) {
		server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			klinesEndpoint: func(w http.ResponseWriter, r *http.Request) {
				query := r.URL.Query()
				assert.Equal(t, "BTCUSDT", query.Get("symbol"))
				assert.Equal(t, "1h", query.Get("interval"))
				assert.Equal(t, "1640995200000", query.Get("startTime"))
				assert.Equal(t, "2", query.Get("limit"))

				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(validKlinesResponse))
			},
		})
		defer server.Close()

		candles, err := createTestAdapter(server.URL).FetchCandles(ctx, testRequest())
		require.NoError(t, err)
		require.Len(t, candles, 2)

		assert.Equal(t, testTimestamp, candles[0].Timestamp)
		assert.Equal(t, 47000.0, candles[0].Open)
		assert.Equal(t, 47500.0, candles[0].High)
		assert.Equal(t, 46500.0, candles[0].Low)
		assert.Equal(t, 47200.0, candles[0].Close)
		assert.InDelta(t, 1.23456789, candles[0].Volume, 1e-12)
		assert.Equal(t, testTimestamp+3_600_000, candles[1].Timestamp)
	})

	t.Run("empty response is not an error", func(t *testing.T) {
		server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			klinesEndpoint: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`[]`))
			},
		})
		defer server.Close()

		candles, err := createTestAdapter(server.URL).FetchCandles(ctx, testRequest())
		require.NoError(t, err)
		assert.Empty(t, candles)
	})

	t.Run("limit is capped to the exchange maximum", func(t *testing.T) {
		server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			klinesEndpoint: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "1000", r.URL.Query().Get("limit"))
				_, _ = w.Write([]byte(`[]`))
			},
		})
		defer server.Close()

		req := testRequest()
		req.Limit = 5000
		_, err := createTestAdapter(server.URL).FetchCandles(ctx, req)
		require.NoError(t, err)
	})
}

func TestBinanceAdapter_FetchCandlesErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name           string
		status         int
		body           string
		headers        map[string]string
		expectedStatus int
		expectedWait   time.Duration
		expectedMsg    string
	}{
		{
			name:           "rate limited with retry after",
			status:         http.StatusTooManyRequests,
			body:           `{"code":-1003,"msg":"Too many requests."}`,
			headers:        map[string]string{"Retry-After": "3"},
			expectedStatus: 429,
			expectedWait:   3 * time.Second,
			expectedMsg:    "binance error -1003: Too many requests.",
		},
		{
			name:           "ip banned",
			status:         http.StatusTeapot,
			body:           `{"code":-1003,"msg":"Way too many requests."}`,
			headers:        map[string]string{"Retry-After": "60"},
			expectedStatus: 418,
			expectedWait:   time.Minute,
		},
		{
			name:           "server error",
			status:         http.StatusBadGateway,
			body:           `upstream down`,
			expectedStatus: 502,
			expectedMsg:    "unexpected status 502: upstream down",
		},
		{
			name:           "invalid symbol",
			status:         http.StatusBadRequest,
			body:           `{"code":-1121,"msg":"Invalid symbol."}`,
			expectedStatus: 400,
			expectedMsg:    "binance error -1121: Invalid symbol.",
		},
		{
			name:           "malformed json",
			status:         http.StatusOK,
			body:           `[[1640995200000, "1"`,
			expectedStatus: 200,
			expectedMsg:    "failed to parse klines response",
		},
		{
			name:           "short kline row",
			status:         http.StatusOK,
			body:           `[[1640995200000, "1", "2"]]`,
			expectedStatus: 200,
			expectedMsg:    "expected at least 6 fields",
		},
		{
			name:           "non numeric price",
			status:         http.StatusOK,
			body:           `[[1640995200000, "abc", "2", "1", "1", "1"]]`,
			expectedStatus: 200,
			expectedMsg:    "malformed kline 0",
		},
		{
			name:           "high below low",
			status:         http.StatusOK,
			body:           `[[1640995200000, "1", "1", "2", "1", "1"]]`,
			expectedStatus: 200,
			expectedMsg:    "invalid kline 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
				klinesEndpoint: func(w http.ResponseWriter, r *http.Request) {
					for k, v := range tt.headers {
						w.Header().Set(k, v)
					}
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte(tt.body))
				},
			})
			defer server.Close()

			_, err := createTestAdapter(server.URL).FetchCandles(ctx, testRequest())
			require.Error(t, err)

			var transient *apperrors.TransientFetchError
			require.ErrorAs(t, err, &transient)
			assert.Equal(t, "binance", transient.Exchange)
			assert.Equal(t, "BTCUSDT", transient.Symbol)
			assert.Equal(t, testTimestamp, transient.SinceMs)
			assert.Equal(t, tt.expectedStatus, transient.StatusCode)
			assert.Equal(t, tt.expectedWait, transient.RetryAfter)
			if tt.expectedMsg != "" {
				assert.Contains(t, err.Error(), tt.expectedMsg)
			}
		})
	}
}

func TestBinanceAdapter_ConnectionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := createTestAdapter(url).FetchCandles(context.Background(), testRequest())
	var transient *apperrors.TransientFetchError
	require.ErrorAs(t, err, &transient)
	assert.Zero(t, transient.StatusCode)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestBinanceAdapter_PermanentFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()
	adapter := createTestAdapter(server.URL)

	t.Run("unsupported interval", func(t *testing.T) {
		req := testRequest()
		req.Interval = "2m"

		_, err := adapter.FetchCandles(context.Background(), req)
		var permanent *backoff.PermanentError
		require.ErrorAs(t, err, &permanent)
		var unknown *apperrors.UnknownIntervalError
		assert.ErrorAs(t, err, &unknown)
	})

	t.Run("invalid request", func(t *testing.T) {
		req := testRequest()
		req.Limit = 0

		_, err := adapter.FetchCandles(context.Background(), req)
		var permanent *backoff.PermanentError
		require.ErrorAs(t, err, &permanent)
		var validationErr *ValidationError
		assert.ErrorAs(t, err, &validationErr)
	})

	assert.Zero(t, calls.Load(), "no request may reach the exchange")
}

func TestBinanceAdapter_ContextCancellation(t *testing.T) {
	server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
		klinesEndpoint: func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
		},
	})
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := createTestAdapter(server.URL).FetchCandles(ctx, testRequest())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBinanceAdapter_RateLimit(t *testing.T) {
	adapter := NewBinanceAdapter(Options{RequestsPerSecond: 1, Burst: 1})

	require.NoError(t, adapter.WaitForLimit(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, adapter.WaitForLimit(ctx), "second token is a second away")
}

func TestBinanceAdapter_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			pingEndpoint: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{}`))
			},
		})
		defer server.Close()

		assert.NoError(t, createTestAdapter(server.URL).HealthCheck(context.Background()))
	})

	t.Run("unhealthy", func(t *testing.T) {
		server := createMockServer(map[string]func(w http.ResponseWriter, r *http.Request){
			pingEndpoint: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
		})
		defer server.Close()

		err := createTestAdapter(server.URL).HealthCheck(context.Background())
		assert.ErrorContains(t, err, "status 503")
	})
}

func TestParseRetryAfter(t *testing.T) {
	assert.Zero(t, parseRetryAfter(""))
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Zero(t, parseRetryAfter("soon"))

	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	wait := parseRetryAfter(future)
	assert.Greater(t, wait, 58*time.Minute)
	assert.LessOrEqual(t, wait, time.Hour)
}

func TestBinanceSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", binanceSymbol("BTC/USDT"))
	assert.Equal(t, "ETHBTC", binanceSymbol("eth/btc"))
}
