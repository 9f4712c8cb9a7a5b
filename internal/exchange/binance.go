package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	apperrors "github.com/johnayoung/cexdata/internal/errors"
	"github.com/johnayoung/cexdata/internal/models"
)

const (
	// Binance spot REST API base URL
	binanceBaseURL = "https://api.binance.com"

	// API endpoints
	klinesEndpoint = "/api/v3/klines"
	pingEndpoint   = "/api/v3/ping"

	// Rate limiting configuration
	defaultRequestsPerSecond = 10
	defaultRateLimitBurst    = 5

	// Request configuration
	defaultRequestTimeout = 30 * time.Second
	maxErrorBodyBytes     = 512

	// Health check configuration
	healthCheckTimeout = 5 * time.Second
)

// Options configures an exchange adapter. Zero values select the defaults.
type Options struct {
	BaseURL           string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// BinanceAdapter implements ExchangeAdapter for the Binance spot REST API.
// Each FetchCandles call performs a single HTTP request; retries are left to
// the caller.
type BinanceAdapter struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	limits      RateLimit
	baseURL     string
	profile     Profile
	logger      *slog.Logger
}

// NewBinanceAdapter creates a Binance adapter.
func NewBinanceAdapter(opts Options) *BinanceAdapter {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = binanceBaseURL
	}

	limits := RateLimit{
		RequestsPerSecond: opts.RequestsPerSecond,
		BurstSize:         opts.Burst,
	}
	if limits.RequestsPerSecond <= 0 {
		limits.RequestsPerSecond = defaultRequestsPerSecond
	}
	if limits.BurstSize <= 0 {
		limits.BurstSize = defaultRateLimitBurst
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultRequestTimeout
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &BinanceAdapter{
		httpClient:  httpClient,
		rateLimiter: rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), limits.BurstSize),
		limits:      limits,
		baseURL:     strings.TrimRight(baseURL, "/"),
		profile:     profiles["binance"],
		logger:      logger,
	}
}

// Profile implements ExchangeAdapter.
func (b *BinanceAdapter) Profile() Profile {
	return b.profile
}

// FetchCandles implements the CandleFetcher interface.
func (b *BinanceAdapter) FetchCandles(ctx context.Context, req FetchRequest) ([]models.Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("invalid request: %w", err))
	}

	interval, err := b.profile.ExchangeInterval(req.Interval)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	if err := b.WaitForLimit(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	symbol := binanceSymbol(req.Symbol)
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("startTime", strconv.FormatInt(req.SinceMs, 10))
	params.Set("limit", strconv.Itoa(min(req.Limit, b.profile.Limit)))

	b.logger.Debug("fetching candles from Binance",
		"symbol", symbol,
		"interval", interval,
		"since", req.Since(),
		"limit", req.Limit)

	fail := func(status int, retryAfter time.Duration, err error) error {
		return &apperrors.TransientFetchError{
			Exchange:   b.profile.Name,
			Symbol:     symbol,
			SinceMs:    req.SinceMs,
			StatusCode: status,
			RetryAfter: retryAfter,
			Err:        err,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+klinesEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "cexdata/1.0")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fail(0, 0, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		var retryAfter time.Duration
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			b.logger.Warn("rate limited by Binance", "status", resp.StatusCode, "retry_after", retryAfter)
		}
		return nil, fail(resp.StatusCode, retryAfter, parseBinanceError(resp.StatusCode, body))
	}

	candles, err := decodeKlines(resp.Body)
	if err != nil {
		return nil, fail(resp.StatusCode, 0, err)
	}

	b.logger.Debug("successfully fetched candles",
		"symbol", symbol,
		"count", len(candles))

	return candles, nil
}

// GetLimits implements the RateLimitInfo interface.
func (b *BinanceAdapter) GetLimits() RateLimit {
	return b.limits
}

// WaitForLimit implements the RateLimitInfo interface.
func (b *BinanceAdapter) WaitForLimit(ctx context.Context) error {
	return b.rateLimiter.Wait(ctx)
}

// HealthCheck implements the HealthChecker interface.
func (b *BinanceAdapter) HealthCheck(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(healthCtx, http.MethodGet, b.baseURL+pingEndpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: status %d", resp.StatusCode)
	}

	b.logger.Debug("health check passed")
	return nil
}

// binanceSymbol turns "BTC/USDT" into "BTCUSDT".
func binanceSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// decodeKlines parses the array-of-arrays kline payload:
// [openTime, "open", "high", "low", "close", "volume", closeTime, ...].
func decodeKlines(body io.Reader) ([]models.Candle, error) {
	decoder := json.NewDecoder(body)
	decoder.UseNumber()

	var rows [][]any
	if err := decoder.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse klines response: %w", err)
	}

	candles := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		candle, err := convertKline(row)
		if err != nil {
			return nil, fmt.Errorf("malformed kline %d: %w", i, err)
		}
		if err := candle.Validate(); err != nil {
			return nil, fmt.Errorf("invalid kline %d: %w", i, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func convertKline(row []any) (models.Candle, error) {
	if len(row) < 6 {
		return models.Candle{}, fmt.Errorf("expected at least 6 fields, got %d", len(row))
	}

	openTime, ok := row[0].(json.Number)
	if !ok {
		return models.Candle{}, fmt.Errorf("open time is %T, not a number", row[0])
	}
	ts, err := openTime.Int64()
	if err != nil {
		return models.Candle{}, fmt.Errorf("invalid open time: %w", err)
	}

	var values [5]float64
	for i := range values {
		value, err := parseDecimal(row[i+1])
		if err != nil {
			return models.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		values[i] = value.InexactFloat64()
	}

	return models.Candle{
		Timestamp: ts,
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// parseDecimal accepts the quoted decimal strings Binance uses for prices and
// plain JSON numbers.
func parseDecimal(v any) (decimal.Decimal, error) {
	switch value := v.(type) {
	case string:
		return decimal.NewFromString(value)
	case json.Number:
		return decimal.NewFromString(value.String())
	default:
		return decimal.Decimal{}, fmt.Errorf("unexpected type %T", v)
	}
}

// parseBinanceError extracts the {"code":..,"msg":..} error body when present.
func parseBinanceError(status int, body []byte) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		return fmt.Errorf("binance error %d: %s", apiErr.Code, apiErr.Msg)
	}
	return fmt.Errorf("unexpected status %d: %s", status, strings.TrimSpace(string(body)))
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(header); err == nil {
		return time.Duration(seconds) * time.Second
	}

	// Try to parse as HTTP date
	if t, err := http.ParseTime(header); err == nil {
		if wait := time.Until(t); wait > 0 {
			return wait
		}
	}

	return 0
}
