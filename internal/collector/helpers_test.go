package collector

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/cexdata/internal/errors"
	"github.com/johnayoung/cexdata/internal/exchange"
	"github.com/johnayoung/cexdata/internal/models"
	"github.com/johnayoung/cexdata/internal/storage"
)

var (
	t0   = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	hour = time.Hour.Milliseconds()

	testProfile = exchange.Profile{
		Name:  "stubex",
		Limit: 2,
		Intervals: map[string]string{
			"1h": "1h",
			"1d": "1d",
		},
	}
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetryPolicy() apperrors.RetryPolicy {
	return apperrors.RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func fixedClock(now time.Time) func() time.Time {
	return func() time.Time { return now }
}

// stubExchange serves deterministic candles on the interval grid: up to Limit
// rows with open time at or after SinceMs and not after the live edge.
type stubExchange struct {
	liveEdge time.Time

	mu         sync.Mutex
	calls      int64
	symbols    map[string]int
	failAlways map[string]bool // symbols whose every call fails
	failFirst  int             // calls per window that fail before success
	attempts   map[int64]int

	inFlight    int64
	maxInFlight int64
	delay       time.Duration
}

func newStubExchange(liveEdge time.Time) *stubExchange {
	return &stubExchange{
		liveEdge:   liveEdge,
		symbols:    make(map[string]int),
		failAlways: make(map[string]bool),
		attempts:   make(map[int64]int),
	}
}

func (s *stubExchange) FetchCandles(ctx context.Context, req exchange.FetchRequest) ([]models.Candle, error) {
	current := atomic.AddInt64(&s.inFlight, 1)
	defer atomic.AddInt64(&s.inFlight, -1)
	for {
		peak := atomic.LoadInt64(&s.maxInFlight)
		if current <= peak || atomic.CompareAndSwapInt64(&s.maxInFlight, peak, current) {
			break
		}
	}

	s.mu.Lock()
	s.calls++
	s.symbols[req.Symbol]++
	s.attempts[req.SinceMs]++
	attempt := s.attempts[req.SinceMs]
	failAlways := s.failAlways[req.Symbol]
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if failAlways || attempt <= s.failFirst {
		return nil, &apperrors.TransientFetchError{
			Exchange: "stubex",
			Symbol:   req.Symbol,
			SinceMs:  req.SinceMs,
			Err:      fmt.Errorf("simulated failure %d", attempt),
		}
	}

	step, err := models.DurationMs(req.Interval)
	if err != nil {
		return nil, err
	}
	first := (req.SinceMs + step - 1) / step * step
	edge := s.liveEdge.UnixMilli()

	candles := make([]models.Candle, 0, req.Limit)
	for ts := first; len(candles) < req.Limit && ts <= edge; ts += step {
		price := float64(ts/step%1000) + 1
		candles = append(candles, models.Candle{
			Timestamp: ts,
			Open:      price,
			High:      price + 2,
			Low:       price - 0.5,
			Close:     price + 1,
			Volume:    3.25,
		})
	}
	return candles, nil
}

func (s *stubExchange) callCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// MockFetcher is a testify mock of exchange.CandleFetcher.
type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) FetchCandles(ctx context.Context, req exchange.FetchRequest) ([]models.Candle, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Candle), args.Error(1)
}

func sinceIs(ms int64) interface{} {
	return mock.MatchedBy(func(req exchange.FetchRequest) bool { return req.SinceMs == ms })
}

func hourlyCandles(fromHour, count int) []models.Candle {
	candles := make([]models.Candle, count)
	for i := range candles {
		ts := t0.UnixMilli() + int64(fromHour+i)*hour
		candles[i] = models.Candle{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 1}
	}
	return candles
}

func createTestCollector(t *testing.T, fetcher exchange.CandleFetcher, store SeriesStore, now time.Time) *Collector {
	t.Helper()
	c, err := NewBuilder().
		WithFetcher(fetcher, testProfile).
		WithStorage(store).
		WithLogger(createTestLogger()).
		WithFloor(t0).
		WithRetryPolicy(fastRetryPolicy()).
		WithClock(fixedClock(now)).
		Build()
	require.NoError(t, err)
	return c
}

func storedTimestamps(t *testing.T, store *storage.SeriesStore, key storage.SeriesKey) []int64 {
	t.Helper()
	// Load drops the final row, so read through an unbounded window and add it back.
	last, ok, err := store.LastStoredTimestamp(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok)

	candles, err := store.Load(context.Background(), key, time.Time{}, time.Time{})
	require.NoError(t, err)

	out := make([]int64, 0, len(candles)+1)
	for _, c := range candles {
		out = append(out, c.Timestamp)
	}
	return append(out, last)
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}
