package collector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/johnayoung/cexdata/internal/errors"
	"github.com/johnayoung/cexdata/internal/gaps"
	"github.com/johnayoung/cexdata/internal/models"
)

func hourlyBatch(starts ...int) Batch {
	windows := make([]gaps.Window, len(starts))
	for i, h := range starts {
		windows[i] = gaps.Window{StartMs: t0.UnixMilli() + int64(h)*hour, Limit: 2}
	}
	return Batch{
		Pair:     "BTC/USD",
		Symbol:   "BTC/USD",
		Interval: models.MustParseInterval("1h"),
		Windows:  windows,
	}
}

func TestOrchestrator_EmptyBatch(t *testing.T) {
	fetcher := new(MockFetcher)
	o := NewOrchestrator(fetcher, fastRetryPolicy(), createTestLogger())

	rows, err := o.Run(context.Background(), hourlyBatch(), nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
	fetcher.AssertNotCalled(t, "FetchCandles", mock.Anything, mock.Anything)
}

func TestOrchestrator_ConcatenatesWindows(t *testing.T) {
	stub := newStubExchange(t0.Add(10 * time.Hour))
	o := NewOrchestrator(stub, fastRetryPolicy(), createTestLogger())

	rows, err := o.Run(context.Background(), hourlyBatch(0, 2, 4), nil)
	require.NoError(t, err)
	require.Len(t, rows, 6)

	seen := make(map[int64]bool)
	for _, c := range rows {
		seen[c.Timestamp] = true
	}
	for h := 0; h < 6; h++ {
		assert.True(t, seen[t0.UnixMilli()+int64(h)*hour], "missing hour %d", h)
	}
}

func TestOrchestrator_WindowsRunConcurrently(t *testing.T) {
	stub := newStubExchange(t0.Add(100 * time.Hour))
	stub.delay = 50 * time.Millisecond
	o := NewOrchestrator(stub, fastRetryPolicy(), createTestLogger())

	_, err := o.Run(context.Background(), hourlyBatch(0, 2, 4, 6, 8), nil)
	require.NoError(t, err)
	assert.Greater(t, atomic.LoadInt64(&stub.maxInFlight), int64(1))
}

func TestOrchestrator_RetriesTransientFailures(t *testing.T) {
	stub := newStubExchange(t0.Add(10 * time.Hour))
	stub.failFirst = 2
	o := NewOrchestrator(stub, fastRetryPolicy(), createTestLogger())

	var calls int32
	var attempts []int
	rows, err := o.Run(context.Background(), hourlyBatch(0, 2), func(p WindowProgress) {
		atomic.AddInt32(&calls, 1)
		attempts = append(attempts, p.Attempts)
	})
	require.NoError(t, err)
	assert.Len(t, rows, 4)
	assert.Equal(t, int32(2), calls)
	assert.Equal(t, []int{3, 3}, attempts)
	assert.Equal(t, int64(6), stub.callCount())

	metrics := o.metrics.getMetrics()
	assert.Equal(t, int64(4), metrics.Retries)
	assert.Equal(t, int64(2), metrics.WindowsCompleted)
}

func TestOrchestrator_ExhaustedWindowFailsBatch(t *testing.T) {
	fetcher := new(MockFetcher)
	base := t0.UnixMilli()
	fetcher.On("FetchCandles", mock.Anything, sinceIs(base)).Return(hourlyCandles(0, 2), nil).Maybe()
	fetcher.On("FetchCandles", mock.Anything, sinceIs(base+2*hour)).
		Return(nil, &apperrors.TransientFetchError{Exchange: "stubex", Err: errors.New("bad gateway"), StatusCode: 502}).
		Times(3)

	o := NewOrchestrator(fetcher, fastRetryPolicy(), createTestLogger())
	rows, err := o.Run(context.Background(), hourlyBatch(0, 2), nil)
	assert.Nil(t, rows)

	var exhausted *apperrors.ExhaustedRetriesError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.Equal(t, "1h", exhausted.Interval)

	var transient *apperrors.TransientFetchError
	assert.ErrorAs(t, err, &transient, "last cause is kept")
	assert.Equal(t, apperrors.ErrorTypeExhausted, apperrors.Classify(err))
	fetcher.AssertExpectations(t)
}

func TestOrchestrator_PermanentErrorAborts(t *testing.T) {
	fetcher := new(MockFetcher)
	cause := &apperrors.UnknownIntervalError{Interval: "1h", Exchange: "stubex"}
	fetcher.On("FetchCandles", mock.Anything, mock.Anything).Return(nil, backoff.Permanent(cause)).Once()

	o := NewOrchestrator(fetcher, fastRetryPolicy(), createTestLogger())
	_, err := o.Run(context.Background(), hourlyBatch(0), nil)

	var unknown *apperrors.UnknownIntervalError
	require.ErrorAs(t, err, &unknown)
	var exhausted *apperrors.ExhaustedRetriesError
	assert.False(t, errors.As(err, &exhausted))
	fetcher.AssertNumberOfCalls(t, "FetchCandles", 1)
}

func TestOrchestrator_ParentCancellation(t *testing.T) {
	stub := newStubExchange(t0.Add(10 * time.Hour))
	stub.delay = time.Second
	o := NewOrchestrator(stub, fastRetryPolicy(), createTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := o.Run(ctx, hourlyBatch(0, 2, 4), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
