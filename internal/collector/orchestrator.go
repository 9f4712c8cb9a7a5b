package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/johnayoung/cexdata/internal/errors"
	"github.com/johnayoung/cexdata/internal/exchange"
	"github.com/johnayoung/cexdata/internal/gaps"
	"github.com/johnayoung/cexdata/internal/logger"
	"github.com/johnayoung/cexdata/internal/models"
)

// Batch is the set of planned windows for one series.
type Batch struct {
	Pair     string // canonical pair, used for reporting
	Symbol   string // symbol sent to the exchange
	Interval models.Interval
	Windows  []gaps.Window
}

// Orchestrator executes the windows of a batch concurrently against a
// CandleFetcher. Throttling is the fetcher's concern; every window of a batch
// is in flight at once.
type Orchestrator struct {
	fetcher exchange.CandleFetcher
	policy  apperrors.RetryPolicy
	metrics *metricsCollector
	logger  *slog.Logger
}

// NewOrchestrator creates an Orchestrator. A nil logger falls back to
// slog.Default().
func NewOrchestrator(fetcher exchange.CandleFetcher, policy apperrors.RetryPolicy, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		fetcher: fetcher,
		policy:  policy,
		metrics: newMetricsCollector(),
		logger:  logger,
	}
}

// Run fetches every window of the batch and returns the concatenated rows in
// no particular order. Each window gets the full retry budget. The first
// window to exhaust it fails the batch with an ExhaustedRetriesError, cancels
// the windows still in flight and discards every partial result.
func (o *Orchestrator) Run(ctx context.Context, batch Batch, progress ProgressFunc) ([]models.Candle, error) {
	if len(batch.Windows) == 0 {
		return nil, nil
	}

	ctx = logger.WithInterval(logger.WithPair(ctx, batch.Pair), batch.Interval.Label())
	log := logger.FromContext(ctx, o.logger)

	group, groupCtx := errgroup.WithContext(ctx)
	results := make([][]models.Candle, len(batch.Windows))

	var progressMu sync.Mutex
	completed := 0

	for i, window := range batch.Windows {
		i, window := i, window
		group.Go(func() error {
			result := apperrors.Retry(groupCtx, o.policy, func(ctx context.Context) ([]models.Candle, error) {
				start := time.Now()
				candles, err := o.fetcher.FetchCandles(ctx, exchange.FetchRequest{
					Symbol:   batch.Symbol,
					Interval: batch.Interval.Label(),
					SinceMs:  window.StartMs,
					Limit:    window.Limit,
				})
				o.metrics.recordAttempt(time.Since(start), err)
				return candles, err
			}, func(err error, attempt int, wait time.Duration) {
				o.metrics.recordRetry()
				log.Warn("Window fetch failed, retrying",
					"since", window.StartMs,
					"attempt", attempt,
					"wait", wait,
					"error", err,
				)
			})

			switch result.Outcome {
			case apperrors.RetrySucceeded:
				results[i] = result.Value
				o.metrics.recordWindow(len(result.Value), true)

				progressMu.Lock()
				completed++
				if progress != nil {
					progress(WindowProgress{
						Pair:      batch.Pair,
						Interval:  batch.Interval.Label(),
						Window:    window,
						Rows:      len(result.Value),
						Attempts:  result.Attempts,
						Completed: completed,
						Total:     len(batch.Windows),
					})
				}
				progressMu.Unlock()
				return nil

			case apperrors.RetryExhausted:
				o.metrics.recordWindow(0, false)
				return &apperrors.ExhaustedRetriesError{
					Pair:     batch.Pair,
					Interval: batch.Interval.Label(),
					SinceMs:  window.StartMs,
					Attempts: result.Attempts,
					Err:      result.Err,
				}

			default:
				// Aborted: the caller canceled, a sibling window already failed
				// the batch, or the fetcher reported a permanent error.
				o.metrics.recordWindow(0, false)
				if err := ctx.Err(); err != nil {
					return err
				}
				return result.Err
			}
		})
	}

	if err := group.Wait(); err != nil {
		log.Error("Batch failed",
			"windows", len(batch.Windows),
			"error", err,
		)
		return nil, err
	}

	total := 0
	for _, rows := range results {
		total += len(rows)
	}
	merged := make([]models.Candle, 0, total)
	for _, rows := range results {
		merged = append(merged, rows...)
	}
	return merged, nil
}
