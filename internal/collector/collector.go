package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/johnayoung/cexdata/internal/exchange"
	"github.com/johnayoung/cexdata/internal/gaps"
	"github.com/johnayoung/cexdata/internal/logger"
	"github.com/johnayoung/cexdata/internal/models"
	"github.com/johnayoung/cexdata/internal/storage"
)

// Collector is the download driver. It processes series strictly one after
// the other; concurrency only happens inside a batch.
type Collector struct {
	profile      exchange.Profile
	store        SeriesStore
	planner      gaps.WindowPlanner
	orchestrator *Orchestrator
	config       *Config
	logger       *logger.ComponentLogger
}

// New creates a Collector. The profile sizes windows and maps symbols; the
// fetcher performs the exchange calls.
func New(fetcher exchange.CandleFetcher, profile exchange.Profile, store SeriesStore, config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid collector configuration: %w", err)
	}
	if fetcher == nil {
		return nil, fmt.Errorf("candle fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("series store is required")
	}
	if profile.Limit <= 0 {
		return nil, fmt.Errorf("exchange profile %q has no request limit", profile.Name)
	}

	base := config.Logger
	if base == nil {
		base = slog.Default()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Collector{
		profile:      profile,
		store:        store,
		planner:      gaps.NewPlanner(base),
		orchestrator: NewOrchestrator(fetcher, config.Retry, base),
		config:       config,
		logger:       logger.AsComponent(base, "collector"),
	}, nil
}

type seriesJob struct {
	key      storage.SeriesKey
	symbol   string
	interval models.Interval
	target   int64
}

// Download syncs every requested (interval, pair) series up to the end date.
//
// Intervals and pairs are validated before any network activity; an unknown
// interval or malformed pair aborts the call. A failed batch is recorded in the
// report and the driver moves on to the next series. The returned error is
// non-nil only when the call could not run or ctx ended; use Report.Err for
// per-series failures.
func (c *Collector) Download(ctx context.Context, req DownloadRequest) (*Report, error) {
	now := c.config.Now().UTC()
	end := now
	if req.EndDate != nil && req.EndDate.Before(now) {
		end = req.EndDate.UTC()
	}
	if end.Before(c.config.Floor) {
		return nil, fmt.Errorf("end date %s is before the history floor %s",
			end.Format(time.RFC3339), c.config.Floor.Format(time.RFC3339))
	}

	intervals, err := c.resolveIntervals(req.Intervals)
	if err != nil {
		return nil, err
	}
	pairs, err := resolvePairs(req.Pairs)
	if err != nil {
		return nil, err
	}

	runID := logger.GetRunID(ctx)
	if runID == "" {
		ctx, runID = logger.NewRunContext(ctx)
	}
	ctx = logger.WithOperation(logger.WithExchange(ctx, c.profile.Name), "download")

	report := &Report{
		RunID:     runID,
		Exchange:  c.profile.Name,
		End:       end,
		StartedAt: now,
	}
	c.logger.InfoWithContext(ctx, "Starting download",
		"pairs", pairs,
		"intervals", req.Intervals,
		"end", end,
	)

	for _, interval := range intervals {
		target := interval.AlignedEnd(c.config.Floor, end).UnixMilli()

		for _, pair := range pairs {
			if err := ctx.Err(); err != nil {
				report.FinishedAt = c.config.Now().UTC()
				return report, err
			}

			job := seriesJob{
				key: storage.SeriesKey{
					Exchange: c.profile.Name,
					Interval: interval.Label(),
					Pair:     pair,
				},
				symbol:   c.profile.Symbols.Apply(pair),
				interval: interval,
				target:   target,
			}
			result := c.syncSeries(ctx, job, req.Progress)
			c.orchestrator.metrics.recordSeries(result.Status)
			report.Series = append(report.Series, result)
		}
	}

	report.FinishedAt = c.config.Now().UTC()
	c.logger.InfoWithContext(ctx, "Download finished",
		"series", len(report.Series),
		"updated", report.Count(StatusUpdated),
		"up_to_date", report.Count(StatusUpToDate),
		"no_data", report.Count(StatusNoData),
		"failed", report.Count(StatusFailed),
		"appended", report.Appended(),
	)
	return report, nil
}

// syncSeries runs plan, fetch and persist for one series.
func (c *Collector) syncSeries(ctx context.Context, job seriesJob, progress ProgressFunc) SeriesResult {
	start := time.Now()
	result := SeriesResult{
		Key:      job.key,
		Symbol:   job.symbol,
		TargetMs: job.target,
	}
	ctx = logger.WithInterval(logger.WithPair(ctx, job.key.Pair), job.key.Interval)
	log := logger.FromContext(ctx, c.logger.Logger)

	finish := func(status SeriesStatus, err error) SeriesResult {
		result.Status = status
		result.Err = err
		result.Duration = time.Since(start)
		if err != nil {
			c.logger.ErrorWithContext(ctx, "Series sync failed", err)
		}
		return result
	}

	caughtUp, err := c.store.IsCaughtUpTo(ctx, job.key, job.target)
	if err != nil {
		return finish(StatusFailed, err)
	}
	if caughtUp {
		log.Info("Series already up to date")
		return finish(StatusUpToDate, nil)
	}

	planReq := gaps.PlanRequest{
		Floor:    c.config.Floor.UnixMilli(),
		Target:   job.target,
		Interval: job.interval,
		Limit:    c.profile.Limit,
	}
	last, ok, err := c.store.LastStoredTimestamp(ctx, job.key)
	if err != nil {
		return finish(StatusFailed, err)
	}
	if ok {
		planReq.LastStored = &last
	}

	windows, err := c.planner.Plan(planReq)
	if err != nil {
		return finish(StatusFailed, err)
	}
	result.Windows = len(windows)
	if len(windows) == 0 {
		return finish(StatusUpToDate, nil)
	}

	log.Info("Downloading series",
		"symbol", job.symbol,
		"from", planReq.Start(),
		"target", job.target,
		"windows", len(windows),
	)

	rows, err := c.orchestrator.Run(ctx, Batch{
		Pair:     job.key.Pair,
		Symbol:   job.symbol,
		Interval: job.interval,
		Windows:  windows,
	}, progress)
	if err != nil {
		return finish(StatusFailed, err)
	}
	result.Fetched = len(rows)

	var appended int
	err = c.logger.LogOperation(ctx, "append", func() error {
		var appendErr error
		appended, appendErr = c.store.AppendMerged(ctx, job.key, rows)
		return appendErr
	})
	if err != nil {
		return finish(StatusFailed, err)
	}
	result.Appended = appended
	c.orchestrator.metrics.recordCandlesStored(appended)

	if appended == 0 {
		log.Info("No new data for this period", "fetched", len(rows))
		return finish(StatusNoData, nil)
	}

	log.Info("Series updated", "fetched", len(rows), "appended", appended)
	return finish(StatusUpdated, nil)
}

// GetMetrics returns current collection metrics and statistics
func (c *Collector) GetMetrics() *CollectionMetrics {
	return c.orchestrator.metrics.getMetrics()
}

func (c *Collector) resolveIntervals(labels []string) ([]models.Interval, error) {
	if len(labels) == 0 {
		return nil, fmt.Errorf("at least one interval is required")
	}

	intervals := make([]models.Interval, 0, len(labels))
	for _, label := range labels {
		interval, err := models.ParseInterval(label)
		if err != nil {
			return nil, err
		}
		if _, err := c.profile.ExchangeInterval(label); err != nil {
			return nil, err
		}
		intervals = append(intervals, interval)
	}
	return intervals, nil
}

func resolvePairs(input []string) ([]string, error) {
	if len(input) == 0 {
		return nil, fmt.Errorf("at least one pair is required")
	}

	pairs := make([]string, 0, len(input))
	seen := make(map[string]bool, len(input))
	for _, raw := range input {
		pair, err := exchange.CanonicalPair(raw)
		if err != nil {
			return nil, err
		}
		if seen[pair] {
			continue
		}
		seen[pair] = true
		pairs = append(pairs, pair)
	}
	return pairs, nil
}
