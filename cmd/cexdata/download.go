package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnayoung/cexdata/internal/collector"
	"github.com/johnayoung/cexdata/internal/config"
	"github.com/johnayoung/cexdata/internal/exchange"
	"github.com/johnayoung/cexdata/internal/logger"
)

type downloadFlags struct {
	pairs       []string
	intervals   []string
	end         string
	floor       string
	healthCheck bool
	quiet       bool
}

func newDownloadCmd(a *app) *cobra.Command {
	flags := &downloadFlags{}

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Bring every selected (interval, pair) series up to date",
		Example: `  cexdata download --pairs BTC-USD,ETH-USD --intervals 1h,1d
  cexdata download --pairs BTC-USD --intervals 1d --end 2021-01-01`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(cmd, a, flags)
		},
	}

	f := cmd.Flags()
	f.StringSliceVar(&flags.pairs, "pairs", nil, "pairs to sync, e.g. BTC-USD (default from config)")
	f.StringSliceVar(&flags.intervals, "intervals", nil, "interval labels to sync, e.g. 1h (default from config)")
	f.StringVar(&flags.end, "end", "", "sync up to this date, YYYY-MM-DD or RFC3339 (default now)")
	f.StringVar(&flags.floor, "floor", "", "start of history for new series, YYYY-MM-DD (default from config)")
	f.BoolVar(&flags.healthCheck, "health-check", false, "probe the exchange before downloading")
	f.BoolVarP(&flags.quiet, "quiet", "q", false, "do not print per-window progress")
	return cmd
}

func runDownload(cmd *cobra.Command, a *app, flags *downloadFlags) error {
	ctx := cmd.Context()
	cfg := a.cfg

	pairs := flags.pairs
	if len(pairs) == 0 {
		pairs = cfg.Download.Pairs
	}
	intervals := flags.intervals
	if len(intervals) == 0 {
		intervals = cfg.Download.Intervals
	}

	floor, err := cfg.Download.FloorTime()
	if err != nil {
		return configError(err)
	}
	if flags.floor != "" {
		if floor, err = config.ParseDate(flags.floor); err != nil {
			return fmt.Errorf("bad --floor: %w", err)
		}
	}

	end, err := cfg.Download.EndTime()
	if err != nil {
		return configError(err)
	}
	if flags.end != "" {
		if end, err = config.ParseDate(flags.end); err != nil {
			return fmt.Errorf("bad --end: %w", err)
		}
	}
	var endDate *time.Time
	if !end.IsZero() {
		endDate = &end
	}

	policy, err := cfg.Download.RetryPolicy.Policy()
	if err != nil {
		return configError(err)
	}

	adapter, err := exchange.New(cfg.Exchange.Name, cfg.Exchange.Options(a.componentLogger("exchange")))
	if err != nil {
		return configError(err)
	}

	ctx, _ = logger.NewRunContext(ctx)
	ctx = logger.WithExchange(ctx, adapter.Profile().Name)

	if flags.healthCheck {
		if err := adapter.HealthCheck(ctx); err != nil {
			a.logs.WithContext(ctx).Error("Exchange health check failed", "error", err)
			return dataError(fmt.Errorf("exchange health check failed: %w", err))
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s is reachable\n", adapter.Profile().Name)
	}

	c, err := collector.NewBuilder().
		WithExchange(adapter).
		WithStorage(a.store()).
		WithLogger(a.componentLogger("collector")).
		WithFloor(floor).
		WithRetryPolicy(policy).
		Build()
	if err != nil {
		return configError(err)
	}

	req := collector.DownloadRequest{
		Pairs:     pairs,
		Intervals: intervals,
		EndDate:   endDate,
	}
	if !flags.quiet {
		req.Progress = progressPrinter(cmd.ErrOrStderr())
	}

	report, err := c.Download(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return configError(err)
	}

	printReport(cmd.OutOrStdout(), report)
	if !flags.quiet {
		printMetrics(cmd.ErrOrStderr(), c.GetMetrics())
	}

	if err := report.Err(); err != nil {
		return dataError(errors.New(strings.ReplaceAll(err.Error(), "\n", "; ")))
	}
	return nil
}

func progressPrinter(w io.Writer) collector.ProgressFunc {
	return func(p collector.WindowProgress) {
		fmt.Fprintf(w, "%-12s %-4s window %d/%d  since %s  rows %d\n",
			p.Pair, p.Interval, p.Completed, p.Total,
			time.UnixMilli(p.Window.StartMs).UTC().Format(time.RFC3339), p.Rows)
	}
}

func printReport(w io.Writer, report *collector.Report) {
	fmt.Fprintf(w, "Run %s on %s, end %s\n\n", report.RunID, report.Exchange, report.End.Format(time.RFC3339))
	fmt.Fprintf(w, "%-12s %-8s %-11s %8s %10s %10s\n", "Pair", "Interval", "Status", "Windows", "Fetched", "Appended")
	fmt.Fprintln(w, strings.Repeat("-", 64))
	for _, s := range report.Series {
		fmt.Fprintf(w, "%-12s %-8s %-11s %8d %10d %10d\n",
			s.Key.Pair, s.Key.Interval, s.Status, s.Windows, s.Fetched, s.Appended)
	}
	fmt.Fprintf(w, "\n%d series, %d rows appended, %d failed, took %v\n",
		len(report.Series), report.Appended(), report.Count(collector.StatusFailed),
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
}

func printMetrics(w io.Writer, m *collector.CollectionMetrics) {
	fmt.Fprintf(w, "fetch attempts %d, failures %d, retries %d, rate limited %d, avg response %v\n",
		m.FetchAttempts, m.FetchFailures, m.Retries, m.RateLimitHits, m.AvgResponseTime.Round(time.Millisecond))
}
