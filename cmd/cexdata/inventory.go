package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnayoung/cexdata/internal/exchange"
	"github.com/johnayoung/cexdata/internal/models"
	"github.com/johnayoung/cexdata/internal/storage"
	"github.com/johnayoung/cexdata/internal/validator"
)

func newInventoryCmd(a *app) *cobra.Command {
	var (
		format string
		audit  bool
	)

	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "List stored series with their coverage and holes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := a.store().Inventory(cmd.Context())
			if err != nil {
				return dataError(err)
			}

			var audits map[string]*validator.AuditResult
			if audit {
				if audits, err = auditSeries(cmd.Context(), a, infos); err != nil {
					return dataError(err)
				}
			}

			out := cmd.OutOrStdout()
			switch format {
			case "json":
				encoder := json.NewEncoder(out)
				encoder.SetIndent("", "  ")
				if !audit {
					return encoder.Encode(infos)
				}
				rows := make([]auditedSeries, len(infos))
				for i, info := range infos {
					rows[i] = auditedSeries{SeriesInfo: info, Audit: audits[info.Key.String()]}
				}
				return encoder.Encode(rows)
			case "table":
				printInventory(out, infos)
				if audit {
					printAudits(out, infos, audits)
				}
				return nil
			default:
				return fmt.Errorf("unknown format %q, want table or json", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json")
	cmd.Flags().BoolVar(&audit, "audit", false, "check each series for OHLC logic errors, price spikes and volume surges")
	return cmd
}

type auditedSeries struct {
	storage.SeriesInfo
	Audit *validator.AuditResult `json:"audit"`
}

func auditSeries(ctx context.Context, a *app, infos []storage.SeriesInfo) (map[string]*validator.AuditResult, error) {
	store := a.store()
	auditor := validator.NewOHLCVValidator(nil, a.componentLogger("validator"))
	results := make(map[string]*validator.AuditResult, len(infos))
	for _, info := range infos {
		candles, err := store.Load(ctx, info.Key, time.Time{}, time.Time{})
		if err != nil {
			return nil, err
		}
		result, err := auditor.Audit(ctx, candles)
		if err != nil {
			return nil, err
		}
		results[info.Key.String()] = result
	}
	return results, nil
}

func printAudits(w io.Writer, infos []storage.SeriesInfo, audits map[string]*validator.AuditResult) {
	if len(infos) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%-24s %8s %8s %8s %8s\n", "Series", "Logic", "Spikes", "Surges", "Quality")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, info := range infos {
		r := audits[info.Key.String()]
		fmt.Fprintf(w, "%-24s %8d %8d %8d %8.4f\n", info.Key.String(),
			r.Counts[validator.AnomalyTypeLogic], r.Counts[validator.AnomalyTypePriceSpike],
			r.Counts[validator.AnomalyTypeVolumeSurge], r.QualityScore())
	}
}

func printInventory(w io.Writer, infos []storage.SeriesInfo) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "No series stored.")
		return
	}

	fmt.Fprintf(w, "%-10s %-8s %-12s %8s %-17s %-17s %6s %8s\n",
		"Exchange", "Interval", "Pair", "Rows", "First", "Last", "Holes", "Missing")
	fmt.Fprintln(w, strings.Repeat("-", 94))
	for _, info := range infos {
		fmt.Fprintf(w, "%-10s %-8s %-12s %8d %-17s %-17s %6d %8d\n",
			info.Key.Exchange, info.Key.Interval, info.Key.Pair, info.Rows,
			formatTime(info.FirstTime), formatTime(info.LastTime), info.Holes, info.Missing)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func newIntervalsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "intervals",
		Short: "List catalog intervals and the configured exchange's codes for them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := a.profile()
			if err != nil {
				return err
			}
			printIntervals(cmd.OutOrStdout(), profile)
			return nil
		},
	}
}

func printIntervals(w io.Writer, profile exchange.Profile) {
	fmt.Fprintf(w, "%-6s %-16s %-12s %s\n", "Label", "Duration ms", "Calendar", profile.Name)
	fmt.Fprintln(w, strings.Repeat("-", 48))
	for _, interval := range models.Intervals() {
		code, err := profile.ExchangeInterval(interval.Label())
		if err != nil {
			code = "-"
		}
		fmt.Fprintf(w, "%-6s %-16d %-12s %s\n",
			interval.Label(), interval.DurationMs(), interval.CalendarDelta(), code)
	}
}
