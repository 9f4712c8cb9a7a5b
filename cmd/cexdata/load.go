package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnayoung/cexdata/internal/config"
	"github.com/johnayoung/cexdata/internal/exchange"
	"github.com/johnayoung/cexdata/internal/models"
	"github.com/johnayoung/cexdata/internal/storage"
)

type loadFlags struct {
	pair     string
	interval string
	start    string
	end      string
	format   string
	limit    int
}

func newLoadCmd(a *app) *cobra.Command {
	flags := &loadFlags{}

	cmd := &cobra.Command{
		Use:   "load",
		Short: "Print stored candles of one series",
		Long: `Print the stored candles of one series with open time in [start, end).
The most recent row in range is omitted since it may still be forming.`,
		Example: `  cexdata load --pair BTC-USD --interval 1h --start 2021-01-01 --end 2021-02-01 --format csv`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd, a, flags)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.pair, "pair", "", "pair, e.g. BTC-USD (required)")
	f.StringVar(&flags.interval, "interval", "", "interval label, e.g. 1h (required)")
	f.StringVar(&flags.start, "start", "", "inclusive start, YYYY-MM-DD or RFC3339")
	f.StringVar(&flags.end, "end", "", "exclusive end, YYYY-MM-DD or RFC3339")
	f.StringVar(&flags.format, "format", "table", "output format: table, csv, json")
	f.IntVar(&flags.limit, "limit", 0, "print at most this many rows (table only, 0 = all)")
	_ = cmd.MarkFlagRequired("pair")
	_ = cmd.MarkFlagRequired("interval")
	return cmd
}

func runLoad(cmd *cobra.Command, a *app, flags *loadFlags) error {
	pair, err := exchange.CanonicalPair(flags.pair)
	if err != nil {
		return err
	}
	interval, err := models.ParseInterval(flags.interval)
	if err != nil {
		return err
	}
	profile, err := a.profile()
	if err != nil {
		return err
	}

	var start, end time.Time
	if flags.start != "" {
		if start, err = config.ParseDate(flags.start); err != nil {
			return fmt.Errorf("bad --start: %w", err)
		}
	}
	if flags.end != "" {
		if end, err = config.ParseDate(flags.end); err != nil {
			return fmt.Errorf("bad --end: %w", err)
		}
	}

	key := storage.SeriesKey{Exchange: profile.Name, Interval: interval.Label(), Pair: pair}
	candles, err := a.store().Load(cmd.Context(), key, start, end)
	if err != nil {
		return dataError(err)
	}

	out := cmd.OutOrStdout()
	switch flags.format {
	case "json":
		return outputJSON(out, candles)
	case "csv":
		return outputCSV(out, candles)
	case "table":
		return outputTable(out, candles, flags.limit)
	default:
		return fmt.Errorf("unknown format %q, want table, csv or json", flags.format)
	}
}

// outputJSON formats candles as JSON
func outputJSON(w io.Writer, candles []models.Candle) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(candles)
}

// outputCSV formats candles in the series file layout
func outputCSV(w io.Writer, candles []models.Candle) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(storage.Header); err != nil {
		return err
	}
	for _, c := range candles {
		if err := writer.Write([]string{
			strconv.FormatInt(c.Timestamp, 10),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			formatFloat(c.Volume),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// outputTable formats candles as a table
func outputTable(w io.Writer, candles []models.Candle, limit int) error {
	total := len(candles)
	if limit > 0 && total > limit {
		candles = candles[:limit]
	}

	fmt.Fprintf(w, "%-20s %-14s %-14s %-14s %-14s %-16s\n",
		"Timestamp", "Open", "High", "Low", "Close", "Volume")
	fmt.Fprintln(w, strings.Repeat("-", 97))

	for _, c := range candles {
		fmt.Fprintf(w, "%-20s %-14s %-14s %-14s %-14s %-16s\n",
			c.Time().Format("2006-01-02 15:04"),
			formatFloat(c.Open),
			formatFloat(c.High),
			formatFloat(c.Low),
			formatFloat(c.Close),
			formatFloat(c.Volume))
	}

	if len(candles) < total {
		fmt.Fprintf(w, "\n... showing first %d of %d rows (use --limit to see more)\n", len(candles), total)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
