package models

import (
	"sort"
	"time"

	apperrors "github.com/johnayoung/cexdata/internal/errors"
)

// Interval is an immutable entry of the interval catalog. The zero value is not
// a valid interval; obtain one through ParseInterval.
type Interval struct {
	label         string
	durationMs    int64
	calendarDelta time.Duration
}

// catalog maps interval labels to their timestamp duration and calendar delta.
// The two only differ for 1M, whose arithmetic duration is the mean Gregorian
// month while the date grid steps by 30 days.
var catalog = map[string]Interval{
	"1m":  {label: "1m", durationMs: 60_000, calendarDelta: time.Minute},
	"2m":  {label: "2m", durationMs: 120_000, calendarDelta: 2 * time.Minute},
	"5m":  {label: "5m", durationMs: 300_000, calendarDelta: 5 * time.Minute},
	"15m": {label: "15m", durationMs: 900_000, calendarDelta: 15 * time.Minute},
	"30m": {label: "30m", durationMs: 1_800_000, calendarDelta: 30 * time.Minute},
	"1h":  {label: "1h", durationMs: 3_600_000, calendarDelta: time.Hour},
	"2h":  {label: "2h", durationMs: 7_200_000, calendarDelta: 2 * time.Hour},
	"4h":  {label: "4h", durationMs: 14_400_000, calendarDelta: 4 * time.Hour},
	"12h": {label: "12h", durationMs: 43_200_000, calendarDelta: 12 * time.Hour},
	"1d":  {label: "1d", durationMs: 86_400_000, calendarDelta: 24 * time.Hour},
	"1w":  {label: "1w", durationMs: 604_800_000, calendarDelta: 7 * 24 * time.Hour},
	"1M":  {label: "1M", durationMs: 2_629_746_000, calendarDelta: 30 * 24 * time.Hour},
}

// ParseInterval looks up label in the catalog. Labels are case sensitive since
// "1m" and "1M" name different intervals.
func ParseInterval(label string) (Interval, error) {
	interval, ok := catalog[label]
	if !ok {
		return Interval{}, &apperrors.UnknownIntervalError{Interval: label}
	}
	return interval, nil
}

// MustParseInterval is like ParseInterval but panics on unknown labels. It is
// intended for tests and package level variables.
func MustParseInterval(label string) Interval {
	interval, err := ParseInterval(label)
	if err != nil {
		panic(err)
	}
	return interval
}

// DurationMs returns the length of one candle of the labelled interval in
// milliseconds.
func DurationMs(label string) (int64, error) {
	interval, err := ParseInterval(label)
	if err != nil {
		return 0, err
	}
	return interval.durationMs, nil
}

// CalendarDelta returns the step used to iterate dates for the labelled interval.
func CalendarDelta(label string) (time.Duration, error) {
	interval, err := ParseInterval(label)
	if err != nil {
		return 0, err
	}
	return interval.calendarDelta, nil
}

// Intervals returns the catalog ordered by duration.
func Intervals() []Interval {
	intervals := make([]Interval, 0, len(catalog))
	for _, interval := range catalog {
		intervals = append(intervals, interval)
	}
	sort.Slice(intervals, func(i, j int) bool {
		return intervals[i].durationMs < intervals[j].durationMs
	})
	return intervals
}

// Label returns the catalog label, e.g. "1h".
func (i Interval) Label() string { return i.label }

// String implements fmt.Stringer.
func (i Interval) String() string { return i.label }

// DurationMs returns the candle duration in milliseconds.
func (i Interval) DurationMs() int64 { return i.durationMs }

// CalendarDelta returns the date grid step.
func (i Interval) CalendarDelta() time.Duration { return i.calendarDelta }

// FixedWidth reports whether consecutive candles are exactly DurationMs apart.
// It is false for 1M, whose candles follow calendar months.
func (i Interval) FixedWidth() bool {
	return i.calendarDelta.Milliseconds() == i.durationMs
}

// IsZero reports whether i was not obtained from the catalog.
func (i Interval) IsZero() bool { return i.label == "" }

// AlignedEnd returns the last point of the grid floor, floor+delta, floor+2*delta, ...
// that is not after end. It returns floor when end is before floor.
func (i Interval) AlignedEnd(floor, end time.Time) time.Time {
	if i.calendarDelta <= 0 || !end.After(floor) {
		return floor
	}
	steps := end.Sub(floor) / i.calendarDelta
	return floor.Add(steps * i.calendarDelta)
}
