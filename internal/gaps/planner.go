package gaps

import (
	"log/slog"
	"sort"

	"github.com/johnayoung/cexdata/internal/models"
)

// Planner is the default WindowPlanner.
type Planner struct {
	logger *slog.Logger
}

// NewPlanner creates a Planner. A nil logger falls back to slog.Default().
func NewPlanner(logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{logger: logger}
}

// Plan emits offsets o, o+step, o+2*step, ... with step = Limit*interval and
// stops after the first window whose nominal end [o, o+step) passes Target, so
// the Target candle always falls inside the last window. A start at or past
// Target yields no windows.
func (p *Planner) Plan(req PlanRequest) ([]Window, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := req.Start()
	if start >= req.Target {
		p.logger.Debug("Series already covers target",
			"interval", req.Interval.Label(),
			"start", start,
			"target", req.Target,
		)
		return nil, nil
	}

	step := int64(req.Limit) * req.Interval.DurationMs()
	windows := make([]Window, 0, (req.Target-start)/step+1)
	for offset := start; offset <= req.Target; offset += step {
		windows = append(windows, Window{StartMs: offset, Limit: req.Limit})
		if offset+step > req.Target {
			break
		}
	}

	p.logger.Debug("Planned fetch windows",
		"interval", req.Interval.Label(),
		"start", start,
		"target", req.Target,
		"windows", len(windows),
	)
	return windows, nil
}

// DetectHoles scans a series for timestamps more than one interval apart and
// reports each run of missing candles. The input does not need to be sorted
// and is not modified. Intervals that are not fixed width report no holes.
func DetectHoles(candles []models.Candle, interval models.Interval) []Hole {
	if len(candles) < 2 || interval.IsZero() || !interval.FixedWidth() {
		return nil
	}

	timestamps := make([]int64, len(candles))
	for i, c := range candles {
		timestamps[i] = c.Timestamp
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })

	duration := interval.DurationMs()
	var holes []Hole
	for i := 0; i < len(timestamps)-1; i++ {
		expectedNext := timestamps[i] + duration
		next := timestamps[i+1]
		if next > expectedNext {
			holes = append(holes, Hole{
				StartMs: expectedNext,
				EndMs:   next,
				Missing: (next - expectedNext + duration - 1) / duration,
			})
		}
	}
	return holes
}
