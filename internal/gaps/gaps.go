// Package gaps decides which parts of a candle series are still missing.
//
// The Planner turns the last stored timestamp of a series and a target end
// timestamp into the request windows that cover the missing range. DetectHoles
// reports interior holes of an already stored series, for inventory reporting.
package gaps

import (
	"fmt"

	"github.com/johnayoung/cexdata/internal/models"
)

// WindowPlanner computes the fetch windows needed to bring one series up to a
// target timestamp.
type WindowPlanner interface {
	// Plan returns the ordered windows covering [start, Target], where start is
	// the last stored timestamp or, for an empty series, the floor.
	//
	// Parameters:
	//   - req: last stored timestamp (nil when the series is empty), floor,
	//     target, interval and the exchange's max candles per request
	//
	// Returns:
	//   - []Window: window start offsets, strictly increasing; the last window
	//     contains Target
	//   - error: if the request is malformed (zero interval, limit <= 0)
	//
	// Consecutive windows overlap by one candle at their boundary, and the first
	// window of a resumed series starts at the last stored candle. Both overlaps
	// are resolved when the batch is merged into the store.
	Plan(req PlanRequest) ([]Window, error)
}

// PlanRequest describes one series to plan.
type PlanRequest struct {
	LastStored *int64          // last stored timestamp in ms, nil when no series exists
	Floor      int64           // start of recorded history in ms
	Target     int64           // target end timestamp in ms
	Interval   models.Interval // candle interval
	Limit      int             // max candles per exchange request
}

// Start returns the first offset of the missing range.
func (r PlanRequest) Start() int64 {
	if r.LastStored != nil {
		return *r.LastStored
	}
	return r.Floor
}

// Validate checks the request invariants.
func (r PlanRequest) Validate() error {
	if r.Interval.IsZero() {
		return fmt.Errorf("interval is required")
	}
	if r.Limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", r.Limit)
	}
	return nil
}

// Window is one bounded request for up to Limit consecutive candles starting at
// StartMs. It covers [StartMs, StartMs+Limit*interval).
type Window struct {
	StartMs int64
	Limit   int
}

// EndMs returns the nominal exclusive end of the window.
func (w Window) EndMs(interval models.Interval) int64 {
	return w.StartMs + int64(w.Limit)*interval.DurationMs()
}

// Hole is a run of missing candles inside a stored series. StartMs is the
// first missing timestamp and EndMs the next stored one.
type Hole struct {
	StartMs int64
	EndMs   int64
	Missing int64
}
