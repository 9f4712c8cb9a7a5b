package gaps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/cexdata/internal/models"
)

var (
	t0     = time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	hour   = time.Hour.Milliseconds()
	hourly = models.MustParseInterval("1h")
)

func ptr(v int64) *int64 { return &v }

func starts(windows []Window) []int64 {
	out := make([]int64, len(windows))
	for i, w := range windows {
		out[i] = w.StartMs
	}
	return out
}

func TestPlanner_Plan(t *testing.T) {
	planner := NewPlanner(nil)

	tests := []struct {
		name     string
		req      PlanRequest
		expected []int64
	}{
		{
			name:     "empty series starts at floor",
			req:      PlanRequest{Floor: t0, Target: t0 + 5*hour, Interval: hourly, Limit: 2},
			expected: []int64{t0, t0 + 2*hour, t0 + 4*hour},
		},
		{
			name:     "resume from last stored timestamp",
			req:      PlanRequest{LastStored: ptr(t0 + 3*hour), Floor: t0, Target: t0 + 5*hour, Interval: hourly, Limit: 2},
			expected: []int64{t0 + 3*hour, t0 + 5*hour},
		},
		{
			name:     "range is an exact multiple of the step",
			req:      PlanRequest{Floor: t0, Target: t0 + 4*hour, Interval: hourly, Limit: 2},
			expected: []int64{t0, t0 + 2*hour, t0 + 4*hour},
		},
		{
			name:     "single window when limit exceeds range",
			req:      PlanRequest{Floor: t0, Target: t0 + 5*hour, Interval: hourly, Limit: 1000},
			expected: []int64{t0},
		},
		{
			name:     "caught up series yields no windows",
			req:      PlanRequest{LastStored: ptr(t0 + 5*hour), Floor: t0, Target: t0 + 5*hour, Interval: hourly, Limit: 2},
			expected: []int64{},
		},
		{
			name:     "start past target yields no windows",
			req:      PlanRequest{LastStored: ptr(t0 + 9*hour), Floor: t0, Target: t0 + 5*hour, Interval: hourly, Limit: 2},
			expected: []int64{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			windows, err := planner.Plan(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, starts(windows))
			for _, w := range windows {
				assert.LessOrEqual(t, w.StartMs, tt.req.Target)
				assert.Equal(t, tt.req.Limit, w.Limit)
			}
			if len(windows) > 0 {
				last := windows[len(windows)-1]
				assert.Greater(t, last.EndMs(tt.req.Interval), tt.req.Target, "last window must contain the target candle")
			}
		})
	}
}

func TestPlanner_PlanCoversRange(t *testing.T) {
	planner := NewPlanner(nil)
	daily := models.MustParseInterval("1d")
	target := t0 + 1000*daily.DurationMs()

	windows, err := planner.Plan(PlanRequest{Floor: t0, Target: target, Interval: daily, Limit: 7})
	require.NoError(t, err)
	require.NotEmpty(t, windows)

	assert.Equal(t, t0, windows[0].StartMs)
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].EndMs(daily), windows[i].StartMs, "windows must be contiguous")
	}
	assert.Greater(t, windows[len(windows)-1].EndMs(daily), target)
}

func TestPlanner_PlanTargetOnStepBoundary(t *testing.T) {
	planner := NewPlanner(nil)

	for _, k := range []int64{1, 2, 5, 10} {
		target := t0 + k*2*hour
		windows, err := planner.Plan(PlanRequest{Floor: t0, Target: target, Interval: hourly, Limit: 2})
		require.NoError(t, err)
		require.Len(t, windows, int(k)+1)

		last := windows[len(windows)-1]
		assert.Equal(t, target, last.StartMs)
		assert.Greater(t, last.EndMs(hourly), target)
	}
}

func TestPlanner_PlanInvalid(t *testing.T) {
	planner := NewPlanner(nil)

	_, err := planner.Plan(PlanRequest{Floor: t0, Target: t0 + hour, Interval: hourly, Limit: 0})
	assert.Error(t, err)

	_, err = planner.Plan(PlanRequest{Floor: t0, Target: t0 + hour, Limit: 10})
	assert.Error(t, err)
}

func TestDetectHoles(t *testing.T) {
	candles := []models.Candle{
		{Timestamp: t0 + 5*hour},
		{Timestamp: t0},
		{Timestamp: t0 + hour},
		{Timestamp: t0 + 2*hour},
	}

	holes := DetectHoles(candles, hourly)
	require.Len(t, holes, 1)
	assert.Equal(t, Hole{StartMs: t0 + 3*hour, EndMs: t0 + 5*hour, Missing: 2}, holes[0])

	assert.Empty(t, DetectHoles(candles[1:], hourly))
	assert.Empty(t, DetectHoles(nil, hourly))
}

func TestDetectHoles_MonthlyIgnored(t *testing.T) {
	monthly := models.MustParseInterval("1M")
	candles := []models.Candle{
		{Timestamp: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()},
		{Timestamp: time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC).UnixMilli()},
	}
	assert.Empty(t, DetectHoles(candles, monthly))
}
