package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestCandle_Validate(t *testing.T) {
	valid := Candle{
		Timestamp: testTime.UnixMilli(),
		Open:      100.0,
		High:      105.5,
		Low:       99.25,
		Close:     104.0,
		Volume:    1500.75,
	}

	tests := []struct {
		name          string
		mutate        func(c *Candle)
		expectedField string
	}{
		{name: "valid_candle", mutate: func(c *Candle) {}},
		{name: "valid_zero_volume", mutate: func(c *Candle) { c.Volume = 0 }},
		{name: "valid_flat_candle", mutate: func(c *Candle) { c.Open, c.High, c.Low, c.Close = 1, 1, 1, 1 }},
		{name: "zero_timestamp", mutate: func(c *Candle) { c.Timestamp = 0 }, expectedField: "timestamp"},
		{name: "nan_open", mutate: func(c *Candle) { c.Open = math.NaN() }, expectedField: "open"},
		{name: "infinite_close", mutate: func(c *Candle) { c.Close = math.Inf(1) }, expectedField: "close"},
		{name: "negative_volume", mutate: func(c *Candle) { c.Volume = -1 }, expectedField: "volume"},
		{name: "negative_low", mutate: func(c *Candle) { c.Low = -0.5 }, expectedField: "low"},
		{name: "high_below_low", mutate: func(c *Candle) { c.High, c.Low = 98, 99 }, expectedField: "high"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candle := valid
			tt.mutate(&candle)

			err := candle.Validate()
			if tt.expectedField == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			assert.Equal(t, tt.expectedField, validationErr.Field)
		})
	}
}

func TestCandle_Time(t *testing.T) {
	candle := Candle{Timestamp: testTime.UnixMilli()}
	assert.True(t, testTime.Equal(candle.Time()))
	assert.Equal(t, time.UTC, candle.Time().Location())
}

func TestDedupSorted(t *testing.T) {
	t.Run("first occurrence wins and output is ascending", func(t *testing.T) {
		input := []Candle{
			{Timestamp: 3000, Close: 3},
			{Timestamp: 1000, Close: 1},
			{Timestamp: 2000, Close: 2},
			{Timestamp: 1000, Close: 99},
			{Timestamp: 3000, Close: 98},
		}

		out := DedupSorted(input)

		require.Len(t, out, 3)
		assert.Equal(t, []int64{1000, 2000, 3000}, []int64{out[0].Timestamp, out[1].Timestamp, out[2].Timestamp})
		assert.Equal(t, 1.0, out[0].Close)
		assert.Equal(t, 3.0, out[2].Close)
		assert.Equal(t, int64(3000), input[0].Timestamp, "input must not be reordered")
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, DedupSorted(nil))
	})
}
