package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAggregatorRejectsUnknownTimeframe(t *testing.T) {
	_, err := NewAggregator("7m", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported timeframe")
}

func TestAggregatorSingleBucket(t *testing.T) {
	agg, err := NewAggregator("1m", 10)
	require.NoError(t, err)

	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	// mids: 1.0850, 1.0860, 1.0840, 1.0855
	ticks := []struct {
		offset   time.Duration
		bid, ask float64
	}{
		{0, 1.0849, 1.0851},
		{10 * time.Second, 1.0859, 1.0861},
		{20 * time.Second, 1.0839, 1.0841},
		{30 * time.Second, 1.0854, 1.0856},
	}
	for _, tk := range ticks {
		_, sealed := agg.OnTick(t0.Add(tk.offset), tk.bid, tk.ask)
		assert.False(t, sealed)
	}

	// Crossing into the next minute seals the bucket.
	candle, sealed := agg.OnTick(t0.Add(time.Minute), 1.0850, 1.0852)
	require.True(t, sealed)

	assert.Equal(t, t0, candle.Time)
	assert.InDelta(t, 1.0850, candle.Open, 1e-9)
	assert.InDelta(t, 1.0855, candle.Close, 1e-9)
	assert.InDelta(t, 1.0860, candle.High, 1e-9)
	assert.InDelta(t, 1.0840, candle.Low, 1e-9)
	assert.Equal(t, 4.0, candle.Volume)
}

func TestAggregatorLateTickFoldsIntoCurrent(t *testing.T) {
	agg, err := NewAggregator("1m", 10)
	require.NoError(t, err)

	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	agg.OnTick(t0.Add(time.Minute), 1.0, 1.0)

	// A tick from the previous minute must not reopen that bucket.
	_, sealed := agg.OnTick(t0, 2.0, 2.0)
	assert.False(t, sealed)
	assert.Equal(t, 0, agg.HistoryLen())

	candle, sealed := agg.OnTick(t0.Add(2*time.Minute), 1.0, 1.0)
	require.True(t, sealed)
	assert.Equal(t, 2.0, candle.Volume)
	assert.InDelta(t, 2.0, candle.Close, 1e-9)
}

func TestAggregatorHistoryBound(t *testing.T) {
	const capacity = 5
	agg, err := NewAggregator("1m", capacity)
	require.NoError(t, err)

	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		agg.OnTick(t0.Add(time.Duration(i)*time.Minute), float64(i), float64(i))
	}

	history := agg.History()
	require.Len(t, history, capacity)

	// Oldest first, with the earliest buckets evicted.
	for i, c := range history {
		want := t0.Add(time.Duration(19-capacity+i) * time.Minute)
		assert.Equal(t, want, c.Time)
	}
}

func TestSeedHistoryKeepsTrailingWindow(t *testing.T) {
	agg, err := NewAggregator("1h", 3)
	require.NoError(t, err)

	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	var candles []Candle
	for i := 0; i < 10; i++ {
		candles = append(candles, Candle{Time: t0.Add(time.Duration(i) * time.Hour), Close: float64(i)})
	}
	agg.SeedHistory(candles)

	history := agg.History()
	require.Len(t, history, 3)
	assert.Equal(t, 7.0, history[0].Close)
	assert.Equal(t, 9.0, history[2].Close)
}

func TestHistoryLast(t *testing.T) {
	h := NewHistory(2)

	_, ok := h.Last()
	assert.False(t, ok)

	h.Push(Candle{Close: 1})
	h.Push(Candle{Close: 2})
	h.Push(Candle{Close: 3})

	last, ok := h.Last()
	require.True(t, ok)
	assert.Equal(t, 3.0, last.Close)
	assert.Equal(t, 2, h.Len())
}
