package indicators

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/scalper/market"
)

func candlesFromCloses(closes []float64) []market.Candle {
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		out[i] = market.Candle{
			Time: t0.Add(time.Duration(i) * time.Hour),
			Open: c, High: c + 0.0005, Low: c - 0.0005, Close: c,
			Volume: 100,
		}
	}
	return out
}

func TestSMA(t *testing.T) {
	got := SMA([]float64{1, 2, 3, 4, 5}, 3)

	assert.True(t, math.IsNaN(got[0]))
	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 2.0, got[2], 1e-9)
	assert.InDelta(t, 3.0, got[3], 1e-9)
	assert.InDelta(t, 4.0, got[4], 1e-9)
}

func TestEMASeededWithSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6}
	got := EMA(values, 3)

	assert.True(t, math.IsNaN(got[1]))
	assert.InDelta(t, 2.0, got[2], 1e-9) // SMA seed

	// alpha = 0.5: ema = 0.5*v + 0.5*prev
	assert.InDelta(t, 3.0, got[3], 1e-9)
	assert.InDelta(t, 4.0, got[4], 1e-9)
	assert.InDelta(t, 5.0, got[5], 1e-9)
}

func TestEMATooShort(t *testing.T) {
	got := EMA([]float64{1, 2}, 3)
	for _, v := range got {
		assert.True(t, math.IsNaN(v))
	}
}

func TestRSIExtremes(t *testing.T) {
	rising := make([]float64, 20)
	for i := range rising {
		rising[i] = float64(i)
	}
	got := RSI(rising, 14)
	assert.True(t, math.IsNaN(got[13]))
	assert.InDelta(t, 100, got[14], 1e-9)

	falling := make([]float64, 20)
	for i := range falling {
		falling[i] = float64(100 - i)
	}
	got = RSI(falling, 14)
	assert.InDelta(t, 0, got[19], 1e-9)

	flat := make([]float64, 20)
	for i := range flat {
		flat[i] = 42
	}
	got = RSI(flat, 14)
	assert.InDelta(t, 50, got[14], 1e-9)
}

func TestBollingerBandsBracketMiddle(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 1.0 + 0.001*float64(i%5)
	}
	upper, middle, lower := Bollinger(closes, 20, 2.0)

	for i := 19; i < len(closes); i++ {
		assert.Greater(t, upper[i], middle[i])
		assert.Less(t, lower[i], middle[i])
	}
	assert.True(t, math.IsNaN(upper[18]))
}

func TestATRConstantRange(t *testing.T) {
	// Identical candles: true range equals high-low everywhere.
	candles := candlesFromCloses(make([]float64, 20))
	for i := range candles {
		candles[i].Open, candles[i].Close = 1.0, 1.0
		candles[i].High, candles[i].Low = 1.0005, 0.9995
	}
	got := ATR(candles, 14)
	assert.True(t, math.IsNaN(got[13]))
	assert.InDelta(t, 0.001, got[14], 1e-9)
	assert.InDelta(t, 0.001, got[19], 1e-9)
}

func TestVWAPConstantPrice(t *testing.T) {
	candles := candlesFromCloses([]float64{2, 2, 2, 2})
	got := VWAP(candles)
	for _, v := range got {
		assert.InDelta(t, 2.0, v, 1e-9)
	}
}

func TestMACDWarmup(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 1.0 + 0.0001*float64(i)
	}
	macd, signal, hist := MACD(closes, 12, 26, 9)

	assert.True(t, math.IsNaN(macd[24]))
	assert.False(t, math.IsNaN(macd[25]))
	assert.True(t, math.IsNaN(signal[32]))
	assert.False(t, math.IsNaN(signal[33]))
	assert.InDelta(t, macd[40]-signal[40], hist[40], 1e-12)
}

func TestAddAllAndDropUndefined(t *testing.T) {
	closes := make([]float64, 250)
	for i := range closes {
		closes[i] = 1.0 + 0.0002*float64(i%10)
	}
	bars := AddAll(candlesFromCloses(closes))
	require.Len(t, bars, 250)

	defined := DropUndefined(bars)
	// EMA-200 is the slowest warm-up; everything from index 199 survives.
	require.Len(t, defined, 51)
	assert.Equal(t, bars[199].Time, defined[0].Time)

	for _, b := range defined {
		assert.False(t, math.IsNaN(b.EMA200))
		assert.False(t, math.IsNaN(b.RSI))
		assert.False(t, math.IsNaN(b.MACDSignal))
		assert.False(t, math.IsNaN(b.ATR))
	}
}

func TestBarEMAAccessor(t *testing.T) {
	b := Bar{EMA9: 1, EMA21: 2, EMA50: 3, EMA200: 4}
	assert.Equal(t, 1.0, b.EMA(9))
	assert.Equal(t, 4.0, b.EMA(200))
	assert.True(t, math.IsNaN(b.EMA(13)))
}
