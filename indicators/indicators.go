// Package indicators computes batch technical indicators over candle
// history. Warm-up values that are not yet defined are NaN, mirroring how
// rolling windows behave; DropUndefined trims them before strategies run.
package indicators

import (
	"math"

	"github.com/rustyeddy/scalper/market"
)

// Default periods used by AddAll.
const (
	RSIPeriod  = 14
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
	BBPeriod   = 20
	BBStdDev   = 2.0
	ATRPeriod  = 14
)

// EMAPeriods are the moving averages attached to every bar.
var EMAPeriods = [4]int{9, 21, 50, 200}

// Bar is one candle with its indicator row.
type Bar struct {
	market.Candle

	RSI        float64
	MACD       float64
	MACDSignal float64
	MACDHist   float64
	BBUpper    float64
	BBMiddle   float64
	BBLower    float64
	EMA9       float64
	EMA21      float64
	EMA50      float64
	EMA200     float64
	ATR        float64
	VWAP       float64
}

// EMA returns the bar's EMA for one of the standard periods, NaN otherwise.
func (b Bar) EMA(period int) float64 {
	switch period {
	case 9:
		return b.EMA9
	case 21:
		return b.EMA21
	case 50:
		return b.EMA50
	case 200:
		return b.EMA200
	}
	return math.NaN()
}

// AddAll computes the full indicator set over the candle history.
func AddAll(candles []market.Candle) []Bar {
	n := len(candles)
	bars := make([]Bar, n)

	closes := make([]float64, n)
	for i, c := range candles {
		bars[i].Candle = c
		closes[i] = c.Close
	}

	rsi := RSI(closes, RSIPeriod)
	macd, signal, hist := MACD(closes, MACDFast, MACDSlow, MACDSignal)
	upper, middle, lower := Bollinger(closes, BBPeriod, BBStdDev)
	atr := ATR(candles, ATRPeriod)
	vwap := VWAP(candles)

	emas := make(map[int][]float64, len(EMAPeriods))
	for _, p := range EMAPeriods {
		emas[p] = EMA(closes, p)
	}

	for i := range bars {
		bars[i].RSI = rsi[i]
		bars[i].MACD = macd[i]
		bars[i].MACDSignal = signal[i]
		bars[i].MACDHist = hist[i]
		bars[i].BBUpper = upper[i]
		bars[i].BBMiddle = middle[i]
		bars[i].BBLower = lower[i]
		bars[i].EMA9 = emas[9][i]
		bars[i].EMA21 = emas[21][i]
		bars[i].EMA50 = emas[50][i]
		bars[i].EMA200 = emas[200][i]
		bars[i].ATR = atr[i]
		bars[i].VWAP = vwap[i]
	}
	return bars
}

// DropUndefined returns the suffix of bars whose indicator row is fully
// defined. Indicators are all trailing-window, so NaNs only appear as a
// prefix.
func DropUndefined(bars []Bar) []Bar {
	first := len(bars)
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].defined() {
			first = i
		} else {
			break
		}
	}
	out := make([]Bar, len(bars)-first)
	copy(out, bars[first:])
	return out
}

func (b Bar) defined() bool {
	for _, v := range []float64{
		b.RSI, b.MACD, b.MACDSignal, b.MACDHist,
		b.BBUpper, b.BBMiddle, b.BBLower,
		b.EMA9, b.EMA21, b.EMA50, b.EMA200,
		b.ATR,
	} {
		if math.IsNaN(v) {
			return false
		}
	}
	return true
}

// EMA computes an exponential moving average with alpha = 2/(period+1),
// seeded with the SMA of the first period values. Values before the seed
// are NaN.
func EMA(values []float64, period int) []float64 {
	out := nans(len(values))
	if period <= 0 || len(values) < period {
		return out
	}

	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	ema := sum / float64(period)
	out[period-1] = ema

	alpha := 2.0 / float64(period+1)
	for i := period; i < len(values); i++ {
		ema = alpha*values[i] + (1-alpha)*ema
		out[i] = ema
	}
	return out
}

// SMA computes a simple moving average; NaN until a full window exists.
func SMA(values []float64, period int) []float64 {
	out := nans(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RSI computes the relative strength index with Wilder smoothing.
func RSI(closes []float64, period int) []float64 {
	out := nans(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if delta > 0 {
			gain = delta
		} else {
			loss = -delta
		}
		avgGain = alpha*gain + (1-alpha)*avgGain
		avgLoss = alpha*loss + (1-alpha)*avgLoss
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// MACD returns the MACD line, signal line, and histogram.
func MACD(closes []float64, fast, slow, signalPeriod int) (macd, signal, hist []float64) {
	n := len(closes)
	macd = nans(n)
	signal = nans(n)
	hist = nans(n)

	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	for i := 0; i < n; i++ {
		macd[i] = emaFast[i] - emaSlow[i]
	}

	// Signal is an EMA of the MACD line, which only exists from index
	// slow-1 onward.
	if n >= slow {
		sigTail := EMA(macd[slow-1:], signalPeriod)
		for i, v := range sigTail {
			signal[slow-1+i] = v
		}
	}
	for i := 0; i < n; i++ {
		hist[i] = macd[i] - signal[i]
	}
	return macd, signal, hist
}

// Bollinger returns the upper, middle, and lower bands using a rolling
// sample standard deviation.
func Bollinger(closes []float64, period int, stdDev float64) (upper, middle, lower []float64) {
	n := len(closes)
	upper = nans(n)
	lower = nans(n)
	middle = SMA(closes, period)

	if period <= 1 || n < period {
		return upper, middle, lower
	}
	for i := period - 1; i < n; i++ {
		mean := middle[i]
		var ss float64
		for j := i - period + 1; j <= i; j++ {
			d := closes[j] - mean
			ss += d * d
		}
		sd := math.Sqrt(ss / float64(period-1))
		upper[i] = mean + stdDev*sd
		lower[i] = mean - stdDev*sd
	}
	return upper, middle, lower
}

// ATR computes the average true range with Wilder smoothing.
func ATR(candles []market.Candle, period int) []float64 {
	out := nans(len(candles))
	if period <= 0 || len(candles) <= period {
		return out
	}

	tr := make([]float64, len(candles))
	tr[0] = candles[0].High - candles[0].Low
	for i := 1; i < len(candles); i++ {
		c := candles[i]
		prevClose := candles[i-1].Close
		tr[i] = math.Max(c.High-c.Low,
			math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
	}

	var atr float64
	for i := 1; i <= period; i++ {
		atr += tr[i]
	}
	atr /= float64(period)
	out[period] = atr

	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(candles); i++ {
		atr = alpha*tr[i] + (1-alpha)*atr
		out[i] = atr
	}
	return out
}

// VWAP computes the cumulative volume-weighted average price of the typical
// price. Bars before any volume has been seen are NaN.
func VWAP(candles []market.Candle) []float64 {
	out := nans(len(candles))
	var cumPV, cumVol float64
	for i, c := range candles {
		typical := (c.High + c.Low + c.Close) / 3
		cumPV += typical * c.Volume
		cumVol += c.Volume
		if cumVol > 0 {
			out[i] = cumPV / cumVol
		}
	}
	return out
}

func nans(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
