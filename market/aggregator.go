package market

import "time"

// builder accumulates one in-progress candle. Open is the first mid seen in
// the period, Close the latest, Volume the tick count.
type builder struct {
	bucket time.Time
	candle Candle
	ticks  int
}

func newBuilder(bucket time.Time) *builder {
	return &builder{bucket: bucket, candle: Candle{Time: bucket}}
}

func (b *builder) update(mid float64) {
	if b.ticks == 0 {
		b.candle.Open = mid
		b.candle.High = mid
		b.candle.Low = mid
	} else {
		if mid > b.candle.High {
			b.candle.High = mid
		}
		if mid < b.candle.Low {
			b.candle.Low = mid
		}
	}
	b.candle.Close = mid
	b.ticks++
	b.candle.Volume = float64(b.ticks)
}

// Aggregator folds a tick stream into time-aligned candles and keeps a
// bounded history of sealed ones. It is the only stateful transform between
// the tick and bar abstractions, and it is not safe for concurrent use: the
// trading engine calls it from a single streaming goroutine.
type Aggregator struct {
	timeframe string
	period    time.Duration
	history   *History
	current   *builder
}

// NewAggregator rejects unsupported timeframes up front rather than
// degrading at the first tick.
func NewAggregator(timeframe string, historySize int) (*Aggregator, error) {
	period, err := TimeframePeriod(timeframe)
	if err != nil {
		return nil, err
	}
	return &Aggregator{
		timeframe: timeframe,
		period:    period,
		history:   NewHistory(historySize),
	}, nil
}

func (a *Aggregator) Timeframe() string     { return a.timeframe }
func (a *Aggregator) Period() time.Duration { return a.period }

// OnTick folds one tick into the current candle. When the tick starts a
// later bucket, the current candle is sealed into history and returned.
// Bucket keys are never revisited: a tick older than the current bucket is
// folded into the current builder as-is.
func (a *Aggregator) OnTick(ts time.Time, bid, ask float64) (Candle, bool) {
	mid := (bid + ask) / 2
	bucket := ts.UTC().Truncate(a.period)

	if a.current == nil {
		a.current = newBuilder(bucket)
		a.current.update(mid)
		return Candle{}, false
	}

	if bucket.After(a.current.bucket) {
		sealed := a.current.candle
		a.history.Push(sealed)
		a.current = newBuilder(bucket)
		a.current.update(mid)
		return sealed, true
	}

	a.current.update(mid)
	return Candle{}, false
}

// SeedHistory pre-loads sealed candles so signal generation has context at
// startup without a live warm-up period. Only the trailing window that fits
// the bounded history is retained.
func (a *Aggregator) SeedHistory(candles []Candle) {
	for _, c := range candles {
		a.history.Push(c)
	}
}

// History returns the sealed candles oldest-first.
func (a *Aggregator) History() []Candle { return a.history.Candles() }

// HistoryLen reports how many sealed candles are held.
func (a *Aggregator) HistoryLen() int { return a.history.Len() }
