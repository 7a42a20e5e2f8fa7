// Package demo generates synthetic market data for offline development and
// the backtest CLI. History is a seeded geometric Brownian motion so runs
// are reproducible per symbol; the live stream is an unseeded random walk.
package demo

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/rustyeddy/scalper/market"
)

// BasePrices anchor the synthetic walk at realistic levels.
var BasePrices = map[string]float64{
	"EUR_USD": 1.0850,
	"GBP_USD": 1.2650,
	"USD_JPY": 149.50,
}

const defaultBase = 1.1000

// Feed is a synthetic data feed. TickInterval controls live stream pacing
// (default 5s, shrink in tests).
type Feed struct {
	TickInterval time.Duration
	log          *slog.Logger
}

func New() *Feed {
	return &Feed{
		TickInterval: 5 * time.Second,
		log:          slog.Default().With("component", "demo_feed"),
	}
}

func basePrice(symbol string) float64 {
	if p, ok := BasePrices[symbol]; ok {
		return p
	}
	return defaultBase
}

func seedFor(symbol string) int64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	return int64(h.Sum64() & 0xFFFFFFFF)
}

// Historical generates weekday-only GBM candles between start and end at the
// requested timeframe.
func (f *Feed) Historical(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Candle, error) {
	period, err := market.TimeframePeriod(timeframe)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seedFor(symbol)))
	base := basePrice(symbol)
	volatility := 0.0008
	if base >= 10 {
		volatility = 0.08
	}

	var candles []market.Candle
	price := base
	for ts := start.UTC().Truncate(period); !ts.After(end.UTC()); ts = ts.Add(period) {
		// FX trades Monday through Friday.
		if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}

		price *= math.Exp(rng.NormFloat64() * volatility)
		high := price * (1 + math.Abs(rng.NormFloat64()*volatility*0.5))
		low := price * (1 - math.Abs(rng.NormFloat64()*volatility*0.5))
		open := low + rng.Float64()*(high-low)

		candles = append(candles, market.Candle{
			Time:   ts,
			Open:   open,
			High:   high,
			Low:    low,
			Close:  price,
			Volume: float64(100 + rng.Intn(9900)),
		})
	}

	f.log.Info("historical_generated", "symbol", symbol, "timeframe", timeframe, "count", len(candles))
	return candles, nil
}

// StreamPrices emits a synthetic tick every TickInterval until ctx is
// cancelled. The demo stream never dies on its own.
func (f *Feed) StreamPrices(ctx context.Context, symbol string, onTick func(market.Tick)) error {
	f.log.Info("stream_starting", "symbol", symbol)

	interval := f.TickInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	price := basePrice(symbol)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			price *= math.Exp(rng.NormFloat64() * 0.0001)
			spread := price * 0.00015
			onTick(market.Tick{
				Symbol: symbol,
				Time:   time.Now().UTC(),
				Bid:    price - spread/2,
				Ask:    price + spread/2,
			})
		}
	}
}
