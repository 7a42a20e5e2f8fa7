package strategies

import (
	"fmt"

	"github.com/rustyeddy/scalper/indicators"
	"github.com/rustyeddy/scalper/market"
)

// EMACrossoverConfig parameterizes the trend-following crossover.
type EMACrossoverConfig struct {
	FastPeriod    int     // 9
	SlowPeriod    int     // 21
	RSIOversold   float64 // 30
	RSIOverbought float64 // 70
	ATRStopMult   float64 // 1.5
	ATRTargetMult float64 // 2.0
}

func EMACrossoverDefaults() EMACrossoverConfig {
	return EMACrossoverConfig{
		FastPeriod:    9,
		SlowPeriod:    21,
		RSIOversold:   30,
		RSIOverbought: 70,
		ATRStopMult:   1.5,
		ATRTargetMult: 2.0,
	}
}

// EMACrossover enters on a fast/slow EMA cross filtered by RSI.
//
//	BUY:  fast crosses above slow and RSI < overbought
//	SELL: fast crosses below slow and RSI > oversold
//
// SL/TP are ATR multiples from the bar close.
type EMACrossover struct {
	cfg EMACrossoverConfig
}

func NewEMACrossover(cfg EMACrossoverConfig) *EMACrossover {
	return &EMACrossover{cfg: cfg}
}

func (s *EMACrossover) Name() string { return "ema_crossover" }

func (s *EMACrossover) GenerateSignals(bars []indicators.Bar) ([]Signal, error) {
	for _, p := range []int{s.cfg.FastPeriod, s.cfg.SlowPeriod} {
		switch p {
		case 9, 21, 50, 200:
		default:
			return nil, fmt.Errorf("ema_crossover: no EMA column for period %d", p)
		}
	}

	signals := make([]Signal, len(bars))
	for i := range bars {
		signals[i] = NoSignal()
		if i == 0 {
			continue
		}

		fast := bars[i].EMA(s.cfg.FastPeriod)
		slow := bars[i].EMA(s.cfg.SlowPeriod)
		prevFast := bars[i-1].EMA(s.cfg.FastPeriod)
		prevSlow := bars[i-1].EMA(s.cfg.SlowPeriod)

		crossAbove := fast > slow && prevFast <= prevSlow
		crossBelow := fast < slow && prevFast >= prevSlow

		switch {
		case crossAbove && bars[i].RSI < s.cfg.RSIOverbought:
			signals[i] = Signal{
				Side:       market.Buy,
				StopLoss:   bars[i].Close - bars[i].ATR*s.cfg.ATRStopMult,
				TakeProfit: bars[i].Close + bars[i].ATR*s.cfg.ATRTargetMult,
			}
		case crossBelow && bars[i].RSI > s.cfg.RSIOversold:
			signals[i] = Signal{
				Side:       market.Sell,
				StopLoss:   bars[i].Close + bars[i].ATR*s.cfg.ATRStopMult,
				TakeProfit: bars[i].Close - bars[i].ATR*s.cfg.ATRTargetMult,
			}
		}
	}
	return signals, nil
}
