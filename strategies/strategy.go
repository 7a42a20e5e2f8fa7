// Package strategies turns indicator-annotated bar history into trading
// signals. Strategies are pure: they never mutate their input and return one
// signal per bar.
package strategies

import (
	"fmt"
	"math"
	"strings"

	"github.com/rustyeddy/scalper/indicators"
	"github.com/rustyeddy/scalper/market"
)

// Signal is a per-bar trading decision. It is actionable only when Side is
// Buy or Sell and both prices are defined.
type Signal struct {
	Side       market.Side
	StopLoss   float64
	TakeProfit float64
}

// NoSignal is the empty decision for a bar.
func NoSignal() Signal {
	return Signal{Side: market.None, StopLoss: math.NaN(), TakeProfit: math.NaN()}
}

// Actionable reports whether the signal should reach the order path.
func (s Signal) Actionable() bool {
	return (s.Side == market.Buy || s.Side == market.Sell) &&
		!math.IsNaN(s.StopLoss) && !math.IsNaN(s.TakeProfit)
}

// Strategy generates one signal per input bar. Implementations must not
// mutate bars.
type Strategy interface {
	Name() string
	GenerateSignals(bars []indicators.Bar) ([]Signal, error)
}

// ByName constructs a strategy with its default parameters, mirroring how
// the CLI selects strategies from configuration.
func ByName(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ema_crossover", "ema-cross", "emacross":
		return NewEMACrossover(EMACrossoverDefaults()), nil
	case "bb_reversion", "bb-reversion":
		return NewBBReversion(BBReversionDefaults()), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (supported: ema_crossover, bb_reversion)", name)
	}
}
