package strategies

import (
	"github.com/rustyeddy/scalper/indicators"
	"github.com/rustyeddy/scalper/market"
)

// BBReversionConfig parameterizes the mean-reversion scalper.
type BBReversionConfig struct {
	RSIOversold   float64 // 30
	RSIOverbought float64 // 70
	ATRStopMult   float64 // 1.5
}

func BBReversionDefaults() BBReversionConfig {
	return BBReversionConfig{
		RSIOversold:   30,
		RSIOverbought: 70,
		ATRStopMult:   1.5,
	}
}

// BBReversion fades Bollinger band touches filtered by RSI.
//
//	BUY:  close below lower band and RSI < oversold
//	SELL: close above upper band and RSI > overbought
//
// SL is an ATR multiple beyond the entry; TP is the middle band, the
// mean-reversion target.
type BBReversion struct {
	cfg BBReversionConfig
}

func NewBBReversion(cfg BBReversionConfig) *BBReversion {
	return &BBReversion{cfg: cfg}
}

func (s *BBReversion) Name() string { return "bb_reversion" }

func (s *BBReversion) GenerateSignals(bars []indicators.Bar) ([]Signal, error) {
	signals := make([]Signal, len(bars))
	for i, b := range bars {
		signals[i] = NoSignal()

		switch {
		case b.Close < b.BBLower && b.RSI < s.cfg.RSIOversold:
			signals[i] = Signal{
				Side:       market.Buy,
				StopLoss:   b.Close - b.ATR*s.cfg.ATRStopMult,
				TakeProfit: b.BBMiddle,
			}
		case b.Close > b.BBUpper && b.RSI > s.cfg.RSIOverbought:
			signals[i] = Signal{
				Side:       market.Sell,
				StopLoss:   b.Close + b.ATR*s.cfg.ATRStopMult,
				TakeProfit: b.BBMiddle,
			}
		}
	}
	return signals, nil
}
