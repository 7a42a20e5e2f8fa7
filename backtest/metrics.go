package backtest

import (
	"fmt"
	"io"
	"math"
	"time"
)

// Metrics summarizes a backtest run.
type Metrics struct {
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	WinRate        float64
	TotalPnL       float64
	ReturnPct      float64
	ProfitFactor   float64
	SharpeRatio    float64
	MaxDrawdown    float64
	AvgTradePnL    float64
	Expectancy     float64
	AvgDuration    time.Duration
	BestTrade      float64
	WorstTrade     float64
	InitialCapital float64
	FinalCapital   float64
}

// CalculateMetrics derives performance statistics from a backtest result.
func CalculateMetrics(r Result) Metrics {
	m := Metrics{
		InitialCapital: r.InitialCapital,
		FinalCapital:   r.InitialCapital,
	}
	if len(r.Trades) == 0 {
		return m
	}

	var grossProfit, grossLoss, sum float64
	var durations time.Duration
	m.BestTrade = math.Inf(-1)
	m.WorstTrade = math.Inf(1)

	for _, t := range r.Trades {
		sum += t.PnL
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			grossProfit += t.PnL
		case t.PnL < 0:
			m.LosingTrades++
			grossLoss += -t.PnL
		}
		if t.PnL > m.BestTrade {
			m.BestTrade = t.PnL
		}
		if t.PnL < m.WorstTrade {
			m.WorstTrade = t.PnL
		}
		durations += t.ExitTime.Sub(t.EntryTime)
	}

	m.TotalTrades = len(r.Trades)
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	m.TotalPnL = sum
	m.FinalCapital = r.InitialCapital + sum
	if r.InitialCapital > 0 {
		m.ReturnPct = sum / r.InitialCapital * 100
	}

	switch {
	case grossLoss > 0:
		m.ProfitFactor = grossProfit / grossLoss
	case grossProfit > 0:
		m.ProfitFactor = math.Inf(1)
	}

	m.AvgTradePnL = sum / float64(m.TotalTrades)
	m.AvgDuration = durations / time.Duration(m.TotalTrades)

	// Sharpe over per-trade PnL, annualized by trading days.
	if m.TotalTrades > 1 {
		var ss float64
		for _, t := range r.Trades {
			d := t.PnL - m.AvgTradePnL
			ss += d * d
		}
		std := math.Sqrt(ss / float64(m.TotalTrades-1))
		if std > 0 {
			m.SharpeRatio = m.AvgTradePnL / std * math.Sqrt(252)
		}
	}

	// Max drawdown relative to the running equity peak.
	peak := math.Inf(-1)
	for _, eq := range r.EquityCurve {
		if eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (peak - eq) / peak; dd > m.MaxDrawdown {
				m.MaxDrawdown = dd
			}
		}
	}

	avgWin := 0.0
	if m.WinningTrades > 0 {
		avgWin = grossProfit / float64(m.WinningTrades)
	}
	avgLoss := 0.0
	if m.LosingTrades > 0 {
		avgLoss = grossLoss / float64(m.LosingTrades)
	}
	lossRate := float64(m.LosingTrades) / float64(m.TotalTrades)
	m.Expectancy = m.WinRate*avgWin - lossRate*avgLoss

	return m
}

// Print writes a human-readable report.
func (m Metrics) Print(w io.Writer) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:        %d\n", m.TotalTrades)
	fmt.Fprintf(w, "Wins:          %d\n", m.WinningTrades)
	fmt.Fprintf(w, "Losses:        %d\n", m.LosingTrades)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", m.WinRate*100)
	fmt.Fprintf(w, "Best Trade:    %.2f\n", m.BestTrade)
	fmt.Fprintf(w, "Worst Trade:   %.2f\n", m.WorstTrade)
	fmt.Fprintf(w, "Expectancy:    %.2f\n", m.Expectancy)
	if m.AvgDuration > 0 {
		fmt.Fprintf(w, "Avg Duration:  %s\n", m.AvgDuration)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Balance: %.2f\n", m.InitialCapital)
	fmt.Fprintf(w, "End Balance:   %.2f\n", m.FinalCapital)
	fmt.Fprintf(w, "Net P/L:       %.2f\n", m.TotalPnL)
	fmt.Fprintf(w, "Return:        %.2f%%\n", m.ReturnPct)
	if m.ProfitFactor > 0 && !math.IsInf(m.ProfitFactor, 1) {
		fmt.Fprintf(w, "Profit Factor: %.2f\n", m.ProfitFactor)
	}
	fmt.Fprintf(w, "Sharpe Ratio:  %.2f\n", m.SharpeRatio)
	fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", m.MaxDrawdown*100)
}
