package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/scalper/backtest"
	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/indicators"
	"github.com/rustyeddy/scalper/internal/id"
	"github.com/rustyeddy/scalper/journal"
	"github.com/rustyeddy/scalper/market"
	"github.com/rustyeddy/scalper/strategies"
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Backtest a strategy over historical candles",
	Long: `Backtest the configured strategy over a candle range fetched from the
configured feed, applying spread and slippage on entry, and print the
performance report.

Example:
  scalper backtest -f examples/configs/backtest.yaml`,
	RunE: runBacktest,
}

var backtestConfigPath string

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&backtestConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	backtestCmd.MarkFlagRequired("config")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(backtestConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	start, end, err := backtestRange(cfg.Backtest)
	if err != nil {
		return err
	}

	strat, err := strategies.ByName(cfg.Strategy.Name)
	if err != nil {
		return err
	}
	f, err := buildFeed(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	candles, err := f.Historical(ctx, cfg.Backtest.Symbol, cfg.Backtest.Timeframe, start, end)
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}
	if len(candles) == 0 {
		return fmt.Errorf("no candles for %s %s between %s and %s",
			cfg.Backtest.Symbol, cfg.Backtest.Timeframe, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	fmt.Printf("Backtesting %s on %s %s: %d candles\n",
		cfg.Strategy.Name, cfg.Backtest.Symbol, cfg.Backtest.Timeframe, len(candles))

	bars := indicators.DropUndefined(indicators.AddAll(candles))
	if len(bars) == 0 {
		return fmt.Errorf("not enough candles to compute indicators")
	}
	signals, err := strat.GenerateSignals(bars)
	if err != nil {
		return fmt.Errorf("generate signals: %w", err)
	}

	rows, err := backtest.Attach(barsToCandles(bars), signals)
	if err != nil {
		return err
	}

	eng := backtest.NewEngine(backtest.Config{
		Capital:       cfg.Backtest.InitialCapital,
		SpreadPips:    cfg.Backtest.SpreadPips,
		SlippagePips:  cfg.Backtest.SlippagePips,
		RiskPerTrade:  cfg.Backtest.RiskPerTrade,
		MaxPositions:  cfg.Backtest.MaxPositions,
		UseRiskSizing: true,
	}, cfg.Backtest.Symbol, cfg.Backtest.Timeframe, strat.Name())

	result, err := eng.Run(rows)
	if err != nil {
		return fmt.Errorf("run backtest: %w", err)
	}

	backtest.CalculateMetrics(result).Print(os.Stdout)

	repo, err := buildJournal(cfg)
	if err != nil {
		return err
	}
	if repo != nil {
		defer repo.Close()

		runID := cfg.Journal.RunID
		if runID == "" {
			runID = id.New()
		}
		if err := journalRun(repo, runID, rows, result); err != nil {
			return fmt.Errorf("journal run: %w", err)
		}
		fmt.Printf("Journaled %d trades under run %s\n", len(result.Trades), runID)
	}
	return nil
}

// journalRun persists a backtest's trades, and its equity curve when the
// repository supports one. Balance tracks realized PnL; equity is the
// engine's per-bar mark-to-market.
func journalRun(repo journal.TradeRepository, runID string, rows []backtest.Row, result backtest.Result) error {
	for _, trade := range result.Trades {
		if err := repo.InsertTrade(trade, runID); err != nil {
			return err
		}
	}

	er, ok := repo.(journal.EquityRepository)
	if !ok {
		return nil
	}

	balance := result.InitialCapital
	next := 0
	for i, equity := range result.EquityCurve {
		for next < len(result.Trades) && !result.Trades[next].ExitTime.After(rows[i].Time) {
			balance += result.Trades[next].PnL
			next++
		}
		err := er.RecordEquity(runID, journal.EquitySnapshot{
			Time:    rows[i].Time,
			Balance: balance,
			Equity:  equity,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func barsToCandles(bars []indicators.Bar) []market.Candle {
	out := make([]market.Candle, len(bars))
	for i, b := range bars {
		out[i] = b.Candle
	}
	return out
}

func backtestRange(bc config.BacktestConfig) (start, end time.Time, err error) {
	end = time.Now().UTC()
	start = end.AddDate(0, -3, 0)

	if bc.Start != "" {
		start, err = time.Parse("2006-01-02", bc.Start)
		if err != nil {
			return start, end, fmt.Errorf("backtest.start: %w", err)
		}
	}
	if bc.End != "" {
		end, err = time.Parse("2006-01-02", bc.End)
		if err != nil {
			return start, end, fmt.Errorf("backtest.end: %w", err)
		}
	}
	if !start.Before(end) {
		return start, end, fmt.Errorf("backtest.start must be before backtest.end")
	}
	return start, end, nil
}
