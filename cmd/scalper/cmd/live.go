package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/scalper/broker"
	oandabroker "github.com/rustyeddy/scalper/broker/oanda"
	"github.com/rustyeddy/scalper/broker/paper"
	"github.com/rustyeddy/scalper/config"
	"github.com/rustyeddy/scalper/engine"
	"github.com/rustyeddy/scalper/feed"
	"github.com/rustyeddy/scalper/feed/demo"
	oandafeed "github.com/rustyeddy/scalper/feed/oanda"
	"github.com/rustyeddy/scalper/internal/id"
	"github.com/rustyeddy/scalper/journal"
	"github.com/rustyeddy/scalper/risk"
	"github.com/rustyeddy/scalper/strategies"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Run the live trading loop from a config file",
	Long: `Run the live trading loop: stream prices, aggregate candles, evaluate the
configured strategy on each candle close, and place risk-gated orders.

Example:
  scalper live -f examples/configs/paper.yaml`,
	RunE: runLive,
}

var liveConfigPath string

func init() {
	rootCmd.AddCommand(liveCmd)

	liveCmd.Flags().StringVarP(&liveConfigPath, "config", "f", "", "path to config file (YAML or JSON) (required)")
	liveCmd.MarkFlagRequired("config")
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(liveConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	strat, err := strategies.ByName(cfg.Strategy.Name)
	if err != nil {
		return err
	}
	f, err := buildFeed(cfg)
	if err != nil {
		return err
	}
	b, err := buildBroker(cfg)
	if err != nil {
		return err
	}
	repo, err := buildJournal(cfg)
	if err != nil {
		return err
	}
	if repo != nil {
		defer repo.Close()
	}

	riskMgr, err := risk.NewManager(b, risk.Config{
		MaxDailyLossPct:       cfg.Risk.MaxDailyLossPct,
		MaxPortfolioRiskPct:   cfg.Risk.MaxPortfolioRiskPct,
		MaxCorrelatedExposure: cfg.Risk.MaxCorrelatedExposure,
		MaxOpenPositions:      cfg.Risk.MaxOpenPositions,
		SizeMethod:            cfg.Risk.SizeMethod,
		KellyFraction:         cfg.Risk.KellyFraction,
		RiskPerTrade:          cfg.Risk.RiskPerTrade,
		CorrelationGroups:     cfg.Risk.CorrelationGroups,
	})
	if err != nil {
		return fmt.Errorf("risk manager: %w", err)
	}

	tickInterval, err := cfg.Engine.TickLogIntervalDuration()
	if err != nil {
		return err
	}
	runID := cfg.Journal.RunID
	if runID == "" {
		runID = id.New()
	}

	eng, err := engine.NewTrading(engine.Config{
		Symbol:          cfg.Engine.Symbol,
		Timeframe:       cfg.Engine.Timeframe,
		HistorySize:     cfg.Engine.HistorySize,
		TickLogInterval: tickInterval,
		RunID:           runID,
		PersistTrades:   repo != nil,
	}, f, b, strat, riskMgr, nil, repo)
	if err != nil {
		return err
	}

	fmt.Printf("Starting %s on %s %s (run %s)\n",
		cfg.Strategy.Name, cfg.Engine.Symbol, cfg.Engine.Timeframe, runID)

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		eng.Wait(0)
		close(done)
	}()

	select {
	case sig := <-sigs:
		fmt.Printf("\nReceived %s, shutting down\n", sig)
	case <-done:
		fmt.Println("Price stream ended")
	}

	if err := eng.Stop(ctx); err != nil {
		return fmt.Errorf("stop engine: %w", err)
	}
	return nil
}

func buildFeed(cfg *config.Config) (feed.Feed, error) {
	switch cfg.Feed.Type {
	case "demo":
		return demo.New(), nil
	case "oanda":
		rest, stream, err := oandafeed.BaseURLs(cfg.Feed.Env)
		if err != nil {
			return nil, err
		}
		return oandafeed.New(oandafeed.Config{
			AccountID: cfg.Feed.AccountID,
			Token:     cfg.Feed.Token,
			RestURL:   rest,
			StreamURL: stream,
		})
	default:
		return nil, fmt.Errorf("unknown feed type %q", cfg.Feed.Type)
	}
}

func buildBroker(cfg *config.Config) (broker.Broker, error) {
	switch cfg.Broker.Type {
	case "paper":
		return paper.New(paper.Config{
			Symbol:       cfg.Engine.Symbol,
			Capital:      cfg.Account.Capital,
			SpreadPips:   cfg.Account.SpreadPips,
			SlippagePips: cfg.Account.SlippagePips,
			RiskPerTrade: cfg.Risk.RiskPerTrade,
			MaxPositions: cfg.Risk.MaxOpenPositions,
		}), nil
	case "oanda":
		rest, _, err := oandafeed.BaseURLs(cfg.Broker.Env)
		if err != nil {
			return nil, err
		}
		return oandabroker.New(oandabroker.Config{
			AccountID: cfg.Broker.AccountID,
			Token:     cfg.Broker.Token,
			RestURL:   rest,
		})
	default:
		return nil, fmt.Errorf("unknown broker type %q", cfg.Broker.Type)
	}
}

func buildJournal(cfg *config.Config) (journal.TradeRepository, error) {
	switch cfg.Journal.Type {
	case "", "none":
		return nil, nil
	case "csv":
		return journal.NewCSV(cfg.Journal.Path)
	case "sqlite":
		return journal.NewSQLite(cfg.Journal.Path)
	default:
		return nil, fmt.Errorf("unknown journal type %q", cfg.Journal.Type)
	}
}
