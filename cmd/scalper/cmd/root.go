package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "scalper",
	Short: "An automated spot-FX trading bot",
	Long: `Scalper is an automated spot-FX trading bot written in Go.

It provides tools for:
  - Live trading against OANDA or a built-in paper broker
  - Backtesting strategies over historical or synthetic candles
  - Risk management with daily-loss circuit breaker and Kelly sizing
  - Trade journaling to SQLite or CSV

Complete documentation is available at https://github.com/rustyeddy/scalper`,
}

var verbose bool

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	cobra.OnInitialize(func() {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	})
}
