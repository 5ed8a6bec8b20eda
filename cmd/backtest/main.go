package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"tradebot/internal/backtest"
	"tradebot/internal/config"
	"tradebot/internal/logging"
	"tradebot/internal/risk"
	"tradebot/internal/stats"
	"tradebot/internal/strategy"
	"tradebot/pkg/cli"

	"github.com/shopspring/decimal"
)

func main() {
	configPath := flag.String("config", "configs/tradebot.yaml", "Path to configuration file")
	dataDir := flag.String("data", "data", "Directory with per-symbol candle CSV files")
	balance := flag.Float64("balance", 100000, "Starting balance")
	feePct := flag.Float64("fee", 0.0004, "Fee as a fraction of notional per fill")
	slippagePct := flag.Float64("slippage", 0.0005, "Market order slippage fraction")
	flag.Parse()

	for _, input := range []string{*configPath, *dataDir} {
		if err := cli.ValidateInput(input); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid argument %q: %v\n", input, err)
			os.Exit(1)
		}
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)

	candles, err := loadCandleDir(*dataDir, tradedSymbols(cfg.Strategies))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load candles: %v\n", err)
		os.Exit(1)
	}

	registry := strategy.NewRegistry()
	if err := registry.Register("sma_cross", strategy.SMACrossSchema, strategy.NewSMACross); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to register strategies: %v\n", err)
		os.Exit(1)
	}

	engine := backtest.NewEngine(backtest.Config{
		Sim: backtest.SimConfig{
			StartingBalance: decimal.NewFromFloat(*balance),
			SlippagePct:     decimal.NewFromFloat(*slippagePct),
			FeePct:          decimal.NewFromFloat(*feePct),
		},
		Executor:   cfg.Executor,
		Limits:     risk.FromConfig(cfg.Risk),
		Strategies: cfg.Strategies,
	}, registry, logger)

	report, err := engine.Run(context.Background(), candles)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Backtest failed: %v\n", err)
		os.Exit(1)
	}

	printReport(report)
}

func tradedSymbols(strategies []config.StrategyConfig) []string {
	seen := make(map[string]bool)
	var symbols []string
	for _, s := range strategies {
		if !s.Enabled {
			continue
		}
		for _, symbol := range s.Symbols {
			if !seen[symbol] {
				seen[symbol] = true
				symbols = append(symbols, symbol)
			}
		}
	}
	return symbols
}

func printReport(r *stats.Report) {
	fmt.Printf("Backtest %s to %s\n\n", r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
	fmt.Printf("  Start equity:      %s\n", r.StartEquity.StringFixed(2))
	fmt.Printf("  End equity:        %s\n", r.EndEquity.StringFixed(2))
	fmt.Printf("  Total PnL:         %s\n", r.TotalPnL.StringFixed(2))
	fmt.Printf("  Total return:      %.2f%%\n", r.TotalReturnPct)
	fmt.Printf("  Annualized return: %.2f%%\n", r.AnnualizedReturnPct)
	fmt.Printf("  Max drawdown:      %.2f%%\n", r.MaxDrawdownPct)
	fmt.Println()
	fmt.Printf("  Trades:            %d (%d wins, %d losses)\n", r.TradeCount, r.Wins, r.Losses)
	fmt.Printf("  Win rate:          %.1f%%\n", r.WinRate*100)
	fmt.Printf("  Profit factor:     %.2f\n", r.ProfitFactor)
	fmt.Printf("  Sharpe:            %.2f\n", r.Sharpe)
	fmt.Printf("  Sortino:           %.2f\n", r.Sortino)
}
