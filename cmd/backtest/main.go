package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"ai-trading-engine/internal/backtest"
	"ai-trading-engine/internal/logging"
	"ai-trading-engine/internal/market"
)

func main() {
	godotenv.Load()
	godotenv.Load(".env")

	var (
		symbol    = flag.String("symbol", "BTCUSDT", "symbol to backtest")
		timeframe = flag.String("timeframe", "1h", "bar interval (1m, 5m, 15m, 1h, 4h, 1d)")
		bars      = flag.Int("bars", 1000, "number of historical bars to replay")
		balance   = flag.Float64("balance", 10000, "starting balance in USD")
		seed      = flag.Int64("seed", 0, "use simulated data with this seed instead of the exchange")
		logLevel  = flag.String("log-level", "warn", "log level during the run")
	)
	flag.Parse()

	logger := logging.New(logging.Config{Level: *logLevel, Pretty: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var feed market.Feed
	if *seed != 0 {
		feed = market.NewSimulatedFeed(*seed)
		fmt.Printf("Using simulated data (seed %d)\n", *seed)
	} else {
		feed = market.NewWSFeed(nil, logger)
	}

	history, err := feed.Klines(ctx, strings.ToUpper(*symbol), market.Timeframe(*timeframe), *bars)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetching history: %v\n", err)
		os.Exit(1)
	}

	sim := backtest.NewSimulator(&backtest.Config{
		Symbol:            strings.ToUpper(*symbol),
		Timeframe:         market.Timeframe(*timeframe),
		InitialBalanceUSD: *balance,
	}, logger)

	report, err := sim.Run(ctx, history)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backtest failed: %v\n", err)
		os.Exit(1)
	}

	printReport(report)
}

func printReport(r *backtest.Report) {
	line := strings.Repeat("=", 60)
	m := r.Metrics

	fmt.Println(line)
	fmt.Printf("BACKTEST RESULTS: %s %s\n", r.Symbol, r.Timeframe)
	fmt.Println(line)
	fmt.Printf("Period:         %s to %s\n", r.StartTime.Format("2006-01-02 15:04"), r.EndTime.Format("2006-01-02 15:04"))
	fmt.Printf("Bars processed: %d\n", r.BarsProcessed)
	fmt.Println()
	fmt.Printf("Initial balance:  $%.2f\n", r.InitialBalance)
	fmt.Printf("Final balance:    $%.2f\n", r.FinalBalance)
	fmt.Printf("Net profit:       $%.2f (%.2f%%)\n", m.NetProfit, m.ROI)
	fmt.Println()
	fmt.Printf("Total trades:     %d\n", m.TotalTrades)
	fmt.Printf("Winners/Losers:   %d / %d (win rate %.1f%%)\n", m.WinningTrades, m.LosingTrades, m.WinRate)
	fmt.Printf("Average win:      $%.2f\n", m.AverageWin)
	fmt.Printf("Average loss:     $%.2f\n", m.AverageLoss)
	fmt.Printf("Profit factor:    %.2f\n", m.ProfitFactor)
	fmt.Printf("Max drawdown:     %.2f%%\n", m.MaxDrawdownPercent)
	fmt.Printf("Sharpe ratio:     %.2f\n", m.SharpeRatio)
	fmt.Println(line)

	if len(r.Trades) == 0 {
		fmt.Println("No trades taken.")
		return
	}

	fmt.Println("Trades:")
	for i, trade := range r.Trades {
		fmt.Printf("%3d. %-8s %-5s entry %.2f exit %.2f pnl %+.2f (%s)\n",
			i+1,
			trade.Position.Symbol,
			trade.Position.Direction.String(),
			trade.Position.EntryPrice,
			trade.ExitPrice,
			trade.PnL,
			trade.Reason,
		)
	}
}
