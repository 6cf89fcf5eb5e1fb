package backtest

import (
	"context"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ai-trading-engine/internal/execution"
	"ai-trading-engine/internal/market"
	"ai-trading-engine/internal/strategy"
)

func testConfig() *Config {
	return &Config{
		Symbol:            "BTCUSDT",
		Timeframe:         market.Timeframe1h,
		InitialBalanceUSD: 10000,
	}
}

func historyBars(t *testing.T, seed int64, n int) []market.Bar {
	t.Helper()
	feed := market.NewSimulatedFeed(seed)
	bars, err := feed.Klines(context.Background(), "BTCUSDT", market.Timeframe1h, n)
	if err != nil {
		t.Fatalf("generating bars: %v", err)
	}
	return bars
}

// trendBars builds a steady uptrend of one-minute bars: closes alternate
// +2/-1 from 100, so RSI stays under 70 while ADX reads a strong trend.
// Every bar opens at the previous close with no gaps or wicks.
func trendBars(n int) []market.Bar {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, 0, n)
	prev := 99.0
	cur := 100.0
	for i := 0; i < n; i++ {
		bars = append(bars, market.Bar{
			Symbol:    "BTCUSDT",
			Timeframe: market.Timeframe1m,
			OpenTime:  t0.Add(time.Duration(i) * time.Minute),
			Open:      prev,
			High:      math.Max(prev, cur),
			Low:       math.Min(prev, cur),
			Close:     cur,
			Volume:    1000,
		})
		prev = cur
		if i%2 == 0 {
			cur += 2
		} else {
			cur--
		}
	}
	return bars
}

func trendConfig() *Config {
	cfg := testConfig()
	cfg.Timeframe = market.Timeframe1m
	cfg.ApproveThreshold = 60
	return cfg
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing symbol", func(c *Config) { c.Symbol = "" }, true},
		{"zero balance", func(c *Config) { c.InitialBalanceUSD = 0 }, true},
		{"negative balance", func(c *Config) { c.InitialBalanceUSD = -50 }, true},
		{"threshold too high", func(c *Config) { c.ApproveThreshold = 101 }, true},
		{"threshold negative", func(c *Config) { c.ApproveThreshold = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRunRejectsShortHistory(t *testing.T) {
	sim := NewSimulator(testConfig(), zerolog.Nop())
	bars := historyBars(t, 1, 10)

	if _, err := sim.Run(context.Background(), bars); err == nil {
		t.Fatal("expected insufficient history error")
	}
}

func TestRunGoldenStopLoss(t *testing.T) {
	// 33 trending bars, then one plunge bar that breaks the stop.
	bars := trendBars(33)
	last := bars[len(bars)-1]
	bars = append(bars, market.Bar{
		Symbol:    "BTCUSDT",
		Timeframe: market.Timeframe1m,
		OpenTime:  last.OpenTime.Add(time.Minute),
		Open:      last.Close,
		High:      last.Close,
		Low:       last.Close - 8,
		Close:     last.Close - 8,
		Volume:    1000,
	})

	report, err := NewSimulator(trendConfig(), zerolog.Nop()).Run(context.Background(), bars)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(report.Trades) != 1 {
		t.Fatalf("expected exactly 1 trade, got %d", len(report.Trades))
	}
	trade := report.Trades[0]
	if trade.Position.Direction != strategy.DirectionLong {
		t.Errorf("direction = %s, want LONG", trade.Position.Direction)
	}
	if trade.Reason != execution.CloseReasonStopLoss {
		t.Errorf("reason = %s, want stop loss", trade.Reason)
	}
	// Entry at the first post-warmup close; stop at the 2 percent line.
	if trade.Position.EntryPrice != 116 {
		t.Errorf("entry = %.4f, want 116", trade.Position.EntryPrice)
	}
	if math.Abs(trade.ExitPrice-113.68) > 1e-9 {
		t.Errorf("exit = %.6f, want 113.68", trade.ExitPrice)
	}
	if trade.Position.SizeUSD != 100 {
		t.Errorf("size = %.2f, want 100", trade.Position.SizeUSD)
	}
	if math.Abs(trade.PnL-(-2)) > 1e-9 {
		t.Errorf("pnl = %.6f, want -2", trade.PnL)
	}
	if math.Abs(report.FinalBalance-9998) > 1e-9 {
		t.Errorf("final balance = %.6f, want 9998", report.FinalBalance)
	}
	if report.Metrics.TotalTrades != 1 || report.Metrics.LosingTrades != 1 {
		t.Errorf("unexpected metrics: %+v", report.Metrics)
	}

	// Trade times come from replay time: entry on the first tradable bar,
	// exit when the plunge bar closes.
	wantOpen := bars[29].OpenTime.Add(time.Minute)
	wantClose := bars[33].OpenTime.Add(time.Minute)
	if !trade.Position.OpenedAt.Equal(wantOpen) {
		t.Errorf("OpenedAt = %s, want %s", trade.Position.OpenedAt, wantOpen)
	}
	if !trade.ClosedAt.Equal(wantClose) {
		t.Errorf("ClosedAt = %s, want %s", trade.ClosedAt, wantClose)
	}
}

func TestRunGoldenTrendFollowing(t *testing.T) {
	report, err := NewSimulator(trendConfig(), zerolog.Nop()).Run(context.Background(), trendBars(120))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// The uptrend keeps producing entries; the daily limit caps them at 3,
	// each riding to its 3 percent target.
	if len(report.Trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(report.Trades))
	}
	for i, trade := range report.Trades {
		if trade.Reason != execution.CloseReasonTakeProfit {
			t.Errorf("trade %d reason = %s, want take profit", i, trade.Reason)
		}
		if math.Abs(trade.PnL-3) > 1e-9 {
			t.Errorf("trade %d pnl = %.6f, want 3", i, trade.PnL)
		}
	}
	if math.Abs(report.FinalBalance-10009) > 1e-9 {
		t.Errorf("final balance = %.6f, want 10009", report.FinalBalance)
	}
	if report.Metrics.WinRate != 100 {
		t.Errorf("win rate = %.2f, want 100", report.Metrics.WinRate)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	bars := trendBars(200)

	first, err := NewSimulator(trendConfig(), zerolog.Nop()).Run(context.Background(), bars)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := NewSimulator(trendConfig(), zerolog.Nop()).Run(context.Background(), bars)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if len(first.Trades) == 0 {
		t.Fatal("fixture should produce trades")
	}
	if first.FinalBalance != second.FinalBalance {
		t.Fatalf("final balance differs: %.8f vs %.8f", first.FinalBalance, second.FinalBalance)
	}
	if first.Metrics != second.Metrics {
		t.Fatalf("metrics differ:\n%+v\n%+v", first.Metrics, second.Metrics)
	}
	if len(first.Trades) != len(second.Trades) {
		t.Fatalf("trade counts differ: %d vs %d", len(first.Trades), len(second.Trades))
	}
	for i := range first.Trades {
		a, b := first.Trades[i], second.Trades[i]
		a.Position.ID, b.Position.ID = "", ""
		if !reflect.DeepEqual(a, b) {
			t.Fatalf("trade %d differs:\n%+v\n%+v", i, a, b)
		}
	}
}

func TestRunIgnoresInputOrder(t *testing.T) {
	bars := trendBars(120)

	shuffled := make([]market.Bar, len(bars))
	for i, b := range bars {
		shuffled[len(bars)-1-i] = b
	}

	ordered, err := NewSimulator(trendConfig(), zerolog.Nop()).Run(context.Background(), bars)
	if err != nil {
		t.Fatalf("ordered run: %v", err)
	}
	if len(ordered.Trades) == 0 {
		t.Fatal("fixture should produce trades")
	}
	reversed, err := NewSimulator(trendConfig(), zerolog.Nop()).Run(context.Background(), shuffled)
	if err != nil {
		t.Fatalf("reversed run: %v", err)
	}

	if ordered.FinalBalance != reversed.FinalBalance {
		t.Fatalf("input order changed outcome: %.8f vs %.8f", ordered.FinalBalance, reversed.FinalBalance)
	}
	if ordered.Metrics != reversed.Metrics {
		t.Fatalf("input order changed metrics:\n%+v\n%+v", ordered.Metrics, reversed.Metrics)
	}
}

func TestRunBalanceMatchesTrades(t *testing.T) {
	report, err := NewSimulator(trendConfig(), zerolog.Nop()).Run(context.Background(), trendBars(200))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Trades) == 0 {
		t.Fatal("fixture should produce trades")
	}

	total := 0.0
	for _, trade := range report.Trades {
		total += trade.PnL
	}
	if diff := math.Abs(report.FinalBalance - (report.InitialBalance + total)); diff > 1e-6 {
		t.Fatalf("final balance %.8f does not match initial + pnl %.8f", report.FinalBalance, report.InitialBalance+total)
	}
	if report.Metrics.NetProfit != total {
		t.Fatalf("net profit %.8f does not match trade pnl sum %.8f", report.Metrics.NetProfit, total)
	}
	if report.BarsProcessed == 0 {
		t.Fatal("expected bars to be processed")
	}
}

func TestRunHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSimulator(testConfig(), zerolog.Nop()).Run(ctx, historyBars(t, 3, 200))
	if err == nil {
		t.Fatal("expected context error")
	}
}

func closedTrade(sizeUSD, pnl float64) execution.ClosedTrade {
	return execution.ClosedTrade{
		Position: execution.Position{
			Symbol:    "BTCUSDT",
			Direction: strategy.DirectionLong,
			SizeUSD:   sizeUSD,
		},
		PnL:      pnl,
		ClosedAt: time.Now(),
	}
}

func TestComputeMetrics(t *testing.T) {
	trades := []execution.ClosedTrade{
		closedTrade(100, 6),
		closedTrade(100, -2),
		closedTrade(100, 3),
		closedTrade(100, -1),
	}
	equity := []EquityPoint{
		{Balance: 1000},
		{Balance: 1006},
		{Balance: 1004},
		{Balance: 1007},
		{Balance: 1006},
	}

	m := computeMetrics(trades, 1000, equity)

	if m.TotalTrades != 4 || m.WinningTrades != 2 || m.LosingTrades != 2 {
		t.Fatalf("unexpected counts: %+v", m)
	}
	if m.WinRate != 50 {
		t.Fatalf("expected win rate 50, got %.2f", m.WinRate)
	}
	if m.GrossProfit != 9 || m.GrossLoss != 3 {
		t.Fatalf("unexpected gross figures: profit %.2f loss %.2f", m.GrossProfit, m.GrossLoss)
	}
	if m.ProfitFactor != 3 {
		t.Fatalf("expected profit factor 3, got %.4f", m.ProfitFactor)
	}
	if m.NetProfit != 6 {
		t.Fatalf("expected net profit 6, got %.2f", m.NetProfit)
	}
	if m.ROI != 0.6 {
		t.Fatalf("expected ROI 0.6, got %.4f", m.ROI)
	}
	if m.AverageWin != 4.5 || m.AverageLoss != 1.5 {
		t.Fatalf("unexpected averages: win %.2f loss %.2f", m.AverageWin, m.AverageLoss)
	}

	// Peak 1006, trough 1004.
	wantDD := (1006.0 - 1004.0) / 1006.0 * 100
	if math.Abs(m.MaxDrawdownPercent-wantDD) > 1e-9 {
		t.Fatalf("expected drawdown %.6f, got %.6f", wantDD, m.MaxDrawdownPercent)
	}

	// Returns 6, -2, 3, -1 percent: mean 1.5, stddev sqrt(9.25).
	wantSharpe := 1.5 / math.Sqrt(9.25)
	if math.Abs(m.SharpeRatio-wantSharpe) > 1e-9 {
		t.Fatalf("expected sharpe %.6f, got %.6f", wantSharpe, m.SharpeRatio)
	}
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := computeMetrics(nil, 1000, nil)
	if m.TotalTrades != 0 || m.WinRate != 0 || m.ProfitFactor != 0 || m.SharpeRatio != 0 {
		t.Fatalf("expected zero metrics, got %+v", m)
	}
}

func TestMaxDrawdownMonotoneRise(t *testing.T) {
	equity := []EquityPoint{{Balance: 100}, {Balance: 110}, {Balance: 125}}
	if dd := maxDrawdown(equity); dd != 0 {
		t.Fatalf("expected zero drawdown, got %.4f", dd)
	}
}
