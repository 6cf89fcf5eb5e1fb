package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"ai-trading-engine/internal/execution"
	"ai-trading-engine/internal/strategy"
)

func testPosition(id, symbol string, openedAt time.Time) execution.Position {
	return execution.Position{
		ID:              id,
		Symbol:          symbol,
		Direction:       strategy.DirectionLong,
		SizeUSD:         100,
		EntryPrice:      100,
		StopLossPrice:   98,
		TakeProfitPrice: 103,
		OpenedAt:        openedAt,
	}
}

func TestMemoryStoreOpenClose(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	openedAt := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	if err := s.RecordOpen(ctx, testPosition("t1", "BTCUSDT", openedAt)); err != nil {
		t.Fatalf("RecordOpen: %v", err)
	}

	trade, err := s.Trade(ctx, "t1")
	if err != nil {
		t.Fatalf("Trade: %v", err)
	}
	if trade.Status != StatusOpen {
		t.Fatalf("expected OPEN, got %s", trade.Status)
	}
	if trade.ExitPrice != nil || trade.PnL != nil || trade.ClosedAt != nil {
		t.Fatal("open trade should have nil exit fields")
	}
	if trade.Direction != "LONG" {
		t.Fatalf("expected direction LONG, got %s", trade.Direction)
	}

	closedAt := openedAt.Add(45 * time.Minute)
	closed := execution.ClosedTrade{
		Position:  testPosition("t1", "BTCUSDT", openedAt),
		ExitPrice: 103,
		PnL:       3,
		Reason:    execution.CloseReasonTakeProfit,
		ClosedAt:  closedAt,
	}
	if err := s.RecordClose(ctx, closed); err != nil {
		t.Fatalf("RecordClose: %v", err)
	}

	trade, err = s.Trade(ctx, "t1")
	if err != nil {
		t.Fatalf("Trade after close: %v", err)
	}
	if trade.Status != StatusClosed {
		t.Fatalf("expected CLOSED, got %s", trade.Status)
	}
	if trade.ExitPrice == nil || *trade.ExitPrice != 103 {
		t.Fatalf("unexpected exit price: %v", trade.ExitPrice)
	}
	if trade.PnL == nil || *trade.PnL != 3 {
		t.Fatalf("unexpected pnl: %v", trade.PnL)
	}
	if trade.CloseReason == nil || *trade.CloseReason != "take_profit" {
		t.Fatalf("unexpected close reason: %v", trade.CloseReason)
	}
	if trade.ClosedAt == nil || !trade.ClosedAt.Equal(closedAt) {
		t.Fatalf("unexpected closed at: %v", trade.ClosedAt)
	}
}

func TestMemoryStoreRejectsDuplicateOpen(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	p := testPosition("t1", "BTCUSDT", time.Now())

	if err := s.RecordOpen(ctx, p); err != nil {
		t.Fatalf("first RecordOpen: %v", err)
	}
	if err := s.RecordOpen(ctx, p); err == nil {
		t.Fatal("expected duplicate open to fail")
	}
}

func TestMemoryStoreCloseUnknownTrade(t *testing.T) {
	s := NewMemoryStore()
	closed := execution.ClosedTrade{Position: testPosition("missing", "BTCUSDT", time.Now())}

	err := s.RecordClose(context.Background(), closed)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreTradeNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Trade(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreListings(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	offsets := map[string]time.Duration{"a": 0, "b": time.Hour, "c": 2 * time.Hour}
	for _, id := range []string{"c", "a", "b"} {
		if err := s.RecordOpen(ctx, testPosition(id, "ETHUSDT", base.Add(offsets[id]))); err != nil {
			t.Fatalf("RecordOpen %s: %v", id, err)
		}
	}

	closed := execution.ClosedTrade{
		Position:  testPosition("a", "ETHUSDT", base),
		ExitPrice: 98,
		PnL:       -2,
		Reason:    execution.CloseReasonStopLoss,
		ClosedAt:  base.Add(30 * time.Minute),
	}
	if err := s.RecordClose(ctx, closed); err != nil {
		t.Fatalf("RecordClose: %v", err)
	}

	open, err := s.OpenTrades(ctx)
	if err != nil {
		t.Fatalf("OpenTrades: %v", err)
	}
	if len(open) != 2 || open[0].ID != "b" || open[1].ID != "c" {
		t.Fatalf("unexpected open trades: %+v", open)
	}

	since, err := s.TradesSince(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("TradesSince: %v", err)
	}
	if len(since) != 2 || since[0].ID != "b" || since[1].ID != "c" {
		t.Fatalf("unexpected trades since cutoff: %+v", since)
	}

	all, err := s.TradesSince(ctx, base)
	if err != nil {
		t.Fatalf("TradesSince all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "a" {
		t.Fatalf("unexpected full listing: %+v", all)
	}
}
