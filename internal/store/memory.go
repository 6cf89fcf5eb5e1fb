package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ai-trading-engine/internal/execution"
)

// MemoryStore keeps trade records in memory. It backs paper runs, backtests
// and tests; nothing survives a restart.
type MemoryStore struct {
	mu     sync.RWMutex
	trades map[string]Trade
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trades: make(map[string]Trade)}
}

// RecordOpen stores a new open trade.
func (s *MemoryStore) RecordOpen(_ context.Context, position execution.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trades[position.ID]; exists {
		return fmt.Errorf("trade %s already recorded", position.ID)
	}
	s.trades[position.ID] = openTradeFromPosition(position)
	return nil
}

// RecordClose finalizes an open trade.
func (s *MemoryStore) RecordClose(_ context.Context, closed execution.ClosedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	trade, ok := s.trades[closed.Position.ID]
	if !ok {
		return fmt.Errorf("closing unknown trade %s: %w", closed.Position.ID, ErrNotFound)
	}

	exitPrice := closed.ExitPrice
	pnl := closed.PnL
	reason := string(closed.Reason)
	closedAt := closed.ClosedAt

	trade.ExitPrice = &exitPrice
	trade.PnL = &pnl
	trade.CloseReason = &reason
	trade.ClosedAt = &closedAt
	trade.Status = StatusClosed

	s.trades[closed.Position.ID] = trade
	return nil
}

// Trade returns one record by id.
func (s *MemoryStore) Trade(_ context.Context, id string) (Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trade, ok := s.trades[id]
	if !ok {
		return Trade{}, ErrNotFound
	}
	return trade, nil
}

// OpenTrades lists records still open, oldest first.
func (s *MemoryStore) OpenTrades(_ context.Context) ([]Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Trade
	for _, t := range s.trades {
		if t.Status == StatusOpen {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// TradesSince lists records opened at or after the cutoff, oldest first.
func (s *MemoryStore) TradesSince(_ context.Context, since time.Time) ([]Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Trade
	for _, t := range s.trades {
		if !t.OpenedAt.Before(since) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
