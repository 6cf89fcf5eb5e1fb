package store

import (
	"context"
	"errors"
	"time"

	"ai-trading-engine/internal/execution"
)

// ErrNotFound is returned when a trade id has no record.
var ErrNotFound = errors.New("trade not found")

// TradeStatus tracks whether a trade record is still live.
type TradeStatus string

const (
	StatusOpen   TradeStatus = "OPEN"
	StatusClosed TradeStatus = "CLOSED"
)

// Trade is the persisted record of one trade. Nullable columns use
// pointers: an open trade has no exit fields yet.
type Trade struct {
	ID              string      `json:"id"`
	Symbol          string      `json:"symbol"`
	Direction       string      `json:"direction"`
	SizeUSD         float64     `json:"size_usd"`
	EntryPrice      float64     `json:"entry_price"`
	StopLossPrice   float64     `json:"stop_loss_price"`
	TakeProfitPrice float64     `json:"take_profit_price"`
	ExitPrice       *float64    `json:"exit_price,omitempty"`
	PnL             *float64    `json:"pnl,omitempty"`
	CloseReason     *string     `json:"close_reason,omitempty"`
	Status          TradeStatus `json:"status"`
	OpenedAt        time.Time   `json:"opened_at"`
	ClosedAt        *time.Time  `json:"closed_at,omitempty"`
}

// TradeStore persists trade records. The execution controller is the only
// writer; readers are the API surface and reporting.
type TradeStore interface {
	RecordOpen(ctx context.Context, position execution.Position) error
	RecordClose(ctx context.Context, trade execution.ClosedTrade) error
	Trade(ctx context.Context, id string) (Trade, error)
	OpenTrades(ctx context.Context) ([]Trade, error)
	TradesSince(ctx context.Context, since time.Time) ([]Trade, error)
	Close() error
}

func openTradeFromPosition(p execution.Position) Trade {
	return Trade{
		ID:              p.ID,
		Symbol:          p.Symbol,
		Direction:       p.Direction.String(),
		SizeUSD:         p.SizeUSD,
		EntryPrice:      p.EntryPrice,
		StopLossPrice:   p.StopLossPrice,
		TakeProfitPrice: p.TakeProfitPrice,
		Status:          StatusOpen,
		OpenedAt:        p.OpenedAt,
	}
}
