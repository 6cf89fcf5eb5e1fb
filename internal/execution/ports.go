package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"ai-trading-engine/internal/risk"
	"ai-trading-engine/internal/strategy"
)

var (
	// ErrFillFailed marks an entry order that was not filled.
	ErrFillFailed = errors.New("entry order not filled")

	// ErrCloseFailed marks a close order that was not filled; the position
	// stays open and the exit is retried on the next cycle.
	ErrCloseFailed = errors.New("close order not filled")
)

// Fill reports the execution of one order. The controller stamps open and
// close times from its own clock so replayed history carries bar time.
type Fill struct {
	Price float64
}

// Port routes orders to a venue. The live implementation wraps an exchange
// client; PaperPort fills instantly against the requested prices.
type Port interface {
	PlaceOrder(ctx context.Context, intent risk.OrderIntent) (Fill, error)
	ClosePosition(ctx context.Context, position Position, price float64) (Fill, error)
}

// PaperPort simulates fills and tracks a virtual balance. Orders fill
// immediately at their requested price with no slippage.
type PaperPort struct {
	mu      sync.Mutex
	balance float64
}

// NewPaperPort creates a paper venue with a starting balance.
func NewPaperPort(startingBalance float64) *PaperPort {
	return &PaperPort{balance: startingBalance}
}

// PlaceOrder fills the entry instantly at the intent's entry price.
func (p *PaperPort) PlaceOrder(ctx context.Context, intent risk.OrderIntent) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, fmt.Errorf("%w: %v", ErrFillFailed, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if intent.SizeUSD > p.balance {
		return Fill{}, fmt.Errorf("%w: size %.2f exceeds paper balance %.2f", ErrFillFailed, intent.SizeUSD, p.balance)
	}

	return Fill{Price: intent.EntryPrice}, nil
}

// ClosePosition fills the close instantly at the given price and applies
// the realized PnL to the paper balance.
func (p *PaperPort) ClosePosition(ctx context.Context, position Position, price float64) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, fmt.Errorf("%w: %v", ErrCloseFailed, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.balance += PnL(position.Direction, position.EntryPrice, price, position.SizeUSD)
	return Fill{Price: price}, nil
}

// Balance returns the current paper balance.
func (p *PaperPort) Balance() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balance
}

// PnL computes the realized profit for a position of sizeUSD notional
// opened at entry and closed at exit.
func PnL(direction strategy.Direction, entry, exit, sizeUSD float64) float64 {
	if entry == 0 {
		return 0
	}
	change := (exit - entry) / entry
	if direction == strategy.DirectionShort {
		change = -change
	}
	return change * sizeUSD
}
