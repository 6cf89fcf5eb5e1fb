package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-trading-engine/internal/events"
	"ai-trading-engine/internal/risk"
	"ai-trading-engine/internal/strategy"
)

var (
	// ErrSymbolBusy means the symbol already has a cycle in flight.
	ErrSymbolBusy = errors.New("symbol already in an active cycle")

	// ErrDailyLimitReached means today's trade budget is spent.
	ErrDailyLimitReached = errors.New("daily trade limit reached")

	// ErrCooldownActive means the symbol entered a trade too recently.
	ErrCooldownActive = errors.New("signal cooldown active")
)

// Position is an open trade tracked by the controller.
type Position struct {
	ID              string             `json:"id"`
	Symbol          string             `json:"symbol"`
	Direction       strategy.Direction `json:"direction"`
	SizeUSD         float64            `json:"size_usd"`
	EntryPrice      float64            `json:"entry_price"`
	StopLossPrice   float64            `json:"stop_loss_price"`
	TakeProfitPrice float64            `json:"take_profit_price"`
	OpenedAt        time.Time          `json:"opened_at"`
}

// CloseReason records why a position was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "stop_loss"
	CloseReasonTakeProfit CloseReason = "take_profit"
	CloseReasonReversal   CloseReason = "signal_reversal"
	CloseReasonManual     CloseReason = "manual"
)

// ClosedTrade is the result of a completed cycle.
type ClosedTrade struct {
	Position  Position    `json:"position"`
	ExitPrice float64     `json:"exit_price"`
	PnL       float64     `json:"pnl"`
	Reason    CloseReason `json:"reason"`
	ClosedAt  time.Time   `json:"closed_at"`
}

// Recorder persists trade lifecycle changes. The controller is the only
// writer; a nil recorder disables persistence.
type Recorder interface {
	RecordOpen(ctx context.Context, position Position) error
	RecordClose(ctx context.Context, trade ClosedTrade) error
}

// ControllerConfig bounds trading activity.
type ControllerConfig struct {
	MaxTradesPerDay  int           `json:"max_trades_per_day"`
	SignalCooldown   time.Duration `json:"signal_cooldown"`
	ReversalStrength float64       `json:"reversal_strength"` // opposite-signal strength that forces a close
	OrderTimeout     time.Duration `json:"order_timeout"`
}

// DefaultControllerConfig returns the standard limits.
func DefaultControllerConfig() *ControllerConfig {
	return &ControllerConfig{
		MaxTradesPerDay:  3,
		SignalCooldown:   15 * time.Minute,
		ReversalStrength: 0.7,
		OrderTimeout:     10 * time.Second,
	}
}

// Controller owns the per-symbol trade lifecycle. Each symbol holds exactly
// one state; the daily counter moves only when an entry is committed, so a
// later fill failure still costs the attempt.
type Controller struct {
	mu sync.Mutex

	config   *ControllerConfig
	port     Port
	recorder Recorder
	bus      *events.Bus
	logger   zerolog.Logger

	states      map[string]State
	positions   map[string]Position
	lastEntry   map[string]time.Time
	tradesToday int
	windowStart time.Time

	now func() time.Time // test hook
}

// NewController creates a controller. A nil config uses defaults; recorder
// and bus may be nil.
func NewController(config *ControllerConfig, port Port, recorder Recorder, bus *events.Bus, logger zerolog.Logger) *Controller {
	if config == nil {
		config = DefaultControllerConfig()
	}
	c := &Controller{
		config:    config,
		port:      port,
		recorder:  recorder,
		bus:       bus,
		logger:    logger.With().Str("component", "execution").Logger(),
		states:    make(map[string]State),
		positions: make(map[string]Position),
		lastEntry: make(map[string]time.Time),
		now:       time.Now,
	}
	c.windowStart = dayStart(c.now())
	return c
}

// SetClock replaces the time source. The backtester drives bar time
// through here so cooldowns and daily limits follow replay time.
func (c *Controller) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	c.windowStart = dayStart(now())
}

// State returns the lifecycle state for a symbol.
func (c *Controller) State(symbol string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[symbol]
}

// TradesToday returns entries committed in the current UTC day.
func (c *Controller) TradesToday() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollover()
	return c.tradesToday
}

// OpenPositions lists currently open positions.
func (c *Controller) OpenPositions() []Position {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Position, 0, len(c.positions))
	for _, p := range c.positions {
		out = append(out, p)
	}
	return out
}

// Position returns the open position for a symbol, if any.
func (c *Controller) Position(symbol string) (Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.positions[symbol]
	return p, ok
}

// TryOpen walks one entry attempt through the lifecycle. The daily counter
// increments exactly when the entry is committed; a fill failure afterwards
// returns the symbol to idle without refunding the attempt.
func (c *Controller) TryOpen(ctx context.Context, intent risk.OrderIntent) (Position, error) {
	symbol := intent.Symbol

	c.mu.Lock()
	if c.states[symbol] != StateIdle {
		state := c.states[symbol]
		c.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %s is %s", ErrSymbolBusy, symbol, state)
	}
	c.states[symbol] = mustTransition(StateIdle, EventEvaluate)

	c.rollover()
	if c.tradesToday >= c.config.MaxTradesPerDay {
		c.states[symbol] = mustTransition(c.states[symbol], EventAbort)
		c.mu.Unlock()
		return Position{}, fmt.Errorf("%w: %d of %d used", ErrDailyLimitReached, c.tradesToday, c.config.MaxTradesPerDay)
	}
	if last, ok := c.lastEntry[symbol]; ok && c.now().Sub(last) < c.config.SignalCooldown {
		c.states[symbol] = mustTransition(c.states[symbol], EventAbort)
		c.mu.Unlock()
		return Position{}, fmt.Errorf("%w: last entry %s ago", ErrCooldownActive, c.now().Sub(last).Round(time.Second))
	}

	// Point of commitment: this attempt counts whatever happens next.
	c.states[symbol] = mustTransition(c.states[symbol], EventCommit)
	c.tradesToday++
	c.lastEntry[symbol] = c.now()
	c.mu.Unlock()

	orderCtx, cancel := context.WithTimeout(ctx, c.config.OrderTimeout)
	defer cancel()

	fill, err := c.port.PlaceOrder(orderCtx, intent)
	if err != nil {
		c.mu.Lock()
		c.states[symbol] = mustTransition(StatePendingEntry, EventFillFailed)
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("entry order failed")
		if c.bus != nil {
			c.bus.PublishError("execution", "entry order failed", err)
		}
		return Position{}, fmt.Errorf("%w: %v", ErrFillFailed, err)
	}

	position := Position{
		ID:              uuid.New().String(),
		Symbol:          symbol,
		Direction:       intent.Direction,
		SizeUSD:         intent.SizeUSD,
		EntryPrice:      fill.Price,
		StopLossPrice:   intent.StopLossPrice,
		TakeProfitPrice: intent.TakeProfitPrice,
	}

	c.mu.Lock()
	position.OpenedAt = c.now()
	c.states[symbol] = mustTransition(StatePendingEntry, EventFilled)
	c.positions[symbol] = position
	c.mu.Unlock()

	c.logger.Info().
		Str("symbol", symbol).
		Str("direction", position.Direction.String()).
		Float64("entry", position.EntryPrice).
		Float64("size_usd", position.SizeUSD).
		Msg("position opened")

	if c.recorder != nil {
		if err := c.recorder.RecordOpen(ctx, position); err != nil {
			c.logger.Error().Err(err).Str("symbol", symbol).Msg("failed to persist open trade")
		}
	}
	if c.bus != nil {
		c.bus.PublishTradeOpened(symbol, position.Direction.String(), position.EntryPrice, position.SizeUSD)
	}

	return position, nil
}

// Abort releases a symbol that was rejected before any order went out.
// It is a no-op unless the symbol is mid-evaluation.
func (c *Controller) Abort(symbol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states[symbol] == StateEvaluating {
		c.states[symbol] = mustTransition(StateEvaluating, EventAbort)
	}
}

// CheckExit inspects a new bar against the open position for its symbol.
// The stop is checked before the target: when one bar touches both levels
// the loss-bounding exit wins. latestSignal may be nil; a strong opposite
// signal forces a close at the bar price.
func (c *Controller) CheckExit(ctx context.Context, bar BarView, latestSignal *strategy.Signal) (*ClosedTrade, error) {
	c.mu.Lock()
	position, ok := c.positions[bar.Symbol]
	if !ok || c.states[bar.Symbol] != StateOpen {
		c.mu.Unlock()
		return nil, nil
	}

	exitPrice, reason, hit := exitCheck(position, bar, latestSignal, c.config.ReversalStrength)
	if !hit {
		c.mu.Unlock()
		return nil, nil
	}
	c.states[bar.Symbol] = mustTransition(StateOpen, EventBeginClose)
	c.mu.Unlock()

	return c.close(ctx, position, exitPrice, reason)
}

// ClosePosition closes an open position at the given price, regardless of
// levels (operator action or shutdown flatten).
func (c *Controller) ClosePosition(ctx context.Context, symbol string, price float64) (*ClosedTrade, error) {
	c.mu.Lock()
	position, ok := c.positions[symbol]
	if !ok || c.states[symbol] != StateOpen {
		c.mu.Unlock()
		return nil, fmt.Errorf("no open position for %s", symbol)
	}
	c.states[symbol] = mustTransition(StateOpen, EventBeginClose)
	c.mu.Unlock()

	return c.close(ctx, position, price, CloseReasonManual)
}

func (c *Controller) close(ctx context.Context, position Position, exitPrice float64, reason CloseReason) (*ClosedTrade, error) {
	orderCtx, cancel := context.WithTimeout(ctx, c.config.OrderTimeout)
	defer cancel()

	fill, err := c.port.ClosePosition(orderCtx, position, exitPrice)
	if err != nil {
		c.mu.Lock()
		c.states[position.Symbol] = mustTransition(StateClosing, EventCloseFailed)
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("symbol", position.Symbol).Msg("close order failed, position stays open")
		return nil, fmt.Errorf("%w: %v", ErrCloseFailed, err)
	}

	trade := ClosedTrade{
		Position:  position,
		ExitPrice: fill.Price,
		PnL:       PnL(position.Direction, position.EntryPrice, fill.Price, position.SizeUSD),
		Reason:    reason,
	}

	c.mu.Lock()
	trade.ClosedAt = c.now()
	c.states[position.Symbol] = mustTransition(StateClosing, EventCloseConfirmed)
	delete(c.positions, position.Symbol)
	c.mu.Unlock()

	c.logger.Info().
		Str("symbol", position.Symbol).
		Str("reason", string(reason)).
		Float64("exit", trade.ExitPrice).
		Float64("pnl", trade.PnL).
		Msg("position closed")

	if c.recorder != nil {
		if err := c.recorder.RecordClose(ctx, trade); err != nil {
			c.logger.Error().Err(err).Str("symbol", position.Symbol).Msg("failed to persist closed trade")
		}
	}
	if c.bus != nil {
		c.bus.PublishTradeClosed(position.Symbol, string(reason), position.EntryPrice, trade.ExitPrice, trade.PnL)
	}

	return &trade, nil
}

// BarView is the slice of bar data exit checks need.
type BarView struct {
	Symbol string
	High   float64
	Low    float64
	Close  float64
}

// exitCheck decides whether the bar closes the position and at what price.
func exitCheck(position Position, bar BarView, latestSignal *strategy.Signal, reversalStrength float64) (float64, CloseReason, bool) {
	if position.Direction == strategy.DirectionLong {
		if bar.Low <= position.StopLossPrice {
			return position.StopLossPrice, CloseReasonStopLoss, true
		}
		if bar.High >= position.TakeProfitPrice {
			return position.TakeProfitPrice, CloseReasonTakeProfit, true
		}
	} else {
		if bar.High >= position.StopLossPrice {
			return position.StopLossPrice, CloseReasonStopLoss, true
		}
		if bar.Low <= position.TakeProfitPrice {
			return position.TakeProfitPrice, CloseReasonTakeProfit, true
		}
	}

	if latestSignal != nil &&
		latestSignal.Direction == position.Direction.Opposite() &&
		latestSignal.Strength >= reversalStrength {
		return bar.Close, CloseReasonReversal, true
	}

	return 0, "", false
}

// rollover resets the daily counter on date change. Caller holds c.mu.
func (c *Controller) rollover() {
	today := dayStart(c.now())
	if today.After(c.windowStart) {
		c.tradesToday = 0
		c.windowStart = today
	}
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// mustTransition panics on an undefined transition; the controller only
// issues events valid for the state it holds the lock on.
func mustTransition(s State, e Event) State {
	next, err := Transition(s, e)
	if err != nil {
		panic(err)
	}
	return next
}
