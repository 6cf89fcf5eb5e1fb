package risk

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"ai-trading-engine/internal/advisor"
	"ai-trading-engine/internal/strategy"
)

// ErrRejectedByRisk is returned when a proposed trade fails a risk check.
// The trade is skipped; it is not an operational failure.
var ErrRejectedByRisk = errors.New("rejected by risk checks")

// Parameters are the per-trade risk settings.
type Parameters struct {
	PositionSizeUSD     float64 `json:"position_size_usd"`     // base size before risk scaling
	MaxPositionSizeUSD  float64 `json:"max_position_size_usd"` // hard cap
	RiskPercentPerTrade float64 `json:"risk_percent_per_trade"`
	StopLossPercent     float64 `json:"stop_loss_percent"`
	TakeProfitPercent   float64 `json:"take_profit_percent"`
}

// DefaultParameters returns the standard risk settings.
func DefaultParameters() *Parameters {
	return &Parameters{
		PositionSizeUSD:     100,
		MaxPositionSizeUSD:  500,
		RiskPercentPerTrade: 1.5,
		StopLossPercent:     2.0,
		TakeProfitPercent:   3.0,
	}
}

// Validate rejects unusable parameter sets.
func (p *Parameters) Validate() error {
	if p.PositionSizeUSD <= 0 {
		return fmt.Errorf("position size must be positive, got %.2f", p.PositionSizeUSD)
	}
	if p.MaxPositionSizeUSD < p.PositionSizeUSD {
		return fmt.Errorf("max position size %.2f below base size %.2f", p.MaxPositionSizeUSD, p.PositionSizeUSD)
	}
	if p.RiskPercentPerTrade <= 0 || p.RiskPercentPerTrade > 100 {
		return fmt.Errorf("risk percent per trade %.2f out of range", p.RiskPercentPerTrade)
	}
	if p.StopLossPercent <= 0 || p.StopLossPercent >= 100 {
		return fmt.Errorf("stop loss percent %.2f out of range", p.StopLossPercent)
	}
	if p.TakeProfitPercent <= 0 {
		return fmt.Errorf("take profit percent %.2f out of range", p.TakeProfitPercent)
	}
	if p.StopLossPercent >= p.TakeProfitPercent {
		return fmt.Errorf("stop loss %.2f must be below take profit %.2f", p.StopLossPercent, p.TakeProfitPercent)
	}
	return nil
}

// OrderIntent is a fully sized order ready for execution. For a long,
// stop < entry < target; inverse for a short.
type OrderIntent struct {
	Symbol          string             `json:"symbol"`
	Direction       strategy.Direction `json:"direction"`
	SizeUSD         float64            `json:"size_usd"`
	EntryPrice      float64            `json:"entry_price"`
	StopLossPrice   float64            `json:"stop_loss_price"`
	TakeProfitPrice float64            `json:"take_profit_price"`
}

// Summary converts the intent into the shape validation prompts consume.
func (o OrderIntent) Summary() advisor.OrderSummary {
	return advisor.OrderSummary{
		Symbol:          o.Symbol,
		Direction:       o.Direction.String(),
		SizeUSD:         o.SizeUSD,
		EntryPrice:      o.EntryPrice,
		StopLossPrice:   o.StopLossPrice,
		TakeProfitPrice: o.TakeProfitPrice,
	}
}

// Manager sizes orders and places their protective levels.
type Manager struct {
	mu     sync.RWMutex
	params *Parameters
	logger zerolog.Logger
}

// NewManager creates a risk manager. A nil params uses defaults.
func NewManager(params *Parameters, logger zerolog.Logger) *Manager {
	if params == nil {
		params = DefaultParameters()
	}
	return &Manager{
		params: params,
		logger: logger.With().Str("component", "risk").Logger(),
	}
}

// UpdateParameters swaps the active settings.
func (m *Manager) UpdateParameters(params *Parameters) error {
	if err := params.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.params = params
	return nil
}

// Parameters returns a copy of the active settings.
func (m *Manager) Parameters() Parameters {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.params
}

// Size turns an approved signal into a sized order with stop and target.
// The position size is the smallest of the base size, the risk-capital
// size (the amount whose loss at the stop equals the per-trade risk
// budget), and the hard cap.
func (m *Manager) Size(signal strategy.Signal, verdict advisor.Verdict, balanceUSD float64) (OrderIntent, error) {
	m.mu.RLock()
	params := *m.params
	m.mu.RUnlock()

	if verdict.Recommendation == advisor.RecommendReject {
		return OrderIntent{}, fmt.Errorf("%w: advisor rejected with confidence %.0f", ErrRejectedByRisk, verdict.Confidence)
	}
	if signal.Direction == strategy.DirectionNone {
		return OrderIntent{}, fmt.Errorf("%w: no direction", ErrRejectedByRisk)
	}
	if balanceUSD <= 0 {
		return OrderIntent{}, fmt.Errorf("%w: no available balance", ErrRejectedByRisk)
	}

	entry := signal.Snapshot.Close
	if entry <= 0 {
		return OrderIntent{}, fmt.Errorf("%w: invalid entry price %.4f", ErrRejectedByRisk, entry)
	}

	stopPrice, targetPrice := protectiveLevels(signal.Direction, entry, signal.Snapshot.ATR, params)

	stopDistance := math.Abs(entry - stopPrice)
	if stopDistance <= 0 {
		return OrderIntent{}, fmt.Errorf("%w: degenerate stop distance", ErrRejectedByRisk)
	}
	stopFraction := stopDistance / entry

	// Size whose loss at the stop equals the per-trade risk budget.
	riskCapital := balanceUSD * params.RiskPercentPerTrade / 100
	riskBasedSize := riskCapital / stopFraction

	size := math.Min(params.PositionSizeUSD, math.Min(riskBasedSize, params.MaxPositionSizeUSD))
	if size <= 0 {
		return OrderIntent{}, fmt.Errorf("%w: computed size %.2f", ErrRejectedByRisk, size)
	}
	if size > balanceUSD {
		return OrderIntent{}, fmt.Errorf("%w: size %.2f exceeds balance %.2f", ErrRejectedByRisk, size, balanceUSD)
	}

	intent := OrderIntent{
		Symbol:          signal.Symbol,
		Direction:       signal.Direction,
		SizeUSD:         size,
		EntryPrice:      entry,
		StopLossPrice:   stopPrice,
		TakeProfitPrice: targetPrice,
	}

	m.logger.Debug().
		Str("symbol", intent.Symbol).
		Str("direction", intent.Direction.String()).
		Float64("size_usd", intent.SizeUSD).
		Float64("entry", intent.EntryPrice).
		Float64("stop", intent.StopLossPrice).
		Float64("target", intent.TakeProfitPrice).
		Msg("order sized")

	return intent, nil
}

// protectiveLevels places the stop at the tighter of the percent distance
// and 2x ATR, and the target at the nearer of the percent distance and
// 3x ATR. Both rules take the side that cuts the position sooner.
func protectiveLevels(direction strategy.Direction, entry, atr float64, params Parameters) (stop, target float64) {
	stopDistance := entry * params.StopLossPercent / 100
	targetDistance := entry * params.TakeProfitPercent / 100

	if atr > 0 {
		stopDistance = math.Min(stopDistance, 2*atr)
		targetDistance = math.Min(targetDistance, 3*atr)
	}

	if direction == strategy.DirectionShort {
		return entry + stopDistance, entry - targetDistance
	}
	return entry - stopDistance, entry + targetDistance
}
