package strategy

import (
	"errors"
	"fmt"
	"math"
	"time"

	"ai-trading-engine/internal/market"
)

// ErrInsufficientData is returned when the bar window is shorter than the
// longest configured indicator lookback.
var ErrInsufficientData = errors.New("insufficient bars for indicator window")

// Direction is the side a signal points to.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionLong
	DirectionShort
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "LONG"
	case DirectionShort:
		return "SHORT"
	default:
		return "NONE"
	}
}

// Opposite returns the reverse side; None stays None.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionNone
	}
}

// Snapshot holds the indicator readings computed over one bar window.
// Snapshots are value types and never mutated after Compute.
type Snapshot struct {
	Symbol      string
	Timeframe   market.Timeframe
	BarTime     time.Time
	Close       float64
	FastEMA     float64
	SlowEMA     float64
	ADX         float64
	RSI         float64
	ATR         float64
	VolumeRatio float64
}

// Signal is the engine's verdict on one snapshot: a direction the three
// filters agree on (or None) and a strength in [0,1].
type Signal struct {
	Symbol    string
	Timeframe market.Timeframe
	Direction Direction
	Strength  float64
	Snapshot  Snapshot
	Timestamp time.Time
}

// Config holds the indicator periods and filter thresholds.
type Config struct {
	FastEMAPeriod int
	SlowEMAPeriod int
	ADXPeriod     int
	ADXThreshold  float64
	RSIPeriod     int
	RSIOverbought float64
	RSIOversold   float64
	ATRPeriod     int
	VolumePeriod  int
}

// DefaultConfig returns the standard parameter set.
func DefaultConfig() *Config {
	return &Config{
		FastEMAPeriod: 12,
		SlowEMAPeriod: 26,
		ADXPeriod:     14,
		ADXThreshold:  25,
		RSIPeriod:     14,
		RSIOverbought: 70,
		RSIOversold:   30,
		ATRPeriod:     14,
		VolumePeriod:  20,
	}
}

// Engine computes indicator snapshots and derives entry signals.
// It is stateless; every call depends only on the window passed in.
type Engine struct {
	config *Config
}

// NewEngine creates an engine. A nil config uses defaults.
func NewEngine(config *Config) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Engine{config: config}
}

// MinBars returns the smallest window Compute accepts.
func (e *Engine) MinBars() int {
	min := e.config.SlowEMAPeriod
	if n := 2*e.config.ADXPeriod + 1; n > min {
		min = n
	}
	if n := e.config.RSIPeriod + 1; n > min {
		min = n
	}
	if n := e.config.ATRPeriod + 1; n > min {
		min = n
	}
	if n := e.config.VolumePeriod + 1; n > min {
		min = n
	}
	return min
}

// Compute calculates all indicators over the window. The window must be
// ordered oldest first.
func (e *Engine) Compute(window []market.Bar) (Snapshot, error) {
	if len(window) < e.MinBars() {
		return Snapshot{}, fmt.Errorf("%w: have %d bars, need %d", ErrInsufficientData, len(window), e.MinBars())
	}

	last := window[len(window)-1]
	return Snapshot{
		Symbol:      last.Symbol,
		Timeframe:   last.Timeframe,
		BarTime:     last.OpenTime,
		Close:       last.Close,
		FastEMA:     CalculateEMA(window, e.config.FastEMAPeriod),
		SlowEMA:     CalculateEMA(window, e.config.SlowEMAPeriod),
		ADX:         CalculateADX(window, e.config.ADXPeriod),
		RSI:         CalculateRSI(window, e.config.RSIPeriod),
		ATR:         CalculateATR(window, e.config.ATRPeriod),
		VolumeRatio: CalculateVolumeRatio(window, e.config.VolumePeriod),
	}, nil
}

// DeriveSignal applies the trend, trend-strength and momentum filters.
// Direction is None unless all three agree; strength is the mean of the
// three sub-scores, each clipped to [0,1].
func (e *Engine) DeriveSignal(snap Snapshot) Signal {
	signal := Signal{
		Symbol:    snap.Symbol,
		Timeframe: snap.Timeframe,
		Direction: DirectionNone,
		Snapshot:  snap,
		Timestamp: snap.BarTime,
	}

	var direction Direction
	switch {
	case snap.FastEMA > snap.SlowEMA:
		direction = DirectionLong
	case snap.FastEMA < snap.SlowEMA:
		direction = DirectionShort
	default:
		return signal
	}

	// Trend-strength filter: ranging markets produce no signal.
	if snap.ADX <= e.config.ADXThreshold {
		return signal
	}

	// Momentum filter: never enter into an exhausted move.
	if direction == DirectionLong && snap.RSI >= e.config.RSIOverbought {
		return signal
	}
	if direction == DirectionShort && snap.RSI <= e.config.RSIOversold {
		return signal
	}

	signal.Direction = direction
	signal.Strength = e.strength(snap, direction)
	return signal
}

// strength averages the three sub-scores. Trend scores EMA separation
// relative to price (full score at 2% separation), trend-strength scores
// ADX out of 100, momentum scores RSI headroom before the blocking band.
func (e *Engine) strength(snap Snapshot, direction Direction) float64 {
	trendScore := 0.0
	if snap.SlowEMA > 0 {
		trendScore = clamp01(math.Abs(snap.FastEMA-snap.SlowEMA) / snap.SlowEMA / 0.02)
	}

	strengthScore := clamp01(snap.ADX / 100)

	band := e.config.RSIOverbought - e.config.RSIOversold
	momentumScore := 0.0
	if band > 0 {
		switch direction {
		case DirectionLong:
			momentumScore = clamp01((e.config.RSIOverbought - snap.RSI) / band)
		case DirectionShort:
			momentumScore = clamp01((snap.RSI - e.config.RSIOversold) / band)
		}
	}

	return clamp01((trendScore + strengthScore + momentumScore) / 3)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
