package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ai-trading-engine/internal/advisor"
	"ai-trading-engine/internal/execution"
	"ai-trading-engine/internal/market"
	"ai-trading-engine/internal/risk"
	"ai-trading-engine/internal/strategy"
)

// Config describes one backtest run. Nil sub-configs use the same defaults
// the live pipeline uses.
type Config struct {
	Symbol            string                      `json:"symbol"`
	Timeframe         market.Timeframe            `json:"timeframe"`
	InitialBalanceUSD float64                     `json:"initial_balance_usd"`
	ApproveThreshold  float64                     `json:"approve_threshold"` // rule-based confidence gate
	Strategy          *strategy.Config            `json:"-"`
	Risk              *risk.Parameters            `json:"-"`
	Controller        *execution.ControllerConfig `json:"-"`
}

// Validate rejects configs that cannot produce a meaningful run.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return errors.New("backtest config: symbol is required")
	}
	if c.InitialBalanceUSD <= 0 {
		return fmt.Errorf("backtest config: initial balance must be positive, got %.2f", c.InitialBalanceUSD)
	}
	if c.ApproveThreshold < 0 || c.ApproveThreshold > 100 {
		return fmt.Errorf("backtest config: approve threshold %.1f outside [0,100]", c.ApproveThreshold)
	}
	return nil
}

// EquityPoint is one sample of the realized-balance curve.
type EquityPoint struct {
	Time    time.Time `json:"time"`
	Balance float64   `json:"balance"`
}

// Report is the outcome of one run.
type Report struct {
	Symbol         string                  `json:"symbol"`
	Timeframe      market.Timeframe        `json:"timeframe"`
	StartTime      time.Time               `json:"start_time"`
	EndTime        time.Time               `json:"end_time"`
	BarsProcessed  int                     `json:"bars_processed"`
	InitialBalance float64                 `json:"initial_balance"`
	FinalBalance   float64                 `json:"final_balance"`
	Metrics        Metrics                 `json:"metrics"`
	Trades         []execution.ClosedTrade `json:"trades"`
	EquityCurve    []EquityPoint           `json:"equity_curve"`
}

// Simulator replays historical bars through the same strategy, advisory,
// risk and execution stages the live loop uses. Advisory verdicts come
// from the rule-based path only, so a run is fully deterministic and
// spends no advisor budget.
type Simulator struct {
	config *Config
	logger zerolog.Logger
}

// NewSimulator creates a simulator. Validate the config before running.
func NewSimulator(config *Config, logger zerolog.Logger) *Simulator {
	return &Simulator{
		config: config,
		logger: logger.With().Str("component", "backtest").Logger(),
	}
}

// Run replays the bars oldest-first and returns the report. Bars are
// sorted and deduplicated before the replay, so input order does not
// change the outcome.
func (s *Simulator) Run(ctx context.Context, bars []market.Bar) (*Report, error) {
	if err := s.config.Validate(); err != nil {
		return nil, err
	}

	bars = market.SortBars(bars)
	engine := strategy.NewEngine(s.config.Strategy)
	warmup := engine.MinBars()
	if len(bars) < warmup+1 {
		return nil, fmt.Errorf("insufficient history: got %d bars, need at least %d", len(bars), warmup+1)
	}

	approveThreshold := s.config.ApproveThreshold
	if approveThreshold == 0 {
		approveThreshold = advisor.DefaultServiceConfig().ValidationThreshold
	}

	riskManager := risk.NewManager(s.config.Risk, s.logger)
	port := execution.NewPaperPort(s.config.InitialBalanceUSD)
	controller := execution.NewController(s.config.Controller, port, nil, nil, s.logger)

	// The controller's cooldown and daily limit follow replay time, not
	// wall time.
	clock := bars[warmup].OpenTime
	controller.SetClock(func() time.Time { return clock })

	report := &Report{
		Symbol:         s.config.Symbol,
		Timeframe:      s.config.Timeframe,
		StartTime:      bars[0].OpenTime,
		EndTime:        bars[len(bars)-1].OpenTime,
		InitialBalance: s.config.InitialBalanceUSD,
	}

	for i := warmup; i < len(bars); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		bar := bars[i]
		clock = bar.OpenTime.Add(bar.Timeframe.Duration())
		window := bars[i-warmup+1 : i+1]

		signal, _ := s.evaluate(engine, window)

		// Exits run before entries on every bar.
		if closed, err := controller.CheckExit(ctx, barView(bar), signal); err == nil && closed != nil {
			report.Trades = append(report.Trades, *closed)
		}

		if signal != nil && signal.Direction != strategy.DirectionNone &&
			controller.State(s.config.Symbol) == execution.StateIdle {
			s.tryEnter(ctx, controller, riskManager, port, *signal, approveThreshold)
		}

		report.BarsProcessed++
		report.EquityCurve = append(report.EquityCurve, EquityPoint{Time: bar.OpenTime, Balance: port.Balance()})
	}

	// A position still open at the end closes at the last bar's close.
	if closed, err := controller.ClosePosition(ctx, s.config.Symbol, bars[len(bars)-1].Close); err == nil && closed != nil {
		report.Trades = append(report.Trades, *closed)
		report.EquityCurve = append(report.EquityCurve, EquityPoint{Time: report.EndTime, Balance: port.Balance()})
	}

	report.FinalBalance = port.Balance()
	report.Metrics = computeMetrics(report.Trades, report.InitialBalance, report.EquityCurve)

	s.logger.Info().
		Str("symbol", report.Symbol).
		Int("bars", report.BarsProcessed).
		Int("trades", report.Metrics.TotalTrades).
		Float64("net_profit", report.Metrics.NetProfit).
		Msg("backtest finished")

	return report, nil
}

func (s *Simulator) evaluate(engine *strategy.Engine, window []market.Bar) (*strategy.Signal, error) {
	snap, err := engine.Compute(window)
	if err != nil {
		return nil, err
	}
	signal := engine.DeriveSignal(snap)
	return &signal, nil
}

func (s *Simulator) tryEnter(
	ctx context.Context,
	controller *execution.Controller,
	riskManager *risk.Manager,
	port *execution.PaperPort,
	signal strategy.Signal,
	approveThreshold float64,
) {
	verdict := advisor.RuleBasedVerdict(signal, approveThreshold)
	if verdict.Recommendation != advisor.RecommendApprove {
		return
	}

	intent, err := riskManager.Size(signal, verdict, port.Balance())
	if err != nil {
		return
	}

	if _, err := controller.TryOpen(ctx, intent); err != nil {
		s.logger.Debug().Err(err).Str("symbol", signal.Symbol).Msg("entry skipped")
	}
}

func barView(b market.Bar) execution.BarView {
	return execution.BarView{
		Symbol: b.Symbol,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
	}
}
