package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ai-trading-engine/internal/advisor"
	"ai-trading-engine/internal/events"
	"ai-trading-engine/internal/execution"
	"ai-trading-engine/internal/market"
	"ai-trading-engine/internal/risk"
	"ai-trading-engine/internal/strategy"
)

// ErrUnknownSymbol is returned when a symbol is not configured for trading.
var ErrUnknownSymbol = errors.New("symbol not configured")

// BalanceProvider reports the capital available for sizing. The paper port
// satisfies it directly.
type BalanceProvider interface {
	Balance() float64
}

// Config holds the trading loop settings.
type Config struct {
	Symbols   []string         `json:"symbols"`
	Timeframe market.Timeframe `json:"timeframe"`
}

// DefaultConfig trades BTCUSDT on the hourly timeframe.
func DefaultConfig() *Config {
	return &Config{
		Symbols:   []string{"BTCUSDT"},
		Timeframe: market.Timeframe1h,
	}
}

// Bot runs the decision loop: per configured symbol it keeps a rolling bar
// window and, on every closed bar, checks exits first and then evaluates a
// fresh entry through strategy, advisory, risk and execution.
type Bot struct {
	config     *Config
	feed       market.Feed
	engine     *strategy.Engine
	advisory   *advisor.Service
	riskMgr    *risk.Manager
	controller *execution.Controller
	balance    BalanceProvider
	bus        *events.Bus
	logger     zerolog.Logger

	mu      sync.RWMutex
	windows map[string]*market.Window

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New wires the decision loop. A nil config uses defaults.
func New(
	config *Config,
	feed market.Feed,
	engine *strategy.Engine,
	advisory *advisor.Service,
	riskMgr *risk.Manager,
	controller *execution.Controller,
	balance BalanceProvider,
	bus *events.Bus,
	logger zerolog.Logger,
) *Bot {
	if config == nil {
		config = DefaultConfig()
	}
	return &Bot{
		config:     config,
		feed:       feed,
		engine:     engine,
		advisory:   advisory,
		riskMgr:    riskMgr,
		controller: controller,
		balance:    balance,
		bus:        bus,
		logger:     logger.With().Str("component", "bot").Logger(),
		windows:    make(map[string]*market.Window),
	}
}

// Start backfills each symbol's window and launches the per-symbol loops.
func (b *Bot) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	warmup := b.engine.MinBars()
	for _, symbol := range b.config.Symbols {
		bars, err := b.feed.Klines(runCtx, symbol, b.config.Timeframe, warmup)
		if err != nil {
			cancel()
			return fmt.Errorf("backfilling %s: %w", symbol, err)
		}

		window := market.NewWindow(warmup)
		for _, bar := range bars {
			window.Push(bar)
		}

		b.mu.Lock()
		b.windows[symbol] = window
		b.mu.Unlock()

		stream, err := b.feed.Subscribe(runCtx, symbol, b.config.Timeframe)
		if err != nil {
			cancel()
			return fmt.Errorf("subscribing to %s: %w", symbol, err)
		}

		b.wg.Add(1)
		go b.run(runCtx, symbol, stream)
	}

	if b.bus != nil {
		b.bus.Publish(events.Event{Type: events.EventEngineStarted, Timestamp: time.Now()})
	}
	b.logger.Info().Strs("symbols", b.config.Symbols).Str("timeframe", string(b.config.Timeframe)).Msg("trading loop started")
	return nil
}

// Stop cancels the loops and waits for them to drain.
func (b *Bot) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	if b.bus != nil {
		b.bus.Publish(events.Event{Type: events.EventEngineStopped, Timestamp: time.Now()})
	}
	b.logger.Info().Msg("trading loop stopped")
}

func (b *Bot) run(ctx context.Context, symbol string, stream <-chan market.Bar) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case bar, ok := <-stream:
			if !ok {
				b.logger.Warn().Str("symbol", symbol).Msg("bar stream closed")
				return
			}
			b.onBar(ctx, bar)
		}
	}
}

func (b *Bot) onBar(ctx context.Context, bar market.Bar) {
	if err := bar.Validate(); err != nil {
		b.logger.Warn().Err(err).Msg("dropping malformed bar")
		return
	}

	b.mu.RLock()
	window, ok := b.windows[bar.Symbol]
	b.mu.RUnlock()
	if !ok {
		return
	}
	window.Push(bar)

	if b.bus != nil {
		b.bus.Publish(events.Event{
			Type: events.EventBarReceived,
			Data: map[string]interface{}{
				"symbol": bar.Symbol,
				"close":  bar.Close,
				"time":   bar.OpenTime,
			},
			Timestamp: time.Now(),
		})
	}

	signal := b.currentSignal(window)

	if closed, err := b.controller.CheckExit(ctx, barView(bar), signal); err != nil {
		b.logger.Error().Err(err).Str("symbol", bar.Symbol).Msg("exit check failed")
	} else if closed != nil {
		b.logger.Info().
			Str("symbol", bar.Symbol).
			Str("reason", string(closed.Reason)).
			Float64("pnl", closed.PnL).
			Msg("position closed")
	}

	if signal == nil || signal.Direction == strategy.DirectionNone {
		return
	}
	if b.controller.State(bar.Symbol) != execution.StateIdle {
		return
	}

	if err := b.enter(ctx, *signal); err != nil {
		b.logger.Debug().Err(err).Str("symbol", bar.Symbol).Msg("entry not taken")
	}
}

// EvaluateOnce runs one full decision cycle for a symbol against its
// current window. The API surface uses it for on-demand evaluation.
func (b *Bot) EvaluateOnce(ctx context.Context, symbol string) (*Decision, error) {
	b.mu.RLock()
	window, ok := b.windows[symbol]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}

	snap, err := b.engine.Compute(window.Bars())
	if err != nil {
		return nil, err
	}
	signal := b.engine.DeriveSignal(snap)

	decision := &Decision{Signal: signal}
	if signal.Direction == strategy.DirectionNone {
		decision.Outcome = "no signal"
		return decision, nil
	}

	verdict := b.advisory.Evaluate(ctx, signal)
	decision.Verdict = &verdict
	if b.bus != nil {
		b.bus.PublishVerdict(symbol, verdict.Source.String(), verdict.Recommendation.String(), verdict.Confidence)
	}

	intent, err := b.riskMgr.Size(signal, verdict, b.balance.Balance())
	if err != nil {
		decision.Outcome = fmt.Sprintf("sizing rejected: %v", err)
		return decision, nil
	}
	decision.Intent = &intent

	if b.advisory.NeedsValidation(verdict) {
		validation := b.advisory.Validate(ctx, intent.Summary(), signal)
		decision.Validation = &validation
		if validation.Recommendation == advisor.RecommendReject {
			decision.Outcome = "rejected on validation"
			return decision, nil
		}
	}

	position, err := b.controller.TryOpen(ctx, intent)
	if err != nil {
		decision.Outcome = fmt.Sprintf("entry blocked: %v", err)
		return decision, nil
	}

	decision.Position = &position
	decision.Outcome = "position opened"
	return decision, nil
}

// Decision is the trace of one evaluation cycle.
type Decision struct {
	Signal     strategy.Signal     `json:"signal"`
	Verdict    *advisor.Verdict    `json:"verdict,omitempty"`
	Validation *advisor.Verdict    `json:"validation,omitempty"`
	Intent     *risk.OrderIntent   `json:"intent,omitempty"`
	Position   *execution.Position `json:"position,omitempty"`
	Outcome    string              `json:"outcome"`
}

func (b *Bot) enter(ctx context.Context, signal strategy.Signal) error {
	if b.bus != nil {
		b.bus.PublishSignal(signal.Symbol, signal.Direction.String(), signal.Strength, signal.Snapshot.Close)
	}

	verdict := b.advisory.Evaluate(ctx, signal)
	if b.bus != nil {
		b.bus.PublishVerdict(signal.Symbol, verdict.Source.String(), verdict.Recommendation.String(), verdict.Confidence)
	}

	intent, err := b.riskMgr.Size(signal, verdict, b.balance.Balance())
	if err != nil {
		return err
	}

	if b.advisory.NeedsValidation(verdict) {
		validation := b.advisory.Validate(ctx, intent.Summary(), signal)
		if validation.Recommendation == advisor.RecommendReject {
			return fmt.Errorf("validation rejected with confidence %.0f", validation.Confidence)
		}
	}

	position, err := b.controller.TryOpen(ctx, intent)
	if err != nil {
		return err
	}

	b.logger.Info().
		Str("symbol", position.Symbol).
		Str("direction", position.Direction.String()).
		Float64("size_usd", position.SizeUSD).
		Float64("entry", position.EntryPrice).
		Msg("position opened")
	return nil
}

func (b *Bot) currentSignal(window *market.Window) *strategy.Signal {
	snap, err := b.engine.Compute(window.Bars())
	if err != nil {
		return nil
	}
	signal := b.engine.DeriveSignal(snap)
	return &signal
}

// Symbols returns the configured trading symbols.
func (b *Bot) Symbols() []string {
	out := make([]string, len(b.config.Symbols))
	copy(out, b.config.Symbols)
	return out
}

func barView(bar market.Bar) execution.BarView {
	return execution.BarView{
		Symbol: bar.Symbol,
		High:   bar.High,
		Low:    bar.Low,
		Close:  bar.Close,
	}
}
