package market

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"
)

// SimulatedFeed generates synthetic candles for paper runs and tests.
// A fixed seed makes the series reproducible.
type SimulatedFeed struct {
	mu sync.RWMutex

	rng        *rand.Rand
	prices     map[string]float64
	volatility float64
	tick       time.Duration // bar emission cadence in Subscribe; real-time when zero
}

// NewSimulatedFeed creates a feed seeded for reproducibility.
func NewSimulatedFeed(seed int64) *SimulatedFeed {
	return &SimulatedFeed{
		rng: rand.New(rand.NewSource(seed)),
		prices: map[string]float64{
			"BTCUSDT": 104500.00,
			"ETHUSDT": 3900.00,
			"BNBUSDT": 710.00,
			"SOLUSDT": 220.00,
			"XRPUSDT": 2.35,
		},
		volatility: 0.02,
		tick:       time.Second,
	}
}

// SetTick overrides the Subscribe emission cadence (tests use a short tick).
func (f *SimulatedFeed) SetTick(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tick = d
}

// Klines generates limit historical bars ending now, oldest first.
func (f *SimulatedFeed) Klines(_ context.Context, symbol string, tf Timeframe, limit int) ([]Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	base, ok := f.prices[symbol]
	if !ok {
		base = 100.0
	}

	interval := tf.Duration()
	now := time.Now().UTC().Truncate(interval)

	bars := make([]Bar, 0, limit)
	price := base
	for i := limit; i > 0; i-- {
		openTime := now.Add(-time.Duration(i) * interval)
		bars = append(bars, f.nextBar(symbol, tf, openTime, &price))
	}
	f.prices[symbol] = price

	return bars, nil
}

// Subscribe emits one synthetic closed bar per tick until ctx is cancelled.
func (f *SimulatedFeed) Subscribe(ctx context.Context, symbol string, tf Timeframe) (<-chan Bar, error) {
	f.mu.RLock()
	tick := f.tick
	f.mu.RUnlock()

	out := make(chan Bar, 16)

	go func() {
		defer close(out)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		openTime := time.Now().UTC().Truncate(tf.Duration())
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				f.mu.Lock()
				price, ok := f.prices[symbol]
				if !ok {
					price = 100.0
				}
				bar := f.nextBar(symbol, tf, openTime, &price)
				f.prices[symbol] = price
				f.mu.Unlock()

				openTime = openTime.Add(tf.Duration())

				select {
				case out <- bar:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// nextBar advances the random walk one candle. Caller holds f.mu.
func (f *SimulatedFeed) nextBar(symbol string, tf Timeframe, openTime time.Time, price *float64) Bar {
	open := *price
	change := (f.rng.Float64() - 0.5) * f.volatility * 2
	closePrice := open * (1 + change)

	high := math.Max(open, closePrice) * (1 + f.rng.Float64()*f.volatility*0.5)
	low := math.Min(open, closePrice) * (1 - f.rng.Float64()*f.volatility*0.5)
	volume := 1000 + f.rng.Float64()*5000

	*price = closePrice

	return Bar{
		Symbol:    symbol,
		Timeframe: tf,
		OpenTime:  openTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}
}
