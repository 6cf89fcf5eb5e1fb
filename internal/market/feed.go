package market

import (
	"context"
	"sync"
	"time"
)

// Feed supplies candle data to the decision pipeline. Implementations:
// WSFeed streams live candles over a websocket, SimulatedFeed replays
// synthetic data for paper runs, and the backtester bypasses Feed entirely
// by loading its own historical window.
type Feed interface {
	// Klines returns up to limit closed bars ending at the most recent one,
	// ordered by open time.
	Klines(ctx context.Context, symbol string, tf Timeframe, limit int) ([]Bar, error)

	// Subscribe delivers each newly closed bar on the returned channel until
	// ctx is cancelled. The channel is closed on cancellation or feed error.
	Subscribe(ctx context.Context, symbol string, tf Timeframe) (<-chan Bar, error)
}

// Window maintains a rolling slice of the most recent bars for one
// symbol/timeframe, sized for the longest indicator lookback. It is safe
// for concurrent use; the feed goroutine pushes while readers snapshot.
type Window struct {
	mu   sync.RWMutex
	bars []Bar
	max  int
}

// NewWindow creates a rolling window holding at most max bars.
func NewWindow(max int) *Window {
	if max <= 0 {
		max = 200
	}
	return &Window{max: max}
}

// Push appends a bar, dropping the oldest when full. A bar with the same
// open time as the newest replaces it (candle update before close).
func (w *Window) Push(b Bar) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(w.bars)
	if n > 0 && w.bars[n-1].OpenTime.Equal(b.OpenTime) {
		w.bars[n-1] = b
		return
	}
	w.bars = append(w.bars, b)
	if len(w.bars) > w.max {
		w.bars = w.bars[1:]
	}
}

// Bars returns the current window contents, oldest first.
func (w *Window) Bars() []Bar {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]Bar, len(w.bars))
	copy(out, w.bars)
	return out
}

// Len returns the number of bars held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.bars)
}

// Latest returns the newest bar and whether one exists.
func (w *Window) Latest() (Bar, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.bars) == 0 {
		return Bar{}, false
	}
	return w.bars[len(w.bars)-1], true
}

// Span returns the time covered by the window.
func (w *Window) Span() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.bars) < 2 {
		return 0
	}
	return w.bars[len(w.bars)-1].OpenTime.Sub(w.bars[0].OpenTime)
}
