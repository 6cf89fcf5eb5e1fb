package advisor

import (
	"sync"
	"time"
)

// QuotaGuard enforces the daily advisor call budget. All state lives behind
// one mutex: the rollover check and the consume decision happen atomically,
// so concurrent callers can never both take the last slot.
type QuotaGuard struct {
	mu          sync.Mutex
	limit       int
	callsToday  int
	windowStart time.Time // midnight UTC of the current window

	now func() time.Time // test hook
}

// NewQuotaGuard creates a guard allowing limit calls per UTC day.
func NewQuotaGuard(limit int) *QuotaGuard {
	g := &QuotaGuard{
		limit: limit,
		now:   time.Now,
	}
	g.windowStart = dayStart(g.now())
	return g
}

// TryConsume takes one slot if any remain today. The window rolls over when
// the wall-clock date has advanced past the recorded window start.
func (g *QuotaGuard) TryConsume() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()

	if g.callsToday >= g.limit {
		return false
	}
	g.callsToday++
	return true
}

// Remaining reports slots left today.
func (g *QuotaGuard) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	if g.callsToday >= g.limit {
		return 0
	}
	return g.limit - g.callsToday
}

// UsageStats is the monitoring view of the quota state.
type UsageStats struct {
	CallsToday  int       `json:"calls_today"`
	DailyLimit  int       `json:"daily_limit"`
	Remaining   int       `json:"remaining"`
	WindowStart time.Time `json:"window_start"`
}

// Stats returns a consistent snapshot of the current window.
func (g *QuotaGuard) Stats() UsageStats {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.rollover()
	remaining := g.limit - g.callsToday
	if remaining < 0 {
		remaining = 0
	}
	return UsageStats{
		CallsToday:  g.callsToday,
		DailyLimit:  g.limit,
		Remaining:   remaining,
		WindowStart: g.windowStart,
	}
}

// rollover resets the counter when the date has changed. Caller holds g.mu.
func (g *QuotaGuard) rollover() {
	today := dayStart(g.now())
	if today.After(g.windowStart) {
		g.callsToday = 0
		g.windowStart = today
	}
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
