package market

import (
	"context"
	"testing"
	"time"
)

func TestBarValidate(t *testing.T) {
	base := Bar{
		Symbol:    "BTCUSDT",
		Timeframe: Timeframe1h,
		OpenTime:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Open:      100, High: 110, Low: 95, Close: 105, Volume: 1000,
	}

	tests := []struct {
		name    string
		mutate  func(*Bar)
		wantErr bool
	}{
		{"valid", func(b *Bar) {}, false},
		{"missing symbol", func(b *Bar) { b.Symbol = "" }, true},
		{"high below low", func(b *Bar) { b.High = 90 }, true},
		{"open above high", func(b *Bar) { b.Open = 120 }, true},
		{"close below low", func(b *Bar) { b.Close = 90 }, true},
		{"negative volume", func(b *Bar) { b.Volume = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := base
			tt.mutate(&b)
			err := b.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSortBarsOrdersAndDeduplicates(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := []Bar{
		{Symbol: "BTCUSDT", OpenTime: t0.Add(2 * time.Hour), Open: 3, High: 3, Low: 3, Close: 3},
		{Symbol: "BTCUSDT", OpenTime: t0, Open: 1, High: 1, Low: 1, Close: 1},
		{Symbol: "BTCUSDT", OpenTime: t0.Add(time.Hour), Open: 2, High: 2, Low: 2, Close: 2},
		{Symbol: "BTCUSDT", OpenTime: t0, Open: 9, High: 9, Low: 9, Close: 9}, // duplicate, later wins
	}

	sorted := SortBars(bars)

	if len(sorted) != 3 {
		t.Fatalf("expected 3 bars after dedup, got %d", len(sorted))
	}
	if sorted[0].Close != 9 {
		t.Errorf("duplicate timestamp should keep later element, got close %.0f", sorted[0].Close)
	}
	for i := 1; i < len(sorted); i++ {
		if !sorted[i].OpenTime.After(sorted[i-1].OpenTime) {
			t.Errorf("bars not strictly ordered at index %d", i)
		}
	}
}

func TestWindowPushAndReplace(t *testing.T) {
	w := NewWindow(3)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		w.Push(Bar{OpenTime: t0.Add(time.Duration(i) * time.Hour), Close: float64(i)})
	}

	if w.Len() != 3 {
		t.Fatalf("expected window capped at 3, got %d", w.Len())
	}
	latest, ok := w.Latest()
	if !ok || latest.Close != 4 {
		t.Errorf("expected latest close 4, got %+v", latest)
	}

	// Same open time replaces the newest bar instead of appending.
	w.Push(Bar{OpenTime: latest.OpenTime, Close: 42})
	if w.Len() != 3 {
		t.Errorf("replacement should not grow window, len = %d", w.Len())
	}
	latest, _ = w.Latest()
	if latest.Close != 42 {
		t.Errorf("expected replaced close 42, got %.0f", latest.Close)
	}
}

func TestWindowConcurrentPushAndRead(t *testing.T) {
	w := NewWindow(50)
	t0 := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			w.Push(Bar{OpenTime: t0.Add(time.Duration(i) * time.Minute), Close: float64(i)})
		}
	}()

	for {
		select {
		case <-done:
			if w.Len() != 50 {
				t.Fatalf("expected window capped at 50, got %d", w.Len())
			}
			return
		default:
			bars := w.Bars()
			if len(bars) > 50 {
				t.Fatalf("snapshot exceeds capacity: %d", len(bars))
			}
			w.Latest()
			w.Span()
		}
	}
}

func TestSimulatedFeedDeterministic(t *testing.T) {
	a := NewSimulatedFeed(7)
	b := NewSimulatedFeed(7)

	barsA, err := a.Klines(context.Background(), "BTCUSDT", Timeframe1h, 50)
	if err != nil {
		t.Fatalf("Klines: %v", err)
	}
	barsB, _ := b.Klines(context.Background(), "BTCUSDT", Timeframe1h, 50)

	if len(barsA) != 50 {
		t.Fatalf("expected 50 bars, got %d", len(barsA))
	}
	for i := range barsA {
		if barsA[i].Close != barsB[i].Close {
			t.Fatalf("same seed should generate identical series, diverged at %d", i)
		}
		if err := barsA[i].Validate(); err != nil {
			t.Fatalf("generated bar invalid: %v", err)
		}
	}
}

func TestSimulatedFeedSubscribe(t *testing.T) {
	f := NewSimulatedFeed(1)
	f.SetTick(5 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	ch, err := f.Subscribe(ctx, "ETHUSDT", Timeframe1m)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	count := 0
	for bar := range ch {
		if bar.Symbol != "ETHUSDT" {
			t.Errorf("unexpected symbol %s", bar.Symbol)
		}
		count++
		if count >= 3 {
			cancel()
		}
	}
	if count < 3 {
		t.Errorf("expected at least 3 bars before cancel, got %d", count)
	}
}
