package market

import (
	"fmt"
	"time"
)

// Timeframe identifies the bar interval (e.g. "1m", "15m", "1h", "4h", "1d").
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the wall-clock length of one bar.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return time.Hour
	}
}

// Bar is one OHLCV candle for a symbol/timeframe.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Validate rejects malformed candles before they enter the pipeline.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("bar missing symbol")
	}
	if b.High < b.Low {
		return fmt.Errorf("bar %s %s: high %.8f below low %.8f", b.Symbol, b.OpenTime.Format(time.RFC3339), b.High, b.Low)
	}
	if b.Open < b.Low || b.Open > b.High {
		return fmt.Errorf("bar %s %s: open %.8f outside range", b.Symbol, b.OpenTime.Format(time.RFC3339), b.Open)
	}
	if b.Close < b.Low || b.Close > b.High {
		return fmt.Errorf("bar %s %s: close %.8f outside range", b.Symbol, b.OpenTime.Format(time.RFC3339), b.Close)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar %s %s: negative volume", b.Symbol, b.OpenTime.Format(time.RFC3339))
	}
	return nil
}

// SortBars orders bars by open time ascending, in place.
// Duplicate timestamps keep the later element (last write wins).
func SortBars(bars []Bar) []Bar {
	for i := 1; i < len(bars); i++ {
		for j := i; j > 0 && bars[j].OpenTime.Before(bars[j-1].OpenTime); j-- {
			bars[j], bars[j-1] = bars[j-1], bars[j]
		}
	}
	out := bars[:0]
	for i, b := range bars {
		if i > 0 && b.OpenTime.Equal(out[len(out)-1].OpenTime) {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
