package strategy

import (
	"math"

	"ai-trading-engine/internal/market"
)

// ============================================================================
// MOVING AVERAGES
// ============================================================================

// CalculateSMA calculates Simple Moving Average over the last period closes
func CalculateSMA(bars []market.Bar, period int) float64 {
	if len(bars) < period {
		return 0
	}

	sum := 0.0
	startIdx := len(bars) - period

	for i := startIdx; i < len(bars); i++ {
		sum += bars[i].Close
	}

	return sum / float64(period)
}

// CalculateEMA calculates Exponential Moving Average
func CalculateEMA(bars []market.Bar, period int) float64 {
	if len(bars) < period {
		return 0
	}

	// Seed with SMA of the first period, then roll forward
	ema := CalculateSMA(bars[:period], period)
	multiplier := 2.0 / float64(period+1)

	for i := period; i < len(bars); i++ {
		ema = (bars[i].Close * multiplier) + (ema * (1 - multiplier))
	}

	return ema
}

// ============================================================================
// RSI (Relative Strength Index)
// ============================================================================

// CalculateRSI calculates the Relative Strength Index
func CalculateRSI(bars []market.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 50.0 // Neutral RSI
	}

	gains := 0.0
	losses := 0.0

	for i := len(bars) - period; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			gains += change
		} else {
			losses += -change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	if avgLoss == 0 {
		return 100.0
	}

	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

// ============================================================================
// ATR (Average True Range)
// ============================================================================

// CalculateATR calculates Average True Range
func CalculateATR(bars []market.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 0
	}

	trSum := 0.0
	startIdx := len(bars) - period

	for i := startIdx; i < len(bars); i++ {
		high := bars[i].High
		low := bars[i].Low
		prevClose := bars[i-1].Close

		tr := math.Max(
			high-low,
			math.Max(
				math.Abs(high-prevClose),
				math.Abs(low-prevClose),
			),
		)

		trSum += tr
	}

	return trSum / float64(period)
}

// ============================================================================
// ADX (Average Directional Index)
// ============================================================================

// CalculateADX calculates the Average Directional Index using Wilder
// smoothing over +DM/-DM and true range. Needs at least 2*period+1 bars;
// returns 0 (no trend reading) below that.
func CalculateADX(bars []market.Bar, period int) float64 {
	if len(bars) < 2*period+1 {
		return 0
	}

	n := len(bars)
	start := n - 2*period

	var smTR, smPlusDM, smMinusDM float64

	// Seed the smoothed sums over the first period
	for i := start; i < start+period; i++ {
		tr, plusDM, minusDM := directionalMovement(bars[i-1], bars[i])
		smTR += tr
		smPlusDM += plusDM
		smMinusDM += minusDM
	}

	dxSum := 0.0
	dxCount := 0

	for i := start + period; i < n; i++ {
		tr, plusDM, minusDM := directionalMovement(bars[i-1], bars[i])

		// Wilder smoothing
		smTR = smTR - smTR/float64(period) + tr
		smPlusDM = smPlusDM - smPlusDM/float64(period) + plusDM
		smMinusDM = smMinusDM - smMinusDM/float64(period) + minusDM

		if smTR == 0 {
			continue
		}
		plusDI := 100 * smPlusDM / smTR
		minusDI := 100 * smMinusDM / smTR

		if plusDI+minusDI == 0 {
			continue
		}
		dx := 100 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
		dxSum += dx
		dxCount++
	}

	if dxCount == 0 {
		return 0
	}
	return dxSum / float64(dxCount)
}

func directionalMovement(prev, cur market.Bar) (tr, plusDM, minusDM float64) {
	tr = math.Max(
		cur.High-cur.Low,
		math.Max(
			math.Abs(cur.High-prev.Close),
			math.Abs(cur.Low-prev.Close),
		),
	)

	upMove := cur.High - prev.High
	downMove := prev.Low - cur.Low

	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	return tr, plusDM, minusDM
}

// ============================================================================
// VOLUME ANALYSIS
// ============================================================================

// CalculateAverageVolume calculates average volume over a period,
// excluding the current (last) bar
func CalculateAverageVolume(bars []market.Bar, period int) float64 {
	if len(bars) < period+1 {
		return 0
	}

	sum := 0.0
	startIdx := len(bars) - 1 - period

	for i := startIdx; i < len(bars)-1; i++ {
		sum += bars[i].Volume
	}

	return sum / float64(period)
}

// CalculateVolumeRatio returns current volume relative to its moving average.
// A ratio above 1 means above-average participation.
func CalculateVolumeRatio(bars []market.Bar, period int) float64 {
	avg := CalculateAverageVolume(bars, period)
	if avg == 0 {
		return 0
	}
	return bars[len(bars)-1].Volume / avg
}
