package backtest

import (
	"math"

	"ai-trading-engine/internal/execution"
)

// Metrics summarizes the closed trades of one run.
type Metrics struct {
	TotalTrades        int     `json:"total_trades"`
	WinningTrades      int     `json:"winning_trades"`
	LosingTrades       int     `json:"losing_trades"`
	WinRate            float64 `json:"win_rate"` // percent
	GrossProfit        float64 `json:"gross_profit"`
	GrossLoss          float64 `json:"gross_loss"`
	NetProfit          float64 `json:"net_profit"`
	ROI                float64 `json:"roi"` // percent of initial balance
	AverageWin         float64 `json:"average_win"`
	AverageLoss        float64 `json:"average_loss"`
	ProfitFactor       float64 `json:"profit_factor"`
	MaxDrawdownPercent float64 `json:"max_drawdown_percent"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
}

func computeMetrics(trades []execution.ClosedTrade, initialBalance float64, equity []EquityPoint) Metrics {
	m := Metrics{TotalTrades: len(trades)}

	for _, trade := range trades {
		m.NetProfit += trade.PnL
		if trade.PnL > 0 {
			m.WinningTrades++
			m.GrossProfit += trade.PnL
		} else {
			m.LosingTrades++
			m.GrossLoss += math.Abs(trade.PnL)
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	}
	if m.WinningTrades > 0 {
		m.AverageWin = m.GrossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = m.GrossLoss / float64(m.LosingTrades)
	}
	if m.GrossLoss > 0 {
		m.ProfitFactor = m.GrossProfit / m.GrossLoss
	}
	if initialBalance > 0 {
		m.ROI = m.NetProfit / initialBalance * 100
	}

	m.MaxDrawdownPercent = maxDrawdown(equity)
	m.SharpeRatio = sharpeRatio(trades)

	return m
}

// maxDrawdown returns the largest peak-to-trough fall of the realized
// balance curve, in percent of the peak.
func maxDrawdown(equity []EquityPoint) float64 {
	if len(equity) == 0 {
		return 0
	}

	worst := 0.0
	peak := equity[0].Balance

	for _, point := range equity {
		if point.Balance > peak {
			peak = point.Balance
		}
		if peak <= 0 {
			continue
		}
		drawdown := (peak - point.Balance) / peak * 100
		if drawdown > worst {
			worst = drawdown
		}
	}
	return worst
}

// sharpeRatio is the mean per-trade return over its standard deviation,
// with a zero risk-free rate. Returns are percent of position size.
func sharpeRatio(trades []execution.ClosedTrade) float64 {
	if len(trades) == 0 {
		return 0
	}

	returns := make([]float64, 0, len(trades))
	for _, trade := range trades {
		if trade.Position.SizeUSD <= 0 {
			continue
		}
		returns = append(returns, trade.PnL/trade.Position.SizeUSD*100)
	}
	if len(returns) == 0 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	stdDev := math.Sqrt(variance / float64(len(returns)))
	if stdDev == 0 {
		return 0
	}

	return mean / stdDev
}
