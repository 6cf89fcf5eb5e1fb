package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ai-trading-engine/internal/backtest"
	"ai-trading-engine/internal/market"
	"ai-trading-engine/internal/risk"
)

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	symbols := s.trader.Symbols()
	states := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		states[symbol] = s.controller.State(symbol).String()
	}

	successResponse(c, gin.H{
		"symbols":        symbols,
		"states":         states,
		"open_positions": s.controller.OpenPositions(),
		"trades_today":   s.controller.TradesToday(),
		"balance_usd":    s.balance.Balance(),
		"advisor":        s.advisory.Stats(),
	})
}

func (s *Server) handleEvaluate(c *gin.Context) {
	symbol := c.Param("symbol")

	decision, err := s.trader.EvaluateOnce(c.Request.Context(), symbol)
	if err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	successResponse(c, decision)
}

func (s *Server) handlePositions(c *gin.Context) {
	successResponse(c, s.controller.OpenPositions())
}

func (s *Server) handleClosePosition(c *gin.Context) {
	symbol := c.Param("symbol")

	position, ok := s.controller.Position(symbol)
	if !ok {
		errorResponse(c, http.StatusNotFound, "no open position for "+symbol)
		return
	}

	// Close at the latest available bar close.
	bars, err := s.feed.Klines(c.Request.Context(), symbol, market.Timeframe1m, 1)
	if err != nil || len(bars) == 0 {
		errorResponse(c, http.StatusBadGateway, "cannot fetch a close price for "+symbol)
		return
	}

	closed, err := s.controller.ClosePosition(c.Request.Context(), symbol, bars[len(bars)-1].Close)
	if err != nil {
		errorResponse(c, http.StatusConflict, err.Error())
		return
	}

	s.logger.Info().
		Str("symbol", symbol).
		Str("position_id", position.ID).
		Float64("pnl", closed.PnL).
		Msg("position closed manually")
	successResponse(c, closed)
}

func (s *Server) handleTrades(c *gin.Context) {
	hours := 24
	if raw := c.Query("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			errorResponse(c, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = parsed
	}

	trades, err := s.trades.TradesSince(c.Request.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, trades)
}

func (s *Server) handleAdvisorStats(c *gin.Context) {
	successResponse(c, s.advisory.Stats())
}

func (s *Server) handleRiskParameters(c *gin.Context) {
	successResponse(c, s.riskMgr.Parameters())
}

func (s *Server) handleUpdateRiskParameters(c *gin.Context) {
	var params risk.Parameters
	if err := c.ShouldBindJSON(&params); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid risk parameters: "+err.Error())
		return
	}

	if err := s.riskMgr.UpdateParameters(&params); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info().Interface("params", params).Msg("risk parameters updated")
	successResponse(c, s.riskMgr.Parameters())
}

type backtestRequest struct {
	Symbol            string  `json:"symbol" binding:"required"`
	Timeframe         string  `json:"timeframe"`
	Bars              int     `json:"bars"`
	InitialBalanceUSD float64 `json:"initial_balance_usd"`
}

func (s *Server) handleBacktest(c *gin.Context) {
	var req backtestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid backtest request: "+err.Error())
		return
	}

	timeframe := market.Timeframe(req.Timeframe)
	if req.Timeframe == "" {
		timeframe = market.Timeframe1h
	}
	if req.Bars <= 0 {
		req.Bars = 500
	}
	if req.InitialBalanceUSD <= 0 {
		req.InitialBalanceUSD = 10000
	}

	bars, err := s.feed.Klines(c.Request.Context(), req.Symbol, timeframe, req.Bars)
	if err != nil {
		errorResponse(c, http.StatusBadGateway, "fetching history: "+err.Error())
		return
	}

	sim := backtest.NewSimulator(&backtest.Config{
		Symbol:            req.Symbol,
		Timeframe:         timeframe,
		InitialBalanceUSD: req.InitialBalanceUSD,
	}, s.logger)

	report, err := sim.Run(c.Request.Context(), bars)
	if err != nil {
		errorResponse(c, http.StatusUnprocessableEntity, err.Error())
		return
	}
	successResponse(c, report)
}
