package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"ai-trading-engine/internal/advisor"
	"ai-trading-engine/internal/bot"
	"ai-trading-engine/internal/events"
	"ai-trading-engine/internal/execution"
	"ai-trading-engine/internal/market"
	"ai-trading-engine/internal/risk"
	"ai-trading-engine/internal/store"
)

// RateLimiter provides simple in-memory rate limiting per endpoint.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ProductionMode bool   `json:"production_mode"`
}

// Server exposes the pipeline over HTTP: status, on-demand evaluation,
// trade history, risk settings, backtests and a websocket event stream.
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      ServerConfig
	trader      *bot.Bot
	controller  *execution.Controller
	advisory    *advisor.Service
	trades      store.TradeStore
	feed        market.Feed
	riskMgr     *risk.Manager
	balance     bot.BalanceProvider
	bus         *events.Bus
	rateLimiter *RateLimiter
	logger      zerolog.Logger
	started     time.Time
}

// NewServer wires the API surface.
func NewServer(
	config ServerConfig,
	trader *bot.Bot,
	controller *execution.Controller,
	advisory *advisor.Service,
	trades store.TradeStore,
	feed market.Feed,
	riskMgr *risk.Manager,
	balance bot.BalanceProvider,
	bus *events.Bus,
	logger zerolog.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		config:      config,
		trader:      trader,
		controller:  controller,
		advisory:    advisory,
		trades:      trades,
		feed:        feed,
		riskMgr:     riskMgr,
		balance:     balance,
		bus:         bus,
		rateLimiter: NewRateLimiter(120, time.Minute),
		logger:      logger.With().Str("component", "api").Logger(),
		started:     time.Now(),
	}

	server.setupRoutes()
	return server
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   true,
				"message": "rate limit exceeded",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	{
		api.GET("/status", s.handleStatus)
		api.POST("/evaluate/:symbol", s.handleEvaluate)
		api.GET("/positions", s.handlePositions)
		api.POST("/positions/:symbol/close", s.handleClosePosition)
		api.GET("/trades", s.handleTrades)
		api.GET("/advisor/stats", s.handleAdvisorStats)
		api.GET("/risk", s.handleRiskParameters)
		api.PUT("/risk", s.handleUpdateRiskParameters)
		api.POST("/backtest", s.handleBacktest)
	}

	s.router.GET("/ws", s.handleEventStream)
}

// Start runs the HTTP listener until it is shut down.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("http server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info().Msg("shutting down http server")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
