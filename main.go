package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ai-trading-engine/config"
	"ai-trading-engine/internal/advisor"
	"ai-trading-engine/internal/api"
	"ai-trading-engine/internal/bot"
	"ai-trading-engine/internal/events"
	"ai-trading-engine/internal/execution"
	"ai-trading-engine/internal/logging"
	"ai-trading-engine/internal/market"
	"ai-trading-engine/internal/risk"
	"ai-trading-engine/internal/store"
	"ai-trading-engine/internal/strategy"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		l := logging.New(logging.DefaultConfig())
		l.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(logging.Config{
		Level:  cfg.LoggingConfig.Level,
		Pretty: cfg.LoggingConfig.Pretty,
	})
	logger.Info().Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()

	// Market data: the simulated feed replaces the exchange in mock mode.
	var feed market.Feed
	if cfg.MarketConfig.MockMode {
		feed = market.NewSimulatedFeed(cfg.MarketConfig.MockSeed)
		logger.Warn().Msg("mock mode enabled, using simulated market data")
	} else {
		feed = market.NewWSFeed(&market.WSFeedConfig{
			StreamURL: cfg.MarketConfig.WSBaseURL,
			RestURL:   cfg.MarketConfig.BaseURL,
		}, logger)
	}

	// Trade persistence: postgres when configured, in-memory otherwise.
	var trades store.TradeStore
	if cfg.DatabaseConfig.Enabled {
		pg, err := store.NewPostgresStore(ctx, store.PostgresConfig{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		trades = pg
	} else {
		trades = store.NewMemoryStore()
		logger.Info().Msg("database disabled, trades held in memory")
	}
	defer trades.Close()

	// Verdict cache: redis shares one advisory budget across processes.
	var cache advisor.VerdictCache
	if cfg.RedisConfig.Enabled {
		cache = advisor.NewRedisCache(advisor.RedisCacheConfig{
			Address:  cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			TTL:      cfg.AdvisorConfig.CacheTTL,
		}, logger)
	} else {
		cache = advisor.NewMemoryCache(cfg.AdvisorConfig.CacheTTL)
	}

	consultant := advisor.NewLLMClient(&advisor.ClientConfig{
		Provider: advisor.Provider(cfg.AdvisorConfig.Provider),
		APIKey:   cfg.AdvisorConfig.APIKey,
		Model:    cfg.AdvisorConfig.Model,
	})
	advisory := advisor.NewService(&advisor.ServiceConfig{
		MinimumSignalStrength: cfg.AdvisorConfig.MinimumSignalStrength,
		ValidationThreshold:   cfg.AdvisorConfig.ValidationThreshold,
		CacheTTL:              cfg.AdvisorConfig.CacheTTL,
		DailyCallLimit:        cfg.AdvisorConfig.DailyCallLimit,
	}, consultant, cache, logger)

	riskParams := &risk.Parameters{
		PositionSizeUSD:     cfg.RiskConfig.PositionSizeUSD,
		MaxPositionSizeUSD:  cfg.RiskConfig.MaxPositionSizeUSD,
		RiskPercentPerTrade: cfg.RiskConfig.RiskPercentPerTrade,
		StopLossPercent:     cfg.RiskConfig.StopLossPercent,
		TakeProfitPercent:   cfg.RiskConfig.TakeProfitPercent,
	}
	if err := riskParams.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid risk parameters")
	}
	riskManager := risk.NewManager(riskParams, logger)

	port := execution.NewPaperPort(cfg.TradingConfig.PaperBalanceUSD)
	controller := execution.NewController(&execution.ControllerConfig{
		MaxTradesPerDay:  cfg.TradingConfig.MaxTradesPerDay,
		SignalCooldown:   cfg.TradingConfig.SignalCooldown,
		ReversalStrength: cfg.TradingConfig.ReversalStrength,
		OrderTimeout:     cfg.TradingConfig.OrderTimeout,
	}, port, trades, bus, logger)

	trader := bot.New(
		&bot.Config{
			Symbols:   cfg.TradingConfig.Symbols,
			Timeframe: market.Timeframe(cfg.TradingConfig.Timeframe),
		},
		feed,
		strategy.NewEngine(nil),
		advisory,
		riskManager,
		controller,
		port,
		bus,
		logger,
	)

	if err := trader.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start trading loop")
	}

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.ServerConfig.Host,
		Port:           cfg.ServerConfig.Port,
		ProductionMode: cfg.ServerConfig.ProductionMode,
	}, trader, controller, advisory, trades, feed, riskManager, port, bus, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	trader.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}

	logger.Info().Msg("goodbye")
}
