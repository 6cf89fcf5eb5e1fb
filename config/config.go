package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration. Values load from config.json
// first; environment variables override the file.
type Config struct {
	ServerConfig   ServerConfig   `json:"server"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	MarketConfig   MarketConfig   `json:"market"`
	TradingConfig  TradingConfig  `json:"trading"`
	AdvisorConfig  AdvisorConfig  `json:"advisor"`
	RiskConfig     RiskConfig     `json:"risk"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	ProductionMode bool   `json:"production_mode"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type MarketConfig struct {
	BaseURL   string `json:"base_url"`
	WSBaseURL string `json:"ws_base_url"`
	MockMode  bool   `json:"mock_mode"` // use simulated data instead of the exchange
	MockSeed  int64  `json:"mock_seed"`
}

type TradingConfig struct {
	Symbols          []string      `json:"symbols"`
	Timeframe        string        `json:"timeframe"`
	PaperBalanceUSD  float64       `json:"paper_balance_usd"`
	MaxTradesPerDay  int           `json:"max_trades_per_day"`
	SignalCooldown   time.Duration `json:"signal_cooldown"`
	ReversalStrength float64       `json:"reversal_strength"`
	OrderTimeout     time.Duration `json:"order_timeout"`
}

type AdvisorConfig struct {
	Provider              string        `json:"provider"` // "claude", "openai" or "deepseek"
	APIKey                string        `json:"api_key"`
	Model                 string        `json:"model"`
	MinimumSignalStrength float64       `json:"minimum_signal_strength"`
	ValidationThreshold   float64       `json:"validation_threshold"`
	CacheTTL              time.Duration `json:"cache_ttl"`
	DailyCallLimit        int           `json:"daily_call_limit"`
}

type RiskConfig struct {
	PositionSizeUSD     float64 `json:"position_size_usd"`
	MaxPositionSizeUSD  float64 `json:"max_position_size_usd"`
	RiskPercentPerTrade float64 `json:"risk_percent_per_trade"`
	StopLossPercent     float64 `json:"stop_loss_percent"`
	TakeProfitPercent   float64 `json:"take_profit_percent"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// Load reads config.json if present and applies environment overrides.
func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// Server
	cfg.ServerConfig.Host = getEnvOrDefault("SERVER_HOST", withDefault(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.Port = getEnvIntOrDefault("SERVER_PORT", withDefaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("SERVER_PRODUCTION", boolString(cfg.ServerConfig.ProductionMode)) == "true"

	// Database
	cfg.DatabaseConfig.Enabled = getEnvOrDefault("DB_ENABLED", boolString(cfg.DatabaseConfig.Enabled)) == "true"
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", withDefault(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", withDefaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", withDefault(cfg.DatabaseConfig.User, "trading"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", withDefault(cfg.DatabaseConfig.Database, "trading"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", withDefault(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", boolString(cfg.RedisConfig.Enabled)) == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", withDefault(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Market data
	cfg.MarketConfig.BaseURL = getEnvOrDefault("MARKET_BASE_URL", withDefault(cfg.MarketConfig.BaseURL, "https://api.binance.com"))
	cfg.MarketConfig.WSBaseURL = getEnvOrDefault("MARKET_WS_BASE_URL", withDefault(cfg.MarketConfig.WSBaseURL, "wss://stream.binance.com:9443"))
	cfg.MarketConfig.MockMode = getEnvOrDefault("MOCK_MODE", boolString(cfg.MarketConfig.MockMode)) == "true"
	cfg.MarketConfig.MockSeed = int64(getEnvIntOrDefault("MOCK_SEED", int(cfg.MarketConfig.MockSeed)))

	// Trading
	if raw := os.Getenv("TRADING_SYMBOLS"); raw != "" {
		cfg.TradingConfig.Symbols = splitSymbols(raw)
	}
	if len(cfg.TradingConfig.Symbols) == 0 {
		cfg.TradingConfig.Symbols = []string{"BTCUSDT"}
	}
	cfg.TradingConfig.Timeframe = getEnvOrDefault("TRADING_TIMEFRAME", withDefault(cfg.TradingConfig.Timeframe, "1h"))
	cfg.TradingConfig.PaperBalanceUSD = getEnvFloatOrDefault("TRADING_PAPER_BALANCE", withDefaultFloat(cfg.TradingConfig.PaperBalanceUSD, 10000))
	cfg.TradingConfig.MaxTradesPerDay = getEnvIntOrDefault("TRADING_MAX_TRADES_PER_DAY", withDefaultInt(cfg.TradingConfig.MaxTradesPerDay, 3))
	cfg.TradingConfig.SignalCooldown = getEnvDurationOrDefault("TRADING_SIGNAL_COOLDOWN", withDefaultDuration(cfg.TradingConfig.SignalCooldown, 15*time.Minute))
	cfg.TradingConfig.ReversalStrength = getEnvFloatOrDefault("TRADING_REVERSAL_STRENGTH", withDefaultFloat(cfg.TradingConfig.ReversalStrength, 0.7))
	cfg.TradingConfig.OrderTimeout = getEnvDurationOrDefault("TRADING_ORDER_TIMEOUT", withDefaultDuration(cfg.TradingConfig.OrderTimeout, 10*time.Second))

	// Advisor
	cfg.AdvisorConfig.Provider = getEnvOrDefault("ADVISOR_PROVIDER", withDefault(cfg.AdvisorConfig.Provider, "claude"))
	cfg.AdvisorConfig.APIKey = getEnvOrDefault("ADVISOR_API_KEY", cfg.AdvisorConfig.APIKey)
	cfg.AdvisorConfig.Model = getEnvOrDefault("ADVISOR_MODEL", cfg.AdvisorConfig.Model)
	cfg.AdvisorConfig.MinimumSignalStrength = getEnvFloatOrDefault("ADVISOR_MIN_SIGNAL_STRENGTH", withDefaultFloat(cfg.AdvisorConfig.MinimumSignalStrength, 0.7))
	cfg.AdvisorConfig.ValidationThreshold = getEnvFloatOrDefault("ADVISOR_VALIDATION_THRESHOLD", withDefaultFloat(cfg.AdvisorConfig.ValidationThreshold, 80))
	cfg.AdvisorConfig.CacheTTL = getEnvDurationOrDefault("ADVISOR_CACHE_TTL", withDefaultDuration(cfg.AdvisorConfig.CacheTTL, 15*time.Minute))
	cfg.AdvisorConfig.DailyCallLimit = getEnvIntOrDefault("ADVISOR_DAILY_CALL_LIMIT", withDefaultInt(cfg.AdvisorConfig.DailyCallLimit, 50))

	// Risk
	cfg.RiskConfig.PositionSizeUSD = getEnvFloatOrDefault("RISK_POSITION_SIZE", withDefaultFloat(cfg.RiskConfig.PositionSizeUSD, 100))
	cfg.RiskConfig.MaxPositionSizeUSD = getEnvFloatOrDefault("RISK_MAX_POSITION_SIZE", withDefaultFloat(cfg.RiskConfig.MaxPositionSizeUSD, 500))
	cfg.RiskConfig.RiskPercentPerTrade = getEnvFloatOrDefault("RISK_PERCENT_PER_TRADE", withDefaultFloat(cfg.RiskConfig.RiskPercentPerTrade, 1.5))
	cfg.RiskConfig.StopLossPercent = getEnvFloatOrDefault("RISK_STOP_LOSS_PERCENT", withDefaultFloat(cfg.RiskConfig.StopLossPercent, 2.0))
	cfg.RiskConfig.TakeProfitPercent = getEnvFloatOrDefault("RISK_TAKE_PROFIT_PERCENT", withDefaultFloat(cfg.RiskConfig.TakeProfitPercent, 3.0))

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", withDefault(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.Pretty = getEnvOrDefault("LOG_PRETTY", boolString(cfg.LoggingConfig.Pretty)) == "true"
}

// Validate rejects configurations the pipeline cannot start with.
func (c *Config) Validate() error {
	if c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.ServerConfig.Port)
	}
	if len(c.TradingConfig.Symbols) == 0 {
		return fmt.Errorf("at least one trading symbol is required")
	}
	if c.TradingConfig.PaperBalanceUSD <= 0 {
		return fmt.Errorf("paper balance must be positive, got %.2f", c.TradingConfig.PaperBalanceUSD)
	}
	if c.TradingConfig.MaxTradesPerDay <= 0 {
		return fmt.Errorf("max trades per day must be positive, got %d", c.TradingConfig.MaxTradesPerDay)
	}
	if c.AdvisorConfig.DailyCallLimit < 0 {
		return fmt.Errorf("advisor daily call limit cannot be negative, got %d", c.AdvisorConfig.DailyCallLimit)
	}
	if c.AdvisorConfig.MinimumSignalStrength < 0 || c.AdvisorConfig.MinimumSignalStrength > 1 {
		return fmt.Errorf("minimum signal strength %.2f outside [0,1]", c.AdvisorConfig.MinimumSignalStrength)
	}
	if c.RiskConfig.PositionSizeUSD <= 0 || c.RiskConfig.MaxPositionSizeUSD <= 0 {
		return fmt.Errorf("position sizes must be positive")
	}
	if c.RiskConfig.StopLossPercent <= 0 {
		return fmt.Errorf("stop loss percent must be positive, got %.2f", c.RiskConfig.StopLossPercent)
	}
	if c.RiskConfig.StopLossPercent >= c.RiskConfig.TakeProfitPercent {
		return fmt.Errorf("stop loss %.2f must be below take profit %.2f", c.RiskConfig.StopLossPercent, c.RiskConfig.TakeProfitPercent)
	}
	if c.DatabaseConfig.Enabled && c.DatabaseConfig.Password == "" {
		return fmt.Errorf("database password is required when the database is enabled")
	}
	return nil
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(strings.ToUpper(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func withDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func withDefaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func withDefaultFloat(value, fallback float64) float64 {
	if value == 0 {
		return fallback
	}
	return value
}

func withDefaultDuration(value, fallback time.Duration) time.Duration {
	if value == 0 {
		return fallback
	}
	return value
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
