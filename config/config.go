package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerConfig   ServerConfig   `json:"server"`
	DatabaseConfig DatabaseConfig `json:"database"`
	RedisConfig    RedisConfig    `json:"redis"`
	ExchangeConfig ExchangeConfig `json:"exchange"`
	SignalsConfig  SignalsConfig  `json:"signals"`
	RiskConfig     RiskConfig     `json:"risk"`
	EngineConfig   EngineConfig   `json:"engine"`
	GoalsConfig    GoalsConfig    `json:"goals"`
	LoggingConfig  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Port            int      `json:"port"`
	Host            string   `json:"host"`
	ProductionMode  bool     `json:"production_mode"`
	AllowedOrigins  []string `json:"allowed_origins"`
	ShutdownTimeout int      `json:"shutdown_timeout"` // seconds
}

type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis configuration for signal dedup and decision caching
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// ExchangeConfig selects the gateway and its starting state. Paper mode
// simulates instant fills against configured prices.
type ExchangeConfig struct {
	Mode          string             `json:"mode"` // "paper" or "live"
	QuoteCurrency string             `json:"quote_currency"`
	Timezone      string             `json:"timezone"` // exchange-local timezone, e.g. "UTC"
	PaperBalances map[string]float64 `json:"paper_balances"`
	PaperPrices   map[string]float64 `json:"paper_prices"`
}

// SignalsConfig points at the external ML signal service. An empty URL
// falls back to an in-memory queue source (dry mode).
type SignalsConfig struct {
	URL     string        `json:"url"`
	Timeout time.Duration `json:"timeout"`
}

// RiskConfig seeds the initial risk policy. It can be updated at runtime
// through the API; the seed applies at every restart unless persisted.
type RiskConfig struct {
	MaxTradeAmount            float64            `json:"max_trade_amount"`
	MaxDailyVolume            float64            `json:"max_daily_volume"`
	MaxAssetAllocationPercent float64            `json:"max_asset_allocation_percent"`
	ProtectedAssets           []string           `json:"protected_assets"`
	ProtectedReserve          map[string]float64 `json:"protected_reserve"`
	StopLossPercent           float64            `json:"stop_loss_percent"`
	TakeProfitPercent         float64            `json:"take_profit_percent"`
	MaxTradesPerDay           int                `json:"max_trades_per_day"`
	MaxConsecutiveLosses      int                `json:"max_consecutive_losses"`
	MinConfidence             float64            `json:"min_confidence"`
	TradablePairs             []string           `json:"tradable_pairs"`
}

type EngineConfig struct {
	CycleInterval    time.Duration `json:"cycle_interval"`
	ExecutionTimeout time.Duration `json:"execution_timeout"`
	PortfolioTTL     time.Duration `json:"portfolio_ttl"`
	AutoStart        bool          `json:"auto_start"`
}

type GoalsConfig struct {
	DailyTarget   float64 `json:"daily_target"`
	WeeklyTarget  float64 `json:"weekly_target"`
	MonthlyTarget float64 `json:"monthly_target"`
}

type LoggingConfig struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Output     string `json:"output"`      // stdout, stderr, or file path
	JSONFormat bool   `json:"json_format"` // console writer when false
}

func Load() (*Config, error) {
	// First try to load base config from file
	cfg, err := loadFromFile("config.json")
	if err != nil {
		// If no config file, start with empty config
		cfg = &Config{}
	}

	// Apply environment variable overrides (these take precedence)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Server config
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", defaultInt(cfg.ServerConfig.Port, 8080))
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", defaultStr(cfg.ServerConfig.Host, "0.0.0.0"))
	cfg.ServerConfig.ProductionMode = getEnvOrDefault("PRODUCTION_MODE", "false") == "true"
	if origins := os.Getenv("SERVER_ALLOWED_ORIGINS"); origins != "" {
		cfg.ServerConfig.AllowedOrigins = strings.Split(origins, ",")
	}
	cfg.ServerConfig.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", defaultInt(cfg.ServerConfig.ShutdownTimeout, 10))

	// Database config
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", defaultStr(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", defaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", defaultStr(cfg.DatabaseConfig.User, "postgres"))
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", defaultStr(cfg.DatabaseConfig.Database, "trading_assistant"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", defaultStr(cfg.DatabaseConfig.SSLMode, "disable"))

	// Redis config
	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "true") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", defaultStr(cfg.RedisConfig.Address, "localhost:6379"))
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)
	cfg.RedisConfig.PoolSize = getEnvIntOrDefault("REDIS_POOL_SIZE", defaultInt(cfg.RedisConfig.PoolSize, 10))

	// Exchange config
	cfg.ExchangeConfig.Mode = getEnvOrDefault("EXCHANGE_MODE", defaultStr(cfg.ExchangeConfig.Mode, "paper"))
	cfg.ExchangeConfig.QuoteCurrency = getEnvOrDefault("QUOTE_CURRENCY", defaultStr(cfg.ExchangeConfig.QuoteCurrency, "USDT"))
	cfg.ExchangeConfig.Timezone = getEnvOrDefault("EXCHANGE_TIMEZONE", defaultStr(cfg.ExchangeConfig.Timezone, "UTC"))

	// Signals config
	cfg.SignalsConfig.URL = getEnvOrDefault("SIGNALS_URL", cfg.SignalsConfig.URL)
	cfg.SignalsConfig.Timeout = getEnvDurationOrDefault("SIGNALS_TIMEOUT", defaultDur(cfg.SignalsConfig.Timeout, 10*time.Second))

	// Risk config
	cfg.RiskConfig.MaxTradeAmount = getEnvFloatOrDefault("RISK_MAX_TRADE_AMOUNT", defaultFloat(cfg.RiskConfig.MaxTradeAmount, 5000))
	cfg.RiskConfig.MaxDailyVolume = getEnvFloatOrDefault("RISK_MAX_DAILY_VOLUME", defaultFloat(cfg.RiskConfig.MaxDailyVolume, 10000))
	cfg.RiskConfig.MaxAssetAllocationPercent = getEnvFloatOrDefault("RISK_MAX_ASSET_ALLOCATION", defaultFloat(cfg.RiskConfig.MaxAssetAllocationPercent, 50))
	cfg.RiskConfig.StopLossPercent = getEnvFloatOrDefault("RISK_STOP_LOSS_PERCENT", defaultFloat(cfg.RiskConfig.StopLossPercent, 5))
	cfg.RiskConfig.TakeProfitPercent = getEnvFloatOrDefault("RISK_TAKE_PROFIT_PERCENT", defaultFloat(cfg.RiskConfig.TakeProfitPercent, 10))
	cfg.RiskConfig.MaxTradesPerDay = getEnvIntOrDefault("RISK_MAX_TRADES_PER_DAY", defaultInt(cfg.RiskConfig.MaxTradesPerDay, 20))
	cfg.RiskConfig.MaxConsecutiveLosses = getEnvIntOrDefault("RISK_MAX_CONSECUTIVE_LOSSES", defaultInt(cfg.RiskConfig.MaxConsecutiveLosses, 3))
	cfg.RiskConfig.MinConfidence = getEnvFloatOrDefault("RISK_MIN_CONFIDENCE", defaultFloat(cfg.RiskConfig.MinConfidence, 0.6))
	if pairs := os.Getenv("RISK_TRADABLE_PAIRS"); pairs != "" {
		cfg.RiskConfig.TradablePairs = strings.Split(pairs, ",")
	}
	if protected := os.Getenv("RISK_PROTECTED_ASSETS"); protected != "" {
		cfg.RiskConfig.ProtectedAssets = strings.Split(protected, ",")
	}

	// Engine config
	cfg.EngineConfig.CycleInterval = getEnvDurationOrDefault("ENGINE_CYCLE_INTERVAL", defaultDur(cfg.EngineConfig.CycleInterval, 30*time.Second))
	cfg.EngineConfig.ExecutionTimeout = getEnvDurationOrDefault("ENGINE_EXECUTION_TIMEOUT", defaultDur(cfg.EngineConfig.ExecutionTimeout, 10*time.Second))
	cfg.EngineConfig.PortfolioTTL = getEnvDurationOrDefault("ENGINE_PORTFOLIO_TTL", defaultDur(cfg.EngineConfig.PortfolioTTL, 15*time.Second))
	cfg.EngineConfig.AutoStart = getEnvOrDefault("ENGINE_AUTO_START", "false") == "true"

	// Goals config
	cfg.GoalsConfig.DailyTarget = getEnvFloatOrDefault("GOALS_DAILY_TARGET", defaultFloat(cfg.GoalsConfig.DailyTarget, 100))
	cfg.GoalsConfig.WeeklyTarget = getEnvFloatOrDefault("GOALS_WEEKLY_TARGET", defaultFloat(cfg.GoalsConfig.WeeklyTarget, 600))
	cfg.GoalsConfig.MonthlyTarget = getEnvFloatOrDefault("GOALS_MONTHLY_TARGET", defaultFloat(cfg.GoalsConfig.MonthlyTarget, 2500))

	// Logging config
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", defaultStr(cfg.LoggingConfig.Level, "info"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", defaultStr(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
}

// Validate rejects configurations the process cannot safely start with.
func (c *Config) Validate() error {
	if c.ExchangeConfig.Mode != "paper" && c.ExchangeConfig.Mode != "live" {
		return fmt.Errorf("exchange mode must be \"paper\" or \"live\", got %q", c.ExchangeConfig.Mode)
	}
	if _, err := time.LoadLocation(c.ExchangeConfig.Timezone); err != nil {
		return fmt.Errorf("invalid exchange timezone %q: %w", c.ExchangeConfig.Timezone, err)
	}
	if len(c.RiskConfig.TradablePairs) == 0 {
		return fmt.Errorf("at least one tradable pair is required")
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

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func defaultInt(v, fallback int) int {
	if v == 0 {
		return fallback
	}
	return v
}

func defaultFloat(v, fallback float64) float64 {
	if v == 0 {
		return fallback
	}
	return v
}

func defaultDur(v, fallback time.Duration) time.Duration {
	if v == 0 {
		return fallback
	}
	return v
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Config{
		ServerConfig: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			AllowedOrigins:  []string{"http://localhost:5173"},
			ShutdownTimeout: 10,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "",
			Database: "trading_assistant",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled:  true,
			Address:  "localhost:6379",
			DB:       0,
			PoolSize: 10,
		},
		SignalsConfig: SignalsConfig{
			URL:     "http://localhost:9090",
			Timeout: 10 * time.Second,
		},
		ExchangeConfig: ExchangeConfig{
			Mode:          "paper",
			QuoteCurrency: "USDT",
			Timezone:      "UTC",
			PaperBalances: map[string]float64{"USDT": 50000, "BTC": 0.5},
			PaperPrices:   map[string]float64{"BTC": 65000, "ETH": 3200, "XRP": 0.55},
		},
		RiskConfig: RiskConfig{
			MaxTradeAmount:            5000,
			MaxDailyVolume:            10000,
			MaxAssetAllocationPercent: 50,
			ProtectedAssets:           []string{"XRP"},
			ProtectedReserve:          map[string]float64{"XRP": 1000},
			StopLossPercent:           5,
			TakeProfitPercent:         10,
			MaxTradesPerDay:           20,
			MaxConsecutiveLosses:      3,
			MinConfidence:             0.6,
			TradablePairs:             []string{"BTCUSDT", "ETHUSDT", "XRPUSDT"},
		},
		EngineConfig: EngineConfig{
			CycleInterval:    30 * time.Second,
			ExecutionTimeout: 10 * time.Second,
			PortfolioTTL:     15 * time.Second,
		},
		GoalsConfig: GoalsConfig{
			DailyTarget:   100,
			WeeklyTarget:  600,
			MonthlyTarget: 2500,
		},
		LoggingConfig: LoggingConfig{
			Level:      "info",
			Output:     "stdout",
			JSONFormat: true,
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
