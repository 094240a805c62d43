// Package config defines the top-level configuration for the funding bot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUNDBOT_* environment variables.
type Config struct {
	Kucoin   KucoinConfig   `toml:"kucoin"`
	Bybit    BybitConfig    `toml:"bybit"`
	Market   MarketConfig   `toml:"market"`
	Screener ScreenerConfig `toml:"screener"`
	Trading  TradingConfig  `toml:"trading"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Server   ServerConfig   `toml:"server"`
	LogLevel string         `toml:"log_level"`
}

// KucoinConfig holds KuCoin Futures API parameters.
type KucoinConfig struct {
	BaseURL       string `toml:"base_url"`
	ApiKey        string `toml:"api_key"`
	ApiSecret     string `toml:"api_secret"`
	ApiPassphrase string `toml:"api_passphrase"`
	SymbolLimit   int    `toml:"symbol_limit"`
	TimeoutSec    int    `toml:"timeout_sec"`
}

// BybitConfig holds Bybit v5 API parameters.
type BybitConfig struct {
	BaseURL    string `toml:"base_url"`
	ApiKey     string `toml:"api_key"`
	ApiSecret  string `toml:"api_secret"`
	RecvWindow int    `toml:"recv_window_ms"`
	TimeoutSec int    `toml:"timeout_sec"`
}

// MarketConfig holds market snapshot cache parameters.
type MarketConfig struct {
	CacheTTLSec      int  `toml:"cache_ttl_sec"`
	BackgroundWarmup bool `toml:"background_warmup"`
}

// TTL returns the snapshot time-to-live as a duration.
func (c MarketConfig) TTL() time.Duration {
	return time.Duration(c.CacheTTLSec) * time.Second
}

// ScreenerConfig holds opportunity matching parameters.
type ScreenerConfig struct {
	// PrimaryClock names the venue whose next-funding-time is preferred when
	// both venues report one. The other venue is the fallback.
	PrimaryClock string `toml:"primary_clock"`
}

// TradingConfig holds per-order safety limits for the trade executor.
type TradingConfig struct {
	MaxOrderTokens   float64 `toml:"max_order_tokens"`
	MaxOrderNotional float64 `toml:"max_order_notional"`
	LockTTLSec       int     `toml:"lock_ttl_sec"`
}

// PostgresConfig holds PostgreSQL connection parameters for the trade ledger.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis is optional; when Addr
// is empty the per-symbol trade lock falls back to an in-process mutex.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
}

// S3Config holds object storage parameters for the trade archiver. Optional;
// archiving is disabled when Bucket is empty.
type S3Config struct {
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	AccessKey       string `toml:"access_key"`
	SecretKey       string `toml:"secret_key"`
	ForcePathStyle  bool   `toml:"force_path_style"`
	ArchiveAfterDay int    `toml:"archive_after_days"`
	IntervalMin     int    `toml:"interval_min"`
}

// NotifyConfig holds operator alert channels.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
	Events         []string `toml:"events"`
}

// ServerConfig holds the HTTP API server configuration.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// Defaults returns a Config populated with sane defaults for every field that
// has one. Credentials default to empty and must come from the TOML file or
// the environment.
func Defaults() Config {
	return Config{
		Kucoin: KucoinConfig{
			BaseURL:     "https://api-futures.kucoin.com",
			SymbolLimit: 100,
			TimeoutSec:  15,
		},
		Bybit: BybitConfig{
			BaseURL:    "https://api.bybit.com",
			RecvWindow: 5000,
			TimeoutSec: 15,
		},
		Market: MarketConfig{
			CacheTTLSec: 60,
		},
		Screener: ScreenerConfig{
			PrimaryClock: "bybit",
		},
		Trading: TradingConfig{
			MaxOrderTokens:   10000,
			MaxOrderNotional: 25000,
			LockTTLSec:       30,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   8,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:          "us-east-1",
			ArchiveAfterDay: 30,
			IntervalMin:     60,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for values that would make the process
// unable to run safely. It returns the first problem found.
func (c *Config) Validate() error {
	if c.Market.CacheTTLSec <= 0 {
		return fmt.Errorf("config: market.cache_ttl_sec must be positive, got %d", c.Market.CacheTTLSec)
	}
	if c.Trading.MaxOrderTokens <= 0 {
		return fmt.Errorf("config: trading.max_order_tokens must be positive, got %v", c.Trading.MaxOrderTokens)
	}
	if c.Trading.MaxOrderNotional <= 0 {
		return fmt.Errorf("config: trading.max_order_notional must be positive, got %v", c.Trading.MaxOrderNotional)
	}
	switch strings.ToLower(c.Screener.PrimaryClock) {
	case "kucoin", "bybit":
	default:
		return fmt.Errorf("config: screener.primary_clock must be %q or %q, got %q", "kucoin", "bybit", c.Screener.PrimaryClock)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port out of range: %d", c.Server.Port)
	}
	if c.Postgres.DSN == "" && c.Postgres.Host == "" {
		return fmt.Errorf("config: postgres.dsn or postgres.host is required")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}
