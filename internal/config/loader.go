package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUNDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── KuCoin ──
	setStr(&cfg.Kucoin.BaseURL, "FUNDBOT_KUCOIN_BASE_URL")
	setStr(&cfg.Kucoin.ApiKey, "FUNDBOT_KUCOIN_API_KEY")
	setStr(&cfg.Kucoin.ApiSecret, "FUNDBOT_KUCOIN_API_SECRET")
	setStr(&cfg.Kucoin.ApiPassphrase, "FUNDBOT_KUCOIN_API_PASSPHRASE")
	setInt(&cfg.Kucoin.SymbolLimit, "FUNDBOT_KUCOIN_SYMBOL_LIMIT")

	// ── Bybit ──
	setStr(&cfg.Bybit.BaseURL, "FUNDBOT_BYBIT_BASE_URL")
	setStr(&cfg.Bybit.ApiKey, "FUNDBOT_BYBIT_API_KEY")
	setStr(&cfg.Bybit.ApiSecret, "FUNDBOT_BYBIT_API_SECRET")
	setInt(&cfg.Bybit.RecvWindow, "FUNDBOT_BYBIT_RECV_WINDOW_MS")

	// ── Market / screener / trading ──
	setInt(&cfg.Market.CacheTTLSec, "FUNDBOT_MARKET_CACHE_TTL_SEC")
	setBool(&cfg.Market.BackgroundWarmup, "FUNDBOT_MARKET_BACKGROUND_WARMUP")
	setStr(&cfg.Screener.PrimaryClock, "FUNDBOT_SCREENER_PRIMARY_CLOCK")
	setFloat64(&cfg.Trading.MaxOrderTokens, "FUNDBOT_TRADING_MAX_ORDER_TOKENS")
	setFloat64(&cfg.Trading.MaxOrderNotional, "FUNDBOT_TRADING_MAX_ORDER_NOTIONAL")
	setInt(&cfg.Trading.LockTTLSec, "FUNDBOT_TRADING_LOCK_TTL_SEC")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "FUNDBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FUNDBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUNDBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "FUNDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUNDBOT_REDIS_MAX_RETRIES")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "FUNDBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUNDBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "FUNDBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveAfterDay, "FUNDBOT_S3_ARCHIVE_AFTER_DAYS")
	setInt(&cfg.S3.IntervalMin, "FUNDBOT_S3_INTERVAL_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhook, "FUNDBOT_NOTIFY_DISCORD_WEBHOOK")

	// ── Server ──
	setInt(&cfg.Server.Port, "FUNDBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "FUNDBOT_SERVER_API_KEY")

	setStr(&cfg.LogLevel, "FUNDBOT_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
