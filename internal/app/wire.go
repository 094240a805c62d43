package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/fundingbot/internal/blob/s3"
	"github.com/alanyoungcy/fundingbot/internal/cache/redis"
	"github.com/alanyoungcy/fundingbot/internal/config"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/executor"
	"github.com/alanyoungcy/fundingbot/internal/marketdata"
	"github.com/alanyoungcy/fundingbot/internal/notify"
	"github.com/alanyoungcy/fundingbot/internal/screener"
	"github.com/alanyoungcy/fundingbot/internal/server/ws"
	"github.com/alanyoungcy/fundingbot/internal/store/postgres"
	"github.com/alanyoungcy/fundingbot/internal/venue/bybit"
	"github.com/alanyoungcy/fundingbot/internal/venue/kucoin"
)

// Dependencies bundles everything the serving loop needs. Constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	VenueA domain.VenueAdapter
	VenueB domain.VenueAdapter

	Cache    *marketdata.Cache
	Matcher  *screener.Matcher
	Executor *executor.Executor

	TradeLedger domain.TradeLedger
	LockManager domain.LockManager

	Hub      *ws.Hub
	Notifier *notify.Notifier

	// Archiver is nil when no S3 bucket is configured.
	Archiver *s3blob.Archiver
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL trade ledger ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.TradeLedger = postgres.NewTradeStore(pgClient.Pool())

	// --- Per-symbol trade lock ---
	// Redis backs the lock when configured so multiple instances exclude each
	// other; otherwise an in-process lock covers the single-instance case.
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.LockManager = redis.NewLockManager(redisClient)
	} else {
		deps.LockManager = executor.NewMemoryLockManager()
	}

	// --- Venue adapters ---
	deps.VenueA = kucoin.NewClient(kucoin.Config{
		BaseURL:       cfg.Kucoin.BaseURL,
		ApiKey:        cfg.Kucoin.ApiKey,
		ApiSecret:     cfg.Kucoin.ApiSecret,
		ApiPassphrase: cfg.Kucoin.ApiPassphrase,
		SymbolLimit:   cfg.Kucoin.SymbolLimit,
		Timeout:       time.Duration(cfg.Kucoin.TimeoutSec) * time.Second,
	})
	deps.VenueB = bybit.NewClient(bybit.Config{
		BaseURL:    cfg.Bybit.BaseURL,
		ApiKey:     cfg.Bybit.ApiKey,
		ApiSecret:  cfg.Bybit.ApiSecret,
		RecvWindow: cfg.Bybit.RecvWindow,
		Timeout:    time.Duration(cfg.Bybit.TimeoutSec) * time.Second,
	})

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Event hub, market cache, matcher, executor ---
	deps.Hub = ws.NewHub(logger)

	deps.Cache = marketdata.NewCache(
		deps.VenueA,
		deps.VenueB,
		cfg.Market.TTL(),
		logger,
		marketdata.WithEventSink(deps.Hub),
	)
	deps.Matcher = screener.NewMatcher(cfg.Screener.PrimaryClock)
	deps.Executor = executor.New(
		deps.VenueA,
		deps.VenueB,
		deps.Cache,
		deps.TradeLedger,
		deps.LockManager,
		executor.Config{
			MaxOrderTokens:   cfg.Trading.MaxOrderTokens,
			MaxOrderNotional: cfg.Trading.MaxOrderNotional,
			LockTTL:          time.Duration(cfg.Trading.LockTTLSec) * time.Second,
		},
		logger,
		executor.WithNotifier(deps.Notifier),
		executor.WithEventSink(deps.Hub),
	)

	// --- S3 trade archiver (optional) ---
	if cfg.S3.Bucket != "" {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			s3Client,
			deps.TradeLedger,
			time.Duration(cfg.S3.ArchiveAfterDay)*24*time.Hour,
			time.Duration(cfg.S3.IntervalMin)*time.Minute,
			logger,
		)
	}

	return deps, cleanup, nil
}
