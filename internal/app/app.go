// Package app provides top-level lifecycle management for the funding bot.
// It wires together all dependencies (venue adapters, market cache, matcher,
// executor, ledger, locks, notifications) and runs the HTTP API with its
// background loops until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundingbot/internal/config"
	"github.com/alanyoungcy/fundingbot/internal/server"
	"github.com/alanyoungcy/fundingbot/internal/server/handler"
)

// shutdownGrace is how long in-flight HTTP requests get to finish.
const shutdownGrace = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts the event hub, optional background
// loops, and the HTTP server, then blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	nameA := deps.VenueA.Name()
	nameB := deps.VenueB.Name()

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.logger),
		Market:   handler.NewMarketHandler(deps.Cache, deps.VenueA, deps.VenueB, a.logger),
		Screener: handler.NewScreenerHandler(deps.Cache, deps.Matcher, nameA, nameB, a.logger),
		Trade:    handler.NewTradeHandler(deps.Executor, deps.TradeLedger, nameA, nameB, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, deps.Hub, a.logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return ignoreCancel(deps.Hub.Run(gctx))
	})

	if a.cfg.Market.BackgroundWarmup {
		g.Go(func() error {
			a.warmupLoop(gctx, deps)
			return nil
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return ignoreCancel(deps.Archiver.Run(gctx))
		})
	}

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// warmupLoop refreshes the market snapshot shortly before its TTL expires so
// dashboard reads stay warm instead of paying the refresh latency.
func (a *App) warmupLoop(ctx context.Context, deps *Dependencies) {
	interval := a.cfg.Market.TTL() * 9 / 10
	if interval <= 0 {
		interval = time.Minute
	}

	a.logger.Info("snapshot warmup started", slog.Duration("interval", interval))
	defer a.logger.Info("snapshot warmup stopped")

	deps.Cache.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deps.Cache.Refresh(ctx)
		}
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// ignoreCancel maps context cancellation to a clean exit so background loops
// do not turn an orderly shutdown into an error.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
