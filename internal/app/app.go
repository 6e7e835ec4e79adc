// Package app provides the top-level application lifecycle for the bond
// service. It wires together all dependencies (token backend, stores, cache,
// blob storage, notifications), builds the service layer, and runs the HTTP
// server, WebSocket hub, and maturity watcher until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/convertfi/bondd/internal/config"
	"github.com/convertfi/bondd/internal/factory"
	"github.com/convertfi/bondd/internal/server"
	"github.com/convertfi/bondd/internal/server/handler"
	"github.com/convertfi/bondd/internal/server/ws"
	"github.com/convertfi/bondd/internal/service"
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

// Run is the main entry point. It wires all dependencies, starts the server
// goroutines, and blocks until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Issuance gate.
	gateCfg := factory.Config{
		AllowListEnabled: a.cfg.Issuance.AllowListEnabled,
	}
	if a.cfg.Issuance.Owner != "" {
		gateCfg.Owner = common.HexToAddress(a.cfg.Issuance.Owner)
	}
	for _, addr := range a.cfg.Issuance.AllowList {
		gateCfg.AllowList = append(gateCfg.AllowList, common.HexToAddress(addr))
	}

	svc := service.NewBondService(gateCfg, deps.Opener, service.Deps{
		Bonds:    deps.BondStore,
		Events:   deps.EventStore,
		Bus:      deps.Bus,
		Cache:    deps.Cache,
		Notifier: deps.Notifier,
		Logger:   a.logger,
	})

	g, ctx := errgroup.WithContext(ctx)

	// WebSocket hub, only when a live event feed exists.
	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(svc, a.cfg.Mode, a.logger)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && err != context.Canceled {
				return fmt.Errorf("app: ws hub: %w", err)
			}
			return nil
		})
	}

	// HTTP server.
	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Bonds:  handler.NewBondHandler(svc, a.logger),
	}, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Maturity watcher.
	watcher := NewMaturityWatcher(
		svc,
		deps.Notifier,
		deps.Archiver,
		time.Duration(a.cfg.Watcher.IntervalSeconds)*time.Second,
		a.logger,
	)
	g.Go(func() error {
		if err := watcher.Run(ctx); err != nil && err != context.Canceled {
			return fmt.Errorf("app: maturity watcher: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
