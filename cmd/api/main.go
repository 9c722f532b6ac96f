package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/api"
	"github.com/tsanders-rh/panelctl/internal/app"
	"github.com/tsanders-rh/panelctl/internal/config"
	"github.com/tsanders-rh/panelctl/internal/purge"
)

func main() {
	cfg, err := config.NewLoader().Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.Logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Server.JWTSecret == api.DefaultServerConfig().JWTSecret {
		logger.Warn("using default JWT secret, set JWT_SECRET in production")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	server := api.NewServer(&cfg.Server, api.Deps{
		Provisioner:    a.Orchestrator,
		Servers:        a.Store.Servers,
		Ledger:         a.Ledger,
		Users:          a.Store.Users,
		Purges:         purge.NewService(a.Store.PurgeJobs, a.Store.Audit, cfg.Purge, logger),
		Idempotency:    a.Store.Idempotency,
		Nodes:          a.Panel,
		Plans:          a.Plans,
		Database:       a.Store,
		DefaultBalance: cfg.Ledger.Defaults,
	}, logger)

	logger.Info("server configured",
		zap.Int("port", cfg.Server.Port),
		zap.Strings("cors_origins", cfg.Server.AllowedOrigins),
		zap.String("panel_url", cfg.Panel.BaseURL),
		zap.Bool("renewal_enabled", cfg.Provision.Renewal.Enabled))

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}
