package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tsanders-rh/panelctl/internal/app"
	"github.com/tsanders-rh/panelctl/internal/config"
	"github.com/tsanders-rh/panelctl/internal/janitor"
	"github.com/tsanders-rh/panelctl/internal/purge"
	"github.com/tsanders-rh/panelctl/internal/worker"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize", zap.Error(err))
	}
	defer a.Close()

	runner := purge.NewRunner(a.Store.PurgeJobs, a.Store.Servers, a.Panel, a.Orchestrator, a.Events, cfg.Purge, logger)
	w := worker.NewWorker(&cfg.Worker, a.Store.PurgeJobs, runner, logger)

	j := janitor.NewJanitor(&cfg.Janitor, janitor.Deps{
		Servers:       a.Store.Servers,
		Deprovisioner: a.Orchestrator,
		Orphans:       a.Store.Orphans,
		Panel:         a.Panel,
		Ledger:        a.Ledger,
		PurgeJobs:     a.Store.PurgeJobs,
		Idempotency:   a.Store.Idempotency,
	}, logger)

	var metricsServer *http.Server
	if cfg.Metrics.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listener started", zap.String("addr", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener stopped", zap.Error(err))
			}
		}()
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := w.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("worker error", zap.Error(err))
		}
	}()

	go func() {
		defer wg.Done()
		if err := j.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("janitor error", zap.Error(err))
		}
	}()

	logger.Info("worker and janitor started", zap.String("worker_id", cfg.Worker.WorkerID))

	<-ctx.Done()
	logger.Info("shutting down worker and janitor")

	// Running purge jobs are marked failed as interrupted before the worker returns
	wg.Wait()

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}

	logger.Info("worker exited")
}
