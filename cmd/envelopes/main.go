package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"envelopes/internal/cli"
	apphttp "envelopes/internal/http"
	applog "envelopes/internal/log"
	"envelopes/internal/services"
)

const mutationsPerMinute = 120

func main() {
	os.Exit(run())
}

func run() int {
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentApp)
	logger.Info("Starting envelopes", "port", cfg.Port)

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	publisher, closePublisher := cli.InitPublisher(logger, cfg)
	defer closePublisher()

	overview, closeCache := cli.InitOverviewCache(context.Background(), logger, cfg)
	defer closeCache()

	svc := apphttp.Services{
		Ledger:    services.NewLedgerService(repo, publisher, overview),
		Budget:    services.NewBudgetService(repo, overview),
		Recurring: services.NewRecurringProcessor(repo, publisher, overview, cfg.SystemUserID),
		Reconcile: services.NewReconcileService(repo, overview),
	}
	srv := apphttp.NewServer(":"+cfg.Port, svc, apphttp.Options{
		Logger:             cli.NewLogger(cfg, applog.ComponentHTTP),
		Ready:              repo,
		MutationsPerMinute: mutationsPerMinute,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", "error", err)
		}
	})

	logger.Info("HTTP server listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("HTTP server failed", "error", err)
		return 1
	}
	cli.WaitForShutdown(ctx, done)
	return 0
}
