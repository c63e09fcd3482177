package main

import (
	"context"
	"time"

	"envelopes/internal/cli"
	"envelopes/internal/core"
	applog "envelopes/internal/log"
	"envelopes/internal/services"
)

func main() {
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentRecurring)
	logger.Info("Starting recurring-worker")

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	publisher, closePublisher := cli.InitPublisher(logger, cfg)
	defer closePublisher()

	// Overview entries live in the API process; the shared cache is only
	// reachable from here with the redis backend.
	overview, closeCache := cli.InitOverviewCache(context.Background(), logger, cfg)
	defer closeCache()

	processor := services.NewRecurringProcessor(repo, publisher, overview, cfg.SystemUserID)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	logger.Info("Recurring processor configured",
		"interval", cfg.RecurringInterval,
		"system_user_id", cfg.SystemUserID,
		"sqlite_db", cfg.SQLiteDBPath)

	run := func(now time.Time) {
		res, err := processor.ProcessDue(ctx, core.DateOf(now))
		if err != nil {
			logger.Error("Recurring processing failed", "error", err)
			return
		}
		logger.Info("Recurring processing complete",
			"transactions_created", res.Created,
			"rules_skipped", len(res.Skipped),
			"next_check", now.Add(cfg.RecurringInterval).Format("15:04:05"))
	}

	logger.Info("Running initial recurring processing...")
	run(time.Now())

	ticker := time.NewTicker(cfg.RecurringInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			cli.WaitForShutdown(ctx, done)
			return
		case now := <-ticker.C:
			run(now)
		}
	}
}
