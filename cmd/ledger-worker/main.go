package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"envelopes/internal/amqp"
	"envelopes/internal/backend"
	"envelopes/internal/cli"
	applog "envelopes/internal/log"
	"envelopes/internal/services"
	"envelopes/internal/worker"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanups always execute.
func run() int {
	cfg, logger := cli.LoadAndValidateConfig(applog.ComponentWorker)
	logger.Info("Starting ledger-worker")

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid mirror configuration", "error", err)
		return 1
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	res, err := backend.NewFactory(logger).CreateMirror(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize ledger mirror", "backend", backendCfg.Type, "error", err)
		return 1
	}
	defer res.Cleanup()

	g, ctx := errgroup.WithContext(ctx)

	// Balance audit runs whether or not the mirror is configured.
	reconcile := services.NewReconcileService(repo, nil)
	g.Go(func() error {
		audit := func() {
			if _, err := worker.AuditBalances(ctx, reconcile); err != nil {
				logger.Error("Balance audit failed", "error", err)
			}
		}
		audit()
		ticker := time.NewTicker(cfg.ReconcileInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				audit()
			}
		}
	})

	if res.Mirror != nil {
		mirrorWorker := worker.NewMirrorWorker(repo, res.Mirror, cfg.MirrorBatchSize)

		logger.Info("Performing startup sync check...")
		if err := mirrorWorker.StartupSyncCheck(ctx); err != nil {
			logger.Error("Failed startup sync check", "error", err)
		}

		if cfg.AMQPURL != "" {
			client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
			if err != nil {
				logger.Warn("Failed to initialize AMQP client, relying on periodic sweep", "error", err)
			} else {
				defer client.Close()
				g.Go(func() error {
					err := client.ConsumeMirror(ctx, mirrorWorker.HandleMessage)
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				})
			}
		}

		g.Go(func() error {
			ticker := time.NewTicker(cfg.MirrorInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := mirrorWorker.ProcessPending(ctx); err != nil && ctx.Err() == nil {
						logger.Error("Periodic mirror sweep failed", "error", err)
					}
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped", "error", err)
		return 1
	}
	cli.WaitForShutdown(ctx, done)
	return 0
}
