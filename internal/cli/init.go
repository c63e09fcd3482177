// Package cli provides common CLI initialization utilities shared by
// cmd/envelopes, cmd/ledger-worker, cmd/recurring-worker and cmd/seed.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"envelopes/internal/amqp"
	"envelopes/internal/cache"
	"envelopes/internal/config"
	"envelopes/internal/core"
	applog "envelopes/internal/log"
	"envelopes/internal/services"
	"envelopes/internal/storage"
)

const overviewCacheSize = 64

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// NewLogger builds the component logger described by LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg *config.Config, component string) *applog.Logger {
	level, err := applog.ParseLevel(cfg.LogLevel)
	l := applog.New(applog.Config{
		Level:     level,
		Format:    cfg.LogFormat,
		Component: component,
		Output:    os.Stdout,
	})
	if err != nil {
		l.WarnContext(context.Background(), "Unknown log level, using info", "level", cfg.LogLevel)
	}
	return l
}

// SetupLogger installs the component logger as the slog default and returns it.
func SetupLogger(cfg *config.Config, component string) *slog.Logger {
	logger := NewLogger(cfg, component).Logger.With(applog.FieldComponent, component)
	slog.SetDefault(logger)
	return logger
}

// LoadAndValidateConfig loads .env and the environment, sets up logging and
// validates the result. Exits the process on validation failure.
func LoadAndValidateConfig(component string) (*config.Config, *slog.Logger) {
	LoadEnvFile()
	cfg := config.Load()
	logger := SetupLogger(cfg, component)
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg, logger
}

// InitSQLite initializes a SQLite repository with the given path.
// Returns the repository or exits the process on failure.
func InitSQLite(logger *slog.Logger, dbPath string) *storage.SQLiteRepository {
	sqliteRepo, err := storage.NewSQLiteRepository(dbPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", dbPath)
		os.Exit(1)
	}
	return sqliteRepo
}

// InitPublisher connects to RabbitMQ. Without AMQP the ledger still commits
// and the mirror sweep picks the outbox up, so a failed connection only warns.
// The returned close func is never nil.
func InitPublisher(logger *slog.Logger, cfg *config.Config) (services.Publisher, func()) {
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled, mirror relies on the sweep")
		return nil, func() {}
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("Failed to connect to AMQP, continuing without publisher", "error", err)
		return nil, func() {}
	}
	logger.Info("AMQP publisher connected", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	return client, func() {
		if err := client.Close(); err != nil {
			logger.Error("Failed to close AMQP client", "error", err)
		}
	}
}

// InitOverviewCache builds the month overview cache on the configured
// backend. An unreachable Redis falls back to the in-process LRU.
func InitOverviewCache(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*services.OverviewCache, func()) {
	if cfg.CacheBackend == "redis" {
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr)
		if err == nil {
			logger.Info("Using Redis overview cache", "addr", cfg.RedisAddr)
			store := cache.NewRedisCache[core.MonthOverview](client, "envelopes:overview", cfg.OverviewCacheTTL)
			return services.NewOverviewCache(store), func() { _ = client.Close() }
		}
		logger.Warn("Redis unavailable, using in-memory overview cache", "addr", cfg.RedisAddr, "error", err)
	}

	store := cache.NewLRUCache[core.MonthOverview](overviewCacheSize, cfg.OverviewCacheTTL)
	manager := cache.NewManager()
	manager.Register(store)
	manager.StartCleanup(cfg.OverviewCacheTTL)
	return services.NewOverviewCache(store), manager.Stop
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context that will be cancelled on shutdown signals,
// and a channel that signals when shutdown is complete.
func GracefulShutdown(logger *slog.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		cancel()

		finished := make(chan struct{})
		go func() {
			if cleanup != nil {
				cleanup()
			}
			close(finished)
		}()

		select {
		case <-finished:
			logger.Info("Shutdown complete")
		case <-time.After(timeout):
			logger.Warn("Shutdown timeout reached")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
