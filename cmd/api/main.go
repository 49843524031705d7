package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/backend-ledger/backend_ledger/internal/config"
	"github.com/backend-ledger/backend_ledger/internal/infra"
	"github.com/backend-ledger/backend_ledger/internal/logging"
	"github.com/backend-ledger/backend_ledger/internal/notification"
	"github.com/backend-ledger/backend_ledger/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	if cfg.MigrateOnStart && cfg.DatabaseURL != "" {
		if err := infra.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Error("migrate database", "error", err)
			os.Exit(1)
		}
	}

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, infra.PoolOptions{})
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	var queue notification.Queue
	if cfg.NotifyQueue == "redis" && cache != nil {
		queue = notification.NewRedisQueue(cache, notification.DefaultQueueKey)
	} else {
		memQueue := notification.NewMemoryQueue(0)
		defer memQueue.Close()
		queue = memQueue
	}

	var notifier notification.Notifier = notification.NewLoggerNotifier(logger)
	if cfg.SMTP.Host != "" {
		notifier = notification.NewBreakerNotifier(notification.NewSMTPNotifier(notification.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}), notification.BreakerSettings{Name: "smtp"}, logger)
	}

	workerCtx, stopWorkers := context.WithCancel(ctx)
	worker := notification.NewWorker(queue, notifier, logger, notification.WorkerConfig{
		Concurrency: cfg.NotifyWorkers,
		MaxAttempts: cfg.NotifyMaxAttempts,
	})
	worker.Start(workerCtx)

	srv, err := server.New(cfg, db, cache, queue, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		stopWorkers()
		worker.Wait()
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	stopWorkers()
	worker.Wait()

	logger.Info("server exited cleanly")
}
