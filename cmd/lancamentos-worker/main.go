package main

import (
	"context"
	"errors"
	"time"

	"lancamentos/internal/amqp"
	"lancamentos/internal/backend"
	"lancamentos/internal/cli"
	"lancamentos/internal/config"
	"lancamentos/internal/log"
	"lancamentos/internal/storage"
	"lancamentos/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(cli.SetupLogger("info"), (*config.Config).ValidateWorker)
	logger := cli.SetupLogger(cfg.LogLevel)
	logger.Info("Starting lancamentos-worker")

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	upstream, err := backend.NewRESTClient(backendConfig, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize REST client", err)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, logger)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize SQLite repository", err, "path", cfg.SQLiteDBPath)
	}

	syncWorker := worker.NewSyncWorker(repo, upstream, logger, cfg.SyncBatchSize)
	processor := worker.NewProcessor(syncWorker, worker.ProcessorConfig{
		PollInterval:    cfg.SyncInterval,
		RefreshInterval: cfg.MirrorRefreshInterval,
	}, logger)

	var queue *amqp.Client
	if cfg.AMQPURL != "" {
		queue, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			cli.Fatal(logger, "Failed to initialize AMQP client", err)
		}
	} else {
		logger.Info("AMQP disabled, relying on periodic polling", "interval", cfg.SyncInterval)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := processor.Stop(ctx); err != nil {
			logger.Warn("Processor stop error", log.FieldError, err)
		}
		if queue != nil {
			if err := queue.Close(); err != nil {
				logger.Warn("AMQP close error", log.FieldError, err)
			}
		}
		if err := repo.Close(); err != nil {
			logger.Warn("SQLite close error", log.FieldError, err)
		}
	})

	if err := processor.Start(ctx); err != nil {
		cli.Fatal(logger, "Failed to start processor", err)
	}

	if queue != nil {
		go func() {
			err := queue.ConsumePatches(ctx, syncWorker.HandlePatchMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Patch consumption stopped", log.FieldError, err)
			}
		}()
	}

	<-done
	logger.Info("Worker shutdown complete")
}
