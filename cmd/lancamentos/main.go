package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"lancamentos/internal/backend"
	"lancamentos/internal/cache"
	"lancamentos/internal/cli"
	apphttp "lancamentos/internal/http"
	"lancamentos/internal/log"
	"lancamentos/internal/middleware/ratelimit"
	"lancamentos/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig(cli.SetupLogger("info"))
	logger := cli.SetupLogger(cfg.LogLevel)

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}

	caches := cache.NewManager(logger)
	startCtx, cancelStart := context.WithTimeout(context.Background(), cfg.APITimeout)
	result, err := backend.NewFactory(logger, caches).CreateBackend(startCtx, backendConfig)
	cancelStart()
	if err != nil {
		cli.Fatal(logger, "Failed to initialize backend", err, log.FieldBackend, cfg.DataBackend)
	}

	srv := apphttp.NewServer(apphttp.Config{
		Addr:    cli.Address(cfg.Port),
		Service: services.NewLedgerService(result.Ledger, logger),
		Health:  result.Health,
		Logger:  logger,
		RateLimit: ratelimit.Config{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if result.Cleanup != nil {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup error", log.FieldError, err)
			}
		}
	})
	go caches.Run(ctx, time.Minute)

	logger.Info("Starting lancamentos server", "port", cfg.Port, log.FieldBackend, cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cli.Fatal(logger, "Server error", err, "port", cfg.Port)
	}

	<-done
	logger.Info("Server stopped gracefully")
}
