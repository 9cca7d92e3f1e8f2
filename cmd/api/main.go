package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/fundstack/fundstack/internal/config"
	"github.com/fundstack/fundstack/internal/events"
	"github.com/fundstack/fundstack/internal/infra"
	"github.com/fundstack/fundstack/internal/logging"
	"github.com/fundstack/fundstack/internal/report"
	"github.com/fundstack/fundstack/internal/routes"
	"github.com/fundstack/fundstack/internal/server"
	"github.com/fundstack/fundstack/internal/telemetry"
)

func main() {
	// Load .env for local development; missing files are fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.AppName, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.AppName, cfg.OTelEndpoint)
	if err != nil {
		logger.Error("setup tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("shutdown tracing", "error", err)
		}
	}()

	docs, closeStore, err := infra.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("open document store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL, cfg.RetryPolicy())
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	} else {
		logger.Warn("redis disabled: wallet locks are process-local and idempotency is off")
	}

	publishers := events.Multi{events.NewLoggerPublisher(logger)}
	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, ledger events stay local", "error", err)
		} else {
			defer amqpPub.Close()
			publishers = append(publishers, amqpPub)
			logger.Info("publishing ledger events", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}
	if cfg.AuditDir != "" {
		sink, err := events.NewCSVSink(cfg.AuditDir)
		if err != nil {
			logger.Error("open audit dir", "dir", cfg.AuditDir, "error", err)
			os.Exit(1)
		}
		publishers = append(publishers, sink)
	}

	metrics, err := telemetry.NewLedgerMetrics(nil)
	if err != nil {
		logger.Error("register metrics", "error", err)
		os.Exit(1)
	}

	deps := routes.Deps{
		Docs:      docs,
		Cache:     cache,
		Logger:    logger,
		Publisher: publishers,
		Metrics:   metrics,
	}
	if cfg.GeminiAPIKey != "" {
		gen, err := report.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("report generator disabled", "error", err)
		} else {
			deps.Generator = gen
		}
	}

	srv, err := server.New(cfg, deps)
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
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
