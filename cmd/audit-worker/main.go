package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/fundstack/fundstack/internal/config"
	"github.com/fundstack/fundstack/internal/events"
	"github.com/fundstack/fundstack/internal/logging"
)

func main() {
	// Load .env for local development; missing files are fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.AppName+"-audit-worker", cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting audit-worker")

	if cfg.AMQPURL == "" || cfg.AuditDir == "" {
		logger.Error("AMQP_URL and AUDIT_DIR are required")
		os.Exit(1)
	}

	sink, err := events.NewCSVSink(cfg.AuditDir)
	if err != nil {
		logger.Error("open audit dir", "dir", cfg.AuditDir, "error", err)
		os.Exit(1)
	}

	consumer, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("connect AMQP", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- consumer.Consume(ctx, func(ctx context.Context, event events.Event) error {
			if err := sink.Publish(ctx, event); err != nil {
				return err
			}
			logger.Info("audit row written",
				"user_id", event.UserID,
				"tx_id", event.Transaction.ID,
				"file", sink.Path(event.UserID),
			)
			return nil
		})
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("consumer stopped", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("audit-worker stopped")
}
