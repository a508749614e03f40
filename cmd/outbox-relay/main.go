package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cardcrm/internal/common/config"
	"cardcrm/internal/common/logging"
	"cardcrm/internal/common/scheduler"
	vo "cardcrm/internal/common/value_objects"
	"cardcrm/internal/spending/application"
	"cardcrm/internal/spending/infrastructure/postgres"
	"cardcrm/internal/spending/infrastructure/rabbitmq"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	ctx := logging.WithLogger(context.Background(), logger)

	if !cfg.UsePostgres() {
		logging.ErrorContext(ctx, "Outbox relay requires DATA_STORE=postgres")
		os.Exit(1)
	}

	pool, err := cfg.NewPostgresPool(ctx)
	if err != nil {
		logging.ErrorContext(ctx, "Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	publisher, err := rabbitmq.Dial(cfg.AMQPURL, cfg.OutboxExchange)
	if err != nil {
		logging.ErrorContext(ctx, "Failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	relay := application.NewOutboxRelay(postgres.NewDataStore(pool), publisher, cfg.OutboxBatchSize)

	sched := scheduler.New(logger)
	err = sched.Add("outbox-relay", cfg.OutboxSchedule, func(ctx context.Context) error {
		ctx = logging.WithCorrelationID(ctx, vo.NewCorrelationID())
		published, err := relay.RelayOnce(ctx)
		if published > 0 {
			logging.InfoContext(ctx, "Outbox events published", "count", published)
		}
		return err
	})
	if err != nil {
		logging.ErrorContext(ctx, "Failed to schedule relay", "error", err)
		os.Exit(1)
	}

	sched.Start()
	logging.InfoContext(ctx, "Outbox relay started",
		"schedule", cfg.OutboxSchedule,
		"exchange", cfg.OutboxExchange,
		"batch_size", cfg.OutboxBatchSize,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.InfoContext(ctx, "Stopping outbox relay")

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := sched.Stop(stopCtx); err != nil {
		logging.ErrorContext(ctx, "Relay did not stop cleanly", "error", err)
	}

	logging.InfoContext(ctx, "Outbox relay stopped")
}
