package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	mqcontracts "subtrack/contracts/mq"
	"subtrack/internal/bootstrap"
	"subtrack/internal/config"
	"subtrack/internal/mqhandler"
	"subtrack/pkg/db"
	"subtrack/pkg/logger"
	"subtrack/pkg/mq"
	"subtrack/pkg/otel"
	"subtrack/pkg/outbox"
	redisclient "subtrack/pkg/redis"
	"subtrack/pkg/util"
)

const (
	syncQueue = "mailbox.sync.requested.q"
	// 单次同步可能持续数分钟，用户级锁需要更长的 TTL
	userSyncLockTTL = 15 * time.Minute
)

func main() {
	// Load config
	cfg := config.Load()

	logger := logger.NewLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting worker service...")

	shutdownOtel, err := otel.Init(otel.FromConfig(cfg.Otel, "worker"), logger)
	if err != nil {
		logger.Fatal("OpenTelemetry initialization failed", zap.Error(err))
	}
	defer shutdownOtel()

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	logger.Info("Database connection established")

	// Init Redis
	rdb, err := redisclient.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	// Publisher: subscription.tracked 事件 + DLQ
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	pipeline := bootstrap.NewPipeline(cfg, dbConn, rdb, publisher, logger)

	syncHandler := mqhandler.NewSyncRequestedHandler(
		pipeline.Sync,
		util.NewRetryCounter(rdb, time.Hour),
		publisher,
		util.NewLocker(rdb, userSyncLockTTL),
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if pipeline.Outbox != nil {
		dispatcher := outbox.NewDispatcher(pipeline.Outbox, publisher, logger).
			WithInterval(cfg.Outbox.Interval).
			WithBatchSize(cfg.Outbox.BatchSize).
			WithMaxRetries(cfg.Outbox.MaxRetries)
		go dispatcher.Start(ctx)
	}

	logger.Info("Initializing sync consumer", zap.String("queue", syncQueue))
	consumer, err := mq.NewConsumer(cfg.MQ.URL, syncQueue, mqcontracts.RoutingKeySyncRequested, 1, logger)
	if err != nil {
		logger.Fatal("failed to init sync consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(syncHandler.HandleSyncRequested)

	logger.Info("Consumer started, worker is ready to process messages")
	if err := consumer.StartConsuming(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sync consumer stopped", zap.Error(err))
	}
	logger.Info("Worker stopped")
}
