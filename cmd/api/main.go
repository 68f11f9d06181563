package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"subtrack/internal/api"
	"subtrack/internal/bootstrap"
	"subtrack/internal/config"
	"subtrack/pkg/db"
	"subtrack/pkg/logger"
	"subtrack/pkg/mq"
	"subtrack/pkg/otel"
	redisclient "subtrack/pkg/redis"
)

func main() {
	// Load config
	cfg := config.Load()

	logger := logger.NewLogger(cfg.Log)
	defer logger.Sync()

	shutdownOtel, err := otel.Init(otel.FromConfig(cfg.Otel, "api"), logger)
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

	// Init Redis
	rdb, err := redisclient.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	// Init RabbitMQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		logger.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	pipeline := bootstrap.NewPipeline(cfg, dbConn, rdb, publisher, logger)

	// Init Handlers
	syncHandler := api.NewSyncHandler(pipeline.Sync, publisher, logger)
	queryHandler := api.NewQueryHandler(pipeline.Subscriptions, pipeline.Mailboxes, logger)

	router := api.NewRouter(syncHandler, queryHandler, cfg.JWT.Secret, dbConn)

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: router.Engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("Starting API server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server start failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}
