package main

import (
	"context"
	"flag"
	"time"

	"go.uber.org/zap"

	"subtrack/internal/config"
	"subtrack/pkg/db"
	"subtrack/pkg/logger"
	"subtrack/pkg/outbox"
)

func main() {
	requeue := flag.Int("requeue-failed-events", 0, "reset up to N failed outbox events to pending after migrating")
	flag.Parse()

	cfg := config.Load()

	logger := logger.NewLogger(cfg.Log)
	defer logger.Sync()

	dbConn, err := db.NewConnection(cfg.DB, logger)
	if err != nil {
		logger.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.Migrate(ctx, dbConn, logger); err != nil {
		logger.Fatal("Migration failed", zap.Error(err))
	}

	if *requeue > 0 {
		n, err := outbox.NewRepository(dbConn).Requeue(ctx, *requeue)
		if err != nil {
			logger.Fatal("Requeue failed", zap.Error(err))
		}
		logger.Info("Failed outbox events requeued", zap.Int64("count", n))
	}
}
