package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/opdflow/platform/pkg/audit"
	"github.com/opdflow/platform/pkg/common/config"
	"github.com/opdflow/platform/pkg/common/database"
	"github.com/opdflow/platform/pkg/common/kafka"
	"github.com/opdflow/platform/pkg/common/logger"
)

func main() {
	godotenv.Load()
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := audit.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate audit tables")
	}

	worker := audit.NewWorker(repo)

	consumer := kafka.NewConsumer(cfg.QueueEventTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		logger.Log.WithField("topic", cfg.QueueEventTopic).Info("Audit Worker started")
		if err := consumer.Consume(ctx, worker.Handle); err != nil && err != context.Canceled {
			logger.Log.WithError(err).Error("consumer stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Audit Worker...")
	cancel()
	logger.Log.Info("Audit Worker stopped")
}
