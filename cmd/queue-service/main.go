package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/opdflow/platform/pkg/archive"
	"github.com/opdflow/platform/pkg/broker"
	"github.com/opdflow/platform/pkg/common/config"
	"github.com/opdflow/platform/pkg/common/database"
	"github.com/opdflow/platform/pkg/common/kafka"
	"github.com/opdflow/platform/pkg/common/logger"
	"github.com/opdflow/platform/pkg/common/middleware"
	"github.com/opdflow/platform/pkg/history"
	"github.com/opdflow/platform/pkg/observability/metrics"
	"github.com/opdflow/platform/pkg/registry"
	"github.com/opdflow/platform/pkg/store"
	"github.com/opdflow/platform/pkg/tokens"
)

func main() {
	godotenv.Load()
	logger.Init()
	cfg := config.Load()

	settings, err := config.LoadSettings(cfg.QueueSettingsPath)
	if err != nil {
		logger.Log.WithError(err).Warn("falling back to default queue settings")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var docStore store.Store
	var archiveStore archive.Store
	if cfg.StoreBackend == "memory" {
		docStore = store.NewMemoryStore()
		archiveStore = archive.NewMemoryStore()
		logger.Log.Info("Using in-memory store")
	} else {
		docStore = store.NewRedisStore(database.GetRedis(), cfg.StorePrefix)

		db, err := database.GetPostgres()
		if err != nil {
			logger.Log.WithError(err).Fatal("failed to connect to postgres")
		}
		pg := archive.NewPostgresStore(db)
		if err := pg.AutoMigrate(); err != nil {
			logger.Log.WithError(err).Fatal("failed to migrate archive tables")
		}
		archiveStore = pg
		logger.Log.Info("Using redis store with postgres archive")
	}

	var producer *kafka.Producer
	if cfg.QueueEventTopic != "" {
		producer = kafka.NewProducer(cfg.QueueEventTopic)
		defer producer.Close()
	}

	allocator := tokens.NewAllocator(docStore, settings)
	historyLog := history.NewLog(docStore)
	repo := registry.NewRepository(docStore)

	var events registry.EventPublisher
	if producer != nil {
		events = producer
	}
	svc := registry.NewService(docStore, repo, allocator, historyLog, archiveStore, events)
	handler := registry.NewHTTPHandler(svc, cfg.MaxRequestBody)

	queueBroker, err := broker.New(ctx, docStore, settings.ViewerBuffer)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to start queue broker")
	}
	defer queueBroker.Close()
	liveHandler := broker.NewLiveHandler(queueBroker)

	router := mux.NewRouter()
	router.Use(middleware.Recovery, middleware.Logging, middleware.CORS)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	router.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)
	liveHandler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Queue Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Queue Service...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Queue Service stopped")
}
