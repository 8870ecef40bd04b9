package main

// @title           Chat Realtime Backbone API
// @version         1.0
// @description     Real-time chat backbone: presence, delivery tracking and upload sessions
// @host            localhost:8080
// @BasePath        /api/v1
// @schemes         http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-realtime/internal/adapters/database"
	"chat-realtime/internal/adapters/kafka"
	"chat-realtime/internal/adapters/storage"
	"chat-realtime/internal/api/routes"
	"chat-realtime/internal/config"
	"chat-realtime/internal/delivery"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/realtime"
	"chat-realtime/internal/services"
	"chat-realtime/internal/upload"
	"chat-realtime/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting chat realtime server")

	// Initialize Redis connection
	redisClient, err := database.NewRedisConnection(&cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	// Initialize MySQL connection
	db, err := database.NewMySQLDB(cfg.Database.User, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)
	if err != nil {
		slog.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}

	// Initialize MinIO object storage
	minioClient, err := storage.NewMinIOClient(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Bucket)
	if err != nil {
		slog.Error("Failed to connect to MinIO", "error", err)
		os.Exit(1)
	}

	// Kafka is optional; the publisher is nil-safe when disabled
	var events *kafka.EventPublisher
	if cfg.Kafka.Enabled {
		producer, err := kafka.InitKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			slog.Error("Failed to connect to Kafka", "error", err)
			os.Exit(1)
		}
		events = kafka.NewEventPublisher(producer, cfg.Kafka.Topic)
		defer events.Close()
	}

	redisService := services.NewRedisService(redisClient)

	// Connection registry with stale-connection sweeping
	registry := websocket.NewConnectionRegistryWithConfig(websocket.RegistrySweepConfig{
		SweepInterval: cfg.Registry.SweepInterval,
		StaleTimeout:  cfg.Registry.StaleTimeout,
	})

	// WebSocket hub with cross-instance fanout over Redis
	hub := websocket.NewHub(registry, redisClient.GetClient())

	// Presence derives online state from registry counts, re-reading the
	// registry so racing connect/disconnect callbacks cannot settle stale
	presenceService := presence.NewPresenceService(registry, hub, redisService, events, cfg.Presence.LastSeenRefresh)
	registry.SetCountListener(presenceService.OnConnectionCountChanged)

	// Delivery tracking and the delayed-delivery reconciler
	deliveryRepo := delivery.NewGormRepository(db)
	tracker := delivery.NewTracker(deliveryRepo, hub, registry, events)
	reconciler := delivery.NewReconciler(deliveryRepo, tracker, hub)
	presenceService.RegisterOnlineHook(reconciler.OnUserOnline)

	// Upload sessions and transfers
	uploadManager := upload.NewManagerWithConfig(hub, events, upload.SweepConfig{
		SweepInterval:     cfg.Upload.SweepInterval,
		InactivityTimeout: cfg.Upload.InactivityTimeout,
		RetentionWindow:   cfg.Upload.RetentionWindow,
	})
	uploadService := upload.NewService(uploadManager, minioClient)

	// Route inbound socket frames to the domain services
	dispatcher := realtime.NewDispatcher(tracker, presenceService, deliveryRepo, hub)
	hub.SetHandler(dispatcher)

	go hub.Run()
	registry.StartSweep()
	uploadManager.StartSweep()

	// Initialize router with all dependencies
	router := routes.NewRouter(
		hub,
		presenceService,
		uploadService,
		redisService,
		cfg.Upload.MaxFileSize,
		cfg.JWT.Secret,
	)
	router.SetupRoutes()

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	uploadManager.StopSweep()
	registry.StopSweep()
	hub.Stop()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
