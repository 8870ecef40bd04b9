package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-realtime/internal/adapters/database"
	"chat-realtime/internal/config"
	"chat-realtime/internal/models"

	"github.com/segmentio/kafka-go"
)

// eventworker drains the domain event topic into the event_logs table so
// events survive topic retention and are queryable with plain SQL.

type eventEnvelope struct {
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting event worker")

	db, err := database.NewMySQLDB(cfg.Database.User, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)
	if err != nil {
		slog.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Kafka.Brokers,
		Topic:    cfg.Kafka.Topic,
		GroupID:  "chat-realtime-eventworker",
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  time.Second,
	})
	defer reader.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("Event worker shutting down...")
		cancel()
	}()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("Failed to fetch message", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var envelope eventEnvelope
		if err := json.Unmarshal(msg.Value, &envelope); err != nil {
			// Malformed events are logged and skipped, never retried.
			slog.Error("Failed to decode event", "offset", msg.Offset, "error", err)
			if err := reader.CommitMessages(ctx, msg); err != nil {
				slog.Error("Failed to commit offset", "offset", msg.Offset, "error", err)
			}
			continue
		}

		entry := models.EventLog{
			Type:      envelope.Type,
			Key:       envelope.Key,
			Payload:   string(envelope.Payload),
			EventTime: envelope.Timestamp,
		}
		if err := db.Create(&entry).Error; err != nil {
			slog.Error("Failed to persist event", "type", envelope.Type, "error", err)
			time.Sleep(time.Second)
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil {
			slog.Error("Failed to commit offset", "offset", msg.Offset, "error", err)
		}
	}

	slog.Info("Event worker stopped")
}
