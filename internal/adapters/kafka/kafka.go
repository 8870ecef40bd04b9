package kafka

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
)

// InitKafkaProducer builds a synchronous producer for the domain event topic.
func InitKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner
	config.Version = sarama.V2_0_0_0
	config.ClientID = "chat-realtime"
	config.Producer.MaxMessageBytes = 1000000

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return producer, nil
}

// DomainEvent is the wire format mirrored onto the event topic. The socket
// layer remains the delivery path; Kafka is an audit/integration stream.
type DomainEvent struct {
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventPublisher publishes domain events. A nil publisher is valid and
// drops everything, so components can run without Kafka configured.
type EventPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewEventPublisher(producer sarama.SyncProducer, topic string) *EventPublisher {
	return &EventPublisher{producer: producer, topic: topic}
}

// Publish sends one event keyed by key (hash partitioner keeps per-key
// ordering). Failures are logged, never propagated: the socket fan-out is
// the source of truth for clients.
func (p *EventPublisher) Publish(eventType, key string, payload any) {
	if p == nil || p.producer == nil {
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		slog.Error("Failed to marshal domain event", "type", eventType, "error", err)
		return
	}

	event := DomainEvent{
		Type:      eventType,
		Key:       key,
		Payload:   raw,
		Timestamp: time.Now(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		slog.Error("Failed to marshal domain event envelope", "type", eventType, "error", err)
		return
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		slog.Error("Failed to publish domain event", "type", eventType, "key", key, "error", err)
	}
}

func (p *EventPublisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}
