package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/escrow-settlement/internal/config"
	"github.com/segmentio/kafka-go"
)

// EventProducer publishes JSON events to a single topic. Async producers
// report write failures through the logger only.
type EventProducer struct {
	logger *slog.Logger
	writer KafkaWriter
	topic  string
	async  bool
}

// NewEventProducer ensures topic exists and returns a producer for it.
// Webhook deliveries use a synchronous producer so the HTTP acknowledgement
// waits for the broker; notifications use an async one.
func NewEventProducer(ctx context.Context, logger *slog.Logger, cfg *config.KafkaConfig, topic string, async bool) (*EventProducer, error) {
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is not configured")
	}

	if err := ensureTopic(ctx, logger, cfg, topic); err != nil {
		return nil, err
	}

	acks := kafka.RequireAll
	if async {
		acks = kafka.RequireOne
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		Async:        async,
		WriteTimeout: cfg.MaxWait,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Failed to write messages", "topic", topic, "error", err, "count", len(messages))
			} else {
				logger.Debug("Wrote messages", "topic", topic, "count", len(messages))
			}
		},
	}

	return &EventProducer{
		logger: logger,
		writer: writer,
		topic:  topic,
		async:  async,
	}, nil
}

// Publish encodes value as JSON. Messages sharing a key land on the same
// partition, so events of one escrow stay ordered.
func (p *EventProducer) Publish(ctx context.Context, key string, value interface{}) error {
	jsonValue, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message value for topic %s: %w", p.topic, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: jsonValue,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish message",
			"topic", p.topic,
			"key", key,
			"error", err,
		)
		return fmt.Errorf("failed to publish message to %s: %w", p.topic, err)
	}

	p.logger.Debug("Published message",
		"topic", p.topic,
		"key", key,
		"async", p.async,
	)
	return nil
}

func (p *EventProducer) Close() error {
	p.logger.Info("Closing Kafka event producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}
