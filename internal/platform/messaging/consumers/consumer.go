package consumers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/escrow-settlement/internal/config"
	"github.com/escrow-settlement/internal/platform/messaging/producers"
	"github.com/segmentio/kafka-go"
)

type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Consumer defines the message queue consumer interface
type Consumer interface {
	Subscribe(ctx context.Context, handler MessageHandler) error
	Close() error
}

// MessageReader is the subset of kafka.Reader the consumer relies on.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConsumer implements Consumer using Kafka. Messages the handler rejects
// are handed to the dead letter queue and committed once parked there.
type KafkaConsumer struct {
	reader    MessageReader
	logger    *slog.Logger
	topic     string
	groupID   string
	dlq       producers.DeadLetterPublisher
	dlqSource string
	retryWait time.Duration
}

func NewKafkaConsumer(_ context.Context, logger *slog.Logger, cfg *config.KafkaConfig, topic, source string, dlq producers.DeadLetterPublisher) *KafkaConsumer {
	startOffset := kafka.FirstOffset
	if cfg.StartOffset != 0 {
		startOffset = cfg.StartOffset
	}

	return &KafkaConsumer{
		logger:    logger,
		topic:     topic,
		groupID:   cfg.ConsumerGroup,
		dlq:       dlq,
		dlqSource: source,
		retryWait: time.Second,
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{cfg.Brokers},
			Topic:       topic,
			GroupID:     cfg.ConsumerGroup,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			MaxWait:     cfg.MaxWait,
			StartOffset: startOffset,
		}),
	}
}

// Subscribe starts consuming the configured topic in the background.
func (c *KafkaConsumer) Subscribe(ctx context.Context, handler MessageHandler) error {
	if handler == nil {
		return errors.New("consumer handler is required")
	}

	c.logger.Info("Subscribed to Kafka topic",
		"topic", c.topic,
		"group_id", c.groupID,
	)

	go c.consume(ctx, handler)
	return nil
}

func (c *KafkaConsumer) consume(ctx context.Context, handler MessageHandler) {
	for {
		if ctx.Err() != nil {
			c.logger.Info("Context canceled, stopping consumer",
				"topic", c.topic,
				"group_id", c.groupID,
			)
			return
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("Failed to fetch message from Kafka",
				"topic", c.topic,
				"group_id", c.groupID,
				"error", err,
			)
			select {
			case <-ctx.Done():
			case <-time.After(c.retryWait):
			}
			continue
		}

		c.logger.Debug("Received message from Kafka",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"key", string(msg.Key),
		)

		if processingErr := handler(ctx, msg.Key, msg.Value); processingErr != nil {
			c.logger.Error("Failed to process message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", processingErr,
			)
			if !c.park(ctx, msg, processingErr) {
				continue
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("Failed to commit message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"key", string(msg.Key),
				"error", err,
			)
		} else {
			c.logger.Debug("Message committed successfully",
				"topic", msg.Topic,
				"offset", msg.Offset,
				"key", string(msg.Key),
			)
		}
	}
}

// park moves a failed message to the dead letter queue. It reports whether
// the offset may be committed.
func (c *KafkaConsumer) park(ctx context.Context, msg kafka.Message, cause error) bool {
	if c.dlq == nil {
		c.logger.Warn("No DLQ configured, offset will not be committed",
			"topic", msg.Topic,
			"offset", msg.Offset,
		)
		return false
	}

	if err := c.dlq.PublishToDLQ(ctx, c.dlqSource, string(msg.Key), msg.Value, cause.Error()); err != nil {
		c.logger.Error("Failed to publish message to DLQ, offset will not be committed",
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err,
		)
		return false
	}

	c.logger.Info("Message moved to DLQ",
		"topic", msg.Topic,
		"offset", msg.Offset,
		"key", string(msg.Key),
	)
	return true
}

func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}
