package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/ramiqadoumi/delegate-rebroadcast/pkg/retry"
)

// ErrMalformed marks a message that can never be processed. Handlers wrap it
// so the consumer commits past the message instead of re-delivering it forever.
var ErrMalformed = errors.New("malformed message")

// Message wraps a Kafka message with the fields services need.
type Message struct {
	Topic     string
	Partition int
	Key       []byte
	Value     []byte
	Offset    int64
}

// HandlerFunc processes a single Kafka message.
// nil commits the offset. An error wrapping ErrMalformed also commits.
// Any other error is retried in place, so later messages never commit past
// a message that has not been handled.
type HandlerFunc func(ctx context.Context, msg Message) error

// Consumer reads messages from a Kafka topic.
type Consumer interface {
	Subscribe(ctx context.Context, handler HandlerFunc) error
	Close() error
}

// reader is the part of *kafka.Reader the consumer drives.
type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type consumer struct {
	reader reader
	retry  retry.Config
	logger *slog.Logger
}

// NewConsumer creates a Kafka consumer for the given topic and consumer group.
func NewConsumer(brokers []string, topic, groupID string, logger *slog.Logger) Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       1e6,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: 0, // manual commit only
		StartOffset:    kafka.FirstOffset,
	})
	return &consumer{
		reader: r,
		retry: retry.Config{
			MaxAttempts: math.MaxInt,
			Backoff:     retry.Capped(retry.Fibonacci(100*time.Millisecond), 10*time.Second),
		},
		logger: logger,
	}
}

// Subscribe reads messages until ctx is cancelled (at-least-once delivery).
// A failing message blocks its partition until it succeeds; cancellation
// leaves it uncommitted so it is redelivered on restart.
func (c *consumer) Subscribe(ctx context.Context, handler HandlerFunc) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch: %w", err)
		}

		carrier := HeaderCarrier(m.Headers)
		msgCtx := otel.GetTextMapPropagator().Extract(ctx, &carrier)
		msg := Message{
			Topic:     m.Topic,
			Partition: m.Partition,
			Key:       m.Key,
			Value:     m.Value,
			Offset:    m.Offset,
		}

		cfg := c.retry
		cfg.OnRetry = func(attempt int, err error) {
			c.logger.Error("message handler failed, retrying",
				slog.String("topic", m.Topic),
				slog.Int("partition", m.Partition),
				slog.Int64("offset", m.Offset),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
		err = retry.Do(msgCtx, cfg, func(ctx context.Context) error {
			err := handler(ctx, msg)
			if errors.Is(err, ErrMalformed) {
				return retry.Permanent(err)
			}
			return err
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrMalformed):
			c.logger.Warn("dropping malformed message",
				slog.String("topic", m.Topic),
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("handle %s/%d@%d: %w", m.Topic, m.Partition, m.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			c.logger.Error("failed to commit kafka offset",
				slog.String("topic", m.Topic),
				slog.Int64("offset", m.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *consumer) Close() error {
	return c.reader.Close()
}
