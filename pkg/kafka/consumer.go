// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. The producer serialises events as JSON, while the
// consumer decodes them via a pluggable MessageHandler callback.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/resilience"
	"github.com/segmentio/kafka-go"
)

// ErrMalformed marks a message that can never be processed. The consumer
// commits past it without retrying.
var ErrMalformed = errors.New("malformed message")

// MessageHandler is a callback invoked for each Kafka message.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// MessageReader is the subset of *kafka.Reader the Consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ConsumerStats counts what the consume loop has done with each message.
type ConsumerStats struct {
	Processed int64
	Malformed int64
	Dropped   int64
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler. A handler error is retried with backoff; once retries
// run out the message is committed and counted as dropped, so one bad
// event never stalls the partition.
type Consumer struct {
	reader  MessageReader
	handler MessageHandler
	retry   resilience.RetryConfig
	logger  *slog.Logger

	processed atomic.Int64
	malformed atomic.Int64
	dropped   atomic.Int64
}

// NewConsumer creates a group Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return NewConsumerWithReader(r, topic, handler)
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(r MessageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:  r,
		handler: handler,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
		},
		logger: slog.Default().With("component", "kafka-consumer", "topic", topic),
	}
}

// Start runs the consume loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	fetchBackoff := time.Duration(0)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			fetchBackoff = min(max(2*fetchBackoff, 100*time.Millisecond), 5*time.Second)
			c.logger.Error("failed to fetch message", "error", err, "backoff", fetchBackoff)
			select {
			case <-time.After(fetchBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		fetchBackoff = 0

		if !c.process(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("failed to commit message",
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
		}
	}
}

// process hands msg to the handler. It returns false only when ctx ended
// before the message was settled, in which case it must not be committed.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	log := c.logger.With(
		"partition", msg.Partition,
		"offset", msg.Offset,
		"request_id", Header(msg, HeaderRequestID),
	)
	err := resilience.Retry(ctx, "handle message", c.retry, func() error {
		err := c.handler(ctx, msg)
		if errors.Is(err, ErrMalformed) {
			return resilience.Permanent(err)
		}
		return err
	})
	switch {
	case err == nil:
		c.processed.Add(1)
	case errors.Is(err, ErrMalformed):
		c.malformed.Add(1)
		log.Warn("skipping malformed message", "error", err)
	case ctx.Err() != nil:
		return false
	default:
		c.dropped.Add(1)
		log.Error("dropping message after retries", "error", err)
	}
	return true
}

// Stats returns the consumer's counters.
func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Processed: c.processed.Load(),
		Malformed: c.malformed.Load(),
		Dropped:   c.dropped.Load(),
	}
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Header returns the value of the named message header, or "".
func Header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

// DecodeJSON unmarshals a message value into T. Decode failures wrap
// ErrMalformed.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return result, nil
}
