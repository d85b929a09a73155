// ABOUTME: Analytics export: conversation events published to a Kafka topic
// ABOUTME: Disabled configs swap in the no-op publisher; the queue handler is shared

package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/parleyhq/parley-gateway/internal/jobs"
	"github.com/parleyhq/parley-gateway/internal/retry"
)

// Publisher delivers one serialized event to the export sink.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		logger: logger.With("component", "analytics"),
	}
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("writing analytics event: %w", err)
	}
	return nil
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher drops events; used when analytics export is disabled.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, string, []byte) error { return nil }

// Close implements Publisher.
func (NopPublisher) Close() error { return nil }

// Handler drains the analytics queue into the publisher. Events are keyed by
// user so one user's events stay ordered within a partition.
type Handler struct {
	publisher Publisher
}

// NewHandler creates the handler for the analytics queue.
func NewHandler(p Publisher) *Handler {
	return &Handler{publisher: p}
}

// Execute implements jobs.Handler.
func (h *Handler) Execute(ctx context.Context, job *jobs.Job) error {
	var probe struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(job.Payload, &probe); err != nil {
		return retry.Permanent(fmt.Errorf("decoding analytics event: %w", err))
	}
	return h.publisher.Publish(ctx, probe.UserID, job.Payload)
}
