package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ecomm-io/warehouse/internal/config"
)

// DefaultFailureTopic is the Kafka topic for quality failure notifications.
const DefaultFailureTopic = "warehouse.dq.failures"

// ErrNoBrokers is returned when a Kafka publisher is built without brokers.
var ErrNoBrokers = errors.New("at least one kafka broker is required")

// failureWriter abstracts kafka.Writer for tests.
type failureWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher sends quality failures to a Kafka topic so downstream
// consumers (alerting, dashboards) see them without polling the audit log.
type KafkaPublisher struct {
	writer failureWriter
	topic  string
	logger *slog.Logger
}

// KafkaPublisherOption configures optional KafkaPublisher behavior.
type KafkaPublisherOption func(*KafkaPublisher)

// WithFailureTopic overrides the default failure topic.
func WithFailureTopic(topic string) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		p.topic = topic
	}
}

// WithKafkaLogger sets the logger.
func WithKafkaLogger(logger *slog.Logger) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		p.logger = logger
	}
}

// NewKafkaPublisher creates a publisher writing to the given brokers.
func NewKafkaPublisher(brokers []string, opts ...KafkaPublisherOption) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	p := &KafkaPublisher{
		topic: DefaultFailureTopic,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        p.topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}

	return p, nil
}

// Publish sends one failure, keyed by run date so failures for the same run
// land on the same partition in order.
func (p *KafkaPublisher) Publish(ctx context.Context, failure Failure) error {
	value, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("marshal quality failure: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(failure.RunDate),
		Value: value,
		Headers: []kafka.Header{
			{Key: "check_name", Value: []byte(failure.CheckName)},
			{Key: "category", Value: []byte(failure.Category)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write quality failure to kafka: %w", err)
	}

	p.logger.Debug("quality failure published",
		slog.String("topic", p.topic),
		slog.String("run_date", failure.RunDate),
		slog.String("check", failure.CheckName),
	)

	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// compile-time interface check
var _ Publisher = (*KafkaPublisher)(nil)
