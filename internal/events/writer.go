// Package events publishes decision outcomes to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kjstillabower/wetdry-service/internal/models"
	"github.com/kjstillabower/wetdry-service/internal/observability"
)

// messageWriter is the subset of *kafkago.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Config configures the outcome topic producer.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// Writer produces one message per decision outcome, keyed by outcome ID.
// It implements decision.Publisher.
type Writer struct {
	writer messageWriter
	logger *zap.Logger
}

// NewWriter creates a Kafka producer for the outcome topic.
func NewWriter(cfg Config, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
	}
	return &Writer{writer: w, logger: logger}
}

// Publish serializes o and writes it to the topic.
func (w *Writer) Publish(ctx context.Context, o models.Outcome) error {
	msg, err := serializeToMessage(o)
	if err != nil {
		observability.EventsPublishedTotal.WithLabelValues("error").Inc()
		return err
	}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		observability.EventsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("publish outcome %s: %w", o.ID, err)
	}
	observability.EventsPublishedTotal.WithLabelValues("success").Inc()
	w.logger.Debug("outcome published", zap.String("outcome_id", o.ID))
	return nil
}

// Close flushes pending messages and closes the producer.
func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an Outcome into a Kafka message.
func serializeToMessage(o models.Outcome) (kafkago.Message, error) {
	data, err := json.Marshal(o)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize outcome: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(o.ID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "result", Value: []byte(o.Result)},
			{Key: "zone", Value: []byte(o.Zone)},
			{Key: "decided_at", Value: []byte(o.DecidedAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}
