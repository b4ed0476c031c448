package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes notifications to a Kafka topic, keyed by device id so that
// all messages of one device land in the same partition in order.
type KafkaSink struct {
	writer MessageWriter
	device string
	log    *slog.Logger
	now    func() time.Time
}

// NewKafkaSink creates a sink writing to topic on the given brokers.
func NewKafkaSink(brokers []string, topic, device string, log *slog.Logger) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           10 * time.Second,
		AllowAutoTopicCreation: true,
	}
	return NewKafkaSinkWithWriter(w, device, log)
}

// NewKafkaSinkWithWriter creates a sink on top of an existing writer.
func NewKafkaSinkWithWriter(w MessageWriter, device string, log *slog.Logger) *KafkaSink {
	return &KafkaSink{writer: w, device: device, log: log, now: time.Now}
}

func (s *KafkaSink) PostStatus(ctx context.Context, text string) error {
	return s.publish(ctx, KindStatus, text)
}

func (s *KafkaSink) PostAlert(ctx context.Context, text string) error {
	return s.publish(ctx, KindAlert, text)
}

// Close flushes pending messages and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func (s *KafkaSink) publish(ctx context.Context, kind, text string) error {
	value, err := json.Marshal(Message{Kind: kind, Text: text, Time: s.now(), Device: s.device})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	msg := kafka.Message{
		Key:     []byte(s.device),
		Value:   value,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(kind)}},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.log.Error("Failed to write notification to kafka", "err", err, slog.String("kind", kind))
		return fmt.Errorf("failed to publish %s notification: %w", kind, err)
	}
	return nil
}
