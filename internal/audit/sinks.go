package audit

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Sink delivers one event somewhere durable.
type Sink interface {
	Name() string
	Publish(ctx context.Context, e Event) error
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Publish(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.Type)),
		zap.String("identifier", e.Identifier),
		zap.String("endpoint", e.Endpoint),
		zap.String("client_id", e.ClientID),
		zap.Time("time", e.Time),
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	s.logger.Info("Security event", fields...)
	return nil
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink produces events as JSON, keyed by identifier so one identity's
// events stay ordered within a partition.
type KafkaSink struct {
	writer MessageWriter
}

func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Publish(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode security event: %w", err)
	}

	key := e.Identifier
	if key == "" {
		key = e.ClientID
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write security event to kafka: %w", err)
	}
	return nil
}

// DocumentIndexer is satisfied by *client.ESClient.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// ElasticsearchSink indexes each event under its ID, so redelivery is idempotent.
type ElasticsearchSink struct {
	indexer DocumentIndexer
	index   string
}

func NewElasticsearchSink(indexer DocumentIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{indexer: indexer, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Publish(ctx context.Context, e Event) error {
	if err := s.indexer.IndexDocument(ctx, s.index, e.ID, e); err != nil {
		return fmt.Errorf("failed to index security event: %w", err)
	}
	return nil
}
