package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Sink persists audit records. Publishing is best-effort from the
// caller's point of view: a failed sink must never block or fail the
// lot operation that produced the record.
type Sink interface {
	Publish(ctx context.Context, rec Record) error
	Close()
}

// Publisher stamps records and hands them to the sink, swallowing sink
// errors into a log line.
type Publisher struct {
	sink   Sink
	logger *slog.Logger
}

func NewPublisher(sink Sink, logger *slog.Logger) *Publisher {
	return &Publisher{sink: sink, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, rec Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if err := p.sink.Publish(ctx, rec); err != nil {
		p.logger.Error("publish audit record", "action", rec.Action, "error", err)
	}
}

func (p *Publisher) Close() {
	p.sink.Close()
}

// KafkaSink writes records to a Kafka topic keyed by plate, so one
// vehicle's history lands in one partition in order.
type KafkaSink struct {
	client *kgo.Client
	topic  string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchMaxBytes(1<<20),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic}, nil
}

func (s *KafkaSink) Publish(ctx context.Context, rec Record) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(rec.Plate),
		Value: value,
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit record: %w", err)
	}
	return nil
}

func (s *KafkaSink) Close() {
	s.client.Close()
}

// NopSink discards records, for deployments without Kafka.
type NopSink struct{}

func (NopSink) Publish(ctx context.Context, rec Record) error { return nil }
func (NopSink) Close()                                        {}

// RecordingSink retains records in memory for tests.
type RecordingSink struct {
	mu      sync.Mutex
	records []Record
}

func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

func (s *RecordingSink) Publish(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *RecordingSink) Close() {}

func (s *RecordingSink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}
