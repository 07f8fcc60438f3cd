// Package messaging publishes interaction events to Kafka.
package messaging

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes interaction records keyed by message id, so every
// record of one message lands on the same partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			WriteTimeout: 10 * time.Second,
		},
		topic: topic,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, rec *domain.InteractionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode interaction %s: %w", rec.ID, err)
	}

	msg := kafka.Message{
		Key:   []byte(rec.MessageID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "interaction_type", Value: []byte(rec.InteractionType)},
		},
		Time: rec.CreatedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ out.InteractionPublisher = (*KafkaPublisher)(nil)
