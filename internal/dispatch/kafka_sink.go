package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes envelopes keyed by topic, so one route's events stay on
// one partition and keep their order.
type KafkaSink struct {
	writer  MessageWriter
	timeout time.Duration
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return NewKafkaSinkWithWriter(w)
}

func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w, timeout: 2 * time.Second}
}

func (k *KafkaSink) Publish(ctx context.Context, topic, event string, payload any) error {
	b, err := json.Marshal(newEnvelope(topic, event, payload))
	if err != nil {
		return fmt.Errorf("kafka sink: encode %s: %w", event, err)
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	err = k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(topic), Value: b})
	record("kafka", event, err)
	if err != nil {
		return fmt.Errorf("kafka sink: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
