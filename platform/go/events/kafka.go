package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Kafka publishes lifecycle events as JSON messages keyed by store id, so a
// topic consumer sees per-store transitions in order.
type Kafka struct {
	writer *kafka.Writer
}

func NewKafka(brokers []string, topic string) *Kafka {
	if len(brokers) == 0 {
		panic("kafka publisher requires brokers")
	}
	if topic == "" {
		panic("kafka publisher requires topic")
	}

	return &Kafka{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: 5 * time.Second,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (k *Kafka) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.StoreID.String()),
		Value: payload,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close flushes and shuts down the writer.
func (k *Kafka) Close() error {
	return k.writer.Close()
}

var _ Publisher = (*Kafka)(nil)
