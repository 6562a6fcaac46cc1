package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/example/ec-fulfillment/internal/infrastructure/kafka"
	"github.com/google/uuid"
)

// Sink is the best-effort side channel for confirmations and alerts.
// Publishing must never block a transaction; the engine calls it only after
// commit and swallows errors.
type Sink interface {
	Publish(ctx context.Context, key, eventType string, payload any) error
}

// KafkaSink publishes notification events to the notifications topic
type KafkaSink struct {
	producer *kafka.Producer
}

func NewKafkaSink(producer *kafka.Producer) *KafkaSink {
	return &KafkaSink{producer: producer}
}

func (s *KafkaSink) Publish(ctx context.Context, key, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.producer.Publish(ctx, key, Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: time.Now(),
		Data:       data,
	})
}
