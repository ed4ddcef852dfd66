// Package events publishes instance lifecycle events (connected, failed,
// deleted) for other services such as booking and notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"tempo/internal/apps/models"
	"tempo/internal/platform/kafka/producer"
)

// Producer is the subset of the kafka producer the publisher needs.
type Producer interface {
	ProduceAsync(msg *producer.Message, onError func(error)) error
}

// KafkaPublisher writes events to a topic keyed by company id so that one
// company's events stay ordered within a partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
	onError  func(error)
}

// NewKafkaPublisher returns a publisher for topic. onError, if set, is called
// for asynchronous delivery failures.
func NewKafkaPublisher(p Producer, topic string, onError func(error)) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic, onError: onError}
}

func (k *KafkaPublisher) Publish(_ context.Context, evt models.LifecycleEvent) error {
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	return k.producer.ProduceAsync(&producer.Message{
		Topic: k.topic,
		Key:   []byte(evt.CompanyID.String()),
		Value: value,
		Headers: map[string]string{
			"event_type": string(evt.Type),
			"app_name":   evt.AppName,
		},
	}, k.onError)
}

// LogPublisher logs events when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (l *LogPublisher) Publish(ctx context.Context, evt models.LifecycleEvent) error {
	l.logger.InfoContext(ctx, "app lifecycle event",
		"event_type", evt.Type,
		"company_id", evt.CompanyID.String(),
		"instance_id", evt.InstanceID.String(),
		"app_name", evt.AppName,
		"reason", evt.Reason,
	)
	return nil
}
