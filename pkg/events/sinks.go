package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/repository"
	"github.com/segmentio/kafka-go"
	"go.mongodb.org/mongo-driver/bson"
)

type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *repository.AuditLog) error
}

// AuditSink records every event in the Mongo audit collection, keyed by
// order id.
type AuditSink struct {
	store   AuditWriter
	service string
}

func NewAuditSink(store AuditWriter, service string) *AuditSink {
	return &AuditSink{store: store, service: service}
}

func (s *AuditSink) Name() string { return "audit" }

func (s *AuditSink) Handle(ctx context.Context, ev Event) error {
	data := bson.M{"event_id": ev.ID}
	if ev.UserID != "" {
		data["user_id"] = ev.UserID
	}
	for k, v := range ev.Data {
		data[k] = v
	}

	return s.store.CreateAuditLog(ctx, &repository.AuditLog{
		Service:   s.service,
		Action:    ev.Type,
		EntityID:  ev.OrderID,
		Data:      data,
		CreatedAt: ev.At,
	})
}

// KafkaSink publishes events as JSON, keyed by order id so one order's
// events stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Handle(ctx context.Context, ev Event) error {
	msg, err := kafkaMessage(ev)
	if err != nil {
		return err
	}
	return s.writer.WriteMessages(ctx, msg)
}

func (s *KafkaSink) Close() error {
	if s.writer != nil {
		return s.writer.Close()
	}
	return nil
}

func kafkaMessage(ev Event) (kafka.Message, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	key := ev.OrderID
	if key == "" {
		key = ev.ID
	}
	return kafka.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}, nil
}
