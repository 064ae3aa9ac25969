// Package notify publishes user notifications to a Kafka topic for push delivery.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Notification is the value of every published record. Records are keyed by user id
// so the notifications of a user stay in order.
type Notification struct {
	UserID string    `json:"user_id"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSink struct {
	w   messageWriter
	now func() time.Time
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaSink{w: w, now: time.Now}
}

func (s *KafkaSink) Push(ctx context.Context, userID, text string) error {
	value, err := json.Marshal(Notification{UserID: userID, Text: text, SentAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("Marshal: %w", err)
	}
	if err := s.w.WriteMessages(ctx, kafka.Message{Key: []byte(userID), Value: value}); err != nil {
		return fmt.Errorf("WriteMessages: %w", err)
	}
	return nil
}

// Close flushes pending records.
func (s *KafkaSink) Close() error {
	return s.w.Close()
}
