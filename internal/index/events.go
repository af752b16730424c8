// events.go — content-index change notifications over Kafka.
//
// Every index write at intake publishes a ChangeEvent carrying before/after
// snapshots of the pack's content list. The reprocessor consumes the topic
// and diffs the snapshots to find freshly added videos. Using snapshot pairs
// rather than "item added" messages keeps the consumer idempotent: replaying
// an event yields the same diff, and an event whose candidates are already
// processed schedules nothing.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ChangeEvent is one content-index change notification.
type ChangeEvent struct {
	PackID     string        `json:"packId"`
	Before     []ContentItem `json:"before"`
	After      []ContentItem `json:"after"`
	OccurredAt time.Time     `json:"occurredAt"`
}

// Publisher emits ChangeEvents. Intake holds one; tests inject a recorder.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) error
}

// KafkaPublisher writes ChangeEvents to a Kafka topic, keyed by pack ID so
// changes to one pack stay ordered within a partition.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Publish sends one change event.
func (p *KafkaPublisher) Publish(ctx context.Context, ev ChangeEvent) error {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("index: marshal change event: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.PackID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("index: publish change event for pack %q: %w", ev.PackID, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Consumer reads ChangeEvents from the topic within a consumer group.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer creates a group consumer for change events.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1,
			MaxBytes: 10 << 20,
		}),
	}
}

// Fetch blocks until the next change event arrives. Call Commit after the
// event has been handled so a crash mid-bake replays it.
func (c *Consumer) Fetch(ctx context.Context) (ChangeEvent, kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return ChangeEvent{}, kafka.Message{}, err
	}
	var ev ChangeEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		return ChangeEvent{}, msg, fmt.Errorf("index: decode change event: %w", err)
	}
	return ev, msg, nil
}

// Commit marks a fetched message as handled.
func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	return c.reader.CommitMessages(ctx, msg)
}

// Close shuts the reader down.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
