// Package events publishes settled raffle operations to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Settlement describes one operation the ledger settled.
type Settlement struct {
	Operation string    `json:"operation"`
	Raffle    string    `json:"raffle,omitempty"`
	Mint      string    `json:"mint,omitempty"`
	Signer    string    `json:"signer"`
	Signature string    `json:"signature"`
	Slot      uint64    `json:"slot"`
	SettledAt time.Time `json:"settledAt"`
}

// Key partitions events by collectible so one raffle's history stays ordered.
func (s Settlement) Key() []byte {
	if s.Mint != "" {
		return []byte(s.Mint)
	}
	return []byte(s.Signer)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// SettlementPublisher writes Settlement events as JSON to one topic.
type SettlementPublisher struct {
	writer messageWriter
	Topic  string
}

func NewSettlementPublisher(brokers []string, topic string) *SettlementPublisher {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &SettlementPublisher{writer: writer, Topic: topic}
}

func (p *SettlementPublisher) Publish(ctx context.Context, s Settlement) error {
	value, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settlement: %w", err)
	}

	msg := kafka.Message{
		Key:   s.Key(),
		Value: value,
		Time:  s.SettledAt,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (p *SettlementPublisher) Close() error {
	return p.writer.Close()
}
