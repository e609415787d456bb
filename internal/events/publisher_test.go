package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	return nil
}

func TestSettlementPublisher_Publish(t *testing.T) {
	writer := &recordingWriter{}
	publisher := &SettlementPublisher{writer: writer, Topic: "raffle_settlements"}

	settled := Settlement{
		Operation: "reveal_winner",
		Raffle:    "raffle",
		Mint:      "mint",
		Signer:    "caller",
		Signature: "sig",
		Slot:      12,
		SettledAt: time.Unix(1_700_000_000, 0).UTC(),
	}
	if err := publisher.Publish(context.Background(), settled); err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}

	if len(writer.messages) != 1 {
		t.Fatalf("Expected 1 message, but got %d", len(writer.messages))
	}
	msg := writer.messages[0]
	if string(msg.Key) != "mint" {
		t.Errorf("Expected key mint, but got %s", msg.Key)
	}
	var decoded Settlement
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("Expected JSON payload, but got %v", err)
	}
	if !decoded.SettledAt.Equal(settled.SettledAt) || decoded.Signature != "sig" || decoded.Slot != 12 || decoded.Operation != "reveal_winner" {
		t.Errorf("Expected %+v, but got %+v", settled, decoded)
	}

	writer.err = errors.New("broker down")
	if err := publisher.Publish(context.Background(), settled); err == nil {
		t.Error("Expected write failure to surface, but got nil")
	}
}

func TestSettlement_KeyFallsBackToSigner(t *testing.T) {
	if got := string(Settlement{Signer: "admin"}.Key()); got != "admin" {
		t.Errorf("Expected signer key, but got %s", got)
	}
}
