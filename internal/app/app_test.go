package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"coordinator/internal/config"
	"coordinator/internal/ledger"
)

func writeKeypair(t *testing.T, dir string) string {
	t.Helper()
	wallet := solana.NewWallet()
	bytes := make([]string, len(wallet.PrivateKey))
	for i, b := range wallet.PrivateKey {
		bytes[i] = strconv.Itoa(int(b))
	}
	path := filepath.Join(dir, "wallet.json")
	if err := os.WriteFile(path, []byte("["+strings.Join(bytes, ",")+"]"), 0o600); err != nil {
		t.Fatalf("Failed to write keypair: %v", err)
	}
	return path
}

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	return config.Config{
		RPCEndpoint:     "http://127.0.0.1:8899",
		ProgramID:       solana.NewWallet().PublicKey(),
		WalletKeypair:   writeKeypair(t, dir),
		Commitment:      ledger.CommitmentConfirmed,
		ConfirmTimeout:  time.Second,
		WithdrawGrace:   time.Hour,
		DatabasePath:    filepath.Join(dir, "coordinator.db"),
		HTTPAddr:        "127.0.0.1:0",
		TrackerInterval: time.Hour,
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	a, err := NewApp(testConfig(t))
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if a.publisher != nil {
		t.Error("Expected no publisher without brokers")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := a.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected the deadline to stop the app, but got %v", err)
	}
}

func TestNewApp_MissingKeypair(t *testing.T) {
	cfg := testConfig(t)
	cfg.WalletKeypair = filepath.Join(t.TempDir(), "missing.json")
	if _, err := NewApp(cfg); err == nil {
		t.Error("Expected an error for a missing keypair")
	}
}

func TestNewApp_WithBrokers(t *testing.T) {
	cfg := testConfig(t)
	cfg.KafkaBrokers = []string{"127.0.0.1:9092"}
	cfg.KafkaTopicSettlements = "raffle_settlements"

	a, err := NewApp(cfg)
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	t.Cleanup(a.cleanup)
	if a.publisher == nil || a.publisher.Topic != "raffle_settlements" {
		t.Errorf("Expected a settlement publisher, but got %+v", a.publisher)
	}
}
