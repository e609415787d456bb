package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"

	"coordinator/internal/ledger"
	"coordinator/internal/logger"
	"coordinator/internal/raffle"
)

// Config holds runtime configuration for the coordinator service.
type Config struct {
	RPCEndpoint   string
	ProgramID     solana.PublicKey
	Mints         raffle.Mints
	WalletKeypair string
	Commitment    ledger.Commitment

	ConfirmTimeout time.Duration
	WithdrawGrace  time.Duration

	DatabasePath string
	HTTPAddr     string
	// APIToken guards every HTTP intent; intents are refused while unset.
	APIToken string

	KafkaBrokers          []string
	KafkaTopicSettlements string

	TrackerInterval time.Duration

	Log logger.Configuration
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBoolOrDefault(key string, def bool) (bool, error) {
	if raw := os.Getenv(key); raw != "" {
		val, err := strconv.ParseBool(raw)
		if err != nil {
			return false, fmt.Errorf("invalid %s: %w", key, err)
		}
		return val, nil
	}

	return def, nil
}

func envDurationOrDefault(key string, def time.Duration) (time.Duration, error) {
	if raw := os.Getenv(key); raw != "" {
		val, err := time.ParseDuration(raw)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		if val <= 0 {
			return 0, fmt.Errorf("invalid %s: must be positive, got %s", key, raw)
		}
		return val, nil
	}

	return def, nil
}

// envCSVOrDefault splits a comma separated variable. An explicitly empty
// default yields no entries.
func envCSVOrDefault(key, def string) []string {
	raw := envOrDefault(key, def)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func envKey(key string, required bool) (solana.PublicKey, error) {
	raw := os.Getenv(key)
	if raw == "" {
		if required {
			return solana.PublicKey{}, fmt.Errorf("%s is required", key)
		}
		return solana.PublicKey{}, nil
	}
	val, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return val, nil
}

func parseCommitment(raw string) (ledger.Commitment, error) {
	switch c := ledger.Commitment(strings.ToLower(raw)); c {
	case ledger.CommitmentProcessed, ledger.CommitmentConfirmed, ledger.CommitmentFinalized:
		return c, nil
	default:
		return "", fmt.Errorf("invalid COMMITMENT: %q", raw)
	}
}

// LoadConfig loads configuration from the environment, reading a .env file
// first when one exists.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	programID, err := envKey("PROGRAM_ID", true)
	if err != nil {
		return Config{}, err
	}
	booga, err := envKey("BOOGA_MINT", false)
	if err != nil {
		return Config{}, err
	}
	zion, err := envKey("ZION_MINT", false)
	if err != nil {
		return Config{}, err
	}
	commitment, err := parseCommitment(envOrDefault("COMMITMENT", string(ledger.CommitmentConfirmed)))
	if err != nil {
		return Config{}, err
	}
	confirmTimeout, err := envDurationOrDefault("CONFIRM_TIMEOUT", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	withdrawGrace, err := envDurationOrDefault("WITHDRAW_GRACE", 72*time.Hour)
	if err != nil {
		return Config{}, err
	}
	trackerInterval, err := envDurationOrDefault("TRACKER_INTERVAL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	console, err := envBoolOrDefault("LOG_CONSOLE", true)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCEndpoint:   envOrDefault("RPC_ENDPOINT", "https://api.devnet.solana.com"),
		ProgramID:     programID,
		Mints:         raffle.Mints{Booga: booga, Zion: zion},
		WalletKeypair: envOrDefault("WALLET_KEYPAIR", "wallet.json"),
		Commitment:    commitment,

		ConfirmTimeout: confirmTimeout,
		WithdrawGrace:  withdrawGrace,

		DatabasePath: envOrDefault("DATABASE_PATH", "coordinator.db"),
		HTTPAddr:     envOrDefault("HTTP_ADDR", "127.0.0.1:8080"),
		APIToken:     os.Getenv("API_TOKEN"),

		KafkaBrokers:          envCSVOrDefault("KAFKA_BROKERS", ""),
		KafkaTopicSettlements: envOrDefault("KAFKA_TOPIC_SETTLEMENTS", "raffle_settlements"),

		TrackerInterval: trackerInterval,

		Log: logger.Configuration{
			LogFile:   os.Getenv("LOG_FILE"),
			ErrorFile: os.Getenv("LOG_ERROR_FILE"),
			Level:     envOrDefault("LOG_LEVEL", "info"),
			Console:   console,
		},
	}

	return cfg, nil
}

// LoadPayer reads the service identity from a solana-keygen JSON file.
func (c Config) LoadPayer() (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(c.WalletKeypair)
	if err != nil {
		return nil, fmt.Errorf("read wallet keypair %s: %w", c.WalletKeypair, err)
	}
	return key, nil
}
