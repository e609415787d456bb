// Package tracker keeps watched raffles moving: once a raffle ends with
// entrants and nobody revealed it, the tracker reveals the winners.
package tracker

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"coordinator/internal/engine"
	"coordinator/internal/logger"
	"coordinator/internal/raffle"
	"coordinator/internal/registry"
	"coordinator/internal/storage"
)

const defaultInterval = 30 * time.Second

// Revealer draws the winners of a raffle known by address.
type Revealer interface {
	RevealRaffle(ctx context.Context, raffleAddr solana.PublicKey) (engine.RevealResult, error)
}

// StateReader reads raffle records from the ledger.
type StateReader interface {
	FindLiveRaffle(ctx context.Context, mint solana.PublicKey) (registry.Entry, bool, error)
	FetchRaffleState(ctx context.Context, addr solana.PublicKey) (*raffle.Pool, error)
}

// Watchlist is the part of storage the tracker works on.
type Watchlist interface {
	UpdateRaffleStatus(status *storage.RaffleStatus) error
	GetExpiredRaffles(now int64) ([]*storage.RaffleStatus, error)
}

type Option func(*Tracker)

func WithInterval(interval time.Duration) Option {
	return func(t *Tracker) {
		t.interval = interval
	}
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

type Tracker struct {
	storage  Watchlist
	reader   StateReader
	revealer Revealer
	interval time.Duration
	now      func() time.Time
}

func NewTracker(storage Watchlist, reader StateReader, revealer Revealer, options ...Option) *Tracker {
	t := &Tracker{
		storage:  storage,
		reader:   reader,
		revealer: revealer,
		interval: defaultInterval,
		now:      time.Now,
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// Run synchronizes every interval until ctx ends. A failed round is logged
// and retried on the next tick.
func (t *Tracker) Run(ctx context.Context) error {
	logger.Info("tracker: started", zap.Duration("interval", t.interval))

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		if err := t.Synchronize(ctx); err != nil {
			logger.Error("tracker: synchronization failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			t.Finalize()
			return nil
		case <-ticker.C:
		}
	}
}

func (t *Tracker) Finalize() {
	logger.Info("tracker: stopped")
}

// Watch starts tracking the live raffle of mint. found is false when the
// collectible has no raffle.
func (t *Tracker) Watch(ctx context.Context, mint solana.PublicKey) (*storage.RaffleStatus, bool, error) {
	entry, found, err := t.reader.FindLiveRaffle(ctx, mint)
	if err != nil || !found {
		return nil, found, err
	}

	status := engine.StatusRow(entry.Address, entry.Pool)
	if err := t.storage.UpdateRaffleStatus(status); err != nil {
		return nil, true, err
	}

	logger.Debug("tracker: watching raffle", zap.String("mint", mint.String()), zap.String("raffle", status.Raffle))
	return status, true, nil
}
