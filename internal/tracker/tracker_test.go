package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"coordinator/internal/assembler"
	"coordinator/internal/engine"
	"coordinator/internal/ledger"
	"coordinator/internal/ledger/ledgertest"
	"coordinator/internal/raffle"
	"coordinator/internal/storage"
)

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

func TestTracker_Synchronize(t *testing.T) {
	ctx := context.Background()
	programID := newKey(t).PublicKey()
	l := ledgertest.New(programID, raffle.Mints{})

	db, err := storage.NewSqliteStorage(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	engineFor := func(actor solana.PrivateKey) *engine.Engine {
		env := ledger.Env{Client: l, ProgramID: programID, Payer: actor}
		submitter := assembler.New(env, assembler.WithPollInterval(time.Millisecond))
		return engine.New(env, raffle.Mints{}, submitter, engine.WithClock(l.Now), engine.WithWatchlist(db))
	}

	creator, buyer, keeper := newKey(t), newKey(t), newKey(t)
	for _, actor := range []solana.PrivateKey{creator, buyer, keeper} {
		l.FundSol(actor.PublicKey(), 10)
	}
	if _, err := engineFor(creator).Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize: %v", err)
	}

	create := func(end time.Duration) solana.PublicKey {
		nft := newKey(t).PublicKey()
		l.MintTo(creator.PublicKey(), nft, 1)
		_, err := engineFor(creator).CreateRaffle(ctx, engine.CreateRequest{
			Mint:        nft,
			Prices:      raffle.Prices{Sol: decimal.NewFromInt(1)},
			End:         l.Now().Add(end),
			WinnerCount: 1,
			Max:         5,
		})
		if err != nil {
			t.Fatalf("Failed to create raffle: %v", err)
		}
		return nft
	}

	withEntrants := create(time.Minute)
	empty := create(time.Minute)
	later := create(time.Hour)
	if _, err := engineFor(buyer).BuyTickets(ctx, withEntrants, 1); err != nil {
		t.Fatalf("Failed to buy tickets: %v", err)
	}

	keeperEngine := engineFor(keeper)
	tracker := NewTracker(db, keeperEngine.Registry(), keeperEngine, WithClock(l.Now))

	l.Advance(2 * time.Minute)
	if err := tracker.Synchronize(ctx); err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}

	statusOf := func(mint solana.PublicKey) *storage.RaffleStatus {
		entry, found, err := keeperEngine.Registry().FindLiveRaffle(ctx, mint)
		if err != nil || !found {
			t.Fatalf("Expected raffle of %s, but got found=%v err=%v", mint, found, err)
		}
		status, err := db.GetRaffleStatus(entry.Address.String())
		if err != nil {
			t.Fatalf("Expected watched raffle, but got %v", err)
		}
		return status
	}

	if status := statusOf(withEntrants); !status.Revealed {
		t.Error("Expected the expired raffle with entrants to be revealed")
	}
	if status := statusOf(empty); status.Revealed || !status.Closed {
		t.Errorf("Expected the empty raffle closed and unrevealed, but got %+v", status)
	}
	if status := statusOf(later); status.Revealed || status.Closed {
		t.Errorf("Expected the running raffle untouched, but got %+v", status)
	}

	expired, err := db.GetExpiredRaffles(l.Now().Unix())
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("Expected nothing left to reveal, but got %d rows", len(expired))
	}
}

func TestTracker_Watch(t *testing.T) {
	ctx := context.Background()
	programID := newKey(t).PublicKey()
	l := ledgertest.New(programID, raffle.Mints{})
	db, err := storage.NewSqliteStorage(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	env := ledger.Env{Client: l, ProgramID: programID, Payer: newKey(t)}
	e := engine.New(env, raffle.Mints{}, assembler.New(env))
	tracker := NewTracker(db, e.Registry(), e)

	mint := newKey(t).PublicKey()
	if _, found, err := tracker.Watch(ctx, mint); err != nil || found {
		t.Fatalf("Expected no raffle, but got found=%v err=%v", found, err)
	}

	addr := newKey(t).PublicKey()
	pool := &raffle.Pool{Creator: newKey(t).PublicKey(), NftMint: mint, EndTimestamp: 123, MaxEntrants: 1, WinnerCount: 1}
	l.Put(&ledger.Account{Address: addr, Owner: programID, Data: pool.Encode()})

	status, found, err := tracker.Watch(ctx, mint)
	if err != nil || !found {
		t.Fatalf("Expected the raffle to be watched, but got found=%v err=%v", found, err)
	}
	if status.Raffle != addr.String() || status.EndTimestamp != 123 {
		t.Errorf("Unexpected watch row %+v", status)
	}
}

func TestTracker_RunStopsWithContext(t *testing.T) {
	programID := newKey(t).PublicKey()
	l := ledgertest.New(programID, raffle.Mints{})
	db, err := storage.NewSqliteStorage(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("Failed to open storage: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	env := ledger.Env{Client: l, ProgramID: programID, Payer: newKey(t)}
	e := engine.New(env, raffle.Mints{}, assembler.New(env))
	tracker := NewTracker(db, e.Registry(), e, WithInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := tracker.Run(ctx); err != nil {
		t.Errorf("Expected clean shutdown, but got %v", err)
	}
}
