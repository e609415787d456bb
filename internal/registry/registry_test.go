package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"

	"coordinator/internal/ledger"
	"coordinator/internal/ledger/ledgertest"
	"coordinator/internal/raffle"
)

func newKey(t *testing.T) solana.PublicKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key.PublicKey()
}

func putRaffle(t *testing.T, l *ledgertest.Ledger, programID, mint solana.PublicKey, end int64) solana.PublicKey {
	t.Helper()
	addr := newKey(t)
	pool := &raffle.Pool{Creator: newKey(t), NftMint: mint, EndTimestamp: end, MaxEntrants: 10, WinnerCount: 1}
	l.Put(&ledger.Account{Address: addr, Owner: programID, Data: pool.Encode()})
	return addr
}

func TestFindLiveRaffle(t *testing.T) {
	ctx := context.Background()
	programID := newKey(t)

	t.Run("latest end wins", func(t *testing.T) {
		l := ledgertest.New(programID, raffle.Mints{})
		mint := newKey(t)
		putRaffle(t, l, programID, mint, 100)
		latest := putRaffle(t, l, programID, mint, 300)
		putRaffle(t, l, programID, mint, 200)
		putRaffle(t, l, programID, newKey(t), 900)

		entry, found, err := New(l, programID).FindLiveRaffle(ctx, mint)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if !found {
			t.Fatal("Expected a raffle to be found")
		}
		if !entry.Address.Equals(latest) || entry.Pool.EndTimestamp != 300 {
			t.Errorf("Expected raffle %s ending at 300, but got %s ending at %d", latest, entry.Address, entry.Pool.EndTimestamp)
		}
	})

	t.Run("ties keep enumeration order", func(t *testing.T) {
		l := ledgertest.New(programID, raffle.Mints{})
		mint := newKey(t)
		first := putRaffle(t, l, programID, mint, 500)
		putRaffle(t, l, programID, mint, 500)

		entry, _, err := New(l, programID).FindLiveRaffle(ctx, mint)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if !entry.Address.Equals(first) {
			t.Errorf("Expected first enumerated raffle %s, but got %s", first, entry.Address)
		}
	})

	t.Run("none found", func(t *testing.T) {
		l := ledgertest.New(programID, raffle.Mints{})
		_, found, err := New(l, programID).FindLiveRaffle(ctx, newKey(t))
		if err != nil || found {
			t.Errorf("Expected found=false and no error, but got found=%v err=%v", found, err)
		}
	})

	t.Run("malformed candidates are skipped", func(t *testing.T) {
		l := ledgertest.New(programID, raffle.Mints{})
		mint := newKey(t)
		good := putRaffle(t, l, programID, mint, 100)

		bogus := make([]byte, raffle.PoolSize)
		copy(bogus[raffle.MintOffset:], mint[:])
		l.Put(&ledger.Account{Address: newKey(t), Owner: programID, Data: bogus})

		entry, found, err := New(l, programID).FindLiveRaffle(ctx, mint)
		if err != nil || !found {
			t.Fatalf("Expected the valid raffle, but got found=%v err=%v", found, err)
		}
		if !entry.Address.Equals(good) {
			t.Errorf("Expected %s, but got %s", good, entry.Address)
		}
	})

	t.Run("transport errors propagate", func(t *testing.T) {
		l := ledgertest.New(programID, raffle.Mints{})
		l.FailReads(errors.New("connection refused"))
		if _, _, err := New(l, programID).FindLiveRaffle(ctx, newKey(t)); err == nil {
			t.Fatal("Expected an error, but got nil")
		}
	})
}

func TestFetchRaffleState(t *testing.T) {
	ctx := context.Background()
	programID := newKey(t)
	l := ledgertest.New(programID, raffle.Mints{})
	registry := New(l, programID)
	mint := newKey(t)
	addr := putRaffle(t, l, programID, mint, 42)

	pool, err := registry.FetchRaffleState(ctx, addr)
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if !pool.NftMint.Equals(mint) || pool.EndTimestamp != 42 {
		t.Errorf("Unexpected record %+v", pool)
	}

	if _, err := registry.FetchRaffleState(ctx, newKey(t)); !errors.Is(err, raffle.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, but got %v", err)
	}

	broken := newKey(t)
	l.Put(&ledger.Account{Address: broken, Owner: programID, Data: []byte{1, 2, 3}})
	if _, err := registry.FetchRaffleState(ctx, broken); !errors.Is(err, raffle.ErrMalformedAccount) {
		t.Errorf("Expected ErrMalformedAccount, but got %v", err)
	}

	l.FailReads(errors.New("timeout"))
	_, err = registry.FetchRaffleState(ctx, addr)
	if err == nil || errors.Is(err, raffle.ErrNotFound) || errors.Is(err, raffle.ErrMalformedAccount) {
		t.Errorf("Expected a transport error, but got %v", err)
	}
}
