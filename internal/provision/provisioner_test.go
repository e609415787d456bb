package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"

	"coordinator/internal/address"
	"coordinator/internal/ledger/ledgertest"
	"coordinator/internal/raffle"
)

func newWallet(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	return key
}

func submit(t *testing.T, l *ledgertest.Ledger, payer solana.PrivateKey, plan Plan) {
	t.Helper()
	ctx := context.Background()
	blockhash, _ := l.GetLatestBlockhash(ctx)
	tx, err := solana.NewTransaction(plan.Instructions, blockhash, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		t.Fatalf("Failed to build transaction: %v", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to sign transaction: %v", err)
	}
	if _, err := l.SendTransaction(ctx, tx); err != nil {
		t.Fatalf("Expected submission to settle, but got %v", err)
	}
}

func TestEnsure(t *testing.T) {
	ctx := context.Background()
	programID := newWallet(t).PublicKey()
	mintA := newWallet(t).PublicKey()
	mintB := newWallet(t).PublicKey()
	resolver := address.NewResolver(programID)

	t.Run("creates missing accounts once and is idempotent", func(t *testing.T) {
		l := ledgertest.New(programID, raffle.Mints{})
		payer := newWallet(t)
		l.FundSol(payer.PublicKey(), 1)
		provisioner := NewProvisioner(l, resolver)

		plan, err := provisioner.Ensure(ctx, payer.PublicKey(), payer.PublicKey(), mintA, mintB, mintA)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if len(plan.Instructions) != 2 {
			t.Fatalf("Expected 2 creation instructions, but got %d", len(plan.Instructions))
		}
		if got := plan.Addresses[mintA]; !got.Equals(resolver.HoldingAccount(payer.PublicKey(), mintA)) {
			t.Errorf("Expected canonical holding account, but got %s", got)
		}

		submit(t, l, payer, plan)

		again, err := provisioner.Ensure(ctx, payer.PublicKey(), payer.PublicKey(), mintA, mintB)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if len(again.Instructions) != 0 {
			t.Errorf("Expected no instructions after provisioning, but got %d", len(again.Instructions))
		}
	})

	t.Run("mirrors the payer account", func(t *testing.T) {
		l := ledgertest.New(programID, raffle.Mints{})
		payer := newWallet(t)
		owner := newWallet(t).PublicKey()
		provisioner := NewProvisioner(l, resolver)

		plan, err := provisioner.Ensure(ctx, payer.PublicKey(), owner, mintA)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if len(plan.Instructions) != 2 {
			t.Fatalf("Expected owner and payer accounts, but got %d instructions", len(plan.Instructions))
		}
		created, _ := createdAccount(plan.Instructions[1])
		if !created.Equals(resolver.HoldingAccount(payer.PublicKey(), mintA)) {
			t.Errorf("Expected payer mirror %s, but got %s", resolver.HoldingAccount(payer.PublicKey(), mintA), created)
		}
	})

	t.Run("skips existing accounts", func(t *testing.T) {
		l := ledgertest.New(programID, raffle.Mints{})
		owner := newWallet(t).PublicKey()
		l.MintTo(owner, mintA, 0)
		provisioner := NewProvisioner(l, resolver)

		plan, err := provisioner.Ensure(ctx, owner, owner, mintA)
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if len(plan.Instructions) != 0 {
			t.Errorf("Expected no instructions, but got %d", len(plan.Instructions))
		}
	})

	t.Run("propagates lookup failures", func(t *testing.T) {
		l := ledgertest.New(programID, raffle.Mints{})
		l.FailReads(errors.New("connection reset"))
		provisioner := NewProvisioner(l, resolver)

		if _, err := provisioner.Ensure(ctx, mintA, mintA, mintB); err == nil {
			t.Fatal("Expected a transport error, but got nil")
		}
	})
}

func TestPlan_Merge(t *testing.T) {
	ctx := context.Background()
	programID := newWallet(t).PublicKey()
	mint := newWallet(t).PublicKey()
	l := ledgertest.New(programID, raffle.Mints{})
	provisioner := NewProvisioner(l, address.NewResolver(programID))
	owner := newWallet(t).PublicKey()

	first, _ := provisioner.Ensure(ctx, owner, owner, mint)
	second, _ := provisioner.Ensure(ctx, owner, owner, mint)
	first.Merge(second)

	if len(first.Instructions) != 1 {
		t.Errorf("Expected merged plan to create the account once, but got %d", len(first.Instructions))
	}
}
