package address

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"

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

func TestResolver_Deterministic(t *testing.T) {
	programID := newKey(t)
	owner := newKey(t)
	mint := newKey(t)

	first := NewResolver(programID)
	second := NewResolver(programID)

	a1, b1 := first.GlobalAuthority()
	a2, b2 := second.GlobalAuthority()
	if !a1.Equals(a2) || b1 != b2 {
		t.Fatalf("Expected identical global authority, got %s/%d and %s/%d", a1, b1, a2, b2)
	}

	expected, _, err := solana.FindProgramAddress([][]byte{[]byte(GlobalAuthoritySeed)}, programID)
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if !a1.Equals(expected) {
		t.Errorf("Expected authority %s, but got %s", expected, a1)
	}

	if !first.HoldingAccount(owner, mint).Equals(second.HoldingAccount(owner, mint)) {
		t.Error("Expected identical holding accounts for identical inputs")
	}
	if first.HoldingAccount(owner, mint).Equals(first.HoldingAccount(mint, owner)) {
		t.Error("Expected holding account to depend on argument order")
	}

	c1 := first.RaffleCandidates(owner, mint)
	c2 := second.RaffleCandidates(owner, mint)
	for i := range c1 {
		if c1[i] != c2[i] {
			t.Fatalf("Expected identical candidate %d, got %+v and %+v", i, c1[i], c2[i])
		}
	}
}

func TestResolver_RaffleCandidates(t *testing.T) {
	resolver := NewResolver(newKey(t))
	creator := newKey(t)
	mint := newKey(t)

	candidates := resolver.RaffleCandidates(creator, mint)
	if len(candidates) != SeedCandidates {
		t.Fatalf("Expected %d candidates, but got %d", SeedCandidates, len(candidates))
	}

	seen := make(map[solana.PublicKey]bool)
	for i, c := range candidates {
		if len(c.Seed) != SeedCandidates-i {
			t.Errorf("Expected seed %d to have length %d, but got %q", i, SeedCandidates-i, c.Seed)
		}
		if c.Seed != mint.String()[:len(c.Seed)] {
			t.Errorf("Expected seed %q to prefix the mint", c.Seed)
		}
		if seen[c.Address] {
			t.Errorf("Candidate %d repeats address %s", i, c.Address)
		}
		seen[c.Address] = true
	}
}

func TestFirstFree(t *testing.T) {
	resolver := NewResolver(newKey(t))
	candidates := resolver.RaffleCandidates(newKey(t), newKey(t))

	t.Run("skips occupied candidates", func(t *testing.T) {
		occupied := map[solana.PublicKey]bool{
			candidates[0].Address: true,
			candidates[1].Address: true,
		}
		got, err := FirstFree(candidates, func(c Candidate) (bool, error) {
			return occupied[c.Address], nil
		})
		if err != nil {
			t.Fatalf("Expected no error, but got %v", err)
		}
		if got != candidates[2] {
			t.Errorf("Expected third candidate, but got %+v", got)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		_, err := FirstFree(candidates, func(Candidate) (bool, error) { return true, nil })
		if !errors.Is(err, raffle.ErrSeedExhausted) {
			t.Fatalf("Expected ErrSeedExhausted, but got %v", err)
		}
	})

	t.Run("lookup failure stops the search", func(t *testing.T) {
		boom := errors.New("rpc down")
		_, err := FirstFree(candidates, func(Candidate) (bool, error) { return false, boom })
		if !errors.Is(err, boom) {
			t.Fatalf("Expected lookup error, but got %v", err)
		}
	})
}
