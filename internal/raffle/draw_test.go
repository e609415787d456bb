package raffle

import (
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestDrawWinners(t *testing.T) {
	alice := newKey(t)
	bob := newKey(t)
	raffleKey := newKey(t)

	t.Run("sole entrant always wins", func(t *testing.T) {
		for slot := uint64(0); slot < 20; slot++ {
			got := DrawWinners([]solana.PublicKey{alice}, RevealEntropy(slot, raffleKey), 1, false)
			if len(got) != 1 || got[0] != 0 {
				t.Fatalf("Expected index 0 for slot %d, but got %v", slot, got)
			}
		}
	})

	t.Run("deterministic for the same entropy", func(t *testing.T) {
		entrants := []solana.PublicKey{alice, bob, alice, bob, alice}
		first := DrawWinners(entrants, RevealEntropy(42, raffleKey), 3, false)
		second := DrawWinners(entrants, RevealEntropy(42, raffleKey), 3, false)
		if len(first) != 3 {
			t.Fatalf("Expected 3 winners, but got %d", len(first))
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("Expected identical draws, got %v and %v", first, second)
			}
		}
	})

	t.Run("no repeat caps at distinct buyers", func(t *testing.T) {
		entrants := []solana.PublicKey{alice, alice, bob}
		got := DrawWinners(entrants, RevealEntropy(7, raffleKey), 5, true)
		if len(got) != 2 {
			t.Fatalf("Expected 2 winners, but got %d", len(got))
		}
		if entrants[got[0]].Equals(entrants[got[1]]) {
			t.Errorf("Expected distinct winners, got %v", got)
		}
	})

	t.Run("no entrants", func(t *testing.T) {
		if got := DrawWinners(nil, RevealEntropy(1, raffleKey), 1, false); got != nil {
			t.Errorf("Expected no winners, but got %v", got)
		}
	})
}
