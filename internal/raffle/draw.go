package raffle

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// RevealEntropy builds the draw seed from the slot the reveal settled in and
// the raffle address, so the draw can be replayed from ledger data alone.
func RevealEntropy(slot uint64, raffle solana.PublicKey) []byte {
	buf := make([]byte, 8+32)
	binary.LittleEndian.PutUint64(buf[:8], slot)
	copy(buf[8:], raffle[:])
	sum := sha256.Sum256(buf)
	return sum[:]
}

// DrawWinners picks up to winnerCount ticket indexes from entrants. Every
// ticket is one entrant slot, so the odds are weighted by tickets held.
// With noRepeat a buyer wins at most once.
func DrawWinners(entrants []solana.PublicKey, entropy []byte, winnerCount uint64, noRepeat bool) []uint64 {
	n := uint64(len(entrants))
	if n == 0 || winnerCount == 0 {
		return nil
	}

	distinct := make(map[solana.PublicKey]struct{}, n)
	for _, e := range entrants {
		distinct[e] = struct{}{}
	}
	want := winnerCount
	if noRepeat && uint64(len(distinct)) < want {
		want = uint64(len(distinct))
	}

	picked := make([]uint64, 0, want)
	won := make(map[solana.PublicKey]struct{}, want)
	var counter uint64
	for uint64(len(picked)) < want {
		idx := drawIndex(entropy, counter, n)
		counter++
		if noRepeat {
			if _, ok := won[entrants[idx]]; ok {
				continue
			}
			won[entrants[idx]] = struct{}{}
		}
		picked = append(picked, idx)
	}
	return picked
}

func drawIndex(entropy []byte, counter, n uint64) uint64 {
	buf := make([]byte, len(entropy)+8)
	copy(buf, entropy)
	binary.LittleEndian.PutUint64(buf[len(entropy):], counter)
	sum := sha256.Sum256(buf)
	return binary.LittleEndian.Uint64(sum[:8]) % n
}

// ApplyDraw writes the drawn indexes and winner addresses into the record.
func (p *Pool) ApplyDraw(indexes []uint64) {
	for i, idx := range indexes {
		p.Indexes[i] = idx
		p.Winners[i] = p.Entrants[idx]
	}
}
