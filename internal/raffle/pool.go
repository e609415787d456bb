package raffle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const (
	MaxWinners  = 50
	MaxEntrants = 2000

	// PoolSize is the fixed size of a RafflePool record, discriminator included.
	PoolSize = 66552

	// MintOffset is the byte offset of the collectible identifier inside a record.
	MintOffset = 40

	// GlobalPoolSize is the size of the global authority record.
	GlobalPoolSize = 40
)

const (
	offsetCreator       = 8
	offsetCount         = 72
	offsetWinnerCount   = 80
	offsetNoRepeat      = 88
	offsetMaxEntrants   = 96
	offsetStart         = 104
	offsetEnd           = 112
	offsetPriceBooga    = 120
	offsetPriceZion     = 128
	offsetPriceSol      = 136
	offsetWhitelisted   = 144
	offsetClaimedWinner = 152
	offsetIndexes       = offsetClaimedWinner + 8*MaxWinners
	offsetWinners       = offsetIndexes + 8*MaxWinners
	offsetEntrants      = offsetWinners + 32*MaxWinners
)

// Claim markers stored in ClaimedWinner.
const (
	claimMarkerClaimed   = 1
	claimMarkerWithdrawn = 2
)

var (
	PoolDiscriminator       = accountDiscriminator("RafflePool")
	GlobalPoolDiscriminator = accountDiscriminator("GlobalPool")
)

func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Pool is the decoded form of a RafflePool record.
type Pool struct {
	Creator          solana.PublicKey
	NftMint          solana.PublicKey
	Count            uint64
	WinnerCount      uint64
	NoRepeat         uint64
	MaxEntrants      uint64
	StartTimestamp   int64
	EndTimestamp     int64
	TicketPriceBooga uint64
	TicketPriceZion  uint64
	TicketPriceSol   uint64
	Whitelisted      bool
	ClaimedWinner    [MaxWinners]uint64
	Indexes          [MaxWinners]uint64
	Winners          [MaxWinners]solana.PublicKey
	// Entrants holds one slot per sold ticket, Count entries long.
	Entrants []solana.PublicKey
}

// DecodePool parses a RafflePool record.
func DecodePool(data []byte) (*Pool, error) {
	if len(data) != PoolSize {
		return nil, fmt.Errorf("%w: raffle record is %d bytes, want %d", ErrMalformedAccount, len(data), PoolSize)
	}
	if !bytes.Equal(data[:8], PoolDiscriminator[:]) {
		return nil, fmt.Errorf("%w: raffle record discriminator mismatch", ErrMalformedAccount)
	}

	p := &Pool{
		Creator:          solana.PublicKeyFromBytes(data[offsetCreator:MintOffset]),
		NftMint:          solana.PublicKeyFromBytes(data[MintOffset:offsetCount]),
		Count:            readU64(data, offsetCount),
		WinnerCount:      readU64(data, offsetWinnerCount),
		NoRepeat:         readU64(data, offsetNoRepeat),
		MaxEntrants:      readU64(data, offsetMaxEntrants),
		StartTimestamp:   int64(readU64(data, offsetStart)),
		EndTimestamp:     int64(readU64(data, offsetEnd)),
		TicketPriceBooga: readU64(data, offsetPriceBooga),
		TicketPriceZion:  readU64(data, offsetPriceZion),
		TicketPriceSol:   readU64(data, offsetPriceSol),
		Whitelisted:      readU64(data, offsetWhitelisted) != 0,
	}

	if p.Count > MaxEntrants {
		return nil, fmt.Errorf("%w: ticket count %d exceeds %d", ErrMalformedAccount, p.Count, MaxEntrants)
	}
	if p.WinnerCount > MaxWinners {
		return nil, fmt.Errorf("%w: winner count %d exceeds %d", ErrMalformedAccount, p.WinnerCount, MaxWinners)
	}

	for i := 0; i < MaxWinners; i++ {
		p.ClaimedWinner[i] = readU64(data, offsetClaimedWinner+8*i)
		p.Indexes[i] = readU64(data, offsetIndexes+8*i)
		p.Winners[i] = readKey(data, offsetWinners+32*i)
	}

	p.Entrants = make([]solana.PublicKey, p.Count)
	for i := range p.Entrants {
		p.Entrants[i] = readKey(data, offsetEntrants+32*i)
	}

	return p, nil
}

// Encode renders the record in its on-ledger layout.
func (p *Pool) Encode() []byte {
	data := make([]byte, PoolSize)
	copy(data[:8], PoolDiscriminator[:])
	copy(data[offsetCreator:MintOffset], p.Creator[:])
	copy(data[MintOffset:offsetCount], p.NftMint[:])
	writeU64(data, offsetCount, uint64(len(p.Entrants)))
	writeU64(data, offsetWinnerCount, p.WinnerCount)
	writeU64(data, offsetNoRepeat, p.NoRepeat)
	writeU64(data, offsetMaxEntrants, p.MaxEntrants)
	writeU64(data, offsetStart, uint64(p.StartTimestamp))
	writeU64(data, offsetEnd, uint64(p.EndTimestamp))
	writeU64(data, offsetPriceBooga, p.TicketPriceBooga)
	writeU64(data, offsetPriceZion, p.TicketPriceZion)
	writeU64(data, offsetPriceSol, p.TicketPriceSol)
	if p.Whitelisted {
		writeU64(data, offsetWhitelisted, 1)
	}
	for i := 0; i < MaxWinners; i++ {
		writeU64(data, offsetClaimedWinner+8*i, p.ClaimedWinner[i])
		writeU64(data, offsetIndexes+8*i, p.Indexes[i])
		copy(data[offsetWinners+32*i:], p.Winners[i][:])
	}
	for i, entrant := range p.Entrants {
		copy(data[offsetEntrants+32*i:], entrant[:])
	}
	return data
}

// Revealed reports whether winners were drawn.
func (p *Pool) Revealed() bool {
	return !p.Winners[0].IsZero()
}

// Withdrawn reports whether the escrow went back to the creator.
func (p *Pool) Withdrawn() bool {
	return p.ClaimedWinner[0] == claimMarkerWithdrawn
}

// MarkWithdrawn sets the withdrawal marker.
func (p *Pool) MarkWithdrawn() {
	p.ClaimedWinner[0] = claimMarkerWithdrawn
}

// WinnerList returns the drawn winners in draw order.
func (p *Pool) WinnerList() []solana.PublicKey {
	winners := make([]solana.PublicKey, 0, p.WinnerCount)
	for _, w := range p.Winners {
		if w.IsZero() {
			break
		}
		winners = append(winners, w)
	}
	return winners
}

// AnyClaimed reports whether at least one winner claimed.
func (p *Pool) AnyClaimed() bool {
	for i := range p.WinnerList() {
		if p.ClaimedWinner[i] == claimMarkerClaimed {
			return true
		}
	}
	return false
}

// ClaimSlot returns the first unclaimed winner slot of claimer.
// won is false when claimer is not among the winners.
func (p *Pool) ClaimSlot(claimer solana.PublicKey) (slot int, won bool, claimable bool) {
	slot = -1
	for i, w := range p.WinnerList() {
		if !w.Equals(claimer) {
			continue
		}
		won = true
		if p.ClaimedWinner[i] != claimMarkerClaimed {
			return i, true, true
		}
	}
	return slot, won, false
}

// Claimed reports whether the winner in slot claimed.
func (p *Pool) Claimed(slot int) bool {
	return p.ClaimedWinner[slot] == claimMarkerClaimed
}

// MarkClaimed flags a winner slot as claimed.
func (p *Pool) MarkClaimed(slot int) {
	p.ClaimedWinner[slot] = claimMarkerClaimed
}

// TicketsOf counts the tickets held by buyer.
func (p *Pool) TicketsOf(buyer solana.PublicKey) uint64 {
	var n uint64
	for _, e := range p.Entrants {
		if e.Equals(buyer) {
			n++
		}
	}
	return n
}

// Remaining is the number of tickets still for sale.
func (p *Pool) Remaining() uint64 {
	if p.Count >= p.MaxEntrants {
		return 0
	}
	return p.MaxEntrants - p.Count
}

// GlobalPool is the decoded global authority record.
type GlobalPool struct {
	SuperAdmin solana.PublicKey
}

func (g *GlobalPool) Encode() []byte {
	data := make([]byte, GlobalPoolSize)
	copy(data[:8], GlobalPoolDiscriminator[:])
	copy(data[8:], g.SuperAdmin[:])
	return data
}

func DecodeGlobalPool(data []byte) (*GlobalPool, error) {
	if len(data) < GlobalPoolSize || !bytes.Equal(data[:8], GlobalPoolDiscriminator[:]) {
		return nil, fmt.Errorf("%w: global authority record", ErrMalformedAccount)
	}
	return &GlobalPool{SuperAdmin: solana.PublicKeyFromBytes(data[8:40])}, nil
}

func readU64(data []byte, offset int) uint64 {
	return binary.LittleEndian.Uint64(data[offset : offset+8])
}

func writeU64(data []byte, offset int, v uint64) {
	binary.LittleEndian.PutUint64(data[offset:offset+8], v)
}

func readKey(data []byte, offset int) solana.PublicKey {
	return solana.PublicKeyFromBytes(data[offset : offset+32])
}
