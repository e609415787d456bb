// Package address derives every account address the raffle protocol uses.
// Derivation is a pure function of its inputs and never touches the network.
package address

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"coordinator/internal/raffle"
)

const (
	GlobalAuthoritySeed = "global-authority"

	// SeedCandidates is how many truncations of the collectible identifier
	// are tried when picking a raffle account address.
	SeedCandidates = 10
)

// Resolver derives addresses for one program. The global authority is
// derived once at construction.
type Resolver struct {
	programID solana.PublicKey
	authority solana.PublicKey
	bump      uint8
}

func NewResolver(programID solana.PublicKey) *Resolver {
	authority, bump, err := solana.FindProgramAddress([][]byte{[]byte(GlobalAuthoritySeed)}, programID)
	if err != nil {
		// unreachable: a bump in [0, 255] always exists for a fixed seed
		panic(fmt.Sprintf("address: derive global authority: %v", err))
	}
	return &Resolver{programID: programID, authority: authority, bump: bump}
}

func (r *Resolver) ProgramID() solana.PublicKey {
	return r.programID
}

// GlobalAuthority returns the authority address and its bump seed.
func (r *Resolver) GlobalAuthority() (solana.PublicKey, uint8) {
	return r.authority, r.bump
}

// HoldingAccount returns the canonical token holding account of owner for mint.
func (r *Resolver) HoldingAccount(owner, mint solana.PublicKey) solana.PublicKey {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		panic(fmt.Sprintf("address: derive holding account of %s for %s: %v", owner, mint, err))
	}
	return addr
}

// Candidate is one possible raffle account address with the seed it was built from.
type Candidate struct {
	Seed    string
	Address solana.PublicKey
}

// RaffleCandidates lists the raffle account candidates for creator and mint
// in decreasing specificity: the seed is the base58 form of mint truncated
// to 10, 9, ... 1 characters.
func (r *Resolver) RaffleCandidates(creator, mint solana.PublicKey) []Candidate {
	text := mint.String()
	candidates := make([]Candidate, 0, SeedCandidates)
	for i := SeedCandidates; i > 0; i-- {
		seed := text[:min(i, len(text))]
		addr, err := solana.CreateWithSeed(creator, seed, r.programID)
		if err != nil {
			panic(fmt.Sprintf("address: derive raffle candidate %q: %v", seed, err))
		}
		candidates = append(candidates, Candidate{Seed: seed, Address: addr})
	}
	return candidates
}

// FirstFree returns the first candidate occupied reports as free, or
// raffle.ErrSeedExhausted when every candidate is taken.
func FirstFree(candidates []Candidate, occupied func(Candidate) (bool, error)) (Candidate, error) {
	for _, c := range candidates {
		taken, err := occupied(c)
		if err != nil {
			return Candidate{}, err
		}
		if !taken {
			return c, nil
		}
	}
	return Candidate{}, fmt.Errorf("%w: all %d raffle address candidates are occupied", raffle.ErrSeedExhausted, len(candidates))
}
