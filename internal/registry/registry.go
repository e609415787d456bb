// Package registry locates raffle records on the ledger.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coordinator/internal/ledger"
	"coordinator/internal/logger"
	"coordinator/internal/raffle"
)

// fetchConcurrency bounds parallel record reads during discovery.
const fetchConcurrency = 8

// Entry is a decoded raffle record and the account holding it.
type Entry struct {
	Address solana.PublicKey
	Pool    *raffle.Pool
}

type Registry struct {
	client    ledger.Client
	programID solana.PublicKey
}

func New(client ledger.Client, programID solana.PublicKey) *Registry {
	return &Registry{client: client, programID: programID}
}

// FindLiveRaffle returns the raffle record for mint with the latest end
// timestamp. Ties keep the earliest record in enumeration order. found is
// false when no record exists; that is not an error.
func (r *Registry) FindLiveRaffle(ctx context.Context, mint solana.PublicKey) (Entry, bool, error) {
	entries, err := r.ListRaffles(ctx, mint)
	if err != nil {
		return Entry{}, false, err
	}

	var (
		best  Entry
		found bool
	)
	for _, entry := range entries {
		if !found || entry.Pool.EndTimestamp > best.Pool.EndTimestamp {
			best, found = entry, true
		}
	}
	return best, found, nil
}

// ListRaffles returns every decodable raffle record for mint in
// enumeration order. Undecodable candidates are skipped.
func (r *Registry) ListRaffles(ctx context.Context, mint solana.PublicKey) ([]Entry, error) {
	candidates, err := r.client.GetProgramAccounts(ctx, r.programID,
		ledger.Filter{DataSize: raffle.PoolSize},
		ledger.Filter{Memcmp: &ledger.Memcmp{Offset: raffle.MintOffset, Bytes: mint.Bytes()}},
	)
	if err != nil {
		return nil, fmt.Errorf("registry: enumerate raffles of %s: %w", mint, err)
	}

	decoded := make([]*raffle.Pool, len(candidates))
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(fetchConcurrency)
	for i, candidate := range candidates {
		i, candidate := i, candidate
		group.Go(func() error {
			data := candidate.Account.Data
			if data == nil {
				acc, err := r.client.GetAccount(ctx, candidate.Address)
				if err != nil {
					return fmt.Errorf("registry: fetch raffle %s: %w", candidate.Address, err)
				}
				data = acc.Data
			}
			pool, err := raffle.DecodePool(data)
			if err != nil {
				logger.Warn("registry: skipping undecodable raffle candidate",
					zap.String("raffle", candidate.Address.String()),
					zap.Error(err))
				return nil
			}
			decoded[i] = pool
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(candidates))
	for i, pool := range decoded {
		if pool == nil || !pool.NftMint.Equals(mint) {
			continue
		}
		entries = append(entries, Entry{Address: candidates[i].Address, Pool: pool})
	}
	return entries, nil
}

// FetchRaffleState reads one raffle record. A confirmed-absent account is
// raffle.ErrNotFound, a present but undecodable one raffle.ErrMalformedAccount;
// any other error comes from the transport.
func (r *Registry) FetchRaffleState(ctx context.Context, addr solana.PublicKey) (*raffle.Pool, error) {
	acc, err := r.client.GetAccount(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return nil, fmt.Errorf("registry: raffle %s: %w", addr, raffle.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("registry: fetch raffle %s: %w", addr, err)
	}
	if !acc.Owner.Equals(r.programID) {
		return nil, fmt.Errorf("registry: raffle %s owned by %s: %w", addr, acc.Owner, raffle.ErrMalformedAccount)
	}
	pool, err := raffle.DecodePool(acc.Data)
	if err != nil {
		return nil, fmt.Errorf("registry: raffle %s: %w", addr, err)
	}
	return pool, nil
}
