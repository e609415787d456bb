package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"go.uber.org/zap"

	"coordinator/internal/address"
	"coordinator/internal/assembler"
	"coordinator/internal/ledger"
	"coordinator/internal/logger"
	"coordinator/internal/program"
	"coordinator/internal/raffle"
)

// CreateRequest describes a new raffle for a collectible the payer holds.
type CreateRequest struct {
	Mint        solana.PublicKey
	Prices      raffle.Prices
	End         time.Time
	WinnerCount uint64
	// Whitelisted prizes are allowlist slots; the collectible itself has
	// exactly one winner.
	Whitelisted bool
	Max         uint64
}

func (r CreateRequest) validate(now time.Time) (raffle.BaseUnits, error) {
	prices, err := r.Prices.Scale()
	if err != nil {
		return raffle.BaseUnits{}, err
	}
	switch {
	case r.Max == 0 || r.Max > raffle.MaxEntrants:
		return raffle.BaseUnits{}, fmt.Errorf("%w: max entrants must be between 1 and %d, got %d", raffle.ErrInvalidArgument, raffle.MaxEntrants, r.Max)
	case r.WinnerCount == 0 || r.WinnerCount > raffle.MaxWinners || r.WinnerCount > r.Max:
		return raffle.BaseUnits{}, fmt.Errorf("%w: winner count must be between 1 and min(%d, max), got %d", raffle.ErrInvalidArgument, raffle.MaxWinners, r.WinnerCount)
	case !r.Whitelisted && r.WinnerCount != 1:
		return raffle.BaseUnits{}, fmt.Errorf("%w: a collectible prize has exactly one winner", raffle.ErrInvalidArgument)
	case !r.End.After(now):
		return raffle.BaseUnits{}, fmt.Errorf("%w: end %s is not in the future", raffle.ErrInvalidArgument, r.End.UTC().Format(time.RFC3339))
	}
	return prices, nil
}

// CreateRaffle escrows the collectible and opens a raffle for it. The raffle
// account takes the first free seeded address, is funded rent-exempt by the
// payer and created in the same bundle together with the escrow and the
// creator's currency holding accounts.
func (e *Engine) CreateRaffle(ctx context.Context, req CreateRequest) (Result, error) {
	creator := e.env.PayerKey()
	failf := func(precondition string, err error) error {
		return fail(OpCreateRaffle, req.Mint, solana.PublicKey{}, precondition, err)
	}

	prices, err := req.validate(e.now())
	if err != nil {
		return Result{}, failf("valid arguments", err)
	}

	authority, bump := e.resolver.GlobalAuthority()
	global, err := e.globalAuthority(ctx, authority)
	if err != nil {
		return Result{}, failf("read global authority", err)
	}
	if global == nil {
		return Result{}, failf("global authority initialized", raffle.ErrNotInitialized)
	}

	creatorNft := e.resolver.HoldingAccount(creator, req.Mint)
	held, err := ledger.TokenBalance(ctx, e.env.Client, creatorNft)
	if err != nil {
		return Result{}, failf("read creator collectible balance", err)
	}
	if held == 0 {
		return Result{}, failf("creator holds the collectible", fmt.Errorf("%w: %s holds no %s", raffle.ErrInvalidState, creator, req.Mint))
	}

	candidate, err := address.FirstFree(e.resolver.RaffleCandidates(creator, req.Mint), func(c address.Candidate) (bool, error) {
		return ledger.Exists(ctx, e.env.Client, c.Address)
	})
	if err != nil {
		return Result{}, failf("free raffle address", err)
	}

	rent, err := e.env.Client.GetMinimumBalanceForRentExemption(ctx, raffle.PoolSize)
	if err != nil {
		return Result{}, fail(OpCreateRaffle, req.Mint, candidate.Address, "rent exemption", err)
	}
	allocate, err := system.NewCreateAccountWithSeedInstruction(
		creator,
		candidate.Seed,
		rent,
		raffle.PoolSize,
		e.env.ProgramID,
		creator,
		candidate.Address,
		creator,
	).ValidateAndBuild()
	if err != nil {
		return Result{}, fail(OpCreateRaffle, req.Mint, candidate.Address, "build raffle account", err)
	}

	plan, err := e.provisioner.Ensure(ctx, creator, authority, req.Mint)
	if err != nil {
		return Result{}, fail(OpCreateRaffle, req.Mint, candidate.Address, "provision escrow", err)
	}
	if currencies := e.tokenMints(); len(currencies) > 0 {
		currencyPlan, err := e.provisioner.Ensure(ctx, creator, creator, currencies...)
		if err != nil {
			return Result{}, fail(OpCreateRaffle, req.Mint, candidate.Address, "provision currency accounts", err)
		}
		plan.Merge(currencyPlan)
	}

	args := program.CreateRaffleArgs{
		Bump:             bump,
		TicketPriceBooga: prices.Booga,
		TicketPriceZion:  prices.Zion,
		TicketPriceSol:   prices.Sol,
		EndTimestamp:     req.End.Unix(),
		WinnerCount:      req.WinnerCount,
		Max:              req.Max,
	}
	if req.Whitelisted {
		args.Whitelisted = 1
	}
	ix, err := e.builder.CreateRaffle(program.CreateRaffleAccounts{
		Admin:               creator,
		GlobalAuthority:     authority,
		Raffle:              candidate.Address,
		OwnerTempNftAccount: creatorNft,
		DestNftTokenAccount: plan.Addresses[req.Mint],
		NftMint:             req.Mint,
	}, args)
	if err != nil {
		return Result{}, fail(OpCreateRaffle, req.Mint, candidate.Address, "build", err)
	}

	logger.Info("engine: creating raffle...",
		zap.String("mint", req.Mint.String()),
		zap.String("raffle", candidate.Address.String()),
		zap.String("seed", candidate.Seed))

	return e.submit(ctx, OpCreateRaffle, assembler.Bundle{
		Mint:         req.Mint,
		Raffle:       candidate.Address,
		Provisioning: append([]solana.Instruction{allocate}, plan.Instructions...),
		Operation:    ix,
	})
}

// UpdateRafflePeriod moves the end of the live raffle of mint.
func (e *Engine) UpdateRafflePeriod(ctx context.Context, mint solana.PublicKey, end time.Time) (Result, error) {
	entry, err := e.live(ctx, OpUpdateRafflePeriod, mint)
	if err != nil {
		return Result{}, err
	}
	pool := entry.Pool
	failf := func(precondition string, err error) error {
		return fail(OpUpdateRafflePeriod, mint, entry.Address, precondition, err)
	}

	switch {
	case !pool.Creator.Equals(e.env.PayerKey()):
		return Result{}, failf("caller is the creator", fmt.Errorf("%w: %s did not create this raffle", raffle.ErrUnauthorized, e.env.PayerKey()))
	case pool.Withdrawn():
		return Result{}, failf("escrow held", raffle.ErrAlreadyWithdrawn)
	case pool.Revealed():
		return Result{}, failf("winner not revealed", raffle.ErrAlreadyRevealed)
	case !end.After(e.now()):
		return Result{}, failf("end in the future", fmt.Errorf("%w: end %s is not in the future", raffle.ErrInvalidArgument, end.UTC().Format(time.RFC3339)))
	}

	ix, err := e.builder.UpdateRafflePeriod(e.env.PayerKey(), entry.Address, end.Unix())
	if err != nil {
		return Result{}, failf("build", err)
	}
	return e.submit(ctx, OpUpdateRafflePeriod, assembler.Bundle{Mint: mint, Raffle: entry.Address, Operation: ix})
}

// tokenMints lists the configured token currency mints.
func (e *Engine) tokenMints() []solana.PublicKey {
	var mints []solana.PublicKey
	for _, c := range []raffle.Currency{raffle.CurrencyBooga, raffle.CurrencyZion} {
		if mint, ok := e.mints.Mint(c); ok && !mint.IsZero() {
			mints = append(mints, mint)
		}
	}
	return mints
}
