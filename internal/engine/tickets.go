package engine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"coordinator/internal/assembler"
	"coordinator/internal/ledger"
	"coordinator/internal/logger"
	"coordinator/internal/program"
	"coordinator/internal/raffle"
)

// BuyTickets buys amount tickets of the live raffle of mint for the payer.
// The payment currency is fixed by the raffle's prices before anything is
// built: ZION when priced, else BOOGA, else native SOL.
func (e *Engine) BuyTickets(ctx context.Context, mint solana.PublicKey, amount uint64) (Result, error) {
	if amount == 0 {
		return Result{}, fail(OpBuyTickets, mint, solana.PublicKey{}, "positive amount", fmt.Errorf("%w: amount must be positive", raffle.ErrInvalidArgument))
	}

	entry, err := e.live(ctx, OpBuyTickets, mint)
	if err != nil {
		return Result{}, err
	}
	pool := entry.Pool
	buyer := e.env.PayerKey()
	failf := func(precondition string, err error) error {
		return fail(OpBuyTickets, mint, entry.Address, precondition, err)
	}

	if !pool.Open(e.now()) {
		return Result{}, failf("raffle open", raffle.ErrRaffleClosed)
	}
	if amount > pool.Remaining() {
		return Result{}, failf("tickets available", fmt.Errorf("%w: %d requested, %d of %d left", raffle.ErrCapacityExceeded, amount, pool.Remaining(), pool.MaxEntrants))
	}

	currency, cost, err := pool.TicketCost(amount)
	if err != nil {
		return Result{}, failf("ticket cost", err)
	}

	authority, bump := e.resolver.GlobalAuthority()
	accounts := program.BuyTicketsAccounts{
		Buyer:           buyer,
		Raffle:          entry.Address,
		GlobalAuthority: authority,
		Creator:         pool.Creator,
	}

	var provisioning []solana.Instruction
	var balance uint64
	if currency.Native() {
		accounts.CreatorTokenAccount = pool.Creator
		accounts.UserTokenAccount = buyer
		balance, err = ledger.LamportBalance(ctx, e.env.Client, buyer)
	} else {
		currencyMint, ok := e.mints.Mint(currency)
		if !ok || currencyMint.IsZero() {
			return Result{}, failf("currency configured", fmt.Errorf("%w: no mint configured for %s", raffle.ErrInvalidState, currency))
		}
		plan, planErr := e.provisioner.Ensure(ctx, buyer, pool.Creator, currencyMint)
		if planErr != nil {
			return Result{}, failf("provision creator currency account", planErr)
		}
		provisioning = plan.Instructions
		accounts.CreatorTokenAccount = plan.Addresses[currencyMint]
		accounts.UserTokenAccount = e.resolver.HoldingAccount(buyer, currencyMint)
		balance, err = ledger.TokenBalance(ctx, e.env.Client, accounts.UserTokenAccount)
	}
	if err != nil {
		return Result{}, failf("read buyer balance", err)
	}
	if balance < cost {
		return Result{}, failf("buyer funds", fmt.Errorf("%w: %d tickets cost %s %s, buyer holds %s",
			raffle.ErrInsufficientFunds, amount,
			raffle.FromBaseUnits(cost, currency), currency,
			raffle.FromBaseUnits(balance, currency)))
	}

	ix, err := e.builder.BuyTickets(accounts, program.BuyTicketsArgs{Bump: bump, Amount: amount})
	if err != nil {
		return Result{}, failf("build", err)
	}

	logger.Info("engine: buying tickets...",
		zap.String("mint", mint.String()),
		zap.String("raffle", entry.Address.String()),
		zap.Uint64("amount", amount),
		zap.String("currency", string(currency)))

	return e.submit(ctx, OpBuyTickets, assembler.Bundle{
		Mint:         mint,
		Raffle:       entry.Address,
		Provisioning: provisioning,
		Operation:    ix,
	})
}
