package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"coordinator/internal/assembler"
	"coordinator/internal/logger"
	"coordinator/internal/program"
	"coordinator/internal/raffle"
)

// RevealResult carries the drawn winners. Audited reports whether a local
// replay of the draw matches the recorded winners. The replay assumes the
// program seeds its draw with raffle.RevealEntropy, so against a program
// with another entropy source Audited is false on every reveal and only
// the ledger's winners count.
type RevealResult struct {
	Result
	Winners []solana.PublicKey
	Audited bool
}

// RevealWinner draws the winners of the live raffle of mint. Anyone may
// reveal once the raffle ended.
func (e *Engine) RevealWinner(ctx context.Context, mint solana.PublicKey) (RevealResult, error) {
	entry, err := e.live(ctx, OpRevealWinner, mint)
	if err != nil {
		return RevealResult{}, err
	}
	return e.reveal(ctx, mint, entry.Address, entry.Pool)
}

// RevealRaffle reveals a raffle known by its address.
func (e *Engine) RevealRaffle(ctx context.Context, raffleAddr solana.PublicKey) (RevealResult, error) {
	pool, err := e.registry.FetchRaffleState(ctx, raffleAddr)
	if err != nil {
		return RevealResult{}, fail(OpRevealWinner, solana.PublicKey{}, raffleAddr, "read raffle", err)
	}
	return e.reveal(ctx, pool.NftMint, raffleAddr, pool)
}

func (e *Engine) reveal(ctx context.Context, mint, raffleAddr solana.PublicKey, pool *raffle.Pool) (RevealResult, error) {
	failf := func(precondition string, err error) error {
		return fail(OpRevealWinner, mint, raffleAddr, precondition, err)
	}

	switch {
	case e.now().Unix() < pool.EndTimestamp:
		return RevealResult{}, failf("raffle ended", raffle.ErrRaffleOpen)
	case pool.Withdrawn():
		return RevealResult{}, failf("escrow held", raffle.ErrAlreadyWithdrawn)
	case pool.Revealed():
		return RevealResult{}, failf("winner not revealed", raffle.ErrAlreadyRevealed)
	case pool.Count == 0:
		return RevealResult{}, failf("tickets sold", raffle.ErrNoEntrants)
	}

	ix, err := e.builder.RevealWinner(e.env.PayerKey(), raffleAddr)
	if err != nil {
		return RevealResult{}, failf("build", err)
	}

	logger.Info("engine: revealing winner...", zap.String("mint", mint.String()), zap.String("raffle", raffleAddr.String()))
	result, err := e.submit(ctx, OpRevealWinner, assembler.Bundle{Mint: mint, Raffle: raffleAddr, Operation: ix})
	if err != nil {
		return RevealResult{}, err
	}

	settled, err := e.registry.FetchRaffleState(ctx, raffleAddr)
	if err != nil {
		return RevealResult{}, failf("read revealed raffle", err)
	}
	revealed := RevealResult{Result: result, Winners: settled.WinnerList(), Audited: auditDraw(raffleAddr, result.Slot, settled)}
	if !revealed.Audited {
		logger.Warn("engine: drawn winners differ from local replay",
			zap.String("raffle", raffleAddr.String()),
			zap.Uint64("slot", result.Slot))
	}
	logger.Info("engine: revealing winner... done",
		zap.String("raffle", raffleAddr.String()),
		zap.Int("winners", len(revealed.Winners)))
	return revealed, nil
}

// auditDraw replays the draw from the reveal slot and compares it with the
// indexes the program recorded. It is only meaningful for programs that
// draw from raffle.RevealEntropy.
func auditDraw(raffleAddr solana.PublicKey, slot uint64, pool *raffle.Pool) bool {
	expected := raffle.DrawWinners(pool.Entrants, raffle.RevealEntropy(slot, raffleAddr), pool.WinnerCount, pool.NoRepeat != 0)
	winners := pool.WinnerList()
	if len(expected) != len(winners) {
		return false
	}
	for i, idx := range expected {
		if pool.Indexes[i] != idx || !pool.Entrants[idx].Equals(winners[i]) {
			return false
		}
	}
	return true
}

// ClaimReward releases the prize of the live raffle of mint to the payer.
// Allowlist prizes only record the claim.
func (e *Engine) ClaimReward(ctx context.Context, mint solana.PublicKey) (Result, error) {
	entry, err := e.live(ctx, OpClaimReward, mint)
	if err != nil {
		return Result{}, err
	}
	pool := entry.Pool
	claimer := e.env.PayerKey()
	failf := func(precondition string, err error) error {
		return fail(OpClaimReward, mint, entry.Address, precondition, err)
	}

	if !pool.Revealed() {
		return Result{}, failf("winner revealed", raffle.ErrNotRevealed)
	}
	if pool.Withdrawn() {
		return Result{}, failf("escrow held", raffle.ErrAlreadyWithdrawn)
	}
	_, won, claimable := pool.ClaimSlot(claimer)
	if !won {
		return Result{}, failf("caller is a winner", fmt.Errorf("%w: %s did not win", raffle.ErrUnauthorized, claimer))
	}
	if !claimable {
		return Result{}, failf("reward unclaimed", raffle.ErrAlreadyClaimed)
	}

	// allowlist prizes stay in escrow, so the claimer needs no holding account
	return e.release(ctx, OpClaimReward, entry.Address, pool, e.builder.ClaimReward, !pool.Whitelisted)
}

// WithdrawNft returns the escrowed collectible of the live raffle of mint
// to its creator. It is allowed once the raffle ended without a claim and
// either sold no tickets or stayed unclaimed for the withdraw grace window.
func (e *Engine) WithdrawNft(ctx context.Context, mint solana.PublicKey) (Result, error) {
	entry, err := e.live(ctx, OpWithdrawNft, mint)
	if err != nil {
		return Result{}, err
	}
	pool := entry.Pool
	now := e.now()
	failf := func(precondition string, err error) error {
		return fail(OpWithdrawNft, mint, entry.Address, precondition, err)
	}

	switch {
	case !pool.Creator.Equals(e.env.PayerKey()):
		return Result{}, failf("caller is the creator", fmt.Errorf("%w: %s did not create this raffle", raffle.ErrUnauthorized, e.env.PayerKey()))
	case pool.Withdrawn():
		return Result{}, failf("escrow held", raffle.ErrAlreadyWithdrawn)
	case pool.AnyClaimed():
		return Result{}, failf("reward unclaimed", raffle.ErrAlreadyClaimed)
	case now.Unix() < pool.EndTimestamp:
		return Result{}, failf("raffle ended", raffle.ErrRaffleOpen)
	case pool.Count > 0 && now.Before(time.Unix(pool.EndTimestamp, 0).Add(e.withdrawGrace)):
		return Result{}, failf("claim window elapsed", fmt.Errorf("%w: entrants may claim until %s",
			raffle.ErrInvalidState, time.Unix(pool.EndTimestamp, 0).Add(e.withdrawGrace).UTC().Format(time.RFC3339)))
	}

	return e.release(ctx, OpWithdrawNft, entry.Address, pool, e.builder.WithdrawNft, true)
}

type rewardInstruction func(program.RewardAccounts, uint8) (*program.Instruction, error)

// release settles a reward instruction for the payer. When the collectible
// moves, the payer's holding account is provisioned in the same bundle.
func (e *Engine) release(ctx context.Context, op string, raffleAddr solana.PublicKey, pool *raffle.Pool, build rewardInstruction, moves bool) (Result, error) {
	receiver := e.env.PayerKey()
	receiving := e.resolver.HoldingAccount(receiver, pool.NftMint)
	var provisioning []solana.Instruction
	if moves {
		plan, err := e.provisioner.Ensure(ctx, receiver, receiver, pool.NftMint)
		if err != nil {
			return Result{}, fail(op, pool.NftMint, raffleAddr, "provision receiving account", err)
		}
		receiving, provisioning = plan.Addresses[pool.NftMint], plan.Instructions
	}

	authority, bump := e.resolver.GlobalAuthority()
	ix, err := build(program.RewardAccounts{
		Claimer:                receiver,
		GlobalAuthority:        authority,
		Raffle:                 raffleAddr,
		ClaimerNftTokenAccount: receiving,
		SrcNftTokenAccount:     e.resolver.HoldingAccount(authority, pool.NftMint),
		NftMint:                pool.NftMint,
	}, bump)
	if err != nil {
		return Result{}, fail(op, pool.NftMint, raffleAddr, "build", err)
	}

	logger.Info("engine: releasing escrow...",
		zap.String("operation", op),
		zap.String("raffle", raffleAddr.String()),
		zap.String("receiver", receiver.String()))

	return e.submit(ctx, op, assembler.Bundle{
		Mint:         pool.NftMint,
		Raffle:       raffleAddr,
		Provisioning: provisioning,
		Operation:    ix,
	})
}
