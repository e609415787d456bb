package raffle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrMalformedAccount  = errors.New("malformed account")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidState      = errors.New("invalid state")
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrSeedExhausted     = errors.New("seed candidates exhausted")
	ErrSettlementFailure = errors.New("settlement failure")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// Lifecycle window violations. All of them match ErrInvalidState.
var (
	ErrRaffleClosed       = fmt.Errorf("raffle closed: %w", ErrInvalidState)
	ErrRaffleOpen         = fmt.Errorf("raffle still open: %w", ErrInvalidState)
	ErrAlreadyRevealed    = fmt.Errorf("winner already revealed: %w", ErrInvalidState)
	ErrNotRevealed        = fmt.Errorf("winner not revealed: %w", ErrInvalidState)
	ErrAlreadyClaimed     = fmt.Errorf("reward already claimed: %w", ErrInvalidState)
	ErrAlreadyWithdrawn   = fmt.Errorf("escrow already withdrawn: %w", ErrInvalidState)
	ErrNoEntrants         = fmt.Errorf("raffle has no entrants: %w", ErrInvalidState)
	ErrNotInitialized     = fmt.Errorf("global authority not initialized: %w", ErrInvalidState)
	ErrAlreadyInitialized = fmt.Errorf("global authority already initialized: %w", ErrInvalidState)
)

// OperationError carries the context of a failed lifecycle operation.
type OperationError struct {
	Op           string
	Mint         solana.PublicKey
	Raffle       solana.PublicKey
	Precondition string
	Err          error
}

func (e *OperationError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if !e.Mint.IsZero() {
		b.WriteString(": mint ")
		b.WriteString(e.Mint.String())
	}
	if !e.Raffle.IsZero() {
		b.WriteString(": raffle ")
		b.WriteString(e.Raffle.String())
	}
	if e.Precondition != "" {
		b.WriteString(": ")
		b.WriteString(e.Precondition)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
