// Package ledger is the boundary to the shared ledger: account reads,
// program account enumeration and transaction submission.
package ledger

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

// ErrAccountNotFound is returned when the ledger confirms an account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// Commitment is the settlement confidence level a caller waits for.
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

func (c Commitment) rank() int {
	switch c {
	case CommitmentProcessed:
		return 1
	case CommitmentConfirmed:
		return 2
	case CommitmentFinalized:
		return 3
	default:
		return 0
	}
}

// Reaches reports whether c is at least as strong as want.
func (c Commitment) Reaches(want Commitment) bool {
	return c.rank() >= want.rank() && c.rank() > 0
}

type Account struct {
	Address  solana.PublicKey
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

type KeyedAccount struct {
	Address solana.PublicKey
	Account *Account
}

// Filter narrows program account enumeration. Zero fields are ignored.
type Filter struct {
	DataSize uint64
	Memcmp   *Memcmp
}

type Memcmp struct {
	Offset uint64
	Bytes  []byte
}

// SignatureStatus describes how far a submitted transaction has settled.
// Err is non-nil when the ledger rejected the transaction.
type SignatureStatus struct {
	Slot       uint64
	Commitment Commitment
	Err        error
}

// Client is everything the engine needs from the ledger.
type Client interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error)
	GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filters ...Filter) ([]KeyedAccount, error)
	GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error)
	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	// GetSignatureStatus returns nil when the ledger has not seen the signature yet.
	GetSignatureStatus(ctx context.Context, signature solana.Signature) (*SignatureStatus, error)
}

// Env is the immutable context shared by every component: the ledger
// handle, the coordinating program and the identity paying for and
// signing operations.
type Env struct {
	Client     Client
	ProgramID  solana.PublicKey
	Payer      solana.PrivateKey
	Commitment Commitment
}

func (e Env) PayerKey() solana.PublicKey {
	return e.Payer.PublicKey()
}

// Exists distinguishes a confirmed-absent account from a failed lookup.
func Exists(ctx context.Context, client Client, address solana.PublicKey) (bool, error) {
	_, err := client.GetAccount(ctx, address)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrAccountNotFound):
		return false, nil
	default:
		return false, err
	}
}
