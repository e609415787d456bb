package ledger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// TokenAccountSize is the size of an SPL token account.
const TokenAccountSize = 165

// TokenAccount holds the fields of a token account the engine reads.
type TokenAccount struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

func DecodeTokenAccount(acc *Account) (*TokenAccount, error) {
	if !acc.Owner.Equals(solana.TokenProgramID) {
		return nil, fmt.Errorf("account %s is not owned by the token program", acc.Address)
	}
	if len(acc.Data) < 72 {
		return nil, fmt.Errorf("token account %s: data too short (%d bytes)", acc.Address, len(acc.Data))
	}
	return &TokenAccount{
		Mint:   solana.PublicKeyFromBytes(acc.Data[0:32]),
		Owner:  solana.PublicKeyFromBytes(acc.Data[32:64]),
		Amount: binary.LittleEndian.Uint64(acc.Data[64:72]),
	}, nil
}

// EncodeTokenAccount renders an initialized token account.
func EncodeTokenAccount(t TokenAccount) []byte {
	data := make([]byte, TokenAccountSize)
	copy(data[0:32], t.Mint[:])
	copy(data[32:64], t.Owner[:])
	binary.LittleEndian.PutUint64(data[64:72], t.Amount)
	data[108] = 1 // state: initialized
	return data
}

// TokenBalance returns the token amount held at address. An absent
// account holds nothing.
func TokenBalance(ctx context.Context, client Client, address solana.PublicKey) (uint64, error) {
	acc, err := client.GetAccount(ctx, address)
	if errors.Is(err, ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	token, err := DecodeTokenAccount(acc)
	if err != nil {
		return 0, err
	}
	return token.Amount, nil
}

// LamportBalance returns the native balance of address.
func LamportBalance(ctx context.Context, client Client, address solana.PublicKey) (uint64, error) {
	acc, err := client.GetAccount(ctx, address)
	if errors.Is(err, ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acc.Lamports, nil
}
