package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"coordinator/internal/logger"
)

const rateLimitBackoff = 500 * time.Millisecond

// RPCClient implements Client over a JSON-RPC endpoint.
type RPCClient struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
}

func NewRPCClient(endpoint string, commitment Commitment) *RPCClient {
	logger.Debug("ledger: rpc client", zap.String("endpoint", endpoint), zap.String("commitment", string(commitment)))
	return &RPCClient{
		rpc:        rpc.New(endpoint),
		commitment: rpc.CommitmentType(commitment),
	}
}

func (c *RPCClient) Close() error {
	return c.rpc.Close()
}

type call[T any] func() (T, error)

// rateLimitRetry repeats a read while the endpoint answers 429, until ctx ends.
func rateLimitRetry[T any](ctx context.Context, fn call[T]) (T, error) {
	for {
		result, err := fn()
		if err != nil && isRateLimited(err) {
			logger.Debug("ledger: rate limited, retrying", zap.Error(err))
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(rateLimitBackoff):
				continue
			}
		}
		return result, err
	}
}

func isRateLimited(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "429") || strings.Contains(msg, "Too Many Requests")
}

func (c *RPCClient) GetAccount(ctx context.Context, address solana.PublicKey) (*Account, error) {
	out, err := rateLimitRetry(ctx, func() (*rpc.GetAccountInfoResult, error) {
		return c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: c.commitment,
		})
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", address, err)
	}
	if out == nil || out.Value == nil {
		return nil, ErrAccountNotFound
	}
	return &Account{
		Address:  address,
		Owner:    out.Value.Owner,
		Lamports: out.Value.Lamports,
		Data:     out.Value.Data.GetBinary(),
	}, nil
}

func (c *RPCClient) GetProgramAccounts(ctx context.Context, programID solana.PublicKey, filters ...Filter) ([]KeyedAccount, error) {
	rpcFilters := make([]rpc.RPCFilter, 0, len(filters))
	for _, f := range filters {
		rf := rpc.RPCFilter{DataSize: f.DataSize}
		if f.Memcmp != nil {
			rf.Memcmp = &rpc.RPCFilterMemcmp{
				Offset: f.Memcmp.Offset,
				Bytes:  solana.Base58(f.Memcmp.Bytes),
			}
		}
		rpcFilters = append(rpcFilters, rf)
	}

	out, err := rateLimitRetry(ctx, func() (rpc.GetProgramAccountsResult, error) {
		return c.rpc.GetProgramAccountsWithOpts(ctx, programID, &rpc.GetProgramAccountsOpts{
			Commitment: c.commitment,
			Encoding:   solana.EncodingBase64,
			Filters:    rpcFilters,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get program accounts %s: %w", programID, err)
	}

	accounts := make([]KeyedAccount, 0, len(out))
	for _, keyed := range out {
		if keyed == nil || keyed.Account == nil {
			continue
		}
		accounts = append(accounts, KeyedAccount{
			Address: keyed.Pubkey,
			Account: &Account{
				Address:  keyed.Pubkey,
				Owner:    keyed.Account.Owner,
				Lamports: keyed.Account.Lamports,
				Data:     keyed.Account.Data.GetBinary(),
			},
		})
	}
	return accounts, nil
}

func (c *RPCClient) GetMinimumBalanceForRentExemption(ctx context.Context, size uint64) (uint64, error) {
	return rateLimitRetry(ctx, func() (uint64, error) {
		return c.rpc.GetMinimumBalanceForRentExemption(ctx, size, c.commitment)
	})
}

func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := rateLimitRetry(ctx, func() (*rpc.GetLatestBlockhashResult, error) {
		return c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	})
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// SendTransaction submits once. Submission is not retried here: the caller
// re-reads ledger state before deciding to try again.
func (c *RPCClient) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
}

func (c *RPCClient) GetSignatureStatus(ctx context.Context, signature solana.Signature) (*SignatureStatus, error) {
	out, err := rateLimitRetry(ctx, func() (*rpc.GetSignatureStatusesResult, error) {
		return c.rpc.GetSignatureStatuses(ctx, true, signature)
	})
	if err != nil {
		return nil, fmt.Errorf("get signature status %s: %w", signature, err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return nil, nil
	}

	status := out.Value[0]
	result := &SignatureStatus{
		Slot:       status.Slot,
		Commitment: Commitment(status.ConfirmationStatus),
	}
	if status.Err != nil {
		result.Err = fmt.Errorf("transaction %s failed: %v", signature, status.Err)
	}
	return result, nil
}
