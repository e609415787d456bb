// Package provision plans the creation of missing token holding accounts.
package provision

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"go.uber.org/zap"

	"coordinator/internal/address"
	"coordinator/internal/ledger"
	"coordinator/internal/logger"
)

// Plan is the outcome of Ensure: the creation instructions to prepend to a
// bundle and the holding account of owner for every requested asset.
type Plan struct {
	Instructions []solana.Instruction
	Addresses    map[solana.PublicKey]solana.PublicKey
}

// Merge appends other's instructions, skipping accounts p already creates.
func (p *Plan) Merge(other Plan) {
	seen := p.planned()
	for _, ix := range other.Instructions {
		if key, ok := createdAccount(ix); ok {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		p.Instructions = append(p.Instructions, ix)
	}
	if p.Addresses == nil {
		p.Addresses = make(map[solana.PublicKey]solana.PublicKey)
	}
	for mint, addr := range other.Addresses {
		if _, ok := p.Addresses[mint]; !ok {
			p.Addresses[mint] = addr
		}
	}
}

func (p *Plan) planned() map[solana.PublicKey]struct{} {
	seen := make(map[solana.PublicKey]struct{}, len(p.Instructions))
	for _, ix := range p.Instructions {
		if key, ok := createdAccount(ix); ok {
			seen[key] = struct{}{}
		}
	}
	return seen
}

// createdAccount returns the holding account an associated token account
// instruction creates.
func createdAccount(ix solana.Instruction) (solana.PublicKey, bool) {
	if !ix.ProgramID().Equals(solana.SPLAssociatedTokenAccountProgramID) || len(ix.Accounts()) < 2 {
		return solana.PublicKey{}, false
	}
	return ix.Accounts()[1].PublicKey, true
}

type Provisioner struct {
	client   ledger.Client
	resolver *address.Resolver
}

func NewProvisioner(client ledger.Client, resolver *address.Resolver) *Provisioner {
	return &Provisioner{client: client, resolver: resolver}
}

// Ensure plans holding accounts of owner for every asset, paid by payer.
// When payer differs from owner the payer's own account for the same asset
// is ensured too. Accounts the ledger already holds, or already planned in
// this call, produce no instruction.
func (p *Provisioner) Ensure(ctx context.Context, payer, owner solana.PublicKey, assets ...solana.PublicKey) (Plan, error) {
	plan := Plan{Addresses: make(map[solana.PublicKey]solana.PublicKey, len(assets))}
	seen := make(map[solana.PublicKey]struct{})

	wallets := []solana.PublicKey{owner}
	if !payer.Equals(owner) {
		wallets = append(wallets, payer)
	}

	for _, mint := range assets {
		for i, wallet := range wallets {
			holding := p.resolver.HoldingAccount(wallet, mint)
			if i == 0 {
				plan.Addresses[mint] = holding
			}
			if _, ok := seen[holding]; ok {
				continue
			}
			seen[holding] = struct{}{}

			exists, err := ledger.Exists(ctx, p.client, holding)
			if err != nil {
				return Plan{}, fmt.Errorf("provision: look up holding account %s: %w", holding, err)
			}
			if exists {
				continue
			}

			ix, err := associatedtokenaccount.NewCreateInstruction(payer, wallet, mint).ValidateAndBuild()
			if err != nil {
				return Plan{}, fmt.Errorf("provision: build holding account %s: %w", holding, err)
			}
			logger.Debug("provision: holding account missing, planning creation",
				zap.String("wallet", wallet.String()),
				zap.String("mint", mint.String()),
				zap.String("account", holding.String()))
			plan.Instructions = append(plan.Instructions, ix)
		}
	}

	return plan, nil
}
