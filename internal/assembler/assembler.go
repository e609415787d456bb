// Package assembler turns an operation and its provisioning into one signed
// transaction, submits it and waits until the ledger settles it.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"coordinator/internal/events"
	"coordinator/internal/ledger"
	"coordinator/internal/logger"
	"coordinator/internal/program"
	"coordinator/internal/raffle"
	"coordinator/internal/storage"
)

const (
	defaultConfirmTimeout = 60 * time.Second
	defaultPollInterval   = 400 * time.Millisecond
)

var errNotSettled = errors.New("not settled yet")

// Journal records submitted operations.
type Journal interface {
	CreateOperation(record *storage.OperationRecord) error
	UpdateOperationStatus(signature string, status storage.OperationStatus, slot uint64, failure string) error
}

// Publisher announces settled operations.
type Publisher interface {
	Publish(ctx context.Context, settlement events.Settlement) error
}

// Bundle is one atomic submission: provisioning instructions followed by
// the operation instruction.
type Bundle struct {
	Mint         solana.PublicKey
	Raffle       solana.PublicKey
	Provisioning []solana.Instruction
	Operation    *program.Instruction
}

// Receipt identifies a settled submission.
type Receipt struct {
	Signature solana.Signature
	Slot      uint64
}

type Option func(*Assembler)

func WithJournal(journal Journal) Option {
	return func(a *Assembler) {
		a.journal = journal
	}
}

func WithPublisher(publisher Publisher) Option {
	return func(a *Assembler) {
		a.publisher = publisher
	}
}

// WithConfirmTimeout bounds how long Submit waits for settlement.
func WithConfirmTimeout(timeout time.Duration) Option {
	return func(a *Assembler) {
		a.confirmTimeout = timeout
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(a *Assembler) {
		a.pollInterval = interval
	}
}

type Assembler struct {
	env            ledger.Env
	journal        Journal
	publisher      Publisher
	confirmTimeout time.Duration
	pollInterval   time.Duration
}

func New(env ledger.Env, options ...Option) *Assembler {
	a := &Assembler{
		env:            env,
		confirmTimeout: defaultConfirmTimeout,
		pollInterval:   defaultPollInterval,
	}
	for _, option := range options {
		option(a)
	}
	if a.env.Commitment == "" {
		a.env.Commitment = ledger.CommitmentConfirmed
	}
	return a
}

// Submit validates, signs and submits b, then blocks until the ledger
// reports it settled at the Env commitment. Rejection, transport failure
// and confirmation timeout all surface as raffle.ErrSettlementFailure.
func (a *Assembler) Submit(ctx context.Context, b Bundle) (Receipt, error) {
	if b.Operation == nil {
		return Receipt{}, fmt.Errorf("assembler: %w: bundle has no operation", raffle.ErrInvalidArgument)
	}
	if err := b.Operation.Validate(); err != nil {
		return Receipt{}, fmt.Errorf("assembler: %w: %v", raffle.ErrInvalidArgument, err)
	}

	instructions := make([]solana.Instruction, 0, len(b.Provisioning)+1)
	instructions = append(instructions, b.Provisioning...)
	instructions = append(instructions, b.Operation)

	payer := a.env.PayerKey()
	keyring, err := a.signers(payer, instructions)
	if err != nil {
		return Receipt{}, err
	}

	blockhash, err := a.env.Client.GetLatestBlockhash(ctx)
	if err != nil {
		return Receipt{}, fmt.Errorf("assembler: %w: blockhash: %v", raffle.ErrSettlementFailure, err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return Receipt{}, fmt.Errorf("assembler: compile %s: %w", b.Operation.Name, err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if k, ok := keyring[key]; ok {
			return &k
		}
		return nil
	}); err != nil {
		return Receipt{}, fmt.Errorf("assembler: sign %s: %w", b.Operation.Name, err)
	}
	signature := tx.Signatures[0]

	a.journalPending(b, signature)

	logger.Debug("assembler: submitting...",
		zap.String("operation", b.Operation.Name),
		zap.Int("provisioning", len(b.Provisioning)),
		zap.String("signature", signature.String()))

	if _, err := a.env.Client.SendTransaction(ctx, tx); err != nil {
		a.journalResult(signature, storage.FailedOperationStatus, 0, err)
		return Receipt{}, fmt.Errorf("assembler: %w: submit %s: %v", raffle.ErrSettlementFailure, b.Operation.Name, err)
	}

	slot, err := a.await(ctx, signature)
	if err != nil {
		a.journalResult(signature, storage.FailedOperationStatus, 0, err)
		return Receipt{}, fmt.Errorf("assembler: %w: %s %s: %v", raffle.ErrSettlementFailure, b.Operation.Name, signature, err)
	}

	a.journalResult(signature, storage.ConfirmedOperationStatus, slot, nil)
	a.publish(ctx, b, signature, slot)

	logger.Info("assembler: settled",
		zap.String("operation", b.Operation.Name),
		zap.String("signature", signature.String()),
		zap.Uint64("slot", slot))
	return Receipt{Signature: signature, Slot: slot}, nil
}

// signers returns the keyring for instructions. The payer is the only key
// the service holds, so any other required signer is raffle.ErrUnauthorized.
func (a *Assembler) signers(payer solana.PublicKey, instructions []solana.Instruction) (map[solana.PublicKey]solana.PrivateKey, error) {
	for _, ix := range instructions {
		for _, meta := range ix.Accounts() {
			if meta.IsSigner && !meta.PublicKey.Equals(payer) {
				return nil, fmt.Errorf("assembler: %w: no key for required signer %s", raffle.ErrUnauthorized, meta.PublicKey)
			}
		}
	}
	return map[solana.PublicKey]solana.PrivateKey{payer: a.env.Payer}, nil
}

func (a *Assembler) await(ctx context.Context, signature solana.Signature) (uint64, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = a.pollInterval
	policy.MaxInterval = 4 * a.pollInterval
	policy.MaxElapsedTime = a.confirmTimeout

	var slot uint64
	err := backoff.Retry(func() error {
		status, err := a.env.Client.GetSignatureStatus(ctx, signature)
		if err != nil {
			logger.Debug("assembler: status lookup failed, retrying", zap.Error(err))
			return err
		}
		if status == nil {
			return errNotSettled
		}
		if status.Err != nil {
			return backoff.Permanent(status.Err)
		}
		if !status.Commitment.Reaches(a.env.Commitment) {
			return errNotSettled
		}
		slot = status.Slot
		return nil
	}, backoff.WithContext(policy, ctx))
	if errors.Is(err, errNotSettled) {
		return 0, fmt.Errorf("not %s within %s", a.env.Commitment, a.confirmTimeout)
	}
	return slot, err
}

func (a *Assembler) journalPending(b Bundle, signature solana.Signature) {
	if a.journal == nil {
		return
	}
	record := &storage.OperationRecord{
		Operation: b.Operation.Name,
		Raffle:    keyString(b.Raffle),
		NftMint:   keyString(b.Mint),
		Signer:    a.env.PayerKey().String(),
		Signature: signature.String(),
		Status:    storage.PendingOperationStatus,
	}
	if err := a.journal.CreateOperation(record); err != nil {
		logger.Error("assembler: journal pending operation", zap.String("signature", signature.String()), zap.Error(err))
	}
}

func (a *Assembler) journalResult(signature solana.Signature, status storage.OperationStatus, slot uint64, cause error) {
	if a.journal == nil {
		return
	}
	var failure string
	if cause != nil {
		failure = cause.Error()
	}
	if err := a.journal.UpdateOperationStatus(signature.String(), status, slot, failure); err != nil {
		logger.Error("assembler: journal operation result", zap.String("signature", signature.String()), zap.Error(err))
	}
}

func (a *Assembler) publish(ctx context.Context, b Bundle, signature solana.Signature, slot uint64) {
	if a.publisher == nil {
		return
	}
	settlement := events.Settlement{
		Operation: b.Operation.Name,
		Raffle:    keyString(b.Raffle),
		Mint:      keyString(b.Mint),
		Signer:    a.env.PayerKey().String(),
		Signature: signature.String(),
		Slot:      slot,
		SettledAt: time.Now().UTC(),
	}
	if err := a.publisher.Publish(ctx, settlement); err != nil {
		logger.Warn("assembler: publish settlement", zap.String("signature", signature.String()), zap.Error(err))
	}
}

func keyString(key solana.PublicKey) string {
	if key.IsZero() {
		return ""
	}
	return key.String()
}
