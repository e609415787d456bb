// Package ledgertest provides an in-memory ledger executing the system,
// associated token account and raffle program instructions the engine
// submits. Transactions apply atomically: a failing instruction leaves
// every account untouched.
package ledgertest

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"coordinator/internal/ledger"
	"coordinator/internal/raffle"
)

const (
	rentPerByte   = 6960
	rentOverhead  = 128
	startingSlot  = 1000
	defaultGrace  = 72 * time.Hour
	lamportsInSol = 1_000_000_000
)

type Option func(*Ledger)

// WithWithdrawGrace sets how long an unrevealed raffle with entrants must
// stay past its end before the program allows a withdrawal.
func WithWithdrawGrace(grace time.Duration) Option {
	return func(l *Ledger) {
		l.grace = grace
	}
}

// WithClock starts the ledger clock at now.
func WithClock(now time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// Ledger implements ledger.Client.
type Ledger struct {
	mu sync.Mutex

	programID solana.PublicKey
	mints     raffle.Mints
	grace     time.Duration

	accounts map[solana.PublicKey]*ledger.Account
	order    []solana.PublicKey
	statuses map[solana.Signature]*ledger.SignatureStatus

	now          time.Time
	slot         uint64
	hideStatuses bool

	submitted []*solana.Transaction
	readErr   error
}

func New(programID solana.PublicKey, mints raffle.Mints, options ...Option) *Ledger {
	l := &Ledger{
		programID: programID,
		mints:     mints,
		grace:     defaultGrace,
		accounts:  make(map[solana.PublicKey]*ledger.Account),
		statuses:  make(map[solana.Signature]*ledger.SignatureStatus),
		now:       time.Unix(1_700_000_000, 0),
		slot:      startingSlot,
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// Now returns the ledger clock.
func (l *Ledger) Now() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.now
}

// Advance moves the ledger clock forward.
func (l *Ledger) Advance(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = l.now.Add(d)
}

// HideStatuses makes the ledger stop reporting signature statuses, as if
// submitted transactions were never seen.
func (l *Ledger) HideStatuses(hide bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hideStatuses = hide
}

// FailReads makes every read return err until called with nil.
func (l *Ledger) FailReads(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
}

// Submitted returns the transactions the ledger accepted or rejected, in order.
func (l *Ledger) Submitted() []*solana.Transaction {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*solana.Transaction(nil), l.submitted...)
}

// Fund credits lamports to a wallet.
func (l *Ledger) Fund(wallet solana.PublicKey, lamports uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc := l.accounts[wallet]
	if acc == nil {
		acc = &ledger.Account{Address: wallet, Owner: solana.SystemProgramID}
		l.put(acc)
	}
	acc.Lamports += lamports
}

// FundSol credits whole SOL to a wallet.
func (l *Ledger) FundSol(wallet solana.PublicKey, sol uint64) {
	l.Fund(wallet, sol*lamportsInSol)
}

// MintTo credits amount of mint to the canonical holding account of owner,
// creating it when needed, and returns its address.
func (l *Ledger) MintTo(owner, mint solana.PublicKey, amount uint64) solana.PublicKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	address, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		panic(err)
	}
	token := ledger.TokenAccount{Mint: mint, Owner: owner}
	if acc := l.accounts[address]; acc != nil {
		current, err := ledger.DecodeTokenAccount(acc)
		if err != nil {
			panic(err)
		}
		token = *current
	}
	token.Amount += amount
	l.putToken(address, token)
	return address
}

// Put stores an arbitrary account, replacing any previous one.
func (l *Ledger) Put(acc *ledger.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.put(cloneAccount(acc))
}

func (l *Ledger) GetAccount(_ context.Context, address solana.PublicKey) (*ledger.Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	acc, ok := l.accounts[address]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return cloneAccount(acc), nil
}

func (l *Ledger) GetProgramAccounts(_ context.Context, programID solana.PublicKey, filters ...ledger.Filter) ([]ledger.KeyedAccount, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}

	var out []ledger.KeyedAccount
	for _, address := range l.order {
		acc, ok := l.accounts[address]
		if !ok || !acc.Owner.Equals(programID) || !matches(acc, filters) {
			continue
		}
		out = append(out, ledger.KeyedAccount{Address: address, Account: cloneAccount(acc)})
	}
	return out, nil
}

func matches(acc *ledger.Account, filters []ledger.Filter) bool {
	for _, f := range filters {
		if f.DataSize != 0 && uint64(len(acc.Data)) != f.DataSize {
			return false
		}
		if f.Memcmp != nil {
			end := f.Memcmp.Offset + uint64(len(f.Memcmp.Bytes))
			if end > uint64(len(acc.Data)) || !bytes.Equal(acc.Data[f.Memcmp.Offset:end], f.Memcmp.Bytes) {
				return false
			}
		}
	}
	return true
}

func (l *Ledger) GetMinimumBalanceForRentExemption(_ context.Context, size uint64) (uint64, error) {
	return rentExempt(size), nil
}

func rentExempt(size uint64) uint64 {
	return (size + rentOverhead) * rentPerByte
}

func (l *Ledger) GetLatestBlockhash(_ context.Context) (solana.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return solana.Hash{}, l.readErr
	}
	var h solana.Hash
	binary.LittleEndian.PutUint64(h[:8], l.slot)
	return h, nil
}

// SendTransaction runs the transaction like a preflight would: a failing
// transaction is rejected with an error and changes nothing.
func (l *Ledger) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitted = append(l.submitted, tx)

	if len(tx.Signatures) == 0 {
		return solana.Signature{}, fmt.Errorf("transaction carries no signatures")
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, fmt.Errorf("signature verification failed: %w", err)
	}
	signature := tx.Signatures[0]

	snapshot, order := l.snapshot()
	l.slot++
	for i, ci := range tx.Message.Instructions {
		if err := l.execute(tx, ci); err != nil {
			l.accounts, l.order = snapshot, order
			return solana.Signature{}, fmt.Errorf("transaction simulation failed: instruction %d: %w", i, err)
		}
	}

	l.statuses[signature] = &ledger.SignatureStatus{Slot: l.slot, Commitment: ledger.CommitmentFinalized}
	return signature, nil
}

func (l *Ledger) GetSignatureStatus(_ context.Context, signature solana.Signature) (*ledger.SignatureStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	if l.hideStatuses {
		return nil, nil
	}
	status, ok := l.statuses[signature]
	if !ok {
		return nil, nil
	}
	out := *status
	return &out, nil
}

func (l *Ledger) snapshot() (map[solana.PublicKey]*ledger.Account, []solana.PublicKey) {
	accounts := make(map[solana.PublicKey]*ledger.Account, len(l.accounts))
	for k, v := range l.accounts {
		accounts[k] = cloneAccount(v)
	}
	return accounts, append([]solana.PublicKey(nil), l.order...)
}

func (l *Ledger) put(acc *ledger.Account) {
	if _, ok := l.accounts[acc.Address]; !ok {
		l.order = append(l.order, acc.Address)
	}
	l.accounts[acc.Address] = acc
}

func (l *Ledger) putToken(address solana.PublicKey, token ledger.TokenAccount) {
	acc := l.accounts[address]
	if acc == nil {
		acc = &ledger.Account{Address: address, Owner: solana.TokenProgramID, Lamports: rentExempt(ledger.TokenAccountSize)}
		l.put(acc)
	}
	acc.Data = ledger.EncodeTokenAccount(token)
}

func cloneAccount(acc *ledger.Account) *ledger.Account {
	out := *acc
	out.Data = append([]byte(nil), acc.Data...)
	return &out
}

func (l *Ledger) execute(tx *solana.Transaction, ci solana.CompiledInstruction) error {
	keys := tx.Message.AccountKeys
	if int(ci.ProgramIDIndex) >= len(keys) {
		return fmt.Errorf("program index %d out of range", ci.ProgramIDIndex)
	}
	accounts := make([]solana.PublicKey, len(ci.Accounts))
	for i, idx := range ci.Accounts {
		if int(idx) >= len(keys) {
			return fmt.Errorf("account index %d out of range", idx)
		}
		accounts[i] = keys[idx]
	}

	switch programID := keys[ci.ProgramIDIndex]; {
	case programID.Equals(solana.SystemProgramID):
		return l.createAccountWithSeed(tx, accounts, ci.Data)
	case programID.Equals(solana.SPLAssociatedTokenAccountProgramID):
		return l.createHoldingAccount(accounts)
	case programID.Equals(l.programID):
		return l.runProgram(tx, accounts, ci.Data)
	default:
		return fmt.Errorf("unsupported program %s", programID)
	}
}

// createAccountWithSeed handles the system create-with-seed instruction;
// lamports, space and owner are the trailing 48 bytes of its data.
func (l *Ledger) createAccountWithSeed(tx *solana.Transaction, accounts []solana.PublicKey, data []byte) error {
	if len(accounts) < 2 || len(data) < 4+48 {
		return fmt.Errorf("system: malformed instruction")
	}
	if binary.LittleEndian.Uint32(data[:4]) != 3 {
		return fmt.Errorf("system: only create-with-seed is supported")
	}
	funding, created := accounts[0], accounts[1]
	if !tx.Message.IsSigner(funding) {
		return fmt.Errorf("system: funding account %s did not sign", funding)
	}

	tail := data[len(data)-48:]
	lamports := binary.LittleEndian.Uint64(tail[0:8])
	space := binary.LittleEndian.Uint64(tail[8:16])
	owner := solana.PublicKeyFromBytes(tail[16:48])

	if _, exists := l.accounts[created]; exists {
		return fmt.Errorf("system: account %s already in use", created)
	}
	if err := l.debit(funding, lamports); err != nil {
		return err
	}
	l.put(&ledger.Account{Address: created, Owner: owner, Lamports: lamports, Data: make([]byte, space)})
	return nil
}

func (l *Ledger) createHoldingAccount(accounts []solana.PublicKey) error {
	if len(accounts) < 4 {
		return fmt.Errorf("associated token account: malformed instruction")
	}
	payer, holding, wallet, mint := accounts[0], accounts[1], accounts[2], accounts[3]

	expected, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return err
	}
	if !expected.Equals(holding) {
		return fmt.Errorf("associated token account: %s is not the holding account of %s for %s", holding, wallet, mint)
	}
	if _, exists := l.accounts[holding]; exists {
		return fmt.Errorf("associated token account: %s already in use", holding)
	}
	if err := l.debit(payer, rentExempt(ledger.TokenAccountSize)); err != nil {
		return err
	}
	l.putToken(holding, ledger.TokenAccount{Mint: mint, Owner: wallet})
	return nil
}

func (l *Ledger) debit(wallet solana.PublicKey, lamports uint64) error {
	acc := l.accounts[wallet]
	if acc == nil || acc.Lamports < lamports {
		return fmt.Errorf("insufficient lamports in %s", wallet)
	}
	acc.Lamports -= lamports
	return nil
}

func (l *Ledger) credit(wallet solana.PublicKey, lamports uint64) {
	acc := l.accounts[wallet]
	if acc == nil {
		acc = &ledger.Account{Address: wallet, Owner: solana.SystemProgramID}
		l.put(acc)
	}
	acc.Lamports += lamports
}

func (l *Ledger) token(address solana.PublicKey) (*ledger.TokenAccount, error) {
	acc, ok := l.accounts[address]
	if !ok {
		return nil, fmt.Errorf("token account %s does not exist", address)
	}
	return ledger.DecodeTokenAccount(acc)
}

// transfer moves tokens between two accounts of the same mint. authority
// must own the source.
func (l *Ledger) transfer(from, to, authority solana.PublicKey, amount uint64) error {
	src, err := l.token(from)
	if err != nil {
		return err
	}
	dst, err := l.token(to)
	if err != nil {
		return err
	}
	if !src.Owner.Equals(authority) {
		return fmt.Errorf("token: %s is not owned by %s", from, authority)
	}
	if !src.Mint.Equals(dst.Mint) {
		return fmt.Errorf("token: mint mismatch between %s and %s", from, to)
	}
	if src.Amount < amount {
		return fmt.Errorf("token: insufficient funds in %s", from)
	}
	src.Amount -= amount
	dst.Amount += amount
	l.putToken(from, *src)
	l.putToken(to, *dst)
	return nil
}
