package assembler

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"

	"coordinator/internal/address"
	"coordinator/internal/events"
	"coordinator/internal/ledger"
	"coordinator/internal/ledger/ledgertest"
	"coordinator/internal/program"
	"coordinator/internal/raffle"
	"coordinator/internal/storage"
)

type recordingPublisher struct {
	settlements []events.Settlement
}

func (p *recordingPublisher) Publish(_ context.Context, s events.Settlement) error {
	p.settlements = append(p.settlements, s)
	return nil
}

type fixture struct {
	ledger    *ledgertest.Ledger
	env       ledger.Env
	resolver  *address.Resolver
	builder   *program.Builder
	journal   *storage.SqliteStorage
	publisher *recordingPublisher
	assembler *Assembler
}

func newFixture(t *testing.T, options ...Option) *fixture {
	t.Helper()
	payer, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	programKey, _ := solana.NewRandomPrivateKey()
	programID := programKey.PublicKey()

	l := ledgertest.New(programID, raffle.Mints{})
	l.FundSol(payer.PublicKey(), 10)

	journal, err := storage.NewSqliteStorage(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	env := ledger.Env{Client: l, ProgramID: programID, Payer: payer, Commitment: ledger.CommitmentConfirmed}
	publisher := &recordingPublisher{}
	options = append([]Option{WithJournal(journal), WithPublisher(publisher), WithPollInterval(time.Millisecond)}, options...)

	return &fixture{
		ledger:    l,
		env:       env,
		resolver:  address.NewResolver(programID),
		builder:   program.NewBuilder(programID),
		journal:   journal,
		publisher: publisher,
		assembler: New(env, options...),
	}
}

func (f *fixture) initialize(t *testing.T) *program.Instruction {
	t.Helper()
	authority, bump := f.resolver.GlobalAuthority()
	ix, err := f.builder.Initialize(f.env.PayerKey(), authority, bump)
	if err != nil {
		t.Fatalf("Failed to build initialize: %v", err)
	}
	return ix
}

func TestSubmit_OrdersProvisioningFirst(t *testing.T) {
	f := newFixture(t)
	mint := solana.NewWallet().PublicKey()
	create := associatedtokenaccount.NewCreateInstruction(f.env.PayerKey(), f.env.PayerKey(), mint).Build()

	receipt, err := f.assembler.Submit(context.Background(), Bundle{
		Mint:         mint,
		Provisioning: []solana.Instruction{create},
		Operation:    f.initialize(t),
	})
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if receipt.Slot == 0 {
		t.Error("Expected a settlement slot")
	}

	submitted := f.ledger.Submitted()
	if len(submitted) != 1 {
		t.Fatalf("Expected 1 submitted transaction, but got %d", len(submitted))
	}
	msg := submitted[0].Message
	first := msg.AccountKeys[msg.Instructions[0].ProgramIDIndex]
	last := msg.AccountKeys[msg.Instructions[len(msg.Instructions)-1].ProgramIDIndex]
	if !first.Equals(solana.SPLAssociatedTokenAccountProgramID) || !last.Equals(f.env.ProgramID) {
		t.Errorf("Expected provisioning before the operation, got programs %s ... %s", first, last)
	}
	if len(submitted[0].Signatures) != 1 {
		t.Errorf("Expected only the payer to sign, but got %d signatures", len(submitted[0].Signatures))
	}

	records, err := f.journal.GetOperationsByMint(mint.String())
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if len(records) != 1 || records[0].Status != storage.ConfirmedOperationStatus || records[0].Slot != receipt.Slot {
		t.Errorf("Expected a confirmed journal row, but got %+v", records)
	}
	if len(f.publisher.settlements) != 1 || f.publisher.settlements[0].Signature != receipt.Signature.String() {
		t.Errorf("Expected one settlement event, but got %+v", f.publisher.settlements)
	}
}

func TestSubmit_MissingSignerNeverReachesLedger(t *testing.T) {
	f := newFixture(t)
	stranger := solana.NewWallet().PublicKey()
	ix, err := f.builder.RevealWinner(stranger, solana.NewWallet().PublicKey())
	if err != nil {
		t.Fatalf("Failed to build reveal: %v", err)
	}

	_, err = f.assembler.Submit(context.Background(), Bundle{Operation: ix})
	if !errors.Is(err, raffle.ErrUnauthorized) {
		t.Fatalf("Expected ErrUnauthorized, but got %v", err)
	}
	if n := len(f.ledger.Submitted()); n != 0 {
		t.Errorf("Expected nothing submitted, but got %d transactions", n)
	}
}

func TestSubmit_RejectionIsSettlementFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.assembler.Submit(ctx, Bundle{Operation: f.initialize(t)}); err != nil {
		t.Fatalf("Expected first initialize to settle, but got %v", err)
	}
	_, err := f.assembler.Submit(ctx, Bundle{Operation: f.initialize(t)})
	if !errors.Is(err, raffle.ErrSettlementFailure) {
		t.Fatalf("Expected ErrSettlementFailure, but got %v", err)
	}

	failed, err := f.journal.GetOperationsByStatus(storage.FailedOperationStatus)
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if len(failed) != 1 || failed[0].Error == "" {
		t.Errorf("Expected one failed journal row with its cause, but got %+v", failed)
	}
}

func TestSubmit_ConfirmationTimeout(t *testing.T) {
	f := newFixture(t, WithConfirmTimeout(20*time.Millisecond))
	f.ledger.HideStatuses(true)

	_, err := f.assembler.Submit(context.Background(), Bundle{Operation: f.initialize(t)})
	if !errors.Is(err, raffle.ErrSettlementFailure) {
		t.Fatalf("Expected ErrSettlementFailure, but got %v", err)
	}
	if len(f.publisher.settlements) != 0 {
		t.Error("Expected no settlement event for an unconfirmed submission")
	}
}

func TestSubmit_RejectsInvalidInstruction(t *testing.T) {
	f := newFixture(t)
	ix, err := f.builder.UpdateRafflePeriod(f.env.PayerKey(), solana.PublicKey{}, 10)
	if err != nil {
		t.Fatalf("Failed to build instruction: %v", err)
	}

	_, err = f.assembler.Submit(context.Background(), Bundle{Operation: ix})
	if !errors.Is(err, raffle.ErrInvalidArgument) {
		t.Fatalf("Expected ErrInvalidArgument, but got %v", err)
	}
}

func TestReconcile_ResolvesPendingRows(t *testing.T) {
	f := newFixture(t, WithConfirmTimeout(time.Minute))
	ctx := context.Background()

	receipt, err := f.assembler.Submit(ctx, Bundle{Operation: f.initialize(t)})
	if err != nil {
		t.Fatalf("Expected initialize to settle, but got %v", err)
	}
	// a crash after submit leaves the settled row pending
	if err := f.journal.UpdateOperationStatus(receipt.Signature.String(), storage.PendingOperationStatus, 0, ""); err != nil {
		t.Fatalf("Failed to reset row: %v", err)
	}

	dropped := solana.Signature{1}
	recent := solana.Signature{2}
	for _, record := range []*storage.OperationRecord{
		{Operation: program.Initialize, Signer: f.env.PayerKey().String(), Signature: dropped.String(),
			Status: storage.PendingOperationStatus, CreatedAt: time.Now().Add(-time.Hour)},
		{Operation: program.Initialize, Signer: f.env.PayerKey().String(), Signature: recent.String(),
			Status: storage.PendingOperationStatus},
	} {
		if err := f.journal.CreateOperation(record); err != nil {
			t.Fatalf("Failed to journal row: %v", err)
		}
	}

	resolved, err := f.assembler.Reconcile(ctx, f.journal)
	if err != nil {
		t.Fatalf("Expected no error, but got %v", err)
	}
	if resolved != 2 {
		t.Errorf("Expected 2 resolved rows, but got %d", resolved)
	}

	confirmed, _ := f.journal.GetOperationsByStatus(storage.ConfirmedOperationStatus)
	if len(confirmed) != 1 || confirmed[0].Signature != receipt.Signature.String() || confirmed[0].Slot != receipt.Slot {
		t.Errorf("Expected the settled row confirmed at slot %d, but got %+v", receipt.Slot, confirmed)
	}
	failed, _ := f.journal.GetOperationsByStatus(storage.FailedOperationStatus)
	if len(failed) != 1 || failed[0].Signature != dropped.String() || failed[0].Error == "" {
		t.Errorf("Expected the stale unseen row failed, but got %+v", failed)
	}
	pending, _ := f.journal.GetOperationsByStatus(storage.PendingOperationStatus)
	if len(pending) != 1 || pending[0].Signature != recent.String() {
		t.Errorf("Expected the recent unseen row still pending, but got %+v", pending)
	}
}

func TestReconcile_StopsOnLedgerError(t *testing.T) {
	f := newFixture(t)
	record := &storage.OperationRecord{Operation: program.Initialize, Signer: f.env.PayerKey().String(),
		Signature: solana.Signature{3}.String(), Status: storage.PendingOperationStatus}
	if err := f.journal.CreateOperation(record); err != nil {
		t.Fatalf("Failed to journal row: %v", err)
	}
	f.ledger.FailReads(errors.New("rpc down"))

	if _, err := f.assembler.Reconcile(context.Background(), f.journal); err == nil {
		t.Error("Expected an error while the ledger is unreachable")
	}
}
