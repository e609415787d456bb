package assembler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"coordinator/internal/logger"
	"coordinator/internal/storage"
)

var errDropped = errors.New("dropped: ledger never saw the transaction")

// PendingJournal is a Journal that can list rows by status.
type PendingJournal interface {
	Journal
	GetOperationsByStatus(status storage.OperationStatus) ([]*storage.OperationRecord, error)
}

// Reconcile settles journal rows an earlier run left pending. A row the
// ledger settled becomes confirmed or failed. A row the ledger never saw
// fails once it is older than the confirm timeout; younger rows stay
// pending. It returns how many rows were resolved.
func (a *Assembler) Reconcile(ctx context.Context, journal PendingJournal) (int, error) {
	pending, err := journal.GetOperationsByStatus(storage.PendingOperationStatus)
	if err != nil {
		return 0, fmt.Errorf("assembler: list pending operations: %w", err)
	}

	resolved := 0
	for _, record := range pending {
		signature, err := solana.SignatureFromBase58(record.Signature)
		if err != nil {
			logger.Warn("assembler: skip pending row with bad signature", zap.Int64("id", record.ID), zap.Error(err))
			continue
		}
		status, err := a.env.Client.GetSignatureStatus(ctx, signature)
		if err != nil {
			return resolved, fmt.Errorf("assembler: status of %s: %w", record.Signature, err)
		}

		var next storage.OperationStatus
		var slot uint64
		var cause error
		switch {
		case status == nil && time.Since(record.CreatedAt) > a.confirmTimeout:
			next, cause = storage.FailedOperationStatus, errDropped
		case status == nil:
			continue
		case status.Err != nil:
			next, slot, cause = storage.FailedOperationStatus, status.Slot, status.Err
		case status.Commitment.Reaches(a.env.Commitment):
			next, slot = storage.ConfirmedOperationStatus, status.Slot
		default:
			continue
		}

		var failure string
		if cause != nil {
			failure = cause.Error()
		}
		if err := journal.UpdateOperationStatus(record.Signature, next, slot, failure); err != nil {
			return resolved, fmt.Errorf("assembler: resolve %s: %w", record.Signature, err)
		}
		logger.Info("assembler: reconciled pending operation",
			zap.String("operation", record.Operation),
			zap.String("signature", record.Signature),
			zap.String("status", next))
		resolved++
	}
	return resolved, nil
}
