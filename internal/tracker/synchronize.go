package tracker

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"coordinator/internal/engine"
	"coordinator/internal/logger"
	"coordinator/internal/raffle"
	"coordinator/internal/storage"
)

// Synchronize reveals every watched raffle that ended unrevealed. Rows are
// re-checked against the ledger first, so raffles revealed or withdrawn by
// someone else are only refreshed.
func (t *Tracker) Synchronize(ctx context.Context) error {
	logger.Debug("tracker: synchronizing expired raffles...")

	expired, err := t.storage.GetExpiredRaffles(t.now().Unix())
	if err != nil {
		return fmt.Errorf("tracker: list expired raffles: %w", err)
	}

	var revealed int
	for _, status := range expired {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := t.synchronizeRaffle(ctx, status)
		if err != nil {
			logger.Warn("tracker: cannot synchronize raffle, skipping...",
				zap.String("raffle", status.Raffle),
				zap.Error(err))
			continue
		}
		if done {
			revealed++
		}
	}

	logger.Debug("tracker: synchronizing expired raffles... done",
		zap.Int("expired", len(expired)),
		zap.Int("revealed", revealed))
	return nil
}

func (t *Tracker) synchronizeRaffle(ctx context.Context, status *storage.RaffleStatus) (bool, error) {
	raffleAddr, err := solana.PublicKeyFromBase58(status.Raffle)
	if err != nil {
		return false, err
	}

	pool, err := t.reader.FetchRaffleState(ctx, raffleAddr)
	if errors.Is(err, raffle.ErrNotFound) || errors.Is(err, raffle.ErrMalformedAccount) {
		status.Closed = true
		return false, t.storage.UpdateRaffleStatus(status)
	}
	if err != nil {
		return false, err
	}

	switch {
	case pool.Revealed() || pool.Withdrawn():
		return false, t.storage.UpdateRaffleStatus(engine.StatusRow(raffleAddr, pool))
	case t.now().Unix() < pool.EndTimestamp:
		// end was moved after the row was written
		return false, t.storage.UpdateRaffleStatus(engine.StatusRow(raffleAddr, pool))
	case pool.Count == 0:
		// nothing to draw; only the creator can close it with a withdrawal
		row := engine.StatusRow(raffleAddr, pool)
		row.Closed = true
		return false, t.storage.UpdateRaffleStatus(row)
	}

	result, err := t.revealer.RevealRaffle(ctx, raffleAddr)
	if err != nil {
		return false, err
	}

	logger.Info("tracker: revealed raffle",
		zap.String("raffle", status.Raffle),
		zap.Int("winners", len(result.Winners)),
		zap.String("signature", result.Signature.String()))

	pool, err = t.reader.FetchRaffleState(ctx, raffleAddr)
	if err != nil {
		return true, err
	}
	return true, t.storage.UpdateRaffleStatus(engine.StatusRow(raffleAddr, pool))
}
