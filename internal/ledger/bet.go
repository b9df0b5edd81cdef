package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/locator"
)

// PlaceBet escrows amount from the caller's wallet into the pool vault and
// records the wager at the location derived from (pool, caller, requestID).
func (l *Ledger) PlaceBet(ctx context.Context, caller common.Address, poolLoc common.Hash, amount uint64, requestID string) (domain.Bet, error) {
	seeds, err := locator.BetSeeds(poolLoc, caller, requestID)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: place bet: %w", err)
	}
	loc, bump, err := locator.FindLocation(seeds)
	if err != nil {
		return domain.Bet{}, fmt.Errorf("ledger: place bet: %w", err)
	}

	var bet domain.Bet
	err = l.commit(ctx, "place bet", func(tx domain.LedgerTx, out *outbox) error {
		proto, err := tx.Protocol(ctx)
		if err != nil {
			return err
		}
		if proto.Paused {
			return domain.ErrPaused
		}
		pool, err := tx.Pool(ctx, poolLoc)
		if err != nil {
			return err
		}
		if out.at.Before(pool.StartTime) {
			return fmt.Errorf("%w: %w: opens at %s", domain.ErrTooEarly, domain.ErrOutsideWindow, pool.StartTime.Format(time.RFC3339))
		}
		if !out.at.Before(pool.EndTime) {
			return fmt.Errorf("%w: %w: closed at %s", domain.ErrTooLate, domain.ErrOutsideWindow, pool.EndTime.Format(time.RFC3339))
		}
		if err := requireResident(ctx, tx, poolLoc); err != nil {
			return err
		}

		balance, err := checkedAdd(pool.VaultBalance, amount, "vault balance")
		if err != nil {
			return err
		}
		participants, err := checkedAdd(pool.TotalParticipants, 1, "participant count")
		if err != nil {
			return err
		}

		bet = domain.Bet{
			Location:     loc,
			Bump:         bump,
			Owner:        caller,
			Pool:         poolLoc,
			RequestID:    requestID,
			Deposit:      amount,
			EndTimestamp: pool.EndTime,
			CreationTs:   out.at,
			Status:       domain.BetInitialized,
		}
		if err := tx.InsertBet(ctx, bet); err != nil {
			return err
		}

		wallet, err := locator.Wallet(pool.Asset, caller)
		if err != nil {
			return err
		}
		if err := tx.Transfer(ctx, domain.TransferRequest{
			Asset:  pool.Asset,
			From:   wallet,
			To:     pool.Vault,
			Signer: caller,
			Amount: amount,
		}); err != nil {
			return err
		}

		pool.VaultBalance = balance
		pool.TotalParticipants = participants
		return tx.UpdatePool(ctx, pool)
	})
	if err != nil {
		return domain.Bet{}, err
	}
	l.logger.InfoContext(ctx, "bet placed",
		slog.String("bet", loc.Hex()),
		slog.String("pool", poolLoc.Hex()),
		slog.String("owner", caller.Hex()),
		slog.Uint64("amount", amount),
	)
	return bet, nil
}
