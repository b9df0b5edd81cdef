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

// CreatePool registers a market keyed by (caller, np.PoolID) and opens its
// vault. The caller must be the protocol admin.
func (l *Ledger) CreatePool(ctx context.Context, caller common.Address, np domain.NewPool) (domain.Pool, error) {
	if !np.EndTime.After(np.StartTime) {
		return domain.Pool{}, fmt.Errorf("ledger: create pool: %w", domain.ErrInvalidWindow)
	}
	if np.Name == "" {
		return domain.Pool{}, fmt.Errorf("ledger: create pool: %w: empty name", domain.ErrInvalidArgument)
	}
	if np.Asset == (common.Address{}) {
		return domain.Pool{}, fmt.Errorf("ledger: create pool: %w: zero asset", domain.ErrInvalidArgument)
	}
	loc, bump, err := locator.FindLocation(locator.PoolSeeds(caller, np.PoolID))
	if err != nil {
		return domain.Pool{}, fmt.Errorf("ledger: create pool: %w", err)
	}
	vault, _, err := locator.FindLocation(locator.VaultSeeds(loc))
	if err != nil {
		return domain.Pool{}, fmt.Errorf("ledger: create pool: %w", err)
	}

	var pool domain.Pool
	err = l.commit(ctx, "create pool", func(tx domain.LedgerTx, out *outbox) error {
		proto, err := tx.Protocol(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(proto, caller); err != nil {
			return err
		}
		total, err := checkedAdd(proto.TotalPools, 1, "total pools")
		if err != nil {
			return err
		}

		pool = domain.Pool{
			Location:           loc,
			Bump:               bump,
			Admin:              caller,
			PoolID:             np.PoolID,
			Name:               np.Name,
			Metadata:           np.Metadata,
			Asset:              np.Asset,
			Vault:              vault,
			StartTime:          np.StartTime.UTC(),
			EndTime:            np.EndTime.UTC(),
			MaxAccuracyBuffer:  np.MaxAccuracyBuffer,
			ConvictionBonusBps: np.ConvictionBonusBps,
			CreatedAt:          out.at,
		}
		if err := tx.InsertPool(ctx, pool); err != nil {
			return err
		}
		if err := tx.OpenAccount(ctx, domain.TokenAccount{Location: vault, Asset: np.Asset, Authority: loc}); err != nil {
			return err
		}
		proto.TotalPools = total
		if err := tx.UpdateProtocol(ctx, proto); err != nil {
			return err
		}
		out.add(domain.EventPoolCreated, domain.PoolCreated{
			Pool:      loc,
			PoolName:  pool.Name,
			StartTime: pool.StartTime,
			EndTime:   pool.EndTime,
		})
		return nil
	})
	if err != nil {
		return domain.Pool{}, err
	}
	l.logger.InfoContext(ctx, "pool created",
		slog.String("pool", loc.Hex()),
		slog.String("name", pool.Name),
		slog.Uint64("pool_id", pool.PoolID),
	)
	return pool, nil
}

// ResolvePool records the final outcome once the pool has ended. A new
// settlement round is required afterwards.
func (l *Ledger) ResolvePool(ctx context.Context, caller common.Address, poolLoc common.Hash, outcome uint64) (domain.Pool, error) {
	var pool domain.Pool
	err := l.commit(ctx, "resolve pool", func(tx domain.LedgerTx, out *outbox) error {
		proto, err := tx.Protocol(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(proto, caller); err != nil {
			return err
		}
		pool, err = tx.Pool(ctx, poolLoc)
		if err != nil {
			return err
		}
		if pool.IsResolved {
			return domain.ErrAlreadyResolved
		}
		if !pool.Ended(out.at) {
			return fmt.Errorf("%w: pool ends at %s", domain.ErrTooEarly, pool.EndTime.Format(time.RFC3339))
		}
		if err := requireResident(ctx, tx, poolLoc); err != nil {
			return err
		}

		pool.ResolutionTarget = outcome
		pool.IsResolved = true
		pool.ResolutionTs = out.at
		pool.WeightFinalized = false
		if err := tx.UpdatePool(ctx, pool); err != nil {
			return err
		}
		out.add(domain.EventPoolResolved, domain.PoolResolved{
			Pool:         poolLoc,
			PoolName:     pool.Name,
			FinalOutcome: outcome,
			ResolutionTs: out.at,
		})
		return nil
	})
	if err != nil {
		return domain.Pool{}, err
	}
	l.logger.InfoContext(ctx, "pool resolved",
		slog.String("pool", poolLoc.Hex()),
		slog.Uint64("outcome", outcome),
	)
	return pool, nil
}
