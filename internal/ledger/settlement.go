package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/locator"
)

var bpsDenominator = uint256.NewInt(domain.MaxFeeRateBps)

// ComputeFee splits balance into floor(balance*feeRateBps/10000) and the
// remainder. The product is formed in 256 bits so it cannot overflow.
func ComputeFee(balance, feeRateBps uint64) (fee, distributable uint64, err error) {
	if feeRateBps > domain.MaxFeeRateBps {
		return 0, 0, domain.ErrInvalidFeeRate
	}
	if feeRateBps == 0 || balance == 0 {
		return 0, balance, nil
	}
	product := new(uint256.Int).Mul(uint256.NewInt(balance), uint256.NewInt(feeRateBps))
	q := product.Div(product, bpsDenominator)
	if !q.IsUint64() {
		return 0, 0, fmt.Errorf("%w: fee", domain.ErrArithmeticOverflow)
	}
	fee = q.Uint64()
	return fee, balance - fee, nil
}

// FinalizeWeights deducts the protocol fee from a resolved pool's vault,
// pays it to the treasury wallet and fixes the distributable remainder. The
// vault debit is signed by the pool's own seeds. It runs once per resolution.
func (l *Ledger) FinalizeWeights(ctx context.Context, caller common.Address, poolLoc common.Hash) (domain.Settlement, error) {
	var s domain.Settlement
	err := l.commit(ctx, "finalize weights", func(tx domain.LedgerTx, out *outbox) error {
		proto, err := tx.Protocol(ctx)
		if err != nil {
			return err
		}
		pool, err := tx.Pool(ctx, poolLoc)
		if err != nil {
			return err
		}
		if !pool.IsResolved {
			return fmt.Errorf("%w: pool not resolved", domain.ErrTooEarly)
		}
		if pool.WeightFinalized {
			return domain.ErrAlreadySettled
		}
		if err := requireResident(ctx, tx, poolLoc); err != nil {
			return err
		}

		vault, err := tx.Account(ctx, pool.Vault)
		if err != nil {
			return err
		}
		fee, distributable, err := ComputeFee(vault.Balance, proto.FeeRateBps)
		if err != nil {
			return err
		}
		treasuryWallet, err := locator.Wallet(pool.Asset, proto.Treasury)
		if err != nil {
			return err
		}
		if fee > 0 {
			if err := tx.Transfer(ctx, domain.TransferRequest{
				Asset:       pool.Asset,
				From:        pool.Vault,
				To:          treasuryWallet,
				ToOwner:     proto.Treasury,
				Signer:      caller,
				SignerSeeds: locator.WithBump(locator.PoolSeeds(pool.Admin, pool.PoolID), pool.Bump),
				Amount:      fee,
			}); err != nil {
				return err
			}
		}

		pool.VaultBalance = distributable
		pool.WeightFinalized = true
		if err := tx.UpdatePool(ctx, pool); err != nil {
			return err
		}

		s = domain.Settlement{
			Pool:           poolLoc,
			PoolName:       pool.Name,
			Asset:          pool.Asset,
			Treasury:       proto.Treasury,
			TreasuryWallet: treasuryWallet,
			FeeRateBps:     proto.FeeRateBps,
			VaultBefore:    vault.Balance,
			FeeDeducted:    fee,
			Distributable:  distributable,
			TotalWeight:    pool.TotalWeight,
			SettledAt:      out.at,
		}
		out.add(domain.EventWeightsFinalized, domain.WeightsFinalized{
			Pool:        poolLoc,
			PoolName:    pool.Name,
			TotalWeight: pool.TotalWeight,
			FeeDeducted: fee,
		})
		return nil
	})
	if err != nil {
		return domain.Settlement{}, err
	}
	l.logger.InfoContext(ctx, "weights finalized",
		slog.String("pool", poolLoc.Hex()),
		slog.Uint64("vault_before", s.VaultBefore),
		slog.Uint64("fee", s.FeeDeducted),
		slog.Uint64("distributable", s.Distributable),
	)
	return s, nil
}
