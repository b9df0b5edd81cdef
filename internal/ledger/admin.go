package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/locator"
)

// InitializeProtocol creates the configuration singleton with caller as
// admin.
func (l *Ledger) InitializeProtocol(ctx context.Context, caller, treasury common.Address, feeRateBps uint64) (domain.Protocol, error) {
	if feeRateBps > domain.MaxFeeRateBps {
		return domain.Protocol{}, fmt.Errorf("ledger: initialize protocol: %w", domain.ErrInvalidFeeRate)
	}
	loc, bump, err := locator.FindLocation(locator.ProtocolSeeds())
	if err != nil {
		return domain.Protocol{}, fmt.Errorf("ledger: initialize protocol: %w", err)
	}

	var proto domain.Protocol
	err = l.commit(ctx, "initialize protocol", func(tx domain.LedgerTx, out *outbox) error {
		proto = domain.Protocol{
			Location:          loc,
			Bump:              bump,
			Admin:             caller,
			Treasury:          treasury,
			FeeRateBps:        feeRateBps,
			BatchWaitDuration: domain.DefaultBatchWaitDuration,
			UpdatedAt:         out.at,
		}
		if err := tx.InsertProtocol(ctx, proto); err != nil {
			return err
		}
		out.add(domain.EventProtocolInitialized, domain.ProtocolInitialized{Admin: caller, FeeWallet: treasury})
		return nil
	})
	if err != nil {
		return domain.Protocol{}, err
	}
	l.logger.InfoContext(ctx, "protocol initialized",
		slog.String("admin", caller.Hex()),
		slog.String("treasury", treasury.Hex()),
		slog.Uint64("fee_rate_bps", feeRateBps),
	)
	return proto, nil
}

// SetPause flips the global circuit breaker.
func (l *Ledger) SetPause(ctx context.Context, caller common.Address, paused bool) error {
	err := l.commit(ctx, "set pause", func(tx domain.LedgerTx, out *outbox) error {
		proto, err := tx.Protocol(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(proto, caller); err != nil {
			return err
		}
		proto.Paused = paused
		proto.UpdatedAt = out.at
		if err := tx.UpdateProtocol(ctx, proto); err != nil {
			return err
		}
		out.add(domain.EventPauseChanged, domain.PauseChanged{IsPaused: paused})
		return nil
	})
	if err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "pause changed", slog.Bool("paused", paused))
	return nil
}

// TransferAdmin hands the admin role to newAdmin.
func (l *Ledger) TransferAdmin(ctx context.Context, caller, newAdmin common.Address) error {
	if newAdmin == (common.Address{}) {
		return fmt.Errorf("ledger: transfer admin: %w: zero address", domain.ErrInvalidArgument)
	}
	return l.commit(ctx, "transfer admin", func(tx domain.LedgerTx, out *outbox) error {
		proto, err := tx.Protocol(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(proto, caller); err != nil {
			return err
		}
		old := proto.Admin
		proto.Admin = newAdmin
		proto.UpdatedAt = out.at
		if err := tx.UpdateProtocol(ctx, proto); err != nil {
			return err
		}
		out.add(domain.EventAdminTransferred, domain.AdminTransferred{OldAdmin: old, NewAdmin: newAdmin})
		return nil
	})
}

// UpdateConfig applies the non-nil fields of upd.
func (l *Ledger) UpdateConfig(ctx context.Context, caller common.Address, upd domain.ConfigUpdate) (domain.Protocol, error) {
	if upd.FeeRateBps != nil && *upd.FeeRateBps > domain.MaxFeeRateBps {
		return domain.Protocol{}, fmt.Errorf("ledger: update config: %w", domain.ErrInvalidFeeRate)
	}
	if upd.BatchWaitDuration != nil && *upd.BatchWaitDuration < 0 {
		return domain.Protocol{}, fmt.Errorf("ledger: update config: %w: negative batch wait", domain.ErrInvalidArgument)
	}

	var proto domain.Protocol
	err := l.commit(ctx, "update config", func(tx domain.LedgerTx, out *outbox) error {
		var err error
		proto, err = tx.Protocol(ctx)
		if err != nil {
			return err
		}
		if err := requireAdmin(proto, caller); err != nil {
			return err
		}
		if upd.Treasury != nil {
			proto.Treasury = *upd.Treasury
		}
		if upd.FeeRateBps != nil {
			proto.FeeRateBps = *upd.FeeRateBps
		}
		if upd.BatchWaitDuration != nil {
			proto.BatchWaitDuration = *upd.BatchWaitDuration
		}
		proto.UpdatedAt = out.at
		if err := tx.UpdateProtocol(ctx, proto); err != nil {
			return err
		}
		out.add(domain.EventConfigUpdated, domain.ConfigUpdated{
			Treasury:          upd.Treasury,
			FeeRateBps:        upd.FeeRateBps,
			BatchWaitDuration: upd.BatchWaitDuration,
		})
		return nil
	})
	if err != nil {
		return domain.Protocol{}, err
	}
	return proto, nil
}
