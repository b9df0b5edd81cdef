package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/locator"
)

// Records move between the primary ledger and the execution layer in two
// store transactions around the layer call. The first marks the record
// Delegating or Undelegating, which already keeps the primary ledger off it.
// The second confirms the new residency once the layer has answered. If the
// second step never runs the record stays pending, and a retry of either
// direction reconciles it with what the layer reports.

// DelegatePool hands the pool record to the execution layer run by
// validator. The pool's seeds come from its recorded creator and sequence
// number and must reproduce its location.
func (l *Ledger) DelegatePool(ctx context.Context, caller common.Address, poolLoc common.Hash, validator common.Address) error {
	var seeds [][]byte
	err := l.delegate(ctx, handOff{
		op:  "delegate pool",
		tag: domain.Delegation{Record: poolLoc, Kind: domain.KindPool, Validator: validator},
		check: func(tx domain.LedgerTx) error {
			proto, err := tx.Protocol(ctx)
			if err != nil {
				return err
			}
			if err := requireAdmin(proto, caller); err != nil {
				return err
			}
			if validator == (common.Address{}) {
				return fmt.Errorf("%w: zero validator", domain.ErrInvalidArgument)
			}
			pool, err := tx.Pool(ctx, poolLoc)
			if err != nil {
				return err
			}
			seeds = locator.PoolSeeds(pool.Admin, pool.PoolID)
			if !locator.Verify(seeds, pool.Bump, poolLoc) {
				return fmt.Errorf("%w: pool %s", domain.ErrSeedMismatch, poolLoc.Hex())
			}
			return nil
		},
		call: func(ctx context.Context) error {
			return l.layer.Delegate(ctx, domain.DelegateRequest{
				Record:    poolLoc,
				Kind:      domain.KindPool,
				Payer:     caller,
				Seeds:     seeds,
				Validator: validator,
			})
		},
		confirmed: func(out *outbox) {
			out.add(domain.EventPoolDelegated, domain.PoolDelegated{PoolAddress: poolLoc})
		},
	})
	if err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "pool delegated",
		slog.String("pool", poolLoc.Hex()),
		slog.String("validator", validator.Hex()),
	)
	return nil
}

// DelegateBet hands the caller's wager to the execution layer. The stored
// owner and pool are checked before anything is transferred.
func (l *Ledger) DelegateBet(ctx context.Context, caller common.Address, poolLoc, betLoc common.Hash, requestID string, validator common.Address) error {
	var (
		bet   domain.Bet
		seeds [][]byte
	)
	err := l.delegate(ctx, handOff{
		op:  "delegate bet",
		tag: domain.Delegation{Record: betLoc, Kind: domain.KindBet, Validator: validator},
		check: func(tx domain.LedgerTx) error {
			var err error
			bet, seeds, err = ownedBet(ctx, tx, caller, poolLoc, betLoc, requestID)
			if err != nil {
				return err
			}
			if validator == (common.Address{}) {
				return fmt.Errorf("%w: zero validator", domain.ErrInvalidArgument)
			}
			return nil
		},
		call: func(ctx context.Context) error {
			return l.layer.Delegate(ctx, domain.DelegateRequest{
				Record:    betLoc,
				Kind:      domain.KindBet,
				Payer:     caller,
				Seeds:     seeds,
				Validator: validator,
			})
		},
		confirmed: func(out *outbox) {
			out.add(domain.EventBetDelegated, domain.BetDelegated{
				BetAddress: betLoc,
				User:       bet.Owner,
				RequestID:  requestID,
			})
		},
	})
	if err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "bet delegated",
		slog.String("bet", betLoc.Hex()),
		slog.String("owner", caller.Hex()),
	)
	return nil
}

// DelegateBetPermission places the permission record of the caller's wager
// under the execution layer without moving the wager itself. The wager
// co-signs with its seeds and stored bump.
func (l *Ledger) DelegateBetPermission(ctx context.Context, caller common.Address, poolLoc, betLoc common.Hash, requestID string, validator common.Address) (common.Hash, error) {
	permission, err := permissionOf(betLoc)
	if err != nil {
		return common.Hash{}, fmt.Errorf("ledger: delegate bet permission: %w", err)
	}
	var (
		bet   domain.Bet
		seeds [][]byte
	)
	err = l.delegate(ctx, handOff{
		op:  "delegate bet permission",
		tag: domain.Delegation{Record: permission, Kind: domain.KindPermission, Validator: validator},
		check: func(tx domain.LedgerTx) error {
			var err error
			bet, seeds, err = ownedBet(ctx, tx, caller, poolLoc, betLoc, requestID)
			if err != nil {
				return err
			}
			if validator == (common.Address{}) {
				return fmt.Errorf("%w: zero validator", domain.ErrInvalidArgument)
			}
			return nil
		},
		call: func(ctx context.Context) error {
			return l.layer.DelegatePermission(ctx, domain.PermissionRequest{
				Permission:  permission,
				Record:      betLoc,
				Payer:       caller,
				Authority:   caller,
				SignerSeeds: locator.WithBump(seeds, bet.Bump),
				Validator:   validator,
			})
		},
	})
	if err != nil {
		return common.Hash{}, err
	}
	l.logger.InfoContext(ctx, "bet permission delegated",
		slog.String("bet", betLoc.Hex()),
		slog.String("permission", permission.Hex()),
	)
	return permission, nil
}

// UndelegatePool commits the pool's state from the execution layer and makes
// the primary ledger authoritative again.
func (l *Ledger) UndelegatePool(ctx context.Context, caller common.Address, poolLoc common.Hash) error {
	err := l.undelegate(ctx, commitBack{
		op:    "undelegate pool",
		payer: caller,
		collect: func(tx domain.LedgerTx, _ *outbox) ([]domain.RecordRef, error) {
			proto, err := tx.Protocol(ctx)
			if err != nil {
				return nil, err
			}
			if err := requireAdmin(proto, caller); err != nil {
				return nil, err
			}
			if _, err := tx.Pool(ctx, poolLoc); err != nil {
				return nil, err
			}
			d, err := tx.Delegation(ctx, poolLoc)
			if err != nil {
				return nil, err
			}
			if !d.IsDelegated() {
				return nil, fmt.Errorf("%w: pool %s", domain.ErrNotDelegated, poolLoc.Hex())
			}
			return []domain.RecordRef{{Location: poolLoc, Kind: domain.KindPool}}, nil
		},
		restored: func(out *outbox, _ []domain.RecordRef) {
			out.add(domain.EventPoolUndelegated, domain.PoolUndelegated{PoolAddress: poolLoc})
		},
	})
	if err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "pool undelegated", slog.String("pool", poolLoc.Hex()))
	return nil
}

// BatchUndelegateBets flushes the given wagers of an ended pool back to the
// primary ledger in a single commit request. A wager's permission record, if
// delegated, travels with it. The caller chooses the records; an empty list
// succeeds without contacting the execution layer.
func (l *Ledger) BatchUndelegateBets(ctx context.Context, payer common.Address, poolLoc common.Hash, records []common.Hash) error {
	var owner map[common.Hash]common.Hash // ref -> listed wager
	err := l.undelegate(ctx, commitBack{
		op:    "batch undelegate bets",
		payer: payer,
		collect: func(tx domain.LedgerTx, out *outbox) ([]domain.RecordRef, error) {
			pool, err := tx.Pool(ctx, poolLoc)
			if err != nil {
				return nil, err
			}
			if !pool.Ended(out.at) {
				return nil, fmt.Errorf("%w: pool ends at %s", domain.ErrTooEarly, pool.EndTime.Format(time.RFC3339))
			}

			refs := make([]domain.RecordRef, 0, len(records))
			owner = make(map[common.Hash]common.Hash, 2*len(records))
			seen := make(map[common.Hash]struct{}, len(records))
			for _, loc := range records {
				if _, dup := seen[loc]; dup {
					return nil, fmt.Errorf("%w: %s listed twice", domain.ErrInvalidArgument, loc.Hex())
				}
				seen[loc] = struct{}{}
				bet, err := tx.Bet(ctx, loc)
				if err != nil {
					return nil, err
				}
				if bet.Pool != poolLoc {
					return nil, fmt.Errorf("%w: bet %s belongs to %s", domain.ErrPoolMismatch, loc.Hex(), bet.Pool.Hex())
				}
				perm, err := permissionOf(loc)
				if err != nil {
					return nil, err
				}

				n := len(refs)
				for _, ref := range []domain.RecordRef{
					{Location: loc, Kind: domain.KindBet},
					{Location: perm, Kind: domain.KindPermission},
				} {
					d, err := tx.Delegation(ctx, ref.Location)
					if err != nil {
						return nil, err
					}
					if d.IsDelegated() {
						refs = append(refs, ref)
						owner[ref.Location] = loc
					}
				}
				if len(refs) == n {
					return nil, fmt.Errorf("%w: bet %s", domain.ErrNotDelegated, loc.Hex())
				}
			}
			return refs, nil
		},
		restored: func(out *outbox, returned []domain.RecordRef) {
			done := make(map[common.Hash]bool, len(returned))
			for _, ref := range returned {
				done[owner[ref.Location]] = true
			}
			for _, loc := range records {
				if done[loc] {
					out.add(domain.EventBetUndelegated, domain.BetUndelegated{
						BetAddress: loc,
						IsBatch:    true,
					})
				}
			}
		},
	})
	if err != nil {
		return err
	}
	if len(records) > 0 {
		l.logger.InfoContext(ctx, "bets undelegated",
			slog.String("pool", poolLoc.Hex()),
			slog.Int("count", len(records)),
		)
	}
	return nil
}

// handOff describes one record moving to the execution layer.
type handOff struct {
	op        string
	tag       domain.Delegation
	check     func(tx domain.LedgerTx) error
	call      func(ctx context.Context) error
	confirmed func(out *outbox)
}

func (l *Ledger) delegate(ctx context.Context, h handOff) error {
	err := l.commit(ctx, h.op, func(tx domain.LedgerTx, out *outbox) error {
		if err := h.check(tx); err != nil {
			return err
		}
		d, err := tx.Delegation(ctx, h.tag.Record)
		if err != nil {
			return err
		}
		if d.IsDelegated() && d.State != domain.Delegating {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyDelegated, h.tag.Record.Hex())
		}
		return tx.PutDelegation(ctx, h.tag.With(domain.Delegating, out.at))
	})
	if err != nil {
		return err
	}

	callErr := h.call(ctx)
	settle := context.WithoutCancel(ctx)
	switch {
	case callErr == nil, errors.Is(callErr, domain.ErrAlreadyDelegated):
		// An already-delegated answer means an earlier attempt reached the
		// layer and this one confirms it.
		return l.commit(settle, h.op, func(tx domain.LedgerTx, out *outbox) error {
			if err := tx.PutDelegation(settle, h.tag.With(domain.Delegated, out.at)); err != nil {
				return err
			}
			if h.confirmed != nil {
				h.confirmed(out)
			}
			return nil
		})
	case refused(callErr):
		if err := l.commit(settle, h.op, func(tx domain.LedgerTx, out *outbox) error {
			return tx.PutDelegation(settle, domain.Delegation{
				Record: h.tag.Record, Kind: h.tag.Kind, State: domain.Resident, UpdatedAt: out.at,
			})
		}); err != nil {
			l.logger.ErrorContext(ctx, "restore residency after refused delegation",
				slog.String("record", h.tag.Record.Hex()),
				slog.String("error", err.Error()),
			)
		}
	default:
		l.logger.WarnContext(ctx, "delegation left pending",
			slog.String("record", h.tag.Record.Hex()),
			slog.String("error", callErr.Error()),
		)
	}
	return fmt.Errorf("ledger: %s: %w", h.op, callErr)
}

// refused reports whether the layer answered and turned the request down, as
// opposed to failing in a way that leaves its state unknown.
func refused(err error) bool {
	return errors.Is(err, domain.ErrUnauthorized) ||
		errors.Is(err, domain.ErrRateLimited) ||
		errors.Is(err, domain.ErrInvalidArgument)
}

// commitBack describes records returning from the execution layer. collect
// validates and lists the refs; an empty list ends the operation.
type commitBack struct {
	op       string
	payer    common.Address
	collect  func(tx domain.LedgerTx, out *outbox) ([]domain.RecordRef, error)
	restored func(out *outbox, returned []domain.RecordRef)
}

func (l *Ledger) undelegate(ctx context.Context, c commitBack) error {
	var refs []domain.RecordRef
	err := l.commit(ctx, c.op, func(tx domain.LedgerTx, out *outbox) error {
		var err error
		refs, err = c.collect(tx, out)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			d, err := tx.Delegation(ctx, ref.Location)
			if err != nil {
				return err
			}
			d.Record, d.Kind = ref.Location, ref.Kind
			if err := tx.PutDelegation(ctx, d.With(domain.Undelegating, out.at)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil || len(refs) == 0 {
		return err
	}

	committed, returned, callErr := l.returnRecords(ctx, c.payer, refs)
	if len(returned) > 0 {
		settle := context.WithoutCancel(ctx)
		var rejected []rejection
		err := l.commit(settle, c.op, func(tx domain.LedgerTx, out *outbox) error {
			var err error
			rejected, err = applyCommitted(settle, tx, returned, committed)
			if err != nil {
				return err
			}
			if err := markResident(settle, tx, returned, out); err != nil {
				return err
			}
			c.restored(out, returned)
			return nil
		})
		if err != nil {
			return err
		}
		for _, r := range rejected {
			l.logger.ErrorContext(ctx, "discarded committed state from execution layer",
				slog.String("record", r.location.Hex()),
				slog.String("reason", r.reason),
			)
		}
	}
	if callErr != nil {
		l.logger.WarnContext(ctx, "undelegation left pending",
			slog.Int("records", len(refs)-len(returned)),
			slog.String("error", callErr.Error()),
		)
		return fmt.Errorf("ledger: %s: %w", c.op, callErr)
	}
	return nil
}

// returnRecords asks the layer to commit refs back and reports which of them
// are no longer held there. A layer that disowns a record it was asked for
// already released it on an earlier attempt; a batch containing one is split
// so the other records are still committed.
func (l *Ledger) returnRecords(ctx context.Context, payer common.Address, refs []domain.RecordRef) ([]domain.CommittedRecord, []domain.RecordRef, error) {
	committed, err := l.layer.CommitAndUndelegate(ctx, payer, refs)
	switch {
	case err == nil:
		return committed, refs, nil
	case !errors.Is(err, domain.ErrNotDelegated):
		return nil, nil, err
	case len(refs) == 1:
		l.logger.WarnContext(ctx, "execution layer no longer holds record",
			slog.String("record", refs[0].Location.Hex()),
		)
		return nil, refs, nil
	}

	var returned []domain.RecordRef
	for _, ref := range refs {
		c, r, err := l.returnRecords(ctx, payer, []domain.RecordRef{ref})
		committed = append(committed, c...)
		returned = append(returned, r...)
		if err != nil {
			return committed, returned, err
		}
	}
	return committed, returned, nil
}

// ownedBet loads the wager at betLoc and checks, in order, that caller owns
// it, that it belongs to poolLoc, and that (pool, caller, requestID)
// reproduces its location. It returns the wager's seeds without the bump.
func ownedBet(ctx context.Context, tx domain.LedgerTx, caller common.Address, poolLoc, betLoc common.Hash, requestID string) (domain.Bet, [][]byte, error) {
	bet, err := tx.Bet(ctx, betLoc)
	if err != nil {
		return domain.Bet{}, nil, err
	}
	if bet.Owner != caller {
		return domain.Bet{}, nil, fmt.Errorf("%w: bet %s is not owned by %s", domain.ErrUnauthorized, betLoc.Hex(), caller.Hex())
	}
	if bet.Pool != poolLoc {
		return domain.Bet{}, nil, fmt.Errorf("%w: bet %s belongs to %s", domain.ErrPoolMismatch, betLoc.Hex(), bet.Pool.Hex())
	}
	seeds, err := locator.BetSeeds(poolLoc, caller, requestID)
	if err != nil {
		return domain.Bet{}, nil, err
	}
	if !locator.Verify(seeds, bet.Bump, betLoc) {
		return domain.Bet{}, nil, fmt.Errorf("%w: bet %s", domain.ErrSeedMismatch, betLoc.Hex())
	}
	return bet, seeds, nil
}

func permissionOf(bet common.Hash) (common.Hash, error) {
	loc, _, err := locator.FindLocation(locator.PermissionSeeds(bet))
	return loc, err
}

func markResident(ctx context.Context, tx domain.LedgerTx, refs []domain.RecordRef, out *outbox) error {
	for _, ref := range refs {
		if err := tx.PutDelegation(ctx, domain.Delegation{
			Record: ref.Location, Kind: ref.Kind, State: domain.Resident, UpdatedAt: out.at,
		}); err != nil {
			return err
		}
	}
	return nil
}

type rejection struct {
	location common.Hash
	reason   string
}

// applyCommitted merges state returned by the execution layer into the
// primary records. The layer may only change the fields it is responsible
// for while it owns a record: resolution and weight on pools, scoring fields
// on wagers. Identity and escrow fields are kept from the primary copy.
// State that fails these checks is not applied and is returned as rejected;
// the record still comes back under the primary ledger.
func applyCommitted(ctx context.Context, tx domain.LedgerTx, refs []domain.RecordRef, committed []domain.CommittedRecord) ([]rejection, error) {
	requested := make(map[common.Hash]domain.RecordKind, len(refs))
	for _, ref := range refs {
		requested[ref.Location] = ref.Kind
	}
	var rejected []rejection
	reject := func(loc common.Hash, format string, args ...any) {
		rejected = append(rejected, rejection{location: loc, reason: fmt.Sprintf(format, args...)})
	}

	for _, rec := range committed {
		kind, ok := requested[rec.Location]
		if !ok {
			reject(rec.Location, "not requested")
			continue
		}
		switch {
		case rec.Pool != nil:
			if kind != domain.KindPool {
				reject(rec.Location, "pool state for a %s", kind)
				continue
			}
			cur, err := tx.Pool(ctx, rec.Location)
			if err != nil {
				return nil, err
			}
			next := *rec.Pool
			if next.Location != cur.Location || next.Admin != cur.Admin || next.PoolID != cur.PoolID || next.Bump != cur.Bump {
				reject(rec.Location, "pool identity changed")
				continue
			}
			if next.IsResolved && !cur.IsResolved {
				cur.WeightFinalized = false
			}
			cur.TotalWeight = next.TotalWeight
			cur.IsResolved = next.IsResolved
			cur.ResolutionTarget = next.ResolutionTarget
			cur.ResolutionTs = next.ResolutionTs
			if err := tx.UpdatePool(ctx, cur); err != nil {
				return nil, err
			}
		case rec.Bet != nil:
			if kind != domain.KindBet {
				reject(rec.Location, "bet state for a %s", kind)
				continue
			}
			cur, err := tx.Bet(ctx, rec.Location)
			if err != nil {
				return nil, err
			}
			next := *rec.Bet
			if next.Location != cur.Location || next.Owner != cur.Owner || next.Pool != cur.Pool ||
				next.RequestID != cur.RequestID || next.Bump != cur.Bump {
				reject(rec.Location, "bet identity changed")
				continue
			}
			cur.UpdateCount = next.UpdateCount
			cur.CalculatedWeight = next.CalculatedWeight
			cur.IsWeightAdded = next.IsWeightAdded
			if next.Status != "" {
				cur.Status = next.Status
			}
			cur.Prediction = next.Prediction
			if err := tx.UpdateBet(ctx, cur); err != nil {
				return nil, err
			}
		}
	}
	return rejected, nil
}
