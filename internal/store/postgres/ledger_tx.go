package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/locator"
)

type ledgerTx struct {
	tx pgx.Tx
}

func (t *ledgerTx) Protocol(ctx context.Context) (domain.Protocol, error) {
	return readProtocol(ctx, t.tx, true)
}

func (t *ledgerTx) InsertProtocol(ctx context.Context, p domain.Protocol) error {
	const query = `
		INSERT INTO protocol (id, location, bump, admin, treasury, fee_rate_bps, paused,
			total_users, total_pools, batch_wait_ms, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10)
		ON CONFLICT DO NOTHING`
	tag, err := t.tx.Exec(ctx, query,
		p.Location.Hex(), int16(p.Bump), p.Admin.Hex(), p.Treasury.Hex(), int32(p.FeeRateBps), p.Paused,
		num(p.TotalUsers), num(p.TotalPools), p.BatchWaitDuration.Milliseconds(), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert protocol: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: insert protocol: %w", domain.ErrDuplicateRecord)
	}
	return nil
}

func (t *ledgerTx) UpdateProtocol(ctx context.Context, p domain.Protocol) error {
	const query = `
		UPDATE protocol SET admin = $1, treasury = $2, fee_rate_bps = $3, paused = $4,
			total_users = $5::numeric, total_pools = $6::numeric, batch_wait_ms = $7, updated_at = $8
		WHERE id = 1`
	tag, err := t.tx.Exec(ctx, query,
		p.Admin.Hex(), p.Treasury.Hex(), int32(p.FeeRateBps), p.Paused,
		num(p.TotalUsers), num(p.TotalPools), p.BatchWaitDuration.Milliseconds(), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: update protocol: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotInitialized
	}
	return nil
}

func (t *ledgerTx) Pool(ctx context.Context, loc common.Hash) (domain.Pool, error) {
	return readPool(ctx, t.tx, loc, true)
}

func (t *ledgerTx) InsertPool(ctx context.Context, p domain.Pool) error {
	const query = `
		INSERT INTO pools (location, bump, admin, pool_id, name, metadata, asset, vault,
			start_time, end_time, vault_balance, total_participants, max_accuracy_buffer,
			conviction_bonus_bps, total_weight, weight_finalized, is_resolved,
			resolution_target, resolution_ts, created_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11::numeric, $12::numeric,
			$13::numeric, $14::numeric, $15::numeric, $16, $17, $18::numeric, $19, $20)
		ON CONFLICT DO NOTHING`
	tag, err := t.tx.Exec(ctx, query,
		p.Location.Hex(), int16(p.Bump), p.Admin.Hex(), num(p.PoolID), p.Name, p.Metadata,
		p.Asset.Hex(), p.Vault.Hex(), p.StartTime, p.EndTime,
		num(p.VaultBalance), num(p.TotalParticipants), num(p.MaxAccuracyBuffer),
		num(p.ConvictionBonusBps), num(p.TotalWeight), p.WeightFinalized, p.IsResolved,
		num(p.ResolutionTarget), nullTime(p.ResolutionTs), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: insert pool %s: %w", p.Location.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: insert pool %s: %w", p.Location.Hex(), domain.ErrDuplicateRecord)
	}
	return nil
}

// UpdatePool writes the mutable pool fields. Identity, asset and window are
// fixed at creation.
func (t *ledgerTx) UpdatePool(ctx context.Context, p domain.Pool) error {
	const query = `
		UPDATE pools SET
			vault_balance = $2::numeric,
			total_participants = $3::numeric,
			total_weight = $4::numeric,
			weight_finalized = $5,
			is_resolved = $6,
			resolution_target = $7::numeric,
			resolution_ts = $8
		WHERE location = $1`
	tag, err := t.tx.Exec(ctx, query,
		p.Location.Hex(), num(p.VaultBalance), num(p.TotalParticipants), num(p.TotalWeight),
		p.WeightFinalized, p.IsResolved, num(p.ResolutionTarget), nullTime(p.ResolutionTs))
	if err != nil {
		return fmt.Errorf("postgres: update pool %s: %w", p.Location.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update pool %s: %w", p.Location.Hex(), domain.ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) Bet(ctx context.Context, loc common.Hash) (domain.Bet, error) {
	return readBet(ctx, t.tx, loc, true)
}

func (t *ledgerTx) InsertBet(ctx context.Context, b domain.Bet) error {
	const query = `
		INSERT INTO bets (location, bump, owner, pool, request_id, deposit, end_timestamp,
			creation_ts, update_count, calculated_weight, is_weight_added, status, prediction)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8, $9, $10::numeric, $11, $12, $13::numeric)
		ON CONFLICT DO NOTHING`
	tag, err := t.tx.Exec(ctx, query,
		b.Location.Hex(), int16(b.Bump), b.Owner.Hex(), b.Pool.Hex(), b.RequestID,
		num(b.Deposit), b.EndTimestamp, b.CreationTs, int64(b.UpdateCount),
		num(b.CalculatedWeight), b.IsWeightAdded, string(b.Status), num(b.Prediction))
	if err != nil {
		return fmt.Errorf("postgres: insert bet %s: %w", b.Location.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: insert bet %s: %w", b.Location.Hex(), domain.ErrDuplicateRecord)
	}
	return nil
}

func (t *ledgerTx) UpdateBet(ctx context.Context, b domain.Bet) error {
	const query = `
		UPDATE bets SET
			update_count = $2,
			calculated_weight = $3::numeric,
			is_weight_added = $4,
			status = $5,
			prediction = $6::numeric
		WHERE location = $1`
	tag, err := t.tx.Exec(ctx, query,
		b.Location.Hex(), int64(b.UpdateCount), num(b.CalculatedWeight), b.IsWeightAdded,
		string(b.Status), num(b.Prediction))
	if err != nil {
		return fmt.Errorf("postgres: update bet %s: %w", b.Location.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update bet %s: %w", b.Location.Hex(), domain.ErrNotFound)
	}
	return nil
}

func (t *ledgerTx) Delegation(ctx context.Context, loc common.Hash) (domain.Delegation, error) {
	return readDelegation(ctx, t.tx, loc, true)
}

func (t *ledgerTx) PutDelegation(ctx context.Context, d domain.Delegation) error {
	const query = `
		INSERT INTO delegations (record, kind, state, validator, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (record) DO UPDATE SET
			kind = EXCLUDED.kind,
			state = EXCLUDED.state,
			validator = EXCLUDED.validator,
			updated_at = EXCLUDED.updated_at`
	if _, err := t.tx.Exec(ctx, query,
		d.Record.Hex(), string(d.Kind), string(d.State), d.Validator.Hex(), d.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: put delegation %s: %w", d.Record.Hex(), err)
	}
	return nil
}

func (t *ledgerTx) Account(ctx context.Context, loc common.Hash) (domain.TokenAccount, error) {
	a, err := scanAccount(t.tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM token_accounts WHERE location = $1 FOR UPDATE`, loc.Hex()))
	if err != nil {
		return domain.TokenAccount{}, notFound(err, "account", loc)
	}
	return a, nil
}

func (t *ledgerTx) OpenAccount(ctx context.Context, a domain.TokenAccount) error {
	const query = `
		INSERT INTO token_accounts (location, asset, owner, authority, balance)
		VALUES ($1, $2, $3, $4, $5::numeric)
		ON CONFLICT DO NOTHING`
	tag, err := t.tx.Exec(ctx, query,
		a.Location.Hex(), a.Asset.Hex(), a.Owner.Hex(), a.Authority.Hex(), num(a.Balance))
	if err != nil {
		return fmt.Errorf("postgres: open account %s: %w", a.Location.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: open account %s: %w", a.Location.Hex(), domain.ErrDuplicateRecord)
	}
	return nil
}

// Transfer locks both accounts in location order before planning the move.
func (t *ledgerTx) Transfer(ctx context.Context, req domain.TransferRequest) error {
	rows, err := t.tx.Query(ctx,
		`SELECT `+accountColumns+` FROM token_accounts WHERE location = ANY($1) ORDER BY location FOR UPDATE`,
		[]string{req.From.Hex(), req.To.Hex()})
	if err != nil {
		return fmt.Errorf("postgres: transfer: %w", err)
	}
	locked := make(map[common.Hash]domain.TokenAccount, 2)
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			rows.Close()
			return fmt.Errorf("postgres: transfer: scan account: %w", err)
		}
		locked[a.Location] = a
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("postgres: transfer: %w", err)
	}

	from, ok := locked[req.From]
	if !ok {
		return fmt.Errorf("postgres: transfer: source %s: %w", req.From.Hex(), domain.ErrTransferFailed)
	}
	var to *domain.TokenAccount
	if a, ok := locked[req.To]; ok {
		to = &a
	}
	var signerLoc common.Hash
	if len(req.SignerSeeds) > 0 {
		loc, err := locator.CreateLocation(req.SignerSeeds)
		if err != nil {
			return fmt.Errorf("postgres: transfer: %w: %v", domain.ErrTransferFailed, err)
		}
		signerLoc = loc
	}

	src, dst, err := domain.PlanTransfer(req, from, to, signerLoc)
	if err != nil {
		return fmt.Errorf("postgres: transfer: %w", err)
	}
	if err := t.setBalance(ctx, src); err != nil {
		return err
	}
	return t.setBalance(ctx, dst)
}

// setBalance writes a's balance, opening the account if it does not exist.
func (t *ledgerTx) setBalance(ctx context.Context, a domain.TokenAccount) error {
	const query = `
		INSERT INTO token_accounts (location, asset, owner, authority, balance)
		VALUES ($1, $2, $3, $4, $5::numeric)
		ON CONFLICT (location) DO UPDATE SET balance = EXCLUDED.balance`
	if _, err := t.tx.Exec(ctx, query,
		a.Location.Hex(), a.Asset.Hex(), a.Owner.Hex(), a.Authority.Hex(), num(a.Balance)); err != nil {
		return fmt.Errorf("postgres: set balance %s: %w", a.Location.Hex(), err)
	}
	return nil
}

func (t *ledgerTx) fund(ctx context.Context, asset, owner common.Address, amount uint64) (common.Hash, error) {
	loc, err := locator.Wallet(asset, owner)
	if err != nil {
		return common.Hash{}, err
	}
	acct, err := t.Account(ctx, loc)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		acct = domain.TokenAccount{Location: loc, Asset: asset, Owner: owner}
	case err != nil:
		return common.Hash{}, err
	}
	if acct.Balance+amount < acct.Balance {
		return common.Hash{}, fmt.Errorf("postgres: fund: %w", domain.ErrArithmeticOverflow)
	}
	acct.Balance += amount
	return loc, t.setBalance(ctx, acct)
}
