package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// Row readers shared by the transaction and the committed-state reader. When
// lock is set the row is read FOR UPDATE.

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

func notFound(err error, what string, loc common.Hash) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("postgres: %s %s: %w", what, loc.Hex(), domain.ErrNotFound)
	}
	return fmt.Errorf("postgres: %s %s: %w", what, loc.Hex(), err)
}

// ---------------------------------------------------------------------------
// Protocol
// ---------------------------------------------------------------------------

const protocolColumns = `location, bump, admin, treasury, fee_rate_bps, paused,
	total_users::text, total_pools::text, batch_wait_ms, updated_at`

func readProtocol(ctx context.Context, q querier, lock bool) (domain.Protocol, error) {
	var (
		p                    domain.Protocol
		loc, admin, treasury string
		bump                 int16
		fee                  int32
		users, pools         string
		waitMS               int64
	)
	err := q.QueryRow(ctx, `SELECT `+protocolColumns+` FROM protocol WHERE id = 1`+forUpdate(lock)).
		Scan(&loc, &bump, &admin, &treasury, &fee, &p.Paused, &users, &pools, &waitMS, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Protocol{}, domain.ErrNotInitialized
	}
	if err != nil {
		return domain.Protocol{}, fmt.Errorf("postgres: protocol: %w", err)
	}

	var d decoder
	p.Location = d.hash(loc)
	p.Bump = uint8(bump)
	p.Admin = d.addr(admin)
	p.Treasury = d.addr(treasury)
	p.FeeRateBps = uint64(fee)
	p.TotalUsers = d.u64(users)
	p.TotalPools = d.u64(pools)
	p.BatchWaitDuration = time.Duration(waitMS) * time.Millisecond
	return p, d.err
}

// ---------------------------------------------------------------------------
// Pool
// ---------------------------------------------------------------------------

const poolColumns = `location, bump, admin, pool_id::text, name, metadata, asset, vault,
	start_time, end_time, vault_balance::text, total_participants::text,
	max_accuracy_buffer::text, conviction_bonus_bps::text, total_weight::text,
	weight_finalized, is_resolved, resolution_target::text, resolution_ts, created_at`

func scanPool(row pgx.Row) (domain.Pool, error) {
	var (
		p                                     domain.Pool
		loc, admin, asset, vault              string
		bump                                  int16
		poolID, balance, participants, buffer string
		bonus, weight, target                 string
		resolvedAt                            *time.Time
	)
	if err := row.Scan(&loc, &bump, &admin, &poolID, &p.Name, &p.Metadata, &asset, &vault,
		&p.StartTime, &p.EndTime, &balance, &participants,
		&buffer, &bonus, &weight,
		&p.WeightFinalized, &p.IsResolved, &target, &resolvedAt, &p.CreatedAt); err != nil {
		return domain.Pool{}, err
	}

	var d decoder
	p.Location = d.hash(loc)
	p.Bump = uint8(bump)
	p.Admin = d.addr(admin)
	p.PoolID = d.u64(poolID)
	p.Asset = d.addr(asset)
	p.Vault = d.hash(vault)
	p.VaultBalance = d.u64(balance)
	p.TotalParticipants = d.u64(participants)
	p.MaxAccuracyBuffer = d.u64(buffer)
	p.ConvictionBonusBps = d.u64(bonus)
	p.TotalWeight = d.u64(weight)
	p.ResolutionTarget = d.u64(target)
	if resolvedAt != nil {
		p.ResolutionTs = *resolvedAt
	}
	return p, d.err
}

func readPool(ctx context.Context, q querier, loc common.Hash, lock bool) (domain.Pool, error) {
	p, err := scanPool(q.QueryRow(ctx,
		`SELECT `+poolColumns+` FROM pools WHERE location = $1`+forUpdate(lock), loc.Hex()))
	if err != nil {
		return domain.Pool{}, notFound(err, "pool", loc)
	}
	return p, nil
}

func collectPools(rows pgx.Rows, err error) ([]domain.Pool, error) {
	if err != nil {
		return nil, fmt.Errorf("postgres: list pools: %w", err)
	}
	defer rows.Close()

	var out []domain.Pool
	for rows.Next() {
		p, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pool: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pools rows: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Bet
// ---------------------------------------------------------------------------

const betColumns = `b.location, b.bump, b.owner, b.pool, b.request_id, b.deposit::text,
	b.end_timestamp, b.creation_ts, b.update_count, b.calculated_weight::text,
	b.is_weight_added, b.status, b.prediction::text`

func scanBet(row pgx.Row) (domain.Bet, error) {
	var (
		b                          domain.Bet
		loc, owner, pool, status   string
		bump                       int16
		deposit, weight, predicted string
		updates                    int64
	)
	if err := row.Scan(&loc, &bump, &owner, &pool, &b.RequestID, &deposit,
		&b.EndTimestamp, &b.CreationTs, &updates, &weight,
		&b.IsWeightAdded, &status, &predicted); err != nil {
		return domain.Bet{}, err
	}

	var d decoder
	b.Location = d.hash(loc)
	b.Bump = uint8(bump)
	b.Owner = d.addr(owner)
	b.Pool = d.hash(pool)
	b.Deposit = d.u64(deposit)
	b.UpdateCount = uint32(updates)
	b.CalculatedWeight = d.u64(weight)
	b.Status = domain.BetStatus(status)
	b.Prediction = d.u64(predicted)
	return b, d.err
}

func readBet(ctx context.Context, q querier, loc common.Hash, lock bool) (domain.Bet, error) {
	b, err := scanBet(q.QueryRow(ctx,
		`SELECT `+betColumns+` FROM bets b WHERE b.location = $1`+forUpdate(lock), loc.Hex()))
	if err != nil {
		return domain.Bet{}, notFound(err, "bet", loc)
	}
	return b, nil
}

func collectBets(rows pgx.Rows, err error) ([]domain.Bet, error) {
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets: %w", err)
	}
	defer rows.Close()

	var out []domain.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list bets rows: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Delegation
// ---------------------------------------------------------------------------

func readDelegation(ctx context.Context, q querier, loc common.Hash, lock bool) (domain.Delegation, error) {
	var kind, state, validator string
	d := domain.Delegation{Record: loc}
	err := q.QueryRow(ctx,
		`SELECT kind, state, validator, updated_at FROM delegations WHERE record = $1`+forUpdate(lock),
		loc.Hex()).Scan(&kind, &state, &validator, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Delegation{Record: loc, State: domain.Resident}, nil
	}
	if err != nil {
		return domain.Delegation{}, fmt.Errorf("postgres: delegation %s: %w", loc.Hex(), err)
	}

	var dec decoder
	d.Kind = domain.RecordKind(kind)
	d.State = domain.Residency(state)
	d.Validator = dec.addr(validator)
	return d, dec.err
}

// ---------------------------------------------------------------------------
// Token account
// ---------------------------------------------------------------------------

const accountColumns = `location, asset, owner, authority, balance::text`

func scanAccount(row pgx.Row) (domain.TokenAccount, error) {
	var (
		a                                domain.TokenAccount
		loc, asset, owner, auth, balance string
	)
	if err := row.Scan(&loc, &asset, &owner, &auth, &balance); err != nil {
		return domain.TokenAccount{}, err
	}
	var d decoder
	a.Location = d.hash(loc)
	a.Asset = d.addr(asset)
	a.Owner = d.addr(owner)
	a.Authority = d.hash(auth)
	a.Balance = d.u64(balance)
	return a, d.err
}

func readAccount(ctx context.Context, q querier, loc common.Hash) (domain.TokenAccount, error) {
	a, err := scanAccount(q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM token_accounts WHERE location = $1`, loc.Hex()))
	if err != nil {
		return domain.TokenAccount{}, notFound(err, "account", loc)
	}
	return a, nil
}
