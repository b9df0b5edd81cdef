package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// LedgerStore implements domain.LedgerStore and domain.LedgerReader using
// PostgreSQL. Transactions run at READ COMMITTED and lock every record they
// read, so concurrent operations on the same pool serialize on its row.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// Compile-time interface checks.
var (
	_ domain.LedgerStore  = (*LedgerStore)(nil)
	_ domain.LedgerReader = (*LedgerStore)(nil)
	_ domain.LedgerTx     = (*ledgerTx)(nil)
)

// NewLedgerStore creates a new LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// InTx runs fn in a database transaction, committing only if fn returns nil.
func (s *LedgerStore) InTx(ctx context.Context, fn func(domain.LedgerTx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&ledgerTx{tx: tx})
	})
}

// Fund credits owner's wallet for asset, opening it if needed.
func (s *LedgerStore) Fund(ctx context.Context, asset, owner common.Address, amount uint64) (common.Hash, error) {
	var loc common.Hash
	err := s.InTx(ctx, func(tx domain.LedgerTx) error {
		var err error
		loc, err = tx.(*ledgerTx).fund(ctx, asset, owner, amount)
		return err
	})
	return loc, err
}

func (s *LedgerStore) GetProtocol(ctx context.Context) (domain.Protocol, error) {
	return readProtocol(ctx, s.pool, false)
}

func (s *LedgerStore) GetPool(ctx context.Context, loc common.Hash) (domain.Pool, error) {
	return readPool(ctx, s.pool, loc, false)
}

func (s *LedgerStore) GetBet(ctx context.Context, loc common.Hash) (domain.Bet, error) {
	return readBet(ctx, s.pool, loc, false)
}

func (s *LedgerStore) GetDelegation(ctx context.Context, loc common.Hash) (domain.Delegation, error) {
	return readDelegation(ctx, s.pool, loc, false)
}

func (s *LedgerStore) GetAccount(ctx context.Context, loc common.Hash) (domain.TokenAccount, error) {
	return readAccount(ctx, s.pool, loc)
}

// ListPools returns pools newest first, filtered on creation time.
func (s *LedgerStore) ListPools(ctx context.Context, opts domain.ListOpts) ([]domain.Pool, error) {
	var w where
	if opts.Since != nil {
		w.add("created_at >= ?", *opts.Since)
	}
	if opts.Until != nil {
		w.add("created_at < ?", *opts.Until)
	}
	query := `SELECT ` + poolColumns + ` FROM pools` + w.sql() +
		` ORDER BY created_at DESC, location` + w.page(opts)
	return collectPools(s.pool.Query(ctx, query, w.args...))
}

// ListBetsByPool returns a pool's bets in placement order.
func (s *LedgerStore) ListBetsByPool(ctx context.Context, pool common.Hash, opts domain.ListOpts) ([]domain.Bet, error) {
	var w where
	w.add("b.pool = ?", pool.Hex())
	query := `SELECT ` + betColumns + ` FROM bets b` + w.sql() +
		` ORDER BY b.creation_ts, b.location` + w.page(opts)
	return collectBets(s.pool.Query(ctx, query, w.args...))
}

// ListDelegatedBets returns the pool's bets the execution layer owns or is
// handing back.
func (s *LedgerStore) ListDelegatedBets(ctx context.Context, pool common.Hash) ([]domain.Bet, error) {
	query := `SELECT ` + betColumns + `
		FROM bets b
		JOIN delegations d ON d.record = b.location
		WHERE b.pool = $1 AND d.state <> $2
		ORDER BY b.creation_ts, b.location`
	return collectBets(s.pool.Query(ctx, query, pool.Hex(), string(domain.Resident)))
}

// ListPoolsToSweep returns unfinalized pools that ended at or before cutoff,
// oldest first.
func (s *LedgerStore) ListPoolsToSweep(ctx context.Context, cutoff time.Time) ([]domain.Pool, error) {
	query := `SELECT ` + poolColumns + `
		FROM pools
		WHERE NOT weight_finalized AND end_time <= $1
		ORDER BY end_time`
	return collectPools(s.pool.Query(ctx, query, cutoff))
}

// where accumulates AND-ed predicates written with ? placeholders.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(replaceMark(clause), len(w.args)))
}

func (w *where) sql() string {
	out := ""
	for i, c := range w.clauses {
		if i == 0 {
			out += " WHERE " + c
		} else {
			out += " AND " + c
		}
	}
	return out
}

func (w *where) page(opts domain.ListOpts) string {
	out := ""
	if opts.Limit > 0 {
		w.args = append(w.args, opts.Limit)
		out += fmt.Sprintf(" LIMIT $%d", len(w.args))
	}
	if opts.Offset > 0 {
		w.args = append(w.args, opts.Offset)
		out += fmt.Sprintf(" OFFSET $%d", len(w.args))
	}
	return out
}

func replaceMark(clause string) string {
	for i := 0; i < len(clause); i++ {
		if clause[i] == '?' {
			return clause[:i] + "$%d" + clause[i+1:]
		}
	}
	return clause
}
