// Package memory is an in-process ledger store. Each transaction works on a
// private copy of the state that replaces the committed state only when the
// transaction function succeeds, so failed operations leave nothing behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/locator"
)

type state struct {
	protocol    *domain.Protocol
	pools       map[common.Hash]domain.Pool
	bets        map[common.Hash]domain.Bet
	delegations map[common.Hash]domain.Delegation
	accounts    map[common.Hash]domain.TokenAccount
}

func newState() *state {
	return &state{
		pools:       make(map[common.Hash]domain.Pool),
		bets:        make(map[common.Hash]domain.Bet),
		delegations: make(map[common.Hash]domain.Delegation),
		accounts:    make(map[common.Hash]domain.TokenAccount),
	}
}

func (s *state) clone() *state {
	out := &state{
		pools:       make(map[common.Hash]domain.Pool, len(s.pools)),
		bets:        make(map[common.Hash]domain.Bet, len(s.bets)),
		delegations: make(map[common.Hash]domain.Delegation, len(s.delegations)),
		accounts:    make(map[common.Hash]domain.TokenAccount, len(s.accounts)),
	}
	if s.protocol != nil {
		p := *s.protocol
		out.protocol = &p
	}
	for k, v := range s.pools {
		out.pools[k] = v
	}
	for k, v := range s.bets {
		out.bets[k] = v
	}
	for k, v := range s.delegations {
		out.delegations[k] = v
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	return out
}

// Store implements domain.LedgerStore and domain.LedgerReader in memory.
// Transactions are serialized.
type Store struct {
	mu sync.RWMutex
	st *state
}

// Compile-time interface checks.
var (
	_ domain.LedgerStore  = (*Store)(nil)
	_ domain.LedgerReader = (*Store)(nil)
	_ domain.LedgerTx     = (*tx)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// InTx runs fn against a copy of the state and commits the copy if fn
// returns nil.
func (s *Store) InTx(ctx context.Context, fn func(domain.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

// Fund credits owner's wallet for asset, opening it if needed. It is used to
// seed balances in development mode and tests.
func (s *Store) Fund(asset, owner common.Address, amount uint64) (common.Hash, error) {
	loc, err := locator.Wallet(asset, owner)
	if err != nil {
		return common.Hash{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.st.accounts[loc]
	if !ok {
		acct = domain.TokenAccount{Location: loc, Asset: asset, Owner: owner}
	}
	if acct.Balance+amount < acct.Balance {
		return common.Hash{}, fmt.Errorf("memory: fund: %w", domain.ErrArithmeticOverflow)
	}
	acct.Balance += amount
	s.st.accounts[loc] = acct
	return loc, nil
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

func (s *Store) GetProtocol(_ context.Context) (domain.Protocol, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.st.protocol == nil {
		return domain.Protocol{}, domain.ErrNotInitialized
	}
	return *s.st.protocol, nil
}

func (s *Store) GetPool(_ context.Context, loc common.Hash) (domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.st.pools[loc]
	if !ok {
		return domain.Pool{}, fmt.Errorf("memory: pool %s: %w", loc.Hex(), domain.ErrNotFound)
	}
	return p, nil
}

func (s *Store) GetBet(_ context.Context, loc common.Hash) (domain.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.st.bets[loc]
	if !ok {
		return domain.Bet{}, fmt.Errorf("memory: bet %s: %w", loc.Hex(), domain.ErrNotFound)
	}
	return b, nil
}

func (s *Store) GetDelegation(_ context.Context, loc common.Hash) (domain.Delegation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return delegationOf(s.st, loc), nil
}

func (s *Store) GetAccount(_ context.Context, loc common.Hash) (domain.TokenAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.st.accounts[loc]
	if !ok {
		return domain.TokenAccount{}, fmt.Errorf("memory: account %s: %w", loc.Hex(), domain.ErrNotFound)
	}
	return a, nil
}

func (s *Store) ListPools(_ context.Context, opts domain.ListOpts) ([]domain.Pool, error) {
	s.mu.RLock()
	out := make([]domain.Pool, 0, len(s.st.pools))
	for _, p := range s.st.pools {
		if opts.Since != nil && p.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && !p.CreatedAt.Before(*opts.Until) {
			continue
		}
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Location.Hex() < out[j].Location.Hex()
	})
	return page(out, opts), nil
}

func (s *Store) ListBetsByPool(_ context.Context, pool common.Hash, opts domain.ListOpts) ([]domain.Bet, error) {
	s.mu.RLock()
	var out []domain.Bet
	for _, b := range s.st.bets {
		if b.Pool == pool {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()

	sortBets(out)
	return page(out, opts), nil
}

func (s *Store) ListDelegatedBets(_ context.Context, pool common.Hash) ([]domain.Bet, error) {
	s.mu.RLock()
	var out []domain.Bet
	for _, b := range s.st.bets {
		if b.Pool == pool && delegationOf(s.st, b.Location).IsDelegated() {
			out = append(out, b)
		}
	}
	s.mu.RUnlock()

	sortBets(out)
	return out, nil
}

func (s *Store) ListPoolsToSweep(_ context.Context, cutoff time.Time) ([]domain.Pool, error) {
	s.mu.RLock()
	var out []domain.Pool
	for _, p := range s.st.pools {
		if !p.EndTime.After(cutoff) && !p.WeightFinalized {
			out = append(out, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].EndTime.Before(out[j].EndTime) })
	return out, nil
}

func sortBets(bets []domain.Bet) {
	sort.Slice(bets, func(i, j int) bool {
		if !bets[i].CreationTs.Equal(bets[j].CreationTs) {
			return bets[i].CreationTs.Before(bets[j].CreationTs)
		}
		return bets[i].Location.Hex() < bets[j].Location.Hex()
	})
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func delegationOf(st *state, loc common.Hash) domain.Delegation {
	if d, ok := st.delegations[loc]; ok {
		return d
	}
	return domain.Delegation{Record: loc, State: domain.Resident}
}
