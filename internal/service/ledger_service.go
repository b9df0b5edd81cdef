package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/wagerledger/internal/blob/s3"
	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/ledger"
	"github.com/alanyoungcy/wagerledger/internal/locator"
)

// LedgerService fronts the ledger for the HTTP surface. Writes go through the
// core; pool reads are served cache-through and every pool mutation
// invalidates the cached copy.
type LedgerService struct {
	core    *ledger.Ledger
	reader  domain.LedgerReader
	cache   domain.PoolCache
	reports domain.BlobReader
	logger  *slog.Logger
}

// NewLedgerService creates a LedgerService. cache and reports may be nil.
func NewLedgerService(
	core *ledger.Ledger,
	reader domain.LedgerReader,
	cache domain.PoolCache,
	reports domain.BlobReader,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		core:    core,
		reader:  reader,
		cache:   cache,
		reports: reports,
		logger:  logger.With(slog.String("component", "ledger_service")),
	}
}

// ---------------------------------------------------------------------------
// Protocol
// ---------------------------------------------------------------------------

func (s *LedgerService) Protocol(ctx context.Context) (domain.Protocol, error) {
	return s.reader.GetProtocol(ctx)
}

func (s *LedgerService) InitializeProtocol(ctx context.Context, caller, treasury common.Address, feeRateBps uint64) (domain.Protocol, error) {
	return s.core.InitializeProtocol(ctx, caller, treasury, feeRateBps)
}

func (s *LedgerService) SetPause(ctx context.Context, caller common.Address, paused bool) (domain.Protocol, error) {
	if err := s.core.SetPause(ctx, caller, paused); err != nil {
		return domain.Protocol{}, err
	}
	return s.reader.GetProtocol(ctx)
}

func (s *LedgerService) TransferAdmin(ctx context.Context, caller, newAdmin common.Address) (domain.Protocol, error) {
	if err := s.core.TransferAdmin(ctx, caller, newAdmin); err != nil {
		return domain.Protocol{}, err
	}
	return s.reader.GetProtocol(ctx)
}

func (s *LedgerService) UpdateConfig(ctx context.Context, caller common.Address, upd domain.ConfigUpdate) (domain.Protocol, error) {
	return s.core.UpdateConfig(ctx, caller, upd)
}

// ---------------------------------------------------------------------------
// Pools
// ---------------------------------------------------------------------------

// Pool returns a pool, preferring the cache.
func (s *LedgerService) Pool(ctx context.Context, loc common.Hash) (domain.Pool, error) {
	if s.cache != nil {
		p, err := s.cache.Get(ctx, loc)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "pool cache get failed",
				slog.String("pool", loc.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	p, err := s.reader.GetPool(ctx, loc)
	if err != nil {
		return domain.Pool{}, err
	}
	s.fill(ctx, p)
	return p, nil
}

func (s *LedgerService) ListPools(ctx context.Context, opts domain.ListOpts) ([]domain.Pool, error) {
	return s.reader.ListPools(ctx, opts)
}

func (s *LedgerService) CreatePool(ctx context.Context, caller common.Address, np domain.NewPool) (domain.Pool, error) {
	p, err := s.core.CreatePool(ctx, caller, np)
	if err != nil {
		return domain.Pool{}, err
	}
	s.fill(ctx, p)
	return p, nil
}

func (s *LedgerService) ResolvePool(ctx context.Context, caller common.Address, pool common.Hash, outcome uint64) (domain.Pool, error) {
	p, err := s.core.ResolvePool(ctx, caller, pool, outcome)
	if err != nil {
		return domain.Pool{}, err
	}
	s.fill(ctx, p)
	return p, nil
}

func (s *LedgerService) FinalizeWeights(ctx context.Context, caller common.Address, pool common.Hash) (domain.Settlement, error) {
	defer s.invalidate(ctx, pool)
	return s.core.FinalizeWeights(ctx, caller, pool)
}

// Settlements lists the archived settlement reports of a pool.
func (s *LedgerService) Settlements(ctx context.Context, pool common.Hash) ([]domain.BlobInfo, error) {
	if s.reports == nil {
		return []domain.BlobInfo{}, nil
	}
	infos, err := s.reports.List(ctx, s3blob.SettlementPrefix(pool))
	if err != nil {
		return nil, fmt.Errorf("ledger_service: list settlements: %w", err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })
	return infos, nil
}

// ---------------------------------------------------------------------------
// Bets
// ---------------------------------------------------------------------------

func (s *LedgerService) Bet(ctx context.Context, loc common.Hash) (domain.Bet, error) {
	return s.reader.GetBet(ctx, loc)
}

func (s *LedgerService) ListBets(ctx context.Context, pool common.Hash, opts domain.ListOpts) ([]domain.Bet, error) {
	return s.reader.ListBetsByPool(ctx, pool, opts)
}

func (s *LedgerService) PlaceBet(ctx context.Context, caller common.Address, pool common.Hash, amount uint64, requestID string) (domain.Bet, error) {
	defer s.invalidate(ctx, pool)
	return s.core.PlaceBet(ctx, caller, pool, amount, requestID)
}

// ---------------------------------------------------------------------------
// Delegation
// ---------------------------------------------------------------------------

func (s *LedgerService) Delegation(ctx context.Context, loc common.Hash) (domain.Delegation, error) {
	return s.reader.GetDelegation(ctx, loc)
}

func (s *LedgerService) DelegatedBets(ctx context.Context, pool common.Hash) ([]domain.Bet, error) {
	return s.reader.ListDelegatedBets(ctx, pool)
}

func (s *LedgerService) DelegatePool(ctx context.Context, caller common.Address, pool common.Hash, validator common.Address) error {
	defer s.invalidate(ctx, pool)
	return s.core.DelegatePool(ctx, caller, pool, validator)
}

func (s *LedgerService) UndelegatePool(ctx context.Context, caller common.Address, pool common.Hash) error {
	defer s.invalidate(ctx, pool)
	return s.core.UndelegatePool(ctx, caller, pool)
}

func (s *LedgerService) DelegateBet(ctx context.Context, caller common.Address, pool, bet common.Hash, requestID string, validator common.Address) error {
	return s.core.DelegateBet(ctx, caller, pool, bet, requestID, validator)
}

func (s *LedgerService) DelegateBetPermission(ctx context.Context, caller common.Address, pool, bet common.Hash, requestID string, validator common.Address) (common.Hash, error) {
	return s.core.DelegateBetPermission(ctx, caller, pool, bet, requestID, validator)
}

func (s *LedgerService) BatchUndelegateBets(ctx context.Context, payer common.Address, pool common.Hash, bets []common.Hash) error {
	defer s.invalidate(ctx, pool)
	return s.core.BatchUndelegateBets(ctx, payer, pool, bets)
}

// ---------------------------------------------------------------------------
// Addressing
// ---------------------------------------------------------------------------

// Location is a derived record address with its bump.
type Location struct {
	Location common.Hash `json:"location"`
	Bump     uint8       `json:"bump"`
}

// LocatePool derives the location of pool id created by admin.
func (s *LedgerService) LocatePool(admin common.Address, id uint64) (Location, error) {
	loc, bump, err := locator.FindLocation(locator.PoolSeeds(admin, id))
	if err != nil {
		return Location{}, err
	}
	return Location{Location: loc, Bump: bump}, nil
}

// LocateBet derives the location of owner's wager with requestID in pool.
func (s *LedgerService) LocateBet(pool common.Hash, owner common.Address, requestID string) (Location, error) {
	seeds, err := locator.BetSeeds(pool, owner, requestID)
	if err != nil {
		return Location{}, err
	}
	loc, bump, err := locator.FindLocation(seeds)
	if err != nil {
		return Location{}, err
	}
	return Location{Location: loc, Bump: bump}, nil
}

// ---------------------------------------------------------------------------
// cache helpers
// ---------------------------------------------------------------------------

func (s *LedgerService) fill(ctx context.Context, p domain.Pool) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, p); err != nil {
		s.logger.WarnContext(ctx, "pool cache set failed",
			slog.String("pool", p.Location.Hex()),
			slog.String("error", err.Error()),
		)
	}
}

// invalidate drops the cached pool; the cache expires on its own if this
// fails.
func (s *LedgerService) invalidate(ctx context.Context, pool common.Hash) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, pool); err != nil {
		s.logger.WarnContext(ctx, "pool cache invalidate failed",
			slog.String("pool", pool.Hex()),
			slog.String("error", err.Error()),
		)
	}
}
