package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/ledger"
)

// SweeperConfig controls the settlement sweeper.
type SweeperConfig struct {
	Interval  time.Duration
	LockTTL   time.Duration
	BatchSize int
	Archive   bool
}

// Sweeper brings ended pools home: it flushes delegated wagers back from the
// execution layer, undelegates the pool, and finalizes resolved pools once
// the protocol's batch wait has passed after the pool's end.
type Sweeper struct {
	core     *ledger.Ledger
	reader   domain.LedgerReader
	locks    domain.LockManager
	archiver domain.SettlementArchiver
	operator common.Address
	cfg      SweeperConfig
	now      func() time.Time
	logger   *slog.Logger
}

// NewSweeper creates a Sweeper acting as operator. archiver may be nil.
func NewSweeper(
	core *ledger.Ledger,
	reader domain.LedgerReader,
	locks domain.LockManager,
	archiver domain.SettlementArchiver,
	operator common.Address,
	cfg SweeperConfig,
	logger *slog.Logger,
) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	return &Sweeper{
		core:     core,
		reader:   reader,
		locks:    locks,
		archiver: archiver,
		operator: operator,
		cfg:      cfg,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// WithClock replaces the time source.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now
	return s
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.String("operator", s.operator.Hex()),
	)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce processes every pool that is due and returns how many it
// finalized. Per-pool failures are logged and do not stop the pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	proto, err := s.reader.GetProtocol(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotInitialized) {
			return 0, nil
		}
		return 0, fmt.Errorf("sweeper: protocol: %w", err)
	}

	cutoff := s.now().Add(-proto.BatchWaitDuration)
	pools, err := s.reader.ListPoolsToSweep(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweeper: list pools: %w", err)
	}

	finalized := 0
	for _, p := range pools {
		if ctx.Err() != nil {
			return finalized, ctx.Err()
		}
		done, err := s.sweepPool(ctx, proto, p.Location)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			s.logger.DebugContext(ctx, "pool locked elsewhere", slog.String("pool", p.Location.Hex()))
		case err != nil:
			s.logger.WarnContext(ctx, "pool sweep failed",
				slog.String("pool", p.Location.Hex()),
				slog.String("error", err.Error()),
			)
		case done:
			finalized++
		}
	}
	return finalized, nil
}

func (s *Sweeper) sweepPool(ctx context.Context, proto domain.Protocol, loc common.Hash) (bool, error) {
	unlock, err := s.locks.Acquire(ctx, "sweep:"+loc.Hex(), s.cfg.LockTTL)
	if err != nil {
		return false, err
	}
	defer unlock()

	if err := s.flushBets(ctx, loc); err != nil {
		return false, err
	}

	d, err := s.reader.GetDelegation(ctx, loc)
	if err != nil {
		return false, err
	}
	if d.IsDelegated() {
		if s.operator != proto.Admin {
			// Only the admin can bring the pool back; nothing else can run.
			return false, nil
		}
		if err := s.core.UndelegatePool(ctx, s.operator, loc); err != nil {
			return false, err
		}
	}

	pool, err := s.reader.GetPool(ctx, loc)
	if err != nil {
		return false, err
	}
	if !pool.IsResolved || pool.WeightFinalized {
		return false, nil
	}

	settlement, err := s.core.FinalizeWeights(ctx, s.operator, loc)
	if err != nil {
		return false, err
	}
	s.archive(ctx, settlement)
	return true, nil
}

// flushBets undelegates the pool's delegated wagers in batches.
func (s *Sweeper) flushBets(ctx context.Context, pool common.Hash) error {
	bets, err := s.reader.ListDelegatedBets(ctx, pool)
	if err != nil {
		return err
	}
	for start := 0; start < len(bets); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(bets))
		locs := make([]common.Hash, 0, end-start)
		for _, b := range bets[start:end] {
			locs = append(locs, b.Location)
		}
		if err := s.core.BatchUndelegateBets(ctx, s.operator, pool, locs); err != nil {
			return fmt.Errorf("flush bets %d-%d: %w", start, end, err)
		}
	}
	return nil
}

func (s *Sweeper) archive(ctx context.Context, st domain.Settlement) {
	if !s.cfg.Archive || s.archiver == nil {
		return
	}
	bets, err := s.reader.ListBetsByPool(ctx, st.Pool, domain.ListOpts{})
	if err != nil {
		s.logger.WarnContext(ctx, "list bets for archive", slog.String("pool", st.Pool.Hex()), slog.String("error", err.Error()))
		return
	}
	path, err := s.archiver.ArchiveSettlement(ctx, st, bets)
	if err != nil {
		s.logger.WarnContext(ctx, "archive settlement", slog.String("pool", st.Pool.Hex()), slog.String("error", err.Error()))
		return
	}
	s.logger.InfoContext(ctx, "settlement archived",
		slog.String("pool", st.Pool.Hex()),
		slog.String("path", path),
		slog.Int("bets", len(bets)),
	)
}
