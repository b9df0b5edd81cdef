// Package ledger implements the wagering core: protocol configuration, pool
// and wager lifecycles, delegation of records to the execution layer, and fee
// settlement. Every operation runs as one store transaction; preconditions
// are checked before any write, and events are published only after the
// transaction commits.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math/bits"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// Ledger is the entry point for all state-changing operations.
type Ledger struct {
	store  domain.LedgerStore
	layer  domain.ExecutionLayer
	events domain.EventPublisher
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Ledger. events may be nil, in which case events are dropped.
func New(
	store domain.LedgerStore,
	layer domain.ExecutionLayer,
	events domain.EventPublisher,
	logger *slog.Logger,
) *Ledger {
	if events == nil {
		events = discard{}
	}
	return &Ledger{
		store:  store,
		layer:  layer,
		events: events,
		now:    time.Now,
		logger: logger.With(slog.String("component", "ledger")),
	}
}

// WithClock replaces the time source and returns the Ledger for chaining.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// outbox collects the events of one operation until it commits.
type outbox struct {
	at     time.Time
	events []domain.Event
}

func (o *outbox) add(kind domain.EventKind, payload any) {
	o.events = append(o.events, domain.Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		At:      o.at,
		Payload: payload,
	})
}

// commit runs fn in a transaction stamped with a single clock reading and
// publishes the collected events once the transaction has committed.
func (l *Ledger) commit(ctx context.Context, op string, fn func(tx domain.LedgerTx, out *outbox) error) error {
	out := &outbox{at: l.now().UTC()}
	err := l.store.InTx(ctx, func(tx domain.LedgerTx) error {
		out.events = out.events[:0]
		return fn(tx, out)
	})
	if err != nil {
		return fmt.Errorf("ledger: %s: %w", op, err)
	}
	if len(out.events) > 0 {
		l.events.Publish(ctx, out.events...)
	}
	return nil
}

func requireAdmin(p domain.Protocol, caller common.Address) error {
	if caller != p.Admin {
		return fmt.Errorf("%w: %s is not the protocol admin", domain.ErrUnauthorized, caller.Hex())
	}
	return nil
}

func checkedAdd(a, b uint64, what string) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %s", domain.ErrArithmeticOverflow, what)
	}
	return sum, nil
}

// requireResident fails when the execution layer currently owns loc.
func requireResident(ctx context.Context, tx domain.LedgerTx, loc common.Hash) error {
	d, err := tx.Delegation(ctx, loc)
	if err != nil {
		return err
	}
	if d.IsDelegated() {
		return fmt.Errorf("%w: %s", domain.ErrRecordDelegated, loc.Hex())
	}
	return nil
}

type discard struct{}

func (discard) Publish(context.Context, ...domain.Event) {}
