package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerTx is the unit of work a ledger operation runs in. Reads observe the
// latest committed state plus the transaction's own writes; nothing is
// visible to other transactions until the enclosing InTx returns nil.
type LedgerTx interface {
	ValueTransfer

	// Protocol returns ErrNotInitialized when the singleton does not exist.
	Protocol(ctx context.Context) (Protocol, error)
	InsertProtocol(ctx context.Context, p Protocol) error
	UpdateProtocol(ctx context.Context, p Protocol) error

	Pool(ctx context.Context, loc common.Hash) (Pool, error)
	InsertPool(ctx context.Context, p Pool) error
	UpdatePool(ctx context.Context, p Pool) error

	Bet(ctx context.Context, loc common.Hash) (Bet, error)
	InsertBet(ctx context.Context, b Bet) error
	UpdateBet(ctx context.Context, b Bet) error

	// Delegation returns a resident tag when none has been stored.
	Delegation(ctx context.Context, loc common.Hash) (Delegation, error)
	PutDelegation(ctx context.Context, d Delegation) error

	Account(ctx context.Context, loc common.Hash) (TokenAccount, error)
	OpenAccount(ctx context.Context, a TokenAccount) error
}

// LedgerStore runs fn atomically. If fn returns an error every write made
// through tx is discarded. Insert methods report ErrDuplicateRecord when the
// location is taken.
type LedgerStore interface {
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
}

// LedgerReader serves committed state to queries outside a transaction.
type LedgerReader interface {
	GetProtocol(ctx context.Context) (Protocol, error)
	GetPool(ctx context.Context, loc common.Hash) (Pool, error)
	GetBet(ctx context.Context, loc common.Hash) (Bet, error)
	GetDelegation(ctx context.Context, loc common.Hash) (Delegation, error)
	GetAccount(ctx context.Context, loc common.Hash) (TokenAccount, error)
	ListPools(ctx context.Context, opts ListOpts) ([]Pool, error)
	ListBetsByPool(ctx context.Context, pool common.Hash, opts ListOpts) ([]Bet, error)
	ListDelegatedBets(ctx context.Context, pool common.Hash) ([]Bet, error)
	// ListPoolsToSweep returns pools that ended at or before cutoff and are
	// not yet finalized.
	ListPoolsToSweep(ctx context.Context, cutoff time.Time) ([]Pool, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
