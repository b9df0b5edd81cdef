package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a ledger notification.
type EventKind string

const (
	EventPoolCreated         EventKind = "pool_created"
	EventPoolResolved        EventKind = "pool_resolved"
	EventWeightsFinalized    EventKind = "weights_finalized"
	EventPoolDelegated       EventKind = "pool_delegated"
	EventPoolUndelegated     EventKind = "pool_undelegated"
	EventBetDelegated        EventKind = "bet_delegated"
	EventBetUndelegated      EventKind = "bet_undelegated"
	EventProtocolInitialized EventKind = "protocol_initialized"
	EventPauseChanged        EventKind = "pause_changed"
	EventAdminTransferred    EventKind = "admin_transferred"
	EventConfigUpdated       EventKind = "config_updated"
)

// Event is a fire-and-forget notification emitted after a successful commit.
type Event struct {
	ID      string    `json:"id"`
	Kind    EventKind `json:"kind"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

type PoolCreated struct {
	Pool      common.Hash `json:"pool"`
	PoolName  string      `json:"pool_name"`
	StartTime time.Time   `json:"start_time"`
	EndTime   time.Time   `json:"end_time"`
}

type PoolResolved struct {
	Pool         common.Hash `json:"pool"`
	PoolName     string      `json:"pool_name"`
	FinalOutcome uint64      `json:"final_outcome"`
	ResolutionTs time.Time   `json:"resolution_ts"`
}

type WeightsFinalized struct {
	Pool        common.Hash `json:"pool"`
	PoolName    string      `json:"pool_name"`
	TotalWeight uint64      `json:"total_weight"`
	FeeDeducted uint64      `json:"fee_deducted"`
}

type PoolDelegated struct {
	PoolAddress common.Hash `json:"pool_address"`
}

type PoolUndelegated struct {
	PoolAddress common.Hash `json:"pool_address"`
}

type BetDelegated struct {
	BetAddress common.Hash    `json:"bet_address"`
	User       common.Address `json:"user"`
	RequestID  string         `json:"request_id"`
}

// BetUndelegated.User is the zero address when emitted from a batch flush;
// the owner is not known on that path.
type BetUndelegated struct {
	BetAddress common.Hash    `json:"bet_address"`
	User       common.Address `json:"user"`
	IsBatch    bool           `json:"is_batch"`
}

type ProtocolInitialized struct {
	Admin     common.Address `json:"admin"`
	FeeWallet common.Address `json:"fee_wallet"`
}

type PauseChanged struct {
	IsPaused bool `json:"is_paused"`
}

type AdminTransferred struct {
	OldAdmin common.Address `json:"old_admin"`
	NewAdmin common.Address `json:"new_admin"`
}

type ConfigUpdated struct {
	Treasury          *common.Address `json:"treasury,omitempty"`
	FeeRateBps        *uint64         `json:"fee_rate_bps,omitempty"`
	BatchWaitDuration *time.Duration  `json:"batch_wait_duration,omitempty"`
}

// EventPublisher delivers events. Delivery failures are the publisher's
// concern and never reach the ledger.
type EventPublisher interface {
	Publish(ctx context.Context, events ...Event)
}
