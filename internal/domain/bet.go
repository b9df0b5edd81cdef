package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BetStatus is the lifecycle state of a wager. The ledger only produces
// BetInitialized; the scoring component advances it.
type BetStatus string

const (
	BetInitialized BetStatus = "initialized"
	BetCalculated  BetStatus = "calculated"
	BetSettled     BetStatus = "settled"
	BetClaimed     BetStatus = "claimed"
)

// Bet is one user's deposit against a pool, keyed by (pool, owner, request id).
type Bet struct {
	Location  common.Hash    `json:"location"`
	Bump      uint8          `json:"bump"`
	Owner     common.Address `json:"owner"`
	Pool      common.Hash    `json:"pool"`
	RequestID string         `json:"request_id"`

	Deposit      uint64    `json:"deposit"`
	EndTimestamp time.Time `json:"end_timestamp"`
	CreationTs   time.Time `json:"creation_ts"`

	UpdateCount      uint32    `json:"update_count"`
	CalculatedWeight uint64    `json:"calculated_weight"`
	IsWeightAdded    bool      `json:"is_weight_added"`
	Status           BetStatus `json:"status"`
	Prediction       uint64    `json:"prediction"`
}
