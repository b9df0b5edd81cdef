package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Pool is a time-bounded wagering market with an escrow vault. Admin and
// PoolID are the pool's unique key and the seeds of its location.
type Pool struct {
	Location common.Hash    `json:"location"`
	Bump     uint8          `json:"bump"`
	Admin    common.Address `json:"admin"`
	PoolID   uint64         `json:"pool_id"`
	Name     string         `json:"name"`
	Metadata *string        `json:"metadata,omitempty"`
	Asset    common.Address `json:"asset"`
	Vault    common.Hash    `json:"vault"`

	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	VaultBalance      uint64 `json:"vault_balance"`
	TotalParticipants uint64 `json:"total_participants"`

	MaxAccuracyBuffer  uint64 `json:"max_accuracy_buffer"`
	ConvictionBonusBps uint64 `json:"conviction_bonus_bps"`

	TotalWeight     uint64 `json:"total_weight"`
	WeightFinalized bool   `json:"weight_finalized"`

	IsResolved       bool      `json:"is_resolved"`
	ResolutionTarget uint64    `json:"resolution_target"`
	ResolutionTs     time.Time `json:"resolution_ts"`

	CreatedAt time.Time `json:"created_at"`
}

// Open reports whether bets are accepted at t: StartTime <= t < EndTime.
func (p Pool) Open(t time.Time) bool {
	return !t.Before(p.StartTime) && t.Before(p.EndTime)
}

// Ended reports whether t is at or after EndTime.
func (p Pool) Ended(t time.Time) bool {
	return !t.Before(p.EndTime)
}

// NewPool holds the caller-supplied parameters of CreatePool.
type NewPool struct {
	PoolID             uint64         `json:"pool_id"`
	Name               string         `json:"name"`
	Metadata           *string        `json:"metadata,omitempty"`
	Asset              common.Address `json:"asset"`
	StartTime          time.Time      `json:"start_time"`
	EndTime            time.Time      `json:"end_time"`
	MaxAccuracyBuffer  uint64         `json:"max_accuracy_buffer"`
	ConvictionBonusBps uint64         `json:"conviction_bonus_bps"`
}
