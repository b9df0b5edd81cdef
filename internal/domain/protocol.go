package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MaxFeeRateBps is the upper bound for Protocol.FeeRateBps.
const MaxFeeRateBps = 10_000

// DefaultBatchWaitDuration is applied when the protocol is initialized.
const DefaultBatchWaitDuration = 60 * time.Second

// Protocol is the singleton configuration record. It is created once by
// InitializeProtocol and mutated only by the current admin.
type Protocol struct {
	Location          common.Hash    `json:"location"`
	Bump              uint8          `json:"bump"`
	Admin             common.Address `json:"admin"`
	Treasury          common.Address `json:"treasury"`
	FeeRateBps        uint64         `json:"fee_rate_bps"`
	Paused            bool           `json:"paused"`
	TotalUsers        uint64         `json:"total_users"`
	TotalPools        uint64         `json:"total_pools"`
	BatchWaitDuration time.Duration  `json:"batch_wait_duration"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// ConfigUpdate carries the optional fields of an UpdateConfig call. Nil
// fields are left unchanged.
type ConfigUpdate struct {
	Treasury          *common.Address `json:"treasury,omitempty"`
	FeeRateBps        *uint64         `json:"fee_rate_bps,omitempty"`
	BatchWaitDuration *time.Duration  `json:"batch_wait_duration,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u ConfigUpdate) Empty() bool {
	return u.Treasury == nil && u.FeeRateBps == nil && u.BatchWaitDuration == nil
}
