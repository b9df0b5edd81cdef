package domain

import (
	"context"
	"io"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Settlement summarizes one FinalizeWeights run.
type Settlement struct {
	Pool           common.Hash    `json:"pool"`
	PoolName       string         `json:"pool_name"`
	Asset          common.Address `json:"asset"`
	Treasury       common.Address `json:"treasury"`
	TreasuryWallet common.Hash    `json:"treasury_wallet"`
	FeeRateBps     uint64         `json:"fee_rate_bps"`
	VaultBefore    uint64         `json:"vault_before"`
	FeeDeducted    uint64         `json:"fee_deducted"`
	Distributable  uint64         `json:"distributable"`
	TotalWeight    uint64         `json:"total_weight"`
	SettledAt      time.Time      `json:"settled_at"`
}

// SettlementArchiver copies a settled pool and its wagers to cold storage and
// returns the report path.
type SettlementArchiver interface {
	ArchiveSettlement(ctx context.Context, s Settlement, bets []Bet) (string, error)
}

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobReader reads objects back from storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}
