package locator

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

func ProtocolSeeds() [][]byte {
	return [][]byte{SeedProtocol}
}

// PoolSeeds keys a pool by its creator and the creator-scoped sequence
// number, encoded little endian.
func PoolSeeds(admin common.Address, poolID uint64) [][]byte {
	id := make([]byte, 8)
	binary.LittleEndian.PutUint64(id, poolID)
	return [][]byte{SeedPool, admin.Bytes(), id}
}

func VaultSeeds(pool common.Hash) [][]byte {
	return [][]byte{SeedPoolVault, pool.Bytes()}
}

// BetSeeds keys a wager by pool, owner and request id. The request id must
// fit in a single seed.
func BetSeeds(pool common.Hash, owner common.Address, requestID string) ([][]byte, error) {
	if requestID == "" || len(requestID) > MaxSeedLen {
		return nil, fmt.Errorf("%w: request id must be 1-%d bytes", domain.ErrInvalidSeed, MaxSeedLen)
	}
	return [][]byte{SeedBet, pool.Bytes(), owner.Bytes(), []byte(requestID)}, nil
}

func PermissionSeeds(bet common.Hash) [][]byte {
	return [][]byte{SeedPermission, bet.Bytes()}
}

// WalletSeeds keys the token account an owner holds for an asset.
func WalletSeeds(asset, owner common.Address) [][]byte {
	return [][]byte{SeedWallet, asset.Bytes(), owner.Bytes()}
}

// Wallet returns the location of owner's token account for asset.
func Wallet(asset, owner common.Address) (common.Hash, error) {
	loc, _, err := FindLocation(WalletSeeds(asset, owner))
	return loc, err
}
