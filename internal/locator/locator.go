// Package locator derives record locations from stable seeds. A location is a
// Keccak-256 hash that is deliberately not an x coordinate on secp256k1, so
// no private key can sign for it; the record acts through its seeds instead.
// Any client holding the seeds reproduces the location bit for bit.
package locator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

const (
	// MaxSeeds bounds the number of seeds, including the bump.
	MaxSeeds = 16
	// MaxSeedLen bounds the length of one seed.
	MaxSeedLen = 32
)

var domainTag = []byte("wagerledger/location")

// Discriminators for each record type.
var (
	SeedProtocol   = []byte("protocol")
	SeedPool       = []byte("pool")
	SeedPoolVault  = []byte("pool_vault")
	SeedBet        = []byte("bet")
	SeedPermission = []byte("permission")
	SeedWallet     = []byte("wallet")
)

var errOnCurve = fmt.Errorf("%w: location is on curve", domain.ErrInvalidSeed)

// CreateLocation hashes seeds (the last one normally being the bump) into a
// location. It fails if the result is a valid public key coordinate.
func CreateLocation(seeds [][]byte) (common.Hash, error) {
	if len(seeds) > MaxSeeds {
		return common.Hash{}, fmt.Errorf("%w: %d seeds exceeds %d", domain.ErrInvalidSeed, len(seeds), MaxSeeds)
	}
	buf := make([]byte, 0, len(domainTag)+len(seeds)*(MaxSeedLen+1))
	buf = append(buf, domainTag...)
	for i, s := range seeds {
		if len(s) > MaxSeedLen {
			return common.Hash{}, fmt.Errorf("%w: seed %d is %d bytes", domain.ErrInvalidSeed, i, len(s))
		}
		buf = append(buf, byte(len(s)))
		buf = append(buf, s...)
	}
	h := crypto.Keccak256Hash(buf)
	if onCurve(h) {
		return common.Hash{}, errOnCurve
	}
	return h, nil
}

// FindLocation searches bumps from 255 down and returns the first location
// off the curve together with the bump that produced it.
func FindLocation(seeds [][]byte) (common.Hash, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return common.Hash{}, 0, fmt.Errorf("%w: %d seeds leaves no room for a bump", domain.ErrInvalidSeed, len(seeds))
	}
	for b := 255; b >= 0; b-- {
		bump := uint8(b)
		loc, err := CreateLocation(WithBump(seeds, bump))
		if err == errOnCurve {
			continue
		}
		if err != nil {
			return common.Hash{}, 0, err
		}
		return loc, bump, nil
	}
	return common.Hash{}, 0, fmt.Errorf("%w: no viable bump", domain.ErrInvalidSeed)
}

// Verify reports whether seeds plus bump reproduce loc.
func Verify(seeds [][]byte, bump uint8, loc common.Hash) bool {
	got, err := CreateLocation(WithBump(seeds, bump))
	return err == nil && got == loc
}

// WithBump returns a copy of seeds with bump appended.
func WithBump(seeds [][]byte, bump uint8) [][]byte {
	out := make([][]byte, len(seeds), len(seeds)+1)
	copy(out, seeds)
	return append(out, []byte{bump})
}

func onCurve(h common.Hash) bool {
	compressed := make([]byte, 0, 33)
	compressed = append(compressed, 0x02)
	compressed = append(compressed, h.Bytes()...)
	_, err := crypto.DecompressPubkey(compressed)
	return err == nil
}
