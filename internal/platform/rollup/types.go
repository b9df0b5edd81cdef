package rollup

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// Wire bodies. Seeds travel as 0x-hex.

type delegateBody struct {
	Record    common.Hash       `json:"record"`
	Kind      domain.RecordKind `json:"kind"`
	Payer     common.Address    `json:"payer"`
	Seeds     []hexutil.Bytes   `json:"seeds"`
	Validator common.Address    `json:"validator"`
}

type permissionBody struct {
	Permission  common.Hash     `json:"permission"`
	Record      common.Hash     `json:"record"`
	Payer       common.Address  `json:"payer"`
	Authority   common.Address  `json:"authority"`
	SignerSeeds []hexutil.Bytes `json:"signer_seeds"`
	Validator   common.Address  `json:"validator"`
}

type commitBody struct {
	Payer   common.Address     `json:"payer"`
	Records []domain.RecordRef `json:"records"`
}

type commitResponse struct {
	Records []domain.CommittedRecord `json:"records"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Error codes returned by the layer.
const (
	codeAlreadyDelegated = "already_delegated"
	codeNotDelegated     = "not_delegated"
	codeUnauthorized     = "unauthorized"
)

func hexSeeds(seeds [][]byte) []hexutil.Bytes {
	out := make([]hexutil.Bytes, len(seeds))
	for i, s := range seeds {
		out[i] = hexutil.Bytes(s)
	}
	return out
}

func rawSeeds(seeds []hexutil.Bytes) [][]byte {
	out := make([][]byte, len(seeds))
	for i, s := range seeds {
		out[i] = []byte(s)
	}
	return out
}
