package domain

import (
	"context"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"
)

// TokenAccount holds a balance of one asset. User wallets are controlled by
// Owner; vaults have a zero Owner and are controlled by the record at
// Authority, which signs with its seeds.
type TokenAccount struct {
	Location  common.Hash    `json:"location"`
	Asset     common.Address `json:"asset"`
	Owner     common.Address `json:"owner"`
	Authority common.Hash    `json:"authority"`
	Balance   uint64         `json:"balance"`
}

// TransferRequest moves Amount from From to To. Either Signer must own From,
// or SignerSeeds must reproduce From's Authority. A missing destination is
// opened for ToOwner.
type TransferRequest struct {
	Asset       common.Address
	From        common.Hash
	To          common.Hash
	ToOwner     common.Address
	Signer      common.Address
	SignerSeeds [][]byte
	Amount      uint64
}

// ValueTransfer is the escrow primitive.
type ValueTransfer interface {
	Transfer(ctx context.Context, req TransferRequest) error
}

// CanDebit reports whether a transfer signed by signer, or by the record at
// signerLocation, may debit the account.
func (a TokenAccount) CanDebit(signer common.Address, signerLocation common.Hash) bool {
	if a.Authority != (common.Hash{}) {
		return signerLocation == a.Authority
	}
	return signer != (common.Address{}) && signer == a.Owner
}

// PlanTransfer validates req against the current source and destination
// accounts and returns their balances after the move. to is nil when the
// destination does not exist yet. signerLocation is the location reproduced
// by req.SignerSeeds, or the zero hash when none were given.
func PlanTransfer(req TransferRequest, from TokenAccount, to *TokenAccount, signerLocation common.Hash) (TokenAccount, TokenAccount, error) {
	if req.Amount == 0 {
		return from, TokenAccount{}, fmt.Errorf("%w: zero amount", ErrTransferFailed)
	}
	if req.From == req.To {
		return from, TokenAccount{}, fmt.Errorf("%w: source equals destination", ErrTransferFailed)
	}
	if from.Asset != req.Asset {
		return from, TokenAccount{}, fmt.Errorf("%w: source holds %s, not %s", ErrTransferFailed, from.Asset.Hex(), req.Asset.Hex())
	}
	if !from.CanDebit(req.Signer, signerLocation) {
		return from, TokenAccount{}, fmt.Errorf("%w: signer may not debit %s", ErrTransferFailed, from.Location.Hex())
	}
	if from.Balance < req.Amount {
		return from, TokenAccount{}, fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, from.Balance, req.Amount)
	}

	var dst TokenAccount
	if to != nil {
		dst = *to
	} else {
		if req.ToOwner == (common.Address{}) {
			return from, TokenAccount{}, fmt.Errorf("%w: destination %s does not exist", ErrTransferFailed, req.To.Hex())
		}
		dst = TokenAccount{Location: req.To, Asset: req.Asset, Owner: req.ToOwner}
	}
	if dst.Asset != req.Asset {
		return from, TokenAccount{}, fmt.Errorf("%w: destination holds %s, not %s", ErrTransferFailed, dst.Asset.Hex(), req.Asset.Hex())
	}
	sum, carry := bits.Add64(dst.Balance, req.Amount, 0)
	if carry != 0 {
		return from, TokenAccount{}, fmt.Errorf("%w: destination balance", ErrArithmeticOverflow)
	}
	from.Balance -= req.Amount
	dst.Balance = sum
	return from, dst, nil
}
