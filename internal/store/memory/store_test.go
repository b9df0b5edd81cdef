package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/locator"
)

var (
	asset = common.HexToAddress("0x0000000000000000000000000000000000000a55")
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	pool := domain.Pool{Location: common.HexToHash("0x01"), Name: "p"}

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx domain.LedgerTx) error {
		if err := tx.InsertPool(ctx, pool); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v, want boom", err)
	}
	if _, err := s.GetPool(ctx, pool.Location); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("pool visible after rollback: %v", err)
	}

	if err := s.InTx(ctx, func(tx domain.LedgerTx) error { return tx.InsertPool(ctx, pool) }); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err = s.InTx(ctx, func(tx domain.LedgerTx) error { return tx.InsertPool(ctx, pool) })
	if !errors.Is(err, domain.ErrDuplicateRecord) {
		t.Fatalf("second insert err = %v, want ErrDuplicateRecord", err)
	}
}

func TestTransferAuthority(t *testing.T) {
	ctx := context.Background()
	s := New()
	aliceWallet, err := s.Fund(asset, alice, 100)
	if err != nil {
		t.Fatalf("Fund: %v", err)
	}
	bobWallet, err := locator.Wallet(asset, bob)
	if err != nil {
		t.Fatalf("Wallet: %v", err)
	}

	tests := []struct {
		name    string
		signer  common.Address
		amount  uint64
		wantErr error
	}{
		{"wrong signer", bob, 10, domain.ErrTransferFailed},
		{"zero amount", alice, 0, domain.ErrTransferFailed},
		{"insufficient", alice, 101, domain.ErrInsufficientFunds},
		{"ok", alice, 40, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.InTx(ctx, func(tx domain.LedgerTx) error {
				return tx.Transfer(ctx, domain.TransferRequest{
					Asset:   asset,
					From:    aliceWallet,
					To:      bobWallet,
					ToOwner: bob,
					Signer:  tt.signer,
					Amount:  tt.amount,
				})
			})
			if !errors.Is(err, tt.wantErr) && !(tt.wantErr == nil && err == nil) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}

	a, _ := s.GetAccount(ctx, aliceWallet)
	b, _ := s.GetAccount(ctx, bobWallet)
	if a.Balance != 60 || b.Balance != 40 {
		t.Fatalf("balances = %d/%d, want 60/40", a.Balance, b.Balance)
	}
}

func TestTransferFromVaultNeedsSeeds(t *testing.T) {
	ctx := context.Background()
	s := New()
	poolSeeds := locator.PoolSeeds(alice, 1)
	poolLoc, bump, err := locator.FindLocation(poolSeeds)
	if err != nil {
		t.Fatalf("FindLocation: %v", err)
	}
	vault := common.HexToHash("0xfeed")
	bobWallet, _ := locator.Wallet(asset, bob)

	err = s.InTx(ctx, func(tx domain.LedgerTx) error {
		return tx.OpenAccount(ctx, domain.TokenAccount{Location: vault, Asset: asset, Authority: poolLoc, Balance: 50})
	})
	if err != nil {
		t.Fatalf("OpenAccount: %v", err)
	}

	move := func(seeds [][]byte) error {
		return s.InTx(ctx, func(tx domain.LedgerTx) error {
			return tx.Transfer(ctx, domain.TransferRequest{
				Asset: asset, From: vault, To: bobWallet, ToOwner: bob,
				Signer: alice, SignerSeeds: seeds, Amount: 5,
			})
		})
	}
	if err := move(nil); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("owner signature on vault: err = %v, want ErrTransferFailed", err)
	}
	if err := move(locator.WithBump(locator.PoolSeeds(alice, 2), bump)); !errors.Is(err, domain.ErrTransferFailed) {
		t.Fatalf("wrong seeds: err = %v, want ErrTransferFailed", err)
	}
	if err := move(locator.WithBump(poolSeeds, bump)); err != nil {
		t.Fatalf("pool seeds: %v", err)
	}
}

func TestListPoolsToSweep(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Unix(1_000, 0)
	pools := []domain.Pool{
		{Location: common.HexToHash("0x01"), EndTime: base.Add(-time.Minute)},
		{Location: common.HexToHash("0x02"), EndTime: base.Add(time.Minute)},
		{Location: common.HexToHash("0x03"), EndTime: base.Add(-time.Hour), WeightFinalized: true},
		{Location: common.HexToHash("0x04"), EndTime: base},
	}
	err := s.InTx(ctx, func(tx domain.LedgerTx) error {
		for _, p := range pools {
			if err := tx.InsertPool(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	got, err := s.ListPoolsToSweep(ctx, base)
	if err != nil {
		t.Fatalf("ListPoolsToSweep: %v", err)
	}
	if len(got) != 2 || got[0].Location != pools[0].Location || got[1].Location != pools[3].Location {
		t.Fatalf("ListPoolsToSweep = %+v", got)
	}
}
