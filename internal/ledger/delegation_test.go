package ledger

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/locator"
	"github.com/alanyoungcy/wagerledger/internal/platform/rollup"
)

// betsFixture creates a pool over [100, 200) with one bet each from alice and
// bob, placed at t=150.
func betsFixture(t *testing.T) (*fixture, domain.Pool, domain.Bet, domain.Bet) {
	t.Helper()
	f := newFixture(t)
	f.initProtocol(500)
	p := f.createPool(1, 100, 200)
	f.fund(alice, 1_000)
	f.fund(bob, 1_000)
	f.at(150)
	a := f.placeBet(alice, p.Location, 300, "a1")
	b := f.placeBet(bob, p.Location, 200, "b1")
	f.events.reset()
	return f, p, a, b
}

func TestDelegateBetRequiresOwner(t *testing.T) {
	f, p, a, _ := betsFixture(t)
	other := f.createPool(2, 100, 200)

	for _, pool := range []common.Hash{p.Location, other.Location, {}} {
		err := f.ledger.DelegateBet(f.ctx, bob, pool, a.Location, "a1", validator)
		if !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("pool %s: err = %v, want ErrUnauthorized", pool.Hex(), err)
		}
		if _, err := f.ledger.DelegateBetPermission(f.ctx, bob, pool, a.Location, "a1", validator); !errors.Is(err, domain.ErrUnauthorized) {
			t.Fatalf("permission, pool %s: err = %v, want ErrUnauthorized", pool.Hex(), err)
		}
	}
	if len(f.layer.delegated) != 0 || len(f.layer.permissions) != 0 {
		t.Fatalf("execution layer was called")
	}
}

func TestDelegateBetValidation(t *testing.T) {
	f, _, a, _ := betsFixture(t)
	other := f.createPool(2, 100, 200)

	if err := f.ledger.DelegateBet(f.ctx, alice, other.Location, a.Location, "a1", validator); !errors.Is(err, domain.ErrPoolMismatch) {
		t.Fatalf("wrong pool: err = %v, want ErrPoolMismatch", err)
	}
	if err := f.ledger.DelegateBet(f.ctx, alice, a.Pool, a.Location, "a2", validator); !errors.Is(err, domain.ErrSeedMismatch) {
		t.Fatalf("wrong request id: err = %v, want ErrSeedMismatch", err)
	}
	if err := f.ledger.DelegateBet(f.ctx, alice, a.Pool, a.Location, "a1", common.Address{}); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("zero validator: err = %v, want ErrInvalidArgument", err)
	}
	if err := f.ledger.DelegateBet(f.ctx, alice, a.Pool, common.HexToHash("0xdead"), "a1", validator); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown bet: err = %v, want ErrNotFound", err)
	}
	if len(f.layer.delegated) != 0 {
		t.Fatalf("execution layer was called")
	}
}

func TestDelegateBet(t *testing.T) {
	f, p, a, _ := betsFixture(t)

	if err := f.ledger.DelegateBet(f.ctx, alice, p.Location, a.Location, "a1", validator); err != nil {
		t.Fatalf("DelegateBet: %v", err)
	}
	if len(f.layer.delegated) != 1 {
		t.Fatalf("layer calls = %d", len(f.layer.delegated))
	}
	req := f.layer.delegated[0]
	wantSeeds, _ := locator.BetSeeds(p.Location, alice, "a1")
	if req.Record != a.Location || req.Kind != domain.KindBet || req.Validator != validator || req.Payer != alice {
		t.Fatalf("delegate request = %+v", req)
	}
	if !equalSeeds(req.Seeds, wantSeeds) {
		t.Fatalf("seeds = %q, want %q", req.Seeds, wantSeeds)
	}

	d, _ := f.store.GetDelegation(f.ctx, a.Location)
	if !d.IsDelegated() || d.Validator != validator || d.Kind != domain.KindBet {
		t.Fatalf("delegation tag = %+v", d)
	}
	ev, ok := f.events.events[0].Payload.(domain.BetDelegated)
	if !ok || ev.BetAddress != a.Location || ev.User != alice || ev.RequestID != "a1" {
		t.Fatalf("BetDelegated = %+v", f.events.events[0].Payload)
	}

	if err := f.ledger.DelegateBet(f.ctx, alice, p.Location, a.Location, "a1", validator); !errors.Is(err, domain.ErrAlreadyDelegated) {
		t.Fatalf("re-delegate: err = %v, want ErrAlreadyDelegated", err)
	}
	if len(f.layer.delegated) != 1 {
		t.Fatalf("re-delegation reached the layer")
	}
}

func TestDelegateBetLayerFailure(t *testing.T) {
	tests := []struct {
		name      string
		layerErr  error
		wantState domain.Residency
	}{
		{"refused", fmt.Errorf("%w: validator not registered", domain.ErrUnauthorized), domain.Resident},
		{"outcome unknown", errors.New("validator offline"), domain.Delegating},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, p, a, _ := betsFixture(t)
			f.layer.delegateErr = tt.layerErr

			if err := f.ledger.DelegateBet(f.ctx, alice, p.Location, a.Location, "a1", validator); !errors.Is(err, tt.layerErr) {
				t.Fatalf("err = %v, want %v", err, tt.layerErr)
			}
			if d, _ := f.store.GetDelegation(f.ctx, a.Location); d.State != tt.wantState {
				t.Fatalf("state = %q, want %q", d.State, tt.wantState)
			}
			if len(f.events.events) != 0 {
				t.Fatalf("events emitted: %v", f.events.kinds())
			}

			f.layer.delegateErr = nil
			if err := f.ledger.DelegateBet(f.ctx, alice, p.Location, a.Location, "a1", validator); err != nil {
				t.Fatalf("retry: %v", err)
			}
			if d, _ := f.store.GetDelegation(f.ctx, a.Location); d.State != domain.Delegated {
				t.Fatalf("state after retry = %q", d.State)
			}
			if kinds := f.events.kinds(); !sameKinds(kinds, []domain.EventKind{domain.EventBetDelegated}) {
				t.Fatalf("events = %v", kinds)
			}
		})
	}
}

func TestDelegateConfirmsRecordAlreadyHeld(t *testing.T) {
	f, p, a, _ := betsFixture(t)

	// The layer took the wager but the primary never confirmed it.
	if err := f.layer.held.Delegate(f.ctx, domain.DelegateRequest{Record: a.Location, Kind: domain.KindBet}); err != nil {
		t.Fatal(err)
	}
	f.putState(a.Location, domain.KindBet, domain.Delegating)

	if _, err := f.ledger.PlaceBet(f.ctx, alice, p.Location, 10, "a2"); err != nil {
		t.Fatalf("PlaceBet on resident pool: %v", err)
	}
	if err := f.ledger.DelegateBet(f.ctx, alice, p.Location, a.Location, "a1", validator); err != nil {
		t.Fatalf("DelegateBet: %v", err)
	}
	if d, _ := f.store.GetDelegation(f.ctx, a.Location); d.State != domain.Delegated {
		t.Fatalf("state = %q, want delegated", d.State)
	}
	if !f.layer.held.Holds(a.Location) {
		t.Fatal("layer lost the wager")
	}
}

func TestDelegateBetPermission(t *testing.T) {
	f, p, a, _ := betsFixture(t)

	perm, err := f.ledger.DelegateBetPermission(f.ctx, alice, p.Location, a.Location, "a1", validator)
	if err != nil {
		t.Fatalf("DelegateBetPermission: %v", err)
	}
	wantPerm, _, _ := locator.FindLocation(locator.PermissionSeeds(a.Location))
	if perm != wantPerm {
		t.Fatalf("permission = %s, want %s", perm.Hex(), wantPerm.Hex())
	}

	req := f.layer.permissions[0]
	seeds, _ := locator.BetSeeds(p.Location, alice, "a1")
	if !equalSeeds(req.SignerSeeds, locator.WithBump(seeds, a.Bump)) {
		t.Fatalf("signer seeds = %q", req.SignerSeeds)
	}
	signer, err := locator.CreateLocation(req.SignerSeeds)
	if err != nil || signer != a.Location {
		t.Fatalf("signer seeds reproduce %s (%v), want bet %s", signer.Hex(), err, a.Location.Hex())
	}
	if req.Record != a.Location || req.Authority != alice || req.Permission != perm {
		t.Fatalf("permission request = %+v", req)
	}

	if d, _ := f.store.GetDelegation(f.ctx, a.Location); d.IsDelegated() {
		t.Fatalf("permission delegation moved the bet itself")
	}
	if d, _ := f.store.GetDelegation(f.ctx, perm); !d.IsDelegated() || d.Kind != domain.KindPermission {
		t.Fatalf("permission tag = %+v", d)
	}
	if len(f.events.events) != 0 {
		t.Fatalf("permission delegation emitted %v", f.events.kinds())
	}
	if _, err := f.ledger.DelegateBetPermission(f.ctx, alice, p.Location, a.Location, "a1", validator); !errors.Is(err, domain.ErrAlreadyDelegated) {
		t.Fatalf("second permission delegation: err = %v, want ErrAlreadyDelegated", err)
	}
}

func TestBatchUndelegateTooEarly(t *testing.T) {
	f, p, a, _ := betsFixture(t)

	f.at(199)
	if err := f.ledger.BatchUndelegateBets(f.ctx, bob, p.Location, nil); !errors.Is(err, domain.ErrTooEarly) {
		t.Fatalf("empty list before end: err = %v, want ErrTooEarly", err)
	}
	if err := f.ledger.BatchUndelegateBets(f.ctx, bob, p.Location, []common.Hash{a.Location}); !errors.Is(err, domain.ErrTooEarly) {
		t.Fatalf("before end: err = %v, want ErrTooEarly", err)
	}

	f.at(200)
	if err := f.ledger.BatchUndelegateBets(f.ctx, bob, p.Location, nil); err != nil {
		t.Fatalf("empty list after end: %v", err)
	}
	if len(f.layer.commits) != 0 || len(f.events.events) != 0 {
		t.Fatalf("empty batch had side effects")
	}
}

func TestBatchUndelegateBets(t *testing.T) {
	f, p, a, b := betsFixture(t)
	for _, bet := range []domain.Bet{a, b} {
		if err := f.ledger.DelegateBet(f.ctx, bet.Owner, p.Location, bet.Location, bet.RequestID, validator); err != nil {
			t.Fatalf("DelegateBet: %v", err)
		}
	}
	f.events.reset()

	scored := a
	scored.CalculatedWeight = 42
	scored.IsWeightAdded = true
	scored.Status = domain.BetCalculated
	scored.Deposit = 1 // escrow is not the layer's to change
	f.layer.committed = []domain.CommittedRecord{{Location: a.Location, Kind: domain.KindBet, Bet: &scored}}

	f.at(260)
	if err := f.ledger.BatchUndelegateBets(f.ctx, admin, p.Location, []common.Hash{a.Location, b.Location}); err != nil {
		t.Fatalf("BatchUndelegateBets: %v", err)
	}
	if len(f.layer.commits) != 1 || len(f.layer.commits[0]) != 2 {
		t.Fatalf("commit requests = %+v, want one covering both bets", f.layer.commits)
	}

	if len(f.events.events) != 2 {
		t.Fatalf("events = %v", f.events.kinds())
	}
	for i, want := range []common.Hash{a.Location, b.Location} {
		ev, ok := f.events.events[i].Payload.(domain.BetUndelegated)
		if !ok || ev.BetAddress != want || !ev.IsBatch || ev.User != (common.Address{}) {
			t.Fatalf("event %d = %+v", i, f.events.events[i].Payload)
		}
	}
	for _, loc := range []common.Hash{a.Location, b.Location} {
		if d, _ := f.store.GetDelegation(f.ctx, loc); d.IsDelegated() {
			t.Fatalf("bet %s still delegated", loc.Hex())
		}
	}

	got, _ := f.store.GetBet(f.ctx, a.Location)
	if got.CalculatedWeight != 42 || !got.IsWeightAdded || got.Status != domain.BetCalculated {
		t.Fatalf("committed scoring not applied: %+v", got)
	}
	if got.Deposit != 300 {
		t.Fatalf("committed state overwrote deposit: %d", got.Deposit)
	}
}

func TestBatchUndelegateAllOrNothing(t *testing.T) {
	f, p, a, b := betsFixture(t)
	if err := f.ledger.DelegateBet(f.ctx, alice, p.Location, a.Location, "a1", validator); err != nil {
		t.Fatalf("DelegateBet: %v", err)
	}
	f.events.reset()
	f.at(200)

	tests := []struct {
		name    string
		records []common.Hash
		wantErr error
	}{
		{"resident record", []common.Hash{a.Location, b.Location}, domain.ErrNotDelegated},
		{"duplicate", []common.Hash{a.Location, a.Location}, domain.ErrInvalidArgument},
		{"unknown record", []common.Hash{common.HexToHash("0xbeef")}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.ledger.BatchUndelegateBets(f.ctx, bob, p.Location, tt.records); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if len(f.layer.commits) != 0 {
		t.Fatalf("invalid batches reached the layer")
	}

	f.layer.commitErr = errors.New("commit rejected")
	if err := f.ledger.BatchUndelegateBets(f.ctx, bob, p.Location, []common.Hash{a.Location}); err == nil {
		t.Fatalf("batch succeeded with failing layer")
	}
	if d, _ := f.store.GetDelegation(f.ctx, a.Location); d.State != domain.Undelegating {
		t.Fatalf("state after failed batch = %q, want undelegating", d.State)
	}
	if len(f.events.events) != 0 {
		t.Fatalf("failed batch emitted %v", f.events.kinds())
	}

	f.layer.commitErr = nil
	if err := f.ledger.BatchUndelegateBets(f.ctx, bob, p.Location, []common.Hash{a.Location}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if d, _ := f.store.GetDelegation(f.ctx, a.Location); d.IsDelegated() {
		t.Fatalf("state after retry = %q", d.State)
	}
}

func TestBatchUndelegateOtherPool(t *testing.T) {
	f, p, a, _ := betsFixture(t)
	other := f.createPool(2, 100, 120)
	if err := f.ledger.DelegateBet(f.ctx, alice, p.Location, a.Location, "a1", validator); err != nil {
		t.Fatalf("DelegateBet: %v", err)
	}
	f.at(150)
	if err := f.ledger.BatchUndelegateBets(f.ctx, bob, other.Location, []common.Hash{a.Location}); !errors.Is(err, domain.ErrPoolMismatch) {
		t.Fatalf("err = %v, want ErrPoolMismatch", err)
	}
}

func TestPoolDelegationRoundTrip(t *testing.T) {
	f, p, _, _ := betsFixture(t)
	f.at(200)

	if err := f.ledger.DelegatePool(f.ctx, bob, p.Location, validator); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("non-admin: err = %v, want ErrUnauthorized", err)
	}
	if err := f.ledger.UndelegatePool(f.ctx, admin, p.Location); !errors.Is(err, domain.ErrNotDelegated) {
		t.Fatalf("undelegate resident pool: err = %v, want ErrNotDelegated", err)
	}
	if err := f.ledger.DelegatePool(f.ctx, admin, p.Location, validator); err != nil {
		t.Fatalf("DelegatePool: %v", err)
	}
	req := f.layer.delegated[0]
	if req.Kind != domain.KindPool || !equalSeeds(req.Seeds, locator.PoolSeeds(admin, 1)) {
		t.Fatalf("delegate request = %+v", req)
	}
	if err := f.ledger.DelegatePool(f.ctx, admin, p.Location, validator); !errors.Is(err, domain.ErrAlreadyDelegated) {
		t.Fatalf("re-delegate: err = %v, want ErrAlreadyDelegated", err)
	}

	// The primary ledger may not touch a delegated pool.
	if _, err := f.ledger.ResolvePool(f.ctx, admin, p.Location, 5); !errors.Is(err, domain.ErrRecordDelegated) {
		t.Fatalf("resolve delegated pool: err = %v, want ErrRecordDelegated", err)
	}

	// The pool is resolved on the execution layer and committed back.
	onLayer := f.pool(p.Location)
	onLayer.IsResolved = true
	onLayer.ResolutionTarget = 5
	onLayer.ResolutionTs = f.now
	onLayer.TotalWeight = 900
	onLayer.VaultBalance = 0
	f.layer.committed = []domain.CommittedRecord{{Location: p.Location, Kind: domain.KindPool, Pool: &onLayer}}

	if err := f.ledger.UndelegatePool(f.ctx, admin, p.Location); err != nil {
		t.Fatalf("UndelegatePool: %v", err)
	}
	got := f.pool(p.Location)
	if !got.IsResolved || got.ResolutionTarget != 5 || got.TotalWeight != 900 {
		t.Fatalf("committed resolution not applied: %+v", got)
	}
	if got.VaultBalance != 500 {
		t.Fatalf("vault balance = %d, want 500 kept from the primary copy", got.VaultBalance)
	}

	s, err := f.ledger.FinalizeWeights(f.ctx, admin, p.Location)
	if err != nil {
		t.Fatalf("FinalizeWeights after undelegation: %v", err)
	}
	if s.FeeDeducted != 25 || s.Distributable != 475 || s.TotalWeight != 900 {
		t.Fatalf("settlement = %+v", s)
	}

	want := []domain.EventKind{domain.EventPoolDelegated, domain.EventPoolUndelegated, domain.EventWeightsFinalized}
	if kinds := f.events.kinds(); !sameKinds(kinds, want) {
		t.Fatalf("events = %v, want %v", kinds, want)
	}
}

func TestUndelegatePoolDiscardsIdentityChange(t *testing.T) {
	f, p, _, _ := betsFixture(t)
	f.at(200)
	if err := f.ledger.DelegatePool(f.ctx, admin, p.Location, validator); err != nil {
		t.Fatalf("DelegatePool: %v", err)
	}
	forged := f.pool(p.Location)
	forged.PoolID = 99
	forged.IsResolved = true
	f.layer.committed = []domain.CommittedRecord{{Location: p.Location, Kind: domain.KindPool, Pool: &forged}}

	if err := f.ledger.UndelegatePool(f.ctx, admin, p.Location); err != nil {
		t.Fatalf("UndelegatePool: %v", err)
	}
	got := f.pool(p.Location)
	if got.PoolID != 1 || got.IsResolved {
		t.Fatalf("forged state applied: %+v", got)
	}
	if d, _ := f.store.GetDelegation(f.ctx, p.Location); d.IsDelegated() {
		t.Fatalf("pool still tagged %q", d.State)
	}
	if f.layer.held.Holds(p.Location) {
		t.Fatal("layer still holds the pool")
	}

	// Both sides agree, so the pool can go round again.
	f.layer.committed = nil
	if err := f.ledger.DelegatePool(f.ctx, admin, p.Location, validator); err != nil {
		t.Fatalf("re-delegate: %v", err)
	}
	if err := f.ledger.UndelegatePool(f.ctx, admin, p.Location); err != nil {
		t.Fatalf("second undelegate: %v", err)
	}
}

func TestUndelegateReconcilesReleasedRecord(t *testing.T) {
	f, p, _, _ := betsFixture(t)
	f.at(200)
	if err := f.ledger.DelegatePool(f.ctx, admin, p.Location, validator); err != nil {
		t.Fatalf("DelegatePool: %v", err)
	}

	// The layer released the pool but the primary stopped halfway.
	refs := []domain.RecordRef{{Location: p.Location, Kind: domain.KindPool}}
	if _, err := f.layer.held.CommitAndUndelegate(f.ctx, admin, refs); err != nil {
		t.Fatal(err)
	}
	f.putState(p.Location, domain.KindPool, domain.Undelegating)

	if _, err := f.ledger.ResolvePool(f.ctx, admin, p.Location, 5); !errors.Is(err, domain.ErrRecordDelegated) {
		t.Fatalf("resolve pending pool: err = %v, want ErrRecordDelegated", err)
	}
	f.events.reset()
	if err := f.ledger.UndelegatePool(f.ctx, admin, p.Location); err != nil {
		t.Fatalf("UndelegatePool: %v", err)
	}
	if d, _ := f.store.GetDelegation(f.ctx, p.Location); d.IsDelegated() {
		t.Fatalf("pool still tagged %q", d.State)
	}
	if kinds := f.events.kinds(); !sameKinds(kinds, []domain.EventKind{domain.EventPoolUndelegated}) {
		t.Fatalf("events = %v", kinds)
	}
	if _, err := f.ledger.ResolvePool(f.ctx, admin, p.Location, 5); err != nil {
		t.Fatalf("ResolvePool after reconcile: %v", err)
	}
}

func TestBatchUndelegateSplitsDisownedRecords(t *testing.T) {
	f, p, a, b := betsFixture(t)
	for _, bet := range []domain.Bet{a, b} {
		if err := f.ledger.DelegateBet(f.ctx, bet.Owner, p.Location, bet.Location, bet.RequestID, validator); err != nil {
			t.Fatalf("DelegateBet: %v", err)
		}
	}
	if _, err := f.layer.held.CommitAndUndelegate(f.ctx, admin, []domain.RecordRef{{Location: a.Location, Kind: domain.KindBet}}); err != nil {
		t.Fatal(err)
	}
	f.events.reset()

	f.at(200)
	if err := f.ledger.BatchUndelegateBets(f.ctx, bob, p.Location, []common.Hash{a.Location, b.Location}); err != nil {
		t.Fatalf("BatchUndelegateBets: %v", err)
	}
	for _, loc := range []common.Hash{a.Location, b.Location} {
		if d, _ := f.store.GetDelegation(f.ctx, loc); d.IsDelegated() {
			t.Fatalf("bet %s still tagged %q", loc.Hex(), d.State)
		}
		if f.layer.held.Holds(loc) {
			t.Fatalf("layer still holds %s", loc.Hex())
		}
	}
	if len(f.layer.commits) != 1 || len(f.layer.commits[0]) != 1 || f.layer.commits[0][0].Location != b.Location {
		t.Fatalf("commits = %+v, want b alone after the split", f.layer.commits)
	}
	if len(f.events.events) != 2 {
		t.Fatalf("events = %v", f.events.kinds())
	}
}

func TestPermissionRoundTrip(t *testing.T) {
	f, p, a, _ := betsFixture(t)
	perm, _, _ := locator.FindLocation(locator.PermissionSeeds(a.Location))

	for round := 1; round <= 2; round++ {
		if err := f.ledger.DelegateBet(f.ctx, alice, p.Location, a.Location, "a1", validator); err != nil {
			t.Fatalf("round %d: DelegateBet: %v", round, err)
		}
		if _, err := f.ledger.DelegateBetPermission(f.ctx, alice, p.Location, a.Location, "a1", validator); err != nil {
			t.Fatalf("round %d: DelegateBetPermission: %v", round, err)
		}
		f.events.reset()
		f.at(200)
		if err := f.ledger.BatchUndelegateBets(f.ctx, bob, p.Location, []common.Hash{a.Location}); err != nil {
			t.Fatalf("round %d: BatchUndelegateBets: %v", round, err)
		}
		last := f.layer.commits[len(f.layer.commits)-1]
		if len(last) != 2 || last[0].Location != a.Location || last[1].Location != perm || last[1].Kind != domain.KindPermission {
			t.Fatalf("round %d: commit refs = %+v", round, last)
		}
		for _, loc := range []common.Hash{a.Location, perm} {
			if d, _ := f.store.GetDelegation(f.ctx, loc); d.IsDelegated() {
				t.Fatalf("round %d: %s still tagged %q", round, loc.Hex(), d.State)
			}
		}
		if len(f.events.events) != 1 {
			t.Fatalf("round %d: events = %v, want one per listed bet", round, f.events.kinds())
		}
	}
}

func TestPermissionOnlyUndelegate(t *testing.T) {
	f, p, a, _ := betsFixture(t)
	perm, err := f.ledger.DelegateBetPermission(f.ctx, alice, p.Location, a.Location, "a1", validator)
	if err != nil {
		t.Fatalf("DelegateBetPermission: %v", err)
	}

	f.at(200)
	if err := f.ledger.BatchUndelegateBets(f.ctx, bob, p.Location, []common.Hash{a.Location}); err != nil {
		t.Fatalf("BatchUndelegateBets: %v", err)
	}
	if got := f.layer.commits[0]; len(got) != 1 || got[0].Location != perm {
		t.Fatalf("commit refs = %+v, want the permission only", got)
	}
	if d, _ := f.store.GetDelegation(f.ctx, perm); d.IsDelegated() {
		t.Fatalf("permission still tagged %q", d.State)
	}
}

func TestDelegateBetPermissionWithLoopback(t *testing.T) {
	f, p, a, _ := betsFixture(t)
	layer := rollup.NewLoopback()
	core := New(f.store, layer, f.events, discardLogger()).WithClock(func() time.Time { return f.now })

	perm, err := core.DelegateBetPermission(f.ctx, alice, p.Location, a.Location, "a1", validator)
	if err != nil {
		t.Fatalf("DelegateBetPermission on resident bet: %v", err)
	}
	if !layer.Holds(perm) || layer.Holds(a.Location) {
		t.Fatalf("holds perm=%v bet=%v, want the permission only", layer.Holds(perm), layer.Holds(a.Location))
	}
	if d, _ := f.store.GetDelegation(f.ctx, a.Location); d.IsDelegated() {
		t.Fatal("bet left the primary ledger")
	}

	// The wager can still be delegated on its own.
	if err := core.DelegateBet(f.ctx, alice, p.Location, a.Location, "a1", validator); err != nil {
		t.Fatalf("DelegateBet: %v", err)
	}
	f.at(200)
	if err := core.BatchUndelegateBets(f.ctx, bob, p.Location, []common.Hash{a.Location}); err != nil {
		t.Fatalf("BatchUndelegateBets: %v", err)
	}
	if layer.Holds(perm) || layer.Holds(a.Location) {
		t.Fatal("loopback kept records after undelegation")
	}
	if _, err := core.DelegateBetPermission(f.ctx, alice, p.Location, a.Location, "a1", validator); err != nil {
		t.Fatalf("re-delegate permission: %v", err)
	}
}

// putState overwrites a residency tag directly.
func (f *fixture) putState(loc common.Hash, kind domain.RecordKind, state domain.Residency) {
	f.t.Helper()
	err := f.store.InTx(f.ctx, func(tx domain.LedgerTx) error {
		return tx.PutDelegation(f.ctx, domain.Delegation{Record: loc, Kind: kind, State: state, UpdatedAt: f.now})
	})
	if err != nil {
		f.t.Fatalf("put delegation: %v", err)
	}
}

func equalSeeds(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
