package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/locator"
)

type mapCache struct {
	mu          sync.Mutex
	pools       map[common.Hash]domain.Pool
	invalidated int
}

func (c *mapCache) Set(_ context.Context, p domain.Pool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[p.Location] = p
	return nil
}

func (c *mapCache) Get(_ context.Context, loc common.Hash) (domain.Pool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pools[loc]
	if !ok {
		return domain.Pool{}, domain.ErrNotFound
	}
	return p, nil
}

func (c *mapCache) Invalidate(_ context.Context, loc common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pools, loc)
	c.invalidated++
	return nil
}

func TestLedgerServicePoolCache(t *testing.T) {
	e := newEnv(t)
	cache := &mapCache{pools: map[common.Hash]domain.Pool{}}
	svc := NewLedgerService(e.core, e.store, cache, nil, e.logger)

	e.at(0)
	if _, err := svc.InitializeProtocol(e.ctx, admin, treasury, 0); err != nil {
		t.Fatal(err)
	}
	np := domain.NewPool{PoolID: 9, Name: "eth", Asset: asset, StartTime: e.now, EndTime: e.now.Add(time.Hour)}
	p, err := svc.CreatePool(e.ctx, admin, np)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.pools[p.Location]; !ok {
		t.Fatal("created pool should be cached")
	}

	if _, err := e.store.Fund(asset, alice, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PlaceBet(e.ctx, alice, p.Location, 10, "r"); err != nil {
		t.Fatal(err)
	}
	if _, ok := cache.pools[p.Location]; ok {
		t.Fatal("bet should invalidate the cached pool")
	}

	got, err := svc.Pool(e.ctx, p.Location)
	if err != nil || got.VaultBalance != 10 {
		t.Fatalf("Pool = %d, %v", got.VaultBalance, err)
	}
	if cached := cache.pools[p.Location]; cached.VaultBalance != 10 {
		t.Fatal("read should back-fill the cache")
	}

	if _, err := svc.Pool(e.ctx, common.HexToHash("0xdead")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("missing pool err = %v", err)
	}
}

func TestLedgerServiceLocate(t *testing.T) {
	svc := NewLedgerService(nil, nil, nil, nil, discardLogger())

	got, err := svc.LocatePool(admin, 3)
	if err != nil {
		t.Fatal(err)
	}
	want, bump, _ := locator.FindLocation(locator.PoolSeeds(admin, 3))
	if got.Location != want || got.Bump != bump {
		t.Fatalf("LocatePool = %+v", got)
	}

	if _, err := svc.LocateBet(want, alice, ""); !errors.Is(err, domain.ErrInvalidSeed) {
		t.Fatalf("empty request id err = %v", err)
	}
	b, err := svc.LocateBet(want, alice, "r1")
	if err != nil || b.Location == (common.Hash{}) {
		t.Fatalf("LocateBet = %+v, %v", b, err)
	}
}

func TestLedgerServiceSettlementsWithoutBlobStore(t *testing.T) {
	svc := NewLedgerService(nil, nil, nil, nil, discardLogger())
	infos, err := svc.Settlements(context.Background(), common.HexToHash("0x01"))
	if err != nil || len(infos) != 0 {
		t.Fatalf("Settlements = %v, %v", infos, err)
	}
}
