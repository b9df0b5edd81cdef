package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// DefaultPoolTTL bounds how stale a cached pool may be.
const DefaultPoolTTL = 30 * time.Second

// PoolCache implements domain.PoolCache with one JSON string per pool under
// pool:{location}.
type PoolCache struct {
	c   *Client
	ttl time.Duration
}

var _ domain.PoolCache = (*PoolCache)(nil)

// NewPoolCache creates a PoolCache. A non-positive ttl uses DefaultPoolTTL.
func NewPoolCache(c *Client, ttl time.Duration) *PoolCache {
	if ttl <= 0 {
		ttl = DefaultPoolTTL
	}
	return &PoolCache{c: c, ttl: ttl}
}

func (pc *PoolCache) poolKey(loc common.Hash) string {
	return pc.c.key("pool:", loc.Hex())
}

func (pc *PoolCache) Set(ctx context.Context, pool domain.Pool) error {
	data, err := json.Marshal(pool)
	if err != nil {
		return fmt.Errorf("redis: marshal pool %s: %w", pool.Location.Hex(), err)
	}
	if err := pc.c.rdb.Set(ctx, pc.poolKey(pool.Location), data, pc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set pool %s: %w", pool.Location.Hex(), err)
	}
	return nil
}

// Get returns domain.ErrNotFound on a miss.
func (pc *PoolCache) Get(ctx context.Context, loc common.Hash) (domain.Pool, error) {
	data, err := pc.c.rdb.Get(ctx, pc.poolKey(loc)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("redis: get pool %s: %w", loc.Hex(), err)
	}

	var pool domain.Pool
	if err := json.Unmarshal(data, &pool); err != nil {
		return domain.Pool{}, fmt.Errorf("redis: unmarshal pool %s: %w", loc.Hex(), err)
	}
	return pool, nil
}

func (pc *PoolCache) Invalidate(ctx context.Context, loc common.Hash) error {
	if err := pc.c.rdb.Del(ctx, pc.poolKey(loc)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate pool %s: %w", loc.Hex(), err)
	}
	return nil
}
