package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// LocalLocks is an in-process domain.LockManager for single-replica
// deployments without Redis.
type LocalLocks struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

var _ domain.LockManager = (*LocalLocks)(nil)

func NewLocalLocks() *LocalLocks {
	return &LocalLocks{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLocks) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, fmt.Errorf("local lock %s: %w", key, domain.ErrLockHeld)
	}
	exp := now.Add(ttl)
	l.held[key] = exp

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.held[key] == exp {
				delete(l.held, key)
			}
		})
	}, nil
}
