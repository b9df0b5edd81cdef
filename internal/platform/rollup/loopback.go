package rollup

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// Loopback is an in-process execution layer for development. It tracks which
// records and permission records it holds and commits them back unchanged.
type Loopback struct {
	mu    sync.Mutex
	held  map[common.Hash]domain.RecordKind
	perms map[common.Hash]common.Hash // permission -> wager
}

var _ domain.ExecutionLayer = (*Loopback)(nil)

// NewLoopback creates an empty Loopback.
func NewLoopback() *Loopback {
	return &Loopback{
		held:  make(map[common.Hash]domain.RecordKind),
		perms: make(map[common.Hash]common.Hash),
	}
}

func (l *Loopback) Delegate(_ context.Context, req domain.DelegateRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[req.Record]; ok {
		return fmt.Errorf("loopback: %s: %w", req.Record.Hex(), domain.ErrAlreadyDelegated)
	}
	l.held[req.Record] = req.Kind
	return nil
}

// DelegatePermission takes the permission record only. The wager it covers
// may stay on the primary ledger.
func (l *Loopback) DelegatePermission(_ context.Context, req domain.PermissionRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.perms[req.Permission]; ok {
		return fmt.Errorf("loopback: permission %s: %w", req.Permission.Hex(), domain.ErrAlreadyDelegated)
	}
	l.perms[req.Permission] = req.Record
	return nil
}

// CommitAndUndelegate releases every ref or none of them.
func (l *Loopback) CommitAndUndelegate(_ context.Context, _ common.Address, refs []domain.RecordRef) ([]domain.CommittedRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range refs {
		if !l.holds(r) {
			return nil, fmt.Errorf("loopback: %s: %w", r.Location.Hex(), domain.ErrNotDelegated)
		}
	}
	for _, r := range refs {
		if r.Kind == domain.KindPermission {
			delete(l.perms, r.Location)
		} else {
			delete(l.held, r.Location)
		}
	}
	return nil, nil
}

func (l *Loopback) holds(r domain.RecordRef) bool {
	if r.Kind == domain.KindPermission {
		_, ok := l.perms[r.Location]
		return ok
	}
	_, ok := l.held[r.Location]
	return ok
}

// Holds reports whether the record or permission record is currently
// delegated here.
func (l *Loopback) Holds(loc common.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, rec := l.held[loc]
	_, perm := l.perms[loc]
	return rec || perm
}
