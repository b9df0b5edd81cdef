package memory

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/locator"
)

type tx struct {
	st *state
}

func (t *tx) Protocol(_ context.Context) (domain.Protocol, error) {
	if t.st.protocol == nil {
		return domain.Protocol{}, domain.ErrNotInitialized
	}
	return *t.st.protocol, nil
}

func (t *tx) InsertProtocol(_ context.Context, p domain.Protocol) error {
	if t.st.protocol != nil {
		return fmt.Errorf("memory: insert protocol: %w", domain.ErrDuplicateRecord)
	}
	t.st.protocol = &p
	return nil
}

func (t *tx) UpdateProtocol(_ context.Context, p domain.Protocol) error {
	if t.st.protocol == nil {
		return domain.ErrNotInitialized
	}
	t.st.protocol = &p
	return nil
}

func (t *tx) Pool(_ context.Context, loc common.Hash) (domain.Pool, error) {
	p, ok := t.st.pools[loc]
	if !ok {
		return domain.Pool{}, fmt.Errorf("memory: pool %s: %w", loc.Hex(), domain.ErrNotFound)
	}
	return p, nil
}

func (t *tx) InsertPool(_ context.Context, p domain.Pool) error {
	if _, ok := t.st.pools[p.Location]; ok {
		return fmt.Errorf("memory: insert pool %s: %w", p.Location.Hex(), domain.ErrDuplicateRecord)
	}
	t.st.pools[p.Location] = p
	return nil
}

func (t *tx) UpdatePool(_ context.Context, p domain.Pool) error {
	if _, ok := t.st.pools[p.Location]; !ok {
		return fmt.Errorf("memory: update pool %s: %w", p.Location.Hex(), domain.ErrNotFound)
	}
	t.st.pools[p.Location] = p
	return nil
}

func (t *tx) Bet(_ context.Context, loc common.Hash) (domain.Bet, error) {
	b, ok := t.st.bets[loc]
	if !ok {
		return domain.Bet{}, fmt.Errorf("memory: bet %s: %w", loc.Hex(), domain.ErrNotFound)
	}
	return b, nil
}

func (t *tx) InsertBet(_ context.Context, b domain.Bet) error {
	if _, ok := t.st.bets[b.Location]; ok {
		return fmt.Errorf("memory: insert bet %s: %w", b.Location.Hex(), domain.ErrDuplicateRecord)
	}
	t.st.bets[b.Location] = b
	return nil
}

func (t *tx) UpdateBet(_ context.Context, b domain.Bet) error {
	if _, ok := t.st.bets[b.Location]; !ok {
		return fmt.Errorf("memory: update bet %s: %w", b.Location.Hex(), domain.ErrNotFound)
	}
	t.st.bets[b.Location] = b
	return nil
}

func (t *tx) Delegation(_ context.Context, loc common.Hash) (domain.Delegation, error) {
	return delegationOf(t.st, loc), nil
}

func (t *tx) PutDelegation(_ context.Context, d domain.Delegation) error {
	t.st.delegations[d.Record] = d
	return nil
}

func (t *tx) Account(_ context.Context, loc common.Hash) (domain.TokenAccount, error) {
	a, ok := t.st.accounts[loc]
	if !ok {
		return domain.TokenAccount{}, fmt.Errorf("memory: account %s: %w", loc.Hex(), domain.ErrNotFound)
	}
	return a, nil
}

func (t *tx) OpenAccount(_ context.Context, a domain.TokenAccount) error {
	if _, ok := t.st.accounts[a.Location]; ok {
		return fmt.Errorf("memory: open account %s: %w", a.Location.Hex(), domain.ErrDuplicateRecord)
	}
	t.st.accounts[a.Location] = a
	return nil
}

func (t *tx) Transfer(_ context.Context, req domain.TransferRequest) error {
	from, ok := t.st.accounts[req.From]
	if !ok {
		return fmt.Errorf("memory: transfer: source %s: %w", req.From.Hex(), domain.ErrTransferFailed)
	}
	var to *domain.TokenAccount
	if a, ok := t.st.accounts[req.To]; ok {
		to = &a
	}
	var signerLoc common.Hash
	if len(req.SignerSeeds) > 0 {
		loc, err := locator.CreateLocation(req.SignerSeeds)
		if err != nil {
			return fmt.Errorf("memory: transfer: %w: %v", domain.ErrTransferFailed, err)
		}
		signerLoc = loc
	}
	src, dst, err := domain.PlanTransfer(req, from, to, signerLoc)
	if err != nil {
		return fmt.Errorf("memory: transfer: %w", err)
	}
	t.st.accounts[src.Location] = src
	t.st.accounts[dst.Location] = dst
	return nil
}
