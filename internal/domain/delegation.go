package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RecordKind identifies which record type a delegation tag refers to.
type RecordKind string

const (
	KindPool       RecordKind = "pool"
	KindBet        RecordKind = "bet"
	KindPermission RecordKind = "permission"
)

// Residency says which execution layer is authoritative for a record.
type Residency string

// Delegating and Undelegating mark a hand-off that was started on the primary
// ledger but not yet confirmed against the execution layer.
const (
	Resident     Residency = "resident"
	Delegating   Residency = "delegating"
	Delegated    Residency = "delegated"
	Undelegating Residency = "undelegating"
)

// Delegation is the residency tag kept for every delegatable record. A record
// with no tag is resident.
type Delegation struct {
	Record    common.Hash    `json:"record"`
	Kind      RecordKind     `json:"kind"`
	State     Residency      `json:"state"`
	Validator common.Address `json:"validator"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// IsDelegated reports whether the execution layer owns, or may own, the
// record. Pending hand-offs in either direction count.
func (d Delegation) IsDelegated() bool {
	return d.State != "" && d.State != Resident
}

// With returns a copy of d in state s, stamped at.
func (d Delegation) With(s Residency, at time.Time) Delegation {
	d.State = s
	d.UpdatedAt = at
	return d
}

// DelegateRequest hands one record to the execution layer. Seeds reproduce
// Record so the layer can act for it without key material.
type DelegateRequest struct {
	Record    common.Hash    `json:"record"`
	Kind      RecordKind     `json:"kind"`
	Payer     common.Address `json:"payer"`
	Seeds     [][]byte       `json:"seeds"`
	Validator common.Address `json:"validator"`
}

// PermissionRequest establishes a permission record for a wager under the
// execution layer. SignerSeeds include the wager's bump because the wager
// co-signs the hand-off.
type PermissionRequest struct {
	Permission  common.Hash    `json:"permission"`
	Record      common.Hash    `json:"record"`
	Payer       common.Address `json:"payer"`
	Authority   common.Address `json:"authority"`
	SignerSeeds [][]byte       `json:"signer_seeds"`
	Validator   common.Address `json:"validator"`
}

// RecordRef names a delegated record in a commit request.
type RecordRef struct {
	Location common.Hash `json:"location"`
	Kind     RecordKind  `json:"kind"`
}

// CommittedRecord is state returned by the execution layer on commit. At most
// one of Pool and Bet is set; a ref with neither keeps its primary state.
type CommittedRecord struct {
	Location common.Hash `json:"location"`
	Kind     RecordKind  `json:"kind"`
	Pool     *Pool       `json:"pool,omitempty"`
	Bet      *Bet        `json:"bet,omitempty"`
}

// ExecutionLayer is the secondary low-latency layer that accepts delegated
// records and later commits them back.
type ExecutionLayer interface {
	Delegate(ctx context.Context, req DelegateRequest) error
	DelegatePermission(ctx context.Context, req PermissionRequest) error
	CommitAndUndelegate(ctx context.Context, payer common.Address, records []RecordRef) ([]CommittedRecord, error)
}
