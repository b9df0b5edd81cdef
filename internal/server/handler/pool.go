package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// PoolService is the pool surface of the service layer.
type PoolService interface {
	Pool(ctx context.Context, loc common.Hash) (domain.Pool, error)
	ListPools(ctx context.Context, opts domain.ListOpts) ([]domain.Pool, error)
	CreatePool(ctx context.Context, caller common.Address, np domain.NewPool) (domain.Pool, error)
	ResolvePool(ctx context.Context, caller common.Address, pool common.Hash, outcome uint64) (domain.Pool, error)
	FinalizeWeights(ctx context.Context, caller common.Address, pool common.Hash) (domain.Settlement, error)
	DelegatePool(ctx context.Context, caller common.Address, pool common.Hash, validator common.Address) error
	UndelegatePool(ctx context.Context, caller common.Address, pool common.Hash) error
	Settlements(ctx context.Context, pool common.Hash) ([]domain.BlobInfo, error)
}

// PoolHandler serves pool endpoints.
type PoolHandler struct {
	svc              PoolService
	defaultValidator common.Address
	logger           *slog.Logger
}

// NewPoolHandler creates a PoolHandler. defaultValidator is used when a
// delegation request names none.
func NewPoolHandler(svc PoolService, defaultValidator common.Address, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{svc: svc, defaultValidator: defaultValidator, logger: logger}
}

type listPoolsResponse struct {
	Pools  []domain.Pool `json:"pools"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// List returns pools, newest first.
// GET /api/pools?limit=50&offset=0
func (h *PoolHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	pools, err := h.svc.ListPools(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list pools", err)
		return
	}
	if pools == nil {
		pools = []domain.Pool{}
	}
	writeJSON(w, http.StatusOK, listPoolsResponse{Pools: pools, Limit: opts.Limit, Offset: opts.Offset})
}

// Get returns one pool.
// GET /api/pools/{pool}
func (h *PoolHandler) Get(w http.ResponseWriter, r *http.Request) {
	loc, ok := hashParam(w, r, "pool")
	if !ok {
		return
	}
	p, err := h.svc.Pool(r.Context(), loc)
	if err != nil {
		writeServiceError(w, r, h.logger, "get pool", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type createPoolRequest struct {
	PoolID             uint64         `json:"pool_id"`
	Name               string         `json:"name"`
	Metadata           *string        `json:"metadata"`
	Asset              common.Address `json:"asset"`
	StartTime          time.Time      `json:"start_time"`
	EndTime            time.Time      `json:"end_time"`
	MaxAccuracyBuffer  uint64         `json:"max_accuracy_buffer"`
	ConvictionBonusBps uint64         `json:"conviction_bonus_bps"`
}

// Create opens a new pool.
// POST /api/pools
func (h *PoolHandler) Create(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req createPoolRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.svc.CreatePool(r.Context(), c, domain.NewPool(req))
	if err != nil {
		writeServiceError(w, r, h.logger, "create pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// Resolve records the final outcome.
// POST /api/pools/{pool}/resolve {"outcome": 42}
func (h *PoolHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	loc, ok := hashParam(w, r, "pool")
	if !ok {
		return
	}
	var req struct {
		Outcome *uint64 `json:"outcome"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Outcome == nil {
		writeError(w, http.StatusBadRequest, "outcome is required")
		return
	}
	p, err := h.svc.ResolvePool(r.Context(), c, loc, *req.Outcome)
	if err != nil {
		writeServiceError(w, r, h.logger, "resolve pool", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Finalize deducts the protocol fee and fixes the distributable balance.
// POST /api/pools/{pool}/finalize
func (h *PoolHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	loc, ok := hashParam(w, r, "pool")
	if !ok {
		return
	}
	s, err := h.svc.FinalizeWeights(r.Context(), c, loc)
	if err != nil {
		writeServiceError(w, r, h.logger, "finalize weights", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type validatorRequest struct {
	Validator *common.Address `json:"validator"`
}

// Delegate hands the pool to the execution layer.
// POST /api/pools/{pool}/delegate {"validator": "0x..."}
func (h *PoolHandler) Delegate(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	loc, ok := hashParam(w, r, "pool")
	if !ok {
		return
	}
	var req validatorRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	validator := h.defaultValidator
	if req.Validator != nil {
		validator = *req.Validator
	}
	if err := h.svc.DelegatePool(r.Context(), c, loc, validator); err != nil {
		writeServiceError(w, r, h.logger, "delegate pool", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool": loc, "validator": validator, "state": domain.Delegated})
}

// Undelegate commits the pool back from the execution layer.
// POST /api/pools/{pool}/undelegate
func (h *PoolHandler) Undelegate(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	loc, ok := hashParam(w, r, "pool")
	if !ok {
		return
	}
	if err := h.svc.UndelegatePool(r.Context(), c, loc); err != nil {
		writeServiceError(w, r, h.logger, "undelegate pool", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool": loc, "state": domain.Resident})
}

// Settlements lists archived settlement reports.
// GET /api/pools/{pool}/settlements
func (h *PoolHandler) Settlements(w http.ResponseWriter, r *http.Request) {
	loc, ok := hashParam(w, r, "pool")
	if !ok {
		return
	}
	infos, err := h.svc.Settlements(r.Context(), loc)
	if err != nil {
		writeServiceError(w, r, h.logger, "list settlements", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": infos})
}
