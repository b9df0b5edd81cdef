package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// BetService is the wager and delegation surface of the service layer.
type BetService interface {
	Bet(ctx context.Context, loc common.Hash) (domain.Bet, error)
	ListBets(ctx context.Context, pool common.Hash, opts domain.ListOpts) ([]domain.Bet, error)
	DelegatedBets(ctx context.Context, pool common.Hash) ([]domain.Bet, error)
	PlaceBet(ctx context.Context, caller common.Address, pool common.Hash, amount uint64, requestID string) (domain.Bet, error)
	Delegation(ctx context.Context, loc common.Hash) (domain.Delegation, error)
	DelegateBet(ctx context.Context, caller common.Address, pool, bet common.Hash, requestID string, validator common.Address) error
	DelegateBetPermission(ctx context.Context, caller common.Address, pool, bet common.Hash, requestID string, validator common.Address) (common.Hash, error)
	BatchUndelegateBets(ctx context.Context, payer common.Address, pool common.Hash, bets []common.Hash) error
}

// BetHandler serves wager endpoints.
type BetHandler struct {
	svc              BetService
	defaultValidator common.Address
	logger           *slog.Logger
}

func NewBetHandler(svc BetService, defaultValidator common.Address, logger *slog.Logger) *BetHandler {
	return &BetHandler{svc: svc, defaultValidator: defaultValidator, logger: logger}
}

// ListByPool returns a pool's wagers. With ?delegated=true only the wagers
// currently held by the execution layer are returned, unpaginated.
// GET /api/pools/{pool}/bets
func (h *BetHandler) ListByPool(w http.ResponseWriter, r *http.Request) {
	pool, ok := hashParam(w, r, "pool")
	if !ok {
		return
	}
	var (
		bets []domain.Bet
		err  error
	)
	opts := parseListOpts(r)
	if r.URL.Query().Get("delegated") == "true" {
		bets, err = h.svc.DelegatedBets(r.Context(), pool)
	} else {
		bets, err = h.svc.ListBets(r.Context(), pool, opts)
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "list bets", err)
		return
	}
	if bets == nil {
		bets = []domain.Bet{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets, "limit": opts.Limit, "offset": opts.Offset})
}

// Get returns one wager.
// GET /api/bets/{bet}
func (h *BetHandler) Get(w http.ResponseWriter, r *http.Request) {
	loc, ok := hashParam(w, r, "bet")
	if !ok {
		return
	}
	b, err := h.svc.Bet(r.Context(), loc)
	if err != nil {
		writeServiceError(w, r, h.logger, "get bet", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type placeBetRequest struct {
	Amount    uint64 `json:"amount"`
	RequestID string `json:"request_id"`
}

// Place escrows a deposit into the pool.
// POST /api/pools/{pool}/bets {"amount": 100, "request_id": "r-1"}
func (h *BetHandler) Place(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	pool, ok := hashParam(w, r, "pool")
	if !ok {
		return
	}
	var req placeBetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	b, err := h.svc.PlaceBet(r.Context(), c, pool, req.Amount, req.RequestID)
	if err != nil {
		writeServiceError(w, r, h.logger, "place bet", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

type delegateBetRequest struct {
	Pool      common.Hash     `json:"pool"`
	RequestID string          `json:"request_id"`
	Validator *common.Address `json:"validator"`
}

func (h *BetHandler) decodeDelegate(w http.ResponseWriter, r *http.Request) (common.Hash, delegateBetRequest, common.Address, bool) {
	var req delegateBetRequest
	loc, ok := hashParam(w, r, "bet")
	if !ok {
		return loc, req, common.Address{}, false
	}
	if !decodeBody(w, r, &req) {
		return loc, req, common.Address{}, false
	}
	if req.Pool == (common.Hash{}) || req.RequestID == "" {
		writeError(w, http.StatusBadRequest, "pool and request_id are required")
		return loc, req, common.Address{}, false
	}
	validator := h.defaultValidator
	if req.Validator != nil {
		validator = *req.Validator
	}
	return loc, req, validator, true
}

// Delegate hands the caller's wager to the execution layer.
// POST /api/bets/{bet}/delegate {"pool": "0x...", "request_id": "r-1"}
func (h *BetHandler) Delegate(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	loc, req, validator, ok := h.decodeDelegate(w, r)
	if !ok {
		return
	}
	if err := h.svc.DelegateBet(r.Context(), c, req.Pool, loc, req.RequestID, validator); err != nil {
		writeServiceError(w, r, h.logger, "delegate bet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bet": loc, "validator": validator, "state": domain.Delegated})
}

// DelegatePermission delegates the wager's permission record.
// POST /api/bets/{bet}/delegate-permission
func (h *BetHandler) DelegatePermission(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	loc, req, validator, ok := h.decodeDelegate(w, r)
	if !ok {
		return
	}
	perm, err := h.svc.DelegateBetPermission(r.Context(), c, req.Pool, loc, req.RequestID, validator)
	if err != nil {
		writeServiceError(w, r, h.logger, "delegate bet permission", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bet": loc, "permission": perm, "validator": validator})
}

// BatchUndelegate flushes wagers of an ended pool back to the ledger.
// POST /api/pools/{pool}/bets/undelegate {"bets": ["0x...", ...]}
func (h *BetHandler) BatchUndelegate(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	pool, ok := hashParam(w, r, "pool")
	if !ok {
		return
	}
	var req struct {
		Bets []common.Hash `json:"bets"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.BatchUndelegateBets(r.Context(), c, pool, req.Bets); err != nil {
		writeServiceError(w, r, h.logger, "batch undelegate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool": pool, "undelegated": len(req.Bets)})
}

// Delegation returns the residency tag of any record.
// GET /api/records/{record}/delegation
func (h *BetHandler) Delegation(w http.ResponseWriter, r *http.Request) {
	loc, ok := hashParam(w, r, "record")
	if !ok {
		return
	}
	d, err := h.svc.Delegation(r.Context(), loc)
	if err != nil {
		writeServiceError(w, r, h.logger, "get delegation", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
