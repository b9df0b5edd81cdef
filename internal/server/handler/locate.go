package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/service"
)

// Locator derives record locations without touching storage.
type Locator interface {
	LocatePool(admin common.Address, id uint64) (service.Location, error)
	LocateBet(pool common.Hash, owner common.Address, requestID string) (service.Location, error)
}

// LocateHandler serves deterministic address lookups.
type LocateHandler struct {
	loc    Locator
	logger *slog.Logger
}

func NewLocateHandler(loc Locator, logger *slog.Logger) *LocateHandler {
	return &LocateHandler{loc: loc, logger: logger}
}

// Pool returns the location of a pool.
// GET /api/locate/pool?admin=0x...&pool_id=7
func (h *LocateHandler) Pool(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	admin, err := parseAddress(q.Get("admin"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "admin: "+err.Error())
		return
	}
	id, err := strconv.ParseUint(q.Get("pool_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "pool_id must be an unsigned integer")
		return
	}
	l, err := h.loc.LocatePool(admin, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "locate pool", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// Bet returns the location of a wager.
// GET /api/locate/bet?pool=0x...&owner=0x...&request_id=r-1
func (h *LocateHandler) Bet(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pool, err := parseHash(q.Get("pool"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "pool: "+err.Error())
		return
	}
	owner, err := parseAddress(q.Get("owner"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "owner: "+err.Error())
		return
	}
	l, err := h.loc.LocateBet(pool, owner, q.Get("request_id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "locate bet", err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}
