package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// ProtocolService is the protocol configuration surface of the service layer.
type ProtocolService interface {
	Protocol(ctx context.Context) (domain.Protocol, error)
	InitializeProtocol(ctx context.Context, caller, treasury common.Address, feeRateBps uint64) (domain.Protocol, error)
	SetPause(ctx context.Context, caller common.Address, paused bool) (domain.Protocol, error)
	TransferAdmin(ctx context.Context, caller, newAdmin common.Address) (domain.Protocol, error)
	UpdateConfig(ctx context.Context, caller common.Address, upd domain.ConfigUpdate) (domain.Protocol, error)
}

// ProtocolHandler serves the protocol singleton.
type ProtocolHandler struct {
	svc    ProtocolService
	logger *slog.Logger
}

func NewProtocolHandler(svc ProtocolService, logger *slog.Logger) *ProtocolHandler {
	return &ProtocolHandler{svc: svc, logger: logger}
}

// protocolResponse renders the batch wait in seconds.
type protocolResponse struct {
	domain.Protocol
	BatchWaitSeconds int64 `json:"batch_wait_seconds"`
}

func toProtocolResponse(p domain.Protocol) protocolResponse {
	return protocolResponse{Protocol: p, BatchWaitSeconds: int64(p.BatchWaitDuration / time.Second)}
}

// Get returns the protocol configuration.
// GET /api/protocol
func (h *ProtocolHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Protocol(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get protocol", err)
		return
	}
	writeJSON(w, http.StatusOK, toProtocolResponse(p))
}

type initializeRequest struct {
	Treasury   common.Address `json:"treasury"`
	FeeRateBps uint64         `json:"fee_rate_bps"`
}

// Initialize creates the protocol with the caller as admin.
// POST /api/protocol
func (h *ProtocolHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req initializeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Treasury == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "treasury is required")
		return
	}
	p, err := h.svc.InitializeProtocol(r.Context(), c, req.Treasury, req.FeeRateBps)
	if err != nil {
		writeServiceError(w, r, h.logger, "initialize protocol", err)
		return
	}
	writeJSON(w, http.StatusCreated, toProtocolResponse(p))
}

// SetPause toggles the pause flag.
// POST /api/protocol/pause {"paused": true}
func (h *ProtocolHandler) SetPause(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		Paused *bool `json:"paused"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Paused == nil {
		writeError(w, http.StatusBadRequest, "paused is required")
		return
	}
	p, err := h.svc.SetPause(r.Context(), c, *req.Paused)
	if err != nil {
		writeServiceError(w, r, h.logger, "set pause", err)
		return
	}
	writeJSON(w, http.StatusOK, toProtocolResponse(p))
}

// TransferAdmin hands the admin role to another address.
// POST /api/protocol/admin {"new_admin": "0x..."}
func (h *ProtocolHandler) TransferAdmin(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req struct {
		NewAdmin common.Address `json:"new_admin"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.NewAdmin == (common.Address{}) {
		writeError(w, http.StatusBadRequest, "new_admin is required")
		return
	}
	p, err := h.svc.TransferAdmin(r.Context(), c, req.NewAdmin)
	if err != nil {
		writeServiceError(w, r, h.logger, "transfer admin", err)
		return
	}
	writeJSON(w, http.StatusOK, toProtocolResponse(p))
}

type updateConfigRequest struct {
	Treasury         *common.Address `json:"treasury"`
	FeeRateBps       *uint64         `json:"fee_rate_bps"`
	BatchWaitSeconds *int64          `json:"batch_wait_seconds"`
}

// UpdateConfig changes any of treasury, fee rate and batch wait.
// PATCH /api/protocol
func (h *ProtocolHandler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	c, ok := caller(w, r)
	if !ok {
		return
	}
	var req updateConfigRequest
	if !decodeBody(w, r, &req) {
		return
	}
	upd := domain.ConfigUpdate{Treasury: req.Treasury, FeeRateBps: req.FeeRateBps}
	if req.BatchWaitSeconds != nil {
		if *req.BatchWaitSeconds < 0 {
			writeError(w, http.StatusBadRequest, "batch_wait_seconds must not be negative")
			return
		}
		d := time.Duration(*req.BatchWaitSeconds) * time.Second
		upd.BatchWaitDuration = &d
	}
	p, err := h.svc.UpdateConfig(r.Context(), c, upd)
	if err != nil {
		writeServiceError(w, r, h.logger, "update config", err)
		return
	}
	writeJSON(w, http.StatusOK, toProtocolResponse(p))
}
