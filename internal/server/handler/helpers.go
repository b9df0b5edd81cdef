package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/wagerledger/internal/domain"
	"github.com/alanyoungcy/wagerledger/internal/platform/rollup"
	"github.com/alanyoungcy/wagerledger/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// errorStatus maps ledger sentinels to an HTTP status and a stable code.
var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{domain.ErrNotFound, http.StatusNotFound, "not_found"},
	{domain.ErrNotInitialized, http.StatusConflict, "not_initialized"},
	{domain.ErrDuplicateRecord, http.StatusConflict, "duplicate_record"},
	{domain.ErrAlreadyResolved, http.StatusConflict, "already_resolved"},
	{domain.ErrAlreadySettled, http.StatusConflict, "already_settled"},
	{domain.ErrAlreadyClaimed, http.StatusConflict, "already_claimed"},
	{domain.ErrAlreadyDelegated, http.StatusConflict, "already_delegated"},
	{domain.ErrNotDelegated, http.StatusConflict, "not_delegated"},
	{domain.ErrRecordDelegated, http.StatusConflict, "record_delegated"},
	{domain.ErrLockHeld, http.StatusConflict, "lock_held"},
	{domain.ErrInvalidWindow, http.StatusUnprocessableEntity, "invalid_window"},
	{domain.ErrTooEarly, http.StatusUnprocessableEntity, "too_early"},
	{domain.ErrTooLate, http.StatusUnprocessableEntity, "too_late"},
	{domain.ErrDurationTooShort, http.StatusUnprocessableEntity, "duration_too_short"},
	{domain.ErrPaused, http.StatusServiceUnavailable, "paused"},
	{domain.ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
	{domain.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{domain.ErrTransferFailed, http.StatusPaymentRequired, "transfer_failed"},
	{domain.ErrPoolMismatch, http.StatusBadRequest, "pool_mismatch"},
	{domain.ErrSeedMismatch, http.StatusBadRequest, "seed_mismatch"},
	{domain.ErrInvalidSeed, http.StatusBadRequest, "invalid_seed"},
	{domain.ErrInvalidFeeRate, http.StatusBadRequest, "invalid_fee_rate"},
	{domain.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{domain.ErrArithmeticOverflow, http.StatusBadRequest, "arithmetic_overflow"},
}

func classify(err error) (int, string) {
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	if rollup.IsRemote(err) {
		return http.StatusBadGateway, "execution_layer"
	}
	return http.StatusInternalServerError, "internal"
}

// writeServiceError reports a service failure. Internal errors are logged
// and hidden from the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, code := classify(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		if status == http.StatusInternalServerError {
			msg = op + " failed"
		}
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

// decodeBody decodes the JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// caller returns the authenticated caller or writes a 401.
func caller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	c, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "caller not authenticated")
		return common.Address{}, false
	}
	return c, true
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

// parseHash reads a 32-byte hex value.
func parseHash(s string) (common.Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%q is not a 32-byte hex value", s)
	}
	return common.BytesToHash(b), nil
}

// parseAddress reads a 20-byte hex address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%q is not an address", s)
	}
	return common.HexToAddress(s), nil
}

// hashParam reads a location from the named path segment or writes a 400.
func hashParam(w http.ResponseWriter, r *http.Request, name string) (common.Hash, bool) {
	h, err := parseHash(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, name+": "+err.Error())
		return common.Hash{}, false
	}
	return h, true
}
