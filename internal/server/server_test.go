package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/crypto"
	"github.com/alanyoungcy/wagerledger/internal/ledger"
	"github.com/alanyoungcy/wagerledger/internal/platform/rollup"
	"github.com/alanyoungcy/wagerledger/internal/server/handler"
	"github.com/alanyoungcy/wagerledger/internal/server/middleware"
	"github.com/alanyoungcy/wagerledger/internal/service"
	"github.com/alanyoungcy/wagerledger/internal/store/memory"
)

const (
	adminKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	userKey  = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
)

var (
	treasury  = common.HexToAddress("0x0000000000000000000000000000000000007ea5")
	asset     = common.HexToAddress("0x0000000000000000000000000000000000000a55")
	validator = common.HexToAddress("0x00000000000000000000000000000000000000e7")
	ledgerNow = time.Unix(1_700_000_000, 0).UTC()
)

type harness struct {
	t     *testing.T
	h     http.Handler
	store *memory.Store
	admin *crypto.Signer
	user  *crypto.Signer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()
	core := ledger.New(store, rollup.NewLoopback(), nil, logger).WithClock(func() time.Time { return ledgerNow })
	svc := service.NewLedgerService(core, store, nil, nil, logger)

	srv := NewServer(Config{MaxSignatureSkew: time.Minute}, Handlers{
		Health:   handler.NewHealthHandler(nil, logger),
		Protocol: handler.NewProtocolHandler(svc, logger),
		Pools:    handler.NewPoolHandler(svc, validator, logger),
		Bets:     handler.NewBetHandler(svc, validator, logger),
		Locate:   handler.NewLocateHandler(svc, logger),
	}, nil, nil, logger)

	admin, err := crypto.NewSigner(adminKey)
	if err != nil {
		t.Fatal(err)
	}
	user, err := crypto.NewSigner(userKey)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{t: t, h: srv.Handler(), store: store, admin: admin, user: user}
}

// do sends a request, signed when s is non-nil, and decodes the JSON reply.
func (h *harness) do(s *crypto.Signer, method, path string, body any, out any) int {
	h.t.Helper()
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			h.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	if s != nil {
		ts := time.Now().Unix()
		sig, err := s.SignMessageHex(crypto.RequestMessage(ts, method, req.URL.Path, raw))
		if err != nil {
			h.t.Fatal(err)
		}
		req.Header.Set(middleware.HeaderCallerAddress, s.Address().Hex())
		req.Header.Set(middleware.HeaderCallerTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(middleware.HeaderCallerSignature, sig)
	}
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			h.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func TestLedgerAPI(t *testing.T) {
	h := newHarness(t)

	var apiErr apiError
	if code := h.do(nil, "GET", "/api/protocol", nil, &apiErr); code != http.StatusConflict || apiErr.Code != "not_initialized" {
		t.Fatalf("protocol before init = %d %+v", code, apiErr)
	}

	if code := h.do(nil, "POST", "/api/protocol", map[string]any{"treasury": treasury, "fee_rate_bps": 250}, nil); code != http.StatusUnauthorized {
		t.Fatalf("unsigned init = %d", code)
	}

	var proto struct {
		Admin            common.Address `json:"admin"`
		FeeRateBps       uint64         `json:"fee_rate_bps"`
		BatchWaitSeconds int64          `json:"batch_wait_seconds"`
	}
	if code := h.do(h.admin, "POST", "/api/protocol", map[string]any{"treasury": treasury, "fee_rate_bps": 250}, &proto); code != http.StatusCreated {
		t.Fatalf("init = %d", code)
	}
	if proto.Admin != h.admin.Address() || proto.FeeRateBps != 250 || proto.BatchWaitSeconds != 60 {
		t.Fatalf("protocol = %+v", proto)
	}

	if code := h.do(h.user, "POST", "/api/protocol/pause", map[string]any{"paused": true}, &apiErr); code != http.StatusForbidden {
		t.Fatalf("non-admin pause = %d", code)
	}

	if code := h.do(h.admin, "PATCH", "/api/protocol", map[string]any{"batch_wait_seconds": 120}, &proto); code != http.StatusOK || proto.BatchWaitSeconds != 120 {
		t.Fatalf("update config = %d %+v", code, proto)
	}

	var pool struct {
		Location common.Hash `json:"location"`
		Name     string      `json:"name"`
	}
	createBody := map[string]any{
		"pool_id":    1,
		"name":       "btc-close",
		"asset":      asset,
		"start_time": ledgerNow.Add(-time.Minute),
		"end_time":   ledgerNow.Add(time.Hour),
	}
	if code := h.do(h.admin, "POST", "/api/pools", createBody, &pool); code != http.StatusCreated || pool.Name != "btc-close" {
		t.Fatalf("create pool = %d %+v", code, pool)
	}

	var located service.Location
	path := "/api/locate/pool?admin=" + h.admin.Address().Hex() + "&pool_id=1"
	if code := h.do(nil, "GET", path, nil, &located); code != http.StatusOK || located.Location != pool.Location {
		t.Fatalf("locate pool = %d %+v, want %s", code, located, pool.Location.Hex())
	}

	poolPath := "/api/pools/" + pool.Location.Hex()
	if _, err := h.store.Fund(asset, h.user.Address(), 1_000); err != nil {
		t.Fatal(err)
	}

	var bet struct {
		Location common.Hash `json:"location"`
		Deposit  uint64      `json:"deposit"`
	}
	if code := h.do(h.user, "POST", poolPath+"/bets", map[string]any{"amount": 400, "request_id": "r-1"}, &bet); code != http.StatusCreated || bet.Deposit != 400 {
		t.Fatalf("place bet = %d %+v", code, bet)
	}
	if code := h.do(h.user, "POST", poolPath+"/bets", map[string]any{"amount": 400, "request_id": "r-1"}, &apiErr); code != http.StatusConflict || apiErr.Code != "duplicate_record" {
		t.Fatalf("duplicate bet = %d %+v", code, apiErr)
	}
	if code := h.do(h.user, "POST", poolPath+"/bets", map[string]any{"amount": 5_000, "request_id": "r-2"}, &apiErr); code != http.StatusPaymentRequired {
		t.Fatalf("overdraft bet = %d %+v", code, apiErr)
	}

	var bets struct {
		Bets []json.RawMessage `json:"bets"`
	}
	if code := h.do(nil, "GET", poolPath+"/bets", nil, &bets); code != http.StatusOK || len(bets.Bets) != 1 {
		t.Fatalf("list bets = %d %d", code, len(bets.Bets))
	}

	delegate := map[string]any{"pool": pool.Location, "request_id": "r-1"}
	if code := h.do(h.admin, "POST", "/api/bets/"+bet.Location.Hex()+"/delegate", delegate, &apiErr); code != http.StatusForbidden {
		t.Fatalf("delegate someone else's bet = %d", code)
	}
	if code := h.do(h.user, "POST", "/api/bets/"+bet.Location.Hex()+"/delegate", delegate, nil); code != http.StatusOK {
		t.Fatalf("delegate bet = %d", code)
	}

	var d struct {
		State     string         `json:"state"`
		Validator common.Address `json:"validator"`
	}
	if code := h.do(nil, "GET", "/api/records/"+bet.Location.Hex()+"/delegation", nil, &d); code != http.StatusOK || d.State != "delegated" || d.Validator != validator {
		t.Fatalf("delegation = %d %+v", code, d)
	}

	undelegate := map[string]any{"bets": []common.Hash{bet.Location}}
	if code := h.do(h.user, "POST", poolPath+"/bets/undelegate", undelegate, &apiErr); code != http.StatusUnprocessableEntity || apiErr.Code != "too_early" {
		t.Fatalf("undelegate before end = %d %+v", code, apiErr)
	}

	if code := h.do(h.admin, "POST", poolPath+"/resolve", map[string]any{"outcome": 7}, &apiErr); code != http.StatusUnprocessableEntity {
		t.Fatalf("resolve before end = %d", code)
	}
	if code := h.do(h.user, "POST", poolPath+"/finalize", nil, &apiErr); code != http.StatusUnprocessableEntity {
		t.Fatalf("finalize unresolved = %d %+v", code, apiErr)
	}
}

func TestLedgerAPIBadInput(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name   string
		signer bool
		method string
		path   string
		body   any
		status int
	}{
		{name: "bad pool hex", method: "GET", path: "/api/pools/0x1234", status: http.StatusBadRequest},
		{name: "unknown pool", method: "GET", path: "/api/pools/0x" + "11" + string(bytes.Repeat([]byte("0"), 62)), status: http.StatusNotFound},
		{name: "bad locate admin", method: "GET", path: "/api/locate/pool?admin=nope&pool_id=1", status: http.StatusBadRequest},
		{name: "bad locate id", method: "GET", path: "/api/locate/pool?admin=0x00000000000000000000000000000000000000ad&pool_id=-1", status: http.StatusBadRequest},
		{name: "unknown field", signer: true, method: "POST", path: "/api/protocol", body: map[string]any{"treasury": treasury, "bogus": 1}, status: http.StatusBadRequest},
		{name: "missing treasury", signer: true, method: "POST", path: "/api/protocol", body: map[string]any{"fee_rate_bps": 1}, status: http.StatusBadRequest},
		{name: "missing outcome", signer: true, method: "POST", path: "/api/pools/0x" + string(bytes.Repeat([]byte("1"), 64)) + "/resolve", body: map[string]any{}, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s *crypto.Signer
			if tt.signer {
				s = h.admin
			}
			if code := h.do(s, tt.method, tt.path, tt.body, nil); code != tt.status {
				t.Fatalf("status = %d, want %d", code, tt.status)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	var body struct {
		Status string `json:"status"`
	}
	if code := h.do(nil, "GET", "/api/health", nil, &body); code != http.StatusOK || body.Status != "ok" {
		t.Fatalf("health = %d %+v", code, body)
	}
}
