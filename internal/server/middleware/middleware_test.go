package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/crypto"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func signedRequest(t *testing.T, s *crypto.Signer, method, path, body string, ts int64) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	sig, err := s.SignMessageHex(crypto.RequestMessage(ts, method, path, []byte(body)))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(HeaderCallerAddress, s.Address().Hex())
	req.Header.Set(HeaderCallerTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderCallerSignature, sig)
	return req
}

func TestCallerAuth(t *testing.T) {
	signer, err := crypto.NewSigner(testKey)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Unix(1_700_000_000, 0)
	mw := CallerAuth(30*time.Second, func() time.Time { return now })

	var gotBody string
	var gotCaller string
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		c, _ := CallerFrom(r.Context())
		gotCaller = c.Hex()
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{
			name:   "valid",
			req:    func() *http.Request { return signedRequest(t, signer, "POST", "/api/pools", `{"a":1}`, now.Unix()) },
			status: http.StatusNoContent,
		},
		{
			name: "missing headers",
			req: func() *http.Request {
				return httptest.NewRequest("POST", "/api/pools", nil)
			},
			status: http.StatusUnauthorized,
		},
		{
			name:   "stale timestamp",
			req:    func() *http.Request { return signedRequest(t, signer, "POST", "/api/pools", "", now.Unix()-31) },
			status: http.StatusUnauthorized,
		},
		{
			name: "tampered body",
			req: func() *http.Request {
				r := signedRequest(t, signer, "POST", "/api/pools", `{"a":1}`, now.Unix())
				r.Body = io.NopCloser(strings.NewReader(`{"a":2}`))
				return r
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "other path",
			req: func() *http.Request {
				r := signedRequest(t, signer, "POST", "/api/pools", "", now.Unix())
				r.URL.Path = "/api/protocol"
				return r
			},
			status: http.StatusUnauthorized,
		},
		{
			name: "wrong address",
			req: func() *http.Request {
				r := signedRequest(t, signer, "POST", "/api/pools", "", now.Unix())
				r.Header.Set(HeaderCallerAddress, "0x0000000000000000000000000000000000000001")
				return r
			},
			status: http.StatusUnauthorized,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, tt.req())
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, signedRequest(t, signer, "POST", "/api/pools", `{"a":1}`, now.Unix()))
	if gotBody != `{"a":1}` {
		t.Errorf("body not replayed: %q", gotBody)
	}
	if gotCaller != signer.Address().Hex() {
		t.Errorf("caller = %s", gotCaller)
	}
}

type fakeLimiter struct {
	keys  []string
	allow bool
	err   error
}

func (f *fakeLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	f.keys = append(f.keys, key)
	return f.allow, f.err
}

func TestRateLimit(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	tests := []struct {
		name    string
		limiter *fakeLimiter
		caller  bool
		status  int
		key     string
	}{
		{name: "allowed by ip", limiter: &fakeLimiter{allow: true}, status: http.StatusOK, key: "ratelimit:ip:192.0.2.1"},
		{name: "denied", limiter: &fakeLimiter{allow: false}, status: http.StatusTooManyRequests, key: "ratelimit:ip:192.0.2.1"},
		{name: "fails open", limiter: &fakeLimiter{err: errors.New("down")}, status: http.StatusOK, key: "ratelimit:ip:192.0.2.1"},
		{
			name: "keyed by caller", limiter: &fakeLimiter{allow: true}, caller: true, status: http.StatusOK,
			key: "ratelimit:caller:0x00000000000000000000000000000000000000ad",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RateLimit(tt.limiter, 5, time.Minute, logger)(ok)
			req := httptest.NewRequest("POST", "/api/pools", nil)
			if tt.caller {
				addr := common.HexToAddress("0x00000000000000000000000000000000000000AD")
				req = req.WithContext(WithCaller(req.Context(), addr))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if len(tt.limiter.keys) != 1 || tt.limiter.keys[0] != tt.key {
				t.Fatalf("keys = %v, want %s", tt.limiter.keys, tt.key)
			}
		})
	}

	rec := httptest.NewRecorder()
	RateLimit(nil, 5, time.Minute, logger)(ok).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("nil limiter status = %d", rec.Code)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded", headers: map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, remote: "10.0.0.1:1", want: "203.0.113.5"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": " 203.0.113.6 "}, remote: "10.0.0.1:1", want: "203.0.113.6"},
		{name: "remote", remote: "198.51.100.7:4040", want: "198.51.100.7"},
		{name: "no port", remote: "198.51.100.8", want: "198.51.100.8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := extractClientIP(r); got != tt.want {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("preflight reached handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/api/pools", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow origin = %q", got)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), HeaderCallerSignature) {
		t.Fatal("caller signature header not allowed")
	}
}
