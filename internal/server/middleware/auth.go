package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/crypto"
)

// Headers carrying the caller's request signature.
const (
	HeaderCallerAddress   = "X-Caller-Address"
	HeaderCallerTimestamp = "X-Caller-Timestamp"
	HeaderCallerSignature = "X-Caller-Signature"
)

// maxSignedBody bounds the body read for signature verification.
const maxSignedBody = 1 << 20

type callerKey struct{}

// WithCaller returns a context carrying the authenticated caller.
func WithCaller(ctx context.Context, caller common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller set by CallerAuth.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	c, ok := ctx.Value(callerKey{}).(common.Address)
	return c, ok
}

// CallerAuth returns middleware that authenticates the caller from an EIP-191
// signature over crypto.RequestMessage. Requests whose timestamp is more than
// maxSkew away from now are rejected. now may be nil.
func CallerAuth(maxSkew time.Duration, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			addr := strings.TrimSpace(r.Header.Get(HeaderCallerAddress))
			tsRaw := strings.TrimSpace(r.Header.Get(HeaderCallerTimestamp))
			sig := strings.TrimSpace(r.Header.Get(HeaderCallerSignature))
			if addr == "" || tsRaw == "" || sig == "" {
				writeUnauthorized(w, "missing caller signature")
				return
			}
			if !common.IsHexAddress(addr) {
				writeUnauthorized(w, "invalid caller address")
				return
			}
			ts, err := strconv.ParseInt(tsRaw, 10, 64)
			if err != nil {
				writeUnauthorized(w, "invalid caller timestamp")
				return
			}
			if skew := now().Sub(time.Unix(ts, 0)).Abs(); skew > maxSkew {
				writeUnauthorized(w, "caller timestamp outside allowed skew")
				return
			}

			var body []byte
			if r.Body != nil {
				body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
				if err != nil {
					writeUnauthorized(w, "unreadable request body")
					return
				}
				if len(body) > maxSignedBody {
					writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			caller := common.HexToAddress(addr)
			msg := crypto.RequestMessage(ts, r.Method, r.URL.Path, body)
			if err := crypto.VerifyMessage(msg, sig, caller); err != nil {
				writeUnauthorized(w, "invalid caller signature")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	writeJSONError(w, http.StatusUnauthorized, msg)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":` + strconv.Quote(msg) + `}`))
}
