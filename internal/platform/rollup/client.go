// Package rollup talks to the secondary execution layer that holds delegated
// pools and wagers.
package rollup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/wagerledger/internal/crypto"
	"github.com/alanyoungcy/wagerledger/internal/domain"
)

// Request authentication headers.
const (
	HeaderAddress   = "X-Ledger-Address"
	HeaderSignature = "X-Ledger-Signature"
	HeaderTimestamp = "X-Ledger-Timestamp"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 4 << 20

// Client implements domain.ExecutionLayer over the layer's JSON API. Every
// request is signed by the operator key.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	logger     *slog.Logger
	now        func() time.Time
}

var _ domain.ExecutionLayer = (*Client)(nil)

// NewClient creates a Client. A zero timeout defaults to 30s.
func NewClient(baseURL string, signer *crypto.Signer, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
		logger:     logger.With(slog.String("component", "rollup")),
		now:        time.Now,
	}
}

func (c *Client) Delegate(ctx context.Context, req domain.DelegateRequest) error {
	body := delegateBody{
		Record:    req.Record,
		Kind:      req.Kind,
		Payer:     req.Payer,
		Seeds:     hexSeeds(req.Seeds),
		Validator: req.Validator,
	}
	if _, err := c.do(ctx, "/v1/delegate", body); err != nil {
		return fmt.Errorf("rollup: delegate %s %s: %w", req.Kind, req.Record.Hex(), err)
	}
	return nil
}

func (c *Client) DelegatePermission(ctx context.Context, req domain.PermissionRequest) error {
	body := permissionBody{
		Permission:  req.Permission,
		Record:      req.Record,
		Payer:       req.Payer,
		Authority:   req.Authority,
		SignerSeeds: hexSeeds(req.SignerSeeds),
		Validator:   req.Validator,
	}
	if _, err := c.do(ctx, "/v1/delegate-permission", body); err != nil {
		return fmt.Errorf("rollup: delegate permission %s: %w", req.Permission.Hex(), err)
	}
	return nil
}

// CommitAndUndelegate commits every ref in one request. The layer applies it
// all or nothing.
func (c *Client) CommitAndUndelegate(ctx context.Context, payer common.Address, refs []domain.RecordRef) ([]domain.CommittedRecord, error) {
	raw, err := c.do(ctx, "/v1/commit-undelegate", commitBody{Payer: payer, Records: refs})
	if err != nil {
		return nil, fmt.Errorf("rollup: commit %d records: %w", len(refs), err)
	}
	var resp commitResponse
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return nil, fmt.Errorf("rollup: decode commit response: %w", err)
		}
	}
	c.logger.Debug("records committed", slog.Int("refs", len(refs)), slog.Int("returned", len(resp.Records)))
	return resp.Records, nil
}

func (c *Client) do(ctx context.Context, path string, body any) ([]byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.sign(req, path, payload); err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if err := checkResponse(resp.StatusCode, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *Client) sign(req *http.Request, path string, payload []byte) error {
	if c.signer == nil {
		return nil
	}
	ts := c.now().Unix()
	sig, err := c.signer.SignMessageHex(crypto.RequestMessage(ts, req.Method, path, payload))
	if err != nil {
		return fmt.Errorf("sign request: %w", err)
	}
	req.Header.Set(HeaderAddress, c.signer.Address().Hex())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, sig)
	return nil
}

// checkResponse maps a non-2xx response to a domain error.
func checkResponse(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}

	var er errorResponse
	msg := strings.TrimSpace(string(body))
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Code != "" {
		msg = er.Error.Message
		switch er.Error.Code {
		case codeAlreadyDelegated:
			return fmt.Errorf("%w: %s", domain.ErrAlreadyDelegated, msg)
		case codeNotDelegated:
			return fmt.Errorf("%w: %s", domain.ErrNotDelegated, msg)
		case codeUnauthorized:
			return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
		}
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, msg)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, msg)
	default:
		return &RemoteError{Status: status, Message: msg}
	}
}

// RemoteError is a layer failure with no domain meaning.
type RemoteError struct {
	Status  int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// IsRemote reports whether err is a RemoteError.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
