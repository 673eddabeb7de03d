// Package solanarpc reads voucher escrow accounts from a Solana JSON-RPC node.
package solanarpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/mr-tron/base58"
	"github.com/tidwall/gjson"

	"github.com/ghvoucher/voucher-bridge/internal/domain"
	"github.com/ghvoucher/voucher-bridge/internal/platform/config"
	"github.com/ghvoucher/voucher-bridge/internal/ports/out/ledger"
)

const maxResponseBytes = 32 << 20

// Client implements ledger.Reader. It is read-only and safe for concurrent use.
type Client struct {
	endpoint   string
	programID  domain.Address
	commitment string
	httpClient *http.Client
	logger     *slog.Logger
	nextID     atomic.Uint64
}

func NewClient(cfg config.LedgerConfig, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	programID, err := domain.ParseAddress(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("program id: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = "confirmed"
	}
	return &Client{
		endpoint:   cfg.RPCURL,
		programID:  programID,
		commitment: commitment,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (c *Client) GetVoucher(ctx context.Context, address domain.Address) (domain.VoucherRecord, error) {
	result, err := c.call(ctx, "getAccountInfo", address.String(), map[string]any{
		"encoding":   "base64",
		"commitment": c.commitment,
	})
	if err != nil {
		return domain.VoucherRecord{}, err
	}
	value := result.Get("value")
	if !value.Exists() || value.Type == gjson.Null {
		return domain.VoucherRecord{}, ledger.ErrNotFound
	}
	if owner := value.Get("owner").String(); owner != c.programID.String() {
		return domain.VoucherRecord{}, fmt.Errorf("%w: owned by %s", ledger.ErrMalformedAccount, owner)
	}
	data, err := accountData(value)
	if err != nil {
		return domain.VoucherRecord{}, err
	}
	return DecodeVoucherAccount(address, data)
}

// ListVouchers returns every voucher account of the program. Accounts that fail to decode are
// logged and skipped.
func (c *Client) ListVouchers(ctx context.Context) ([]domain.VoucherRecord, error) {
	result, err := c.call(ctx, "getProgramAccounts", c.programID.String(), map[string]any{
		"encoding":   "base64",
		"commitment": c.commitment,
		"filters": []any{
			map[string]any{"memcmp": map[string]any{
				"offset": 0,
				"bytes":  base58.Encode(VoucherDiscriminator[:]),
			}},
		},
	})
	if err != nil {
		return nil, err
	}
	if !result.IsArray() {
		return nil, fmt.Errorf("%w: getProgramAccounts returned %s", ledger.ErrUnavailable, result.Type)
	}

	var out []domain.VoucherRecord
	for _, entry := range result.Array() {
		pubkey := entry.Get("pubkey").String()
		address, err := domain.ParseAddress(pubkey)
		if err != nil {
			c.logger.WarnContext(ctx, "skipping account with invalid pubkey", "pubkey", pubkey)
			continue
		}
		data, err := accountData(entry.Get("account"))
		if err == nil {
			var rec domain.VoucherRecord
			rec, err = DecodeVoucherAccount(address, data)
			if err == nil {
				out = append(out, rec)
				continue
			}
		}
		c.logger.WarnContext(ctx, "skipping undecodable voucher account", "address", pubkey, "err", err)
	}
	return out, nil
}

func accountData(account gjson.Result) ([]byte, error) {
	data := account.Get("data")
	if !data.IsArray() || data.Get("1").String() != "base64" {
		return nil, fmt.Errorf("%w: unexpected data encoding", ledger.ErrMalformedAccount)
	}
	raw, err := base64.StdEncoding.DecodeString(data.Get("0").String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ledger.ErrMalformedAccount, err)
	}
	return raw, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// call performs one JSON-RPC request and returns its result. Every transport, HTTP or
// JSON-RPC level failure is ledger.ErrUnavailable.
func (c *Client) call(ctx context.Context, method string, params ...any) (gjson.Result, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: c.nextID.Add(1), Method: method, Params: params})
	if err != nil {
		return gjson.Result{}, fmt.Errorf("solanarpc: encoding %s: %w", method, err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("solanarpc: creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s: %v", ledger.ErrUnavailable, method, err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %s: reading response: %v", ledger.ErrUnavailable, method, err)
	}
	if response.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%w: %s: HTTP %d", ledger.ErrUnavailable, method, response.StatusCode)
	}
	if !gjson.ValidBytes(payload) {
		return gjson.Result{}, fmt.Errorf("%w: %s: invalid JSON response", ledger.ErrUnavailable, method)
	}
	if rpcErr := gjson.GetBytes(payload, "error"); rpcErr.Exists() && rpcErr.Type != gjson.Null {
		return gjson.Result{}, fmt.Errorf("%w: %s: rpc error %d: %s", ledger.ErrUnavailable, method,
			rpcErr.Get("code").Int(), rpcErr.Get("message").String())
	}
	result := gjson.GetBytes(payload, "result")
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s: response has no result", ledger.ErrUnavailable, method)
	}
	return result, nil
}
