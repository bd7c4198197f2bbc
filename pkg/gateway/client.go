package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultCallTimeout = 15 * time.Second

// Client is a JSON-RPC 2.0 client over HTTP with at most one failover from
// the primary to the secondary endpoint per logical call. It is safe for
// concurrent use and shared read-only across all trigger tasks.
type Client struct {
	endpoints []string
	httpc     *http.Client
	logger    *slog.Logger
}

// NewClient creates a gateway client. The first endpoint is the primary;
// an optional second endpoint is tried once when the primary is
// unreachable. A zero timeout applies the default.
func NewClient(endpoints []string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("at least one rpc endpoint is required")
	}

	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	return &Client{
		endpoints: endpoints,
		httpc:     &http.Client{Timeout: timeout},
		logger:    logger.With("module", "gateway"),
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int64  `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Call performs the JSON-RPC call against the primary endpoint, failing
// over to the secondary exactly once on a connection-class error. An RPC
// error from the node is returned as *RPCError without failover.
func (c *Client) Call(ctx context.Context, method string, params []any, out any) error {
	if params == nil {
		params = []any{}
	}

	var lastErr error

	limit := len(c.endpoints)
	if limit > 2 {
		limit = 2
	}

	for i := 0; i < limit; i++ {
		endpoint := c.endpoints[i]

		err := c.callEndpoint(ctx, endpoint, method, params, out)
		if err == nil {
			return nil
		}

		if !IsConnError(err) {
			return err
		}

		lastErr = err

		if i+1 < limit {
			c.logger.Warn("Primary endpoint unreachable, failing over",
				"endpoint", endpoint, "method", method, "error", err)
		}
	}

	return lastErr
}

func (c *Client) callEndpoint(ctx context.Context, endpoint, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return &ConnError{Endpoint: endpoint, Err: err}
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return &ConnError{Endpoint: endpoint, Err: err}
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &ConnError{Endpoint: endpoint, Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ConnError{Endpoint: endpoint, Err: err}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return &ConnError{Endpoint: endpoint, Err: fmt.Errorf("decode rpc response: %w", err)}
	}

	if rpcResp.Error != nil {
		return &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return &ConnError{Endpoint: endpoint, Err: fmt.Errorf("decode rpc result: %w", err)}
		}
	}

	return nil
}

// BlockCount returns the node's current block count.
func (c *Client) BlockCount(ctx context.Context) (int64, error) {
	var count int64
	if err := c.Call(ctx, "getblockcount", nil, &count); err != nil {
		return 0, err
	}

	return count, nil
}

// TransactionHeight returns the inclusion height of a transaction, or
// ErrTransactionNotFound while the chain has not included it.
func (c *Client) TransactionHeight(ctx context.Context, txID string) (int64, error) {
	var height int64

	err := c.Call(ctx, "gettransactionheight", []any{txID}, &height)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && strings.Contains(strings.ToLower(rpcErr.Message), "unknown transaction") {
			return 0, fmt.Errorf("%w: %s", ErrTransactionNotFound, txID)
		}

		return 0, err
	}

	return height, nil
}

// SendRawTransaction broadcasts signed bytes, base64-encoded per the node's
// wire convention, and returns the assigned transaction hash.
func (c *Client) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	var result struct {
		Hash string `json:"hash"`
	}

	encoded := base64.StdEncoding.EncodeToString(raw)
	if err := c.Call(ctx, "sendrawtransaction", []any{encoded}, &result); err != nil {
		return "", err
	}

	return result.Hash, nil
}

// TokenBalance queries the node's token balance index for one asset.
func (c *Client) TokenBalance(ctx context.Context, address, assetHash string) (int64, error) {
	var result struct {
		Balance []struct {
			AssetHash string `json:"assethash"`
			Amount    string `json:"amount"`
		} `json:"balance"`
	}

	if err := c.Call(ctx, "getnep17balances", []any{address}, &result); err != nil {
		return 0, err
	}

	for _, entry := range result.Balance {
		if strings.EqualFold(entry.AssetHash, assetHash) {
			amount, err := strconv.ParseInt(entry.Amount, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("parse balance amount %q: %w", entry.Amount, err)
			}

			return amount, nil
		}
	}

	// The index omits assets the address has never held.
	return 0, nil
}
