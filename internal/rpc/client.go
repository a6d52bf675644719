package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RPC error codes the node reports for transient conditions.
const (
	codeNodeBehind     = -32005
	codeInternalError  = -32603
	codeTxPrecondition = -32002 // Transaction simulation / preflight failure
)

// RPCError is a JSON-RPC error response.
type RPCError struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsRetryable reports whether the error is a transient node-side
// condition worth retrying.
func (e *RPCError) IsRetryable() bool {
	if e.HTTPStatus >= 500 || e.HTTPStatus == http.StatusTooManyRequests {
		return true
	}
	return e.Code == codeNodeBehind || e.Code == codeInternalError
}

// Client talks JSON-RPC 2.0 to a Solana node.
type Client struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter

	maxRetries   int
	retryBackoff time.Duration

	nextID atomic.Int64
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// NewClient creates a new RPC client.
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger:       slog.Default(),
		limiter:      rate.NewLimiter(rate.Limit(20), 40),
		maxRetries:   3,
		retryBackoff: time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithRetries sets the retry configuration.
func WithRetries(max int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.maxRetries = max
		c.retryBackoff = backoff
	}
}

// WithRateLimit caps outbound requests per second.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call performs one JSON-RPC request and unmarshals the result.
func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	reqBody, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &RPCError{
			Code:       0,
			Message:    http.StatusText(resp.StatusCode),
			HTTPStatus: resp.StatusCode,
		}
	}

	var rr rpcResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	if rr.Error != nil {
		rr.Error.HTTPStatus = resp.StatusCode
		return rr.Error
	}

	if result != nil {
		if err := json.Unmarshal(rr.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// callWithRetry performs a call with exponential backoff on transient
// failures.
func (c *Client) callWithRetry(ctx context.Context, method string, params any, result any) error {
	var lastErr error
	backoff := c.retryBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			c.logger.Debug("retrying rpc call",
				"method", method,
				"attempt", attempt,
				"backoff", jitter,
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		err := c.call(ctx, method, params, result)
		if err == nil {
			return nil
		}

		lastErr = err

		rpcErr, ok := err.(*RPCError)
		if !ok || !rpcErr.IsRetryable() {
			return err
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// GetLatestBlockhash returns the node's latest blockhash.
func (c *Client) GetLatestBlockhash(ctx context.Context) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}

	params := []any{map[string]string{"commitment": "confirmed"}}
	if err := c.callWithRetry(ctx, "getLatestBlockhash", params, &result); err != nil {
		return "", err
	}
	if result.Value.Blockhash == "" {
		return "", fmt.Errorf("empty blockhash in response")
	}
	return result.Value.Blockhash, nil
}

// SendTransaction submits a signed wire transaction and returns its
// signature. The node's preflight checks stay enabled so deterministic
// program rejections surface here rather than on-chain.
func (c *Client) SendTransaction(ctx context.Context, wire []byte) (string, error) {
	params := []any{
		base64.StdEncoding.EncodeToString(wire),
		map[string]any{"encoding": "base64"},
	}

	var signature string
	// Single shot: the submitter owns the retry policy for sends.
	if err := c.call(ctx, "sendTransaction", params, &signature); err != nil {
		return "", err
	}
	return signature, nil
}

// AccountData is one account returned by a program scan.
type AccountData struct {
	Pubkey string
	Data   []byte
}

// GetProgramAccounts returns all accounts owned by a program.
func (c *Client) GetProgramAccounts(ctx context.Context, programID string) ([]AccountData, error) {
	params := []any{
		programID,
		map[string]any{"encoding": "base64", "commitment": "confirmed"},
	}

	var result []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data []string `json:"data"`
		} `json:"account"`
	}
	if err := c.callWithRetry(ctx, "getProgramAccounts", params, &result); err != nil {
		return nil, err
	}

	out := make([]AccountData, 0, len(result))
	for _, acc := range result {
		if len(acc.Account.Data) == 0 {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(acc.Account.Data[0])
		if err != nil {
			c.logger.Warn("skipping account with undecodable data",
				"pubkey", acc.Pubkey,
				"error", err,
			)
			continue
		}
		out = append(out, AccountData{Pubkey: acc.Pubkey, Data: raw})
	}
	return out, nil
}
