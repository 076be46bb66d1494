// Package chain reads token state from a blockchain node over JSON-RPC:
// current balances and the token's decimal exponent.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"tokenfolio/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0
)

// Reader reads current token state. Implementations must treat
// addresses case-insensitively.
type Reader interface {
	// TokenBalance returns the owner's balance of the token in base units.
	TokenBalance(ctx context.Context, token, owner string) (*big.Int, error)

	// TokenDecimals returns the token's decimal exponent.
	TokenDecimals(ctx context.Context, token string) (int32, error)
}

// ERC-20 function selectors.
const (
	selectorBalanceOf = "0x70a08231"
	selectorDecimals  = "0x313ce567"
)

// HTTPClient implements Reader over Ethereum-style JSON-RPC eth_call.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
	requestID   atomic.Uint64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *HTTPClient) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.retryDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *HTTPClient) {
		c.client = client
	}
}

// NewHTTPClient creates a new node JSON-RPC client.
func NewHTTPClient(endpoint string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		endpoint:    endpoint,
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Reader = (*HTTPClient)(nil)

// TokenBalance calls balanceOf(owner) on the token contract.
func (c *HTTPClient) TokenBalance(ctx context.Context, token, owner string) (*big.Int, error) {
	data, err := encodeCall(selectorBalanceOf, owner)
	if err != nil {
		return nil, err
	}

	result, err := c.ethCall(ctx, domain.NormalizeAddress(token), data)
	if err != nil {
		return nil, fmt.Errorf("balanceOf(%s): %w", owner, err)
	}
	return decodeUint(result)
}

// TokenDecimals calls decimals() on the token contract.
func (c *HTTPClient) TokenDecimals(ctx context.Context, token string) (int32, error) {
	result, err := c.ethCall(ctx, domain.NormalizeAddress(token), selectorDecimals)
	if err != nil {
		return 0, fmt.Errorf("decimals(): %w", err)
	}

	v, err := decodeUint(result)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() || v.Int64() > 77 {
		return 0, fmt.Errorf("implausible decimals value %s", v)
	}
	return int32(v.Int64()), nil
}

// encodeCall builds calldata for a one-address-argument call.
func encodeCall(selector, addr string) (string, error) {
	hex := strings.TrimPrefix(domain.NormalizeAddress(addr), "0x")
	if len(hex) == 0 || len(hex) > 40 {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	if _, ok := new(big.Int).SetString(hex, 16); !ok {
		return "", fmt.Errorf("invalid address %q", addr)
	}
	return selector + strings.Repeat("0", 64-len(hex)) + hex, nil
}

// decodeUint parses a 0x-prefixed hex word into an unsigned integer.
func decodeUint(result string) (*big.Int, error) {
	hex := strings.TrimPrefix(result, "0x")
	if hex == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(hex, 16)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("malformed call result %q", result)
	}
	return v, nil
}

// rpcRequest represents a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
}

// rpcResponse represents a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError represents a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// ethCall performs eth_call against the token contract.
func (c *HTTPClient) ethCall(ctx context.Context, to, data string) (string, error) {
	params := []interface{}{
		map[string]string{"to": to, "data": data},
		"latest",
	}

	var result string
	if err := c.call(ctx, "eth_call", params, &result); err != nil {
		return "", err
	}
	return result, nil
}

// call performs a JSON-RPC call with retries and exponential backoff.
func (c *HTTPClient) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	reqID := c.requestID.Add(1)
	reqBody := rpcRequest{
		JSONRPC: "2.0",
		ID:      reqID,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
			continue
		}

		var rpcResp rpcResponse
		if err := json.Unmarshal(respBody, &rpcResp); err != nil {
			lastErr = fmt.Errorf("unmarshal response: %w", err)
			continue
		}

		if rpcResp.Error != nil {
			// RPC errors are not retried
			return rpcResp.Error
		}

		if result != nil && rpcResp.Result != nil {
			if err := json.Unmarshal(rpcResp.Result, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
