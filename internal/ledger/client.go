// Package ledger provides access to the remote transfer-event indexer:
// a GraphQL-over-HTTP query client and a cursor-based paginator over
// its results.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
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

// Query selects ledger events by counterparty address and kind.
type Query struct {
	// Counterparty is the address the Side field must match.
	Counterparty string
	// Side selects whether Counterparty matches `from` or `to`.
	Side domain.Side
	// Kinds restricts event kinds. Empty means all kinds.
	Kinds []domain.EventKind
	// PageSize bounds per-request volume. Zero means DefaultPageSize.
	PageSize int
}

// Client fetches one page of ledger events. Pages are most-recent-first;
// cursor is the ID of the last event of the previous page ("" for the
// first page). A non-success response or unparsable payload is an error
// for the in-flight fetch, never a silent partial result.
type Client interface {
	FetchPage(ctx context.Context, q Query, cursor string) ([]*domain.LedgerEvent, error)
}

// HTTPClient implements Client against the indexer's GraphQL endpoint.
type HTTPClient struct {
	endpoint    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures HTTPClient.
type ClientOption func(*HTTPClient)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum transport-level retry attempts.
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

// NewHTTPClient creates a new indexer query client.
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
var _ Client = (*HTTPClient)(nil)

// transferEventsQuery requests one page of events, newest first, using
// the last seen ID as the `before` cursor.
const transferEventsQuery = `query TransferEvents($where: TransferEventFilter!, $first: Int!, $before: ID) {
  transferEvents(where: $where, first: $first, before: $before, orderBy: ID, orderDirection: desc) {
    id
    timestamp
    from
    to
    amount
    kind
    token
  }
}`

// graphqlRequest is the POST body of a GraphQL query.
type graphqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// graphqlError is one entry of a GraphQL `errors` payload.
type graphqlError struct {
	Message string `json:"message"`
}

// eventJSON mirrors the indexer's wire representation of an event.
type eventJSON struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Kind      string `json:"kind"`
	Token     string `json:"token"`
}

type transferEventsResponse struct {
	Data struct {
		TransferEvents []eventJSON `json:"transferEvents"`
	} `json:"data"`
	Errors []graphqlError `json:"errors"`
}

// FetchPage fetches one page of events matching the query.
func (c *HTTPClient) FetchPage(ctx context.Context, q Query, cursor string) ([]*domain.LedgerEvent, error) {
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	where := map[string]interface{}{
		string(q.Side): domain.NormalizeAddress(q.Counterparty),
	}
	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			kinds[i] = string(k)
		}
		where["kind_in"] = kinds
	}

	vars := map[string]interface{}{
		"where": where,
		"first": pageSize,
	}
	if cursor != "" {
		vars["before"] = cursor
	}

	var resp transferEventsResponse
	if err := c.post(ctx, graphqlRequest{Query: transferEventsQuery, Variables: vars}, &resp); err != nil {
		return nil, err
	}

	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("indexer query error: %s", resp.Errors[0].Message)
	}

	events := make([]*domain.LedgerEvent, 0, len(resp.Data.TransferEvents))
	for _, e := range resp.Data.TransferEvents {
		events = append(events, &domain.LedgerEvent{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			From:      domain.NormalizeAddress(e.From),
			To:        domain.NormalizeAddress(e.To),
			Amount:    e.Amount,
			Kind:      domain.EventKind(e.Kind),
			Token:     domain.NormalizeAddress(e.Token),
		})
	}
	return events, nil
}

// post performs the HTTP round trip with transport-level retries and
// exponential backoff. Query-level errors (GraphQL errors payload) are
// handled by the caller and never retried.
func (c *HTTPClient) post(ctx context.Context, reqBody graphqlRequest, result interface{}) error {
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

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}

		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}
