// Package stub provides a scripted ledger.Client for tests.
package stub

import (
	"context"
	"sync"

	"tokenfolio/internal/domain"
	"tokenfolio/internal/ledger"
)

// Client implements ledger.Client over an in-memory event list held
// most-recent-first, the order the real indexer returns. The engine
// drives one shared client from concurrent goroutines, so calls are
// serialized by a mutex; read the counters only after the walks join.
type Client struct {
	mu sync.Mutex

	// Events in most-recent-first order.
	Events []*domain.LedgerEvent

	// Err, when set, fails every FetchPage call.
	Err error

	// Stall, when true, returns the same page regardless of cursor,
	// simulating an upstream that fails to advance.
	Stall bool

	// FetchCalls counts FetchPage invocations.
	FetchCalls int
}

// NewClient creates a stub client over the given events.
func NewClient(events ...*domain.LedgerEvent) *Client {
	return &Client{Events: events}
}

// Compile-time interface check.
var _ ledger.Client = (*Client)(nil)

// FetchPage returns the page of matching events after the cursor.
func (c *Client) FetchPage(_ context.Context, q ledger.Query, cursor string) ([]*domain.LedgerEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.FetchCalls++

	if c.Err != nil {
		return nil, c.Err
	}

	matched := c.match(q)

	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = ledger.DefaultPageSize
	}

	start := 0
	if cursor != "" && !c.Stall {
		for i, ev := range matched {
			if ev.ID == cursor {
				start = i + 1
				break
			}
		}
	}

	if start >= len(matched) {
		return nil, nil
	}

	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

// match filters events by counterparty side and kind set.
func (c *Client) match(q ledger.Query) []*domain.LedgerEvent {
	addr := domain.NormalizeAddress(q.Counterparty)

	var out []*domain.LedgerEvent
	for _, ev := range c.Events {
		switch q.Side {
		case domain.SideReceiver:
			if ev.To != addr {
				continue
			}
		case domain.SideSender:
			if ev.From != addr {
				continue
			}
		}
		if len(q.Kinds) > 0 && !kindIn(ev.Kind, q.Kinds) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func kindIn(k domain.EventKind, kinds []domain.EventKind) bool {
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
