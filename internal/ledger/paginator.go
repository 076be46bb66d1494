package ledger

import (
	"context"
	"errors"
	"fmt"

	"tokenfolio/internal/domain"
)

const (
	// DefaultPageSize bounds per-request volume.
	DefaultPageSize = 1000

	// MaxPages is a hard safety bound on pages fetched per walk,
	// protecting against a misbehaving upstream.
	MaxPages = 100_000
)

// ErrDone signals the end of a paginated walk.
var ErrDone = errors.New("pagination done")

// Iterator walks a filtered ledger query page by page, most recent
// first, using the last event's ID as the `before` cursor. Each
// Iterate call starts a fresh cursor walk; an Iterator is not
// restartable. Cursor state is explicit so stall protection and the
// page cap are directly testable with a mock client.
type Iterator struct {
	client Client
	query  Query

	buf    []*domain.LedgerEvent
	cursor string
	pages  int
	done   bool
}

// Iterate starts a fresh walk of events matching the query.
func Iterate(client Client, query Query) *Iterator {
	return &Iterator{client: client, query: query}
}

// Next returns the next event, fetching the next page when the buffer
// is exhausted. It returns ErrDone on an empty page, a non-advancing
// cursor, or the page cap; any fetch failure is fatal for the walk.
func (it *Iterator) Next(ctx context.Context) (*domain.LedgerEvent, error) {
	for len(it.buf) == 0 {
		if it.done {
			return nil, ErrDone
		}
		if err := it.fetch(ctx); err != nil {
			it.done = true
			return nil, err
		}
	}

	ev := it.buf[0]
	it.buf = it.buf[1:]
	return ev, nil
}

// fetch requests the next page and advances the cursor.
func (it *Iterator) fetch(ctx context.Context) error {
	if it.pages >= MaxPages {
		it.done = true
		return ErrDone
	}

	page, err := it.client.FetchPage(ctx, it.query, it.cursor)
	if err != nil {
		return fmt.Errorf("fetch page %d: %w", it.pages+1, err)
	}
	it.pages++

	if len(page) == 0 {
		it.done = true
		return ErrDone
	}

	lastID := page[len(page)-1].ID
	if lastID == it.cursor {
		// Upstream failed to advance the cursor; stop rather than
		// loop forever.
		it.done = true
		return ErrDone
	}

	it.cursor = lastID
	it.buf = page
	return nil
}

// Collect drains the walk into a slice. Fatal fetch errors are
// returned as-is; ErrDone is consumed.
func (it *Iterator) Collect(ctx context.Context) ([]*domain.LedgerEvent, error) {
	var events []*domain.LedgerEvent
	for {
		ev, err := it.Next(ctx)
		if errors.Is(err, ErrDone) {
			return events, nil
		}
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
}
