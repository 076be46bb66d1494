package domain

import (
	"math/big"
	"sort"
	"time"
)

// CashflowEntry is a dated, signed base-unit amount. Deposits into the
// portfolio are negative, withdrawals and the terminal valuation are
// positive. EventID keeps multi-address merges deterministic when two
// entries share a date.
type CashflowEntry struct {
	Date    time.Time
	Amount  *big.Int
	EventID string
}

// SortCashflows orders entries ascending by date, ties broken by
// event ID. Ledger IDs are globally unique, so the order is total.
func SortCashflows(flows []CashflowEntry) {
	sort.Slice(flows, func(i, j int) bool {
		if !flows[i].Date.Equal(flows[j].Date) {
			return flows[i].Date.Before(flows[j].Date)
		}
		return flows[i].EventID < flows[j].EventID
	})
}
