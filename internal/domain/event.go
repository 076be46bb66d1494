package domain

import (
	"math/big"
	"strings"
	"time"
)

// EventKind classifies a ledger entry. The set is closed: the indexer
// reports exactly these five kinds.
type EventKind string

const (
	KindDeposit        EventKind = "DEPOSIT"
	KindWithdrawal     EventKind = "WITHDRAWAL"
	KindSwapDeposit    EventKind = "SWAP_DEPOSIT"
	KindSwapWithdrawal EventKind = "SWAP_WITHDRAWAL"
	KindTransfer       EventKind = "TRANSFER"
)

// Side selects which party of an event an address filter matches.
type Side string

const (
	// SideReceiver matches events where the address is the `to` party.
	SideReceiver Side = "to"
	// SideSender matches events where the address is the `from` party.
	SideSender Side = "from"
)

// kindSpec maps an event kind to the side that identifies the owner of
// the flow and the sign its amount carries in a cashflow series.
// Outflows from the investor are negative, inflows back are positive,
// matching the standard NPV framing.
type kindSpec struct {
	Side Side
	Sign int
}

var kindTable = map[EventKind]kindSpec{
	KindDeposit:        {Side: SideReceiver, Sign: -1},
	KindSwapDeposit:    {Side: SideReceiver, Sign: -1},
	KindWithdrawal:     {Side: SideSender, Sign: +1},
	KindSwapWithdrawal: {Side: SideSender, Sign: +1},
	// Transfers move value between owners without crossing the
	// portfolio boundary; they never contribute a cashflow.
	KindTransfer: {},
}

// DepositKinds are the mint-type kinds counted as capital put in.
var DepositKinds = []EventKind{KindDeposit, KindSwapDeposit}

// WithdrawalKinds are the burn-type kinds counted as capital taken out.
var WithdrawalKinds = []EventKind{KindWithdrawal, KindSwapWithdrawal}

// CashflowSign returns the sign an event of this kind contributes to a
// cashflow series, or 0 if the kind carries no flow.
func (k EventKind) CashflowSign() int {
	return kindTable[k].Sign
}

// OwnerSide returns which party of the event owns the flow.
func (k EventKind) OwnerSide() Side {
	return kindTable[k].Side
}

// LedgerEvent is one entry of the append-only mint/burn ledger as the
// indexer reports it. ID is an opaque cursor, totally ordered by
// recency within a fetch. Timestamp is a raw epoch that may be seconds
// or milliseconds; use NormalizeEpochMillis before deriving dates.
// Amount is an unsigned base-unit magnitude as a decimal string; the
// sign is assigned only when the event becomes a cashflow.
type LedgerEvent struct {
	ID        string
	Timestamp int64
	From      string
	To        string
	Amount    string
	Kind      EventKind
	Token     string
}

// epochMillisFloor separates second-resolution epochs from millisecond
// ones: anything above it is already in milliseconds.
const epochMillisFloor = 1_000_000_000_000

// NormalizeEpochMillis converts a raw epoch that may be in seconds or
// milliseconds to milliseconds. Every date derived from a raw event
// must go through this one function.
func NormalizeEpochMillis(epoch int64) int64 {
	if epoch > epochMillisFloor {
		return epoch
	}
	return epoch * 1000
}

// EventTime returns the event time as a UTC time.Time.
func (e *LedgerEvent) EventTime() time.Time {
	return time.UnixMilli(NormalizeEpochMillis(e.Timestamp)).UTC()
}

// ParseBaseUnits parses an unsigned base-unit decimal string. Returns
// false for anything that is not a plain non-negative integer.
func ParseBaseUnits(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

// NormalizeAddress lowercases an address. Address identity is
// case-insensitive everywhere: filters, cache keys, registry rows.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
