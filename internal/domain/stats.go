package domain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// AggregateTotals holds unsigned gross flow totals in base units for
// one address or summed over an address set.
type AggregateTotals struct {
	GrossDeposited *big.Int
	GrossWithdrawn *big.Int
}

// NewAggregateTotals returns zeroed totals.
func NewAggregateTotals() *AggregateTotals {
	return &AggregateTotals{
		GrossDeposited: new(big.Int),
		GrossWithdrawn: new(big.Int),
	}
}

// NetDeposited is grossDeposited − grossWithdrawn. Negative when more
// was withdrawn than ever deposited.
func (t *AggregateTotals) NetDeposited() *big.Int {
	return new(big.Int).Sub(t.GrossDeposited, t.GrossWithdrawn)
}

// PortfolioStats is the engine's output. Yield is profit-and-loss
// since inception: balance + grossWithdrawn − grossDeposited (capital
// already taken out is credited back when measuring total return).
// APY is a decimal rate, 0.12 meaning 12% annualized, and zero when
// the cashflow series admits no solution.
type PortfolioStats struct {
	Deposited decimal.Decimal `json:"deposited"`
	Balance   decimal.Decimal `json:"balance"`
	Yield     decimal.Decimal `json:"yield"`
	APY       decimal.Decimal `json:"apy"`
}

// ZeroStats is the all-zero snapshot reported for an empty address set.
func ZeroStats() *PortfolioStats {
	return &PortfolioStats{
		Deposited: decimal.Zero,
		Balance:   decimal.Zero,
		Yield:     decimal.Zero,
		APY:       decimal.Zero,
	}
}

// TrackedAddress is one registry row: a user follows an address.
// Address is stored normalized (lowercase).
type TrackedAddress struct {
	UserID  string `json:"user_id"`
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
	AddedAt int64  `json:"added_at"` // Unix timestamp in milliseconds
}

// StatsSnapshot is an archived PortfolioStats with provenance, written
// by the serving layer after each successful computation.
type StatsSnapshot struct {
	SnapshotID string          `json:"snapshot_id"`
	UserID     string          `json:"user_id"`
	Addresses  int             `json:"addresses"`
	Deposited  decimal.Decimal `json:"deposited"`
	Balance    decimal.Decimal `json:"balance"`
	Yield      decimal.Decimal `json:"yield"`
	APY        decimal.Decimal `json:"apy"`
	CreatedAt  int64           `json:"created_at"` // Unix timestamp in milliseconds
}
