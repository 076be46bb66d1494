package stats

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chainstub "tokenfolio/internal/chain/stub"
	"tokenfolio/internal/domain"
	ledgerstub "tokenfolio/internal/ledger/stub"
)

const (
	vault = "0xVault"
	addrA = "0xAAA"
	addrB = "0xBBB"
)

func testClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func baseUnits(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad base units: " + s)
	}
	return v
}

func TestComputeStats_EmptyAddressSetShortCircuits(t *testing.T) {
	ledgerClient := ledgerstub.NewClient()
	chainReader := chainstub.NewReader()

	e := New(Options{Token: vault, Ledger: ledgerClient, Chain: chainReader})
	got, err := e.ComputeStats(context.Background(), nil)
	require.NoError(t, err)

	assert.True(t, got.Deposited.IsZero())
	assert.True(t, got.Balance.IsZero())
	assert.True(t, got.Yield.IsZero())
	assert.True(t, got.APY.IsZero())

	// No network at all: no ledger pages, no balance or decimals calls.
	assert.Equal(t, 0, ledgerClient.FetchCalls)
	assert.Equal(t, 0, chainReader.BalanceCalls)
	assert.Equal(t, 0, chainReader.DecimalsCalls)
}

func TestComputeStats_AddressWithNoEventsStillQueriesBalance(t *testing.T) {
	chainReader := chainstub.NewReader()
	chainReader.SetDecimals(vault, 18)

	e := New(Options{Token: vault, Ledger: ledgerstub.NewClient(), Chain: chainReader})
	got, err := e.ComputeStats(context.Background(), []string{addrA})
	require.NoError(t, err)

	assert.True(t, got.Deposited.IsZero())
	assert.True(t, got.Balance.IsZero())
	assert.True(t, got.Yield.IsZero())
	assert.True(t, got.APY.IsZero())
	assert.Equal(t, 1, chainReader.BalanceCalls)
}

func TestComputeStats_EndToEndScenario(t *testing.T) {
	// One deposit of 1000*10^18 at t0, one withdrawal of 200*10^18 at
	// t0+180d, current balance 950*10^18, decimals 18.
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	withdrawalAt := t0.Add(180 * 24 * time.Hour)
	now := t0.Add(365 * 24 * time.Hour)

	ledgerClient := ledgerstub.NewClient(
		&domain.LedgerEvent{
			ID: "2", Timestamp: withdrawalAt.UnixMilli(),
			From: "0xaaa", To: "0x0",
			Amount: "200000000000000000000", Kind: domain.KindWithdrawal, Token: "0xvault",
		},
		&domain.LedgerEvent{
			ID: "1", Timestamp: t0.Unix(), // seconds on purpose
			From: "0x0", To: "0xaaa",
			Amount: "1000000000000000000000", Kind: domain.KindDeposit, Token: "0xvault",
		},
	)

	chainReader := chainstub.NewReader()
	chainReader.SetDecimals(vault, 18)
	chainReader.SetBalance(vault, addrA, baseUnits("950000000000000000000"))

	e := New(Options{
		Token:  vault,
		Ledger: ledgerClient,
		Chain:  chainReader,
		Now:    testClock(now),
	})

	got, err := e.ComputeStats(context.Background(), []string{addrA})
	require.NoError(t, err)

	assert.True(t, got.Deposited.Equal(decimal.NewFromInt(1000)), "deposited = %s", got.Deposited)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(950)), "balance = %s", got.Balance)
	// yield = 950 + 200 - 1000
	assert.True(t, got.Yield.Equal(decimal.NewFromInt(150)), "yield = %s", got.Yield)

	// Flows [-1000 @ t0, +200 @ t0+180d, +950 @ now] gained value, so
	// the solved rate is positive and plausible.
	apy, _ := got.APY.Float64()
	assert.Greater(t, apy, 0.05)
	assert.Less(t, apy, 1.0)
}

func TestComputeStats_YieldIdentity(t *testing.T) {
	// yield must equal balance + grossWithdrawn − grossDeposited for a
	// synthetic ledger with known gross sums.
	ledgerClient := ledgerstub.NewClient(
		&domain.LedgerEvent{ID: "4", Timestamp: 1700400000, From: "0xbbb", To: "0x0", Amount: "70", Kind: domain.KindSwapWithdrawal, Token: "0xvault"},
		&domain.LedgerEvent{ID: "3", Timestamp: 1700300000, From: "0xaaa", To: "0x0", Amount: "30", Kind: domain.KindWithdrawal, Token: "0xvault"},
		&domain.LedgerEvent{ID: "2", Timestamp: 1700200000, From: "0x0", To: "0xbbb", Amount: "400", Kind: domain.KindSwapDeposit, Token: "0xvault"},
		&domain.LedgerEvent{ID: "1", Timestamp: 1700100000, From: "0x0", To: "0xaaa", Amount: "600", Kind: domain.KindDeposit, Token: "0xvault"},
	)

	chainReader := chainstub.NewReader()
	chainReader.SetDecimals(vault, 0)
	chainReader.SetBalance(vault, addrA, big.NewInt(500))
	chainReader.SetBalance(vault, addrB, big.NewInt(450))

	e := New(Options{Token: vault, Ledger: ledgerClient, Chain: chainReader})
	got, err := e.ComputeStats(context.Background(), []string{addrA, addrB})
	require.NoError(t, err)

	// balance 950 + withdrawn 100 − deposited 1000 = 50
	assert.True(t, got.Yield.Equal(decimal.NewFromInt(50)), "yield = %s", got.Yield)
	assert.True(t, got.Deposited.Equal(decimal.NewFromInt(1000)))
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(950)))
}

func TestComputeStats_FailedBalanceLookupCountsZero(t *testing.T) {
	ledgerClient := ledgerstub.NewClient(
		&domain.LedgerEvent{ID: "1", Timestamp: 1700100000, From: "0x0", To: "0xaaa", Amount: "100", Kind: domain.KindDeposit, Token: "0xvault"},
	)

	chainReader := chainstub.NewReader()
	chainReader.SetDecimals(vault, 0)
	chainReader.SetBalance(vault, addrA, big.NewInt(60))
	chainReader.SetBalance(vault, addrB, big.NewInt(999)) // never read
	chainReader.FailBalance(addrB, errors.New("node timeout"))

	var buf bytes.Buffer
	e := New(Options{
		Token:  vault,
		Ledger: ledgerClient,
		Chain:  chainReader,
		Logger: log.New(&buf, "", 0),
	})

	got, err := e.ComputeStats(context.Background(), []string{addrA, addrB})
	require.NoError(t, err, "one bad address must not abort the computation")

	assert.True(t, got.Balance.Equal(decimal.NewFromInt(60)), "balance = %s", got.Balance)
	assert.Contains(t, buf.String(), "balance lookup failed")
}

func TestComputeStats_LedgerFailureIsFatal(t *testing.T) {
	ledgerClient := ledgerstub.NewClient()
	ledgerClient.Err = errors.New("indexer 500")

	chainReader := chainstub.NewReader()
	chainReader.SetDecimals(vault, 18)

	e := New(Options{Token: vault, Ledger: ledgerClient, Chain: chainReader})
	_, err := e.ComputeStats(context.Background(), []string{addrA})
	require.Error(t, err)
}

func TestComputeStats_DecimalsOverrideSkipsChainLookup(t *testing.T) {
	chainReader := chainstub.NewReader() // no decimals scripted

	e := New(Options{
		Token:             vault,
		Ledger:            ledgerstub.NewClient(),
		Chain:             chainReader,
		DecimalsOverrides: map[string]int32{vault: 18},
	})

	_, err := e.ComputeStats(context.Background(), []string{addrA})
	require.NoError(t, err)
	assert.Equal(t, 0, chainReader.DecimalsCalls)
}

func TestComputeStats_AllDepositsNoGrowthReportsZeroAPY(t *testing.T) {
	ledgerClient := ledgerstub.NewClient(
		&domain.LedgerEvent{ID: "1", Timestamp: 1700100000, From: "0x0", To: "0xaaa", Amount: "100", Kind: domain.KindDeposit, Token: "0xvault"},
	)

	chainReader := chainstub.NewReader()
	chainReader.SetDecimals(vault, 0)
	chainReader.SetBalance(vault, addrA, big.NewInt(100))

	e := New(Options{Token: vault, Ledger: ledgerClient, Chain: chainReader})
	got, err := e.ComputeStats(context.Background(), []string{addrA})
	require.NoError(t, err)

	// Terminal value exactly cancels the deposit: a solved rate of ~0
	// lands on zero yield either way.
	apy, _ := got.APY.Float64()
	assert.InDelta(t, 0, apy, 1e-4)
	assert.True(t, got.Yield.IsZero())
}
