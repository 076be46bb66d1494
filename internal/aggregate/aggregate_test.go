package aggregate

import (
	"context"
	"math/big"
	"testing"

	"tokenfolio/internal/domain"
	"tokenfolio/internal/ledger/stub"
)

const (
	addrA = "0xaaa"
	addrB = "0xbbb"
	vault = "0xvault"
)

func event(id string, kind domain.EventKind, from, to, amount string) *domain.LedgerEvent {
	return &domain.LedgerEvent{
		ID: id, Timestamp: 1700000000, From: from, To: to,
		Amount: amount, Kind: kind, Token: vault,
	}
}

func newLedger() *stub.Client {
	return stub.NewClient(
		event("6", domain.KindWithdrawal, addrB, "0x0", "50"),
		event("5", domain.KindTransfer, addrA, addrB, "999"), // never counted
		event("4", domain.KindSwapWithdrawal, addrA, "0x0", "200"),
		event("3", domain.KindSwapDeposit, "0x0", addrB, "300"),
		event("2", domain.KindDeposit, "0x0", addrA, "500"),
		event("1", domain.KindDeposit, "0x0", addrA, "1000"),
	)
}

func TestGrossDeposits(t *testing.T) {
	a := New(Options{Client: newLedger()})

	got, err := a.GrossDeposits(context.Background(), []string{addrA, addrB})
	if err != nil {
		t.Fatalf("GrossDeposits: %v", err)
	}
	if got.Cmp(big.NewInt(1800)) != 0 {
		t.Errorf("gross deposits = %s, want 1800", got)
	}
}

func TestGrossWithdrawals(t *testing.T) {
	a := New(Options{Client: newLedger()})

	got, err := a.GrossWithdrawals(context.Background(), []string{addrA, addrB})
	if err != nil {
		t.Fatalf("GrossWithdrawals: %v", err)
	}
	if got.Cmp(big.NewInt(250)) != 0 {
		t.Errorf("gross withdrawals = %s, want 250", got)
	}
}

func TestNetDeposits(t *testing.T) {
	a := New(Options{Client: newLedger()})

	got, err := a.NetDeposits(context.Background(), []string{addrA, addrB})
	if err != nil {
		t.Fatalf("NetDeposits: %v", err)
	}
	if got.Cmp(big.NewInt(1550)) != 0 {
		t.Errorf("net deposits = %s, want 1550", got)
	}
}

func TestNetDeposits_NegativeWhenWithdrawalsExceed(t *testing.T) {
	client := stub.NewClient(
		event("2", domain.KindWithdrawal, addrA, "0x0", "700"),
		event("1", domain.KindDeposit, "0x0", addrA, "100"),
	)
	a := New(Options{Client: client})

	got, err := a.NetDeposits(context.Background(), []string{addrA})
	if err != nil {
		t.Fatalf("NetDeposits: %v", err)
	}
	if got.Cmp(big.NewInt(-600)) != 0 {
		t.Errorf("net deposits = %s, want -600", got)
	}
}

func TestTotals_HugeAmounts(t *testing.T) {
	// 1000 * 10^18 deposited, 200 * 10^18 withdrawn.
	client := stub.NewClient(
		event("2", domain.KindWithdrawal, addrA, "0x0", "200000000000000000000"),
		event("1", domain.KindDeposit, "0x0", addrA, "1000000000000000000000"),
	)
	a := New(Options{Client: client})

	totals, err := a.Totals(context.Background(), []string{addrA})
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}

	wantDep, _ := new(big.Int).SetString("1000000000000000000000", 10)
	wantWd, _ := new(big.Int).SetString("200000000000000000000", 10)
	wantNet, _ := new(big.Int).SetString("800000000000000000000", 10)

	if totals.GrossDeposited.Cmp(wantDep) != 0 {
		t.Errorf("GrossDeposited = %s, want %s", totals.GrossDeposited, wantDep)
	}
	if totals.GrossWithdrawn.Cmp(wantWd) != 0 {
		t.Errorf("GrossWithdrawn = %s, want %s", totals.GrossWithdrawn, wantWd)
	}
	if totals.NetDeposited().Cmp(wantNet) != 0 {
		t.Errorf("NetDeposited = %s, want %s", totals.NetDeposited(), wantNet)
	}
}

func TestTotals_EmptyAddressSet(t *testing.T) {
	client := newLedger()
	a := New(Options{Client: client})

	totals, err := a.Totals(context.Background(), nil)
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if totals.GrossDeposited.Sign() != 0 || totals.GrossWithdrawn.Sign() != 0 {
		t.Errorf("totals for empty set = %+v, want zeros", totals)
	}
	if client.FetchCalls != 0 {
		t.Errorf("FetchCalls = %d, want 0", client.FetchCalls)
	}
}
