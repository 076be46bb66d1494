// Package aggregate sums raw ledger event values into gross deposit
// and withdrawal totals.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"

	"tokenfolio/internal/domain"
	"tokenfolio/internal/ledger"
)

// Aggregator computes unsigned base-unit totals over paginated ledger
// queries. Summation order never affects the arbitrary-precision
// result, so addresses are walked sequentially.
type Aggregator struct {
	client   ledger.Client
	pageSize int
	logger   *log.Logger
}

// Options contains configuration for creating an Aggregator.
type Options struct {
	Client   ledger.Client
	PageSize int
	Logger   *log.Logger
}

// New creates an Aggregator.
func New(opts Options) *Aggregator {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = ledger.DefaultPageSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Aggregator{
		client:   opts.Client,
		pageSize: pageSize,
		logger:   logger,
	}
}

// GrossDeposits sums mint-type event amounts received by the addresses.
func (a *Aggregator) GrossDeposits(ctx context.Context, addresses []string) (*big.Int, error) {
	return a.sum(ctx, addresses, domain.SideReceiver, domain.DepositKinds)
}

// GrossWithdrawals sums burn-type event amounts sent by the addresses.
func (a *Aggregator) GrossWithdrawals(ctx context.Context, addresses []string) (*big.Int, error) {
	return a.sum(ctx, addresses, domain.SideSender, domain.WithdrawalKinds)
}

// NetDeposits is gross deposits minus gross withdrawals; negative when
// withdrawals exceed deposits.
func (a *Aggregator) NetDeposits(ctx context.Context, addresses []string) (*big.Int, error) {
	deposited, err := a.GrossDeposits(ctx, addresses)
	if err != nil {
		return nil, err
	}
	withdrawn, err := a.GrossWithdrawals(ctx, addresses)
	if err != nil {
		return nil, err
	}
	return deposited.Sub(deposited, withdrawn), nil
}

// Totals computes both gross totals over the address set.
func (a *Aggregator) Totals(ctx context.Context, addresses []string) (*domain.AggregateTotals, error) {
	deposited, err := a.GrossDeposits(ctx, addresses)
	if err != nil {
		return nil, err
	}
	withdrawn, err := a.GrossWithdrawals(ctx, addresses)
	if err != nil {
		return nil, err
	}
	return &domain.AggregateTotals{
		GrossDeposited: deposited,
		GrossWithdrawn: withdrawn,
	}, nil
}

// sum walks one filtered query per address and accumulates amounts.
func (a *Aggregator) sum(ctx context.Context, addresses []string, side domain.Side, kinds []domain.EventKind) (*big.Int, error) {
	total := new(big.Int)

	for _, addr := range addresses {
		it := ledger.Iterate(a.client, ledger.Query{
			Counterparty: addr,
			Side:         side,
			Kinds:        kinds,
			PageSize:     a.pageSize,
		})

		for {
			ev, err := it.Next(ctx)
			if errors.Is(err, ledger.ErrDone) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("sum %s events for %s: %w", side, addr, err)
			}

			amount, ok := domain.ParseBaseUnits(ev.Amount)
			if !ok {
				a.logger.Printf("WARN: skipping event %s: malformed amount %q", ev.ID, ev.Amount)
				continue
			}
			total.Add(total, amount)
		}
	}

	return total, nil
}
