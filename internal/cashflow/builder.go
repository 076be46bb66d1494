// Package cashflow turns raw ledger events into signed, dated cashflow
// series suitable for time-value-of-money math.
package cashflow

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"

	"tokenfolio/internal/domain"
	"tokenfolio/internal/ledger"
)

// Builder builds signed cashflow series from the ledger. Deposits into
// the portfolio become negative entries, withdrawals positive ones.
type Builder struct {
	client   ledger.Client
	pageSize int
	logger   *log.Logger
}

// Options contains configuration for creating a Builder.
type Options struct {
	Client   ledger.Client
	PageSize int
	Logger   *log.Logger
}

// New creates a Builder.
func New(opts Options) *Builder {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = ledger.DefaultPageSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Builder{
		client:   opts.Client,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Build returns the address's cashflow series sorted ascending by date.
// It walks two queries: mint-type events received by the address
// (negative entries) and burn-type events sent by it (positive).
func (b *Builder) Build(ctx context.Context, address string) ([]domain.CashflowEntry, error) {
	deposits, err := b.collect(ctx, ledger.Query{
		Counterparty: address,
		Side:         domain.SideReceiver,
		Kinds:        domain.DepositKinds,
		PageSize:     b.pageSize,
	}, -1)
	if err != nil {
		return nil, fmt.Errorf("deposit query for %s: %w", address, err)
	}

	withdrawals, err := b.collect(ctx, ledger.Query{
		Counterparty: address,
		Side:         domain.SideSender,
		Kinds:        domain.WithdrawalKinds,
		PageSize:     b.pageSize,
	}, +1)
	if err != nil {
		return nil, fmt.Errorf("withdrawal query for %s: %w", address, err)
	}

	flows := append(deposits, withdrawals...)
	domain.SortCashflows(flows)
	return flows, nil
}

// BuildAll concatenates per-address series and re-sorts globally by
// date. Ledger IDs are globally unique; no deduplication is needed.
func (b *Builder) BuildAll(ctx context.Context, addresses []string) ([]domain.CashflowEntry, error) {
	var flows []domain.CashflowEntry
	for _, addr := range addresses {
		addrFlows, err := b.Build(ctx, addr)
		if err != nil {
			return nil, err
		}
		flows = append(flows, addrFlows...)
	}
	domain.SortCashflows(flows)
	return flows, nil
}

// collect walks one query and converts each event to a signed entry.
// Malformed amounts are skipped with a warning; zero amounts carry no
// flow and are skipped silently.
func (b *Builder) collect(ctx context.Context, q ledger.Query, sign int) ([]domain.CashflowEntry, error) {
	var flows []domain.CashflowEntry

	it := ledger.Iterate(b.client, q)
	for {
		ev, err := it.Next(ctx)
		if errors.Is(err, ledger.ErrDone) {
			return flows, nil
		}
		if err != nil {
			return nil, err
		}

		amount, ok := domain.ParseBaseUnits(ev.Amount)
		if !ok {
			b.logger.Printf("WARN: skipping event %s: malformed amount %q", ev.ID, ev.Amount)
			continue
		}
		if amount.Sign() == 0 {
			continue
		}

		if sign < 0 {
			amount = new(big.Int).Neg(amount)
		}

		flows = append(flows, domain.CashflowEntry{
			Date:    ev.EventTime(),
			Amount:  amount,
			EventID: ev.ID,
		})
	}
}
