// Package stats composes the portfolio valuation pipeline: cashflow
// series, gross totals, current balance and the XIRR solve, into one
// point-in-time snapshot.
package stats

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tokenfolio/internal/aggregate"
	"tokenfolio/internal/cashflow"
	"tokenfolio/internal/chain"
	"tokenfolio/internal/decimals"
	"tokenfolio/internal/domain"
	"tokenfolio/internal/ledger"
	"tokenfolio/internal/observability"
	"tokenfolio/internal/xirr"
)

// Engine computes PortfolioStats for an address set. It holds no
// user-facing state; the only long-lived state is the decimals cache
// inside the Resolver.
type Engine struct {
	token    string
	builder  *cashflow.Builder
	agg      *aggregate.Aggregator
	reader   chain.Reader
	resolver *decimals.Resolver
	logger   *log.Logger
	metrics  *observability.Metrics

	// now is injectable for deterministic valuation dates in tests.
	now func() time.Time
}

// Options contains configuration for creating an Engine.
type Options struct {
	// Token is the denomination whose mint/burn ledger is read.
	Token string
	// Ledger queries the transfer-event indexer.
	Ledger ledger.Client
	// Chain reads balances and decimals.
	Chain chain.Reader
	// PageSize bounds ledger page volume. Zero means the default.
	PageSize int
	// DecimalsOverrides pins exponents per token address.
	DecimalsOverrides map[string]int32
	// Metrics is optional instrumentation.
	Metrics *observability.Metrics
	Logger  *log.Logger
	// Now overrides the valuation clock (tests).
	Now func() time.Time
}

// New creates an Engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		token: domain.NormalizeAddress(opts.Token),
		builder: cashflow.New(cashflow.Options{
			Client:   opts.Ledger,
			PageSize: opts.PageSize,
			Logger:   logger,
		}),
		agg: aggregate.New(aggregate.Options{
			Client:   opts.Ledger,
			PageSize: opts.PageSize,
			Logger:   logger,
		}),
		reader: opts.Chain,
		resolver: decimals.NewResolver(decimals.ResolverOptions{
			Reader:    opts.Chain,
			Overrides: opts.DecimalsOverrides,
			Logger:    logger,
		}),
		logger:  logger,
		metrics: opts.Metrics,
		now:     now,
	}
}

// ComputeStats computes the snapshot for the address set. An empty set
// short-circuits to all-zero stats without any network calls. A failed
// balance lookup for one address is treated as zero and logged; ledger
// fetch failures are fatal and bubble to the caller.
func (e *Engine) ComputeStats(ctx context.Context, addresses []string) (*domain.PortfolioStats, error) {
	start := time.Now()

	if len(addresses) == 0 {
		return domain.ZeroStats(), nil
	}

	normalized := make([]string, len(addresses))
	for i, addr := range addresses {
		normalized[i] = domain.NormalizeAddress(addr)
	}

	exponent, err := e.resolver.Resolve(ctx, e.token)
	if err != nil {
		return nil, err
	}

	// The signed series, the gross totals and the balances read
	// disjoint or idempotent data; fetch them concurrently and join.
	var (
		wg       sync.WaitGroup
		flows    []domain.CashflowEntry
		flowsErr error
		totals   *domain.AggregateTotals
		aggErr   error
		balance  *big.Int
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		flows, flowsErr = e.builder.BuildAll(ctx, normalized)
	}()
	go func() {
		defer wg.Done()
		totals, aggErr = e.agg.Totals(ctx, normalized)
	}()
	go func() {
		defer wg.Done()
		balance = e.sumBalances(ctx, normalized)
	}()
	wg.Wait()

	if flowsErr != nil {
		return nil, fmt.Errorf("build cashflows: %w", flowsErr)
	}
	if aggErr != nil {
		return nil, fmt.Errorf("aggregate totals: %w", aggErr)
	}

	deposited := decimals.ToDecimal(totals.GrossDeposited, exponent)
	withdrawn := decimals.ToDecimal(totals.GrossWithdrawn, exponent)
	balanceDec := decimals.ToDecimal(balance, exponent)

	// Profit-and-loss since inception: capital already withdrawn must
	// be credited back when measuring total return.
	yield := balanceDec.Add(withdrawn).Sub(deposited)

	apy := decimal.Zero
	rate, err := xirr.Solve(flows, e.now(), balance, exponent)
	switch {
	case errors.Is(err, xirr.ErrNoSolution):
		e.logger.Printf("WARN: xirr did not converge for %d addresses, reporting 0", len(normalized))
		if e.metrics != nil {
			e.metrics.SolverNoSolution.Inc()
		}
	case err != nil:
		return nil, fmt.Errorf("solve xirr: %w", err)
	default:
		apy = decimal.NewFromFloat(rate)
	}

	if e.metrics != nil {
		e.metrics.StatsComputed.Inc()
		e.metrics.StatsDuration.Observe(time.Since(start).Seconds())
	}

	return &domain.PortfolioStats{
		Deposited: deposited,
		Balance:   balanceDec,
		Yield:     yield,
		APY:       apy,
	}, nil
}

// sumBalances sums current balances across addresses. One failed
// lookup must not zero out the whole portfolio report: it counts as 0
// with a warning.
func (e *Engine) sumBalances(ctx context.Context, addresses []string) *big.Int {
	total := new(big.Int)
	for _, addr := range addresses {
		b, err := e.reader.TokenBalance(ctx, e.token, addr)
		if err != nil {
			e.logger.Printf("WARN: balance lookup failed for %s, counting 0: %v", addr, err)
			if e.metrics != nil {
				e.metrics.BalanceLookupErrors.Inc()
			}
			continue
		}
		total.Add(total, b)
	}
	return total
}
