// Package stub provides a scripted chain.Reader for tests.
package stub

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"tokenfolio/internal/chain"
	"tokenfolio/internal/domain"
)

// ErrNotFound is returned when the stub has no entry for a query.
var ErrNotFound = errors.New("not found")

// Reader implements chain.Reader over in-memory maps. Calls are
// serialized by a mutex so a shared instance can back concurrent
// lookups; read the counters only after those join.
type Reader struct {
	mu sync.Mutex

	// Balances keyed by token|owner (normalized addresses).
	Balances map[string]*big.Int
	// Decimals keyed by normalized token address.
	Decimals map[string]int32

	// BalanceErrs fails TokenBalance for specific owners.
	BalanceErrs map[string]error

	// DecimalsCalls counts TokenDecimals invocations.
	DecimalsCalls int
	// BalanceCalls counts TokenBalance invocations.
	BalanceCalls int
}

// NewReader creates an empty stub reader.
func NewReader() *Reader {
	return &Reader{
		Balances:    make(map[string]*big.Int),
		Decimals:    make(map[string]int32),
		BalanceErrs: make(map[string]error),
	}
}

// Compile-time interface check.
var _ chain.Reader = (*Reader)(nil)

func balanceKey(token, owner string) string {
	return domain.NormalizeAddress(token) + "|" + domain.NormalizeAddress(owner)
}

// SetBalance records a balance for token|owner.
func (r *Reader) SetBalance(token, owner string, balance *big.Int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Balances[balanceKey(token, owner)] = balance
}

// SetDecimals records a token's decimal exponent.
func (r *Reader) SetDecimals(token string, decimals int32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Decimals[domain.NormalizeAddress(token)] = decimals
}

// FailBalance makes TokenBalance fail for the given owner.
func (r *Reader) FailBalance(owner string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.BalanceErrs[domain.NormalizeAddress(owner)] = err
}

// TokenBalance returns the scripted balance, zero when absent.
func (r *Reader) TokenBalance(_ context.Context, token, owner string) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.BalanceCalls++

	if err, ok := r.BalanceErrs[domain.NormalizeAddress(owner)]; ok {
		return nil, err
	}
	if b, ok := r.Balances[balanceKey(token, owner)]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// TokenDecimals returns the scripted exponent.
func (r *Reader) TokenDecimals(_ context.Context, token string) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.DecimalsCalls++

	d, ok := r.Decimals[domain.NormalizeAddress(token)]
	if !ok {
		return 0, ErrNotFound
	}
	return d, nil
}
