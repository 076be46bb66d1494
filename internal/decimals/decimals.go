// Package decimals converts fixed-point base-unit integers to decimal
// values and resolves each token's decimal exponent.
package decimals

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sync"

	"github.com/shopspring/decimal"

	"tokenfolio/internal/chain"
	"tokenfolio/internal/domain"
)

// ToDecimal returns the exact quotient baseUnits / 10^exponent. The
// integer is never truncated on the way in; decimal scaling keeps the
// full magnitude.
func ToDecimal(baseUnits *big.Int, exponent int32) decimal.Decimal {
	if baseUnits == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(baseUnits, -exponent)
}

// Resolver resolves a token's decimal exponent: a fixed override wins
// (useful when an indexer misreports), else the on-chain decimals()
// value fetched once and cached for the process lifetime. On-chain
// decimals effectively never change, so the cache is never invalidated.
// Entries are written at most once and a raced redundant fetch simply
// overwrites with the same value.
type Resolver struct {
	reader    chain.Reader
	overrides map[string]int32
	logger    *log.Logger

	mu    sync.RWMutex
	cache map[string]int32
}

// ResolverOptions contains configuration for creating a Resolver.
type ResolverOptions struct {
	Reader chain.Reader
	// Overrides maps token address to a fixed exponent, bypassing the
	// chain lookup.
	Overrides map[string]int32
	Logger    *log.Logger
}

// NewResolver creates a Resolver with an empty cache. Tests inject a
// fresh instance to start cold.
func NewResolver(opts ResolverOptions) *Resolver {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	overrides := make(map[string]int32, len(opts.Overrides))
	for addr, exp := range opts.Overrides {
		overrides[domain.NormalizeAddress(addr)] = exp
	}

	return &Resolver{
		reader:    opts.Reader,
		overrides: overrides,
		logger:    logger,
		cache:     make(map[string]int32),
	}
}

// Resolve returns the token's decimal exponent.
func (r *Resolver) Resolve(ctx context.Context, token string) (int32, error) {
	key := domain.NormalizeAddress(token)

	if exp, ok := r.overrides[key]; ok {
		return exp, nil
	}

	r.mu.RLock()
	exp, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return exp, nil
	}

	exp, err := r.reader.TokenDecimals(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("resolve decimals for %s: %w", token, err)
	}

	r.mu.Lock()
	r.cache[key] = exp
	r.mu.Unlock()

	r.logger.Printf("resolved decimals for %s: %d", key, exp)
	return exp, nil
}
