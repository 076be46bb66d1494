// Package main provides a one-shot portfolio stats computation for a
// set of addresses, printed to stdout. Useful for spot checks without
// running the server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tokenfolio/internal/chain"
	"tokenfolio/internal/ledger"
	"tokenfolio/internal/stats"
)

func main() {
	ledgerEndpoint := flag.String("ledger-endpoint", os.Getenv("LEDGER_ENDPOINT"), "Transfer-event indexer GraphQL endpoint")
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("CHAIN_RPC_ENDPOINT"), "Chain JSON-RPC HTTP endpoint")
	token := flag.String("token", os.Getenv("VAULT_TOKEN_ADDRESS"), "Vault token contract address")
	tokenDecimals := flag.Int("token-decimals", -1, "Pin the token decimals instead of reading them on-chain (-1 = read)")
	addresses := flag.String("addresses", "", "Comma-separated addresses to value as one portfolio")
	pageSize := flag.Int("page-size", 0, "Ledger page size (0 = default)")
	timeout := flag.Duration("timeout", 2*time.Minute, "Overall computation timeout")
	asJSON := flag.Bool("json", false, "Print the result as JSON")

	flag.Parse()

	logger := log.New(os.Stderr, "[stats] ", log.LstdFlags)

	if *ledgerEndpoint == "" {
		logger.Fatal("--ledger-endpoint is required")
	}
	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *token == "" {
		logger.Fatal("--token is required")
	}

	var addrs []string
	for _, a := range strings.Split(*addresses, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		logger.Fatal("--addresses is required")
	}

	var overrides map[string]int32
	if *tokenDecimals >= 0 {
		overrides = map[string]int32{*token: int32(*tokenDecimals)}
	}

	engine := stats.New(stats.Options{
		Token:             *token,
		Ledger:            ledger.NewHTTPClient(*ledgerEndpoint),
		Chain:             chain.NewHTTPClient(*rpcEndpoint),
		PageSize:          *pageSize,
		DecimalsOverrides: overrides,
		Logger:            logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := engine.ComputeStats(ctx, addrs)
	if err != nil {
		logger.Fatalf("Compute stats failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Fatalf("Encode result: %v", err)
		}
		return
	}

	fmt.Printf("Addresses: %d\n", len(addrs))
	fmt.Printf("Deposited: %s\n", result.Deposited)
	fmt.Printf("Balance:   %s\n", result.Balance)
	fmt.Printf("Yield:     %s\n", result.Yield)
	fmt.Printf("APY:       %s (%s%%)\n", result.APY, result.APY.Mul(decimal.NewFromInt(100)).StringFixed(2))
}
