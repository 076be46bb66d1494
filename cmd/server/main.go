// Package main provides the portfolio stats service:
// - HTTP API: address registry and on-demand portfolio stats
// - Snapshots: every computed stats result is archived to history
// - Live feed (optional): WebSocket transfer events trigger background
//   snapshot refreshes for affected users
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"tokenfolio/internal/chain"
	"tokenfolio/internal/domain"
	"tokenfolio/internal/ledger"
	"tokenfolio/internal/observability"
	"tokenfolio/internal/stats"
	"tokenfolio/internal/storage"
	chstore "tokenfolio/internal/storage/clickhouse"
	"tokenfolio/internal/storage/memory"
	"tokenfolio/internal/storage/migrations"
	pgstore "tokenfolio/internal/storage/postgres"
)

// Server holds all components of the stats service.
type Server struct {
	token           string
	refreshInterval time.Duration

	addresses storage.AddressStore
	snapshots storage.SnapshotStore
	engine    *stats.Engine
	metrics   *observability.Metrics
	logger    *log.Logger

	// Users whose snapshots are stale because a live transfer touched
	// one of their addresses. Drained by the refresher.
	mu    sync.Mutex
	dirty map[string]bool
}

func main() {
	// Load .env file if exists
	loadEnvFile()

	// Parse flags (env vars as defaults)
	ledgerEndpoint := flag.String("ledger-endpoint", os.Getenv("LEDGER_ENDPOINT"), "Transfer-event indexer GraphQL endpoint")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("LEDGER_WS_ENDPOINT"), "Transfer-event WebSocket endpoint (optional)")
	rpcEndpoint := flag.String("rpc-endpoint", os.Getenv("CHAIN_RPC_ENDPOINT"), "Chain JSON-RPC HTTP endpoint")
	token := flag.String("token", os.Getenv("VAULT_TOKEN_ADDRESS"), "Vault token contract address")
	tokenDecimals := flag.Int("token-decimals", envInt("VAULT_TOKEN_DECIMALS", -1), "Pin the token decimals instead of reading them on-chain (-1 = read)")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	listenAddr := flag.String("listen-addr", ":8080", "API HTTP address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address")
	pageSize := flag.Int("page-size", 0, "Ledger page size (0 = default)")
	refreshInterval := flag.Duration("refresh-interval", 1*time.Minute, "Background snapshot refresh interval for live-feed updates")

	flag.Parse()

	// Setup logger
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lshortfile)

	// Validate required flags
	if *ledgerEndpoint == "" {
		logger.Fatal("--ledger-endpoint is required")
	}
	if *rpcEndpoint == "" {
		logger.Fatal("--rpc-endpoint is required")
	}
	if *token == "" {
		logger.Fatal("--token is required")
	}
	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addressStore, snapshotStore, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	metrics := observability.NewMetrics("tokenfolio")

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
		Metrics:           metrics,
		Logger:            logger,
	})

	server := &Server{
		token:           domain.NormalizeAddress(*token),
		refreshInterval: *refreshInterval,
		addresses:       addressStore,
		snapshots:       snapshotStore,
		engine:          engine,
		metrics:         metrics,
		logger:          logger,
		dirty:           make(map[string]bool),
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
		cancel()
	}()

	// Prometheus metrics listener
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		logger.Printf("Starting metrics server on %s", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("Metrics server error: %v", err)
		}
	}()

	// Live feed + background refresher (optional)
	var wg sync.WaitGroup
	if *wsEndpoint != "" {
		stream, err := ledger.NewStream(ctx, *wsEndpoint, *token, nil, logger)
		if err != nil {
			logger.Fatalf("Failed to connect live feed: %v", err)
		}
		defer stream.Close()

		wg.Add(2)
		go func() {
			defer wg.Done()
			server.consumeFeed(ctx, stream)
		}()
		go func() {
			defer wg.Done()
			server.runRefresher(ctx)
		}()
	}

	// API server
	httpServer := &http.Server{
		Addr:    *listenAddr,
		Handler: server.routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}
	}()

	logger.Printf("Starting API server on %s (token %s)", *listenAddr, server.token)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("HTTP server error: %v", err)
	}

	wg.Wait()
	logger.Println("Shutdown complete")
}

// createStores creates the address registry and snapshot history stores.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (storage.AddressStore, storage.SnapshotStore, func(), error) {
	if useMemory {
		return memory.NewAddressStore(), memory.NewSnapshotStore(), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrate postgres: %w", err)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("migrate clickhouse: %w", err)
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return pgstore.NewAddressStore(pool), chstore.NewSnapshotStore(chConn), cleanup, nil
}

// routes builds the API mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/addresses", s.handleAddresses)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/snapshots", s.handleSnapshots)

	return mux
}

// addressRequest is the JSON body for POST/DELETE /addresses.
type addressRequest struct {
	UserID  string `json:"user_id"`
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

// handleAddresses dispatches the registry operations.
func (s *Server) handleAddresses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleAddAddress(w, r)
	case http.MethodDelete:
		s.handleRemoveAddress(w, r)
	case http.MethodGet:
		s.handleListAddresses(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleAddAddress(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == "" || req.Address == "" {
		writeError(w, http.StatusBadRequest, "user_id and address are required")
		return
	}

	tracked := &domain.TrackedAddress{
		UserID:  req.UserID,
		Address: domain.NormalizeAddress(req.Address),
		Label:   req.Label,
		AddedAt: time.Now().UnixMilli(),
	}

	err := s.addresses.Add(r.Context(), tracked)
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		writeError(w, http.StatusConflict, "address already tracked")
		return
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	case err != nil:
		s.logger.Printf("Add address error: %v", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	writeJSON(w, http.StatusCreated, tracked)
}

func (s *Server) handleRemoveAddress(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	address := r.URL.Query().Get("address")
	if userID == "" || address == "" {
		// Fall back to a JSON body, matching the POST shape.
		var req addressRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err == nil {
			userID, address = req.UserID, req.Address
		}
	}
	if userID == "" || address == "" {
		writeError(w, http.StatusBadRequest, "user_id and address are required")
		return
	}

	err := s.addresses.Remove(r.Context(), userID, address)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "address not tracked")
		return
	case err != nil:
		s.logger.Printf("Remove address error: %v", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAddresses(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	list, err := s.addresses.ListByUser(r.Context(), userID)
	if err != nil {
		s.logger.Printf("List addresses error: %v", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if list == nil {
		list = []*domain.TrackedAddress{}
	}

	writeJSON(w, http.StatusOK, list)
}

// handleStats computes fresh portfolio stats for a user and archives
// the result as a snapshot. Archiving is best-effort: a failed write
// does not fail the request.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	result, err := s.computeAndArchive(r.Context(), userID)
	if err != nil {
		s.metrics.StatsErrors.Inc()
		s.logger.Printf("Compute stats error for %s: %v", userID, err)
		writeError(w, http.StatusBadGateway, "stats computation failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	list, err := s.snapshots.ListByUser(r.Context(), userID, limit)
	if err != nil {
		s.logger.Printf("List snapshots error: %v", err)
		writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if list == nil {
		list = []*domain.StatsSnapshot{}
	}

	writeJSON(w, http.StatusOK, list)
}

// computeAndArchive runs the stats engine over the user's tracked
// addresses and records the result in snapshot history.
func (s *Server) computeAndArchive(ctx context.Context, userID string) (*domain.PortfolioStats, error) {
	tracked, err := s.addresses.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}

	addrs := make([]string, len(tracked))
	for i, a := range tracked {
		addrs[i] = a.Address
	}

	result, err := s.engine.ComputeStats(ctx, addrs)
	if err != nil {
		return nil, err
	}

	snap := &domain.StatsSnapshot{
		SnapshotID: uuid.NewString(),
		UserID:     userID,
		Addresses:  len(addrs),
		Deposited:  result.Deposited,
		Balance:    result.Balance,
		Yield:      result.Yield,
		APY:        result.APY,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := s.snapshots.Insert(ctx, snap); err != nil {
		s.metrics.SnapshotArchiveErrors.Inc()
		s.logger.Printf("WARN: snapshot archive failed for %s: %v", userID, err)
	} else {
		s.metrics.SnapshotsArchived.Inc()
	}

	return result, nil
}

// consumeFeed marks users dirty whenever a live transfer touches one of
// their tracked addresses.
func (s *Server) consumeFeed(ctx context.Context, stream *ledger.Stream) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-stream.Events():
			if !ok {
				return
			}
			s.metrics.FeedEventsReceived.Inc()
			s.markDirty(ctx, event.From)
			s.markDirty(ctx, event.To)
		}
	}
}

func (s *Server) markDirty(ctx context.Context, address string) {
	if address == "" {
		return
	}
	users, err := s.addresses.UsersForAddress(ctx, address)
	if err != nil {
		s.logger.Printf("Users lookup error for %s: %v", address, err)
		return
	}

	s.mu.Lock()
	for _, u := range users {
		s.dirty[u] = true
	}
	s.mu.Unlock()
}

// runRefresher periodically recomputes snapshots for users touched by
// the live feed since the last run.
func (s *Server) runRefresher(ctx context.Context) {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			users := make([]string, 0, len(s.dirty))
			for u := range s.dirty {
				users = append(users, u)
			}
			s.dirty = make(map[string]bool)
			s.mu.Unlock()

			if len(users) == 0 {
				continue
			}

			s.metrics.RefreshRuns.Inc()
			s.logger.Printf("Refreshing snapshots for %d users", len(users))
			for _, u := range users {
				if _, err := s.computeAndArchive(ctx, u); err != nil {
					s.logger.Printf("Refresh error for %s: %v", u, err)
				}
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// envInt reads an integer env var with a fallback default.
func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// loadEnvFile loads environment variables from .env file if it exists.
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist, use system env vars
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Don't override existing env vars
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
