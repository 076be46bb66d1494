package clickhouse

import (
	"context"
	"fmt"

	"tokenfolio/internal/domain"
	"tokenfolio/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
// Snapshots are append-only: each successful stats computation writes
// one row, and ListByUser reads the history back newest first.
type SnapshotStore struct {
	conn *Conn
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Insert records a snapshot. Returns ErrDuplicateKey if the ID exists.
func (s *SnapshotStore) Insert(ctx context.Context, snap *domain.StatsSnapshot) error {
	if snap == nil || snap.SnapshotID == "" || snap.UserID == "" {
		return storage.ErrInvalidInput
	}

	// MergeTree does not enforce uniqueness at insert time, so duplicates
	// are rejected with an explicit check before the write.
	exists, err := s.exists(ctx, snap.SnapshotID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	query := `
		INSERT INTO stats_snapshots (
			snapshot_id, user_id, addresses,
			deposited, balance, yield, apy,
			created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = s.conn.Exec(ctx, query,
		snap.SnapshotID,
		snap.UserID,
		uint32(snap.Addresses),
		snap.Deposited,
		snap.Balance,
		snap.Yield,
		snap.APY,
		uint64(snap.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert stats snapshot: %w", err)
	}
	return nil
}

// ListByUser returns up to limit snapshots for a user, newest first.
// A non-positive limit returns the full history.
func (s *SnapshotStore) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.StatsSnapshot, error) {
	query := `
		SELECT snapshot_id, user_id, addresses,
		       deposited, balance, yield, apy,
		       created_at
		FROM stats_snapshots
		WHERE user_id = ?
		ORDER BY created_at DESC, snapshot_id DESC
	`
	args := []interface{}{userID}

	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, uint64(limit))
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots by user: %w", err)
	}
	defer rows.Close()

	var out []*domain.StatsSnapshot
	for rows.Next() {
		var (
			snap      domain.StatsSnapshot
			addresses uint32
			createdAt uint64
		)
		err := rows.Scan(
			&snap.SnapshotID, &snap.UserID, &addresses,
			&snap.Deposited, &snap.Balance, &snap.Yield, &snap.APY,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		snap.Addresses = int(addresses)
		snap.CreatedAt = int64(createdAt)
		out = append(out, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}

	return out, nil
}

// exists checks if a snapshot with the given ID exists.
func (s *SnapshotStore) exists(ctx context.Context, snapshotID string) (bool, error) {
	query := `SELECT count(*) FROM stats_snapshots WHERE snapshot_id = ?`

	var count uint64
	if err := s.conn.QueryRow(ctx, query, snapshotID).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
