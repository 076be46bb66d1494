package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"tokenfolio/internal/domain"
	"tokenfolio/internal/storage"
)

// AddressStore implements storage.AddressStore using PostgreSQL.
type AddressStore struct {
	pool *Pool
}

// NewAddressStore creates a new AddressStore.
func NewAddressStore(pool *Pool) *AddressStore {
	return &AddressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AddressStore = (*AddressStore)(nil)

// Add registers an address for a user. The address is stored normalized.
// Returns ErrDuplicateKey if the pair already exists.
func (s *AddressStore) Add(ctx context.Context, a *domain.TrackedAddress) error {
	if a == nil || a.UserID == "" || a.Address == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO tracked_addresses (user_id, address, label, added_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.pool.Exec(ctx, query,
		a.UserID,
		domain.NormalizeAddress(a.Address),
		a.Label,
		a.AddedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert tracked address: %w", err)
	}
	return nil
}

// Remove deletes a user/address pair. Returns ErrNotFound if it does not exist.
func (s *AddressStore) Remove(ctx context.Context, userID, address string) error {
	query := `
		DELETE FROM tracked_addresses
		WHERE user_id = $1 AND address = $2
	`

	tag, err := s.pool.Exec(ctx, query, userID, domain.NormalizeAddress(address))
	if err != nil {
		return fmt.Errorf("delete tracked address: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByUser returns all addresses a user follows, oldest first.
func (s *AddressStore) ListByUser(ctx context.Context, userID string) ([]*domain.TrackedAddress, error) {
	query := `
		SELECT user_id, address, label, added_at
		FROM tracked_addresses
		WHERE user_id = $1
		ORDER BY added_at ASC, address ASC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list tracked addresses: %w", err)
	}
	defer rows.Close()

	var out []*domain.TrackedAddress
	for rows.Next() {
		a, err := scanTrackedAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracked address: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tracked addresses: %w", err)
	}
	return out, nil
}

// UsersForAddress returns the users following an address, sorted.
func (s *AddressStore) UsersForAddress(ctx context.Context, address string) ([]string, error) {
	query := `
		SELECT user_id
		FROM tracked_addresses
		WHERE address = $1
		ORDER BY user_id ASC
	`

	rows, err := s.pool.Query(ctx, query, domain.NormalizeAddress(address))
	if err != nil {
		return nil, fmt.Errorf("list users for address: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		out = append(out, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users for address: %w", err)
	}
	return out, nil
}

// scanTrackedAddress scans a single row into TrackedAddress.
func scanTrackedAddress(row pgx.Row) (*domain.TrackedAddress, error) {
	var a domain.TrackedAddress

	err := row.Scan(
		&a.UserID,
		&a.Address,
		&a.Label,
		&a.AddedAt,
	)
	if err != nil {
		return nil, err
	}

	return &a, nil
}
