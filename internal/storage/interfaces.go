package storage

import (
	"context"

	"tokenfolio/internal/domain"
)

// AddressStore provides access to the tracked-address registry.
// Addresses are stored normalized (lowercase); identity is
// case-insensitive.
type AddressStore interface {
	// Add registers an address for a user. Returns ErrDuplicateKey if
	// the user already tracks it.
	Add(ctx context.Context, a *domain.TrackedAddress) error

	// Remove drops an address from a user's set. Returns ErrNotFound
	// if the user does not track it.
	Remove(ctx context.Context, userID, address string) error

	// ListByUser returns a user's tracked addresses ordered by AddedAt
	// ASC, address ASC.
	ListByUser(ctx context.Context, userID string) ([]*domain.TrackedAddress, error)

	// UsersForAddress returns the IDs of users tracking the address.
	UsersForAddress(ctx context.Context, address string) ([]string, error)
}

// SnapshotStore archives computed portfolio stats.
type SnapshotStore interface {
	// Insert records a snapshot. Returns ErrDuplicateKey if the
	// snapshot ID exists.
	Insert(ctx context.Context, s *domain.StatsSnapshot) error

	// ListByUser returns up to limit snapshots for a user, newest
	// first.
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.StatsSnapshot, error)
}
