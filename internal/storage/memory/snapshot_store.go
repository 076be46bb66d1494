package memory

import (
	"context"
	"sort"
	"sync"

	"tokenfolio/internal/domain"
	"tokenfolio/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.StatsSnapshot // keyed by snapshot ID
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]*domain.StatsSnapshot),
	}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

// Insert records a snapshot. Returns ErrDuplicateKey if the ID exists.
func (s *SnapshotStore) Insert(_ context.Context, snap *domain.StatsSnapshot) error {
	if snap == nil || snap.SnapshotID == "" || snap.UserID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[snap.SnapshotID]; exists {
		return storage.ErrDuplicateKey
	}

	copied := *snap
	s.data[snap.SnapshotID] = &copied
	return nil
}

// ListByUser returns up to limit snapshots for a user, newest first.
func (s *SnapshotStore) ListByUser(_ context.Context, userID string, limit int) ([]*domain.StatsSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.StatsSnapshot
	for _, snap := range s.data {
		if snap.UserID == userID {
			copied := *snap
			out = append(out, &copied)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].SnapshotID > out[j].SnapshotID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
