package memory

import (
	"context"
	"sort"
	"sync"

	"tokenfolio/internal/domain"
	"tokenfolio/internal/storage"
)

// AddressStore is an in-memory implementation of storage.AddressStore.
type AddressStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TrackedAddress // keyed by userID|address
}

// NewAddressStore creates a new in-memory address store.
func NewAddressStore() *AddressStore {
	return &AddressStore{
		data: make(map[string]*domain.TrackedAddress),
	}
}

// Compile-time interface check.
var _ storage.AddressStore = (*AddressStore)(nil)

func addressKey(userID, address string) string {
	return userID + "|" + domain.NormalizeAddress(address)
}

// Add registers an address for a user. Returns ErrDuplicateKey if the
// user already tracks it.
func (s *AddressStore) Add(_ context.Context, a *domain.TrackedAddress) error {
	if a == nil || a.UserID == "" || a.Address == "" {
		return storage.ErrInvalidInput
	}

	key := addressKey(a.UserID, a.Address)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}

	stored := *a
	stored.Address = domain.NormalizeAddress(a.Address)
	s.data[key] = &stored
	return nil
}

// Remove drops an address from a user's set.
func (s *AddressStore) Remove(_ context.Context, userID, address string) error {
	key := addressKey(userID, address)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, key)
	return nil
}

// ListByUser returns a user's tracked addresses ordered by AddedAt ASC,
// address ASC.
func (s *AddressStore) ListByUser(_ context.Context, userID string) ([]*domain.TrackedAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TrackedAddress
	for _, a := range s.data {
		if a.UserID == userID {
			copied := *a
			out = append(out, &copied)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt != out[j].AddedAt {
			return out[i].AddedAt < out[j].AddedAt
		}
		return out[i].Address < out[j].Address
	})
	return out, nil
}

// UsersForAddress returns the IDs of users tracking the address.
func (s *AddressStore) UsersForAddress(_ context.Context, address string) ([]string, error) {
	normalized := domain.NormalizeAddress(address)

	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, a := range s.data {
		if a.Address != normalized {
			continue
		}
		if _, dup := seen[a.UserID]; dup {
			continue
		}
		seen[a.UserID] = struct{}{}
		out = append(out, a.UserID)
	}

	sort.Strings(out)
	return out, nil
}
