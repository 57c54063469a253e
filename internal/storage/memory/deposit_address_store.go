package memory

import (
	"context"
	"sort"
	"sync"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// DepositAddressStore is an in-memory implementation of storage.DepositAddressStore.
type DepositAddressStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DepositAddress // keyed by network|address
}

// NewDepositAddressStore creates a new in-memory deposit address store.
func NewDepositAddressStore() *DepositAddressStore {
	return &DepositAddressStore{
		data: make(map[string]*domain.DepositAddress),
	}
}

func addressKey(network domain.NetworkCode, address string) string {
	return string(network) + "|" + address
}

// Insert registers an address. Returns ErrDuplicateKey if (network, address) exists.
func (s *DepositAddressStore) Insert(_ context.Context, a *domain.DepositAddress) error {
	if a == nil || a.Address == "" || a.UserID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := addressKey(a.Network, a.Address)
	if _, exists := s.data[key]; exists {
		return storage.ErrDuplicateKey
	}
	addrCopy := *a
	s.data[key] = &addrCopy
	return nil
}

// Get retrieves the owner of an address. Returns ErrNotFound if not exists.
func (s *DepositAddressStore) Get(_ context.Context, network domain.NetworkCode, address string) (*domain.DepositAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[addressKey(network, address)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	addrCopy := *a
	return &addrCopy, nil
}

// ListByUser retrieves all addresses of a user, ordered by network.
func (s *DepositAddressStore) ListByUser(_ context.Context, userID string) ([]*domain.DepositAddress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DepositAddress
	for _, a := range s.data {
		if a.UserID == userID {
			addrCopy := *a
			result = append(result, &addrCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return addressKey(result[i].Network, result[i].Address) < addressKey(result[j].Network, result[j].Address)
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.DepositAddressStore = (*DepositAddressStore)(nil)
