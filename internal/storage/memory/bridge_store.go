package memory

import (
	"context"
	"sort"
	"sync"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// BridgeStore is an in-memory implementation of storage.BridgeStore.
type BridgeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BridgeTransfer // keyed by id
}

// NewBridgeStore creates a new in-memory bridge store.
func NewBridgeStore() *BridgeStore {
	return &BridgeStore{
		data: make(map[string]*domain.BridgeTransfer),
	}
}

// Insert adds a new transfer. Returns ErrDuplicateKey if id exists.
func (s *BridgeStore) Insert(_ context.Context, b *domain.BridgeTransfer) error {
	if b == nil || b.ID == "" || b.UserID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[b.ID]; exists {
		return storage.ErrDuplicateKey
	}
	bCopy := *b
	s.data[b.ID] = &bCopy
	return nil
}

// GetByID retrieves a transfer by ID. Returns ErrNotFound if not exists.
func (s *BridgeStore) GetByID(_ context.Context, id string) (*domain.BridgeTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	bCopy := *b
	return &bCopy, nil
}

// ListByUser retrieves transfers of a user, newest first.
func (s *BridgeStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]*domain.BridgeTransfer, error) {
	s.mu.RLock()
	var result []*domain.BridgeTransfer
	for _, b := range s.data {
		if b.UserID == userID {
			bCopy := *b
			result = append(result, &bCopy)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].ID > result[j].ID
	})
	return page(result, limit, offset), nil
}

// Observe merges a destination-chain observation.
func (s *BridgeStore) Observe(_ context.Context, id, destTxHash string, confirmations, minConfirmations, at int64) (*domain.BridgeTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if !b.Status.IsTerminal() {
		if destTxHash != "" {
			b.DestTxHash = destTxHash
		}
		if confirmations > b.Confirmations {
			b.Confirmations = confirmations
		}
		b.Status = domain.StatusForConfirmations(b.Status, b.Confirmations, minConfirmations)
		b.UpdatedAt = at
	}
	bCopy := *b
	return &bCopy, nil
}

// Transition moves a transfer from → to.
func (s *BridgeStore) Transition(_ context.Context, id string, from, to domain.DepositStatus, reason string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if b.Status != from {
		return storage.ErrConflict
	}
	b.Status = to
	b.UpdatedAt = at
	switch to {
	case domain.DepositCredited:
		b.SettledAt = at
	case domain.DepositFailed:
		b.FailureReason = reason
	}
	return nil
}

// Verify interface compliance at compile time.
var _ storage.BridgeStore = (*BridgeStore)(nil)
