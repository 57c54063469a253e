package memory

import (
	"context"
	"sort"
	"sync"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// DepositStore is an in-memory implementation of storage.DepositStore.
type DepositStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.DepositObservation // keyed by id
	byKey map[string]string                     // natural key -> id
}

// NewDepositStore creates a new in-memory deposit store.
func NewDepositStore() *DepositStore {
	return &DepositStore{
		data:  make(map[string]*domain.DepositObservation),
		byKey: make(map[string]string),
	}
}

func depositKey(network domain.NetworkCode, txHash, toAddress string) string {
	return domain.DepositReference(network, txHash, toAddress)
}

// Upsert inserts an observation or merges it into the existing record.
func (s *DepositStore) Upsert(_ context.Context, d *domain.DepositObservation, minConfirmations int64) (*domain.DepositObservation, error) {
	if d == nil || d.ID == "" || d.TxHash == "" || d.ToAddress == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := depositKey(d.Network, d.TxHash, d.ToAddress)
	if id, exists := s.byKey[key]; exists {
		cur := s.data[id]
		if cur.Status.IsTerminal() {
			depositCopy := *cur
			return &depositCopy, nil
		}
		if d.Confirmations > cur.Confirmations {
			cur.Confirmations = d.Confirmations
		}
		if d.BlockNumber > cur.BlockNumber {
			cur.BlockNumber = d.BlockNumber
			cur.BlockTimestamp = d.BlockTimestamp
		}
		status := domain.StatusForConfirmations(cur.Status, cur.Confirmations, minConfirmations)
		if status == domain.DepositConfirmed && cur.Status != domain.DepositConfirmed {
			cur.ConfirmedAt = d.DetectedAt
		}
		cur.Status = status

		depositCopy := *cur
		return &depositCopy, nil
	}

	stored := *d
	stored.Status = domain.StatusForConfirmations(domain.DepositObserved, d.Confirmations, minConfirmations)
	if stored.Status == domain.DepositConfirmed {
		stored.ConfirmedAt = d.DetectedAt
	}
	s.data[d.ID] = &stored
	s.byKey[key] = d.ID

	depositCopy := stored
	return &depositCopy, nil
}

// GetByID retrieves a deposit by ID. Returns ErrNotFound if not exists.
func (s *DepositStore) GetByID(_ context.Context, id string) (*domain.DepositObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	depositCopy := *d
	return &depositCopy, nil
}

// GetByKey retrieves a deposit by its natural key. Returns ErrNotFound if not exists.
func (s *DepositStore) GetByKey(_ context.Context, network domain.NetworkCode, txHash, toAddress string) (*domain.DepositObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byKey[depositKey(network, txHash, toAddress)]
	if !exists {
		return nil, storage.ErrNotFound
	}
	depositCopy := *s.data[id]
	return &depositCopy, nil
}

// MarkCredited moves confirmed → credited.
func (s *DepositStore) MarkCredited(_ context.Context, id string, credit domain.DepositCredit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if d.Status != domain.DepositConfirmed {
		return storage.ErrConflict
	}
	d.Status = domain.DepositCredited
	d.FeeCharged = credit.FeeCharged
	d.AmountCredited = credit.AmountCredited
	d.CreditedAt = credit.CreditedAt
	return nil
}

// MarkFailed moves a non-terminal deposit to failed.
func (s *DepositStore) MarkFailed(_ context.Context, id, reason string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if d.Status.IsTerminal() {
		return storage.ErrConflict
	}
	d.Status = domain.DepositFailed
	d.FailureReason = reason
	d.FailedAt = at
	return nil
}

// FlagReorg marks a credited deposit as invalidated by a reorg.
func (s *DepositStore) FlagReorg(_ context.Context, id, reason string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if d.Status != domain.DepositCredited {
		return storage.ErrConflict
	}
	d.ReorgFlagged = true
	d.FailureReason = reason
	d.FailedAt = at
	return nil
}

// ListByUser retrieves deposits of a user, newest first.
func (s *DepositStore) ListByUser(_ context.Context, userID string, limit, offset int) ([]*domain.DepositObservation, error) {
	s.mu.RLock()
	var result []*domain.DepositObservation
	for _, d := range s.data {
		if d.UserID == userID {
			depositCopy := *d
			result = append(result, &depositCopy)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].DetectedAt != result[j].DetectedAt {
			return result[i].DetectedAt > result[j].DetectedAt
		}
		return result[i].ID > result[j].ID
	})
	return page(result, limit, offset), nil
}

// ListByStatus retrieves deposits in status, oldest first.
func (s *DepositStore) ListByStatus(_ context.Context, status domain.DepositStatus, limit int) ([]*domain.DepositObservation, error) {
	s.mu.RLock()
	var result []*domain.DepositObservation
	for _, d := range s.data {
		if d.Status == status {
			depositCopy := *d
			result = append(result, &depositCopy)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].DetectedAt != result[j].DetectedAt {
			return result[i].DetectedAt < result[j].DetectedAt
		}
		return result[i].ID < result[j].ID
	})
	return page(result, limit, 0), nil
}

// page applies limit/offset to a sorted slice. limit <= 0 means no limit.
func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	if offset > 0 {
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// Verify interface compliance at compile time.
var _ storage.DepositStore = (*DepositStore)(nil)
