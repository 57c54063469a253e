package memory

import (
	"context"
	"sort"
	"sync"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// WithdrawalStore is an in-memory implementation of storage.WithdrawalStore.
type WithdrawalStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WithdrawalRequest // keyed by id
}

// NewWithdrawalStore creates a new in-memory withdrawal store.
func NewWithdrawalStore() *WithdrawalStore {
	return &WithdrawalStore{
		data: make(map[string]*domain.WithdrawalRequest),
	}
}

// Insert adds a new request. Returns ErrDuplicateKey if id exists.
func (s *WithdrawalStore) Insert(_ context.Context, w *domain.WithdrawalRequest) error {
	if w == nil || w.ID == "" || w.UserID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[w.ID]; exists {
		return storage.ErrDuplicateKey
	}
	wCopy := *w
	s.data[w.ID] = &wCopy
	return nil
}

// GetByID retrieves a request by ID. Returns ErrNotFound if not exists.
func (s *WithdrawalStore) GetByID(_ context.Context, id string) (*domain.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	wCopy := *w
	return &wCopy, nil
}

// ListByUser retrieves requests of a user, newest first.
func (s *WithdrawalStore) ListByUser(_ context.Context, userID string, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	s.mu.RLock()
	var result []*domain.WithdrawalRequest
	for _, w := range s.data {
		if w.UserID == userID && (status == "" || w.Status == status) {
			wCopy := *w
			result = append(result, &wCopy)
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

// ListByStatus retrieves requests in status, oldest first.
func (s *WithdrawalStore) ListByStatus(_ context.Context, status domain.WithdrawalStatus, limit int) ([]*domain.WithdrawalRequest, error) {
	s.mu.RLock()
	var result []*domain.WithdrawalRequest
	for _, w := range s.data {
		if w.Status == status {
			wCopy := *w
			result = append(result, &wCopy)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})
	return page(result, limit, 0), nil
}

// SumUsdSince sums usd_value_cents of matching requests created at or after sinceMs.
func (s *WithdrawalStore) SumUsdSince(_ context.Context, userID string, sinceMs int64, statuses []domain.WithdrawalStatus) (domain.UsdCents, error) {
	counted := make(map[domain.WithdrawalStatus]bool, len(statuses))
	for _, st := range statuses {
		counted[st] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum domain.UsdCents
	for _, w := range s.data {
		if w.UserID == userID && w.CreatedAt >= sinceMs && counted[w.Status] {
			sum += w.UsdValueCents
		}
	}
	return sum, nil
}

// Transition moves a request from → to.
func (s *WithdrawalStore) Transition(_ context.Context, id string, from, to domain.WithdrawalStatus, update domain.WithdrawalUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if w.Status != from {
		return storage.ErrConflict
	}
	w.Status = to
	if update.PayoutTxHash != "" {
		w.PayoutTxHash = update.PayoutTxHash
	}
	if update.FailureReason != "" {
		w.FailureReason = update.FailureReason
	}
	if update.ReviewedBy != "" {
		w.ReviewedBy = update.ReviewedBy
	}
	w.UpdatedAt = update.UpdatedAt
	return nil
}

// Verify interface compliance at compile time.
var _ storage.WithdrawalStore = (*WithdrawalStore)(nil)
