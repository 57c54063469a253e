package memory

import (
	"context"
	"sort"
	"sync"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// ReversalStore is an in-memory implementation of storage.ReversalStore.
type ReversalStore struct {
	mu        sync.RWMutex
	data      map[string]*domain.ReversalProposal // keyed by id
	byDeposit map[string]string                   // deposit id -> proposal id
}

// NewReversalStore creates a new in-memory reversal store.
func NewReversalStore() *ReversalStore {
	return &ReversalStore{
		data:      make(map[string]*domain.ReversalProposal),
		byDeposit: make(map[string]string),
	}
}

func copyProposal(p *domain.ReversalProposal) *domain.ReversalProposal {
	pCopy := *p
	pCopy.Entries = append([]domain.ProposedEntry(nil), p.Entries...)
	return &pCopy
}

// Insert adds a proposal. Returns ErrDuplicateKey if the deposit already has one.
func (s *ReversalStore) Insert(_ context.Context, p *domain.ReversalProposal) error {
	if p == nil || p.ID == "" || p.DepositID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if _, exists := s.byDeposit[p.DepositID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[p.ID] = copyProposal(p)
	s.byDeposit[p.DepositID] = p.ID
	return nil
}

// GetByID retrieves a proposal by ID. Returns ErrNotFound if not exists.
func (s *ReversalStore) GetByID(_ context.Context, id string) (*domain.ReversalProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyProposal(p), nil
}

// GetByDeposit retrieves the proposal raised for a deposit.
func (s *ReversalStore) GetByDeposit(_ context.Context, depositID string) (*domain.ReversalProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.byDeposit[depositID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyProposal(s.data[id]), nil
}

// ListByStatus retrieves proposals in status, oldest first.
func (s *ReversalStore) ListByStatus(_ context.Context, status domain.ReversalStatus, limit, offset int) ([]*domain.ReversalProposal, error) {
	s.mu.RLock()
	var result []*domain.ReversalProposal
	for _, p := range s.data {
		if status == "" || p.Status == status {
			result = append(result, copyProposal(p))
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt < result[j].CreatedAt
		}
		return result[i].ID < result[j].ID
	})
	return page(result, limit, offset), nil
}

// Decide moves a pending proposal to status.
func (s *ReversalStore) Decide(_ context.Context, id string, status domain.ReversalStatus, by string, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if p.Status != domain.ReversalPending {
		return storage.ErrConflict
	}
	p.Status = status
	p.DecidedBy = by
	p.DecidedAt = at
	return nil
}

// Verify interface compliance at compile time.
var _ storage.ReversalStore = (*ReversalStore)(nil)
