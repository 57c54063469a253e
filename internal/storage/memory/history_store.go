package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// HistoryStore is an in-memory implementation of storage.HistorySink.
type HistoryStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LedgerEntry // keyed by entry id
}

// NewHistoryStore creates a new in-memory history store.
func NewHistoryStore() *HistoryStore {
	return &HistoryStore{
		data: make(map[string]*domain.LedgerEntry),
	}
}

// Append stores entries, ignoring ids already present.
func (s *HistoryStore) Append(_ context.Context, entries []*domain.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range entries {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[e.ID]; exists {
			continue
		}
		entryCopy := *e
		s.data[e.ID] = &entryCopy
	}
	return nil
}

// FeeTotals aggregates fee-pool credits per UTC day, asset and pool.
func (s *HistoryStore) FeeTotals(_ context.Context, fromMs, toMs int64) ([]domain.FeeTotal, error) {
	type groupKey struct {
		day   string
		asset domain.AssetCode
		pool  domain.AccountType
	}

	s.mu.RLock()
	groups := make(map[groupKey]*domain.FeeTotal)
	for _, e := range s.data {
		if !isFeePool(e.Account.Type) || e.Amount <= 0 {
			continue
		}
		if e.CreatedAt < fromMs || (toMs > 0 && e.CreatedAt > toMs) {
			continue
		}
		k := groupKey{
			day:   time.UnixMilli(e.CreatedAt).UTC().Format("2006-01-02"),
			asset: e.Account.Asset,
			pool:  e.Account.Type,
		}
		t, ok := groups[k]
		if !ok {
			t = &domain.FeeTotal{Day: k.day, Asset: k.asset, Pool: k.pool}
			groups[k] = t
		}
		t.Amount += e.Amount
		t.Entries++
	}
	s.mu.RUnlock()

	result := make([]domain.FeeTotal, 0, len(groups))
	for _, t := range groups {
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.Asset != b.Asset {
			return a.Asset < b.Asset
		}
		return a.Pool < b.Pool
	})
	return result, nil
}

func isFeePool(t domain.AccountType) bool {
	return t == domain.AccountProtocolFees || t == domain.AccountCharityFund || t == domain.AccountAcademyFund
}

// Verify interface compliance at compile time.
var _ storage.HistorySink = (*HistoryStore)(nil)
