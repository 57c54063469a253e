package memory

import (
	"context"
	"sort"
	"sync"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/storage"
)

// account is one balance cell. Its mutex serializes every change to the
// balance; multi-account commits lock cells in sorted key order.
type account struct {
	mu      sync.Mutex
	key     domain.AccountKey
	balance int64
	version int64
	created int64
	updated int64
}

// LedgerStore is an in-memory implementation of storage.LedgerStore.
type LedgerStore struct {
	floors domain.BalanceFloors
	now    func() int64

	mu       sync.RWMutex
	accounts map[string]*account              // keyed by AccountKey.String()
	entries  []*domain.LedgerEntry            // seq order
	byID     map[string]*domain.LedgerEntry   // keyed by entry id
	byRef    map[string][]*domain.LedgerEntry // keyed by reference_id
	seq      int64
}

// NewLedgerStore creates a new in-memory ledger store enforcing floors.
func NewLedgerStore(floors domain.BalanceFloors) *LedgerStore {
	return &LedgerStore{
		floors:   floors,
		now:      nowMs,
		accounts: make(map[string]*account),
		byID:     make(map[string]*domain.LedgerEntry),
		byRef:    make(map[string][]*domain.LedgerEntry),
	}
}

// cell returns the account cell for key, creating it lazily.
func (s *LedgerStore) cell(key domain.AccountKey) *account {
	k := key.String()

	s.mu.RLock()
	a, ok := s.accounts[k]
	s.mu.RUnlock()
	if ok {
		return a
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok = s.accounts[k]; !ok {
		a = &account{key: key}
		s.accounts[k] = a
	}
	return a
}

// GetBalance returns the account, or a zero account if never touched.
func (s *LedgerStore) GetBalance(_ context.Context, key domain.AccountKey) (*domain.Account, error) {
	s.mu.RLock()
	a, ok := s.accounts[key.String()]
	s.mu.RUnlock()
	if !ok {
		return &domain.Account{Key: key}, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot(), nil
}

// ApplyDelta atomically adds delta to the balance of key.
func (s *LedgerStore) ApplyDelta(_ context.Context, key domain.AccountKey, delta int64) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, storage.ErrInvalidInput
	}

	a := s.cell(key)
	a.mu.Lock()
	defer a.mu.Unlock()

	next := a.balance + delta
	if !s.floors.Allows(key, next) {
		return a.balance, balanceError(key, a.balance, delta)
	}
	a.apply(next, s.now())
	return next, nil
}

// ListByUser retrieves all accounts of a user, ordered by key.
func (s *LedgerStore) ListByUser(_ context.Context, userID string) ([]*domain.Account, error) {
	s.mu.RLock()
	var cells []*account
	for _, a := range s.accounts {
		if a.key.UserID == userID {
			cells = append(cells, a)
		}
	}
	s.mu.RUnlock()

	result := make([]*domain.Account, 0, len(cells))
	for _, a := range cells {
		a.mu.Lock()
		result = append(result, a.snapshot())
		a.mu.Unlock()
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key.String() < result[j].Key.String()
	})
	return result, nil
}

// Commit appends entries and moves balances atomically.
func (s *LedgerStore) Commit(_ context.Context, entries []*domain.LedgerEntry) error {
	if len(entries) == 0 {
		return storage.ErrInvalidInput
	}

	// Lock every touched account once, in sorted key order.
	keys := make([]string, 0, len(entries))
	cells := make(map[string]*account, len(entries))
	for _, e := range entries {
		if e == nil || e.ID == "" {
			return storage.ErrInvalidInput
		}
		k := e.Account.String()
		if _, ok := cells[k]; !ok {
			cells[k] = s.cell(e.Account)
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		cells[k].mu.Lock()
	}
	defer func() {
		for i := len(keys) - 1; i >= 0; i-- {
			cells[keys[i]].mu.Unlock()
		}
	}()

	// Entry ids embed the account key, so a replay of the same entries
	// holds the same locks and cannot race this check.
	s.mu.RLock()
	for _, e := range entries {
		if _, exists := s.byID[e.ID]; exists {
			s.mu.RUnlock()
			return storage.ErrDuplicateKey
		}
	}
	s.mu.RUnlock()

	// First pass: compute balances without mutating.
	next := make(map[string]int64, len(keys))
	for _, k := range keys {
		next[k] = cells[k].balance
	}
	after := make([]int64, len(entries))
	for i, e := range entries {
		k := e.Account.String()
		next[k] += e.Amount
		after[i] = next[k]
	}
	for _, k := range keys {
		a := cells[k]
		if !s.floors.Allows(a.key, next[k]) {
			return balanceError(a.key, a.balance, next[k]-a.balance)
		}
	}

	// Second pass: apply.
	now := s.now()
	for _, k := range keys {
		cells[k].apply(next[k], now)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range entries {
		s.seq++
		e.Seq = s.seq
		e.BalanceAfter = after[i]

		entryCopy := *e
		s.entries = append(s.entries, &entryCopy)
		s.byID[e.ID] = &entryCopy
		s.byRef[e.ReferenceID] = append(s.byRef[e.ReferenceID], &entryCopy)
	}
	return nil
}

// GetByReference retrieves all entries of a reference, ordered by seq ASC.
func (s *LedgerStore) GetByReference(_ context.Context, referenceID string) ([]*domain.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refs := s.byRef[referenceID]
	result := make([]*domain.LedgerEntry, 0, len(refs))
	for _, e := range refs {
		entryCopy := *e
		result = append(result, &entryCopy)
	}
	return result, nil
}

// Query retrieves entries matching filter, newest first.
func (s *LedgerStore) Query(_ context.Context, filter domain.HistoryFilter) ([]*domain.LedgerEntry, error) {
	filter = filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerEntry
	skipped := 0
	for i := len(s.entries) - 1; i >= 0 && len(result) < filter.Limit; i-- {
		e := s.entries[i]
		if !filter.Matches(e) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		entryCopy := *e
		result = append(result, &entryCopy)
	}
	return result, nil
}

func (a *account) apply(balance, now int64) {
	if a.version == 0 {
		a.created = now
	}
	a.balance = balance
	a.version++
	a.updated = now
}

func (a *account) snapshot() *domain.Account {
	return &domain.Account{
		Key:       a.key,
		Balance:   a.balance,
		Version:   a.version,
		CreatedAt: a.created,
		UpdatedAt: a.updated,
	}
}

// balanceError reports an overdraw of key by a debit of -delta.
func balanceError(key domain.AccountKey, balance, delta int64) error {
	return &domain.BalanceError{
		Account:   key,
		Available: domain.Money{Asset: key.Asset, Units: balance},
		Requested: domain.Money{Asset: key.Asset, Units: -delta},
	}
}

// Verify interface compliance at compile time.
var _ storage.LedgerStore = (*LedgerStore)(nil)
