package ledger

import (
	"context"
	"fmt"
	"sort"

	"custody-ledger/internal/domain"
)

// Balance returns the balance of one account as Money.
func (l *Ledger) Balance(ctx context.Context, key domain.AccountKey) (domain.Money, error) {
	asset, err := l.assets.Asset(key.Asset)
	if err != nil {
		return domain.Money{}, err
	}
	acc, err := l.store.GetBalance(ctx, key)
	if err != nil {
		return domain.Money{}, fmt.Errorf("get balance %s: %w", key, err)
	}
	return asset.Units(acc.Balance), nil
}

// Balances summarizes a user's accounts per asset. Pending sums every
// pending bucket (withdrawal reservations and bridges in flight).
func (l *Ledger) Balances(ctx context.Context, userID string) ([]domain.BalanceView, error) {
	accounts, err := l.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	views := make(map[domain.AssetCode]*domain.BalanceView)
	for _, acc := range accounts {
		v, ok := views[acc.Key.Asset]
		if !ok {
			v = &domain.BalanceView{Asset: acc.Key.Asset}
			views[acc.Key.Asset] = v
		}
		switch acc.Key.Type {
		case domain.AccountMain:
			v.AvailableUnits += acc.Balance
		case domain.AccountLocked:
			v.LockedUnits += acc.Balance
		case domain.AccountStaking:
			v.StakingUnits += acc.Balance
		case domain.AccountPending:
			v.PendingUnits += acc.Balance
		}
	}

	result := make([]domain.BalanceView, 0, len(views))
	for code, v := range views {
		asset, err := l.assets.Asset(code)
		if err != nil {
			// Asset removed from config after balances were booked.
			l.logger.Printf("balances: %s: %v", userID, err)
			continue
		}
		v.Available = asset.Units(v.AvailableUnits).Amount()
		v.Locked = asset.Units(v.LockedUnits).Amount()
		v.Staking = asset.Units(v.StakingUnits).Amount()
		v.Pending = asset.Units(v.PendingUnits).Amount()
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Asset < result[j].Asset })
	return result, nil
}

// History returns the user's entries newest first.
func (l *Ledger) History(ctx context.Context, userID string, filter domain.HistoryFilter) ([]*domain.LedgerEntry, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidEntry)
	}
	filter.UserID = userID
	entries, err := l.store.Query(ctx, filter.Normalize())
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return entries, nil
}

// Entries returns the entries recorded under a reference.
func (l *Ledger) Entries(ctx context.Context, referenceID string) ([]*domain.LedgerEntry, error) {
	entries, err := l.store.GetByReference(ctx, referenceID)
	if err != nil {
		return nil, fmt.Errorf("get entries %s: %w", referenceID, err)
	}
	return entries, nil
}
