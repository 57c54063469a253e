package ledger

import (
	"context"
	"fmt"

	"custody-ledger/internal/domain"
)

// Transfer moves amount between two accounts of the same asset as one
// operation.
func (l *Ledger) Transfer(ctx context.Context, from, to domain.AccountKey, amount int64, entryType domain.EntryType, referenceID, description string) (*Receipt, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: transfer amount must be positive", domain.ErrInvalidAmount)
	}
	if from.Asset != to.Asset {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrAssetMismatch, from.Asset, to.Asset)
	}
	return l.Record(ctx, []*domain.LedgerEntry{
		{Account: from, EntryType: entryType, Amount: -amount, ReferenceID: referenceID, Description: description},
		{Account: to, EntryType: entryType, Amount: amount, ReferenceID: referenceID, Description: description},
	})
}

// Lock moves value from main to locked. entryType names the business
// operation the hold belongs to.
func (l *Ledger) Lock(ctx context.Context, userID string, asset domain.AssetCode, amount int64, entryType domain.EntryType, referenceID string) (*Receipt, error) {
	return l.Transfer(ctx,
		domain.UserAccount(userID, asset, domain.AccountMain),
		domain.UserAccount(userID, asset, domain.AccountLocked),
		amount, entryType, referenceID, "lock")
}

// Unlock moves value from locked back to main.
func (l *Ledger) Unlock(ctx context.Context, userID string, asset domain.AssetCode, amount int64, entryType domain.EntryType, referenceID string) (*Receipt, error) {
	return l.Transfer(ctx,
		domain.UserAccount(userID, asset, domain.AccountLocked),
		domain.UserAccount(userID, asset, domain.AccountMain),
		amount, entryType, referenceID, "unlock")
}

// Stake moves value from main to staking.
func (l *Ledger) Stake(ctx context.Context, userID string, asset domain.AssetCode, amount int64, referenceID string) (*Receipt, error) {
	return l.Transfer(ctx,
		domain.UserAccount(userID, asset, domain.AccountMain),
		domain.UserAccount(userID, asset, domain.AccountStaking),
		amount, domain.EntryStake, referenceID, "stake")
}

// Unstake moves value from staking back to main.
func (l *Ledger) Unstake(ctx context.Context, userID string, asset domain.AssetCode, amount int64, referenceID string) (*Receipt, error) {
	return l.Transfer(ctx,
		domain.UserAccount(userID, asset, domain.AccountStaking),
		domain.UserAccount(userID, asset, domain.AccountMain),
		amount, domain.EntryUnstake, referenceID, "unstake")
}

// Reward credits a user's main account from custody, e.g. a mining payout.
func (l *Ledger) Reward(ctx context.Context, userID string, asset domain.AssetCode, amount int64, referenceID, description string) (*Receipt, error) {
	return l.Transfer(ctx,
		domain.SystemAccount(asset, domain.AccountCustody),
		domain.UserAccount(userID, asset, domain.AccountMain),
		amount, domain.EntryReward, referenceID, description)
}

// FeeLegs returns the pool credits of a fee breakdown as entries.
func FeeLegs(asset domain.AssetCode, fee domain.FeeBreakdown, referenceID string) []*domain.LedgerEntry {
	shares := fee.PoolShares()
	legs := make([]*domain.LedgerEntry, 0, len(shares))
	for _, s := range shares {
		legs = append(legs, &domain.LedgerEntry{
			Account:     domain.SystemAccount(asset, s.Pool),
			EntryType:   domain.EntryFee,
			Amount:      s.Amount,
			ReferenceID: referenceID,
			Description: string(s.Pool) + " share",
		})
	}
	return legs
}
