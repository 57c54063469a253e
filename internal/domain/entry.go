package domain

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryDeposit    EntryType = "deposit"
	EntryWithdrawal EntryType = "withdrawal"
	EntrySwap       EntryType = "swap"
	EntryBridge     EntryType = "bridge"
	EntryReward     EntryType = "reward"
	EntryFee        EntryType = "fee"
	EntryStake      EntryType = "stake"
	EntryUnstake    EntryType = "unstake"
)

// String returns the string representation of EntryType.
func (t EntryType) String() string {
	return string(t)
}

// IsValid checks if the entry type is a known value.
func (t EntryType) IsValid() bool {
	switch t {
	case EntryDeposit, EntryWithdrawal, EntrySwap, EntryBridge,
		EntryReward, EntryFee, EntryStake, EntryUnstake:
		return true
	}
	return false
}

// LedgerEntry is an immutable journal line.
// Corresponds to ledger_entries table in PostgreSQL.
type LedgerEntry struct {
	ID           string      // SHA256(entry_type|reference_id|account_key), the idempotency key
	Seq          int64       // insertion order, assigned by the store
	Account      AccountKey  // account the amount is applied to
	EntryType    EntryType
	Amount       int64       // signed minor units
	BalanceAfter int64       // account balance after this entry, assigned by the store
	ReferenceID  string      // groups the entries of one logical operation
	Description  string
	CreatedAt    int64       // ms
}

// Asset returns the asset of the entry's account.
func (e *LedgerEntry) Asset() AssetCode {
	return e.Account.Asset
}

// HistoryFilter narrows a ledger history query. Zero values mean "any".
type HistoryFilter struct {
	UserID      string
	Asset       AssetCode
	EntryType   EntryType
	ReferenceID string
	FromMs      int64 // inclusive
	ToMs        int64 // inclusive, 0 = open
	Limit       int
	Offset      int
}

// History paging bounds.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// Normalize clamps paging values.
func (f HistoryFilter) Normalize() HistoryFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether e passes the filter (ignoring paging).
func (f HistoryFilter) Matches(e *LedgerEntry) bool {
	if f.UserID != "" && e.Account.UserID != f.UserID {
		return false
	}
	if f.Asset != "" && e.Account.Asset != f.Asset {
		return false
	}
	if f.EntryType != "" && e.EntryType != f.EntryType {
		return false
	}
	if f.ReferenceID != "" && e.ReferenceID != f.ReferenceID {
		return false
	}
	if f.FromMs > 0 && e.CreatedAt < f.FromMs {
		return false
	}
	if f.ToMs > 0 && e.CreatedAt > f.ToMs {
		return false
	}
	return true
}

// FeeTotal is a fee-pool aggregate for one asset, pool and day.
type FeeTotal struct {
	Day     string      // YYYY-MM-DD (UTC)
	Asset   AssetCode
	Pool    AccountType // protocol_fees | charity_fund | academy_fund
	Amount  int64       // minor units credited
	Entries int64
}
