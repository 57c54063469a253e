package domain

import "strings"

// AccountType is the logical account a balance lives in.
type AccountType string

const (
	AccountMain         AccountType = "main"
	AccountLocked       AccountType = "locked"
	AccountStaking      AccountType = "staking"
	AccountPending      AccountType = "pending"
	AccountProtocolFees AccountType = "protocol_fees"
	AccountCharityFund  AccountType = "charity_fund"
	AccountAcademyFund  AccountType = "academy_fund"
	AccountBurnPool     AccountType = "burn_pool"

	// AccountCustody is the system contra account mirroring on-chain custody
	// wallets. It is the counter-leg of deposits, payouts and conversions.
	AccountCustody AccountType = "custody"
)

// String returns the string representation of AccountType.
func (t AccountType) String() string {
	return string(t)
}

// IsValid checks if the account type is a known value.
func (t AccountType) IsValid() bool {
	switch t {
	case AccountMain, AccountLocked, AccountStaking, AccountPending,
		AccountProtocolFees, AccountCharityFund, AccountAcademyFund,
		AccountBurnPool, AccountCustody:
		return true
	}
	return false
}

// IsSystemOnly reports whether the type may only be held by the platform.
func (t AccountType) IsSystemOnly() bool {
	switch t {
	case AccountProtocolFees, AccountCharityFund, AccountAcademyFund, AccountBurnPool, AccountCustody:
		return true
	}
	return false
}

// Well-known buckets.
const (
	BucketWithdrawal   = "withdrawal"
	bucketBridgePrefix = "bridge:"
)

// BridgeBucket returns the pending bucket for bridge transfers to chain.
func BridgeBucket(chain NetworkCode) string {
	return bucketBridgePrefix + string(chain)
}

// AccountKey identifies a balance. UserID is empty for system accounts.
// Bucket qualifies sub-accounts of the same type and is usually empty.
type AccountKey struct {
	UserID string
	Asset  AssetCode
	Type   AccountType
	Bucket string
}

// UserAccount returns the key of a user account.
func UserAccount(userID string, asset AssetCode, t AccountType) AccountKey {
	return AccountKey{UserID: userID, Asset: asset, Type: t}
}

// SystemAccount returns the key of a platform-wide pool account.
func SystemAccount(asset AssetCode, t AccountType) AccountKey {
	return AccountKey{Asset: asset, Type: t}
}

// WithBucket returns a copy of k with the bucket set.
func (k AccountKey) WithBucket(bucket string) AccountKey {
	k.Bucket = bucket
	return k
}

// IsSystem reports whether k is a system account.
func (k AccountKey) IsSystem() bool {
	return k.UserID == ""
}

// String returns the canonical key "user|asset|type|bucket". System accounts
// use "system" as the user part. The ledger locks accounts in this order.
func (k AccountKey) String() string {
	user := k.UserID
	if user == "" {
		user = "system"
	}
	return user + "|" + string(k.Asset) + "|" + string(k.Type) + "|" + k.Bucket
}

// Validate checks the key is well formed.
func (k AccountKey) Validate() error {
	if k.Asset == "" || !k.Type.IsValid() {
		return ErrInvalidEntry
	}
	if k.Type.IsSystemOnly() && !k.IsSystem() {
		return ErrInvalidEntry
	}
	if strings.Contains(k.UserID, "|") || strings.Contains(k.Bucket, "|") {
		return ErrInvalidEntry
	}
	return nil
}

// Account is a balance row.
// Corresponds to accounts table in PostgreSQL.
type Account struct {
	Key       AccountKey
	Balance   int64 // minor units
	Version   int64 // incremented on every change
	CreatedAt int64 // ms
	UpdatedAt int64 // ms
}

// BalanceFloors holds the lowest balance each account type may reach.
// Types absent from the map have a floor of zero. Only system accounts
// may have a negative floor.
type BalanceFloors struct {
	Floors    map[AccountType]int64
	Unbounded map[AccountType]bool
}

// DefaultBalanceFloors leaves custody unbounded and allows the burn pool to
// absorb sub-unit dust.
func DefaultBalanceFloors() BalanceFloors {
	return BalanceFloors{
		Floors:    map[AccountType]int64{AccountBurnPool: -1},
		Unbounded: map[AccountType]bool{AccountCustody: true},
	}
}

// Allows reports whether balance is acceptable for key.
func (f BalanceFloors) Allows(key AccountKey, balance int64) bool {
	if balance >= 0 {
		return true
	}
	if !key.IsSystem() {
		return false
	}
	if f.Unbounded[key.Type] {
		return true
	}
	floor, ok := f.Floors[key.Type]
	return ok && balance >= floor
}

// BalanceView is the per-asset summary returned to users.
type BalanceView struct {
	Asset     AssetCode `json:"asset"`
	Available string    `json:"available"`
	Locked    string    `json:"locked"`
	Staking   string    `json:"staking"`
	Pending   string    `json:"pending"`

	AvailableUnits int64 `json:"available_units"`
	LockedUnits    int64 `json:"locked_units"`
	StakingUnits   int64 `json:"staking_units"`
	PendingUnits   int64 `json:"pending_units"`
}
