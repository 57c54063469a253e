package domain

// WithdrawalStatus is the state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"    // awaiting manual approval
	WithdrawalApproved   WithdrawalStatus = "approved"   // awaiting payout submission
	WithdrawalProcessing WithdrawalStatus = "processing" // submitted to payout processor
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalRejected   WithdrawalStatus = "rejected"
	WithdrawalFailed     WithdrawalStatus = "failed"
)

// String returns the string representation of WithdrawalStatus.
func (s WithdrawalStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalRejected || s == WithdrawalFailed
}

// CountsTowardLimits reports whether the request consumes the user's limits.
func (s WithdrawalStatus) CountsTowardLimits() bool {
	switch s {
	case WithdrawalPending, WithdrawalApproved, WithdrawalProcessing, WithdrawalCompleted:
		return true
	}
	return false
}

// LimitStatuses lists statuses that count toward withdrawal limits.
var LimitStatuses = []WithdrawalStatus{
	WithdrawalPending, WithdrawalApproved, WithdrawalProcessing, WithdrawalCompleted,
}

// WithdrawalRequest is a user-initiated outbound transfer.
// Corresponds to withdrawals table in PostgreSQL.
type WithdrawalRequest struct {
	ID                 string           // uuid
	UserID             string
	Asset              AssetCode
	Amount             int64            // gross minor units reserved
	DestinationAddress string
	NetworkCode        NetworkCode
	FeeAmount          int64
	NetAmount          int64            // sent to destination
	UsdValueCents      UsdCents         // valuation used for limits
	Status             WithdrawalStatus
	RequiresApproval   bool
	KYCTier            int
	PayoutTxHash       string
	FailureReason      string
	ReviewedBy         string
	CreatedAt          int64            // ms
	UpdatedAt          int64            // ms
}

// Ledger references of the withdrawal's operations.
func (w *WithdrawalRequest) ReserveReference() string { return "withdrawal:" + w.ID + ":reserve" }
func (w *WithdrawalRequest) SettleReference() string  { return "withdrawal:" + w.ID + ":settle" }
func (w *WithdrawalRequest) ReleaseReference() string { return "withdrawal:" + w.ID + ":release" }

// WithdrawalUpdate carries the fields changed by a status transition.
type WithdrawalUpdate struct {
	PayoutTxHash  string
	FailureReason string
	ReviewedBy    string
	UpdatedAt     int64
}

// KYCStatus is what the KYC provider reports for a user.
type KYCStatus struct {
	Tier   int    `json:"tier"`
	Status string `json:"status"` // approved | pending | rejected | not_submitted
}

// KYC review statuses.
const (
	KYCApproved     = "approved"
	KYCNotSubmitted = "not_submitted"
)

// EffectiveTier returns the tier used for limits. Unapproved or unknown tiers fall back to 0.
func (k KYCStatus) EffectiveTier() int {
	if k.Tier <= 0 || k.Tier > 3 {
		return 0
	}
	if k.Status != KYCApproved {
		return 0
	}
	return k.Tier
}

// TierPolicy holds the USD-equivalent withdrawal limits of a KYC tier.
type TierPolicy struct {
	Tier             int   `json:"tier"`
	MinUsd           int64 `json:"min_usd"`
	MaxUsd           int64 `json:"max_usd"`
	DailyLimitUsd    int64 `json:"daily_limit_usd"`
	WeeklyLimitUsd   int64 `json:"weekly_limit_usd"` // 0 = no weekly limit
	MonthlyLimitUsd  int64 `json:"monthly_limit_usd"`
	RequiresApproval bool  `json:"requires_approval"`
}

// PayoutResult is reported by the payout processor.
type PayoutResult struct {
	WithdrawalID string `json:"withdrawal_id"`
	TxHash       string `json:"tx_hash"`
	Success      bool   `json:"success"`
	Reason       string `json:"reason"`
}
