package domain

// FeePolicy describes how a gross amount is charged and split between pools.
type FeePolicy struct {
	Key         string `json:"key"`
	TotalBps    int64  `json:"total_bps"`    // total fee in basis points of gross
	ProtocolPct int64  `json:"protocol_pct"` // share of the fee, percent
	CharityPct  int64  `json:"charity_pct"`
	AcademyPct  int64  `json:"academy_pct"`
	MinFee      int64  `json:"min_fee"`      // minor units, 0 = none
}

// Fee policy operation keys.
const (
	FeeKeyDepositCrypto  = "deposit.crypto"
	FeeKeyDepositStables = "deposit.stables"
	FeeKeyWithdrawal     = "withdrawal"
	FeeKeySwap           = "swap"
	FeeKeyBridge         = "bridge"
)

// FeeBreakdown is the result of splitting a gross amount.
// Invariants: Protocol+Charity+Academy == TotalFee and Net+TotalFee == Gross.
type FeeBreakdown struct {
	Gross    int64 `json:"gross"`
	TotalFee int64 `json:"total_fee"`
	Protocol int64 `json:"protocol"`
	Charity  int64 `json:"charity"`
	Academy  int64 `json:"academy"`
	Net      int64 `json:"net"`
}

// PoolShares returns the non-zero pool credits in a stable order.
func (b FeeBreakdown) PoolShares() []PoolShare {
	shares := make([]PoolShare, 0, 3)
	for _, s := range []PoolShare{
		{Pool: AccountProtocolFees, Amount: b.Protocol},
		{Pool: AccountCharityFund, Amount: b.Charity},
		{Pool: AccountAcademyFund, Amount: b.Academy},
	} {
		if s.Amount != 0 {
			shares = append(shares, s)
		}
	}
	return shares
}

// PoolShare is one fee pool credit.
type PoolShare struct {
	Pool   AccountType
	Amount int64
}
