package domain

// BridgeTransfer tracks value relocated to another chain. It follows the
// deposit state machine on the destination chain side.
// Corresponds to bridge_transfers table in PostgreSQL.
type BridgeTransfer struct {
	ID                 string        // uuid
	UserID             string
	Asset              AssetCode
	Amount             int64         // gross minor units debited
	FeeAmount          int64
	NetAmount          int64         // held in the pending bucket until settled
	FromChain          NetworkCode
	ToChain            NetworkCode
	DestinationAddress string
	ReferenceID        string        // ledger reference of the bridge-out
	DestTxHash         string        // destination chain transaction
	Confirmations      int64         // max observed on destination chain
	Status             DepositStatus
	FailureReason      string
	CreatedAt          int64         // ms
	UpdatedAt          int64         // ms
	SettledAt          int64         // ms
}

// PendingAccount returns the bucket holding the transfer until settlement.
func (b *BridgeTransfer) PendingAccount() AccountKey {
	return UserAccount(b.UserID, b.Asset, AccountPending).WithBucket(BridgeBucket(b.ToChain))
}

// SettleReference is the ledger reference of the settlement.
func (b *BridgeTransfer) SettleReference() string { return "bridge:" + b.ID + ":settle" }

// RefundReference is the ledger reference of a failed transfer's refund.
func (b *BridgeTransfer) RefundReference() string { return "bridge:" + b.ID + ":refund" }
