package domain

// DepositStatus is the state of a chain-observed transaction.
//
//	observed → confirming → confirmed → credited
//	observed | confirming | confirmed → failed
type DepositStatus string

const (
	DepositObserved   DepositStatus = "observed"
	DepositConfirming DepositStatus = "confirming"
	DepositConfirmed  DepositStatus = "confirmed"
	DepositCredited   DepositStatus = "credited"
	DepositFailed     DepositStatus = "failed"
)

// String returns the string representation of DepositStatus.
func (s DepositStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are allowed.
func (s DepositStatus) IsTerminal() bool {
	return s == DepositCredited || s == DepositFailed
}

// StatusForConfirmations derives the non-terminal status from a confirmation
// count. Terminal statuses are never left.
func StatusForConfirmations(current DepositStatus, confirmations, minConfirmations int64) DepositStatus {
	if current.IsTerminal() {
		return current
	}
	switch {
	case confirmations >= minConfirmations:
		return DepositConfirmed
	case confirmations > 0:
		return DepositConfirming
	}
	return DepositObserved
}

// DepositObservation tracks one inbound transfer to a deposit address.
// Corresponds to deposits table in PostgreSQL. Unique on (network, tx_hash, to_address).
type DepositObservation struct {
	ID             string        // uuid
	Network        NetworkCode
	TxHash         string
	FromAddress    string
	ToAddress      string
	UserID         string        // owner of ToAddress
	Asset          AssetCode
	Amount         int64         // gross minor units
	Confirmations  int64         // max observed
	BlockNumber    int64
	BlockTimestamp int64         // ms
	Status         DepositStatus
	FeeCharged     int64         // fixed on credit
	AmountCredited int64         // fixed on credit
	DetectedAt     int64         // ms
	ConfirmedAt    int64         // ms, 0 until confirmed
	CreditedAt     int64         // ms, 0 until credited
	FailedAt       int64         // ms, 0 unless failed
	FailureReason  string
	ReorgFlagged   bool          // invalidated after credit, reversal proposed
}

// ReferenceID is the ledger reference of the deposit credit.
func (d *DepositObservation) ReferenceID() string {
	return DepositReference(d.Network, d.TxHash, d.ToAddress)
}

// DepositReference builds the ledger reference for a deposit.
func DepositReference(network NetworkCode, txHash, toAddress string) string {
	return "deposit:" + string(network) + ":" + txHash + ":" + toAddress
}

// DepositCredit holds the fields fixed by the confirmed → credited transition.
type DepositCredit struct {
	FeeCharged     int64
	AmountCredited int64
	CreditedAt     int64
}
