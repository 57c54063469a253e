package domain

// ReversalStatus is the review state of a reversal proposal.
type ReversalStatus string

const (
	ReversalPending  ReversalStatus = "pending"
	ReversalApproved ReversalStatus = "approved"
	ReversalRejected ReversalStatus = "rejected"
)

// ProposedEntry is one line of a compensating batch awaiting approval.
type ProposedEntry struct {
	Account   AccountKey `json:"-"`
	EntryType EntryType  `json:"entry_type"`
	Amount    int64      `json:"amount"`
}

// ReversalProposal is raised when a credited deposit is invalidated by a
// reorg. It is applied only after administrative confirmation.
// Corresponds to reversal_proposals table in PostgreSQL.
type ReversalProposal struct {
	ID          string          // uuid
	DepositID   string
	ReferenceID string          // ledger reference of the original credit
	UserID      string
	Asset       AssetCode
	Amount      int64           // amount originally credited to the user
	Entries     []ProposedEntry // compensating entries
	Status      ReversalStatus
	Reason      string
	CreatedAt   int64           // ms
	DecidedAt   int64           // ms
	DecidedBy   string
}

// ReversalReference is the ledger reference of an applied reversal.
func (p *ReversalProposal) ReversalReference() string {
	return "reversal:" + p.ReferenceID
}
