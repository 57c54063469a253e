package storage

import (
	"context"

	"custody-ledger/internal/domain"
)

// AccountStore provides access to accounts storage.
type AccountStore interface {
	// GetBalance returns the account. Never-touched accounts are returned
	// with zero balance and zero version.
	GetBalance(ctx context.Context, key domain.AccountKey) (*domain.Account, error)

	// ApplyDelta atomically adds delta to the account balance and returns
	// the new balance. Returns *domain.BalanceError if the result would be
	// below the account floor.
	ApplyDelta(ctx context.Context, key domain.AccountKey, delta int64) (int64, error)

	// ListByUser retrieves all accounts of a user, ordered by key.
	ListByUser(ctx context.Context, userID string) ([]*domain.Account, error)
}

// LedgerStore provides access to ledger_entries and the balances they move.
type LedgerStore interface {
	AccountStore

	// Commit appends entries and applies their amounts to the account
	// balances in one atomic step. Entries must arrive sorted by account key.
	// Seq and BalanceAfter are assigned on the passed entries.
	// Returns ErrDuplicateKey if any entry ID exists (nothing is written),
	// or *domain.BalanceError if a balance would fall below its floor.
	Commit(ctx context.Context, entries []*domain.LedgerEntry) error

	// GetByReference retrieves all entries of a reference, ordered by seq ASC.
	GetByReference(ctx context.Context, referenceID string) ([]*domain.LedgerEntry, error)

	// Query retrieves entries matching filter, ordered by seq DESC.
	Query(ctx context.Context, filter domain.HistoryFilter) ([]*domain.LedgerEntry, error)
}

// DepositStore provides access to deposits storage.
type DepositStore interface {
	// Upsert inserts an observation or merges it into the existing record
	// keyed by (network, tx_hash, to_address). Confirmations keep the maximum
	// ever reported; the status is re-derived with minConfirmations unless
	// terminal. Returns the stored record.
	Upsert(ctx context.Context, d *domain.DepositObservation, minConfirmations int64) (*domain.DepositObservation, error)

	// GetByID retrieves a deposit by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.DepositObservation, error)

	// GetByKey retrieves a deposit by its natural key. Returns ErrNotFound if not exists.
	GetByKey(ctx context.Context, network domain.NetworkCode, txHash, toAddress string) (*domain.DepositObservation, error)

	// MarkCredited moves confirmed → credited. Returns ErrConflict if the
	// deposit is not confirmed.
	MarkCredited(ctx context.Context, id string, credit domain.DepositCredit) error

	// MarkFailed moves a non-terminal deposit to failed. Returns ErrConflict
	// if the deposit is terminal.
	MarkFailed(ctx context.Context, id, reason string, at int64) error

	// FlagReorg marks a credited deposit as invalidated by a reorg.
	FlagReorg(ctx context.Context, id, reason string, at int64) error

	// ListByUser retrieves deposits of a user, newest first.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.DepositObservation, error)

	// ListByStatus retrieves deposits in status, oldest first.
	ListByStatus(ctx context.Context, status domain.DepositStatus, limit int) ([]*domain.DepositObservation, error)
}

// DepositAddressStore provides access to deposit_addresses storage.
type DepositAddressStore interface {
	// Insert registers an address. Returns ErrDuplicateKey if (network, address) exists.
	Insert(ctx context.Context, a *domain.DepositAddress) error

	// Get retrieves the owner of an address. Returns ErrNotFound if not exists.
	Get(ctx context.Context, network domain.NetworkCode, address string) (*domain.DepositAddress, error)

	// ListByUser retrieves all addresses of a user.
	ListByUser(ctx context.Context, userID string) ([]*domain.DepositAddress, error)
}

// WithdrawalStore provides access to withdrawals storage.
type WithdrawalStore interface {
	// Insert adds a new request. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, w *domain.WithdrawalRequest) error

	// GetByID retrieves a request by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.WithdrawalRequest, error)

	// ListByUser retrieves requests of a user, newest first. Empty status means any.
	ListByUser(ctx context.Context, userID string, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error)

	// ListByStatus retrieves requests in status, oldest first.
	ListByStatus(ctx context.Context, status domain.WithdrawalStatus, limit int) ([]*domain.WithdrawalRequest, error)

	// SumUsdSince sums usd_value_cents of the user's requests created at or
	// after sinceMs whose status is one of statuses.
	SumUsdSince(ctx context.Context, userID string, sinceMs int64, statuses []domain.WithdrawalStatus) (domain.UsdCents, error)

	// Transition moves a request from → to. Returns ErrNotFound if the
	// request does not exist, ErrConflict if it is not in status from.
	Transition(ctx context.Context, id string, from, to domain.WithdrawalStatus, update domain.WithdrawalUpdate) error
}

// BridgeStore provides access to bridge_transfers storage.
type BridgeStore interface {
	// Insert adds a new transfer. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, b *domain.BridgeTransfer) error

	// GetByID retrieves a transfer by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.BridgeTransfer, error)

	// ListByUser retrieves transfers of a user, newest first.
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.BridgeTransfer, error)

	// Observe merges a destination-chain observation: confirmations keep
	// the maximum, the status is re-derived unless terminal. Returns the
	// stored record.
	Observe(ctx context.Context, id, destTxHash string, confirmations, minConfirmations, at int64) (*domain.BridgeTransfer, error)

	// Transition moves a transfer from → to. Returns ErrConflict if it is
	// not in status from.
	Transition(ctx context.Context, id string, from, to domain.DepositStatus, reason string, at int64) error
}

// ReversalStore provides access to reversal_proposals storage.
type ReversalStore interface {
	// Insert adds a proposal. Returns ErrDuplicateKey if a proposal for the
	// same deposit exists.
	Insert(ctx context.Context, p *domain.ReversalProposal) error

	// GetByID retrieves a proposal by ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.ReversalProposal, error)

	// GetByDeposit retrieves the proposal raised for a deposit.
	GetByDeposit(ctx context.Context, depositID string) (*domain.ReversalProposal, error)

	// ListByStatus retrieves proposals in status, oldest first. Empty status means any.
	ListByStatus(ctx context.Context, status domain.ReversalStatus, limit, offset int) ([]*domain.ReversalProposal, error)

	// Decide moves a pending proposal to status. Returns ErrConflict if it
	// is no longer pending.
	Decide(ctx context.Context, id string, status domain.ReversalStatus, by string, at int64) error
}

// HistorySink receives committed ledger entries for analytics.
type HistorySink interface {
	// Append stores entries. Re-appending the same entries must not double
	// count them in summaries.
	Append(ctx context.Context, entries []*domain.LedgerEntry) error

	// FeeTotals aggregates fee-pool credits per day, asset and pool within
	// [fromMs, toMs] (inclusive).
	FeeTotals(ctx context.Context, fromMs, toMs int64) ([]domain.FeeTotal, error)
}
