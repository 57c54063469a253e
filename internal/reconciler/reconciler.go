// Package reconciler drives chain-observed deposits through the
// observed → confirming → confirmed → credited state machine and credits
// each deposit to the ledger exactly once.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"custody-ledger/internal/chain"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/fees"
	"custody-ledger/internal/ledger"
	"custody-ledger/internal/notify"
	"custody-ledger/internal/observability"
	"custody-ledger/internal/storage"
)

// Observation is a chain watcher report of an inbound transfer.
// Amount is in whole units of the asset ("1.5").
type Observation struct {
	Network        domain.NetworkCode `json:"network"`
	TxHash         string             `json:"tx_hash"`
	FromAddress    string             `json:"from_address"`
	ToAddress      string             `json:"to_address"`
	Asset          domain.AssetCode   `json:"asset"`
	Amount         string             `json:"amount"`
	Confirmations  int64              `json:"confirmations"`
	BlockNumber    int64              `json:"block_number"`
	BlockTimestamp int64              `json:"block_timestamp"` // ms
}

// Invalidation is a chain watcher report that a transaction left the
// canonical chain.
type Invalidation struct {
	Network   domain.NetworkCode `json:"network"`
	TxHash    string             `json:"tx_hash"`
	ToAddress string             `json:"to_address"`
	Reason    string             `json:"reason"`
}

// Options configures a Reconciler.
type Options struct {
	Ledger    *ledger.Ledger
	Deposits  storage.DepositStore
	Addresses storage.DepositAddressStore
	Reversals storage.ReversalStore
	Chains    *chain.Registry
	Fees      *fees.Registry
	Notifier  notify.Notifier // optional
	Logger    *log.Logger
	Now       func() time.Time
}

// Reconciler applies deposit observations.
type Reconciler struct {
	ledger    *ledger.Ledger
	deposits  storage.DepositStore
	addresses storage.DepositAddressStore
	reversals storage.ReversalStore
	chains    *chain.Registry
	fees      *fees.Registry
	notifier  notify.Notifier
	logger    *log.Logger
	now       func() time.Time
}

// New creates a Reconciler.
func New(opts Options) (*Reconciler, error) {
	if opts.Ledger == nil || opts.Deposits == nil || opts.Addresses == nil || opts.Reversals == nil {
		return nil, errors.New("reconciler: ledger and stores are required")
	}
	if opts.Chains == nil || opts.Fees == nil {
		return nil, errors.New("reconciler: chain and fee registries are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{Logger: logger}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		ledger:    opts.Ledger,
		deposits:  opts.Deposits,
		addresses: opts.Addresses,
		reversals: opts.Reversals,
		chains:    opts.Chains,
		fees:      opts.Fees,
		notifier:  notifier,
		logger:    logger,
		now:       now,
	}, nil
}

// RegisterAddress assigns a deposit address to a user.
func (r *Reconciler) RegisterAddress(ctx context.Context, network domain.NetworkCode, address, userID string) (*domain.DepositAddress, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidEntry)
	}
	if err := r.chains.ValidateAddress(network, address); err != nil {
		return nil, err
	}
	a := &domain.DepositAddress{
		Network:   network,
		Address:   address,
		UserID:    userID,
		CreatedAt: r.now().UnixMilli(),
	}
	if err := r.addresses.Insert(ctx, a); err != nil {
		return nil, fmt.Errorf("register address: %w", err)
	}
	return a, nil
}

// Report applies an observation and credits the deposit once it is
// confirmed. Reports for credited or failed deposits return the stored
// record unchanged.
func (r *Reconciler) Report(ctx context.Context, obs Observation) (*domain.DepositObservation, error) {
	d, network, err := r.admit(ctx, obs)
	if err != nil {
		return nil, err
	}

	stored, err := r.deposits.Upsert(ctx, d, network.MinConfirmations)
	if err != nil {
		return nil, fmt.Errorf("upsert deposit: %w", err)
	}
	observability.RecordDepositTransition(string(stored.Network), string(stored.Status))

	if stored.Status != domain.DepositConfirmed {
		return stored, nil
	}
	return r.credit(ctx, stored)
}

// admit validates obs at the ingestion boundary and resolves its owner.
func (r *Reconciler) admit(ctx context.Context, obs Observation) (*domain.DepositObservation, *domain.Network, error) {
	network, asset, err := r.chains.Supported(obs.Network, obs.Asset)
	if err != nil {
		return nil, nil, err
	}
	if obs.TxHash == "" {
		return nil, nil, fmt.Errorf("%w: missing tx hash", domain.ErrInvalidEntry)
	}
	if obs.Confirmations < 0 {
		return nil, nil, fmt.Errorf("%w: negative confirmations", domain.ErrInvalidEntry)
	}
	amount, err := domain.ParseMoney(asset.Code, obs.Amount, asset.Scale)
	if err != nil {
		return nil, nil, err
	}
	if amount.Units <= 0 {
		return nil, nil, fmt.Errorf("%w: deposit amount must be positive", domain.ErrInvalidAmount)
	}
	if err := r.chains.ValidateAddress(network.Code, obs.ToAddress); err != nil {
		return nil, nil, err
	}

	owner, err := r.addresses.Get(ctx, network.Code, obs.ToAddress)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s on %s", domain.ErrUnknownDepositAddress, obs.ToAddress, network.Code)
		}
		return nil, nil, fmt.Errorf("resolve deposit address: %w", err)
	}

	return &domain.DepositObservation{
		ID:             uuid.NewString(),
		Network:        network.Code,
		TxHash:         obs.TxHash,
		FromAddress:    obs.FromAddress,
		ToAddress:      obs.ToAddress,
		UserID:         owner.UserID,
		Asset:          asset.Code,
		Amount:         amount.Units,
		Confirmations:  obs.Confirmations,
		BlockNumber:    obs.BlockNumber,
		BlockTimestamp: obs.BlockTimestamp,
		Status:         domain.DepositObserved,
		DetectedAt:     r.now().UnixMilli(),
	}, network, nil
}

// credit books a confirmed deposit and moves it to credited. The ledger
// write is idempotent on the deposit reference, so concurrent callers
// produce one credit and only one CAS wins.
func (r *Reconciler) credit(ctx context.Context, d *domain.DepositObservation) (*domain.DepositObservation, error) {
	asset, err := r.chains.Asset(d.Asset)
	if err != nil {
		return nil, err
	}
	fee, err := r.fees.Split(asset.DepositFeeKey(), asset.Code, d.Amount)
	if err != nil {
		return nil, fmt.Errorf("deposit fee: %w", err)
	}

	ref := d.ReferenceID()
	entries := []*domain.LedgerEntry{{
		Account:     domain.SystemAccount(d.Asset, domain.AccountCustody),
		EntryType:   domain.EntryDeposit,
		Amount:      -fee.Gross,
		ReferenceID: ref,
		Description: "deposit " + d.TxHash,
	}}
	if fee.Net > 0 {
		entries = append(entries, &domain.LedgerEntry{
			Account:     domain.UserAccount(d.UserID, d.Asset, domain.AccountMain),
			EntryType:   domain.EntryDeposit,
			Amount:      fee.Net,
			ReferenceID: ref,
			Description: "deposit " + d.TxHash,
		})
	}
	entries = append(entries, ledger.FeeLegs(d.Asset, fee, ref)...)

	receipt, err := r.ledger.Record(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("credit deposit %s: %w", d.ID, err)
	}

	credit := domain.DepositCredit{
		FeeCharged:     fee.TotalFee,
		AmountCredited: fee.Net,
		CreditedAt:     r.now().UnixMilli(),
	}
	err = r.deposits.MarkCredited(ctx, d.ID, credit)
	switch {
	case err == nil:
		observability.RecordDepositTransition(string(d.Network), string(domain.DepositCredited))
		observability.RecordDepositCredited(string(d.Asset))
		r.logger.Printf("credited deposit %s: %d %s to %s (fee %d, replayed=%v)",
			ref, fee.Net, d.Asset, d.UserID, fee.TotalFee, receipt.Replayed)
	case errors.Is(err, storage.ErrConflict):
		// Lost the CAS. Either another caller credited it, or it was
		// invalidated after the ledger write.
		cur, getErr := r.deposits.GetByID(ctx, d.ID)
		if getErr != nil {
			return nil, fmt.Errorf("reload deposit: %w", getErr)
		}
		if cur.Status == domain.DepositFailed {
			p, perr := r.propose(ctx, cur, "credited after invalidation: "+cur.FailureReason)
			if perr != nil {
				return nil, perr
			}
			return cur, fmt.Errorf("%w: reversal %s proposed", domain.ErrReorgInvalidation, p.ID)
		}
		return cur, nil
	default:
		return nil, fmt.Errorf("mark credited: %w", err)
	}

	return r.deposits.GetByID(ctx, d.ID)
}

// Sweep credits deposits left confirmed but uncredited, e.g. after a
// crash between the upsert and the ledger write.
func (r *Reconciler) Sweep(ctx context.Context, limit int) (int, error) {
	pending, err := r.deposits.ListByStatus(ctx, domain.DepositConfirmed, limit)
	if err != nil {
		return 0, fmt.Errorf("list confirmed deposits: %w", err)
	}

	credited := 0
	for _, d := range pending {
		if err := ctx.Err(); err != nil {
			return credited, err
		}
		if _, err := r.credit(ctx, d); err != nil {
			r.logger.Printf("sweep: credit %s: %v", d.ID, err)
			continue
		}
		credited++
	}
	return credited, nil
}

// Run sweeps on interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.Sweep(ctx, 100); err != nil && ctx.Err() == nil {
				r.logger.Printf("sweep: %v", err)
			} else if n > 0 {
				r.logger.Printf("sweep: credited %d deposits", n)
			}
		}
	}
}

// Deposit returns a deposit by ID.
func (r *Reconciler) Deposit(ctx context.Context, id string) (*domain.DepositObservation, error) {
	return r.deposits.GetByID(ctx, id)
}

// Deposits lists a user's deposits, newest first.
func (r *Reconciler) Deposits(ctx context.Context, userID string, limit, offset int) ([]*domain.DepositObservation, error) {
	return r.deposits.ListByUser(ctx, userID, limit, offset)
}
