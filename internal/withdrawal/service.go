package withdrawal

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
	"custody-ledger/internal/provider"
	"custody-ledger/internal/storage"
)

// Input is a user withdrawal request. Amount is in whole units ("0.5").
type Input struct {
	UserID             string             `json:"-"`
	Asset              domain.AssetCode   `json:"asset"`
	Amount             string             `json:"amount"`
	DestinationAddress string             `json:"destination_address"`
	NetworkCode        domain.NetworkCode `json:"network"`
}

// Options configures a Service.
type Options struct {
	Ledger      *ledger.Ledger
	Withdrawals storage.WithdrawalStore
	Chains      *chain.Registry
	Fees        *fees.Registry
	Tiers       map[int]domain.TierPolicy
	KYC         provider.KYCProvider
	Rates       provider.RateOracle
	Payouts     provider.PayoutProcessor
	Notifier    notify.Notifier // optional
	Logger      *log.Logger
	Now         func() time.Time
}

// Service owns the withdrawal lifecycle:
//
//	pending → approved → processing → completed
//	pending → rejected
//	processing → failed
type Service struct {
	*Authorizer

	ledger      *ledger.Ledger
	withdrawals storage.WithdrawalStore
	chains      *chain.Registry
	payouts     provider.PayoutProcessor
	notifier    notify.Notifier
	logger      *log.Logger
	now         func() time.Time

	users   *keyedMutex // per-user authorization
	records *keyedMutex // per-withdrawal state changes
	queue   chan string
}

// New creates a Service.
func New(opts Options) (*Service, error) {
	if opts.Ledger == nil || opts.Withdrawals == nil || opts.Chains == nil || opts.Fees == nil {
		return nil, errors.New("withdrawal: ledger, store and registries are required")
	}
	if opts.KYC == nil || opts.Rates == nil || opts.Payouts == nil {
		return nil, errors.New("withdrawal: kyc, rate and payout providers are required")
	}
	if len(opts.Tiers) == 0 {
		return nil, errors.New("withdrawal: tier policies are required")
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

	return &Service{
		Authorizer: &Authorizer{
			ledger:      opts.Ledger,
			withdrawals: opts.Withdrawals,
			fees:        opts.Fees,
			tiers:       opts.Tiers,
			kyc:         opts.KYC,
			rates:       opts.Rates,
			now:         now,
		},
		ledger:      opts.Ledger,
		withdrawals: opts.Withdrawals,
		chains:      opts.Chains,
		payouts:     opts.Payouts,
		notifier:    notifier,
		logger:      logger,
		now:         now,
		users:       newKeyedMutex(),
		records:     newKeyedMutex(),
		queue:       make(chan string, 256),
	}, nil
}

// Preview evaluates limits for a prospective withdrawal without reserving
// anything.
func (s *Service) Preview(ctx context.Context, userID string, assetCode domain.AssetCode, amount string) (*Decision, error) {
	asset, err := s.chains.Asset(assetCode)
	if err != nil {
		return nil, err
	}
	m, err := domain.ParseMoney(asset.Code, amount, asset.Scale)
	if err != nil {
		return nil, err
	}
	return s.Authorize(ctx, userID, asset, m.Units)
}

// Request authorizes in and reserves the funds. The reservation moves the
// gross amount from main to pending[withdrawal] under the reference
// withdrawal:<id>:reserve.
func (s *Service) Request(ctx context.Context, in Input) (*domain.WithdrawalRequest, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidEntry)
	}
	network, asset, err := s.chains.Supported(in.NetworkCode, in.Asset)
	if err != nil {
		return nil, err
	}
	if err := s.chains.ValidateDestination(network.Code, in.DestinationAddress); err != nil {
		return nil, err
	}
	amount, err := domain.ParseMoney(asset.Code, in.Amount, asset.Scale)
	if err != nil {
		return nil, err
	}

	unlock := s.users.Lock(in.UserID)
	defer unlock()

	decision, err := s.Authorize(ctx, in.UserID, asset, amount.Units)
	if err != nil {
		observability.RecordWithdrawal("denied")
		return nil, err
	}

	now := s.now().UnixMilli()
	w := &domain.WithdrawalRequest{
		ID:                 uuid.NewString(),
		UserID:             in.UserID,
		Asset:              asset.Code,
		Amount:             amount.Units,
		DestinationAddress: in.DestinationAddress,
		NetworkCode:        network.Code,
		FeeAmount:          decision.Fee.TotalFee,
		NetAmount:          decision.Fee.Net,
		UsdValueCents:      decision.UsdValue,
		Status:             domain.WithdrawalApproved,
		RequiresApproval:   decision.RequiresApproval,
		KYCTier:            decision.Tier,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if w.RequiresApproval {
		w.Status = domain.WithdrawalPending
	}

	if _, err := s.ledger.Transfer(ctx,
		domain.UserAccount(w.UserID, w.Asset, domain.AccountMain),
		pendingAccount(w),
		w.Amount, domain.EntryWithdrawal, w.ReserveReference(), "withdrawal reserve"); err != nil {
		return nil, fmt.Errorf("reserve withdrawal: %w", err)
	}

	if err := s.withdrawals.Insert(ctx, w); err != nil {
		if _, relErr := s.release(ctx, w); relErr != nil {
			s.logger.Printf("withdrawal %s: release after failed insert: %v", w.ID, relErr)
		}
		return nil, fmt.Errorf("store withdrawal: %w", err)
	}
	observability.RecordWithdrawal(string(w.Status))

	if w.Status == domain.WithdrawalPending {
		if err := s.notifier.WithdrawalPendingApproval(ctx, w); err != nil {
			s.logger.Printf("notify withdrawal %s: %v", w.ID, err)
		}
	} else {
		s.enqueue(w.ID)
	}
	return w, nil
}

// Approve moves a pending request to approved and dispatches it. A payout
// outage is not an error here: the request stays approved and the
// dispatcher loop retries it.
func (s *Service) Approve(ctx context.Context, id, reviewer string) (*domain.WithdrawalRequest, error) {
	err := s.withdrawals.Transition(ctx, id, domain.WithdrawalPending, domain.WithdrawalApproved, domain.WithdrawalUpdate{
		ReviewedBy: reviewer,
		UpdatedAt:  s.now().UnixMilli(),
	})
	if err != nil {
		return nil, s.transitionError(id, err)
	}
	observability.RecordWithdrawal(string(domain.WithdrawalApproved))
	s.logger.Printf("withdrawal %s approved by %s", id, reviewer)

	w, err := s.Dispatch(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrExternalServiceUnavailable) {
			s.logger.Printf("withdrawal %s: dispatch deferred: %v", id, err)
			return s.withdrawals.GetByID(ctx, id)
		}
		return nil, err
	}
	return w, nil
}

// Reject moves a pending request to rejected and releases the reservation.
// Rejecting an already rejected request re-runs the idempotent release.
func (s *Service) Reject(ctx context.Context, id, reviewer, reason string) (*domain.WithdrawalRequest, error) {
	unlock := s.records.Lock(id)
	defer unlock()

	transErr := s.withdrawals.Transition(ctx, id, domain.WithdrawalPending, domain.WithdrawalRejected, domain.WithdrawalUpdate{
		ReviewedBy:    reviewer,
		FailureReason: reason,
		UpdatedAt:     s.now().UnixMilli(),
	})
	if transErr != nil && !errors.Is(transErr, storage.ErrConflict) {
		return nil, s.transitionError(id, transErr)
	}

	w, err := s.withdrawals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load withdrawal: %w", err)
	}
	if transErr != nil && w.Status != domain.WithdrawalRejected {
		return nil, s.transitionError(id, transErr)
	}

	if _, err := s.release(ctx, w); err != nil {
		return nil, err
	}
	if transErr == nil {
		observability.RecordWithdrawal(string(domain.WithdrawalRejected))
	}
	s.logger.Printf("withdrawal %s rejected by %s: %s", id, reviewer, reason)
	return w, nil
}

// Dispatch submits an approved request to the payout processor and moves it
// to processing. The withdrawal id is the idempotency key, so retries never
// pay out twice. Requests past approved are returned unchanged.
func (s *Service) Dispatch(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	w, err := s.withdrawals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load withdrawal: %w", err)
	}
	switch w.Status {
	case domain.WithdrawalApproved:
	case domain.WithdrawalPending:
		return nil, fmt.Errorf("%w: withdrawal %s awaits approval", domain.ErrInvalidTransition, id)
	default:
		return w, nil
	}

	asset, err := s.chains.Asset(w.Asset)
	if err != nil {
		return nil, err
	}
	txHash, err := s.payouts.Submit(ctx, provider.PayoutRequest{
		ReferenceID: w.ID,
		Asset:       w.Asset,
		Amount:      asset.Units(w.NetAmount).Amount(),
		AmountUnits: w.NetAmount,
		Destination: w.DestinationAddress,
		Network:     w.NetworkCode,
	})
	if err != nil {
		observability.RecordPayoutSubmission("error")
		return w, fmt.Errorf("submit payout %s: %w", id, err)
	}
	observability.RecordPayoutSubmission("submitted")

	err = s.withdrawals.Transition(ctx, id, domain.WithdrawalApproved, domain.WithdrawalProcessing, domain.WithdrawalUpdate{
		PayoutTxHash: txHash,
		UpdatedAt:    s.now().UnixMilli(),
	})
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	if err == nil {
		observability.RecordWithdrawal(string(domain.WithdrawalProcessing))
	}
	return s.withdrawals.GetByID(ctx, id)
}

// ReportPayoutResult applies the processor's verdict. Success settles the
// reservation into custody and the fee pools; failure releases it back to
// main. Reports for terminal requests are no-ops.
func (s *Service) ReportPayoutResult(ctx context.Context, res domain.PayoutResult) (*domain.WithdrawalRequest, error) {
	unlock := s.records.Lock(res.WithdrawalID)
	defer unlock()

	w, err := s.withdrawals.GetByID(ctx, res.WithdrawalID)
	if err != nil {
		return nil, fmt.Errorf("load withdrawal: %w", err)
	}
	switch w.Status {
	case domain.WithdrawalCompleted, domain.WithdrawalFailed, domain.WithdrawalRejected:
		return w, nil
	case domain.WithdrawalPending:
		return nil, fmt.Errorf("%w: withdrawal %s was never dispatched", domain.ErrInvalidTransition, w.ID)
	case domain.WithdrawalApproved:
		// The result overtook our own processing transition.
		err := s.withdrawals.Transition(ctx, w.ID, domain.WithdrawalApproved, domain.WithdrawalProcessing, domain.WithdrawalUpdate{
			PayoutTxHash: res.TxHash,
			UpdatedAt:    s.now().UnixMilli(),
		})
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("mark processing: %w", err)
		}
	}

	to := domain.WithdrawalCompleted
	update := domain.WithdrawalUpdate{PayoutTxHash: res.TxHash, UpdatedAt: s.now().UnixMilli()}
	if res.Success {
		if _, err := s.settle(ctx, w); err != nil {
			return nil, err
		}
	} else {
		to = domain.WithdrawalFailed
		update.FailureReason = res.Reason
		if _, err := s.release(ctx, w); err != nil {
			return nil, err
		}
	}

	if err := s.withdrawals.Transition(ctx, w.ID, domain.WithdrawalProcessing, to, update); err != nil {
		return nil, s.transitionError(w.ID, err)
	}
	observability.RecordWithdrawal(string(to))
	s.logger.Printf("withdrawal %s %s (tx %s)", w.ID, to, res.TxHash)
	return s.withdrawals.GetByID(ctx, w.ID)
}

// Get returns a withdrawal by ID.
func (s *Service) Get(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return s.withdrawals.GetByID(ctx, id)
}

// List returns a user's withdrawals, newest first. Empty status lists all.
func (s *Service) List(ctx context.Context, userID string, status domain.WithdrawalStatus, limit, offset int) ([]*domain.WithdrawalRequest, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidEntry)
	}
	return s.withdrawals.ListByUser(ctx, userID, status, limit, offset)
}

// settle books pending -gross, custody +net and the fee pool shares.
func (s *Service) settle(ctx context.Context, w *domain.WithdrawalRequest) (*ledger.Receipt, error) {
	policy, err := s.Authorizer.fees.Lookup(domain.FeeKeyWithdrawal, w.Asset)
	if err != nil {
		return nil, err
	}
	fee, err := fees.Allocate(w.Amount, w.FeeAmount, policy)
	if err != nil {
		return nil, fmt.Errorf("settle withdrawal %s: %w", w.ID, err)
	}

	ref := w.SettleReference()
	entries := []*domain.LedgerEntry{{
		Account:     pendingAccount(w),
		EntryType:   domain.EntryWithdrawal,
		Amount:      -w.Amount,
		ReferenceID: ref,
		Description: "withdrawal payout",
	}}
	if w.NetAmount > 0 {
		entries = append(entries, &domain.LedgerEntry{
			Account:     domain.SystemAccount(w.Asset, domain.AccountCustody),
			EntryType:   domain.EntryWithdrawal,
			Amount:      w.NetAmount,
			ReferenceID: ref,
			Description: "withdrawal payout",
		})
	}
	entries = append(entries, ledger.FeeLegs(w.Asset, fee, ref)...)

	receipt, err := s.ledger.Record(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("settle withdrawal %s: %w", w.ID, err)
	}
	return receipt, nil
}

// release returns the reservation to main.
func (s *Service) release(ctx context.Context, w *domain.WithdrawalRequest) (*ledger.Receipt, error) {
	receipt, err := s.ledger.Transfer(ctx,
		pendingAccount(w),
		domain.UserAccount(w.UserID, w.Asset, domain.AccountMain),
		w.Amount, domain.EntryWithdrawal, w.ReleaseReference(), "withdrawal release")
	if err != nil {
		return nil, fmt.Errorf("release withdrawal %s: %w", w.ID, err)
	}
	return receipt, nil
}

func (s *Service) transitionError(id string, err error) error {
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("%w: withdrawal %s", domain.ErrInvalidTransition, id)
	}
	return fmt.Errorf("withdrawal %s: %w", id, err)
}

func pendingAccount(w *domain.WithdrawalRequest) domain.AccountKey {
	return domain.UserAccount(w.UserID, w.Asset, domain.AccountPending).WithBucket(domain.BucketWithdrawal)
}
