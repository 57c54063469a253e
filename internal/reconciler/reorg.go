package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/ledger"
	"custody-ledger/internal/observability"
	"custody-ledger/internal/storage"
)

// Invalidate handles a reorg report. Uncredited deposits move to failed
// without touching the ledger. Credited deposits are flagged and a
// reversal proposal is raised for review; the proposal is returned with
// ErrReorgInvalidation and nothing is debited automatically.
func (r *Reconciler) Invalidate(ctx context.Context, inv Invalidation) (*domain.ReversalProposal, error) {
	if inv.Reason == "" {
		inv.Reason = "chain reorganization"
	}

	for attempt := 0; attempt < 3; attempt++ {
		d, err := r.deposits.GetByKey(ctx, inv.Network, inv.TxHash, inv.ToAddress)
		if err != nil {
			return nil, fmt.Errorf("invalidate deposit: %w", err)
		}

		switch d.Status {
		case domain.DepositFailed:
			return nil, nil
		case domain.DepositCredited:
			return r.invalidateCredited(ctx, d, inv.Reason)
		}

		// The credit may be booked while the credited CAS never landed.
		booked, err := r.ledger.Entries(ctx, d.ReferenceID())
		if err != nil {
			return nil, fmt.Errorf("load credit entries: %w", err)
		}
		if len(booked) > 0 {
			err := r.deposits.MarkCredited(ctx, d.ID, creditFromEntries(d, booked))
			if err != nil && !errors.Is(err, storage.ErrConflict) {
				return nil, fmt.Errorf("mark credited: %w", err)
			}
			r.logger.Printf("deposit %s was booked but not marked credited, repaired", d.ReferenceID())
			continue
		}

		err = r.deposits.MarkFailed(ctx, d.ID, inv.Reason, r.now().UnixMilli())
		if err == nil {
			observability.RecordDepositTransition(string(d.Network), string(domain.DepositFailed))
			r.logger.Printf("deposit %s invalidated before credit: %s", d.ReferenceID(), inv.Reason)
			return nil, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("mark failed: %w", err)
		}
		// Credited concurrently; re-read and take the post-credit path.
	}
	return nil, fmt.Errorf("invalidate deposit: %w", storage.ErrConflict)
}

// creditFromEntries rebuilds the credit of d from its booked ledger batch.
func creditFromEntries(d *domain.DepositObservation, entries []*domain.LedgerEntry) domain.DepositCredit {
	var c domain.DepositCredit
	for _, e := range entries {
		if e.Account.UserID == d.UserID && e.Account.Type == domain.AccountMain {
			c.AmountCredited += e.Amount
		}
		if c.CreditedAt == 0 || e.CreatedAt < c.CreditedAt {
			c.CreditedAt = e.CreatedAt
		}
	}
	c.FeeCharged = d.Amount - c.AmountCredited
	return c
}

func (r *Reconciler) invalidateCredited(ctx context.Context, d *domain.DepositObservation, reason string) (*domain.ReversalProposal, error) {
	if !d.ReorgFlagged {
		if err := r.deposits.FlagReorg(ctx, d.ID, reason, r.now().UnixMilli()); err != nil {
			return nil, fmt.Errorf("flag reorg: %w", err)
		}
	}
	p, err := r.propose(ctx, d, reason)
	if err != nil {
		return nil, err
	}
	return p, fmt.Errorf("%w: %s", domain.ErrReorgInvalidation, d.ReferenceID())
}

// propose stores the compensating batch of a deposit credit. A deposit has
// at most one proposal; repeated reports return the existing one.
func (r *Reconciler) propose(ctx context.Context, d *domain.DepositObservation, reason string) (*domain.ReversalProposal, error) {
	if existing, err := r.reversals.GetByDeposit(ctx, d.ID); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load proposal: %w", err)
	}

	credited, err := r.ledger.Entries(ctx, d.ReferenceID())
	if err != nil {
		return nil, fmt.Errorf("load credit entries: %w", err)
	}
	if len(credited) == 0 {
		return nil, fmt.Errorf("%w: no ledger entries for %s", domain.ErrInvalidEntry, d.ReferenceID())
	}

	p := &domain.ReversalProposal{
		ID:          uuid.NewString(),
		DepositID:   d.ID,
		ReferenceID: d.ReferenceID(),
		UserID:      d.UserID,
		Asset:       d.Asset,
		Status:      domain.ReversalPending,
		Reason:      reason,
		CreatedAt:   r.now().UnixMilli(),
	}
	for _, e := range credited {
		p.Entries = append(p.Entries, domain.ProposedEntry{
			Account:   e.Account,
			EntryType: e.EntryType,
			Amount:    -e.Amount,
		})
		if e.Account.UserID == d.UserID && e.Account.Type == domain.AccountMain {
			p.Amount = e.Amount
		}
	}

	if err := r.reversals.Insert(ctx, p); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return r.reversals.GetByDeposit(ctx, d.ID)
		}
		return nil, fmt.Errorf("store proposal: %w", err)
	}

	observability.RecordReversalProposal()
	r.logger.Printf("reversal %s proposed for %s: %s", p.ID, p.ReferenceID, reason)
	if err := r.notifier.ReversalProposed(ctx, p); err != nil {
		r.logger.Printf("notify reversal %s: %v", p.ID, err)
	}
	return p, nil
}

// ApproveReversal applies a pending proposal. If the user no longer holds
// the funds the ledger rejects the batch with ErrInsufficientBalance and
// the proposal stays pending.
func (r *Reconciler) ApproveReversal(ctx context.Context, id, reviewer string) (*ledger.Receipt, error) {
	p, err := r.reversals.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load proposal: %w", err)
	}
	if p.Status == domain.ReversalRejected {
		return nil, fmt.Errorf("%w: proposal %s was rejected", domain.ErrInvalidTransition, id)
	}

	ref := p.ReversalReference()
	entries := make([]*domain.LedgerEntry, 0, len(p.Entries))
	for _, e := range p.Entries {
		entries = append(entries, &domain.LedgerEntry{
			Account:     e.Account,
			EntryType:   e.EntryType,
			Amount:      e.Amount,
			ReferenceID: ref,
			Description: "reorg reversal",
		})
	}

	receipt, err := r.ledger.Record(ctx, entries)
	if err != nil {
		return nil, fmt.Errorf("apply reversal %s: %w", id, err)
	}

	if err := r.reversals.Decide(ctx, id, domain.ReversalApproved, reviewer, r.now().UnixMilli()); err != nil {
		if !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("decide proposal: %w", err)
		}
	}
	r.logger.Printf("reversal %s approved by %s (replayed=%v)", id, reviewer, receipt.Replayed)
	return receipt, nil
}

// RejectReversal closes a pending proposal without touching the ledger.
func (r *Reconciler) RejectReversal(ctx context.Context, id, reviewer, reason string) error {
	err := r.reversals.Decide(ctx, id, domain.ReversalRejected, reviewer, r.now().UnixMilli())
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("%w: proposal %s already decided", domain.ErrInvalidTransition, id)
	}
	if err != nil {
		return fmt.Errorf("decide proposal: %w", err)
	}
	r.logger.Printf("reversal %s rejected by %s: %s", id, reviewer, reason)
	return nil
}

// Reversals lists proposals. Empty status lists all.
func (r *Reconciler) Reversals(ctx context.Context, status domain.ReversalStatus, limit, offset int) ([]*domain.ReversalProposal, error) {
	return r.reversals.ListByStatus(ctx, status, limit, offset)
}
