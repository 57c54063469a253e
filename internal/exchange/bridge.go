package exchange

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/idhash"
	"custody-ledger/internal/ledger"
	"custody-ledger/internal/observability"
	"custody-ledger/internal/storage"
)

// BridgeRequest moves Amount whole units of Asset from FromChain to
// DestinationAddress on ToChain. ReferenceID is the client idempotency
// key; empty means a fresh one.
type BridgeRequest struct {
	UserID             string             `json:"-"`
	Asset              domain.AssetCode   `json:"asset"`
	Amount             string             `json:"amount"`
	FromChain          domain.NetworkCode `json:"from_chain"`
	ToChain            domain.NetworkCode `json:"to_chain"`
	DestinationAddress string             `json:"destination_address"`
	ReferenceID        string             `json:"-"`
}

// BridgeResult describes a booked bridge-out.
type BridgeResult struct {
	Transfer  *domain.BridgeTransfer `json:"transfer"`
	NetAmount string                 `json:"net_amount"`
	Fee       domain.FeeBreakdown    `json:"fee"`
	Replayed  bool                   `json:"replayed"`
}

// Bridge debits user main by the gross amount, credits the fee pools and
// parks the net in pending[bridge:<toChain>] until the destination chain
// confirms. The transfer is stored before the ledger batch so booked funds
// always have a transfer to settle or refund; a rejected booking leaves it
// failed. The transfer id is derived from the reference so a replay finds
// the same transfer.
func (e *Engine) Bridge(ctx context.Context, req BridgeRequest) (*BridgeResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidEntry)
	}
	if req.FromChain == req.ToChain {
		return nil, fmt.Errorf("%w: source and destination chain are both %s", domain.ErrUnknownNetwork, req.ToChain)
	}
	if _, _, err := e.chains.Supported(req.FromChain, req.Asset); err != nil {
		return nil, err
	}
	toNet, asset, err := e.chains.Supported(req.ToChain, req.Asset)
	if err != nil {
		return nil, err
	}
	if err := e.chains.ValidateDestination(toNet.Code, req.DestinationAddress); err != nil {
		return nil, err
	}
	gross, err := domain.ParseMoney(asset.Code, req.Amount, asset.Scale)
	if err != nil {
		return nil, err
	}
	if gross.Units <= 0 {
		return nil, fmt.Errorf("%w: bridge amount must be positive", domain.ErrInvalidAmount)
	}
	fee, err := e.fees.Split(domain.FeeKeyBridge, asset.Code, gross.Units)
	if err != nil {
		return nil, err
	}
	if fee.Net <= 0 {
		return nil, fmt.Errorf("%w: amount does not cover the bridge fee", domain.ErrBelowMinimum)
	}

	key := req.ReferenceID
	if key == "" {
		key = uuid.NewString()
	}
	ref := "bridge:" + req.UserID + ":" + key
	now := e.now().UnixMilli()

	t := &domain.BridgeTransfer{
		ID:                 idhash.ComputeOperationID("bridge", req.UserID, key),
		UserID:             req.UserID,
		Asset:              asset.Code,
		Amount:             fee.Gross,
		FeeAmount:          fee.TotalFee,
		NetAmount:          fee.Net,
		FromChain:          req.FromChain,
		ToChain:            toNet.Code,
		DestinationAddress: req.DestinationAddress,
		ReferenceID:        ref,
		Status:             domain.DepositObserved,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	entries := []*domain.LedgerEntry{{
		Account:     domain.UserAccount(t.UserID, t.Asset, domain.AccountMain),
		EntryType:   domain.EntryBridge,
		Amount:      -fee.Gross,
		ReferenceID: ref,
		Description: "bridge to " + string(t.ToChain),
	}, {
		Account:     t.PendingAccount(),
		EntryType:   domain.EntryBridge,
		Amount:      fee.Net,
		ReferenceID: ref,
		Description: "bridge to " + string(t.ToChain),
	}}
	entries = append(entries, ledger.FeeLegs(t.Asset, fee, ref)...)

	replay := false
	if err := e.bridges.Insert(ctx, t); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("store bridge transfer: %w", err)
		}
		if t, err = e.bridges.GetByID(ctx, t.ID); err != nil {
			return nil, fmt.Errorf("load bridge transfer: %w", err)
		}
		replay = true
	}

	if replay && t.Status == domain.DepositFailed {
		booked, err := e.ledger.Entries(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("load bridge entries: %w", err)
		}
		if len(booked) == 0 {
			return nil, fmt.Errorf("%w: bridge transfer %s failed: %s", domain.ErrInvalidTransition, t.ID, t.FailureReason)
		}
	}

	receipt, err := e.ledger.Record(ctx, entries)
	if err != nil {
		// Nothing was booked; the transfer must not be settled or refunded.
		if cerr := e.bridges.Transition(ctx, t.ID, t.Status, domain.DepositFailed, "ledger: "+err.Error(), e.now().UnixMilli()); cerr != nil {
			e.logger.Printf("mark bridge %s failed after rejected booking: %v", t.ID, cerr)
		}
		return nil, fmt.Errorf("bridge %s: %w", ref, err)
	}
	if !replay {
		observability.RecordBridge(string(t.ToChain), string(t.Status))
	}
	if receipt.Replayed {
		fee = feeFromEntries(receipt.Entries, domain.UserAccount(t.UserID, t.Asset, domain.AccountMain))
	}

	return &BridgeResult{
		Transfer:  t,
		NetAmount: asset.Units(t.NetAmount).Amount(),
		Fee:       fee,
		Replayed:  receipt.Replayed,
	}, nil
}

// ReportBridgeObservation applies a destination-chain observation with the
// deposit semantics: confirmations keep their maximum and the destination
// network's threshold decides confirmation. A confirmed transfer is
// settled: pending[bridge:<toChain>] -net, custody +net.
func (e *Engine) ReportBridgeObservation(ctx context.Context, id, destTxHash string, confirmations int64) (*domain.BridgeTransfer, error) {
	if confirmations < 0 {
		return nil, fmt.Errorf("%w: negative confirmations", domain.ErrInvalidEntry)
	}
	t, err := e.bridges.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load bridge transfer: %w", err)
	}
	network, err := e.chains.Network(t.ToChain)
	if err != nil {
		return nil, err
	}

	t, err = e.bridges.Observe(ctx, id, destTxHash, confirmations, network.MinConfirmations, e.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("observe bridge transfer: %w", err)
	}

	switch t.Status {
	case domain.DepositConfirmed:
		err := e.bridges.Transition(ctx, id, domain.DepositConfirmed, domain.DepositCredited, "", e.now().UnixMilli())
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("mark bridge credited: %w", err)
		}
		if t, err = e.bridges.GetByID(ctx, id); err != nil {
			return nil, fmt.Errorf("load bridge transfer: %w", err)
		}
		if t.Status != domain.DepositCredited {
			return t, nil
		}
		observability.RecordBridge(string(t.ToChain), string(t.Status))
		fallthrough
	case domain.DepositCredited:
		// Settlement follows the CAS, so a crash in between is healed by
		// the next observation replaying it.
		if err := e.settle(ctx, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// FailBridge refunds the net amount of an unsettled transfer to main and
// moves it to failed. Fees are retained. Failing an already failed
// transfer replays the refund.
func (e *Engine) FailBridge(ctx context.Context, id, reason string) (*domain.BridgeTransfer, error) {
	for attempt := 0; attempt < 3; attempt++ {
		t, err := e.bridges.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load bridge transfer: %w", err)
		}

		switch t.Status {
		case domain.DepositCredited:
			return nil, fmt.Errorf("%w: bridge transfer %s already settled", domain.ErrInvalidTransition, id)
		case domain.DepositFailed:
			if err := e.refund(ctx, t); err != nil {
				return nil, err
			}
			return t, nil
		}

		err = e.bridges.Transition(ctx, id, t.Status, domain.DepositFailed, reason, e.now().UnixMilli())
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("mark bridge failed: %w", err)
		}
		observability.RecordBridge(string(t.ToChain), string(domain.DepositFailed))

		if err := e.refund(ctx, t); err != nil {
			return nil, err
		}
		return e.bridges.GetByID(ctx, id)
	}
	return nil, fmt.Errorf("fail bridge transfer %s: %w", id, storage.ErrConflict)
}

// GetBridge returns a transfer by ID.
func (e *Engine) GetBridge(ctx context.Context, id string) (*domain.BridgeTransfer, error) {
	return e.bridges.GetByID(ctx, id)
}

// ListBridges returns a user's transfers, newest first.
func (e *Engine) ListBridges(ctx context.Context, userID string, limit, offset int) ([]*domain.BridgeTransfer, error) {
	return e.bridges.ListByUser(ctx, userID, limit, offset)
}

func (e *Engine) settle(ctx context.Context, t *domain.BridgeTransfer) error {
	_, err := e.ledger.Transfer(ctx,
		t.PendingAccount(),
		domain.SystemAccount(t.Asset, domain.AccountCustody),
		t.NetAmount, domain.EntryBridge, t.SettleReference(), "bridge settled on "+string(t.ToChain))
	if err != nil {
		return fmt.Errorf("settle bridge %s: %w", t.ID, err)
	}
	return nil
}

func (e *Engine) refund(ctx context.Context, t *domain.BridgeTransfer) error {
	booked, err := e.ledger.Entries(ctx, t.ReferenceID)
	if err != nil {
		return fmt.Errorf("load bridge entries: %w", err)
	}
	if len(booked) == 0 {
		return nil
	}
	_, err = e.ledger.Transfer(ctx,
		t.PendingAccount(),
		domain.UserAccount(t.UserID, t.Asset, domain.AccountMain),
		t.NetAmount, domain.EntryBridge, t.RefundReference(), "bridge refund")
	if err != nil {
		return fmt.Errorf("refund bridge %s: %w", t.ID, err)
	}
	return nil
}
