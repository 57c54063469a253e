package exchange

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/ledger"
	"custody-ledger/internal/observability"
)

// SwapRequest converts FromAmount whole units of FromAsset at Rate (units of
// ToAsset per unit of FromAsset). ReferenceID is the client idempotency key;
// empty means a fresh one.
type SwapRequest struct {
	UserID      string
	FromAsset   domain.AssetCode
	ToAsset     domain.AssetCode
	FromAmount  string
	Rate        decimal.Decimal
	ReferenceID string
}

// SwapResult describes a booked swap.
type SwapResult struct {
	ReferenceID string              `json:"reference_id"`
	FromAsset   domain.AssetCode    `json:"from_asset"`
	ToAsset     domain.AssetCode    `json:"to_asset"`
	FromAmount  string              `json:"from_amount"`
	ToAmount    string              `json:"to_amount"`
	ToUnits     int64               `json:"to_units"`
	Rate        string              `json:"rate"`
	Fee         domain.FeeBreakdown `json:"fee"`
	Replayed    bool                `json:"replayed"`
}

// Swap books, in one batch: user main[from] -gross, the fee pool shares,
// custody[from] +net, custody[to] -toAmount and user main[to] +toAmount.
// Both assets are validated before the ledger is touched.
func (e *Engine) Swap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrInvalidEntry)
	}
	from, err := e.chains.Asset(req.FromAsset)
	if err != nil {
		return nil, err
	}
	to, err := e.chains.Asset(req.ToAsset)
	if err != nil {
		return nil, err
	}
	if from.Code == to.Code {
		return nil, fmt.Errorf("%w: cannot swap %s to itself", domain.ErrInvalidEntry, from.Code)
	}
	if !req.Rate.IsPositive() {
		return nil, fmt.Errorf("%w: rate must be positive", domain.ErrInvalidAmount)
	}
	gross, err := domain.ParseMoney(from.Code, req.FromAmount, from.Scale)
	if err != nil {
		return nil, err
	}
	if gross.Units <= 0 {
		return nil, fmt.Errorf("%w: swap amount must be positive", domain.ErrInvalidAmount)
	}

	fee, err := e.fees.Split(domain.FeeKeySwap, from.Code, gross.Units)
	if err != nil {
		return nil, err
	}
	toUnits, err := convert(fee.Net, req.Rate, from.Scale, to.Scale)
	if err != nil {
		return nil, err
	}

	ref := req.ReferenceID
	if ref == "" {
		ref = uuid.NewString()
	}
	ref = "swap:" + req.UserID + ":" + ref

	entries := []*domain.LedgerEntry{{
		Account:     domain.UserAccount(req.UserID, from.Code, domain.AccountMain),
		EntryType:   domain.EntrySwap,
		Amount:      -fee.Gross,
		ReferenceID: ref,
		Description: "swap to " + string(to.Code),
	}}
	entries = append(entries, ledger.FeeLegs(from.Code, fee, ref)...)
	if fee.Net > 0 {
		entries = append(entries, &domain.LedgerEntry{
			Account:     domain.SystemAccount(from.Code, domain.AccountCustody),
			EntryType:   domain.EntrySwap,
			Amount:      fee.Net,
			ReferenceID: ref,
		})
	}
	entries = append(entries,
		&domain.LedgerEntry{
			Account:     domain.SystemAccount(to.Code, domain.AccountCustody),
			EntryType:   domain.EntrySwap,
			Amount:      -toUnits,
			ReferenceID: ref,
		},
		&domain.LedgerEntry{
			Account:     domain.UserAccount(req.UserID, to.Code, domain.AccountMain),
			EntryType:   domain.EntrySwap,
			Amount:      toUnits,
			ReferenceID: ref,
			Description: "swap from " + string(from.Code),
		},
	)

	receipt, err := e.ledger.Record(ctx, entries)
	if err != nil {
		observability.RecordSwap(string(from.Code), string(to.Code), "rejected")
		return nil, fmt.Errorf("swap %s: %w", ref, err)
	}

	if receipt.Replayed {
		// The stored batch is authoritative; the replay may carry a newer
		// rate or fee policy.
		for _, entry := range receipt.Entries {
			if entry.Account == domain.UserAccount(req.UserID, to.Code, domain.AccountMain) {
				toUnits = entry.Amount
			}
		}
		fee = feeFromEntries(receipt.Entries, domain.UserAccount(req.UserID, from.Code, domain.AccountMain))
		observability.RecordSwap(string(from.Code), string(to.Code), "replayed")
	} else {
		observability.RecordSwap(string(from.Code), string(to.Code), "completed")
	}

	return &SwapResult{
		ReferenceID: ref,
		FromAsset:   from.Code,
		ToAsset:     to.Code,
		FromAmount:  from.Units(fee.Gross).Amount(),
		ToAmount:    to.Units(toUnits).Amount(),
		ToUnits:     toUnits,
		Rate:        req.Rate.String(),
		Fee:         fee,
		Replayed:    receipt.Replayed,
	}, nil
}

// convert returns floor(net * rate * 10^(toScale-fromScale)) in minor
// units of the target asset.
func convert(net int64, rate decimal.Decimal, fromScale, toScale int32) (int64, error) {
	out := decimal.NewFromInt(net).Mul(rate).Shift(toScale - fromScale).Floor()
	if !out.IsPositive() {
		return 0, fmt.Errorf("%w: swap converts to zero", domain.ErrInvalidAmount)
	}
	if !out.LessThanOrEqual(decimal.NewFromInt(maxUnits)) {
		return 0, fmt.Errorf("%w: swap result overflows", domain.ErrInvalidAmount)
	}
	return out.IntPart(), nil
}

const maxUnits = int64(^uint64(0) >> 1)
