// Package provider defines the external collaborators of the ledger and
// their HTTP JSON clients: the rate oracle, the payout processor and the
// KYC status provider.
package provider

import (
	"context"

	"github.com/shopspring/decimal"

	"custody-ledger/internal/domain"
)

// USD is the quote currency used for withdrawal limit valuation.
const USD domain.AssetCode = "USD"

// RateOracle quotes how many units of to one whole unit of from is worth.
type RateOracle interface {
	Rate(ctx context.Context, from, to domain.AssetCode) (decimal.Decimal, error)
}

// PayoutRequest asks the payout processor to send funds on chain.
// ReferenceID is the idempotency key: resubmitting the same reference must
// not produce a second transfer.
type PayoutRequest struct {
	ReferenceID string             `json:"reference_id"`
	Asset       domain.AssetCode   `json:"asset"`
	Amount      string             `json:"amount"` // decimal whole units
	AmountUnits int64              `json:"amount_units"`
	Destination string             `json:"destination"`
	Network     domain.NetworkCode `json:"network"`
}

// PayoutProcessor submits withdrawals. The returned transaction hash may be
// empty when the processor reports the outcome asynchronously.
type PayoutProcessor interface {
	Submit(ctx context.Context, req PayoutRequest) (string, error)
}

// KYCProvider reports a user's verification tier.
type KYCProvider interface {
	Status(ctx context.Context, userID string) (domain.KYCStatus, error)
}
