// Package exchange converts value between assets (swaps) and relocates it
// between chains (bridges), booking each operation as one balanced ledger
// batch.
package exchange

import (
	"errors"
	"log"
	"time"

	"custody-ledger/internal/chain"
	"custody-ledger/internal/domain"
	"custody-ledger/internal/fees"
	"custody-ledger/internal/ledger"
	"custody-ledger/internal/storage"
)

// Options configures an Engine.
type Options struct {
	Ledger  *ledger.Ledger
	Bridges storage.BridgeStore
	Chains  *chain.Registry
	Fees    *fees.Registry
	Logger  *log.Logger
	Now     func() time.Time
}

// Engine executes swaps and bridges. It performs no network I/O; rates are
// fetched by the caller.
type Engine struct {
	ledger  *ledger.Ledger
	bridges storage.BridgeStore
	chains  *chain.Registry
	fees    *fees.Registry
	logger  *log.Logger
	now     func() time.Time
}

// New creates an Engine.
func New(opts Options) (*Engine, error) {
	if opts.Ledger == nil || opts.Bridges == nil || opts.Chains == nil || opts.Fees == nil {
		return nil, errors.New("exchange: ledger, bridge store and registries are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		ledger:  opts.Ledger,
		bridges: opts.Bridges,
		chains:  opts.Chains,
		fees:    opts.Fees,
		logger:  logger,
		now:     now,
	}, nil
}

// feeFromEntries rebuilds the fee of a booked batch. payer is the account
// debited by the gross amount.
func feeFromEntries(entries []*domain.LedgerEntry, payer domain.AccountKey) domain.FeeBreakdown {
	var b domain.FeeBreakdown
	for _, e := range entries {
		if e.Account == payer {
			b.Gross = -e.Amount
			continue
		}
		if e.EntryType != domain.EntryFee {
			continue
		}
		switch e.Account.Type {
		case domain.AccountProtocolFees:
			b.Protocol += e.Amount
		case domain.AccountCharityFund:
			b.Charity += e.Amount
		case domain.AccountAcademyFund:
			b.Academy += e.Amount
		}
	}
	b.TotalFee = b.Protocol + b.Charity + b.Academy
	b.Net = b.Gross - b.TotalFee
	return b
}
