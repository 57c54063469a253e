// Package stub provides in-memory collaborators for tests and local runs.
package stub

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/provider"
)

// RateOracle implements provider.RateOracle from a static table.
type RateOracle struct {
	mu    sync.RWMutex
	Rates map[string]decimal.Decimal // "FROM/TO"
	Err   error
}

// NewRateOracle creates an empty rate table.
func NewRateOracle() *RateOracle {
	return &RateOracle{Rates: make(map[string]decimal.Decimal)}
}

// Set stores the price of one from in to.
func (o *RateOracle) Set(from, to domain.AssetCode, rate string) *RateOracle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Rates[string(from)+"/"+string(to)] = decimal.RequireFromString(rate)
	return o
}

// Rate returns the stored rate. Identical assets quote 1.
func (o *RateOracle) Rate(_ context.Context, from, to domain.AssetCode) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.Err != nil {
		return decimal.Zero, o.Err
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}
	r, ok := o.Rates[string(from)+"/"+string(to)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no rate for %s/%s", domain.ErrExternalServiceUnavailable, from, to)
	}
	return r, nil
}

// PayoutProcessor implements provider.PayoutProcessor and records every
// submission. A reference submitted twice returns the first hash.
type PayoutProcessor struct {
	mu        sync.Mutex
	Requests  []provider.PayoutRequest
	hashes    map[string]string
	FailTimes int // fail the next N submissions with ErrExternalServiceUnavailable
}

// NewPayoutProcessor creates a recording payout processor.
func NewPayoutProcessor() *PayoutProcessor {
	return &PayoutProcessor{hashes: make(map[string]string)}
}

// Submit records req.
func (p *PayoutProcessor) Submit(_ context.Context, req provider.PayoutRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)
	if p.FailTimes > 0 {
		p.FailTimes--
		return "", fmt.Errorf("payout: %w", domain.ErrExternalServiceUnavailable)
	}
	if h, ok := p.hashes[req.ReferenceID]; ok {
		return h, nil
	}
	h := fmt.Sprintf("0xpayout%04d", len(p.hashes)+1)
	p.hashes[req.ReferenceID] = h
	return h, nil
}

// Submitted returns a copy of the recorded requests.
func (p *PayoutProcessor) Submitted() []provider.PayoutRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]provider.PayoutRequest(nil), p.Requests...)
}

// KYCProvider implements provider.KYCProvider from a map. Unknown users
// are not submitted.
type KYCProvider struct {
	mu    sync.RWMutex
	Users map[string]domain.KYCStatus
}

// NewKYCProvider creates an empty KYC table.
func NewKYCProvider() *KYCProvider {
	return &KYCProvider{Users: make(map[string]domain.KYCStatus)}
}

// SetTier marks userID approved at tier.
func (k *KYCProvider) SetTier(userID string, tier int) *KYCProvider {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.Users[userID] = domain.KYCStatus{Tier: tier, Status: domain.KYCApproved}
	return k
}

// Status returns the stored status.
func (k *KYCProvider) Status(_ context.Context, userID string) (domain.KYCStatus, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	st, ok := k.Users[userID]
	if !ok {
		return domain.KYCStatus{Status: domain.KYCNotSubmitted}, nil
	}
	return st, nil
}

var (
	_ provider.RateOracle      = (*RateOracle)(nil)
	_ provider.PayoutProcessor = (*PayoutProcessor)(nil)
	_ provider.KYCProvider     = (*KYCProvider)(nil)
)
