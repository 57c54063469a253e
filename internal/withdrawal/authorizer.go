// Package withdrawal authorizes withdrawals against KYC-tiered USD limits,
// reserves the funds in the ledger and drives payouts to completion.
package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/fees"
	"custody-ledger/internal/ledger"
	"custody-ledger/internal/observability"
	"custody-ledger/internal/provider"
	"custody-ledger/internal/storage"
)

// Usage is the USD value already withdrawn in each limit window.
type Usage struct {
	Daily   domain.UsdCents `json:"daily"`
	Weekly  domain.UsdCents `json:"weekly"`
	Monthly domain.UsdCents `json:"monthly"`
}

// Decision is the outcome of Authorize.
type Decision struct {
	Allowed          bool                `json:"allowed"`
	Reason           string              `json:"reason,omitempty"`
	Tier             int                 `json:"tier"`
	Limits           domain.TierPolicy   `json:"limits"`
	Usage            Usage               `json:"usage"`
	UsdValue         domain.UsdCents     `json:"usd_value_cents"`
	Fee              domain.FeeBreakdown `json:"fee"`
	RequiresApproval bool                `json:"requires_approval"`
}

// Authorizer evaluates withdrawal limits. It holds no locks; callers
// serialize per user.
type Authorizer struct {
	ledger      *ledger.Ledger
	withdrawals storage.WithdrawalStore
	fees        *fees.Registry
	tiers       map[int]domain.TierPolicy
	kyc         provider.KYCProvider
	rates       provider.RateOracle
	now         func() time.Time
}

// Authorize checks a withdrawal of amount minor units of asset in order:
// KYC tier, USD min/max, daily/weekly/monthly usage, main balance. The
// returned Decision is filled as far as evaluation got; when a check fails
// it carries Allowed=false and the error is returned alongside.
func (a *Authorizer) Authorize(ctx context.Context, userID string, asset *domain.Asset, amount int64) (*Decision, error) {
	d := &Decision{}
	deny := func(err error) (*Decision, error) {
		d.Allowed = false
		d.Reason = err.Error()
		var limitErr *domain.LimitError
		if errors.As(err, &limitErr) {
			observability.RecordLimitRejection(string(limitErr.Kind))
		}
		return d, err
	}

	if amount <= 0 {
		return deny(fmt.Errorf("%w: withdrawal amount must be positive", domain.ErrInvalidAmount))
	}

	kyc, err := a.kyc.Status(ctx, userID)
	if err != nil {
		return deny(fmt.Errorf("kyc status: %w", err))
	}
	d.Tier = kyc.EffectiveTier()
	policy, ok := a.tiers[d.Tier]
	if !ok {
		if policy, ok = a.tiers[0]; !ok {
			return deny(fmt.Errorf("%w: no limits for tier %d", domain.ErrInvalidPolicy, d.Tier))
		}
	}
	d.Limits = policy
	d.RequiresApproval = policy.RequiresApproval

	rate, err := a.rates.Rate(ctx, asset.Code, provider.USD)
	if err != nil {
		return deny(fmt.Errorf("rate %s/USD: %w", asset.Code, err))
	}
	d.UsdValue = domain.UsdValue(asset.Units(amount), rate)

	if d.UsdValue < domain.Dollars(policy.MinUsd) {
		return deny(&domain.LimitError{Kind: domain.LimitMinimum, Limit: domain.Dollars(policy.MinUsd), Requested: d.UsdValue})
	}
	if d.UsdValue > domain.Dollars(policy.MaxUsd) {
		return deny(&domain.LimitError{Kind: domain.LimitMaximum, Limit: domain.Dollars(policy.MaxUsd), Requested: d.UsdValue})
	}

	day, week, month := windowStarts(a.now())
	for _, w := range []struct {
		kind  domain.LimitKind
		since int64
		limit int64
		used  *domain.UsdCents
	}{
		{domain.LimitDaily, day, policy.DailyLimitUsd, &d.Usage.Daily},
		{domain.LimitWeekly, week, policy.WeeklyLimitUsd, &d.Usage.Weekly},
		{domain.LimitMonthly, month, policy.MonthlyLimitUsd, &d.Usage.Monthly},
	} {
		used, err := a.withdrawals.SumUsdSince(ctx, userID, w.since, domain.LimitStatuses)
		if err != nil {
			return deny(fmt.Errorf("%s usage: %w", w.kind, err))
		}
		*w.used = used
		if w.limit <= 0 {
			continue
		}
		if used+d.UsdValue > domain.Dollars(w.limit) {
			return deny(&domain.LimitError{Kind: w.kind, Limit: domain.Dollars(w.limit), Used: used, Requested: d.UsdValue})
		}
	}

	available, err := a.ledger.Balance(ctx, domain.UserAccount(userID, asset.Code, domain.AccountMain))
	if err != nil {
		return deny(fmt.Errorf("main balance: %w", err))
	}
	if available.Units < amount {
		return deny(&domain.BalanceError{
			Account:   domain.UserAccount(userID, asset.Code, domain.AccountMain),
			Available: available,
			Requested: asset.Units(amount),
		})
	}

	d.Fee, err = a.fees.Split(domain.FeeKeyWithdrawal, asset.Code, amount)
	if err != nil {
		return deny(err)
	}

	d.Allowed = true
	return d, nil
}

// windowStarts returns the UTC start of the day, ISO week (Monday) and
// month containing now, in ms.
func windowStarts(now time.Time) (day, week, month int64) {
	now = now.UTC()
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := (int(d.Weekday()) + 6) % 7
	w := d.AddDate(0, 0, -offset)
	m := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return d.UnixMilli(), w.UnixMilli(), m.UnixMilli()
}
