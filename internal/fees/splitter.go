// Package fees splits gross amounts into protocol, charity and academy shares.
package fees

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"

	"custody-ledger/internal/domain"
)

// Validate checks that a policy is usable by Split.
func Validate(p domain.FeePolicy) error {
	if p.TotalBps < 0 || p.TotalBps > 10000 {
		return fmt.Errorf("%w: %s total_bps %d out of [0, 10000]", domain.ErrInvalidPolicy, p.Key, p.TotalBps)
	}
	if p.ProtocolPct < 0 || p.CharityPct < 0 || p.AcademyPct < 0 {
		return fmt.Errorf("%w: %s has a negative share", domain.ErrInvalidPolicy, p.Key)
	}
	if p.ProtocolPct+p.CharityPct+p.AcademyPct != 100 {
		return fmt.Errorf("%w: %s shares sum to %d, want 100",
			domain.ErrInvalidPolicy, p.Key, p.ProtocolPct+p.CharityPct+p.AcademyPct)
	}
	if p.MinFee < 0 {
		return fmt.Errorf("%w: %s min_fee is negative", domain.ErrInvalidPolicy, p.Key)
	}
	return nil
}

// Split computes the fee breakdown of gross minor units under policy.
//
//	totalFee = floor(gross * totalBps / 10000), raised to MinFee when set
//	protocol = floor(totalFee * protocolPct / 100)
//	charity  = floor(totalFee * charityPct / 100)
//	academy  = totalFee - protocol - charity
//	net      = gross - totalFee
func Split(gross int64, policy domain.FeePolicy) (domain.FeeBreakdown, error) {
	if err := Validate(policy); err != nil {
		return domain.FeeBreakdown{}, err
	}
	if gross < 0 {
		return domain.FeeBreakdown{}, fmt.Errorf("%w: negative gross %d", domain.ErrInvalidAmount, gross)
	}

	totalFee := mulDiv(gross, policy.TotalBps, 10000)
	if policy.MinFee > 0 && totalFee < policy.MinFee {
		if policy.MinFee > gross {
			return domain.FeeBreakdown{}, fmt.Errorf("%w: amount %d does not cover minimum fee %d",
				domain.ErrBelowMinimum, gross, policy.MinFee)
		}
		totalFee = policy.MinFee
	}

	return allocate(gross, totalFee, policy), nil
}

// Allocate splits an already charged totalFee between the pools of policy.
// It reproduces the pool shares of a fee fixed earlier, e.g. at request time.
func Allocate(gross, totalFee int64, policy domain.FeePolicy) (domain.FeeBreakdown, error) {
	if err := Validate(policy); err != nil {
		return domain.FeeBreakdown{}, err
	}
	if totalFee < 0 || totalFee > gross {
		return domain.FeeBreakdown{}, fmt.Errorf("%w: fee %d outside [0, %d]", domain.ErrInvalidAmount, totalFee, gross)
	}
	return allocate(gross, totalFee, policy), nil
}

func allocate(gross, totalFee int64, policy domain.FeePolicy) domain.FeeBreakdown {
	protocol := mulDiv(totalFee, policy.ProtocolPct, 100)
	charity := mulDiv(totalFee, policy.CharityPct, 100)

	return domain.FeeBreakdown{
		Gross:    gross,
		TotalFee: totalFee,
		Protocol: protocol,
		Charity:  charity,
		Academy:  totalFee - protocol - charity,
		Net:      gross - totalFee,
	}
}

// mulDiv returns floor(a*b/d) for non-negative operands without overflow.
func mulDiv(a, b, d int64) int64 {
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi == 0 && lo <= math.MaxInt64 {
		return int64(lo) / d
	}
	r := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	return r.Quo(r, big.NewInt(d)).Int64()
}
