package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"custody-ledger/internal/domain"
	"custody-ledger/internal/fees"
)

//go:embed default_policy.json
var defaultPolicy []byte

// MaxAssetScale bounds asset scale so realistic balances fit int64 minor units.
const MaxAssetScale = 12

// Policy is the asset, network, fee and limit configuration of the ledger.
type Policy struct {
	Assets    []domain.Asset               `json:"assets"`
	Networks  []domain.Network             `json:"networks"`
	Fees      []domain.FeePolicy           `json:"fees"`
	Tiers     []domain.TierPolicy          `json:"tiers"`
	Floors    map[domain.AccountType]int64 `json:"floors"`
	Unbounded []domain.AccountType         `json:"unbounded"`
}

// DefaultPolicy returns the embedded policy document.
func DefaultPolicy() (*Policy, error) {
	return ParsePolicy(defaultPolicy)
}

// LoadPolicy reads a policy file. An empty path selects the embedded default.
func LoadPolicy(path string) (*Policy, error) {
	if path == "" {
		return DefaultPolicy()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes and validates a policy document.
func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks internal consistency of the policy.
func (p *Policy) Validate() error {
	assets := make(map[domain.AssetCode]bool, len(p.Assets))
	for _, a := range p.Assets {
		if a.Code == "" {
			return fmt.Errorf("policy: asset without code")
		}
		if assets[a.Code] {
			return fmt.Errorf("policy: duplicate asset %s", a.Code)
		}
		if a.Scale < 0 || a.Scale > MaxAssetScale {
			return fmt.Errorf("policy: asset %s scale %d out of [0, %d]", a.Code, a.Scale, MaxAssetScale)
		}
		assets[a.Code] = true
	}

	networks := make(map[domain.NetworkCode]bool, len(p.Networks))
	for _, n := range p.Networks {
		if n.Code == "" {
			return fmt.Errorf("policy: network without code")
		}
		if networks[n.Code] {
			return fmt.Errorf("policy: duplicate network %s", n.Code)
		}
		if n.MinConfirmations < 1 {
			return fmt.Errorf("policy: network %s min_confirmations must be >= 1", n.Code)
		}
		if !assets[n.NativeAsset] {
			return fmt.Errorf("policy: network %s native asset %s: %w", n.Code, n.NativeAsset, domain.ErrUnknownAsset)
		}
		for _, a := range n.Assets {
			if !assets[a] {
				return fmt.Errorf("policy: network %s asset %s: %w", n.Code, a, domain.ErrUnknownAsset)
			}
		}
		networks[n.Code] = true
	}

	if _, err := fees.NewRegistry(p.Fees); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	tiers := make(map[int]bool, len(p.Tiers))
	for _, t := range p.Tiers {
		if t.MinUsd < 0 || t.MaxUsd < t.MinUsd {
			return fmt.Errorf("policy: tier %d has invalid min/max", t.Tier)
		}
		if t.DailyLimitUsd <= 0 || t.MonthlyLimitUsd <= 0 || t.WeeklyLimitUsd < 0 {
			return fmt.Errorf("policy: tier %d has invalid limits", t.Tier)
		}
		tiers[t.Tier] = true
	}
	if !tiers[0] {
		return fmt.Errorf("policy: tier 0 is required")
	}

	for t, floor := range p.Floors {
		if !t.IsSystemOnly() {
			return fmt.Errorf("policy: floor for non-system account type %s", t)
		}
		if floor > 0 {
			return fmt.Errorf("policy: floor for %s must be <= 0", t)
		}
	}
	for _, t := range p.Unbounded {
		if !t.IsSystemOnly() {
			return fmt.Errorf("policy: unbounded non-system account type %s", t)
		}
	}
	return nil
}

// FeeRegistry builds the fee registry.
func (p *Policy) FeeRegistry() (*fees.Registry, error) {
	return fees.NewRegistry(p.Fees)
}

// BalanceFloors returns the configured account floors.
func (p *Policy) BalanceFloors() domain.BalanceFloors {
	f := domain.BalanceFloors{
		Floors:    make(map[domain.AccountType]int64, len(p.Floors)),
		Unbounded: make(map[domain.AccountType]bool, len(p.Unbounded)),
	}
	for t, v := range p.Floors {
		f.Floors[t] = v
	}
	for _, t := range p.Unbounded {
		f.Unbounded[t] = true
	}
	return f
}

// TierPolicies indexes tiers by number.
func (p *Policy) TierPolicies() map[int]domain.TierPolicy {
	out := make(map[int]domain.TierPolicy, len(p.Tiers))
	for _, t := range p.Tiers {
		out[t.Tier] = t
	}
	return out
}
