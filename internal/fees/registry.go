package fees

import (
	"fmt"
	"sort"

	"custody-ledger/internal/domain"
)

// Registry holds fee policies looked up by operation key.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	policies map[string]domain.FeePolicy
}

// NewRegistry validates and indexes policies. Duplicate keys are rejected.
func NewRegistry(policies []domain.FeePolicy) (*Registry, error) {
	r := &Registry{policies: make(map[string]domain.FeePolicy, len(policies))}
	for _, p := range policies {
		if p.Key == "" {
			return nil, fmt.Errorf("%w: policy without key", domain.ErrInvalidPolicy)
		}
		if err := Validate(p); err != nil {
			return nil, err
		}
		if _, exists := r.policies[p.Key]; exists {
			return nil, fmt.Errorf("%w: duplicate policy %s", domain.ErrInvalidPolicy, p.Key)
		}
		r.policies[p.Key] = p
	}
	return r, nil
}

// Lookup returns the policy for op, preferring an asset override "op.ASSET".
func (r *Registry) Lookup(op string, asset domain.AssetCode) (domain.FeePolicy, error) {
	if asset != "" {
		if p, ok := r.policies[op+"."+string(asset)]; ok {
			return p, nil
		}
	}
	if p, ok := r.policies[op]; ok {
		return p, nil
	}
	return domain.FeePolicy{}, fmt.Errorf("%w: no policy for %s", domain.ErrInvalidPolicy, op)
}

// Split looks up the policy for op/asset and splits gross.
func (r *Registry) Split(op string, asset domain.AssetCode, gross int64) (domain.FeeBreakdown, error) {
	p, err := r.Lookup(op, asset)
	if err != nil {
		return domain.FeeBreakdown{}, err
	}
	return Split(gross, p)
}

// Policies returns all policies sorted by key.
func (r *Registry) Policies() []domain.FeePolicy {
	out := make([]domain.FeePolicy, 0, len(r.policies))
	for _, p := range r.policies {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
