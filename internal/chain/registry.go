// Package chain holds the network and asset registry, deposit address
// validation and block explorer links.
package chain

import (
	"fmt"
	"sort"

	"custody-ledger/internal/domain"
)

// Registry indexes the configured assets and networks.
// It is immutable after construction and safe for concurrent use.
type Registry struct {
	assets   map[domain.AssetCode]domain.Asset
	networks map[domain.NetworkCode]domain.Network
}

// NewRegistry builds a registry. Every network asset must be a known asset.
func NewRegistry(assets []domain.Asset, networks []domain.Network) (*Registry, error) {
	r := &Registry{
		assets:   make(map[domain.AssetCode]domain.Asset, len(assets)),
		networks: make(map[domain.NetworkCode]domain.Network, len(networks)),
	}
	for _, a := range assets {
		if _, dup := r.assets[a.Code]; dup {
			return nil, fmt.Errorf("duplicate asset %s", a.Code)
		}
		r.assets[a.Code] = a
	}
	for _, n := range networks {
		if _, dup := r.networks[n.Code]; dup {
			return nil, fmt.Errorf("duplicate network %s", n.Code)
		}
		if n.MinConfirmations < 1 {
			return nil, fmt.Errorf("network %s: min_confirmations must be at least 1", n.Code)
		}
		for _, code := range n.Assets {
			if _, ok := r.assets[code]; !ok {
				return nil, fmt.Errorf("network %s: %w: %s", n.Code, domain.ErrUnknownAsset, code)
			}
		}
		n.Assets = append([]domain.AssetCode(nil), n.Assets...)
		r.networks[n.Code] = n
	}
	return r, nil
}

// Asset returns the asset for code or ErrUnknownAsset.
func (r *Registry) Asset(code domain.AssetCode) (*domain.Asset, error) {
	a, ok := r.assets[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownAsset, code)
	}
	return &a, nil
}

// Network returns the network for code or ErrUnknownNetwork.
func (r *Registry) Network(code domain.NetworkCode) (*domain.Network, error) {
	n, ok := r.networks[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownNetwork, code)
	}
	return &n, nil
}

// Supported returns the network and asset when asset can move on network.
func (r *Registry) Supported(network domain.NetworkCode, asset domain.AssetCode) (*domain.Network, *domain.Asset, error) {
	n, err := r.Network(network)
	if err != nil {
		return nil, nil, err
	}
	a, err := r.Asset(asset)
	if err != nil {
		return nil, nil, err
	}
	if !n.Supports(asset) {
		return nil, nil, fmt.Errorf("%w: %s is not supported on %s", domain.ErrUnknownAsset, asset, network)
	}
	return n, a, nil
}

// Networks returns all networks sorted by code.
func (r *Registry) Networks() []domain.Network {
	out := make([]domain.Network, 0, len(r.networks))
	for _, n := range r.networks {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Assets returns all assets sorted by code.
func (r *Registry) Assets() []domain.Asset {
	out := make([]domain.Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
