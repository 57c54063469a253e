package chain

import (
	"fmt"
	"net/url"

	"custody-ledger/internal/domain"
)

// TxURL returns the explorer link for a transaction, or "" when the network
// has no explorer configured.
func (r *Registry) TxURL(network domain.NetworkCode, txHash string) string {
	n, ok := r.networks[network]
	if !ok || n.ExplorerTxURL == "" || txHash == "" {
		return ""
	}
	return fmt.Sprintf(n.ExplorerTxURL, url.PathEscape(txHash))
}

// AddressURL returns the explorer link for an address.
func (r *Registry) AddressURL(network domain.NetworkCode, addr string) string {
	n, ok := r.networks[network]
	if !ok || n.ExplorerAddressURL == "" || addr == "" {
		return ""
	}
	return fmt.Sprintf(n.ExplorerAddressURL, url.PathEscape(addr))
}
