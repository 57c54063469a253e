package domain

// NetworkCode identifies a blockchain network (e.g. "bitcoin", "ethereum").
type NetworkCode string

// String returns the string representation of NetworkCode.
func (n NetworkCode) String() string {
	return string(n)
}

// AddressFormat selects the address validator for a network.
type AddressFormat string

const (
	AddressEVM     AddressFormat = "evm"
	AddressBitcoin AddressFormat = "bitcoin"
	AddressSolana  AddressFormat = "solana"
	AddressTron    AddressFormat = "tron"
	AddressTON     AddressFormat = "ton"
	AddressXRP     AddressFormat = "xrp"
)

// Network is per-chain configuration. Confirmation thresholds are data.
type Network struct {
	Code               NetworkCode   `json:"code"`
	Name               string        `json:"name"`
	NativeAsset        AssetCode     `json:"native_asset"`
	MinConfirmations   int64         `json:"min_confirmations"`
	AddressFormat      AddressFormat `json:"address_format"`
	ExplorerTxURL      string        `json:"explorer_tx_url"`      // format string with one %s
	ExplorerAddressURL string        `json:"explorer_address_url"` // format string with one %s
	RequireOnCurve     bool          `json:"require_on_curve"`     // reject off-curve withdrawal destinations
	Assets             []AssetCode   `json:"assets"`
}

// Supports reports whether asset can move on the network.
func (n *Network) Supports(asset AssetCode) bool {
	for _, a := range n.Assets {
		if a == asset {
			return true
		}
	}
	return false
}

// Asset is per-asset configuration.
type Asset struct {
	Code   AssetCode `json:"code"`
	Scale  int32     `json:"scale"`
	Stable bool      `json:"stable"` // stablecoins use the deposit.stables fee policy
}

// Zero returns a zero amount of the asset.
func (a *Asset) Zero() Money {
	return Money{Asset: a.Code, Scale: a.Scale}
}

// Units returns minor units as Money.
func (a *Asset) Units(n int64) Money {
	return Money{Asset: a.Code, Units: n, Scale: a.Scale}
}

// DepositFeeKey returns the fee policy key for deposits of this asset.
func (a *Asset) DepositFeeKey() string {
	if a.Stable {
		return FeeKeyDepositStables
	}
	return FeeKeyDepositCrypto
}

// DepositAddress maps an on-chain address to its owner.
// Corresponds to deposit_addresses table in PostgreSQL.
type DepositAddress struct {
	Network   NetworkCode
	Address   string
	UserID    string
	CreatedAt int64 // ms
}
