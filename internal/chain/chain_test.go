package chain

import (
	"errors"
	"testing"

	"custody-ledger/internal/config"
	"custody-ledger/internal/domain"
)

func defaultRegistry(t *testing.T) *Registry {
	t.Helper()
	p, err := config.DefaultPolicy()
	if err != nil {
		t.Fatalf("DefaultPolicy: %v", err)
	}
	r, err := NewRegistry(p.Assets, p.Networks)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return r
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name   string
		format domain.AddressFormat
		addr   string
		valid  bool
	}{
		{"evm checksummed", domain.AddressEVM, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true},
		{"evm checksummed 2", domain.AddressEVM, "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359", true},
		{"evm lowercase", domain.AddressEVM, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", true},
		{"evm uppercase", domain.AddressEVM, "0x52908400098527886E0F7030069857D2E4169EE7", true},
		{"evm bad checksum", domain.AddressEVM, "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false},
		{"evm short", domain.AddressEVM, "0x5aaeb6053f3e94c9b9a09f33669435e7ef1bea", false},
		{"evm no prefix", domain.AddressEVM, "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed00", false},

		{"bitcoin p2pkh", domain.AddressBitcoin, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", true},
		{"bitcoin p2sh", domain.AddressBitcoin, "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", true},
		{"bitcoin bech32", domain.AddressBitcoin, "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", true},
		{"bitcoin bad checksum", domain.AddressBitcoin, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNb", false},
		{"bitcoin tron address", domain.AddressBitcoin, "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", false},
		{"bitcoin bech32 uppercase", domain.AddressBitcoin, "bc1QAR0SRRR7XFKVY5L643LYDNW9RE59GTZZWF5MDQ", false},

		{"solana", domain.AddressSolana, "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", true},
		{"solana off curve still valid format", domain.AddressSolana, "8RBsoeyoRwajj86MZfZE6gMDJQVYGYcdSfx1zxqxNHbr", true},
		{"solana bad char", domain.AddressSolana, "0WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", false},
		{"solana too short", domain.AddressSolana, "9WzDXwBbmkg8ZTbN", false},

		{"tron", domain.AddressTron, "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", true},
		{"tron bad checksum", domain.AddressTron, "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6u", false},
		{"tron bitcoin address", domain.AddressTron, "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", false},

		{"ton friendly", domain.AddressTON, "EQDtFpEwcFAEcRe5mLVh2N6C0x-_hJEM7W61_JLnSF74p4q2", true},
		{"ton raw", domain.AddressTON, "0:ed1691307050047117b998b561d8de82d31fbf84910ced6eb5fc92e7485ef8a7", true},
		{"ton raw masterchain", domain.AddressTON, "-1:3333333333333333333333333333333333333333333333333333333333333333", true},
		{"ton raw short id", domain.AddressTON, "0:ed1691307050047117b998b561d8de82", false},
		{"ton raw bad hex", domain.AddressTON, "0:zz1691307050047117b998b561d8de82d31fbf84910ced6eb5fc92e7485ef8a7", false},
		{"ton raw bad workchain", domain.AddressTON, "300:ed1691307050047117b998b561d8de82d31fbf84910ced6eb5fc92e7485ef8a7", false},
		{"ton garbage", domain.AddressTON, "EQnotanaddress", false},

		{"xrp", domain.AddressXRP, "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", true},
		{"xrp wrong prefix", domain.AddressXRP, "xHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.format, tt.addr)
			if tt.valid && err != nil {
				t.Errorf("ValidateAddress(%s, %q) = %v, want nil", tt.format, tt.addr, err)
			}
			if !tt.valid && !errors.Is(err, domain.ErrInvalidAddress) {
				t.Errorf("ValidateAddress(%s, %q) = %v, want ErrInvalidAddress", tt.format, tt.addr, err)
			}
		})
	}
}

func TestValidateDestination_SolanaOnCurve(t *testing.T) {
	r := defaultRegistry(t)

	if err := r.ValidateDestination("solana", "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"); err != nil {
		t.Errorf("on-curve destination rejected: %v", err)
	}
	if err := r.ValidateDestination("solana", "8RBsoeyoRwajj86MZfZE6gMDJQVYGYcdSfx1zxqxNHbr"); !errors.Is(err, domain.ErrInvalidAddress) {
		t.Errorf("off-curve destination: err = %v, want ErrInvalidAddress", err)
	}
	// Deposit addresses are not subject to the curve check.
	if err := r.ValidateAddress("solana", "8RBsoeyoRwajj86MZfZE6gMDJQVYGYcdSfx1zxqxNHbr"); err != nil {
		t.Errorf("ValidateAddress: %v", err)
	}
	if err := r.ValidateAddress("dogecoin", "D123"); !errors.Is(err, domain.ErrUnknownNetwork) {
		t.Errorf("unknown network: err = %v", err)
	}
}

func TestRegistry_Supported(t *testing.T) {
	r := defaultRegistry(t)

	n, a, err := r.Supported("tron", "USDT")
	if err != nil {
		t.Fatalf("Supported(tron, USDT): %v", err)
	}
	if n.MinConfirmations != 19 || a.Scale != 6 || !a.Stable {
		t.Errorf("Supported() = %+v, %+v", n, a)
	}

	if _, _, err := r.Supported("bitcoin", "USDT"); !errors.Is(err, domain.ErrUnknownAsset) {
		t.Errorf("USDT on bitcoin: err = %v, want ErrUnknownAsset", err)
	}
	if _, err := r.Asset("DOGE"); !errors.Is(err, domain.ErrUnknownAsset) {
		t.Errorf("Asset(DOGE): err = %v", err)
	}

	thresholds := map[domain.NetworkCode]int64{
		"bitcoin": 3, "ethereum": 12, "solana": 31, "polygon": 128,
		"tron": 19, "ton": 1, "xrp": 1, "bsc": 15,
	}
	for code, want := range thresholds {
		n, err := r.Network(code)
		if err != nil {
			t.Fatalf("Network(%s): %v", code, err)
		}
		if n.MinConfirmations != want {
			t.Errorf("%s min confirmations = %d, want %d", code, n.MinConfirmations, want)
		}
	}
	if len(r.Networks()) != len(thresholds) {
		t.Errorf("Networks() = %d, want %d", len(r.Networks()), len(thresholds))
	}
}

func TestNewRegistry_Invalid(t *testing.T) {
	assets := []domain.Asset{{Code: "BTC", Scale: 8}}

	_, err := NewRegistry(assets, []domain.Network{{Code: "bitcoin", MinConfirmations: 0}})
	if err == nil {
		t.Error("zero min confirmations accepted")
	}

	_, err = NewRegistry(assets, []domain.Network{{Code: "bitcoin", MinConfirmations: 3, Assets: []domain.AssetCode{"ETH"}}})
	if !errors.Is(err, domain.ErrUnknownAsset) {
		t.Errorf("unknown network asset: err = %v", err)
	}
}

func TestExplorerURLs(t *testing.T) {
	r := defaultRegistry(t)

	tests := []struct {
		network domain.NetworkCode
		tx      string
		want    string
	}{
		{"ethereum", "0xabc", "https://etherscan.io/tx/0xabc"},
		{"tron", "deadbeef", "https://tronscan.org/#/transaction/deadbeef"},
		{"bitcoin", "f4184fc5", "https://blockchair.com/bitcoin/transaction/f4184fc5"},
		{"solana", "5h6x", "https://solscan.io/tx/5h6x"},
		{"unknown", "abc", ""},
	}
	for _, tt := range tests {
		if got := r.TxURL(tt.network, tt.tx); got != tt.want {
			t.Errorf("TxURL(%s) = %q, want %q", tt.network, got, tt.want)
		}
	}

	if got := r.AddressURL("xrp", "rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh"); got != "https://xrpscan.com/account/rHb9CJAWyB4rj91VRWn96DkukG4bwdtyTh" {
		t.Errorf("AddressURL(xrp) = %q", got)
	}
}
