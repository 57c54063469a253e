package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/xssnick/tonutils-go/address"
	"golang.org/x/crypto/sha3"

	"custody-ledger/internal/domain"
)

var (
	evmPattern    = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	bech32Pattern = regexp.MustCompile(`^bc1[a-z0-9]{39,59}$`)
	xrpPattern    = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)
)

// Base58check version bytes.
const (
	bitcoinP2PKH = 0x00
	bitcoinP2SH  = 0x05
	tronMainnet  = 0x41
)

// ValidateAddress checks addr against the network's address format.
func (r *Registry) ValidateAddress(network domain.NetworkCode, addr string) error {
	n, err := r.Network(network)
	if err != nil {
		return err
	}
	return ValidateAddress(n.AddressFormat, addr)
}

// ValidateDestination is ValidateAddress plus the stricter checks applied to
// withdrawal and bridge destinations: on networks with RequireOnCurve an
// off-curve Solana key (a program derived address) is rejected because
// nothing can sign for it.
func (r *Registry) ValidateDestination(network domain.NetworkCode, addr string) error {
	n, err := r.Network(network)
	if err != nil {
		return err
	}
	if err := ValidateAddress(n.AddressFormat, addr); err != nil {
		return err
	}
	if n.RequireOnCurve && n.AddressFormat == domain.AddressSolana && !isOnCurve(addr) {
		return fmt.Errorf("%w: %s is not an ed25519 public key", domain.ErrInvalidAddress, addr)
	}
	return nil
}

// ValidateAddress checks addr against format.
func ValidateAddress(format domain.AddressFormat, addr string) error {
	var ok bool
	switch format {
	case domain.AddressEVM:
		ok = validEVM(addr)
	case domain.AddressBitcoin:
		ok = validBitcoin(addr)
	case domain.AddressSolana:
		ok = validSolana(addr)
	case domain.AddressTron:
		ok = validBase58Check(addr, tronMainnet)
	case domain.AddressTON:
		ok = validTON(addr)
	case domain.AddressXRP:
		ok = xrpPattern.MatchString(addr)
	default:
		return fmt.Errorf("%w: unsupported address format %q", domain.ErrInvalidAddress, format)
	}
	if !ok {
		return fmt.Errorf("%w: %q is not a valid %s address", domain.ErrInvalidAddress, addr, format)
	}
	return nil
}

// validEVM accepts all-lower or all-upper hex, and checks EIP-55 when mixed case.
func validEVM(addr string) bool {
	if !evmPattern.MatchString(addr) {
		return false
	}
	body := addr[2:]
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return true
	}
	return addr == toChecksumAddress(body)
}

// toChecksumAddress returns the EIP-55 form of a 40-char hex address.
func toChecksumAddress(hexAddr string) string {
	lower := strings.ToLower(hexAddr)

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	hash := hex.EncodeToString(h.Sum(nil))

	out := []byte(lower)
	for i, c := range out {
		if c >= 'a' && c <= 'f' && hash[i] >= '8' {
			out[i] = c - 'a' + 'A'
		}
	}
	return "0x" + string(out)
}

func validBitcoin(addr string) bool {
	if strings.HasPrefix(addr, "bc1") {
		return bech32Pattern.MatchString(addr)
	}
	return validBase58Check(addr, bitcoinP2PKH) || validBase58Check(addr, bitcoinP2SH)
}

// validBase58Check decodes a 25-byte version|payload|checksum address.
func validBase58Check(addr string, version byte) bool {
	decoded, err := base58.Decode(addr)
	if err != nil || len(decoded) != 25 || decoded[0] != version {
		return false
	}
	first := sha256.Sum256(decoded[:21])
	second := sha256.Sum256(first[:])
	return bytes.Equal(second[:4], decoded[21:])
}

func validSolana(addr string) bool {
	if len(addr) < 32 || len(addr) > 44 {
		return false
	}
	decoded, err := base58.Decode(addr)
	return err == nil && len(decoded) == 32
}

func isOnCurve(addr string) bool {
	decoded, err := base58.Decode(addr)
	if err != nil || len(decoded) != 32 {
		return false
	}
	_, err = new(edwards25519.Point).SetBytes(decoded)
	return err == nil
}

// validTON accepts the user-friendly base64 form and the raw "wc:hex" form.
func validTON(addr string) bool {
	if strings.Contains(addr, ":") {
		_, err := parseRawTON(addr)
		return err == nil
	}
	_, err := address.ParseAddr(addr)
	return err == nil
}

// parseRawTON parses "wc:hex" with a signed 8-bit workchain and a 32-byte
// account id.
func parseRawTON(addr string) (*address.Address, error) {
	wcPart, hexPart, _ := strings.Cut(addr, ":")
	wc, err := strconv.ParseInt(wcPart, 10, 8)
	if err != nil {
		return nil, fmt.Errorf("workchain: %w", err)
	}
	data, err := hex.DecodeString(hexPart)
	if err != nil {
		return nil, fmt.Errorf("account id: %w", err)
	}
	if len(data) != 32 {
		return nil, fmt.Errorf("account id is %d bytes, want 32", len(data))
	}
	return address.NewAddress(0, byte(wc), data), nil
}
