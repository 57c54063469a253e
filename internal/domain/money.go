package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AssetCode identifies an asset platform-wide (e.g. "BTC", "USDT").
type AssetCode string

// String returns the string representation of AssetCode.
func (a AssetCode) String() string {
	return string(a)
}

// Money is an amount of a single asset in integer minor units.
// Scale is the number of decimal places of one whole unit and is fixed per asset.
type Money struct {
	Asset AssetCode
	Units int64 // minor units, signed
	Scale int32 // decimal places of the asset
}

// NewMoney creates Money from minor units.
func NewMoney(asset AssetCode, units int64, scale int32) Money {
	return Money{Asset: asset, Units: units, Scale: scale}
}

// ParseMoney parses a human decimal string ("1.5") into minor units.
// Returns ErrInvalidAmount if the string has more fractional digits than scale.
func ParseMoney(asset AssetCode, s string, scale int32) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return MoneyFromDecimal(asset, d, scale)
}

// MoneyFromDecimal converts a decimal amount of whole units into minor units.
func MoneyFromDecimal(asset AssetCode, d decimal.Decimal, scale int32) (Money, error) {
	shifted := d.Shift(scale)
	if !shifted.IsInteger() {
		return Money{}, fmt.Errorf("%w: %s has more than %d decimals", ErrInvalidAmount, d.String(), scale)
	}
	if shifted.GreaterThan(decimal.NewFromInt(maxInt64)) || shifted.LessThan(decimal.NewFromInt(-maxInt64)) {
		return Money{}, fmt.Errorf("%w: %s out of range", ErrInvalidAmount, d.String())
	}
	return Money{Asset: asset, Units: shifted.IntPart(), Scale: scale}, nil
}

const maxInt64 = int64(^uint64(0) >> 1)

// Decimal returns the amount in whole units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Units, -m.Scale)
}

// String formats the amount with the full asset scale, e.g. "0.01000000 BTC".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Decimal().StringFixed(m.Scale), m.Asset)
}

// Amount formats the amount without the asset code.
func (m Money) Amount() string {
	return m.Decimal().StringFixed(m.Scale)
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Units == 0
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.Units < 0
}

// Neg returns the negated amount.
func (m Money) Neg() Money {
	return Money{Asset: m.Asset, Units: -m.Units, Scale: m.Scale}
}

// Add returns m + other. Fails with ErrAssetMismatch on different assets.
func (m Money) Add(other Money) (Money, error) {
	if m.Asset != other.Asset || m.Scale != other.Scale {
		return Money{}, fmt.Errorf("%w: %s vs %s", ErrAssetMismatch, m.Asset, other.Asset)
	}
	sum := m.Units + other.Units
	if (other.Units > 0 && sum < m.Units) || (other.Units < 0 && sum > m.Units) {
		return Money{}, fmt.Errorf("%w: overflow", ErrInvalidAmount)
	}
	return Money{Asset: m.Asset, Units: sum, Scale: m.Scale}, nil
}

// Sub returns m - other. Fails with ErrAssetMismatch on different assets.
func (m Money) Sub(other Money) (Money, error) {
	return m.Add(other.Neg())
}

// Cmp compares two amounts of the same asset (-1, 0, 1).
func (m Money) Cmp(other Money) int {
	switch {
	case m.Units < other.Units:
		return -1
	case m.Units > other.Units:
		return 1
	}
	return 0
}

// UsdCents is an amount of US dollars in cents. Withdrawal limits are
// expressed in USD-equivalent value.
type UsdCents int64

// String formats cents as "$1234.56".
func (c UsdCents) String() string {
	return "$" + decimal.New(int64(c), -2).StringFixed(2)
}

// UsdValue values m at price (USD per whole unit), rounding down to the cent.
func UsdValue(m Money, price decimal.Decimal) UsdCents {
	return UsdCents(m.Decimal().Mul(price).Shift(2).Floor().IntPart())
}

// Dollars converts whole dollars to cents.
func Dollars(n int64) UsdCents {
	return UsdCents(n * 100)
}
