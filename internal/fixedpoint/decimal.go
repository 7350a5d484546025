package fixedpoint

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ParseWad parses a human decimal string such as "1.5" into a WAD.
func ParseWad(s string) (*uint256.Int, error) {
	v, err := ParseSignedWad(s)
	if err != nil {
		return nil, err
	}
	return Unsigned(v)
}

// ParseSignedWad parses a decimal string that may carry a sign into a signed WAD.
func ParseSignedWad(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("parse decimal %q: more than %d decimals: %w", s, Decimals, ErrDomain)
	}
	v := scaled.BigInt()
	if err := CheckInt256(v); err != nil {
		return nil, err
	}
	return v, nil
}

// FormatWad renders a WAD as a decimal string without trailing zeros.
func FormatWad(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x.ToBig(), -Decimals).String()
}

// FormatSignedWad renders a signed WAD as a decimal string.
func FormatSignedWad(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return decimal.NewFromBigInt(x, -Decimals).String()
}

// Decimal converts a WAD to a shopspring decimal for reporting.
func Decimal(x *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(x.ToBig(), -Decimals)
}

func scaleFactor(decimals uint8) (*uint256.Int, error) {
	if decimals > Decimals {
		return nil, fmt.Errorf("token decimals %d exceed %d: %w", decimals, Decimals, ErrDomain)
	}
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(Decimals-decimals))), nil
}

// Upscale converts a native token amount with the given decimals into a WAD.
func Upscale(amount *uint256.Int, decimals uint8) (*uint256.Int, error) {
	factor, err := scaleFactor(decimals)
	if err != nil {
		return nil, err
	}
	z, overflow := new(uint256.Int).MulOverflow(amount, factor)
	if overflow {
		return nil, fmt.Errorf("upscale %s: %w", amount.Dec(), ErrOverflow)
	}
	return z, nil
}

// DownscaleDown converts a WAD to native units, truncating. Use for amounts owed to a caller.
func DownscaleDown(amount *uint256.Int, decimals uint8) (*uint256.Int, error) {
	factor, err := scaleFactor(decimals)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Div(amount, factor), nil
}

// DownscaleUp converts a WAD to native units, rounding up. Use for amounts owed by a caller.
func DownscaleUp(amount *uint256.Int, decimals uint8) (*uint256.Int, error) {
	factor, err := scaleFactor(decimals)
	if err != nil {
		return nil, err
	}
	z := new(uint256.Int).Div(amount, factor)
	if !new(uint256.Int).Mod(amount, factor).IsZero() {
		z.AddUint64(z, 1)
	}
	return z, nil
}
