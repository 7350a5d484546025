package fixedpoint

import (
	"fmt"
	"math/big"

	gmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/holiman/uint256"
)

var (
	maxInt256 = new(big.Int).Sub(gmath.BigPow(2, 255), big.NewInt(1))
	minInt256 = new(big.Int).Neg(gmath.BigPow(2, 255))
)

// CheckInt256 returns ErrOverflow when x is outside the signed 256-bit range.
func CheckInt256(x *big.Int) error {
	if x.Cmp(maxInt256) > 0 {
		return fmt.Errorf("int256 %s: %w", x, ErrOverflow)
	}
	if x.Cmp(minInt256) < 0 {
		return fmt.Errorf("int256 %s: %w", x, ErrUnderflow)
	}
	return nil
}

// Signed converts an unsigned WAD to a signed one. Values above the int256 maximum overflow.
func Signed(x *uint256.Int) (*big.Int, error) {
	z := x.ToBig()
	if err := CheckInt256(z); err != nil {
		return nil, err
	}
	return z, nil
}

// Unsigned converts a signed WAD back to uint256. Negative values underflow.
func Unsigned(x *big.Int) (*uint256.Int, error) {
	if x.Sign() < 0 {
		return nil, fmt.Errorf("uint256 %s: %w", x, ErrUnderflow)
	}
	z, overflow := uint256.FromBig(x)
	if overflow {
		return nil, fmt.Errorf("uint256 %s: %w", x, ErrOverflow)
	}
	return z, nil
}

// ApplyDelta returns x+delta for a signed delta, failing rather than wrapping.
func ApplyDelta(x *uint256.Int, delta *big.Int) (*uint256.Int, error) {
	if delta == nil || delta.Sign() == 0 {
		return new(uint256.Int).Set(x), nil
	}
	sum := new(big.Int).Add(x.ToBig(), delta)
	return Unsigned(sum)
}

// SignedDiff returns a-b as a signed value.
func SignedDiff(a, b *uint256.Int) *big.Int {
	return new(big.Int).Sub(a.ToBig(), b.ToBig())
}

// ParseBig256 parses a raw integer (decimal or 0x-hex) bounded to 256 bits.
func ParseBig256(s string) (*uint256.Int, error) {
	v, ok := gmath.ParseBig256(s)
	if !ok {
		return nil, fmt.Errorf("parse raw amount %q: %w", s, ErrDomain)
	}
	return Unsigned(v)
}
