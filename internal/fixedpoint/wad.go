package fixedpoint

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Decimals is the number of decimals carried by a WAD value.
const Decimals = 18

var wad = uint256.NewInt(1e18)

// One returns 1.0 as a WAD.
func One() *uint256.Int {
	return new(uint256.Int).Set(wad)
}

// FromUint64 returns v as a WAD (v * 1e18).
func FromUint64(v uint64) *uint256.Int {
	z, _ := new(uint256.Int).MulOverflow(uint256.NewInt(v), wad)
	return z
}

// MulDown returns x*y/1e18 truncated toward zero.
func MulDown(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, wad)
	if overflow {
		return nil, fmt.Errorf("mul %s * %s: %w", x.Dec(), y.Dec(), ErrOverflow)
	}
	return z, nil
}

// MulUp returns x*y/1e18 rounded away from zero.
func MulUp(x, y *uint256.Int) (*uint256.Int, error) {
	z, err := MulDown(x, y)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, y, wad).IsZero() {
		return Add(z, uint256.NewInt(1))
	}
	return z, nil
}

// DivDown returns x*1e18/y truncated toward zero.
func DivDown(x, y *uint256.Int) (*uint256.Int, error) {
	if y.IsZero() {
		return nil, fmt.Errorf("div %s by zero: %w", x.Dec(), ErrDomain)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, wad, y)
	if overflow {
		return nil, fmt.Errorf("div %s / %s: %w", x.Dec(), y.Dec(), ErrOverflow)
	}
	return z, nil
}

// DivUp returns x*1e18/y rounded away from zero.
func DivUp(x, y *uint256.Int) (*uint256.Int, error) {
	z, err := DivDown(x, y)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, wad, y).IsZero() {
		return Add(z, uint256.NewInt(1))
	}
	return z, nil
}

// MulDivDown returns x*y/d truncated toward zero, with a 512-bit intermediate.
func MulDivDown(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("muldiv by zero: %w", ErrDomain)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, fmt.Errorf("muldiv %s * %s / %s: %w", x.Dec(), y.Dec(), d.Dec(), ErrOverflow)
	}
	return z, nil
}

// MulDivUp returns x*y/d rounded away from zero.
func MulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := MulDivDown(x, y, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		return Add(z, uint256.NewInt(1))
	}
	return z, nil
}

// Add returns x+y or ErrOverflow.
func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("add %s + %s: %w", x.Dec(), y.Dec(), ErrOverflow)
	}
	return z, nil
}

// Sub returns x-y or ErrUnderflow when y > x.
func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	if x.Lt(y) {
		return nil, fmt.Errorf("sub %s - %s: %w", x.Dec(), y.Dec(), ErrUnderflow)
	}
	return new(uint256.Int).Sub(x, y), nil
}

// Min returns a copy of the smaller of x and y.
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return new(uint256.Int).Set(x)
	}
	return new(uint256.Int).Set(y)
}

// IsApproxBelow reports whether a <= b and a >= b*(1-eps), eps in WAD.
func IsApproxBelow(a, b, eps *uint256.Int) bool {
	if a.Gt(b) {
		return false
	}
	if eps.Cmp(wad) >= 0 {
		return true
	}
	keep, err := MulDown(b, new(uint256.Int).Sub(wad, eps))
	if err != nil {
		return false
	}
	return !a.Lt(keep)
}
