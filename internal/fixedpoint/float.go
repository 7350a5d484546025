package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Rounding selects the direction a extended-precision value is quantized to WAD.
type Rounding int

const (
	// RoundDown truncates toward zero.
	RoundDown Rounding = iota
	// RoundUp rounds away from zero.
	RoundUp
)

func (r Rounding) String() string {
	if r == RoundUp {
		return "up"
	}
	return "down"
}

var wadFloat = new(big.Float).SetInt64(1e18)

// ToFloat returns x/1e18 at precision prec.
func ToFloat(x *uint256.Int, prec uint) *big.Float {
	f := new(big.Float).SetPrec(prec).SetInt(x.ToBig())
	return f.Quo(f, wadFloat)
}

// SignedToFloat returns x/1e18 at precision prec.
func SignedToFloat(x *big.Int, prec uint) *big.Float {
	f := new(big.Float).SetPrec(prec).SetInt(x)
	return f.Quo(f, wadFloat)
}

// FromFloat quantizes f to an unsigned WAD. Negative values smaller than one wei
// in magnitude quantize to zero; anything more negative underflows.
func FromFloat(f *big.Float, mode Rounding) (*uint256.Int, error) {
	if f.IsInf() {
		return nil, fmt.Errorf("quantize %s: %w", f.Text('g', 10), ErrOverflow)
	}
	scaled := new(big.Float).SetPrec(f.Prec()+64).Mul(f, wadFloat)
	i, acc := scaled.Int(nil)
	if f.Sign() < 0 {
		if i.Sign() != 0 {
			return nil, fmt.Errorf("quantize %s: %w", f.Text('g', 10), ErrUnderflow)
		}
		return new(uint256.Int), nil
	}
	if mode == RoundUp && acc == big.Below {
		i.Add(i, big.NewInt(1))
	}
	z, overflow := uint256.FromBig(i)
	if overflow {
		return nil, fmt.Errorf("quantize %s: %w", f.Text('g', 10), ErrOverflow)
	}
	return z, nil
}

// SignedFromFloat quantizes f to a signed WAD, truncating toward zero.
func SignedFromFloat(f *big.Float) (*big.Int, error) {
	if f.IsInf() {
		return nil, fmt.Errorf("quantize %s: %w", f.Text('g', 10), ErrOverflow)
	}
	scaled := new(big.Float).SetPrec(f.Prec()+64).Mul(f, wadFloat)
	i, _ := scaled.Int(nil)
	if err := CheckInt256(i); err != nil {
		return nil, err
	}
	return i, nil
}
