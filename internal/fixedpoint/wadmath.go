package fixedpoint

import (
	"fmt"
	"math/big"
)

var (
	// MaxExpInput is the largest WAD x for which e^x still fits a signed 256-bit WAD.
	MaxExpInput = mustBig("135305999368893231589")
	// MinExpInput is the WAD x below which e^x is smaller than one wei.
	MinExpInput = mustBig("-42139678854452767551")

	wadInt = big.NewInt(1e18)
)

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("fixedpoint: bad constant " + s)
	}
	return v
}

// Exp returns e^x for a signed WAD x. Inputs above MaxExpInput fail with ErrDomain;
// inputs below MinExpInput return zero.
func Exp(x *big.Int) (*big.Int, error) {
	if x.Cmp(MaxExpInput) > 0 {
		return nil, fmt.Errorf("exp(%s): %w", x, ErrDomain)
	}
	if x.Cmp(MinExpInput) < 0 {
		return new(big.Int), nil
	}
	k := DefaultKernel()
	r, err := k.Exp(SignedToFloat(x, k.Prec()))
	if err != nil {
		return nil, err
	}
	return SignedFromFloat(r)
}

// Ln returns the natural log of a positive signed WAD x.
func Ln(x *big.Int) (*big.Int, error) {
	if x.Sign() <= 0 {
		return nil, fmt.Errorf("ln(%s): %w", x, ErrDomain)
	}
	k := DefaultKernel()
	r, err := k.Ln(SignedToFloat(x, k.Prec()))
	if err != nil {
		return nil, err
	}
	return SignedFromFloat(r)
}

// NormalCDF returns Φ(x) as a WAD in [0, 1e18].
func NormalCDF(x *big.Int) (*big.Int, error) {
	k := DefaultKernel()
	return SignedFromFloat(k.NormalCDF(SignedToFloat(x, k.Prec())))
}

// NormalPDF returns φ(x) as a WAD.
func NormalPDF(x *big.Int) (*big.Int, error) {
	k := DefaultKernel()
	return SignedFromFloat(k.NormalPDF(SignedToFloat(x, k.Prec())))
}

// NormalQuantile returns Φ⁻¹(p) for p strictly between 0 and 1e18.
func NormalQuantile(p *big.Int) (*big.Int, error) {
	if p.Sign() <= 0 || p.Cmp(wadInt) >= 0 {
		return nil, fmt.Errorf("quantile(%s): %w", p, ErrDomain)
	}
	k := DefaultKernel()
	r, err := k.NormalQuantile(SignedToFloat(p, k.Prec()))
	if err != nil {
		return nil, err
	}
	return SignedFromFloat(r)
}
