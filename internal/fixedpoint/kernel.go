package fixedpoint

import (
	"fmt"
	"math"
	"math/big"
	"sync"
)

// DefaultPrec is the mantissa precision, in bits, of the shared kernel.
const DefaultPrec uint = 256

// Kernel evaluates the transcendental functions the curve is composed of.
// Inputs and outputs are extended-precision floats so that a chain of calls
// loses no WAD digits; callers quantize once at the end.
type Kernel interface {
	Prec() uint
	Exp(x *big.Float) (*big.Float, error)
	Ln(x *big.Float) (*big.Float, error)
	Sqrt(x *big.Float) (*big.Float, error)
	NormalPDF(z *big.Float) *big.Float
	NormalCDF(z *big.Float) *big.Float
	NormalQuantile(p *big.Float) (*big.Float, error)
}

const (
	// Beyond this magnitude the tail of Φ is taken from the Mills-ratio continued fraction.
	cdfSeriesLimit = 6
	millsTerms     = 320
	maxExpShift    = 1 << 30
	maxIterations  = 1000
)

type precise struct {
	prec uint
	work uint

	ln2      *big.Float
	sqrt2pi  *big.Float
	half     *big.Float
	one      *big.Float
	two      *big.Float
	invSqrt2 *big.Float
	limit    *big.Float
}

var (
	defaultKernel     Kernel
	defaultKernelOnce sync.Once
)

// DefaultKernel returns the shared 256-bit kernel. It is immutable and safe for concurrent use.
func DefaultKernel() Kernel {
	defaultKernelOnce.Do(func() {
		defaultKernel = NewKernel(DefaultPrec)
	})
	return defaultKernel
}

// NewKernel builds a kernel with a prec-bit mantissa. Internal sums carry 64 guard bits.
func NewKernel(prec uint) Kernel {
	if prec < 64 {
		prec = 64
	}
	k := &precise{prec: prec, work: prec + 64}
	k.half = k.float().SetFloat64(0.5)
	k.one = k.float().SetInt64(1)
	k.two = k.float().SetInt64(2)
	k.invSqrt2 = k.float().SetFloat64(math.Sqrt2 / 2)
	k.limit = k.float().SetInt64(cdfSeriesLimit)

	third := k.float().Quo(k.one, k.float().SetInt64(3))
	k.ln2 = k.atanh(third)
	k.ln2.Mul(k.ln2, k.two)

	pi := k.float().Mul(k.float().SetInt64(16), k.atanInv(5))
	pi.Sub(pi, k.float().Mul(k.float().SetInt64(4), k.atanInv(239)))
	k.sqrt2pi = k.float().Sqrt(k.float().Mul(pi, k.two))
	return k
}

func (k *precise) Prec() uint { return k.prec }

func (k *precise) float() *big.Float {
	return new(big.Float).SetPrec(k.work)
}

func (k *precise) out(f *big.Float) *big.Float {
	return new(big.Float).SetPrec(k.prec).Set(f)
}

// negligible reports whether term no longer moves sum at the working precision.
func (k *precise) negligible(term, sum *big.Float) bool {
	if term.Sign() == 0 {
		return true
	}
	if sum.Sign() == 0 {
		return false
	}
	return term.MantExp(nil) < sum.MantExp(nil)-int(k.work)
}

// atanh sums t + t^3/3 + t^5/5 + ... for |t| < 1.
func (k *precise) atanh(t *big.Float) *big.Float {
	t2 := k.float().Mul(t, t)
	sum := k.float().Set(t)
	pow := k.float().Set(t)
	for n := int64(3); n < maxIterations; n += 2 {
		pow.Mul(pow, t2)
		term := k.float().Quo(pow, k.float().SetInt64(n))
		sum.Add(sum, term)
		if k.negligible(term, sum) {
			break
		}
	}
	return sum
}

// atanInv returns atan(1/n).
func (k *precise) atanInv(n int64) *big.Float {
	x := k.float().Quo(k.one, k.float().SetInt64(n))
	x2 := k.float().Mul(x, x)
	sum := k.float().Set(x)
	pow := k.float().Set(x)
	for i := int64(1); i < maxIterations; i++ {
		pow.Mul(pow, x2)
		term := k.float().Quo(pow, k.float().SetInt64(2*i+1))
		if i%2 == 1 {
			sum.Sub(sum, term)
		} else {
			sum.Add(sum, term)
		}
		if k.negligible(term, sum) {
			break
		}
	}
	return sum
}

// Exp reduces x = n*ln2 + r with |r| <= ln2/2 and sums the Taylor series of e^r.
func (k *precise) Exp(x *big.Float) (*big.Float, error) {
	if x.IsInf() {
		return nil, fmt.Errorf("exp of infinity: %w", ErrDomain)
	}
	if x.Sign() == 0 {
		return k.out(k.one), nil
	}
	q, _ := k.float().Quo(x, k.ln2).Float64()
	if q > maxExpShift {
		return nil, fmt.Errorf("exp %s: %w", x.Text('g', 10), ErrOverflow)
	}
	if q < -maxExpShift {
		return new(big.Float).SetPrec(k.prec), nil
	}
	n := math.Round(q)
	r := k.float().Mul(k.float().SetInt64(int64(n)), k.ln2)
	r.Sub(x, r)

	sum := k.float().Set(k.one)
	term := k.float().Set(k.one)
	for i := int64(1); i < maxIterations; i++ {
		term.Mul(term, r)
		term.Quo(term, k.float().SetInt64(i))
		sum.Add(sum, term)
		if k.negligible(term, sum) {
			break
		}
	}
	return k.out(sum.SetMantExp(sum, int(n))), nil
}

// Ln splits x = m*2^e with m in [1/sqrt2, sqrt2) and uses ln m = 2*atanh((m-1)/(m+1)).
func (k *precise) Ln(x *big.Float) (*big.Float, error) {
	if x.Sign() <= 0 || x.IsInf() {
		return nil, fmt.Errorf("ln %s: %w", x.Text('g', 10), ErrDomain)
	}
	m := k.float()
	e := x.MantExp(m)
	if m.Cmp(k.invSqrt2) < 0 {
		m.SetMantExp(m, 1)
		e--
	}
	num := k.float().Sub(m, k.one)
	den := k.float().Add(m, k.one)
	res := k.atanh(num.Quo(num, den))
	res.Mul(res, k.two)
	res.Add(res, k.float().Mul(k.float().SetInt64(int64(e)), k.ln2))
	return k.out(res), nil
}

func (k *precise) Sqrt(x *big.Float) (*big.Float, error) {
	if x.Sign() < 0 {
		return nil, fmt.Errorf("sqrt %s: %w", x.Text('g', 10), ErrDomain)
	}
	if x.Sign() == 0 {
		return new(big.Float).SetPrec(k.prec), nil
	}
	return k.out(k.float().Sqrt(x)), nil
}

// NormalPDF returns exp(-z^2/2)/sqrt(2*pi).
func (k *precise) NormalPDF(z *big.Float) *big.Float {
	return k.out(k.pdf(z))
}

func (k *precise) pdf(z *big.Float) *big.Float {
	e := k.float().Mul(z, z)
	e.Quo(e, k.two).Neg(e)
	v, err := k.Exp(e)
	if err != nil {
		return k.float()
	}
	res := k.float().Set(v)
	return res.Quo(res, k.sqrt2pi)
}

// NormalCDF returns Φ(z). Small |z| uses the series 1/2 + φ(z)·Σ z^(2n+1)/(2n+1)!!;
// the tails use φ(|z|)·R(|z|) with R the Mills ratio as a continued fraction.
func (k *precise) NormalCDF(z *big.Float) *big.Float {
	return k.out(k.cdf(z))
}

func (k *precise) cdf(z *big.Float) *big.Float {
	if z.Sign() == 0 {
		return k.float().Set(k.half)
	}
	abs := k.float().Abs(z)
	if abs.Cmp(k.limit) > 0 {
		tail := k.pdf(abs)
		tail.Mul(tail, k.mills(abs))
		if z.Sign() < 0 {
			return tail
		}
		return tail.Sub(k.one, tail)
	}

	z2 := k.float().Mul(z, z)
	sum := k.float().Set(z)
	term := k.float().Set(z)
	for n := int64(1); n < maxIterations; n++ {
		term.Mul(term, z2)
		term.Quo(term, k.float().SetInt64(2*n+1))
		sum.Add(sum, term)
		if k.negligible(term, sum) {
			break
		}
	}
	res := k.pdf(z)
	res.Mul(res, sum)
	return res.Add(res, k.half)
}

// mills evaluates 1/(x+1/(x+2/(x+3/(x+...)))) bottom-up; x must be positive.
func (k *precise) mills(x *big.Float) *big.Float {
	f := k.float().Set(x)
	for n := int64(millsTerms); n >= 1; n-- {
		f.Quo(k.float().SetInt64(n), f)
		f.Add(f, x)
	}
	return f.Quo(k.one, f)
}

// NormalQuantile returns Φ⁻¹(p) for p in the open interval (0, 1). A float64 seed
// from erfcinv is refined with Halley steps against the extended-precision Φ.
func (k *precise) NormalQuantile(p *big.Float) (*big.Float, error) {
	if p.Sign() <= 0 || p.Cmp(k.one) >= 0 {
		return nil, fmt.Errorf("quantile %s: %w", p.Text('g', 10), ErrDomain)
	}
	side := p.Cmp(k.half)
	if side == 0 {
		return new(big.Float).SetPrec(k.prec), nil
	}
	q := k.float().Set(p)
	if side > 0 {
		q.Sub(k.one, p)
	}

	q64, _ := q.Float64()
	seed := -math.Sqrt2 * math.Erfcinv(2*q64)
	if q64 < 1e-300 || math.IsInf(seed, 0) || math.IsNaN(seed) {
		lnq, err := k.Ln(q)
		if err != nil {
			return nil, err
		}
		l64, _ := lnq.Float64()
		seed = -math.Sqrt(-2 * l64)
	}

	z := k.float().SetFloat64(seed)
	for i := 0; i < 64; i++ {
		density := k.pdf(z)
		if density.Sign() == 0 {
			break
		}
		e := k.cdf(z)
		e.Sub(e, q)
		e.Quo(e, density)
		den := k.float().Mul(z, e)
		den.Quo(den, k.two)
		den.Add(den, k.one)
		step := e.Quo(e, den)
		z.Sub(z, step)
		if step.Sign() == 0 || step.MantExp(nil) < -int(k.prec) || k.negligible(step, z) {
			break
		}
	}
	if side > 0 {
		z.Neg(z)
	}
	return k.out(z), nil
}
