package curve

import (
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"

	"claimCurve/internal/fixedpoint"
)

// Tolerance is the absolute bound, in WAD, that a post-trade residual must stay within.
var Tolerance = big.NewInt(100)

// WithinTolerance reports whether |residual| <= Tolerance.
func WithinTolerance(residual *big.Int) bool {
	return new(big.Int).Abs(residual).Cmp(Tolerance) <= 0
}

// WithinToleranceAt checks a residual annualized over tau. Below one year the
// annualization is undone first, so |residual|·tau <= Tolerance; a single wei of
// reserve rounding would otherwise be amplified by 1/tau near maturity.
func WithinToleranceAt(residual *big.Int, tau *uint256.Int) bool {
	if tau == nil || tau.IsZero() || !tau.Lt(fixedpoint.One()) {
		return WithinTolerance(residual)
	}
	scaled := new(big.Int).Abs(residual)
	scaled.Mul(scaled, tau.ToBig())
	scaled.Quo(scaled, fixedpoint.One().ToBig())
	return scaled.Cmp(Tolerance) <= 0
}

// Params are the per-evaluation curve parameters, all WAD.
type Params struct {
	Strike *uint256.Int
	Sigma  *uint256.Int
	Tau    *uint256.Int
}

func (p Params) String() string {
	return fmt.Sprintf("strike=%s sigma=%s tau=%s",
		fixedpoint.FormatWad(p.Strike), fixedpoint.FormatWad(p.Sigma), fixedpoint.FormatWad(p.Tau))
}

// Curve evaluates the covered-call trading function. Intermediates stay in
// extended precision; only results are quantized, in the direction noted per method.
type Curve struct {
	k    fixedpoint.Kernel
	work uint
}

// New builds a Curve over k. A nil kernel selects the shared default.
func New(k fixedpoint.Kernel) *Curve {
	if k == nil {
		k = fixedpoint.DefaultKernel()
	}
	return &Curve{k: k, work: k.Prec() + 64}
}

// Default returns a Curve over the shared kernel.
func Default() *Curve { return New(nil) }

func (c *Curve) float() *big.Float {
	return new(big.Float).SetPrec(c.work)
}

func (c *Curve) wad(x *uint256.Int) *big.Float {
	return fixedpoint.ToFloat(x, c.work)
}

func (c *Curve) one() *big.Float {
	return c.float().SetInt64(1)
}

// spread returns σ√τ.
func (c *Curve) spread(p Params) (*big.Float, error) {
	if p.Sigma == nil || p.Tau == nil || p.Strike == nil {
		return nil, fmt.Errorf("incomplete curve params: %w", fixedpoint.ErrDomain)
	}
	if p.Tau.IsZero() || p.Sigma.IsZero() {
		return c.float(), nil
	}
	root, err := c.k.Sqrt(c.wad(p.Tau))
	if err != nil {
		return nil, err
	}
	return c.float().Mul(c.wad(p.Sigma), root), nil
}

// moneyness returns a = Φ⁻¹(1 - x/L) for 0 < x < L, using the symmetry -Φ⁻¹(x/L)
// so that tiny fractions keep full relative precision.
func (c *Curve) moneyness(x, L *big.Float) (*big.Float, error) {
	u := c.float().Quo(x, L)
	q, err := c.k.NormalQuantile(u)
	if err != nil {
		return nil, err
	}
	return c.float().Neg(q), nil
}

// claimReserve returns K·L·Φ(Φ⁻¹(1-x/L) - s) for 0 <= x <= L.
func (c *Curve) claimReserve(x, L, K, s *big.Float) (*big.Float, error) {
	if x.Sign() < 0 || x.Cmp(L) > 0 {
		return nil, fmt.Errorf("asset reserve %s outside [0, %s]: %w", x.Text('g', 12), L.Text('g', 12), fixedpoint.ErrDomain)
	}
	KL := c.float().Mul(K, L)
	switch {
	case x.Sign() == 0:
		return KL, nil
	case x.Cmp(L) == 0:
		return c.float(), nil
	case s.Sign() == 0:
		rest := c.float().Sub(L, x)
		return rest.Mul(rest, K), nil
	}
	a, err := c.moneyness(x, L)
	if err != nil {
		return nil, err
	}
	w := c.float().Sub(a, s)
	return KL.Mul(KL, c.k.NormalCDF(w)), nil
}

// assetReserve returns L·(1 - Φ(Φ⁻¹(y/(K·L)) + s)) for 0 <= y <= K·L.
func (c *Curve) assetReserve(y, L, K, s *big.Float) (*big.Float, error) {
	KL := c.float().Mul(K, L)
	if y.Sign() < 0 || y.Cmp(KL) > 0 {
		return nil, fmt.Errorf("claim reserve %s outside [0, %s]: %w", y.Text('g', 12), KL.Text('g', 12), fixedpoint.ErrDomain)
	}
	switch {
	case y.Sign() == 0:
		return c.float().Set(L), nil
	case y.Cmp(KL) == 0:
		return c.float(), nil
	case s.Sign() == 0:
		q := c.float().Quo(y, K)
		return q.Sub(L, q), nil
	}
	v, err := c.k.NormalQuantile(c.float().Quo(y, KL))
	if err != nil {
		return nil, err
	}
	v = c.float().Add(v, s)
	// 1 - Φ(v) taken as Φ(-v) to avoid cancellation in the deep tail.
	tail := c.k.NormalCDF(c.float().Neg(v))
	return tail.Mul(tail, L), nil
}

// TradingFunction returns the residual of (x, y, L) against the curve:
// ln(y*/y)/τ where y* is the claim reserve the curve implies for x. At τ = 0
// the residual is left unscaled; with L = 0 it is zero.
func (c *Curve) TradingFunction(x, y, L *uint256.Int, p Params) (*big.Int, error) {
	if L.IsZero() {
		return new(big.Int), nil
	}
	if y.IsZero() {
		return nil, fmt.Errorf("trading function with empty claim reserve: %w", fixedpoint.ErrDomain)
	}
	s, err := c.spread(p)
	if err != nil {
		return nil, err
	}
	if x.IsZero() && s.Sign() != 0 {
		return nil, fmt.Errorf("trading function with empty asset reserve: %w", fixedpoint.ErrDomain)
	}
	ystar, err := c.claimReserve(c.wad(x), c.wad(L), c.wad(p.Strike), s)
	if err != nil {
		return nil, err
	}
	if ystar.Sign() == 0 {
		return nil, fmt.Errorf("asset reserve exhausts liquidity: %w", fixedpoint.ErrDomain)
	}
	r, err := c.k.Ln(ystar.Quo(ystar, c.wad(y)))
	if err != nil {
		return nil, err
	}
	r = c.float().Set(r)
	if !p.Tau.IsZero() {
		r.Quo(r, c.wad(p.Tau))
	}
	return fixedpoint.SignedFromFloat(r)
}

// SolveReserveClaim returns the claim reserve on the curve for asset reserve x, rounded up.
func (c *Curve) SolveReserveClaim(x, L *uint256.Int, p Params) (*uint256.Int, error) {
	if L.IsZero() {
		return nil, fmt.Errorf("solve claim reserve with zero liquidity: %w", fixedpoint.ErrDomain)
	}
	s, err := c.spread(p)
	if err != nil {
		return nil, err
	}
	y, err := c.claimReserve(c.wad(x), c.wad(L), c.wad(p.Strike), s)
	if err != nil {
		return nil, err
	}
	return fixedpoint.FromFloat(y, fixedpoint.RoundUp)
}

// SolveReserveAsset returns the asset reserve on the curve for claim reserve y, rounded up.
func (c *Curve) SolveReserveAsset(y, L *uint256.Int, p Params) (*uint256.Int, error) {
	if L.IsZero() {
		return nil, fmt.Errorf("solve asset reserve with zero liquidity: %w", fixedpoint.ErrDomain)
	}
	s, err := c.spread(p)
	if err != nil {
		return nil, err
	}
	x, err := c.assetReserve(c.wad(y), c.wad(L), c.wad(p.Strike), s)
	if err != nil {
		return nil, err
	}
	return fixedpoint.FromFloat(x, fixedpoint.RoundUp)
}

const (
	seedIterations   = 60
	newtonIterations = 200
)

// SolveLiquidity returns the L that places (x, y) on the curve, rounded down.
//
// With σ√τ = 0 the curve is linear and L = x + y/K. Otherwise y*/y = 1 is solved
// for u = x/L, where h(u) = ln Φ(-Φ⁻¹(u) - s) - ln u - ln(y/(K·x)) is strictly
// decreasing on (0, 1): a float64 bisection seeds a bracketed Newton iteration
// run at kernel precision.
func (c *Curve) SolveLiquidity(x, y *uint256.Int, p Params) (*uint256.Int, error) {
	if p.Strike == nil || p.Strike.IsZero() {
		return nil, fmt.Errorf("solve liquidity with zero strike: %w", fixedpoint.ErrDomain)
	}
	if x.IsZero() && y.IsZero() {
		return new(uint256.Int), nil
	}
	s, err := c.spread(p)
	if err != nil {
		return nil, err
	}
	xf, yf, K := c.wad(x), c.wad(y), c.wad(p.Strike)
	if s.Sign() == 0 || x.IsZero() {
		L := c.float().Quo(yf, K)
		L.Add(L, xf)
		return fixedpoint.FromFloat(L, fixedpoint.RoundDown)
	}
	if y.IsZero() {
		return fixedpoint.FromFloat(xf, fixedpoint.RoundDown)
	}

	target := c.float().Mul(K, xf)
	target.Quo(yf, target)
	lnTarget, err := c.k.Ln(target)
	if err != nil {
		return nil, err
	}
	s64, _ := s.Float64()
	t64, _ := lnTarget.Float64()

	u, err := c.newton(seedFraction(t64, s64), c.float().Set(lnTarget), s)
	if err != nil {
		return nil, err
	}
	return fixedpoint.FromFloat(c.float().Quo(xf, u), fixedpoint.RoundDown)
}

// seedFraction bisects h in float64. Infinite values still carry the right sign.
func seedFraction(lnTarget, s float64) float64 {
	lo, hi := 0.0, 1.0
	for i := 0; i < seedIterations; i++ {
		m := (lo + hi) / 2
		a := math.Sqrt2 * math.Erfcinv(2*m)
		w := a - s
		h := math.Log(0.5*math.Erfc(-w/math.Sqrt2)) - math.Log(m) - lnTarget
		if math.IsNaN(h) {
			break
		}
		if h > 0 {
			lo = m
		} else {
			hi = m
		}
	}
	return (lo + hi) / 2
}

func (c *Curve) newton(seed float64, lnTarget, s *big.Float) (*big.Float, error) {
	lo, hi := c.float(), c.one()
	u := c.float().SetFloat64(seed)
	half := c.float().SetFloat64(0.5)
	for i := 0; i < newtonIterations; i++ {
		if u.Sign() <= 0 || u.Cmp(hi) >= 0 {
			u = c.float().Add(lo, hi)
			u.Mul(u, half)
		}
		q, err := c.k.NormalQuantile(u)
		if err != nil {
			return nil, err
		}
		a := c.float().Neg(q)
		w := c.float().Sub(a, s)
		cdf := c.k.NormalCDF(w)
		if cdf.Sign() == 0 {
			// Φ underflowed: u sits far too high.
			hi.Set(u)
			u = c.float().Add(lo, hi)
			u.Mul(u, half)
			continue
		}
		lnCdf, err := c.k.Ln(cdf)
		if err != nil {
			return nil, err
		}
		lnU, err := c.k.Ln(u)
		if err != nil {
			return nil, err
		}
		h := c.float().Sub(lnCdf, lnU)
		h.Sub(h, lnTarget)
		if h.Sign() == 0 {
			return u, nil
		}
		if h.Sign() > 0 {
			lo.Set(u)
		} else {
			hi.Set(u)
		}

		// h'(u) = -φ(w)/(Φ(w)·φ(a)) - 1/u
		dh := c.float().Quo(c.k.NormalPDF(w), cdf)
		dh.Quo(dh, c.k.NormalPDF(a))
		dh.Add(dh, c.float().Quo(c.one(), u))
		dh.Neg(dh)

		next := c.float().Quo(h, dh)
		next.Sub(u, next)
		if next.Cmp(lo) <= 0 || next.Cmp(hi) >= 0 || next.IsInf() {
			next = c.float().Add(lo, hi)
			next.Mul(next, half)
		}
		step := c.float().Sub(next, u)
		u = next
		if step.Sign() == 0 || step.MantExp(nil) < u.MantExp(nil)-int(c.k.Prec()) {
			return u, nil
		}
	}
	return u, nil
}
