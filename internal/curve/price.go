package curve

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"claimCurve/internal/fixedpoint"
)

// spotPrice returns K·exp(a·s - s²/2), the marginal claim per asset at (x, L).
func (c *Curve) spotPrice(x, L, K, s *big.Float) (*big.Float, error) {
	if s.Sign() == 0 {
		return c.float().Set(K), nil
	}
	if x.Sign() <= 0 || x.Cmp(L) >= 0 {
		return nil, fmt.Errorf("spot price needs 0 < x < L: %w", fixedpoint.ErrDomain)
	}
	a, err := c.moneyness(x, L)
	if err != nil {
		return nil, err
	}
	e, err := c.k.Exp(c.drift(a, s))
	if err != nil {
		return nil, err
	}
	return c.float().Mul(K, e), nil
}

// drift returns a·s - s²/2.
func (c *Curve) drift(a, s *big.Float) *big.Float {
	d := c.float().Mul(a, s)
	sq := c.float().Mul(s, s)
	sq.Quo(sq, c.float().SetInt64(2))
	return d.Sub(d, sq)
}

// SpotPrice returns the marginal price of one asset in claims, rounded down.
func (c *Curve) SpotPrice(x, L *uint256.Int, p Params) (*uint256.Int, error) {
	s, err := c.spread(p)
	if err != nil {
		return nil, err
	}
	price, err := c.spotPrice(c.wad(x), c.wad(L), c.wad(p.Strike), s)
	if err != nil {
		return nil, err
	}
	return fixedpoint.FromFloat(price, fixedpoint.RoundDown)
}

// ImpliedRate returns ln(P)/τ for the spot price P at (x, L). τ must be positive.
func (c *Curve) ImpliedRate(x, L *uint256.Int, p Params) (*big.Int, error) {
	if p.Tau == nil || p.Tau.IsZero() {
		return nil, fmt.Errorf("implied rate at maturity: %w", fixedpoint.ErrDomain)
	}
	s, err := c.spread(p)
	if err != nil {
		return nil, err
	}
	price, err := c.spotPrice(c.wad(x), c.wad(L), c.wad(p.Strike), s)
	if err != nil {
		return nil, err
	}
	lnP, err := c.k.Ln(price)
	if err != nil {
		return nil, err
	}
	r := c.float().Quo(lnP, c.wad(p.Tau))
	return fixedpoint.SignedFromFloat(r)
}

// StrikeFromImpliedRate returns the strike that keeps the spot price at
// exp(rate·τ) for the given reserves: K = exp(rate·τ - a·s + s²/2). At τ = 0 the
// strike is 1.
func (c *Curve) StrikeFromImpliedRate(x, L, sigma, tau *uint256.Int, rate *big.Int) (*uint256.Int, error) {
	if tau.IsZero() {
		return fixedpoint.One(), nil
	}
	p := Params{Strike: fixedpoint.One(), Sigma: sigma, Tau: tau}
	s, err := c.spread(p)
	if err != nil {
		return nil, err
	}
	exponent := fixedpoint.SignedToFloat(rate, c.work)
	exponent.Mul(exponent, c.wad(tau))
	if s.Sign() != 0 {
		xf, Lf := c.wad(x), c.wad(L)
		if xf.Sign() <= 0 || xf.Cmp(Lf) >= 0 {
			return nil, fmt.Errorf("strike from rate needs 0 < x < L: %w", fixedpoint.ErrDomain)
		}
		a, err := c.moneyness(xf, Lf)
		if err != nil {
			return nil, err
		}
		exponent.Sub(exponent, c.drift(a, s))
	}
	K, err := c.k.Exp(exponent)
	if err != nil {
		return nil, err
	}
	return fixedpoint.FromFloat(K, fixedpoint.RoundDown)
}

// LiquidityForPrice returns the liquidity that puts asset reserve x at spot price
// price: L = x/(1 - Φ(d1)) with d1 = (ln(price/K) + s²/2)/s. Rounded up.
func (c *Curve) LiquidityForPrice(x, price *uint256.Int, p Params) (*uint256.Int, error) {
	if price.IsZero() || x.IsZero() {
		return nil, fmt.Errorf("liquidity for price needs positive reserve and price: %w", fixedpoint.ErrDomain)
	}
	s, err := c.spread(p)
	if err != nil {
		return nil, err
	}
	if s.Sign() == 0 {
		return nil, fmt.Errorf("liquidity for price with zero volatility spread: %w", fixedpoint.ErrDomain)
	}
	ratio := c.float().Quo(c.wad(price), c.wad(p.Strike))
	lnRatio, err := c.k.Ln(ratio)
	if err != nil {
		return nil, err
	}
	d1 := c.float().Mul(s, s)
	d1.Quo(d1, c.float().SetInt64(2))
	d1.Add(d1, lnRatio)
	d1.Quo(d1, s)
	tail := c.k.NormalCDF(c.float().Neg(d1))
	if tail.Sign() == 0 {
		return nil, fmt.Errorf("price %s too far above strike: %w", fixedpoint.FormatWad(price), fixedpoint.ErrDomain)
	}
	return fixedpoint.FromFloat(c.float().Quo(c.wad(x), tail), fixedpoint.RoundUp)
}

// MaxClaimIn is the largest claim input the curve can absorb: floor(K·L) - y - 1.
func (c *Curve) MaxClaimIn(y, L *uint256.Int, p Params) (*uint256.Int, error) {
	KL, err := fixedpoint.MulDown(p.Strike, L)
	if err != nil {
		return nil, err
	}
	limit := new(uint256.Int).AddUint64(y, 1)
	if !KL.Gt(limit) {
		return new(uint256.Int), nil
	}
	return KL.Sub(KL, limit), nil
}
