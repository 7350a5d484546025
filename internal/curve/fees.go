package curve

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"claimCurve/internal/fixedpoint"
)

// Reserves is a curve state in asset units.
type Reserves struct {
	Asset     *uint256.Int
	Claim     *uint256.Int
	Liquidity *uint256.Int
}

// feeState holds the extended-precision quantities shared by the fee formulas.
type feeState struct {
	x, y, L, K, s *big.Float
	price         *big.Float
	value         *big.Float
}

func (c *Curve) feeState(r Reserves, p Params) (*feeState, error) {
	if r.Liquidity == nil || r.Liquidity.IsZero() {
		return nil, fmt.Errorf("fee growth with zero liquidity: %w", fixedpoint.ErrDomain)
	}
	s, err := c.spread(p)
	if err != nil {
		return nil, err
	}
	st := &feeState{
		x: c.wad(r.Asset),
		y: c.wad(r.Claim),
		L: c.wad(r.Liquidity),
		K: c.wad(p.Strike),
		s: s,
	}
	st.price, err = c.spotPrice(st.x, st.L, st.K, s)
	if err != nil {
		return nil, err
	}
	st.value = c.float().Mul(st.price, st.x)
	st.value.Add(st.value, st.y)
	if st.value.Sign() == 0 {
		return nil, fmt.Errorf("fee growth on empty pool: %w", fixedpoint.ErrDomain)
	}
	return st, nil
}

func checkFee(fee *uint256.Int) error {
	if fee.Cmp(fixedpoint.One()) >= 0 {
		return fmt.Errorf("swap fee %s not below 1: %w", fixedpoint.FormatWad(fee), fixedpoint.ErrDomain)
	}
	return nil
}

// growth returns weight·L·f/V, rounded down.
func (c *Curve) growth(st *feeState, weight, f *big.Float) (*uint256.Int, error) {
	d := c.float().Mul(st.L, f)
	if weight != nil {
		d.Mul(d, weight)
	}
	d.Quo(d, st.value)
	return fixedpoint.FromFloat(d, fixedpoint.RoundDown)
}

// DeltaLiquidityAssetIn returns the liquidity growth from the fee on an asset input:
// P·L·f/V with f = amountIn·fee rounded up.
func (c *Curve) DeltaLiquidityAssetIn(amountIn *uint256.Int, r Reserves, fee *uint256.Int, p Params) (*uint256.Int, error) {
	if err := checkFee(fee); err != nil {
		return nil, err
	}
	st, err := c.feeState(r, p)
	if err != nil {
		return nil, err
	}
	f, err := fixedpoint.MulUp(amountIn, fee)
	if err != nil {
		return nil, err
	}
	return c.growth(st, st.price, c.wad(f))
}

// DeltaLiquidityClaimIn returns the liquidity growth from the fee on a claim input: L·f/V.
func (c *Curve) DeltaLiquidityClaimIn(amountIn *uint256.Int, r Reserves, fee *uint256.Int, p Params) (*uint256.Int, error) {
	if err := checkFee(fee); err != nil {
		return nil, err
	}
	st, err := c.feeState(r, p)
	if err != nil {
		return nil, err
	}
	f, err := fixedpoint.MulUp(amountIn, fee)
	if err != nil {
		return nil, err
	}
	return c.growth(st, nil, c.wad(f))
}

// grossFee returns (gross - net) for gross = net/(1 - fee), clamping a negative net to zero.
func (c *Curve) grossFee(net *big.Float, fee *uint256.Int) *big.Float {
	if net.Sign() <= 0 {
		return c.float()
	}
	keep := c.float().Sub(c.one(), c.wad(fee))
	gross := c.float().Quo(net, keep)
	return gross.Sub(gross, net)
}

// DeltaLiquidityClaimOut returns the liquidity growth for a swap that must deliver
// exactly amountOut claims. The fee-free asset input a0 is solved on the current
// curve and the fee is charged on a0/(1 - fee).
func (c *Curve) DeltaLiquidityClaimOut(amountOut *uint256.Int, r Reserves, fee *uint256.Int, p Params) (*uint256.Int, error) {
	if err := checkFee(fee); err != nil {
		return nil, err
	}
	if amountOut.Cmp(r.Claim) >= 0 {
		return nil, fmt.Errorf("claim out %s exceeds reserve %s: %w", amountOut.Dec(), r.Claim.Dec(), fixedpoint.ErrDomain)
	}
	st, err := c.feeState(r, p)
	if err != nil {
		return nil, err
	}
	yNext := c.float().Sub(st.y, c.wad(amountOut))
	xNext, err := c.assetReserve(yNext, st.L, st.K, st.s)
	if err != nil {
		return nil, err
	}
	f := c.grossFee(xNext.Sub(xNext, st.x), fee)
	return c.growth(st, st.price, f)
}

// DeltaLiquidityAssetOut mirrors DeltaLiquidityClaimOut for an exact asset output;
// the fee is in claim units.
func (c *Curve) DeltaLiquidityAssetOut(amountOut *uint256.Int, r Reserves, fee *uint256.Int, p Params) (*uint256.Int, error) {
	if err := checkFee(fee); err != nil {
		return nil, err
	}
	if amountOut.Cmp(r.Asset) >= 0 {
		return nil, fmt.Errorf("asset out %s exceeds reserve %s: %w", amountOut.Dec(), r.Asset.Dec(), fixedpoint.ErrDomain)
	}
	st, err := c.feeState(r, p)
	if err != nil {
		return nil, err
	}
	xNext := c.float().Sub(st.x, c.wad(amountOut))
	yNext, err := c.claimReserve(xNext, st.L, st.K, st.s)
	if err != nil {
		return nil, err
	}
	f := c.grossFee(yNext.Sub(yNext, st.y), fee)
	return c.growth(st, nil, f)
}

// GrossInput returns net/(1 - fee) rounded up: the input whose post-fee part is net.
func GrossInput(net, fee *uint256.Int) (*uint256.Int, error) {
	if err := checkFee(fee); err != nil {
		return nil, err
	}
	return fixedpoint.DivUp(net, new(uint256.Int).Sub(fixedpoint.One(), fee))
}
