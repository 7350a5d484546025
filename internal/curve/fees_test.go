package curve

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"claimCurve/internal/fixedpoint"
)

func TestFeeDeltasNonNegative(t *testing.T) {
	c := Default()
	rapid.Check(t, func(t *rapid.T) {
		x, L, p := curveState(t)
		y, err := c.SolveReserveClaim(x, L, p)
		require.NoError(t, err)
		r := Reserves{Asset: x, Claim: y, Liquidity: L}

		fee := uint256.NewInt(rapid.Uint64Range(1, 1e17).Draw(t, "fee"))
		// Trades of up to a tenth of the smaller reserve.
		share := uint256.NewInt(rapid.Uint64Range(1e9, 1e17).Draw(t, "share"))
		amount, err := fixedpoint.MulDown(fixedpoint.Min(x, y), share)
		require.NoError(t, err)
		amount.AddUint64(amount, 1)

		for name, fn := range map[string]func(*uint256.Int, Reserves, *uint256.Int, Params) (*uint256.Int, error){
			"asset in":  c.DeltaLiquidityAssetIn,
			"claim in":  c.DeltaLiquidityClaimIn,
			"claim out": c.DeltaLiquidityClaimOut,
			"asset out": c.DeltaLiquidityAssetOut,
		} {
			d, err := fn(amount, r, fee, p)
			require.NoError(t, err, name)
			require.False(t, d.Sign() < 0, name)
		}
	})
}

func TestFeeDeltaValues(t *testing.T) {
	c := Default()
	p := Params{Strike: wad(t, "1.5"), Sigma: wad(t, "0.5"), Tau: wad(t, "0.5")}
	x, L := wad(t, "500"), wad(t, "1000")
	y, err := c.SolveReserveClaim(x, L, p)
	require.NoError(t, err)
	r := Reserves{Asset: x, Claim: y, Liquidity: L}
	fee := wad(t, "0.003")

	price, err := c.SpotPrice(x, L, p)
	require.NoError(t, err)
	value := asFloat(price)*500 + asFloat(y)

	in, err := c.DeltaLiquidityClaimIn(wad(t, "10"), r, fee, p)
	require.NoError(t, err)
	require.InEpsilon(t, 1000*0.03/value, asFloat(in), 1e-12)

	assetIn, err := c.DeltaLiquidityAssetIn(wad(t, "10"), r, fee, p)
	require.NoError(t, err)
	require.InEpsilon(t, asFloat(price)*1000*0.03/value, asFloat(assetIn), 1e-12)

	// An exact claim output costs more asset than the claim-in fee base, so it
	// grows liquidity at least as much as a fee on the fee-free input would.
	out, err := c.DeltaLiquidityClaimOut(wad(t, "10"), r, fee, p)
	require.NoError(t, err)
	require.Positive(t, out.Sign())

	zero, err := c.DeltaLiquidityClaimIn(wad(t, "10"), r, new(uint256.Int), p)
	require.NoError(t, err)
	require.True(t, zero.IsZero())

	_, err = c.DeltaLiquidityAssetIn(wad(t, "10"), r, fixedpoint.One(), p)
	require.ErrorIs(t, err, fixedpoint.ErrDomain)
	_, err = c.DeltaLiquidityClaimOut(y, r, fee, p)
	require.ErrorIs(t, err, fixedpoint.ErrDomain)
	_, err = c.DeltaLiquidityAssetOut(x, r, fee, p)
	require.ErrorIs(t, err, fixedpoint.ErrDomain)
}

func TestGrossInput(t *testing.T) {
	got, err := GrossInput(wad(t, "997"), wad(t, "0.003"))
	require.NoError(t, err)
	require.Equal(t, wad(t, "1000").Dec(), got.Dec())

	_, err = GrossInput(wad(t, "1"), fixedpoint.One())
	require.ErrorIs(t, err, fixedpoint.ErrDomain)
}
