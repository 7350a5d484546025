package curve

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"claimCurve/internal/fixedpoint"
)

func wad(t require.TestingT, s string) *uint256.Int {
	v, err := fixedpoint.ParseWad(s)
	require.NoError(t, err)
	return v
}

func asFloat(x *uint256.Int) float64 {
	f, _ := fixedpoint.ToFloat(x, 64).Float64()
	return f
}

// curveState draws a state well inside the curve's domain: at least 1000 units of
// liquidity, a reserve fraction in [0.05, 0.9] and a volatility spread up to ~1.1.
func curveState(t *rapid.T) (x, L *uint256.Int, p Params) {
	units := rapid.Uint64Range(1_000, 1_000_000_000).Draw(t, "units")
	dust := rapid.Uint64Range(0, 1e18-1).Draw(t, "dust")
	L = new(uint256.Int).Add(fixedpoint.FromUint64(units), uint256.NewInt(dust))

	frac := uint256.NewInt(rapid.Uint64Range(5e16, 9e17).Draw(t, "frac"))
	x, err := fixedpoint.MulDown(L, frac)
	require.NoError(t, err)

	p = Params{
		Strike: uint256.NewInt(rapid.Uint64Range(1e18, 3e18).Draw(t, "strike")),
		Sigma:  uint256.NewInt(rapid.Uint64Range(5e16, 8e17).Draw(t, "sigma")),
		Tau:    uint256.NewInt(rapid.Uint64Range(1e17, 2e18).Draw(t, "tau")),
	}
	return x, L, p
}

func TestSolverRoundTrip(t *testing.T) {
	c := Default()
	rapid.Check(t, func(t *rapid.T) {
		x, L, p := curveState(t)

		y, err := c.SolveReserveClaim(x, L, p)
		require.NoError(t, err)
		r, err := c.TradingFunction(x, y, L, p)
		require.NoError(t, err)
		require.True(t, WithinTolerance(r), "claim leg residual %s (%s)", r, p)

		solved, err := c.SolveLiquidity(x, y, p)
		require.NoError(t, err)
		r, err = c.TradingFunction(x, y, solved, p)
		require.NoError(t, err)
		require.True(t, WithinTolerance(r), "liquidity residual %s (%s)", r, p)
		require.InEpsilon(t, asFloat(L), asFloat(solved), 1e-12)

		xBack, err := c.SolveReserveAsset(y, L, p)
		require.NoError(t, err)
		r, err = c.TradingFunction(xBack, y, L, p)
		require.NoError(t, err)
		require.True(t, WithinTolerance(r), "asset leg residual %s (%s)", r, p)
	})
}

func TestSolverRoundTripNearMaturity(t *testing.T) {
	c := Default()
	cases := []struct {
		seconds uint64
		units   uint64
	}{
		{86400, 1},
		{3600, 10},
		{60, 1000},
		{5, 1},
	}
	for _, tc := range cases {
		L := fixedpoint.FromUint64(tc.units)
		x := new(uint256.Int).Rsh(L, 1)
		p := Params{Strike: wad(t, "1.01"), Sigma: wad(t, "0.5"), Tau: YearsFromSeconds(tc.seconds)}

		y, err := c.SolveReserveClaim(x, L, p)
		require.NoError(t, err)
		r, err := c.TradingFunction(x, y, L, p)
		require.NoError(t, err)
		require.True(t, WithinToleranceAt(r, p.Tau), "%ds L=%d: residual %s", tc.seconds, tc.units, r)

		xBack, err := c.SolveReserveAsset(y, L, p)
		require.NoError(t, err)
		r, err = c.TradingFunction(xBack, y, L, p)
		require.NoError(t, err)
		require.True(t, WithinToleranceAt(r, p.Tau), "%ds L=%d: asset leg residual %s", tc.seconds, tc.units, r)
	}

	rapid.Check(t, func(t *rapid.T) {
		x, L, p := curveState(t)
		p.Tau = YearsFromSeconds(rapid.Uint64Range(1, 7*86400).Draw(t, "seconds"))

		y, err := c.SolveReserveClaim(x, L, p)
		require.NoError(t, err)
		r, err := c.TradingFunction(x, y, L, p)
		require.NoError(t, err)
		require.True(t, WithinToleranceAt(r, p.Tau), "residual %s (%s)", r, p)
	})
}

func TestWithinToleranceAt(t *testing.T) {
	r := big.NewInt(1000)
	require.False(t, WithinToleranceAt(r, fixedpoint.One()))
	require.False(t, WithinToleranceAt(r, new(uint256.Int)))
	require.True(t, WithinToleranceAt(r, wad(t, "0.1")))
	require.False(t, WithinToleranceAt(r, wad(t, "0.2")))
	require.True(t, WithinToleranceAt(big.NewInt(-1000), wad(t, "0.1")))
}

func TestSolversAtMaturity(t *testing.T) {
	c := Default()
	p := Params{Strike: fixedpoint.One(), Sigma: wad(t, "0.5"), Tau: new(uint256.Int)}

	x, y := wad(t, "400"), wad(t, "600")
	L, err := c.SolveLiquidity(x, y, p)
	require.NoError(t, err)
	require.Equal(t, wad(t, "1000").Dec(), L.Dec())

	got, err := c.SolveReserveClaim(x, L, p)
	require.NoError(t, err)
	require.Equal(t, y.Dec(), got.Dec())

	r, err := c.TradingFunction(x, y, L, p)
	require.NoError(t, err)
	require.Zero(t, r.Sign())

	price, err := c.SpotPrice(x, L, p)
	require.NoError(t, err)
	require.Equal(t, fixedpoint.One().Dec(), price.Dec())
}

func TestTradingFunctionEdges(t *testing.T) {
	c := Default()
	p := Params{Strike: wad(t, "1.5"), Sigma: wad(t, "0.5"), Tau: fixedpoint.One()}

	r, err := c.TradingFunction(wad(t, "5"), wad(t, "5"), new(uint256.Int), p)
	require.NoError(t, err)
	require.Zero(t, r.Sign(), "uninitialized pool short-circuits")

	_, err = c.TradingFunction(wad(t, "10"), wad(t, "5"), wad(t, "10"), p)
	require.ErrorIs(t, err, fixedpoint.ErrDomain)
	_, err = c.TradingFunction(wad(t, "11"), wad(t, "5"), wad(t, "10"), p)
	require.ErrorIs(t, err, fixedpoint.ErrDomain)
	_, err = c.TradingFunction(new(uint256.Int), wad(t, "5"), wad(t, "10"), p)
	require.ErrorIs(t, err, fixedpoint.ErrDomain)
	_, err = c.TradingFunction(wad(t, "5"), new(uint256.Int), wad(t, "10"), p)
	require.ErrorIs(t, err, fixedpoint.ErrDomain)

	// More claims than the curve wants gives a negative residual.
	x, L := wad(t, "500"), wad(t, "1000")
	y, err := c.SolveReserveClaim(x, L, p)
	require.NoError(t, err)
	rich := new(uint256.Int).Add(y, fixedpoint.One())
	r, err = c.TradingFunction(x, rich, L, p)
	require.NoError(t, err)
	require.Negative(t, r.Sign())
}

func TestLiquidityForPriceScenario(t *testing.T) {
	c := Default()
	p := Params{Strike: wad(t, "1.5"), Sigma: wad(t, "0.5"), Tau: fixedpoint.One()}
	x := wad(t, "1000")

	L, err := c.LiquidityForPrice(x, fixedpoint.One(), p)
	require.NoError(t, err)
	require.InDelta(t, 1403.3562348624248, asFloat(L), 1e-9)

	y, err := c.SolveReserveClaim(x, L, p)
	require.NoError(t, err)
	require.InDelta(t, 303.88446004733413, asFloat(y), 1e-9)

	price, err := c.SpotPrice(x, L, p)
	require.NoError(t, err)
	require.InDelta(t, 1.0, asFloat(price), 1e-15)

	r, err := c.TradingFunction(x, y, L, p)
	require.NoError(t, err)
	require.True(t, WithinTolerance(r), "residual %s", r)

	again, err := c.LiquidityForPrice(x, fixedpoint.One(), p)
	require.NoError(t, err)
	require.Equal(t, L.Dec(), again.Dec())
}

func TestStrikeFromImpliedRateRecoversStrike(t *testing.T) {
	c := Default()
	rapid.Check(t, func(t *rapid.T) {
		x, L, p := curveState(t)

		rate, err := c.ImpliedRate(x, L, p)
		require.NoError(t, err)
		K, err := c.StrikeFromImpliedRate(x, L, p.Sigma, p.Tau, rate)
		require.NoError(t, err)

		// The rate is truncated to a wei, so the strike moves by at most ~τ·K wei.
		diff := new(big.Int).Sub(K.ToBig(), p.Strike.ToBig())
		require.LessOrEqual(t, diff.CmpAbs(big.NewInt(10)), 0, "strike %s vs %s", K.Dec(), p.Strike.Dec())
	})

	K, err := c.StrikeFromImpliedRate(wad(t, "1"), wad(t, "2"), wad(t, "0.5"), new(uint256.Int), big.NewInt(5e16))
	require.NoError(t, err)
	require.Equal(t, fixedpoint.One().Dec(), K.Dec())

	_, err = c.ImpliedRate(wad(t, "1"), wad(t, "2"), Params{Strike: fixedpoint.One(), Sigma: wad(t, "0.5"), Tau: new(uint256.Int)})
	require.ErrorIs(t, err, fixedpoint.ErrDomain)
}

func TestMaxClaimIn(t *testing.T) {
	c := Default()
	p := Params{Strike: wad(t, "1.5"), Sigma: wad(t, "0.5"), Tau: fixedpoint.One()}

	got, err := c.MaxClaimIn(wad(t, "100"), wad(t, "1000"), p)
	require.NoError(t, err)
	require.Equal(t, "1399999999999999999999", got.Dec())

	got, err = c.MaxClaimIn(wad(t, "1500"), wad(t, "1000"), p)
	require.NoError(t, err)
	require.True(t, got.IsZero())
}
