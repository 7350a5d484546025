package pool

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"claimCurve/internal/curve"
	"claimCurve/internal/fixedpoint"
)

const (
	testMaturity = 1_900_000_000
	day          = 86400
	initTime     = testMaturity - 365*day
	swapTime     = testMaturity - 30*day
)

var (
	alice      = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob        = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	assetToken = common.HexToAddress("0x1000000000000000000000000000000000000001")
	claimToken = common.HexToAddress("0x1000000000000000000000000000000000000002")
	yieldToken = common.HexToAddress("0x1000000000000000000000000000000000000003")
)

func units(n uint64) *uint256.Int { return fixedpoint.FromUint64(n) }

func mustWad(t require.TestingT, s string) *uint256.Int {
	v, err := fixedpoint.ParseWad(s)
	require.NoError(t, err)
	return v
}

func toFloat(x *uint256.Int) float64 {
	f, _ := fixedpoint.ToFloat(x, 64).Float64()
	return f
}

func testParams() Params {
	return Params{
		Sigma:         uint256.NewInt(5e17),
		Fee:           uint256.NewInt(1e15),
		Maturity:      testMaturity,
		AssetDecimals: 18,
		ClaimDecimals: 18,
		Asset:         assetToken,
		Claim:         claimToken,
		Yield:         yieldToken,
	}
}

type fixture struct {
	engine *Engine
	ledger *MemoryLedger
	index  *StaticIndex
	params Params
}

func newFixture(t *testing.T, params Params, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()
	ledger := NewMemoryLedger()
	index := NewStaticIndex(fixedpoint.One())
	for _, acct := range []common.Address{alice, bob} {
		require.NoError(t, ledger.MintTo(ctx, params.Asset, acct, units(1_000_000)))
	}
	require.NoError(t, ledger.MintTo(ctx, params.Claim, alice, units(1_000_000)))

	base := []Option{
		WithLedger(ledger),
		WithShareToken(ledger.Shares(params.Account())),
		WithIndex(index),
		WithSplitter(NewMemorySplitter(ledger, index, params, common.HexToAddress("0x5a17"))),
	}
	engine, err := New(params, append(base, opts...)...)
	require.NoError(t, err)
	return &fixture{engine: engine, ledger: ledger, index: index, params: params}
}

func (f *fixture) initialize(t *testing.T) InitResult {
	t.Helper()
	res, err := f.engine.Initialize(context.Background(), alice, fixedpoint.One(), units(1000), mustWad(t, "1.5"), initTime)
	require.NoError(t, err)
	return res
}

func TestInitializeScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams())
	res := f.initialize(t)

	require.InDelta(t, 1403.3562348624248, toFloat(res.Liquidity), 1e-9)
	require.InDelta(t, 303.88446004733413, toFloat(res.Claim), 1e-9)

	residual, err := f.engine.TradingFunction(ctx, initTime)
	require.NoError(t, err)
	require.True(t, curve.WithinTolerance(residual), "residual %s", residual)

	st := f.engine.State()
	require.Equal(t, res.Liquidity.Dec(), st.TotalLiquidity.Dec())
	require.Equal(t, units(1000).Dec(), st.ReserveAsset.Dec())
	require.True(t, st.LastImpliedRate.CmpAbs(big.NewInt(1e6)) <= 0, "price hint 1.0 implies a zero rate, got %s", st.LastImpliedRate)
	require.Equal(t, res.Liquidity.Dec(), f.ledger.Balance(f.params.Account(), alice).Dec())

	again := newFixture(t, testParams())
	again.initialize(t)
	require.True(t, st.Equal(again.engine.State()), "initialization must be deterministic")

	_, err = f.engine.Initialize(ctx, alice, fixedpoint.One(), units(1), mustWad(t, "1.5"), initTime)
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitializeRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams())

	_, err := f.engine.Initialize(ctx, alice, fixedpoint.One(), units(1000), fixedpoint.One(), initTime)
	require.ErrorIs(t, err, fixedpoint.ErrDomain)
	_, err = f.engine.Initialize(ctx, alice, fixedpoint.One(), units(1000), mustWad(t, "1.5"), testMaturity)
	require.ErrorIs(t, err, ErrMaturityReached)
	_, err = f.engine.QuoteSwapClaimIn(ctx, units(1), initTime)
	require.ErrorIs(t, err, ErrNotInitialized)

	_, err = f.engine.Initialize(ctx, bob, fixedpoint.One(), units(1000), mustWad(t, "1.5"), initTime)
	require.ErrorIs(t, err, ErrInsufficientBalance, "bob holds no claims")
	require.False(t, f.engine.State().Initialized())
	require.Equal(t, units(1_000_000).Dec(), f.ledger.Balance(assetToken, bob).Dec(), "asset leg must be refunded")
}

func TestSwapClaimInScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams())
	f.initialize(t)
	claimBefore := f.ledger.Balance(claimToken, alice)
	assetBefore := f.ledger.Balance(assetToken, alice)

	q, err := f.engine.SwapExactClaimIn(ctx, alice, units(100), new(uint256.Int), swapTime)
	require.NoError(t, err)
	require.True(t, q.AmountOutScaled.Lt(units(100)), "claims trade at a discount, got %s", q.AmountOutScaled.Dec())
	require.True(t, q.AmountOutScaled.Gt(units(90)), "out %s", q.AmountOutScaled.Dec())

	st := f.engine.State()
	require.Positive(t, st.LastImpliedRate.Sign())
	require.True(t, st.LastImpliedRate.Cmp(big.NewInt(1e18)) < 0, "rate %s", fixedpoint.FormatSignedWad(st.LastImpliedRate))
	require.Equal(t, uint64(swapTime), st.LastUpdate)

	require.Equal(t, new(uint256.Int).Sub(claimBefore, units(100)).Dec(), f.ledger.Balance(claimToken, alice).Dec())
	require.Equal(t, new(uint256.Int).Add(assetBefore, q.AmountOutNative).Dec(), f.ledger.Balance(assetToken, alice).Dec())

	residual, err := f.engine.Curve().TradingFunction(st.ReserveAsset, st.ReserveClaim, st.TotalLiquidity,
		curve.Params{Strike: q.Strike, Sigma: st.Params.Sigma, Tau: curve.Tau(testMaturity, swapTime)})
	require.NoError(t, err)
	require.True(t, curve.WithinTolerance(residual), "residual %s", residual)
}

func TestSwapDirections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams())
	f.initialize(t)
	now := uint64(swapTime)

	q, err := f.engine.SwapExactAssetIn(ctx, alice, units(10), new(uint256.Int), now)
	require.NoError(t, err)
	require.True(t, q.AmountOutNative.Gt(units(9)), "asset buys roughly its price in claims: %s", q.AmountOutNative.Dec())

	claimBefore := f.ledger.Balance(claimToken, alice)
	q, err = f.engine.SwapAssetForExactClaimOut(ctx, alice, units(5), units(10), now+60)
	require.NoError(t, err)
	require.Equal(t, units(5).Dec(), q.AmountOutNative.Dec())
	require.Equal(t, new(uint256.Int).Add(claimBefore, units(5)).Dec(), f.ledger.Balance(claimToken, alice).Dec())

	assetBefore := f.ledger.Balance(assetToken, alice)
	q, err = f.engine.SwapClaimForExactAssetOut(ctx, alice, units(5), units(10), now+120)
	require.NoError(t, err)
	require.Equal(t, units(5).Dec(), q.AmountOutNative.Dec())
	require.False(t, q.AmountInNative.IsZero())
	require.Equal(t, new(uint256.Int).Add(assetBefore, units(5)).Dec(), f.ledger.Balance(assetToken, alice).Dec())

	before := f.engine.State()
	_, err = f.engine.SwapExactClaimIn(ctx, alice, units(10), units(20), now+180)
	require.ErrorIs(t, err, ErrSlippageExceeded)
	_, err = f.engine.SwapAssetForExactClaimOut(ctx, alice, units(5), uint256.NewInt(1), now+180)
	require.ErrorIs(t, err, ErrSlippageExceeded)
	require.True(t, before.Equal(f.engine.State()), "rejected swaps must not mutate state")
}

func TestQuoteMatchesSwap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams())
	f.initialize(t)

	for _, d := range []Direction{AssetIn, ClaimIn, AssetOut, ClaimOut} {
		q, err := f.engine.Quote(ctx, d, units(3), swapTime)
		require.NoError(t, err, d.String())
		require.NotNil(t, q.AmountInNative)
		require.Equal(t, d, q.Direction)
	}

	quoted, err := f.engine.QuoteSwapClaimIn(ctx, units(7), swapTime)
	require.NoError(t, err)
	swapped, err := f.engine.SwapExactClaimIn(ctx, alice, units(7), quoted.AmountOutNative, swapTime)
	require.NoError(t, err)
	require.Equal(t, quoted.AmountOutScaled.Dec(), swapped.AmountOutScaled.Dec())

	d, err := ParseDirection(" Claim-Out ")
	require.NoError(t, err)
	require.Equal(t, ClaimOut, d)
	_, err = ParseDirection("sideways")
	require.Error(t, err)
}

func TestSwapsNearMaturity(t *testing.T) {
	ctx := context.Background()
	for _, left := range []uint64{600, 60, 5} {
		f := newFixture(t, testParams())
		f.initialize(t)
		now := uint64(testMaturity) - left

		for _, d := range []Direction{AssetIn, ClaimIn, AssetOut, ClaimOut} {
			limit := new(uint256.Int)
			if d == AssetOut || d == ClaimOut {
				limit = units(10)
			}
			_, err := f.engine.Swap(ctx, alice, d, units(1), limit, now)
			require.NoError(t, err, "%s at maturity-%ds", d, left)

			residual, err := f.engine.TradingFunction(ctx, now)
			require.NoError(t, err)
			require.True(t, curve.WithinToleranceAt(residual, curve.Tau(testMaturity, now)),
				"%s at maturity-%ds: residual %s", d, left, residual)
		}
	}
}

func TestNativeRoundingAtBoundary(t *testing.T) {
	ctx := context.Background()
	params := testParams()
	params.AssetDecimals, params.ClaimDecimals = 6, 6
	f := newFixture(t, params)

	_, err := f.engine.Initialize(ctx, alice, fixedpoint.One(), uint256.NewInt(1000e6), mustWad(t, "1.5"), initTime)
	require.NoError(t, err)

	q, err := f.engine.SwapExactClaimIn(ctx, alice, uint256.NewInt(100e6), new(uint256.Int), swapTime)
	require.NoError(t, err)
	require.Equal(t, units(100).Dec(), q.AmountInScaled.Dec())

	paid, err := fixedpoint.Upscale(q.AmountOutNative, 6)
	require.NoError(t, err)
	require.False(t, paid.Gt(q.AmountOutScaled), "outputs round down")
	require.True(t, new(uint256.Int).Sub(q.AmountOutScaled, paid).Lt(uint256.NewInt(1e12)))

	q, err = f.engine.SwapAssetForExactClaimOut(ctx, alice, uint256.NewInt(5e6), uint256.NewInt(10e6), swapTime+60)
	require.NoError(t, err)
	owed, err := fixedpoint.Upscale(q.AmountInNative, 6)
	require.NoError(t, err)
	require.False(t, owed.Lt(q.AmountInScaled), "inputs round up")
}

func TestApplyZeroAdjustment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams())
	f.initialize(t)

	check := func() {
		before := f.engine.State()
		err := f.engine.ApplyAdjustment(ctx, Adjustment{Strike: before.Strike, Timestamp: before.LastUpdate})
		require.NoError(t, err)
		require.True(t, before.Equal(f.engine.State()))
	}
	check()

	_, err := f.engine.SwapExactClaimIn(ctx, alice, units(50), new(uint256.Int), swapTime)
	require.NoError(t, err)
	check()
}

func TestApplyAdjustment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams())
	f.initialize(t)
	before := f.engine.State()

	err := f.engine.ApplyAdjustment(ctx, Adjustment{
		DeltaClaim: units(1).ToBig(),
		Strike:     before.Strike,
		Timestamp:  before.LastUpdate,
	})
	require.ErrorIs(t, err, ErrInvariantViolation)
	require.True(t, before.Equal(f.engine.State()))

	err = f.engine.ApplyAdjustment(ctx, Adjustment{
		DeltaLiquidity: new(big.Int).Neg(before.TotalLiquidity.ToBig()),
		Strike:         before.Strike,
		Timestamp:      before.LastUpdate,
	})
	require.ErrorIs(t, err, ErrInvariantViolation, "liquidity cannot vanish under live reserves")

	q, err := f.engine.QuoteSwapClaimIn(ctx, units(20), swapTime)
	require.NoError(t, err)
	require.NoError(t, f.engine.ApplyAdjustment(ctx, q.Adjustment()))
	after := f.engine.State()
	require.Equal(t, new(uint256.Int).Add(before.ReserveClaim, units(20)).Dec(), after.ReserveClaim.Dec())
	require.Equal(t, uint64(swapTime), after.LastUpdate)
}

func TestAllocateDeallocate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams())
	f.initialize(t)
	require.NoError(t, f.ledger.MintTo(ctx, claimToken, bob, units(1000)))

	st := f.engine.State()
	q, err := f.engine.Allocate(ctx, bob, true, units(100), units(100), swapTime)
	require.NoError(t, err)
	require.Equal(t, units(100).Dec(), q.AssetNative.Dec())
	require.InDelta(t, toFloat(st.ReserveClaim)/10, toFloat(q.ClaimNative), 1e-9)
	require.InDelta(t, toFloat(st.TotalShares)/10, toFloat(q.SharesToMint), 1e-6)
	shares := f.ledger.Balance(f.params.Account(), bob)
	require.Equal(t, q.SharesToMint.Dec(), shares.Dec())

	_, err = f.engine.Allocate(ctx, bob, true, units(100), uint256.NewInt(1), swapTime)
	require.ErrorIs(t, err, ErrSlippageExceeded)

	pc, err := f.engine.PreCompute(ctx, swapTime+60)
	require.NoError(t, err)
	half := new(uint256.Int).Rsh(pc.Liquidity, 1)
	dq, err := f.engine.Deallocate(ctx, alice, half, new(uint256.Int), new(uint256.Int), swapTime+60)
	require.NoError(t, err)
	require.True(t, dq.AssetNative.Gt(units(500)), "half of ~1100 asset, got %s", dq.AssetNative.Dec())

	_, err = f.engine.SwapExactClaimIn(ctx, alice, units(1), new(uint256.Int), testMaturity)
	require.ErrorIs(t, err, ErrMaturityReached)

	// Withdrawing everything stays possible at maturity.
	pc, err = f.engine.PreCompute(ctx, testMaturity)
	require.NoError(t, err)
	require.Equal(t, fixedpoint.One().Dec(), pc.Strike.Dec())
	all := f.engine.State().TotalShares
	require.NoError(t, f.ledger.Transfer(ctx, f.params.Account(), bob, alice, shares))
	require.Equal(t, all.Dec(), f.ledger.Balance(f.params.Account(), alice).Dec())

	_, err = f.engine.Deallocate(ctx, alice, pc.Liquidity, new(uint256.Int), new(uint256.Int), testMaturity)
	require.NoError(t, err)
	end := f.engine.State()
	require.False(t, end.Initialized())
	require.True(t, end.ReserveAsset.IsZero() && end.ReserveClaim.IsZero() && end.TotalShares.IsZero())
}

func TestAllocateUnwindsOnFailedLeg(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams())
	f.initialize(t)
	before := f.engine.State()

	// bob has asset but no claims, so the second leg fails.
	_, err := f.engine.Allocate(ctx, bob, true, units(100), units(1000), swapTime)
	require.ErrorIs(t, err, ErrInsufficientBalance)
	require.Equal(t, units(1_000_000).Dec(), f.ledger.Balance(assetToken, bob).Dec())
	require.True(t, before.Equal(f.engine.State()))
}

// reentrantLedger calls back into the engine from inside a settlement leg.
type reentrantLedger struct {
	*MemoryLedger
	engine   *Engine
	armed    bool
	nested   error
	quoteErr error
}

func (l *reentrantLedger) Transfer(ctx context.Context, token, from, to common.Address, amount *uint256.Int) error {
	if l.armed {
		l.armed = false
		_, l.nested = l.engine.SwapExactClaimIn(ctx, alice, units(1), new(uint256.Int), swapTime)
		_, l.quoteErr = l.engine.QuoteSwapClaimIn(ctx, units(1), swapTime)
	}
	return l.MemoryLedger.Transfer(ctx, token, from, to, amount)
}

func TestReentrantCallFailsFast(t *testing.T) {
	ctx := context.Background()
	params := testParams()
	mem := NewMemoryLedger()
	require.NoError(t, mem.MintTo(ctx, assetToken, alice, units(10_000)))
	require.NoError(t, mem.MintTo(ctx, claimToken, alice, units(10_000)))
	ledger := &reentrantLedger{MemoryLedger: mem}

	engine, err := New(params, WithLedger(ledger), WithShareToken(mem.Shares(params.Account())))
	require.NoError(t, err)
	ledger.engine = engine
	_, err = engine.Initialize(ctx, alice, fixedpoint.One(), units(1000), mustWad(t, "1.5"), initTime)
	require.NoError(t, err)

	ledger.armed = true
	_, err = engine.SwapExactClaimIn(ctx, alice, units(10), new(uint256.Int), swapTime)
	require.NoError(t, err)
	require.ErrorIs(t, ledger.nested, ErrReentrant)
	require.NoError(t, ledger.quoteErr, "quotes stay available inside an operation")

	// The guard is released afterwards.
	_, err = engine.SwapExactClaimIn(ctx, alice, units(1), new(uint256.Int), swapTime+1)
	require.NoError(t, err)
}

type failingIndex struct{}

func (failingIndex) Index(context.Context) (*uint256.Int, error) {
	return nil, errors.New("index unavailable")
}

func TestIndexFailurePropagates(t *testing.T) {
	f := newFixture(t, testParams())
	f.initialize(t)
	st := f.engine.State()

	broken, err := Restore(st, WithIndex(failingIndex{}))
	require.NoError(t, err)
	_, err = broken.QuoteSwapAssetIn(context.Background(), units(1), swapTime)
	require.ErrorContains(t, err, "index unavailable")
}

func TestYieldIndexScalesAssetLeg(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testParams())
	f.initialize(t)

	base, err := f.engine.QuoteSwapClaimIn(ctx, units(10), swapTime)
	require.NoError(t, err)

	f.index.Set(mustWad(t, "1.05"))
	pc, err := f.engine.PreCompute(ctx, swapTime)
	require.NoError(t, err)
	require.Equal(t, units(1050).Dec(), pc.ReserveInAsset.Dec())

	accrued, err := f.engine.QuoteSwapClaimIn(ctx, units(10), swapTime)
	require.NoError(t, err)
	require.True(t, accrued.AmountOutScaled.Lt(base.AmountOutScaled), "each wrapped unit is worth more asset")
}

func TestDirectionNamesAndDecimals(t *testing.T) {
	p := testParams()
	p.AssetDecimals, p.ClaimDecimals = 6, 18
	want := map[string]uint8{"asset-in": 6, "claim-in": 18, "asset-out": 6, "claim-out": 18}
	for name, decimals := range want {
		d, err := ParseDirection(" " + strings.ToUpper(name))
		require.NoError(t, err)
		require.Equal(t, name, d.String())
		require.Equal(t, decimals, d.AmountDecimals(p), name)
	}
	_, err := ParseDirection("sideways")
	require.Error(t, err)
}
