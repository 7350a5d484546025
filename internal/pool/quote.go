package pool

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"claimCurve/internal/fixedpoint"
)

// Direction selects a swap variant.
type Direction int

const (
	// AssetIn sells an exact wrapped amount for claims.
	AssetIn Direction = iota
	// ClaimIn sells an exact claim amount for wrapped asset.
	ClaimIn
	// AssetOut buys an exact wrapped amount with claims.
	AssetOut
	// ClaimOut buys an exact claim amount with wrapped asset.
	ClaimOut
)

var directionNames = map[Direction]string{
	AssetIn:  "asset-in",
	ClaimIn:  "claim-in",
	AssetOut: "asset-out",
	ClaimOut: "claim-out",
}

func (d Direction) String() string {
	if s, ok := directionNames[d]; ok {
		return s
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// ParseDirection accepts the names printed by Direction.String.
func ParseDirection(s string) (Direction, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for d, name := range directionNames {
		if name == s {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown swap direction %q", s)
}

// AmountDecimals is the native precision of the amount a swap in direction d
// is sized by: the token sold for exact-in swaps, the token bought for exact-out.
func (d Direction) AmountDecimals(p Params) uint8 {
	switch d {
	case ClaimIn, ClaimOut:
		return p.ClaimDecimals
	}
	return p.AssetDecimals
}

// Quote is a priced swap. Scaled amounts are WAD; native amounts are what
// settlement moves, rounded in the pool's favour.
type Quote struct {
	Direction       Direction
	AmountInScaled  *uint256.Int
	AmountOutScaled *uint256.Int
	AmountInNative  *uint256.Int
	AmountOutNative *uint256.Int
	// DeltaAsset and DeltaClaim are the reserve changes the quote commits.
	DeltaAsset *big.Int
	DeltaClaim *big.Int
	// DeltaLiquidity is the new liquidity minus the stored total.
	DeltaLiquidity *big.Int
	Strike         *uint256.Int
	Timestamp      uint64
}

// Adjustment returns the deltas ApplyAdjustment needs to commit q.
func (q Quote) Adjustment() Adjustment {
	return Adjustment{
		DeltaAsset:     q.DeltaAsset,
		DeltaClaim:     q.DeltaClaim,
		DeltaLiquidity: q.DeltaLiquidity,
		Strike:         q.Strike,
		Timestamp:      q.Timestamp,
	}
}

// prepare snapshots state and builds the pre-compute for a trade at now.
func (e *Engine) prepare(ctx context.Context, now uint64) (State, PreCompute, error) {
	st := e.State()
	if !st.Initialized() {
		return State{}, PreCompute{}, ErrNotInitialized
	}
	if now >= st.Params.Maturity {
		return State{}, PreCompute{}, ErrMaturityReached
	}
	pc, err := e.preCompute(ctx, st, now)
	if err != nil {
		return State{}, PreCompute{}, err
	}
	return st, pc, nil
}

// Quote prices a swap of amount native units in direction d.
func (e *Engine) Quote(ctx context.Context, d Direction, amount *uint256.Int, now uint64) (Quote, error) {
	switch d {
	case AssetIn:
		return e.QuoteSwapAssetIn(ctx, amount, now)
	case ClaimIn:
		return e.QuoteSwapClaimIn(ctx, amount, now)
	case AssetOut:
		return e.QuoteSwapAssetOutExact(ctx, amount, now)
	case ClaimOut:
		return e.QuoteSwapClaimOutExact(ctx, amount, now)
	}
	return Quote{}, fmt.Errorf("quote: %s", d)
}

func (e *Engine) QuoteSwapAssetIn(ctx context.Context, amountIn *uint256.Int, now uint64) (Quote, error) {
	st, pc, err := e.prepare(ctx, now)
	if err != nil {
		return Quote{}, err
	}
	in, err := fixedpoint.Upscale(amountIn, st.Params.AssetDecimals)
	if err != nil {
		return Quote{}, err
	}
	return e.quoteAssetIn(st, pc, in)
}

func (e *Engine) QuoteSwapClaimIn(ctx context.Context, amountIn *uint256.Int, now uint64) (Quote, error) {
	st, pc, err := e.prepare(ctx, now)
	if err != nil {
		return Quote{}, err
	}
	in, err := fixedpoint.Upscale(amountIn, st.Params.ClaimDecimals)
	if err != nil {
		return Quote{}, err
	}
	return e.quoteClaimIn(st, pc, in)
}

func (e *Engine) QuoteSwapAssetOutExact(ctx context.Context, amountOut *uint256.Int, now uint64) (Quote, error) {
	st, pc, err := e.prepare(ctx, now)
	if err != nil {
		return Quote{}, err
	}
	out, err := fixedpoint.Upscale(amountOut, st.Params.AssetDecimals)
	if err != nil {
		return Quote{}, err
	}
	return e.quoteAssetOut(st, pc, out)
}

func (e *Engine) QuoteSwapClaimOutExact(ctx context.Context, amountOut *uint256.Int, now uint64) (Quote, error) {
	st, pc, err := e.prepare(ctx, now)
	if err != nil {
		return Quote{}, err
	}
	out, err := fixedpoint.Upscale(amountOut, st.Params.ClaimDecimals)
	if err != nil {
		return Quote{}, err
	}
	return e.quoteClaimOut(st, pc, out)
}

func errNoOutput(d Direction) error {
	return fmt.Errorf("%s trade moves nothing: %w", d, fixedpoint.ErrDomain)
}

// nextLiquidity is the re-solved liquidity plus the fee growth.
func nextLiquidity(st State, pc PreCompute, fee *uint256.Int) (*uint256.Int, *big.Int, error) {
	L, err := fixedpoint.Add(pc.Liquidity, fee)
	if err != nil {
		return nil, nil, err
	}
	return L, fixedpoint.SignedDiff(L, st.TotalLiquidity), nil
}

func (e *Engine) quoteAssetIn(st State, pc PreCompute, in *uint256.Int) (Quote, error) {
	p := pc.params(st.Params.Sigma)
	reserve, err := fixedpoint.Add(st.ReserveAsset, in)
	if err != nil {
		return Quote{}, err
	}
	xNext, err := syToAsset(reserve, pc.Index)
	if err != nil {
		return Quote{}, err
	}
	inAsset := new(uint256.Int).Sub(xNext, pc.ReserveInAsset)
	if inAsset.IsZero() {
		return Quote{}, errNoOutput(AssetIn)
	}
	growth, err := e.curve.DeltaLiquidityAssetIn(inAsset, pc.reserves(st), st.Params.Fee, p)
	if err != nil {
		return Quote{}, err
	}
	L, dL, err := nextLiquidity(st, pc, growth)
	if err != nil {
		return Quote{}, err
	}
	yNext, err := e.curve.SolveReserveClaim(xNext, L, p)
	if err != nil {
		return Quote{}, err
	}
	if !yNext.Lt(st.ReserveClaim) {
		return Quote{}, errNoOutput(AssetIn)
	}
	out := new(uint256.Int).Sub(st.ReserveClaim, yNext)
	q := Quote{
		Direction:       AssetIn,
		AmountInScaled:  in,
		AmountOutScaled: out,
		DeltaAsset:      in.ToBig(),
		DeltaClaim:      new(big.Int).Neg(out.ToBig()),
		DeltaLiquidity:  dL,
		Strike:          pc.Strike,
		Timestamp:       pc.Timestamp,
	}
	if err := q.native(in, st.Params.AssetDecimals, out, st.Params.ClaimDecimals); err != nil {
		return Quote{}, err
	}
	return q, nil
}

func (e *Engine) quoteClaimIn(st State, pc PreCompute, in *uint256.Int) (Quote, error) {
	p := pc.params(st.Params.Sigma)
	growth, err := e.curve.DeltaLiquidityClaimIn(in, pc.reserves(st), st.Params.Fee, p)
	if err != nil {
		return Quote{}, err
	}
	L, dL, err := nextLiquidity(st, pc, growth)
	if err != nil {
		return Quote{}, err
	}
	yNext, err := fixedpoint.Add(st.ReserveClaim, in)
	if err != nil {
		return Quote{}, err
	}
	xNext, err := e.curve.SolveReserveAsset(yNext, L, p)
	if err != nil {
		return Quote{}, err
	}
	if !xNext.Lt(pc.ReserveInAsset) {
		return Quote{}, errNoOutput(ClaimIn)
	}
	out, err := assetToSyDown(new(uint256.Int).Sub(pc.ReserveInAsset, xNext), pc.Index)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{
		Direction:       ClaimIn,
		AmountInScaled:  in,
		AmountOutScaled: out,
		DeltaAsset:      new(big.Int).Neg(out.ToBig()),
		DeltaClaim:      in.ToBig(),
		DeltaLiquidity:  dL,
		Strike:          pc.Strike,
		Timestamp:       pc.Timestamp,
	}
	if err := q.native(in, st.Params.ClaimDecimals, out, st.Params.AssetDecimals); err != nil {
		return Quote{}, err
	}
	return q, nil
}

func (e *Engine) quoteAssetOut(st State, pc PreCompute, out *uint256.Int) (Quote, error) {
	p := pc.params(st.Params.Sigma)
	if !out.Lt(st.ReserveAsset) {
		return Quote{}, fmt.Errorf("asset out %s exceeds reserve: %w", out.Dec(), fixedpoint.ErrDomain)
	}
	xNext, err := syToAsset(new(uint256.Int).Sub(st.ReserveAsset, out), pc.Index)
	if err != nil {
		return Quote{}, err
	}
	outAsset := new(uint256.Int).Sub(pc.ReserveInAsset, xNext)
	if outAsset.IsZero() {
		return Quote{}, errNoOutput(AssetOut)
	}
	growth, err := e.curve.DeltaLiquidityAssetOut(outAsset, pc.reserves(st), st.Params.Fee, p)
	if err != nil {
		return Quote{}, err
	}
	L, dL, err := nextLiquidity(st, pc, growth)
	if err != nil {
		return Quote{}, err
	}
	yNext, err := e.curve.SolveReserveClaim(xNext, L, p)
	if err != nil {
		return Quote{}, err
	}
	if !yNext.Gt(st.ReserveClaim) {
		return Quote{}, errNoOutput(AssetOut)
	}
	in := new(uint256.Int).Sub(yNext, st.ReserveClaim)
	q := Quote{
		Direction:       AssetOut,
		AmountInScaled:  in,
		AmountOutScaled: out,
		DeltaAsset:      new(big.Int).Neg(out.ToBig()),
		DeltaClaim:      in.ToBig(),
		DeltaLiquidity:  dL,
		Strike:          pc.Strike,
		Timestamp:       pc.Timestamp,
	}
	if err := q.native(in, st.Params.ClaimDecimals, out, st.Params.AssetDecimals); err != nil {
		return Quote{}, err
	}
	return q, nil
}

func (e *Engine) quoteClaimOut(st State, pc PreCompute, out *uint256.Int) (Quote, error) {
	p := pc.params(st.Params.Sigma)
	growth, err := e.curve.DeltaLiquidityClaimOut(out, pc.reserves(st), st.Params.Fee, p)
	if err != nil {
		return Quote{}, err
	}
	L, dL, err := nextLiquidity(st, pc, growth)
	if err != nil {
		return Quote{}, err
	}
	yNext := new(uint256.Int).Sub(st.ReserveClaim, out)
	xNext, err := e.curve.SolveReserveAsset(yNext, L, p)
	if err != nil {
		return Quote{}, err
	}
	if !xNext.Gt(pc.ReserveInAsset) {
		return Quote{}, errNoOutput(ClaimOut)
	}
	in, err := assetToSyUp(new(uint256.Int).Sub(xNext, pc.ReserveInAsset), pc.Index)
	if err != nil {
		return Quote{}, err
	}
	q := Quote{
		Direction:       ClaimOut,
		AmountInScaled:  in,
		AmountOutScaled: out,
		DeltaAsset:      in.ToBig(),
		DeltaClaim:      new(big.Int).Neg(out.ToBig()),
		DeltaLiquidity:  dL,
		Strike:          pc.Strike,
		Timestamp:       pc.Timestamp,
	}
	if err := q.native(in, st.Params.AssetDecimals, out, st.Params.ClaimDecimals); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// native fills the settlement amounts: inputs round up, outputs round down.
func (q *Quote) native(in *uint256.Int, inDecimals uint8, out *uint256.Int, outDecimals uint8) error {
	var err error
	if q.AmountInNative, err = fixedpoint.DownscaleUp(in, inDecimals); err != nil {
		return err
	}
	q.AmountOutNative, err = fixedpoint.DownscaleDown(out, outDecimals)
	return err
}

// AllocateQuote prices a proportional deposit.
type AllocateQuote struct {
	DeltaAsset     *uint256.Int
	DeltaClaim     *uint256.Int
	AssetNative    *uint256.Int
	ClaimNative    *uint256.Int
	DeltaLiquidity *uint256.Int
	SharesToMint   *uint256.Int
	Strike         *uint256.Int
	Timestamp      uint64

	liquidityChange *big.Int
}

func (q AllocateQuote) Adjustment() Adjustment {
	return Adjustment{
		DeltaAsset:     q.DeltaAsset.ToBig(),
		DeltaClaim:     q.DeltaClaim.ToBig(),
		DeltaLiquidity: q.liquidityChange,
		Strike:         q.Strike,
		Timestamp:      q.Timestamp,
	}
}

// QuoteAllocate prices a deposit of amount native units of one leg, with the
// other leg in proportion to the reserves.
func (e *Engine) QuoteAllocate(ctx context.Context, inTermsOfAsset bool, amount *uint256.Int, now uint64) (AllocateQuote, error) {
	st, pc, err := e.prepare(ctx, now)
	if err != nil {
		return AllocateQuote{}, err
	}
	q := AllocateQuote{Strike: pc.Strike, Timestamp: now}
	if inTermsOfAsset {
		if q.DeltaAsset, err = fixedpoint.Upscale(amount, st.Params.AssetDecimals); err != nil {
			return AllocateQuote{}, err
		}
		if q.DeltaLiquidity, err = fixedpoint.MulDivDown(pc.Liquidity, q.DeltaAsset, st.ReserveAsset); err != nil {
			return AllocateQuote{}, err
		}
		if q.DeltaClaim, err = fixedpoint.MulDivUp(st.ReserveClaim, q.DeltaAsset, st.ReserveAsset); err != nil {
			return AllocateQuote{}, err
		}
	} else {
		if q.DeltaClaim, err = fixedpoint.Upscale(amount, st.Params.ClaimDecimals); err != nil {
			return AllocateQuote{}, err
		}
		if q.DeltaLiquidity, err = fixedpoint.MulDivDown(pc.Liquidity, q.DeltaClaim, st.ReserveClaim); err != nil {
			return AllocateQuote{}, err
		}
		if q.DeltaAsset, err = fixedpoint.MulDivUp(st.ReserveAsset, q.DeltaClaim, st.ReserveClaim); err != nil {
			return AllocateQuote{}, err
		}
	}
	if q.DeltaLiquidity.IsZero() {
		return AllocateQuote{}, fmt.Errorf("allocation too small: %w", fixedpoint.ErrDomain)
	}
	if q.SharesToMint, err = fixedpoint.MulDivDown(st.TotalShares, q.DeltaLiquidity, pc.Liquidity); err != nil {
		return AllocateQuote{}, err
	}
	if q.AssetNative, err = fixedpoint.DownscaleUp(q.DeltaAsset, st.Params.AssetDecimals); err != nil {
		return AllocateQuote{}, err
	}
	if q.ClaimNative, err = fixedpoint.DownscaleUp(q.DeltaClaim, st.Params.ClaimDecimals); err != nil {
		return AllocateQuote{}, err
	}
	L, err := fixedpoint.Add(pc.Liquidity, q.DeltaLiquidity)
	if err != nil {
		return AllocateQuote{}, err
	}
	q.liquidityChange = fixedpoint.SignedDiff(L, st.TotalLiquidity)
	return q, nil
}

// DeallocateQuote prices a proportional withdrawal.
type DeallocateQuote struct {
	DeltaAsset     *uint256.Int
	DeltaClaim     *uint256.Int
	AssetNative    *uint256.Int
	ClaimNative    *uint256.Int
	DeltaLiquidity *uint256.Int
	SharesToBurn   *uint256.Int
	Strike         *uint256.Int
	Timestamp      uint64

	liquidityChange *big.Int
}

func (q DeallocateQuote) Adjustment() Adjustment {
	return Adjustment{
		DeltaAsset:     new(big.Int).Neg(q.DeltaAsset.ToBig()),
		DeltaClaim:     new(big.Int).Neg(q.DeltaClaim.ToBig()),
		DeltaLiquidity: q.liquidityChange,
		Strike:         q.Strike,
		Timestamp:      q.Timestamp,
	}
}

// QuoteDeallocate prices removing deltaLiquidity (WAD). It stays available at
// and after maturity.
func (e *Engine) QuoteDeallocate(ctx context.Context, deltaLiquidity *uint256.Int, now uint64) (DeallocateQuote, error) {
	st := e.State()
	pc, err := e.preCompute(ctx, st, now)
	if err != nil {
		return DeallocateQuote{}, err
	}
	if deltaLiquidity.IsZero() || deltaLiquidity.Gt(pc.Liquidity) {
		return DeallocateQuote{}, fmt.Errorf("deallocate %s of %s liquidity: %w", deltaLiquidity.Dec(), pc.Liquidity.Dec(), fixedpoint.ErrDomain)
	}
	q := DeallocateQuote{DeltaLiquidity: new(uint256.Int).Set(deltaLiquidity), Strike: pc.Strike, Timestamp: now}
	if q.DeltaAsset, err = fixedpoint.MulDivDown(st.ReserveAsset, deltaLiquidity, pc.Liquidity); err != nil {
		return DeallocateQuote{}, err
	}
	if q.DeltaClaim, err = fixedpoint.MulDivDown(st.ReserveClaim, deltaLiquidity, pc.Liquidity); err != nil {
		return DeallocateQuote{}, err
	}
	if q.SharesToBurn, err = fixedpoint.MulDivUp(st.TotalShares, deltaLiquidity, pc.Liquidity); err != nil {
		return DeallocateQuote{}, err
	}
	if q.AssetNative, err = fixedpoint.DownscaleDown(q.DeltaAsset, st.Params.AssetDecimals); err != nil {
		return DeallocateQuote{}, err
	}
	if q.ClaimNative, err = fixedpoint.DownscaleDown(q.DeltaClaim, st.Params.ClaimDecimals); err != nil {
		return DeallocateQuote{}, err
	}
	L := new(uint256.Int).Sub(pc.Liquidity, deltaLiquidity)
	q.liquidityChange = fixedpoint.SignedDiff(L, st.TotalLiquidity)
	return q, nil
}
