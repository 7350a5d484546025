package pool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"claimCurve/internal/fixedpoint"
)

// MaxSizingIterations bounds the bisection in SizeTradeForTargetInput.
const MaxSizingIterations = 256

// SizeRequest parameterizes the borrow sizing search. All amounts are WAD.
type SizeRequest struct {
	// Target is the wrapped amount the caller is willing to put in.
	Target *uint256.Int
	// UpperBound caps the search; zero or nil uses the pool's claim-in capacity.
	UpperBound *uint256.Int
	// Guess is tried first when non-zero.
	Guess *uint256.Int
	// Epsilon is the relative tolerance below Target, as a WAD.
	Epsilon *uint256.Int
}

// SizeResult is the outcome of a sizing search. Guess is the largest guess in
// the search range whose NetPull stayed at or below the target, with NetPull
// computed for that guess. Converged is false when the budget ran out or the
// bracket closed first; a zero Guess means no guess in range qualified.
type SizeResult struct {
	Guess      *uint256.Int
	NetPull    *uint256.Int
	Iterations int
	Converged  bool
}

type pullFunc func(guess *uint256.Int) (*uint256.Int, error)

// bisect searches [lo, hi] for the guess whose pull sits just below target. A
// guess the pool cannot price counts as too large. The search stops when the
// bracket closes; exhaustion is not an error.
func bisect(target, lo, hi, first, eps *uint256.Int, pull pullFunc) SizeResult {
	low, high := new(uint256.Int).Set(lo), new(uint256.Int).Set(hi)
	res := SizeResult{Guess: new(uint256.Int), NetPull: new(uint256.Int)}
	for i := 0; i < MaxSizingIterations && !low.Gt(high); i++ {
		res.Iterations = i + 1
		var guess *uint256.Int
		if i == 0 && first != nil && !first.Lt(low) && !first.Gt(high) {
			guess = new(uint256.Int).Set(first)
		} else {
			guess = new(uint256.Int).Add(low, high)
			guess.Rsh(guess, 1)
		}

		got, err := pull(guess)
		if err != nil || got.Gt(target) {
			if guess.IsZero() {
				break
			}
			high = new(uint256.Int).SubUint64(guess, 1)
			continue
		}
		if guess.Gt(res.Guess) || res.Guess.IsZero() {
			res.Guess, res.NetPull = guess, got
		}
		if fixedpoint.IsApproxBelow(got, target, eps) {
			res.Converged = true
			return res
		}
		low = new(uint256.Int).AddUint64(guess, 1)
	}
	return res
}

// netPull is what the caller must supply to mint guess claims and sell them
// into the pool: assetToSyUp(guess) minus the wrapped amount the sale returns.
func (e *Engine) netPull(st State, pc PreCompute) pullFunc {
	return func(guess *uint256.Int) (*uint256.Int, error) {
		q, err := e.quoteClaimIn(st, pc, guess)
		if err != nil {
			return nil, err
		}
		cost, err := assetToSyUp(guess, pc.Index)
		if err != nil {
			return nil, err
		}
		if !cost.Gt(q.AmountOutScaled) {
			return new(uint256.Int), nil
		}
		return cost.Sub(cost, q.AmountOutScaled), nil
	}
}

func (e *Engine) size(st State, pc PreCompute, req SizeRequest) (SizeResult, error) {
	if req.Target == nil || req.Target.IsZero() {
		return SizeResult{}, fmt.Errorf("sizing target must be positive: %w", fixedpoint.ErrDomain)
	}
	eps := req.Epsilon
	if eps == nil {
		eps = new(uint256.Int)
	}
	upper := req.UpperBound
	if upper == nil || upper.IsZero() {
		var err error
		upper, err = e.curve.MaxClaimIn(st.ReserveClaim, pc.Liquidity, pc.params(st.Params.Sigma))
		if err != nil {
			return SizeResult{}, err
		}
	}
	if upper.Lt(req.Target) {
		return SizeResult{}, fmt.Errorf("sizing upper bound %s below target %s: %w",
			fixedpoint.FormatWad(upper), fixedpoint.FormatWad(req.Target), fixedpoint.ErrDomain)
	}
	return bisect(req.Target, req.Target, upper, req.Guess, eps, e.netPull(st, pc)), nil
}

// SizeTradeForTargetInput finds how many claims to mint and sell so that the
// wrapped input approaches req.Target from below within req.Epsilon.
//
// The search is best effort: after MaxSizingIterations it returns its last guess
// with Converged unset and no error. Callers must check the resulting quote
// against their own slippage bound.
func (e *Engine) SizeTradeForTargetInput(ctx context.Context, req SizeRequest, now uint64) (SizeResult, error) {
	st, pc, err := e.prepare(ctx, now)
	if err != nil {
		return SizeResult{}, err
	}
	return e.size(st, pc, req)
}

// YieldSwap is the outcome of SwapAssetForYield.
type YieldSwap struct {
	Size         SizeResult
	Quote        Quote
	WrappedIn    *uint256.Int
	YieldOut     *uint256.Int
	WrappedSplit *uint256.Int
}

// SwapAssetForYield spends up to targetIn native wrapped units for yield tokens:
// claims are minted alongside the yield leg and sold into the pool, and the sale
// proceeds cover the rest of the mint.
func (e *Engine) SwapAssetForYield(ctx context.Context, account common.Address, targetIn *uint256.Int, req SizeRequest, minYieldOut *uint256.Int, now uint64) (YieldSwap, error) {
	if e.splitter == nil {
		return YieldSwap{}, ErrNoSplitter
	}
	release, err := e.enter()
	if err != nil {
		return YieldSwap{}, err
	}
	defer release()

	st, pc, err := e.prepare(ctx, now)
	if err != nil {
		return YieldSwap{}, err
	}
	if req.Target, err = fixedpoint.Upscale(targetIn, st.Params.AssetDecimals); err != nil {
		return YieldSwap{}, err
	}
	sized, err := e.size(st, pc, req)
	if err != nil {
		return YieldSwap{}, err
	}
	if sized.Guess.IsZero() {
		return YieldSwap{}, fmt.Errorf("no claim amount keeps wrapped input under %s: %w", req.Target.Dec(), ErrSlippageExceeded)
	}
	if !sized.Converged {
		e.logger.Warn("sizing did not converge",
			zap.String("target", req.Target.Dec()),
			zap.String("guess", sized.Guess.Dec()),
			zap.Int("iterations", sized.Iterations),
		)
	}

	q, err := e.quoteClaimIn(st, pc, sized.Guess)
	if err != nil {
		return YieldSwap{}, fmt.Errorf("quote sized claim sale: %w", err)
	}
	cost, err := assetToSyUp(sized.Guess, pc.Index)
	if err != nil {
		return YieldSwap{}, err
	}
	split, err := fixedpoint.DownscaleUp(cost, st.Params.AssetDecimals)
	if err != nil {
		return YieldSwap{}, err
	}
	pull := new(uint256.Int)
	if split.Gt(q.AmountOutNative) {
		pull.Sub(split, q.AmountOutNative)
	}
	if pull.Gt(targetIn) {
		return YieldSwap{}, slippage("wrapped in", pull, targetIn)
	}
	yieldOut, err := fixedpoint.DownscaleDown(sized.Guess, st.Params.ClaimDecimals)
	if err != nil {
		return YieldSwap{}, err
	}
	if yieldOut.Lt(minYieldOut) {
		return YieldSwap{}, slippage("yield out", yieldOut, minYieldOut)
	}
	claimIn, err := fixedpoint.DownscaleUp(sized.Guess, st.Params.ClaimDecimals)
	if err != nil {
		return YieldSwap{}, err
	}

	pool := st.Params.Account()
	minted := new(uint256.Int)
	err = e.settle(ctx, "asset-for-yield", func(s *settlement) error {
		if err := s.transfer(ctx, e.ledger, st.Params.Asset, account, pool, pull); err != nil {
			return err
		}
		got, err := e.splitter.Split(ctx, pool, split, pool, account)
		if err != nil {
			return err
		}
		minted = got
		s.push("split", func(ctx context.Context) error {
			_, err := e.splitter.Merge(ctx, pool, account, got, pool)
			return err
		})
		if got.Lt(claimIn) {
			return fmt.Errorf("split minted %s claims, need %s: %w", got.Dec(), claimIn.Dec(), ErrSlippageExceeded)
		}
		return nil
	}, func() (State, error) {
		return e.adjusted(ctx, st, q.Adjustment())
	})
	if err != nil {
		return YieldSwap{}, err
	}
	return YieldSwap{Size: sized, Quote: q, WrappedIn: pull, YieldOut: minted, WrappedSplit: split}, nil
}
