package pool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"claimCurve/internal/curve"
	"claimCurve/internal/fixedpoint"
)

// settle runs the settlement legs, then validates the next state. Any failure
// reverses the legs already completed; success commits exactly once.
func (e *Engine) settle(ctx context.Context, op string, legs func(*settlement) error, validate func() (State, error)) error {
	s := &settlement{logger: e.logger.With(zap.String("op", op))}
	if err := legs(s); err != nil {
		s.unwind(context.WithoutCancel(ctx))
		return fmt.Errorf("%s settlement: %w", op, err)
	}
	next, err := validate()
	if err != nil {
		s.unwind(context.WithoutCancel(ctx))
		return fmt.Errorf("%s: %w", op, err)
	}
	e.commit(next)
	e.logger.Debug("pool adjusted",
		zap.String("op", op),
		zap.String("reserve_asset", next.ReserveAsset.Dec()),
		zap.String("reserve_claim", next.ReserveClaim.Dec()),
		zap.String("liquidity", next.TotalLiquidity.Dec()),
		zap.Uint64("ts", next.LastUpdate),
	)
	return nil
}

// InitResult reports the seeding of a pool.
type InitResult struct {
	Liquidity   *uint256.Int
	Claim       *uint256.Int
	ClaimNative *uint256.Int
	Shares      *uint256.Int
}

// Initialize seeds the pool with assetAmount native wrapped units at priceHint,
// pulling the claim amount the curve requires from account.
func (e *Engine) Initialize(ctx context.Context, account common.Address, priceHint, assetAmount, strike *uint256.Int, now uint64) (InitResult, error) {
	release, err := e.enter()
	if err != nil {
		return InitResult{}, err
	}
	defer release()

	st := e.State()
	if st.Initialized() {
		return InitResult{}, ErrAlreadyInitialized
	}
	if strike.Cmp(fixedpoint.One()) <= 0 {
		return InitResult{}, fmt.Errorf("strike %s must exceed 1: %w", fixedpoint.FormatWad(strike), fixedpoint.ErrDomain)
	}
	if now >= st.Params.Maturity {
		return InitResult{}, ErrMaturityReached
	}

	idx, err := e.index.Index(ctx)
	if err != nil {
		return InitResult{}, fmt.Errorf("read yield index: %w", err)
	}
	wrapped, err := fixedpoint.Upscale(assetAmount, st.Params.AssetDecimals)
	if err != nil {
		return InitResult{}, err
	}
	x, err := syToAsset(wrapped, idx)
	if err != nil {
		return InitResult{}, err
	}
	p := curve.Params{Strike: strike, Sigma: st.Params.Sigma, Tau: curve.Tau(st.Params.Maturity, now)}
	L, err := e.curve.LiquidityForPrice(x, priceHint, p)
	if err != nil {
		return InitResult{}, fmt.Errorf("initial liquidity: %w", err)
	}
	y, err := e.curve.SolveReserveClaim(x, L, p)
	if err != nil {
		return InitResult{}, fmt.Errorf("initial claim reserve: %w", err)
	}
	claimNative, err := fixedpoint.DownscaleUp(y, st.Params.ClaimDecimals)
	if err != nil {
		return InitResult{}, err
	}

	validate := func() (State, error) {
		residual, err := e.curve.TradingFunction(x, y, L, p)
		if err != nil {
			return State{}, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
		}
		if !curve.WithinToleranceAt(residual, p.Tau) {
			return State{}, fmt.Errorf("initial residual %s: %w", residual, ErrInvariantViolation)
		}
		rate, err := e.curve.ImpliedRate(x, L, p)
		if err != nil {
			return State{}, err
		}
		next := st.Clone()
		next.ReserveAsset = wrapped
		next.ReserveClaim = y
		next.TotalLiquidity = L
		next.TotalShares = new(uint256.Int).Set(L)
		next.Strike = new(uint256.Int).Set(strike)
		next.LastImpliedRate = rate
		next.LastUpdate = now
		return next, nil
	}
	pool := st.Params.Account()
	err = e.settle(ctx, "initialize", func(s *settlement) error {
		if err := s.transfer(ctx, e.ledger, st.Params.Asset, account, pool, assetAmount); err != nil {
			return err
		}
		if err := s.transfer(ctx, e.ledger, st.Params.Claim, account, pool, claimNative); err != nil {
			return err
		}
		return s.mint(ctx, e.shares, account, L)
	}, validate)
	if err != nil {
		return InitResult{}, err
	}
	e.logger.Info("pool initialized",
		zap.String("pool", st.Params.ID()),
		zap.String("liquidity", fixedpoint.FormatWad(L)),
		zap.String("claim", fixedpoint.FormatWad(y)),
		zap.String("strike", fixedpoint.FormatWad(strike)),
	)
	return InitResult{Liquidity: L, Claim: y, ClaimNative: claimNative, Shares: new(uint256.Int).Set(L)}, nil
}

// swap settles q for account: the input is pulled, the output paid, then the
// adjustment is validated and committed.
func (e *Engine) swap(ctx context.Context, account common.Address, st State, q Quote) error {
	tokenIn, tokenOut := st.Params.Asset, st.Params.Claim
	if q.Direction == ClaimIn || q.Direction == AssetOut {
		tokenIn, tokenOut = tokenOut, tokenIn
	}
	pool := st.Params.Account()
	return e.settle(ctx, q.Direction.String(), func(s *settlement) error {
		if err := s.transfer(ctx, e.ledger, tokenIn, account, pool, q.AmountInNative); err != nil {
			return err
		}
		return s.transfer(ctx, e.ledger, tokenOut, pool, account, q.AmountOutNative)
	}, func() (State, error) {
		return e.adjusted(ctx, st, q.Adjustment())
	})
}

func slippage(what string, got, limit *uint256.Int) error {
	return fmt.Errorf("%s %s vs limit %s: %w", what, got.Dec(), limit.Dec(), ErrSlippageExceeded)
}

// Swap runs a swap in direction d. For exact-input directions limit is the
// minimum output, for exact-output directions it is the maximum input.
func (e *Engine) Swap(ctx context.Context, account common.Address, d Direction, amount, limit *uint256.Int, now uint64) (Quote, error) {
	release, err := e.enter()
	if err != nil {
		return Quote{}, err
	}
	defer release()

	st, pc, err := e.prepare(ctx, now)
	if err != nil {
		return Quote{}, err
	}
	var q Quote
	switch d {
	case AssetIn, AssetOut:
		scaled, err := fixedpoint.Upscale(amount, st.Params.AssetDecimals)
		if err != nil {
			return Quote{}, err
		}
		if d == AssetIn {
			q, err = e.quoteAssetIn(st, pc, scaled)
		} else {
			q, err = e.quoteAssetOut(st, pc, scaled)
		}
		if err != nil {
			return Quote{}, err
		}
	case ClaimIn, ClaimOut:
		scaled, err := fixedpoint.Upscale(amount, st.Params.ClaimDecimals)
		if err != nil {
			return Quote{}, err
		}
		if d == ClaimIn {
			q, err = e.quoteClaimIn(st, pc, scaled)
		} else {
			q, err = e.quoteClaimOut(st, pc, scaled)
		}
		if err != nil {
			return Quote{}, err
		}
	default:
		return Quote{}, fmt.Errorf("swap: %s", d)
	}

	switch d {
	case AssetIn, ClaimIn:
		if q.AmountOutNative.Lt(limit) {
			return Quote{}, slippage("amount out", q.AmountOutNative, limit)
		}
	default:
		if q.AmountInNative.Gt(limit) {
			return Quote{}, slippage("amount in", q.AmountInNative, limit)
		}
	}
	if err := e.swap(ctx, account, st, q); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// SwapExactAssetIn sells amountIn wrapped asset for at least minOut claims.
func (e *Engine) SwapExactAssetIn(ctx context.Context, account common.Address, amountIn, minOut *uint256.Int, now uint64) (Quote, error) {
	return e.Swap(ctx, account, AssetIn, amountIn, minOut, now)
}

// SwapExactClaimIn sells amountIn claims for at least minOut wrapped asset.
func (e *Engine) SwapExactClaimIn(ctx context.Context, account common.Address, amountIn, minOut *uint256.Int, now uint64) (Quote, error) {
	return e.Swap(ctx, account, ClaimIn, amountIn, minOut, now)
}

// SwapAssetForExactClaimOut buys amountOut claims for at most maxIn wrapped asset.
func (e *Engine) SwapAssetForExactClaimOut(ctx context.Context, account common.Address, amountOut, maxIn *uint256.Int, now uint64) (Quote, error) {
	return e.Swap(ctx, account, ClaimOut, amountOut, maxIn, now)
}

// SwapClaimForExactAssetOut buys amountOut wrapped asset for at most maxIn claims.
func (e *Engine) SwapClaimForExactAssetOut(ctx context.Context, account common.Address, amountOut, maxIn *uint256.Int, now uint64) (Quote, error) {
	return e.Swap(ctx, account, AssetOut, amountOut, maxIn, now)
}

// Allocate deposits amount native units of one leg plus at most maxOther of the
// other and mints shares to account.
func (e *Engine) Allocate(ctx context.Context, account common.Address, inTermsOfAsset bool, amount, maxOther *uint256.Int, now uint64) (AllocateQuote, error) {
	release, err := e.enter()
	if err != nil {
		return AllocateQuote{}, err
	}
	defer release()

	st := e.State()
	q, err := e.QuoteAllocate(ctx, inTermsOfAsset, amount, now)
	if err != nil {
		return AllocateQuote{}, err
	}
	other := q.ClaimNative
	if !inTermsOfAsset {
		other = q.AssetNative
	}
	if other.Gt(maxOther) {
		return AllocateQuote{}, slippage("allocate other leg", other, maxOther)
	}

	pool := st.Params.Account()
	err = e.settle(ctx, "allocate", func(s *settlement) error {
		if err := s.transfer(ctx, e.ledger, st.Params.Asset, account, pool, q.AssetNative); err != nil {
			return err
		}
		if err := s.transfer(ctx, e.ledger, st.Params.Claim, account, pool, q.ClaimNative); err != nil {
			return err
		}
		return s.mint(ctx, e.shares, account, q.SharesToMint)
	}, func() (State, error) {
		next, err := e.adjusted(ctx, st, q.Adjustment())
		if err != nil {
			return State{}, err
		}
		next.TotalShares, err = fixedpoint.Add(next.TotalShares, q.SharesToMint)
		return next, err
	})
	if err != nil {
		return AllocateQuote{}, err
	}
	return q, nil
}

// Deallocate burns account's shares for deltaLiquidity and pays out both legs,
// failing if either is below its minimum.
func (e *Engine) Deallocate(ctx context.Context, account common.Address, deltaLiquidity, minAsset, minClaim *uint256.Int, now uint64) (DeallocateQuote, error) {
	release, err := e.enter()
	if err != nil {
		return DeallocateQuote{}, err
	}
	defer release()

	st := e.State()
	q, err := e.QuoteDeallocate(ctx, deltaLiquidity, now)
	if err != nil {
		return DeallocateQuote{}, err
	}
	if q.AssetNative.Lt(minAsset) {
		return DeallocateQuote{}, slippage("deallocate asset", q.AssetNative, minAsset)
	}
	if q.ClaimNative.Lt(minClaim) {
		return DeallocateQuote{}, slippage("deallocate claim", q.ClaimNative, minClaim)
	}

	pool := st.Params.Account()
	err = e.settle(ctx, "deallocate", func(s *settlement) error {
		if err := s.burn(ctx, e.shares, account, q.SharesToBurn); err != nil {
			return err
		}
		if err := s.transfer(ctx, e.ledger, st.Params.Asset, pool, account, q.AssetNative); err != nil {
			return err
		}
		return s.transfer(ctx, e.ledger, st.Params.Claim, pool, account, q.ClaimNative)
	}, func() (State, error) {
		next, err := e.adjusted(ctx, st, q.Adjustment())
		if err != nil {
			return State{}, err
		}
		next.TotalShares, err = fixedpoint.Sub(next.TotalShares, q.SharesToBurn)
		return next, err
	})
	if err != nil {
		return DeallocateQuote{}, err
	}
	return q, nil
}
