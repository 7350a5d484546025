package pool

import (
	"context"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"claimCurve/internal/curve"
	"claimCurve/internal/fixedpoint"
)

// Adjustment is a signed change to reserves and liquidity, checked against the
// curve at Strike and the tau of Timestamp.
type Adjustment struct {
	DeltaAsset     *big.Int
	DeltaClaim     *big.Int
	DeltaLiquidity *big.Int
	Strike         *uint256.Int
	Timestamp      uint64
}

func isZero(x *big.Int) bool { return x == nil || x.Sign() == 0 }

// IsZero reports whether the adjustment moves nothing.
func (a Adjustment) IsZero() bool {
	return isZero(a.DeltaAsset) && isZero(a.DeltaClaim) && isZero(a.DeltaLiquidity)
}

// ApplyAdjustment commits a quote's deltas. The post-state must satisfy the trading
// function within curve.Tolerance, scaled by tau below one year, or nothing changes. A zero adjustment only
// re-validates the stored state.
func (e *Engine) ApplyAdjustment(ctx context.Context, adj Adjustment) error {
	release, err := e.enter()
	if err != nil {
		return err
	}
	defer release()

	st := e.State()
	next, err := e.adjusted(ctx, st, adj)
	if err != nil {
		return err
	}
	if !adj.IsZero() {
		e.commit(next)
	}
	return nil
}

// adjusted returns st moved by adj, with the rate memory and strike refreshed.
func (e *Engine) adjusted(ctx context.Context, st State, adj Adjustment) (State, error) {
	if !st.Initialized() {
		return State{}, ErrNotInitialized
	}
	strike := adj.Strike
	if strike == nil {
		strike = st.Strike
	}

	next := st.Clone()
	var err error
	if next.ReserveAsset, err = fixedpoint.ApplyDelta(st.ReserveAsset, adj.DeltaAsset); err != nil {
		return State{}, fmt.Errorf("apply asset delta: %w", err)
	}
	if next.ReserveClaim, err = fixedpoint.ApplyDelta(st.ReserveClaim, adj.DeltaClaim); err != nil {
		return State{}, fmt.Errorf("apply claim delta: %w", err)
	}
	if next.TotalLiquidity, err = fixedpoint.ApplyDelta(st.TotalLiquidity, adj.DeltaLiquidity); err != nil {
		return State{}, fmt.Errorf("apply liquidity delta: %w", err)
	}
	if next.TotalLiquidity.IsZero() {
		if next.ReserveAsset.IsZero() && next.ReserveClaim.IsZero() {
			next.LastUpdate = adj.Timestamp
			return next, nil
		}
		return State{}, fmt.Errorf("liquidity drained with reserves left: %w", ErrInvariantViolation)
	}

	idx, err := e.index.Index(ctx)
	if err != nil {
		return State{}, fmt.Errorf("read yield index: %w", err)
	}
	x, err := syToAsset(next.ReserveAsset, idx)
	if err != nil {
		return State{}, err
	}
	tau := curve.Tau(st.Params.Maturity, adj.Timestamp)
	p := curve.Params{Strike: strike, Sigma: st.Params.Sigma, Tau: tau}

	residual, err := e.curve.TradingFunction(x, next.ReserveClaim, next.TotalLiquidity, p)
	if err != nil {
		return State{}, fmt.Errorf("%w: evaluate trading function: %w", ErrInvariantViolation, err)
	}
	if !curve.WithinToleranceAt(residual, tau) {
		return State{}, fmt.Errorf("residual %s at %s: %w", residual, p, ErrInvariantViolation)
	}
	if adj.IsZero() {
		return st, nil
	}

	if !tau.IsZero() {
		rate, err := e.curve.ImpliedRate(x, next.TotalLiquidity, p)
		if err != nil {
			return State{}, fmt.Errorf("implied rate: %w", err)
		}
		next.LastImpliedRate = rate
	}
	next.Strike, err = e.curve.StrikeFromImpliedRate(x, next.TotalLiquidity, st.Params.Sigma, tau, next.LastImpliedRate)
	if err != nil {
		return State{}, fmt.Errorf("refresh strike: %w", err)
	}
	next.LastUpdate = adj.Timestamp

	e.logger.Debug("adjustment validated",
		zap.String("pool", st.Params.ID()),
		zap.String("residual", residual.String()),
		zap.String("rate", fixedpoint.FormatSignedWad(next.LastImpliedRate)),
		zap.Uint64("ts", adj.Timestamp),
	)
	return next, nil
}
