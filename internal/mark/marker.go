package mark

import (
	"context"
	"fmt"
	"math/big"

	"claimCurve/internal/curve"
	"claimCurve/internal/fixedpoint"
	"claimCurve/internal/model"
	"claimCurve/internal/pool"
)

// Source is the read side of a pool engine.
type Source interface {
	State() pool.State
	PreCompute(ctx context.Context, now uint64) (pool.PreCompute, error)
	TradingFunction(ctx context.Context, now uint64) (*big.Int, error)
	Curve() *curve.Curve
}

// Marker reads the curve of one pool.
type Marker struct {
	source Source
}

func NewMarker(source Source) *Marker {
	return &Marker{source: source}
}

// Mark prices the pool at now the way a quote would see it. At maturity the
// implied rate is the stored one.
func (m *Marker) Mark(ctx context.Context, now uint64) (model.Mark, error) {
	st := m.source.State()
	if !st.Initialized() {
		return model.Mark{}, pool.ErrNotInitialized
	}
	pc, err := m.source.PreCompute(ctx, now)
	if err != nil {
		return model.Mark{}, err
	}
	c := m.source.Curve()
	params := curve.Params{Strike: pc.Strike, Sigma: st.Params.Sigma, Tau: pc.Tau}

	spot, err := c.SpotPrice(pc.ReserveInAsset, pc.Liquidity, params)
	if err != nil {
		return model.Mark{}, fmt.Errorf("spot price: %w", err)
	}
	rate := st.LastImpliedRate
	if !pc.Tau.IsZero() {
		if rate, err = c.ImpliedRate(pc.ReserveInAsset, pc.Liquidity, params); err != nil {
			return model.Mark{}, fmt.Errorf("implied rate: %w", err)
		}
	}
	residual, err := m.source.TradingFunction(ctx, now)
	if err != nil {
		return model.Mark{}, fmt.Errorf("trading function: %w", err)
	}

	return model.Mark{
		PoolID:       st.Params.ID(),
		Timestamp:    now,
		Tau:          fixedpoint.FormatWad(pc.Tau),
		Index:        fixedpoint.FormatWad(pc.Index),
		ReserveAsset: fixedpoint.FormatWad(st.ReserveAsset),
		ReserveClaim: fixedpoint.FormatWad(st.ReserveClaim),
		Liquidity:    fixedpoint.FormatWad(pc.Liquidity),
		Strike:       fixedpoint.FormatWad(pc.Strike),
		SpotPrice:    fixedpoint.FormatWad(spot),
		ImpliedRate:  fixedpoint.FormatSignedWad(rate),
		Residual:     fixedpoint.FormatSignedWad(residual),
	}, nil
}

// DescribePool returns the storage row for the pool behind st. Token metadata
// carries addresses and decimals only; callers may fill in symbols.
func DescribePool(st pool.State, createdAt uint64) model.Pool {
	p := st.Params
	desc := model.Pool{
		ID:        p.ID(),
		Account:   p.Account().Hex(),
		Asset:     model.TokenMeta{Address: p.Asset.Hex(), Decimals: p.AssetDecimals},
		Claim:     model.TokenMeta{Address: p.Claim.Hex(), Decimals: p.ClaimDecimals},
		Yield:     model.TokenMeta{Address: p.Yield.Hex(), Decimals: p.ClaimDecimals},
		Sigma:     fixedpoint.FormatWad(p.Sigma),
		Fee:       fixedpoint.FormatWad(p.Fee),
		Maturity:  p.Maturity,
		CreatedAt: createdAt,
	}
	if st.Initialized() {
		desc.InitialStrike = fixedpoint.FormatWad(st.Strike)
	}
	return desc
}
