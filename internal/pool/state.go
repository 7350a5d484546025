package pool

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// State is the full pool state. Reserves are WAD amounts of the wrapped asset and
// the claim; the curve sees the asset side through the yield index.
type State struct {
	Params Params

	ReserveAsset   *uint256.Int
	ReserveClaim   *uint256.Int
	TotalLiquidity *uint256.Int
	TotalShares    *uint256.Int
	Strike         *uint256.Int
	// LastImpliedRate is the annualized rate ln(P)/τ seen after the last adjustment.
	LastImpliedRate *big.Int
	LastUpdate      uint64
}

// NewState returns an uninitialized state for params.
func NewState(params Params) State {
	return State{
		Params:          params,
		ReserveAsset:    new(uint256.Int),
		ReserveClaim:    new(uint256.Int),
		TotalLiquidity:  new(uint256.Int),
		TotalShares:     new(uint256.Int),
		Strike:          new(uint256.Int),
		LastImpliedRate: new(big.Int),
	}
}

// Initialized reports whether liquidity has been seeded.
func (s State) Initialized() bool {
	return s.TotalLiquidity != nil && !s.TotalLiquidity.IsZero()
}

func cloneU(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(x)
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := s
	out.Params.Sigma = cloneU(s.Params.Sigma)
	out.Params.Fee = cloneU(s.Params.Fee)
	out.ReserveAsset = cloneU(s.ReserveAsset)
	out.ReserveClaim = cloneU(s.ReserveClaim)
	out.TotalLiquidity = cloneU(s.TotalLiquidity)
	out.TotalShares = cloneU(s.TotalShares)
	out.Strike = cloneU(s.Strike)
	out.LastImpliedRate = new(big.Int)
	if s.LastImpliedRate != nil {
		out.LastImpliedRate.Set(s.LastImpliedRate)
	}
	return out
}

// Equal reports whether two states hold the same numbers.
func (s State) Equal(o State) bool {
	return s.Params.ID() == o.Params.ID() &&
		s.ReserveAsset.Eq(o.ReserveAsset) &&
		s.ReserveClaim.Eq(o.ReserveClaim) &&
		s.TotalLiquidity.Eq(o.TotalLiquidity) &&
		s.TotalShares.Eq(o.TotalShares) &&
		s.Strike.Eq(o.Strike) &&
		s.LastImpliedRate.Cmp(o.LastImpliedRate) == 0 &&
		s.LastUpdate == o.LastUpdate
}

type stateJSON struct {
	PoolID          string         `json:"pool_id"`
	Sigma           string         `json:"sigma"`
	Fee             string         `json:"fee"`
	Maturity        uint64         `json:"maturity"`
	AssetDecimals   uint8          `json:"asset_decimals"`
	ClaimDecimals   uint8          `json:"claim_decimals"`
	Asset           common.Address `json:"asset"`
	Claim           common.Address `json:"claim"`
	Yield           common.Address `json:"yield"`
	ReserveAsset    string         `json:"reserve_asset"`
	ReserveClaim    string         `json:"reserve_claim"`
	TotalLiquidity  string         `json:"total_liquidity"`
	TotalShares     string         `json:"total_shares"`
	Strike          string         `json:"strike"`
	LastImpliedRate string         `json:"last_implied_rate"`
	LastUpdate      uint64         `json:"last_update"`
}

// MarshalJSON encodes every WAD as a raw integer string.
func (s State) MarshalJSON() ([]byte, error) {
	c := s.Clone()
	return json.Marshal(stateJSON{
		PoolID:          c.Params.ID(),
		Sigma:           c.Params.Sigma.Dec(),
		Fee:             c.Params.Fee.Dec(),
		Maturity:        c.Params.Maturity,
		AssetDecimals:   c.Params.AssetDecimals,
		ClaimDecimals:   c.Params.ClaimDecimals,
		Asset:           c.Params.Asset,
		Claim:           c.Params.Claim,
		Yield:           c.Params.Yield,
		ReserveAsset:    c.ReserveAsset.Dec(),
		ReserveClaim:    c.ReserveClaim.Dec(),
		TotalLiquidity:  c.TotalLiquidity.Dec(),
		TotalShares:     c.TotalShares.Dec(),
		Strike:          c.Strike.Dec(),
		LastImpliedRate: c.LastImpliedRate.String(),
		LastUpdate:      c.LastUpdate,
	})
}

// UnmarshalJSON decodes the MarshalJSON form and checks the pool id.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw stateJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	fields := []struct {
		name string
		in   string
		out  **uint256.Int
	}{
		{"sigma", raw.Sigma, &s.Params.Sigma},
		{"fee", raw.Fee, &s.Params.Fee},
		{"reserve_asset", raw.ReserveAsset, &s.ReserveAsset},
		{"reserve_claim", raw.ReserveClaim, &s.ReserveClaim},
		{"total_liquidity", raw.TotalLiquidity, &s.TotalLiquidity},
		{"total_shares", raw.TotalShares, &s.TotalShares},
		{"strike", raw.Strike, &s.Strike},
	}
	for _, f := range fields {
		v, err := uint256.FromDecimal(f.in)
		if err != nil {
			return fmt.Errorf("decode %s %q: %w", f.name, f.in, err)
		}
		*f.out = v
	}
	rate, ok := new(big.Int).SetString(raw.LastImpliedRate, 10)
	if !ok {
		return fmt.Errorf("decode last_implied_rate %q", raw.LastImpliedRate)
	}
	s.LastImpliedRate = rate
	s.LastUpdate = raw.LastUpdate
	s.Params.Maturity = raw.Maturity
	s.Params.AssetDecimals = raw.AssetDecimals
	s.Params.ClaimDecimals = raw.ClaimDecimals
	s.Params.Asset = raw.Asset
	s.Params.Claim = raw.Claim
	s.Params.Yield = raw.Yield

	if raw.PoolID != "" && raw.PoolID != s.Params.ID() {
		return fmt.Errorf("pool id mismatch: stored %s, derived %s", raw.PoolID, s.Params.ID())
	}
	return nil
}
