package mark

import (
	"fmt"
	"math/big"
	"strings"

	"claimCurve/internal/model"
)

// Accumulator holds aggregate values for a pool window.
type Accumulator struct {
	PoolID       string
	WindowStart  uint64
	WindowEnd    uint64
	TradeCount   uint64
	VolumeAsset  *big.Int
	VolumeClaim  *big.Int
	FeeLiquidity *big.Int
	// Rates are signed WADs of the implied rate after each record.
	RateOpen  *big.Int
	RateClose *big.Int
	RateHigh  *big.Int
	RateLow   *big.Int
	Liquidity *big.Int
	LastStep  uint64
	LastTS    uint64
}

func NewAccumulator(record model.TradeRecord, windowStart, windowEnd uint64) *Accumulator {
	return &Accumulator{
		PoolID:       record.PoolID,
		WindowStart:  windowStart,
		WindowEnd:    windowEnd,
		VolumeAsset:  big.NewInt(0),
		VolumeClaim:  big.NewInt(0),
		FeeLiquidity: big.NewInt(0),
		LastStep:     record.Step,
		LastTS:       record.Timestamp,
	}
}

// AddTrade folds a journaled record into the window. Every record moves the
// rate and liquidity marks; only swaps count towards volume and fees.
func (a *Accumulator) AddTrade(record model.TradeRecord) error {
	rate, err := parseBigInt(record.ImpliedRate)
	if err != nil {
		return err
	}
	liquidity, err := parseBigInt(record.Liquidity)
	if err != nil {
		return err
	}

	if record.Timestamp >= a.LastTS {
		a.LastTS = record.Timestamp
		a.LastStep = record.Step
		a.RateClose = rate
		a.Liquidity = liquidity
	}
	if a.RateOpen == nil {
		a.RateOpen = rate
		a.RateClose = rate
		a.Liquidity = liquidity
	}
	if a.RateHigh == nil || rate.Cmp(a.RateHigh) > 0 {
		a.RateHigh = rate
	}
	if a.RateLow == nil || rate.Cmp(a.RateLow) < 0 {
		a.RateLow = rate
	}

	if !record.IsSwap() {
		return nil
	}
	return a.applySwap(record)
}

func (a *Accumulator) applySwap(record model.TradeRecord) error {
	amountIn, err := parseBigInt(record.AmountIn)
	if err != nil {
		return err
	}
	amountOut, err := parseBigInt(record.AmountOut)
	if err != nil {
		return err
	}
	delta, err := parseBigInt(record.DeltaLiquidity)
	if err != nil {
		return err
	}

	switch strings.ToLower(record.Op) {
	case "asset-in", "claim-out":
		absAdd(a.VolumeAsset, amountIn)
		absAdd(a.VolumeClaim, amountOut)
	case "claim-in", "asset-out":
		absAdd(a.VolumeClaim, amountIn)
		absAdd(a.VolumeAsset, amountOut)
	case "asset-for-yield":
		// The yield leg never touches the pool's reserves.
		absAdd(a.VolumeAsset, amountIn)
	}
	// Fees accrue to liquidity; a swap never shrinks it.
	if delta.Sign() > 0 {
		a.FeeLiquidity.Add(a.FeeLiquidity, delta)
	}

	a.TradeCount++
	return nil
}

func parseBigInt(value string) (*big.Int, error) {
	if value == "" {
		return big.NewInt(0), nil
	}
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid int: %s", value)
	}
	return parsed, nil
}

func absAdd(target *big.Int, value *big.Int) {
	if value == nil || target == nil {
		return
	}
	abs := new(big.Int).Abs(value)
	target.Add(target, abs)
}
