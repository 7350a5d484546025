package mark

import (
	"math/big"
	"time"

	"claimCurve/internal/fixedpoint"
)

const ratioScale = 18

func formatTokenAmount(value *big.Int, decimals uint8) string {
	if value == nil {
		return "0"
	}
	if decimals == 0 {
		return value.String()
	}
	sign := value.Sign()
	abs := new(big.Int).Abs(value)
	denom := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat := new(big.Rat).SetFrac(abs, denom)
	text := rat.FloatString(int(decimals))
	if sign < 0 {
		return "-" + text
	}
	return text
}

func formatWadPtr(value *big.Int) *string {
	if value == nil {
		return nil
	}
	text := formatTokenAmount(value, fixedpoint.Decimals)
	return &text
}

// computeFeeRate is the liquidity grown through fees per unit of liquidity.
func computeFeeRate(fee *big.Int, liquidity *big.Int) *string {
	if fee == nil || fee.Sign() == 0 || liquidity == nil || liquidity.Sign() == 0 {
		return nil
	}
	rat := new(big.Rat).SetFrac(fee, liquidity)
	text := rat.FloatString(ratioScale)
	return &text
}

func computeAPR(feeRate *string, windowSeconds uint64) *string {
	if windowSeconds == 0 || feeRate == nil {
		return nil
	}
	rat, ok := new(big.Rat).SetString(*feeRate)
	if !ok {
		return nil
	}
	yearSeconds := big.NewRat(int64(365*24*time.Hour/time.Second), 1)
	window := big.NewRat(int64(windowSeconds), 1)
	apr := new(big.Rat).Mul(rat, yearSeconds)
	apr.Quo(apr, window)
	val := apr.FloatString(ratioScale)
	return &val
}
