package curve

import (
	"github.com/holiman/uint256"

	"claimCurve/internal/fixedpoint"
)

// SecondsPerYear is the annualization base used for tau and implied rates.
const SecondsPerYear = 365 * 24 * 60 * 60

var secondsPerYear = uint256.NewInt(SecondsPerYear)

// Tau returns the time remaining until maturity in WAD years. It is exactly zero at
// or after maturity and strictly decreasing before it.
func Tau(maturity, now uint64) *uint256.Int {
	if now >= maturity {
		return new(uint256.Int)
	}
	return YearsFromSeconds(maturity - now)
}

// YearsFromSeconds converts a duration in seconds to WAD years, truncating.
func YearsFromSeconds(seconds uint64) *uint256.Int {
	z := new(uint256.Int).Mul(uint256.NewInt(seconds), fixedpoint.One())
	return z.Div(z, secondsPerYear)
}
