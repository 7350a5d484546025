package fixedpoint

import (
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

func wadFromString(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	require.True(t, ok, "bad literal %s", s)
	return v
}

func TestWadKnownValues(t *testing.T) {
	cases := []struct {
		name string
		fn   func(*big.Int) (*big.Int, error)
		in   string
		want string
	}{
		{"exp(0)", Exp, "0", "1000000000000000000"},
		{"exp(1)", Exp, "1000000000000000000", "2718281828459045235"},
		{"exp(-1)", Exp, "-1000000000000000000", "367879441171442321"},
		{"ln(1)", Ln, "1000000000000000000", "0"},
		{"ln(2)", Ln, "2000000000000000000", "693147180559945309"},
		{"ln(1.5)", Ln, "1500000000000000000", "405465108108164381"},
		{"cdf(0)", NormalCDF, "0", "500000000000000000"},
		{"cdf(1)", NormalCDF, "1000000000000000000", "841344746068542948"},
		{"cdf(-7)", NormalCDF, "-7000000000000000000", "1279812"},
		{"quantile(0.5)", NormalQuantile, "500000000000000000", "0"},
		{"quantile(0.975)", NormalQuantile, "975000000000000000", "1959963984540054235"},
		{"quantile(0.025)", NormalQuantile, "25000000000000000", "-1959963984540054235"},
		{"quantile(0.001)", NormalQuantile, "1000000000000000", "-3090232306167813541"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.fn(wadFromString(t, tc.in))
			require.NoError(t, err)
			require.Equal(t, tc.want, got.String())
		})
	}
}

func TestWadDomains(t *testing.T) {
	_, err := Exp(new(big.Int).Add(MaxExpInput, big.NewInt(1)))
	require.ErrorIs(t, err, ErrDomain)

	tiny, err := Exp(new(big.Int).Sub(MinExpInput, big.NewInt(1)))
	require.NoError(t, err)
	require.Zero(t, tiny.Sign())

	_, err = Ln(big.NewInt(0))
	require.ErrorIs(t, err, ErrDomain)
	_, err = Ln(big.NewInt(-1))
	require.ErrorIs(t, err, ErrDomain)

	_, err = NormalQuantile(big.NewInt(0))
	require.ErrorIs(t, err, ErrDomain)
	_, err = NormalQuantile(big.NewInt(1e18))
	require.ErrorIs(t, err, ErrDomain)

	edge, err := NormalQuantile(big.NewInt(1))
	require.NoError(t, err)
	require.Negative(t, edge.Sign())
}

func TestKernelCDFMatchesReference(t *testing.T) {
	k := DefaultKernel()
	for z := -8.0; z <= 8.0; z += 0.25 {
		got, _ := k.NormalCDF(big.NewFloat(z)).Float64()
		want := distuv.UnitNormal.CDF(z)
		require.InEpsilon(t, want, got, 1e-12, "cdf(%v)", z)

		pdf, _ := k.NormalPDF(big.NewFloat(z)).Float64()
		require.InEpsilon(t, distuv.UnitNormal.Prob(z), pdf, 1e-12, "pdf(%v)", z)
	}
}

func TestKernelQuantileMatchesReference(t *testing.T) {
	k := DefaultKernel()
	probs := []float64{1e-12, 1e-6, 0.001, 0.01, 0.1, 0.25, 0.4, 0.6, 0.75, 0.9, 0.99, 0.999, 1 - 1e-6}
	for _, p := range probs {
		got, err := k.NormalQuantile(big.NewFloat(p))
		require.NoError(t, err)
		z, _ := got.Float64()
		require.InDelta(t, distuv.UnitNormal.Quantile(p), z, 1e-9, "quantile(%v)", p)
	}
}

func TestKernelQuantileInvertsCDF(t *testing.T) {
	k := DefaultKernel()
	tol := new(big.Float).SetMantExp(big.NewFloat(1), -200)
	for _, s := range []string{"1e-40", "3.3e-19", "0.0001", "0.3", "0.5000000001", "0.87", "0.999999999999"} {
		p, _, err := big.ParseFloat(s, 10, k.Prec(), big.ToNearestEven)
		require.NoError(t, err)

		z, err := k.NormalQuantile(p)
		require.NoError(t, err)
		back := k.NormalCDF(z)

		diff := new(big.Float).Sub(back, p)
		diff.Abs(diff).Quo(diff, p)
		require.True(t, diff.Cmp(tol) < 0, "p=%s relative error %s", s, diff.Text('g', 5))
	}
}

func TestKernelExpLnRoundTrip(t *testing.T) {
	k := DefaultKernel()
	tol := new(big.Float).SetMantExp(big.NewFloat(1), -240)
	for _, x := range []float64{1e-30, 0.001, 0.5, 1, math.Pi, 1234.5678, 1e40} {
		in := new(big.Float).SetPrec(k.Prec()).SetFloat64(x)
		l, err := k.Ln(in)
		require.NoError(t, err)
		back, err := k.Exp(l)
		require.NoError(t, err)

		diff := new(big.Float).Sub(back, in)
		diff.Abs(diff).Quo(diff, in)
		require.True(t, diff.Cmp(tol) < 0, "x=%v relative error %s", x, diff.Text('g', 5))
	}

	ln2, err := k.Ln(big.NewFloat(2))
	require.NoError(t, err)
	got, _ := ln2.Float64()
	require.Equal(t, math.Ln2, got)
}

func TestKernelRejectsOutOfDomain(t *testing.T) {
	k := DefaultKernel()

	_, err := k.Ln(big.NewFloat(0))
	require.ErrorIs(t, err, ErrDomain)
	_, err = k.Sqrt(big.NewFloat(-1))
	require.ErrorIs(t, err, ErrDomain)
	_, err = k.NormalQuantile(big.NewFloat(1))
	require.ErrorIs(t, err, ErrDomain)
	_, err = k.NormalQuantile(big.NewFloat(-0.5))
	require.ErrorIs(t, err, ErrDomain)
	_, err = k.Exp(new(big.Float).SetMantExp(big.NewFloat(1), 40))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestNewKernelLowPrecision(t *testing.T) {
	k := NewKernel(80)
	require.Equal(t, uint(80), k.Prec())

	v, _ := k.NormalCDF(big.NewFloat(1.5)).Float64()
	require.InEpsilon(t, distuv.UnitNormal.CDF(1.5), v, 1e-14)
}
