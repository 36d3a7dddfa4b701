package diagnostics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/volrisk/egarch"
	"github.com/rustyeddy/volrisk/riskerr"
)

var sample = []float64{0.5, -1.2, 0.3, 2.2, -0.7, 0.1, -3.1, 1.4, 0.9, -0.2, 0.6, -1.8}

func TestJarqueBeraKnownValue(t *testing.T) {
	t.Parallel()

	res, err := JarqueBera(sample)
	require.NoError(t, err)
	assert.Equal(t, 2, res.DF)
	assert.InDelta(t, 0.6060045400019325, res.Statistic, 1e-12)
	assert.InDelta(t, math.Exp(-res.Statistic/2), res.PValue, 1e-12)
}

func TestLjungBoxKnownValue(t *testing.T) {
	t.Parallel()

	res, err := LjungBox(sample, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, res.DF)
	assert.Equal(t, "ljung_box(3)", res.Name)
	assert.InDelta(t, 2.6425486183322984, res.Statistic, 1e-12)

	x := res.Statistic
	want := math.Erfc(math.Sqrt(x/2)) + math.Sqrt(2*x/math.Pi)*math.Exp(-x/2)
	assert.InDelta(t, want, res.PValue, 1e-10)
}

func TestARCHLMOneLagIsCorrelationSquared(t *testing.T) {
	t.Parallel()

	res, err := ARCHLM(sample, 1)
	require.NoError(t, err)

	// With one regressor R² is the squared correlation of e²_t and e²_{t-1}.
	var mean float64
	for _, v := range sample {
		mean += v
	}
	mean /= float64(len(sample))
	sq := make([]float64, len(sample))
	for i, v := range sample {
		sq[i] = (v - mean) * (v - mean)
	}
	y, x := sq[1:], sq[:len(sq)-1]
	r := corr(x, y)
	assert.InDelta(t, float64(len(y))*r*r, res.Statistic, 1e-9)
}

func corr(x, y []float64) float64 {
	n := float64(len(x))
	var mx, my float64
	for i := range x {
		mx += x[i]
		my += y[i]
	}
	mx /= n
	my /= n
	var sxy, sxx, syy float64
	for i := range x {
		sxy += (x[i] - mx) * (y[i] - my)
		sxx += (x[i] - mx) * (x[i] - mx)
		syy += (y[i] - my) * (y[i] - my)
	}
	return sxy / math.Sqrt(sxx*syy)
}

func TestARCHLMDetectsVolatilityClustering(t *testing.T) {
	t.Parallel()

	clustered, err := egarch.Simulate(egarch.Params{Omega: 0.01, Alpha: 0.25, Gamma: 0, Beta: 0.95, Nu: 8}, 3000, 17)
	require.NoError(t, err)
	res, err := ARCHLM(clustered.Returns, 5)
	require.NoError(t, err)
	assert.Less(t, res.PValue, 0.001)

	// Standardizing by the true volatility removes the effect.
	z := make([]float64, len(clustered.Returns))
	for i, r := range clustered.Returns {
		z[i] = r / math.Sqrt(clustered.Variance[i])
	}
	res, err = ARCHLM(z, 5)
	require.NoError(t, err)
	assert.Greater(t, res.PValue, 0.001)
}

func TestDiagnosticsErrors(t *testing.T) {
	t.Parallel()

	_, err := JarqueBera([]float64{1, 2})
	assert.True(t, riskerr.Is(err, riskerr.KindInsufficientData))

	_, err = LjungBox(make([]float64, 50), 5)
	assert.True(t, riskerr.Is(err, riskerr.KindValidation))

	_, err = LjungBox(sample, 0)
	assert.True(t, riskerr.Is(err, riskerr.KindValidation))

	_, err = ARCHLM(sample, 6)
	assert.True(t, riskerr.Is(err, riskerr.KindInsufficientData))
}

func TestRun(t *testing.T) {
	t.Parallel()

	s, err := Run(sample, 3, 1, 1)
	require.NoError(t, err)
	names := []string{}
	for _, tt := range s.Tests() {
		names = append(names, tt.Name)
		assert.GreaterOrEqual(t, tt.PValue, 0.0)
		assert.LessOrEqual(t, tt.PValue, 1.0)
	}
	assert.Equal(t, []string{"jarque_bera", "ljung_box(3)", "ljung_box_sq(3)", "arch_lm(1)", "adf"}, names)
	assert.LessOrEqual(t, s.ADF.DF, 1)
	assert.Contains(t, s.JarqueBera.String(), "jarque_bera: stat=0.6060")
}
