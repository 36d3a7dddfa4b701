package diagnostics

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rustyeddy/volrisk/riskerr"
)

func TestADFPValue(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tau  float64
		want float64
		tol  float64
	}{
		{"asymptotic 5% critical value", -2.86154, 0.05, 0.002},
		{"zero", 0, 0.9585, 0.001},
		{"above range", 3, 1, 0},
		{"below range", -20, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ADFPValue(tt.tau), tt.tol)
		})
	}
}

func TestADFCritical(t *testing.T) {
	t.Parallel()

	c1, c5, c10 := ADFCritical(1 << 30)
	assert.InDelta(t, -3.43035, c1, 1e-6)
	assert.InDelta(t, -2.86154, c5, 1e-6)
	assert.InDelta(t, -2.56677, c10, 1e-6)

	// Small samples push the critical values further out.
	s1, s5, _ := ADFCritical(50)
	assert.Less(t, s1, c1)
	assert.Less(t, s5, c5)
}

func TestADFWithoutLagsIsSimpleRegression(t *testing.T) {
	t.Parallel()

	x := make([]float64, 200)
	src := rand.NewPCG(7, 8)
	for i := 1; i < len(x); i++ {
		x[i] = 0.8*x[i-1] + distuv.Normal{Mu: 0, Sigma: 1, Src: src}.Rand()
	}
	res, err := ADF(x, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.DF)
	assert.Equal(t, 199, res.Observations)

	// Δx_t on [1, x_{t−1}]: τ = b/se(b) with b = Sxy/Sxx.
	lag := x[:199]
	dx := make([]float64, 199)
	for i := range dx {
		dx[i] = x[i+1] - x[i]
	}
	alpha, b := stat.LinearRegression(lag, dx, nil, false)
	var ssr float64
	for i := range dx {
		e := dx[i] - alpha - b*lag[i]
		ssr += e * e
	}
	_, vx := stat.PopMeanVariance(lag, nil)
	se := math.Sqrt(ssr / 197 / (vx * 199))
	assert.InDelta(t, b/se, res.Statistic, 1e-8)
	assert.Less(t, res.PValue, 0.05)
}

func TestADFSeparatesUnitRootFromNoise(t *testing.T) {
	t.Parallel()

	src := rand.NewPCG(42, 43)
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	noise := make([]float64, 1000)
	walk := make([]float64, 1000)
	for i := range noise {
		noise[i] = norm.Rand()
		if i > 0 {
			walk[i] = walk[i-1] + noise[i]
		}
	}

	res, err := ADF(noise, AutoLags)
	require.NoError(t, err)
	assert.Less(t, res.PValue, 0.001)
	assert.Less(t, res.Statistic, res.Critical1)
	assert.LessOrEqual(t, res.DF, 22)

	res, err = ADF(walk, AutoLags)
	require.NoError(t, err)
	assert.Greater(t, res.PValue, 0.01)
	assert.Greater(t, res.Statistic, res.Critical1)
}

func TestADFErrors(t *testing.T) {
	t.Parallel()

	_, err := ADF(sample[:8], 0)
	assert.True(t, riskerr.Is(err, riskerr.KindInsufficientData))

	_, err = ADF(sample, 5)
	assert.True(t, riskerr.Is(err, riskerr.KindValidation))

	_, err = ADF(sample, -2)
	assert.True(t, riskerr.Is(err, riskerr.KindValidation))

	_, err = ADF(make([]float64, 40), AutoLags)
	assert.True(t, riskerr.Is(err, riskerr.KindValidation))
}
