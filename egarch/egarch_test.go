package egarch

import (
	"context"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/volrisk/dist"
	"github.com/rustyeddy/volrisk/riskerr"
)

var trueParams = Params{Mu: 0, Omega: 0.01, Alpha: 0.05, Gamma: 0.05, Beta: 0.90, Nu: 5}

func TestFilterKeepsVariancePositive(t *testing.T) {
	t.Parallel()

	spiky := make([]float64, 400)
	for i := range spiky {
		switch i % 7 {
		case 0:
			spiky[i] = 1e6
		case 3:
			spiky[i] = -1e6
		}
	}

	tests := []struct {
		name    string
		params  Params
		returns []float64
		h0      float64
	}{
		{"explosive omega", Params{Omega: 40, Alpha: 3, Gamma: -2, Beta: 0.999, Nu: 3}, spiky, 0},
		{"collapsing omega", Params{Omega: -40, Alpha: -3, Gamma: 2, Beta: 0.999, Nu: 2.1}, spiky, 0},
		{"negative beta", Params{Omega: 1, Alpha: 0.5, Gamma: 0.5, Beta: -0.99, Nu: 30}, spiky, 10},
		{"all zero returns", Params{Omega: 0.01, Alpha: 0.05, Gamma: 0.05, Beta: 0.9, Nu: 5}, make([]float64, 200), math.Inf(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := tt.params.Filter(tt.returns, tt.h0)
			for i, v := range path.Variance() {
				require.Truef(t, v > 0 && !math.IsInf(v, 0), "variance %g at %d", v, i)
			}
			for _, h := range path.LogVariance {
				require.GreaterOrEqual(t, h, MinLogVariance)
				require.LessOrEqual(t, h, MaxLogVariance)
			}
		})
	}
}

func TestLogLikelihoodMatchesDensity(t *testing.T) {
	t.Parallel()

	sim, err := Simulate(trueParams, 300, 7)
	require.NoError(t, err)
	h0 := InitialLogVariance(sim.Returns)

	path := trueParams.Filter(sim.Returns, h0)
	var want float64
	for i, z := range path.Z {
		want += dist.LogPDF(trueParams.Nu, z) - 0.5*path.LogVariance[i]
	}
	got := trueParams.LogLikelihood(sim.Returns, h0)
	assert.InEpsilon(t, want, got, 1e-10)
}

func TestLayoutRoundTrip(t *testing.T) {
	t.Parallel()

	p := Params{Mu: 0.02, Omega: -0.1, Alpha: 0.12, Gamma: -0.07, Beta: 0.95, Nu: 6.5}
	for _, lay := range []layout{{estimateMu: true}, {estimateMu: false, mu: 0.02}} {
		x := lay.pack(p)
		assert.Len(t, x, lay.dim())
		back := lay.unpack(x)
		assert.InDelta(t, p.Beta, back.Beta, 1e-12)
		assert.InDelta(t, p.Nu, back.Nu, 1e-12)
		assert.InDelta(t, p.Mu, back.Mu, 1e-12)
		assert.Equal(t, p, lay.fromNatural(lay.natural(p)))
	}

	// Any real vector maps into the admissible region.
	q := layout{estimateMu: true}.unpack([]float64{0, 0, 0, 0, 3, -10})
	assert.NoError(t, q.Validate())
	assert.Greater(t, q.Nu, dist.MinNu)
	assert.Less(t, q.Persistence(), 1.0)
}

func TestParamsValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, trueParams.Validate())
	assert.Error(t, Params{Beta: 1, Nu: 5}.Validate())
	assert.Error(t, Params{Beta: -1.2, Nu: 5}.Validate())
	assert.Error(t, Params{Beta: 0.5, Nu: 2}.Validate())
	assert.Error(t, Params{Omega: math.NaN(), Nu: 5}.Validate())

	assert.InDelta(t, 0.9, Params{Beta: -0.9}.Persistence(), 1e-15)
	assert.True(t, trueParams.Stationary(0.95))
	assert.False(t, trueParams.Stationary(0.9))
	assert.InDelta(t, 0.1, trueParams.UnconditionalLogVariance(), 1e-12)
}

func TestForecasterMatchesFilter(t *testing.T) {
	t.Parallel()

	sim, err := Simulate(trueParams, 50, 3)
	require.NoError(t, err)
	path := trueParams.Filter(sim.Returns, 0.2)

	f := NewForecaster(trueParams, path.LogVariance[0], path.Z[0])
	for k := 1; k < len(sim.Returns); k++ {
		assert.InEpsilon(t, math.Exp(path.LogVariance[k]), f.OneStep(), 1e-12, "step %d", k)
		f = f.Next(sim.Returns[k])
	}
}

func TestForecasterRevertsToUnconditional(t *testing.T) {
	t.Parallel()

	f := NewForecaster(trueParams, 3, -2.5)
	fc := f.Forecast(400)
	require.Len(t, fc, 400)
	assert.InEpsilon(t, math.Exp(trueParams.UnconditionalLogVariance()), fc[399], 1e-9)

	// Starting above the mean, the multi-step path decays monotonically.
	for k := 2; k < len(fc); k++ {
		assert.LessOrEqual(t, fc[k], fc[k-1])
	}
}

func TestForecasterSequenceIsRestartable(t *testing.T) {
	t.Parallel()

	f := NewForecaster(trueParams, 0.5, 1.2)
	seq := f.Variances(10)

	var first, second []float64
	for _, v := range seq {
		first = append(first, v)
	}
	for k, v := range seq {
		second = append(second, v)
		if k == 4 {
			break
		}
	}
	assert.Len(t, first, 10)
	assert.Equal(t, first[:4], second[:4])
	assert.Len(t, second, 4)
	assert.Equal(t, first, f.Forecast(10))

	// Next does not mutate the receiver.
	_ = f.Next(5)
	assert.Equal(t, first, f.Forecast(10))
	assert.Empty(t, f.Forecast(0))
}

func TestSimulateIsDeterministic(t *testing.T) {
	t.Parallel()

	a, err := Simulate(trueParams, 100, 42)
	require.NoError(t, err)
	b, err := Simulate(trueParams, 100, 42)
	require.NoError(t, err)
	c, err := Simulate(trueParams, 100, 43)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.Returns, c.Returns)
	for _, v := range a.Variance {
		assert.Greater(t, v, 0.0)
	}

	_, err = Simulate(Params{Beta: 1, Nu: 5}, 10, 1)
	assert.Error(t, err)
	_, err = Simulate(trueParams, 0, 1)
	assert.Error(t, err)
}

func TestFitInsufficientData(t *testing.T) {
	t.Parallel()

	e := NewEstimator(DefaultOptions(), zerolog.Nop())
	_, err := e.Fit(context.Background(), make([]float64, 20))
	require.Error(t, err)
	assert.True(t, riskerr.Is(err, riskerr.KindInsufficientData))
}

func TestFitRejectsInvalidOptions(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Mean = "ar1"
	_, err := NewEstimator(opts, zerolog.Nop()).Fit(context.Background(), make([]float64, 200))
	require.Error(t, err)
	assert.True(t, riskerr.Is(err, riskerr.KindValidation))
}

func TestFitIterationCapIsNonConvergence(t *testing.T) {
	t.Parallel()

	sim, err := Simulate(trueParams, 500, 11)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.MaxIterations = 1
	opts.Restarts = 0
	obs := &recordingObserver{}
	e := NewEstimator(opts, zerolog.Nop())
	e.Observer = obs

	_, err = e.Fit(context.Background(), sim.Returns)
	require.Error(t, err)
	assert.True(t, riskerr.Is(err, riskerr.KindNonConvergence))
	assert.Equal(t, []string{"non_convergence"}, obs.outcomes)
}

func TestFitCancelledContext(t *testing.T) {
	t.Parallel()

	sim, err := Simulate(trueParams, 500, 12)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewEstimator(DefaultOptions(), zerolog.Nop()).Fit(ctx, sim.Returns)
	require.Error(t, err)
	assert.True(t, riskerr.Is(err, riskerr.KindNonConvergence))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFitStationarityBound(t *testing.T) {
	if testing.Short() {
		t.Skip("fits a model")
	}
	t.Parallel()

	sim, err := Simulate(trueParams, 1500, 5)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.StationarityBound = 0.3
	_, err = NewEstimator(opts, zerolog.Nop()).Fit(context.Background(), sim.Returns)
	require.Error(t, err)
	assert.True(t, riskerr.Is(err, riskerr.KindNonStationarity))
}

func TestFitRecoversParameters(t *testing.T) {
	if testing.Short() {
		t.Skip("fits several models")
	}
	t.Parallel()

	seeds := []uint64{101, 202, 303, 404, 505}
	var omega, alpha, gamma, beta, nu []float64
	withInference := 0
	e := NewEstimator(DefaultOptions(), zerolog.Nop())

	for _, seed := range seeds {
		sim, err := Simulate(trueParams, 2000, seed)
		require.NoError(t, err)

		fit, err := e.Fit(context.Background(), sim.Returns)
		require.NoError(t, err, "seed %d", seed)

		assert.Equal(t, 2000, fit.NumObs)
		assert.Equal(t, 6, fit.NumParams)
		assert.InDelta(t, 2*6-2*fit.LogLikelihood, fit.AIC, 1e-9)
		assert.Greater(t, fit.BIC, fit.AIC)
		assert.Len(t, fit.Path.LogVariance, 2000)
		if fit.Inference != nil {
			withInference++
			assert.Greater(t, fit.Inference.StdErr.Beta, 0.0)
			assert.Greater(t, fit.Inference.StdErr.Nu, 0.0)
		}

		// The fitted optimum beats the generating parameters in-sample.
		trueAtMean := trueParams
		trueAtMean.Mu = fit.Params.Mu
		assert.GreaterOrEqual(t, fit.LogLikelihood+1e-6, trueAtMean.LogLikelihood(sim.Returns, fit.H0))

		omega = append(omega, fit.Params.Omega)
		alpha = append(alpha, fit.Params.Alpha)
		gamma = append(gamma, fit.Params.Gamma)
		beta = append(beta, fit.Params.Beta)
		nu = append(nu, fit.Params.Nu)
	}

	// At n=2000 the standard errors of α̂ and γ̂ are near 0.012 and ω̂ moves
	// with β̂ along a ridge, so the median of five fits is held to roughly
	// two standard errors rather than a relative band.
	assert.InDelta(t, trueParams.Beta, median(beta), 0.15*trueParams.Beta)
	assert.InDelta(t, trueParams.Alpha, median(alpha), 0.02)
	assert.InDelta(t, trueParams.Gamma, median(gamma), 0.025)
	assert.InDelta(t, trueParams.Omega, median(omega), 0.02)
	assert.InDelta(t, trueParams.Nu, median(nu), 2.5)
	assert.Positive(t, withInference)
}

func TestFitConvergesOnShortSamples(t *testing.T) {
	if testing.Short() {
		t.Skip("fits forty samples")
	}
	t.Parallel()

	e := NewEstimator(DefaultOptions(), zerolog.Nop())
	for seed := uint64(1); seed <= 40; seed++ {
		sim, err := Simulate(trueParams, 700, seed)
		require.NoError(t, err)

		fit, err := e.Fit(context.Background(), sim.Returns)
		require.NoError(t, err, "seed %d", seed)
		assert.True(t, fit.Params.Stationary(DefaultOptions().StationarityBound), "seed %d", seed)
	}
}

func median(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	return s[len(s)/2]
}

type recordingObserver struct {
	outcomes []string
}

func (r *recordingObserver) ObserveFit(outcome string, _ int, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}
