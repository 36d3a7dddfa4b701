package walkforward

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/volrisk/egarch"
	"github.com/rustyeddy/volrisk/market"
	"github.com/rustyeddy/volrisk/riskerr"
)

func TestWindows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		n    int
		spec WindowSpec
		want []Window
	}{
		{
			name: "rolling",
			n:    10,
			spec: WindowSpec{Policy: Rolling, TrainLength: 4, Step: 3},
			want: []Window{
				{Index: 0, TrainStart: 0, TrainEnd: 4, TestStart: 4, TestEnd: 7},
				{Index: 1, TrainStart: 3, TrainEnd: 7, TestStart: 7, TestEnd: 10},
			},
		},
		{
			name: "expanding with short tail",
			n:    11,
			spec: WindowSpec{Policy: Expanding, TrainLength: 4, Step: 3},
			want: []Window{
				{Index: 0, TrainStart: 0, TrainEnd: 4, TestStart: 4, TestEnd: 7},
				{Index: 1, TrainStart: 0, TrainEnd: 7, TestStart: 7, TestEnd: 10},
				{Index: 2, TrainStart: 0, TrainEnd: 10, TestStart: 10, TestEnd: 11},
			},
		},
		{
			name: "step larger than remainder",
			n:    10,
			spec: WindowSpec{Policy: Rolling, TrainLength: 8, Step: 5},
			want: []Window{{Index: 0, TrainStart: 0, TrainEnd: 8, TestStart: 8, TestEnd: 10}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Windows(tt.n, tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			for _, w := range got {
				assert.Equal(t, w.TrainEnd, w.TestStart)
				assert.Positive(t, w.TestLen())
			}
		})
	}
}

func TestWindowsErrors(t *testing.T) {
	t.Parallel()

	_, err := Windows(10, WindowSpec{Policy: Rolling, TrainLength: 10, Step: 1})
	assert.True(t, riskerr.Is(err, riskerr.KindInsufficientData))

	_, err = Windows(10, WindowSpec{Policy: "sliding", TrainLength: 5, Step: 1})
	assert.True(t, riskerr.Is(err, riskerr.KindValidation))

	_, err = Windows(10, WindowSpec{Policy: Rolling, TrainLength: 5, Step: 0})
	assert.True(t, riskerr.Is(err, riskerr.KindValidation))
}

func dates(n int) []time.Time {
	out := make([]time.Time, n)
	d := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range out {
		out[i] = d.AddDate(0, 0, i)
	}
	return out
}

// alternating returns ±lo for the first k values and ±hi afterwards.
func alternating(n, k int, lo, hi float64) []float64 {
	z := make([]float64, n)
	for i := range z {
		v := lo
		if i >= k {
			v = hi
		}
		if i%2 == 1 {
			v = -v
		}
		z[i] = v
	}
	return z
}

func TestCriticalValues(t *testing.T) {
	t.Parallel()

	a, k, err := CriticalValues(0.05)
	require.NoError(t, err)
	assert.Equal(t, 0.948, a)
	assert.Equal(t, 1.358, k)

	_, _, err = CriticalValues(0.2)
	assert.Error(t, err)
}

func TestMonitoringLocatesVarianceShift(t *testing.T) {
	t.Parallel()

	z := alternating(500, 300, 1, 2)
	st, err := CheckStability(z, dates(500), []float64{10}, StabilityOptions{Method: Monitoring, Significance: 0.05})
	require.NoError(t, err)

	require.True(t, st.Break)
	assert.Equal(t, "cusumsq", st.BreakStat)
	assert.Greater(t, st.BreakIndex, 300)
	assert.LessOrEqual(t, st.BreakIndex, 340)
	assert.Equal(t, dates(500)[st.BreakIndex], st.BreakDate)

	// Before the shift z² = 1, so the path is flat at zero.
	for i := 0; i < 300; i++ {
		assert.Equal(t, 0.0, st.CUSUMSQ.Stat[i])
	}
	assert.InDelta(t, 0.948*(1+2.0/500), st.CUSUM.Upper[0], 1e-12)
}

func TestMonitoringNoBreak(t *testing.T) {
	t.Parallel()

	z := alternating(500, 500, 1, 1)
	st, err := CheckStability(z, dates(500), []float64{10}, StabilityOptions{Method: Monitoring, Significance: 0.05})
	require.NoError(t, err)
	assert.False(t, st.Break)
	assert.Equal(t, -1, st.BreakIndex)
	assert.True(t, st.BreakDate.IsZero())
}

func TestRetrospectivePaths(t *testing.T) {
	t.Parallel()

	z := alternating(500, 250, 1, 3)
	st, err := CheckStability(z, dates(500), nil, StabilityOptions{Method: Retrospective, Significance: 0.05})
	require.NoError(t, err)

	// The normalized sum of squares runs from near 0 to exactly 1.
	assert.InDelta(t, 1.0, st.CUSUMSQ.Stat[499], 1e-12)
	assert.InDelta(t, 1.0/2500, st.CUSUMSQ.Stat[0], 1e-12)
	// Demeaned CUSUM returns to zero.
	assert.InDelta(t, 0.0, st.CUSUM.Stat[499], 1e-9)

	require.True(t, st.Break)
	assert.Equal(t, "cusumsq", st.BreakStat)
	// The bridge leaves its band long before the shift; the break is still
	// dated at the first observation of the new regime.
	assert.Less(t, st.CUSUMSQ.firstCrossing(), 250)
	assert.Equal(t, 250, st.BreakIndex)
	assert.Equal(t, dates(500)[250], st.BreakDate)
}

func TestRetrospectiveLocatesMeanShift(t *testing.T) {
	t.Parallel()

	// ±1 for 250 values, then 1±1.
	z := alternating(500, 500, 1, 1)
	for i := 250; i < 500; i++ {
		z[i]++
	}
	st, err := CheckStability(z, dates(500), nil, StabilityOptions{Method: Retrospective, Significance: 0.05})
	require.NoError(t, err)

	require.True(t, st.Break)
	assert.Equal(t, "cusum", st.BreakStat)
	assert.Less(t, st.CUSUM.firstCrossing(), 250)
	assert.Equal(t, 250, st.BreakIndex)
}

func TestRetrospectiveNoBreak(t *testing.T) {
	t.Parallel()

	z := alternating(500, 500, 1, 1)
	st, err := CheckStability(z, dates(500), nil, StabilityOptions{Method: Retrospective, Significance: 0.05})
	require.NoError(t, err)
	assert.False(t, st.Break)
	assert.Equal(t, -1, st.BreakIndex)
}

func TestSquareVariance(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 2*9.0/6, SquareVariance([]float64{10}, nil), 1e-12)
	assert.InDelta(t, (4.0+3.0)/2, SquareVariance([]float64{7, 10}, nil), 1e-12)

	// ν <= 4 falls back to the sample variance of z²: values 1 and 9.
	z := alternating(100, 50, 1, 3)
	assert.InDelta(t, 16.0, SquareVariance([]float64{3.5}, z), 1e-12)
}

func TestStabilityErrors(t *testing.T) {
	t.Parallel()

	_, err := CheckStability([]float64{1, 2}, dates(2), nil, StabilityOptions{Method: "other", Significance: 0.05})
	assert.True(t, riskerr.Is(err, riskerr.KindValidation))

	_, err = CheckStability([]float64{1, 2}, dates(3), nil, StabilityOptions{Method: Monitoring, Significance: 0.05})
	assert.True(t, riskerr.Is(err, riskerr.KindValidation))

	_, err = CheckStability([]float64{1}, dates(1), nil, StabilityOptions{Method: Monitoring, Significance: 0.05})
	assert.True(t, riskerr.Is(err, riskerr.KindInsufficientData))
}

func simulatedSeries(t *testing.T, n int, seed uint64) market.Series {
	t.Helper()
	sim, err := egarch.Simulate(egarch.Params{Mu: 0.02, Omega: 0.01, Alpha: 0.1, Gamma: -0.05, Beta: 0.95, Nu: 6}, n, seed)
	require.NoError(t, err)
	s, err := market.FromReturns("SIM", time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC), sim.Returns)
	require.NoError(t, err)
	return s
}

func testOptions() Options {
	return Options{
		Windows:         WindowSpec{Policy: Rolling, TrainLength: 500, Step: 100},
		Levels:          []float64{0.99, 0.95},
		Significance:    0.05,
		MinValidWindows: 3,
		Workers:         3,
		Stability:       StabilityOptions{Method: Monitoring, Significance: 0.05},
	}
}

type countingObserver struct {
	ch chan string
}

func (c countingObserver) ObserveWindow(outcome string, _ time.Duration) {
	c.ch <- outcome
}

func TestEvaluatorAllWindowsFail(t *testing.T) {
	t.Parallel()

	s := simulatedSeries(t, 900, 1)
	estOpts := egarch.DefaultOptions()
	estOpts.MinObservations = 600

	obs := countingObserver{ch: make(chan string, 16)}
	ev := NewEvaluator(egarch.NewEstimator(estOpts, zerolog.Nop()), testOptions(), zerolog.Nop())
	ev.Observer = obs

	res, err := ev.Run(context.Background(), s)
	require.Error(t, err)
	assert.True(t, riskerr.Is(err, riskerr.KindInsufficientData))
	require.NotNil(t, res)
	assert.Equal(t, 4, res.Failed)
	assert.Equal(t, 0, res.Valid)

	failures := res.Failures()
	require.Len(t, failures, 4)
	assert.Contains(t, failures[2].Error(), "[window 2]")
	assert.True(t, riskerr.Is(failures[0], riskerr.KindInsufficientData))

	close(obs.ch)
	var outcomes []string
	for o := range obs.ch {
		outcomes = append(outcomes, o)
	}
	assert.Len(t, outcomes, 4)
	assert.Equal(t, "insufficient_data", outcomes[0])
}

func TestEvaluatorRejectsBadOptions(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.Workers = 0
	ev := NewEvaluator(egarch.NewEstimator(egarch.DefaultOptions(), zerolog.Nop()), opts, zerolog.Nop())
	_, err := ev.Run(context.Background(), simulatedSeries(t, 700, 1))
	assert.True(t, riskerr.Is(err, riskerr.KindValidation))

	opts = testOptions()
	opts.Levels = []float64{1.5}
	ev.Options = opts
	_, err = ev.Run(context.Background(), simulatedSeries(t, 700, 1))
	assert.Error(t, err)
}

func TestEvaluatorRun(t *testing.T) {
	if testing.Short() {
		t.Skip("fits several models")
	}
	t.Parallel()

	s := simulatedSeries(t, 1000, 77)
	est := egarch.NewEstimator(egarch.DefaultOptions(), zerolog.Nop())

	ev := NewEvaluator(est, testOptions(), zerolog.Nop())
	res, err := ev.Run(context.Background(), s)
	require.NoError(t, err)

	require.Len(t, res.Windows, 5)
	assert.Equal(t, 5, res.Valid)
	assert.Equal(t, []float64{0.95, 0.99}, res.Levels)
	require.Len(t, res.Points, 500)
	for i, p := range res.Points {
		assert.Equal(t, 500+i, p.Index)
		assert.Equal(t, i/100, p.Window)
		assert.Greater(t, p.Sigma, 0.0)
		assert.InDelta(t, p.Return-p.Mu, p.ForecastError, 1e-15)
		require.Len(t, p.Risk, 2)
		assert.Greater(t, p.Risk[1].VaR, p.Risk[0].VaR)
		assert.Equal(t, p.Return < -p.Risk[0].VaR, p.Exceptions[0])
	}
	for i, w := range res.Windows {
		assert.Equal(t, i, w.Index)
		assert.Equal(t, s.At(w.TrainStart).Date, w.TrainFrom)
		require.Len(t, w.Backtest.Levels, 2)
	}
	require.Len(t, res.Overall.Levels, 2)
	assert.Equal(t, 500, res.Overall.Levels[0].Coverage.Observations)
	require.NotNil(t, res.Stability)
	assert.Len(t, res.Stability.CUSUM.Stat, 500)
	assert.Greater(t, res.ForecastRMSE, 0.0)

	// The first test point is the fit's own one-step forecast: no refit
	// happens inside the test range.
	fit, err := est.Fit(context.Background(), s.Slice(0, 500).Returns())
	require.NoError(t, err)
	assert.Equal(t, fit.Params, res.Windows[0].Params)
	f := fit.Forecaster()
	for i := 0; i < 100; i++ {
		assert.InEpsilon(t, f.OneStep(), res.Points[i].Sigma*res.Points[i].Sigma, 1e-12)
		f = f.Next(res.Points[i].Return)
	}

	// Worker count does not change the output.
	opts := testOptions()
	opts.Workers = 1
	serial, err := NewEvaluator(est, opts, zerolog.Nop()).Run(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, res.Points, serial.Points)
}

func TestEvaluatorSkipsFailedWindows(t *testing.T) {
	if testing.Short() {
		t.Skip("fits several models")
	}
	t.Parallel()

	s := simulatedSeries(t, 1000, 78)
	estOpts := egarch.DefaultOptions()
	estOpts.MinObservations = 650

	opts := testOptions()
	opts.Windows = WindowSpec{Policy: Expanding, TrainLength: 500, Step: 100}
	res, err := NewEvaluator(egarch.NewEstimator(estOpts, zerolog.Nop()), opts, zerolog.Nop()).Run(context.Background(), s)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, 3, res.Valid)
	assert.False(t, res.Windows[0].OK())
	assert.False(t, res.Windows[1].OK())
	require.Len(t, res.Points, 300)
	assert.Equal(t, 700, res.Points[0].Index)
}
