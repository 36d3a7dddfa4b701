// Package diagnostics runs residual checks on a return or standardized
// residual series: normality (Jarque-Bera), serial correlation (Ljung-Box),
// remaining conditional heteroskedasticity (Engle's ARCH-LM) and a unit
// root (augmented Dickey-Fuller).
package diagnostics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/rustyeddy/volrisk/dist"
	"github.com/rustyeddy/volrisk/riskerr"
)

// Test is a chi-square distributed test statistic.
type Test struct {
	Name      string  `json:"name"`
	Statistic float64 `json:"statistic"`
	DF        int     `json:"df"`
	PValue    float64 `json:"p_value"`
}

func (t Test) String() string {
	return fmt.Sprintf("%s: stat=%.4f df=%d p=%.4f", t.Name, t.Statistic, t.DF, t.PValue)
}

func newTest(name string, stat float64, df int) Test {
	return Test{Name: name, Statistic: stat, DF: df, PValue: dist.ChiSquaredSurvival(float64(df), stat)}
}

func demeaned(op string, x []float64, min int) ([]float64, float64, error) {
	if len(x) < min {
		return nil, 0, riskerr.New(riskerr.KindInsufficientData, op, "%d observations, need %d", len(x), min)
	}
	d := make([]float64, len(x))
	copy(d, x)
	floats.AddConst(-stat.Mean(x, nil), d)
	ss := floats.Dot(d, d)
	if ss == 0 {
		return nil, 0, riskerr.New(riskerr.KindValidation, op, "series is constant")
	}
	return d, ss, nil
}

// JarqueBera tests normality from sample skewness S and excess kurtosis K:
// JB = n/6·(S² + K²/4) ~ χ²(2).
func JarqueBera(x []float64) (Test, error) {
	d, ss, err := demeaned("diagnostics.JarqueBera", x, 4)
	if err != nil {
		return Test{}, err
	}
	n := float64(len(d))
	m2 := ss / n
	var m3, m4 float64
	for _, v := range d {
		v2 := v * v
		m3 += v2 * v
		m4 += v2 * v2
	}
	m3 /= n
	m4 /= n

	s := m3 / math.Pow(m2, 1.5)
	k := m4/(m2*m2) - 3
	return newTest("jarque_bera", n/6*(s*s+k*k/4), 2), nil
}

// LjungBox tests the first lags autocorrelations jointly:
// Q = n(n+2)·Σ ρ_k²/(n−k) ~ χ²(lags).
func LjungBox(x []float64, lags int) (Test, error) {
	const op = "diagnostics.LjungBox"
	if lags < 1 {
		return Test{}, riskerr.New(riskerr.KindValidation, op, "lags must be positive, got %d", lags)
	}
	d, ss, err := demeaned(op, x, lags+2)
	if err != nil {
		return Test{}, err
	}
	n := len(d)
	var q float64
	for k := 1; k <= lags; k++ {
		rho := floats.Dot(d[k:], d[:n-k]) / ss
		q += rho * rho / float64(n-k)
	}
	q *= float64(n) * float64(n+2)
	return newTest(fmt.Sprintf("ljung_box(%d)", lags), q, lags), nil
}

// ARCHLM is Engle's Lagrange multiplier test: regress e²_t on a constant
// and e²_{t−1..t−lags} of the demeaned series; LM = m·R² ~ χ²(lags) with m
// the number of regression rows.
func ARCHLM(x []float64, lags int) (Test, error) {
	const op = "diagnostics.ARCHLM"
	if lags < 1 {
		return Test{}, riskerr.New(riskerr.KindValidation, op, "lags must be positive, got %d", lags)
	}
	d, _, err := demeaned(op, x, 2*lags+3)
	if err != nil {
		return Test{}, err
	}
	sq := make([]float64, len(d))
	floats.MulTo(sq, d, d)

	m := len(sq) - lags
	X := mat.NewDense(m, lags+1, nil)
	y := mat.NewVecDense(m, sq[lags:])
	for i := 0; i < m; i++ {
		X.Set(i, 0, 1)
		for j := 1; j <= lags; j++ {
			X.Set(i, j, sq[lags+i-j])
		}
	}

	var beta mat.VecDense
	if err := beta.SolveVec(X, y); err != nil {
		return Test{}, riskerr.Wrap(riskerr.KindValidation, op, err)
	}
	var fitted mat.VecDense
	fitted.MulVec(X, &beta)

	ybar := stat.Mean(sq[lags:], nil)
	var ssr, sst float64
	for i := 0; i < m; i++ {
		r := y.AtVec(i) - fitted.AtVec(i)
		ssr += r * r
		c := y.AtVec(i) - ybar
		sst += c * c
	}
	if sst == 0 {
		return Test{}, riskerr.New(riskerr.KindValidation, op, "squared series is constant")
	}
	r2 := math.Max(0, 1-ssr/sst)
	return newTest(fmt.Sprintf("arch_lm(%d)", lags), float64(m)*r2, lags), nil
}

// Summary bundles the default battery.
type Summary struct {
	JarqueBera Test    `json:"jarque_bera"`
	LjungBox   Test    `json:"ljung_box"`
	LjungBoxSq Test    `json:"ljung_box_sq"`
	ARCHLM     Test    `json:"arch_lm"`
	ADF        ADFTest `json:"adf"`
}

// Tests returns the summary in display order.
func (s Summary) Tests() []Test {
	return []Test{s.JarqueBera, s.LjungBox, s.LjungBoxSq, s.ARCHLM, s.ADF.Test}
}

// Run computes the battery on x: Ljung-Box on x and x², ARCH-LM with
// archLags lags and ADF with at most adfLags lagged differences (AutoLags
// picks the ceiling from len(x)).
func Run(x []float64, lbLags, archLags, adfLags int) (Summary, error) {
	var s Summary
	var err error
	if s.JarqueBera, err = JarqueBera(x); err != nil {
		return s, err
	}
	if s.LjungBox, err = LjungBox(x, lbLags); err != nil {
		return s, err
	}
	sq := make([]float64, len(x))
	floats.MulTo(sq, x, x)
	if s.LjungBoxSq, err = LjungBox(sq, lbLags); err != nil {
		return s, err
	}
	s.LjungBoxSq.Name = fmt.Sprintf("ljung_box_sq(%d)", lbLags)
	if s.ARCHLM, err = ARCHLM(x, archLags); err != nil {
		return s, err
	}
	if s.ADF, err = ADF(x, adfLags); err != nil {
		return s, err
	}
	return s, nil
}
