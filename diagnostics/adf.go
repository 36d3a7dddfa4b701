package diagnostics

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rustyeddy/volrisk/riskerr"
)

// AutoLags asks ADF to pick its own lag ceiling, 12·(n/100)^¼.
const AutoLags = -1

// ADFTest is an augmented Dickey-Fuller unit root test with a constant.
// DF holds the number of lagged differences in the final regression and
// the p-value is MacKinnon's (1994) approximation. A small p-value rejects
// the unit root.
type ADFTest struct {
	Test
	Observations int     `json:"observations"`
	Critical1    float64 `json:"critical_1"`
	Critical5    float64 `json:"critical_5"`
	Critical10   float64 `json:"critical_10"`
}

func (a ADFTest) String() string {
	return fmt.Sprintf("%s: stat=%.4f lags=%d p=%.4f (1%% %.3f, 5%% %.3f, 10%% %.3f)",
		a.Name, a.Statistic, a.DF, a.PValue, a.Critical1, a.Critical5, a.Critical10)
}

// MacKinnon (1994) response surface for the constant-only case.
var (
	tauMax        = 2.74
	tauMin        = -18.83
	tauStar       = -1.61
	tauSmallP     = []float64{2.1659, 1.4412, 0.038269}
	tauLargeP     = []float64{1.7339, 0.93202, -0.12745, -0.010368}
	tauCritical1  = []float64{-3.43035, -6.5393, -16.786, -79.433}
	tauCritical5  = []float64{-2.86154, -2.8903, -4.234, -40.040}
	tauCritical10 = []float64{-2.56677, -1.5384, -2.809, 0}
)

func poly(c []float64, x float64) float64 {
	var y float64
	for i := len(c) - 1; i >= 0; i-- {
		y = y*x + c[i]
	}
	return y
}

// ADFPValue maps a Dickey-Fuller τ statistic to its approximate p-value.
func ADFPValue(tau float64) float64 {
	switch {
	case tau > tauMax:
		return 1
	case tau < tauMin:
		return 0
	case tau <= tauStar:
		return distuv.UnitNormal.CDF(poly(tauSmallP, tau))
	default:
		return distuv.UnitNormal.CDF(poly(tauLargeP, tau))
	}
}

// ADFCritical returns the 1%, 5% and 10% critical values for a regression
// with nobs rows (MacKinnon 2010).
func ADFCritical(nobs int) (c1, c5, c10 float64) {
	inv := 1 / float64(nobs)
	return poly(tauCritical1, inv), poly(tauCritical5, inv), poly(tauCritical10, inv)
}

// ADF regresses Δx_t on a constant, x_{t−1} and p lagged differences and
// tests the x_{t−1} coefficient. p is chosen by AIC over 0..maxLags on a
// common sample, then the regression is refitted on every usable row.
// maxLags of AutoLags uses 12·(n/100)^¼ capped at n/2−2.
func ADF(x []float64, maxLags int) (ADFTest, error) {
	const op = "diagnostics.ADF"
	n := len(x)
	if n < 10 {
		return ADFTest{}, riskerr.New(riskerr.KindInsufficientData, op, "%d observations, need 10", n)
	}
	if maxLags < AutoLags {
		return ADFTest{}, riskerr.New(riskerr.KindValidation, op, "max lags must be >= 0 or automatic, got %d", maxLags)
	}
	ceiling := n/2 - 2
	if maxLags == AutoLags {
		maxLags = min(int(math.Ceil(12*math.Pow(float64(n)/100, 0.25))), ceiling)
	}
	if maxLags > ceiling {
		return ADFTest{}, riskerr.New(riskerr.KindValidation, op, "%d lags leave too few rows for %d observations", maxLags, n)
	}
	if floats.Min(x) == floats.Max(x) {
		return ADFTest{}, riskerr.New(riskerr.KindValidation, op, "series is constant")
	}

	dx := make([]float64, n-1)
	floats.SubTo(dx, x[1:], x[:n-1])

	best, bestAIC := 0, math.Inf(1)
	for p := 0; p <= maxLags; p++ {
		fit, err := dfRegression(x, dx, p, maxLags)
		if err != nil {
			return ADFTest{}, riskerr.Wrap(riskerr.KindValidation, op, err)
		}
		m := float64(fit.rows)
		aic := m*math.Log(fit.ssr/m) + 2*float64(p+2)
		if aic < bestAIC {
			best, bestAIC = p, aic
		}
	}

	fit, err := dfRegression(x, dx, best, best)
	if err != nil {
		return ADFTest{}, riskerr.Wrap(riskerr.KindValidation, op, err)
	}
	c1, c5, c10 := ADFCritical(fit.rows)
	return ADFTest{
		Test:         Test{Name: "adf", Statistic: fit.tau, DF: best, PValue: ADFPValue(fit.tau)},
		Observations: fit.rows,
		Critical1:    c1,
		Critical5:    c5,
		Critical10:   c10,
	}, nil
}

type dfFit struct {
	rows int
	ssr  float64
	tau  float64
}

// dfRegression fits dx[t] = x[t+1]−x[t] on [1, x[t], dx[t−1..t−p]] for t
// from skip on, so fits with different p can share one sample.
func dfRegression(x, dx []float64, p, skip int) (dfFit, error) {
	m := len(dx) - skip
	k := p + 2
	X := mat.NewDense(m, k, nil)
	y := mat.NewVecDense(m, dx[skip:])
	for i := 0; i < m; i++ {
		t := skip + i
		X.Set(i, 0, 1)
		X.Set(i, 1, x[t])
		for j := 1; j <= p; j++ {
			X.Set(i, j+1, dx[t-j])
		}
	}

	var beta mat.VecDense
	if err := beta.SolveVec(X, y); err != nil {
		return dfFit{}, err
	}
	var resid mat.VecDense
	resid.MulVec(X, &beta)
	resid.SubVec(y, &resid)
	ssr := mat.Dot(&resid, &resid)

	var xtx mat.SymDense
	xtx.SymOuterK(1, X.T())
	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return dfFit{}, fmt.Errorf("singular design with %d lags", p)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return dfFit{}, err
	}
	s2 := ssr / float64(m-k)
	se := math.Sqrt(s2 * inv.At(1, 1))
	if !(se > 0) {
		return dfFit{}, fmt.Errorf("zero residual variance with %d lags", p)
	}
	return dfFit{rows: m, ssr: ssr, tau: beta.AtVec(1) / se}, nil
}
