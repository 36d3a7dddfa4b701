// Package dist holds the distribution functions used by the estimator and
// the risk calculator. Every function is a pure function of its arguments.
//
// The Student-t used throughout is the standardized (unit-variance) form:
// Z = s·T with T a standard t(ν) variable and s = sqrt((ν-2)/ν). ν must
// exceed 2 for the variance to exist.
package dist

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// MinNu is the exclusive lower bound on the degrees of freedom.
const MinNu = 2.0

// ValidNu reports whether nu is a usable degrees-of-freedom value.
func ValidNu(nu float64) bool {
	return nu > MinNu && !math.IsInf(nu, 0) && !math.IsNaN(nu)
}

func checkNu(nu float64) error {
	if !ValidNu(nu) {
		return fmt.Errorf("degrees of freedom must be finite and > %g, got %g", MinNu, nu)
	}
	return nil
}

func checkProb(p float64) error {
	if !(p > 0 && p < 1) {
		return fmt.Errorf("probability must be in (0,1), got %g", p)
	}
	return nil
}

// Scale returns s = sqrt((ν-2)/ν), the factor mapping a standard t(ν)
// variable onto unit variance.
func Scale(nu float64) float64 {
	return math.Sqrt((nu - 2) / nu)
}

func standard(nu float64) distuv.StudentsT {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: nu}
}

// Quantile returns the p-quantile of the standardized t(ν).
func Quantile(nu, p float64) (float64, error) {
	if err := checkNu(nu); err != nil {
		return 0, err
	}
	if err := checkProb(p); err != nil {
		return 0, err
	}
	return Scale(nu) * standard(nu).Quantile(p), nil
}

// CDF returns P(Z <= x) for the standardized t(ν).
func CDF(nu, x float64) float64 {
	s := Scale(nu)
	return standard(nu).CDF(x / s)
}

// PDF returns the density of the standardized t(ν) at x.
func PDF(nu, x float64) float64 {
	return math.Exp(LogPDF(nu, x))
}

// LogPDF returns the log density of the standardized t(ν) at x.
func LogPDF(nu, x float64) float64 {
	return LogNorm(nu) - (nu+1)/2*math.Log1p(x*x/(nu-2))
}

// LogNorm is the log normalizing constant of the standardized t(ν) density:
// lnΓ((ν+1)/2) − lnΓ(ν/2) − ½ln(π(ν−2)).
func LogNorm(nu float64) float64 {
	a, _ := math.Lgamma((nu + 1) / 2)
	b, _ := math.Lgamma(nu / 2)
	return a - b - 0.5*math.Log(math.Pi*(nu-2))
}

// ExpectedAbs returns E|Z| for the standardized t(ν):
// 2·sqrt(ν−2)·Γ((ν+1)/2) / ((ν−1)·Γ(ν/2)·sqrt(π)).
// It tends to sqrt(2/π) as ν grows.
func ExpectedAbs(nu float64) float64 {
	a, _ := math.Lgamma((nu + 1) / 2)
	b, _ := math.Lgamma(nu / 2)
	return 2 * math.Sqrt(nu-2) * math.Exp(a-b) / ((nu - 1) * math.Sqrt(math.Pi))
}

// TailExpectation returns E[Z | Z <= q_a] for the standardized t(ν), where
// q_a is the a-quantile. For a standard t the closed form is
// −f(t_a)(ν + t_a²) / ((ν−1)·a); the standardized value scales by s.
func TailExpectation(nu, a float64) (float64, error) {
	if err := checkNu(nu); err != nil {
		return 0, err
	}
	if err := checkProb(a); err != nil {
		return 0, err
	}
	t := standard(nu)
	ta := t.Quantile(a)
	es := -t.Prob(ta) * (nu + ta*ta) / ((nu - 1) * a)
	return Scale(nu) * es, nil
}

// SquareVariance returns Var(Z²) = 2(ν−1)/(ν−4) for the standardized t(ν).
// ok is false when ν <= 4, where the fourth moment does not exist.
func SquareVariance(nu float64) (v float64, ok bool) {
	if nu <= 4 || math.IsNaN(nu) {
		return 0, false
	}
	if math.IsInf(nu, 1) {
		return 2, true
	}
	return 2 * (nu - 1) / (nu - 4), true
}

// NuFromKurtosis inverts the excess kurtosis of a t(ν), 6/(ν−4), and
// clamps the result to [lo, hi]. Non-positive kurtosis maps to hi.
func NuFromKurtosis(excess, lo, hi float64) float64 {
	if !(excess > 0) || math.IsInf(excess, 0) {
		return hi
	}
	nu := 4 + 6/excess
	return math.Max(lo, math.Min(hi, nu))
}

// ChiSquaredSurvival returns P(X > x) for X ~ χ²(df).
func ChiSquaredSurvival(df, x float64) float64 {
	if x <= 0 {
		return 1
	}
	return distuv.ChiSquared{K: df}.Survival(x)
}
