// Package backtest checks a VaR exception history for correct coverage and
// independence: Kupiec's proportion-of-failures test, Christoffersen's
// Markov independence test and their sum, the conditional coverage test.
package backtest

import (
	"fmt"
	"math"

	"github.com/rustyeddy/volrisk/dist"
	"github.com/rustyeddy/volrisk/riskerr"
)

// Test names a likelihood-ratio backtest.
type Test string

const (
	TestKupiec         Test = "kupiec_pof"
	TestChristoffersen Test = "christoffersen_ind"
	TestConditional    Test = "conditional_coverage"
)

// Result is the outcome of one test at one confidence level. When the test
// is undefined for the input, Undefined holds the reason and the numeric
// fields are meaningless.
type Result struct {
	Test         Test    `json:"test"`
	Level        float64 `json:"level"`
	Statistic    float64 `json:"statistic"`
	DF           int     `json:"df"`
	PValue       float64 `json:"p_value"`
	Significance float64 `json:"significance"`
	Reject       bool    `json:"reject"`
	Undefined    string  `json:"undefined,omitempty"`

	Observations int     `json:"observations"`
	Exceptions   int     `json:"exceptions"`
	ExpectedRate float64 `json:"expected_rate"`

	// Transition counts; set by the independence test.
	N00, N01, N10, N11 int `json:"-"`
}

// Defined reports whether the statistic is meaningful.
func (r Result) Defined() bool { return r.Undefined == "" }

// ExceptionRate is the observed fraction of exceptions.
func (r Result) ExceptionRate() float64 {
	if r.Observations == 0 {
		return 0
	}
	return float64(r.Exceptions) / float64(r.Observations)
}

// ViolationRatio is the observed over the expected exception count.
func (r Result) ViolationRatio() float64 {
	if r.Observations == 0 || r.ExpectedRate == 0 {
		return 0
	}
	return r.ExceptionRate() / r.ExpectedRate
}

// Decision renders the outcome: "reject", "accept" or "undefined: <reason>".
func (r Result) Decision() string {
	switch {
	case !r.Defined():
		return "undefined: " + r.Undefined
	case r.Reject:
		return "reject"
	default:
		return "accept"
	}
}

// Exceptions flags each period where the return falls below -VaR.
func Exceptions(returns, vars []float64) ([]bool, error) {
	if len(returns) != len(vars) {
		return nil, riskerr.New(riskerr.KindValidation, "backtest.Exceptions",
			"%d returns but %d VaR values", len(returns), len(vars))
	}
	out := make([]bool, len(returns))
	for i, r := range returns {
		out[i] = r < -vars[i]
	}
	return out, nil
}

// xlogy returns x·ln(y) with 0·ln(0) = 0.
func xlogy(x, y float64) float64 {
	if x == 0 {
		return 0
	}
	return x * math.Log(y)
}

func count(exc []bool) int {
	n := 0
	for _, e := range exc {
		if e {
			n++
		}
	}
	return n
}

func checkInputs(op string, level, significance float64) error {
	if !(level > 0 && level < 1) {
		return riskerr.New(riskerr.KindInvalidConfidenceLevel, op, "confidence level %g outside (0, 1)", level)
	}
	if !(significance > 0 && significance < 1) {
		return riskerr.New(riskerr.KindValidation, op, "significance %g outside (0, 1)", significance)
	}
	return nil
}

// Kupiec runs the unconditional coverage (proportion of failures) test:
//
//	LR = −2[(n−x)ln(1−p) + x ln p − (n−x)ln(1−x/n) − x ln(x/n)] ~ χ²(1)
//
// with p = 1 − level. Zero or all exceptions give a finite statistic.
func Kupiec(exc []bool, level, significance float64) (Result, error) {
	const op = "backtest.Kupiec"
	r := Result{Test: TestKupiec, Level: level, DF: 1, Significance: significance, ExpectedRate: 1 - level}
	if err := checkInputs(op, level, significance); err != nil {
		return r, err
	}
	n := len(exc)
	if n == 0 {
		r.Undefined = "no observations"
		return r, riskerr.New(riskerr.KindInsufficientData, op, "no observations")
	}
	x := count(exc)
	r.Observations, r.Exceptions = n, x

	p := 1 - level
	nf, xf := float64(n), float64(x)
	pi := xf / nf
	l0 := xlogy(nf-xf, 1-p) + xlogy(xf, p)
	l1 := xlogy(nf-xf, 1-pi) + xlogy(xf, pi)

	r.Statistic = math.Max(0, -2*(l0-l1))
	r.PValue = dist.ChiSquaredSurvival(1, r.Statistic)
	r.Reject = r.PValue < significance
	return r, nil
}

// Transitions counts consecutive exception pairs: nij is the number of
// periods in state j whose predecessor was in state i.
func Transitions(exc []bool) (n00, n01, n10, n11 int) {
	for t := 1; t < len(exc); t++ {
		switch {
		case !exc[t-1] && !exc[t]:
			n00++
		case !exc[t-1] && exc[t]:
			n01++
		case exc[t-1] && !exc[t]:
			n10++
		default:
			n11++
		}
	}
	return
}

// Christoffersen runs the first-order Markov independence test. It is
// undefined, and fails with BacktestDegenerate, when the history never
// leaves one state or has no exceptions.
func Christoffersen(exc []bool, level, significance float64) (Result, error) {
	const op = "backtest.Christoffersen"
	r := Result{Test: TestChristoffersen, Level: level, DF: 1, Significance: significance, ExpectedRate: 1 - level}
	if err := checkInputs(op, level, significance); err != nil {
		return r, err
	}
	if len(exc) < 2 {
		r.Undefined = "fewer than two observations"
		return r, riskerr.New(riskerr.KindInsufficientData, op, "%d observations", len(exc))
	}
	r.Observations, r.Exceptions = len(exc), count(exc)

	n00, n01, n10, n11 := Transitions(exc)
	r.N00, r.N01, r.N10, r.N11 = n00, n01, n10, n11

	var reason string
	switch {
	case n01+n11 == 0:
		reason = "no exceptions after the first period"
	case n00+n01 == 0:
		reason = "no transitions out of the no-exception state"
	case n10+n11 == 0:
		reason = "no transitions out of the exception state"
	}
	if reason != "" {
		r.Undefined = reason
		return r, riskerr.New(riskerr.KindBacktestDegenerate, op,
			"%s (n00=%d n01=%d n10=%d n11=%d)", reason, n00, n01, n10, n11)
	}

	f00, f01, f10, f11 := float64(n00), float64(n01), float64(n10), float64(n11)
	pi0 := f01 / (f00 + f01)
	pi1 := f11 / (f10 + f11)
	pi := (f01 + f11) / (f00 + f01 + f10 + f11)

	l0 := xlogy(f00+f10, 1-pi) + xlogy(f01+f11, pi)
	l1 := xlogy(f00, 1-pi0) + xlogy(f01, pi0) + xlogy(f10, 1-pi1) + xlogy(f11, pi1)

	r.Statistic = math.Max(0, -2*(l0-l1))
	r.PValue = dist.ChiSquaredSurvival(1, r.Statistic)
	r.Reject = r.PValue < significance
	return r, nil
}

// ConditionalCoverage combines the two statistics, LR_uc + LR_ind ~ χ²(2).
// It is undefined whenever either part is.
func ConditionalCoverage(uc, ind Result) Result {
	r := Result{
		Test:         TestConditional,
		Level:        uc.Level,
		DF:           2,
		Significance: uc.Significance,
		Observations: uc.Observations,
		Exceptions:   uc.Exceptions,
		ExpectedRate: uc.ExpectedRate,
	}
	switch {
	case !uc.Defined():
		r.Undefined = fmt.Sprintf("%s undefined", uc.Test)
	case !ind.Defined():
		r.Undefined = fmt.Sprintf("%s undefined", ind.Test)
	default:
		r.Statistic = uc.Statistic + ind.Statistic
		r.PValue = dist.ChiSquaredSurvival(2, r.Statistic)
		r.Reject = r.PValue < r.Significance
	}
	return r
}
