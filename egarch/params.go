// Package egarch fits and forecasts an EGARCH(1,1) conditional variance
// process with standardized Student-t innovations:
//
//	r_t      = μ + σ_t·z_t
//	log σ²_t = ω + α(|z_{t−1}| − E|Z|) + γ·z_{t−1} + β·log σ²_{t−1}
//
// Because the recursion is linear in log variance, σ²_t is positive for any
// real parameter values. Estimation is by maximum likelihood; see Estimator.
package egarch

import (
	"fmt"
	"math"

	"github.com/rustyeddy/volrisk/dist"
)

// Params is a fitted or hypothesized EGARCH(1,1)-t parameter set.
type Params struct {
	Mu    float64 `json:"mu" yaml:"mu"`
	Omega float64 `json:"omega" yaml:"omega"`
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Gamma float64 `json:"gamma" yaml:"gamma"`
	Beta  float64 `json:"beta" yaml:"beta"`
	Nu    float64 `json:"nu" yaml:"nu"`
}

// Persistence is the autoregressive root of the log-variance process.
// log σ²_t is an AR(1) in β driven by the i.i.d. innovation
// α(|z|−E|Z|) + γz, so α and γ scale the innovation but not the root.
// Nelson (1991, Theorem 2.1) shows log σ²_t, and with it the return
// process, is strictly stationary and ergodic iff |β| < 1 whenever the
// innovation is not identically zero.
func (p Params) Persistence() float64 {
	return math.Abs(p.Beta)
}

// Stationary reports whether the persistence is below bound.
func (p Params) Stationary(bound float64) bool {
	return p.Persistence() < bound
}

// UnconditionalLogVariance is the mean of log σ²_t, ω/(1−β).
func (p Params) UnconditionalLogVariance() float64 {
	return p.Omega / (1 - p.Beta)
}

// Validate checks the hard constraints: ν > 2 and |β| < 1.
func (p Params) Validate() error {
	for _, v := range []float64{p.Mu, p.Omega, p.Alpha, p.Gamma, p.Beta, p.Nu} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("egarch: non-finite parameter in %+v", p)
		}
	}
	if !dist.ValidNu(p.Nu) {
		return fmt.Errorf("egarch: nu must be > 2, got %g", p.Nu)
	}
	if p.Persistence() >= 1 {
		return fmt.Errorf("egarch: |beta| must be < 1, got %g", p.Beta)
	}
	return nil
}

func (p Params) String() string {
	return fmt.Sprintf("mu=%.6g omega=%.6g alpha=%.6g gamma=%.6g beta=%.6g nu=%.4g",
		p.Mu, p.Omega, p.Alpha, p.Gamma, p.Beta, p.Nu)
}

// vector layout for the optimizer. β and ν are mapped onto the real line so
// the optimizer can never leave |β| < 1, ν > 2.
type layout struct {
	estimateMu bool
	mu         float64 // used when !estimateMu
}

func (l layout) dim() int {
	if l.estimateMu {
		return 6
	}
	return 5
}

func (l layout) pack(p Params) []float64 {
	x := make([]float64, 0, 6)
	if l.estimateMu {
		x = append(x, p.Mu)
	}
	return append(x, p.Omega, p.Alpha, p.Gamma, math.Atanh(p.Beta), math.Log(p.Nu-dist.MinNu))
}

func (l layout) unpack(x []float64) Params {
	i := 0
	mu := l.mu
	if l.estimateMu {
		mu = x[0]
		i = 1
	}
	return Params{
		Mu:    mu,
		Omega: x[i],
		Alpha: x[i+1],
		Gamma: x[i+2],
		Beta:  math.Tanh(x[i+3]),
		Nu:    dist.MinNu + math.Exp(x[i+4]),
	}
}

// natural returns the parameter vector in natural units, matching
// fromNatural; used for the numerical Hessian.
func (l layout) natural(p Params) []float64 {
	x := make([]float64, 0, 6)
	if l.estimateMu {
		x = append(x, p.Mu)
	}
	return append(x, p.Omega, p.Alpha, p.Gamma, p.Beta, p.Nu)
}

func (l layout) fromNatural(x []float64) Params {
	i := 0
	mu := l.mu
	if l.estimateMu {
		mu = x[0]
		i = 1
	}
	return Params{Mu: mu, Omega: x[i], Alpha: x[i+1], Gamma: x[i+2], Beta: x[i+3], Nu: x[i+4]}
}
