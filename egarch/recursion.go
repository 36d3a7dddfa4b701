package egarch

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/rustyeddy/volrisk/dist"
)

// Log variance is kept inside this band so exp never underflows to zero or
// overflows to +Inf, whatever the parameters or returns.
const (
	MinLogVariance = -50.0
	MaxLogVariance = 50.0
)

func clampLogVar(h float64) float64 {
	if math.IsNaN(h) {
		return MaxLogVariance
	}
	return math.Max(MinLogVariance, math.Min(MaxLogVariance, h))
}

// step advances the log variance by one period given the previous
// standardized residual z.
func (p Params) step(h, z, eAbs float64) float64 {
	return clampLogVar(p.Omega + p.Alpha*(math.Abs(z)-eAbs) + p.Gamma*z + p.Beta*h)
}

// InitialLogVariance is the recursion's starting value: the log of the
// sample variance of returns.
func InitialLogVariance(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	_, v := stat.PopMeanVariance(returns, nil)
	return clampLogVar(math.Log(v))
}

// Path holds the filtered log variances and standardized residuals for a
// return series.
type Path struct {
	LogVariance []float64
	Z           []float64
}

// Variance returns σ²_t for every period. Every value is > 0.
func (p Path) Variance() []float64 {
	out := make([]float64, len(p.LogVariance))
	for i, h := range p.LogVariance {
		out[i] = math.Exp(h)
	}
	return out
}

// Volatility returns σ_t for every period.
func (p Path) Volatility() []float64 {
	out := make([]float64, len(p.LogVariance))
	for i, h := range p.LogVariance {
		out[i] = math.Exp(h / 2)
	}
	return out
}

// Filter runs the log-variance recursion over returns, starting from h0 as
// log σ²_0. The recursion is sequential by construction.
func (p Params) Filter(returns []float64, h0 float64) Path {
	n := len(returns)
	path := Path{LogVariance: make([]float64, n), Z: make([]float64, n)}
	eAbs := dist.ExpectedAbs(p.Nu)

	h := clampLogVar(h0)
	for t, r := range returns {
		if t > 0 {
			h = p.step(h, path.Z[t-1], eAbs)
		}
		path.LogVariance[t] = h
		path.Z[t] = (r - p.Mu) / math.Exp(h/2)
	}
	return path
}

// LogLikelihood returns the Student-t log likelihood of returns under p.
func (p Params) LogLikelihood(returns []float64, h0 float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	eAbs := dist.ExpectedAbs(p.Nu)
	norm := dist.LogNorm(p.Nu)
	k := (p.Nu + 1) / 2
	nm2 := p.Nu - 2

	h := clampLogVar(h0)
	var z, ll float64
	for t, r := range returns {
		if t > 0 {
			h = p.step(h, z, eAbs)
		}
		e := r - p.Mu
		v := math.Exp(h)
		ll += norm - 0.5*h - k*math.Log1p(e*e/(nm2*v))
		z = e / math.Sqrt(v)
	}
	return ll
}
