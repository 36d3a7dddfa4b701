// Package risk turns a conditional volatility into Value-at-Risk and
// Expected Shortfall under the standardized Student-t.
//
// Both figures are reported as positive loss magnitudes. A return r is an
// exception at a level when r < -VaR.
package risk

import (
	"fmt"
	"math"
	"slices"
	"strconv"

	"github.com/rustyeddy/volrisk/dist"
	"github.com/rustyeddy/volrisk/riskerr"
)

// Estimate is the risk at one confidence level for one period.
type Estimate struct {
	Level float64 `json:"level"`
	VaR   float64 `json:"var"`
	ES    float64 `json:"es"`
}

// Calculator holds the per-level standardized quantiles and tail
// expectations for one ν, so a whole volatility path costs two
// multiplications per level and period.
type Calculator struct {
	levels []float64
	q      []float64 // a-quantile, a = 1 - level
	tail   []float64 // E[Z | Z <= q]
}

// ValidateLevels checks confidence levels without building a Calculator.
func ValidateLevels(levels []float64) error {
	const op = "risk.ValidateLevels"
	if len(levels) == 0 {
		return riskerr.New(riskerr.KindInvalidConfidenceLevel, op, "no confidence levels")
	}
	seen := make(map[float64]bool, len(levels))
	for _, p := range levels {
		if !(p > 0 && p < 1) {
			return riskerr.New(riskerr.KindInvalidConfidenceLevel, op,
				"confidence level %g outside (0, 1)", p)
		}
		if seen[p] {
			return riskerr.New(riskerr.KindInvalidConfidenceLevel, op,
				"duplicate confidence level %g", p)
		}
		seen[p] = true
	}
	return nil
}

// NewCalculator validates levels and ν. Levels are kept in ascending order.
func NewCalculator(levels []float64, nu float64) (*Calculator, error) {
	if err := ValidateLevels(levels); err != nil {
		return nil, err
	}
	if !dist.ValidNu(nu) {
		return nil, riskerr.New(riskerr.KindValidation, "risk.NewCalculator",
			"degrees of freedom must be > 2, got %g", nu)
	}

	c := &Calculator{levels: slices.Sorted(slices.Values(levels))}
	for _, p := range c.levels {
		a := 1 - p
		q, err := dist.Quantile(nu, a)
		if err != nil {
			return nil, riskerr.Wrap(riskerr.KindInvalidConfidenceLevel, "risk.NewCalculator", err)
		}
		tail, err := dist.TailExpectation(nu, a)
		if err != nil {
			return nil, riskerr.Wrap(riskerr.KindInvalidConfidenceLevel, "risk.NewCalculator", err)
		}
		c.q = append(c.q, q)
		c.tail = append(c.tail, tail)
	}
	return c, nil
}

// Levels returns the confidence levels in ascending order.
func (c *Calculator) Levels() []float64 {
	return slices.Clone(c.levels)
}

// Compute returns one Estimate per level for a period with conditional
// mean mu and conditional standard deviation sigma.
func (c *Calculator) Compute(mu, sigma float64) ([]Estimate, error) {
	if !(sigma > 0) || math.IsInf(sigma, 0) || math.IsNaN(mu) || math.IsInf(mu, 0) {
		return nil, riskerr.New(riskerr.KindValidation, "risk.Compute",
			"need finite mu and sigma > 0, got mu=%g sigma=%g", mu, sigma)
	}
	out := make([]Estimate, len(c.levels))
	for i, p := range c.levels {
		out[i] = Estimate{
			Level: p,
			VaR:   -(mu + sigma*c.q[i]),
			ES:    -(mu + sigma*c.tail[i]),
		}
	}
	return out, nil
}

// Series computes estimates for every period of a volatility path.
// out[t][i] is period t at Levels()[i].
func (c *Calculator) Series(mu float64, sigmas []float64) ([][]Estimate, error) {
	out := make([][]Estimate, len(sigmas))
	for t, s := range sigmas {
		est, err := c.Compute(mu, s)
		if err != nil {
			return nil, fmt.Errorf("period %d: %w", t, err)
		}
		out[t] = est
	}
	return out, nil
}

// Exception reports whether r breaches the VaR of e.
func (e Estimate) Exception(r float64) bool {
	return r < -e.VaR
}

// LevelLabel formats a level for column names: 0.95 -> "95", 0.975 -> "97.5".
func LevelLabel(level float64) string {
	return strconv.FormatFloat(math.Round(level*1e8)/1e6, 'f', -1, 64)
}
