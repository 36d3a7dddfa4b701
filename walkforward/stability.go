package walkforward

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/rustyeddy/volrisk/dist"
	"github.com/rustyeddy/volrisk/riskerr"
)

// Method selects the CUSUM family.
type Method string

const (
	// Retrospective is the Brown-Durbin-Evans pair: demeaned CUSUM against
	// ±a(√T + 2r/√T) and the normalized CUSUM of squares against r/T ± c₀.
	// A break is dated at the peak deviation of the crossing path.
	Retrospective Method = "retrospective"
	// Monitoring standardizes both paths by their null moments, Σz/√T and
	// Σ(z²−1)/√(VT), against the line ±a(1 + 2r/T).
	Monitoring Method = "monitoring"
)

// StabilityOptions configure the break test.
type StabilityOptions struct {
	Method       Method  `json:"method" yaml:"method"`
	Significance float64 `json:"significance" yaml:"significance"`
}

type criticalValue struct {
	sig, a, k float64
}

// a is the CUSUM line constant; k is the Kolmogorov sup-bridge value used
// for the retrospective CUSUM of squares.
var criticalValues = []criticalValue{
	{0.10, 0.850, 1.224},
	{0.05, 0.948, 1.358},
	{0.01, 1.143, 1.628},
}

// CriticalValues returns (a, k) for a supported significance.
func CriticalValues(significance float64) (a, k float64, err error) {
	for _, cv := range criticalValues {
		if math.Abs(cv.sig-significance) < 1e-9 {
			return cv.a, cv.k, nil
		}
	}
	return 0, 0, fmt.Errorf("significance must be one of 0.10, 0.05, 0.01, got %g", significance)
}

// Validate checks the options.
func (o StabilityOptions) Validate() error {
	switch o.Method {
	case Retrospective, Monitoring:
	default:
		return fmt.Errorf("method must be %q or %q, got %q", Retrospective, Monitoring, o.Method)
	}
	_, _, err := CriticalValues(o.Significance)
	return err
}

// Path is a statistic with its pointwise acceptance band.
type Path struct {
	Stat  []float64 `json:"stat"`
	Lower []float64 `json:"lower"`
	Upper []float64 `json:"upper"`
}

func newPath(n int) Path {
	return Path{Stat: make([]float64, n), Lower: make([]float64, n), Upper: make([]float64, n)}
}

// firstCrossing returns the first index outside the band, or -1.
func (p Path) firstCrossing() int {
	for i, s := range p.Stat {
		if s < p.Lower[i] || s > p.Upper[i] {
			return i
		}
	}
	return -1
}

// peakBreak locates a break on a retrospective path. Both retrospective
// paths are bridges pinned at their ends, so a later regime change pulls
// them out of the band well before it happens; the change point is where
// the path strays furthest from the band's centre instead. The peak at
// observation i closes the old regime and the break is reported at i+1.
// It returns -1 when the path never leaves the band.
func (p Path) peakBreak() int {
	if p.firstCrossing() < 0 {
		return -1
	}
	peak, dev := 0, -1.0
	for i, s := range p.Stat {
		d := math.Abs(s - (p.Lower[i]+p.Upper[i])/2)
		if d > dev {
			peak, dev = i, d
		}
	}
	return min(peak+1, len(p.Stat)-1)
}

// Stability is the outcome of the break test on a residual path.
type Stability struct {
	Method       Method    `json:"method"`
	Significance float64   `json:"significance"`
	CUSUM        Path      `json:"cusum"`
	CUSUMSQ      Path      `json:"cusumsq"`
	Break        bool      `json:"break"`
	BreakIndex   int       `json:"break_index"`
	BreakDate    time.Time `json:"break_date,omitzero"`
	BreakStat    string    `json:"break_stat,omitempty"`
}

// SquareVariance is V = Var(z²) used by the monitoring CUSUM of squares:
// the mean of 2(ν−1)/(ν−4) over the fitted ν values when every ν exceeds
// 4, else the sample variance of z².
func SquareVariance(nus []float64, z []float64) float64 {
	if len(nus) > 0 {
		var sum float64
		ok := true
		for _, nu := range nus {
			v, fin := dist.SquareVariance(nu)
			if !fin {
				ok = false
				break
			}
			sum += v
		}
		if ok {
			return sum / float64(len(nus))
		}
	}
	_, v := stat.PopMeanVariance(squares(z), nil)
	return v
}

func squares(z []float64) []float64 {
	out := make([]float64, len(z))
	for i, v := range z {
		out[i] = v * v
	}
	return out
}

// CUSUM computes the cumulative sum path of z.
func CUSUM(z []float64, method Method, a float64) Path {
	T := len(z)
	p := newPath(T)
	if T == 0 {
		return p
	}
	tf := float64(T)
	mean, variance := stat.PopMeanVariance(z, nil)
	sd := math.Sqrt(variance)

	var sum float64
	for i, v := range z {
		r := float64(i + 1)
		var bound float64
		switch method {
		case Monitoring:
			sum += v / math.Sqrt(tf)
			bound = a * (1 + 2*r/tf)
		default:
			if sd > 0 {
				sum += (v - mean) / sd
			}
			bound = a * (math.Sqrt(tf) + 2*r/math.Sqrt(tf))
		}
		p.Stat[i], p.Lower[i], p.Upper[i] = sum, -bound, bound
	}
	return p
}

// CUSUMSQ computes the cumulative sum of squares path of z. v is Var(z²)
// for the monitoring form and ignored by the retrospective one.
func CUSUMSQ(z []float64, method Method, a, k, v float64) Path {
	T := len(z)
	p := newPath(T)
	if T == 0 {
		return p
	}
	tf := float64(T)
	sq := squares(z)

	switch method {
	case Monitoring:
		scale := math.Sqrt(v * tf)
		var sum float64
		for i, s := range sq {
			r := float64(i + 1)
			if scale > 0 {
				sum += (s - 1) / scale
			}
			bound := a * (1 + 2*r/tf)
			p.Stat[i], p.Lower[i], p.Upper[i] = sum, -bound, bound
		}
	default:
		m, vhat := stat.PopMeanVariance(sq, nil)
		total := m * tf
		c0 := 0.0
		if m > 0 {
			c0 = k * math.Sqrt(vhat/tf) / m
		}
		var sum float64
		for i, s := range sq {
			r := float64(i + 1)
			sum += s
			frac := 0.0
			if total > 0 {
				frac = sum / total
			}
			p.Stat[i], p.Lower[i], p.Upper[i] = frac, r/tf-c0, r/tf+c0
		}
	}
	return p
}

// CheckStability runs both paths over standardized residuals z observed on
// dates. The monitoring method flags the first crossing of either band; the
// retrospective method flags a path that leaves its band anywhere and dates
// the break at the path's peak deviation. nus are the fitted degrees of
// freedom behind z.
func CheckStability(z []float64, dates []time.Time, nus []float64, opts StabilityOptions) (Stability, error) {
	const op = "walkforward.CheckStability"
	if err := opts.Validate(); err != nil {
		return Stability{}, riskerr.Wrap(riskerr.KindValidation, op, err)
	}
	if len(z) != len(dates) {
		return Stability{}, riskerr.New(riskerr.KindValidation, op, "%d residuals but %d dates", len(z), len(dates))
	}
	if len(z) < 2 {
		return Stability{}, riskerr.New(riskerr.KindInsufficientData, op, "%d residuals", len(z))
	}
	a, k, _ := CriticalValues(opts.Significance)

	st := Stability{
		Method:       opts.Method,
		Significance: opts.Significance,
		CUSUM:        CUSUM(z, opts.Method, a),
		CUSUMSQ:      CUSUMSQ(z, opts.Method, a, k, SquareVariance(nus, z)),
		BreakIndex:   -1,
	}

	c, sq := st.CUSUM.firstCrossing(), st.CUSUMSQ.firstCrossing()
	if opts.Method == Retrospective {
		c, sq = st.CUSUM.peakBreak(), st.CUSUMSQ.peakBreak()
	}
	switch {
	case c >= 0 && (sq < 0 || c <= sq):
		st.Break, st.BreakIndex, st.BreakStat = true, c, "cusum"
	case sq >= 0:
		st.Break, st.BreakIndex, st.BreakStat = true, sq, "cusumsq"
	}
	if st.Break {
		st.BreakDate = dates[st.BreakIndex]
	}
	return st, nil
}
