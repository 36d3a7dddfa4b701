package egarch

import (
	"iter"
	"math"

	"github.com/rustyeddy/volrisk/dist"
)

// Forecaster projects conditional variance forward from a filtered state:
// the log variance and standardized residual of the last observed period.
// It is a value type; Next returns a new Forecaster and leaves the
// receiver untouched.
type Forecaster struct {
	params Params
	eAbs   float64
	h      float64
	z      float64
}

// NewForecaster positions a forecaster after a period with log variance
// lastLogVar and standardized residual lastZ.
func NewForecaster(p Params, lastLogVar, lastZ float64) Forecaster {
	return Forecaster{params: p, eAbs: dist.ExpectedAbs(p.Nu), h: clampLogVar(lastLogVar), z: lastZ}
}

// Params returns the parameters driving the forecasts.
func (f Forecaster) Params() Params { return f.params }

// Variances yields (k, σ²_{t+k}) for k = 1..h. The first step uses the
// realized shock; later steps set the shock to its zero mean, so log
// variance reverts geometrically to ω/(1−β). The sequence can be ranged
// over more than once and stops early when the consumer does.
func (f Forecaster) Variances(h int) iter.Seq2[int, float64] {
	return func(yield func(int, float64) bool) {
		lv := f.params.step(f.h, f.z, f.eAbs)
		for k := 1; k <= h; k++ {
			if !yield(k, math.Exp(lv)) {
				return
			}
			lv = clampLogVar(f.params.Omega + f.params.Beta*lv)
		}
	}
}

// Forecast collects Variances(h).
func (f Forecaster) Forecast(h int) []float64 {
	out := make([]float64, 0, max(h, 0))
	for _, v := range f.Variances(h) {
		out = append(out, v)
	}
	return out
}

// OneStep is σ² for the next period.
func (f Forecaster) OneStep() float64 {
	return math.Exp(f.params.step(f.h, f.z, f.eAbs))
}

// Next advances the state by one realized return r. It does not refit.
func (f Forecaster) Next(r float64) Forecaster {
	lv := f.params.step(f.h, f.z, f.eAbs)
	f.h = lv
	f.z = (r - f.params.Mu) / math.Exp(lv/2)
	return f
}
