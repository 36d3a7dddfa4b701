package egarch

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/rustyeddy/volrisk/dist"
)

// BurnIn is the number of simulated periods discarded before the first
// returned observation.
const BurnIn = 500

// Simulation is a simulated return path and its true conditional variances.
type Simulation struct {
	Returns  []float64
	Variance []float64
}

// Simulate draws n returns from the process. The same seed always yields
// the same path.
func Simulate(p Params, n int, seed uint64) (Simulation, error) {
	if err := p.Validate(); err != nil {
		return Simulation{}, err
	}
	if n <= 0 {
		return Simulation{}, fmt.Errorf("egarch: n must be positive, got %d", n)
	}

	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	innov := distuv.StudentsT{Mu: 0, Sigma: dist.Scale(p.Nu), Nu: p.Nu, Src: src}
	eAbs := dist.ExpectedAbs(p.Nu)

	sim := Simulation{Returns: make([]float64, n), Variance: make([]float64, n)}
	h := clampLogVar(p.UnconditionalLogVariance())
	var z float64
	for t := -BurnIn; t < n; t++ {
		if t > -BurnIn {
			h = p.step(h, z, eAbs)
		}
		z = innov.Rand()
		if t < 0 {
			continue
		}
		sim.Variance[t] = math.Exp(h)
		sim.Returns[t] = p.Mu + math.Exp(h/2)*z
	}
	return sim, nil
}
