package egarch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/rustyeddy/volrisk/dist"
	"github.com/rustyeddy/volrisk/riskerr"
)

// MeanModel selects how μ is treated during estimation.
type MeanModel string

const (
	MeanConstant MeanModel = "constant"
	MeanZero     MeanModel = "zero"
)

// Options control the optimizer. Zero values are replaced by
// DefaultOptions() field by field.
type Options struct {
	Mean MeanModel `json:"mean" yaml:"mean"`

	InitialAlpha float64 `json:"initial_alpha" yaml:"initial_alpha"`
	InitialGamma float64 `json:"initial_gamma" yaml:"initial_gamma"`
	InitialBeta  float64 `json:"initial_beta" yaml:"initial_beta"`
	MinNu        float64 `json:"min_initial_nu" yaml:"min_initial_nu"`
	MaxNu        float64 `json:"max_initial_nu" yaml:"max_initial_nu"`

	// StationarityBound rejects fits whose persistence |β| reaches it.
	StationarityBound float64 `json:"stationarity_bound" yaml:"stationarity_bound"`

	MaxIterations     int     `json:"max_iterations" yaml:"max_iterations"`
	GradientTolerance float64 `json:"gradient_tolerance" yaml:"gradient_tolerance"`
	FunctionTolerance float64 `json:"function_tolerance" yaml:"function_tolerance"`
	// StallGradientTolerance accepts a fit whose line search failed when the
	// final gradient norm is at most this value.
	StallGradientTolerance float64 `json:"stall_gradient_tolerance" yaml:"stall_gradient_tolerance"`
	Restarts               int     `json:"restarts" yaml:"restarts"`
	DiffStep               float64 `json:"diff_step" yaml:"diff_step"`
	MinObservations        int     `json:"min_observations" yaml:"min_observations"`
}

// DefaultOptions returns the estimator defaults.
func DefaultOptions() Options {
	return Options{
		Mean:                   MeanConstant,
		InitialAlpha:           0.10,
		InitialGamma:           -0.05,
		InitialBeta:            0.90,
		MinNu:                  4.5,
		MaxNu:                  50,
		StationarityBound:      0.9999,
		MaxIterations:          500,
		GradientTolerance:      1e-6,
		FunctionTolerance:      1e-10,
		StallGradientTolerance: 1e-3,
		Restarts:               2,
		DiffStep:               1e-5,
		MinObservations:        100,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Mean == "" {
		o.Mean = d.Mean
	}
	if o.InitialAlpha == 0 && o.InitialGamma == 0 && o.InitialBeta == 0 {
		o.InitialAlpha, o.InitialGamma, o.InitialBeta = d.InitialAlpha, d.InitialGamma, d.InitialBeta
	}
	if o.MinNu == 0 {
		o.MinNu = d.MinNu
	}
	if o.MaxNu == 0 {
		o.MaxNu = d.MaxNu
	}
	if o.StationarityBound == 0 {
		o.StationarityBound = d.StationarityBound
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = d.MaxIterations
	}
	if o.GradientTolerance == 0 {
		o.GradientTolerance = d.GradientTolerance
	}
	if o.FunctionTolerance == 0 {
		o.FunctionTolerance = d.FunctionTolerance
	}
	if o.StallGradientTolerance == 0 {
		o.StallGradientTolerance = d.StallGradientTolerance
	}
	if o.DiffStep == 0 {
		o.DiffStep = d.DiffStep
	}
	if o.MinObservations == 0 {
		o.MinObservations = d.MinObservations
	}
	return o
}

// Validate reports the first invalid option.
func (o Options) Validate() error {
	switch o.Mean {
	case MeanConstant, MeanZero:
	default:
		return fmt.Errorf("mean must be %q or %q, got %q", MeanConstant, MeanZero, o.Mean)
	}
	if math.Abs(o.InitialBeta) >= 1 {
		return fmt.Errorf("initial_beta must be in (-1, 1)")
	}
	if o.MinNu <= dist.MinNu || o.MaxNu < o.MinNu {
		return fmt.Errorf("initial nu range must satisfy 2 < min <= max")
	}
	if o.StationarityBound <= 0 || o.StationarityBound > 1 {
		return fmt.Errorf("stationarity_bound must be in (0, 1]")
	}
	if o.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive")
	}
	if o.GradientTolerance <= 0 || o.FunctionTolerance <= 0 || o.StallGradientTolerance <= 0 {
		return fmt.Errorf("tolerances must be positive")
	}
	if o.Restarts < 0 {
		return fmt.Errorf("restarts must be non-negative")
	}
	if o.DiffStep <= 0 {
		return fmt.Errorf("diff_step must be positive")
	}
	if o.MinObservations < 10 {
		return fmt.Errorf("min_observations must be at least 10")
	}
	return nil
}

// FitObserver receives one call per Fit. outcome is "ok" or a riskerr kind.
type FitObserver interface {
	ObserveFit(outcome string, iterations int, elapsed time.Duration)
}

// Estimator fits EGARCH(1,1)-t models. The zero value is usable.
type Estimator struct {
	Options  Options
	Log      zerolog.Logger
	Observer FitObserver
}

// NewEstimator returns an Estimator with opts applied over the defaults.
func NewEstimator(opts Options, log zerolog.Logger) *Estimator {
	return &Estimator{Options: opts, Log: log}
}

// Inference holds asymptotic standard errors from the inverse Hessian of
// the negative log likelihood, in natural parameter units.
type Inference struct {
	StdErr Params `json:"std_err" yaml:"std_err"`
}

// Fit is a converged, stationary estimate with its in-sample path.
type Fit struct {
	Params        Params     `json:"params"`
	H0            float64    `json:"h0"`
	LogLikelihood float64    `json:"log_likelihood"`
	AIC           float64    `json:"aic"`
	BIC           float64    `json:"bic"`
	NumParams     int        `json:"num_params"`
	NumObs        int        `json:"num_obs"`
	Iterations    int        `json:"iterations"`
	FuncEvals     int        `json:"func_evals"`
	Status        string     `json:"status"`
	GradNorm      float64    `json:"grad_norm"`
	Attempts      int        `json:"attempts"`
	Inference     *Inference `json:"inference,omitempty"`

	Path Path `json:"-"`
}

// Forecaster returns a forecaster positioned after the last in-sample
// observation.
func (f *Fit) Forecaster() Forecaster {
	n := len(f.Path.LogVariance)
	return NewForecaster(f.Params, f.Path.LogVariance[n-1], f.Path.Z[n-1])
}

// Fit estimates the model on returns. It fails with InsufficientData for a
// short sample, NonConvergence when no start converges (or ctx ends), and
// NonStationarity when the optimum has persistence at or above the bound.
func (e *Estimator) Fit(ctx context.Context, returns []float64) (fit *Fit, err error) {
	const op = "egarch.Fit"
	start := time.Now()
	iterations := 0
	defer func() {
		if e.Observer == nil {
			return
		}
		outcome := "ok"
		if err != nil {
			outcome = riskerr.KindOf(err).String()
		}
		e.Observer.ObserveFit(outcome, iterations, time.Since(start))
	}()

	o := e.Options.withDefaults()
	if err := o.Validate(); err != nil {
		return nil, riskerr.Wrap(riskerr.KindValidation, op, err)
	}
	n := len(returns)
	if n < o.MinObservations {
		return nil, riskerr.New(riskerr.KindInsufficientData, op,
			"%d observations, need at least %d", n, o.MinObservations)
	}
	for i, r := range returns {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			return nil, riskerr.New(riskerr.KindValidation, op, "non-finite return at %d", i)
		}
	}

	mean, variance := stat.PopMeanVariance(returns, nil)
	h0 := InitialLogVariance(returns)
	lay := layout{estimateMu: o.Mean == MeanConstant}
	nu0 := dist.NuFromKurtosis(stat.ExKurtosis(returns, nil), o.MinNu, o.MaxNu)

	objective := func(x []float64) float64 {
		ll := lay.unpack(x).LogLikelihood(returns, h0)
		if math.IsNaN(ll) || math.IsInf(ll, 0) {
			return math.MaxFloat64 / 1e10
		}
		return -ll / float64(n)
	}

	var lastErr error
	attempts := 0
	for _, beta0 := range startingBetas(o.InitialBeta, o.Restarts) {
		attempts++
		init := Params{
			Mu:    mean,
			Omega: (1 - beta0) * math.Log(math.Max(variance, math.Exp(MinLogVariance))),
			Alpha: o.InitialAlpha,
			Gamma: o.InitialGamma,
			Beta:  beta0,
			Nu:    nu0,
		}
		if !lay.estimateMu {
			init.Mu = 0
		}

		res, status, gradNorm, runErr := minimize(ctx, objective, lay.pack(init), o)
		if res != nil {
			iterations += res.Stats.MajorIterations
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, riskerr.Wrap(riskerr.KindNonConvergence, op,
				fmt.Errorf("optimizer aborted after %d attempts: %w", attempts, ctxErr))
		}
		if runErr != nil {
			lastErr = runErr
			e.Log.Debug().Float64("beta0", beta0).Str("status", status).
				Float64("grad_norm", gradNorm).Err(runErr).Msg("egarch start did not converge")
			continue
		}

		p := lay.unpack(res.X)
		if !p.Stationary(o.StationarityBound) {
			return nil, riskerr.New(riskerr.KindNonStationarity, op,
				"persistence %.6f >= bound %.6f (%s)", p.Persistence(), o.StationarityBound, p)
		}

		ll := p.LogLikelihood(returns, h0)
		k := float64(lay.dim())
		fit = &Fit{
			Params:        p,
			H0:            h0,
			LogLikelihood: ll,
			AIC:           2*k - 2*ll,
			BIC:           k*math.Log(float64(n)) - 2*ll,
			NumParams:     lay.dim(),
			NumObs:        n,
			Iterations:    res.Stats.MajorIterations,
			FuncEvals:     res.Stats.FuncEvaluations,
			Status:        status,
			GradNorm:      gradNorm,
			Attempts:      attempts,
			Inference:     inference(lay, p, returns, h0),
			Path:          p.Filter(returns, h0),
		}
		e.Log.Debug().Int("attempts", attempts).Int("iterations", fit.Iterations).
			Float64("loglik", ll).Str("params", p.String()).Msg("egarch fit converged")
		return fit, nil
	}

	e.Log.Warn().Int("attempts", attempts).Err(lastErr).Msg("egarch fit did not converge")
	return nil, riskerr.Wrap(riskerr.KindNonConvergence, op,
		fmt.Errorf("no start converged in %d attempts: %w", attempts, lastErr))
}

// startingBetas is the deterministic restart ladder for β₀.
func startingBetas(first float64, restarts int) []float64 {
	ladder := []float64{first, 0.80, 0.97, 0.50}
	out := []float64{first}
	for _, b := range ladder[1:] {
		if len(out) > restarts {
			break
		}
		if b != first {
			out = append(out, b)
		}
	}
	return out
}

// ctxRecorder lets a context cancel a running optimization.
type ctxRecorder struct {
	ctx context.Context
}

func (r ctxRecorder) Init() error { return r.ctx.Err() }

func (r ctxRecorder) Record(*optimize.Location, optimize.Operation, *optimize.Stats) error {
	return r.ctx.Err()
}

func converged(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence,
		optimize.FunctionThreshold, optimize.StepConvergence, optimize.MethodConverge:
		return true
	}
	return false
}

// minimize runs BFGS with a central finite-difference gradient. When BFGS
// stalls inside its iteration budget, usually a failed line search on a kink
// of α|z|, the search continues with Nelder-Mead from where it stopped and is
// polished by a second BFGS run. A non-nil error means no stage converged;
// res may still be set.
func minimize(ctx context.Context, f func([]float64) float64, x0 []float64, o Options) (*optimize.Result, string, float64, error) {
	fdSettings := &fd.Settings{Formula: fd.Central, Step: o.DiffStep}
	problem := optimize.Problem{
		Func: f,
		Grad: func(grad, x []float64) {
			fd.Gradient(grad, f, x, fdSettings)
		},
	}
	gradNorm := func(x []float64) float64 {
		grad := make([]float64, len(x))
		fd.Gradient(grad, f, x, fdSettings)
		return floats.Norm(grad, 2)
	}

	var stats optimize.Stats
	res, err := runStage(ctx, problem, x0, o, o.MaxIterations, &optimize.BFGS{}, &stats)
	if res == nil {
		return nil, "", math.Inf(1), err
	}
	best, bestErr := res, err
	if ok, g, aerr := accept(res, err, gradNorm, o); ok || ctx.Err() != nil || limitStatus(res.Status) {
		res.Stats = stats
		return res, res.Status.String(), g, aerr
	}

	from := res.X
	if !finite(from) {
		from = x0
	}
	nm, nmErr := runStage(ctx, problem, from, o, 20*o.MaxIterations, &optimize.NelderMead{}, &stats)
	if better(nm, best) {
		best, bestErr = nm, nmErr
	}
	if nm != nil && ctx.Err() == nil {
		polish, pErr := runStage(ctx, problem, nm.X, o, o.MaxIterations, &optimize.BFGS{}, &stats)
		if better(polish, best) {
			best, bestErr = polish, pErr
		}
	}

	best.Stats = stats
	ok, g, aerr := accept(best, bestErr, gradNorm, o)
	if !ok && best != nm && nm != nil && converged(nm.Status) {
		// A collapsed simplex is a minimum even where BFGS keeps failing.
		if ok2, g2, _ := accept(nm, nmErr, gradNorm, o); ok2 {
			nm.Stats = stats
			return nm, nm.Status.String(), g2, nil
		}
	}
	return best, best.Status.String(), g, aerr
}

// runStage runs one optimizer and adds its work to stats.
func runStage(ctx context.Context, problem optimize.Problem, x0 []float64, o Options, iters int, method optimize.Method, stats *optimize.Stats) (*optimize.Result, error) {
	settings := &optimize.Settings{
		GradientThreshold: o.GradientTolerance,
		MajorIterations:   iters,
		Converger: &optimize.FunctionConverge{
			Absolute:   o.FunctionTolerance,
			Relative:   o.FunctionTolerance,
			Iterations: 20,
		},
		Recorder: ctxRecorder{ctx: ctx},
	}
	res, err := optimize.Minimize(problem, x0, settings, method)
	if res == nil || len(res.X) != len(x0) {
		if err == nil {
			err = errors.New("optimizer returned no result")
		}
		return nil, err
	}
	stats.MajorIterations += res.Stats.MajorIterations
	stats.FuncEvaluations += res.Stats.FuncEvaluations
	stats.GradEvaluations += res.Stats.GradEvaluations
	stats.Runtime += res.Stats.Runtime
	return res, err
}

// accept decides whether res is a usable optimum: a converged status, or
// a stall whose finite-difference gradient norm is below the stall
// tolerance.
func accept(res *optimize.Result, err error, gradNorm func([]float64) float64, o Options) (bool, float64, error) {
	status := res.Status.String()
	if !finite(res.X) {
		return false, math.Inf(1), fmt.Errorf("non-finite parameters (%s)", status)
	}
	g := gradNorm(res.X)
	if err == nil && converged(res.Status) {
		return true, g, nil
	}
	if g <= o.StallGradientTolerance && !limitStatus(res.Status) {
		return true, g, nil
	}
	if err == nil {
		err = fmt.Errorf("terminated with status %s", status)
	}
	return false, g, fmt.Errorf("grad norm %.3g: %w", g, err)
}

func better(a, b *optimize.Result) bool {
	return a != nil && (math.IsNaN(b.F) || a.F <= b.F)
}

func finite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func limitStatus(s optimize.Status) bool {
	switch s {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit,
		optimize.GradientEvaluationLimit, optimize.RuntimeLimit:
		return true
	}
	return false
}

// inference inverts the numerical Hessian of the total negative log
// likelihood at p. It returns nil when p sits too close to the boundary
// for the difference stencil or the Hessian is not positive definite.
func inference(lay layout, p Params, returns []float64, h0 float64) *Inference {
	const step = 1e-4
	if p.Nu-dist.MinNu <= 2*step || p.Persistence()+2*step >= 1 {
		return nil
	}
	f := func(x []float64) float64 {
		return -lay.fromNatural(x).LogLikelihood(returns, h0)
	}
	x := lay.natural(p)
	var hess mat.SymDense
	fd.Hessian(&hess, f, x, &fd.Settings{Formula: fd.Central, Step: step})

	var chol mat.Cholesky
	if ok := chol.Factorize(&hess); !ok {
		return nil
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil
	}
	se := make([]float64, len(x))
	for i := range se {
		v := cov.At(i, i)
		if !(v > 0) || math.IsInf(v, 0) {
			return nil
		}
		se[i] = math.Sqrt(v)
	}
	std := lay.fromNatural(se)
	if !lay.estimateMu {
		std.Mu = 0
	}
	return &Inference{StdErr: std}
}
