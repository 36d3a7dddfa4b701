package walkforward

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/volrisk/backtest"
	"github.com/rustyeddy/volrisk/egarch"
	"github.com/rustyeddy/volrisk/market"
	"github.com/rustyeddy/volrisk/risk"
	"github.com/rustyeddy/volrisk/riskerr"
)

// Options configure an evaluation run.
type Options struct {
	Windows         WindowSpec       `json:"windows" yaml:"windows"`
	Levels          []float64        `json:"levels" yaml:"levels"`
	Significance    float64          `json:"significance" yaml:"significance"`
	MinValidWindows int              `json:"min_valid_windows" yaml:"min_valid_windows"`
	Workers         int              `json:"workers" yaml:"workers"`
	WindowTimeout   time.Duration    `json:"window_timeout" yaml:"window_timeout"`
	Stability       StabilityOptions `json:"stability" yaml:"stability"`
}

// Validate checks the options that do not depend on the series.
func (o Options) Validate() error {
	if err := o.Windows.Validate(); err != nil {
		return err
	}
	if err := risk.ValidateLevels(o.Levels); err != nil {
		return err
	}
	if !(o.Significance > 0 && o.Significance < 1) {
		return fmt.Errorf("significance must be in (0, 1)")
	}
	if o.MinValidWindows < 1 {
		return fmt.Errorf("min_valid_windows must be positive")
	}
	if o.Workers < 1 {
		return fmt.Errorf("workers must be positive")
	}
	if o.WindowTimeout < 0 {
		return fmt.Errorf("window_timeout must not be negative")
	}
	return o.Stability.Validate()
}

// WindowObserver receives one call per finished window. outcome is "ok" or
// a riskerr kind.
type WindowObserver interface {
	ObserveWindow(outcome string, elapsed time.Duration)
}

// Evaluator runs walk-forward evaluations. Windows are independent: each
// worker fits its own training slice and writes only its own result slot.
type Evaluator struct {
	Estimator *egarch.Estimator
	Options   Options
	Log       zerolog.Logger
	Observer  WindowObserver
}

// NewEvaluator returns an evaluator using est for every window fit.
func NewEvaluator(est *egarch.Estimator, opts Options, log zerolog.Logger) *Evaluator {
	return &Evaluator{
		Estimator: est,
		Options:   opts,
		Log:       log.With().Str("component", "walkforward").Logger(),
	}
}

// Point is one out-of-sample observation. Risk and Exceptions follow the
// ascending level order.
type Point struct {
	Index         int             `json:"index"`
	Window        int             `json:"window"`
	Date          time.Time       `json:"date"`
	Return        float64         `json:"return"`
	Mu            float64         `json:"mu"`
	Sigma         float64         `json:"sigma"`
	ForecastError float64         `json:"forecast_error"`
	VarianceError float64         `json:"variance_error"`
	Z             float64         `json:"z"`
	Risk          []risk.Estimate `json:"risk"`
	Exceptions    []bool          `json:"exceptions"`
}

// WindowResult is the outcome of one window. Err is set when the window
// failed and was excluded; BacktestErr when some backtest was undefined.
type WindowResult struct {
	Window
	TrainFrom     time.Time       `json:"train_from"`
	TrainTo       time.Time       `json:"train_to"`
	Params        egarch.Params   `json:"params"`
	LogLikelihood float64         `json:"log_likelihood"`
	Iterations    int             `json:"iterations"`
	Points        []Point         `json:"points,omitempty"`
	Backtest      backtest.Report `json:"backtest"`
	BacktestErr   error           `json:"-"`
	Err           error           `json:"-"`
	Elapsed       time.Duration   `json:"elapsed"`
}

// OK reports whether the window produced forecasts.
func (w WindowResult) OK() bool { return w.Err == nil }

// Result aggregates a run. Points is the stitched out-of-sample path of
// the valid windows in date order.
type Result struct {
	Series     string          `json:"series"`
	Levels     []float64       `json:"levels"`
	Windows    []WindowResult  `json:"windows"`
	Valid      int             `json:"valid"`
	Failed     int             `json:"failed"`
	Points     []Point         `json:"points"`
	Overall    backtest.Report `json:"overall"`
	OverallErr error           `json:"-"`
	Stability  *Stability      `json:"stability,omitempty"`

	ForecastRMSE float64 `json:"forecast_rmse"`
	VarianceRMSE float64 `json:"variance_rmse"`
}

// Failures lists the failed windows' errors in window order.
func (r *Result) Failures() []error {
	var out []error
	for _, w := range r.Windows {
		if w.Err != nil {
			out = append(out, w.Err)
		}
	}
	return out
}

// Run evaluates s. Window failures are logged and skipped; fewer valid
// windows than Options.MinValidWindows fails the run with InsufficientData
// and returns the partial result alongside the error.
func (e *Evaluator) Run(ctx context.Context, s market.Series) (*Result, error) {
	const op = "walkforward.Run"
	o := e.Options
	if err := o.Validate(); err != nil {
		return nil, riskerr.Wrap(riskerr.KindValidation, op, err)
	}
	windows, err := Windows(s.Len(), o.Windows)
	if err != nil {
		return nil, err
	}
	engine, err := backtest.NewEngine(o.Significance)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Series:  s.Name(),
		Windows: make([]WindowResult, len(windows)),
	}

	e.Log.Info().Str("series", s.Name()).Int("windows", len(windows)).
		Int("workers", o.Workers).Str("policy", string(o.Windows.Policy)).Msg("walk-forward started")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Workers)
	for i, w := range windows {
		g.Go(func() error {
			res.Windows[i] = e.runWindow(gctx, s, w, engine)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, riskerr.Wrap(riskerr.KindNonConvergence, op, fmt.Errorf("walk-forward aborted: %w", err))
	}

	var zs []float64
	var dates []time.Time
	var nus []float64
	var sumFE, sumVE float64
	for _, w := range res.Windows {
		if !w.OK() {
			res.Failed++
			continue
		}
		res.Valid++
		nus = append(nus, w.Params.Nu)
		for _, p := range w.Points {
			res.Points = append(res.Points, p)
			zs = append(zs, p.Z)
			dates = append(dates, p.Date)
			sumFE += p.ForecastError * p.ForecastError
			sumVE += p.VarianceError * p.VarianceError
		}
	}

	e.Log.Info().Str("series", s.Name()).Int("valid", res.Valid).Int("failed", res.Failed).
		Msg("walk-forward finished")

	if res.Valid < o.MinValidWindows {
		return res, riskerr.New(riskerr.KindInsufficientData, op,
			"%d valid windows of %d, need %d", res.Valid, len(windows), o.MinValidWindows)
	}

	if n := float64(len(res.Points)); n > 0 {
		res.ForecastRMSE = math.Sqrt(sumFE / n)
		res.VarianceRMSE = math.Sqrt(sumVE / n)
	}

	levels, exc := exceptionPaths(res.Points)
	res.Levels = levels
	res.Overall, res.OverallErr = engine.RunLevels(s.Name(), levels, exc)
	res.Overall.Start, res.Overall.End = dates[0], dates[len(dates)-1]
	if res.OverallErr != nil {
		e.Log.Warn().Err(res.OverallErr).Msg("overall backtest partly undefined")
	}

	st, err := CheckStability(zs, dates, nus, o.Stability)
	if err != nil {
		e.Log.Warn().Err(err).Msg("stability test skipped")
	} else {
		res.Stability = &st
		if st.Break {
			e.Log.Warn().Str("stat", st.BreakStat).Time("date", st.BreakDate).
				Int("index", st.BreakIndex).Msg("parameter instability detected")
		}
	}
	return res, nil
}

// exceptionPaths transposes per-point exceptions into one path per level.
func exceptionPaths(points []Point) ([]float64, [][]bool) {
	if len(points) == 0 {
		return nil, nil
	}
	levels := make([]float64, len(points[0].Risk))
	for i, est := range points[0].Risk {
		levels[i] = est.Level
	}
	exc := make([][]bool, len(levels))
	for i := range exc {
		exc[i] = make([]bool, len(points))
		for t, p := range points {
			exc[i][t] = p.Exceptions[i]
		}
	}
	return levels, exc
}

func (e *Evaluator) runWindow(ctx context.Context, s market.Series, w Window, engine *backtest.Engine) (wr WindowResult) {
	start := time.Now()
	wr = WindowResult{
		Window:    w,
		TrainFrom: s.At(w.TrainStart).Date,
		TrainTo:   s.At(w.TrainEnd - 1).Date,
	}
	log := e.Log.With().Int("window", w.Index).Int("train_start", w.TrainStart).
		Int("train_end", w.TrainEnd).Logger()

	defer func() {
		wr.Elapsed = time.Since(start)
		outcome := "ok"
		if wr.Err != nil {
			outcome = riskerr.KindOf(wr.Err).String()
			log.Warn().Err(wr.Err).Dur("elapsed", wr.Elapsed).Msg("window skipped")
		} else {
			log.Debug().Dur("elapsed", wr.Elapsed).Msg("window done")
		}
		if e.Observer != nil {
			e.Observer.ObserveWindow(outcome, wr.Elapsed)
		}
	}()

	if e.Options.WindowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Options.WindowTimeout)
		defer cancel()
	}

	train := s.Slice(w.TrainStart, w.TrainEnd).Returns()
	fit, err := e.Estimator.Fit(ctx, train)
	if err != nil {
		wr.Err = riskerr.InWindow(err, w.Index)
		return wr
	}
	wr.Params = fit.Params
	wr.LogLikelihood = fit.LogLikelihood
	wr.Iterations = fit.Iterations

	calc, err := risk.NewCalculator(e.Options.Levels, fit.Params.Nu)
	if err != nil {
		wr.Err = riskerr.InWindow(err, w.Index)
		return wr
	}
	levels := calc.Levels()
	exc := make([][]bool, len(levels))

	f := fit.Forecaster()
	mu := fit.Params.Mu
	for t := w.TestStart; t < w.TestEnd; t++ {
		obs := s.At(t)
		variance := f.OneStep()
		sigma := math.Sqrt(variance)
		est, err := calc.Compute(mu, sigma)
		if err != nil {
			wr.Err = riskerr.InWindow(err, w.Index)
			return wr
		}

		eps := obs.Return - mu
		p := Point{
			Index:         t,
			Window:        w.Index,
			Date:          obs.Date,
			Return:        obs.Return,
			Mu:            mu,
			Sigma:         sigma,
			ForecastError: eps,
			VarianceError: eps*eps - variance,
			Z:             eps / sigma,
			Risk:          est,
			Exceptions:    make([]bool, len(est)),
		}
		for i, r := range est {
			p.Exceptions[i] = r.Exception(obs.Return)
			exc[i] = append(exc[i], p.Exceptions[i])
		}
		wr.Points = append(wr.Points, p)
		f = f.Next(obs.Return)
	}

	wr.Backtest, wr.BacktestErr = engine.RunLevels(s.Name(), levels, exc)
	wr.Backtest.Start, wr.Backtest.End = s.At(w.TestStart).Date, s.At(w.TestEnd-1).Date
	return wr
}
