// Package pipeline wires the analytics packages into the batch runs the
// CLI exposes: a full-sample fit with its risk panel and backtest report, a
// walk-forward evaluation, and the rolling correlation features.
package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/volrisk/backtest"
	"github.com/rustyeddy/volrisk/config"
	"github.com/rustyeddy/volrisk/diagnostics"
	"github.com/rustyeddy/volrisk/egarch"
	"github.com/rustyeddy/volrisk/indicators"
	"github.com/rustyeddy/volrisk/market"
	"github.com/rustyeddy/volrisk/risk"
	"github.com/rustyeddy/volrisk/walkforward"
)

// Runner executes runs under one configuration. The observers are
// optional.
type Runner struct {
	Config         *config.Config
	Log            zerolog.Logger
	FitObserver    egarch.FitObserver
	WindowObserver walkforward.WindowObserver
}

// New returns a runner for cfg.
func New(cfg *config.Config, log zerolog.Logger) *Runner {
	return &Runner{Config: cfg, Log: log.With().Str("component", "pipeline").Logger()}
}

func (r *Runner) estimator() *egarch.Estimator {
	est := egarch.NewEstimator(r.Config.EstimatorOptions(), r.Log)
	est.Observer = r.FitObserver
	return est
}

// Load reads the series at path and applies the configured gap policy.
func (r *Runner) Load(path string) (market.Series, market.GapReport, error) {
	s, err := market.LoadCSV(path, r.Config.CSVOptions())
	if err != nil {
		return market.Series{}, market.GapReport{}, err
	}
	policy := market.GapPolicy(r.Config.Data.GapPolicy)
	gaps := market.FindGaps(s, r.Config.Sessions())
	if err := gaps.Check(policy); err != nil {
		return s, gaps, fmt.Errorf("load %s: %w", path, err)
	}
	if policy == market.GapWarn && gaps.Missing > 0 {
		r.Log.Warn().Str("index", s.Name()).Int("missing", gaps.Missing).
			Int("gaps", len(gaps.Gaps)).Int("longest", gaps.LongestGap).
			Msg("series has missing sessions")
	}
	r.Log.Info().Str("index", s.Name()).Int("observations", s.Len()).
		Time("start", s.Start()).Time("end", s.End()).Msg("series loaded")
	return s, gaps, nil
}

// Result is the outcome of a full-sample run.
type Result struct {
	Index     string
	Fit       *egarch.Fit
	Panel     Panel
	Report    backtest.Report
	ReportErr error

	Diagnostics    *diagnostics.Summary
	DiagnosticsErr error
}

// Run fits the model on the whole series, computes in-sample risk for
// every date from the filtered volatility, backtests it and runs the
// residual diagnostics. Undefined backtests and failed diagnostics are
// reported on the result, not returned.
func (r *Runner) Run(ctx context.Context, s market.Series) (*Result, error) {
	cfg := r.Config
	fit, err := r.estimator().Fit(ctx, s.Returns())
	if err != nil {
		return nil, fmt.Errorf("fit %s: %w", s.Name(), err)
	}
	r.Log.Info().Str("index", s.Name()).Stringer("params", fit.Params).
		Float64("loglik", fit.LogLikelihood).Int("iterations", fit.Iterations).Msg("model fitted")

	calc, err := risk.NewCalculator(cfg.Risk.ConfidenceLevels, fit.Params.Nu)
	if err != nil {
		return nil, err
	}
	vols := fit.Path.Volatility()
	estimates, err := calc.Series(fit.Params.Mu, vols)
	if err != nil {
		return nil, err
	}

	levels := calc.Levels()
	res := &Result{
		Index: s.Name(),
		Fit:   fit,
		Panel: Panel{Index: s.Name(), Levels: levels, Rows: make([]PanelRow, s.Len())},
	}
	exc := make([][]bool, len(levels))
	for i := range exc {
		exc[i] = make([]bool, s.Len())
	}
	for t := range s.Len() {
		obs := s.At(t)
		row := PanelRow{
			Date:       obs.Date,
			Return:     obs.Return,
			CondVol:    vols[t],
			Risk:       estimates[t],
			Exceptions: make([]bool, len(levels)),
			StdResid:   valid(fit.Path.Z[t]),
		}
		for i, e := range estimates[t] {
			row.Exceptions[i] = e.Exception(obs.Return)
			exc[i][t] = row.Exceptions[i]
		}
		res.Panel.Rows[t] = row
	}

	engine, err := backtest.NewEngine(cfg.Backtest.Significance)
	if err != nil {
		return nil, err
	}
	res.Report, res.ReportErr = engine.RunLevels(s.Name(), levels, exc)
	res.Report.Start, res.Report.End = s.Start(), s.End()
	if res.ReportErr != nil {
		r.Log.Warn().Err(res.ReportErr).Str("index", s.Name()).Msg("backtest partly undefined")
	}

	diag, err := diagnostics.Run(fit.Path.Z, cfg.Diagnostics.LjungBoxLags, cfg.Diagnostics.ARCHLags, cfg.Diagnostics.ADFMaxLags)
	if err != nil {
		res.DiagnosticsErr = err
		r.Log.Warn().Err(err).Str("index", s.Name()).Msg("residual diagnostics skipped")
	} else {
		res.Diagnostics = &diag
	}
	return res, nil
}

// WalkForwardResult is the outcome of a walk-forward run.
type WalkForwardResult struct {
	Index string
	Eval  *walkforward.Result
	Panel Panel
}

// WalkForward runs the evaluator and lays its stitched out-of-sample path
// out as a panel. When too few windows succeed the partial result is
// returned together with the InsufficientData error.
func (r *Runner) WalkForward(ctx context.Context, s market.Series) (*WalkForwardResult, error) {
	ev := walkforward.NewEvaluator(r.estimator(), r.Config.WalkForwardOptions(), r.Log)
	ev.Observer = r.WindowObserver

	eval, err := ev.Run(ctx, s)
	if eval == nil {
		return nil, err
	}

	levels := eval.Levels
	if levels == nil {
		levels = slices.Sorted(slices.Values(r.Config.Risk.ConfidenceLevels))
	}
	out := &WalkForwardResult{
		Index: s.Name(),
		Eval:  eval,
		Panel: Panel{Index: s.Name(), Levels: levels, WalkForward: true, Rows: make([]PanelRow, len(eval.Points))},
	}
	st := eval.Stability
	for i, p := range eval.Points {
		row := PanelRow{
			Date:          p.Date,
			Return:        p.Return,
			CondVol:       p.Sigma,
			Risk:          p.Risk,
			Exceptions:    p.Exceptions,
			Window:        sql.NullInt64{Int64: int64(p.Window), Valid: true},
			ForecastError: valid(p.ForecastError),
			VarianceError: valid(p.VarianceError),
			StdResid:      valid(p.Z),
		}
		if st != nil {
			row.CUSUM = valid(st.CUSUM.Stat[i])
			row.CUSUMLower = valid(st.CUSUM.Lower[i])
			row.CUSUMUpper = valid(st.CUSUM.Upper[i])
			row.CUSUMSQ = valid(st.CUSUMSQ.Stat[i])
			row.CUSUMSQLower = valid(st.CUSUMSQ.Lower[i])
			row.CUSUMSQUpper = valid(st.CUSUMSQ.Upper[i])
		}
		out.Panel.Rows[i] = row
	}
	return out, err
}

// CorrelationRow pairs the rolling correlation of two indices with each
// one's rolling volatility on their common dates.
type CorrelationRow struct {
	Date        time.Time
	Correlation sql.NullFloat64
	VolA        sql.NullFloat64
	VolB        sql.NullFloat64
}

// Correlate computes the configured rolling correlation and volatility
// features for a and b.
func (r *Runner) Correlate(a, b market.Series) ([]CorrelationRow, error) {
	cc := r.Config.Correlation
	corr, err := indicators.RollingCorrelation(a, b, cc.Window)
	if err != nil {
		return nil, err
	}
	volA, err := indicators.RollingVolatility(a, cc.VolatilityWindow, cc.PeriodsPerYear)
	if err != nil {
		return nil, err
	}
	volB, err := indicators.RollingVolatility(b, cc.VolatilityWindow, cc.PeriodsPerYear)
	if err != nil {
		return nil, err
	}

	out := make([]CorrelationRow, len(corr))
	for i, p := range corr {
		out[i] = CorrelationRow{
			Date:        p.Date,
			Correlation: nullable(p),
			VolA:        lookup(volA, a.Index(p.Date)),
			VolB:        lookup(volB, b.Index(p.Date)),
		}
	}
	r.Log.Info().Str("a", a.Name()).Str("b", b.Name()).Int("dates", len(out)).Msg("rolling correlation computed")
	return out, nil
}

func nullable(p indicators.Point) sql.NullFloat64 {
	return sql.NullFloat64{Float64: p.Value, Valid: p.Valid}
}

func lookup(points []indicators.Point, i int) sql.NullFloat64 {
	if i < 0 || i >= len(points) {
		return sql.NullFloat64{}
	}
	return nullable(points[i])
}
