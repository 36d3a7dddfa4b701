// Package metrics collects batch-run metrics on a private prometheus
// registry. A batch run writes the registry to a node-exporter textfile on
// exit instead of serving it.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rustyeddy/volrisk/backtest"
	"github.com/rustyeddy/volrisk/risk"
)

// Recorder implements egarch.FitObserver and walkforward.WindowObserver.
type Recorder struct {
	reg *prometheus.Registry

	fits          *prometheus.CounterVec
	fitIterations prometheus.Histogram
	fitDuration   prometheus.Histogram
	windows       *prometheus.CounterVec
	windowSeconds prometheus.Histogram
	pValue        *prometheus.GaugeVec
	exceptionRate *prometheus.GaugeVec
	lastRun       prometheus.Gauge
}

// New registers the volrisk collectors on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		fits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volrisk_fits_total",
				Help: "Model fits by outcome",
			},
			[]string{"outcome"},
		),
		fitIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "volrisk_fit_iterations",
			Help:    "Optimizer iterations per fit",
			Buckets: prometheus.ExponentialBuckets(5, 2, 8),
		}),
		fitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "volrisk_fit_duration_seconds",
			Help:    "Wall time per fit",
			Buckets: prometheus.DefBuckets,
		}),
		windows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "volrisk_walkforward_windows_total",
				Help: "Walk-forward windows by outcome",
			},
			[]string{"outcome"},
		),
		windowSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "volrisk_walkforward_window_duration_seconds",
			Help:    "Wall time per walk-forward window",
			Buckets: prometheus.DefBuckets,
		}),
		pValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "volrisk_backtest_p_value",
				Help: "Backtest p-value by index, confidence level and test",
			},
			[]string{"index", "level", "test"},
		),
		exceptionRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "volrisk_backtest_exception_rate",
				Help: "Observed VaR exception rate by index and confidence level",
			},
			[]string{"index", "level"},
		),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "volrisk_last_run_timestamp_seconds",
			Help: "Unix time the last batch run finished",
		}),
	}
	r.reg.MustRegister(r.fits, r.fitIterations, r.fitDuration, r.windows,
		r.windowSeconds, r.pValue, r.exceptionRate, r.lastRun)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

// ObserveFit records one estimator run.
func (r *Recorder) ObserveFit(outcome string, iterations int, elapsed time.Duration) {
	r.fits.WithLabelValues(outcome).Inc()
	r.fitIterations.Observe(float64(iterations))
	r.fitDuration.Observe(elapsed.Seconds())
}

// ObserveWindow records one walk-forward window.
func (r *Recorder) ObserveWindow(outcome string, elapsed time.Duration) {
	r.windows.WithLabelValues(outcome).Inc()
	r.windowSeconds.Observe(elapsed.Seconds())
}

// ObserveReport sets p-value and exception-rate gauges for every defined
// result in rep. Undefined tests leave their gauge untouched.
func (r *Recorder) ObserveReport(rep backtest.Report) {
	for _, lr := range rep.Levels {
		lvl := risk.LevelLabel(lr.Level)
		for _, res := range lr.Results() {
			if !res.Defined() {
				continue
			}
			r.pValue.WithLabelValues(rep.Name, lvl, string(res.Test)).Set(res.PValue)
		}
		if lr.Coverage.Observations > 0 {
			r.exceptionRate.WithLabelValues(rep.Name, lvl).Set(lr.Coverage.ExceptionRate())
		}
	}
}

// Flush stamps the run time and writes the registry to path.
func (r *Recorder) Flush(path string) error {
	r.lastRun.SetToCurrentTime()
	if err := prometheus.WriteToTextfile(path, r.reg); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
