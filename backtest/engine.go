package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/rustyeddy/volrisk/riskerr"
)

// Engine runs every test at a fixed significance.
type Engine struct {
	Significance float64
}

// NewEngine validates the significance level.
func NewEngine(significance float64) (*Engine, error) {
	if !(significance > 0 && significance < 1) {
		return nil, riskerr.New(riskerr.KindValidation, "backtest.NewEngine",
			"significance %g outside (0, 1)", significance)
	}
	return &Engine{Significance: significance}, nil
}

// LevelReport holds the three tests at one confidence level.
type LevelReport struct {
	Level        float64 `json:"level"`
	Coverage     Result  `json:"coverage"`
	Independence Result  `json:"independence"`
	Conditional  Result  `json:"conditional"`
}

// Results returns the three results in report order.
func (l LevelReport) Results() []Result {
	return []Result{l.Coverage, l.Independence, l.Conditional}
}

// Report is the backtest of one series over a set of levels.
type Report struct {
	Name         string        `json:"name"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Significance float64       `json:"significance"`
	Levels       []LevelReport `json:"levels"`
}

// Run backtests one exception history. A degenerate independence test does
// not stop the others: the report is complete and the BacktestDegenerate
// error is returned alongside it.
func (e *Engine) Run(level float64, exc []bool) (LevelReport, error) {
	lr := LevelReport{Level: level}

	uc, ucErr := Kupiec(exc, level, e.Significance)
	lr.Coverage = uc
	if ucErr != nil && !riskerr.Is(ucErr, riskerr.KindInsufficientData) {
		return lr, ucErr
	}

	ind, indErr := Christoffersen(exc, level, e.Significance)
	lr.Independence = ind
	lr.Conditional = ConditionalCoverage(uc, ind)

	return lr, errors.Join(ucErr, indErr)
}

// RunLevels backtests one exception history per level. exceptions[i]
// belongs to levels[i]. Every level is reported; errors from all levels
// are joined.
func (e *Engine) RunLevels(name string, levels []float64, exceptions [][]bool) (Report, error) {
	rep := Report{Name: name, Significance: e.Significance}
	if len(levels) != len(exceptions) {
		return rep, riskerr.New(riskerr.KindValidation, "backtest.RunLevels",
			"%d levels but %d exception series", len(levels), len(exceptions))
	}

	var errs []error
	for i, level := range levels {
		lr, err := e.Run(level, exceptions[i])
		rep.Levels = append(rep.Levels, lr)
		if err != nil {
			errs = append(errs, fmt.Errorf("level %g: %w", level, err))
		}
	}
	return rep, errors.Join(errs...)
}

// Rejections counts defined tests that reject.
func (r Report) Rejections() int {
	n := 0
	for _, l := range r.Levels {
		for _, res := range l.Results() {
			if res.Defined() && res.Reject {
				n++
			}
		}
	}
	return n
}
