package pipeline

import (
	"database/sql"
	"time"

	"github.com/rustyeddy/volrisk/risk"
)

// PanelRow is one output row per date for one index. Walk-forward columns
// are null in a full-sample panel, and CUSUM columns are null until the
// stability test has run.
type PanelRow struct {
	Date       time.Time
	Return     float64
	CondVol    float64
	Risk       []risk.Estimate // ascending by level
	Exceptions []bool

	Window        sql.NullInt64
	ForecastError sql.NullFloat64
	VarianceError sql.NullFloat64
	StdResid      sql.NullFloat64
	CUSUM         sql.NullFloat64
	CUSUMLower    sql.NullFloat64
	CUSUMUpper    sql.NullFloat64
	CUSUMSQ       sql.NullFloat64
	CUSUMSQLower  sql.NullFloat64
	CUSUMSQUpper  sql.NullFloat64
}

// Panel is the tabular hand-off of a run.
type Panel struct {
	Index       string
	Levels      []float64
	WalkForward bool
	Rows        []PanelRow
}

var walkForwardColumns = []string{
	"window", "forecast_error", "variance_error", "std_resid",
	"cusum", "cusum_lower", "cusum_upper",
	"cusumsq", "cusumsq_lower", "cusumsq_upper",
}

// Columns returns the header: date, index, return, cond_vol, one VaR per
// level, ES at the highest level, one exception flag per level, then the
// walk-forward columns when present.
func (p *Panel) Columns() []string {
	cols := []string{"date", "index", "return", "cond_vol"}
	for _, l := range p.Levels {
		cols = append(cols, "var_"+risk.LevelLabel(l))
	}
	if n := len(p.Levels); n > 0 {
		cols = append(cols, "es_"+risk.LevelLabel(p.Levels[n-1]))
	}
	for _, l := range p.Levels {
		cols = append(cols, "exception_"+risk.LevelLabel(l))
	}
	if p.WalkForward {
		cols = append(cols, walkForwardColumns...)
	}
	return cols
}

func valid(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

// Values returns row i in Columns order after the date and index columns.
// Exception flags are 0 or 1.
func (p *Panel) Values(i int) []sql.NullFloat64 {
	r := p.Rows[i]
	out := []sql.NullFloat64{valid(r.Return), valid(r.CondVol)}
	for _, e := range r.Risk {
		out = append(out, valid(e.VaR))
	}
	if n := len(r.Risk); n > 0 {
		out = append(out, valid(r.Risk[n-1].ES))
	}
	for _, x := range r.Exceptions {
		v := 0.0
		if x {
			v = 1
		}
		out = append(out, valid(v))
	}
	if p.WalkForward {
		w := sql.NullFloat64{Float64: float64(r.Window.Int64), Valid: r.Window.Valid}
		out = append(out, w, r.ForecastError, r.VarianceError, r.StdResid,
			r.CUSUM, r.CUSUMLower, r.CUSUMUpper, r.CUSUMSQ, r.CUSUMSQLower, r.CUSUMSQUpper)
	}
	return out
}

// ExceptionCounts returns the number of exceptions per level.
func (p *Panel) ExceptionCounts() []int {
	out := make([]int, len(p.Levels))
	for _, r := range p.Rows {
		for i, x := range r.Exceptions {
			if x {
				out[i]++
			}
		}
	}
	return out
}
