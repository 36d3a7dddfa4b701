package journal

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rustyeddy/volrisk/backtest"
	"github.com/rustyeddy/volrisk/pipeline"
	"github.com/rustyeddy/volrisk/risk"
)

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}

// g formats with full precision; panels feed downstream analysis.
func g(x float64) string {
	return strconv.FormatFloat(x, 'g', -1, 64)
}

func cell(v sql.NullFloat64) string {
	if !v.Valid {
		return ""
	}
	return g(v.Float64)
}

// WritePanelCSV writes p with its header. Missing values are empty cells.
func WritePanelCSV(w io.Writer, p *pipeline.Panel) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(p.Columns()); err != nil {
		return err
	}
	for i, r := range p.Rows {
		rec := []string{r.Date.Format(time.DateOnly), p.Index}
		for _, v := range p.Values(i) {
			rec = append(rec, cell(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

var reportHeader = []string{
	"index", "scope", "level", "test", "statistic", "df", "p_value",
	"significance", "decision", "observations", "exceptions", "exception_rate",
}

// WriteReportCSV writes one row per test and level. Undefined tests have
// empty statistic and p-value cells and an "undefined: <reason>" decision.
func WriteReportCSV(w io.Writer, scope string, reports ...backtest.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return err
	}
	for _, rep := range reports {
		for _, lr := range rep.Levels {
			for _, res := range lr.Results() {
				stat, pv := "", ""
				if res.Defined() {
					stat, pv = f(res.Statistic), f(res.PValue)
				}
				if err := cw.Write([]string{
					rep.Name,
					scope,
					risk.LevelLabel(lr.Level),
					string(res.Test),
					stat,
					strconv.Itoa(res.DF),
					pv,
					g(res.Significance),
					res.Decision(),
					strconv.Itoa(res.Observations),
					strconv.Itoa(res.Exceptions),
					f(res.ExceptionRate()),
				}); err != nil {
					return err
				}
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCorrelationCSV writes rolling correlation rows.
func WriteCorrelationCSV(w io.Writer, a, b string, rows []pipeline.CorrelationRow) error {
	cw := csv.NewWriter(w)
	header := []string{"date", "corr_" + a + "_" + b, "vol_" + a, "vol_" + b}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.Date.Format(time.DateOnly), cell(r.Correlation), cell(r.VolA), cell(r.VolB),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile creates path and hands it to write.
func WriteFile(path string, write func(io.Writer) error) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(out); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}
