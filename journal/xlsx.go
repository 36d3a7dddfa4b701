package journal

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rustyeddy/volrisk/backtest"
	"github.com/rustyeddy/volrisk/pipeline"
	"github.com/rustyeddy/volrisk/risk"
)

const (
	panelSheet    = "panel"
	backtestSheet = "backtest"
)

// WriteXLSX writes the panel and the backtest reports to a workbook at
// path. Missing panel values are left blank.
func WriteXLSX(path string, p *pipeline.Panel, reports ...backtest.Report) error {
	x := excelize.NewFile()
	defer x.Close()

	if err := x.SetSheetName("Sheet1", panelSheet); err != nil {
		return err
	}
	if err := writePanelSheet(x, p); err != nil {
		return fmt.Errorf("panel sheet: %w", err)
	}

	if _, err := x.NewSheet(backtestSheet); err != nil {
		return err
	}
	if err := writeBacktestSheet(x, reports); err != nil {
		return fmt.Errorf("backtest sheet: %w", err)
	}

	if err := x.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func writePanelSheet(x *excelize.File, p *pipeline.Panel) error {
	sw, err := x.NewStreamWriter(panelSheet)
	if err != nil {
		return err
	}
	if err := sw.SetRow("A1", toAny(p.Columns())); err != nil {
		return err
	}
	for i, r := range p.Rows {
		row := []any{r.Date.Format(time.DateOnly), p.Index}
		for _, v := range p.Values(i) {
			if v.Valid {
				row = append(row, v.Float64)
			} else {
				row = append(row, nil)
			}
		}
		axis, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(axis, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

func writeBacktestSheet(x *excelize.File, reports []backtest.Report) error {
	if err := x.SetSheetRow(backtestSheet, "A1", &[]string{
		"index", "level", "test", "statistic", "df", "p_value", "decision",
		"observations", "exceptions",
	}); err != nil {
		return err
	}
	line := 2
	for _, rep := range reports {
		for _, lr := range rep.Levels {
			for _, res := range lr.Results() {
				var stat, pv any
				if res.Defined() {
					stat, pv = res.Statistic, res.PValue
				}
				axis, err := excelize.CoordinatesToCellName(1, line)
				if err != nil {
					return err
				}
				if err := x.SetSheetRow(backtestSheet, axis, &[]any{
					rep.Name, risk.LevelLabel(lr.Level), string(res.Test), stat, res.DF, pv,
					res.Decision(), res.Observations, res.Exceptions,
				}); err != nil {
					return err
				}
				line++
			}
		}
	}
	return nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
