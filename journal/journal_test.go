package journal

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rustyeddy/volrisk/backtest"
	"github.com/rustyeddy/volrisk/egarch"
	"github.com/rustyeddy/volrisk/pipeline"
	"github.com/rustyeddy/volrisk/risk"
	"github.com/rustyeddy/volrisk/riskerr"
	"github.com/rustyeddy/volrisk/walkforward"
)

var day0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "volrisk.db")
	j, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j, dbPath
}

// testPanel builds n rows at unit volatility with an exception at 95% on
// every 20th day and at 99% on every 100th.
func testPanel(t *testing.T, n int, walkForward bool) *pipeline.Panel {
	t.Helper()
	calc, err := risk.NewCalculator([]float64{0.99, 0.95}, 6)
	require.NoError(t, err)
	est, err := calc.Compute(0, 1)
	require.NoError(t, err)

	p := &pipeline.Panel{Index: "IBEX", Levels: calc.Levels(), WalkForward: walkForward}
	for i := range n {
		ret := 0.1
		switch {
		case i%100 == 99:
			ret = -est[1].VaR - 0.5
		case i%20 == 19:
			ret = -est[0].VaR - 0.1
		}
		row := pipeline.PanelRow{
			Date:       day0.AddDate(0, 0, i),
			Return:     ret,
			CondVol:    1,
			Risk:       est,
			Exceptions: []bool{est[0].Exception(ret), est[1].Exception(ret)},
		}
		if walkForward {
			row.Window = sql.NullInt64{Int64: int64(i / 50), Valid: true}
			row.ForecastError = sql.NullFloat64{Float64: ret, Valid: true}
			row.StdResid = sql.NullFloat64{Float64: ret, Valid: true}
			if i > 0 {
				row.CUSUM = sql.NullFloat64{Float64: float64(i) / 100, Valid: true}
			}
		}
		p.Rows = append(p.Rows, row)
	}
	return p
}

func testReport(t *testing.T, p *pipeline.Panel) backtest.Report {
	t.Helper()
	exc := make([][]bool, len(p.Levels))
	for _, r := range p.Rows {
		for i, x := range r.Exceptions {
			exc[i] = append(exc[i], x)
		}
	}
	eng, err := backtest.NewEngine(0.05)
	require.NoError(t, err)
	rep, _ := eng.RunLevels(p.Index, p.Levels, exc)
	rep.Start, rep.End = p.Rows[0].Date, p.Rows[len(p.Rows)-1].Date
	return rep
}

func testRun(id string, kind Kind) Run {
	return Run{
		RunID:         id,
		Created:       time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
		Kind:          kind,
		Index:         "IBEX",
		Dataset:       "ibex.csv",
		Start:         day0,
		End:           day0.AddDate(0, 0, 199),
		Observations:  200,
		Config:        []byte("risk:\n  confidence_levels: [0.95, 0.99]\n"),
		Params:        []byte(`{"mu":0.01}`),
		LogLikelihood: -321.5,
		Status:        "ok",
	}
}

func TestSQLiteRunRoundTrip(t *testing.T) {
	t.Parallel()
	j, _ := newTestSQLite(t)
	ctx := context.Background()

	want := testRun("01HZZZZZZZZZZZZZZZZZZZZZZ1", KindFit)
	require.NoError(t, j.RecordRun(ctx, want))

	got, err := j.GetRun(ctx, want.RunID)
	require.NoError(t, err)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.Index, got.Index)
	assert.True(t, want.Created.Equal(got.Created))
	assert.True(t, want.Start.Equal(got.Start))
	assert.Equal(t, want.Config, got.Config)
	assert.InDelta(t, want.LogLikelihood, got.LogLikelihood, 1e-9)

	_, err = j.GetRun(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	assert.Error(t, j.RecordRun(ctx, want), "duplicate run id")
}

func TestSQLiteListRuns(t *testing.T) {
	t.Parallel()
	j, _ := newTestSQLite(t)
	ctx := context.Background()

	ids := []string{"01HA0000000000000000000001", "01HA0000000000000000000002", "01HA0000000000000000000003"}
	kinds := []Kind{KindFit, KindWalkForward, KindFit}
	for i, id := range ids {
		r := testRun(id, kinds[i])
		if i == 2 {
			r.Index = "SPX"
		}
		require.NoError(t, j.RecordRun(ctx, r))
	}

	all, err := j.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].RunID, "newest first")

	fits, err := j.ListRuns(ctx, RunFilter{Kind: KindFit})
	require.NoError(t, err)
	assert.Len(t, fits, 2)

	ibex, err := j.ListRuns(ctx, RunFilter{Index: "IBEX", Limit: 1})
	require.NoError(t, err)
	require.Len(t, ibex, 1)
	assert.Equal(t, ids[1], ibex[0].RunID)
}

func TestSQLitePanelAndBacktests(t *testing.T) {
	t.Parallel()
	j, _ := newTestSQLite(t)
	ctx := context.Background()

	run := testRun("01HB0000000000000000000001", KindWalkForward)
	require.NoError(t, j.RecordRun(ctx, run))

	p := testPanel(t, 200, true)
	require.NoError(t, j.RecordPanel(ctx, run.RunID, p))
	rep := testReport(t, p)
	require.NoError(t, j.RecordBacktest(ctx, run.RunID, "overall", rep))

	rows, err := j.ListPanel(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, rows, 200)
	assert.True(t, rows[0].Date.Equal(day0))
	assert.False(t, rows[0].CUSUM.Valid, "NULL survives the round trip")
	assert.True(t, rows[1].CUSUM.Valid)
	assert.Equal(t, int64(3), rows[199].Window.Int64)

	counts, err := j.CountExceptions(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, ExceptionCount{Level: 0.95, Observations: 200, Exceptions: 10}, counts[0])
	assert.Equal(t, ExceptionCount{Level: 0.99, Observations: 200, Exceptions: 2}, counts[1])

	bts, err := j.ListBacktests(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, bts, 6)
	for _, b := range bts {
		assert.Equal(t, "overall", b.Scope)
		if b.Undefined != "" {
			assert.True(t, math.IsNaN(b.PValue))
		}
	}
	assert.Equal(t, rep.Levels[0].Coverage.PValue, bts[2].PValue, "0.95 kupiec_pof")
}

func TestSQLitePanelRequiresRun(t *testing.T) {
	t.Parallel()
	j, _ := newTestSQLite(t)

	err := j.RecordPanel(context.Background(), "no-such-run", testPanel(t, 5, false))
	assert.Error(t, err)
}

func TestSQLiteWindows(t *testing.T) {
	t.Parallel()
	j, _ := newTestSQLite(t)
	ctx := context.Background()

	run := testRun("01HC0000000000000000000001", KindWalkForward)
	require.NoError(t, j.RecordRun(ctx, run))

	windows := []walkforward.WindowResult{
		{
			Window:        walkforward.Window{Index: 0, TrainStart: 0, TrainEnd: 500, TestStart: 500, TestEnd: 600},
			TrainFrom:     day0,
			TrainTo:       day0.AddDate(0, 0, 499),
			Params:        egarch.Params{Omega: 0.01, Alpha: 0.1, Gamma: -0.05, Beta: 0.95, Nu: 6},
			LogLikelihood: -700.25,
			Iterations:    41,
			Elapsed:       1500 * time.Millisecond,
		},
		{
			Window:    walkforward.Window{Index: 1, TrainStart: 100, TrainEnd: 600, TestStart: 600, TestEnd: 700},
			TrainFrom: day0.AddDate(0, 0, 100),
			TrainTo:   day0.AddDate(0, 0, 599),
			Err:       riskerr.InWindow(riskerr.New(riskerr.KindNonStationarity, "egarch.Fit", "persistence 0.99995"), 1),
		},
	}
	require.NoError(t, j.RecordWindows(ctx, run.RunID, windows))

	got, err := j.ListWindows(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].OK())
	assert.Equal(t, 41, got[0].Iterations)
	assert.Equal(t, 1500*time.Millisecond, got[0].Elapsed)
	assert.Contains(t, string(got[0].Params), `"beta":0.95`)
	assert.False(t, got[1].OK())
	assert.Equal(t, "non_stationarity", got[1].ErrorKind)
	assert.Contains(t, got[1].Error, "[window 1]")
	assert.True(t, math.IsNaN(got[1].LogLikelihood))
}

func TestWritePanelCSV(t *testing.T) {
	t.Parallel()

	p := testPanel(t, 40, true)
	var buf bytes.Buffer
	require.NoError(t, WritePanelCSV(&buf, p))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 41)
	assert.Equal(t, p.Columns(), records[0])

	first := records[1]
	assert.Equal(t, "2024-01-02", first[0])
	assert.Equal(t, "IBEX", first[1])
	assert.Equal(t, "0.1", first[2])
	cusum := indexOf(records[0], "cusum")
	assert.Equal(t, "", first[cusum], "missing values are empty cells")
	assert.Equal(t, "0.01", records[2][cusum])

	exc := indexOf(records[0], "exception_95")
	assert.Equal(t, "1", records[20][exc])
	assert.Equal(t, "0", records[19][exc])
}

func indexOf(ss []string, s string) int {
	for i, v := range ss {
		if v == s {
			return i
		}
	}
	return -1
}

func TestWriteReportCSV(t *testing.T) {
	t.Parallel()

	// Zero exceptions leave the independence test undefined.
	eng, err := backtest.NewEngine(0.05)
	require.NoError(t, err)
	rep, err := eng.RunLevels("IBEX", []float64{0.99}, [][]bool{make([]bool, 100)})
	require.Error(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteReportCSV(&buf, "full", rep))
	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, reportHeader, records[0])
	assert.Equal(t, []string{"IBEX", "full", "99", "kupiec_pof"}, records[1][:4])
	assert.NotEmpty(t, records[1][4])
	assert.Equal(t, "", records[2][4])
	assert.True(t, strings.HasPrefix(records[2][8], "undefined: "))
}

func TestWriteCorrelationCSV(t *testing.T) {
	t.Parallel()

	rows := []pipeline.CorrelationRow{
		{Date: day0},
		{Date: day0.AddDate(0, 0, 1), Correlation: sql.NullFloat64{Float64: 0.5, Valid: true}, VolA: sql.NullFloat64{Float64: 0.2, Valid: true}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteCorrelationCSV(&buf, "IBEX", "SPX", rows))
	assert.Equal(t, "date,corr_IBEX_SPX,vol_IBEX,vol_SPX\n2024-01-02,,,\n2024-01-03,0.5,0.2,\n", buf.String())
}

func TestWriteXLSX(t *testing.T) {
	t.Parallel()

	p := testPanel(t, 30, true)
	rep := testReport(t, p)
	path := filepath.Join(t.TempDir(), "panel.xlsx")
	require.NoError(t, WriteXLSX(path, p, rep))

	x, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer x.Close()

	assert.Equal(t, []string{panelSheet, backtestSheet}, x.GetSheetList())

	rows, err := x.GetRows(panelSheet)
	require.NoError(t, err)
	require.Len(t, rows, 31)
	assert.Equal(t, p.Columns(), rows[0])
	v, err := x.GetCellValue(panelSheet, "C2")
	require.NoError(t, err)
	assert.Equal(t, "0.1", v)

	bt, err := x.GetRows(backtestSheet)
	require.NoError(t, err)
	assert.Len(t, bt, 1+2*3)
	assert.Equal(t, "kupiec_pof", bt[1][2])
}

func TestWriteOrg(t *testing.T) {
	t.Parallel()

	p := testPanel(t, 200, false)
	fit := &egarch.Fit{
		Params:        egarch.Params{Mu: 0.02, Omega: 0.01, Alpha: 0.1, Gamma: -0.05, Beta: 0.95, Nu: 6},
		LogLikelihood: -321.5,
		Iterations:    37,
		Status:        "GradientThreshold",
		Attempts:      1,
	}
	st := &walkforward.Stability{Method: walkforward.Monitoring, Significance: 0.05, Break: true,
		BreakIndex: 12, BreakDate: day0.AddDate(0, 0, 12), BreakStat: "cusumsq"}

	var buf bytes.Buffer
	require.NoError(t, WriteOrg(&buf, RunReport{
		Run:       testRun("01HD0000000000000000000001", KindFit),
		Fit:       fit,
		Reports:   []backtest.Report{testReport(t, p)},
		Stability: st,
		Notes:     []string{"rerun with expanding windows"},
	}))
	out := buf.String()

	assert.Contains(t, out, "* VOLRISK FIT: IBEX")
	assert.Contains(t, out, ":RUN_ID:      01HD0000000000000000000001")
	assert.Contains(t, out, "| beta      | 0.950000 | - |")
	assert.Contains(t, out, "** Backtest IBEX (2024-01-02 to 2024-07-19)")
	assert.Contains(t, out, "| 95% | kupiec_pof |")
	assert.Contains(t, out, "- VaR 99%: 2 exceptions in 200 (1.00%)")
	assert.Contains(t, out, "Break detected by *cusumsq* at 2024-01-14")
	assert.Contains(t, out, "- rerun with expanding windows")
	assert.NotContains(t, out, "** Windows")
}
