package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const runColumns = `run_id, created, kind, idx, dataset, start_date, end_date, observations,
	config, params, log_likelihood, status, error`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var kind string
	var ll sql.NullFloat64
	err := s.Scan(&r.RunID, &r.Created, &kind, &r.Index, &r.Dataset, &r.Start, &r.End,
		&r.Observations, &r.Config, &r.Params, &ll, &r.Status, &r.Error)
	r.Kind = Kind(kind)
	r.LogLikelihood = orNaN(ll)
	return r, err
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// GetRun returns a single run by ID.
func (j *SQLite) GetRun(ctx context.Context, runID string) (Run, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, fmt.Errorf("run %q not found", runID)
		}
		return Run{}, err
	}
	return r, nil
}

// RunFilter narrows ListRuns. Zero fields match everything.
type RunFilter struct {
	Index string
	Kind  Kind
	Since time.Time
	Limit int
}

// ListRuns returns matching runs, newest first.
func (j *SQLite) ListRuns(ctx context.Context, f RunFilter) ([]Run, error) {
	var where []string
	var args []any
	if f.Index != "" {
		where = append(where, "idx = ?")
		args = append(args, f.Index)
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if !f.Since.IsZero() {
		where = append(where, "created >= ?")
		args = append(args, f.Since.UTC())
	}

	q := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY run_id DESC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// BacktestRow mirrors the backtests table. Statistic and PValue are NaN
// for undefined tests.
type BacktestRow struct {
	Scope        string
	Level        float64
	Test         string
	Statistic    float64
	DF           int
	PValue       float64
	Significance float64
	Reject       bool
	Undefined    string
	Observations int
	Exceptions   int
}

// ListBacktests returns a run's backtest rows ordered by scope, level and
// test.
func (j *SQLite) ListBacktests(ctx context.Context, runID string) ([]BacktestRow, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT scope, level, test, statistic, df, p_value, significance, reject,
		       undefined, observations, exceptions
		FROM backtests
		WHERE run_id = ?
		ORDER BY scope ASC, level ASC, test ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BacktestRow
	for rows.Next() {
		var b BacktestRow
		var stat, pv sql.NullFloat64
		if err := rows.Scan(&b.Scope, &b.Level, &b.Test, &stat, &b.DF, &pv, &b.Significance,
			&b.Reject, &b.Undefined, &b.Observations, &b.Exceptions); err != nil {
			return nil, err
		}
		b.Statistic, b.PValue = orNaN(stat), orNaN(pv)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PanelRecord is one stored panel row without its risk columns.
type PanelRecord struct {
	Date          time.Time
	Index         string
	Return        float64
	CondVol       float64
	Window        sql.NullInt64
	ForecastError sql.NullFloat64
	StdResid      sql.NullFloat64
	CUSUM         sql.NullFloat64
	CUSUMSQ       sql.NullFloat64
}

// ListPanel returns a run's panel rows in date order.
func (j *SQLite) ListPanel(ctx context.Context, runID string) ([]PanelRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT date, idx, ret, cond_vol, win, forecast_error, std_resid, cusum, cusumsq
		FROM panel
		WHERE run_id = ?
		ORDER BY date ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PanelRecord
	for rows.Next() {
		var p PanelRecord
		if err := rows.Scan(&p.Date, &p.Index, &p.Return, &p.CondVol, &p.Window,
			&p.ForecastError, &p.StdResid, &p.CUSUM, &p.CUSUMSQ); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ExceptionCount is the number of stored exceptions at one level.
type ExceptionCount struct {
	Level        float64
	Observations int
	Exceptions   int
}

// CountExceptions aggregates a run's panel_risk rows per level.
func (j *SQLite) CountExceptions(ctx context.Context, runID string) ([]ExceptionCount, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT level, COUNT(*), SUM(exception)
		FROM panel_risk
		WHERE run_id = ?
		GROUP BY level
		ORDER BY level ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExceptionCount
	for rows.Next() {
		var c ExceptionCount
		if err := rows.Scan(&c.Level, &c.Observations, &c.Exceptions); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WindowRow mirrors the windows table.
type WindowRow struct {
	Window        int
	TrainStart    int
	TrainEnd      int
	TestStart     int
	TestEnd       int
	TrainFrom     time.Time
	TrainTo       time.Time
	Params        []byte
	LogLikelihood float64
	Iterations    int
	ErrorKind     string
	Error         string
	Elapsed       time.Duration
}

// OK reports whether the window produced forecasts.
func (w WindowRow) OK() bool { return w.ErrorKind == "" }

// ListWindows returns a run's windows in index order.
func (j *SQLite) ListWindows(ctx context.Context, runID string) ([]WindowRow, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT win, train_start, train_end, test_start, test_end, train_from, train_to,
		       params, log_likelihood, iterations, error_kind, error, elapsed_ms
		FROM windows
		WHERE run_id = ?
		ORDER BY win ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WindowRow
	for rows.Next() {
		var w WindowRow
		var ll sql.NullFloat64
		var ms int64
		if err := rows.Scan(&w.Window, &w.TrainStart, &w.TrainEnd, &w.TestStart, &w.TestEnd,
			&w.TrainFrom, &w.TrainTo, &w.Params, &ll, &w.Iterations, &w.ErrorKind, &w.Error, &ms); err != nil {
			return nil, err
		}
		w.LogLikelihood = orNaN(ll)
		w.Elapsed = time.Duration(ms) * time.Millisecond
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
