package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/volrisk/backtest"
	"github.com/rustyeddy/volrisk/pipeline"
	"github.com/rustyeddy/volrisk/riskerr"
	"github.com/rustyeddy/volrisk/walkforward"
)

// SQLite is the run store.
type SQLite struct {
	db *sql.DB
}

var _ Journal = (*SQLite)(nil)

// NewSQLite opens (creating if needed) the database at path and applies
// the schema.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// nullFloat maps NaN and ±Inf to NULL.
func nullFloat(x float64) sql.NullFloat64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: x, Valid: true}
}

func (j *SQLite) RecordRun(ctx context.Context, r Run) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, created, kind, idx, dataset, start_date, end_date, observations,
		 config, params, log_likelihood, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Created.UTC(), string(r.Kind), r.Index, r.Dataset,
		r.Start.UTC(), r.End.UTC(), r.Observations,
		r.Config, r.Params, nullFloat(r.LogLikelihood), r.Status, r.Error,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return nil
}

// withTx runs fn in a transaction, rolling back when it fails.
func (j *SQLite) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (j *SQLite) RecordPanel(ctx context.Context, runID string, p *pipeline.Panel) error {
	err := j.withTx(ctx, func(tx *sql.Tx) error {
		rowStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO panel
			(run_id, date, idx, ret, cond_vol, win, forecast_error, variance_error, std_resid,
			 cusum, cusum_lower, cusum_upper, cusumsq, cusumsq_lower, cusumsq_upper)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer rowStmt.Close()

		riskStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO panel_risk (run_id, date, level, var, es, exception)
			VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer riskStmt.Close()

		for _, r := range p.Rows {
			date := r.Date.UTC()
			if _, err := rowStmt.ExecContext(ctx,
				runID, date, p.Index, r.Return, r.CondVol, r.Window,
				r.ForecastError, r.VarianceError, r.StdResid,
				r.CUSUM, r.CUSUMLower, r.CUSUMUpper, r.CUSUMSQ, r.CUSUMSQLower, r.CUSUMSQUpper,
			); err != nil {
				return err
			}
			for i, e := range r.Risk {
				if _, err := riskStmt.ExecContext(ctx, runID, date, e.Level, e.VaR, e.ES, r.Exceptions[i]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record panel for run %s: %w", runID, err)
	}
	return nil
}

func (j *SQLite) RecordBacktest(ctx context.Context, runID, scope string, rep backtest.Report) error {
	err := j.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO backtests
			(run_id, scope, level, test, statistic, df, p_value, significance, reject,
			 undefined, observations, exceptions)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, lr := range rep.Levels {
			for _, res := range lr.Results() {
				stat, pv := nullFloat(res.Statistic), nullFloat(res.PValue)
				if !res.Defined() {
					stat, pv = sql.NullFloat64{}, sql.NullFloat64{}
				}
				if _, err := stmt.ExecContext(ctx,
					runID, scope, lr.Level, string(res.Test), stat, res.DF, pv,
					res.Significance, res.Reject, res.Undefined, res.Observations, res.Exceptions,
				); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record %s backtest for run %s: %w", scope, runID, err)
	}
	return nil
}

func (j *SQLite) RecordWindows(ctx context.Context, runID string, windows []walkforward.WindowResult) error {
	err := j.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO windows
			(run_id, win, train_start, train_end, test_start, test_end, train_from, train_to,
			 params, log_likelihood, iterations, error_kind, error, elapsed_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, w := range windows {
			var params []byte
			ll := sql.NullFloat64{}
			kind, msg := "", ""
			if w.OK() {
				if params, err = json.Marshal(w.Params); err != nil {
					return err
				}
				ll = nullFloat(w.LogLikelihood)
			} else {
				kind, msg = riskerr.KindOf(w.Err).String(), w.Err.Error()
			}
			if _, err := stmt.ExecContext(ctx,
				runID, w.Index, w.TrainStart, w.TrainEnd, w.TestStart, w.TestEnd,
				w.TrainFrom.UTC(), w.TrainTo.UTC(), params, ll, w.Iterations,
				kind, msg, w.Elapsed.Milliseconds(),
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record windows for run %s: %w", runID, err)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
