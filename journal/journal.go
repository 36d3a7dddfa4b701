// Package journal persists runs and exports their artifacts: a SQLite run
// store, CSV panels and reports, an XLSX workbook and an org-mode report.
package journal

import (
	"context"
	"time"

	"github.com/rustyeddy/volrisk/backtest"
	"github.com/rustyeddy/volrisk/pipeline"
	"github.com/rustyeddy/volrisk/walkforward"
)

// Kind names the type of run.
type Kind string

const (
	KindFit         Kind = "fit"
	KindWalkForward Kind = "walkforward"
)

// Run mirrors the runs table.
type Run struct {
	RunID   string
	Created time.Time
	Kind    Kind
	Index   string
	Dataset string

	Start        time.Time
	End          time.Time
	Observations int

	// Config is the configuration snapshot (YAML).
	Config []byte
	// Params is the fitted parameter set (JSON); empty for walk-forward runs.
	Params []byte

	LogLikelihood float64
	Status        string
	// Error holds the run-level failure, if any.
	Error string
}

// Journal records runs and their results.
type Journal interface {
	RecordRun(ctx context.Context, r Run) error
	RecordPanel(ctx context.Context, runID string, p *pipeline.Panel) error
	RecordBacktest(ctx context.Context, runID, scope string, rep backtest.Report) error
	RecordWindows(ctx context.Context, runID string, windows []walkforward.WindowResult) error
	Close() error
}
