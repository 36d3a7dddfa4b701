package cmd

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/volrisk/backtest"
	"github.com/rustyeddy/volrisk/journal"
	"github.com/rustyeddy/volrisk/market"
	"github.com/rustyeddy/volrisk/pipeline"
	"github.com/rustyeddy/volrisk/pkg/id"
	"github.com/rustyeddy/volrisk/pkg/metrics"
)

// outputFlags are the artifact overrides shared by fit and walkforward.
type outputFlags struct {
	index     string
	panelCSV  string
	reportCSV string
	reportOrg string
	xlsx      string
	metrics   string
	noJournal bool
}

func (o *outputFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.index, "index", "i", "", "index name (overrides data.index)")
	cmd.Flags().StringVar(&o.panelCSV, "panel", "", "write the panel CSV here")
	cmd.Flags().StringVar(&o.reportCSV, "report", "", "write the backtest report CSV here")
	cmd.Flags().StringVar(&o.reportOrg, "org", "", "write the org-mode report here")
	cmd.Flags().StringVar(&o.xlsx, "xlsx", "", "write the panel and report workbook here")
	cmd.Flags().StringVar(&o.metrics, "metrics", "", "write Prometheus textfile metrics here")
	cmd.Flags().BoolVar(&o.noJournal, "no-journal", false, "do not record the run in the SQLite journal")
}

// apply copies non-empty overrides onto the loaded config.
func (o *outputFlags) apply() {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Data.Index, o.index)
	set(&cfg.Output.PanelCSV, o.panelCSV)
	set(&cfg.Output.ReportCSV, o.reportCSV)
	set(&cfg.Output.ReportOrg, o.reportOrg)
	set(&cfg.Output.XLSX, o.xlsx)
	set(&cfg.Output.MetricsFile, o.metrics)
}

// dataPath returns the positional input path or data.path.
func dataPath(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if cfg.Data.Path == "" {
		return "", errors.New("no input: pass a returns CSV or set data.path")
	}
	return cfg.Data.Path, nil
}

// indexName derives an index name from a file name: "data/ibex35.csv" -> "IBEX35".
func indexName(path string) string {
	base := filepath.Base(path)
	return strings.ToUpper(strings.TrimSuffix(base, filepath.Ext(base)))
}

func newRunner(rec *metrics.Recorder) *pipeline.Runner {
	r := pipeline.New(cfg, log)
	if rec != nil {
		r.FitObserver = rec
		r.WindowObserver = rec
	}
	return r
}

func newRun(kind journal.Kind, s market.Series, dataset string) journal.Run {
	now := time.Now().UTC()
	run := journal.Run{
		RunID:        id.NewAt(now),
		Created:      now,
		Kind:         kind,
		Index:        s.Name(),
		Dataset:      dataset,
		Start:        s.Start(),
		End:          s.End(),
		Observations: s.Len(),
		Status:       "ok",
	}
	if b, err := yaml.Marshal(cfg); err == nil {
		run.Config = b
	}
	return run
}

// writeArtifacts writes every configured file output of a run.
func writeArtifacts(p *pipeline.Panel, scope string, reports []backtest.Report, org journal.RunReport) error {
	out := cfg.Output
	var errs []error
	if out.PanelCSV != "" {
		errs = append(errs, journal.WriteFile(out.PanelCSV, func(w io.Writer) error {
			return journal.WritePanelCSV(w, p)
		}))
	}
	if out.ReportCSV != "" {
		errs = append(errs, journal.WriteFile(out.ReportCSV, func(w io.Writer) error {
			return journal.WriteReportCSV(w, scope, reports...)
		}))
	}
	if out.ReportOrg != "" {
		errs = append(errs, journal.WriteFile(out.ReportOrg, func(w io.Writer) error {
			return journal.WriteOrg(w, org)
		}))
	}
	if out.XLSX != "" {
		errs = append(errs, journal.WriteXLSX(out.XLSX, p, reports...))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}
	for _, path := range []string{out.PanelCSV, out.ReportCSV, out.ReportOrg, out.XLSX} {
		if path != "" {
			log.Info().Str("path", path).Msg("output written")
		}
	}
	return nil
}

func flushMetrics(rec *metrics.Recorder) {
	if cfg.Output.MetricsFile == "" {
		return
	}
	if err := rec.Flush(cfg.Output.MetricsFile); err != nil {
		log.Warn().Err(err).Msg("metrics not written")
	}
}

func openJournal() (*journal.SQLite, error) {
	j, err := journal.NewSQLite(cfg.Output.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return j, nil
}
