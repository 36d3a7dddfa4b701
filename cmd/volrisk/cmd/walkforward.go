package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/volrisk/backtest"
	"github.com/rustyeddy/volrisk/journal"
	"github.com/rustyeddy/volrisk/pipeline"
	"github.com/rustyeddy/volrisk/pkg/metrics"
	"github.com/rustyeddy/volrisk/walkforward"
)

var walkForwardCmd = &cobra.Command{
	Use:     "walkforward [returns.csv]",
	Aliases: []string{"wf"},
	Short:   "Evaluate out-of-sample forecasts over rolling or expanding windows",
	Long: `Walkforward fits the model on each training window, forecasts one step
ahead through the following test range and backtests the stitched
out-of-sample VaR. A CUSUM and CUSUM-of-squares test on the standardized
forecast residuals flags structural breaks.

Windows that fail to fit are logged and skipped; the run fails when fewer
than walk_forward.min_valid_windows succeed.

Example:
  volrisk walkforward data/ibex.csv --policy expanding --train 750 --step 125`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWalkForward,
}

var (
	wfOut     outputFlags
	wfPolicy  string
	wfTrain   int
	wfStep    int
	wfWorkers int
	wfMethod  string
)

func init() {
	rootCmd.AddCommand(walkForwardCmd)
	wfOut.register(walkForwardCmd)

	walkForwardCmd.Flags().StringVar(&wfPolicy, "policy", "", "window policy (rolling, expanding)")
	walkForwardCmd.Flags().IntVar(&wfTrain, "train", 0, "training window length")
	walkForwardCmd.Flags().IntVar(&wfStep, "step", 0, "test range length between refits")
	walkForwardCmd.Flags().IntVarP(&wfWorkers, "workers", "w", 0, "windows fitted in parallel")
	walkForwardCmd.Flags().StringVar(&wfMethod, "stability", "", "stability test (retrospective, monitoring)")
}

func applyWalkForwardFlags() error {
	wf := &cfg.WalkForward
	if wfPolicy != "" {
		wf.Policy = wfPolicy
	}
	if wfTrain > 0 {
		wf.TrainLength = wfTrain
	}
	if wfStep > 0 {
		wf.Step = wfStep
	}
	if wfWorkers > 0 {
		wf.Workers = wfWorkers
	}
	if wfMethod != "" {
		cfg.Stability.Method = wfMethod
	}
	return cfg.Validate()
}

func runWalkForward(cmd *cobra.Command, args []string) error {
	path, err := dataPath(args)
	if err != nil {
		return err
	}
	wfOut.apply()
	if err := applyWalkForwardFlags(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	rec := metrics.New()
	runner := newRunner(rec)
	s, _, err := runner.Load(path)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	res, runErr := runner.WalkForward(ctx, s)
	if res == nil {
		flushMetrics(rec)
		return runErr
	}
	eval := res.Eval

	run := newRun(journal.KindWalkForward, s, path)
	if runErr != nil {
		run.Status, run.Error = "failed", runErr.Error()
	}

	out := cmd.OutOrStdout()
	printWalkForward(out, eval)

	var reports []backtest.Report
	if runErr == nil {
		rec.ObserveReport(eval.Overall)
		log.Info().Str("index", s.Name()).Int("rejections", eval.Overall.Rejections()).Msg("overall backtest complete")
		reports = append(reports, eval.Overall)
		backtest.PrintReport(out, eval.Overall)
		if err := writeArtifacts(&res.Panel, "overall", reports, journal.RunReport{
			Run:       run,
			Reports:   reports,
			Windows:   eval.Windows,
			Stability: eval.Stability,
		}); err != nil {
			return err
		}
	}
	flushMetrics(rec)

	if !wfOut.noJournal {
		if err := recordWalkForward(ctx, run, eval, &res.Panel); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nRun %s recorded in %s\n", run.RunID, cfg.Output.DBPath)
	}
	return runErr
}

func printWalkForward(w io.Writer, eval *walkforward.Result) {
	fmt.Fprintf(w, "Windows: %d valid, %d failed\n", eval.Valid, eval.Failed)
	for _, err := range eval.Failures() {
		fmt.Fprintf(w, "  %v\n", err)
	}
	if len(eval.Points) > 0 {
		fmt.Fprintf(w, "Out-of-sample points: %d  RMSE(return): %.6f  RMSE(variance): %.6f\n",
			len(eval.Points), eval.ForecastRMSE, eval.VarianceRMSE)
	}
	if st := eval.Stability; st != nil {
		if st.Break {
			fmt.Fprintf(w, "Stability (%s): break in %s at %s\n", st.Method, st.BreakStat, st.BreakDate.Format("2006-01-02"))
		} else {
			fmt.Fprintf(w, "Stability (%s): no break\n", st.Method)
		}
	}
	fmt.Fprintln(w)
}

// recordWalkForward journals the run, its windows and, when the run
// succeeded, the stitched panel with the overall and per-window backtests.
func recordWalkForward(ctx context.Context, run journal.Run, eval *walkforward.Result, p *pipeline.Panel) error {
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	if err := j.RecordRun(ctx, run); err != nil {
		return err
	}
	if err := j.RecordWindows(ctx, run.RunID, eval.Windows); err != nil {
		return err
	}
	if run.Status != "ok" {
		return nil
	}
	if err := j.RecordPanel(ctx, run.RunID, p); err != nil {
		return err
	}
	if err := j.RecordBacktest(ctx, run.RunID, "overall", eval.Overall); err != nil {
		return err
	}
	for _, w := range eval.Windows {
		if !w.OK() {
			continue
		}
		if err := j.RecordBacktest(ctx, run.RunID, fmt.Sprintf("window-%d", w.Index), w.Backtest); err != nil {
			return err
		}
	}
	return nil
}
