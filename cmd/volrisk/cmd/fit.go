package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/volrisk/backtest"
	"github.com/rustyeddy/volrisk/journal"
	"github.com/rustyeddy/volrisk/pkg/metrics"
)

var fitCmd = &cobra.Command{
	Use:   "fit [returns.csv]",
	Short: "Fit the model on a full series and backtest its in-sample VaR",
	Long: `Fit estimates EGARCH(1,1)-t on the whole series, computes VaR and ES at
every configured confidence level from the filtered volatility, runs the
coverage backtests and the residual diagnostics.

The input defaults to data.path. The run is recorded in the journal and the
configured outputs are written.

Example:
  volrisk fit data/ibex.csv --index IBEX --panel ibex_panel.csv --org ibex.org`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFit,
}

var fitOut outputFlags

func init() {
	rootCmd.AddCommand(fitCmd)
	fitOut.register(fitCmd)
}

func runFit(cmd *cobra.Command, args []string) error {
	path, err := dataPath(args)
	if err != nil {
		return err
	}
	fitOut.apply()

	rec := metrics.New()
	runner := newRunner(rec)
	s, _, err := runner.Load(path)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	res, err := runner.Run(ctx, s)
	if err != nil {
		flushMetrics(rec)
		return err
	}
	rec.ObserveReport(res.Report)
	log.Info().Str("index", s.Name()).Int("rejections", res.Report.Rejections()).Msg("backtest complete")

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Model: %s\n", res.Fit.Params)
	fmt.Fprintf(out, "Log-likelihood: %.3f  AIC: %.3f  BIC: %.3f  (%d iterations, %s)\n\n",
		res.Fit.LogLikelihood, res.Fit.AIC, res.Fit.BIC, res.Fit.Iterations, res.Fit.Status)
	backtest.PrintReport(out, res.Report)
	if res.Diagnostics != nil {
		fmt.Fprintln(out)
		for _, t := range res.Diagnostics.Tests() {
			fmt.Fprintln(out, t)
		}
	}

	run := newRun(journal.KindFit, s, path)
	run.LogLikelihood = res.Fit.LogLikelihood
	if b, err := json.Marshal(res.Fit.Params); err == nil {
		run.Params = b
	}

	reports := []backtest.Report{res.Report}
	if err := writeArtifacts(&res.Panel, "full", reports, journal.RunReport{
		Run:         run,
		Fit:         res.Fit,
		Reports:     reports,
		Diagnostics: res.Diagnostics,
	}); err != nil {
		return err
	}
	flushMetrics(rec)

	if fitOut.noJournal {
		return nil
	}
	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()
	if err := j.RecordRun(ctx, run); err != nil {
		return err
	}
	if err := j.RecordPanel(ctx, run.RunID, &res.Panel); err != nil {
		return err
	}
	if err := j.RecordBacktest(ctx, run.RunID, "full", res.Report); err != nil {
		return err
	}
	fmt.Fprintf(out, "\nRun %s recorded in %s\n", run.RunID, cfg.Output.DBPath)
	return nil
}
