package cmd

import (
	"fmt"
	"io"
	"math"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/volrisk/journal"
	"github.com/rustyeddy/volrisk/pkg/id"
	"github.com/rustyeddy/volrisk/risk"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Query journaled runs",
	Long: `Query and display runs recorded in the SQLite journal.

Subcommands:
  list  - List runs, newest first
  show  - Show a run's backtests, exception counts and windows

Examples:
  volrisk runs list --index IBEX --limit 10
  volrisk runs show 01J9Z3K6W7Q8R2T4V6X8Z0B2D4`,
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

var (
	runsIndex string
	runsKind  string
	runsSince string
	runsLimit int
)

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsListCmd.Flags().StringVarP(&runsIndex, "index", "i", "", "only runs on this index")
	runsListCmd.Flags().StringVarP(&runsKind, "kind", "k", "", "only runs of this kind (fit, walkforward)")
	runsListCmd.Flags().StringVar(&runsSince, "since", "", "only runs created on or after this day (YYYY-MM-DD)")
	runsListCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "maximum runs listed (0 for all)")
}

func runRunsList(cmd *cobra.Command, args []string) error {
	f := journal.RunFilter{Index: runsIndex, Kind: journal.Kind(runsKind), Limit: runsLimit}
	if runsSince != "" {
		t, err := time.ParseInLocation(time.DateOnly, runsSince, time.Local)
		if err != nil {
			return fmt.Errorf("since: %w", err)
		}
		f.Since = t
	}

	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	runs, err := j.ListRuns(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("query runs: %w", err)
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tCREATED\tKIND\tINDEX\tSTART\tEND\tOBS\tSTATUS")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.RunID, r.Created.Local().Format("2006-01-02 15:04"), r.Kind, r.Index,
			r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly), r.Observations, r.Status)
	}
	return tw.Flush()
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	if _, err := id.Time(args[0]); err != nil {
		return fmt.Errorf("run id: %w", err)
	}

	j, err := openJournal()
	if err != nil {
		return err
	}
	defer j.Close()

	ctx := cmd.Context()
	r, err := j.GetRun(ctx, args[0])
	if err != nil {
		return err
	}
	bts, err := j.ListBacktests(ctx, r.RunID)
	if err != nil {
		return fmt.Errorf("query backtests: %w", err)
	}
	counts, err := j.CountExceptions(ctx, r.RunID)
	if err != nil {
		return fmt.Errorf("query exceptions: %w", err)
	}
	windows, err := j.ListWindows(ctx, r.RunID)
	if err != nil {
		return fmt.Errorf("query windows: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s (%s on %s)\n", r.RunID, r.Kind, r.Index)
	fmt.Fprintf(out, "  Created:  %s\n", r.Created.Local().Format(time.DateTime))
	fmt.Fprintf(out, "  Dataset:  %s (%d obs, %s to %s)\n", r.Dataset, r.Observations,
		r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly))
	fmt.Fprintf(out, "  Status:   %s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(out, "  Error:    %s\n", r.Error)
	}
	if len(r.Params) > 0 {
		fmt.Fprintf(out, "  Params:   %s\n", r.Params)
	}
	if !math.IsNaN(r.LogLikelihood) {
		fmt.Fprintf(out, "  LogLik:   %.3f\n", r.LogLikelihood)
	}

	if len(counts) > 0 {
		fmt.Fprintln(out, "\nExceptions")
		for _, c := range counts {
			fmt.Fprintf(out, "  VaR %s%%: %d of %d (%.2f%%, expected %.2f%%)\n",
				risk.LevelLabel(c.Level), c.Exceptions, c.Observations,
				100*float64(c.Exceptions)/float64(max(c.Observations, 1)), 100*(1-c.Level))
		}
	}
	if len(bts) > 0 {
		fmt.Fprintln(out, "\nBacktests")
		printBacktests(out, bts)
	}
	if len(windows) > 0 {
		fmt.Fprintln(out, "\nWindows")
		printWindows(out, windows)
	}
	return nil
}

func printBacktests(w io.Writer, rows []journal.BacktestRow) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  SCOPE\tLEVEL\tTEST\tLR\tDF\tP\tDECISION")
	for _, b := range rows {
		decision := "accept"
		switch {
		case b.Undefined != "":
			decision = "undefined: " + b.Undefined
		case b.Reject:
			decision = "reject"
		}
		fmt.Fprintf(tw, "  %s\t%s%%\t%s\t%s\t%d\t%s\t%s\n", b.Scope, risk.LevelLabel(b.Level), b.Test,
			num(b.Statistic), b.DF, num(b.PValue), decision)
	}
	tw.Flush()
}

func printWindows(w io.Writer, rows []journal.WindowRow) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  #\tTRAIN\tTEST\tITER\tELAPSED\tSTATUS")
	for _, r := range rows {
		status := "ok"
		if !r.OK() {
			status = r.ErrorKind
		}
		fmt.Fprintf(tw, "  %d\t%s to %s\t[%d,%d)\t%d\t%s\t%s\n", r.Window,
			r.TrainFrom.Format(time.DateOnly), r.TrainTo.Format(time.DateOnly),
			r.TestStart, r.TestEnd, r.Iterations, r.Elapsed.Round(time.Millisecond), status)
	}
	tw.Flush()
}

func num(x float64) string {
	if math.IsNaN(x) {
		return "-"
	}
	return fmt.Sprintf("%.4f", x)
}
