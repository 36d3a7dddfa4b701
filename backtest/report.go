package backtest

import (
	"fmt"
	"io"
	"time"

	"github.com/rustyeddy/volrisk/risk"
)

// PrintReport writes a plain-text rendering of r.
func PrintReport(w io.Writer, r Report) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " VaR Backtest")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Series:        %s\n", r.Name)
	if !r.Start.IsZero() {
		fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.DateOnly))
		fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.DateOnly))
	}
	fmt.Fprintf(w, "Significance:  %.2f%%\n", r.Significance*100)

	for _, l := range r.Levels {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "VaR %s%%\n", risk.LevelLabel(l.Level))
		fmt.Fprintln(w, "--------------------------------------------------")
		c := l.Coverage
		fmt.Fprintf(w, "Observations:  %d\n", c.Observations)
		fmt.Fprintf(w, "Exceptions:    %d (expected %.1f)\n", c.Exceptions, float64(c.Observations)*c.ExpectedRate)
		fmt.Fprintf(w, "Rate:          %.2f%%\n", c.ExceptionRate()*100)
		if c.Observations > 0 {
			fmt.Fprintf(w, "Violation Ratio: %.2f\n", c.ViolationRatio())
		}
		for _, res := range l.Results() {
			printResult(w, res)
		}
	}
}

func printResult(w io.Writer, res Result) {
	if !res.Defined() {
		fmt.Fprintf(w, "%-22s %s\n", res.Test, res.Decision())
		return
	}
	fmt.Fprintf(w, "%-22s LR=%.4f df=%d p=%.4f %s\n",
		res.Test, res.Statistic, res.DF, res.PValue, res.Decision())
}
