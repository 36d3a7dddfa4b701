package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/volrisk/diagnostics"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose [returns.csv]",
	Short: "Normality, autocorrelation, ARCH and unit root tests on raw returns",
	Long: `Diagnose runs Jarque-Bera, Ljung-Box on returns and squared returns,
Engle's ARCH-LM test and an augmented Dickey-Fuller test on a return series.
A small ARCH-LM p-value is the usual evidence that a conditional variance model
is warranted; a small ADF p-value confirms the returns have no unit root.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDiagnose,
}

var (
	diagIndex string
	diagLB    int
	diagARCH  int
	diagADF   int
)

func init() {
	rootCmd.AddCommand(diagnoseCmd)

	diagnoseCmd.Flags().StringVarP(&diagIndex, "index", "i", "", "index name (overrides data.index)")
	diagnoseCmd.Flags().IntVar(&diagLB, "lags", 0, "Ljung-Box lags (overrides diagnostics.ljung_box_lags)")
	diagnoseCmd.Flags().IntVar(&diagARCH, "arch-lags", 0, "ARCH-LM lags (overrides diagnostics.arch_lags)")
	diagnoseCmd.Flags().IntVar(&diagADF, "adf-lags", diagnostics.AutoLags, "ADF lag ceiling, -1 for automatic (overrides diagnostics.adf_max_lags)")
}

func runDiagnose(cmd *cobra.Command, args []string) error {
	path, err := dataPath(args)
	if err != nil {
		return err
	}
	if diagIndex != "" {
		cfg.Data.Index = diagIndex
	}
	if diagLB > 0 {
		cfg.Diagnostics.LjungBoxLags = diagLB
	}
	if diagARCH > 0 {
		cfg.Diagnostics.ARCHLags = diagARCH
	}
	if cmd.Flags().Changed("adf-lags") {
		cfg.Diagnostics.ADFMaxLags = diagADF
	}

	s, _, err := newRunner(nil).Load(path)
	if err != nil {
		return err
	}
	sum, err := diagnostics.Run(s.Returns(), cfg.Diagnostics.LjungBoxLags, cfg.Diagnostics.ARCHLags, cfg.Diagnostics.ADFMaxLags)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d observations (%s to %s)\n", s.Name(), s.Len(),
		s.Start().Format("2006-01-02"), s.End().Format("2006-01-02"))
	for _, t := range []fmt.Stringer{sum.JarqueBera, sum.LjungBox, sum.LjungBoxSq, sum.ARCHLM, sum.ADF} {
		fmt.Fprintf(out, "  %s\n", t)
	}
	return nil
}
