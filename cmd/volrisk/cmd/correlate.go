package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/volrisk/journal"
	"github.com/rustyeddy/volrisk/market"
	"github.com/rustyeddy/volrisk/pipeline"
)

var correlateCmd = &cobra.Command{
	Use:   "correlate <a.csv> <b.csv>",
	Short: "Rolling correlation and volatility of two indices",
	Long: `Correlate aligns two return series on their common dates and writes the
rolling Pearson correlation together with each index's rolling volatility.
Dates before the window fills are left empty.

Example:
  volrisk correlate data/ibex.csv data/spx.csv --window 60 -o ibex_spx.csv`,
	Args: cobra.ExactArgs(2),
	RunE: runCorrelate,
}

var (
	corrNames  []string
	corrWindow int
	corrVol    int
	corrOutput string
)

func init() {
	rootCmd.AddCommand(correlateCmd)

	correlateCmd.Flags().StringSliceVar(&corrNames, "names", nil, "index names for the two files (default: file names)")
	correlateCmd.Flags().IntVar(&corrWindow, "window", 0, "correlation window (overrides correlation.window)")
	correlateCmd.Flags().IntVar(&corrVol, "vol-window", 0, "volatility window (overrides correlation.volatility_window)")
	correlateCmd.Flags().StringVarP(&corrOutput, "output", "o", "", "output CSV (stdout when empty)")
}

// loadNamed reads path as index name under the shared data settings.
func loadNamed(path, name string) (market.Series, error) {
	c := *cfg
	c.Data.Index = name
	s, _, err := pipeline.New(&c, log).Load(path)
	return s, err
}

func runCorrelate(cmd *cobra.Command, args []string) error {
	names := []string{indexName(args[0]), indexName(args[1])}
	if len(corrNames) > 0 {
		if len(corrNames) != 2 {
			return fmt.Errorf("--names needs two values, got %d", len(corrNames))
		}
		names = corrNames
	}
	if corrWindow > 0 {
		cfg.Correlation.Window = corrWindow
	}
	if corrVol > 0 {
		cfg.Correlation.VolatilityWindow = corrVol
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	a, err := loadNamed(args[0], names[0])
	if err != nil {
		return err
	}
	b, err := loadNamed(args[1], names[1])
	if err != nil {
		return err
	}

	rows, err := pipeline.New(cfg, log).Correlate(a, b)
	if err != nil {
		return err
	}
	write := func(w io.Writer) error {
		return journal.WriteCorrelationCSV(w, a.Name(), b.Name(), rows)
	}
	if corrOutput == "" {
		return write(cmd.OutOrStdout())
	}
	if err := journal.WriteFile(corrOutput, write); err != nil {
		return err
	}
	log.Info().Str("path", corrOutput).Int("dates", len(rows)).Msg("output written")
	return nil
}
