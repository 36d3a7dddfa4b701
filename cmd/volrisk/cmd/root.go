package cmd

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/volrisk/config"
	"github.com/rustyeddy/volrisk/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "volrisk",
	Short: "EGARCH-t volatility and VaR/ES risk analytics for equity indices",
	Long: `Volrisk estimates EGARCH(1,1) models with Student-t innovations on daily
index returns and turns the conditional volatility into risk measures.

It provides tools for:
  - Fitting the model and computing VaR and Expected Shortfall per level
  - Kupiec, Christoffersen and conditional coverage backtests
  - Walk-forward out-of-sample evaluation with CUSUM stability tests
  - Rolling correlation between two indices
  - Residual diagnostics and simulated return paths

Runs are journaled to SQLite and can be exported as CSV, XLSX and org-mode.`,
	SilenceUsage:       true,
	PersistentPreRunE:  setup,
	PersistentPostRunE: teardown,
}

var (
	cfgFile   string
	logLevel  string
	logFormat string
	dbPath    string

	cfg       *config.Config
	log       = zerolog.Nop()
	logCloser io.Closer
)

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML or JSON; defaults when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "override log.format (console, json)")
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "override output.db_path")
}

// setup loads the configuration, applies environment and flag overrides
// and builds the logger every subcommand shares.
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFromFile(cfgFile)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}

	cfg.ApplyEnv()
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if dbPath != "" {
		cfg.Output.DBPath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, logCloser, err = logger.New(cfg.Log)
	if err != nil {
		return err
	}
	log = log.With().Str("cmd", cmd.Name()).Logger()
	return nil
}

func teardown(cmd *cobra.Command, args []string) error {
	if logCloser != nil {
		return logCloser.Close()
	}
	return nil
}
