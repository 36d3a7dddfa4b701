package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/volrisk/config"
	"github.com/rustyeddy/volrisk/risk"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate configuration files",
	Long: `Manage volrisk configuration files.

Subcommands:
  init     - Generate a configuration file with every default written out
  validate - Validate an existing configuration file

Examples:
  volrisk config init -o volrisk.yaml
  volrisk config validate -f volrisk.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	Long: `Create a new configuration file with default settings. The format follows
the extension: .yaml/.yml for YAML, anything else for JSON.

Example:
  volrisk config init -o volrisk.yaml`,
	RunE: runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Check if a configuration file is valid and can be loaded.

Example:
  volrisk config validate -f volrisk.yaml`,
	RunE: runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "volrisk.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	if err := config.Default().SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nEdit the file and run with:")
	fmt.Fprintf(out, "  volrisk fit -c %s <returns.csv>\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	c, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	levels := make([]string, len(c.Risk.ConfidenceLevels))
	for i, l := range c.Risk.ConfidenceLevels {
		levels[i] = risk.LevelLabel(l) + "%"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", configValidatePath)
	fmt.Fprintf(out, "  Data: %s (%s, gaps: %s)\n", c.Data.Index, orDash(c.Data.Path), c.Data.GapPolicy)
	fmt.Fprintf(out, "  Model: %s mean, stationarity bound %g\n", c.Model.Mean, c.Model.StationarityBound)
	fmt.Fprintf(out, "  Risk: %s (backtest significance %g)\n", strings.Join(levels, ", "), c.Backtest.Significance)
	fmt.Fprintf(out, "  Walk-forward: %s, train %d, step %d, %d workers\n",
		c.WalkForward.Policy, c.WalkForward.TrainLength, c.WalkForward.Step, c.WalkForward.Workers)
	fmt.Fprintf(out, "  Journal: %s\n", c.Output.DBPath)
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
