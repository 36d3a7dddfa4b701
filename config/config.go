package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/volrisk/egarch"
	"github.com/rustyeddy/volrisk/market"
	"github.com/rustyeddy/volrisk/pkg/logger"
	"github.com/rustyeddy/volrisk/risk"
	"github.com/rustyeddy/volrisk/walkforward"
)

// Config represents a complete volrisk run.
type Config struct {
	Data        DataConfig        `json:"data" yaml:"data"`
	Model       ModelConfig       `json:"model" yaml:"model"`
	Optimizer   OptimizerConfig   `json:"optimizer" yaml:"optimizer"`
	Risk        RiskConfig        `json:"risk" yaml:"risk"`
	Backtest    BacktestConfig    `json:"backtest" yaml:"backtest"`
	WalkForward WalkForwardConfig `json:"walk_forward" yaml:"walk_forward"`
	Stability   StabilityConfig   `json:"stability" yaml:"stability"`
	Correlation CorrelationConfig `json:"correlation" yaml:"correlation"`
	Diagnostics DiagnosticsConfig `json:"diagnostics" yaml:"diagnostics"`
	Output      OutputConfig      `json:"output" yaml:"output"`
	Log         logger.Config     `json:"log" yaml:"log"`
}

// DataConfig describes the input return series.
type DataConfig struct {
	Path         string `json:"path" yaml:"path"`
	Index        string `json:"index" yaml:"index" default:"INDEX" validate:"required"`
	DateColumn   string `json:"date_column" yaml:"date_column" default:"date" validate:"required"`
	ReturnColumn string `json:"return_column" yaml:"return_column" default:"return" validate:"required"`
	DateLayout   string `json:"date_layout" yaml:"date_layout" default:"2006-01-02" validate:"required"`
	GapPolicy    string `json:"gap_policy" yaml:"gap_policy" default:"warn" validate:"oneof=ignore warn reject"`
	// Calendar is an ISO 10383 MIC such as "xnys"; empty means weekdays.
	Calendar string `json:"calendar" yaml:"calendar"`
}

// ModelConfig holds the mean model, starting values and the
// stationarity bound.
type ModelConfig struct {
	Mean              string  `json:"mean" yaml:"mean" default:"constant" validate:"oneof=constant zero"`
	InitialAlpha      float64 `json:"initial_alpha" yaml:"initial_alpha" default:"0.1"`
	InitialGamma      float64 `json:"initial_gamma" yaml:"initial_gamma" default:"-0.05"`
	InitialBeta       float64 `json:"initial_beta" yaml:"initial_beta" default:"0.9" validate:"gt=-1,lt=1"`
	MinNu             float64 `json:"min_initial_nu" yaml:"min_initial_nu" default:"4.5" validate:"gt=2"`
	MaxNu             float64 `json:"max_initial_nu" yaml:"max_initial_nu" default:"50" validate:"gtfield=MinNu"`
	StationarityBound float64 `json:"stationarity_bound" yaml:"stationarity_bound" default:"0.9999" validate:"gt=0,lte=1"`
	MinObservations   int     `json:"min_observations" yaml:"min_observations" default:"100" validate:"gte=10"`
}

// OptimizerConfig controls the likelihood maximization.
type OptimizerConfig struct {
	MaxIterations          int     `json:"max_iterations" yaml:"max_iterations" default:"500" validate:"gte=1"`
	GradientTolerance      float64 `json:"gradient_tolerance" yaml:"gradient_tolerance" default:"1e-6" validate:"gt=0"`
	FunctionTolerance      float64 `json:"function_tolerance" yaml:"function_tolerance" default:"1e-10" validate:"gt=0"`
	StallGradientTolerance float64 `json:"stall_gradient_tolerance" yaml:"stall_gradient_tolerance" default:"1e-3" validate:"gtefield=GradientTolerance"`
	Restarts               int     `json:"restarts" yaml:"restarts" default:"2" validate:"gte=0,lte=3"`
	DiffStep               float64 `json:"diff_step" yaml:"diff_step" default:"1e-5" validate:"gt=0"`
}

// RiskConfig lists the VaR/ES confidence levels.
type RiskConfig struct {
	ConfidenceLevels []float64 `json:"confidence_levels" yaml:"confidence_levels" default:"[0.95,0.99]" validate:"min=1,dive,gt=0,lt=1"`
}

// BacktestConfig sets the significance of the coverage tests.
type BacktestConfig struct {
	Significance float64 `json:"significance" yaml:"significance" default:"0.05" validate:"gt=0,lt=1"`
}

// WalkForwardConfig lays out the evaluation windows.
type WalkForwardConfig struct {
	Policy          string        `json:"policy" yaml:"policy" default:"rolling" validate:"oneof=rolling expanding"`
	TrainLength     int           `json:"train_length" yaml:"train_length" default:"1000" validate:"gte=10"`
	Step            int           `json:"step" yaml:"step" default:"250" validate:"gte=1"`
	MinValidWindows int           `json:"min_valid_windows" yaml:"min_valid_windows" default:"3" validate:"gte=1"`
	Workers         int           `json:"workers" yaml:"workers" default:"4" validate:"gte=1,lte=64"`
	WindowTimeout   time.Duration `json:"window_timeout" yaml:"window_timeout" default:"2m" validate:"gte=0"`
}

// StabilityConfig selects the CUSUM family and its significance.
type StabilityConfig struct {
	Method       string  `json:"method" yaml:"method" default:"monitoring" validate:"oneof=retrospective monitoring"`
	Significance float64 `json:"significance" yaml:"significance" default:"0.05"`
}

// CorrelationConfig drives the rolling correlation and volatility features.
type CorrelationConfig struct {
	Window           int     `json:"window" yaml:"window" default:"60" validate:"gte=2"`
	VolatilityWindow int     `json:"volatility_window" yaml:"volatility_window" default:"20" validate:"gte=2"`
	PeriodsPerYear   float64 `json:"periods_per_year" yaml:"periods_per_year" default:"252" validate:"gte=0"`
}

// DiagnosticsConfig sets the residual test lags.
type DiagnosticsConfig struct {
	LjungBoxLags int `json:"ljung_box_lags" yaml:"ljung_box_lags" default:"10" validate:"gte=1"`
	ARCHLags     int `json:"arch_lags" yaml:"arch_lags" default:"5" validate:"gte=1"`
	// ADFMaxLags caps the ADF lag search; -1 sizes it from the sample.
	ADFMaxLags   int `json:"adf_max_lags" yaml:"adf_max_lags" default:"-1" validate:"gte=-1"`
}

// OutputConfig names the artifacts a run writes. Empty paths are skipped.
type OutputConfig struct {
	PanelCSV    string `json:"panel_csv" yaml:"panel_csv"`
	ReportCSV   string `json:"report_csv" yaml:"report_csv"`
	ReportOrg   string `json:"report_org" yaml:"report_org"`
	XLSX        string `json:"xlsx" yaml:"xlsx"`
	DBPath      string `json:"db_path" yaml:"db_path" default:"./volrisk.db"`
	MetricsFile string `json:"metrics_file" yaml:"metrics_file"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report yaml key names so messages match the config file.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Default returns a configuration with every field set explicitly.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// LoadFromFile loads configuration from a file (JSON or YAML). Keys
// missing from the file keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides selected fields from VOLRISK_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("VOLRISK_DATA_PATH"); v != "" {
		c.Data.Path = v
	}
	if v := os.Getenv("VOLRISK_DB_PATH"); v != "" {
		c.Output.DBPath = v
	}
	if v := os.Getenv("VOLRISK_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks tag rules first, then the rules that span fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fieldError(verrs[0])
		}
		return err
	}

	if err := risk.ValidateLevels(c.Risk.ConfidenceLevels); err != nil {
		return fmt.Errorf("risk.confidence_levels: %w", err)
	}
	if _, _, err := walkforward.CriticalValues(c.Stability.Significance); err != nil {
		return fmt.Errorf("stability.significance: %w", err)
	}
	if c.Model.StationarityBound <= abs(c.Model.InitialBeta) {
		return fmt.Errorf("model.initial_beta must be inside the stationarity bound %g", c.Model.StationarityBound)
	}
	if c.Model.MinObservations > c.WalkForward.TrainLength {
		return fmt.Errorf("walk_forward.train_length must be at least model.min_observations (%d)", c.Model.MinObservations)
	}
	return nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// fieldError renders a validator failure as "section.field must ...".
func fieldError(fe validator.FieldError) error {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s is required", field)
	case "oneof":
		return fmt.Errorf("%s must be one of: %s", field, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Errorf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Errorf("%s must be at least %s", field, fe.Param())
	case "lt":
		return fmt.Errorf("%s must be less than %s", field, fe.Param())
	case "lte":
		return fmt.Errorf("%s must be at most %s", field, fe.Param())
	case "min":
		return fmt.Errorf("%s must have at least %s entries", field, fe.Param())
	case "gtfield", "gtefield":
		return fmt.Errorf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Errorf("%s failed validation: %s", field, fe.Tag())
	}
}

// CSVOptions maps the data section onto the loader options.
func (c *Config) CSVOptions() market.CSVOptions {
	return market.CSVOptions{
		Name:         c.Data.Index,
		DateColumn:   c.Data.DateColumn,
		ReturnColumn: c.Data.ReturnColumn,
		DateLayout:   c.Data.DateLayout,
	}
}

// EstimatorOptions maps the model and optimizer sections.
func (c *Config) EstimatorOptions() egarch.Options {
	return egarch.Options{
		Mean:                   egarch.MeanModel(c.Model.Mean),
		InitialAlpha:           c.Model.InitialAlpha,
		InitialGamma:           c.Model.InitialGamma,
		InitialBeta:            c.Model.InitialBeta,
		MinNu:                  c.Model.MinNu,
		MaxNu:                  c.Model.MaxNu,
		StationarityBound:      c.Model.StationarityBound,
		MinObservations:        c.Model.MinObservations,
		MaxIterations:          c.Optimizer.MaxIterations,
		GradientTolerance:      c.Optimizer.GradientTolerance,
		FunctionTolerance:      c.Optimizer.FunctionTolerance,
		StallGradientTolerance: c.Optimizer.StallGradientTolerance,
		Restarts:               c.Optimizer.Restarts,
		DiffStep:               c.Optimizer.DiffStep,
	}
}

// WalkForwardOptions maps the walk-forward, risk, backtest and stability
// sections.
func (c *Config) WalkForwardOptions() walkforward.Options {
	return walkforward.Options{
		Windows: walkforward.WindowSpec{
			Policy:      walkforward.Policy(c.WalkForward.Policy),
			TrainLength: c.WalkForward.TrainLength,
			Step:        c.WalkForward.Step,
		},
		Levels:          c.Risk.ConfidenceLevels,
		Significance:    c.Backtest.Significance,
		MinValidWindows: c.WalkForward.MinValidWindows,
		Workers:         c.WalkForward.Workers,
		WindowTimeout:   c.WalkForward.WindowTimeout,
		Stability: walkforward.StabilityOptions{
			Method:       walkforward.Method(c.Stability.Method),
			Significance: c.Stability.Significance,
		},
	}
}

// Sessions returns the calendar used by the gap policy.
func (c *Config) Sessions() *market.TradingCalendar {
	return market.NewTradingCalendar(c.Data.Calendar)
}
