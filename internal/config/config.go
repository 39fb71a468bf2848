package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"sigfit/internal/errors"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Input         InputConfig       `yaml:"input"`
	Output        OutputConfig      `yaml:"output"`
	Processes     ProcessConfig     `yaml:"processes"`
	Uncertainties UncertaintyConfig `yaml:"uncertainties"`
	Fit           FitConfig         `yaml:"fit"`
	Database      DatabaseConfig    `yaml:"database"`
	Server        ServerConfig      `yaml:"server"`
	Log           LogConfig         `yaml:"log"`
}

// InputConfig locates the histogram artifact
type InputConfig struct {
	Path          string `yaml:"path"`
	Variable      string `yaml:"variable" default:"m_vis" validate:"required"`
	ControlRegion string `yaml:"control_region" default:"cr" validate:"required"`
}

// OutputConfig holds file system paths for produced artifacts
type OutputConfig struct {
	Dir           string `yaml:"dir" default:"fit" validate:"required"`
	WriteWorkbook bool   `yaml:"write_workbook" default:"true"`
}

// ProcessConfig names the processes of the analysis
type ProcessConfig struct {
	Data        string   `yaml:"data" default:"2022G" validate:"required"`
	Signal      string   `yaml:"signal" default:"ZTT" validate:"required"`
	Backgrounds []string `yaml:"backgrounds" default:"[\"ZLL\",\"TT\",\"W\"]" validate:"dive,required"`
	DataDriven  string   `yaml:"data_driven" default:"QCD"`
	// Subtract lists the processes removed from control-region data; empty means
	// the signal plus every simulated background.
	Subtract       []string `yaml:"subtract" validate:"dive,required"`
	QCDScaleFactor float64  `yaml:"qcd_scale_factor" default:"0.8" validate:"gt=0"`
}

// Bounds is an asymmetric multiplicative range
type Bounds struct {
	Low  float64 `yaml:"low" json:"low"`
	High float64 `yaml:"high" json:"high"`
}

// UncertaintyConfig holds the normalization model
type UncertaintyConfig struct {
	POIName          string            `yaml:"poi_name"`
	POIInit          float64           `yaml:"poi_init" default:"1"`
	POILow           float64           `yaml:"poi_low" default:"0"`
	POIHigh          float64           `yaml:"poi_high" default:"2"`
	SignalNorm       Bounds            `yaml:"signal_norm" default:"{\"low\":0.9,\"high\":1.1}"`
	BackgroundNorm   Bounds            `yaml:"background_norm" default:"{\"low\":0.7,\"high\":1.3}"`
	Overrides        map[string]Bounds `yaml:"overrides"`
	Lumi             float64           `yaml:"lumi" default:"1" validate:"gt=0"`
	LumiRelErr       float64           `yaml:"lumi_rel_err" default:"0.01" validate:"gte=0"`
	StatRelThreshold float64           `yaml:"stat_rel_threshold" default:"0.1" validate:"gte=0"`
	StatConstraint   string            `yaml:"stat_constraint" default:"Poisson" validate:"oneof=Poisson Gaussian"`
	Interp           string            `yaml:"interp" default:"exponential" validate:"oneof=linear exponential polyexp"`
	StatErrors       bool              `yaml:"stat_errors" default:"true"`
}

// FitConfig holds fit engine settings
type FitConfig struct {
	ConfidenceLevel float64       `yaml:"confidence_level" default:"0.68" validate:"gt=0,lt=1"`
	ScanPoints      int           `yaml:"scan_points" default:"50" validate:"gte=2"`
	PlotLow         float64       `yaml:"plot_low" default:"0.75"`
	PlotHigh        float64       `yaml:"plot_high" default:"1.10"`
	Workers         int           `yaml:"workers" default:"4" validate:"gte=1"`
	MaxIterations   int           `yaml:"max_iterations" default:"10000" validate:"gte=1"`
	Tolerance       float64       `yaml:"tolerance" default:"1e-6" validate:"gt=0"`
	Timeout         time.Duration `yaml:"timeout" default:"2m" validate:"gt=0"`
}

// DatabaseConfig holds database connection settings; an empty URL disables the ledger
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// ServerConfig holds the result API settings
type ServerConfig struct {
	Addr    string `yaml:"addr" default:":8080" validate:"required"`
	GinMode string `yaml:"gin_mode" default:"release" validate:"oneof=debug release test"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level" default:"INFO" validate:"oneof=ERROR WARN INFO DEBUG TRACE"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// Default returns the configuration with every documented default applied.
func Default() *Config {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

// Load reads an optional YAML file, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.ConfigInvalid(err.Error()), "failed to read configuration file")
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && err != io.EOF {
			return nil, errors.Wrap(errors.ConfigInvalid(err.Error()), "failed to parse configuration file")
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field constraints.
func (c *Config) Validate() error {
	c.Log.Level = strings.ToUpper(c.Log.Level)
	if err := validator.New().Struct(c); err != nil {
		return errors.ConfigInvalid(err.Error())
	}
	if c.Uncertainties.POILow >= c.Uncertainties.POIHigh {
		return errors.ConfigInvalid(fmt.Sprintf("poi range [%g, %g] is empty", c.Uncertainties.POILow, c.Uncertainties.POIHigh))
	}
	if c.Uncertainties.POIInit < c.Uncertainties.POILow || c.Uncertainties.POIInit > c.Uncertainties.POIHigh {
		return errors.ConfigInvalid(fmt.Sprintf("poi_init %g outside [%g, %g]", c.Uncertainties.POIInit, c.Uncertainties.POILow, c.Uncertainties.POIHigh))
	}
	if c.Fit.PlotLow >= c.Fit.PlotHigh {
		return errors.ConfigInvalid(fmt.Sprintf("plot range [%g, %g] is empty", c.Fit.PlotLow, c.Fit.PlotHigh))
	}
	seen := map[string]bool{c.Processes.Data: true}
	for _, p := range c.AllModelProcesses() {
		if seen[p] {
			return errors.ConfigInvalid(fmt.Sprintf("process %q listed more than once", p))
		}
		seen[p] = true
	}
	return nil
}

// POI returns the parameter-of-interest name, <signal>_mu unless configured.
func (c *Config) POI() string {
	if c.Uncertainties.POIName != "" {
		return c.Uncertainties.POIName
	}
	return c.Processes.Signal + "_mu"
}

// SimulatedProcesses returns the signal followed by the simulated backgrounds.
func (c *Config) SimulatedProcesses() []string {
	out := []string{c.Processes.Signal}
	return append(out, c.Processes.Backgrounds...)
}

// AllModelProcesses returns every sample of the fit model, data-driven last.
func (c *Config) AllModelProcesses() []string {
	out := c.SimulatedProcesses()
	if c.Processes.DataDriven != "" {
		out = append(out, c.Processes.DataDriven)
	}
	return out
}

// SubtractList is the set removed from control-region data by the estimator.
func (c *Config) SubtractList() []string {
	if len(c.Processes.Subtract) > 0 {
		return append([]string(nil), c.Processes.Subtract...)
	}
	return c.SimulatedProcesses()
}

// NormBounds returns the normalization-uncertainty range of a process.
func (c *Config) NormBounds(process string) Bounds {
	if b, ok := c.Uncertainties.Overrides[process]; ok {
		return b
	}
	if process == c.Processes.Signal {
		return c.Uncertainties.SignalNorm
	}
	return c.Uncertainties.BackgroundNorm
}

func applyEnv(c *Config) error {
	c.Input.Path = getEnvOrDefault("SIGFIT_INPUT", c.Input.Path)
	c.Input.Variable = getEnvOrDefault("SIGFIT_VARIABLE", c.Input.Variable)
	c.Output.Dir = getEnvOrDefault("SIGFIT_OUTPUT_DIR", c.Output.Dir)
	c.Database.URL = getEnvOrDefault("DATABASE_URL", c.Database.URL)
	c.Server.Addr = getEnvOrDefault("SIGFIT_ADDR", c.Server.Addr)
	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault("LOG_FORMAT", c.Log.Format)

	var err error
	if c.Fit.ConfidenceLevel, err = getEnvFloatOrDefault("SIGFIT_CONFIDENCE_LEVEL", c.Fit.ConfidenceLevel); err != nil {
		return err
	}
	if c.Processes.QCDScaleFactor, err = getEnvFloatOrDefault("SIGFIT_QCD_SCALE", c.Processes.QCDScaleFactor); err != nil {
		return err
	}
	if c.Uncertainties.LumiRelErr, err = getEnvFloatOrDefault("SIGFIT_LUMI_REL_ERR", c.Uncertainties.LumiRelErr); err != nil {
		return err
	}
	if c.Fit.Workers, err = getEnvIntOrDefault("SIGFIT_WORKERS", c.Fit.Workers); err != nil {
		return err
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.ConfigInvalid(fmt.Sprintf("%s must be an integer, got %q", key, value))
	}
	return n, nil
}

func getEnvFloatOrDefault(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, errors.ConfigInvalid(fmt.Sprintf("%s must be a number, got %q", key, value))
	}
	return f, nil
}
