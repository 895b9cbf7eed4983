// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package config holds energat's run configuration: CLI flags (spec.md
// §6) registered via kingpin with an optional YAML overlay, following the
// teacher's flagsSet-override pattern so CLI flags only win when actually
// passed on the command line.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
)

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is energat's complete run configuration, spec.md §6.
type Config struct {
	Log Log `yaml:"log"`

	// Mode selectors; at most one of Check/BasePower is set, otherwise
	// exactly one of PID/Name identifies the attach target.
	Check     bool   `yaml:"-"`
	BasePower bool   `yaml:"-"`
	PID       int    `yaml:"pid"`
	Name      string `yaml:"name"`

	Output      string        `yaml:"output"`
	BaseFile    string        `yaml:"basefile"`
	BasePeriod  time.Duration `yaml:"base_period"`
	RAPLPeriod  time.Duration `yaml:"rapl_period"`
	Interval    time.Duration `yaml:"interval"`
	Gamma       float64       `yaml:"gamma"`
	Delta       float64       `yaml:"delta"`

	SysfsPath  string `yaml:"-"`
	ProcfsPath string `yaml:"-"`
}

const (
	LogLevelFlag  = "loglvl"
	LogFormatFlag = "log.format"

	CheckFlag      = "check"
	BasePowerFlag  = "basepower"
	PIDFlag        = "pid"
	NameFlag       = "name"
	OutputFlag     = "output"
	BaseFileFlag   = "basefile"
	BasePeriodFlag = "base_period"
	RAPLPeriodFlag = "rapl_period"
	IntervalFlag   = "interval"
	GammaFlag      = "gamma"
	DeltaFlag      = "delta"
)

// DefaultConfig returns a Config with spec.md §4.5/§4.6's defaults.
func DefaultConfig() *Config {
	return &Config{
		Log:        Log{Level: "info", Format: "text"},
		Output:     "trace.csv",
		BaseFile:   "baseline.json",
		BasePeriod: 2 * time.Second,
		RAPLPeriod: 10 * time.Millisecond,
		Interval:   1 * time.Second,
		Gamma:      0.3,
		Delta:      0.2,
		SysfsPath:  "/sys",
		ProcfsPath: "/proc",
	}
}

// Load overlays YAML configuration on top of DefaultConfig.
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()
	return cfg, cfg.Validate()
}

// FromFile loads configuration from a file path.
func FromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// ConfigUpdaterFn applies parsed CLI flags onto a Config, overriding only
// flags the user explicitly passed.
type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers spec.md §6's CLI surface on app and returns the
// updater to apply after kingpin.Parse().
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		flagsSet = map[string]bool{}
		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")

	check := app.Flag(CheckFlag, "Probe topology and powercap permissions, then exit").Bool()
	basePower := app.Flag(BasePowerFlag, "Run idle-power calibration and write the baseline file").Bool()
	pid := app.Flag(PIDFlag, "Attach to an existing process by PID").Int()
	name := app.Flag(NameFlag, "Attach by matching executable name").String()

	output := app.Flag(OutputFlag, "Trace output CSV path").Default("trace.csv").String()
	baseFile := app.Flag(BaseFileFlag, "Baseline JSON file path").Default("baseline.json").String()
	basePeriod := app.Flag(BasePeriodFlag, "Calibration quiet-window duration").Default("2s").Duration()
	raplPeriod := app.Flag(RAPLPeriodFlag, "RAPL poll period").Default("10ms").Duration()
	interval := app.Flag(IntervalFlag, "Attribution sample interval").Default("1s").Duration()
	gamma := app.Flag(GammaFlag, "CPU non-linear correction exponent").Default("0.3").Float64()
	delta := app.Flag(DeltaFlag, "DRAM non-linear correction exponent").Default("0.2").Float64()

	return func(cfg *Config) error {
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}
		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}
		if flagsSet[CheckFlag] {
			cfg.Check = *check
		}
		if flagsSet[BasePowerFlag] {
			cfg.BasePower = *basePower
		}
		if flagsSet[PIDFlag] {
			cfg.PID = *pid
		}
		if flagsSet[NameFlag] {
			cfg.Name = *name
		}
		if flagsSet[OutputFlag] {
			cfg.Output = *output
		}
		if flagsSet[BaseFileFlag] {
			cfg.BaseFile = *baseFile
		}
		if flagsSet[BasePeriodFlag] {
			cfg.BasePeriod = *basePeriod
		}
		if flagsSet[RAPLPeriodFlag] {
			cfg.RAPLPeriod = *raplPeriod
		}
		if flagsSet[IntervalFlag] {
			cfg.Interval = *interval
		}
		if flagsSet[GammaFlag] {
			cfg.Gamma = *gamma
		}
		if flagsSet[DeltaFlag] {
			cfg.Delta = *delta
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Name = strings.TrimSpace(c.Name)
}

// Validate checks for configuration errors (spec.md §7 PermissionDenied/
// configuration failures are caught earlier; this rejects malformed flag
// combinations before startup).
func (c *Config) Validate() error {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
	}

	if c.Check && c.BasePower {
		errs = append(errs, "--check and --basepower are mutually exclusive")
	}
	if !c.Check && !c.BasePower && c.PID == 0 && c.Name == "" {
		errs = append(errs, "one of --pid or --name is required to attach to a target")
	}
	if c.PID != 0 && c.Name != "" {
		errs = append(errs, "--pid and --name are mutually exclusive")
	}
	if c.Gamma <= 0 || c.Gamma >= 1 {
		errs = append(errs, fmt.Sprintf("gamma must be in (0,1), got %v", c.Gamma))
	}
	if c.Delta <= 0 || c.Delta >= 1 {
		errs = append(errs, fmt.Sprintf("delta must be in (0,1), got %v", c.Delta))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}
	return nil
}

func (c *Config) String() string {
	data, err := yaml.Marshal(c)
	if err == nil {
		return string(data)
	}
	return fmt.Sprintf("pid=%d name=%s output=%s", c.PID, c.Name, c.Output)
}
