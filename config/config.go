// Package config loads exploration settings from YAML.
package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/deepsea/diver"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Default values.
const (
	DefaultStrategy      = "dfs"
	DefaultWorkers       = 1
	DefaultSolver        = "sat"
	DefaultSolverTimeout = "5s"
	DefaultMaxRetries    = 1
	DefaultPolicy        = "zero"
	DefaultLogLevel      = "info"
)

// Config holds the settings of an exploration. Durations are strings in
// time.ParseDuration format.
type Config struct {
	Strategy      string `yaml:"strategy"` // dfs, bfs, random or a comma-separated mix
	Workers       int    `yaml:"workers"`
	MaxRuns       int    `yaml:"max_runs"` // zero for unlimited
	MaxTime       string `yaml:"max_time"` // empty for unlimited
	Solver        string `yaml:"solver"`   // sat or z3
	SolverTimeout string `yaml:"solver_timeout"`

	// Retries for branch points answered unknown. Unset uses the default,
	// zero or a negative value disables retries.
	MaxRetries *int `yaml:"max_retries"`

	// Value of inputs a derived input vector leaves unbound: zero, seed
	// or random. The zero policy is the default and makes generated
	// inputs reproducible across solvers.
	DefaultPolicy string `yaml:"default_policy"`
	Seed          int64  `yaml:"seed"`

	LogLevel    string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"` // serve Prometheus metrics if set
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Strategy:      DefaultStrategy,
		Workers:       DefaultWorkers,
		Solver:        DefaultSolver,
		SolverTimeout: DefaultSolverTimeout,
		MaxRetries:    Int(DefaultMaxRetries),
		DefaultPolicy: DefaultPolicy,
		LogLevel:      DefaultLogLevel,
	}
}

// Load reads a configuration file and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c, err := Decode(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return c, nil
}

// Decode reads a configuration from r and fills unset fields with defaults.
// An empty document yields the default configuration.
func Decode(r io.Reader) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "decode config")
	}
	c.MergeWithDefaults()
	return c, c.Validate()
}

// MergeWithDefaults sets every unset field to its default value.
func (c *Config) MergeWithDefaults() {
	defaults := Default()

	if c.Strategy == "" {
		c.Strategy = defaults.Strategy
	}
	if c.Workers == 0 {
		c.Workers = defaults.Workers
	}
	if c.Solver == "" {
		c.Solver = defaults.Solver
	}
	if c.SolverTimeout == "" {
		c.SolverTimeout = defaults.SolverTimeout
	}
	if c.MaxRetries == nil {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.DefaultPolicy == "" {
		c.DefaultPolicy = defaults.DefaultPolicy
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}
}

// SolverTimeoutDuration returns the per-call solver timeout. An invalid
// value yields the default.
func (c *Config) SolverTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.SolverTimeout)
	if err != nil {
		d, _ = time.ParseDuration(DefaultSolverTimeout)
	}
	return d
}

// MaxTimeDuration returns the exploration time budget, zero if unlimited.
func (c *Config) MaxTimeDuration() time.Duration {
	if c.MaxTime == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.MaxTime)
	return d
}

// Validate returns an error if any field holds an invalid value.
func (c *Config) Validate() error {
	if _, err := diver.NewStrategy(c.Strategy, c.Seed); err != nil {
		return err
	} else if _, err := diver.ParseDefaultPolicy(c.DefaultPolicy); err != nil {
		return err
	} else if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	switch c.Solver {
	case "sat", "z3":
	default:
		return fmt.Errorf("config: unknown solver: %q", c.Solver)
	}

	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative: %d", c.Workers)
	} else if c.MaxRuns < 0 {
		return fmt.Errorf("config: max_runs must not be negative: %d", c.MaxRuns)
	}

	for name, s := range map[string]string{"max_time": c.MaxTime, "solver_timeout": c.SolverTimeout} {
		if s == "" {
			continue
		} else if d, err := time.ParseDuration(s); err != nil {
			return fmt.Errorf("config: invalid %s: %q", name, s)
		} else if d < 0 {
			return fmt.Errorf("config: %s must not be negative: %s", name, s)
		}
	}
	return nil
}

// Apply copies the configuration onto e. The solver is left untouched.
func Apply(c *Config, e *diver.Explorer) error {
	if err := c.Validate(); err != nil {
		return err
	}

	strategy, err := diver.NewStrategy(c.Strategy, c.Seed)
	if err != nil {
		return err
	}
	policy, err := diver.ParseDefaultPolicy(c.DefaultPolicy)
	if err != nil {
		return err
	}

	e.Strategy = strategy
	e.Workers = c.Workers
	e.MaxRuns = c.MaxRuns
	e.MaxTime = c.MaxTimeDuration()
	e.SolverTimeout = c.SolverTimeoutDuration()
	e.MaxRetries = 0
	if c.MaxRetries != nil && *c.MaxRetries > 0 {
		e.MaxRetries = *c.MaxRetries
	}
	e.DefaultPolicy = policy
	e.Seed = c.Seed
	return nil
}

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Logger returns a logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.Out = w
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}
	return log
}
