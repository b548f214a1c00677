// Package config holds the runtime configuration of a portfolio run.
//
// A configuration is read from a TOML file, then overridden by command line flags:
//
//	workers = 4
//	seeds = [1, 2]
//	engine = "gini"
//	assumption_mode = "permanent"
//	cpu_limit = "10m"
//	receive_timeout = "30s"
//
// Validate must succeed before any worker is started.
package config

import (
	"fmt"
	"math/bits"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"

	"github.com/crillab/satfolio/diversify"
	"github.com/crillab/satfolio/engine"
	"github.com/crillab/satfolio/portfolio"
	"github.com/crillab/satfolio/worker"
)

// A ConfigurationError is returned when the configuration is invalid.
type ConfigurationError = diversify.ConfigurationError

// Defaults.
const (
	DefaultWorkers        = 4
	DefaultEngine         = "gini"
	DefaultAssumptionMode = string(worker.Permanent)
	DefaultGroupAddr      = "127.0.0.1:0"
)

// Config is the configuration of a portfolio run.
type Config struct {
	// Workers is the number of workers W.
	Workers int `toml:"workers"`
	// Seeds are the variables whose signs split the search space. There must be at least log2(W) of them.
	// When empty, the first variables of the problem are used.
	Seeds []int `toml:"seeds"`
	// Engine is the name of the engine every worker runs.
	Engine string `toml:"engine"`
	// AssumptionMode is "permanent" or "incremental".
	AssumptionMode string `toml:"assumption_mode"`
	// CPULimit bounds the local solve of each worker. 0 means no limit.
	CPULimit time.Duration `toml:"cpu_limit"`
	// MemLimitMB is the soft memory limit of each worker, in megabytes. 0 means no limit.
	MemLimitMB int `toml:"mem_limit_mb"`
	// ReceiveTimeout bounds each receive of the collector.
	ReceiveTimeout time.Duration `toml:"receive_timeout"`
	// FinalizeTimeout bounds each release the collector sends at the end of a run.
	FinalizeTimeout time.Duration `toml:"finalize_timeout"`
	// GroupAddr is the address the collector listens on when workers run in their own process.
	GroupAddr string `toml:"group_addr"`
	// InProcess runs every worker in the current process.
	InProcess bool `toml:"in_process"`
	// Strict rejects DIMACS inputs whose header does not match their clauses.
	Strict bool `toml:"strict"`
	// Verbose prints the statistics of each worker.
	Verbose bool `toml:"verbose"`
	// MetricsFile is where the collector writes its metrics, in the prometheus text format.
	MetricsFile string `toml:"metrics_file"`
}

// Default returns the default configuration.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// Load reads the configuration file at path, applies defaults and validates the result.
// Keys unknown to Config are rejected.
func Load(path string) (Config, error) {
	var cfg Config
	if err := loadToml(path, &cfg); err != nil {
		return Config{}, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadToml(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "config load failed (%s)", path)
	}
	md, err := toml.Decode(string(data), out)
	if err != nil {
		return errors.Wrapf(err, "config parse failed (%s)", path)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return &ConfigurationError{Field: "config", Reason: fmt.Sprintf("unknown keys in %s: %s", path, strings.Join(keys, ", "))}
	}
	return nil
}

// ApplyDefaults sets every unset field to its default value.
// Missing seeds are the first variables, as many as needed to give each worker its own assumption set.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if len(c.Seeds) == 0 && c.Workers > 1 {
		k := bits.Len(uint(c.Workers - 1))
		c.Seeds = make([]int, k)
		for i := range c.Seeds {
			c.Seeds[i] = i + 1
		}
	}
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if c.AssumptionMode == "" {
		c.AssumptionMode = DefaultAssumptionMode
	}
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = portfolio.DefaultReceiveTimeout
	}
	if c.FinalizeTimeout == 0 {
		c.FinalizeTimeout = portfolio.DefaultFinalizeTimeout
	}
	if c.GroupAddr == "" {
		c.GroupAddr = DefaultGroupAddr
	}
}

// Validate returns a ConfigurationError describing the first invalid field of c.
func (c Config) Validate() error {
	if err := diversify.Check(c.Workers, c.Seeds); err != nil {
		return err
	}
	if _, err := engine.Lookup(c.Engine); err != nil {
		return &ConfigurationError{Field: "engine", Reason: fmt.Sprintf("%v, expected one of %s", err, strings.Join(engine.Names(), ", "))}
	}
	if _, err := worker.ParseMode(c.AssumptionMode); err != nil {
		return &ConfigurationError{Field: "assumption_mode", Reason: err.Error()}
	}
	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"cpu_limit", c.CPULimit},
		{"receive_timeout", c.ReceiveTimeout},
		{"finalize_timeout", c.FinalizeTimeout},
	} {
		if d.value < 0 {
			return &ConfigurationError{Field: d.field, Reason: fmt.Sprintf("must not be negative, got %s", d.value)}
		}
	}
	if c.MemLimitMB < 0 {
		return &ConfigurationError{Field: "mem_limit_mb", Reason: fmt.Sprintf("must not be negative, got %d", c.MemLimitMB)}
	}
	if !c.InProcess && strings.TrimSpace(c.GroupAddr) == "" {
		return &ConfigurationError{Field: "group_addr", Reason: "required when workers run in their own process"}
	}
	return nil
}

// MemLimit returns the memory limit in bytes, 0 if there is none.
func (c Config) MemLimit() uint64 {
	return uint64(c.MemLimitMB) << 20
}

// Mode returns the assumption mode of a validated configuration.
func (c Config) Mode() worker.Mode {
	m, _ := worker.ParseMode(c.AssumptionMode)
	return m
}
