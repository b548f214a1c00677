package config

import (
	"github.com/spf13/pflag"
)

// Flags are the command line flags overriding a configuration file.
type Flags struct {
	fs  *pflag.FlagSet
	cfg Config
}

// BindFlags declares the flags of the configuration on fs.
func BindFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	fs.IntVarP(&f.cfg.Workers, "workers", "w", DefaultWorkers, "number of workers")
	fs.IntSliceVar(&f.cfg.Seeds, "seeds", nil, "seed variables splitting the search space (default: the first log2(workers) variables)")
	fs.StringVar(&f.cfg.Engine, "engine", DefaultEngine, "engine run by every worker (gini or gophersat); an interrupted gophersat search keeps its CPU until it ends, prefer gini with --in-process")
	fs.StringVar(&f.cfg.AssumptionMode, "assumption-mode", DefaultAssumptionMode, "how assumptions are given to the engine (permanent or incremental)")
	fs.DurationVar(&f.cfg.CPULimit, "cpu-lim", 0, "time limit of each worker, 0 for none")
	fs.IntVar(&f.cfg.MemLimitMB, "mem-lim", 0, "memory limit of each worker in megabytes, 0 for none")
	fs.DurationVar(&f.cfg.ReceiveTimeout, "receive-timeout", 0, "time the collector waits for each worker once its own search is over (default 30s)")
	fs.DurationVar(&f.cfg.FinalizeTimeout, "finalize-timeout", 0, "time the collector spends releasing each worker at the end of a run (default 10s)")
	fs.StringVar(&f.cfg.GroupAddr, "group-addr", DefaultGroupAddr, "address the collector listens on")
	fs.BoolVar(&f.cfg.InProcess, "in-process", false, "run every worker in this process rather than in its own process")
	fs.BoolVar(&f.cfg.Strict, "strict", false, "check the DIMACS header against the clauses")
	fs.StringVar(&f.cfg.MetricsFile, "metrics-file", "", "file where the collector writes its metrics")
	return f
}

// Apply copies to cfg the value of every flag set on the command line.
func (f *Flags) Apply(cfg *Config) {
	changed := f.fs.Changed
	if changed("workers") {
		cfg.Workers = f.cfg.Workers
	}
	if changed("seeds") {
		cfg.Seeds = f.cfg.Seeds
	}
	if changed("engine") {
		cfg.Engine = f.cfg.Engine
	}
	if changed("assumption-mode") {
		cfg.AssumptionMode = f.cfg.AssumptionMode
	}
	if changed("cpu-lim") {
		cfg.CPULimit = f.cfg.CPULimit
	}
	if changed("mem-lim") {
		cfg.MemLimitMB = f.cfg.MemLimitMB
	}
	if changed("receive-timeout") {
		cfg.ReceiveTimeout = f.cfg.ReceiveTimeout
	}
	if changed("finalize-timeout") {
		cfg.FinalizeTimeout = f.cfg.FinalizeTimeout
	}
	if changed("group-addr") {
		cfg.GroupAddr = f.cfg.GroupAddr
	}
	if changed("in-process") {
		cfg.InProcess = f.cfg.InProcess
	}
	if changed("strict") {
		cfg.Strict = f.cfg.Strict
	}
	if changed("metrics-file") {
		cfg.MetricsFile = f.cfg.MetricsFile
	}
}

// Resolve returns the configuration read from path, if any, overridden by the flags,
// with defaults applied and validated.
func (f *Flags) Resolve(path string) (Config, error) {
	var cfg Config
	if path != "" {
		if err := loadToml(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	f.Apply(&cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
