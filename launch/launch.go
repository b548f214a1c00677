/*
Package launch starts the workers of a portfolio and reports its result.

In process mode, the current process is the collector, worker W-1. It listens for the group,
then starts W-1 copies of the running executable, one per contributor, with the hidden worker command.
In in-process mode, every worker is a goroutine of the current process, and messages go through memory.
In both modes each worker parses its own copy of the problem. When the problem comes from the standard input,
it is read once, before any worker starts.
*/
package launch

import (
	"context"
	"io"
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/crillab/satfolio/channel"
	"github.com/crillab/satfolio/cnf"
	"github.com/crillab/satfolio/config"
	"github.com/crillab/satfolio/diversify"
	"github.com/crillab/satfolio/engine"
	"github.com/crillab/satfolio/metrics"
	"github.com/crillab/satfolio/portfolio"
	"github.com/crillab/satfolio/report"
	"github.com/crillab/satfolio/signals"
	"github.com/crillab/satfolio/worker"
)

// ExitFailure is the exit code of a run that could not complete.
const ExitFailure = 1

// Params describe a run.
type Params struct {
	Config config.Config
	// Input is the path of the problem. An empty path or "-" reads the standard input.
	Input string
	Stdin io.Reader
	// Result is the path of the result file. Empty means no result file.
	Result string
	// Stdout receives the verdict line and, in verbose mode, the statistics of the workers.
	Stdout io.Writer
	// Stderr receives the logs of the worker processes.
	Stderr io.Writer
	Log    *logrus.Entry
	// Executable is the program started for each contributor. Empty means the running executable.
	Executable string
}

func (p *Params) stdin() bool {
	return p.Input == "" || p.Input == "-"
}

// Run runs a portfolio and returns the exit code of the run: 10 if satisfiable, 20 if unsatisfiable, 0 otherwise.
// The configuration is validated before anything starts. Signals are handled while the workers run.
func Run(ctx context.Context, p Params) (int, error) {
	cfg := p.Config
	if err := cfg.Validate(); err != nil {
		return ExitFailure, err
	}
	if p.Stdout == nil {
		p.Stdout = io.Discard
	}
	if p.Stderr == nil {
		p.Stderr = io.Discard
	}
	p.Stdout = &syncWriter{w: p.Stdout}
	metrics.Register()
	limitMemory(cfg, p.Log)

	var input worker.Input
	if p.stdin() {
		if p.Stdin == nil {
			return ExitFailure, errors.New("no input")
		}
		data, err := io.ReadAll(p.Stdin)
		if err != nil {
			return ExitFailure, errors.Wrap(err, "could not read standard input")
		}
		input.Data = data
	} else {
		input.Path = p.Input
	}

	reg := signals.NewRegistry(ctx, p.Stdout)
	reg.Start()
	defer reg.Stop()

	if cfg.InProcess {
		return runInProcess(reg, p, input)
	}
	return runProcesses(reg, p, input)
}

func runInProcess(reg *signals.Registry, p Params, input worker.Input) (int, error) {
	cfg := p.Config
	group := channel.NewMemGroup(cfg.Workers)
	defer group.Close()
	var (
		g    errgroup.Group
		code = ExitFailure
	)
	for rank := 0; rank < cfg.Workers; rank++ {
		t, err := group.Transport(rank)
		if err != nil {
			return ExitFailure, err
		}
		g.Go(func() error {
			m := newMember(cfg, t, input, reg, p.Stdout, p.Log)
			if !m.coord.IsCollector() {
				return m.contribute(reg.Context())
			}
			c, err := m.collect(reg.Context(), p.Result, p.Stdout)
			code = c
			// The result is reported: contributors still searching are stopped.
			reg.Interrupt()
			return err
		})
	}
	err := g.Wait()
	return code, err
}

// member is one worker of the group, along with its side of the protocol.
type member struct {
	cfg    config.Config
	worker *worker.Worker
	coord  *portfolio.Coordinator
	log    *logrus.Entry
}

func newMember(cfg config.Config, t channel.Transport, input worker.Input, reg *signals.Registry, stdout io.Writer, log *logrus.Entry) *member {
	rank := t.Rank()
	log = log.WithField("worker", rank)
	e, _ := engine.Lookup(cfg.Engine)
	assumptions, _ := diversify.Generate(rank, cfg.Seeds)
	wcfg := worker.Config{
		ID:          rank,
		Assumptions: assumptions,
		Engine:      e,
		Mode:        cfg.Mode(),
		Options:     engine.Options{MemLimit: cfg.MemLimit()},
		CPULimit:    cfg.CPULimit,
		Strict:      cfg.Strict,
		Interrupts:  reg,
	}
	if cfg.Verbose {
		wcfg.Stats = stdout
	}
	opts := portfolio.Options{ReceiveTimeout: cfg.ReceiveTimeout, FinalizeTimeout: cfg.FinalizeTimeout}
	return &member{
		cfg:    cfg,
		worker: worker.New(wcfg, input, log),
		coord:  portfolio.New(t, opts, log),
		log:    log,
	}
}

// contribute solves, sends the local result and waits to be released.
func (m *member) contribute(ctx context.Context) error {
	if _, _, err := m.coord.Run(ctx, m.worker.Run); err != nil {
		return err
	}
	if err := m.coord.Finalize(ctx); err != nil {
		m.log.Debugf("leaving without being released: %v", err)
	}
	return nil
}

// collect solves, resolves the aggregate verdict, reports it and releases the contributors.
// The report is written before the contributors are released.
func (m *member) collect(ctx context.Context, result string, stdout io.Writer) (int, error) {
	agg, _, err := m.coord.Run(ctx, m.worker.Run)
	if err != nil {
		return ExitFailure, err
	}
	defer func() {
		if err := m.coord.Finalize(ctx); err != nil {
			m.log.Debugf("not every worker was released: %v", err)
		}
	}()
	nbVars := len(agg.Model)
	if pb := m.worker.Problem(); pb != nil {
		nbVars = pb.NbVars
		m.verify(pb, *agg)
	}
	if _, err := io.WriteString(stdout, report.Line(agg.Verdict)+"\n"); err != nil {
		m.log.Warnf("could not print verdict: %v", err)
	}
	if m.cfg.MetricsFile != "" {
		if err := metrics.WriteFile(m.cfg.MetricsFile); err != nil {
			m.log.Warn(err)
		}
	}
	if result != "" {
		if err := report.Write(result, *agg, nbVars); err != nil {
			return ExitFailure, err
		}
	}
	return report.ExitCode(agg.Verdict), nil
}

// verify checks a model against the problem and the assumptions of the worker that found it.
// A model failing the check is still reported.
func (m *member) verify(pb *cnf.Problem, agg portfolio.AggregateVerdict) {
	if agg.Verdict != portfolio.Satisfiable {
		return
	}
	assumptions, err := diversify.Generate(agg.Worker, m.cfg.Seeds)
	if err != nil {
		m.log.Errorf("could not verify the model of worker %d: %v", agg.Worker, err)
		return
	}
	if err := pb.Verify(agg.Model, assumptions); err != nil {
		m.log.Errorf("model of worker %d does not satisfy the problem: %v", agg.Worker, err)
		return
	}
	m.log.Debugf("model of worker %d verified", agg.Worker)
}

func limitMemory(cfg config.Config, log *logrus.Entry) {
	if limit := cfg.MemLimit(); limit > 0 {
		debug.SetMemoryLimit(int64(limit))
		log.Debugf("memory limit set to %d MB", cfg.MemLimitMB)
	}
}

// syncWriter serializes the writes of concurrent workers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(b)
}
