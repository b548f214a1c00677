// Package worker runs the local solve of one member of a portfolio.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/crillab/satfolio/cnf"
	"github.com/crillab/satfolio/engine"
	"github.com/crillab/satfolio/metrics"
	"github.com/crillab/satfolio/portfolio"
	"github.com/crillab/satfolio/signals"
)

// Mode is the way assumptions are given to the engine.
type Mode string

const (
	// Permanent adds each assumption as a unit clause of the problem.
	Permanent Mode = "permanent"
	// Incremental passes the assumptions to the engine, which retracts them after the search.
	Incremental Mode = "incremental"
)

// ParseMode returns the mode named s.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Permanent, Incremental:
		return m, nil
	default:
		return "", errors.Errorf("unknown assumption mode %q", s)
	}
}

// Input is the problem every worker reads. Either each worker opens its own handle on Path,
// or the input was read once and each worker parses its own copy of Data.
type Input struct {
	Path string
	Data []byte
}

// Open returns a new handle on the input, decompressing gzip content.
func (in Input) Open() (io.ReadCloser, error) {
	if in.Data != nil {
		return cnf.NewReader(bytes.NewReader(in.Data))
	}
	if in.Path == "" {
		return nil, errors.New("no input")
	}
	return cnf.Open(in.Path)
}

func (in Input) String() string {
	if in.Data != nil {
		return "<stdin>"
	}
	return in.Path
}

// Config describes the local solve of a worker.
type Config struct {
	ID          int
	Assumptions []int
	Engine      engine.Engine
	Mode        Mode
	Options     engine.Options
	// CPULimit bounds the whole local solve. 0 means no limit.
	CPULimit time.Duration
	Strict   bool
	// Stats receives the statistics of the solve. Nil disables them.
	Stats io.Writer
	// Interrupts routes signals to the engine while it runs. It can be nil.
	Interrupts *signals.Registry
}

// A Worker solves the problem under its own assumptions.
type Worker struct {
	cfg   Config
	input Input
	log   *logrus.Entry
	pb    *cnf.Problem
}

// New returns a worker reading input.
func New(cfg Config, input Input, log *logrus.Entry) *Worker {
	if cfg.Mode == "" {
		cfg.Mode = Permanent
	}
	if cfg.Engine == nil {
		cfg.Engine = engine.Gini
	}
	return &Worker{cfg: cfg, input: input, log: log.WithField("worker", cfg.ID)}
}

// Problem returns the problem parsed by the last Run, or nil if it could not be parsed.
func (w *Worker) Problem() *cnf.Problem {
	return w.pb
}

// Run solves the problem and returns the local result. It never fails:
// any error, including a parse error or the exhaustion of the engine's memory,
// yields an Unknown result carrying that error.
func (w *Worker) Run(ctx context.Context) (res portfolio.WorkerResult) {
	start := time.Now()
	st := stats{worker: w.cfg.ID, engine: w.cfg.Engine.Name()}
	defer func() {
		if r := recover(); r != nil {
			res = portfolio.UnknownResult(w.cfg.ID, errors.Errorf("worker %d panicked: %v", w.cfg.ID, r))
			w.log.Error(res.Err)
		}
		res.Worker = w.cfg.ID
		st.verdict = res.Verdict
		st.total = time.Since(start)
		metrics.ObserveWorker(st.engine, res.Verdict.String(), st.total.Seconds(), st.engineStats.Conflicts)
		if w.cfg.Stats != nil {
			st.write(w.cfg.Stats)
		}
	}()
	if w.cfg.CPULimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.CPULimit)
		defer cancel()
	}

	pb, err := w.parse()
	st.parse = time.Since(start)
	if err != nil {
		w.log.Errorf("could not read problem: %v", err)
		return portfolio.UnknownResult(w.cfg.ID, err)
	}
	w.pb = pb
	st.nbVars, st.nbClauses = pb.NbVars, len(pb.Clauses)
	if ctx.Err() != nil {
		return portfolio.UnknownResult(w.cfg.ID, ctx.Err())
	}
	return w.solve(ctx, pb, &st)
}

func (w *Worker) parse() (pb *cnf.Problem, err error) {
	rc, err := w.input.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "could not close %s", w.input)
		}
	}()
	pb, err = cnf.Parse(rc, w.cfg.Strict)
	return pb, errors.Wrapf(err, "could not parse %s", w.input)
}

func (w *Worker) solve(ctx context.Context, pb *cnf.Problem, st *stats) portfolio.WorkerResult {
	h, err := w.cfg.Engine.Load(pb, w.cfg.Options)
	if err != nil {
		w.log.Errorf("could not load problem: %v", err)
		return portfolio.UnknownResult(w.cfg.ID, err)
	}
	defer h.Close()
	if w.cfg.Interrupts != nil {
		w.cfg.Interrupts.Register(w.cfg.ID, h)
		defer w.cfg.Interrupts.Unregister(w.cfg.ID)
	}

	for _, lit := range w.cfg.Assumptions {
		if v := abs(lit); v > pb.NbVars {
			w.log.Warnf("seed variable %d does not appear in the problem (%d variables)", v, pb.NbVars)
		}
	}
	switch w.cfg.Mode {
	case Incremental:
		h.Assume(w.cfg.Assumptions)
	default:
		for _, lit := range w.cfg.Assumptions {
			h.AddUnit(lit)
		}
	}
	w.log.Debugf("solving with %s under assumptions %v", w.cfg.Engine.Name(), w.cfg.Assumptions)

	if !h.Simplify() {
		st.propagated = true
		w.log.Debug("Solved by unit propagation")
		return portfolio.WorkerResult{Worker: w.cfg.ID, Verdict: portfolio.Unsatisfiable}
	}
	verdict, err := h.Solve(ctx)
	st.engineStats = h.Stats()
	switch {
	case errors.Is(err, engine.ErrOutOfMemory):
		w.log.Warnf("engine ran out of memory, giving up")
		return portfolio.UnknownResult(w.cfg.ID, err)
	case err != nil:
		w.log.Errorf("engine failed: %v", err)
		return portfolio.UnknownResult(w.cfg.ID, err)
	}
	res := portfolio.WorkerResult{Worker: w.cfg.ID, Verdict: verdict}
	if verdict == portfolio.Satisfiable {
		res.Model = h.Model()
	}
	if verdict == portfolio.Unknown && ctx.Err() != nil {
		w.log.Debugf("search stopped: %v", ctx.Err())
	}
	return res
}

// stats are printed in verbose mode, in the DIMACS comment style.
type stats struct {
	worker      int
	engine      string
	nbVars      int
	nbClauses   int
	parse       time.Duration
	total       time.Duration
	propagated  bool
	verdict     portfolio.Verdict
	engineStats engine.Stats
}

const rule = "c ======================================================================================\n"

// write writes the statistics in a single call, so that workers sharing w do not mix their lines.
func (st stats) write(w io.Writer) {
	var b bytes.Buffer
	b.WriteString(rule)
	fmt.Fprintf(&b, "c | Worker              : %9d (%s)\n", st.worker, st.engine)
	fmt.Fprintf(&b, "c | Number of variables : %9d\n", st.nbVars)
	fmt.Fprintf(&b, "c | Number of clauses   : %9d\n", st.nbClauses)
	fmt.Fprintf(&b, "c | Parse time          : %9.2f s\n", st.parse.Seconds())
	if st.propagated {
		b.WriteString("c | Solved by unit propagation\n")
	}
	if st.engineStats.Known {
		fmt.Fprintf(&b, "c | Conflicts           : %9d\n", st.engineStats.Conflicts)
		fmt.Fprintf(&b, "c | Decisions           : %9d\n", st.engineStats.Decisions)
		fmt.Fprintf(&b, "c | Restarts            : %9d\n", st.engineStats.Restarts)
	}
	fmt.Fprintf(&b, "c | Total time          : %9.2f s\n", st.total.Seconds())
	fmt.Fprintf(&b, "c | Local verdict       : %s\n", st.verdict)
	b.WriteString(rule)
	_, _ = w.Write(b.Bytes())
}

func abs(lit int) int {
	if lit < 0 {
		return -lit
	}
	return lit
}
