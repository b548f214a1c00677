package engine

import (
	"context"

	"github.com/crillab/gophersat/solver"

	"github.com/crillab/satfolio/cnf"
	"github.com/crillab/satfolio/portfolio"
)

// Gophersat is the engine backed by github.com/crillab/gophersat.
// Its search cannot be stopped: an interrupted search is abandoned and keeps running
// in the background until it ends by itself.
var Gophersat Engine = gophersatEngine{}

type gophersatEngine struct{}

func (gophersatEngine) Name() string { return "gophersat" }

func (gophersatEngine) Load(pb *cnf.Problem, opts Options) (Handle, error) {
	return &gophersatHandle{
		pb:          pb.Clone(),
		opts:        opts,
		interrupter: newInterrupter(),
	}, nil
}

type gophersatHandle struct {
	interrupter
	pb      *cnf.Problem
	opts    Options
	units   []int
	assumed []solver.Lit

	s      *solver.Solver
	broken error
	unsat  bool
	ended  bool
	model  cnf.Model
	closed bool
}

func (h *gophersatHandle) AddUnit(lit int) {
	h.units = append(h.units, lit)
}

func (h *gophersatHandle) Assume(lits []int) {
	h.assumed = h.assumed[:0]
	for _, lit := range lits {
		h.assumed = append(h.assumed, solver.IntToLit(int32(lit)))
	}
}

// Simplify builds the solver. Gophersat propagates unit clauses while parsing,
// then propagates the assumptions, if any.
// A panic while building leaves the problem unproven; the following Solve reports it.
func (h *gophersatHandle) Simplify() (ok bool) {
	if h.s != nil || h.unsat || h.broken != nil {
		return !h.unsat
	}
	defer func() {
		if r := recover(); r != nil {
			h.broken, h.s, ok = recovered(r), nil, true
		}
	}()
	pb := h.pb.WithUnits(h.units)
	h.pb = pb
	if hasEmptyClause(pb) {
		h.unsat = true
		return false
	}
	parsed := solver.ParseSlice(pb.Clauses)
	if parsed.Status == solver.Unsat {
		h.unsat = true
		return false
	}
	h.s = solver.New(parsed)
	if len(h.assumed) > 0 && h.s.Assume(h.assumed) == solver.Unsat {
		h.unsat = true
		return false
	}
	return true
}

func (h *gophersatHandle) Solve(ctx context.Context) (portfolio.Verdict, error) {
	if !h.Simplify() {
		return portfolio.Unsatisfiable, nil
	}
	if h.broken != nil {
		return portfolio.Unknown, h.broken
	}
	if h.closed || h.interrupted() || ctx.Err() != nil {
		return portfolio.Unknown, nil
	}
	if len(h.pb.Clauses) == 0 {
		h.ended = true
		h.model = cnf.NewModel(h.VariableCount())
		for _, lit := range h.assumed {
			if v := int(lit.Int()); v > 0 {
				h.model[v-1] = cnf.True
			} else {
				h.model[-v-1] = cnf.False
			}
		}
		return portfolio.Satisfiable, nil
	}
	s := h.s
	done := make(chan solver.Status, 1)
	failed := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				failed <- recovered(r)
			}
		}()
		done <- s.Solve()
	}()

	var failure error
	poll := func() (portfolio.Verdict, bool) {
		select {
		case status := <-done:
			h.ended = true
			return gophersatVerdict(status), true
		case err := <-failed:
			h.ended = true
			failure = err
			return portfolio.Unknown, true
		default:
			return portfolio.Unknown, false
		}
	}
	verdict, err := supervise(ctx, h.ch, h.opts.MemLimit, poll, func() {})
	if failure != nil {
		return portfolio.Unknown, failure
	}
	if verdict == portfolio.Satisfiable {
		model := cnf.NewModel(h.VariableCount())
		copy(model, cnf.ModelFromBools(s.Model()))
		h.model = model
	}
	return verdict, err
}

func gophersatVerdict(status solver.Status) portfolio.Verdict {
	switch status {
	case solver.Sat:
		return portfolio.Satisfiable
	case solver.Unsat:
		return portfolio.Unsatisfiable
	default:
		return portfolio.Unknown
	}
}

func (h *gophersatHandle) Model() cnf.Model { return h.model }

func (h *gophersatHandle) VariableCount() int {
	n := h.pb.NbVars
	for _, lit := range h.assumed {
		if v := int(lit.Var()) + 1; v > n {
			n = v
		}
	}
	return n
}

// Stats are only read once the search ended: an abandoned search still updates them.
func (h *gophersatHandle) Stats() Stats {
	if h.s == nil || !h.ended {
		return Stats{}
	}
	return Stats{
		Known:     true,
		Conflicts: int64(h.s.Stats.NbConflicts),
		Decisions: int64(h.s.Stats.NbDecisions),
		Restarts:  int64(h.s.Stats.NbRestarts),
	}
}

func (h *gophersatHandle) Close() error {
	h.closed = true
	h.model = nil
	if !h.ended {
		h.s = nil
	}
	return nil
}
