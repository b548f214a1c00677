package engine

import (
	"context"

	"github.com/go-air/gini"
	"github.com/go-air/gini/z"

	"github.com/crillab/satfolio/cnf"
	"github.com/crillab/satfolio/portfolio"
)

// Gini is the engine backed by github.com/go-air/gini. It is the default engine.
var Gini Engine = giniEngine{}

type giniEngine struct{}

func (giniEngine) Name() string { return "gini" }

func (giniEngine) Load(pb *cnf.Problem, opts Options) (Handle, error) {
	h := &giniHandle{
		g:           gini.New(),
		nbVars:      pb.NbVars,
		opts:        opts,
		interrupter: newInterrupter(),
		unsat:       hasEmptyClause(pb),
	}
	if h.unsat {
		return h, nil
	}
	for _, clause := range pb.Clauses {
		for _, lit := range clause {
			h.g.Add(z.Dimacs2Lit(lit))
		}
		h.g.Add(z.LitNull)
	}
	return h, nil
}

type giniHandle struct {
	interrupter
	g       *gini.Gini
	nbVars  int
	opts    Options
	assumed []z.Lit
	unsat   bool
	closed  bool
	model   cnf.Model
}

func (h *giniHandle) AddUnit(lit int) {
	if v := abs(lit); v > h.nbVars {
		h.nbVars = v
	}
	h.g.Add(z.Dimacs2Lit(lit))
	h.g.Add(z.LitNull)
}

func (h *giniHandle) Assume(lits []int) {
	h.assumed = h.assumed[:0]
	for _, lit := range lits {
		if v := abs(lit); v > h.nbVars {
			h.nbVars = v
		}
		h.assumed = append(h.assumed, z.Dimacs2Lit(lit))
	}
}

func (h *giniHandle) Simplify() bool {
	if h.unsat {
		return false
	}
	if len(h.assumed) > 0 {
		h.g.Assume(h.assumed...)
	}
	res, _ := h.g.Test(nil)
	h.g.Untest()
	if res == -1 {
		h.unsat = true
	}
	return !h.unsat
}

func (h *giniHandle) Solve(ctx context.Context) (verdict portfolio.Verdict, err error) {
	if h.unsat {
		return portfolio.Unsatisfiable, nil
	}
	if h.closed || h.interrupted() || ctx.Err() != nil {
		return portfolio.Unknown, nil
	}
	defer func() {
		if r := recover(); r != nil {
			verdict, err = portfolio.Unknown, recovered(r)
		}
	}()
	if len(h.assumed) > 0 {
		h.g.Assume(h.assumed...)
	}
	s := h.g.GoSolve()
	poll := func() (portfolio.Verdict, bool) {
		res, done := s.Test()
		return giniVerdict(res), done
	}
	verdict, err = supervise(ctx, h.ch, h.opts.MemLimit, poll, func() { s.Stop() })
	if verdict == portfolio.Satisfiable {
		h.model = h.readModel()
	}
	return verdict, err
}

func giniVerdict(res int) portfolio.Verdict {
	switch res {
	case 1:
		return portfolio.Satisfiable
	case -1:
		return portfolio.Unsatisfiable
	default:
		return portfolio.Unknown
	}
}

func (h *giniHandle) readModel() cnf.Model {
	model := cnf.NewModel(h.nbVars)
	maxVar := int(h.g.MaxVar())
	for v := 1; v <= h.nbVars && v <= maxVar; v++ {
		if h.g.Value(z.Var(v).Pos()) {
			model[v-1] = cnf.True
		} else {
			model[v-1] = cnf.False
		}
	}
	return model
}

func (h *giniHandle) Model() cnf.Model { return h.model }

func (h *giniHandle) VariableCount() int { return h.nbVars }

// Stats are not exposed by gini.
func (h *giniHandle) Stats() Stats { return Stats{} }

// Close only marks the handle closed: Solve never returns while the search it started still runs.
func (h *giniHandle) Close() error {
	h.closed = true
	h.model = nil
	return nil
}

func abs(lit int) int {
	if lit < 0 {
		return -lit
	}
	return lit
}
