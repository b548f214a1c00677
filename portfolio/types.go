package portfolio

import (
	"fmt"

	"github.com/crillab/satfolio/cnf"
)

// Verdict is the outcome of a solving attempt.
type Verdict byte

const (
	// Unknown means the attempt stopped before proving anything:
	// resource limit, interruption, out of memory or local failure.
	Unknown = Verdict(iota)
	// Satisfiable means a model was found.
	Satisfiable
	// Unsatisfiable means no model exists.
	Unsatisfiable
)

func (v Verdict) String() string {
	switch v {
	case Unknown:
		return "INDETERMINATE"
	case Satisfiable:
		return "SATISFIABLE"
	case Unsatisfiable:
		return "UNSATISFIABLE"
	default:
		return fmt.Sprintf("Verdict(%d)", byte(v))
	}
}

// ExitCode is the process exit status associated with v.
func (v Verdict) ExitCode() int {
	switch v {
	case Satisfiable:
		return 10
	case Unsatisfiable:
		return 20
	default:
		return 0
	}
}

// priority orders verdicts for aggregation: Satisfiable > Unsatisfiable > Unknown.
func (v Verdict) priority() int {
	switch v {
	case Satisfiable:
		return 2
	case Unsatisfiable:
		return 1
	default:
		return 0
	}
}

// A WorkerResult is the local verdict of one worker.
// It is built once, at the end of the local solve, and never modified.
type WorkerResult struct {
	Worker  int
	Verdict Verdict
	Model   cnf.Model // Only meaningful when Verdict is Satisfiable.
	Err     error     // Local cause of an Unknown verdict. Never sent.
}

// UnknownResult is the result a worker sends when it could not solve its problem.
func UnknownResult(worker int, err error) WorkerResult {
	return WorkerResult{Worker: worker, Verdict: Unknown, Err: err}
}

// AggregateVerdict is the verdict of the whole portfolio.
type AggregateVerdict struct {
	Verdict Verdict
	Model   cnf.Model // Only set when Verdict is Satisfiable.
	Worker  int       // Worker that provided the model, or -1.
}

// Resolve computes the aggregate verdict of results.
// Any Satisfiable result wins, then any Unsatisfiable one; otherwise the verdict is Unknown.
// The model is taken from the Satisfiable result with the lowest worker id,
// so the outcome does not depend on the order of results.
func Resolve(results []WorkerResult) AggregateVerdict {
	agg := AggregateVerdict{Verdict: Unknown, Worker: -1}
	for _, res := range results {
		switch {
		case res.Verdict.priority() > agg.Verdict.priority():
			agg.Verdict = res.Verdict
			if res.Verdict == Satisfiable {
				agg.Model, agg.Worker = res.Model, res.Worker
			}
		case res.Verdict == Satisfiable && res.Worker < agg.Worker:
			agg.Model, agg.Worker = res.Model, res.Worker
		}
	}
	return agg
}
