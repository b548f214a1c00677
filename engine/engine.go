/*
Package engine wraps the SAT solvers a worker can run on its part of the problem.

An Engine loads a problem and returns a Handle. A handle is used by a single goroutine,
except for Interrupt, which can be called from anywhere at any time:

	h, err := engine.Gini.Load(pb, engine.Options{})
	if err != nil {
		return err
	}
	defer h.Close()
	for _, lit := range assumptions {
		h.AddUnit(lit)
	}
	if !h.Simplify() {
		return portfolio.Unsatisfiable
	}
	verdict, err := h.Solve(ctx)

Solve stops with an Unknown verdict when ctx is done or the handle is interrupted.
When Options.MemLimit is set, it also stops once the heap grows over the limit, and returns ErrOutOfMemory.
*/
package engine

import (
	"context"
	"fmt"
	rtmetrics "runtime/metrics"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/crillab/satfolio/cnf"
	"github.com/crillab/satfolio/portfolio"
)

// ErrOutOfMemory is returned by Solve when the engine exhausted its memory.
var ErrOutOfMemory = errors.New("engine: out of memory")

// pollInterval is how often a running search is checked for termination.
const pollInterval = 5 * time.Millisecond

// Options tune a loaded handle.
type Options struct {
	// MemLimit is the heap size, in bytes, above which a search is stopped. 0 means no limit.
	MemLimit uint64
}

// Stats are the counters an engine reports about its last search.
// Known is false when the engine does not expose them.
type Stats struct {
	Known     bool
	Conflicts int64
	Decisions int64
	Restarts  int64
}

// An Engine is a SAT solver implementation.
type Engine interface {
	// Name is the name the engine is registered under.
	Name() string
	// Load returns a handle on a fresh instance of the engine, holding its own copy of pb.
	Load(pb *cnf.Problem, opts Options) (Handle, error)
}

// A Handle is a loaded instance of an engine.
type Handle interface {
	// AddUnit adds lit as a permanent unit clause. It must be called before Simplify.
	AddUnit(lit int)
	// Assume sets the literals assumed during the next search, without adding them to the problem.
	// It must be called before Simplify.
	Assume(lits []int)
	// Simplify runs unit propagation. It returns false iff the problem was proven unsatisfiable.
	Simplify() bool
	// Solve searches for a model until one is found, the problem is proven unsatisfiable,
	// ctx is done or the handle is interrupted.
	Solve(ctx context.Context) (portfolio.Verdict, error)
	// Interrupt asks a running or future search to stop. It is safe for concurrent use.
	Interrupt()
	// Model returns the model found by the last satisfiable search, one value per variable of the problem.
	Model() cnf.Model
	// VariableCount returns the number of variables of the loaded problem.
	VariableCount() int
	// Stats returns the counters of the last search.
	Stats() Stats
	// Close releases the instance. A search still running is stopped or abandoned.
	Close() error
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Engine{}
)

// Register makes e available through Lookup. It panics if the name is already taken.
func Register(e Engine) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[e.Name()]; ok {
		panic(fmt.Sprintf("engine %q registered twice", e.Name()))
	}
	registry[e.Name()] = e
}

// Lookup returns the engine registered as name.
func Lookup(name string) (Engine, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	e, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown engine %q", name)
	}
	return e, nil
}

// Names returns the sorted names of the registered engines.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func init() {
	Register(Gini)
	Register(Gophersat)
}

// interrupter is the advisory stop flag shared by every backend.
type interrupter struct {
	once sync.Once
	ch   chan struct{}
}

func newInterrupter() interrupter {
	return interrupter{ch: make(chan struct{})}
}

func (i *interrupter) Interrupt() {
	i.once.Do(func() { close(i.ch) })
}

func (i *interrupter) interrupted() bool {
	select {
	case <-i.ch:
		return true
	default:
		return false
	}
}

// supervise calls poll until it reports a finished search.
// It calls stop and returns Unknown when ctx is done or intr is closed,
// and ErrOutOfMemory when the heap grows over memLimit.
func supervise(ctx context.Context, intr <-chan struct{}, memLimit uint64, poll func() (portfolio.Verdict, bool), stop func()) (portfolio.Verdict, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if v, done := poll(); done {
			return v, nil
		}
		select {
		case <-ctx.Done():
			stop()
			return portfolio.Unknown, nil
		case <-intr:
			stop()
			return portfolio.Unknown, nil
		case <-ticker.C:
			if memLimit > 0 && heapBytes() > memLimit {
				stop()
				return portfolio.Unknown, ErrOutOfMemory
			}
		}
	}
}

var heapSample = []rtmetrics.Sample{{Name: "/memory/classes/heap/objects:bytes"}}
var heapMu sync.Mutex

func heapBytes() uint64 {
	heapMu.Lock()
	defer heapMu.Unlock()
	rtmetrics.Read(heapSample)
	if heapSample[0].Value.Kind() != rtmetrics.KindUint64 {
		return 0
	}
	return heapSample[0].Value.Uint64()
}

// recovered turns a panic raised by an engine into an error.
func recovered(r interface{}) error {
	if err, ok := r.(error); ok {
		return errors.Wrap(err, "engine panicked")
	}
	return errors.Errorf("engine panicked: %v", r)
}

func hasEmptyClause(pb *cnf.Problem) bool {
	for _, clause := range pb.Clauses {
		if len(clause) == 0 {
			return true
		}
	}
	return false
}
