// Package signals routes SIGINT and SIGTERM to the workers running in this process.
package signals

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// An Interrupter can be asked to stop what it is doing.
type Interrupter interface {
	Interrupt()
}

// A Registry holds the engine of each running worker, keyed by worker id.
// The first signal cancels the context of the registry and interrupts every registered engine.
// A second signal prints "*** INTERRUPTED ***" and terminates the program with exit code 1.
type Registry struct {
	ctx    context.Context
	cancel context.CancelFunc
	out    io.Writer
	exit   func(int)

	mu          sync.Mutex
	engines     map[int]Interrupter
	signals     int
	interrupted bool

	c    chan os.Signal
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewRegistry returns a registry whose context derives from parent.
// Messages are written to out. Signals are only handled once Start is called.
func NewRegistry(parent context.Context, out io.Writer) *Registry {
	ctx, cancel := context.WithCancel(parent)
	return &Registry{
		ctx:     ctx,
		cancel:  cancel,
		out:     out,
		exit:    os.Exit,
		engines: make(map[int]Interrupter),
	}
}

// Context is cancelled on the first signal.
func (r *Registry) Context() context.Context {
	return r.ctx
}

// Register routes interrupts to i on behalf of the worker id.
// If the registry was already interrupted, i is interrupted right away.
func (r *Registry) Register(id int, i Interrupter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[id] = i
	if r.interrupted {
		i.Interrupt()
	}
}

// Unregister forgets the engine of the worker id.
func (r *Registry) Unregister(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, id)
}

// Interrupt cancels the context of the registry and interrupts every registered engine.
func (r *Registry) Interrupt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interrupted = true
	r.cancel()
	for _, i := range r.engines {
		i.Interrupt()
	}
}

func (r *Registry) handle(sig os.Signal) {
	r.mu.Lock()
	r.signals++
	n := r.signals
	r.mu.Unlock()
	if n == 1 {
		r.Interrupt()
		return
	}
	fmt.Fprintf(r.out, "\n*** INTERRUPTED ***\n")
	r.exit(1)
}

// Start installs the signal handler.
func (r *Registry) Start() {
	r.c = make(chan os.Signal, 2)
	r.stop = make(chan struct{})
	signal.Notify(r.c, shutdownSignals...)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case sig := <-r.c:
				r.handle(sig)
			case <-r.stop:
				return
			}
		}
	}()
}

// Stop removes the signal handler and releases the context of the registry.
func (r *Registry) Stop() {
	if r.c != nil {
		signal.Stop(r.c)
		close(r.stop)
		r.wg.Wait()
		r.c = nil
	}
	r.cancel()
}
