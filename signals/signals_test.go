package signals

import (
	"bytes"
	"context"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flag struct{ n int32 }

func (f *flag) Interrupt()         { atomic.AddInt32(&f.n, 1) }
func (f *flag) interrupted() int32 { return atomic.LoadInt32(&f.n) }

func TestFirstSignalInterrupts(t *testing.T) {
	var out bytes.Buffer
	r := NewRegistry(context.Background(), &out)
	defer r.Stop()
	e0, e1, gone := &flag{}, &flag{}, &flag{}
	r.Register(0, e0)
	r.Register(1, e1)
	r.Register(2, gone)
	r.Unregister(2)

	r.handle(os.Interrupt)
	assert.Equal(t, int32(1), e0.interrupted())
	assert.Equal(t, int32(1), e1.interrupted())
	assert.Equal(t, int32(0), gone.interrupted())
	assert.Error(t, r.Context().Err())
	assert.Empty(t, out.String())

	late := &flag{}
	r.Register(3, late)
	assert.Equal(t, int32(1), late.interrupted(), "an engine registered after the signal is interrupted at once")
}

func TestSecondSignalExits(t *testing.T) {
	var out bytes.Buffer
	r := NewRegistry(context.Background(), &out)
	defer r.Stop()
	code := -1
	r.exit = func(c int) { code = c }

	r.handle(os.Interrupt)
	assert.Equal(t, -1, code)
	r.handle(syscall.SIGTERM)
	assert.Equal(t, 1, code)
	assert.Contains(t, out.String(), "*** INTERRUPTED ***")
}

func TestStartStop(t *testing.T) {
	r := NewRegistry(context.Background(), &bytes.Buffer{})
	r.Start()
	e := &flag{}
	r.Register(0, e)
	r.c <- syscall.SIGTERM
	select {
	case <-r.Context().Done():
	case <-time.After(5 * time.Second):
		require.Fail(t, "the registry was not interrupted")
	}
	r.Stop()
	assert.Equal(t, int32(1), e.interrupted())
	r.Stop()
}

func TestStopCancels(t *testing.T) {
	r := NewRegistry(context.Background(), &bytes.Buffer{})
	r.Stop()
	assert.Error(t, r.Context().Err())
}
