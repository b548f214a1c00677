package portfolio

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crillab/satfolio/channel"
	"github.com/crillab/satfolio/cnf"
)

func testLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

var fastOptions = Options{ReceiveTimeout: 100 * time.Millisecond, FinalizeTimeout: 100 * time.Millisecond}

// runGroup runs one coordinator per local result on an in-memory group, and returns
// what the collector resolved. Contributors listed in silent never send anything.
func runGroup(t *testing.T, locals []WorkerResult, silent map[int]bool) (*AggregateVerdict, []WorkerResult) {
	g := channel.NewMemGroup(len(locals))
	defer g.Close()
	var (
		wg      sync.WaitGroup
		agg     *AggregateVerdict
		results []WorkerResult
	)
	for rank := range locals {
		if silent[rank] {
			continue
		}
		tr, err := g.Transport(rank)
		require.NoError(t, err)
		local := locals[rank]
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := New(tr, fastOptions, testLogger())
			a, r, err := c.Run(context.Background(), func(context.Context) WorkerResult { return local })
			assert.NoError(t, err)
			if c.IsCollector() {
				agg, results = a, r
				assert.NoError(t, c.Finalize(context.Background()))
			} else {
				assert.Nil(t, a)
				assert.NoError(t, c.Finalize(context.Background()))
			}
		}()
	}
	wg.Wait()
	return agg, results
}

func TestCoordinatorScenario(t *testing.T) {
	model := func(vals ...cnf.Value) cnf.Model { return cnf.Model(vals) }
	locals := []WorkerResult{
		{Verdict: Satisfiable, Model: model(cnf.True, cnf.True)},
		{Verdict: Satisfiable, Model: model(cnf.True, cnf.False)},
		{Verdict: Satisfiable, Model: model(cnf.False, cnf.True)},
		{Verdict: Unsatisfiable},
	}
	agg, results := runGroup(t, locals, nil)
	require.NotNil(t, agg)
	assert.Equal(t, Satisfiable, agg.Verdict)
	assert.Equal(t, 0, agg.Worker)
	assert.Equal(t, locals[0].Model, agg.Model)
	require.Len(t, results, 4)
	for id, res := range results {
		assert.Equal(t, id, res.Worker)
		assert.Equal(t, locals[id].Verdict, res.Verdict)
	}
}

func TestCoordinatorCollectorModelWins(t *testing.T) {
	locals := []WorkerResult{
		{Verdict: Unsatisfiable},
		{Verdict: Unknown},
		{Verdict: Satisfiable, Model: cnf.Model{cnf.False}},
	}
	agg, _ := runGroup(t, locals, nil)
	require.NotNil(t, agg)
	assert.Equal(t, Satisfiable, agg.Verdict)
	assert.Equal(t, 2, agg.Worker)
	assert.Equal(t, cnf.Model{cnf.False}, agg.Model)
}

func TestCoordinatorAllUnsat(t *testing.T) {
	locals := []WorkerResult{{Verdict: Unsatisfiable}, {Verdict: Unsatisfiable}, {Verdict: Unsatisfiable}}
	agg, _ := runGroup(t, locals, nil)
	require.NotNil(t, agg)
	assert.Equal(t, Unsatisfiable, agg.Verdict)
	assert.Equal(t, 20, agg.Verdict.ExitCode())
}

func TestCoordinatorSingleWorker(t *testing.T) {
	agg, results := runGroup(t, []WorkerResult{{Verdict: Unknown}}, nil)
	require.NotNil(t, agg)
	assert.Equal(t, Unknown, agg.Verdict)
	assert.Len(t, results, 1)
}

func TestCoordinatorTimeout(t *testing.T) {
	locals := []WorkerResult{{Verdict: Unknown}, {Verdict: Unknown}, {Verdict: Unknown}}
	start := time.Now()
	g := channel.NewMemGroup(3)
	defer g.Close()
	tr, err := g.Transport(2)
	require.NoError(t, err)
	c := New(tr, fastOptions, testLogger())
	// Worker 0 never answers. Worker 1 answers, and waiting for 0 must not make it time out.
	tr1, err := g.Transport(1)
	require.NoError(t, err)
	go func() {
		_ = New(tr1, fastOptions, testLogger()).Contribute(context.Background(), locals[1])
	}()
	agg, results := c.Collect(context.Background(), locals[2])
	assert.Equal(t, Unknown, agg.Verdict)
	assert.Equal(t, 0, agg.Verdict.ExitCode())
	assert.True(t, errors.Is(results[0].Err, channel.ErrTimeout), "got %v", results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCoordinatorTimeoutDoesNotHideSat(t *testing.T) {
	locals := []WorkerResult{
		{Verdict: Unknown},
		{Verdict: Satisfiable, Model: cnf.Model{cnf.True}},
		{Verdict: Unsatisfiable},
	}
	agg, results := runGroup(t, locals, map[int]bool{0: true})
	require.NotNil(t, agg)
	assert.Equal(t, Satisfiable, agg.Verdict)
	assert.Equal(t, 1, agg.Worker)
	assert.Equal(t, Unknown, results[0].Verdict)
}

func TestCoordinatorPayloadError(t *testing.T) {
	g := channel.NewMemGroup(2)
	defer g.Close()
	contributor, err := g.Transport(0)
	require.NoError(t, err)
	collector, err := g.Transport(1)
	require.NoError(t, err)

	// A payload claiming satisfiability without a model must not be taken for a model.
	require.NoError(t, contributor.Send(context.Background(), 1, TagVerdict, []byte{10}))
	agg, results := New(collector, fastOptions, testLogger()).Collect(context.Background(), WorkerResult{Worker: 1, Verdict: Unknown})
	assert.Equal(t, Unknown, agg.Verdict)
	var perr *PayloadError
	assert.True(t, errors.As(results[0].Err, &perr), "got %v", results[0].Err)
}

func TestCoordinatorIgnoresOtherTags(t *testing.T) {
	g := channel.NewMemGroup(2)
	defer g.Close()
	contributor, err := g.Transport(0)
	require.NoError(t, err)
	collector, err := g.Transport(1)
	require.NoError(t, err)

	require.NoError(t, contributor.Send(context.Background(), 1, TagFinalize, []byte{20}))
	agg, results := New(collector, fastOptions, testLogger()).Collect(context.Background(), WorkerResult{Worker: 1, Verdict: Unknown})
	assert.Equal(t, Unknown, agg.Verdict, "a message with another tag is not a verdict")
	assert.True(t, errors.Is(results[0].Err, channel.ErrTimeout))
}

// corruptTransport delivers corrupted payloads to the collector.
type corruptTransport struct{ channel.Transport }

func (corruptTransport) Recv(ctx context.Context, from int, tag channel.Tag) ([]byte, error) {
	return []byte{20}, channel.ErrChecksum
}

func TestCoordinatorChecksum(t *testing.T) {
	g := channel.NewMemGroup(2)
	defer g.Close()
	collector, err := g.Transport(1)
	require.NoError(t, err)
	agg, results := New(corruptTransport{collector}, fastOptions, testLogger()).Collect(context.Background(), WorkerResult{Worker: 1, Verdict: Unknown})
	assert.Equal(t, Unknown, agg.Verdict, "a corrupted unsat payload must not count as unsat")
	var perr *PayloadError
	assert.True(t, errors.As(results[0].Err, &perr), "got %v", results[0].Err)
}

func TestCoordinatorInterruptedContributorStillSends(t *testing.T) {
	g := channel.NewMemGroup(2)
	defer g.Close()
	contributor, err := g.Transport(0)
	require.NoError(t, err)
	collector, err := g.Transport(1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = New(contributor, fastOptions, testLogger()).Run(ctx, func(ctx context.Context) WorkerResult {
		return UnknownResult(0, ctx.Err())
	})
	require.NoError(t, err)

	agg, results := New(collector, fastOptions, testLogger()).Collect(ctx, WorkerResult{Worker: 1, Verdict: Unsatisfiable})
	assert.Equal(t, Unsatisfiable, agg.Verdict)
	assert.NoError(t, results[0].Err)
}

func TestContributeFromCollector(t *testing.T) {
	g := channel.NewMemGroup(1)
	defer g.Close()
	tr, err := g.Transport(0)
	require.NoError(t, err)
	assert.Error(t, New(tr, fastOptions, testLogger()).Contribute(context.Background(), WorkerResult{}))
}

func TestFinalizeWaitsForSlowCollector(t *testing.T) {
	g := channel.NewMemGroup(2)
	defer g.Close()
	contributor, err := g.Transport(0)
	require.NoError(t, err)
	collector, err := g.Transport(1)
	require.NoError(t, err)

	released := make(chan error, 1)
	go func() {
		released <- New(contributor, fastOptions, testLogger()).Finalize(context.Background())
	}()
	// The collector releases long after the finalize timeout.
	time.Sleep(5 * fastOptions.FinalizeTimeout)
	require.NoError(t, New(collector, fastOptions, testLogger()).Finalize(context.Background()))
	select {
	case err := <-released:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker 0 was never released")
	}
}

func TestFinalizeEnds(t *testing.T) {
	g := channel.NewMemGroup(2)
	tr, err := g.Transport(0)
	require.NoError(t, err)
	c := New(tr, fastOptions, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = c.Finalize(ctx)
	assert.True(t, errors.Is(err, channel.ErrTimeout), "got %v", err)

	g.Close()
	err = c.Finalize(context.Background())
	assert.True(t, errors.Is(err, channel.ErrClosed), "got %v", err)
}
