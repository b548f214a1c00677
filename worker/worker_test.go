package worker

import (
	"bytes"
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crillab/satfolio/cnf"
	"github.com/crillab/satfolio/diversify"
	"github.com/crillab/satfolio/engine"
	"github.com/crillab/satfolio/portfolio"
	"github.com/crillab/satfolio/signals"
)

func testLogger() *logrus.Entry {
	logger, _ := test.NewNullLogger()
	return logrus.NewEntry(logger)
}

// pigeons returns the DIMACS text of n pigeons in n-1 holes.
func pigeons(n int) []byte {
	holes := n - 1
	v := func(p, h int) int { return p*holes + h + 1 }
	var clauses [][]int
	for p := 0; p < n; p++ {
		clause := make([]int, holes)
		for h := range clause {
			clause[h] = v(p, h)
		}
		clauses = append(clauses, clause)
	}
	for h := 0; h < holes; h++ {
		for p1 := 0; p1 < n; p1++ {
			for p2 := p1 + 1; p2 < n; p2++ {
				clauses = append(clauses, []int{-v(p1, h), -v(p2, h)})
			}
		}
	}
	return []byte(cnf.FromSlice(clauses).CNF())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("incremental")
	require.NoError(t, err)
	assert.Equal(t, Incremental, m)
	_, err = ParseMode("sometimes")
	assert.Error(t, err)
}

func TestRunPartitions(t *testing.T) {
	seeds := []int{1, 2}
	expected := []portfolio.Verdict{portfolio.Satisfiable, portfolio.Satisfiable, portfolio.Satisfiable, portfolio.Unsatisfiable}
	for _, name := range engine.Names() {
		for _, mode := range []Mode{Permanent, Incremental} {
			e, err := engine.Lookup(name)
			require.NoError(t, err)
			t.Run(name+"/"+string(mode), func(t *testing.T) {
				for id, want := range expected {
					assumptions, err := diversify.Generate(id, seeds)
					require.NoError(t, err)
					w := New(Config{ID: id, Assumptions: assumptions, Engine: e, Mode: mode}, Input{Path: "../cnf/testdata/or2.cnf"}, testLogger())
					res := w.Run(context.Background())
					assert.Equal(t, id, res.Worker)
					require.Equal(t, want, res.Verdict, "worker %d under %v", id, assumptions)
					assert.NoError(t, res.Err)
					if want == portfolio.Satisfiable {
						assert.NoError(t, w.Problem().Verify(res.Model, assumptions))
					}
				}
			})
		}
	}
}

func TestRunFromMemory(t *testing.T) {
	data, err := os.ReadFile("../cnf/testdata/sample.cnf.gz")
	require.NoError(t, err)
	w := New(Config{ID: 1, Assumptions: []int{-1}}, Input{Data: data}, testLogger())
	res := w.Run(context.Background())
	require.Equal(t, portfolio.Satisfiable, res.Verdict)
	assert.Len(t, res.Model, 6)
	assert.NoError(t, w.Problem().Verify(res.Model, []int{-1}))
}

func TestRunParseError(t *testing.T) {
	w := New(Config{ID: 2}, Input{Data: []byte("p cnf 2 1\n1 x 0\n")}, testLogger())
	res := w.Run(context.Background())
	assert.Equal(t, 2, res.Worker)
	assert.Equal(t, portfolio.Unknown, res.Verdict)
	var perr *cnf.ParseError
	assert.True(t, errors.As(res.Err, &perr), "got %v", res.Err)
	assert.Nil(t, w.Problem())
}

func TestRunMissingFile(t *testing.T) {
	res := New(Config{}, Input{Path: "testdata/nope.cnf"}, testLogger()).Run(context.Background())
	assert.Equal(t, portfolio.Unknown, res.Verdict)
	assert.Error(t, res.Err)
}

func TestRunNoInput(t *testing.T) {
	res := New(Config{}, Input{}, testLogger()).Run(context.Background())
	assert.Equal(t, portfolio.Unknown, res.Verdict)
	assert.Error(t, res.Err)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := New(Config{}, Input{Path: "../cnf/testdata/or2.cnf"}, testLogger()).Run(ctx)
	assert.Equal(t, portfolio.Unknown, res.Verdict)
}

func TestRunCPULimit(t *testing.T) {
	start := time.Now()
	res := New(Config{CPULimit: 100 * time.Millisecond}, Input{Data: pigeons(11)}, testLogger()).Run(context.Background())
	assert.Equal(t, portfolio.Unknown, res.Verdict)
	assert.NoError(t, res.Err)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunOutOfMemory(t *testing.T) {
	cfg := Config{Options: engine.Options{MemLimit: 1}}
	res := New(cfg, Input{Data: pigeons(11)}, testLogger()).Run(context.Background())
	assert.Equal(t, portfolio.Unknown, res.Verdict)
	assert.ErrorIs(t, res.Err, engine.ErrOutOfMemory)
}

func TestRunInterrupted(t *testing.T) {
	reg := signals.NewRegistry(context.Background(), &bytes.Buffer{})
	defer reg.Stop()
	go func() {
		time.Sleep(50 * time.Millisecond)
		reg.Interrupt()
	}()
	res := New(Config{Interrupts: reg}, Input{Data: pigeons(11)}, testLogger()).Run(context.Background())
	assert.Equal(t, portfolio.Unknown, res.Verdict)
}

func TestRunStats(t *testing.T) {
	var out bytes.Buffer
	w := New(Config{ID: 3, Assumptions: []int{-1, -2}, Engine: engine.Gophersat, Stats: &out}, Input{Path: "../cnf/testdata/or2.cnf"}, testLogger())
	res := w.Run(context.Background())
	require.Equal(t, portfolio.Unsatisfiable, res.Verdict)
	stats := out.String()
	assert.Contains(t, stats, "c | Worker              :         3 (gophersat)")
	assert.Contains(t, stats, "c | Number of variables :         2")
	assert.Contains(t, stats, "c | Solved by unit propagation")
	assert.Contains(t, stats, "c | Local verdict       : UNSATISFIABLE")
}
