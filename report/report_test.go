package report

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crillab/satfolio/cnf"
	"github.com/crillab/satfolio/portfolio"
)

func TestFormat(t *testing.T) {
	for _, tt := range []struct {
		name   string
		agg    portfolio.AggregateVerdict
		nbVars int
		want   string
	}{
		{
			name:   "sat",
			agg:    portfolio.AggregateVerdict{Verdict: portfolio.Satisfiable, Model: cnf.Model{cnf.True, cnf.False, cnf.Unassigned, cnf.True}},
			nbVars: 4,
			want:   "SAT\n1 -2 4 0\n",
		},
		{
			name:   "sat with variables added by assumptions",
			agg:    portfolio.AggregateVerdict{Verdict: portfolio.Satisfiable, Model: cnf.Model{cnf.False, cnf.True, cnf.True}},
			nbVars: 2,
			want:   "SAT\n-1 2 0\n",
		},
		{
			name:   "sat without assigned variable",
			agg:    portfolio.AggregateVerdict{Verdict: portfolio.Satisfiable, Model: cnf.Model{cnf.Unassigned}},
			nbVars: 1,
			want:   "SAT\n0\n",
		},
		{
			name: "unsat",
			agg:  portfolio.AggregateVerdict{Verdict: portfolio.Unsatisfiable},
			want: "UNSAT\n",
		},
		{
			name:   "indet",
			agg:    portfolio.AggregateVerdict{Verdict: portfolio.Unknown},
			nbVars: 3,
			want:   "INDET\n",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			var b bytes.Buffer
			require.NoError(t, Format(&b, tt.agg, tt.nbVars))
			assert.Equal(t, tt.want, b.String())
		})
	}
}

func TestWriteIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result")
	agg := portfolio.AggregateVerdict{Verdict: portfolio.Satisfiable, Model: cnf.Model{cnf.True, cnf.True}, Worker: 0}
	require.NoError(t, Write(path, agg, 2))
	first, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, Write(path, agg, 2))
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "SAT\n1 2 0\n", string(first))
	assert.Equal(t, first, second)
}

func TestWriteError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "result")
	err := Write(path, portfolio.AggregateVerdict{}, 0)
	var werr *WriteError
	require.True(t, errors.As(err, &werr), "got %v", err)
	assert.Equal(t, path, werr.Path)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLineAndExitCode(t *testing.T) {
	assert.Equal(t, "SATISFIABLE", Line(portfolio.Satisfiable))
	assert.Equal(t, "UNSATISFIABLE", Line(portfolio.Unsatisfiable))
	assert.Equal(t, "INDETERMINATE", Line(portfolio.Unknown))
	assert.Equal(t, 10, ExitCode(portfolio.Satisfiable))
	assert.Equal(t, 20, ExitCode(portfolio.Unsatisfiable))
	assert.Equal(t, 0, ExitCode(portfolio.Unknown))
}
