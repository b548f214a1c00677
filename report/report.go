// Package report writes the result of a portfolio run.
//
// The result file holds the verdict on its first line, SAT, UNSAT or INDET.
// When the problem is satisfiable, the second line holds the model: the assigned variables
// in increasing order, negated if false, followed by a 0. Unassigned variables are omitted.
package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/crillab/satfolio/portfolio"
)

// A WriteError is returned when the result file cannot be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("could not write result to %q: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Format writes the result of agg to w. Only the first nbVars variables of the model are written.
func Format(w io.Writer, agg portfolio.AggregateVerdict, nbVars int) error {
	bw := bufio.NewWriter(w)
	switch agg.Verdict {
	case portfolio.Satisfiable:
		bw.WriteString("SAT\n")
		sep := ""
		for _, lit := range agg.Model.Lits(nbVars) {
			bw.WriteString(sep)
			bw.WriteString(strconv.Itoa(lit))
			sep = " "
		}
		bw.WriteString(sep)
		bw.WriteString("0\n")
	case portfolio.Unsatisfiable:
		bw.WriteString("UNSAT\n")
	default:
		bw.WriteString("INDET\n")
	}
	return bw.Flush()
}

// Write creates the result file at path, replacing any previous content, and writes agg in it.
func Write(path string, agg portfolio.AggregateVerdict, nbVars int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return &WriteError{Path: path, Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &WriteError{Path: path, Err: cerr}
		}
	}()
	if err := Format(f, agg, nbVars); err != nil {
		return &WriteError{Path: path, Err: err}
	}
	return nil
}

// Line is the human readable verdict printed on the standard output.
func Line(v portfolio.Verdict) string {
	return v.String()
}

// ExitCode is the process exit code of a run ending with v.
func ExitCode(v portfolio.Verdict) int {
	return v.ExitCode()
}
