package cnf

import (
	"fmt"
	"strings"
)

// A Problem is a list of clauses & a nb of vars.
// Literals are DIMACS integers: v for the variable v, -v for its negation.
type Problem struct {
	NbVars  int     // Total nb of vars, as declared in the header or inferred from clauses.
	Clauses [][]int // Clauses, in input order. A clause never contains the 0 terminator.
}

// FromSlice returns the problem made of the given clauses.
// The number of variables is the highest variable found.
func FromSlice(clauses [][]int) *Problem {
	pb := &Problem{Clauses: make([][]int, len(clauses))}
	for i, clause := range clauses {
		pb.Clauses[i] = append([]int(nil), clause...)
		for _, lit := range clause {
			if v := abs(lit); v > pb.NbVars {
				pb.NbVars = v
			}
		}
	}
	return pb
}

// Clone returns a deep copy of pb.
func (pb *Problem) Clone() *Problem {
	res := &Problem{NbVars: pb.NbVars, Clauses: make([][]int, len(pb.Clauses))}
	for i, clause := range pb.Clauses {
		res.Clauses[i] = append([]int(nil), clause...)
	}
	return res
}

// WithUnits returns a copy of pb where each literal of units was appended as a unit clause.
func (pb *Problem) WithUnits(units []int) *Problem {
	res := pb.Clone()
	for _, lit := range units {
		res.Clauses = append(res.Clauses, []int{lit})
		if v := abs(lit); v > res.NbVars {
			res.NbVars = v
		}
	}
	return res
}

// MaxVar returns the highest variable appearing in a clause.
// It can be lower than NbVars when declared variables do not appear in any clause.
func (pb *Problem) MaxVar() int {
	max := 0
	for _, clause := range pb.Clauses {
		for _, lit := range clause {
			if v := abs(lit); v > max {
				max = v
			}
		}
	}
	return max
}

// CNF returns a DIMACS CNF representation of the problem.
func (pb *Problem) CNF() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "p cnf %d %d\n", pb.NbVars, len(pb.Clauses))
	for _, clause := range pb.Clauses {
		for _, lit := range clause {
			fmt.Fprintf(&sb, "%d ", lit)
		}
		sb.WriteString("0\n")
	}
	return sb.String()
}

// Verify checks that model satisfies every clause of pb and every literal of assumptions.
// Unassigned variables satisfy no literal.
func (pb *Problem) Verify(model Model, assumptions []int) error {
	for _, lit := range assumptions {
		if !model.Satisfies(lit) {
			return fmt.Errorf("assumption %d violated", lit)
		}
	}
	for i, clause := range pb.Clauses {
		sat := false
		for _, lit := range clause {
			if model.Satisfies(lit) {
				sat = true
				break
			}
		}
		if !sat {
			return fmt.Errorf("clause #%d %v is unsatisfied by model", i+1, clause)
		}
	}
	return nil
}

func abs(lit int) int {
	if lit < 0 {
		return -lit
	}
	return lit
}
