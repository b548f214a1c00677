package cnf

import "strings"

// Value is the binding of a variable in a model.
type Value byte

const (
	// Unassigned means the engine did not need to fix the variable.
	Unassigned = Value(iota)
	// True means the variable is bound to true.
	True
	// False means the variable is bound to false.
	False
)

func (v Value) String() string {
	switch v {
	case Unassigned:
		return "UNASSIGNED"
	case True:
		return "TRUE"
	case False:
		return "FALSE"
	default:
		return "INVALID"
	}
}

// Valid is true iff v is one of the three known values.
func (v Value) Valid() bool {
	return v <= False
}

// A Model associates, to each variable, its binding.
// The variable v is stored at index v-1.
type Model []Value

// NewModel returns a model of nbVars variables, all unassigned.
func NewModel(nbVars int) Model {
	return make(Model, nbVars)
}

// ModelFromBools returns the model where variable i+1 is bound to bindings[i].
func ModelFromBools(bindings []bool) Model {
	m := make(Model, len(bindings))
	for i, b := range bindings {
		if b {
			m[i] = True
		} else {
			m[i] = False
		}
	}
	return m
}

// Value returns the binding of the variable v. Variables out of range are unassigned.
func (m Model) Value(v int) Value {
	if v < 1 || v > len(m) {
		return Unassigned
	}
	return m[v-1]
}

// Satisfies is true iff lit is made true by m.
func (m Model) Satisfies(lit int) bool {
	if lit > 0 {
		return m.Value(lit) == True
	}
	return m.Value(-lit) == False
}

// Lits returns the assigned literals of m, in increasing variable order.
// Only the first nbVars variables are considered.
func (m Model) Lits(nbVars int) []int {
	if nbVars > len(m) {
		nbVars = len(m)
	}
	res := make([]int, 0, nbVars)
	for i := 0; i < nbVars; i++ {
		switch m[i] {
		case True:
			res = append(res, i+1)
		case False:
			res = append(res, -(i + 1))
		}
	}
	return res
}

func (m Model) String() string {
	var sb strings.Builder
	for i, v := range m {
		if i > 0 {
			sb.WriteByte(' ')
		}
		switch v {
		case True:
			sb.WriteString("1")
		case False:
			sb.WriteString("0")
		default:
			sb.WriteString("?")
		}
	}
	return sb.String()
}
