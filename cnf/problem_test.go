package cnf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromSlice(t *testing.T) {
	clauses := [][]int{{1, -7}, {3}}
	pb := FromSlice(clauses)
	assert.Equal(t, 7, pb.NbVars)
	clauses[0][0] = 42
	assert.Equal(t, []int{1, -7}, pb.Clauses[0], "FromSlice must copy its input")
}

func TestWithUnits(t *testing.T) {
	pb := FromSlice([][]int{{1, 2}})
	augmented := pb.WithUnits([]int{-1, 3})
	assert.Equal(t, [][]int{{1, 2}}, pb.Clauses, "original problem must not change")
	assert.Equal(t, [][]int{{1, 2}, {-1}, {3}}, augmented.Clauses)
	assert.Equal(t, 3, augmented.NbVars)
	assert.Equal(t, 3, augmented.MaxVar())
}

func TestVerify(t *testing.T) {
	pb := FromSlice([][]int{{1, 2}, {-1, 3}})
	for _, tt := range []struct {
		name        string
		model       Model
		assumptions []int
		ok          bool
	}{
		{"satisfying", Model{True, False, True}, nil, true},
		{"unassigned var not needed", Model{False, True, Unassigned}, nil, true},
		{"violated clause", Model{True, False, False}, nil, false},
		{"unassigned var needed", Model{Unassigned, Unassigned, True}, nil, false},
		{"assumption respected", Model{True, False, True}, []int{1, -2}, true},
		{"assumption violated", Model{True, False, True}, []int{-1}, false},
		{"short model", Model{False}, nil, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := pb.Verify(tt.model, tt.assumptions)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestModelLits(t *testing.T) {
	m := Model{True, Unassigned, False, True}
	assert.Equal(t, []int{1, -3, 4}, m.Lits(4))
	assert.Equal(t, []int{1}, m.Lits(2))
	assert.Equal(t, []int{1, -3, 4}, m.Lits(10))
	assert.Equal(t, "1 ? 0 1", m.String())
}

func TestModelFromBools(t *testing.T) {
	m := ModelFromBools([]bool{false, true})
	assert.Equal(t, Model{False, True}, m)
	assert.Equal(t, Unassigned, m.Value(3))
	assert.Equal(t, Unassigned, m.Value(0))
	assert.True(t, m.Satisfies(-1))
	assert.True(t, m.Satisfies(2))
	assert.False(t, m.Satisfies(-3))
}
