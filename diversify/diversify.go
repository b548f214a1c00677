// Package diversify splits the search space of a problem between the workers of a portfolio.
//
// Given k seed variables, each worker gets its own assumption set: one literal per seed variable,
// the signs being chosen by the binary representation of the worker index.
// With W workers and W = 2^k, the assumption sets cover every assignment of the seed variables.
//
// The first seed variable is the most significant bit of the index and a 0 bit gives the positive literal:
// with seeds {1, 2}, workers 0 to 3 assume (1, 2), (1, -2), (-1, 2) and (-1, -2), in that order.
package diversify

import "fmt"

// maxBits is the highest number of seed variables whose combinations can be counted in an int.
const maxBits = 62

// A ConfigurationError is returned when the portfolio cannot be configured as requested.
// No worker must be started when such an error occurs.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration for %s: %s", e.Field, e.Reason)
}

// Combinations returns the number of distinct assumption sets k seed variables can generate,
// and false if that number does not fit an int.
func Combinations(k int) (int, bool) {
	if k > maxBits {
		return 0, false
	}
	return 1 << uint(k), true
}

// Check returns a ConfigurationError if the given seed variables cannot yield
// one distinct assumption set per worker.
func Check(workers int, seeds []int) error {
	if workers < 1 {
		return &ConfigurationError{Field: "workers", Reason: fmt.Sprintf("need at least one worker, got %d", workers)}
	}
	seen := make(map[int]bool, len(seeds))
	for _, v := range seeds {
		if v <= 0 {
			return &ConfigurationError{Field: "seeds", Reason: fmt.Sprintf("seed variable %d is not a positive variable index", v)}
		}
		if seen[v] {
			return &ConfigurationError{Field: "seeds", Reason: fmt.Sprintf("seed variable %d appears twice", v)}
		}
		seen[v] = true
	}
	if n, ok := Combinations(len(seeds)); ok && workers > n {
		return &ConfigurationError{
			Field:  "workers",
			Reason: fmt.Sprintf("%d workers but only %d combinations of %d seed variables", workers, n, len(seeds)),
		}
	}
	return nil
}

// Generate returns the assumption set of the worker with the given index.
// Seed variable i gets its sign from bit k-1-i of workerIndex, so the first seed variable
// is the most significant one: a 0 bit yields the positive literal, a 1 bit the negative one.
// Worker 0 thus assumes every seed variable is true.
// The result only depends on its arguments.
func Generate(workerIndex int, seeds []int) ([]int, error) {
	if err := Check(1, seeds); err != nil {
		return nil, err
	}
	if workerIndex < 0 {
		return nil, &ConfigurationError{Field: "worker", Reason: fmt.Sprintf("negative worker index %d", workerIndex)}
	}
	k := len(seeds)
	if n, ok := Combinations(k); ok && workerIndex >= n {
		return nil, &ConfigurationError{
			Field:  "worker",
			Reason: fmt.Sprintf("worker index %d out of the %d combinations of %d seed variables", workerIndex, n, k),
		}
	}
	lits := make([]int, k)
	for i, v := range seeds {
		bit := k - 1 - i
		if bit < maxBits+1 && (workerIndex>>uint(bit))&1 == 1 {
			lits[i] = -v
		} else {
			lits[i] = v
		}
	}
	return lits, nil
}

// All returns the assumption sets of workers 0 to workers-1.
// It fails with a ConfigurationError, and returns no set at all, if workers > 2^k.
func All(workers int, seeds []int) ([][]int, error) {
	if err := Check(workers, seeds); err != nil {
		return nil, err
	}
	res := make([][]int, workers)
	for i := range res {
		lits, err := Generate(i, seeds)
		if err != nil {
			return nil, err
		}
		res[i] = lits
	}
	return res, nil
}
