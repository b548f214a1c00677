/*
Package cnf holds the problem every portfolio worker solves: an immutable CNF formula over variables 1..N.

A problem is read from a DIMACS stream, plain or gzip-compressed:

    p cnf 2 1
    1 2 0

the programmer can create the Problem by doing:

    pb, err := cnf.ParseFile("problem.cnf", false)

or, when the input was already read into memory once and must be handed to several workers:

    pb, err := cnf.Parse(bytes.NewReader(data), false)

Every worker must own its own copy of the problem. Parse never shares state between calls,
and Clone returns a deep copy that can be extended with unit clauses.

A Model associates each variable with True, False or Unassigned. It can be checked against
the problem with Verify.
*/
package cnf
