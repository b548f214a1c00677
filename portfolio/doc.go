/*
Package portfolio combines the verdicts of several workers solving disjoint parts of the same problem.

Workers are numbered from 0 to W-1. Worker W-1 is the collector, every other worker is a contributor.
Each contributor sends exactly one message to the collector, tagged TagVerdict:

    byte 0     verdict code: 0 (unknown), 10 (satisfiable) or 20 (unsatisfiable)
    bytes 1-4  only if satisfiable: number of variables N, big endian
    bytes 5-   only if satisfiable: N bytes, the value of each variable (0 unassigned, 1 true, 2 false)

The collector first computes its own result, then receives one message from each contributor,
in increasing id order, each receive being bounded by a timeout. A message that does not arrive
in time, or cannot be decoded, counts as an unknown verdict.

The aggregate verdict is satisfiable if any worker found a model, unsatisfiable if no worker
found a model but at least one proved its part unsatisfiable, and unknown otherwise.
When several workers found a model, the one of the lowest id is kept.
*/
package portfolio
