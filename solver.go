package diver

import (
	"context"
	"fmt"
	"time"
)

// Satisfiability is the outcome of a solver call.
type Satisfiability int

const (
	Unknown = Satisfiability(iota)
	Sat
	Unsat
)

// String returns the string representation of the outcome.
func (s Satisfiability) String() string {
	switch s {
	case Sat:
		return "sat"
	case Unsat:
		return "unsat"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("Satisfiability<%d>", int(s))
	}
}

// Solution is the answer of a solver for a conjunction of constraints.
type Solution struct {
	Status   Satisfiability
	Bindings Input  // set when Status is Sat
	Reason   string // set when Status is Unknown
}

// UnknownSolution returns an Unknown solution with the given reason.
func UnknownSolution(format string, args ...interface{}) Solution {
	return Solution{Status: Unknown, Reason: fmt.Sprintf(format, args...)}
}

// Solver represents a logical constraint solver.
type Solver interface {
	// Returns the satisfiability of the conjunction of constraints. If the
	// formula is satisfiable, a value is bound for every variable the
	// constraints reference. Timeouts and cancellation are reported as an
	// Unknown solution, not as an error.
	Solve(ctx context.Context, constraints []Expr) (Solution, error)
}

// SolverStats holds counters shared by solver implementations.
type SolverStats struct {
	SolveN    int
	SatN      int
	UnsatN    int
	UnknownN  int
	SolveTime time.Duration
}

// Add records one solver call.
func (s *SolverStats) Add(status Satisfiability, d time.Duration) {
	s.SolveN++
	s.SolveTime += d
	switch status {
	case Sat:
		s.SatN++
	case Unsat:
		s.UnsatN++
	default:
		s.UnknownN++
	}
}
