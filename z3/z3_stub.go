//go:build !z3

// Package z3 implements a diver.Solver backed by the Z3 SMT solver. Z3
// support requires cgo and libz3 and is enabled with the "z3" build tag.
// Without it, the solver answers every query with diver.Unknown.
package z3

import (
	"context"
	"sync"
	"time"

	"github.com/deepsea/diver"
)

// Available is true when the package is built with Z3 support.
const Available = false

var _ diver.Solver = (*Solver)(nil)

// Solver is a placeholder for the Z3-backed solver.
type Solver struct {
	mu    sync.Mutex
	stats diver.SolverStats
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver { return &Solver{} }

// Close is a no-op.
func (s *Solver) Close() error { return nil }

// Stats returns statistics for the solver.
func (s *Solver) Stats() diver.SolverStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Solve always returns an Unknown solution.
func (s *Solver) Solve(ctx context.Context, constraints []diver.Expr) (diver.Solution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Add(diver.Unknown, time.Duration(0))
	return diver.UnknownSolution("z3: not compiled in, rebuild with -tags z3"), nil
}
