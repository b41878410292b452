// Package sat implements a diver.Solver that bit-blasts integer constraints
// into a boolean circuit and solves it with the gini SAT solver.
package sat

import (
	"context"
	"sync"
	"time"

	"github.com/deepsea/diver"
	"github.com/go-air/gini"
	"github.com/go-air/gini/z"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is the default interval at which a running solve
// checks for cancellation.
const DefaultPollInterval = 5 * time.Millisecond

var _ diver.Solver = (*Solver)(nil)

// Solver is a bit-blasting constraint solver. Floating-point constraints
// are answered with diver.Unknown.
type Solver struct {
	mu    sync.Mutex
	stats diver.SolverStats

	PollInterval time.Duration
	Log          logrus.FieldLogger
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{
		PollInterval: DefaultPollInterval,
		Log:          logrus.StandardLogger(),
	}
}

// Stats returns the counters for all calls to Solve.
func (s *Solver) Stats() diver.SolverStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Solve returns the satisfiability of the conjunction of constraints.
func (s *Solver) Solve(ctx context.Context, constraints []diver.Expr) (sol diver.Solution, err error) {
	t := time.Now()
	defer func() {
		s.mu.Lock()
		s.stats.Add(sol.Status, time.Since(t))
		s.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return diver.UnknownSolution("%s", err), nil
	}

	b := newBlaster()
	roots := make([]z.Lit, 0, len(constraints))
	for _, c := range constraints {
		m, err := b.blastBool(c)
		if err != nil {
			return diver.UnknownSolution("%s", err), nil
		}
		switch m {
		case b.c.F:
			return diver.Solution{Status: diver.Unsat}, nil
		case b.c.T:
			continue
		}
		roots = append(roots, m)
	}

	g := gini.New()
	b.c.ToCnf(g)
	g.Assume(roots...)

	switch s.wait(ctx, g) {
	case 1:
		return diver.Solution{Status: diver.Sat, Bindings: s.bindings(g, b, constraints)}, nil
	case -1:
		return diver.Solution{Status: diver.Unsat}, nil
	default:
		s.Log.WithField("constraints", len(constraints)).Debug("[sat] solve interrupted")
		return diver.UnknownSolution("%s", diver.ErrSolverTimeout), nil
	}
}

// wait runs the solve in the background and stops it when ctx is done.
func (s *Solver) wait(ctx context.Context, g *gini.Gini) int {
	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	solve := g.GoSolve()
	for {
		if res, done := solve.Test(); done {
			return res
		}
		select {
		case <-ctx.Done():
			return solve.Stop()
		case <-ticker.C:
		}
	}
}

// bindings reads back the value of every variable in constraints.
func (s *Solver) bindings(g *gini.Gini, b *blaster, constraints []diver.Expr) diver.Input {
	maxVar := g.MaxVar()
	input := make(diver.Input)
	for _, v := range diver.FindVars(constraints...) {
		var value uint64
		for i, m := range b.vars[v.Name] {
			if m.Var() <= maxVar && g.Value(m) {
				value |= 1 << uint(i)
			}
		}
		input[v.Name] = diver.NewValue(v.Kind, value)
	}
	return input
}
