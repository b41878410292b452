//go:build !z3

package z3_test

import (
	"context"
	"testing"

	"github.com/deepsea/diver"
	"github.com/deepsea/diver/z3"
)

func TestSolver_Solve_NotCompiled(t *testing.T) {
	s := z3.NewSolver()
	defer s.Close()

	sol, err := s.Solve(context.Background(), []diver.Expr{diver.NewBoolConstantExpr(true)})
	if err != nil {
		t.Fatal(err)
	} else if got, exp := sol.Status, diver.Unknown; got != exp {
		t.Fatalf("Status=%s, expected %s", got, exp)
	} else if got, exp := s.Stats().UnknownN, 1; got != exp {
		t.Fatalf("UnknownN=%d, expected %d", got, exp)
	}
}
