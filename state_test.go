package diver_test

import (
	"strings"
	"testing"

	"github.com/deepsea/diver"
	"github.com/google/go-cmp/cmp"
)

func TestState_Stack(t *testing.T) {
	s := diver.NewState("1", nil, nil)
	if s.ID() != "1" || s.Depth() != 1 || s.Frame().Name() != "main" {
		t.Fatalf("unexpected root frame: %s", s.Frame().Name())
	}

	for _, v := range []diver.Value{diver.Int(1), diver.Int(2), diver.Int(3)} {
		if err := s.Push(v); err != nil {
			t.Fatal(err)
		}
	}

	if v, err := s.Peek(); err != nil {
		t.Fatal(err)
	} else if v.Int() != 3 {
		t.Fatalf("unexpected peek: %s", v)
	}

	if a, err := s.PopN(2); err != nil {
		t.Fatal(err)
	} else if a[0].Int() != 2 || a[1].Int() != 3 {
		t.Fatalf("unexpected values: %v", a)
	} else if n := s.Frame().StackLen(); n != 1 {
		t.Fatalf("unexpected stack length: %d", n)
	}

	if v, err := s.Pop(); err != nil {
		t.Fatal(err)
	} else if v.Int() != 1 {
		t.Fatalf("unexpected pop: %s", v)
	}

	if _, err := s.Pop(); err == nil || err.Error() != "diver: pop: operand stack underflow in main" {
		t.Fatalf("unexpected error: %v", err)
	} else if !diver.IsStructural(err) {
		t.Fatal("expected structural error")
	}

	if _, err := s.Peek(); err == nil || err.Error() != "diver: peek: operand stack empty in main" {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Push(diver.Value{}); err == nil || err.Error() != "diver: push: invalid value" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestState_Frames(t *testing.T) {
	s := diver.NewState("1", nil, nil)
	if err := s.Push(diver.Int(7)); err != nil {
		t.Fatal(err)
	}

	if err := s.Enter("callee", 2); err != nil {
		t.Fatal(err)
	} else if s.Depth() != 2 || s.Frame().Name() != "callee" {
		t.Fatalf("unexpected frame: %s", s.Frame().Name())
	}

	// Each frame has its own operand stack.
	if _, err := s.Pop(); err == nil || err.Error() != "diver: pop: operand stack underflow in callee" {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Push(diver.Int(8)); err != nil {
		t.Fatal(err)
	}

	if err := s.Leave(); err != nil {
		t.Fatal(err)
	} else if v, err := s.Pop(); err != nil {
		t.Fatal(err)
	} else if v.Int() != 7 {
		t.Fatalf("unexpected value: %s", v)
	}

	if err := s.Leave(); err == nil || err.Error() != "diver: leave: no caller frame" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestState_Locals(t *testing.T) {
	s := diver.NewState("1", nil, nil)

	// The root frame is unbounded.
	if err := s.Store(10, diver.Long(5)); err != nil {
		t.Fatal(err)
	} else if v, err := s.Load(10); err != nil {
		t.Fatal(err)
	} else if v.Long() != 5 {
		t.Fatalf("unexpected value: %s", v)
	}

	if _, err := s.Load(3); err == nil || err.Error() != "diver: load: slot 3 unset in main" {
		t.Fatalf("unexpected error: %v", err)
	} else if _, err := s.Load(11); err == nil || err.Error() != "diver: load: slot 11 out of range in main" {
		t.Fatalf("unexpected error: %v", err)
	} else if _, err := s.Load(-1); err == nil || err.Error() != "diver: load: slot -1 out of range in main" {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := s.Enter("f", 2); err != nil {
		t.Fatal(err)
	} else if err := s.Store(1, diver.Int(1)); err != nil {
		t.Fatal(err)
	} else if err := s.Store(2, diver.Int(1)); err == nil || err.Error() != "diver: store: slot 2 out of range in f" {
		t.Fatalf("unexpected error: %v", err)
	} else if _, err := s.Load(0); err == nil || err.Error() != "diver: load: slot 0 unset in f" {
		t.Fatalf("unexpected error: %v", err)
	} else if err := s.Store(0, diver.Value{}); err == nil || err.Error() != "diver: store: invalid value" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestState_Input(t *testing.T) {
	defaults := func(name string, kind diver.Kind) diver.Value {
		if kind == diver.KindInt {
			return diver.Int(42)
		}
		return diver.Zero(kind)
	}
	s := diver.NewState("1", diver.Input{"x": diver.Int(3), "k": diver.Long(9)}, defaults)

	x, err := s.Input("x", diver.KindInt)
	if err != nil {
		t.Fatal(err)
	} else if x.Int() != 3 || x.IsConstant() {
		t.Fatalf("unexpected value: %s", x)
	} else if s := x.Expr().String(); s != "(var x int)" {
		t.Fatalf("unexpected expression: %s", s)
	}

	t.Run("Default", func(t *testing.T) {
		if v, err := s.Input("y", diver.KindInt); err != nil {
			t.Fatal(err)
		} else if v.Int() != 42 {
			t.Fatalf("unexpected value: %s", v)
		}
	})

	t.Run("KindMismatch", func(t *testing.T) {
		// A bound value of the wrong kind falls back to the default.
		if v, err := s.Input("k", diver.KindInt); err != nil {
			t.Fatal(err)
		} else if v.Int() != 42 {
			t.Fatalf("unexpected value: %s", v)
		}
	})

	t.Run("Redeclare", func(t *testing.T) {
		if v, err := s.Input("x", diver.KindInt); err != nil {
			t.Fatal(err)
		} else if !v.Equal(x) {
			t.Fatalf("unexpected value: %s", v)
		}

		if _, err := s.Input("x", diver.KindLong); err == nil || err.Error() != "diver: input: x redeclared as long, was int" {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	if s := s.Inputs().String(); s != "{k=42 x=3 y=42}" {
		t.Fatalf("unexpected inputs: %s", s)
	}
}

func TestState_RecordBranch(t *testing.T) {
	s := diver.NewState("1", diver.Input{"x": diver.Int(5)}, nil)
	x, err := s.Input("x", diver.KindInt)
	if err != nil {
		t.Fatal(err)
	}

	if ok, err := s.RecordBranch("a", diver.MustApply(diver.OpGt, x, diver.Int(0))); err != nil {
		t.Fatal(err)
	} else if !ok {
		t.Fatal("expected branch to be taken")
	}

	// Concrete conditions are recorded but not constrained.
	if ok, err := s.RecordBranch("b", diver.Bool(false)); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Fatal("expected branch not to be taken")
	}

	if ok, err := s.RecordBranch("c", diver.MustApply(diver.OpEq, x, diver.Int(6))); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Fatal("expected branch not to be taken")
	}

	if _, err := s.RecordBranch("d", x); err == nil || err.Error() != "diver: branch: condition at d is int, not bool" {
		t.Fatalf("unexpected error: %v", err)
	}

	path := s.Path()
	if s.PathLen() != 3 || len(path) != 3 {
		t.Fatalf("unexpected path length: %d", len(path))
	} else if path[0].Pos != "a" || !path[0].Taken || path[0].Concrete() {
		t.Fatalf("unexpected branch: %s", path[0])
	} else if !path[1].Concrete() {
		t.Fatalf("expected concrete branch: %s", path[1])
	}

	var got []string
	for _, expr := range s.Constraints() {
		got = append(got, expr.String())
	}
	if diff := cmp.Diff([]string{
		"(slt (const 0 32) (var x int))",
		"(not (eq (const 6 32) (var x int)))",
	}, got); diff != "" {
		t.Fatal(diff)
	}

	if s := path[2].Negated().String(); s != "(eq (const 6 32) (var x int))" {
		t.Fatalf("unexpected negation: %s", s)
	}
}

func TestState_Finish(t *testing.T) {
	s := diver.NewState("1", nil, nil)
	if err := s.Push(diver.Int(1)); err != nil {
		t.Fatal(err)
	}

	s.Finish(diver.StatusFaulted, "boom")
	s.Finish(diver.StatusCompleted, "")
	if !s.Frozen() || s.Status() != diver.StatusFaulted || s.Reason() != "boom" {
		t.Fatalf("unexpected status: %s %s", s.Status(), s.Reason())
	}

	for name, fn := range map[string]func() error{
		"Push":   func() error { return s.Push(diver.Int(1)) },
		"Pop":    func() error { _, err := s.Pop(); return err },
		"Store":  func() error { return s.Store(0, diver.Int(1)) },
		"Enter":  func() error { return s.Enter("f", 0) },
		"Leave":  func() error { return s.Leave() },
		"Input":  func() error { _, err := s.Input("x", diver.KindInt); return err },
		"Branch": func() error { _, err := s.RecordBranch("a", diver.Bool(true)); return err },
	} {
		if err := fn(); err != diver.ErrStateFrozen {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
	}

	// Reads remain available after the run ends.
	if v, err := s.Peek(); err != nil || v.Int() != 1 {
		t.Fatalf("unexpected peek: %s, %v", v, err)
	}
}

func TestState_Dump(t *testing.T) {
	s := diver.NewState("run-7", diver.Input{"x": diver.Int(5)}, nil)
	x, _ := s.Input("x", diver.KindInt)
	_ = s.Store(0, x)
	_ = s.Push(diver.Int(2))
	_, _ = s.RecordBranch("main:3", diver.MustApply(diver.OpLt, x, diver.Int(9)))

	dump := s.Dump()
	for _, want := range []string{
		"id=run-7\n",
		"status=running\n",
		"inputs={x=5}\n",
		"== FRAME #0\nfn=main\n",
		"local[0] int:5=(var x int)\n",
		"stack[0] int:2\n",
		"0. main:3 true (slt (var x int) (const 9 32))\n",
	} {
		if !strings.Contains(dump, want) {
			t.Fatalf("missing %q in dump:\n%s", want, dump)
		}
	}
}
