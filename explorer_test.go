package diver_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/deepsea/diver"
	"github.com/deepsea/diver/bus"
	"github.com/deepsea/diver/sat"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

// positive branches once on x > 0.
var positive = diver.ProgramFunc(func(ctx context.Context, s *diver.State) error {
	x, err := s.Input("x", diver.KindInt)
	if err != nil {
		return err
	}
	_, err = s.RecordBranch("x>0", diver.MustApply(diver.OpGt, x, diver.Int(0)))
	return err
})

// divide computes x / y, guarding the division with an implicit branch.
var divide = diver.ProgramFunc(func(ctx context.Context, s *diver.State) error {
	x, err := s.Input("x", diver.KindInt)
	if err != nil {
		return err
	}
	y, err := s.Input("y", diver.KindInt)
	if err != nil {
		return err
	}
	if _, err := s.RecordBranch("div", diver.MustApply(diver.OpNe, y, diver.Int(0))); err != nil {
		return err
	}
	_, err = diver.Apply(diver.OpDiv, x, y)
	return err
})

// independent branches on the sign of each of its inputs.
func independent(names ...string) diver.ProgramFunc {
	return func(ctx context.Context, s *diver.State) error {
		for _, name := range names {
			v, err := s.Input(name, diver.KindInt)
			if err != nil {
				return err
			}
			if _, err := s.RecordBranch(name+">0", diver.MustApply(diver.OpGt, v, diver.Int(0))); err != nil {
				return err
			}
		}
		return nil
	}
}

// signature returns the branch positions and directions of a run.
func signature(run *diver.Run) string {
	var sb strings.Builder
	for _, b := range run.Path {
		fmt.Fprintf(&sb, "%s:%t ", b.Pos, b.Taken)
	}
	return sb.String()
}

// solverFunc adapts a function to the Solver interface.
type solverFunc func(ctx context.Context, constraints []diver.Expr) (diver.Solution, error)

func (fn solverFunc) Solve(ctx context.Context, constraints []diver.Expr) (diver.Solution, error) {
	return fn(ctx, constraints)
}

func TestExplorer_Explore_Positive(t *testing.T) {
	e := diver.NewExplorer(sat.NewSolver())
	report, err := e.Explore(context.Background(), positive, nil)
	if err != nil {
		t.Fatal(err)
	} else if report.Runs != 2 || report.Completed != 2 || report.StopReason != diver.StopExhausted {
		t.Fatalf("unexpected report: %s", spew.Sdump(report))
	}

	inputs := report.Inputs()
	if x := inputs[0]["x"].Int(); x != 0 {
		t.Fatalf("unexpected seed input: %d", x)
	} else if x := inputs[1]["x"].Int(); x <= 0 {
		t.Fatalf("expected derived input to take the branch: %d", x)
	}

	if report.History[1].Parent != report.History[0].ID {
		t.Fatal("expected derived run to reference its parent")
	} else if report.History[0].Seq != 1 || report.History[1].Seq != 2 {
		t.Fatal("unexpected run sequence")
	}
}

func TestExplorer_Explore_DivisionByZero(t *testing.T) {
	t.Run("ZeroPolicy", func(t *testing.T) {
		e := diver.NewExplorer(sat.NewSolver())
		report, err := e.Explore(context.Background(), divide, diver.Input{"x": diver.Int(10), "y": diver.Int(3)})
		if err != nil {
			t.Fatal(err)
		} else if report.Runs != 2 || report.Faulted != 1 || report.Completed != 1 {
			t.Fatalf("unexpected report: %s", spew.Sdump(report))
		}

		if diff := cmp.Diff([]diver.FaultReport{{
			Run:     report.History[1].ID,
			Input:   map[string]string{"x": "0", "y": "0"},
			Pos:     "div",
			Message: "arithmetic fault: / by zero",
		}}, report.Faults); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("SeedPolicy", func(t *testing.T) {
		e := diver.NewExplorer(sat.NewSolver())
		e.DefaultPolicy = diver.DefaultSeed
		report, err := e.Explore(context.Background(), divide, diver.Input{"x": diver.Int(10), "y": diver.Int(3)})
		if err != nil {
			t.Fatal(err)
		} else if len(report.Faults) != 1 {
			t.Fatalf("unexpected faults: %s", spew.Sdump(report.Faults))
		} else if diff := cmp.Diff(map[string]string{"x": "10", "y": "0"}, report.Faults[0].Input); diff != "" {
			t.Fatal(diff)
		}
	})
}

// Ensure every feasible path is executed exactly once and that every derived
// run follows the branch it was derived from.
func TestExplorer_Explore_Paths(t *testing.T) {
	for _, strategy := range []string{"dfs", "bfs", "random", "dfs,bfs"} {
		for _, workers := range []int{1, 4} {
			t.Run(fmt.Sprintf("%s/%d", strategy, workers), func(t *testing.T) {
				e := diver.NewExplorer(sat.NewSolver())
				e.Workers = workers
				s, err := diver.NewStrategy(strategy, 1)
				if err != nil {
					t.Fatal(err)
				}
				e.Strategy = s

				report, err := e.Explore(context.Background(), independent("x", "y", "z"), nil)
				if err != nil {
					t.Fatal(err)
				} else if report.Runs != 8 {
					t.Fatalf("unexpected runs: %d: %s", report.Runs, spew.Sdump(report.Inputs()))
				} else if report.Divergences != 0 {
					t.Fatalf("unexpected divergences: %d", report.Divergences)
				} else if report.StopReason != diver.StopExhausted {
					t.Fatalf("unexpected stop reason: %s", report.StopReason)
				}

				seen := make(map[string]bool)
				for _, run := range report.History {
					if sig := signature(run); seen[sig] {
						t.Fatalf("duplicate path: %s", sig)
					} else {
						seen[sig] = true
					}
				}

				if stats := report.Frontier; stats.Sat != 7 || stats.Pending != 0 || stats.Covered != 14 {
					t.Fatalf("unexpected frontier stats: %#v", stats)
				}
			})
		}
	}
}

func TestExplorer_Explore_MaxRuns(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprint(workers), func(t *testing.T) {
			e := diver.NewExplorer(sat.NewSolver())
			e.Workers = workers
			e.MaxRuns = 3

			report, err := e.Explore(context.Background(), independent("x", "y", "z"), nil)
			if err != nil {
				t.Fatal(err)
			} else if report.Runs != 3 {
				t.Fatalf("unexpected runs: %d", report.Runs)
			} else if report.StopReason != diver.StopMaxRuns {
				t.Fatalf("unexpected stop reason: %s", report.StopReason)
			}
		})
	}
}

func TestExplorer_Explore_MaxTime(t *testing.T) {
	prog := diver.ProgramFunc(func(ctx context.Context, s *diver.State) error {
		time.Sleep(20 * time.Millisecond)
		return positive(ctx, s)
	})

	e := diver.NewExplorer(sat.NewSolver())
	e.MaxTime = 5 * time.Millisecond
	report, err := e.Explore(context.Background(), prog, nil)
	if err != nil {
		t.Fatal(err)
	} else if report.Runs != 1 {
		t.Fatalf("expected the seed run to finish: %d", report.Runs)
	} else if report.StopReason != diver.StopMaxTime {
		t.Fatalf("unexpected stop reason: %s", report.StopReason)
	} else if report.Frontier.Pending != 1 {
		t.Fatalf("unexpected pending: %d", report.Frontier.Pending)
	}
}

func TestExplorer_Explore_Canceled(t *testing.T) {
	prog := diver.ProgramFunc(func(ctx context.Context, s *diver.State) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return positive(ctx, s)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := diver.NewExplorer(sat.NewSolver()).Explore(ctx, prog, nil)
	if err != nil {
		t.Fatal(err)
	} else if report.Runs != 0 {
		t.Fatalf("expected canceled run to be dropped: %d", report.Runs)
	} else if report.StopReason != diver.StopCanceled {
		t.Fatalf("unexpected stop reason: %s", report.StopReason)
	}
}

func TestExplorer_Explore_Stop(t *testing.T) {
	b := bus.NewBroker()
	defer b.Close()

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	var final bus.Record
	b.Subscribe(bus.TopicReport, func(topic string, rec bus.Record) { final = rec })

	// The first run to take x > 0 requests a stop.
	prog := diver.ProgramFunc(func(ctx context.Context, s *diver.State) error {
		x, err := s.Input("x", diver.KindInt)
		if err != nil {
			return err
		}
		y, err := s.Input("y", diver.KindInt)
		if err != nil {
			return err
		}
		if ok, err := s.RecordBranch("x>0", diver.MustApply(diver.OpGt, x, diver.Int(0))); err != nil {
			return err
		} else if ok {
			b.Publish(bus.TopicStop, bus.Record{"message": "found it", "trigger": "x>0"})
		}
		_, err = s.RecordBranch("y>0", diver.MustApply(diver.OpGt, y, diver.Int(0)))
		return err
	})

	e := diver.NewExplorer(sat.NewSolver())
	e.Bus = b
	e.Log = log
	report, err := e.Explore(context.Background(), prog, nil)
	if err != nil {
		t.Fatal(err)
	}

	// DFS negates y>0 first, then x>0, which stops exploration. The run
	// that requested the stop finishes and is reported.
	if report.Runs != 3 || report.Completed != 3 {
		t.Fatalf("unexpected report: %s", spew.Sdump(report))
	} else if !report.Stopped() || report.StopReason != diver.StopRequested {
		t.Fatalf("unexpected stop reason: %s", report.StopReason)
	} else if report.StopMessage != "found it" {
		t.Fatalf("unexpected stop message: %s", report.StopMessage)
	} else if report.StopTrigger != "x>0" {
		t.Fatalf("unexpected stop trigger: %s", report.StopTrigger)
	} else if report.Frontier.Pending != 1 {
		t.Fatalf("expected undispatched branch point: %d", report.Frontier.Pending)
	}

	if final["StopController.was-stopped"] != true || final["StopController.message"] != "found it" {
		t.Fatalf("unexpected report record: %s", final)
	} else if final["StopController.trigger"] != "x>0" {
		t.Fatalf("unexpected report trigger: %s", final)
	} else if n := b.Subscribers(bus.TopicStop); n != 0 {
		t.Fatalf("expected stop subscription to be released: %d", n)
	}

	var banners []string
	for _, entry := range hook.AllEntries() {
		if strings.Contains(entry.Message, diver.StopBanner) {
			banners = append(banners, entry.Message)
		}
	}
	if diff := cmp.Diff([]string{
		"[explore] " + diver.StopBanner + "\nfound it\nTRIGGER: x>0",
	}, banners); diff != "" {
		t.Fatal(diff)
	}
}

func TestExplorer_Explore_Unknown(t *testing.T) {
	var mu sync.Mutex
	var calls int
	e := diver.NewExplorer(solverFunc(func(ctx context.Context, constraints []diver.Expr) (diver.Solution, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return diver.UnknownSolution("busy"), nil
	}))
	e.MaxRetries = 2

	report, err := e.Explore(context.Background(), positive, nil)
	if err != nil {
		t.Fatal(err)
	} else if report.Runs != 1 || report.StopReason != diver.StopExhausted {
		t.Fatalf("unexpected report: %s", spew.Sdump(report))
	} else if calls != 3 {
		t.Fatalf("unexpected solver calls: %d", calls)
	} else if report.Frontier.Unknown != 3 || report.Frontier.Abandoned != 1 {
		t.Fatalf("unexpected frontier stats: %#v", report.Frontier)
	}
}

func TestExplorer_Explore_Aborted(t *testing.T) {
	t.Run("Error", func(t *testing.T) {
		prog := diver.ProgramFunc(func(ctx context.Context, s *diver.State) error {
			return errors.New("driver bug")
		})
		report, err := diver.NewExplorer(sat.NewSolver()).Explore(context.Background(), prog, nil)
		if err != nil {
			t.Fatal(err)
		} else if report.Aborted != 1 || report.History[0].Reason != "driver bug" {
			t.Fatalf("unexpected report: %s", spew.Sdump(report))
		}
	})

	t.Run("Panic", func(t *testing.T) {
		prog := diver.ProgramFunc(func(ctx context.Context, s *diver.State) error {
			panic("oops")
		})
		report, err := diver.NewExplorer(sat.NewSolver()).Explore(context.Background(), prog, nil)
		if err != nil {
			t.Fatal(err)
		} else if report.Aborted != 1 || report.History[0].Reason != "diver: run: panic: oops" {
			t.Fatalf("unexpected report: %s", spew.Sdump(report))
		}
	})

	t.Run("Stopped", func(t *testing.T) {
		prog := diver.ProgramFunc(func(ctx context.Context, s *diver.State) error {
			return errors.Wrap(diver.ErrStopped, "main:1")
		})
		report, err := diver.NewExplorer(sat.NewSolver()).Explore(context.Background(), prog, nil)
		if err != nil {
			t.Fatal(err)
		} else if report.Completed != 1 {
			t.Fatalf("expected halted run to complete: %s", spew.Sdump(report))
		}
	})
}

func TestExplorer_Explore_Errors(t *testing.T) {
	if _, err := diver.NewExplorer(nil).Explore(context.Background(), positive, nil); err == nil || err.Error() != "diver: solver required" {
		t.Fatalf("unexpected error: %v", err)
	} else if _, err := diver.NewExplorer(sat.NewSolver()).Explore(context.Background(), nil, nil); err == nil || err.Error() != "diver: program required" {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestExplorer_Explore_Bus(t *testing.T) {
	b := bus.NewBroker()
	defer b.Close()

	var mu sync.Mutex
	var final bus.Record
	counts := make(map[string]int)
	for _, topic := range []string{bus.TopicRun, bus.TopicFault, bus.TopicSolve, bus.TopicFrontier, bus.TopicReport} {
		b.Subscribe(topic, func(topic string, rec bus.Record) {
			mu.Lock()
			defer mu.Unlock()
			counts[topic]++
			if topic == bus.TopicReport {
				final = rec
			}
		})
	}

	e := diver.NewExplorer(sat.NewSolver())
	e.Bus = b
	if _, err := e.Explore(context.Background(), divide, nil); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(map[string]int{
		bus.TopicRun:      2,
		bus.TopicFault:    1,
		bus.TopicSolve:    1,
		bus.TopicFrontier: 2,
		bus.TopicReport:   1,
	}, counts); diff != "" {
		t.Fatal(diff)
	}

	// Without a stop request the stop fields are reported as unknown.
	if final["StopController.was-stopped"] != false || final["StopController.message"] != "" || final["StopController.trigger"] != "?" {
		t.Fatalf("unexpected report record: %s", final)
	}
}

func TestExplorer_Execute(t *testing.T) {
	t.Run("RandomPolicy", func(t *testing.T) {
		e := diver.NewExplorer(nil)
		e.DefaultPolicy = diver.DefaultRandom
		e.Seed = 7

		a, err := e.Execute(context.Background(), independent("x", "y"), nil)
		if err != nil {
			t.Fatal(err)
		}
		b, err := e.Execute(context.Background(), independent("x", "y"), diver.Input{"y": diver.Int(4)})
		if err != nil {
			t.Fatal(err)
		}

		if !a.Input["x"].Equal(b.Input["x"]) {
			t.Fatalf("expected random defaults to be reproducible: %s != %s", a.Input, b.Input)
		} else if b.Input["y"].Int() != 4 {
			t.Fatalf("expected bound input to be kept: %s", b.Input)
		}
	})

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		prog := diver.ProgramFunc(func(ctx context.Context, s *diver.State) error { return ctx.Err() })
		if _, err := diver.NewExplorer(nil).Execute(ctx, prog, nil); err != context.Canceled {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestExplorer_Derive(t *testing.T) {
	run := &diver.Run{
		ID:    "1",
		Input: diver.Input{"x": diver.Int(0), "y": diver.Int(9)},
		Path: []diver.Branch{{
			Pos:   "x>0",
			Cond:  diver.NewBinaryExpr(diver.SGT, diver.NewVarExpr("x", diver.KindInt), i32(0)),
			Taken: false,
		}},
	}
	bp := &diver.BranchPoint{Run: run, Index: 0}

	t.Run("Sat", func(t *testing.T) {
		e := diver.NewExplorer(sat.NewSolver())
		sol, input := e.Derive(context.Background(), bp)
		if sol.Status != diver.Sat {
			t.Fatalf("unexpected status: %s: %s", sol.Status, sol.Reason)
		} else if input["x"].Int() <= 0 {
			t.Fatalf("unexpected input: %s", input)
		} else if _, ok := input["y"]; ok {
			t.Fatalf("unexpected binding for y: %s", input)
		}
	})

	t.Run("SeedPolicy", func(t *testing.T) {
		e := diver.NewExplorer(sat.NewSolver())
		e.DefaultPolicy = diver.DefaultSeed
		if _, input := e.Derive(context.Background(), bp); input["y"].Int() != 9 {
			t.Fatalf("expected parent input to be kept: %s", input)
		}
	})

	t.Run("WrongModel", func(t *testing.T) {
		e := diver.NewExplorer(solverFunc(func(ctx context.Context, constraints []diver.Expr) (diver.Solution, error) {
			return diver.Solution{Status: diver.Sat, Bindings: diver.Input{"x": diver.Int(-1)}}, nil
		}))
		sol, input := e.Derive(context.Background(), bp)
		if sol.Status != diver.Unknown || input != nil {
			t.Fatalf("expected unverified model to be rejected: %s", sol.Status)
		} else if sol.Reason != "model does not satisfy (slt (const 0 32) (var x int))" {
			t.Fatalf("unexpected reason: %s", sol.Reason)
		}
	})

	t.Run("MissingBinding", func(t *testing.T) {
		e := diver.NewExplorer(solverFunc(func(ctx context.Context, constraints []diver.Expr) (diver.Solution, error) {
			return diver.Solution{Status: diver.Sat}, nil
		}))
		if sol, _ := e.Derive(context.Background(), bp); sol.Reason != "model verification: variable not bound: x" {
			t.Fatalf("unexpected reason: %s", sol.Reason)
		}
	})

	t.Run("Error", func(t *testing.T) {
		e := diver.NewExplorer(solverFunc(func(ctx context.Context, constraints []diver.Expr) (diver.Solution, error) {
			return diver.Solution{}, errors.New("solver crashed")
		}))
		if sol, _ := e.Derive(context.Background(), bp); sol.Status != diver.Unknown || sol.Reason != "solver crashed" {
			t.Fatalf("unexpected solution: %s: %s", sol.Status, sol.Reason)
		}
	})

	t.Run("Timeout", func(t *testing.T) {
		e := diver.NewExplorer(solverFunc(func(ctx context.Context, constraints []diver.Expr) (diver.Solution, error) {
			<-ctx.Done()
			return diver.UnknownSolution("%s", diver.ErrSolverTimeout), nil
		}))
		e.SolverTimeout = 10 * time.Millisecond
		if sol, _ := e.Derive(context.Background(), bp); sol.Status != diver.Unknown {
			t.Fatalf("unexpected status: %s", sol.Status)
		}
	})
}
