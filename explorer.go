package diver

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/deepsea/diver/bus"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// StopBanner is logged once when a stop request is received.
const StopBanner = "PROGRAM TERMINATION POINT REACHED"

// Program executes the program under test once. It declares inputs through
// State.Input and records every conditional through State.RecordBranch.
//
// A nil error ends the run normally. A program fault (see IsFault) ends it
// as faulted. Any other error aborts the run.
type Program interface {
	Run(ctx context.Context, s *State) error
}

// ProgramFunc adapts a function to the Program interface.
type ProgramFunc func(ctx context.Context, s *State) error

// Run calls fn.
func (fn ProgramFunc) Run(ctx context.Context, s *State) error { return fn(ctx, s) }

// Broker is the reporting bus used by the explorer.
type Broker interface {
	Publish(topic string, rec bus.Record)
	Subscribe(topic string, fn bus.Handler) *bus.Subscription
}

// DefaultPolicy determines the concrete value of an input that a derived
// input vector does not bind.
type DefaultPolicy string

const (
	DefaultZero   = DefaultPolicy("zero")   // zero of the input's kind
	DefaultSeed   = DefaultPolicy("seed")   // value from the run that produced the branch point
	DefaultRandom = DefaultPolicy("random") // pseudo-random, derived from Seed and the input name
)

// ParseDefaultPolicy returns the policy with the given name.
func ParseDefaultPolicy(s string) (DefaultPolicy, error) {
	switch p := DefaultPolicy(s); p {
	case DefaultZero, DefaultSeed, DefaultRandom:
		return p, nil
	case "":
		return DefaultZero, nil
	default:
		return "", fmt.Errorf("diver: unknown default policy: %q", s)
	}
}

// Stop reasons reported by Explore.
const (
	StopExhausted = "exhausted" // frontier is empty
	StopMaxRuns   = "max-runs"
	StopMaxTime   = "max-time"
	StopRequested = "stopped" // stop record received on the bus
	StopCanceled  = "canceled"
)

// Explorer repeatedly executes a program, negating recorded branches to
// derive new inputs until the frontier is exhausted or a budget runs out.
type Explorer struct {
	// Used for deriving inputs. Must set before exploring.
	Solver Solver

	// Order in which branch points are negated. Defaults to depth-first.
	Strategy Strategy

	// Optional reporting bus.
	Bus Broker

	Log logrus.FieldLogger

	Workers       int           // concurrent solve+run workers
	MaxRuns       int           // zero for unlimited
	MaxTime       time.Duration // zero for unlimited
	SolverTimeout time.Duration // per solver call, zero for unlimited
	MaxRetries    int           // retries for branch points answered unknown

	DefaultPolicy DefaultPolicy
	Seed          int64
}

// NewExplorer returns a new instance of Explorer with default settings.
func NewExplorer(solver Solver) *Explorer {
	log := logrus.New()
	log.Out = io.Discard
	return &Explorer{
		Solver:        solver,
		Strategy:      NewDFSStrategy(),
		Log:           log,
		Workers:       1,
		SolverTimeout: 5 * time.Second,
		MaxRetries:    1,
		DefaultPolicy: DefaultZero,
	}
}

// Report summarizes an exploration.
type Report struct {
	Runs        int           `yaml:"runs"`
	Completed   int           `yaml:"completed"`
	Faulted     int           `yaml:"faulted"`
	Aborted     int           `yaml:"aborted"`
	Divergences int           `yaml:"divergences"` // runs that missed the negated branch
	Faults      []FaultReport `yaml:"faults,omitempty"`
	Frontier    FrontierStats `yaml:"frontier"`
	StopReason  string        `yaml:"stop_reason"`
	StopMessage string        `yaml:"stop_message,omitempty"`
	StopTrigger string        `yaml:"stop_trigger,omitempty"` // where the stop was requested
	Elapsed     time.Duration `yaml:"elapsed"`

	// Every finished run, in finishing order.
	History []*Run `yaml:"-"`
}

// Stopped returns true if exploration ended on a stop request.
func (r *Report) Stopped() bool { return r.StopReason == StopRequested }

// Inputs returns the input vectors of every run, in finishing order.
func (r *Report) Inputs() []Input {
	a := make([]Input, len(r.History))
	for i, run := range r.History {
		a[i] = run.Input
	}
	return a
}

// FaultReport describes a program fault found by a run.
type FaultReport struct {
	Run     string            `yaml:"run"`
	Input   map[string]string `yaml:"input"`
	Pos     string            `yaml:"pos,omitempty"` // last branch before the fault
	Message string            `yaml:"message"`
}

// Execute runs prog once with input and returns the finished run. Inputs
// the program declares that input does not bind are given values according
// to the default policy. Returns ctx.Err() if the run was canceled.
func (e *Explorer) Execute(ctx context.Context, prog Program, input Input) (*Run, error) {
	return e.execute(ctx, prog, input, nil)
}

func (e *Explorer) execute(ctx context.Context, prog Program, input Input, parent *BranchPoint) (*Run, error) {
	id := uuid.New().String()
	log := e.logger().WithField("run", id)
	log.Debugf("[run] begin: %s", input)

	s := NewState(id, input, e.defaults())
	err := runProgram(ctx, prog, s)
	if err != nil && ctx.Err() != nil && errors.Cause(err) == ctx.Err() {
		log.Debug("[run] canceled")
		return nil, ctx.Err()
	}

	switch {
	case err == nil, errors.Cause(err) == ErrStopped:
		s.Finish(StatusCompleted, "")
	case IsFault(err):
		s.Finish(StatusFaulted, err.Error())
	default:
		s.Finish(StatusAborted, err.Error())
		log.WithError(err).Warnf("[run] aborted:\n%s", s.Dump())
	}

	run := &Run{
		ID:     id,
		Input:  s.Inputs(),
		Path:   s.Path(),
		Status: s.Status(),
		Reason: s.Reason(),
		Err:    err,
	}
	if parent != nil {
		run.Parent = parent.Run.ID
	}
	log.WithFields(logrus.Fields{"status": run.Status, "branches": len(run.Path)}).Debugf("[run] end: %s", run.Input)
	return run, nil
}

// runProgram executes prog, converting a panic into an aborted run.
func runProgram(ctx context.Context, prog Program, s *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &StructuralError{Op: "run", Message: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return prog.Run(ctx, s)
}

// defaults returns the fallback for inputs a run is not given.
func (e *Explorer) defaults() DefaultFunc {
	if e.DefaultPolicy != DefaultRandom {
		return nil
	}
	seed := e.Seed
	return func(name string, kind Kind) Value {
		r := rand.New(rand.NewSource(seed ^ int64(xxhash.Sum64String(name))))
		return NewValue(kind, r.Uint64())
	}
}

// Derive solves the path prefix of bp with its branch negated and returns
// the input vector for the next run. The input is only returned if it is
// verified to satisfy every constraint; otherwise the solution is
// downgraded to Unknown.
func (e *Explorer) Derive(ctx context.Context, bp *BranchPoint) (Solution, Input) {
	constraints := bp.Constraints()

	if e.SolverTimeout > 0 {
		var cancel func()
		ctx, cancel = context.WithTimeout(ctx, e.SolverTimeout)
		defer cancel()
	}

	t := time.Now()
	sol, err := e.Solver.Solve(ctx, constraints)
	if err != nil {
		sol = UnknownSolution("%s", err)
	}
	e.publish(bus.TopicSolve, bus.Record{
		"branch":   bp.String(),
		"status":   sol.Status.String(),
		"reason":   sol.Reason,
		"duration": time.Since(t),
	})
	if sol.Status != Sat {
		return sol, nil
	}

	input := sol.Bindings
	if e.DefaultPolicy == DefaultSeed {
		input = bp.Run.Input.Merge(sol.Bindings)
	}

	ee := NewExprEvaluator(input)
	for _, c := range constraints {
		if ok, err := ee.EvaluateBool(c); err != nil {
			return UnknownSolution("model verification: %s", err), nil
		} else if !ok {
			return UnknownSolution("model does not satisfy %s", c), nil
		}
	}
	return sol, input
}

// Explore executes prog with seed, then keeps negating branch points from
// the frontier until it is exhausted, MaxRuns or MaxTime is reached, a stop
// record is published on the bus, or ctx is canceled. Runs in flight when
// exploration stops are allowed to finish and are included in the report.
func (e *Explorer) Explore(ctx context.Context, prog Program, seed Input) (*Report, error) {
	if e.Solver == nil {
		return nil, errors.New("diver: solver required")
	} else if prog == nil {
		return nil, errors.New("diver: program required")
	}

	x := &exploration{
		Explorer: e,
		frontier: NewFrontier(e.Strategy, e.MaxRetries),
		report:   &Report{},
	}
	if e.MaxTime > 0 {
		x.budget, x.cancel = context.WithTimeout(ctx, e.MaxTime)
	} else {
		x.budget, x.cancel = context.WithCancel(ctx)
	}
	defer x.cancel()

	if e.Bus != nil {
		sub := e.Bus.Subscribe(bus.TopicStop, x.onStop)
		defer sub.Unsubscribe()
	}

	start := time.Now()
	e.logger().Infof("[explore] begin: workers=%d", x.workers())

	if run, err := e.execute(ctx, prog, seed, nil); err == nil {
		x.record(run, nil)
	}
	if err := x.loop(ctx, prog); err != nil {
		return nil, err
	}

	report := x.report
	report.Frontier = x.frontier.Stats()
	report.Elapsed = time.Since(start)
	switch {
	case ctx.Err() != nil:
		report.StopReason = StopCanceled
	case x.isStopped():
		report.StopReason = StopRequested
	case x.budget.Err() != nil:
		report.StopReason = StopMaxTime
	case x.frontier.Len() == 0:
		report.StopReason = StopExhausted
	default:
		report.StopReason = StopMaxRuns
	}
	report.StopMessage, report.StopTrigger = x.stopCause()

	e.logger().WithFields(logrus.Fields{
		"runs":    report.Runs,
		"faulted": report.Faulted,
		"reason":  report.StopReason,
	}).Infof("[explore] end: %s", report.Elapsed)

	e.publish(bus.TopicReport, bus.Record{
		"runs":      report.Runs,
		"completed": report.Completed,
		"faulted":   report.Faulted,
		"aborted":   report.Aborted,
		"reason":    report.StopReason,
		"elapsed":   report.Elapsed,

		"StopController.was-stopped": report.Stopped(),
		"StopController.message":     report.StopMessage,
		"StopController.trigger":     orUnknown(report.StopTrigger),
	})
	return report, nil
}

func (e *Explorer) logger() logrus.FieldLogger {
	if e.Log == nil {
		return logrus.StandardLogger()
	}
	return e.Log
}

func (e *Explorer) publish(topic string, rec bus.Record) {
	if e.Bus != nil {
		e.Bus.Publish(topic, rec)
	}
}

// exploration holds the mutable state of a single call to Explore.
type exploration struct {
	*Explorer

	frontier *Frontier
	report   *Report

	// Canceled on MaxTime or on a stop request. Runs use the caller's
	// context so that a stop lets in-flight runs finish.
	budget context.Context
	cancel func()

	mu      sync.Mutex
	stopped bool
	message string
	trigger string
}

// outcome is the result of solving and running one branch point.
type outcome struct {
	bp     *BranchPoint
	status Satisfiability
	run    *Run
}

func (x *exploration) workers() int {
	if x.Workers < 1 {
		return 1
	}
	return x.Workers
}

// loop dispatches branch points to a pool of workers and folds their
// outcomes back into the frontier. The frontier is only mutated here.
func (x *exploration) loop(ctx context.Context, prog Program) error {
	n := x.workers()
	jobs := make(chan *BranchPoint, n)
	results := make(chan *outcome)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			for bp := range jobs {
				results <- x.process(gctx, prog, bp)
			}
			return nil
		})
	}

	var inflight int
	for {
		for inflight < n && x.dispatchable(inflight) {
			bp, ok := x.frontier.Next()
			if !ok {
				break
			}
			inflight++
			jobs <- bp
		}
		if inflight == 0 {
			break
		}

		o := <-results
		inflight--
		x.frontier.Resolve(o.bp, o.status)
		if o.run != nil {
			x.record(o.run, o.bp)
		}
	}
	close(jobs)
	return g.Wait()
}

// dispatchable returns true if another branch point may be started.
func (x *exploration) dispatchable(inflight int) bool {
	if x.isStopped() || x.budget.Err() != nil {
		return false
	}
	return x.MaxRuns <= 0 || x.report.Runs+inflight < x.MaxRuns
}

func (x *exploration) process(ctx context.Context, prog Program, bp *BranchPoint) *outcome {
	sol, input := x.Derive(x.budget, bp)
	o := &outcome{bp: bp, status: sol.Status}
	if sol.Status != Sat {
		x.logger().WithField("branch", bp.String()).Debugf("[solve] %s: %s", sol.Status, sol.Reason)
		return o
	}

	run, err := x.execute(ctx, prog, input, bp)
	if err != nil {
		return o
	}
	o.run = run
	return o
}

// record adds a finished run to the report and expands the frontier with it.
func (x *exploration) record(run *Run, parent *BranchPoint) {
	report := x.report
	report.Runs++
	run.Seq = report.Runs
	report.History = append(report.History, run)

	switch run.Status {
	case StatusCompleted:
		report.Completed++
	case StatusFaulted:
		report.Faulted++
	case StatusAborted:
		report.Aborted++
	}

	n := x.frontier.Expand(run)
	if parent != nil && !x.frontier.Covered(parent.Run.Path, parent.Index, !parent.Branch().Taken) {
		report.Divergences++
		x.logger().WithField("run", run.ID).Warnf("[run] diverged from %s", parent)
	}

	x.publish(bus.TopicRun, bus.Record{
		"id":       run.ID,
		"seq":      run.Seq,
		"parent":   run.Parent,
		"status":   string(run.Status),
		"reason":   run.Reason,
		"input":    run.Input.String(),
		"branches": len(run.Path),
	})

	if run.Status == StatusFaulted {
		f := FaultReport{Run: run.ID, Input: run.Input.Strings(), Message: run.Reason}
		if len(run.Path) > 0 {
			f.Pos = run.Path[len(run.Path)-1].Pos
		}
		report.Faults = append(report.Faults, f)

		x.logger().WithField("run", run.ID).Infof("[fault] %s: %s", run.Reason, run.Input)
		x.publish(bus.TopicFault, bus.Record{
			"id":      run.ID,
			"input":   run.Input.String(),
			"pos":     f.Pos,
			"message": run.Reason,
		})
	}

	stats := x.frontier.Stats()
	x.publish(bus.TopicFrontier, bus.Record{
		"added":     n,
		"pending":   stats.Pending,
		"deferred":  stats.Deferred,
		"covered":   stats.Covered,
		"sat":       stats.Sat,
		"unsat":     stats.Unsat,
		"unknown":   stats.Unknown,
		"abandoned": stats.Abandoned,
	})
}

// onStop handles records on the stop topic. The first record stops the
// dispatch of new runs; its "message" and "trigger" fields are kept for
// the report.
func (x *exploration) onStop(topic string, rec bus.Record) {
	x.mu.Lock()
	if x.stopped {
		x.mu.Unlock()
		return
	}
	x.stopped = true
	if v, ok := rec["message"]; ok {
		x.message = fmt.Sprint(v)
	}
	if v, ok := rec["trigger"]; ok {
		x.trigger = fmt.Sprint(v)
	}
	message, trigger := x.message, x.trigger
	x.mu.Unlock()

	banner := "[explore] " + StopBanner
	if message != "" {
		banner += "\n" + message
	}
	if trigger != "" {
		banner += "\nTRIGGER: " + trigger
	}
	x.logger().Info(banner)
	x.cancel()
}

func (x *exploration) isStopped() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stopped
}

// stopCause returns the message and trigger of the stop request, if any.
func (x *exploration) stopCause() (message, trigger string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.message, x.trigger
}

// orUnknown returns s, or "?" if s is empty.
func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
