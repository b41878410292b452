package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/deepsea/diver"
	"github.com/deepsea/diver/bus"
	"github.com/deepsea/diver/config"
	"github.com/deepsea/diver/metrics"
	"github.com/deepsea/diver/models"
	"github.com/deepsea/diver/sat"
	"github.com/deepsea/diver/vm"
	"github.com/deepsea/diver/z3"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ErrFaultsFound is returned by the explore command when a run faulted.
var ErrFaultsFound = errors.New("faults found")

// ExploreCommand represents a command for exploring a program.
type ExploreCommand struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewExploreCommand returns a new instance of ExploreCommand.
func NewExploreCommand(stdout, stderr io.Writer) *ExploreCommand {
	return &ExploreCommand{Stdout: stdout, Stderr: stderr}
}

// Run executes the "explore" subcommand.
func (cmd *ExploreCommand) Run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diver-explore", flag.ContinueOnError)
	fs.SetOutput(cmd.Stderr)
	configPath := fs.String("config", "", "config file")
	verbose := fs.Bool("v", false, "verbose")
	input := make(inputFlag)
	fs.Var(input, "input", "seed input as name=kind:value, repeatable")

	// Overrides of config fields. Only flags set on the command line apply.
	strategy := fs.String("strategy", config.DefaultStrategy, "search strategy: dfs, bfs, random or a comma-separated mix")
	workers := fs.Int("workers", config.DefaultWorkers, "concurrent workers")
	maxRuns := fs.Int("max-runs", 0, "maximum number of runs, zero for unlimited")
	maxTime := fs.Duration("max-time", 0, "maximum exploration time, zero for unlimited")
	solver := fs.String("solver", config.DefaultSolver, "constraint solver: sat or z3")
	solverTimeout := fs.Duration("solver-timeout", 5*time.Second, "timeout per solver call")
	maxRetries := fs.Int("max-retries", config.DefaultMaxRetries, "retries for unknown solver answers, zero to disable")
	policy := fs.String("default-policy", config.DefaultPolicy, "value of unbound inputs: zero, seed or random")
	seed := fs.Int64("seed", 0, "seed for random strategies and defaults")
	metricsAddr := fs.String("metrics-addr", "", "serve Prometheus metrics on this address")

	fs.Usage = cmd.usage
	if err := fs.Parse(args); err != nil {
		return err
	} else if fs.NArg() == 0 {
		return fmt.Errorf("program required")
	} else if fs.NArg() > 1 {
		return fmt.Errorf("too many programs specified")
	}

	c := config.Default()
	if *configPath != "" {
		var err error
		if c, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "strategy":
			c.Strategy = *strategy
		case "workers":
			c.Workers = *workers
		case "max-runs":
			c.MaxRuns = *maxRuns
		case "max-time":
			c.MaxTime = maxTime.String()
		case "solver":
			c.Solver = *solver
		case "solver-timeout":
			c.SolverTimeout = solverTimeout.String()
		case "max-retries":
			c.MaxRetries = config.Int(*maxRetries)
		case "default-policy":
			c.DefaultPolicy = *policy
		case "seed":
			c.Seed = *seed
		case "metrics-addr":
			c.MetricsAddr = *metricsAddr
		}
	})
	if *verbose {
		c.LogLevel = "debug"
	}
	if err := c.Validate(); err != nil {
		return err
	}
	log := c.Logger(cmd.Stderr)

	prog, err := cmd.parseProgram(fs.Arg(0))
	if err != nil {
		return err
	}

	b := bus.NewBroker()
	b.Log = log
	defer b.Close()

	prog.Models = diver.NewModels()
	models.Register(prog.Models)
	prog.Bus = b

	s, closeSolver, err := openSolver(c.Solver)
	if err != nil {
		return err
	}
	defer closeSolver()

	if c.MetricsAddr != "" {
		shutdown := serveMetrics(c.MetricsAddr, b, log)
		defer shutdown()
	}

	e := diver.NewExplorer(s)
	if err := config.Apply(c, e); err != nil {
		return err
	}
	e.Bus = b
	e.Log = log

	// Interrupts request a stop so in-flight runs finish and are reported.
	sig, done := make(chan os.Signal, 1), make(chan struct{})
	signal.Notify(sig, os.Interrupt)
	defer func() {
		signal.Stop(sig)
		close(done)
	}()
	go func() {
		select {
		case <-sig:
			b.Publish(bus.TopicStop, bus.Record{"message": "interrupted"})
		case <-done:
		}
	}()

	report, err := e.Explore(ctx, prog, diver.Input(input))
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(cmd.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(report); err != nil {
		return err
	} else if err := enc.Close(); err != nil {
		return err
	}

	if report.Faulted > 0 {
		return ErrFaultsFound
	}
	return nil
}

func (cmd *ExploreCommand) parseProgram(path string) (*vm.Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	prog, err := vm.Parse(f)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return prog, nil
}

// openSolver returns the named solver and a function releasing it.
func openSolver(name string) (diver.Solver, func() error, error) {
	switch name {
	case "z3":
		if !z3.Available {
			return nil, nil, fmt.Errorf("z3 support not compiled in, rebuild with -tags z3")
		}
		s := z3.NewSolver()
		return s, s.Close, nil
	default:
		return sat.NewSolver(), func() error { return nil }, nil
	}
}

// serveMetrics serves the exploration metrics over HTTP until the returned
// function is called.
func serveMetrics(addr string, b *bus.Broker, log logrus.FieldLogger) func() {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.Subscribe(b)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("[metrics] serve")
		}
	}()
	log.Infof("[metrics] listening on %s", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithError(err).Debug("[metrics] shutdown")
		}
		m.Close()
	}
}

func (cmd *ExploreCommand) usage() {
	fmt.Fprintln(cmd.Stderr, `
usage: diver explore [arguments] PROGRAM

Explores the paths of an assembled program, negating one branch at a time,
and prints a YAML report of the runs and the faults they found. Exits with
status 2 if any run faulted.

Arguments:

	-config PATH
	    YAML config file. Flags override its settings.
	-input NAME=KIND:VALUE
	    Seed input. May be repeated.
	-strategy NAME
	    Search strategy: dfs, bfs, random or a comma-separated mix.
	-workers N
	    Number of concurrent solve and run workers.
	-max-runs N
	    Stop after N runs.
	-max-time DURATION
	    Stop after DURATION.
	-solver NAME
	    Constraint solver: sat or z3.
	-solver-timeout DURATION
	    Timeout per solver call.
	-max-retries N
	    Retries for branch points the solver could not decide.
	-default-policy NAME
	    Value of inputs a derived input leaves unbound: zero, seed or random.
	-seed N
	    Seed for the random strategy and the random default policy.
	-metrics-addr ADDR
	    Serve Prometheus metrics at ADDR/metrics.
	-v
	    Enable debug logging.
`[1:])
}

// inputFlag collects seed inputs given as name=kind:value.
type inputFlag diver.Input

func (f inputFlag) String() string {
	return diver.Input(f).String()
}

func (f inputFlag) Set(s string) error {
	name, rest, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=kind:value: %q", s)
	}
	kindName, text, ok := strings.Cut(rest, ":")
	if !ok {
		return fmt.Errorf("expected name=kind:value: %q", s)
	}

	kind, err := diver.ParseKind(kindName)
	if err != nil {
		return err
	}
	v, err := diver.ParseValue(kind, text)
	if err != nil {
		return err
	}
	f[name] = v
	return nil
}
