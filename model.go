package diver

import (
	"fmt"
	"sort"
	"sync"
)

// Model stands in for an operation the run driver cannot execute natively,
// such as a library routine.
type Model interface {
	Invoke(s *State, args []Value) ModelResult
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(s *State, args []Value) ModelResult

// Invoke calls fn.
func (fn ModelFunc) Invoke(s *State, args []Value) ModelResult { return fn(s, args) }

// ResultStatus is the outcome of a model invocation.
type ResultStatus int

const (
	ResultOK = ResultStatus(iota)
	ResultUnsupported
	ResultFaulted
)

// String returns the string representation of the status.
func (s ResultStatus) String() string {
	switch s {
	case ResultOK:
		return "ok"
	case ResultUnsupported:
		return "unsupported"
	case ResultFaulted:
		return "faulted"
	default:
		return fmt.Sprintf("ResultStatus<%d>", int(s))
	}
}

// ModelResult is returned by every model invocation. Value is only set on
// ResultOK and may be the zero Value for models that return nothing.
type ModelResult struct {
	Status ResultStatus
	Value  Value
	Reason string
}

// OK returns a successful result carrying v.
func OK(v Value) ModelResult { return ModelResult{Status: ResultOK, Value: v} }

// Void returns a successful result without a value.
func Void() ModelResult { return ModelResult{Status: ResultOK} }

// Unsupported returns a result signalling that the operation cannot be modelled.
func Unsupported(format string, args ...interface{}) ModelResult {
	return ModelResult{Status: ResultUnsupported, Reason: fmt.Sprintf(format, args...)}
}

// Faulted returns a result signalling a program fault inside the model.
func Faulted(format string, args ...interface{}) ModelResult {
	return ModelResult{Status: ResultFaulted, Reason: fmt.Sprintf(format, args...)}
}

// Err returns nil for ResultOK. Otherwise it returns the *Fault that ends the run.
func (r ModelResult) Err() error {
	switch r.Status {
	case ResultOK:
		return nil
	case ResultUnsupported:
		return &Fault{Unsupported: true, Message: r.Reason}
	default:
		return &Fault{Message: r.Reason}
	}
}

// Models is a registry of models keyed by qualified name.
type Models struct {
	mu sync.RWMutex
	m  map[string]Model
}

// NewModels returns a new, empty registry.
func NewModels() *Models {
	return &Models{m: make(map[string]Model)}
}

// Register registers a model for the given owner and name. Every invocation
// of "owner.name" will be delegated to the model.
func (r *Models) Register(owner, name string, m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[owner+"."+name] = m
}

// Lookup returns the model registered under a qualified name.
func (r *Models) Lookup(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.m[name]
	return m, ok
}

// Names returns the qualified names of all registered models.
func (r *Models) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a := make([]string, 0, len(r.m))
	for name := range r.m {
		a = append(a, name)
	}
	sort.Strings(a)
	return a
}

// Invoke calls the model registered under name. A missing model yields an
// unsupported result.
func (r *Models) Invoke(s *State, name string, args []Value) ModelResult {
	m, ok := r.Lookup(name)
	if !ok {
		return Unsupported("%s is not modelled", name)
	}
	return m.Invoke(s, args)
}
