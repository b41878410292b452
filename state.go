package diver

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// Status represents the current status of a run.
// The state will also include a reason if the status is not running.
type Status string

const (
	StatusRunning   = Status("running")   // still executing
	StatusCompleted = Status("completed") // clean completion
	StatusFaulted   = Status("faulted")   // program fault, path is valid
	StatusAborted   = Status("aborted")   // driver error, path kept up to the error
)

// Branch is one recorded conditional decision.
type Branch struct {
	Pos   string // program location
	Cond  Expr   // boolean branch condition
	Taken bool   // concrete outcome of Cond
}

// Concrete returns true if the condition does not depend on any input.
// Such branches can never be negated.
func (b Branch) Concrete() bool {
	return IsConstantExpr(b.Cond)
}

// Constraint returns the condition asserted with the polarity that was taken.
func (b Branch) Constraint() Expr {
	if b.Taken {
		return b.Cond
	}
	return NewNotExpr(b.Cond)
}

// Negated returns the condition asserted with the opposite polarity.
func (b Branch) Negated() Expr {
	if b.Taken {
		return NewNotExpr(b.Cond)
	}
	return b.Cond
}

// String returns the string representation of the branch.
func (b Branch) String() string {
	return fmt.Sprintf("%s %t %s", b.Pos, b.Taken, b.Cond)
}

// DefaultFunc supplies the concrete value of an input the run was not given.
type DefaultFunc func(name string, kind Kind) Value

// State is the symbolic state of a single run: the call frames, the
// declared inputs and the path condition.
type State struct {
	id string

	// Concrete values supplied for the run and the fallback for missing ones.
	input    Input
	defaults DefaultFunc

	// Inputs declared during the run, in concrete form.
	inputs Input

	// Call stack
	stack []*Frame

	// Path condition, in execution order.
	path *immutable.List

	frozen bool
	status Status
	reason string
}

// NewState returns a new state for a run identified by id. Inputs not bound
// by input take their value from defaults, or zero if defaults is nil.
func NewState(id string, input Input, defaults DefaultFunc) *State {
	if defaults == nil {
		defaults = func(_ string, kind Kind) Value { return Zero(kind) }
	}
	s := &State{
		id:       id,
		input:    input,
		defaults: defaults,
		inputs:   make(Input),
		path:     immutable.NewList(),
		status:   StatusRunning,
	}
	s.stack = append(s.stack, NewFrame("main", 0))
	return s
}

// ID returns the run identifier.
func (s *State) ID() string { return s.id }

// Status returns the current status of the state.
// See Reason() for additional information if status is in an error state.
func (s *State) Status() Status { return s.status }

// Reason returns additional information about the status of the state.
func (s *State) Reason() string { return s.reason }

// Frozen returns true once the run has ended.
func (s *State) Frozen() bool { return s.frozen }

// Frame returns the current stack frame.
func (s *State) Frame() *Frame {
	return s.stack[len(s.stack)-1]
}

// Depth returns the number of active frames.
func (s *State) Depth() int { return len(s.stack) }

// Enter pushes a new frame. A maxLocals of zero leaves the slots unbounded.
func (s *State) Enter(name string, maxLocals int) error {
	if s.frozen {
		return ErrStateFrozen
	}
	s.stack = append(s.stack, NewFrame(name, maxLocals))
	return nil
}

// Leave pops the current frame. Values left on its operand stack are discarded.
func (s *State) Leave() error {
	if s.frozen {
		return ErrStateFrozen
	} else if len(s.stack) == 1 {
		return &StructuralError{Op: "leave", Message: "no caller frame"}
	}
	s.stack[len(s.stack)-1] = nil
	s.stack = s.stack[:len(s.stack)-1]
	return nil
}

// Push adds v to the top of the current operand stack.
func (s *State) Push(v Value) error {
	if s.frozen {
		return ErrStateFrozen
	} else if !v.IsValid() {
		return &StructuralError{Op: "push", Message: "invalid value"}
	}
	f := s.Frame()
	f.stack = append(f.stack, v)
	return nil
}

// Pop removes and returns the top of the current operand stack.
func (s *State) Pop() (Value, error) {
	if s.frozen {
		return Value{}, ErrStateFrozen
	}
	f := s.Frame()
	if len(f.stack) == 0 {
		return Value{}, &StructuralError{Op: "pop", Message: "operand stack underflow in " + f.name}
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

// PopN pops n values and returns them in push order.
func (s *State) PopN(n int) ([]Value, error) {
	a := make([]Value, n)
	for i := n - 1; i >= 0; i-- {
		v, err := s.Pop()
		if err != nil {
			return nil, err
		}
		a[i] = v
	}
	return a, nil
}

// Peek returns the top of the current operand stack without removing it.
func (s *State) Peek() (Value, error) {
	f := s.Frame()
	if len(f.stack) == 0 {
		return Value{}, &StructuralError{Op: "peek", Message: "operand stack empty in " + f.name}
	}
	return f.stack[len(f.stack)-1], nil
}

// Load returns the value stored in a local slot of the current frame.
func (s *State) Load(slot int) (Value, error) {
	f := s.Frame()
	if slot < 0 || slot >= len(f.locals) {
		return Value{}, &StructuralError{Op: "load", Message: fmt.Sprintf("slot %d out of range in %s", slot, f.name)}
	} else if v := f.locals[slot]; v.IsValid() {
		return v, nil
	}
	return Value{}, &StructuralError{Op: "load", Message: fmt.Sprintf("slot %d unset in %s", slot, f.name)}
}

// Store sets a local slot of the current frame, extending the slots as needed.
func (s *State) Store(slot int, v Value) error {
	if s.frozen {
		return ErrStateFrozen
	}
	f := s.Frame()
	if slot < 0 || (f.max > 0 && slot >= f.max) {
		return &StructuralError{Op: "store", Message: fmt.Sprintf("slot %d out of range in %s", slot, f.name)}
	} else if !v.IsValid() {
		return &StructuralError{Op: "store", Message: "invalid value"}
	}
	if slot >= len(f.locals) {
		locals := make([]Value, slot+1)
		copy(locals, f.locals)
		f.locals = locals
	}
	f.locals[slot] = v
	return nil
}

// Input declares a symbolic input and returns its value for this run.
// Declaring the same name twice returns the same input.
func (s *State) Input(name string, kind Kind) (Value, error) {
	if s.frozen {
		return Value{}, ErrStateFrozen
	}

	concrete, ok := s.inputs[name]
	if ok && concrete.Kind() != kind {
		return Value{}, &StructuralError{Op: "input", Message: fmt.Sprintf("%s redeclared as %s, was %s", name, kind, concrete.Kind())}
	} else if !ok {
		if concrete, ok = s.input[name]; !ok || concrete.Kind() != kind {
			concrete = s.defaults(name, kind)
		}
		s.inputs[name] = concrete.Concrete()
	}
	return NewSymbolicValue(concrete, NewVarExpr(name, kind)), nil
}

// Inputs returns the concrete values of every input declared so far.
func (s *State) Inputs() Input {
	return s.inputs.Clone()
}

// RecordBranch appends a conditional decision at pos to the path condition
// and returns the concrete outcome. It must be called for every conditional,
// including those whose condition is concrete.
func (s *State) RecordBranch(pos string, cond Value) (bool, error) {
	if s.frozen {
		return false, ErrStateFrozen
	} else if cond.Kind() != KindBool {
		return false, &StructuralError{Op: "branch", Message: fmt.Sprintf("condition at %s is %s, not bool", pos, cond.Kind())}
	}
	s.path = s.path.Append(Branch{Pos: pos, Cond: cond.Term(), Taken: cond.Bool()})
	return cond.Bool(), nil
}

// Path returns the recorded branches in execution order.
func (s *State) Path() []Branch {
	a := make([]Branch, s.path.Len())
	for i := range a {
		a[i] = s.path.Get(i).(Branch)
	}
	return a
}

// PathLen returns the number of recorded branches.
func (s *State) PathLen() int { return s.path.Len() }

// Constraints returns each recorded branch condition asserted with its polarity.
func (s *State) Constraints() []Expr {
	path := s.Path()
	a := make([]Expr, 0, len(path))
	for _, b := range path {
		if !b.Concrete() {
			a = append(a, b.Constraint())
		}
	}
	return a
}

// Finish ends the run with the given status. Subsequent writes fail with ErrStateFrozen.
func (s *State) Finish(status Status, reason string) {
	if s.frozen {
		return
	}
	s.status, s.reason, s.frozen = status, reason, true
}

// Dump returns the contents of the state and frames as a string.
func (s *State) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintln(&buf, "RUN STATE")
	fmt.Fprintln(&buf, "=========")
	fmt.Fprintf(&buf, "id=%s\n", s.id)
	fmt.Fprintf(&buf, "status=%s\n", s.status)
	fmt.Fprintf(&buf, "reason=%s\n", s.reason)
	fmt.Fprintf(&buf, "inputs=%s\n", s.inputs)
	fmt.Fprintln(&buf, "")
	for i := len(s.stack) - 1; i >= 0; i-- {
		fmt.Fprintf(&buf, "== FRAME #%d\n", i)
		fmt.Fprintln(&buf, s.stack[i].Dump())
	}

	fmt.Fprintln(&buf, "== PATH")
	for i, b := range s.Path() {
		fmt.Fprintf(&buf, "%d. %s\n", i, b)
	}
	return buf.String()
}

// Frame represents the operand stack and local slots of one call.
type Frame struct {
	name   string
	max    int
	stack  []Value
	locals []Value
}

// NewFrame returns a new instance of Frame.
func NewFrame(name string, maxLocals int) *Frame {
	return &Frame{name: name, max: maxLocals}
}

// Name returns the name the frame was entered with.
func (f *Frame) Name() string { return f.name }

// StackLen returns the number of values on the operand stack.
func (f *Frame) StackLen() int { return len(f.stack) }

// Dump returns the contents of the frame as a string.
func (f *Frame) Dump() string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "fn=%s\n", f.name)
	for i, v := range f.locals {
		if v.IsValid() {
			fmt.Fprintf(&buf, "local[%d] %s\n", i, v)
		}
	}
	for i := len(f.stack) - 1; i >= 0; i-- {
		fmt.Fprintf(&buf, "stack[%d] %s\n", i, f.stack[i])
	}
	return buf.String()
}
