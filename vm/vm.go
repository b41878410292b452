// Package vm implements a small stack machine that drives concolic runs.
// Programs are written in a line-oriented assembly (see Parse) and executed
// against a diver.State, so that every operand flows through the value
// factory and every conditional jump is recorded on the path condition.
package vm

import (
	"context"
	"fmt"

	"github.com/deepsea/diver"
	"github.com/deepsea/diver/bus"
	"github.com/pkg/errors"
)

// DefaultMaxSteps is the default instruction budget of a single run.
const DefaultMaxSteps = 1 << 20

// ErrStepLimit is returned when a run exceeds its instruction budget.
var ErrStepLimit = errors.New("vm: step limit exceeded")

// Opcode identifies a machine instruction.
type Opcode int

const (
	OpNop = Opcode(iota)
	OpConst
	OpInput
	OpLoad
	OpStore
	OpDup
	OpPop
	OpSwap
	OpApply // any diver.Op, by mnemonic
	OpJump
	OpJumpIf
	OpCall
	OpReturn
	OpInvoke
	OpFault
	OpHalt
)

var opcodes = [...]string{
	OpNop:    "nop",
	OpConst:  "const",
	OpInput:  "input",
	OpLoad:   "load",
	OpStore:  "store",
	OpDup:    "dup",
	OpPop:    "pop",
	OpSwap:   "swap",
	OpApply:  "apply",
	OpJump:   "jump",
	OpJumpIf: "jumpif",
	OpCall:   "call",
	OpReturn: "return",
	OpInvoke: "invoke",
	OpFault:  "fault",
	OpHalt:   "halt",
}

// String returns the mnemonic of the opcode.
func (op Opcode) String() string {
	if op >= 0 && op < Opcode(len(opcodes)) {
		return opcodes[op]
	}
	return fmt.Sprintf("Opcode<%d>", int(op))
}

// Instr is a single decoded instruction.
type Instr struct {
	Opcode Opcode
	Line   int         // source line
	Name   string      // input, label, function, model or message
	Kind   diver.Kind  // OpInput
	Value  diver.Value // OpConst
	N      int         // slot for OpLoad/OpStore, argument count for OpInvoke
	Op     diver.Op    // OpApply
	Target int         // resolved jump target
}

// String returns the assembly form of the instruction.
func (instr *Instr) String() string {
	switch instr.Opcode {
	case OpConst:
		return fmt.Sprintf("const %s %s", instr.Value.Kind(), instr.Value.Format())
	case OpInput:
		return fmt.Sprintf("input %s %s", instr.Name, instr.Kind)
	case OpLoad, OpStore:
		return fmt.Sprintf("%s %d", instr.Opcode, instr.N)
	case OpApply:
		return instr.Op.String()
	case OpJump, OpJumpIf, OpCall, OpFault, OpHalt:
		return fmt.Sprintf("%s %s", instr.Opcode, instr.Name)
	case OpInvoke:
		return fmt.Sprintf("invoke %s %d", instr.Name, instr.N)
	default:
		return instr.Opcode.String()
	}
}

// Func is an assembled function.
type Func struct {
	Name   string
	Params int
	Locals int
	Instrs []*Instr
	Labels map[string]int
}

// Publisher is the part of the reporting bus used by the halt instruction.
type Publisher interface {
	Publish(topic string, rec bus.Record)
}

var _ diver.Program = (*Program)(nil)

// Program is an assembled program. It implements diver.Program.
type Program struct {
	Funcs map[string]*Func
	Entry string

	// Registry used by the invoke instruction.
	Models *diver.Models

	// Receives a stop record when a halt instruction executes. Optional.
	Bus Publisher

	// Instruction budget per run. Zero uses DefaultMaxSteps.
	MaxSteps int
}

// activation is the return address of an active call.
type activation struct {
	fn *Func
	pc int
}

// machine holds the control state of one run.
type machine struct {
	prog  *Program
	state *diver.State
	calls []*activation
}

// Run executes the program from its entry function.
func (p *Program) Run(ctx context.Context, s *diver.State) error {
	entry, ok := p.Funcs[p.Entry]
	if !ok {
		return &diver.StructuralError{Op: "run", Message: fmt.Sprintf("entry function %q not found", p.Entry)}
	}

	maxSteps := p.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	m := &machine{prog: p, state: s, calls: []*activation{{fn: entry}}}
	for step := 1; len(m.calls) > 0; step++ {
		if step > maxSteps {
			return ErrStepLimit
		} else if step%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		a := m.calls[len(m.calls)-1]
		if a.pc >= len(a.fn.Instrs) {
			return &diver.StructuralError{Op: "run", Message: "missing return in " + a.fn.Name}
		}
		pc, instr := a.pc, a.fn.Instrs[a.pc]
		a.pc++

		if err := m.exec(a, pc, instr); err != nil {
			return errors.Wrapf(err, "%s:%d", a.fn.Name, instr.Line)
		}
	}
	return nil
}

// pos returns the program location of an instruction.
func pos(fn *Func, pc int) string {
	return fmt.Sprintf("%s:%d", fn.Name, pc)
}

func (m *machine) exec(a *activation, pc int, instr *Instr) error {
	s := m.state
	switch instr.Opcode {
	case OpNop:
		return nil

	case OpConst:
		return s.Push(instr.Value)

	case OpInput:
		v, err := s.Input(instr.Name, instr.Kind)
		if err != nil {
			return err
		}
		return s.Push(v)

	case OpLoad:
		v, err := s.Load(instr.N)
		if err != nil {
			return err
		}
		return s.Push(v)

	case OpStore:
		v, err := s.Pop()
		if err != nil {
			return err
		}
		return s.Store(instr.N, v)

	case OpDup:
		v, err := s.Peek()
		if err != nil {
			return err
		}
		return s.Push(v)

	case OpPop:
		_, err := s.Pop()
		return err

	case OpSwap:
		args, err := s.PopN(2)
		if err != nil {
			return err
		}
		if err := s.Push(args[1]); err != nil {
			return err
		}
		return s.Push(args[0])

	case OpApply:
		return m.apply(a, pc, instr)

	case OpJump:
		a.pc = instr.Target
		return nil

	case OpJumpIf:
		cond, err := s.Pop()
		if err != nil {
			return err
		}
		taken, err := s.RecordBranch(pos(a.fn, pc), cond)
		if err != nil {
			return err
		} else if taken {
			a.pc = instr.Target
		}
		return nil

	case OpCall:
		return m.call(instr)

	case OpReturn:
		return m.ret()

	case OpInvoke:
		args, err := s.PopN(instr.N)
		if err != nil {
			return err
		}
		models := m.prog.Models
		if models == nil {
			models = diver.NewModels()
		}
		result := models.Invoke(s, instr.Name, args)
		if err := result.Err(); err != nil {
			return err
		} else if result.Value.IsValid() {
			return s.Push(result.Value)
		}
		return nil

	case OpFault:
		return &diver.Fault{Message: instr.Name}

	case OpHalt:
		if m.prog.Bus != nil {
			m.prog.Bus.Publish(bus.TopicStop, bus.Record{
				"message": instr.Name,
				"trigger": pos(a.fn, pc),
				"run":     s.ID(),
			})
		}
		m.calls = nil
		return diver.ErrStopped

	default:
		return &diver.StructuralError{Op: "exec", Message: "invalid opcode: " + instr.Opcode.String()}
	}
}

// apply pops the operands of a value-factory operation and pushes its
// result. Integer division records an implicit branch on the divisor
// being nonzero so that the faulting direction can be explored.
func (m *machine) apply(a *activation, pc int, instr *Instr) error {
	s := m.state
	args, err := s.PopN(instr.Op.Arity())
	if err != nil {
		return err
	}

	if (instr.Op == diver.OpDiv || instr.Op == diver.OpRem) && args[1].Kind().IsIntegral() {
		nonzero, err := diver.Apply(diver.OpNe, args[1], diver.Zero(args[1].Kind()))
		if err != nil {
			return err
		} else if _, err := s.RecordBranch(pos(a.fn, pc)+"/div", nonzero); err != nil {
			return err
		}
	}

	v, err := diver.Apply(instr.Op, args...)
	if err != nil {
		return err
	}
	return s.Push(v)
}

// call pops the callee's parameters and enters a new frame with the
// parameters stored in the first local slots.
func (m *machine) call(instr *Instr) error {
	s := m.state
	fn := m.prog.Funcs[instr.Name]
	args, err := s.PopN(fn.Params)
	if err != nil {
		return err
	}

	locals := fn.Locals
	if locals < fn.Params {
		locals = fn.Params
	}
	if err := s.Enter(fn.Name, locals); err != nil {
		return err
	}
	for i, arg := range args {
		if err := s.Store(i, arg); err != nil {
			return err
		}
	}
	m.calls = append(m.calls, &activation{fn: fn})
	return nil
}

// ret returns from the current function, passing the top of its operand
// stack, if any, to the caller. Returning from the entry function ends
// the run and leaves its operand stack intact.
func (m *machine) ret() error {
	m.calls = m.calls[:len(m.calls)-1]
	if len(m.calls) == 0 {
		return nil
	}

	s := m.state
	var result diver.Value
	if s.Frame().StackLen() > 0 {
		v, err := s.Pop()
		if err != nil {
			return err
		}
		result = v
	}
	if err := s.Leave(); err != nil {
		return err
	} else if result.IsValid() {
		return s.Push(result)
	}
	return nil
}
