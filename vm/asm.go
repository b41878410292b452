package vm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/deepsea/diver"
)

// ParseError is returned for malformed assembly.
type ParseError struct {
	Line    int
	Message string
}

// Error returns the error message.
func (e *ParseError) Error() string {
	return fmt.Sprintf("vm: line %d: %s", e.Line, e.Message)
}

// ParseString parses a program from a string. See Parse.
func ParseString(s string) (*Program, error) {
	return Parse(strings.NewReader(s))
}

// Parse reads a program in assembly form:
//
//	; comment
//	func main
//	    input x int
//	    const int 0
//	    gt
//	    jumpif positive
//	    return
//	positive:
//	    fault x is positive
//	end
//
// A comment starts with a token beginning with ';' or '#' and runs to the
// end of the line, so "fault bad#1" keeps its '#'. A function header may
// declare "params=N" and "locals=N". Any value
// operation mnemonic understood by diver.ParseOp (add, lt, cmpl, i2l, ...)
// is an instruction that pops its operands and pushes the result. The
// entry function is "main", or the first function if there is none.
func Parse(r io.Reader) (*Program, error) {
	p := &parser{prog: &Program{Funcs: make(map[string]*Func)}}
	if err := p.parse(r); err != nil {
		return nil, err
	}
	return p.prog, nil
}

type parser struct {
	prog  *Program
	fn    *Func
	line  int
	calls []*Instr
	jumps []*Instr
	first string
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &ParseError{Line: p.line, Message: fmt.Sprintf(format, args...)}
}

func (p *parser) parse(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		p.line++

		fields := stripComment(strings.Fields(scanner.Text()))
		if len(fields) == 0 {
			continue
		}
		if err := p.parseLine(fields); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if p.fn != nil {
		return p.errorf("missing end for func %s", p.fn.Name)
	} else if len(p.prog.Funcs) == 0 {
		return p.errorf("no functions")
	}

	for _, instr := range p.calls {
		if _, ok := p.prog.Funcs[instr.Name]; !ok {
			return &ParseError{Line: instr.Line, Message: "undefined function: " + instr.Name}
		}
	}

	p.prog.Entry = "main"
	if _, ok := p.prog.Funcs["main"]; !ok {
		p.prog.Entry = p.first
	}
	return nil
}

// stripComment drops the first field starting with ';' or '#' and every
// field after it.
func stripComment(fields []string) []string {
	for i, f := range fields {
		if strings.HasPrefix(f, ";") || strings.HasPrefix(f, "#") {
			return fields[:i]
		}
	}
	return fields
}

func (p *parser) parseLine(fields []string) error {
	switch {
	case fields[0] == "func":
		return p.parseFunc(fields)
	case fields[0] == "end":
		return p.parseEnd()
	case p.fn == nil:
		return p.errorf("instruction outside of func: %s", fields[0])
	case strings.HasSuffix(fields[0], ":") && len(fields) == 1:
		label := strings.TrimSuffix(fields[0], ":")
		if _, ok := p.fn.Labels[label]; ok {
			return p.errorf("duplicate label: %s", label)
		}
		p.fn.Labels[label] = len(p.fn.Instrs)
		return nil
	}

	instr, err := p.parseInstr(fields)
	if err != nil {
		return err
	}
	instr.Line = p.line
	p.fn.Instrs = append(p.fn.Instrs, instr)
	return nil
}

func (p *parser) parseFunc(fields []string) error {
	if p.fn != nil {
		return p.errorf("nested func")
	} else if len(fields) < 2 {
		return p.errorf("func name required")
	}

	fn := &Func{Name: fields[1], Labels: make(map[string]int)}
	if _, ok := p.prog.Funcs[fn.Name]; ok {
		return p.errorf("duplicate func: %s", fn.Name)
	}
	for _, attr := range fields[2:] {
		key, value, ok := strings.Cut(attr, "=")
		n, err := strconv.Atoi(value)
		if !ok || err != nil || n < 0 {
			return p.errorf("invalid func attribute: %s", attr)
		}
		switch key {
		case "params":
			fn.Params = n
		case "locals":
			fn.Locals = n
		default:
			return p.errorf("unknown func attribute: %s", key)
		}
	}

	if p.first == "" {
		p.first = fn.Name
	}
	p.fn = fn
	p.jumps = nil
	return nil
}

// parseEnd closes the current function and resolves its jump targets.
func (p *parser) parseEnd() error {
	if p.fn == nil {
		return p.errorf("end outside of func")
	}
	for _, instr := range p.jumps {
		target, ok := p.fn.Labels[instr.Name]
		if !ok {
			return &ParseError{Line: instr.Line, Message: "undefined label: " + instr.Name}
		}
		instr.Target = target
	}
	p.prog.Funcs[p.fn.Name] = p.fn
	p.fn = nil
	return nil
}

func (p *parser) parseInstr(fields []string) (*Instr, error) {
	name, args := fields[0], fields[1:]
	nargs := func(n int) error {
		if len(args) != n {
			return p.errorf("%s: expected %d arguments, got %d", name, n, len(args))
		}
		return nil
	}

	switch name {
	case "nop", "dup", "pop", "swap", "return":
		if err := nargs(0); err != nil {
			return nil, err
		}
		return &Instr{Opcode: map[string]Opcode{
			"nop": OpNop, "dup": OpDup, "pop": OpPop, "swap": OpSwap, "return": OpReturn,
		}[name]}, nil

	case "const":
		if err := nargs(2); err != nil {
			return nil, err
		}
		kind, err := diver.ParseKind(args[0])
		if err != nil {
			return nil, p.errorf("const: %s", err)
		}
		v, err := diver.ParseValue(kind, args[1])
		if err != nil {
			return nil, p.errorf("const: %s", err)
		}
		return &Instr{Opcode: OpConst, Value: v}, nil

	case "input":
		if err := nargs(2); err != nil {
			return nil, err
		}
		kind, err := diver.ParseKind(args[1])
		if err != nil {
			return nil, p.errorf("input: %s", err)
		}
		return &Instr{Opcode: OpInput, Name: args[0], Kind: kind}, nil

	case "load", "store":
		if err := nargs(1); err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return nil, p.errorf("%s: invalid slot: %s", name, args[0])
		}
		op := OpLoad
		if name == "store" {
			op = OpStore
		}
		return &Instr{Opcode: op, N: n}, nil

	case "jump", "jumpif":
		if err := nargs(1); err != nil {
			return nil, err
		}
		op := OpJump
		if name == "jumpif" {
			op = OpJumpIf
		}
		instr := &Instr{Opcode: op, Name: args[0], Line: p.line}
		p.jumps = append(p.jumps, instr)
		return instr, nil

	case "call":
		if err := nargs(1); err != nil {
			return nil, err
		}
		instr := &Instr{Opcode: OpCall, Name: args[0], Line: p.line}
		p.calls = append(p.calls, instr)
		return instr, nil

	case "invoke":
		if err := nargs(2); err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 0 {
			return nil, p.errorf("invoke: invalid argument count: %s", args[1])
		}
		return &Instr{Opcode: OpInvoke, Name: args[0], N: n}, nil

	case "fault":
		return &Instr{Opcode: OpFault, Name: strings.Join(args, " ")}, nil

	case "halt":
		return &Instr{Opcode: OpHalt, Name: strings.Join(args, " ")}, nil
	}

	op, ok := diver.ParseOp(name)
	if !ok {
		return nil, p.errorf("unknown instruction: %s", name)
	} else if err := nargs(0); err != nil {
		return nil, err
	}
	return &Instr{Opcode: OpApply, Op: op}, nil
}
