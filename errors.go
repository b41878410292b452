package diver

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// TypeError is returned when an operation is applied to operands of the wrong kind.
// It indicates a bug in the run driver rather than in the program under test.
type TypeError struct {
	Op      Op
	Kinds   []Kind
	Message string
}

// Error returns the error message.
func (e *TypeError) Error() string {
	kinds := make([]string, len(e.Kinds))
	for i, k := range e.Kinds {
		kinds[i] = k.String()
	}
	return fmt.Sprintf("diver: %s(%s): %s", e.Op, strings.Join(kinds, ", "), e.Message)
}

// StructuralError is returned on operand stack underflow, invalid local
// slots and frame misuse.
type StructuralError struct {
	Op      string
	Message string
}

// Error returns the error message.
func (e *StructuralError) Error() string {
	return fmt.Sprintf("diver: %s: %s", e.Op, e.Message)
}

// ArithmeticError is a program fault raised by integer division by zero.
type ArithmeticError struct {
	Op      Op
	Message string
}

// Error returns the error message.
func (e *ArithmeticError) Error() string {
	return "arithmetic fault: " + e.Message
}

// Fault is a program fault raised by a model or by the program itself.
type Fault struct {
	Unsupported bool
	Message     string
}

// Error returns the error message.
func (e *Fault) Error() string {
	if e.Unsupported {
		return "unsupported: " + e.Message
	}
	return "fault: " + e.Message
}

// IsFault returns true if err is a program fault. Program faults end a run
// normally and are reported as defects.
func IsFault(err error) bool {
	switch errors.Cause(err).(type) {
	case *ArithmeticError, *Fault:
		return true
	default:
		return false
	}
}

// IsStructural returns true if err indicates misuse of the state or value API.
func IsStructural(err error) bool {
	switch errors.Cause(err).(type) {
	case *TypeError, *StructuralError:
		return true
	default:
		return false
	}
}
