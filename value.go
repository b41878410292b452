package diver

import (
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Value pairs a concrete machine value with an optional symbolic expression.
// A nil expression means the value does not depend on any input.
type Value struct {
	kind Kind
	bits uint64
	expr Expr
}

// NewValue returns a concrete value of the given kind from its raw bits.
func NewValue(kind Kind, bits uint64) Value {
	return Value{kind: kind, bits: bits & bitmask(kind.Width())}
}

// NewSymbolicValue returns a value whose concrete part is taken from
// concrete and whose symbolic part is expr. A constant expr yields a
// concrete value.
func NewSymbolicValue(concrete Value, expr Expr) Value {
	if expr != nil && IsConstantExpr(expr) {
		expr = nil
	}
	concrete.expr = expr
	return concrete
}

// Bool returns a concrete boolean value.
func Bool(v bool) Value {
	if v {
		return Value{kind: KindBool, bits: 1}
	}
	return Value{kind: KindBool}
}

// Byte returns a concrete byte value.
func Byte(v int8) Value { return NewValue(KindByte, uint64(v)) }

// Char returns a concrete char value.
func Char(v uint16) Value { return NewValue(KindChar, uint64(v)) }

// Short returns a concrete short value.
func Short(v int16) Value { return NewValue(KindShort, uint64(v)) }

// Int returns a concrete 32-bit integer value.
func Int(v int32) Value { return NewValue(KindInt, uint64(v)) }

// Long returns a concrete 64-bit integer value.
func Long(v int64) Value { return NewValue(KindLong, uint64(v)) }

// Float returns a concrete 32-bit float value.
func Float(v float32) Value { return NewValue(KindFloat, uint64(math.Float32bits(v))) }

// Double returns a concrete 64-bit float value.
func Double(v float64) Value { return NewValue(KindDouble, math.Float64bits(v)) }

// Zero returns the zero value of kind.
func Zero(kind Kind) Value { return NewValue(kind, 0) }

// ValueOf converts a constant expression into a concrete value of kind.
func ValueOf(kind Kind, expr Expr) (Value, error) {
	switch expr := expr.(type) {
	case *ConstantExpr:
		if kind.IsFloat() || expr.Width != kind.Width() {
			return Value{}, fmt.Errorf("constant %s is not a %s", expr, kind)
		}
		return NewValue(kind, expr.Value), nil
	case *FloatConstantExpr:
		if !kind.IsFloat() || expr.Width != kind.Width() {
			return Value{}, fmt.Errorf("constant %s is not a %s", expr, kind)
		}
		return NewValue(kind, expr.Bits()), nil
	default:
		return Value{}, fmt.Errorf("expression is not constant: %s", expr)
	}
}

// Kind returns the machine type of the value.
func (v Value) Kind() Kind { return v.kind }

// Bits returns the raw concrete bits of the value.
func (v Value) Bits() uint64 { return v.bits }

// Expr returns the symbolic expression, or nil if the value is concrete.
func (v Value) Expr() Expr { return v.expr }

// IsConstant returns true if the value has no symbolic dependency.
func (v Value) IsConstant() bool { return v.expr == nil }

// IsValid returns false for the zero Value.
func (v Value) IsValid() bool { return v.kind != KindInvalid }

// Concrete returns v without its symbolic expression.
func (v Value) Concrete() Value {
	v.expr = nil
	return v
}

// Bool returns the concrete value as a boolean.
func (v Value) Bool() bool { return v.bits != 0 }

// Int returns the concrete value sign-extended to a 32-bit integer.
// Char values are zero-extended.
func (v Value) Int() int32 { return int32(v.Long()) }

// Long returns the concrete value sign-extended to a 64-bit integer.
// Char values are zero-extended.
func (v Value) Long() int64 {
	if v.kind == KindChar || v.kind == KindBool {
		return int64(v.bits)
	}
	return NewConstantExpr(v.bits, v.kind.Width()).Int64()
}

// Float returns the concrete value as a 32-bit float.
func (v Value) Float() float32 { return math.Float32frombits(uint32(v.bits)) }

// Double returns the concrete value as a 64-bit float.
func (v Value) Double() float64 {
	if v.kind == KindFloat {
		return float64(v.Float())
	}
	return math.Float64frombits(v.bits)
}

// Const returns the concrete part of the value as a constant expression.
func (v Value) Const() Expr {
	if v.kind.IsFloat() {
		return NewFloatConstantExpr(v.Double(), v.kind.Width())
	}
	return NewConstantExpr(v.bits, v.kind.Width())
}

// Term returns the symbolic expression if present, otherwise the constant.
func (v Value) Term() Expr {
	if v.expr != nil {
		return v.expr
	}
	return v.Const()
}

// Equal returns true if both values have the same kind and concrete bits.
func (v Value) Equal(other Value) bool {
	return v.kind == other.kind && v.bits == other.bits
}

// String returns a readable form of the concrete value and any expression.
func (v Value) String() string {
	s := v.Format()
	if v.expr != nil {
		return fmt.Sprintf("%s:%s=%s", v.kind, s, v.expr)
	}
	return fmt.Sprintf("%s:%s", v.kind, s)
}

// Format returns the concrete value as text.
func (v Value) Format() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.Bool())
	case KindChar:
		return strconv.FormatUint(v.bits, 10)
	case KindFloat:
		return strconv.FormatFloat(float64(v.Float()), 'g', -1, 32)
	case KindDouble:
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	case KindInvalid:
		return "<invalid>"
	default:
		return strconv.FormatInt(v.Long(), 10)
	}
}

// ParseValue parses the textual form of a concrete value of kind.
func ParseValue(kind Kind, s string) (Value, error) {
	switch kind {
	case KindBool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return Value{}, invalidLiteral(kind, s)
		}
		return Bool(b), nil
	case KindFloat:
		f, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return Value{}, invalidLiteral(kind, s)
		}
		return Float(float32(f)), nil
	case KindDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, invalidLiteral(kind, s)
		}
		return Double(f), nil
	case KindChar:
		n, err := strconv.ParseUint(s, 0, 16)
		if err != nil {
			return Value{}, invalidLiteral(kind, s)
		}
		return Char(uint16(n)), nil
	case KindByte, KindShort, KindInt, KindLong:
		n, err := strconv.ParseInt(s, 0, int(kind.Width()))
		if err != nil {
			return Value{}, invalidLiteral(kind, s)
		}
		return NewValue(kind, uint64(n)), nil
	default:
		return Value{}, fmt.Errorf("diver: cannot parse %s value", kind)
	}
}

func invalidLiteral(kind Kind, s string) error {
	return fmt.Errorf("diver: invalid %s literal: %q", kind, s)
}

// Input is an assignment of concrete values to symbolic input variables.
type Input map[string]Value

// Names returns the variable names in sorted order.
func (in Input) Names() []string {
	a := make([]string, 0, len(in))
	for name := range in {
		a = append(a, name)
	}
	sort.Strings(a)
	return a
}

// Clone returns a shallow copy of the input.
func (in Input) Clone() Input {
	other := make(Input, len(in))
	for k, v := range in {
		other[k] = v
	}
	return other
}

// Merge returns a copy of in overlaid with the bindings of other.
func (in Input) Merge(other Input) Input {
	m := in.Clone()
	for k, v := range other {
		m[k] = v
	}
	return m
}

// String returns the input as "name=value" pairs in name order.
func (in Input) String() string {
	s := "{"
	for i, name := range in.Names() {
		if i > 0 {
			s += " "
		}
		s += name + "=" + in[name].Format()
	}
	return s + "}"
}

// Strings returns the concrete values of in keyed by name.
func (in Input) Strings() map[string]string {
	m := make(map[string]string, len(in))
	for k, v := range in {
		m[k] = v.Format()
	}
	return m
}
