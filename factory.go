package diver

import (
	"fmt"
)

// Op identifies a machine operation on values.
type Op int

// Operations, grouped by family.
const (
	compare_begin = Op(iota)
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	compare_end

	threeway_begin
	OpCmp  // integer three-way compare
	OpCmpL // float three-way compare, -1 on NaN
	OpCmpG // float three-way compare, +1 on NaN
	threeway_end

	arith_begin
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpRem
	OpNeg
	OpShl
	OpShr  // arithmetic shift right
	OpUshr // logical shift right
	OpAnd
	OpOr
	OpXor
	arith_end

	convert_begin
	OpI2L
	OpI2F
	OpI2D
	OpL2I
	OpL2F
	OpL2D
	OpF2I
	OpF2L
	OpF2D
	OpD2I
	OpD2L
	OpD2F
	OpI2B
	OpI2C
	OpI2S
	OpB2I
	OpC2I
	OpS2I
	OpZ2I
	convert_end
)

var ops = [...]string{
	OpEq:   "eq",
	OpNe:   "ne",
	OpLt:   "lt",
	OpLe:   "le",
	OpGt:   "gt",
	OpGe:   "ge",
	OpCmp:  "cmp",
	OpCmpL: "cmpl",
	OpCmpG: "cmpg",
	OpAdd:  "add",
	OpSub:  "sub",
	OpMul:  "mul",
	OpDiv:  "div",
	OpRem:  "rem",
	OpNeg:  "neg",
	OpShl:  "shl",
	OpShr:  "shr",
	OpUshr: "ushr",
	OpAnd:  "and",
	OpOr:   "or",
	OpXor:  "xor",
	OpI2L:  "i2l",
	OpI2F:  "i2f",
	OpI2D:  "i2d",
	OpL2I:  "l2i",
	OpL2F:  "l2f",
	OpL2D:  "l2d",
	OpF2I:  "f2i",
	OpF2L:  "f2l",
	OpF2D:  "f2d",
	OpD2I:  "d2i",
	OpD2L:  "d2l",
	OpD2F:  "d2f",
	OpI2B:  "i2b",
	OpI2C:  "i2c",
	OpI2S:  "i2s",
	OpB2I:  "b2i",
	OpC2I:  "c2i",
	OpS2I:  "s2i",
	OpZ2I:  "z2i",
}

// String returns the mnemonic of the operation.
func (op Op) String() string {
	if op >= 0 && op < Op(len(ops)) && ops[op] != "" {
		return ops[op]
	}
	return fmt.Sprintf("Op<%d>", op)
}

// ParseOp returns the operation with the given mnemonic.
func ParseOp(s string) (Op, bool) {
	for i, name := range ops {
		if name != "" && name == s {
			return Op(i), true
		}
	}
	return 0, false
}

// IsCompare returns true for the boolean comparison operations.
func (op Op) IsCompare() bool { return op > compare_begin && op < compare_end }

// IsThreeWay returns true for the three-way comparison operations.
func (op Op) IsThreeWay() bool { return op > threeway_begin && op < threeway_end }

// IsArithmetic returns true for the arithmetic and bitwise operations.
func (op Op) IsArithmetic() bool { return op > arith_begin && op < arith_end }

// IsConvert returns true for the conversion operations.
func (op Op) IsConvert() bool { return op > convert_begin && op < convert_end }

// Arity returns the number of operands taken by op.
func (op Op) Arity() int {
	if op == OpNeg || op.IsConvert() {
		return 1
	}
	return 2
}

// conversions maps each conversion to its source and result kinds.
var conversions = map[Op][2]Kind{
	OpI2L: {KindInt, KindLong},
	OpI2F: {KindInt, KindFloat},
	OpI2D: {KindInt, KindDouble},
	OpL2I: {KindLong, KindInt},
	OpL2F: {KindLong, KindFloat},
	OpL2D: {KindLong, KindDouble},
	OpF2I: {KindFloat, KindInt},
	OpF2L: {KindFloat, KindLong},
	OpF2D: {KindFloat, KindDouble},
	OpD2I: {KindDouble, KindInt},
	OpD2L: {KindDouble, KindLong},
	OpD2F: {KindDouble, KindFloat},
	OpI2B: {KindInt, KindByte},
	OpI2C: {KindInt, KindChar},
	OpI2S: {KindInt, KindShort},
	OpB2I: {KindByte, KindInt},
	OpC2I: {KindChar, KindInt},
	OpS2I: {KindShort, KindInt},
	OpZ2I: {KindBool, KindInt},
}

// Apply performs op on args. The concrete result and the symbolic result are
// built by the same expression constructors: the concrete result is the fold
// of the operands' constants, so both always agree.
//
// Integer division or remainder by a zero divisor returns an *ArithmeticError.
// Operands of the wrong kind or number return a *TypeError.
func Apply(op Op, args ...Value) (Value, error) {
	kind, err := resultKind(op, args)
	if err != nil {
		return Value{}, err
	}

	if (op == OpDiv || op == OpRem) && !args[1].kind.IsFloat() && args[1].bits == 0 {
		return Value{}, &ArithmeticError{Op: op, Message: "/ by zero"}
	}

	symbolic := false
	concrete, terms := make([]Expr, len(args)), make([]Expr, len(args))
	for i, arg := range args {
		concrete[i], terms[i] = arg.Const(), arg.Term()
		symbolic = symbolic || !arg.IsConstant()
	}

	result, err := ValueOf(kind, build(op, args[0].kind, concrete))
	assert(err == nil, "%s: constant operands did not fold: %v", op, err)
	if !symbolic {
		return result, nil
	}
	return NewSymbolicValue(result, build(op, args[0].kind, terms)), nil
}

// MustApply is like Apply but panics on error.
func MustApply(op Op, args ...Value) Value {
	v, err := Apply(op, args...)
	if err != nil {
		panic(err)
	}
	return v
}

// resultKind validates the operands of op and returns the kind of its result.
func resultKind(op Op, args []Value) (Kind, error) {
	kinds := make([]Kind, len(args))
	for i, arg := range args {
		kinds[i] = arg.kind
	}
	typeErr := func(format string, v ...interface{}) (Kind, error) {
		return KindInvalid, &TypeError{Op: op, Kinds: kinds, Message: fmt.Sprintf(format, v...)}
	}

	if len(args) != op.Arity() {
		return typeErr("expected %d operands, got %d", op.Arity(), len(args))
	}
	k := kinds[0]
	if k == KindInvalid {
		return typeErr("invalid operand")
	}

	switch {
	case op.IsConvert():
		conv := conversions[op]
		if k != conv[0] {
			return typeErr("expected %s operand", conv[0])
		}
		return conv[1], nil

	case op.IsCompare():
		if kinds[1] != k {
			return typeErr("mismatched operand kinds")
		} else if k == KindBool && op != OpEq && op != OpNe {
			return typeErr("ordering on bool")
		}
		return KindBool, nil

	case op == OpCmp:
		if kinds[1] != k || (k != KindInt && k != KindLong) {
			return typeErr("expected int or long operands")
		}
		return KindInt, nil

	case op == OpCmpL, op == OpCmpG:
		if kinds[1] != k || !k.IsFloat() {
			return typeErr("expected float or double operands")
		}
		return KindInt, nil

	case op == OpShl, op == OpShr, op == OpUshr:
		if k != KindInt && k != KindLong {
			return typeErr("expected int or long value")
		} else if kinds[1] != KindInt {
			return typeErr("expected int shift amount")
		}
		return k, nil

	case op == OpAnd, op == OpOr, op == OpXor:
		if kinds[1] != k || (k != KindInt && k != KindLong && k != KindBool) {
			return typeErr("expected int, long or bool operands")
		}
		return k, nil

	case op.IsArithmetic():
		if k != KindInt && k != KindLong && !k.IsFloat() {
			return typeErr("expected int, long, float or double operands")
		} else if op != OpNeg && kinds[1] != k {
			return typeErr("mismatched operand kinds")
		}
		return k, nil

	default:
		return typeErr("unknown operation")
	}
}

// build constructs the expression for op over operands of kind k.
// Operands must already have been validated by resultKind.
func build(op Op, k Kind, args []Expr) Expr {
	switch {
	case op.IsCompare():
		return buildCompare(op, k, args[0], args[1])
	case op.IsThreeWay():
		return buildThreeWay(op, k, args[0], args[1])
	case op.IsConvert():
		return buildConvert(op, args[0])
	case k.IsFloat():
		return buildFloat(op, args)
	default:
		return buildInteger(op, k, args)
	}
}

func buildCompare(op Op, k Kind, lhs, rhs Expr) Expr {
	if k.IsFloat() {
		switch op {
		case OpEq:
			return NewFloatExpr(FEQ, lhs, rhs)
		case OpNe:
			return NewNotExpr(NewFloatExpr(FEQ, lhs, rhs))
		case OpLt:
			return NewFloatExpr(FLT, lhs, rhs)
		case OpLe:
			return NewFloatExpr(FLE, lhs, rhs)
		case OpGt:
			return NewFloatExpr(FLT, rhs, lhs)
		case OpGe:
			return NewFloatExpr(FLE, rhs, lhs)
		}
		panic("unreachable")
	}

	signed := k.IsSigned()
	switch op {
	case OpEq:
		return NewBinaryExpr(EQ, lhs, rhs)
	case OpNe:
		return NewBinaryExpr(NE, lhs, rhs)
	case OpLt:
		return NewBinaryExpr(pick(signed, SLT, ULT), lhs, rhs)
	case OpLe:
		return NewBinaryExpr(pick(signed, SLE, ULE), lhs, rhs)
	case OpGt:
		return NewBinaryExpr(pick(signed, SGT, UGT), lhs, rhs)
	case OpGe:
		return NewBinaryExpr(pick(signed, SGE, UGE), lhs, rhs)
	}
	panic("unreachable")
}

func pick(signed bool, s, u BinaryOp) BinaryOp {
	if signed {
		return s
	}
	return u
}

// buildThreeWay returns an int expression of -1, 0 or 1. For floats, an
// unordered comparison yields -1 for OpCmpL and +1 for OpCmpG.
func buildThreeWay(op Op, k Kind, lhs, rhs Expr) Expr {
	minus, zero, one := NewConstantExpr32(0xFFFFFFFF), NewConstantExpr32(0), NewConstantExpr32(1)

	switch op {
	case OpCmp:
		return NewIteExpr(NewBinaryExpr(SLT, lhs, rhs), minus,
			NewIteExpr(NewBinaryExpr(EQ, lhs, rhs), zero, one))
	case OpCmpL:
		return NewIteExpr(NewFloatExpr(FLT, lhs, rhs), minus,
			NewIteExpr(NewFloatExpr(FEQ, lhs, rhs), zero,
				NewIteExpr(NewFloatExpr(FLT, rhs, lhs), one, minus)))
	case OpCmpG:
		return NewIteExpr(NewFloatExpr(FLT, rhs, lhs), one,
			NewIteExpr(NewFloatExpr(FEQ, lhs, rhs), zero,
				NewIteExpr(NewFloatExpr(FLT, lhs, rhs), minus, one)))
	}
	panic("unreachable")
}

func buildInteger(op Op, k Kind, args []Expr) Expr {
	w := k.Width()
	switch op {
	case OpAdd:
		return NewBinaryExpr(ADD, args[0], args[1])
	case OpSub:
		return NewBinaryExpr(SUB, args[0], args[1])
	case OpMul:
		return NewBinaryExpr(MUL, args[0], args[1])
	case OpDiv:
		return NewBinaryExpr(SDIV, args[0], args[1])
	case OpRem:
		return NewBinaryExpr(SREM, args[0], args[1])
	case OpNeg:
		return NewBinaryExpr(SUB, NewConstantExpr(0, w), args[0])
	case OpAnd:
		return NewBinaryExpr(AND, args[0], args[1])
	case OpOr:
		return NewBinaryExpr(OR, args[0], args[1])
	case OpXor:
		return NewBinaryExpr(XOR, args[0], args[1])
	case OpShl, OpShr, OpUshr:
		// The shift amount is an int masked to the low 5 or 6 bits.
		amount := NewBinaryExpr(AND, NewCastExpr(args[1], w, false), NewConstantExpr(uint64(w-1), w))
		switch op {
		case OpShl:
			return NewBinaryExpr(SHL, args[0], amount)
		case OpShr:
			return NewBinaryExpr(ASHR, args[0], amount)
		default:
			return NewBinaryExpr(LSHR, args[0], amount)
		}
	}
	panic("unreachable")
}

func buildFloat(op Op, args []Expr) Expr {
	switch op {
	case OpAdd:
		return NewFloatExpr(FADD, args[0], args[1])
	case OpSub:
		return NewFloatExpr(FSUB, args[0], args[1])
	case OpMul:
		return NewFloatExpr(FMUL, args[0], args[1])
	case OpDiv:
		return NewFloatExpr(FDIV, args[0], args[1])
	case OpRem:
		return NewFloatExpr(FREM, args[0], args[1])
	case OpNeg:
		return NewFloatExpr(FNEG, args[0], nil)
	}
	panic("unreachable")
}

func buildConvert(op Op, src Expr) Expr {
	switch op {
	case OpI2L:
		return NewCastExpr(src, Width64, true)
	case OpI2F, OpL2F:
		return NewConvertExpr(SITOFP, src, Width32)
	case OpI2D, OpL2D:
		return NewConvertExpr(SITOFP, src, Width64)
	case OpL2I:
		return NewExtractExpr(src, 0, Width32)
	case OpF2I, OpD2I:
		return NewConvertExpr(FPTOSI, src, Width32)
	case OpF2L, OpD2L:
		return NewConvertExpr(FPTOSI, src, Width64)
	case OpF2D:
		return NewConvertExpr(FPCONV, src, Width64)
	case OpD2F:
		return NewConvertExpr(FPCONV, src, Width32)
	case OpI2B:
		return NewExtractExpr(src, 0, Width8)
	case OpI2C, OpI2S:
		return NewExtractExpr(src, 0, Width16)
	case OpB2I, OpS2I:
		return NewCastExpr(src, Width32, true)
	case OpC2I, OpZ2I:
		return NewCastExpr(src, Width32, false)
	}
	panic("unreachable")
}
