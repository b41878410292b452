package sat

import (
	"fmt"

	"github.com/deepsea/diver"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
)

// errFloat is returned for constraints over floating-point values.
var errFloat = fmt.Errorf("floating-point constraints are not supported")

// bits is a bit-vector as a list of literals, least significant bit first.
type bits []z.Lit

// blaster translates bit-vector expressions into a boolean circuit.
type blaster struct {
	c     *logic.C
	vars  map[string]bits
	cache map[uint64][]cacheEntry // by structural hash
}

type cacheEntry struct {
	expr diver.Expr
	v    bits
}

func newBlaster() *blaster {
	return &blaster{
		c:     logic.NewC(),
		vars:  make(map[string]bits),
		cache: make(map[uint64][]cacheEntry),
	}
}

// blastBool returns the single literal for a boolean expression.
func (b *blaster) blastBool(expr diver.Expr) (z.Lit, error) {
	v, err := b.blast(expr)
	if err != nil {
		return z.LitNull, err
	} else if len(v) != 1 {
		return z.LitNull, fmt.Errorf("constraint is not boolean: %s", expr)
	}
	return v[0], nil
}

// blast returns the circuit for expr. Structurally equal subtrees share
// a circuit even when they are distinct values.
func (b *blaster) blast(expr diver.Expr) (bits, error) {
	h := diver.HashExpr(expr)
	for _, ent := range b.cache[h] {
		if diver.CompareExpr(ent.expr, expr) == 0 {
			return ent.v, nil
		}
	}
	v, err := b.blastExpr(expr)
	if err != nil {
		return nil, err
	}
	b.cache[h] = append(b.cache[h], cacheEntry{expr: expr, v: v})
	return v, nil
}

func (b *blaster) blastExpr(expr diver.Expr) (bits, error) {
	switch expr := expr.(type) {
	case *diver.ConstantExpr:
		return b.constant(expr.Value, expr.Width), nil
	case *diver.VarExpr:
		return b.variable(expr)
	case *diver.NotExpr:
		v, err := b.blast(expr.Expr)
		if err != nil {
			return nil, err
		}
		return b.not(v), nil
	case *diver.ExtractExpr:
		v, err := b.blast(expr.Expr)
		if err != nil {
			return nil, err
		}
		return v[expr.Offset : expr.Offset+expr.Width], nil
	case *diver.CastExpr:
		v, err := b.blast(expr.Src)
		if err != nil {
			return nil, err
		}
		return b.extend(v, expr.Width, expr.Signed), nil
	case *diver.IteExpr:
		return b.blastIte(expr)
	case *diver.BinaryExpr:
		return b.blastBinary(expr)
	case *diver.FloatConstantExpr, *diver.FloatExpr, *diver.ConvertExpr:
		return nil, errFloat
	default:
		return nil, fmt.Errorf("invalid expression type: %T", expr)
	}
}

func (b *blaster) variable(expr *diver.VarExpr) (bits, error) {
	if expr.Kind.IsFloat() {
		return nil, errFloat
	}
	if v, ok := b.vars[expr.Name]; ok {
		return v, nil
	}
	v := make(bits, expr.Kind.Width())
	for i := range v {
		v[i] = b.c.Lit()
	}
	b.vars[expr.Name] = v
	return v, nil
}

func (b *blaster) blastIte(expr *diver.IteExpr) (bits, error) {
	cond, err := b.blastBool(expr.Cond)
	if err != nil {
		return nil, err
	}
	then, err := b.blast(expr.Then)
	if err != nil {
		return nil, err
	}
	els, err := b.blast(expr.Else)
	if err != nil {
		return nil, err
	}
	return b.mux(cond, then, els), nil
}

func (b *blaster) blastBinary(expr *diver.BinaryExpr) (bits, error) {
	lhs, err := b.blast(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := b.blast(expr.RHS)
	if err != nil {
		return nil, err
	}

	switch expr.Op {
	case diver.ADD:
		sum, _ := b.add(lhs, rhs, b.c.F)
		return sum, nil
	case diver.SUB:
		return b.sub(lhs, rhs), nil
	case diver.MUL:
		return b.mul(lhs, rhs), nil
	case diver.UDIV:
		q, _ := b.udivrem(lhs, rhs)
		return q, nil
	case diver.UREM:
		_, r := b.udivrem(lhs, rhs)
		return r, nil
	case diver.SDIV:
		q, _ := b.sdivrem(lhs, rhs)
		return q, nil
	case diver.SREM:
		_, r := b.sdivrem(lhs, rhs)
		return r, nil
	case diver.AND:
		return b.bitwise(lhs, rhs, b.c.And), nil
	case diver.OR:
		return b.bitwise(lhs, rhs, b.c.Or), nil
	case diver.XOR:
		return b.bitwise(lhs, rhs, b.xor), nil
	case diver.SHL:
		return b.shift(lhs, rhs, shiftLeft), nil
	case diver.LSHR:
		return b.shift(lhs, rhs, shiftLogical), nil
	case diver.ASHR:
		return b.shift(lhs, rhs, shiftArithmetic), nil
	case diver.EQ:
		return bits{b.eq(lhs, rhs)}, nil
	case diver.NE:
		return bits{b.eq(lhs, rhs).Not()}, nil
	case diver.ULT:
		return bits{b.ult(lhs, rhs)}, nil
	case diver.ULE:
		return bits{b.ult(rhs, lhs).Not()}, nil
	case diver.UGT:
		return bits{b.ult(rhs, lhs)}, nil
	case diver.UGE:
		return bits{b.ult(lhs, rhs).Not()}, nil
	case diver.SLT:
		return bits{b.slt(lhs, rhs)}, nil
	case diver.SLE:
		return bits{b.slt(rhs, lhs).Not()}, nil
	case diver.SGT:
		return bits{b.slt(rhs, lhs)}, nil
	case diver.SGE:
		return bits{b.slt(lhs, rhs).Not()}, nil
	default:
		return nil, fmt.Errorf("invalid binary operation: %s", expr.Op)
	}
}

func (b *blaster) constant(value uint64, width uint) bits {
	v := make(bits, width)
	for i := range v {
		if i < 64 && value&(1<<uint(i)) != 0 {
			v[i] = b.c.T
		} else {
			v[i] = b.c.F
		}
	}
	return v
}

func (b *blaster) not(v bits) bits {
	other := make(bits, len(v))
	for i := range v {
		other[i] = v[i].Not()
	}
	return other
}

func (b *blaster) extend(v bits, width uint, signed bool) bits {
	other := make(bits, width)
	copy(other, v)
	fill := b.c.F
	if signed {
		fill = v[len(v)-1]
	}
	for i := len(v); i < int(width); i++ {
		other[i] = fill
	}
	return other
}

func (b *blaster) xor(x, y z.Lit) z.Lit {
	return b.c.Or(b.c.And(x, y.Not()), b.c.And(x.Not(), y))
}

func (b *blaster) choose(cond, x, y z.Lit) z.Lit {
	return b.c.Or(b.c.And(cond, x), b.c.And(cond.Not(), y))
}

func (b *blaster) mux(cond z.Lit, x, y bits) bits {
	v := make(bits, len(x))
	for i := range v {
		v[i] = b.choose(cond, x[i], y[i])
	}
	return v
}

func (b *blaster) bitwise(x, y bits, fn func(a, b z.Lit) z.Lit) bits {
	v := make(bits, len(x))
	for i := range v {
		v[i] = fn(x[i], y[i])
	}
	return v
}

// add returns the ripple-carry sum of x and y and the carry out.
func (b *blaster) add(x, y bits, carry z.Lit) (bits, z.Lit) {
	sum := make(bits, len(x))
	for i := range x {
		t := b.xor(x[i], y[i])
		sum[i] = b.xor(t, carry)
		carry = b.c.Or(b.c.And(x[i], y[i]), b.c.And(t, carry))
	}
	return sum, carry
}

func (b *blaster) sub(x, y bits) bits {
	diff, _ := b.add(x, b.not(y), b.c.T)
	return diff
}

func (b *blaster) neg(x bits) bits {
	return b.sub(b.constant(0, uint(len(x))), x)
}

// mul returns the low bits of the product using shift-and-add.
func (b *blaster) mul(x, y bits) bits {
	w := len(x)
	acc := b.constant(0, uint(w))
	for i := 0; i < w; i++ {
		partial := make(bits, w)
		for j := 0; j < w; j++ {
			if j < i {
				partial[j] = b.c.F
			} else {
				partial[j] = b.c.And(x[j-i], y[i])
			}
		}
		acc, _ = b.add(acc, partial, b.c.F)
	}
	return acc
}

// udivrem returns the unsigned quotient and remainder using restoring
// division. A zero divisor yields an all-ones quotient and the dividend as
// remainder, matching diver.ConstantExpr.
func (b *blaster) udivrem(x, y bits) (q, r bits) {
	w := len(x)
	q = make(bits, w)
	r = b.constant(0, uint(w+1))
	divisor := b.extend(y, uint(w+1), false)
	for i := w - 1; i >= 0; i-- {
		// r = r<<1 | x[i]
		shifted := make(bits, w+1)
		shifted[0] = x[i]
		copy(shifted[1:], r[:w])

		ge := b.ult(shifted, divisor).Not()
		q[i] = ge
		r = b.mux(ge, b.sub(shifted, divisor), shifted)
	}
	return q, r[:w]
}

// sdivrem returns the signed quotient truncated toward zero and the
// remainder with the sign of the dividend.
func (b *blaster) sdivrem(x, y bits) (q, r bits) {
	xs, ys := x[len(x)-1], y[len(y)-1]
	ux := b.mux(xs, b.neg(x), x)
	uy := b.mux(ys, b.neg(y), y)
	uq, ur := b.udivrem(ux, uy)
	q = b.mux(b.xor(xs, ys), b.neg(uq), uq)
	r = b.mux(xs, b.neg(ur), ur)
	return q, r
}

type shiftKind int

const (
	shiftLeft = shiftKind(iota)
	shiftLogical
	shiftArithmetic
)

// shift returns x shifted by the amount y using a barrel shifter. Amounts
// of the width of x or more shift every bit out.
func (b *blaster) shift(x, y bits, kind shiftKind) bits {
	w := len(x)
	fill := b.c.F
	if kind == shiftArithmetic {
		fill = x[w-1]
	}

	v := x
	overflow := b.c.F
	for k := 0; k < len(y); k++ {
		n := 1 << uint(k)
		if k >= 63 || n >= w {
			overflow = b.c.Or(overflow, y[k])
			continue
		}

		shifted := make(bits, w)
		for i := 0; i < w; i++ {
			switch kind {
			case shiftLeft:
				if i >= n {
					shifted[i] = v[i-n]
				} else {
					shifted[i] = b.c.F
				}
			default:
				if i+n < w {
					shifted[i] = v[i+n]
				} else {
					shifted[i] = fill
				}
			}
		}
		v = b.mux(y[k], shifted, v)
	}

	filled := make(bits, w)
	for i := range filled {
		if kind == shiftLeft {
			filled[i] = b.c.F
		} else {
			filled[i] = fill
		}
	}
	return b.mux(overflow, filled, v)
}

func (b *blaster) eq(x, y bits) z.Lit {
	a := make([]z.Lit, len(x))
	for i := range x {
		a[i] = b.xor(x[i], y[i]).Not()
	}
	return b.c.Ands(a...)
}

// ult returns true if x < y as unsigned integers.
func (b *blaster) ult(x, y bits) z.Lit {
	lt := b.c.F
	for i := range x {
		// A differing higher bit decides; equal bits defer to the lower ones.
		lt = b.choose(b.xor(x[i], y[i]), y[i], lt)
	}
	return lt
}

// slt returns true if x < y as two's complement integers.
func (b *blaster) slt(x, y bits) z.Lit {
	n := len(x) - 1
	xf, yf := make(bits, len(x)), make(bits, len(y))
	copy(xf, x)
	copy(yf, y)
	xf[n], yf[n] = x[n].Not(), y[n].Not()
	return b.ult(xf, yf)
}
