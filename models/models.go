// Package models provides symbolic stand-ins for library routines that a
// run driver invokes by qualified name.
package models

import (
	"github.com/deepsea/diver"
)

// Register adds every model in this package to r.
func Register(r *diver.Models) {
	r.Register("Math", "abs", diver.ModelFunc(Abs))
	r.Register("Math", "max", diver.ModelFunc(Max))
	r.Register("Math", "min", diver.ModelFunc(Min))
	r.Register("Integer", "signum", diver.ModelFunc(Signum))
	r.Register("Long", "signum", diver.ModelFunc(Signum))
	r.Register("Matcher", "find", diver.ModelFunc(MatcherFind))
}

// Abs returns the absolute value of an int or long. The most negative
// value is its own absolute value.
func Abs(s *diver.State, args []diver.Value) diver.ModelResult {
	if res, ok := checkIntegral("Math.abs", args, 1); !ok {
		return res
	}
	x := args[0]
	neg, err := diver.Apply(diver.OpLt, x, diver.Zero(x.Kind()))
	if err != nil {
		return diver.Faulted("Math.abs: %s", err)
	}
	minus, err := diver.Apply(diver.OpNeg, x)
	if err != nil {
		return diver.Faulted("Math.abs: %s", err)
	}
	return diver.OK(choose(neg, minus, x))
}

// Max returns the greater of two ints or longs.
func Max(s *diver.State, args []diver.Value) diver.ModelResult {
	return minmax("Math.max", diver.OpGt, args)
}

// Min returns the lesser of two ints or longs.
func Min(s *diver.State, args []diver.Value) diver.ModelResult {
	return minmax("Math.min", diver.OpLt, args)
}

func minmax(name string, op diver.Op, args []diver.Value) diver.ModelResult {
	if res, ok := checkIntegral(name, args, 2); !ok {
		return res
	}
	cond, err := diver.Apply(op, args[0], args[1])
	if err != nil {
		return diver.Faulted("%s: %s", name, err)
	}
	return diver.OK(choose(cond, args[0], args[1]))
}

// Signum returns -1, 0 or 1 as an int according to the sign of an int or long.
func Signum(s *diver.State, args []diver.Value) diver.ModelResult {
	if res, ok := checkIntegral("signum", args, 1); !ok {
		return res
	}
	v, err := diver.Apply(diver.OpCmp, args[0], diver.Zero(args[0].Kind()))
	if err != nil {
		return diver.Faulted("signum: %s", err)
	}
	return diver.OK(v)
}

// MatcherFind stands in for regular expression matching, which cannot be
// modelled over bit-vectors.
func MatcherFind(s *diver.State, args []diver.Value) diver.ModelResult {
	return diver.Unsupported("Matcher.find() is unimplemented")
}

// checkIntegral validates that args holds n operands of the same int or long kind.
func checkIntegral(name string, args []diver.Value, n int) (diver.ModelResult, bool) {
	if len(args) != n {
		return diver.Unsupported("%s: expected %d arguments, got %d", name, n, len(args)), false
	}
	k := args[0].Kind()
	for _, arg := range args {
		if arg.Kind() != k || (k != diver.KindInt && k != diver.KindLong) {
			return diver.Unsupported("%s(%s) is not modelled", name, k), false
		}
	}
	return diver.ModelResult{}, true
}

// choose returns a value equal to a if cond holds, b otherwise, without
// recording a branch.
func choose(cond, a, b diver.Value) diver.Value {
	concrete := b
	if cond.Bool() {
		concrete = a
	}
	if cond.IsConstant() {
		return concrete
	} else if a.IsConstant() && b.IsConstant() && a.Bits() == b.Bits() {
		return concrete
	}
	return diver.NewSymbolicValue(concrete.Concrete(), diver.NewIteExpr(cond.Term(), a.Term(), b.Term()))
}
