//go:build z3

package z3

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/deepsea/diver"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
*/
import "C"

// Available is true when the package is built with Z3 support.
const Available = true

// Ensure solver implements interface.
var _ diver.Solver = (*Solver)(nil)

// Solver represents a solver that uses an embedded Z3 solver. Calls are
// serialized because a Z3 context is not safe for concurrent use.
type Solver struct {
	mu    sync.Mutex
	ctx   *Context
	stats diver.SolverStats
}

// NewSolver returns a new instance of Solver.
func NewSolver() *Solver {
	return &Solver{ctx: NewContext()}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() diver.SolverStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Solve returns the satisfiability of the conjunction of constraints. The
// deadline of ctx is passed to Z3 as its timeout and cancellation
// interrupts a running check.
func (s *Solver) Solve(ctx context.Context, constraints []diver.Expr) (sol diver.Solution, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := time.Now()
	defer func() { s.stats.Add(sol.Status, time.Since(t)) }()

	if err := ctx.Err(); err != nil {
		return diver.UnknownSolution("%s", err), nil
	}

	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return diver.Solution{}, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	if deadline, ok := ctx.Deadline(); ok {
		if err := s.ctx.setTimeout(solver, time.Until(deadline)); err != nil {
			return diver.Solution{}, err
		}
	}

	s.ctx.vars = make(map[string]C.Z3_ast)
	for _, constraint := range constraints {
		ast, err := s.ctx.toAST(constraint)
		if err == errUnsupported {
			return diver.UnknownSolution("z3: unsupported constraint: %s", constraint), nil
		} else if err != nil {
			return diver.Solution{}, err
		}
		C.Z3_solver_assert(s.ctx.raw, solver, ast)
		if err := s.ctx.err("Z3_solver_assert"); err != nil {
			return diver.Solution{}, err
		}
	}

	// Interrupt the check if the context is canceled while it runs.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			C.Z3_interrupt(s.ctx.raw)
		case <-done:
		}
	}()

	ret := C.Z3_solver_check(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_check"); err != nil {
		return diver.Solution{}, err
	}
	switch ret {
	case C.Z3_L_FALSE:
		return diver.Solution{Status: diver.Unsat}, nil
	case C.Z3_L_UNDEF:
		reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver))
		switch {
		case strings.Contains(reason, "timeout"):
			return diver.UnknownSolution("%s", diver.ErrSolverTimeout), nil
		case strings.Contains(reason, "canceled"):
			return diver.UnknownSolution("%s", diver.ErrSolverCanceled), nil
		default:
			return diver.UnknownSolution("z3: %s", reason), nil
		}
	}

	model := C.Z3_solver_get_model(s.ctx.raw, solver)
	if err := s.ctx.err("Z3_solver_get_model"); err != nil {
		return diver.Solution{}, err
	}
	C.Z3_model_inc_ref(s.ctx.raw, model)
	defer C.Z3_model_dec_ref(s.ctx.raw, model)

	bindings, err := s.ctx.eval(model, diver.FindVars(constraints...))
	if err != nil {
		return diver.Solution{}, err
	}
	return diver.Solution{Status: diver.Sat, Bindings: bindings}, nil
}

// errUnsupported is returned for expressions Z3 cannot encode exactly.
var errUnsupported = fmt.Errorf("z3: unsupported expression")

// Context represents a Z3 context object that is used for constructing expressions.
type Context struct {
	raw  C.Z3_context
	vars map[string]C.Z3_ast
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw, vars: make(map[string]C.Z3_ast)}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return nil
}

// err returns the error for the last API call. Returns nil if last call was successful.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

func (ctx *Context) setTimeout(solver C.Z3_solver, d time.Duration) error {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	params := C.Z3_mk_params(ctx.raw)
	C.Z3_params_inc_ref(ctx.raw, params)
	defer C.Z3_params_dec_ref(ctx.raw, params)

	cname := C.CString("timeout")
	defer C.free(unsafe.Pointer(cname))
	C.Z3_params_set_uint(ctx.raw, params, C.Z3_mk_string_symbol(ctx.raw, cname), C.uint(ms))
	C.Z3_solver_set_params(ctx.raw, solver, params)
	return ctx.err("Z3_solver_set_params")
}

// toAST returns a new instance of Z3_ast from an expression. Width-1
// bit-vectors are encoded with the Bool sort.
func (ctx *Context) toAST(expr diver.Expr) (C.Z3_ast, error) {
	switch expr := expr.(type) {
	case *diver.ConstantExpr:
		return ctx.toConstantAST(expr)
	case *diver.FloatConstantExpr:
		return ctx.toFloatConstantAST(expr)
	case *diver.VarExpr:
		return ctx.toVarAST(expr)
	case *diver.ExtractExpr:
		return ctx.toExtractAST(expr)
	case *diver.CastExpr:
		return ctx.toCastAST(expr)
	case *diver.NotExpr:
		return ctx.toNotAST(expr)
	case *diver.IteExpr:
		return ctx.toIteAST(expr)
	case *diver.BinaryExpr:
		return ctx.toBinaryAST(expr)
	case *diver.FloatExpr:
		return ctx.toFloatAST(expr)
	case *diver.ConvertExpr:
		return ctx.toConvertAST(expr)
	default:
		return nil, fmt.Errorf("z3.Context.toAST: invalid expression type: %T", expr)
	}
}

func (ctx *Context) toConstantAST(expr *diver.ConstantExpr) (C.Z3_ast, error) {
	if expr.Width == diver.WidthBool {
		if expr.IsTrue() {
			return C.Z3_mk_true(ctx.raw), ctx.err("Z3_mk_true")
		}
		return C.Z3_mk_false(ctx.raw), ctx.err("Z3_mk_false")
	}
	return ctx.makeUint64(expr.Width, expr.Value)
}

func (ctx *Context) toFloatConstantAST(expr *diver.FloatConstantExpr) (C.Z3_ast, error) {
	sort, err := ctx.makeFPSort(expr.Width)
	if err != nil {
		return nil, err
	}
	switch v := expr.Value; {
	case math.IsNaN(v):
		return C.Z3_mk_fpa_nan(ctx.raw, sort), ctx.err("Z3_mk_fpa_nan")
	case math.IsInf(v, 0):
		return C.Z3_mk_fpa_inf(ctx.raw, sort, C.bool(v < 0)), ctx.err("Z3_mk_fpa_inf")
	case v == 0:
		return C.Z3_mk_fpa_zero(ctx.raw, sort, C.bool(math.Signbit(v))), ctx.err("Z3_mk_fpa_zero")
	default:
		return C.Z3_mk_fpa_numeral_double(ctx.raw, C.double(v), sort), ctx.err("Z3_mk_fpa_numeral_double")
	}
}

func (ctx *Context) toVarAST(expr *diver.VarExpr) (C.Z3_ast, error) {
	if ast, ok := ctx.vars[expr.Name]; ok {
		return ast, nil
	}

	var sort C.Z3_sort
	var err error
	switch {
	case expr.Kind == diver.KindBool:
		sort, err = C.Z3_mk_bool_sort(ctx.raw), ctx.err("Z3_mk_bool_sort")
	case expr.Kind.IsFloat():
		sort, err = ctx.makeFPSort(expr.Kind.Width())
	default:
		sort, err = ctx.makeBVSort(expr.Kind.Width())
	}
	if err != nil {
		return nil, err
	}

	cname := C.CString(expr.Name)
	defer C.free(unsafe.Pointer(cname))
	ast := C.Z3_mk_const(ctx.raw, C.Z3_mk_string_symbol(ctx.raw, cname), sort)
	if err := ctx.err("Z3_mk_const"); err != nil {
		return nil, err
	}
	ctx.vars[expr.Name] = ast
	return ast, nil
}

func (ctx *Context) toExtractAST(expr *diver.ExtractExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}

	// If extracting single bit, use EQ expression to convert to bool sort.
	if expr.Width == diver.WidthBool {
		bit := C.Z3_mk_extract(ctx.raw, C.uint(expr.Offset), C.uint(expr.Offset), src)
		if err := ctx.err("Z3_mk_extract[bool]"); err != nil {
			return nil, err
		}
		one, err := ctx.makeUint64(1, 1)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_eq(ctx.raw, bit, one), ctx.err("Z3_mk_eq")
	}
	return C.Z3_mk_extract(ctx.raw, C.uint(expr.Offset+expr.Width-1), C.uint(expr.Offset), src), ctx.err("Z3_mk_extract")
}

func (ctx *Context) toCastAST(expr *diver.CastExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Src)
	if err != nil {
		return nil, err
	}

	// Booleans become 0/1, or 0/-1 when sign-extended.
	if diver.ExprWidth(expr.Src) == diver.WidthBool {
		one := uint64(1)
		if expr.Signed {
			one = math.MaxUint64
		}
		whenTrue, err := ctx.makeUint64(expr.Width, one)
		if err != nil {
			return nil, err
		}
		whenFalse, err := ctx.makeUint64(expr.Width, 0)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_ite(ctx.raw, src, whenTrue, whenFalse), ctx.err("Z3_mk_ite")
	}

	n := C.uint(expr.Width - diver.ExprWidth(expr.Src))
	if expr.Signed {
		return C.Z3_mk_sign_ext(ctx.raw, n, src), ctx.err("Z3_mk_sign_ext")
	}
	return C.Z3_mk_zero_ext(ctx.raw, n, src), ctx.err("Z3_mk_zero_ext")
}

func (ctx *Context) toNotAST(expr *diver.NotExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Expr)
	if err != nil {
		return nil, err
	}
	if diver.ExprWidth(expr.Expr) == diver.WidthBool {
		return C.Z3_mk_not(ctx.raw, src), ctx.err("Z3_mk_not")
	}
	return C.Z3_mk_bvnot(ctx.raw, src), ctx.err("Z3_mk_bvnot")
}

func (ctx *Context) toIteAST(expr *diver.IteExpr) (C.Z3_ast, error) {
	cond, err := ctx.toAST(expr.Cond)
	if err != nil {
		return nil, err
	}
	then, err := ctx.toAST(expr.Then)
	if err != nil {
		return nil, err
	}
	els, err := ctx.toAST(expr.Else)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_ite(ctx.raw, cond, then, els), ctx.err("Z3_mk_ite")
}

func (ctx *Context) toBinaryAST(expr *diver.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}

	// Boolean operands use the Bool sort.
	if diver.ExprWidth(expr.LHS) == diver.WidthBool {
		args := [2]C.Z3_ast{lhs, rhs}
		switch expr.Op {
		case diver.AND:
			return C.Z3_mk_and(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_and")
		case diver.OR:
			return C.Z3_mk_or(ctx.raw, 2, &args[0]), ctx.err("Z3_mk_or")
		case diver.XOR:
			return C.Z3_mk_xor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_xor")
		case diver.EQ:
			return C.Z3_mk_iff(ctx.raw, lhs, rhs), ctx.err("Z3_mk_iff")
		case diver.NE:
			return C.Z3_mk_xor(ctx.raw, lhs, rhs), ctx.err("Z3_mk_xor")
		default:
			return nil, errUnsupported
		}
	}

	// Shift amounts may be narrower than the shifted value.
	switch expr.Op {
	case diver.SHL, diver.LSHR, diver.ASHR:
		if lw, rw := diver.ExprWidth(expr.LHS), diver.ExprWidth(expr.RHS); rw < lw {
			rhs = C.Z3_mk_zero_ext(ctx.raw, C.uint(lw-rw), rhs)
			if err := ctx.err("Z3_mk_zero_ext"); err != nil {
				return nil, err
			}
		}
	}

	fn, ok := binaryFuncs[expr.Op]
	if !ok {
		return nil, fmt.Errorf("z3.Context.toBinaryAST: unexpected operation: %s", expr.Op)
	}
	return fn.mk(ctx.raw, lhs, rhs), ctx.err(fn.name)
}

type binaryFunc struct {
	name string
	mk   func(c C.Z3_context, lhs, rhs C.Z3_ast) C.Z3_ast
}

var binaryFuncs = map[diver.BinaryOp]binaryFunc{
	diver.ADD:  {"Z3_mk_bvadd", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvadd(c, a, b) }},
	diver.SUB:  {"Z3_mk_bvsub", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvsub(c, a, b) }},
	diver.MUL:  {"Z3_mk_bvmul", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvmul(c, a, b) }},
	diver.UDIV: {"Z3_mk_bvudiv", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvudiv(c, a, b) }},
	diver.SDIV: {"Z3_mk_bvsdiv", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvsdiv(c, a, b) }},
	diver.UREM: {"Z3_mk_bvurem", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvurem(c, a, b) }},
	diver.SREM: {"Z3_mk_bvsrem", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvsrem(c, a, b) }},
	diver.AND:  {"Z3_mk_bvand", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvand(c, a, b) }},
	diver.OR:   {"Z3_mk_bvor", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvor(c, a, b) }},
	diver.XOR:  {"Z3_mk_bvxor", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvxor(c, a, b) }},
	diver.SHL:  {"Z3_mk_bvshl", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvshl(c, a, b) }},
	diver.LSHR: {"Z3_mk_bvlshr", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvlshr(c, a, b) }},
	diver.ASHR: {"Z3_mk_bvashr", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvashr(c, a, b) }},
	diver.EQ:   {"Z3_mk_eq", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_eq(c, a, b) }},
	diver.NE: {"Z3_mk_not", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast {
		return C.Z3_mk_not(c, C.Z3_mk_eq(c, a, b))
	}},
	diver.ULT: {"Z3_mk_bvult", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvult(c, a, b) }},
	diver.ULE: {"Z3_mk_bvule", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvule(c, a, b) }},
	diver.UGT: {"Z3_mk_bvugt", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvugt(c, a, b) }},
	diver.UGE: {"Z3_mk_bvuge", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvuge(c, a, b) }},
	diver.SLT: {"Z3_mk_bvslt", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvslt(c, a, b) }},
	diver.SLE: {"Z3_mk_bvsle", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvsle(c, a, b) }},
	diver.SGT: {"Z3_mk_bvsgt", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvsgt(c, a, b) }},
	diver.SGE: {"Z3_mk_bvsge", func(c C.Z3_context, a, b C.Z3_ast) C.Z3_ast { return C.Z3_mk_bvsge(c, a, b) }},
}

func (ctx *Context) toFloatAST(expr *diver.FloatExpr) (C.Z3_ast, error) {
	lhs, err := ctx.toAST(expr.LHS)
	if err != nil {
		return nil, err
	}

	if expr.Op == diver.FNEG {
		return C.Z3_mk_fpa_neg(ctx.raw, lhs), ctx.err("Z3_mk_fpa_neg")
	}

	rhs, err := ctx.toAST(expr.RHS)
	if err != nil {
		return nil, err
	}
	rm := C.Z3_mk_fpa_rne(ctx.raw)

	switch expr.Op {
	case diver.FADD:
		return C.Z3_mk_fpa_add(ctx.raw, rm, lhs, rhs), ctx.err("Z3_mk_fpa_add")
	case diver.FSUB:
		return C.Z3_mk_fpa_sub(ctx.raw, rm, lhs, rhs), ctx.err("Z3_mk_fpa_sub")
	case diver.FMUL:
		return C.Z3_mk_fpa_mul(ctx.raw, rm, lhs, rhs), ctx.err("Z3_mk_fpa_mul")
	case diver.FDIV:
		return C.Z3_mk_fpa_div(ctx.raw, rm, lhs, rhs), ctx.err("Z3_mk_fpa_div")
	case diver.FEQ:
		return C.Z3_mk_fpa_eq(ctx.raw, lhs, rhs), ctx.err("Z3_mk_fpa_eq")
	case diver.FLT:
		return C.Z3_mk_fpa_lt(ctx.raw, lhs, rhs), ctx.err("Z3_mk_fpa_lt")
	case diver.FLE:
		return C.Z3_mk_fpa_leq(ctx.raw, lhs, rhs), ctx.err("Z3_mk_fpa_leq")
	default:
		// fp.rem rounds the quotient to nearest; truncated remainder has no direct encoding.
		return nil, errUnsupported
	}
}

func (ctx *Context) toConvertAST(expr *diver.ConvertExpr) (C.Z3_ast, error) {
	src, err := ctx.toAST(expr.Src)
	if err != nil {
		return nil, err
	}

	switch expr.Op {
	case diver.SITOFP:
		sort, err := ctx.makeFPSort(expr.Width)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_fpa_to_fp_signed(ctx.raw, C.Z3_mk_fpa_rne(ctx.raw), src, sort), ctx.err("Z3_mk_fpa_to_fp_signed")
	case diver.FPCONV:
		sort, err := ctx.makeFPSort(expr.Width)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_fpa_to_fp_float(ctx.raw, C.Z3_mk_fpa_rne(ctx.raw), src, sort), ctx.err("Z3_mk_fpa_to_fp_float")
	case diver.FPTOSI:
		return ctx.toSaturatingIntAST(src, diver.ExprWidth(expr.Src), expr.Width)
	default:
		return nil, fmt.Errorf("z3.Context.toConvertAST: unexpected operation: %s", expr.Op)
	}
}

// toSaturatingIntAST truncates src toward zero, mapping NaN to zero and
// clamping out-of-range values to the integer bounds.
func (ctx *Context) toSaturatingIntAST(src C.Z3_ast, srcWidth, width uint) (C.Z3_ast, error) {
	sort, err := ctx.makeFPSort(srcWidth)
	if err != nil {
		return nil, err
	}
	minInt := -math.Ldexp(1, int(width)-1)
	lo := C.Z3_mk_fpa_numeral_double(ctx.raw, C.double(minInt), sort)
	hi := C.Z3_mk_fpa_numeral_double(ctx.raw, C.double(-minInt), sort)

	zero, err := ctx.makeUint64(width, 0)
	if err != nil {
		return nil, err
	}
	minBV, err := ctx.makeUint64(width, uint64(1)<<(width-1))
	if err != nil {
		return nil, err
	}
	maxBV, err := ctx.makeUint64(width, uint64(1)<<(width-1)-1)
	if err != nil {
		return nil, err
	}

	conv := C.Z3_mk_fpa_to_sbv(ctx.raw, C.Z3_mk_fpa_rtz(ctx.raw), src, C.uint(width))
	ast := C.Z3_mk_ite(ctx.raw, C.Z3_mk_fpa_leq(ctx.raw, src, lo), minBV, conv)
	ast = C.Z3_mk_ite(ctx.raw, C.Z3_mk_fpa_geq(ctx.raw, src, hi), maxBV, ast)
	ast = C.Z3_mk_ite(ctx.raw, C.Z3_mk_fpa_is_nan(ctx.raw, src), zero, ast)
	return ast, ctx.err("Z3_mk_fpa_to_sbv")
}

func (ctx *Context) makeBVSort(width uint) (C.Z3_sort, error) {
	return C.Z3_mk_bv_sort(ctx.raw, C.uint(width)), ctx.err("Z3_mk_bv_sort")
}

func (ctx *Context) makeFPSort(width uint) (C.Z3_sort, error) {
	if width == diver.Width32 {
		return C.Z3_mk_fpa_sort_32(ctx.raw), ctx.err("Z3_mk_fpa_sort_32")
	}
	return C.Z3_mk_fpa_sort_64(ctx.raw), ctx.err("Z3_mk_fpa_sort_64")
}

func (ctx *Context) makeUint64(width uint, value uint64) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int64(ctx.raw, C.uint64_t(value), t), ctx.err("Z3_mk_unsigned_int64")
}

// eval evaluates each variable under the model. Variables without an
// interpretation are completed by Z3.
func (ctx *Context) eval(model C.Z3_model, vars []*diver.VarExpr) (diver.Input, error) {
	input := make(diver.Input, len(vars))
	for _, v := range vars {
		ast, err := ctx.toVarAST(v)
		if err != nil {
			return nil, err
		}
		if v.Kind.IsFloat() {
			ast = C.Z3_mk_fpa_to_ieee_bv(ctx.raw, ast)
			if err := ctx.err("Z3_mk_fpa_to_ieee_bv"); err != nil {
				return nil, err
			}
		}

		var result C.Z3_ast
		C.Z3_model_eval(ctx.raw, model, ast, C.bool(true), &result)
		if err := ctx.err("Z3_model_eval"); err != nil {
			return nil, err
		}

		if v.Kind == diver.KindBool {
			input[v.Name] = diver.Bool(C.Z3_get_bool_value(ctx.raw, result) == C.Z3_L_TRUE)
			continue
		}

		var bits C.uint64_t
		C.Z3_get_numeral_uint64(ctx.raw, result, &bits)
		if err := ctx.err("Z3_get_numeral_uint64"); err != nil {
			return nil, err
		}
		input[v.Name] = diver.NewValue(v.Kind, uint64(bits))
	}
	return input, nil
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}

// Possible error codes.
const (
	ErrorCodeOK = iota
	ErrorCodeSortError
	ErrorCodeIOB
	ErrorCodeInvalidArg
	ErrorCodeParserError
	ErrorCodeNoParser
	ErrorCodeInvalidPattern
	ErrorCodeMemoutFail
	ErrorCodeFileAccessError
	ErrorCodeInternalFatal
	ErrorCodeInvalidUsage
	ErrorCodeDecRefError
	ErrorCodeException
)
