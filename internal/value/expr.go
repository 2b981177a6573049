package value

import "strings"

// BinOp enumerates the binary operators of §3.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpLt
	OpLe
	OpEq
	OpNe
	OpGe
	OpGt
	OpAnd
	OpOr
	OpXor
)

// UnaryOp enumerates the unary operators of §3.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
)

// Expr is the expression AST. Exactly one of the typed fields is populated,
// selected by Tag — a small closed sum type rather than an interface, to
// keep Operands/Eval single-pass without type switches scattered across
// files.
type Tag int

const (
	TagLiteral Tag = iota
	TagSignalRef
	TagUnary
	TagBinary
)

type Expr struct {
	Tag Tag

	Literal Value // TagLiteral

	Name string // TagSignalRef

	UnOp UnaryOp // TagUnary
	X    *Expr   // TagUnary operand

	BinOpKind BinOp // TagBinary
	L, R      *Expr // TagBinary operands
}

func Lit(v Value) *Expr          { return &Expr{Tag: TagLiteral, Literal: v} }
func Ref(name string) *Expr      { return &Expr{Tag: TagSignalRef, Name: name} }
func Unary(op UnaryOp, x *Expr) *Expr { return &Expr{Tag: TagUnary, UnOp: op, X: x} }
func Binary(op BinOp, l, r *Expr) *Expr {
	return &Expr{Tag: TagBinary, BinOpKind: op, L: l, R: r}
}

// Env resolves a signal name to its current value. Implemented by
// signal.Store so this package has no dependency on it.
type Env interface {
	Get(name string) Value
}

// Eval evaluates expr against env per §4.A: deterministic, pure, no side
// effects. Any path touching Undefined yields Undefined.
func Eval(expr *Expr, env Env) Value {
	if expr == nil {
		return Undefined
	}
	switch expr.Tag {
	case TagLiteral:
		return expr.Literal
	case TagSignalRef:
		return env.Get(expr.Name)
	case TagUnary:
		return evalUnary(expr, env)
	case TagBinary:
		return evalBinary(expr, env)
	default:
		return Undefined
	}
}

func evalUnary(expr *Expr, env Env) Value {
	x := Eval(expr.X, env)
	if x.IsUndefined() {
		return Undefined
	}
	switch expr.UnOp {
	case OpNot:
		if x.Kind() != KindBool {
			return Undefined
		}
		return Bool(!x.AsBool())
	case OpNeg:
		switch x.Kind() {
		case KindInt:
			return Int(-x.AsInt())
		case KindFloat:
			return Float(-x.AsFloat())
		default:
			return Undefined
		}
	default:
		return Undefined
	}
}

func evalBinary(expr *Expr, env Env) Value {
	l := Eval(expr.L, env)
	r := Eval(expr.R, env)
	if l.IsUndefined() || r.IsUndefined() {
		return Undefined
	}
	switch expr.BinOpKind {
	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		return evalArith(expr.BinOpKind, l, r)
	case OpLt, OpLe, OpEq, OpNe, OpGe, OpGt:
		return evalCompare(expr.BinOpKind, l, r)
	case OpAnd, OpOr, OpXor:
		return evalBoolean(expr.BinOpKind, l, r)
	default:
		return Undefined
	}
}

func evalArith(op BinOp, l, r Value) Value {
	if l.Kind() == KindInt && r.Kind() == KindInt {
		a, b := l.AsInt(), r.AsInt()
		switch op {
		case OpAdd:
			return Int(a + b)
		case OpSub:
			return Int(a - b)
		case OpMul:
			return Int(a * b)
		case OpDiv:
			if b == 0 {
				return Undefined
			}
			return Int(a / b) // Go truncates toward zero, per §3
		case OpMod:
			if b == 0 {
				return Undefined
			}
			return Int(a % b)
		}
	}
	af, aok := l.Float64()
	bf, bok := r.Float64()
	if !aok || !bok {
		return Undefined
	}
	switch op {
	case OpAdd:
		return Float(af + bf)
	case OpSub:
		return Float(af - bf)
	case OpMul:
		return Float(af * bf)
	case OpDiv:
		if bf == 0 {
			return Undefined
		}
		return Float(af / bf)
	case OpMod:
		return Undefined // mod is integer-only per §3
	}
	return Undefined
}

func evalCompare(op BinOp, l, r Value) Value {
	if op == OpEq || op == OpNe {
		// Equality is same-kind (numeric kinds coerce to float); any other
		// cross-kind pair yields Undefined.
		if l.Kind() != r.Kind() && !(l.isNumeric() && r.isNumeric()) {
			return Undefined
		}
		eq := l.Equal(r)
		if op == OpEq {
			return Bool(eq)
		}
		return Bool(!eq)
	}
	// Ordering comparisons: numeric-coerced, or same-kind string.
	if l.Kind() == KindString && r.Kind() == KindString {
		return Bool(orderString(op, l.AsString(), r.AsString()))
	}
	af, aok := l.Float64()
	bf, bok := r.Float64()
	if !aok || !bok {
		return Undefined
	}
	switch op {
	case OpLt:
		return Bool(af < bf)
	case OpLe:
		return Bool(af <= bf)
	case OpGe:
		return Bool(af >= bf)
	case OpGt:
		return Bool(af > bf)
	}
	return Undefined
}

func orderString(op BinOp, a, b string) bool {
	switch op {
	case OpLt:
		return strings.Compare(a, b) < 0
	case OpLe:
		return strings.Compare(a, b) <= 0
	case OpGe:
		return strings.Compare(a, b) >= 0
	case OpGt:
		return strings.Compare(a, b) > 0
	}
	return false
}

func evalBoolean(op BinOp, l, r Value) Value {
	if l.Kind() != KindBool || r.Kind() != KindBool {
		return Undefined
	}
	a, b := l.AsBool(), r.AsBool()
	switch op {
	case OpAnd:
		return Bool(a && b)
	case OpOr:
		return Bool(a || b)
	case OpXor:
		return Bool(a != b)
	}
	return Undefined
}

// Operands collects the set of signal names touched by expr, used by the
// store's reverse index (§4.B) to decide which condition nodes to
// re-evaluate on a signal change.
func Operands(expr *Expr) map[string]struct{} {
	out := make(map[string]struct{})
	collectOperands(expr, out)
	return out
}

func collectOperands(expr *Expr, out map[string]struct{}) {
	if expr == nil {
		return
	}
	switch expr.Tag {
	case TagSignalRef:
		out[expr.Name] = struct{}{}
	case TagUnary:
		collectOperands(expr.X, out)
	case TagBinary:
		collectOperands(expr.L, out)
		collectOperands(expr.R, out)
	}
}
